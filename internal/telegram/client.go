// Package telegram adapts the Telegram Bot API (github.com/go-telegram/bot)
// to the relay: outbound calls implement publish.Transport and the membership
// check, inbound updates are converted into relay events.
package telegram

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"golang.org/x/time/rate"

	"github.com/hpungsan/modrelay/internal/content"
	"github.com/hpungsan/modrelay/internal/errors"
	"github.com/hpungsan/modrelay/internal/logging"
	"github.com/hpungsan/modrelay/internal/publish"
)

// API is the subset of *bot.Bot the client calls.
type API interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	CopyMessage(ctx context.Context, params *bot.CopyMessageParams) (*models.MessageID, error)
	SendMediaGroup(ctx context.Context, params *bot.SendMediaGroupParams) ([]*models.Message, error)
	EditMessageReplyMarkup(ctx context.Context, params *bot.EditMessageReplyMarkupParams) (*models.Message, error)
	EditMessageCaption(ctx context.Context, params *bot.EditMessageCaptionParams) (*models.Message, error)
	DeleteMessage(ctx context.Context, params *bot.DeleteMessageParams) (bool, error)
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
	GetChatMember(ctx context.Context, params *bot.GetChatMemberParams) (*models.ChatMember, error)
}

// Default outbound pacing, below the Bot API bulk limit of 30 messages per second.
const (
	DefaultRPS   = 25
	DefaultBurst = 5
)

// Client sends through the Bot API. Every call waits for the outbound
// limiter first.
type Client struct {
	api     API
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient wraps api. Non-positive rps or burst use the defaults.
func NewClient(api API, rps float64, burst int, logger *slog.Logger) *Client {
	if rps <= 0 {
		rps = DefaultRPS
	}
	if burst <= 0 {
		burst = DefaultBurst
	}
	return &Client{
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  logging.OrDiscard(logger),
	}
}

func (c *Client) pace(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.NewTransient(err)
	}
	return nil
}

// SendText implements publish.Transport.
func (c *Client) SendText(ctx context.Context, chatID int64, text string, opts publish.SendOptions) (int, error) {
	if err := c.pace(ctx); err != nil {
		return 0, err
	}
	params := &bot.SendMessageParams{
		ChatID:             chatID,
		Text:               text,
		ParseMode:          models.ParseModeHTML,
		LinkPreviewOptions: &models.LinkPreviewOptions{IsDisabled: bot.True()},
		ReplyParameters:    replyTo(opts.ReplyTo),
	}
	if kb := keyboard(opts.Keyboard); kb != nil {
		params.ReplyMarkup = kb
	}
	msg, err := c.api.SendMessage(ctx, params)
	if err != nil {
		return 0, classify("sendMessage", err)
	}
	return msg.ID, nil
}

// SendBatch implements publish.Transport.
func (c *Client) SendBatch(ctx context.Context, chatID int64, items []content.Item) ([]int, error) {
	if err := c.pace(ctx); err != nil {
		return nil, err
	}
	media := make([]models.InputMedia, 0, len(items))
	for _, it := range items {
		m, err := inputMedia(it)
		if err != nil {
			return nil, err
		}
		media = append(media, m)
	}
	msgs, err := c.api.SendMediaGroup(ctx, &bot.SendMediaGroupParams{ChatID: chatID, Media: media})
	if err != nil {
		return nil, classify("sendMediaGroup", err)
	}
	ids := make([]int, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids, nil
}

// CopyContent implements publish.Transport.
func (c *Client) CopyContent(ctx context.Context, chatID int64, item content.Item, opts publish.SendOptions) (int, error) {
	if err := c.pace(ctx); err != nil {
		return 0, err
	}
	params := &bot.CopyMessageParams{
		ChatID:          chatID,
		FromChatID:      item.SourceChatID,
		MessageID:       item.SourceMessageID,
		ReplyParameters: replyTo(opts.ReplyTo),
	}
	if opts.Caption != nil {
		params.Caption = *opts.Caption
		params.ParseMode = models.ParseModeHTML
	}
	if kb := keyboard(opts.Keyboard); kb != nil {
		params.ReplyMarkup = kb
	}
	id, err := c.api.CopyMessage(ctx, params)
	if err != nil {
		return 0, classify("copyMessage", err)
	}
	return id.ID, nil
}

// EditControls implements publish.Transport. A nil keyboard removes the controls.
func (c *Client) EditControls(ctx context.Context, chatID int64, messageID int, kb content.Keyboard) error {
	if err := c.pace(ctx); err != nil {
		return err
	}
	markup := keyboard(kb)
	if markup == nil {
		markup = &models.InlineKeyboardMarkup{InlineKeyboard: [][]models.InlineKeyboardButton{}}
	}
	_, err := c.api.EditMessageReplyMarkup(ctx, &bot.EditMessageReplyMarkupParams{
		ChatID:      chatID,
		MessageID:   messageID,
		ReplyMarkup: markup,
	})
	if err != nil {
		return classify("editMessageReplyMarkup", err)
	}
	return nil
}

// EditCaption implements publish.Transport. The inline keyboard is replaced
// by an empty one in the same call.
func (c *Client) EditCaption(ctx context.Context, chatID int64, messageID int, caption string) error {
	if err := c.pace(ctx); err != nil {
		return err
	}
	_, err := c.api.EditMessageCaption(ctx, &bot.EditMessageCaptionParams{
		ChatID:      chatID,
		MessageID:   messageID,
		Caption:     caption,
		ParseMode:   models.ParseModeHTML,
		ReplyMarkup: &models.InlineKeyboardMarkup{InlineKeyboard: [][]models.InlineKeyboardButton{}},
	})
	if err != nil {
		return classify("editMessageCaption", err)
	}
	return nil
}

// DeleteContent implements publish.Transport.
func (c *Client) DeleteContent(ctx context.Context, chatID int64, messageID int) error {
	if err := c.pace(ctx); err != nil {
		return err
	}
	if _, err := c.api.DeleteMessage(ctx, &bot.DeleteMessageParams{ChatID: chatID, MessageID: messageID}); err != nil {
		return classify("deleteMessage", err)
	}
	return nil
}

// AnswerControl implements publish.Transport. Answers are not paced; they do
// not count against the message limits.
func (c *Client) AnswerControl(ctx context.Context, callbackID, text string, alert bool) error {
	_, err := c.api.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
		Text:            text,
		ShowAlert:       alert,
	})
	if err != nil {
		return classify("answerCallbackQuery", err)
	}
	return nil
}

// IsMember implements access.MembershipChecker. Restricted users count as
// members only while they are still in the chat.
func (c *Client) IsMember(ctx context.Context, chatID, userID int64) (bool, error) {
	if err := c.pace(ctx); err != nil {
		return false, err
	}
	m, err := c.api.GetChatMember(ctx, &bot.GetChatMemberParams{ChatID: chatID, UserID: userID})
	if err != nil {
		return false, classify("getChatMember", err)
	}
	switch m.Type {
	case models.ChatMemberTypeOwner, models.ChatMemberTypeAdministrator, models.ChatMemberTypeMember:
		return true, nil
	case models.ChatMemberTypeRestricted:
		return m.Restricted != nil && m.Restricted.IsMember, nil
	default:
		return false, nil
	}
}

// classify maps Bot API failures onto relay transport errors. Flood control
// carries the cooldown the API asked for.
func classify(method string, err error) error {
	var flood *bot.TooManyRequestsError
	if stderrors.As(err, &flood) {
		return errors.NewRateLimited(time.Duration(flood.RetryAfter)*time.Second, fmt.Errorf("%s: %w", method, err))
	}
	return errors.NewTransient(fmt.Errorf("%s: %w", method, err))
}

func replyTo(messageID int) *models.ReplyParameters {
	if messageID == 0 {
		return nil
	}
	return &models.ReplyParameters{MessageID: messageID, AllowSendingWithoutReply: true}
}

func keyboard(kb content.Keyboard) *models.InlineKeyboardMarkup {
	if len(kb) == 0 {
		return nil
	}
	rows := make([][]models.InlineKeyboardButton, 0, len(kb))
	for _, row := range kb {
		buttons := make([]models.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, models.InlineKeyboardButton{Text: b.Label, CallbackData: b.Token})
		}
		rows = append(rows, buttons)
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// inputMedia builds one media group entry. Captions are HTML.
func inputMedia(it content.Item) (models.InputMedia, error) {
	switch it.Kind {
	case content.KindPhoto:
		return &models.InputMediaPhoto{Media: it.MediaRef, Caption: it.Text, ParseMode: models.ParseModeHTML}, nil
	case content.KindVideo:
		return &models.InputMediaVideo{Media: it.MediaRef, Caption: it.Text, ParseMode: models.ParseModeHTML}, nil
	case content.KindAudio:
		return &models.InputMediaAudio{Media: it.MediaRef, Caption: it.Text, ParseMode: models.ParseModeHTML}, nil
	case content.KindDocument:
		return &models.InputMediaDocument{Media: it.MediaRef, Caption: it.Text, ParseMode: models.ParseModeHTML}, nil
	}
	return nil, errors.NewInvalidRequest(fmt.Sprintf("%s items cannot be sent in a media group", it.Kind))
}
