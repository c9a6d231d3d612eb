package telegram

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/hpungsan/modrelay/internal/content"
	"github.com/hpungsan/modrelay/internal/logging"
	"github.com/hpungsan/modrelay/internal/relay"
)

// Handler receives converted updates. *relay.Relay implements it.
type Handler interface {
	OnMessage(ctx context.Context, ev relay.MessageEvent)
	OnCommand(ctx context.Context, ev relay.CommandEvent)
	OnControl(ctx context.Context, ev relay.ControlEvent)
}

// Dispatcher converts Bot API updates into relay events. Only private chats
// reach the conversation; controls are accepted from any chat.
//
// Enqueue keeps one user's updates in the order it sees them while different
// users are handled in parallel.
type Dispatcher struct {
	Handler Handler
	Logger  *slog.Logger

	mu     sync.Mutex
	queues map[int64][]*models.Update
	wg     sync.WaitGroup
}

// Enqueue is a bot.HandlerFunc. It queues the update behind the sender's
// earlier updates and returns without waiting for it to be handled.
func (d *Dispatcher) Enqueue(ctx context.Context, b *bot.Bot, update *models.Update) {
	key := senderKey(update)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.queues == nil {
		d.queues = make(map[int64][]*models.Update)
	}
	q, running := d.queues[key]
	d.queues[key] = append(q, update)
	if !running {
		d.wg.Add(1)
		go d.drain(ctx, b, key)
	}
}

// drain handles queued updates for key until its queue is empty.
func (d *Dispatcher) drain(ctx context.Context, b *bot.Bot, key int64) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		q := d.queues[key]
		if len(q) == 0 {
			delete(d.queues, key)
			d.mu.Unlock()
			return
		}
		next := q[0]
		q[0] = nil
		d.queues[key] = q[1:]
		d.mu.Unlock()

		d.Handle(ctx, b, next)
	}
}

// Wait blocks until every queued update has been handled.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func senderKey(update *models.Update) int64 {
	switch {
	case update.CallbackQuery != nil:
		return update.CallbackQuery.From.ID
	case update.Message != nil && update.Message.From != nil:
		return update.Message.From.ID
	case update.Message != nil:
		return update.Message.Chat.ID
	}
	return 0
}

// Handle is a bot.HandlerFunc.
func (d *Dispatcher) Handle(ctx context.Context, _ *bot.Bot, update *models.Update) {
	logger := logging.OrDiscard(d.Logger)
	switch {
	case update.CallbackQuery != nil:
		d.Handler.OnControl(ctx, ControlEvent(update.CallbackQuery))
	case update.Message != nil:
		msg := update.Message
		if msg.Chat.Type != models.ChatTypePrivate || msg.From == nil || msg.From.IsBot {
			return
		}
		if name, args, ok := ParseCommand(msg.Text); ok {
			d.Handler.OnCommand(ctx, relay.CommandEvent{UserID: msg.From.ID, ChatID: msg.Chat.ID, Name: name, Args: args})
			return
		}
		d.Handler.OnMessage(ctx, relay.MessageEvent{UserID: msg.From.ID, ChatID: msg.Chat.ID, Item: Item(msg)})
	default:
		logger.Debug("update ignored", "update_id", update.ID)
	}
}

// ParseCommand splits "/name@bot args" into name and args. Only known
// commands are reported; anything else is ordinary text.
func ParseCommand(text string) (string, string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, args, _ := strings.Cut(text[1:], " ")
	name, _, _ := strings.Cut(head, "@")
	name = strings.ToLower(name)
	for _, c := range relay.Commands {
		if c == name {
			return name, strings.TrimSpace(args), true
		}
	}
	return "", "", false
}

// Item captures a message as content. Media keep their caption as Text and
// the file id of the largest rendition as MediaRef.
func Item(msg *models.Message) content.Item {
	it := content.Item{
		SourceChatID:    msg.Chat.ID,
		SourceMessageID: msg.ID,
		GroupID:         msg.MediaGroupID,
	}
	switch {
	case len(msg.Photo) > 0:
		it.Kind = content.KindPhoto
		it.MediaRef = msg.Photo[len(msg.Photo)-1].FileID
	case msg.Video != nil:
		it.Kind = content.KindVideo
		it.MediaRef = msg.Video.FileID
	case msg.Audio != nil:
		it.Kind = content.KindAudio
		it.MediaRef = msg.Audio.FileID
	case msg.Voice != nil:
		it.Kind = content.KindVoice
		it.MediaRef = msg.Voice.FileID
	case msg.Document != nil:
		it.Kind = content.KindDocument
		it.MediaRef = msg.Document.FileID
	case msg.Text != "":
		it.Kind = content.KindText
		it.Text = msg.Text
		return it
	default:
		it.Kind = content.KindUnknown
	}
	it.Text = msg.Caption
	return it
}

// ControlEvent converts a callback query. The message is dropped when
// Telegram reports it as inaccessible.
func ControlEvent(q *models.CallbackQuery) relay.ControlEvent {
	ev := relay.ControlEvent{
		CallbackID: q.ID,
		FromUserID: q.From.ID,
		Token:      q.Data,
	}
	if msg := q.Message.Message; msg != nil {
		cm := &relay.ControlMessage{
			ChatID:    msg.Chat.ID,
			MessageID: msg.ID,
			Item:      Item(msg),
		}
		if msg.ReplyToMessage != nil {
			cm.ReplyToID = msg.ReplyToMessage.ID
		}
		ev.Message = cm
	}
	return ev
}
