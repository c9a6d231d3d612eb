// Package publish delivers submissions to the review group and, once
// approved, to the output channel.
package publish

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"time"

	"github.com/hpungsan/modrelay/internal/content"
	"github.com/hpungsan/modrelay/internal/errors"
	"github.com/hpungsan/modrelay/internal/locale"
	"github.com/hpungsan/modrelay/internal/logging"
	"github.com/hpungsan/modrelay/internal/metrics"
	"github.com/hpungsan/modrelay/internal/retry"
)

// Tag marks output posts that came from regular users.
const Tag = "\n#ارسالی"

// separator goes between user text and the footer.
const separator = "\n\n"

// SendOptions modify an outbound message.
type SendOptions struct {
	ReplyTo  int              // message id to reply to, 0 for none
	Keyboard content.Keyboard // controls to attach, nil for none
	Caption  *string          // replacement caption for copies; nil keeps the original
}

// Transport is the subset of the bot platform the relay needs. All text and
// captions passed in are HTML. Every method may fail with a TRANSPORT_TRANSIENT
// error; flood control carries the provider cooldown (errors.RetryAfter).
type Transport interface {
	SendText(ctx context.Context, chatID int64, text string, opts SendOptions) (int, error)
	// SendBatch posts items as one grouped message, each item's Text as its caption.
	SendBatch(ctx context.Context, chatID int64, items []content.Item) ([]int, error)
	CopyContent(ctx context.Context, chatID int64, item content.Item, opts SendOptions) (int, error)
	EditControls(ctx context.Context, chatID int64, messageID int, kb content.Keyboard) error
	// EditCaption replaces a media caption (HTML) and removes the controls.
	EditCaption(ctx context.Context, chatID int64, messageID int, caption string) error
	DeleteContent(ctx context.Context, chatID int64, messageID int) error
	AnswerControl(ctx context.Context, callbackID, text string, alert bool) error
}

// Receipt records where a submission landed in the review group.
type Receipt struct {
	HeaderID         int
	ControlMessageID int
	ReviewMessageIDs []int // one per item, in item order; 0 when not posted
}

// Publisher owns both delivery paths.
type Publisher struct {
	Transport    Transport
	Locale       *locale.Resolver
	ReviewChatID int64
	OutputChatID int64
	OutputHandle string // shown in the footer, e.g. "@channel"
	OwnerID      int64
	Retry        retry.Policy
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
}

// ForwardToReview sends the header, then the content with decision controls:
// a single item is copied as a reply to the header carrying the controls; an
// album is posted as a batch followed by a control message, because batched
// posts cannot carry controls. It is not retried. Failures are logged and
// returned so the caller can record them.
func (p *Publisher) ForwardToReview(ctx context.Context, items []content.Item, header string, controls content.Keyboard) (Receipt, error) {
	logger := logging.OrDiscard(p.Logger)
	if len(items) == 0 {
		return Receipt{}, errors.NewEmptySubmission()
	}

	var rc Receipt
	headerID, err := p.Transport.SendText(ctx, p.ReviewChatID, header, SendOptions{})
	if err != nil {
		logger.Error("forward to review failed", "step", "header", "error", err)
		p.Metrics.ReviewFailure()
		return rc, fmt.Errorf("send review header: %w", err)
	}
	rc.HeaderID = headerID

	if len(items) == 1 {
		id, err := p.Transport.CopyContent(ctx, p.ReviewChatID, items[0], SendOptions{ReplyTo: headerID, Keyboard: controls})
		if err != nil {
			logger.Error("forward to review failed", "step", "copy", "source_chat_id", items[0].SourceChatID, "source_message_id", items[0].SourceMessageID, "error", err)
			p.Metrics.ReviewFailure()
			return rc, fmt.Errorf("copy to review: %w", err)
		}
		rc.ControlMessageID = id
		rc.ReviewMessageIDs = []int{id}
		return rc, nil
	}

	batch, positions := batchItems(items)
	if len(batch) == 0 {
		p.Metrics.ReviewFailure()
		return rc, errors.NewInvalidRequest("album has no batchable items")
	}
	for i := range batch {
		batch[i].Text = html.EscapeString(batch[i].Text)
	}
	ids, err := p.Transport.SendBatch(ctx, p.ReviewChatID, batch)
	if err != nil {
		logger.Error("forward to review failed", "step", "batch", "items", len(batch), "error", err)
		p.Metrics.ReviewFailure()
		return rc, fmt.Errorf("send review batch: %w", err)
	}
	// items the batch could not carry keep a zero id
	rc.ReviewMessageIDs = make([]int, len(items))
	for i, id := range ids {
		if i < len(positions) {
			rc.ReviewMessageIDs[positions[i]] = id
		}
	}

	prompt := p.Locale.T("album_controls_prompt", nil)
	controlID, err := p.Transport.SendText(ctx, p.ReviewChatID, prompt, SendOptions{ReplyTo: headerID, Keyboard: controls})
	if err != nil {
		logger.Error("forward to review failed", "step", "controls", "error", err)
		p.Metrics.ReviewFailure()
		return rc, fmt.Errorf("send review controls: %w", err)
	}
	rc.ControlMessageID = controlID
	return rc, nil
}

// PublishToOutput posts items to the output channel under the retry policy.
// After the last failed attempt the owner receives exactly one escalation and
// a TRANSPORT_PERMANENT error is returned. Empty input is EMPTY_SUBMISSION.
func (p *Publisher) PublishToOutput(ctx context.Context, items []content.Item, subject string, isRegularUserPost bool) error {
	logger := logging.OrDiscard(p.Logger)
	if len(items) == 0 {
		logger.Error("publish called without items", "subject", subject)
		return errors.NewEmptySubmission()
	}

	suffix := separator + p.Locale.T("output_channel_footer", locale.Params{
		"subject": subject,
		"channel": p.OutputHandle,
	})
	if isRegularUserPost {
		suffix += Tag
	}

	policy := p.Retry
	notify := policy.Notify
	policy.Notify = func(attempt int, err error, wait time.Duration) {
		logger.Warn("publish attempt failed", "attempt", attempt+1, "wait", wait, "error", err)
		if notify != nil {
			notify(attempt, err, wait)
		}
	}

	attempts, err := policy.Do(ctx, func(ctx context.Context, _ int) error {
		err := p.send(ctx, items, suffix)
		if err != nil {
			p.Metrics.PublishAttempt(metrics.ResultFailure)
			return err
		}
		p.Metrics.PublishAttempt(metrics.ResultSuccess)
		return nil
	})
	if err == nil {
		logger.Info("published to output", "items", len(items), "attempts", attempts, "regular_user", isRegularUserPost)
		return nil
	}

	logger.Error("publish to output failed", "attempts", attempts, "error", err)
	if errors.Is(err, errors.ErrTransportPermanent) {
		p.escalate(ctx, attempts, err)
	}
	return err
}

// send composes and posts one attempt.
func (p *Publisher) send(ctx context.Context, items []content.Item, suffix string) error {
	if len(items) == 1 {
		item := items[0]
		body := joinCaption(item.Text, suffix)
		if item.IsText() {
			_, err := p.Transport.SendText(ctx, p.OutputChatID, body, SendOptions{})
			return err
		}
		_, err := p.Transport.CopyContent(ctx, p.OutputChatID, item, SendOptions{Caption: &body})
		return err
	}

	batch, _ := batchItems(items)
	if len(batch) == 0 {
		return errors.NewInvalidRequest("album has no batchable items")
	}
	// footer and tag go on the first caption only
	batch[0].Text = joinCaption(batch[0].Text, suffix)
	for i := 1; i < len(batch); i++ {
		batch[i].Text = ""
	}
	_, err := p.Transport.SendBatch(ctx, p.OutputChatID, batch)
	return err
}

func (p *Publisher) escalate(ctx context.Context, attempts int, cause error) {
	p.Metrics.Escalation()
	text := p.Locale.T("publish_failed_owner", locale.Params{
		"attempts": attempts,
		"error":    cause.Error(),
	})
	if _, err := p.Transport.SendText(ctx, p.OwnerID, text, SendOptions{}); err != nil {
		logging.OrDiscard(p.Logger).Error("owner escalation failed", "owner_id", p.OwnerID, "error", err)
	}
}

// joinCaption escapes user text and appends the HTML suffix.
func joinCaption(userText, suffix string) string {
	if userText == "" {
		return trimLeadingSeparator(suffix)
	}
	return html.EscapeString(userText) + suffix
}

func trimLeadingSeparator(s string) string {
	if len(s) >= len(separator) && s[:len(separator)] == separator {
		return s[len(separator):]
	}
	return s
}

// batchItems returns copies of the items a batched post can carry and their
// positions in items.
func batchItems(items []content.Item) ([]content.Item, []int) {
	out := make([]content.Item, 0, len(items))
	positions := make([]int, 0, len(items))
	for i, it := range items {
		if it.Batchable() {
			out = append(out, it)
			positions = append(positions, i)
		}
	}
	return out, positions
}
