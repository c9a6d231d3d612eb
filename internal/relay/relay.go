// Package relay routes inbound bot events through access control, the
// conversation state machine and the album aggregator, and carries out the
// resulting effects: prompts, review forwarding, direct publishing and
// reviewer decisions.
package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/hpungsan/modrelay/internal/access"
	"github.com/hpungsan/modrelay/internal/admins"
	"github.com/hpungsan/modrelay/internal/album"
	"github.com/hpungsan/modrelay/internal/content"
	"github.com/hpungsan/modrelay/internal/conversation"
	"github.com/hpungsan/modrelay/internal/events"
	"github.com/hpungsan/modrelay/internal/locale"
	"github.com/hpungsan/modrelay/internal/logging"
	"github.com/hpungsan/modrelay/internal/metrics"
	"github.com/hpungsan/modrelay/internal/ops"
	"github.com/hpungsan/modrelay/internal/publish"
	"github.com/hpungsan/modrelay/internal/ratelimit"
	"github.com/hpungsan/modrelay/internal/submission"
)

// TimeLayout formats timestamps in review log entries and headers.
const TimeLayout = "2006-01-02 15:04:05"

// MessageEvent is a non-command message in a private chat.
type MessageEvent struct {
	UserID int64
	ChatID int64
	Item   content.Item
}

// CommandEvent is a slash command in a private chat. Args is the raw text
// after the command name.
type CommandEvent struct {
	UserID int64
	ChatID int64
	Name   string
	Args   string
}

// ControlMessage is the message a pressed control is attached to.
type ControlMessage struct {
	ChatID    int64
	MessageID int
	ReplyToID int          // 0 when the message is not a reply
	Item      content.Item // the message itself, as content
}

// ControlEvent is a pressed inline control. Message is nil when the
// platform no longer has the message.
type ControlEvent struct {
	CallbackID string
	FromUserID int64
	Token      string
	Message    *ControlMessage
}

// Ledger records submissions and arbitrates reviewer decisions.
type Ledger interface {
	Record(ctx context.Context, input ops.RecordInput) (*submission.Submission, error)
	Claim(ctx context.Context, input ops.ClaimInput) (*ops.ClaimOutput, error)
	Complete(ctx context.Context, id string) error
	Release(ctx context.Context, id, reason string) error
}

// Directory is the admin store the owner manages from the chat.
type Directory interface {
	List() ([]admins.Admin, error)
	Add(id int64, alias string) (bool, error)
	Remove(id int64) (bool, error)
}

// Relay handles inbound events. Handlers are safe for concurrent use; events
// for one user are serialized by the conversation store, never across
// network calls.
type Relay struct {
	Transport     publish.Transport
	Publisher     *publish.Publisher
	Classifier    *access.Classifier
	Directory     Directory
	Limiter       *ratelimit.Limiter
	Conversations *conversation.Store
	Albums        *album.Aggregator
	Ledger        Ledger
	Events        events.Sink
	Locale        *locale.Resolver
	Metrics       *metrics.Metrics
	Logger        *slog.Logger

	ReviewChatID int64

	// Context is used for work that outlives the event that started it,
	// such as album completions. Defaults to context.Background.
	Context context.Context

	// Now defaults to time.Now.
	Now func() time.Time
}

func (r *Relay) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Relay) logger() *slog.Logger {
	return logging.OrDiscard(r.Logger)
}

func (r *Relay) baseContext() context.Context {
	if r.Context != nil {
		return r.Context
	}
	return context.Background()
}

func (r *Relay) timestamp() string {
	return r.now().Format(TimeLayout)
}

// reply sends a localized message. Failures are logged; users never see
// transport errors.
func (r *Relay) reply(ctx context.Context, chatID int64, key string, params locale.Params) {
	r.send(ctx, chatID, r.Locale.T(key, params), nil)
}

func (r *Relay) send(ctx context.Context, chatID int64, text string, kb content.Keyboard) {
	if _, err := r.Transport.SendText(ctx, chatID, text, publish.SendOptions{Keyboard: kb}); err != nil {
		r.logger().Warn("reply failed", "chat_id", chatID, "error", err)
	}
}

// answer acknowledges a pressed control.
func (r *Relay) answer(ctx context.Context, callbackID, key string, alert bool) {
	text := ""
	if key != "" {
		text = r.Locale.Plain(key, nil)
	}
	if err := r.Transport.AnswerControl(ctx, callbackID, text, alert); err != nil {
		r.logger().Warn("answer control failed", "callback_id", callbackID, "error", err)
	}
}

// emit publishes a lifecycle event, best effort.
func (r *Relay) emit(ctx context.Context, ev events.Event) {
	events.Emit(ctx, r.Events, r.Logger, ev)
}

// Close stops pending album timers. Collected but unfinished albums are
// dropped.
func (r *Relay) Close() {
	if r.Albums != nil {
		r.Albums.Close()
	}
}

// RunJanitor drops idle rate limiter windows every interval until ctx is done.
func (r *Relay) RunJanitor(ctx context.Context, interval time.Duration) {
	if r.Limiter == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Limiter.Sweep(r.now()); n > 0 {
				r.logger().Debug("rate limiter swept", "users", n)
			}
		}
	}
}
