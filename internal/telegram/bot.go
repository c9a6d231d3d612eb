package telegram

import (
	"context"
	"log/slog"

	"github.com/go-telegram/bot"

	"github.com/hpungsan/modrelay/internal/logging"
)

// Options configure the polling bot.
type Options struct {
	Token     string
	ServerURL string // Bot API endpoint override, empty for the default
	Handler   Handler
	Logger    *slog.Logger
}

// Bot is a long-polling bot. Polling hands updates to the dispatcher one at
// a time; the dispatcher runs them per user.
type Bot struct {
	*bot.Bot
	dispatcher *Dispatcher
}

// NewBot creates a bot whose updates go to opts.Handler.
func NewBot(opts Options) (*Bot, error) {
	logger := logging.OrDiscard(opts.Logger)
	d := &Dispatcher{Handler: opts.Handler, Logger: logger}

	botOpts := []bot.Option{
		bot.WithDefaultHandler(d.Enqueue),
		// one polling worker calling Enqueue inline keeps polling order
		bot.WithNotAsyncHandlers(),
		bot.WithWorkers(1),
		bot.WithErrorsHandler(func(err error) {
			logger.Error("telegram polling error", "error", err)
		}),
		bot.WithAllowedUpdates(bot.AllowedUpdates{"message", "callback_query"}),
	}
	if opts.ServerURL != "" {
		botOpts = append(botOpts, bot.WithServerURL(opts.ServerURL))
	}
	b, err := bot.New(opts.Token, botOpts...)
	if err != nil {
		return nil, err
	}
	return &Bot{Bot: b, dispatcher: d}, nil
}

// Start polls until ctx is done, then waits for queued updates to finish.
func (b *Bot) Start(ctx context.Context) {
	b.Bot.Start(ctx)
	b.dispatcher.Wait()
}
