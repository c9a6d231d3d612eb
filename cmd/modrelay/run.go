package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hpungsan/modrelay/internal/access"
	"github.com/hpungsan/modrelay/internal/album"
	"github.com/hpungsan/modrelay/internal/conversation"
	"github.com/hpungsan/modrelay/internal/events"
	"github.com/hpungsan/modrelay/internal/locale"
	"github.com/hpungsan/modrelay/internal/metrics"
	"github.com/hpungsan/modrelay/internal/ops"
	"github.com/hpungsan/modrelay/internal/publish"
	"github.com/hpungsan/modrelay/internal/ratelimit"
	"github.com/hpungsan/modrelay/internal/relay"
	"github.com/hpungsan/modrelay/internal/retry"
	"github.com/hpungsan/modrelay/internal/telegram"
	"github.com/hpungsan/modrelay/internal/web"
)

// amqpDialAttempts bounds broker connection attempts at startup.
const amqpDialAttempts = 5

// runRelay wires the relay and polls until SIGINT/SIGTERM. Shutdown order:
// stop polling, drop pending albums, stop the dashboard, flush events, close
// the ledger.
func runRelay(parent context.Context, e *env) error {
	cfg := e.cfg
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := e.log()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := e.openDB()
	if err != nil {
		return err
	}
	dir, err := e.openAdmins()
	if err != nil {
		return err
	}

	bundle, err := locale.LoadEmbedded()
	if err != nil {
		return fmt.Errorf("load locales: %w", err)
	}
	loc := bundle.Resolver(cfg.Locale)
	if loc.Locale() != cfg.Locale {
		logger.Warn("locale not available, using closest match", "requested", cfg.Locale, "using", loc.Locale())
	}

	m := metrics.New()

	var sink events.Sink = events.Nop{}
	if cfg.Events.AMQPURL != "" {
		a, err := events.Dial(ctx, events.DialOptions{
			URL:      cfg.Events.AMQPURL,
			Exchange: cfg.Events.Exchange,
			Retry:    retry.Default(amqpDialAttempts, time.Second),
			Logger:   logger,
		})
		if err != nil {
			return fmt.Errorf("connect event broker: %w", err)
		}
		sink = a
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Warn("closing event sink failed", "error", err)
		}
	}()

	notifier := &relay.Notifier{
		Locale:         loc,
		OwnerID:        cfg.OwnerID,
		RequiredChatID: cfg.RequiredChannelID,
		ChannelLink:    cfg.RequiredChannelLink,
		Logger:         logger,
	}
	classifier := &access.Classifier{
		OwnerID:           cfg.OwnerID,
		OwnerAlias:        cfg.OwnerAlias,
		RequiredChatID:    cfg.RequiredChannelID,
		Directory:         dir,
		Notifier:          notifier,
		Logger:            logger,
		OnMembershipError: m.MembershipFailure,
	}
	publisher := &publish.Publisher{
		Locale:       loc,
		ReviewChatID: cfg.ReportGroupID,
		OutputChatID: cfg.OutputChannelID,
		OutputHandle: cfg.OutputChannelHandle,
		OwnerID:      cfg.OwnerID,
		Retry:        retry.Default(cfg.Publish.MaxAttempts, cfg.Publish.BaseDelay),
		Logger:       logger,
		Metrics:      m,
	}
	r := &relay.Relay{
		Publisher:     publisher,
		Classifier:    classifier,
		Directory:     dir,
		Limiter:       ratelimit.New(cfg.RateLimit.Limit, cfg.RateLimit.Period),
		Conversations: conversation.NewStore(cfg.Conversation.TTL),
		Albums:        album.New(cfg.Album.Debounce, nil, logger),
		Ledger:        ops.Ledger{DB: database},
		Events:        sink,
		Locale:        loc,
		Metrics:       m,
		Logger:        logger,
		ReviewChatID:  cfg.ReportGroupID,
		Context:       ctx,
	}
	defer r.Close()

	b, err := telegram.NewBot(telegram.Options{
		Token:     cfg.BotToken,
		ServerURL: cfg.Telegram.APIURL,
		Handler:   r,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("create bot: %w", err)
	}

	// Polling starts below, so no handler runs before the transport is set.
	client := telegram.NewClient(b, cfg.Telegram.OutboundRPS, cfg.Telegram.OutboundBurst, logger)
	r.Transport = client
	publisher.Transport = client
	notifier.Transport = client
	classifier.Members = client

	go r.RunJanitor(ctx, cfg.RateLimit.Period)

	if cfg.Web.Enabled {
		srv, err := web.NewServer(web.Options{
			DB:      database,
			Metrics: m,
			Version: Version,
			Bind:    cfg.Web.Bind,
			Port:    cfg.Web.Port,
			Logger:  logger,
		})
		if err != nil {
			return err
		}
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := web.Run(ctx, srv, logger); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
				logger.Error("dashboard stopped", "error", err)
			}
		}()
		defer func() {
			stop()
			<-done
		}()
	}

	logger.Info("relay started",
		"version", Version,
		"locale", loc.Locale(),
		"review_chat_id", cfg.ReportGroupID,
		"output_chat_id", cfg.OutputChannelID,
		"admins_file", dir.Path(),
		"events", cfg.Events.AMQPURL != "",
	)
	b.Start(ctx)
	logger.Info("relay stopping")
	return nil
}

// serveDashboard runs the dashboard alone until SIGINT/SIGTERM.
func serveDashboard(parent context.Context, e *env) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := e.openDB()
	if err != nil {
		return outputError(err)
	}
	srv, err := web.NewServer(web.Options{
		DB:      database,
		Metrics: metrics.New(),
		Version: Version,
		Bind:    e.cfg.Web.Bind,
		Port:    e.cfg.Web.Port,
		Logger:  e.log(),
	})
	if err != nil {
		return err
	}
	if err := web.Run(ctx, srv, e.log()); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
