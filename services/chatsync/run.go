package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/supportchat/internal/alert"
	"github.com/supportchat/internal/bridge"
	"github.com/supportchat/internal/chat"
	"github.com/supportchat/internal/config"
	"github.com/supportchat/internal/handler"
	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/middleware"
	"github.com/supportchat/internal/model"
	"github.com/supportchat/internal/pubsub"
	"github.com/supportchat/internal/restapi"
	"github.com/supportchat/internal/startup"
	"github.com/supportchat/internal/ws"
)

const (
	redisMaxWait    = 60 * time.Second
	shutdownTimeout = 10 * time.Second
)

func newRunCmd() *cobra.Command {
	var opts struct {
		ConfigPath string
	}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the chat backend and serve the console API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFrom(opts.ConfigPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "YAML config file (overrides CONFIG_PATH)")
	return cmd
}

func newTransport(ctx context.Context, cfg *config.Config) (bridge.Transport, func(), error) {
	switch cfg.PushTransport {
	case config.TransportRedis:
		rdb, err := startup.ConnectRedisWithRetry(ctx, cfg.RedisURL, redisMaxWait, "chatsync: ")
		if err != nil {
			return nil, nil, err
		}
		logger.Info("redis connected")
		closeFn := func() {
			if err := rdb.Close(); err != nil {
				logger.Errorf("redis close: %v", err)
			}
		}
		return pubsub.NewTransport(rdb, cfg.ViewerID), closeFn, nil
	default:
		t := ws.NewTransport(cfg.WSURL, ws.WithBearer(cfg.APIToken), ws.WithPongWait(cfg.WSPongTimeout))
		return t, func() {}, nil
	}
}

func newAlerts(cfg *config.Config) (*alert.Dispatcher, *alert.WebPush, error) {
	var (
		senders []alert.Sender
		wp      *alert.WebPush
	)
	if cfg.WebPush.SubscriptionsFile != "" {
		keys, err := alert.EnsureVAPIDKeys(cfg.WebPush.VAPIDKeysFile)
		if err != nil {
			return nil, nil, fmt.Errorf("vapid: %w", err)
		}
		subs, err := alert.LoadSubscriptions(cfg.WebPush.SubscriptionsFile)
		if err != nil {
			return nil, nil, err
		}
		wp = alert.NewWebPush(subs, keys, cfg.WebPush.Subscriber, cfg.WebPush.TTLSeconds)
		senders = append(senders, wp)
		logger.Infof("web push enabled, %d subscriptions", len(subs.List()))
	}
	if cfg.AlertRelayURL != "" {
		senders = append(senders, alert.NewRelay(cfg.AlertRelayURL, cfg.ViewerID))
		logger.Infof("alert relay: %s", cfg.AlertRelayURL)
	}
	return alert.NewDispatcher(0, senders...), wp, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	logger.SetLevel(cfg.LogLevel)
	logger.Infof("starting chatsync viewer=%s role=%s transport=%s api=%s token=%s",
		cfg.ViewerID, cfg.ViewerRole, cfg.PushTransport, cfg.APIBaseURL, middleware.MaskToken(cfg.APIToken))

	transport, closeTransport, err := newTransport(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeTransport()

	alerts, wp, err := newAlerts(cfg)
	if err != nil {
		return err
	}

	api := restapi.NewClient(cfg.APIBaseURL, cfg.APIToken, cfg.APITimeout)
	viewer := model.Viewer{ID: cfg.ViewerID, Name: cfg.ViewerName, Role: model.Role(cfg.ViewerRole)}

	br := bridge.New(transport)
	store := chat.NewStore(api, br, viewer,
		chat.WithAlerter(alerts),
		chat.WithPageSize(cfg.PageSize),
		chat.WithAutoMarkRead(cfg.AutoMarkRead),
	)
	br.Attach(store, bridge.NewFallback(store, cfg.PollInterval))

	hub := ws.NewHub(store, 0)
	br.OnState(func(connected bool, mode bridge.State) {
		hub.Broadcast(ws.OutgoingMessage{Type: ws.EventConnection, Payload: ws.ConnectionPayload{
			Connected: connected,
			Mode:      mode.String(),
		}})
	})

	loadCtx, cancel := context.WithTimeout(ctx, cfg.APITimeout)
	if err := store.LoadChats(loadCtx); err != nil {
		logger.Errorf("initial chat list: %v", err)
	} else {
		logger.Infof("loaded %d chats", len(store.ChatIDs()))
	}
	cancel()

	srv := &http.Server{
		Addr: cfg.ConsoleAddr,
		Handler: handler.NewRouter(handler.Deps{
			Store:          store,
			Status:         br,
			Hub:            hub,
			WebPush:        wp,
			PageSize:       cfg.PageSize,
			AllowedOrigins: cfg.CORSOrigins(),
			ConsoleToken:   cfg.ConsoleToken,
			RatePerMinute:  cfg.RateLimitPerMinute,
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	changes := store.Subscribe()
	defer store.Unsubscribe(changes)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return br.Run(gctx) })
	g.Go(func() error { return alerts.Run(gctx) })
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		hub.Relay(gctx, changes)
		return nil
	})
	g.Go(func() error {
		logger.Infof("console listening on %s", cfg.ConsoleAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("console server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("console shutdown: %v", err)
		}
		return nil
	})

	err = g.Wait()
	logger.Info("chatsync stopped")
	return err
}
