package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"funwattle-chat/internal/api"
	"funwattle-chat/internal/chat"
	"funwattle-chat/internal/config"
	"funwattle-chat/internal/realtime"
	"funwattle-chat/internal/session"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// app holds everything a command needs, built once from the config.
type app struct {
	cfg     *config.Config
	logger  *zap.SugaredLogger
	session *session.Session
	api     *api.Client
	out     io.Writer
	errOut  io.Writer

	feed    realtime.Feed
	closers []func()
}

func newApp(cfg *config.Config, out, errOut io.Writer) (*app, error) {
	zl, err := config.NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	logger := zl.Sugar()

	sess, err := session.New(cfg.Session.Token, cfg.Session.ProfileID, cfg.Session.Secret)
	if err != nil {
		return nil, err
	}
	if cfg.Session.UserID != "" {
		sess.UserID = cfg.Session.UserID
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		session: sess,
		api: api.New(cfg.API.BaseURL,
			api.WithTimeout(cfg.API.Timeout),
			api.WithLogger(logger.Named("api")),
		),
		out:    out,
		errOut: errOut,
	}
	a.closers = append(a.closers, func() { zl.Sync() })
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) chatOptions() []chat.Option {
	return []chat.Option{
		chat.WithLogger(a.logger.Named("chat")),
		chat.WithNotifier(chat.NotifierFunc(func(title, message string) {
			fmt.Fprintf(a.errOut, "%s: %s\n", title, message)
		})),
		chat.WithMessageTable(a.cfg.Realtime.Table),
	}
}

// checkSession fails early when the token or profile is missing or the token expired.
func (a *app) checkSession() error {
	if err := a.session.Check(); err != nil {
		return fmt.Errorf("%w (set session.token and session.profile_id)", err)
	}
	return nil
}

// realtimeFeed opens the configured transport on first use.
func (a *app) realtimeFeed() (realtime.Feed, error) {
	if a.feed != nil {
		return a.feed, nil
	}

	rc := a.cfg.Realtime
	logger := realtime.WithLogger(a.logger.Named("realtime"))

	switch rc.Transport {
	case config.TransportWebsocket:
		a.feed = realtime.NewWebsocketFeed(rc.URL,
			logger,
			realtime.WithAPIKey(rc.APIKey),
			realtime.WithAccessToken(a.session.AccessToken),
			realtime.WithHeartbeat(rc.Heartbeat),
		)
	case config.TransportRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		a.closers = append(a.closers, func() { client.Close() })
		a.feed = realtime.NewRedisFeed(client, logger, realtime.WithRedisPrefix(rc.RedisPrefix))
	case config.TransportPostgres:
		a.feed = realtime.NewPostgresFeed(a.cfg.Postgres.DSN, logger, realtime.WithNotifyChannel(rc.NotifyChannel))
	default:
		return nil, fmt.Errorf("unknown realtime transport %q", rc.Transport)
	}
	return a.feed, nil
}

// startHub runs a hub until the returned stop function is called.
func (a *app) startHub(ctx context.Context, dir *chat.RoomDirectory) (*chat.Hub, func(), error) {
	feed, err := a.realtimeFeed()
	if err != nil {
		return nil, nil, err
	}

	hub := chat.NewHub(feed, dir, a.chatOptions()...)
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	return hub, func() {
		cancel()
		<-done
	}, nil
}

// ignoreHubClosed treats a hub that already stopped as a clean unmount.
func ignoreHubClosed(err error) error {
	if errors.Is(err, chat.ErrHubClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
