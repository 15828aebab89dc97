package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/tracelog"
	"go.uber.org/zap"
)

// PostgresFeed listens for NOTIFY messages raised by an AFTER INSERT trigger. Each
// subscription holds its own connection because LISTEN is per session.
type PostgresFeed struct {
	dsn  string
	opts options
}

// NewPostgresFeed returns a feed connecting to dsn.
func NewPostgresFeed(dsn string, opts ...Option) *PostgresFeed {
	return &PostgresFeed{
		dsn:  dsn,
		opts: newOptions(opts),
	}
}

func (f *PostgresFeed) connect(ctx context.Context) (*pgx.Conn, error) {
	cfg, err := pgx.ParseConfig(f.dsn)
	if err != nil {
		return nil, fmt.Errorf("realtime: postgres config: %w", err)
	}
	cfg.Tracer = &tracelog.TraceLog{
		Logger:   newPGLogger(f.opts.logger),
		LogLevel: tracelog.LogLevelWarn,
	}

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("realtime: postgres connect: %w", err)
	}
	return conn, nil
}

type postgresSub struct {
	conn   *pgx.Conn
	cancel context.CancelFunc
	events chan []byte
	once   sync.Once
	logger *zap.SugaredLogger
}

// Subscribe connects and issues LISTEN on the notify channel.
func (f *PostgresFeed) Subscribe(ctx context.Context, channel string, filter Filter) (Subscription, error) {
	conn, err := f.connect(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{f.opts.notifyChannel}.Sanitize()); err != nil {
		conn.Close(context.Background())
		return nil, fmt.Errorf("realtime: listen %s: %w", f.opts.notifyChannel, err)
	}

	f.opts.logger.Debugw("postgres channel listening", "channel", f.opts.notifyChannel, "subscriber", channel, "filter", filter.Predicate())

	listenCtx, cancel := context.WithCancel(context.Background())
	s := &postgresSub{
		conn:   conn,
		cancel: cancel,
		events: make(chan []byte, 64),
		logger: f.opts.logger,
	}
	go s.pump(listenCtx, filter)

	return s, nil
}

func (s *postgresSub) pump(ctx context.Context, filter Filter) {
	defer func() {
		close(s.events)
		s.conn.Close(context.Background())
	}()

	for {
		n, err := s.conn.WaitForNotification(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				s.logger.Warnw("postgres listener stopped", "error", err)
			}
			return
		}

		payload := []byte(n.Payload)
		if !filter.Match(payload) {
			continue
		}
		select {
		case s.events <- payload:
		case <-ctx.Done():
			return
		}
	}
}

func (s *postgresSub) Events() <-chan []byte { return s.events }

func (s *postgresSub) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// InstallTrigger creates the notify function and an AFTER INSERT trigger on table so
// inserted rows are published as envelopes on the notify channel.
func (f *PostgresFeed) InstallTrigger(ctx context.Context, table string) error {
	conn, err := f.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	for _, query := range triggerQueries(table, f.opts.notifyChannel) {
		if _, err := conn.Exec(ctx, query); err != nil {
			return fmt.Errorf("realtime: install trigger: %w", err)
		}
	}
	return nil
}

func triggerQueries(table, channel string) []string {
	tableIdent := pgx.Identifier{table}.Sanitize()
	triggerIdent := pgx.Identifier{strings.ToLower(table) + "_notify_insert"}.Sanitize()
	channelLiteral := "'" + strings.ReplaceAll(channel, "'", "''") + "'"

	return []string{
		`CREATE OR REPLACE FUNCTION realtime_notify_insert() RETURNS trigger AS $$
		BEGIN
			PERFORM pg_notify(
				TG_ARGV[0],
				json_build_object('type', TG_OP, 'table', TG_TABLE_NAME, 'new', row_to_json(NEW))::text
			);
			RETURN NEW;
		END;
		$$ LANGUAGE plpgsql`,

		`DROP TRIGGER IF EXISTS ` + triggerIdent + ` ON ` + tableIdent,

		`CREATE TRIGGER ` + triggerIdent + ` AFTER INSERT ON ` + tableIdent +
			` FOR EACH ROW EXECUTE FUNCTION realtime_notify_insert(` + channelLiteral + `)`,
	}
}
