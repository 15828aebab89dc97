package realtime

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"funwattle-chat/internal/jsonx"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"
)

const (
	writeWait   = 10 * time.Second
	joinTimeout = 10 * time.Second

	protocolVersion = "1.0.0"
)

// WebsocketFeed speaks the Phoenix channel protocol used by Supabase Realtime: one
// websocket per subscription, a phx_join carrying a postgres_changes filter, periodic
// heartbeats, and postgres_changes frames in return.
type WebsocketFeed struct {
	endpoint string
	dialer   *websocket.Dialer
	opts     options
}

// NewWebsocketFeed returns a feed dialing endpoint, e.g.
// wss://<project>.supabase.co/realtime/v1/websocket.
func NewWebsocketFeed(endpoint string, opts ...Option) *WebsocketFeed {
	return &WebsocketFeed{
		endpoint: endpoint,
		dialer:   websocket.DefaultDialer,
		opts:     newOptions(opts),
	}
}

type phoenixFrame struct {
	Topic   string      `json:"topic"`
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
	Ref     string      `json:"ref"`
	JoinRef string      `json:"join_ref,omitempty"`
}

type websocketSub struct {
	conn      *websocket.Conn
	topic     string
	joinRef   string
	filter    Filter
	heartbeat time.Duration
	logger    *zap.SugaredLogger

	events     chan []byte
	done       chan struct{}
	writerDone chan struct{}
	once       sync.Once
}

// Subscribe dials, joins the channel and waits for the join reply.
func (f *WebsocketFeed) Subscribe(ctx context.Context, channel string, filter Filter) (Subscription, error) {
	u, err := url.Parse(f.endpoint)
	if err != nil {
		return nil, fmt.Errorf("realtime: parse endpoint: %w", err)
	}
	q := u.Query()
	if f.opts.apiKey != "" {
		q.Set("apikey", f.opts.apiKey)
	}
	q.Set("vsn", protocolVersion)
	u.RawQuery = q.Encode()

	conn, _, err := f.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("realtime: dial %s: %w", u.Host, err)
	}

	s := &websocketSub{
		conn:      conn,
		topic:     "realtime:" + channel,
		joinRef:   uuid.NewString(),
		filter:    filter,
		heartbeat: f.opts.heartbeat,
		logger:    f.opts.logger,
		events:     make(chan []byte, 64),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}

	if err := s.join(ctx, f.opts.accessToken); err != nil {
		conn.Close()
		return nil, err
	}

	f.opts.logger.Debugw("realtime channel joined", "topic", s.topic, "filter", filter.Predicate())

	go s.writePump()
	go s.readPump()

	return s, nil
}

func (s *websocketSub) join(ctx context.Context, accessToken string) error {
	change := map[string]string{
		"event":  s.filter.Event,
		"schema": s.filter.schema(),
		"table":  s.filter.Table,
	}
	if change["event"] == "" {
		change["event"] = "*"
	}
	if p := s.filter.Predicate(); p != "" {
		change["filter"] = p
	}
	payload := map[string]interface{}{
		"config": map[string]interface{}{
			"postgres_changes": []map[string]string{change},
		},
	}
	if accessToken != "" {
		payload["access_token"] = accessToken
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(joinTimeout)
	}
	s.conn.SetWriteDeadline(deadline)
	s.conn.SetReadDeadline(deadline)

	// unblock the read below when ctx is cancelled without a deadline
	stop := context.AfterFunc(ctx, func() {
		s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	err := s.conn.WriteJSON(phoenixFrame{
		Topic:   s.topic,
		Event:   "phx_join",
		Payload: payload,
		Ref:     s.joinRef,
		JoinRef: s.joinRef,
	})
	if err != nil {
		return fmt.Errorf("realtime: join %s: %w", s.topic, err)
	}

	var p fastjson.Parser
	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("realtime: join %s: %w", s.topic, err)
		}

		v, err := p.ParseBytes(message)
		if err != nil {
			continue
		}
		if jsonx.String(v, "event") != "phx_reply" || jsonx.String(v, "ref") != s.joinRef {
			continue
		}

		if status := jsonx.String(v.Get("payload"), "status"); status != "ok" {
			reason := jsonx.String(v.Get("payload", "response"), "reason")
			return fmt.Errorf("realtime: join %s rejected: %s %s", s.topic, status, reason)
		}

		s.conn.SetWriteDeadline(time.Time{})
		s.conn.SetReadDeadline(time.Now().Add(s.readWait()))
		return nil
	}
}

// readWait is how long the connection may stay silent; heartbeat replies count as traffic.
func (s *websocketSub) readWait() time.Duration {
	return 2*s.heartbeat + writeWait
}

// readPump pumps postgres_changes frames from the connection into events.
func (s *websocketSub) readPump() {
	defer func() {
		close(s.events)
		s.conn.Close()
	}()

	var p fastjson.Parser
	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.logger.Warnw("realtime connection lost", "topic", s.topic, "error", err)
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(s.readWait()))

		v, err := p.ParseBytes(message)
		if err != nil {
			s.logger.Debugw("dropping malformed realtime frame", "topic", s.topic, "error", err)
			continue
		}

		switch jsonx.String(v, "event") {
		case "postgres_changes":
			data := v.Get("payload", "data")
			if data == nil || !s.filter.matchValue(data) {
				continue
			}
			envelope := normalize(data)
			if envelope == nil {
				continue
			}
			select {
			case s.events <- envelope:
			case <-s.done:
				return
			}
		case "phx_error", "phx_close":
			if jsonx.String(v, "topic") == s.topic {
				s.logger.Warnw("realtime channel closed by server", "topic", s.topic)
				return
			}
		}
	}
}

// writePump sends heartbeats until Close, then leaves the channel and closes the socket.
func (s *websocketSub) writePump() {
	ticker := time.NewTicker(s.heartbeat)
	defer func() {
		ticker.Stop()
		close(s.writerDone)
	}()

	ref := 0
	for {
		select {
		case <-ticker.C:
			ref++
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := s.conn.WriteJSON(phoenixFrame{
				Topic:   "phoenix",
				Event:   "heartbeat",
				Payload: struct{}{},
				Ref:     strconv.Itoa(ref),
			})
			if err != nil {
				return
			}

		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteJSON(phoenixFrame{
				Topic:   s.topic,
				Event:   "phx_leave",
				Payload: struct{}{},
				Ref:     "leave",
				JoinRef: s.joinRef,
			})
			s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			s.conn.Close()
			return
		}
	}
}

func (s *websocketSub) Events() <-chan []byte { return s.events }

// Close leaves the channel and closes the socket. The writer may already be gone after
// a failed heartbeat, so the socket is closed here as well to unblock the reader.
func (s *websocketSub) Close() error {
	s.once.Do(func() {
		close(s.done)
		<-s.writerDone
		s.conn.Close()
	})
	return nil
}

// normalize turns postgres_changes data into the feed envelope.
func normalize(data *fastjson.Value) []byte {
	row := jsonx.Object(data, "record", "new")
	if row == nil {
		return nil
	}

	var a fastjson.Arena
	o := a.NewObject()
	o.Set("type", a.NewString(strings.ToUpper(jsonx.String(data, "type", "eventType"))))
	o.Set("table", a.NewString(jsonx.String(data, "table")))
	o.Set("new", row)
	return o.MarshalTo(nil)
}
