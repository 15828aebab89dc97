package chat

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"funwattle-chat/internal/realtime"

	"github.com/valyala/fastjson"
	"go.uber.org/zap"
)

const (
	directoryChannel = "chat-rooms-updates"
	roomChannel      = "chat-messages"
)

var ErrHubClosed = errors.New("chat: hub is not running")

// State of one owner's subscription.
type State int

const (
	StateClosed State = iota
	StateOpening
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Sink receives messages of a room-scoped subscription.
type Sink interface {
	Append(ChatMessage) bool
}

type scopeKind int

const (
	directoryScope scopeKind = iota
	roomScope
)

type scope struct {
	kind      scopeKind
	key       string
	profileID string
	roomID    string
	rooms     map[string]struct{}
}

func (sc scope) channel() string {
	if sc.kind == roomScope {
		return roomChannel
	}
	return directoryChannel
}

func (sc scope) filter(table string) realtime.Filter {
	f := realtime.Filter{Table: table, Event: realtime.EventInsert}
	if sc.kind == roomScope {
		f.Column = "chat_room_id"
		f.Value = sc.roomID
	}
	return f
}

// subscription is owned by the Run goroutine.
type subscription struct {
	id     uint64
	scope  scope
	sink   Sink
	state  State
	sub    realtime.Subscription
	cancel context.CancelFunc
}

type request struct {
	owner string
	scope *scope // nil tears the owner's subscription down
	sink  Sink
}

type openResult struct {
	owner string
	id    uint64
	sub   realtime.Subscription
	err   error
}

type feedEvent struct {
	owner   string
	id      uint64
	payload []byte
}

// Hub maps screens ("owners") to realtime subscriptions, at most one each, and applies
// their events to the room directory and message streams. All event-driven mutations
// happen on the Run goroutine.
type Hub struct {
	feed      realtime.Feed
	directory *RoomDirectory
	logger    *zap.SugaredLogger
	table     string

	requests chan request
	opened   chan openResult
	events   chan feedEvent
	ended    chan feedEvent
	done     chan struct{}
	runOnce  sync.Once

	// owned by Run
	subs   map[string]*subscription
	nextID uint64
	parser fastjson.Parser
	wg     sync.WaitGroup

	mu     sync.RWMutex
	states map[string]State
}

func NewHub(feed realtime.Feed, directory *RoomDirectory, opts ...Option) *Hub {
	o := newOptions(opts)
	return &Hub{
		feed:      feed,
		directory: directory,
		logger:    o.logger,
		table:     o.table,
		requests:  make(chan request),
		opened:    make(chan openResult),
		events:    make(chan feedEvent, 64),
		ended:     make(chan feedEvent),
		done:      make(chan struct{}),
		subs:      make(map[string]*subscription),
		states:    make(map[string]State),
	}
}

// WatchDirectory subscribes owner to new messages of every room currently in the
// directory. Without a profile id or known rooms any previous subscription of owner is
// closed and nothing is opened.
func (h *Hub) WatchDirectory(ctx context.Context, owner, profileID string) error {
	ids := h.directory.KnownRoomIDs()
	if profileID == "" || len(ids) == 0 {
		return h.send(ctx, request{owner: owner})
	}

	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	rooms := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		rooms[id] = struct{}{}
	}

	return h.send(ctx, request{
		owner: owner,
		scope: &scope{
			kind:      directoryScope,
			key:       "directory:" + profileID + ":" + strings.Join(sorted, ","),
			profileID: profileID,
			rooms:     rooms,
		},
	})
}

// WatchRoom subscribes owner to new messages of roomID, delivered to sink.
func (h *Hub) WatchRoom(ctx context.Context, owner, profileID, roomID string, sink Sink) error {
	if profileID == "" || roomID == "" || sink == nil {
		return h.send(ctx, request{owner: owner})
	}
	return h.send(ctx, request{
		owner: owner,
		scope: &scope{
			kind:      roomScope,
			key:       "room:" + profileID + ":" + roomID,
			profileID: profileID,
			roomID:    roomID,
		},
		sink: sink,
	})
}

// Unwatch closes owner's subscription. Once it returns no further events of that
// subscription are applied.
func (h *Hub) Unwatch(ctx context.Context, owner string) error {
	return h.send(ctx, request{owner: owner})
}

// State reports the subscription state of owner.
func (h *Hub) State(owner string) State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.states[owner]
}

func (h *Hub) send(ctx context.Context, req request) error {
	select {
	case h.requests <- req:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes watch requests and feed events until ctx is done, then closes every
// subscription. It returns once all subscription goroutines have exited.
func (h *Hub) Run(ctx context.Context) {
	started := false
	h.runOnce.Do(func() { started = true })
	if !started {
		return
	}

	defer func() {
		close(h.done)
		for owner := range h.subs {
			h.teardown(owner)
		}
		h.wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case req := <-h.requests:
			h.handleRequest(ctx, req)

		case res := <-h.opened:
			h.handleOpened(res)

		case ev := <-h.events:
			h.dispatch(ev)

		case ev := <-h.ended:
			if s, ok := h.subs[ev.owner]; ok && s.id == ev.id {
				h.logger.Warnw("realtime subscription ended", "owner", ev.owner, "scope", s.scope.key)
				s.sub = nil
				h.setState(ev.owner, s, StateClosed)
			}
		}
	}
}

func (h *Hub) handleRequest(ctx context.Context, req request) {
	cur, ok := h.subs[req.owner]
	if req.scope == nil {
		if ok {
			h.teardown(req.owner)
		}
		return
	}
	if ok && cur.scope.key == req.scope.key {
		return
	}
	if ok {
		h.teardown(req.owner)
	}

	h.nextID++
	openCtx, cancel := context.WithCancel(ctx)
	s := &subscription{
		id:     h.nextID,
		scope:  *req.scope,
		sink:   req.sink,
		cancel: cancel,
	}
	h.subs[req.owner] = s
	h.setState(req.owner, s, StateOpening)

	h.logger.Debugw("opening realtime subscription", "owner", req.owner, "scope", s.scope.key)

	h.wg.Add(1)
	go h.open(openCtx, req.owner, s.id, s.scope)
}

func (h *Hub) open(ctx context.Context, owner string, id uint64, sc scope) {
	defer h.wg.Done()

	sub, err := h.feed.Subscribe(ctx, sc.channel(), sc.filter(h.table))
	select {
	case h.opened <- openResult{owner: owner, id: id, sub: sub, err: err}:
	case <-h.done:
		if sub != nil {
			sub.Close()
		}
	}
}

func (h *Hub) handleOpened(res openResult) {
	s, ok := h.subs[res.owner]
	if !ok || s.id != res.id {
		if res.sub != nil {
			h.closeAsync(res.sub)
		}
		return
	}
	if res.err != nil {
		h.logger.Warnw("opening realtime subscription failed", "owner", res.owner, "scope", s.scope.key, "error", res.err)
		h.setState(res.owner, s, StateClosed)
		return
	}

	s.sub = res.sub
	h.setState(res.owner, s, StateOpen)

	h.wg.Add(1)
	go h.pump(res.owner, s.id, res.sub)
}

// pump forwards one subscription's events to the Run goroutine.
func (h *Hub) pump(owner string, id uint64, sub realtime.Subscription) {
	defer h.wg.Done()

	for payload := range sub.Events() {
		select {
		case h.events <- feedEvent{owner: owner, id: id, payload: payload}:
		case <-h.done:
			return
		}
	}
	select {
	case h.ended <- feedEvent{owner: owner, id: id}:
	case <-h.done:
	}
}

func (h *Hub) dispatch(ev feedEvent) {
	s, ok := h.subs[ev.owner]
	if !ok || s.id != ev.id {
		return
	}

	v, err := h.parser.ParseBytes(ev.payload)
	if err != nil {
		h.logger.Debugw("dropping malformed realtime event", "owner", ev.owner, "error", err)
		return
	}
	event, err := DecodeEvent(v)
	if err != nil {
		h.logger.Debugw("dropping malformed realtime event", "owner", ev.owner, "error", err)
		return
	}
	if event.Type != realtime.EventInsert || event.Table != h.table {
		return
	}

	msg := event.Message
	switch s.scope.kind {
	case roomScope:
		if msg.ChatRoomID == s.scope.roomID {
			s.sink.Append(msg)
		}
	case directoryScope:
		if _, known := s.scope.rooms[msg.ChatRoomID]; known && msg.MessageContent != "" {
			h.directory.PatchLastMessage(msg.ChatRoomID, msg.MessageContent)
		}
	}
}

func (h *Hub) teardown(owner string) {
	s, ok := h.subs[owner]
	if !ok {
		return
	}
	delete(h.subs, owner)
	s.cancel()
	if s.sub != nil {
		h.closeAsync(s.sub)
	}

	h.mu.Lock()
	delete(h.states, owner)
	h.mu.Unlock()

	h.logger.Debugw("realtime subscription closed", "owner", owner, "scope", s.scope.key)
}

// closeAsync closes sub off the Run goroutine. A transport Close may wait on a publisher
// that is itself waiting for Run to drain events.
func (h *Hub) closeAsync(sub realtime.Subscription) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if err := sub.Close(); err != nil {
			h.logger.Debugw("closing realtime subscription", "error", err)
		}
	}()
}

func (h *Hub) setState(owner string, s *subscription, state State) {
	s.state = state
	h.mu.Lock()
	h.states[owner] = state
	h.mu.Unlock()
}
