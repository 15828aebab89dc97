package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"funwattle-chat/internal/realtime"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
	token   = "token-1"
)

var errBackend = errors.New("backend unavailable")

type post struct {
	roomID, senderID, content string
}

type fakeBackend struct {
	mu sync.Mutex

	rooms     []ChatRoom
	roomsErr  error
	roomsGate chan struct{}
	roomCalls int

	messages     []ChatMessage
	messagesErr  error
	messagesGate chan struct{}
	messageCalls int

	posts   []post
	postErr error
}

func (b *fakeBackend) ChatRooms(ctx context.Context, profileID, token string) ([]ChatRoom, error) {
	b.mu.Lock()
	b.roomCalls++
	gate := b.roomsGate
	b.mu.Unlock()

	if gate != nil {
		<-gate
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.roomsErr != nil {
		return nil, b.roomsErr
	}
	return append([]ChatRoom(nil), b.rooms...), nil
}

func (b *fakeBackend) Messages(ctx context.Context, roomID, token string) ([]ChatMessage, error) {
	b.mu.Lock()
	b.messageCalls++
	gate := b.messagesGate
	b.mu.Unlock()

	if gate != nil {
		<-gate
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.messagesErr != nil {
		return nil, b.messagesErr
	}
	return append([]ChatMessage(nil), b.messages...), nil
}

func (b *fakeBackend) PostMessage(ctx context.Context, roomID, senderProfileID, content, token string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.postErr != nil {
		return b.postErr
	}
	b.posts = append(b.posts, post{roomID, senderProfileID, content})
	return nil
}

func (b *fakeBackend) setRooms(rooms []ChatRoom, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rooms = rooms
	b.roomsErr = err
}

func (b *fakeBackend) roomCallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.roomCalls
}

func (b *fakeBackend) messageCallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.messageCalls
}

func (b *fakeBackend) postCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.posts)
}

type alert struct {
	title, message string
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []alert
}

func (n *recordingNotifier) Alert(title, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert{title, message})
}

func (n *recordingNotifier) messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]string, 0, len(n.alerts))
	for _, a := range n.alerts {
		out = append(out, a.message)
	}
	return out
}

// gatedFeed holds the first Subscribe call until gate is closed, ignoring ctx.
type gatedFeed struct {
	*realtime.MemoryFeed
	gate     chan struct{}
	once     sync.Once
	released atomic.Bool
}

func (f *gatedFeed) Subscribe(ctx context.Context, channel string, filter realtime.Filter) (realtime.Subscription, error) {
	first := false
	f.once.Do(func() { first = true })
	if !first {
		return f.MemoryFeed.Subscribe(ctx, channel, filter)
	}

	<-f.gate
	sub, err := f.MemoryFeed.Subscribe(context.Background(), channel, filter)
	f.released.Store(true)
	return sub, err
}

type failingFeed struct {
	mu    sync.Mutex
	calls int
}

func (f *failingFeed) Subscribe(ctx context.Context, channel string, filter realtime.Filter) (realtime.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil, errors.New("channel error")
}

func (f *failingFeed) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func insertEvent(roomID, content string) []byte {
	return []byte(fmt.Sprintf(`{"type":"INSERT","table":"Chat_Message","new":{"id":"m-%s","chat_room_id":%q,"sender_id":"p2","message_content":%q,"timestamp":"2025-11-13T10:30:00Z"}}`,
		content, roomID, content))
}

// startHub runs a hub until the test ends.
func startHub(t *testing.T, feed realtime.Feed, directory *RoomDirectory) *Hub {
	t.Helper()

	hub := NewHub(feed, directory)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return hub
}
