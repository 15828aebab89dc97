package chat

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"funwattle-chat/internal/realtime"

	"github.com/stretchr/testify/require"
)

func TestDirectoryScreenColdMount(t *testing.T) {
	ctx := context.Background()
	b := &fakeBackend{rooms: []ChatRoom{{ID: "r1", Name: "Dr. Carter", LastMessage: "hi"}}}
	dir := NewRoomDirectory(b)
	feed := realtime.NewMemoryFeed()
	hub := startHub(t, feed, dir)
	screen := NewDirectoryScreen("rooms", dir, hub)

	require.NoError(t, screen.Mount(ctx, "p1", token))
	require.Equal(t, 1, b.roomCallCount())
	require.Equal(t, []ChatRoom{{ID: "r1", Name: "Dr. Carter", LastMessage: "hi"}}, screen.Rooms())

	require.Eventually(t, func() bool { return hub.State("rooms") == StateOpen }, waitFor, tick)

	feed.Publish(insertEvent("r1", "new"))
	require.Eventually(t, func() bool {
		return dir.Cached()[0].LastMessage == "new"
	}, waitFor, tick)
	require.Equal(t, 1, b.roomCallCount())

	// a remount does not fetch again
	require.NoError(t, screen.Unmount(ctx))
	require.NoError(t, screen.Mount(ctx, "p1", token))
	require.Equal(t, 1, b.roomCallCount())
}

func TestDirectoryScopeDropsUnknownRooms(t *testing.T) {
	ctx := context.Background()
	b := &fakeBackend{rooms: []ChatRoom{{ID: "r1"}, {ID: "r2"}}}
	dir := NewRoomDirectory(b)
	feed := realtime.NewMemoryFeed()
	hub := startHub(t, feed, dir)

	require.NoError(t, NewDirectoryScreen("rooms", dir, hub).Mount(ctx, "p1", token))
	require.Eventually(t, func() bool { return hub.State("rooms") == StateOpen }, waitFor, tick)

	// r3 reaches the cache but the open subscription still covers {r1, r2}
	b.setRooms([]ChatRoom{{ID: "r1"}, {ID: "r2"}, {ID: "r3"}}, nil)
	_, err := dir.Refresh(ctx, "p1", token)
	require.NoError(t, err)

	var (
		mu      sync.Mutex
		patched []string
	)
	dir.OnPatch(func(r ChatRoom) {
		mu.Lock()
		defer mu.Unlock()
		patched = append(patched, r.ID)
	})

	feed.Publish(insertEvent("r3", "dropped"))
	feed.Publish(insertEvent("r2", ""))
	feed.Publish(insertEvent("r2", "kept"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(patched) == 1
	}, waitFor, tick)
	require.Equal(t, "kept", dir.Cached()[1].LastMessage)
	require.Equal(t, "", dir.Cached()[2].LastMessage)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"r2"}, patched)
}

func TestDirectoryScreenRefreshMovesScope(t *testing.T) {
	ctx := context.Background()
	b := &fakeBackend{rooms: []ChatRoom{{ID: "r1"}}}
	dir := NewRoomDirectory(b)
	feed := realtime.NewMemoryFeed()
	hub := startHub(t, feed, dir)
	screen := NewDirectoryScreen("rooms", dir, hub)

	require.NoError(t, screen.Mount(ctx, "p1", token))
	require.Eventually(t, func() bool { return hub.State("rooms") == StateOpen }, waitFor, tick)

	b.setRooms([]ChatRoom{{ID: "r1"}, {ID: "r2"}}, nil)
	require.NoError(t, screen.Refresh(ctx, "p1", token))

	// the swap is asynchronous; keep publishing until the new scope picks it up
	require.Eventually(t, func() bool {
		feed.Publish(insertEvent("r2", "now watched"))
		return dir.Cached()[1].LastMessage == "now watched"
	}, waitFor, tick)
	require.Eventually(t, func() bool { return feed.Len() == 1 }, waitFor, tick)
}

func TestDirectoryWatchNeedsRooms(t *testing.T) {
	ctx := context.Background()
	b := &fakeBackend{}
	dir := NewRoomDirectory(b)
	feed := realtime.NewMemoryFeed()
	hub := startHub(t, feed, dir)

	require.NoError(t, NewDirectoryScreen("rooms", dir, hub).Mount(ctx, "p1", token))
	require.Never(t, func() bool { return feed.Len() > 0 }, 100*time.Millisecond, tick)
	require.Equal(t, StateClosed, hub.State("rooms"))
}

func TestRoomScreenUnmountStopsAppends(t *testing.T) {
	ctx := context.Background()
	b := &fakeBackend{}
	feed := realtime.NewMemoryFeed()
	hub := startHub(t, feed, NewRoomDirectory(b))
	stream := NewMessageStream(b)
	screen := NewRoomScreen("room", stream, hub)

	var appended atomic.Int32
	stream.OnAppend(func(ChatMessage) { appended.Add(1) })

	require.NoError(t, screen.Mount(ctx, "r1", "p1", token))
	require.Eventually(t, func() bool { return hub.State("room") == StateOpen }, waitFor, tick)

	feed.Publish(insertEvent("r1", "first"))
	require.Eventually(t, func() bool { return appended.Load() == 1 }, waitFor, tick)
	require.Equal(t, "first", screen.Rows("p1")[0].Message.MessageContent)

	require.NoError(t, screen.Unmount(ctx))
	require.Eventually(t, func() bool { return hub.State("room") == StateClosed }, waitFor, tick)

	feed.Publish(insertEvent("r1", "after unmount"))
	require.Never(t, func() bool { return appended.Load() > 1 }, 100*time.Millisecond, tick)
	require.Eventually(t, func() bool { return feed.Len() == 0 }, waitFor, tick)
}

func TestRoomScopeFiltersOtherRooms(t *testing.T) {
	ctx := context.Background()
	b := &fakeBackend{}
	feed := realtime.NewMemoryFeed()
	hub := startHub(t, feed, NewRoomDirectory(b))
	stream := NewMessageStream(b)

	stream.Open("r1")
	require.NoError(t, hub.WatchRoom(ctx, "room", "p1", "r1", stream))
	require.Eventually(t, func() bool { return hub.State("room") == StateOpen }, waitFor, tick)

	require.Equal(t, 0, feed.Publish(insertEvent("r2", "other room")))
	require.Equal(t, 1, feed.Publish(insertEvent("r1", "mine")))
	require.Eventually(t, func() bool { return len(stream.Messages()) == 1 }, waitFor, tick)
	require.Equal(t, "mine", stream.Messages()[0].MessageContent)
}

// An event that lands while history is loading is lost when the history replaces the
// list. This is accepted behavior.
func TestHistoryOverwritesEarlyEvent(t *testing.T) {
	ctx := context.Background()
	gate := make(chan struct{})
	history := []ChatMessage{{ID: "h1", ChatRoomID: "r1", MessageContent: "from history"}}
	b := &fakeBackend{messages: history, messagesGate: gate}
	feed := realtime.NewMemoryFeed()
	hub := startHub(t, feed, NewRoomDirectory(b))
	stream := NewMessageStream(b)
	screen := NewRoomScreen("room", stream, hub)

	mounted := make(chan error, 1)
	go func() { mounted <- screen.Mount(ctx, "r1", "p1", token) }()

	require.Eventually(t, func() bool {
		return hub.State("room") == StateOpen && b.messageCallCount() == 1
	}, waitFor, tick)

	feed.Publish(insertEvent("r1", "early"))
	require.Eventually(t, func() bool { return len(stream.Messages()) == 1 }, waitFor, tick)

	close(gate)
	require.NoError(t, <-mounted)
	require.Equal(t, history, stream.Messages())
}

func TestWatchSameScopeIsNoop(t *testing.T) {
	ctx := context.Background()
	b := &fakeBackend{}
	feed := realtime.NewMemoryFeed()
	hub := startHub(t, feed, NewRoomDirectory(b))
	stream := NewMessageStream(b)
	stream.Open("r1")

	require.NoError(t, hub.WatchRoom(ctx, "room", "p1", "r1", stream))
	require.Eventually(t, func() bool { return hub.State("room") == StateOpen }, waitFor, tick)

	require.NoError(t, hub.WatchRoom(ctx, "room", "p1", "r1", stream))
	require.Never(t, func() bool { return feed.Len() != 1 }, 100*time.Millisecond, tick)

	// a new room replaces the subscription
	stream.Open("r2")
	require.NoError(t, hub.WatchRoom(ctx, "room", "p1", "r2", stream))
	require.Eventually(t, func() bool {
		return feed.Len() == 1 && feed.Publish(insertEvent("r1", "old room")) == 0
	}, waitFor, tick)

	require.Equal(t, 1, feed.Publish(insertEvent("r2", "new room")))
	require.Eventually(t, func() bool { return len(stream.Messages()) == 1 }, waitFor, tick)
}

func TestWatchMissingPreconditionsClosesOld(t *testing.T) {
	ctx := context.Background()
	b := &fakeBackend{}
	feed := realtime.NewMemoryFeed()
	hub := startHub(t, feed, NewRoomDirectory(b))
	stream := NewMessageStream(b)

	require.NoError(t, hub.WatchRoom(ctx, "room", "p1", "r1", stream))
	require.Eventually(t, func() bool { return hub.State("room") == StateOpen }, waitFor, tick)

	require.NoError(t, hub.WatchRoom(ctx, "room", "p1", "", stream))
	require.Eventually(t, func() bool {
		return hub.State("room") == StateClosed && feed.Len() == 0
	}, waitFor, tick)
}

func TestWatchOpenFailure(t *testing.T) {
	ctx := context.Background()
	b := &fakeBackend{}
	feed := &failingFeed{}
	hub := startHub(t, feed, NewRoomDirectory(b))

	require.NoError(t, hub.WatchRoom(ctx, "room", "p1", "r1", NewMessageStream(b)))
	require.Eventually(t, func() bool {
		return feed.callCount() == 1 && hub.State("room") == StateClosed
	}, waitFor, tick)

	// no retry
	require.Never(t, func() bool { return feed.callCount() > 1 }, 100*time.Millisecond, tick)
}

func TestStaleOpenIsClosed(t *testing.T) {
	ctx := context.Background()
	b := &fakeBackend{}
	feed := &gatedFeed{MemoryFeed: realtime.NewMemoryFeed(), gate: make(chan struct{})}
	hub := startHub(t, feed, NewRoomDirectory(b))
	stream := NewMessageStream(b)

	require.NoError(t, hub.WatchRoom(ctx, "room", "p1", "r1", stream))
	require.Eventually(t, func() bool { return hub.State("room") == StateOpening }, waitFor, tick)

	stream.Open("r2")
	require.NoError(t, hub.WatchRoom(ctx, "room", "p1", "r2", stream))
	require.Eventually(t, func() bool { return hub.State("room") == StateOpen }, waitFor, tick)

	close(feed.gate)
	require.Eventually(t, func() bool { return feed.released.Load() && feed.Len() == 1 }, waitFor, tick)
	require.Equal(t, StateOpen, hub.State("room"))

	require.Equal(t, 0, feed.Publish(insertEvent("r1", "stale")))
}

func TestTransportEndClosesSubscription(t *testing.T) {
	ctx := context.Background()
	b := &fakeBackend{}
	feed := realtime.NewMemoryFeed()
	hub := startHub(t, feed, NewRoomDirectory(b))

	require.NoError(t, hub.WatchRoom(ctx, "room", "p1", "r1", NewMessageStream(b)))
	require.Eventually(t, func() bool { return hub.State("room") == StateOpen }, waitFor, tick)

	feed.Close()
	require.Eventually(t, func() bool { return hub.State("room") == StateClosed }, waitFor, tick)
}

func TestHubShutdown(t *testing.T) {
	b := &fakeBackend{}
	feed := realtime.NewMemoryFeed()
	hub := NewHub(feed, NewRoomDirectory(b))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	require.NoError(t, hub.WatchRoom(context.Background(), "room", "p1", "r1", NewMessageStream(b)))
	require.Eventually(t, func() bool { return hub.State("room") == StateOpen }, waitFor, tick)

	cancel()
	<-done
	require.Equal(t, 0, feed.Len())

	err := hub.WatchRoom(context.Background(), "room", "p1", "r2", NewMessageStream(b))
	require.ErrorIs(t, err, ErrHubClosed)
}

func TestHubDropsMalformedEvents(t *testing.T) {
	ctx := context.Background()
	b := &fakeBackend{rooms: []ChatRoom{{ID: "r1", LastMessage: "hi"}}}
	dir := NewRoomDirectory(b)
	feed := realtime.NewMemoryFeed()
	hub := startHub(t, feed, dir)

	require.NoError(t, NewDirectoryScreen("rooms", dir, hub).Mount(ctx, "p1", token))
	require.Eventually(t, func() bool { return hub.State("rooms") == StateOpen }, waitFor, tick)

	feed.Publish([]byte(`{"type":"INSERT","table":"Chat_Message"}`))
	feed.Publish([]byte(`{"type":"INSERT","table":"Chat_Message","new":"r1"}`))
	feed.Publish(insertEvent("r1", "valid"))

	require.Eventually(t, func() bool { return dir.Cached()[0].LastMessage == "valid" }, waitFor, tick)
	require.Equal(t, StateOpen, hub.State("rooms"))
}
