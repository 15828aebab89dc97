package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const messageTable = "Chat_Message"

func insertEnvelope(roomID, content string) []byte {
	return []byte(`{"type":"INSERT","table":"Chat_Message","new":{"id":"m1","chat_room_id":"` + roomID +
		`","sender_id":"p1","message_content":"` + content + `","timestamp":"2025-11-13T10:30:00Z"}}`)
}

func TestFilterPredicate(t *testing.T) {
	t.Parallel()

	require.Equal(t, "", Filter{Table: messageTable}.Predicate())
	require.Equal(t, "chat_room_id=eq.r1", Filter{Table: messageTable, Column: "chat_room_id", Value: "r1"}.Predicate())
}

func TestFilterMatch(t *testing.T) {
	t.Parallel()

	all := Filter{Table: messageTable, Event: EventInsert}
	room := Filter{Table: messageTable, Event: EventInsert, Column: "chat_room_id", Value: "r1"}

	require.True(t, all.Match(insertEnvelope("r1", "hi")))
	require.True(t, all.Match(insertEnvelope("r2", "hi")))
	require.True(t, room.Match(insertEnvelope("r1", "hi")))
	require.False(t, room.Match(insertEnvelope("r2", "hi")))

	require.False(t, all.Match([]byte(`{"type":"UPDATE","table":"Chat_Message","new":{}}`)))
	require.False(t, all.Match([]byte(`{"type":"INSERT","table":"Chat_Room","new":{}}`)))
	require.False(t, all.Match([]byte(`not json`)))

	// integer room ids on the row still compare as strings
	numeric := Filter{Table: messageTable, Column: "chat_room_id", Value: "7"}
	require.True(t, numeric.Match([]byte(`{"type":"INSERT","table":"Chat_Message","record":{"chat_room_id":7}}`)))
}

func TestMemoryFeedPublish(t *testing.T) {
	t.Parallel()

	feed := NewMemoryFeed()
	ctx := context.Background()

	all, err := feed.Subscribe(ctx, "chat-rooms-updates", Filter{Table: messageTable, Event: EventInsert})
	require.NoError(t, err)
	room, err := feed.Subscribe(ctx, "chat-messages", Filter{Table: messageTable, Event: EventInsert, Column: "chat_room_id", Value: "r1"})
	require.NoError(t, err)
	require.Equal(t, 2, feed.Len())

	require.Equal(t, 2, feed.Publish(insertEnvelope("r1", "hello")))
	require.Equal(t, 1, feed.Publish(insertEnvelope("r2", "other")))

	require.Equal(t, insertEnvelope("r1", "hello"), <-room.Events())
	require.Equal(t, insertEnvelope("r1", "hello"), <-all.Events())
	require.Equal(t, insertEnvelope("r2", "other"), <-all.Events())
}

func TestMemoryFeedClose(t *testing.T) {
	t.Parallel()

	feed := NewMemoryFeed()
	sub, err := feed.Subscribe(context.Background(), "chat-messages", Filter{Table: messageTable})
	require.NoError(t, err)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	require.Equal(t, 0, feed.Len())
	require.Equal(t, 0, feed.Publish(insertEnvelope("r1", "late")))

	_, ok := <-sub.Events()
	require.False(t, ok)

	feed.Close()
	_, err = feed.Subscribe(context.Background(), "chat-messages", Filter{Table: messageTable})
	require.ErrorIs(t, err, ErrClosed)
}

func TestMemoryFeedSubscribeCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemoryFeed().Subscribe(ctx, "chat-messages", Filter{Table: messageTable})
	require.ErrorIs(t, err, context.Canceled)
}

func TestTriggerQueries(t *testing.T) {
	t.Parallel()

	queries := triggerQueries(messageTable, "chat_message_insert")
	require.Len(t, queries, 3)
	require.Contains(t, queries[1], `DROP TRIGGER IF EXISTS "chat_message_notify_insert" ON "Chat_Message"`)
	require.Contains(t, queries[2], `AFTER INSERT ON "Chat_Message"`)
	require.Contains(t, queries[2], `realtime_notify_insert('chat_message_insert')`)
}

func TestRedisFeedChannel(t *testing.T) {
	t.Parallel()

	require.Equal(t, "realtime:Chat_Message", NewRedisFeed(nil).Channel(messageTable))
	require.Equal(t, "dev:Chat_Message", NewRedisFeed(nil, WithRedisPrefix("dev:")).Channel(messageTable))
}

func waitEvent(t *testing.T, sub Subscription) []byte {
	t.Helper()
	select {
	case payload, ok := <-sub.Events():
		require.True(t, ok, "subscription ended")
		return payload
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}
