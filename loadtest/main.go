package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"funwattle-chat/internal/chat"
	"funwattle-chat/internal/realtime"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"
)

const (
	RedisAddr = "localhost:6379"
	RoomCount = 200 // one watcher per room, all on a single hub
	MsgCount  = 20  // messages published per room
	Settle    = 3 * time.Second
)

func main() {
	zl, _ := zap.NewDevelopment()
	defer zl.Sync()
	logger := zl.Sugar()

	client := redis.NewClient(&redis.Options{Addr: RedisAddr})
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Fatalw("redis unreachable", "addr", RedisAddr, "error", err)
	}

	feed := realtime.NewRedisFeed(client, realtime.WithLogger(logger.Named("feed")))
	hub := chat.NewHub(feed, chat.NewRoomDirectory(nil), chat.WithLogger(logger.Named("hub")))

	hubDone := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(hubDone)
	}()

	logger.Infow("starting load test", "rooms", RoomCount, "messages", MsgCount)
	start := time.Now()

	var (
		wg        sync.WaitGroup
		delivered atomic.Int64
		failed    atomic.Int64
	)
	for i := 0; i < RoomCount; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := runRoom(ctx, hub, feed, n, &delivered); err != nil {
				failed.Add(1)
				logger.Warnw("room failed", "room", n, "error", err)
			}
		}(i)
	}
	wg.Wait()

	// give the last deliveries time to land
	time.Sleep(Settle)

	want := int64(RoomCount * MsgCount)
	logger.Infow("load test complete",
		"delivered", delivered.Load(),
		"expected", want,
		"failed_rooms", failed.Load(),
		"elapsed", time.Since(start),
	)

	cancel()
	<-hubDone
}

// runRoom watches one room, waits for the subscription, then publishes into it.
func runRoom(ctx context.Context, hub *chat.Hub, feed *realtime.RedisFeed, n int, delivered *atomic.Int64) error {
	roomID := fmt.Sprintf("lt-room-%d", n)
	owner := "watcher-" + roomID
	profileID := fmt.Sprintf("lt-parent-%d", n)

	stream := chat.NewMessageStream(nil)
	stream.Open(roomID)
	stream.OnAppend(func(chat.ChatMessage) { delivered.Add(1) })

	if err := hub.WatchRoom(ctx, owner, profileID, roomID, stream); err != nil {
		return err
	}

	deadline := time.Now().Add(10 * time.Second)
	for hub.State(owner) != chat.StateOpen {
		if time.Now().After(deadline) {
			return fmt.Errorf("subscription for %s never opened (state %s)", roomID, hub.State(owner))
		}
		time.Sleep(20 * time.Millisecond)
	}

	var arena fastjson.Arena
	for i := 0; i < MsgCount; i++ {
		arena.Reset()
		if err := feed.Publish(ctx, chat.MessageTable, envelope(&arena, roomID, profileID, i)); err != nil {
			return err
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}

func envelope(a *fastjson.Arena, roomID, senderID string, i int) []byte {
	row := a.NewObject()
	row.Set("id", a.NewString(uuid.NewString()))
	row.Set("chat_room_id", a.NewString(roomID))
	row.Set("sender_id", a.NewString(senderID))
	row.Set("message_content", a.NewString(fmt.Sprintf("LoadTest Msg %d in %s", i, roomID)))
	row.Set("timestamp", a.NewString(time.Now().UTC().Format(time.RFC3339Nano)))

	env := a.NewObject()
	env.Set("type", a.NewString(realtime.EventInsert))
	env.Set("table", a.NewString(chat.MessageTable))
	env.Set("new", row)
	return env.MarshalTo(nil)
}
