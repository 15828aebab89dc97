package realtime

import (
	"context"
	"sync"
)

const memoryBuffer = 64

// MemoryFeed is an in-process Feed. Publish fans a normalized envelope out to every
// subscription whose filter matches. It backs tests and local runs without a broker.
type MemoryFeed struct {
	mu     sync.Mutex
	subs   map[*memorySub]struct{}
	closed bool
}

// NewMemoryFeed returns an empty MemoryFeed.
func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{subs: make(map[*memorySub]struct{})}
}

type memorySub struct {
	feed   *MemoryFeed
	filter Filter
	events chan []byte
	done   chan struct{}
	once   sync.Once
}

// Subscribe registers a new subscription.
func (f *MemoryFeed) Subscribe(ctx context.Context, _ string, filter Filter) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}

	s := &memorySub{
		feed:   f,
		filter: filter,
		events: make(chan []byte, memoryBuffer),
		done:   make(chan struct{}),
	}
	f.subs[s] = struct{}{}
	return s, nil
}

// Publish delivers payload to every matching subscription and returns how many got it.
func (f *MemoryFeed) Publish(payload []byte) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for s := range f.subs {
		if !s.filter.Match(payload) {
			continue
		}
		select {
		case s.events <- payload:
			n++
		case <-s.done:
		}
	}
	return n
}

// Len returns the number of open subscriptions.
func (f *MemoryFeed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Close ends every subscription and rejects new ones.
func (f *MemoryFeed) Close() {
	f.mu.Lock()
	subs := make([]*memorySub, 0, len(f.subs))
	for s := range f.subs {
		subs = append(subs, s)
	}
	f.closed = true
	f.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
}

func (s *memorySub) Events() <-chan []byte { return s.events }

// Close unblocks any publisher first, then unregisters. Once the subscription is out of
// the map no publisher can send on events, so it is safe to close.
func (s *memorySub) Close() error {
	s.once.Do(func() {
		close(s.done)

		s.feed.mu.Lock()
		delete(s.feed.subs, s)
		s.feed.mu.Unlock()

		close(s.events)
	})
	return nil
}
