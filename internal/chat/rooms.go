package chat

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrMissingCredentials = errors.New("chat: missing profile id, room id or token")
	ErrRefreshInFlight    = errors.New("chat: refresh already in flight")
	ErrStaleResponse      = errors.New("chat: response arrived for an inactive scope")
)

// RoomDirectory caches the chat rooms of the signed-in profile. The list is replaced
// only by a full Refresh; realtime events patch LastMessage of rooms already present.
type RoomDirectory struct {
	backend  Backend
	notifier Notifier
	logger   *zap.SugaredLogger

	mu         sync.Mutex
	rooms      []ChatRoom
	hasFetched bool
	fetching   bool
	generation uint64
	observers  []func(ChatRoom)
}

func NewRoomDirectory(backend Backend, opts ...Option) *RoomDirectory {
	o := newOptions(opts)
	return &RoomDirectory{
		backend:  backend,
		notifier: o.notifier,
		logger:   o.logger,
	}
}

// Refresh fetches the room list. Only one fetch runs at a time; a call made while
// another is in flight returns ErrRefreshInFlight without touching the network.
// A failed fetch still counts as fetched so an empty screen does not refetch in a loop.
func (d *RoomDirectory) Refresh(ctx context.Context, profileID, token string) ([]ChatRoom, error) {
	if profileID == "" || token == "" {
		d.notifier.Alert("Error", "Missing profile ID or token")
		return nil, ErrMissingCredentials
	}

	d.mu.Lock()
	if d.fetching {
		d.mu.Unlock()
		return nil, ErrRefreshInFlight
	}
	d.fetching = true
	gen := d.generation
	d.mu.Unlock()

	rooms, err := d.backend.ChatRooms(ctx, profileID, token)

	d.mu.Lock()
	if gen != d.generation {
		d.mu.Unlock()
		d.logger.Debugw("discarding room list for previous session", "profile_id", profileID)
		return nil, ErrStaleResponse
	}
	d.fetching = false
	d.hasFetched = true
	if err != nil {
		d.mu.Unlock()
		d.logger.Warnw("fetching chat rooms failed", "profile_id", profileID, "error", err)
		d.notifier.Alert("Error", "Failed to fetch chat rooms")
		return nil, err
	}
	d.rooms = append([]ChatRoom(nil), rooms...)
	out := append([]ChatRoom(nil), d.rooms...)
	d.mu.Unlock()

	d.logger.Debugw("chat rooms refreshed", "profile_id", profileID, "count", len(out))
	return out, nil
}

// EnsureLoaded refreshes once per cold start: only when the list is empty and no fetch
// has settled yet. It reports whether a refresh was issued.
func (d *RoomDirectory) EnsureLoaded(ctx context.Context, profileID, token string) (bool, error) {
	d.mu.Lock()
	cold := len(d.rooms) == 0 && !d.hasFetched && !d.fetching
	d.mu.Unlock()

	if !cold {
		return false, nil
	}
	_, err := d.Refresh(ctx, profileID, token)
	return true, err
}

// Cached returns a copy of the current list.
func (d *RoomDirectory) Cached() []ChatRoom {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]ChatRoom(nil), d.rooms...)
}

func (d *RoomDirectory) HasFetched() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hasFetched
}

// KnownRoomIDs returns the ids of the cached rooms in list order.
func (d *RoomDirectory) KnownRoomIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	ids := make([]string, 0, len(d.rooms))
	for _, r := range d.rooms {
		ids = append(ids, r.ID)
	}
	return ids
}

// PatchLastMessage sets the last message of roomID. Unknown rooms are ignored and
// false is returned.
func (d *RoomDirectory) PatchLastMessage(roomID, text string) bool {
	d.mu.Lock()
	idx := -1
	for i := range d.rooms {
		if d.rooms[i].ID == roomID {
			idx = i
			break
		}
	}
	if idx < 0 {
		d.mu.Unlock()
		return false
	}
	d.rooms[idx].LastMessage = text
	room := d.rooms[idx]
	observers := append(([]func(ChatRoom))(nil), d.observers...)
	d.mu.Unlock()

	for _, fn := range observers {
		fn(room)
	}
	return true
}

// OnPatch registers fn to run after every successful PatchLastMessage.
func (d *RoomDirectory) OnPatch(fn func(ChatRoom)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, fn)
}

// Reset forgets everything for a sign-out or profile switch. A fetch still in flight
// will find the generation changed and be discarded. The embedding app owns sign-out
// and profile switching and calls Reset when either happens.
func (d *RoomDirectory) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.rooms = nil
	d.hasFetched = false
	d.fetching = false
	d.generation++
}
