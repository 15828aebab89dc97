package chat

import (
	"context"
	"errors"
)

// DirectoryScreen ties the room list view to the directory cache and a directory-wide
// subscription.
type DirectoryScreen struct {
	owner     string
	directory *RoomDirectory
	hub       *Hub
}

func NewDirectoryScreen(owner string, directory *RoomDirectory, hub *Hub) *DirectoryScreen {
	return &DirectoryScreen{owner: owner, directory: directory, hub: hub}
}

// Mount loads the directory if nothing was fetched yet, then watches the known rooms.
// A failed load still watches whatever rooms are cached.
func (s *DirectoryScreen) Mount(ctx context.Context, profileID, token string) error {
	_, loadErr := s.directory.EnsureLoaded(ctx, profileID, token)
	if errors.Is(loadErr, ErrRefreshInFlight) {
		loadErr = nil
	}
	if err := s.hub.WatchDirectory(ctx, s.owner, profileID); err != nil {
		return err
	}
	return loadErr
}

// Refresh refetches the list (pull to refresh) and moves the subscription to the new
// room set.
func (s *DirectoryScreen) Refresh(ctx context.Context, profileID, token string) error {
	_, err := s.directory.Refresh(ctx, profileID, token)
	if err != nil && !errors.Is(err, ErrRefreshInFlight) {
		return err
	}
	return s.hub.WatchDirectory(ctx, s.owner, profileID)
}

func (s *DirectoryScreen) Rooms() []ChatRoom {
	return s.directory.Cached()
}

func (s *DirectoryScreen) Unmount(ctx context.Context) error {
	return s.hub.Unwatch(ctx, s.owner)
}

// RoomScreen ties one open room to the message stream and a room subscription.
type RoomScreen struct {
	owner  string
	stream *MessageStream
	hub    *Hub
}

func NewRoomScreen(owner string, stream *MessageStream, hub *Hub) *RoomScreen {
	return &RoomScreen{owner: owner, stream: stream, hub: hub}
}

// Mount opens roomID, subscribes to it and loads its history. An event that lands
// before the history response is overwritten by it.
func (s *RoomScreen) Mount(ctx context.Context, roomID, profileID, token string) error {
	s.stream.Open(roomID)
	if err := s.hub.WatchRoom(ctx, s.owner, profileID, roomID, s.stream); err != nil {
		return err
	}
	_, err := s.stream.LoadHistory(ctx, roomID, token)
	return err
}

// Send posts the current draft.
func (s *RoomScreen) Send(ctx context.Context, profileID, token string) error {
	return s.stream.Send(ctx, s.stream.Room(), profileID, s.stream.Draft(), token)
}

// Rows returns the display rows for viewerID.
func (s *RoomScreen) Rows(viewerID string) []Row {
	return Rows(s.stream.Messages(), viewerID)
}

// Unmount closes the subscription first so nothing is appended after the stream closes.
func (s *RoomScreen) Unmount(ctx context.Context) error {
	err := s.hub.Unwatch(ctx, s.owner)
	s.stream.Close()
	return err
}
