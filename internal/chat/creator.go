package chat

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

var (
	ErrNoAssignments       = errors.New("chat: child has no assignments")
	ErrNoTherapistAssigned = errors.New("chat: no therapist assigned to child")
)

// RoomCreator starts new rooms between a parent and the therapist working with their
// child. It never touches the room directory; the new room shows up on the next refresh.
type RoomCreator struct {
	backend  AssignmentBackend
	notifier Notifier
	logger   *zap.SugaredLogger
}

func NewRoomCreator(backend AssignmentBackend, opts ...Option) *RoomCreator {
	o := newOptions(opts)
	return &RoomCreator{
		backend:  backend,
		notifier: o.notifier,
		logger:   o.logger,
	}
}

// ChildrenFor lists the distinct children a therapist has assigned work to, in the
// order they first appear.
func (c *RoomCreator) ChildrenFor(ctx context.Context, userID, token string) ([]Profile, error) {
	if userID == "" || token == "" {
		c.notifier.Alert("Error", "Missing user ID or token")
		return nil, ErrMissingCredentials
	}

	assignments, err := c.backend.AssignedBy(ctx, userID, token)
	if err != nil {
		c.logger.Warnw("fetching assignments failed", "user_id", userID, "error", err)
		c.notifier.Alert("Error", "Failed to load children")
		return nil, err
	}

	seen := make(map[string]struct{}, len(assignments))
	var children []Profile
	for _, a := range assignments {
		id := a.AssignedTo.ID
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		children = append(children, a.AssignedTo)
	}
	return children, nil
}

// StartRoom creates a room for parentProfileID with the therapist of the child's first
// assignment.
func (c *RoomCreator) StartRoom(ctx context.Context, parentProfileID, childID, token string) (ChatRoom, error) {
	if parentProfileID == "" || childID == "" || token == "" {
		c.notifier.Alert("Error", "Missing profile ID, child ID, or token")
		return ChatRoom{}, ErrMissingCredentials
	}

	assignments, err := c.backend.AssignedTo(ctx, childID, token)
	if err != nil {
		c.logger.Warnw("fetching child assignments failed", "child_id", childID, "error", err)
		c.notifier.Alert("Error", "Failed to fetch child assignments")
		return ChatRoom{}, err
	}
	if len(assignments) == 0 {
		c.notifier.Alert("No Therapist", "This child has no assignments yet, so there is no therapist to chat with.")
		return ChatRoom{}, ErrNoAssignments
	}

	therapistID := assignments[0].AssignedBy
	if therapistID == "" {
		c.notifier.Alert("No Therapist", "No therapist is assigned to this child.")
		return ChatRoom{}, ErrNoTherapistAssigned
	}

	room, err := c.backend.CreateRoom(ctx, CreateRoomRequest{
		ParentProfileID:    parentProfileID,
		TherapistProfileID: therapistID,
		ChildProfileID:     childID,
	}, token)
	if err != nil {
		c.logger.Warnw("creating chat room failed", "child_id", childID, "error", err)
		c.notifier.Alert("Error", "Failed to create chat. Please try again.")
		return ChatRoom{}, err
	}

	c.logger.Infow("chat room created", "room_id", room.ID, "therapist_profile_id", therapistID)
	return room, nil
}
