package chat

import (
	"context"
)

// Backend is the REST surface the directory and message stores depend on.
type Backend interface {
	ChatRooms(ctx context.Context, profileID, token string) ([]ChatRoom, error)
	Messages(ctx context.Context, roomID, token string) ([]ChatMessage, error)
	PostMessage(ctx context.Context, roomID, senderProfileID, content, token string) error
}

// AssignmentBackend is what room creation needs from the backend.
type AssignmentBackend interface {
	AssignedBy(ctx context.Context, userID, token string) ([]Assignment, error)
	AssignedTo(ctx context.Context, childID, token string) ([]Assignment, error)
	CreateRoom(ctx context.Context, req CreateRoomRequest, token string) (ChatRoom, error)
}

type CreateRoomRequest struct {
	ParentProfileID    string
	TherapistProfileID string
	ChildProfileID     string
}
