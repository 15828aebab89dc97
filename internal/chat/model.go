package chat

import (
	"errors"
	"strings"
	"time"

	"funwattle-chat/internal/jsonx"

	"github.com/valyala/fastjson"
)

// MessageTable is the backend table whose inserts drive the realtime feed.
const MessageTable = "Chat_Message"

// ---------------------------------------------
// API Models
// ---------------------------------------------

// ChatRoom is one entry of the room directory. LastMessage is the only field the
// client ever changes locally.
type ChatRoom struct {
	ID             string
	Name           string
	ChildName      string
	ProfilePicture string
	LastMessage    string
}

type ChatMessage struct {
	ID             string
	ChatRoomID     string
	SenderID       string
	MessageContent string
	Timestamp      time.Time
	RawTimestamp   string // kept for display when Timestamp did not parse
}

type Profile struct {
	ID             string
	Name           string
	ProfileType    string
	ProfilePicture string
}

// Assignment links a child to the therapist who assigned them work.
type Assignment struct {
	ID         string
	AssignedTo Profile // the child
	AssignedBy string  // therapist profile id, "" when unknown
}

// ---------------------------------------------
// Realtime Models
// ---------------------------------------------

// Event is a decoded row-insert notification.
type Event struct {
	Type    string
	Table   string
	Message ChatMessage
}

var errNoRow = errors.New("chat: event has no row")

// DecodeRoom reads a room from a REST payload.
func DecodeRoom(v *fastjson.Value) ChatRoom {
	return ChatRoom{
		ID:             jsonx.String(v, "id"),
		Name:           jsonx.String(v, "name"),
		ChildName:      jsonx.String(v, "child_name"),
		ProfilePicture: jsonx.String(v, "profile_picture"),
		LastMessage:    jsonx.String(v, "last_message"),
	}
}

// DecodeMessage reads a message row. The sender column is sender_id on the table and
// sender_profile_id in request bodies; both are accepted.
func DecodeMessage(v *fastjson.Value) ChatMessage {
	m := ChatMessage{
		ID:             jsonx.String(v, "id"),
		ChatRoomID:     jsonx.String(v, "chat_room_id", "chat_room"),
		SenderID:       jsonx.String(v, "sender_id", "sender_profile_id", "sender"),
		MessageContent: jsonx.String(v, "message_content"),
		RawTimestamp:   jsonx.String(v, "timestamp"),
	}
	m.Timestamp = parseTimestamp(m.RawTimestamp)
	return m
}

func DecodeProfile(v *fastjson.Value) Profile {
	return Profile{
		ID:             jsonx.String(v, "id"),
		Name:           jsonx.String(v, "name"),
		ProfileType:    jsonx.String(v, "profile_type"),
		ProfilePicture: jsonx.String(v, "profile_picture"),
	}
}

// DecodeAssignment accepts assigned_to/assigned_by either nested or as bare ids.
func DecodeAssignment(v *fastjson.Value) Assignment {
	a := Assignment{ID: jsonx.String(v, "id")}

	if child := jsonx.Object(v, "assigned_to"); child != nil {
		a.AssignedTo = DecodeProfile(child)
	} else {
		a.AssignedTo.ID = jsonx.String(v, "assigned_to")
	}

	if by := jsonx.Object(v, "assigned_by"); by != nil {
		a.AssignedBy = jsonx.String(by, "id")
	} else {
		a.AssignedBy = jsonx.String(v, "assigned_by")
	}
	return a
}

// DecodeEvent reads a normalized feed envelope.
func DecodeEvent(v *fastjson.Value) (Event, error) {
	row := jsonx.Object(v, "new", "record")
	if row == nil {
		return Event{}, errNoRow
	}
	return Event{
		Type:    strings.ToUpper(jsonx.String(v, "type", "eventType")),
		Table:   jsonx.String(v, "table"),
		Message: DecodeMessage(row),
	}, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02 15:04:05.999999",
}

// parseTimestamp returns the zero time when raw matches none of the backend layouts.
func parseTimestamp(raw string) time.Time {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}
