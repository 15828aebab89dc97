// Package api is the REST client for the chat backend. Every call carries the user's
// bearer token and an X-Request-Id.
package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"funwattle-chat/internal/chat"
	"funwattle-chat/internal/session"

	"github.com/rs/xid"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"
)

const maxBody = 4 << 20

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Op   string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api: %s: unexpected status %d %s", e.Op, e.Code, http.StatusText(e.Code))
}

type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	logger  *zap.SugaredLogger

	listPool   fastjson.ParserPool
	objectPool fastjson.ParserPool
}

var (
	_ chat.Backend           = (*Client)(nil)
	_ chat.AssignmentBackend = (*Client)(nil)
)

// New returns a client for the backend at baseURL, e.g. https://api.example.com/api.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    http.DefaultClient,
		timeout: defaultTimeout,
		logger:  zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt.apply(c)
	}
	return c
}

// ChatRooms lists the rooms of a profile: GET /chat/{profileId}/rooms/.
func (c *Client) ChatRooms(ctx context.Context, profileID, token string) ([]chat.ChatRoom, error) {
	var rooms []chat.ChatRoom
	err := c.getList(ctx, "chat rooms", "/chat/"+url.PathEscape(profileID)+"/rooms/", token, func(v *fastjson.Value) {
		rooms = append(rooms, chat.DecodeRoom(v))
	})
	if err != nil {
		return nil, err
	}
	return rooms, nil
}

// Messages loads the history of a room: GET /chat/{roomId}/messages/.
func (c *Client) Messages(ctx context.Context, roomID, token string) ([]chat.ChatMessage, error) {
	var messages []chat.ChatMessage
	err := c.getList(ctx, "messages", "/chat/"+url.PathEscape(roomID)+"/messages/", token, func(v *fastjson.Value) {
		messages = append(messages, chat.DecodeMessage(v))
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// PostMessage sends a message. The response body is ignored; the message reaches the
// sender through the realtime feed like everyone else's.
func (c *Client) PostMessage(ctx context.Context, roomID, senderProfileID, content, token string) error {
	var a fastjson.Arena
	body := a.NewObject()
	body.Set("sender_profile_id", a.NewString(senderProfileID))
	body.Set("message_content", a.NewString(content))

	_, err := c.do(ctx, "send message", http.MethodPost, "/chat/"+url.PathEscape(roomID)+"/messages/", token, body.MarshalTo(nil))
	return err
}

// ListProfiles returns the profiles of a user: GET /profile/{userId}/list/.
func (c *Client) ListProfiles(ctx context.Context, userID, token string) ([]chat.Profile, error) {
	var profiles []chat.Profile
	err := c.getList(ctx, "profiles", "/profile/"+url.PathEscape(userID)+"/list/", token, func(v *fastjson.Value) {
		profiles = append(profiles, chat.DecodeProfile(v))
	})
	if err != nil {
		return nil, err
	}
	return profiles, nil
}

// AssignedBy lists the assignments a therapist user created.
func (c *Client) AssignedBy(ctx context.Context, userID, token string) ([]chat.Assignment, error) {
	return c.assignments(ctx, "/assignment/"+url.PathEscape(userID)+"/assigned_by/", token)
}

// AssignedTo lists the assignments of a child profile.
func (c *Client) AssignedTo(ctx context.Context, childID, token string) ([]chat.Assignment, error) {
	return c.assignments(ctx, "/assignment/"+url.PathEscape(childID)+"/assigned_to/", token)
}

func (c *Client) assignments(ctx context.Context, path, token string) ([]chat.Assignment, error) {
	var out []chat.Assignment
	err := c.getList(ctx, "assignments", path, token, func(v *fastjson.Value) {
		out = append(out, chat.DecodeAssignment(v))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CreateRoom opens a room between a parent and a therapist about a child.
func (c *Client) CreateRoom(ctx context.Context, req chat.CreateRoomRequest, token string) (chat.ChatRoom, error) {
	var a fastjson.Arena
	body := a.NewObject()
	body.Set("parent_profile_id", a.NewString(req.ParentProfileID))
	body.Set("therapist_profile_id", a.NewString(req.TherapistProfileID))
	body.Set("child_profile_id", a.NewString(req.ChildProfileID))

	const op = "create room"
	resp, err := c.do(ctx, op, http.MethodPost, "/chat/create-room/", token, body.MarshalTo(nil))
	if err != nil {
		return chat.ChatRoom{}, err
	}

	p := c.objectPool.Get()
	defer c.objectPool.Put(p)

	v, err := p.ParseBytes(resp)
	if err != nil {
		return chat.ChatRoom{}, fmt.Errorf("api: %s: decode response: %w", op, err)
	}
	if v.Type() != fastjson.TypeObject {
		return chat.ChatRoom{}, fmt.Errorf("api: %s: expected object, got %s", op, v.Type())
	}
	return chat.DecodeRoom(v), nil
}

func (c *Client) getList(ctx context.Context, op, path, token string, each func(*fastjson.Value)) error {
	resp, err := c.do(ctx, op, http.MethodGet, path, token, nil)
	if err != nil {
		return err
	}

	p := c.listPool.Get()
	defer c.listPool.Put(p)

	v, err := p.ParseBytes(resp)
	if err != nil {
		return fmt.Errorf("api: %s: decode response: %w", op, err)
	}
	items, err := v.Array()
	if err != nil {
		return fmt.Errorf("api: %s: expected array: %w", op, err)
	}
	for _, item := range items {
		each(item)
	}
	return nil
}

func (c *Client) do(ctx context.Context, op, method, path, token string, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("api: %s: %w", op, err)
	}

	id := xid.New().String()
	req.Header.Set("X-Request-Id", id)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", session.Authorization(token))
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debugw("api request failed", "request_id", id, "method", method, "path", path, "error", err)
		return nil, fmt.Errorf("api: %s: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("api: %s: read body: %w", op, err)
	}

	c.logger.Debugw("api request",
		"request_id", id,
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"elapsed", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Op: op, Code: resp.StatusCode}
	}
	return data, nil
}
