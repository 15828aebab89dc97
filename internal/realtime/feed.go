// Package realtime delivers database row-change notifications to subscribers.
//
// Every transport normalizes what it receives into the same envelope:
//
//	{"type":"INSERT","table":"Chat_Message","new":{...row...}}
//
// so consumers never see transport framing.
package realtime

import (
	"context"
	"errors"
	"strings"

	"funwattle-chat/internal/jsonx"

	"github.com/valyala/fastjson"
)

const (
	// EventInsert is the change type emitted for new rows.
	EventInsert = "INSERT"

	// DefaultSchema is the schema change filters apply to when none is set.
	DefaultSchema = "public"
)

// ErrClosed is returned when subscribing on a feed that has been shut down.
var ErrClosed = errors.New("realtime: feed closed")

// Filter selects the change events a subscription receives.
// Column/Value form an optional equality predicate on the changed row.
type Filter struct {
	Schema string
	Table  string
	Event  string
	Column string
	Value  string
}

// Predicate renders the row predicate in postgres_changes syntax, e.g. "chat_room_id=eq.7".
// It is empty when the filter has no column predicate.
func (f Filter) Predicate() string {
	if f.Column == "" {
		return ""
	}
	return f.Column + "=eq." + f.Value
}

func (f Filter) schema() string {
	if f.Schema == "" {
		return DefaultSchema
	}
	return f.Schema
}

// Match reports whether a normalized envelope passes the filter.
// Payloads that are not valid envelopes never match.
func (f Filter) Match(payload []byte) bool {
	var p fastjson.Parser
	v, err := p.ParseBytes(payload)
	if err != nil {
		return false
	}
	return f.matchValue(v)
}

func (f Filter) matchValue(v *fastjson.Value) bool {
	if f.Table != "" && jsonx.String(v, "table") != f.Table {
		return false
	}
	if f.Event != "" && !strings.EqualFold(jsonx.String(v, "type", "eventType"), f.Event) {
		return false
	}
	if f.Column == "" {
		return true
	}
	row := jsonx.Object(v, "new", "record")
	return row != nil && jsonx.String(row, f.Column) == f.Value
}

// Subscription is one open channel on a feed.
// Events is closed when the subscription ends, either through Close or because the
// transport went away. There is no reconnect.
type Subscription interface {
	Events() <-chan []byte
	Close() error
}

// Feed opens subscriptions. Subscribe blocks until the subscription is confirmed by the
// transport or ctx is done.
type Feed interface {
	Subscribe(ctx context.Context, channel string, f Filter) (Subscription, error)
}
