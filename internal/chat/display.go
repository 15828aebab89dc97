package chat

import (
	"time"
)

// SeparatorGap is the silence after which a message gets its own timestamp header.
const SeparatorGap = 10 * time.Minute

// Row is a message prepared for display.
type Row struct {
	Message  ChatMessage
	ShowTime bool
	Mine     bool
}

// Rows derives display rows from messages as seen by viewerID. The first message
// always shows its time; later ones only when more than SeparatorGap passed since the
// previous message. Unparseable timestamps never open a new group.
func Rows(messages []ChatMessage, viewerID string) []Row {
	rows := make([]Row, len(messages))
	for i, m := range messages {
		rows[i] = Row{
			Message: m,
			Mine:    viewerID != "" && m.SenderID == viewerID,
		}
		if i == 0 {
			rows[i].ShowTime = true
			continue
		}
		prev := messages[i-1].Timestamp
		if prev.IsZero() || m.Timestamp.IsZero() {
			continue
		}
		gap := m.Timestamp.Sub(prev)
		if gap < 0 {
			gap = -gap
		}
		rows[i].ShowTime = gap > SeparatorGap
	}
	return rows
}

// FormatTime renders the hour and minute of m in local time.
func FormatTime(m ChatMessage) string {
	if m.Timestamp.IsZero() {
		return m.RawTimestamp
	}
	return m.Timestamp.Local().Format("15:04")
}
