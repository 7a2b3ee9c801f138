// Package conversation models the append-only per-document message log.
package conversation

import (
	"fmt"
	"strings"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	// Human is a message written by the user.
	Human Role = "human"
	// Assistant is a message produced by the model.
	Assistant Role = "assistant"
)

// ParseRole parses a role case-insensitively. "user" is accepted as Human
// and "ai" as Assistant, the names chat APIs use for the same roles.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "human", "user":
		return Human, nil
	case "assistant", "ai":
		return Assistant, nil
	default:
		return "", fmt.Errorf("unknown message role %q", s)
	}
}

// Message is a single conversation entry.
type Message struct {
	Index     int
	Role      Role
	Content   string
	CreatedAt time.Time
}

// Log is the ordered message sequence of a document.
type Log []Message

// Append returns a new log with the message appended at len(l).
// The receiver is not modified.
func (l Log) Append(role Role, content string, now time.Time) (Log, error) {
	if role != Human && role != Assistant {
		return nil, fmt.Errorf("unknown message role %q", role)
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("message content is required")
	}

	out := make(Log, len(l), len(l)+1)
	copy(out, l)
	return append(out, Message{
		Index:     len(l),
		Role:      role,
		Content:   content,
		CreatedAt: now.UTC(),
	}), nil
}

// Clear returns an empty, non-nil log. Indices restart at 0.
func Clear() Log {
	return Log{}
}
