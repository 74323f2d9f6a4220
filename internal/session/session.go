// Package session persists conversation sessions: who is talking, what was
// said, and when the session was last active. The flow appends one user and
// one assistant message per processed query; old sessions are purged by the
// maintenance sweep.
package session

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("session not found")

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation turn.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Session is one conversation.
type Session struct {
	ID           string    `json:"id"`
	AccountID    string    `json:"accountId"`
	Messages     []Message `json:"messages"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`
}

// MaxMessages bounds how much history a session retains; older turns are
// dropped oldest-first.
const MaxMessages = 50

// Store persists sessions.
type Store interface {
	// Get returns a session by id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Session, error)

	// Touch creates the session if absent and appends the given messages,
	// updating LastActiveAt.
	Touch(ctx context.Context, id, accountID string, msgs ...Message) error

	// PurgeIdle removes sessions whose last activity predates the cutoff.
	// Returns the number removed.
	PurgeIdle(ctx context.Context, before time.Time, limit int) (int, error)
}
