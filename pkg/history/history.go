// Package history keeps a bounded, in-memory window of recent conversation
// turns. Stores are never persisted; they live as long as their session.
package history

import (
	"sync"
	"time"
)

// DefaultLimit is the number of messages a Store keeps when no limit is given.
const DefaultLimit = 10

// Role identifies who produced a message.
type Role string

const (
	// RoleUser is the caller's utterance.
	RoleUser Role = "user"

	// RoleAssistant is a generated reply.
	RoleAssistant Role = "assistant"
)

// Message is a single conversation turn. Messages are immutable once stored.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewUserMessage creates a user message stamped with the current time.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content, Timestamp: time.Now()}
}

// NewAssistantMessage creates an assistant message stamped with the current time.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content, Timestamp: time.Now()}
}

// Store is an ordered sliding window of messages, oldest first.
// It never holds more than its limit; appending past the limit evicts
// the oldest entries. Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	limit    int
	messages []Message
}

// New creates an empty Store holding at most limit messages.
// A non-positive limit uses DefaultLimit.
func New(limit int) *Store {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Store{
		limit:    limit,
		messages: make([]Message, 0, limit),
	}
}

// Append adds messages in order and trims the window back to the limit.
// All messages in one call land contiguously.
func (s *Store) Append(msgs ...Message) {
	if len(msgs) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = append(s.messages, msgs...)
	if over := len(s.messages) - s.limit; over > 0 {
		// Copy into a fresh slice so evicted messages don't pin the old array.
		kept := make([]Message, s.limit)
		copy(kept, s.messages[over:])
		s.messages = kept
	}
}

// Snapshot returns a copy of the current window, oldest first.
func (s *Store) Snapshot() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Clear empties the window.
func (s *Store) Clear() {
	s.mu.Lock()
	s.messages = s.messages[:0:0]
	s.mu.Unlock()
}

// Len returns the number of stored messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Limit returns the maximum number of messages kept.
func (s *Store) Limit() int {
	return s.limit
}
