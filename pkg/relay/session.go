package relay

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/teslashibe/go-voicerelay/pkg/history"
	"github.com/teslashibe/go-voicerelay/pkg/protocol"
)

// Session is one authenticated voice connection.
type Session struct {
	ID        string
	Subject   string
	Conn      *websocket.Conn
	Connected time.Time
	History   *history.Store

	writeMu sync.Mutex // serializes socket writes

	mu       sync.Mutex // guards the fields below
	lastSeen time.Time
	status   string
	muted    bool

	closed atomic.Bool
	sent   *atomic.Uint64
}

// Send writes msg to the client. Sends after Close are silently dropped,
// so late pipeline events never fail a run.
func (s *Session) Send(msg *protocol.Message) error {
	if s.closed.Load() {
		return nil
	}

	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed.Load() {
		return nil
	}
	if err := s.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	if s.sent != nil {
		s.sent.Add(1)
	}
	return nil
}

// Close marks the session closed. It does not close the socket.
func (s *Session) Close() {
	s.closed.Store(true)
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

func (s *Session) setStatus(status string) {
	s.mu.Lock()
	s.status = status
	switch status {
	case protocol.StatusMuted:
		s.muted = true
	case protocol.StatusUnmuted:
		s.muted = false
	}
	s.mu.Unlock()
}

// SessionInfo contains info about a connected session
type SessionInfo struct {
	ID        string    `json:"id"`
	Subject   string    `json:"subject"`
	Connected time.Time `json:"connected"`
	LastSeen  time.Time `json:"last_seen"`
	Status    string    `json:"status"`
	Muted     bool      `json:"muted"`
	Turns     int       `json:"history_messages"`
}

// Info returns a snapshot of the session.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	info := SessionInfo{
		ID:        s.ID,
		Subject:   s.Subject,
		Connected: s.Connected,
		LastSeen:  s.lastSeen,
		Status:    s.status,
		Muted:     s.muted,
	}
	s.mu.Unlock()
	if s.History != nil {
		info.Turns = s.History.Len()
	}
	return info
}
