// Package relay serves the streaming voice surface over WebSocket.
//
// Each authenticated connection gets its own session and conversation
// history. Audio and text messages are queued and run through the voice
// pipeline one at a time, in arrival order; control messages and pings are
// answered immediately.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-voicerelay/pkg/auth"
	"github.com/teslashibe/go-voicerelay/pkg/history"
	"github.com/teslashibe/go-voicerelay/pkg/protocol"
	"github.com/teslashibe/go-voicerelay/pkg/stt"
	"github.com/teslashibe/go-voicerelay/pkg/voice"
)

// DefaultQueueSize bounds the runs waiting behind the active one.
const DefaultQueueSize = 8

// ConnectedMessage is sent with voice:connected.
const ConnectedMessage = "Voice relay ready"

const localsSubject = "relay.subject"

// Errors reported to clients as voice:error.
var (
	ErrBusy          = errors.New("too many pending requests, try again shortly")
	ErrBadMessage    = errors.New("invalid message")
	ErrUnknownType   = errors.New("unknown message type")
	ErrUnknownAction = errors.New("unknown control action")
)

// Runner is the part of voice.Pipeline the hub drives.
type Runner interface {
	Stream(ctx context.Context, req voice.Request) <-chan voice.Event
}

// Config configures a Hub.
type Config struct {
	Pipeline Runner
	Verifier *auth.Verifier

	// Registry holds per-connection history. Defaults to a fresh registry
	// with history.DefaultLimit.
	Registry *history.Registry

	// QueueSize defaults to DefaultQueueSize.
	QueueSize int

	Logger *slog.Logger
}

// run is one queued pipeline invocation.
type run struct {
	req voice.Request
}

// Hub manages voice WebSocket sessions
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	pipeline  Runner
	verifier  *auth.Verifier
	registry  *history.Registry
	queueSize int
	logger    *slog.Logger

	// Stats
	messagesReceived atomic.Uint64
	messagesSent     atomic.Uint64
	runsStarted      atomic.Uint64
	runsDropped      atomic.Uint64
}

// NewHub creates a new voice hub
func NewHub(cfg Config) *Hub {
	if cfg.Registry == nil {
		cfg.Registry = history.NewRegistry(history.DefaultLimit)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		sessions:  make(map[string]*Session),
		pipeline:  cfg.Pipeline,
		verifier:  cfg.Verifier,
		registry:  cfg.Registry,
		queueSize: cfg.QueueSize,
		logger:    logger.With("component", "relay"),
	}
}

// RegisterRoutes registers WebSocket routes on a Fiber app
func (h *Hub) RegisterRoutes(app *fiber.App) {
	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	// Credentials are checked before the upgrade so bad tokens get a 401.
	app.Use("/ws", auth.Middleware(h.verifier, true, h.logger))
	app.Use("/ws", func(c *fiber.Ctx) error {
		c.Locals(localsSubject, auth.Subject(c))
		return c.Next()
	})

	app.Get("/ws/voice", websocket.New(h.handleVoice))
}

// handleVoice handles one client connection
func (h *Hub) handleVoice(c *websocket.Conn) {
	subject, _ := c.Locals(localsSubject).(string)
	id := uuid.NewString()
	now := time.Now()

	session := &Session{
		ID:        id,
		Subject:   subject,
		Conn:      c,
		Connected: now,
		History:   h.registry.Open(id),
		lastSeen:  now,
		status:    protocol.StatusConnected,
		sent:      &h.messagesSent,
	}

	h.mu.Lock()
	h.sessions[id] = session
	count := len(h.sessions)
	h.mu.Unlock()

	logger := h.logger.With("session", id, "subject", subject)
	logger.Info("session connected", "sessions", count)

	runs := make(chan run, h.queueSize)
	done := make(chan struct{})
	go h.worker(session, runs, done, logger)

	defer func() {
		session.Close()
		close(runs)
		// The conn is recycled once this handler returns; wait for the
		// in-flight run so it never writes to a reused socket.
		<-done

		h.mu.Lock()
		delete(h.sessions, id)
		count := len(h.sessions)
		h.mu.Unlock()
		h.registry.Close(id)

		logger.Info("session disconnected",
			"sessions", count,
			"duration", time.Since(now).Round(time.Millisecond).String(),
		)
	}()

	if msg, err := protocol.NewConnectedMessage(ConnectedMessage); err == nil {
		if err := session.Send(msg); err != nil {
			logger.Warn("send connected failed", "error", err)
			return
		}
	}

	// Read loop
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("read error", "error", err)
			}
			return
		}

		session.touch()
		h.messagesReceived.Add(1)
		h.handleMessage(session, runs, data, logger)
	}
}

// handleMessage processes an incoming message from a client
func (h *Hub) handleMessage(s *Session, runs chan<- run, data []byte, logger *slog.Logger) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		logger.Debug("parse error", "error", err)
		h.sendError(s, ErrBadMessage.Error())
		return
	}

	switch msg.Type {
	case protocol.TypeAudio:
		audio, err := msg.GetAudioData()
		if err != nil {
			h.sendError(s, ErrBadMessage.Error()+": "+err.Error())
			return
		}
		h.enqueue(s, runs, voice.Request{
			Audio: stt.Audio{
				Data:   audio.Data.Raw,
				Base64: audio.Data.Base64,
				Format: audio.Format,
			},
			Voice:         audio.Voice,
			CorrelationID: uuid.NewString(),
			History:       s.History,
		}, logger)

	case protocol.TypeText:
		text, err := msg.GetTextData()
		if err != nil {
			h.sendError(s, ErrBadMessage.Error()+": "+err.Error())
			return
		}
		if strings.TrimSpace(text.Data) == "" {
			h.sendError(s, voice.KindInvalidInput.Message()+": empty text")
			return
		}
		h.enqueue(s, runs, voice.Request{
			Text:          text.Data,
			CorrelationID: uuid.NewString(),
			History:       s.History,
		}, logger)

	case protocol.TypeControl:
		ctrl, err := msg.GetControlData()
		if err != nil {
			h.sendError(s, ErrBadMessage.Error()+": "+err.Error())
			return
		}
		h.handleControl(s, ctrl.Data, logger)

	case protocol.TypePing:
		ping, err := msg.GetPingData()
		if err != nil {
			h.sendError(s, ErrBadMessage.Error()+": "+err.Error())
			return
		}
		if pong, err := protocol.NewPongMessage(ping.ID, msg.Timestamp, time.Now().UnixMilli()); err == nil {
			s.Send(pong)
		}

	default:
		logger.Debug("unknown message type", "type", string(msg.Type))
		h.sendError(s, ErrUnknownType.Error()+": "+string(msg.Type))
	}
}

// handleControl echoes the status for a control action. It never touches
// the pipeline or history.
func (h *Hub) handleControl(s *Session, action protocol.ControlAction, logger *slog.Logger) {
	status, ok := action.Status()
	if !ok {
		h.sendError(s, ErrUnknownAction.Error()+": "+string(action))
		return
	}

	s.setStatus(status)
	logger.Debug("control", "action", string(action), "status", status)

	msg, err := protocol.NewStatusMessage(status, controlMessage(action))
	if err != nil {
		return
	}
	s.Send(msg)
}

func controlMessage(action protocol.ControlAction) string {
	switch action {
	case protocol.ControlStart:
		return "Listening..."
	case protocol.ControlStop:
		return "Stopped listening"
	case protocol.ControlMute:
		return "Microphone muted"
	case protocol.ControlUnmute:
		return "Microphone unmuted"
	}
	return ""
}

// enqueue hands req to the session worker without blocking the reader.
func (h *Hub) enqueue(s *Session, runs chan<- run, req voice.Request, logger *slog.Logger) {
	select {
	case runs <- run{req: req}:
	default:
		h.runsDropped.Add(1)
		logger.Warn("run queue full, dropping request", "correlation_id", req.CorrelationID)
		h.sendError(s, ErrBusy.Error())
	}
}

// worker runs queued requests one at a time so a session's runs never
// interleave. Runs still queued when the session closes are skipped.
func (h *Hub) worker(s *Session, runs <-chan run, done chan<- struct{}, logger *slog.Logger) {
	defer close(done)

	for r := range runs {
		if s.Closed() {
			h.runsDropped.Add(1)
			continue
		}
		h.runsStarted.Add(1)

		// Provider calls are not cancelled by a disconnect; their events
		// are simply dropped by Send.
		for ev := range h.pipeline.Stream(context.Background(), r.req) {
			msg, err := eventMessage(ev)
			if err != nil {
				logger.Error("encode event", "event", ev.Name(), "error", err)
				continue
			}
			if ev.Type == voice.EventStatus {
				s.setStatus(string(ev.Status))
			}
			if err := s.Send(msg); err != nil {
				logger.Debug("send failed", "event", ev.Name(), "error", err)
			}
		}
	}
}

// eventMessage frames a pipeline event for the wire.
func eventMessage(ev voice.Event) (*protocol.Message, error) {
	switch ev.Type {
	case voice.EventStatus:
		return protocol.NewStatusMessage(string(ev.Status), ev.Message)
	case voice.EventTranscription:
		return protocol.NewTextEventMessage(protocol.TextTranscription, ev.Text)
	case voice.EventResponse:
		return protocol.NewTextEventMessage(protocol.TextResponse, ev.Text)
	default:
		return protocol.NewErrorMessage(ev.Message)
	}
}

func (h *Hub) sendError(s *Session, text string) {
	msg, err := protocol.NewErrorMessage(text)
	if err != nil {
		return
	}
	s.Send(msg)
}

// GetSession returns a session by ID
func (h *Hub) GetSession(id string) *Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sessions[id]
}

// SessionCount returns the number of connected sessions
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// SessionInfos returns info about all connected sessions, oldest first.
func (h *Hub) SessionInfos() []SessionInfo {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Connected.Before(infos[j].Connected)
	})
	return infos
}

// Stats contains hub statistics
type Stats struct {
	SessionCount     int    `json:"session_count"`
	MessagesReceived uint64 `json:"messages_received"`
	MessagesSent     uint64 `json:"messages_sent"`
	RunsStarted      uint64 `json:"runs_started"`
	RunsDropped      uint64 `json:"runs_dropped"`
}

// GetStats returns hub statistics
func (h *Hub) GetStats() Stats {
	return Stats{
		SessionCount:     h.SessionCount(),
		MessagesReceived: h.messagesReceived.Load(),
		MessagesSent:     h.messagesSent.Load(),
		RunsStarted:      h.runsStarted.Load(),
		RunsDropped:      h.runsDropped.Load(),
	}
}

// RegisterAPIRoutes registers session inspection routes
func (h *Hub) RegisterAPIRoutes(api fiber.Router) {
	api.Get("/voice/sessions", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"sessions": h.SessionInfos(),
			"count":    h.SessionCount(),
			"stats":    h.GetStats(),
		})
	})
}
