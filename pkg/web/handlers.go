package web

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-voicerelay/pkg/auth"
	"github.com/teslashibe/go-voicerelay/pkg/history"
	"github.com/teslashibe/go-voicerelay/pkg/stt"
	"github.com/teslashibe/go-voicerelay/pkg/voice"
)

// HeaderSessionID lets a client pick its conversation explicitly.
const HeaderSessionID = "X-Session-ID"

// HeaderCorrelationID echoes the run's correlation id.
const HeaderCorrelationID = "X-Correlation-ID"

// audioRequest is the JSON body of POST /api/voice/audio
type audioRequest struct {
	Audio         string `json:"audio"` // base64 or data URL
	Format        string `json:"format"`
	Voice         string `json:"voice"`
	CorrelationID string `json:"correlationId"`
}

// audioResponse is returned by POST /api/voice/audio
type audioResponse struct {
	Transcript    string  `json:"transcript"`
	Response      string  `json:"response"`
	Confidence    float64 `json:"confidence"`
	Audio         string  `json:"audio"` // synthesis happens on the client
	Voice         string  `json:"voice,omitempty"`
	CorrelationID string  `json:"correlationId"`
}

// textRequest is the JSON body of POST /api/voice/text
type textRequest struct {
	Text          string `json:"text"`
	CorrelationID string `json:"correlationId"`
}

// textResponse is returned by POST /api/voice/text
type textResponse struct {
	Response      string `json:"response"`
	CorrelationID string `json:"correlationId"`
}

// errorResponse is the body of every failed API call
type errorResponse struct {
	Error         string `json:"error"`
	Kind          string `json:"kind,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// handleAudio transcribes and answers one recorded utterance.
// Accepts JSON {audio, format, voice} or a multipart form with an "audio" file.
func (s *Server) handleAudio(c *fiber.Ctx) error {
	req, err := parseAudioRequest(c)
	if err != nil {
		return s.badRequest(c, err.Error(), "")
	}
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}

	res, err := s.cfg.Processor.Process(c.UserContext(), voice.Request{
		Audio:         stt.Audio{Data: req.data, Base64: req.Audio, Format: req.Format},
		Voice:         req.Voice,
		CorrelationID: req.CorrelationID,
		History:       s.openHistory(c),
	})
	c.Set(HeaderCorrelationID, req.CorrelationID)
	if err != nil {
		return s.writeError(c, err, req.CorrelationID)
	}

	return c.JSON(audioResponse{
		Transcript:    res.Transcript,
		Response:      res.Response,
		Confidence:    res.Confidence,
		Audio:         "",
		Voice:         res.Voice,
		CorrelationID: res.CorrelationID,
	})
}

// parsedAudio is an audioRequest plus raw bytes from a multipart upload.
type parsedAudio struct {
	audioRequest
	data []byte
}

func parseAudioRequest(c *fiber.Ctx) (*parsedAudio, error) {
	var req parsedAudio

	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		fh, err := c.FormFile("audio")
		if err != nil {
			return nil, fiber.NewError(fiber.StatusBadRequest, "missing audio file")
		}
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		defer f.Close()

		var buf bytes.Buffer
		if _, err := io.Copy(&buf, f); err != nil {
			return nil, err
		}
		req.data = buf.Bytes()
		req.Format = c.FormValue("format")
		if req.Format == "" {
			req.Format = strings.TrimPrefix(filepath.Ext(fh.Filename), ".")
		}
		if req.Format == "" {
			req.Format = fh.Header.Get(fiber.HeaderContentType)
		}
		req.Voice = c.FormValue("voice")
		req.CorrelationID = c.FormValue("correlationId")
	} else if err := c.BodyParser(&req.audioRequest); err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "invalid JSON body")
	}

	if len(req.data) == 0 && strings.TrimSpace(req.Audio) == "" {
		return nil, fiber.NewError(fiber.StatusBadRequest, "audio is required")
	}
	return &req, nil
}

// handleText answers one typed utterance.
func (s *Server) handleText(c *fiber.Ctx) error {
	var req textRequest
	if err := c.BodyParser(&req); err != nil {
		return s.badRequest(c, "invalid JSON body", "")
	}
	if strings.TrimSpace(req.Text) == "" {
		return s.badRequest(c, "text is required", req.CorrelationID)
	}
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}

	res, err := s.cfg.Processor.Process(c.UserContext(), voice.Request{
		Text:          req.Text,
		CorrelationID: req.CorrelationID,
		History:       s.openHistory(c),
	})
	c.Set(HeaderCorrelationID, req.CorrelationID)
	if err != nil {
		return s.writeError(c, err, req.CorrelationID)
	}

	return c.JSON(textResponse{
		Response:      res.Response,
		CorrelationID: res.CorrelationID,
	})
}

// handleGetHistory returns the session's conversation, oldest first.
func (s *Server) handleGetHistory(c *fiber.Ctx) error {
	_, key := s.sessionKey(c)
	messages := []history.Message{}
	if store, ok := s.cfg.Registry.Get(key); ok {
		messages = store.Snapshot()
	}
	return c.JSON(fiber.Map{
		"sessionId": key,
		"messages":  messages,
		"count":     len(messages),
		"limit":     s.cfg.Registry.Limit(),
	})
}

// handleClearHistory forgets the session's conversation.
func (s *Server) handleClearHistory(c *fiber.Ctx) error {
	_, key := s.sessionKey(c)
	if store, ok := s.cfg.Registry.Get(key); ok {
		store.Clear()
	}
	s.cfg.Registry.Close(key)
	s.logger.Debug("history cleared", "session", key)
	return c.JSON(fiber.Map{
		"sessionId": key,
		"cleared":   true,
	})
}

// handleStats returns pipeline and relay statistics.
func (s *Server) handleStats(c *fiber.Ctx) error {
	out := fiber.Map{
		"uptime_seconds":   int64(time.Since(s.started).Seconds()),
		"history_sessions": s.cfg.Registry.Len(),
	}
	if s.cfg.Metrics != nil {
		out["pipeline"] = s.cfg.Metrics.Stats()
	}
	if s.cfg.Hub != nil {
		out["relay"] = s.cfg.Hub.GetStats()
	}
	return c.JSON(out)
}

// handleHealth reports liveness and, when configured, whether the
// generation provider answers. A failing provider degrades the status but
// keeps 200: the relay itself is still serving.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	sessions := 0
	if s.cfg.Hub != nil {
		sessions = s.cfg.Hub.SessionCount()
	}
	out := fiber.Map{
		"status":   "ok",
		"version":  s.cfg.Version,
		"sessions": sessions,
	}
	if s.health != nil {
		if err := s.health.Check(c.UserContext()); err != nil {
			out["status"] = "degraded"
			out["generation"] = "unavailable"
			out["generation_error"] = err.Error()
		} else {
			out["generation"] = "ok"
		}
	}
	return c.JSON(out)
}

// handleMetrics exposes counters in the Prometheus text format.
func (s *Server) handleMetrics(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "text/plain; version=0.0.4")

	var buf bytes.Buffer
	if s.cfg.Metrics != nil {
		if err := s.cfg.Metrics.WritePrometheus(&buf); err != nil {
			return err
		}
	}
	if s.cfg.Hub != nil {
		st := s.cfg.Hub.GetStats()
		fmt.Fprintf(&buf, "# HELP relay_sessions Connected WebSocket sessions.\n")
		fmt.Fprintf(&buf, "# TYPE relay_sessions gauge\n")
		fmt.Fprintf(&buf, "relay_sessions %d\n", st.SessionCount)
		fmt.Fprintf(&buf, "# TYPE relay_messages_received_total counter\n")
		fmt.Fprintf(&buf, "relay_messages_received_total %d\n", st.MessagesReceived)
		fmt.Fprintf(&buf, "# TYPE relay_messages_sent_total counter\n")
		fmt.Fprintf(&buf, "relay_messages_sent_total %d\n", st.MessagesSent)
		fmt.Fprintf(&buf, "# TYPE relay_runs_dropped_total counter\n")
		fmt.Fprintf(&buf, "relay_runs_dropped_total %d\n", st.RunsDropped)
	}
	return c.Send(buf.Bytes())
}

// sessionKey picks the history bucket. Each part is path-escaped, so a
// subject containing "/" can never name another subject's session. The
// escaped subject is returned as the owning group.
func (s *Server) sessionKey(c *fiber.Ctx) (group, key string) {
	group = url.PathEscape(auth.Subject(c))
	key = group
	if id := strings.TrimSpace(c.Get(HeaderSessionID)); id != "" {
		key += "/" + url.PathEscape(id)
	}
	return group, key
}

func (s *Server) openHistory(c *fiber.Ctx) *history.Store {
	group, key := s.sessionKey(c)
	return s.cfg.Registry.OpenIn(group, key, s.cfg.MaxSessionsPerSubject)
}

// upstreamError is implemented by provider errors that carry an HTTP status.
type upstreamError interface {
	error
	IsRateLimited() bool
	IsUnauthorized() bool
}

// writeError maps a pipeline error onto a status code. A rate-limited
// provider surfaces as 429 so clients can back off.
func (s *Server) writeError(c *fiber.Ctx, err error, correlationID string) error {
	kind := voice.Classify(err)
	status := StatusFor(kind)

	level := slog.LevelWarn
	var ue upstreamError
	if errors.As(err, &ue) {
		switch {
		case ue.IsRateLimited():
			status = fiber.StatusTooManyRequests
		case ue.IsUnauthorized():
			// Our provider credentials are wrong; nothing the client can fix.
			level = slog.LevelError
		}
	}
	if status >= fiber.StatusInternalServerError || status == fiber.StatusTooManyRequests {
		s.logger.Log(c.UserContext(), level, "voice request failed",
			"path", c.Path(),
			"kind", string(kind),
			"status", status,
			"correlation_id", correlationID,
			"error", err,
		)
	}
	return c.Status(status).JSON(errorResponse{
		Error:         err.Error(),
		Kind:          string(kind),
		CorrelationID: correlationID,
	})
}

func (s *Server) badRequest(c *fiber.Ctx, msg, correlationID string) error {
	return c.Status(fiber.StatusBadRequest).JSON(errorResponse{
		Error:         msg,
		Kind:          string(voice.KindInvalidInput),
		CorrelationID: correlationID,
	})
}

// StatusFor returns the HTTP status for a failure kind.
func StatusFor(kind voice.ErrorKind) int {
	switch kind {
	case voice.KindInvalidInput, voice.KindEmptyResponse:
		return fiber.StatusBadRequest
	case voice.KindEmptyTranscript:
		return fiber.StatusUnprocessableEntity
	case voice.KindTranscriptionProvider, voice.KindGenerationProvider:
		return fiber.StatusBadGateway
	case voice.KindChannelAuth:
		return fiber.StatusUnauthorized
	}
	return fiber.StatusInternalServerError
}
