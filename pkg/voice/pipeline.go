package voice

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/teslashibe/go-voicerelay/pkg/history"
	"github.com/teslashibe/go-voicerelay/pkg/stt"
)

// Transcriber converts one audio payload to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio stt.Audio) (*stt.Result, error)
}

// Responder produces a reply for userText given the prior turns.
type Responder interface {
	GenerateResponse(ctx context.Context, userText string, hist []history.Message) (string, error)
}

// Request is one utterance to process. Exactly one of Audio or Text is
// used; Text wins when set.
type Request struct {
	Audio stt.Audio
	Text  string

	// Voice is the client's synthesis voice hint, echoed in the Result.
	Voice string

	CorrelationID string

	// History is the session's conversation. Nil runs without context.
	History *history.Store
}

func (r Request) hasAudio() bool {
	return len(r.Audio.Data) > 0 || strings.TrimSpace(r.Audio.Base64) != ""
}

// Result is the outcome of a completed run.
type Result struct {
	Transcript    string
	Response      string
	Confidence    float64
	Voice         string
	CorrelationID string
	State         State
	Latency       time.Duration
}

// Pipeline drives transcription and generation for one utterance at a time.
// It holds no per-run state and is safe for concurrent use.
type Pipeline struct {
	transcriber Transcriber
	responder   Responder
	cfg         Config
	logger      *slog.Logger
}

// New creates a Pipeline. transcriber may be nil when only text runs are
// expected.
func New(transcriber Transcriber, responder Responder, cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		transcriber: transcriber,
		responder:   responder,
		cfg:         cfg,
		logger:      logger.With("component", "voice"),
	}
}

// Metrics returns the collector, or nil.
func (p *Pipeline) Metrics() *MetricsCollector {
	return p.cfg.Metrics
}

// Stream runs req and returns its events. The channel is closed after the
// terminal event. The run does not block on a slow reader.
func (p *Pipeline) Stream(ctx context.Context, req Request) <-chan Event {
	// Buffered for the longest run so the producer never blocks.
	ch := make(chan Event, 5)
	go func() {
		defer close(ch)
		p.run(ctx, req, func(ev Event) { ch <- ev })
	}()
	return ch
}

// Process runs req synchronously and returns the result or the single
// classified error.
func (p *Pipeline) Process(ctx context.Context, req Request) (*Result, error) {
	res, err := p.run(ctx, req, func(Event) {})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// run executes one utterance, reporting each transition through emit.
func (p *Pipeline) run(ctx context.Context, req Request, emit func(Event)) (*Result, *Error) {
	r := &runner{
		p:     p,
		req:   req,
		emit:  emit,
		state: StateIdle,
		start: time.Now(),
	}
	if p.cfg.Metrics != nil {
		r.turn = p.cfg.Metrics.Begin()
	}

	res, err := r.execute(ctx)

	elapsed := time.Since(r.start)
	if r.turn != nil {
		kind := ErrorKind("")
		if err != nil {
			kind = err.Kind
		}
		r.turn.Done(kind)
	}
	if err != nil {
		p.logger.Warn("voice run failed",
			"correlation_id", req.CorrelationID,
			"stage", err.Stage.String(),
			"kind", string(err.Kind),
			"error", err.Err,
			"elapsed_ms", elapsed.Milliseconds(),
		)
		return nil, err
	}

	res.Latency = elapsed
	if p.cfg.SlowRun > 0 && elapsed > p.cfg.SlowRun {
		p.logger.Warn("slow voice run",
			"correlation_id", req.CorrelationID,
			"elapsed_ms", elapsed.Milliseconds(),
		)
	}
	p.logger.Debug("voice run complete",
		"correlation_id", req.CorrelationID,
		"transcript_len", len(res.Transcript),
		"response_len", len(res.Response),
		"elapsed_ms", elapsed.Milliseconds(),
	)
	return res, nil
}

// runner holds the state of a single run.
type runner struct {
	p     *Pipeline
	req   Request
	emit  func(Event)
	state State
	start time.Time
	turn  *Turn
}

func (r *runner) execute(ctx context.Context) (*Result, *Error) {
	req := r.req
	res := &Result{
		Voice:         req.Voice,
		CorrelationID: req.CorrelationID,
	}

	userText := strings.TrimSpace(req.Text)
	switch {
	case userText != "":
		// Typed input skips transcription.
	case req.hasAudio():
		if err := r.transcribe(ctx, res); err != nil {
			return nil, err
		}
		userText = res.Transcript
	default:
		return nil, r.fail(ErrNoInput)
	}

	if err := r.generate(ctx, userText, res); err != nil {
		return nil, err
	}

	r.transition(StateComplete)
	res.State = StateComplete
	r.status(StatusComplete, MessageComplete)
	return res, nil
}

func (r *runner) transcribe(ctx context.Context, res *Result) *Error {
	r.transition(StateTranscribing)
	r.status(StatusProcessing, MessageProcessing)

	if _, err := stt.Validate(r.req.Audio, r.p.cfg.MinAudioBytes); err != nil {
		return r.fail(err)
	}
	if r.p.transcriber == nil {
		return r.fail(stt.ErrNoAPIKey)
	}

	out, err := r.p.transcriber.Transcribe(ctx, r.req.Audio)
	if err != nil {
		return r.fail(err)
	}
	// Providers differ in how much cleanup they do; normalize here.
	text, err := stt.Clean(out.Text)
	if err != nil {
		return r.fail(err)
	}
	if r.turn != nil {
		r.turn.MarkTranscript()
	}

	res.Transcript = text
	res.Confidence = out.Confidence
	r.send(Event{Type: EventTranscription, Text: text})
	return nil
}

func (r *runner) generate(ctx context.Context, userText string, res *Result) *Error {
	r.transition(StateThinking)
	r.status(StatusThinking, MessageThinking)

	var prior []history.Message
	if r.req.History != nil {
		prior = r.req.History.Snapshot()
	}

	reply, err := r.p.responder.GenerateResponse(ctx, userText, prior)
	if err != nil {
		return r.fail(err)
	}
	if r.turn != nil {
		r.turn.MarkResponse()
	}

	if r.req.History != nil {
		r.req.History.Append(
			history.NewUserMessage(userText),
			history.NewAssistantMessage(reply),
		)
	}

	res.Response = reply
	r.send(Event{Type: EventResponse, Text: reply})
	return nil
}

// transition moves the run to next. Illegal transitions are programming
// errors in this file.
func (r *runner) transition(next State) {
	if !r.state.CanTransition(next) {
		panic("voice: illegal transition " + r.state.String() + " -> " + next.String())
	}
	r.state = next
}

// fail moves the run to Failed and emits its single error event.
func (r *runner) fail(err error) *Error {
	ve := classifyStage(r.state, err)
	r.transition(StateFailed)
	r.send(Event{Type: EventError, Err: ve, Message: ve.Error()})
	return ve
}

func (r *runner) status(s Status, msg string) {
	r.send(Event{Type: EventStatus, Status: s, Message: msg})
}

func (r *runner) send(ev Event) {
	ev.CorrelationID = r.req.CorrelationID
	ev.Time = time.Now()
	r.emit(ev)
}
