package voice

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// historySize is how many finished runs are kept for averaging.
const historySize = 100

// Metrics tracks latency at each stage of one run.
// All durations are measured from the moment the run started.
type Metrics struct {
	// Timestamps for key events
	StartTime      time.Time // When the run was accepted
	TranscriptTime time.Time // When transcription completed
	ResponseTime   time.Time // When generation completed
	DoneTime       time.Time // When the run reached a terminal state

	// Computed latencies
	ASRLatency   time.Duration // Start to transcript
	LLMLatency   time.Duration // Transcript (or start, for text runs) to response
	TotalLatency time.Duration // Start to done

	// Failure kind, empty on success
	Failure ErrorKind
}

// Stats is a point-in-time summary of all runs.
type Stats struct {
	Runs      int64               `json:"runs"`
	Completed int64               `json:"completed"`
	Failed    int64               `json:"failed"`
	InFlight  int64               `json:"in_flight"`
	Failures  map[ErrorKind]int64 `json:"failures"`
	Last      Metrics             `json:"-"`
	Average   Metrics             `json:"-"`

	// Millisecond views for JSON consumers
	AvgASRMs   int64 `json:"avg_asr_ms"`
	AvgLLMMs   int64 `json:"avg_llm_ms"`
	AvgTotalMs int64 `json:"avg_total_ms"`
}

// MetricsCollector collects latency metrics across runs.
// It is goroutine-safe; each run records into its own Turn.
type MetricsCollector struct {
	mu        sync.Mutex
	runs      int64
	completed int64
	failed    int64
	inFlight  int64
	failures  map[ErrorKind]int64
	last      Metrics
	history   []Metrics // Recent runs for averaging

	// Callbacks for metrics updates
	onUpdate func(Metrics)
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		failures: make(map[ErrorKind]int64),
		history:  make([]Metrics, 0, historySize),
	}
}

// OnUpdate sets a callback that fires whenever a run finishes.
func (m *MetricsCollector) OnUpdate(fn func(Metrics)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUpdate = fn
}

// Begin starts timing a run.
// This is the reference point for all latency measurements.
func (m *MetricsCollector) Begin() *Turn {
	m.mu.Lock()
	m.runs++
	m.inFlight++
	m.mu.Unlock()

	return &Turn{c: m, cur: Metrics{StartTime: time.Now()}}
}

// finish archives a finished turn.
func (m *MetricsCollector) finish(t Metrics) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.inFlight--
	if t.Failure != "" {
		m.failed++
		m.failures[t.Failure]++
	} else {
		m.completed++
		// Only successful runs feed the latency averages
		m.history = append(m.history, t)
		if len(m.history) > historySize {
			m.history = m.history[1:]
		}
	}
	m.last = t
	m.notify(t)
}

// Last returns the most recently finished run.
func (m *MetricsCollector) Last() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Average returns average metrics over recent successful runs.
func (m *MetricsCollector) Average() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.average()
}

func (m *MetricsCollector) average() Metrics {
	if len(m.history) == 0 {
		return Metrics{}
	}

	var avg Metrics
	for _, h := range m.history {
		avg.ASRLatency += h.ASRLatency
		avg.LLMLatency += h.LLMLatency
		avg.TotalLatency += h.TotalLatency
	}

	n := time.Duration(len(m.history))
	avg.ASRLatency /= n
	avg.LLMLatency /= n
	avg.TotalLatency /= n

	return avg
}

// Stats returns counters and averages.
func (m *MetricsCollector) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	failures := make(map[ErrorKind]int64, len(m.failures))
	for k, v := range m.failures {
		failures[k] = v
	}
	avg := m.average()
	return Stats{
		Runs:       m.runs,
		Completed:  m.completed,
		Failed:     m.failed,
		InFlight:   m.inFlight,
		Failures:   failures,
		Last:       m.last,
		Average:    avg,
		AvgASRMs:   avg.ASRLatency.Milliseconds(),
		AvgLLMMs:   avg.LLMLatency.Milliseconds(),
		AvgTotalMs: avg.TotalLatency.Milliseconds(),
	}
}

// WritePrometheus writes the counters and averages in the Prometheus text
// exposition format.
func (m *MetricsCollector) WritePrometheus(w io.Writer) error {
	s := m.Stats()

	lines := []string{
		"# HELP voice_runs_total Pipeline runs started.",
		"# TYPE voice_runs_total counter",
		fmt.Sprintf("voice_runs_total %d", s.Runs),
		"# HELP voice_runs_completed_total Pipeline runs that completed.",
		"# TYPE voice_runs_completed_total counter",
		fmt.Sprintf("voice_runs_completed_total %d", s.Completed),
		"# HELP voice_runs_in_flight Pipeline runs in progress.",
		"# TYPE voice_runs_in_flight gauge",
		fmt.Sprintf("voice_runs_in_flight %d", s.InFlight),
		"# HELP voice_run_failures_total Pipeline runs that failed, by kind.",
		"# TYPE voice_run_failures_total counter",
	}
	for _, k := range Kinds {
		lines = append(lines, fmt.Sprintf("voice_run_failures_total{kind=%q} %d", string(k), s.Failures[k]))
	}
	lines = append(lines,
		"# HELP voice_stage_latency_seconds Average latency of recent successful runs, by stage.",
		"# TYPE voice_stage_latency_seconds gauge",
		fmt.Sprintf("voice_stage_latency_seconds{stage=\"asr\"} %g", s.Average.ASRLatency.Seconds()),
		fmt.Sprintf("voice_stage_latency_seconds{stage=\"llm\"} %g", s.Average.LLMLatency.Seconds()),
		fmt.Sprintf("voice_stage_latency_seconds{stage=\"total\"} %g", s.Average.TotalLatency.Seconds()),
	)

	for _, l := range lines {
		if _, err := io.WriteString(w, l+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// notify calls the update callback if set.
// Must be called with mutex held.
func (m *MetricsCollector) notify(t Metrics) {
	if m.onUpdate != nil {
		go m.onUpdate(t)
	}
}

// Turn records the timings of a single run.
// A Turn is used by one goroutine only.
type Turn struct {
	c   *MetricsCollector
	cur Metrics
}

// MarkTranscript records when transcription completed.
func (t *Turn) MarkTranscript() {
	t.cur.TranscriptTime = time.Now()
	t.cur.ASRLatency = t.cur.TranscriptTime.Sub(t.cur.StartTime)
}

// MarkResponse records when generation completed.
func (t *Turn) MarkResponse() {
	t.cur.ResponseTime = time.Now()
	from := t.cur.StartTime
	if !t.cur.TranscriptTime.IsZero() {
		from = t.cur.TranscriptTime
	}
	t.cur.LLMLatency = t.cur.ResponseTime.Sub(from)
}

// Done archives the turn. kind is empty for a successful run.
func (t *Turn) Done(kind ErrorKind) {
	t.cur.DoneTime = time.Now()
	t.cur.TotalLatency = t.cur.DoneTime.Sub(t.cur.StartTime)
	t.cur.Failure = kind
	t.c.finish(t.cur)
}

// FormatLatency returns a formatted string of the run's latencies.
func (m *Metrics) FormatLatency() string {
	return formatDuration(m.ASRLatency) + " ASR | " +
		formatDuration(m.LLMLatency) + " LLM | " +
		formatDuration(m.TotalLatency) + " TOTAL"
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "---ms"
	}
	return d.Round(time.Millisecond).String()
}
