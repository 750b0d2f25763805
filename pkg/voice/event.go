package voice

import "time"

// EventType names a pipeline event.
type EventType string

const (
	EventStatus        EventType = "status"
	EventTranscription EventType = "text:transcription"
	EventResponse      EventType = "text:response"
	EventError         EventType = "error"
)

// Status values carried by EventStatus.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusThinking   Status = "thinking"
	StatusComplete   Status = "complete"
)

// Event is one observable step of a run.
type Event struct {
	Type EventType

	// Status and Message are set on EventStatus.
	Status  Status
	Message string

	// Text is set on EventTranscription and EventResponse.
	Text string

	// Err is set on EventError; Message then holds Err.Error().
	Err *Error

	CorrelationID string
	Time          time.Time
}

// Name returns the event's short form, e.g. "status:thinking" or
// "text:response".
func (e Event) Name() string {
	if e.Type == EventStatus {
		return "status:" + string(e.Status)
	}
	return string(e.Type)
}

// Terminal reports whether no event follows this one.
func (e Event) Terminal() bool {
	return e.Type == EventError || (e.Type == EventStatus && e.Status == StatusComplete)
}
