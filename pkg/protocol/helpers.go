package protocol

import "time"

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewAudioMessage creates a voice:audio message from base64 audio
func NewAudioMessage(b64, format, voice string) (*Message, error) {
	return NewMessage(TypeAudio, AudioData{
		Data:      AudioPayload{Base64: b64},
		Voice:     voice,
		Format:    format,
		Timestamp: time.Now().UnixMilli(),
	})
}

// NewTextMessage creates a voice:text message carrying a typed utterance
func NewTextMessage(text string) (*Message, error) {
	return NewMessage(TypeText, TextData{
		Data:      text,
		Timestamp: time.Now().UnixMilli(),
	})
}

// NewControlMessage creates a voice:control message
func NewControlMessage(action ControlAction) (*Message, error) {
	return NewMessage(TypeControl, ControlData{
		Data:      action,
		Timestamp: time.Now().UnixMilli(),
	})
}

// NewConnectedMessage creates the voice:connected greeting
func NewConnectedMessage(message string) (*Message, error) {
	return NewMessage(TypeConnected, StatusData{
		Status:    StatusConnected,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	})
}

// NewStatusMessage creates a voice:status message
func NewStatusMessage(status, message string) (*Message, error) {
	return NewMessage(TypeStatus, StatusData{
		Status:    status,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	})
}

// NewTextEventMessage creates a voice:text event sent to the client
func NewTextEventMessage(kind TextKind, text string) (*Message, error) {
	return NewMessage(TypeText, TextEvent{
		Type:      kind,
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
	})
}

// NewErrorMessage creates a voice:error message
func NewErrorMessage(errMsg string) (*Message, error) {
	return NewMessage(TypeError, ErrorData{
		Error:     errMsg,
		Timestamp: time.Now().UnixMilli(),
	})
}

// NewPingMessage creates a ping message
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{
		ID:        id,
		Timestamp: time.Now().UnixMilli(),
	})
}

// NewPongMessage creates a pong response message
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// =============================================================================
// Helper functions for parsing messages
// =============================================================================

// GetAudioData extracts audio data from a message
func (m *Message) GetAudioData() (*AudioData, error) {
	var data AudioData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetTextData extracts a typed utterance from a message
func (m *Message) GetTextData() (*TextData, error) {
	var data TextData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetControlData extracts a control request from a message
func (m *Message) GetControlData() (*ControlData, error) {
	var data ControlData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetStatusData extracts status data from a voice:status or voice:connected message
func (m *Message) GetStatusData() (*StatusData, error) {
	var data StatusData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetTextEvent extracts a transcription or response event from a message
func (m *Message) GetTextEvent() (*TextEvent, error) {
	var data TextEvent
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetErrorData extracts error data from a message
func (m *Message) GetErrorData() (*ErrorData, error) {
	var data ErrorData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPingData extracts ping data from a message
func (m *Message) GetPingData() (*PingData, error) {
	var data PingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPongData extracts pong data from a message
func (m *Message) GetPongData() (*PongData, error) {
	var data PongData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
