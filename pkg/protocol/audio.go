package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrBadAudio is returned when an audio payload is neither a string nor a
// byte array.
var ErrBadAudio = errors.New("protocol: audio data must be a base64 string or byte array")

// AudioPayload holds audio exactly as the client sent it: either a base64
// string or raw bytes. Decoding base64 is left to the transcriber.
type AudioPayload struct {
	Base64 string
	Raw    []byte
}

// Empty reports whether no audio was sent.
func (a AudioPayload) Empty() bool {
	return a.Base64 == "" && len(a.Raw) == 0
}

// MarshalJSON encodes raw bytes as a number array and base64 as a string.
func (a AudioPayload) MarshalJSON() ([]byte, error) {
	if a.Raw != nil {
		ints := make([]int, len(a.Raw))
		for i, b := range a.Raw {
			ints[i] = int(b)
		}
		return json.Marshal(ints)
	}
	return json.Marshal(a.Base64)
}

// UnmarshalJSON accepts a base64 string, an array of byte values, or a
// serialized Node Buffer ({"type":"Buffer","data":[...]}).
func (a *AudioPayload) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*a = AudioPayload{}

	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	switch data[0] {
	case '"':
		return json.Unmarshal(data, &a.Base64)
	case '[':
		raw, err := decodeByteArray(data)
		if err != nil {
			return err
		}
		a.Raw = raw
		return nil
	case '{':
		var buf struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(data, &buf); err != nil {
			return fmt.Errorf("%w: %v", ErrBadAudio, err)
		}
		if buf.Type != "Buffer" || len(buf.Data) == 0 {
			return ErrBadAudio
		}
		raw, err := decodeByteArray(buf.Data)
		if err != nil {
			return err
		}
		a.Raw = raw
		return nil
	}
	return ErrBadAudio
}

func decodeByteArray(data []byte) ([]byte, error) {
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadAudio, err)
	}
	raw := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("%w: value %d out of byte range", ErrBadAudio, v)
		}
		raw[i] = byte(v)
	}
	return raw, nil
}
