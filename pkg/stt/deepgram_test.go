package stt

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func speech(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func deepgramServer(t *testing.T, status int, body string, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		assert.Equal(t, "/listen", r.URL.Path)
		assert.Equal(t, "Token test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "nova-2", r.URL.Query().Get("model"))
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestDeepgram(t *testing.T, baseURL string) *Deepgram {
	t.Helper()
	dg, err := NewDeepgram(WithAPIKey("test-key"), WithBaseURL(baseURL))
	require.NoError(t, err)
	return dg
}

func TestNewDeepgramRequiresKey(t *testing.T) {
	_, err := NewDeepgram()
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestDeepgramTranscribe(t *testing.T) {
	srv := deepgramServer(t, http.StatusOK, `{
		"results": {"channels": [{"alternatives": [
			{"transcript": "  what is four plus five  ", "confidence": 0.93}
		]}]}
	}`, nil)
	dg := newTestDeepgram(t, srv.URL)

	res, err := dg.Transcribe(context.Background(), Audio{Data: speech(2048), Format: "webm"})
	require.NoError(t, err)
	assert.Equal(t, "what is four plus five", res.Text)
	assert.InDelta(t, 0.93, res.Confidence, 1e-9)
	assert.Equal(t, "deepgram", res.Provider)
}

func TestDeepgramTranscribeBase64(t *testing.T) {
	var gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		assert.Len(t, body, 1500)
		_, _ = w.Write([]byte(`{"results":{"channels":[{"alternatives":[{"transcript":"hello there","confidence":0.8}]}]}}`))
	}))
	defer srv.Close()
	dg := newTestDeepgram(t, srv.URL)

	encoded := base64.StdEncoding.EncodeToString(speech(1500))
	res, err := dg.Transcribe(context.Background(), Audio{Base64: encoded, Format: "wav"})
	require.NoError(t, err)
	assert.Equal(t, "hello there", res.Text)
	assert.Equal(t, "audio/wav", gotType)
}

func TestDeepgramRejectsSmallPayloadWithoutCalling(t *testing.T) {
	var hits atomic.Int32
	srv := deepgramServer(t, http.StatusOK, `{}`, &hits)
	dg := newTestDeepgram(t, srv.URL)

	_, err := dg.Transcribe(context.Background(), Audio{Data: speech(999)})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = dg.Transcribe(context.Background(), Audio{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	assert.Equal(t, int32(0), hits.Load())
}

func TestDeepgramFiltersHallucination(t *testing.T) {
	srv := deepgramServer(t, http.StatusOK,
		`{"results":{"channels":[{"alternatives":[{"transcript":"Thank you.","confidence":0.4}]}]}}`, nil)
	dg := newTestDeepgram(t, srv.URL)

	_, err := dg.Transcribe(context.Background(), Audio{Data: speech(4096)})
	assert.ErrorIs(t, err, ErrEmptyTranscript)
}

func TestDeepgramEmptyResults(t *testing.T) {
	srv := deepgramServer(t, http.StatusOK, `{"results":{"channels":[]}}`, nil)
	dg := newTestDeepgram(t, srv.URL)

	_, err := dg.Transcribe(context.Background(), Audio{Data: speech(4096)})
	assert.ErrorIs(t, err, ErrEmptyTranscript)
}

func TestDeepgramProviderError(t *testing.T) {
	srv := deepgramServer(t, http.StatusUnauthorized,
		`{"err_code":"INVALID_AUTH","err_msg":"Invalid credentials."}`, nil)
	dg := newTestDeepgram(t, srv.URL)

	_, err := dg.Transcribe(context.Background(), Audio{Data: speech(4096)})
	require.Error(t, err)

	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusUnauthorized, pe.StatusCode)
	assert.Equal(t, "Invalid credentials.", pe.Message)
	assert.True(t, pe.IsUnauthorized())
}

func TestDeepgramTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	dg := newTestDeepgram(t, url)
	_, err := dg.Transcribe(context.Background(), Audio{Data: speech(4096)})

	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Zero(t, pe.StatusCode)
	assert.NotNil(t, pe.Unwrap())
}

func TestMockCountsCalls(t *testing.T) {
	m := NewMock("hello world")
	res, err := m.Transcribe(context.Background(), Audio{})
	require.NoError(t, err)
	assert.Equal(t, "hello world", res.Text)
	assert.Equal(t, 1, m.Calls())
}
