package web

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-voicerelay/pkg/auth"
	"github.com/teslashibe/go-voicerelay/pkg/history"
	"github.com/teslashibe/go-voicerelay/pkg/inference"
	"github.com/teslashibe/go-voicerelay/pkg/relay"
	"github.com/teslashibe/go-voicerelay/pkg/stt"
	"github.com/teslashibe/go-voicerelay/pkg/voice"
)

type testServer struct {
	app      *fiber.App
	verifier *auth.Verifier
	llm      *inference.Mock
	registry *history.Registry
}

func newTestServer(t *testing.T, tr voice.Transcriber, llm *inference.Mock) *testServer {
	t.Helper()

	verifier, err := auth.NewVerifier("web-test-secret")
	require.NoError(t, err)

	metrics := voice.NewMetricsCollector()
	pipeline := voice.New(tr, inference.NewGenerator(llm, inference.GeneratorConfig{}), voice.Config{Metrics: metrics})
	registry := history.NewRegistry(history.DefaultLimit)

	srv := NewServer(Config{
		Processor: pipeline,
		Verifier:  verifier,
		Registry:  registry,
		Hub:       relay.NewHub(relay.Config{Pipeline: pipeline, Verifier: verifier}),
		Metrics:   metrics,
		Version:   "test",
	})
	return &testServer{app: srv.App(), verifier: verifier, llm: llm, registry: registry}
}

func (ts *testServer) token(t *testing.T, subject string) string {
	t.Helper()
	tok, err := ts.verifier.Issue(subject, time.Hour)
	require.NoError(t, err)
	return tok
}

func (ts *testServer) do(t *testing.T, method, path, token string, body interface{}, header ...string) (int, map[string]interface{}) {
	t.Helper()

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	return ts.send(t, req)
}

func (ts *testServer) send(t *testing.T, req *http.Request) (int, map[string]interface{}) {
	t.Helper()
	resp, err := ts.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]interface{}{}
	data, _ := io.ReadAll(resp.Body)
	if len(data) > 0 {
		_ = json.Unmarshal(data, &out)
	}
	return resp.StatusCode, out
}

func audioB64() string {
	return base64.StdEncoding.EncodeToString(make([]byte, 2048))
}

func TestAPIRequiresAuth(t *testing.T) {
	ts := newTestServer(t, stt.NewMock("hello there"), inference.NewMock())

	for _, path := range []string{"/api/voice/history", "/api/voice/stats", "/api/voice/sessions"} {
		status, body := ts.do(t, "GET", path, "", nil)
		assert.Equal(t, fiber.StatusUnauthorized, status, path)
		assert.Equal(t, "unauthorized", body["error"])
	}

	status, _ := ts.do(t, "POST", "/api/voice/text", "garbage", map[string]string{"text": "hi"})
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Zero(t, ts.llm.CallCount("Chat"))
}

func TestAudioEndpoint(t *testing.T) {
	ts := newTestServer(t, stt.NewMock("hello there"), inference.Replying("Hi! Nice to hear you."))
	tok := ts.token(t, "alice")

	status, body := ts.do(t, "POST", "/api/voice/audio", tok, map[string]string{
		"audio":         audioB64(),
		"format":        "webm",
		"voice":         "Samantha",
		"correlationId": "req-1",
	})
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, "hello there", body["transcript"])
	assert.Equal(t, "Hi! Nice to hear you.", body["response"])
	assert.Equal(t, "", body["audio"])
	assert.Equal(t, "Samantha", body["voice"])
	assert.Equal(t, "req-1", body["correlationId"])

	status, body = ts.do(t, "GET", "/api/voice/history", tok, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "alice", body["sessionId"])
	assert.EqualValues(t, 2, body["count"])
}

func TestAudioMultipartUpload(t *testing.T) {
	var gotFormat string
	tr := stt.NewMock("uploaded speech")
	tr.TranscribeFunc = func(_ context.Context, a stt.Audio) (*stt.Result, error) {
		gotFormat = a.Format
		return &stt.Result{Text: "uploaded speech"}, nil
	}
	ts := newTestServer(t, tr, inference.Replying("ok"))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("audio", "clip.wav")
	require.NoError(t, err)
	_, err = fw.Write(make([]byte, 2048))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("voice", "Alex"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/api/voice/audio", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+ts.token(t, "bob"))

	status, body := ts.send(t, req)
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, "uploaded speech", body["transcript"])
	assert.Equal(t, "Alex", body["voice"])
	assert.Equal(t, "wav", gotFormat)
}

func TestAudioEndpointErrors(t *testing.T) {
	tests := []struct {
		name     string
		tr       voice.Transcriber
		llm      *inference.Mock
		body     interface{}
		status   int
		kind     string
		contains string
	}{
		{
			name:   "missing audio",
			tr:     stt.NewMock("x"),
			llm:    inference.NewMock(),
			body:   map[string]string{"format": "webm"},
			status: fiber.StatusBadRequest,
			kind:   "invalid_input",
		},
		{
			name:     "provider failure",
			tr:       stt.WithError(&stt.ProviderError{Provider: "deepgram", StatusCode: 401, Message: "Invalid credentials."}),
			llm:      inference.NewMock(),
			body:     map[string]string{"audio": audioB64()},
			status:   fiber.StatusBadGateway,
			kind:     "transcription_provider",
			contains: "Invalid credentials.",
		},
		{
			name:   "no speech",
			tr:     stt.NewMock("Thank you."),
			llm:    inference.NewMock(),
			body:   map[string]string{"audio": audioB64()},
			status: fiber.StatusUnprocessableEntity,
			kind:   "empty_transcript",
		},
		{
			name:     "generation failure",
			tr:       stt.NewMock("what's the weather"),
			llm:      inference.WithError(&inference.APIError{StatusCode: 500, Message: "internal", Provider: "gemini"}),
			body:     map[string]string{"audio": audioB64()},
			status:   fiber.StatusBadGateway,
			kind:     "generation_provider",
			contains: "internal",
		},
		{
			name:     "transcription rate limited",
			tr:       stt.WithError(&stt.ProviderError{Provider: "deepgram", StatusCode: 429, Message: "slow down"}),
			llm:      inference.NewMock(),
			body:     map[string]string{"audio": audioB64()},
			status:   fiber.StatusTooManyRequests,
			kind:     "transcription_provider",
			contains: "slow down",
		},
		{
			name:     "generation rate limited",
			tr:       stt.NewMock("what's the weather"),
			llm:      inference.WithError(&inference.APIError{StatusCode: 429, Message: "quota exceeded", Provider: "gemini"}),
			body:     map[string]string{"audio": audioB64()},
			status:   fiber.StatusTooManyRequests,
			kind:     "generation_provider",
			contains: "quota exceeded",
		},
		{
			name:   "empty response",
			tr:     stt.NewMock("what's the weather"),
			llm:    inference.Replying(""),
			body:   map[string]string{"audio": audioB64()},
			status: fiber.StatusBadRequest,
			kind:   "empty_response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, tt.tr, tt.llm)
			tok := ts.token(t, "carol")

			status, body := ts.do(t, "POST", "/api/voice/audio", tok, tt.body)
			assert.Equal(t, tt.status, status, body)
			assert.Equal(t, tt.kind, body["kind"])
			if tt.contains != "" {
				assert.Contains(t, body["error"], tt.contains)
			}

			_, hist := ts.do(t, "GET", "/api/voice/history", tok, nil)
			assert.EqualValues(t, 0, hist["count"])
		})
	}
}

func TestTextEndpointAndHistory(t *testing.T) {
	ts := newTestServer(t, nil, inference.Replying("Sure."))
	tok := ts.token(t, "dave")

	status, body := ts.do(t, "POST", "/api/voice/text", tok, map[string]string{"text": "tell me a joke"})
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, "Sure.", body["response"])
	assert.NotEmpty(t, body["correlationId"])

	status, body = ts.do(t, "POST", "/api/voice/text", tok, map[string]string{"text": "  "})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "invalid_input", body["kind"])

	_, body = ts.do(t, "GET", "/api/voice/history", tok, nil)
	msgs, ok := body["messages"].([]interface{})
	require.True(t, ok)
	require.Len(t, msgs, 2)
	first := msgs[0].(map[string]interface{})
	assert.Equal(t, "user", first["role"])
	assert.Equal(t, "tell me a joke", first["content"])

	status, body = ts.do(t, "DELETE", "/api/voice/history", tok, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["cleared"])

	_, body = ts.do(t, "GET", "/api/voice/history", tok, nil)
	assert.EqualValues(t, 0, body["count"])
}

func TestHistoryIsPerSession(t *testing.T) {
	ts := newTestServer(t, nil, inference.Replying("noted"))
	alice := ts.token(t, "alice")
	bob := ts.token(t, "bob")

	ts.do(t, "POST", "/api/voice/text", alice, map[string]string{"text": "my name is alice"})
	ts.do(t, "POST", "/api/voice/text", alice, map[string]string{"text": "in another tab"}, HeaderSessionID, "tab-2")

	_, body := ts.do(t, "GET", "/api/voice/history", alice, nil)
	assert.EqualValues(t, 2, body["count"])

	_, body = ts.do(t, "GET", "/api/voice/history", alice, nil, HeaderSessionID, "tab-2")
	assert.EqualValues(t, 2, body["count"])
	assert.Equal(t, "alice/tab-2", body["sessionId"])

	_, body = ts.do(t, "GET", "/api/voice/history", bob, nil)
	assert.EqualValues(t, 0, body["count"])

	// bob cannot reach alice's tab by naming it
	_, body = ts.do(t, "GET", "/api/voice/history", bob, nil, HeaderSessionID, "tab-2")
	assert.EqualValues(t, 0, body["count"])
}

func TestHistoryKeysDoNotCollideAcrossSubjects(t *testing.T) {
	ts := newTestServer(t, nil, inference.Replying("secret reply"))
	alice := ts.token(t, "alice")
	slashed := ts.token(t, "alice/work")

	ts.do(t, "POST", "/api/voice/text", alice, map[string]string{"text": "my bank pin is 1234"}, HeaderSessionID, "work")

	_, body := ts.do(t, "GET", "/api/voice/history", alice, nil, HeaderSessionID, "work")
	assert.EqualValues(t, 2, body["count"])

	_, body = ts.do(t, "GET", "/api/voice/history", slashed, nil)
	assert.EqualValues(t, 0, body["count"])
	assert.Equal(t, "alice%2Fwork", body["sessionId"])

	// Clearing the look-alike key must not touch alice's session.
	ts.do(t, "DELETE", "/api/voice/history", slashed, nil)
	_, body = ts.do(t, "GET", "/api/voice/history", alice, nil, HeaderSessionID, "work")
	assert.EqualValues(t, 2, body["count"])
}

func TestHistorySessionsCappedPerSubject(t *testing.T) {
	verifier, err := auth.NewVerifier("web-test-secret")
	require.NoError(t, err)
	registry := history.NewRegistry(history.DefaultLimit)
	pipeline := voice.New(nil, inference.NewGenerator(inference.Replying("ok"), inference.GeneratorConfig{}), voice.Config{})
	ts := &testServer{verifier: verifier, registry: registry}
	ts.app = NewServer(Config{
		Processor:             pipeline,
		Verifier:              verifier,
		Registry:              registry,
		MaxSessionsPerSubject: 2,
	}).App()

	alice := ts.token(t, "alice")
	for _, tab := range []string{"tab-1", "tab-2", "tab-3"} {
		status, _ := ts.do(t, "POST", "/api/voice/text", alice, map[string]string{"text": "hi"}, HeaderSessionID, tab)
		require.Equal(t, fiber.StatusOK, status)
	}
	ts.do(t, "POST", "/api/voice/text", ts.token(t, "bob"), map[string]string{"text": "hi"})

	assert.Equal(t, 2, registry.GroupLen("alice"))
	assert.Equal(t, 1, registry.GroupLen("bob"))

	_, body := ts.do(t, "GET", "/api/voice/history", alice, nil, HeaderSessionID, "tab-1")
	assert.EqualValues(t, 0, body["count"])
	_, body = ts.do(t, "GET", "/api/voice/history", alice, nil, HeaderSessionID, "tab-3")
	assert.EqualValues(t, 2, body["count"])
}

func TestIdleHistoriesEvicted(t *testing.T) {
	verifier, err := auth.NewVerifier("web-test-secret")
	require.NoError(t, err)
	registry := history.NewRegistry(history.DefaultLimit)
	pipeline := voice.New(nil, inference.NewGenerator(inference.Replying("ok"), inference.GeneratorConfig{}), voice.Config{})
	srv := NewServer(Config{
		Processor:      pipeline,
		Verifier:       verifier,
		Registry:       registry,
		HistoryIdleTTL: 50 * time.Millisecond,
	})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	ts := &testServer{app: srv.App(), verifier: verifier, registry: registry}

	ts.do(t, "POST", "/api/voice/text", ts.token(t, "alice"), map[string]string{"text": "hi"}, HeaderSessionID, "tab-1")
	require.Equal(t, 1, registry.Len())

	require.Eventually(t, func() bool { return registry.Len() == 0 }, 3*time.Second, 50*time.Millisecond)
}

func TestHealthReportsGeneration(t *testing.T) {
	verifier, err := auth.NewVerifier("web-test-secret")
	require.NoError(t, err)
	pipeline := voice.New(nil, inference.NewGenerator(inference.Replying("ok"), inference.GeneratorConfig{}), voice.Config{})

	healthy := inference.NewMock()
	ts := &testServer{verifier: verifier}
	ts.app = NewServer(Config{Processor: pipeline, Verifier: verifier, Health: healthy}).App()

	for i := 0; i < 3; i++ {
		status, body := ts.do(t, "GET", "/health", "", nil)
		require.Equal(t, fiber.StatusOK, status)
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, "ok", body["generation"])
	}
	// Cached between requests.
	assert.Equal(t, 1, healthy.CallCount("Health"))

	down := inference.WithError(&inference.APIError{StatusCode: 401, Message: "bad key", Provider: "gemini"})
	ts.app = NewServer(Config{Processor: pipeline, Verifier: verifier, Health: down}).App()

	status, body := ts.do(t, "GET", "/health", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "unavailable", body["generation"])
	assert.Contains(t, body["generation_error"], "bad key")
}

func TestArithmeticFallbackOverHTTP(t *testing.T) {
	verifier, _ := auth.NewVerifier("s")
	gemini := inference.WithError(&inference.APIError{StatusCode: 503, Message: "down", Provider: "gemini"})
	chain, err := inference.NewChain(gemini, inference.NewLocal())
	require.NoError(t, err)

	pipeline := voice.New(stt.NewMock("what is 4+5"), inference.NewGenerator(chain, inference.GeneratorConfig{}), voice.Config{})
	srv := NewServer(Config{Processor: pipeline, Verifier: verifier})
	ts := &testServer{app: srv.App(), verifier: verifier}

	status, body := ts.do(t, "POST", "/api/voice/audio", ts.token(t, "eve"), map[string]string{"audio": audioB64()})
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Contains(t, body["response"], "9")
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, stt.NewMock("hello there"), inference.Replying("hi"))

	status, body := ts.do(t, "GET", "/health", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.EqualValues(t, 0, body["sessions"])

	ts.do(t, "POST", "/api/voice/text", ts.token(t, "frank"), map[string]string{"text": "hello"})

	resp, err := ts.app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	data, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(data), "voice_runs_total 1\n")
	assert.Contains(t, string(data), "relay_sessions 0\n")

	status, body = ts.do(t, "GET", "/api/voice/stats", ts.token(t, "frank"), nil)
	require.Equal(t, fiber.StatusOK, status)
	pipeline, ok := body["pipeline"].(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 1, pipeline["completed"])
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, 400, StatusFor(voice.KindInvalidInput))
	assert.Equal(t, 422, StatusFor(voice.KindEmptyTranscript))
	assert.Equal(t, 502, StatusFor(voice.KindTranscriptionProvider))
	assert.Equal(t, 502, StatusFor(voice.KindGenerationProvider))
	assert.Equal(t, 400, StatusFor(voice.KindEmptyResponse))
	assert.Equal(t, 401, StatusFor(voice.KindChannelAuth))
	assert.Equal(t, 500, StatusFor(voice.KindUnknown))
}

func TestRateLimitPerSubject(t *testing.T) {
	verifier, err := auth.NewVerifier("web-test-secret")
	require.NoError(t, err)
	pipeline := voice.New(nil, inference.NewGenerator(inference.Replying("ok"), inference.GeneratorConfig{}), voice.Config{})
	ts := &testServer{verifier: verifier}
	ts.app = NewServer(Config{
		Processor: pipeline,
		Verifier:  verifier,
		RateLimit: 2,
	}).App()

	alice := ts.token(t, "alice")
	for i := 0; i < 2; i++ {
		status, _ := ts.do(t, "GET", "/api/voice/history", alice, nil)
		assert.Equal(t, http.StatusOK, status)
	}
	status, body := ts.do(t, "GET", "/api/voice/history", alice, nil)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "rate limit exceeded", body["error"])

	// Other subjects have their own budget.
	status, _ = ts.do(t, "GET", "/api/voice/history", ts.token(t, "bob"), nil)
	assert.Equal(t, http.StatusOK, status)
}
