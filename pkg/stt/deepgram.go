package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/teslashibe/go-voicerelay/internal/httpc"
)

const providerDeepgram = "deepgram"

// Config holds transcription provider configuration.
type Config struct {
	BaseURL       string
	APIKey        string
	Model         string
	Language      string
	MinAudioBytes int
	Timeout       time.Duration
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// Option is a functional option for configuring providers.
type Option func(*Config)

// WithBaseURL sets the API base URL.
func WithBaseURL(u string) Option {
	return func(c *Config) { c.BaseURL = u }
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithModel sets the recognition model.
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

// WithLanguage sets the language hint.
func WithLanguage(lang string) Option {
	return func(c *Config) { c.Language = lang }
}

// WithMinAudioBytes sets the smallest accepted payload.
func WithMinAudioBytes(n int) Option {
	return func(c *Config) { c.MinAudioBytes = n }
}

// WithTimeout sets the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Config) { c.HTTPClient = hc }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns defaults for Deepgram's prerecorded API.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:       "https://api.deepgram.com/v1",
		Model:         "nova-2",
		Language:      "en",
		MinAudioBytes: DefaultMinAudioBytes,
		Timeout:       30 * time.Second,
		Logger:        slog.Default(),
	}
}

// Deepgram transcribes audio with Deepgram's /listen endpoint.
type Deepgram struct {
	config *Config
	http   *http.Client
	logger *slog.Logger
}

// NewDeepgram creates a Deepgram transcriber.
func NewDeepgram(opts ...Option) (*Deepgram, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.MinAudioBytes <= 0 {
		cfg.MinAudioBytes = DefaultMinAudioBytes
	}

	client := cfg.HTTPClient
	if client == nil {
		client = httpc.NewClient(cfg.Timeout)
	}

	return &Deepgram{
		config: cfg,
		http:   client,
		logger: cfg.Logger.With("component", "stt.deepgram"),
	}, nil
}

// Transcribe sends one payload to Deepgram and returns the cleaned transcript.
func (d *Deepgram) Transcribe(ctx context.Context, audio Audio) (*Result, error) {
	data, err := Validate(audio, d.config.MinAudioBytes)
	if err != nil {
		return nil, err
	}

	start := time.Now()

	q := url.Values{}
	q.Set("model", d.config.Model)
	q.Set("smart_format", "true")
	q.Set("punctuate", "true")
	if d.config.Language != "" {
		q.Set("language", d.config.Language)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		d.config.BaseURL+"/listen?"+q.Encode(), bytes.NewReader(data))
	if err != nil {
		return nil, wrapTransport(providerDeepgram, err)
	}
	req.Header.Set("Authorization", "Token "+d.config.APIKey)
	req.Header.Set("Content-Type", audio.MimeType())

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, wrapTransport(providerDeepgram, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, d.parseError(resp)
	}

	var result deepgramResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, wrapTransport(providerDeepgram, fmt.Errorf("decode response: %w", err))
	}

	var raw string
	var confidence float64
	if len(result.Results.Channels) > 0 && len(result.Results.Channels[0].Alternatives) > 0 {
		alt := result.Results.Channels[0].Alternatives[0]
		raw, confidence = alt.Transcript, alt.Confidence
	}

	latency := time.Since(start).Milliseconds()
	text, err := Clean(raw)
	if err != nil {
		d.logger.Debug("transcript rejected", "raw", raw, "latency_ms", latency)
		return nil, err
	}

	d.logger.Debug("transcribed",
		"bytes", len(data),
		"confidence", confidence,
		"latency_ms", latency,
	)

	return &Result{
		Text:       text,
		Confidence: confidence,
		Provider:   providerDeepgram,
		LatencyMs:  latency,
	}, nil
}

// parseError reads and parses an error response.
func (d *Deepgram) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp struct {
		ErrCode string `json:"err_code"`
		ErrMsg  string `json:"err_msg"`
		Message string `json:"message"`
	}

	message := string(body)
	if json.Unmarshal(body, &errResp) == nil {
		switch {
		case errResp.ErrMsg != "":
			message = errResp.ErrMsg
		case errResp.Message != "":
			message = errResp.Message
		}
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	return &ProviderError{
		Provider:   providerDeepgram,
		StatusCode: resp.StatusCode,
		Message:    message,
	}
}

// deepgramResponse is the subset of the /listen response we read.
type deepgramResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Verify Deepgram implements Transcriber at compile time.
var _ Transcriber = (*Deepgram)(nil)
