package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/teslashibe/go-voicerelay/internal/config"
	"github.com/teslashibe/go-voicerelay/internal/log"
	"github.com/teslashibe/go-voicerelay/pkg/auth"
	"github.com/teslashibe/go-voicerelay/pkg/history"
	"github.com/teslashibe/go-voicerelay/pkg/inference"
	"github.com/teslashibe/go-voicerelay/pkg/relay"
	"github.com/teslashibe/go-voicerelay/pkg/stt"
	"github.com/teslashibe/go-voicerelay/pkg/voice"
	"github.com/teslashibe/go-voicerelay/pkg/web"
)

// service is the fully wired relay.
type service struct {
	server   *web.Server
	provider inference.Provider
	metrics  *voice.MetricsCollector

	transcriberName string
	providerName    string
}

// Close releases provider resources.
func (s *service) Close() {
	if s.provider != nil {
		s.provider.Close()
	}
}

func newVerifier(cfg *config.Config) (*auth.Verifier, error) {
	return auth.NewVerifier(cfg.Auth.JWTSecret, auth.WithIssuer(cfg.Auth.Issuer))
}

// newService builds every component from cfg.
func newService(ctx context.Context, cfg *config.Config, debug bool, version string) (*service, error) {
	verifier, err := newVerifier(cfg)
	if err != nil {
		return nil, err
	}

	transcriber, transcriberName, err := newTranscriber(cfg)
	if err != nil {
		return nil, err
	}

	provider, err := newProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}

	generator := inference.NewGenerator(provider, inference.GeneratorConfig{
		SystemPrompt: cfg.Gemini.SystemPrompt,
		MaxTokens:    cfg.Gemini.MaxTokens,
		Temperature:  cfg.Gemini.Temperature,
		Logger:       log.L(),
	})

	metrics := voice.NewMetricsCollector()
	metricsLog := log.Component("voice.metrics")
	metrics.OnUpdate(func(m voice.Metrics) {
		metricsLog.Debug("run finished",
			"latency", m.FormatLatency(),
			"failure", string(m.Failure),
		)
	})

	var tr voice.Transcriber
	if transcriber != nil {
		tr = transcriber
	}
	pipeline := voice.New(tr, generator, voice.DefaultConfig().
		WithMetrics(metrics).
		WithMinAudioBytes(cfg.Deepgram.MinAudioBytes).
		WithLogger(log.L()))

	hub := relay.NewHub(relay.Config{
		Pipeline: pipeline,
		Verifier: verifier,
		Registry: history.NewRegistry(cfg.History.Limit),
		Logger:   log.L(),
	})

	server := web.NewServer(web.Config{
		Processor:             pipeline,
		Verifier:              verifier,
		Registry:              history.NewRegistry(cfg.History.Limit),
		Hub:                   hub,
		Metrics:               metrics,
		Health:                provider,
		CORSOrigins:           cfg.CORSOriginList(),
		StaticDir:             cfg.Server.StaticDir,
		Version:               version,
		Debug:                 debug,
		RateLimit:             cfg.Server.RateLimit,
		MaxSessionsPerSubject: cfg.History.MaxSessions,
		HistoryIdleTTL:        cfg.History.IdleTTL,
		Logger:                log.L(),
	})

	return &service{
		server:          server,
		provider:        provider,
		metrics:         metrics,
		transcriberName: transcriberName,
		providerName:    providerName(provider),
	}, nil
}

// newTranscriber returns Deepgram, or nil when no key is configured so the
// relay still serves text requests.
func newTranscriber(cfg *config.Config) (*stt.Deepgram, string, error) {
	opts := []stt.Option{
		stt.WithAPIKey(cfg.Deepgram.APIKey),
		stt.WithModel(cfg.Deepgram.Model),
		stt.WithLanguage(cfg.Deepgram.Language),
		stt.WithMinAudioBytes(cfg.Deepgram.MinAudioBytes),
		stt.WithTimeout(cfg.Deepgram.Timeout),
		stt.WithLogger(log.L()),
	}
	if cfg.Deepgram.BaseURL != "" {
		opts = append(opts, stt.WithBaseURL(cfg.Deepgram.BaseURL))
	}

	dg, err := stt.NewDeepgram(opts...)
	if errors.Is(err, stt.ErrNoAPIKey) {
		log.Warn("DEEPGRAM_API_KEY not set, audio requests will fail")
		return nil, "disabled", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("deepgram: %w", err)
	}
	return dg, "deepgram/" + cfg.Deepgram.Model, nil
}

// newProvider chains Gemini in front of the local responder. Without a
// Gemini key only the local responder is used.
func newProvider(ctx context.Context, cfg *config.Config) (inference.Provider, error) {
	local := inference.NewLocal()
	if cfg.Gemini.APIKey == "" {
		log.Warn("GEMINI_API_KEY not set, using local responder only")
		return local, nil
	}

	opts := []inference.Option{
		inference.WithAPIKey(cfg.Gemini.APIKey),
		inference.WithModel(cfg.Gemini.Model),
		inference.WithMaxTokens(cfg.Gemini.MaxTokens),
		inference.WithTemperature(cfg.Gemini.Temperature),
		inference.WithTimeout(cfg.Gemini.Timeout),
		inference.WithLogger(log.L()),
	}
	if cfg.Gemini.BaseURL != "" {
		opts = append(opts, inference.WithBaseURL(cfg.Gemini.BaseURL))
	}

	gemini, err := inference.NewGemini(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	return inference.NewChainWithLogger(log.L(), gemini, local)
}

func providerName(p inference.Provider) string {
	chain, ok := p.(*inference.Chain)
	if !ok {
		return p.Name()
	}
	names := make([]string, 0, len(chain.Providers()))
	for _, cp := range chain.Providers() {
		names = append(names, cp.Name())
	}
	return strings.Join(names, " -> ")
}
