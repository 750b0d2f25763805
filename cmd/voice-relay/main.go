// voice-relay: speech-to-reply relay for browser voice clients.
// Accepts recorded utterances over WebSocket or REST, transcribes them with
// Deepgram, answers with Gemini (falling back to a local responder), and
// returns the text for the client to speak.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/go-voicerelay/internal/config"
	"github.com/teslashibe/go-voicerelay/internal/log"
)

var (
	version    = "1.0.0"
	port       = flag.Int("port", 0, "HTTP server port (overrides config and PORT)")
	configPath = flag.String("config", "", "Path to TOML config (or VOICE_RELAY_CONFIG)")
	debug      = flag.Bool("debug", false, "Enable debug logging")
	issueToken = flag.String("issue-token", "", "Print a bearer token for this subject and exit")
	tokenTTL   = flag.Duration("token-ttl", 0, "Lifetime of -issue-token tokens (default from config)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(config.Path(*configPath))
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *debug {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	log.Init(cfg.Log.Level)

	if *issueToken != "" {
		if err := printToken(cfg, *issueToken, *tokenTTL); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := newService(ctx, cfg, *debug, version)
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	addr := cfg.Addr()
	log.Info("voice relay starting",
		"version", version,
		"addr", addr,
		"transcription", svc.transcriberName,
		"generation", svc.providerName,
		"history_limit", cfg.History.Limit,
	)
	log.Info("endpoints",
		"websocket", fmt.Sprintf("ws://localhost:%d/ws/voice", cfg.Server.Port),
		"health", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port),
		"api", fmt.Sprintf("http://localhost:%d/api/voice", cfg.Server.Port),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.server.Start(addr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
	}

	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := svc.server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.Error("shutdown error", "error", err)
	}

	log.Info("goodbye")
}

// printToken writes a signed bearer token for subject to stdout.
func printToken(cfg *config.Config, subject string, ttl time.Duration) error {
	v, err := newVerifier(cfg)
	if err != nil {
		return err
	}
	if ttl == 0 {
		ttl = cfg.Auth.TokenTTL
	}
	token, err := v.Issue(subject, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
