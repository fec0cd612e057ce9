// Command checkgate runs the streaming checklist-review gateway.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"github.com/voiceline/checkgate"
	"github.com/voiceline/checkgate/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "checkgate:", err)
		os.Exit(1)
	}
}

type config struct {
	addr           string
	upstreamURL    string
	apiKey         string
	model          string
	timeout        time.Duration
	allowedOrigins string
	greeting       string
	prompt         string
	maxToolRounds  int64
	logLevel       string
	logFormat      string
}

func newCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:  "checkgate",
		Usage: "Streaming checklist-review gateway for chat-completion clients",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "Listen address",
				Value:       ":3100",
				Sources:     cli.EnvVars("CHECKGATE_ADDR"),
				Destination: &cfg.addr,
			},
			&cli.StringFlag{
				Name:        "upstream-url",
				Usage:       "Upstream chat-completions endpoint",
				Value:       checkgate.DefaultUpstreamURL,
				Sources:     cli.EnvVars("CHECKGATE_UPSTREAM_URL"),
				Destination: &cfg.upstreamURL,
			},
			&cli.StringFlag{
				Name:        "api-key",
				Usage:       "Upstream provider API key",
				Sources:     cli.EnvVars("CHECKGATE_API_KEY", "OPENAI_API_KEY"),
				Destination: &cfg.apiKey,
			},
			&cli.StringFlag{
				Name:        "model",
				Usage:       "Default model for requests that omit one",
				Value:       checkgate.DefaultModel,
				Sources:     cli.EnvVars("CHECKGATE_MODEL"),
				Destination: &cfg.model,
			},
			&cli.DurationFlag{
				Name:        "timeout",
				Usage:       "Upstream request timeout",
				Value:       30 * time.Second,
				Sources:     cli.EnvVars("CHECKGATE_TIMEOUT"),
				Destination: &cfg.timeout,
			},
			&cli.StringFlag{
				Name:        "allowed-origins",
				Usage:       "Comma-separated CORS allow-list",
				Value:       "*",
				Sources:     cli.EnvVars("CHECKGATE_ALLOWED_ORIGINS"),
				Destination: &cfg.allowedOrigins,
			},
			&cli.StringFlag{
				Name:        "greeting",
				Usage:       "Assistant greeting for new sessions",
				Value:       checkgate.DefaultGreeting,
				Sources:     cli.EnvVars("CHECKGATE_GREETING"),
				Destination: &cfg.greeting,
			},
			&cli.StringFlag{
				Name:        "checklist-prompt",
				Usage:       "Override the generated checklist instruction",
				Sources:     cli.EnvVars("CHECKGATE_CHECKLIST_PROMPT"),
				Destination: &cfg.prompt,
			},
			&cli.IntFlag{
				Name:        "max-tool-rounds",
				Usage:       "Tool iteration ceiling per request",
				Value:       10,
				Sources:     cli.EnvVars("CHECKGATE_MAX_TOOL_ROUNDS"),
				Destination: &cfg.maxToolRounds,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "Log level (debug, info, warn, error)",
				Value:       "info",
				Sources:     cli.EnvVars("CHECKGATE_LOG_LEVEL"),
				Destination: &cfg.logLevel,
			},
			&cli.StringFlag{
				Name:        "log-format",
				Usage:       "Log format (json, text)",
				Value:       "json",
				Sources:     cli.EnvVars("CHECKGATE_LOG_FORMAT"),
				Destination: &cfg.logFormat,
			},
		},
		Action: func(ctx context.Context, _ *cli.Command) error {
			return run(ctx, cfg)
		},
	}
}

func run(ctx context.Context, cfg config) error {
	logger := logging.New(logging.Config{
		Level:  logging.ParseLevel(cfg.logLevel),
		Format: cfg.logFormat,
		Output: os.Stderr,
	})

	gw, err := checkgate.New(func(o *checkgate.Options) {
		o.UpstreamURL = cfg.upstreamURL
		o.APIKey = cfg.apiKey
		o.Model = cfg.model
		o.Timeout = cfg.timeout
		o.Greeting = cfg.greeting
		o.Instruction = cfg.prompt
		o.MaxToolRounds = int(cfg.maxToolRounds)
		o.AllowedOrigins = splitOrigins(cfg.allowedOrigins)
		o.Logger = logger
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.addr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("checkgate.listening", "addr", cfg.addr, "upstream", cfg.upstreamURL, "model", cfg.model)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("checkgate.shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func splitOrigins(value string) []string {
	var origins []string
	for _, part := range strings.Split(value, ",") {
		if origin := strings.TrimSpace(part); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}
