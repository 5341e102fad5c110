package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/EscasanN/mcphost/internal/agent"
	"github.com/EscasanN/mcphost/internal/config"
	"github.com/EscasanN/mcphost/internal/events"
	"github.com/EscasanN/mcphost/internal/llm"
	"github.com/EscasanN/mcphost/internal/process"
	"github.com/EscasanN/mcphost/internal/registry"
	"github.com/EscasanN/mcphost/internal/trace"
)

// host wires the pieces a command needs: config, running servers, the
// registry, and the conversation loop.
type host struct {
	cfg        *config.Config
	logger     *slog.Logger
	bus        *events.Bus
	registry   *registry.Registry
	supervisor *process.Supervisor
	recorder   *trace.Recorder
	loop       *agent.Loop
}

// newHost loads the config, starts the configured servers, and builds
// the conversation loop. When withLLM is false no model client is
// constructed, for commands that only poke at servers.
func newHost(ctx context.Context, withLLM bool) (*host, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logLevel := slog.LevelWarn
	logOut := io.Writer(os.Stderr)
	if debugLog {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: logLevel}))

	h := &host{
		cfg:    cfg,
		logger: logger,
		bus:    events.NewBus(),
	}
	h.registry = registry.New(logger)
	h.supervisor = process.NewSupervisor(h.bus, h.registry,
		process.WithTimeouts(cfg.CallTimeout(), cfg.HandshakeTimeout()),
		process.WithSupervisorLogger(logger),
	)

	for _, srv := range cfg.Servers {
		if _, err := h.supervisor.Start(ctx, srv); err != nil {
			// One bad server should not take the host down.
			fmt.Fprintf(os.Stderr, "warning: server %s: %v\n", srv.ID, err)
		}
	}

	if withLLM {
		client, err := newLLMClient(cfg, logger)
		if err != nil {
			h.Close()
			return nil, err
		}

		recorder, err := trace.NewRecorder(cfg.Log.Interactions)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: interaction log disabled: %v\n", err)
			recorder = nil
		}
		h.recorder = recorder

		h.loop = agent.NewLoop(client, h.registry, h.supervisor,
			agent.WithMaxIterations(cfg.Chat.MaxIterations),
			agent.WithSystemPrompt(cfg.Chat.SystemPrompt),
			agent.WithLoopLogger(logger),
			agent.WithTrace(recorder.Record),
		)
	}

	return h, nil
}

func newLLMClient(cfg *config.Config, logger *slog.Logger) (llm.Client, error) {
	apiKey := cfg.APIKey()
	if apiKey == "" {
		return nil, fmt.Errorf("no API key in $%s", cfg.LLM.APIKeyEnv)
	}

	switch cfg.LLM.Provider {
	case "anthropic":
		return llm.NewAnthropicClient(apiKey, cfg.LLM.Model, cfg.LLM.MaxTokens, logger), nil
	case "openai":
		return llm.NewOpenAIClient(apiKey, cfg.LLM.BaseURL, cfg.LLM.Model, cfg.LLM.MaxTokens, logger), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.LLM.Provider)
	}
}

// Close stops all servers and releases resources.
func (h *host) Close() {
	h.supervisor.StopAll()
	h.recorder.Close()
	h.bus.Close()
}
