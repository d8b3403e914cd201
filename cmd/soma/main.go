// Soma runtime server — runs the observation bus, session workers, gate,
// agent loopback, and the operational HTTP API.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/somabus/soma/pkg/adapter"
	"github.com/somabus/soma/pkg/api"
	"github.com/somabus/soma/pkg/core"
	"github.com/somabus/soma/pkg/gate"
	"github.com/somabus/soma/pkg/router"
	"github.com/somabus/soma/pkg/schema"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func logReplies(obs *schema.Observation) {
	if !obs.AgentOriginated() || obs.ObsType != schema.ObsMessage {
		return
	}
	if p, ok := obs.Message(); ok {
		slog.Info("Agent reply", "session_key", obs.SessionKey, "text", p.Text)
	}
}

func main() {
	// Parse command-line flags
	gateConfigPath := flag.String("gate-config",
		getEnv("GATE_CONFIG", ""),
		"Path to the gate configuration YAML (empty uses built-in defaults)")
	envPath := flag.String("env-file",
		getEnv("ENV_FILE", ".env"),
		"Path to the .env file")
	tickInterval := flag.Duration("tick-interval",
		30*time.Second,
		"System tick interval (0 disables the tick driver)")
	enableFanout := flag.Bool("enable-fanout",
		false,
		"Fan system ticks out to every active session")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", *envPath, "error", err)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	slog.Info("Starting soma", "http_port", httpPort, "gate_config", *gateConfigPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Gate configuration: file-backed provider with hot reload, or
	// built-in defaults when no file is given.
	var provider *gate.Provider
	if *gateConfigPath != "" {
		p, err := gate.NewProviderFromFile(*gateConfigPath)
		if err != nil {
			slog.Error("Failed to load gate config", "path", *gateConfigPath, "error", err)
			os.Exit(1)
		}
		provider = p
		go func() {
			if err := provider.Watch(ctx); err != nil {
				slog.Warn("Gate config watcher stopped", "error", err)
			}
		}()
	} else {
		provider = gate.NewProvider(gate.DefaultConfig())
	}

	// 2. Assemble and start the core.
	c := core.New(core.Options{
		Provider:           provider,
		Router:             router.DefaultConfig(),
		TickInterval:       *tickInterval,
		EnableSystemFanout: *enableFanout,
	})
	c.Start()

	// 3. Log every agent-originated reply; concrete output adapters
	// register here the same way.
	c.Egress().Register(&adapter.FuncSink{SinkName: "log", Fn: logReplies}, "")

	// 4. Start HTTP server (non-blocking).
	httpServer := api.NewServer(c, ":"+httpPort)
	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- err
		}
	}()

	// 5. Wait for a signal or a server failure.
	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-errCh:
		slog.Error("HTTP server error", "error", err)
	}

	// 6. Ordered shutdown: stop intake first, then drain the HTTP server.
	c.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}
	slog.Info("Soma stopped")
}
