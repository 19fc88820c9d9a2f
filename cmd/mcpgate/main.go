package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mcpgate/mcpgate/internal/core"
	"github.com/mcpgate/mcpgate/internal/fsbox"
	gh "github.com/mcpgate/mcpgate/internal/github"
	"github.com/mcpgate/mcpgate/internal/mcp"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg := mcp.Config{
		Addr:      envOrDefault("MCPGATE_ADDR", ":8080"),
		AuthToken: os.Getenv("AUTH_TOKEN"),
		Name:      envOrDefault("MCP_SERVER_NAME", "mcpgate"),
		Version:   envOrDefault("MCP_SERVER_VERSION", "0.1.0"),
	}
	if cfg.AuthToken == "" {
		logger.Warn("AUTH_TOKEN not set, accepting unauthenticated calls")
	}

	ghCfg := gh.Config{
		BaseURL: os.Getenv("GITHUB_API_URL"),
		Token:   strings.TrimSpace(os.Getenv("GITHUB_TOKEN")),
	}
	if raw := strings.TrimSpace(os.Getenv("GITHUB_TIMEOUT_SECONDS")); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			logger.Error("invalid GITHUB_TIMEOUT_SECONDS", "value", raw)
			os.Exit(1)
		}
		ghCfg.Timeout = time.Duration(secs) * time.Second
	}
	if raw := strings.TrimSpace(os.Getenv("GITHUB_APP_ID")); raw != "" {
		appID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			logger.Error("invalid GITHUB_APP_ID", "err", err)
			os.Exit(1)
		}
		ghCfg.AppID = appID
		ghCfg.PrivateKeyPath = requireEnv(logger, "GITHUB_PRIVATE_KEY_PATH")
		installationID, err := strconv.ParseInt(requireEnv(logger, "GITHUB_INSTALLATION_ID"), 10, 64)
		if err != nil {
			logger.Error("invalid GITHUB_INSTALLATION_ID", "err", err)
			os.Exit(1)
		}
		ghCfg.InstallationID = installationID
	}

	ghClient, err := gh.NewClient(ghCfg)
	if err != nil {
		logger.Error("github client init failed", "err", err)
		os.Exit(1)
	}

	sandbox, err := fsbox.NewSandbox(envOrDefault("FILES_ROOT", "./files"))
	if err != nil {
		logger.Error("sandbox init failed", "err", err)
		os.Exit(1)
	}
	logger.Info("sandbox root ready", "root", sandbox.Root())

	policy := core.NewRepoPolicy(os.Getenv("REPO_ALLOWLIST"))

	server := mcp.NewServer(cfg, ghClient, sandbox, policy, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", "err", err)
			os.Exit(1)
		}
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown failed", "err", err)
			os.Exit(1)
		}
	}
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func requireEnv(logger *slog.Logger, key string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		logger.Error("missing required environment variable", "key", key)
		os.Exit(1)
	}
	return v
}
