package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/aidbud/internal/api"
	"github.com/kalambet/aidbud/internal/chunk"
	"github.com/kalambet/aidbud/internal/config"
	"github.com/kalambet/aidbud/internal/conversation"
	"github.com/kalambet/aidbud/internal/embed"
	"github.com/kalambet/aidbud/internal/llm"
	"github.com/kalambet/aidbud/internal/media"
	"github.com/kalambet/aidbud/internal/memory"
	"github.com/kalambet/aidbud/internal/prompt"
	"github.com/kalambet/aidbud/internal/situation"
	"github.com/kalambet/aidbud/internal/token"
	"github.com/kalambet/aidbud/internal/workflow"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the aidbud server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "aidbud version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(os.Getenv("AIDBUD_LOG_LEVEL"), "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	splitter, err := chunk.NewSplitter(token.Words{}, cfg.Memory.MaxTokens, cfg.Memory.Overlap)
	if err != nil {
		return fmt.Errorf("building splitter: %w", err)
	}
	embedder := embed.NewOpenAIEmbedder(cfg.Model.APIKey, cfg.Model.BaseURL, cfg.Memory.EmbedModel)
	gateway := embed.NewGateway(splitter, embedder)

	store, err := memory.Open(cfg.Memory.DataDir, gateway)
	if err != nil {
		return fmt.Errorf("opening memory store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing memory store: %v\n", err)
		}
	}()

	state, err := situation.Load(cfg.Context.SnapshotPath)
	if err != nil {
		return fmt.Errorf("loading situation state: %w", err)
	}

	generator := llm.NewOpenAIGenerator(cfg.Model.APIKey, cfg.Model.BaseURL, cfg.Model.Model)
	preparer := media.NewPreparer(cfg.Media.Workers, time.Duration(cfg.Media.FetchTimeoutSeconds)*time.Second)
	orchestrator := workflow.New(store, generator, prompt.NewBuilder(state), preparer, cfg.Memory.TopK)

	deps := api.AppDeps{
		Orchestrator: orchestrator,
		Conversation: conversation.New(),
		Situation:    state,
		Memory:       store,
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewAppHandler(deps),
	}

	// MCP server on stdio, alongside HTTP.
	mcpSrv := api.NewMCPServer(deps)
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "aidbud listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
