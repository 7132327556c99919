package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/deskmate/internal/api"
	"github.com/kalambet/deskmate/internal/config"
	"github.com/kalambet/deskmate/internal/engine"
	"github.com/kalambet/deskmate/internal/index"
	"github.com/kalambet/deskmate/internal/ingest"
	"github.com/kalambet/deskmate/internal/intent"
	"github.com/kalambet/deskmate/internal/retrieval"
	"github.com/kalambet/deskmate/internal/storage"
	"github.com/kalambet/deskmate/internal/tools"
	"github.com/kalambet/deskmate/internal/workflow"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the deskmate server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

// syncService rescans the corpus roots, ingests them, and rebuilds the
// index. Ingestion tolerates bad files; the rebuild itself is
// all-or-nothing.
type syncService struct {
	ingestor *ingest.Ingestor
	manager  *index.Manager
	roots    []string
	logger   *slog.Logger
}

func (s *syncService) Sync(ctx context.Context) (ingest.Report, error) {
	paths, err := ingest.ScanRoots(s.roots...)
	if err != nil {
		return ingest.Report{}, fmt.Errorf("scanning corpus roots: %w", err)
	}

	chunks, report, err := s.ingestor.Ingest(ctx, paths)
	if err != nil {
		return ingest.Report{}, err
	}
	for _, skipped := range report.Skipped {
		s.logger.Warn("file skipped during sync", "path", skipped.Path, "reason", skipped.Reason)
	}

	if err := s.manager.Rebuild(ctx, chunks); err != nil {
		return report, err
	}
	return report, nil
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "deskmate version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Check inference backend readiness. serve refuses to start without the
	// models it needs to classify, embed, and generate.
	eng := engine.NewOllamaEngine(cfg.Ollama.BaseURL)
	if err := engine.EnsureReady(ctx, eng, os.Stderr, cfg.Ollama.ChatModel, cfg.Ollama.ClassifyModel, cfg.Ollama.EmbedModel); err != nil {
		return err
	}

	// Corpus roots must exist before the watcher attaches to them.
	for _, dir := range []string{cfg.Knowledge.DefaultDir, cfg.Knowledge.UploadDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating corpus dir %s: %w", dir, err)
		}
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Index: restore the last persisted snapshot, then rebuild if empty.
	embedder := retrieval.NewEmbedder(eng, cfg.Ollama.EmbedModel)
	manager := index.NewManager(store, embedder, logger)
	if err := manager.LoadPersisted(); err != nil {
		return err
	}

	ingestor := ingest.New(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap, logger)
	sync := &syncService{
		ingestor: ingestor,
		manager:  manager,
		roots:    []string{cfg.Knowledge.DefaultDir, cfg.Knowledge.UploadDir},
		logger:   logger,
	}
	if manager.Current().Len() == 0 {
		printStep("no index snapshot found, building from corpus")
		if report, err := sync.Sync(ctx); err != nil {
			// The service still starts: the knowledge paths degrade until
			// the next successful sync.
			logger.Warn("initial index build failed", "error", err)
		} else {
			printSuccess("indexed %d chunks from %d files", report.Chunks, report.Files)
		}
	}

	// Workflow: classifier, direct tools, retrieval-grounded answers.
	classifier := intent.NewClassifier(eng, cfg.Ollama.ClassifyModel, logger)
	retriever := retrieval.NewRetriever(manager, embedder, cfg.Retrieval.TopK, cfg.Retrieval.MinConfidence)
	owners := tools.LoadOwners(filepath.Join(cfg.Knowledge.UploadDir, "owners.csv"), logger)
	registry := tools.NewRegistry(owners)
	wf := workflow.NewEngine(classifier, retriever, registry, eng, cfg.Ollama.ChatModel, logger)

	handler := api.NewAppHandler(api.AppDeps{
		Workflow:      wf,
		History:       store,
		Engine:        eng,
		Index:         manager,
		Sync:          sync,
		UploadDir:     cfg.Knowledge.UploadDir,
		Token:         cfg.Server.APIToken,
		HistoryWindow: cfg.History.Window,
		Logger:        logger,
	})

	// Watch the upload dir so files dropped in outside the /upload endpoint
	// also trigger a rebuild.
	watcher, err := ingest.NewWatcher([]string{cfg.Knowledge.UploadDir}, func() {
		if _, err := sync.Sync(ctx); err != nil {
			logger.Warn("watch-triggered rebuild failed", "error", err)
		}
	}, logger)
	if err != nil {
		return fmt.Errorf("starting knowledge base watcher: %w", err)
	}
	go func() {
		if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("watcher stopped", "error", err)
		}
	}()

	// MCP server on stdio.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Workflow:  wf,
		Retriever: retriever,
		History:   store,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("MCP stdio server error", "error", err)
		}
	}()
	logger.Info("MCP server started (stdio transport)")

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "deskmate listening on %s\n", addr)
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
