package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/clindoc/dsrpop/internal/api"
	"github.com/clindoc/dsrpop/internal/cache"
	"github.com/clindoc/dsrpop/internal/config"
	"github.com/clindoc/dsrpop/internal/indexer"
	"github.com/clindoc/dsrpop/internal/pipeline"
	"github.com/clindoc/dsrpop/internal/resolver"
	"github.com/clindoc/dsrpop/internal/synth"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	indexStore, err := cache.NewDirStore(filepath.Join(cfg.CacheDir, "index"))
	if err != nil {
		log.Error("index cache init failed", "error", err)
		os.Exit(1)
	}
	synthStore, err := cache.NewDirStore(filepath.Join(cfg.CacheDir, "synth"))
	if err != nil {
		log.Error("synth cache init failed", "error", err)
		os.Exit(1)
	}

	openai := synth.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.SynthTimeout)

	idx := indexer.New(indexStore, log)
	res := resolver.New(openai, synthStore, log, resolver.Config{
		MaxSectionsPerRef:   cfg.MaxSectionsPerRef,
		MaxBundleTokens:     cfg.MaxBundleTokens,
		MaxCompletionTokens: cfg.MaxCompletionTokens,
		MaxConcurrentSynth:  cfg.MaxConcurrentSynth,
		MaxRetries:          cfg.MaxRetries,
	})

	orch := pipeline.NewOrchestrator(cfg, idx, res, log)
	orch.Start(ctx)

	srv := api.NewServer(orch, openai, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		orch.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.Info("starting dsrpop", "port", cfg.Port, "model", cfg.OpenAIModel)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
