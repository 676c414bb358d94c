package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pdf2md/internal/config"
	"pdf2md/internal/domain/ports/adapter"
	"pdf2md/internal/domain/ports/repository"
	"pdf2md/internal/infra/adapters/extractor"
	"pdf2md/internal/infra/callback"
	pg "pdf2md/internal/infra/db/postgres"
	"pdf2md/internal/infra/logging"
	"pdf2md/internal/infra/metrics"
	red "pdf2md/internal/infra/redis"
	"pdf2md/internal/infra/sched"
	"pdf2md/internal/infra/splitter"
	"pdf2md/internal/infra/storage"
	"pdf2md/internal/infra/web"
	"pdf2md/internal/infra/worker"
	"pdf2md/internal/migrate"
	"pdf2md/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, relaxed defaults)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Info().Msg("developer mode enabled")
	}
	metrics.MustRegister()

	// ---- Migrations ----
	if err := migrate.Run(cfg.Database.URL); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer redisClient.Close()
	taskQueue := red.NewTaskQueue(redisClient, cfg.Redis.Namespace)

	// ---- Object storage ----
	var store repository.ObjectStore
	switch cfg.Storage.Backend {
	case "gcs":
		store, err = storage.NewGCSStore(ctx, cfg.Storage.Bucket, cfg.Storage.Prefix)
		if err != nil {
			log.Fatalf("gcs: %v", err)
		}
	case "memory":
		logger.Warn().Msg("using in-memory object store, data will not survive restarts")
		store = storage.NewMemoryStore()
	default:
		log.Fatalf("storage: unknown backend %q", cfg.Storage.Backend)
	}

	// ---- Repositories ----
	tm := pg.NewTxManager(pool)
	jobRepo := pg.NewJobRepo(pool)
	taskRepo := pg.NewPageTaskRepo(pool, tm)

	// ---- Page extractor (Gemini / OpenAI-compatible) ----
	byProvider := map[string]adapter.PageExtractor{}
	if cfg.Extract.GeminiKey != "" {
		gem, err := extractor.NewGeminiAdapter(ctx, cfg.Extract.GeminiKey, cfg.Extract.GeminiURL, cfg.Extract.DefaultModel, cfg.Extract.MaxOutputTokens)
		if err != nil {
			log.Fatalf("gemini adapter: %v", err)
		}
		byProvider["gemini"] = gem
		logger.Info().Str("model", cfg.Extract.DefaultModel).Msg("extractor: gemini enabled")
	}
	if cfg.Extract.OpenAIKey != "" {
		oa, err := extractor.NewOpenAIAdapter(cfg.Extract.OpenAIKey, cfg.Extract.OpenAIBaseURL, cfg.Extract.DefaultModel)
		if err != nil {
			log.Fatalf("openai adapter: %v", err)
		}
		byProvider["openai"] = oa
		logger.Info().Str("model", cfg.Extract.DefaultModel).Msg("extractor: openai enabled")
	}
	if cfg.Extract.Provider == "noop" || len(byProvider) == 0 {
		if cfg.Extract.Provider != "noop" {
			log.Fatalf("no extractor provider configured: set extractor.gemini_key or extractor.openai_key in %s", *cfgPath)
		}
		byProvider["noop"] = extractor.NewNoopExtractor()
		logger.Warn().Msg("extractor: noop enabled, pages produce placeholder output")
	}
	pageExtractor := extractor.NewMultiAdapter(cfg.Extract.Provider, byProvider)

	// ---- Use cases ----
	pdfSplitter := splitter.NewPDFCPUSplitter(store, cfg.Pipeline.SplitUploadLimit, logger)
	notifier := callback.NewHTTPNotifier(cfg.Callback.Timeout)
	jobUC := usecase.NewJobUseCase(jobRepo, taskRepo, store, cfg.Pipeline, logger)
	supUC := usecase.NewSupervisorUseCase(jobRepo, taskRepo, taskQueue, store, pdfSplitter, notifier, tm, cfg.Pipeline, logger)

	// ---- Workers ----
	pool2 := worker.NewPool(cfg.Pipeline.Workers, logger)
	pool2.Start(ctx)
	processor := worker.NewPageProcessor(taskQueue, taskRepo, jobRepo, store, pageExtractor, cfg.Pipeline, logger)
	go processor.Start(ctx, pool2)

	reconciler := sched.NewReconcileWorker(supUC, taskQueue, cfg.Pipeline, logger)
	go reconciler.Start(ctx)

	// ---- HTTP API ----
	srv := web.NewServer(jobUC, cfg.Web.APIKey, logger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Web.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http api listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown did not finish cleanly")
	}
	cancel()
	pool2.Stop()
}
