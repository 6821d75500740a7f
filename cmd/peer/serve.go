// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/peerci/reviewbot/internal/analyzer"
	"github.com/peerci/reviewbot/internal/autofix"
	"github.com/peerci/reviewbot/internal/config"
	"github.com/peerci/reviewbot/internal/githubapi"
	"github.com/peerci/reviewbot/internal/httpapi"
	"github.com/peerci/reviewbot/internal/llm"
	"github.com/peerci/reviewbot/internal/logging"
	"github.com/peerci/reviewbot/internal/metrics"
	"github.com/peerci/reviewbot/internal/pipeline"
	"github.com/peerci/reviewbot/internal/queue"
	"github.com/peerci/reviewbot/internal/retry"
	"github.com/peerci/reviewbot/internal/store"
	"github.com/peerci/reviewbot/internal/workspace"
)

var serveMemory bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook listener and job workers",
	Long: `Start the long-running peer process: an HTTP server accepting
source-control webhooks and serving the read-only polling API, and three
job-queue worker pools (analyze, autofix preview, apply) that carry a
run from "queued" through to a completed or auto-merged patch request.

Configuration is read entirely from the environment; see spec §6 for the
full variable list. Use --memory for a zero-dependency local run backed
by in-process store and queue implementations instead of Postgres/Redis.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveMemory, "memory", false, "use in-process store/queue instead of Postgres/Redis")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx = logging.Setup(ctx, "peer")
	log := clog.FromContext(ctx)

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := openStore(ctx, cfg, serveMemory)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}

	var redisClient *redis.Client
	if !serveMemory {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}

	kv, err := openQueue(redisClient, serveMemory)
	if err != nil {
		return fmt.Errorf("opening queue: %w", err)
	}

	router := buildRouter(cfg, redisClient)

	creds := githubapi.AppCredentials{AppID: cfg.GitHubAppID, PrivateKeyPath: cfg.GitHubAppPrivateKeyPath}
	tokenSource := func(installationID int64) (oauth2.TokenSource, error) {
		client, err := githubapi.NewClient(creds, installationID)
		if err != nil {
			return nil, err
		}
		return client.TokenSource(), nil
	}
	remoteURL := func(repo string) string {
		owner, name, ok := strings.Cut(repo, "/")
		if !ok {
			return ""
		}
		return workspace.DefaultRemoteURL(owner, name)
	}
	var ghClient *githubapi.Client
	if cfg.GitHubAppID != 0 {
		ghClient, err = githubapi.NewClient(creds, 0)
		if err != nil {
			return fmt.Errorf("building app-level github client: %w", err)
		}
	}

	retryCfg := retry.Default()
	retryCfg.MaxRetries = cfg.Queue.MaxRetries

	controller := &pipeline.Controller{
		Runs:          db.PRRuns(),
		PatchRequests: db.PatchRequests(),
		Installations: db.Installations(),
		Queue:         kv,
		Host:          ghClient,
	}

	analyzeWorker := &pipeline.AnalyzeWorker{
		Runs:                   db.PRRuns(),
		Installations:          db.Installations(),
		PatchRequests:          db.PatchRequests(),
		Queue:                  kv,
		Registry:               analyzer.DefaultRegistry(llm.AICaller{Router: router}),
		TokenSource:            tokenSource,
		RemoteURL:              remoteURL,
		PreviewInitialMaxFiles: cfg.LLM.PreviewInitialMaxFile,
	}
	autofixWorker := &pipeline.AutofixWorker{
		Runs:          db.PRRuns(),
		PatchRequests: db.PatchRequests(),
		Installations: db.Installations(),
		Users:         db.Users(),
		Notifications: db.Notifications(),
		Queue:         kv,
		Transformers:  autofix.DefaultTransformers(),
		Router:        router,
		PreviewOpts: autofix.PreviewOptions{
			Mode:       autofix.LLMAuto,
			Strategy:   autofix.Strategy(cfg.LLM.Strategy),
			MaxPatches: cfg.LLM.MaxPatchesPerFile,
		},
		PreviewTimeBudget: time.Duration(cfg.LLM.PreviewTimeBudgetMS) * time.Millisecond,
		TokenSource:       tokenSource,
		RemoteURL:         remoteURL,
		Host:              ghClient,
	}

	pools := []*queue.Pool{
		queue.NewPool(kv, queue.Analyze, cfg.Queue.AnalyzeConcurrency, cfg.Queue.VisibilityTimeout, retryCfg, analyzeWorker.Handle),
		queue.NewPool(kv, queue.Autofix, cfg.Queue.AutofixConcurrency, cfg.Queue.VisibilityTimeout, retryCfg, autofixWorker.HandlePreviewFile),
		queue.NewPool(kv, queue.Apply, cfg.Queue.ApplyConcurrency, cfg.Queue.VisibilityTimeout, retryCfg, autofixWorker.HandleApply),
	}
	for _, p := range pools {
		p.Start(ctx)
	}

	api := &httpapi.Server{
		Controller:    controller,
		Runs:          db.PRRuns(),
		PatchRequests: db.PatchRequests(),
		Secret:        []byte(cfg.WebhookSecret),
	}
	apiSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: api.Router()}
	metricsSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.MetricsPort), Handler: metrics.Handler()}

	errCh := make(chan error, 2)
	go func() {
		log.Infof("webhook/api server listening on :%d", cfg.Port)
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()
	go func() {
		log.Infof("metrics server listening on :%d", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		log.Errorf("server error: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = apiSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	for _, p := range pools {
		if err := p.Shutdown(shutdownCtx); err != nil {
			log.Warnf("pool shutdown: %v", err)
		}
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, memory bool) (store.Store, error) {
	if memory {
		return store.NewMemory(), nil
	}
	return store.OpenPostgres(ctx, cfg.DatabaseURL)
}

func openQueue(client *redis.Client, memory bool) (queue.KVStore, error) {
	if memory {
		return queue.NewMemoryKVStore(), nil
	}
	return queue.NewRedisKVStore(client), nil
}

// buildRouter assembles the LLM provider chain from whichever API keys are
// configured; a provider with no key is simply absent from every chain
// (spec §4.4 routing tables tolerate missing providers by skipping them).
// The response cache shares the service's Redis client when one is
// available, falling back to an in-process cache for --memory runs.
func buildRouter(cfg *config.Config, redisClient *redis.Client) *llm.Router {
	timeout := time.Duration(cfg.LLM.TimeoutMS) * time.Millisecond
	geminiTimeout := time.Duration(cfg.LLM.GeminiTimeoutMS) * time.Millisecond

	var providers []llm.Provider
	if cfg.LLM.OpenAIKey != "" {
		providers = append(providers, llm.NewOpenAIWireProvider(llm.OpenAI, "", "gpt-4o-mini", cfg.LLM.OpenAIKey, timeout))
	}
	if cfg.LLM.GroqKey != "" {
		providers = append(providers, llm.NewOpenAIWireProvider(llm.Groq, "https://api.groq.com/openai/v1", "llama-3.3-70b-versatile", cfg.LLM.GroqKey, timeout))
	}
	if cfg.LLM.DeepSeekKey != "" {
		providers = append(providers, llm.NewOpenAIWireProvider(llm.DeepSeek, "https://api.deepseek.com/v1", "deepseek-chat", cfg.LLM.DeepSeekKey, timeout))
	}
	if cfg.LLM.OpenRouterKey != "" {
		providers = append(providers, llm.NewOpenAIWireProvider(llm.OpenRouter, "https://openrouter.ai/api/v1", "openrouter/auto", cfg.LLM.OpenRouterKey, timeout))
	}
	if cfg.LLM.GeminiKey != "" {
		providers = append(providers, llm.NewGeminiProvider("gemini-2.0-flash", cfg.LLM.GeminiKey, geminiTimeout))
	}

	var cache llm.Cache
	if redisClient != nil {
		cache = llm.NewRedisCache(redisClient)
	} else {
		cache = llm.NewMemoryCache()
	}
	return llm.NewRouter(providers, cache, llm.Config{
		CacheEnabled:     cfg.LLM.CacheEnabled,
		CacheTTL:         cfg.LLM.CacheTTL,
		EnableComplexity: cfg.LLM.EnableComplexity,
	})
}
