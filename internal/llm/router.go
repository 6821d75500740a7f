// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/sony/gobreaker"

	"github.com/peerci/reviewbot/internal/metrics"
	"github.com/peerci/reviewbot/internal/model"
)

// Router implements the provider-agnostic call/cache/route contract of
// spec §4.4: it classifies complexity, walks an ordered fallback chain of
// providers through per-provider circuit breakers, and caches results.
type Router struct {
	providers         map[Name]Provider
	breakers          map[Name]*gobreaker.CircuitBreaker
	cache             Cache
	cacheTTL          time.Duration
	cacheOn           bool
	complexityEnabled bool
}

// Config configures chain ordering and cache behavior.
type Config struct {
	CacheEnabled bool
	CacheTTL     time.Duration
	// EnableComplexity toggles the complexity classifier (spec §4.4,
	// §6 PEER_ENABLE_COMPLEXITY). When false every request routes through
	// simpleChain, skipping Classify entirely.
	EnableComplexity bool
}

// NewRouter constructs a Router over the given providers, one circuit
// breaker per provider (spec §4.4 fallback chains; circuit breaking is an
// ambient-stack addition grounded on the teacher's retry/backoff patterns
// and the pack's sony/gobreaker dependency).
func NewRouter(providers []Provider, cache Cache, cfg Config) *Router {
	r := &Router{
		providers:         make(map[Name]Provider, len(providers)),
		breakers:          make(map[Name]*gobreaker.CircuitBreaker, len(providers)),
		cache:             cache,
		cacheTTL:          cfg.CacheTTL,
		cacheOn:           cfg.CacheEnabled,
		complexityEnabled: cfg.EnableComplexity,
	}
	for _, p := range providers {
		r.providers[p.Name()] = p
		r.breakers[p.Name()] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        string(p.Name()),
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
	}
	return r
}

// simpleChain and complexChain are the two ordered fallback orders (spec
// §4.4 routing table).
var (
	simpleChain  = []Name{Groq, OpenRouter, Gemini, DeepSeek}
	complexChain = []Name{DeepSeek, Gemini, Groq, OpenRouter}
)

// Chain returns the ordered provider list for a given complexity, or the
// single-element chain for an explicit override (spec §4.4 "caller may
// override provider explicitly").
func Chain(complexity Complexity, override Name) []Name {
	if override != "" {
		return []Name{override}
	}
	if complexity == Complex {
		return complexChain
	}
	return simpleChain
}

// RewriteRequest bundles everything the router's cache key and routing
// decision depend on (spec §4.4 cache key components).
type RewriteRequest struct {
	System        string
	User          string
	FilePath      string
	FileContent   string
	Findings      []model.Finding
	Override      Name
	APIKey        string
	ModelOverride string
}

// Call classifies complexity over req.Findings, checks the cache, then
// walks the resulting chain until a provider returns non-empty text,
// caching the first success (spec §4.4).
func (r *Router) Call(ctx context.Context, req RewriteRequest) (Response, error) {
	log := clog.FromContext(ctx)
	complexity := Simple
	if r.complexityEnabled {
		complexity = Classify(req.Findings)
	}
	chain := Chain(complexity, req.Override)

	cacheKey := CacheKey(req.FilePath, req.FileContent, req.Findings, string(chain[0]))
	if r.cacheOn && r.cache != nil {
		if cached, hit, err := r.cache.Get(ctx, cacheKey); err == nil && hit {
			log.With("cacheKey", redactKeyForLog(cacheKey)).Info("llm cache hit")
			metrics.ProviderCalls.WithLabelValues(string(cached.Provider), "cache_hit").Inc()
			return cached, nil
		}
	}

	var lastErr error
	for _, name := range chain {
		provider, ok := r.providers[name]
		if !ok {
			continue
		}
		breaker := r.breakers[name]

		start := time.Now()
		result, err := breaker.Execute(func() (any, error) {
			return provider.Call(ctx, req.System, req.User, req.APIKey)
		})
		metrics.ProviderLatency.WithLabelValues(string(name)).Observe(time.Since(start).Seconds())
		if err != nil {
			log.With("provider", string(name)).Warnf("provider call failed, advancing chain: %v", err)
			metrics.ProviderCalls.WithLabelValues(string(name), "error").Inc()
			lastErr = err
			continue
		}
		metrics.ProviderCalls.WithLabelValues(string(name), "success").Inc()

		resp := result.(Response)
		if r.cacheOn && r.cache != nil {
			if err := r.cache.Set(ctx, cacheKey, resp, r.cacheTTL); err != nil {
				log.Warnf("failed to cache llm response: %v", err)
			}
		}
		return resp, nil
	}

	return Response{}, fmt.Errorf("all providers in chain exhausted: %w", lastErr)
}

// AICaller adapts Router to the narrow analyzer.AICaller capability the AI
// analyzer depends on, so internal/analyzer never imports internal/llm
// directly.
type AICaller struct {
	Router *Router
}

func (a AICaller) Call(ctx context.Context, system, user string) (string, string, error) {
	resp, err := a.Router.Call(ctx, RewriteRequest{System: system, User: user})
	if err != nil {
		return "", "", err
	}
	return resp.Text, resp.Model, nil
}
