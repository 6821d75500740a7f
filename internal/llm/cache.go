// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/peerci/reviewbot/internal/model"
)

// Cache is the content-addressed response cache keyed by
// hash(file-path ‖ file-content ‖ normalized findings ‖ model) (spec
// §4.4).
type Cache interface {
	Get(ctx context.Context, key string) (Response, bool, error)
	Set(ctx context.Context, key string, resp Response, ttl time.Duration) error
}

// CacheKey computes the cache key for a rewrite request.
func CacheKey(filePath, fileContent string, findings []model.Finding, modelName string) string {
	h := sha256.New()
	h.Write([]byte(filePath))
	h.Write([]byte{0})
	h.Write([]byte(fileContent))
	h.Write([]byte{0})
	for _, f := range findings {
		fmt.Fprintf(h, "%s|%d|%s|%s\x00", f.File, f.Line, f.Rule, f.Severity)
	}
	h.Write([]byte{0})
	h.Write([]byte(modelName))
	return "llm:cache:" + hex.EncodeToString(h.Sum(nil))
}

type cachedResponse struct {
	Text  string `json:"text"`
	Model string `json:"model"`
}

// RedisCache implements Cache on top of go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache { return &RedisCache{client: client} }

func (c *RedisCache) Get(ctx context.Context, key string) (Response, bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return Response{}, false, nil
	}
	if err != nil {
		return Response{}, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	var cached cachedResponse
	if err := json.Unmarshal(raw, &cached); err != nil {
		return Response{}, false, fmt.Errorf("unmarshaling cached response: %w", err)
	}
	return Response{Text: cached.Text, Model: cached.Model, Provider: Cache, ResponseTime: 0}, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, resp Response, ttl time.Duration) error {
	raw, err := json.Marshal(cachedResponse{Text: resp.Text, Model: resp.Model})
	if err != nil {
		return fmt.Errorf("marshaling response for cache: %w", err)
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// MemoryCache is an in-process Cache used by tests and the local CLI.
type MemoryCache struct {
	entries map[string]cacheEntry
}

type cacheEntry struct {
	resp    Response
	expires time.Time
}

func NewMemoryCache() *MemoryCache { return &MemoryCache{entries: make(map[string]cacheEntry)} }

func (c *MemoryCache) Get(_ context.Context, key string) (Response, bool, error) {
	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expires) {
		return Response{}, false, nil
	}
	resp := entry.resp
	resp.Provider = Cache
	resp.ResponseTime = 0
	return resp, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, resp Response, ttl time.Duration) error {
	c.entries[key] = cacheEntry{resp: resp, expires: time.Now().Add(ttl)}
	return nil
}

// redactKeyForLog trims a cache key down to a short, loggable prefix.
func redactKeyForLog(key string) string {
	const prefixLen = len("llm:cache:") + 12
	if len(key) <= prefixLen {
		return key
	}
	return strings.TrimSuffix(key[:prefixLen], ":") + "…"
}
