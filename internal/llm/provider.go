// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

// Package llm implements the provider-agnostic LLM router (spec §4.4):
// complexity classification, ordered fallback chains, a content-addressed
// cache, per-provider circuit breaking, and a quota gate.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"google.golang.org/genai"
)

// Name identifies one of the five ordered providers (spec §4.4).
type Name string

const (
	OpenAI     Name = "openai"
	Groq       Name = "groq"
	DeepSeek   Name = "deepseek"
	OpenRouter Name = "openrouter"
	Gemini     Name = "gemini"
	Cache      Name = "cache"
)

// Response is a single provider call's result (spec §4.4 "call({system,
// user}) → { text, model, responseTime }").
type Response struct {
	Text         string
	Model        string
	Provider     Name
	ResponseTime time.Duration
}

// Provider performs one prompt/response round trip against a specific LLM
// backend, reading its own credentials from the environment or the
// supplied apiKey override (spec §4.4 "per-request userContext").
type Provider interface {
	Name() Name
	Call(ctx context.Context, system, user, apiKey string) (Response, error)
}

// ErrEmptyResponse is returned when a provider call succeeds transport-wise
// but yields no text, which the router treats the same as an error (spec
// §4.4 "walks the chain in order until a provider returns non-empty text").
var ErrEmptyResponse = errors.New("llm: provider returned empty text")

// openAIWireProvider implements Provider against any OpenAI-chat-completion
// compatible endpoint: openai, groq, deepseek, and openrouter are all this
// shape with different base URLs and default API keys (spec §4.4).
type openAIWireProvider struct {
	name          Name
	baseURL       string
	model         string
	defaultAPIKey string
	timeout       time.Duration
}

func NewOpenAIWireProvider(name Name, baseURL, model, defaultAPIKey string, timeout time.Duration) Provider {
	return openAIWireProvider{name: name, baseURL: baseURL, model: model, defaultAPIKey: defaultAPIKey, timeout: timeout}
}

func (p openAIWireProvider) Name() Name { return p.name }

func (p openAIWireProvider) Call(ctx context.Context, system, user, apiKey string) (Response, error) {
	if apiKey == "" {
		apiKey = p.defaultAPIKey
	}
	if apiKey == "" {
		return Response{}, fmt.Errorf("%s: no API key configured", p.name)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if p.baseURL != "" {
		opts = append(opts, option.WithBaseURL(p.baseURL))
	}
	client := openai.NewClient(opts...)

	start := time.Now()
	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.F(p.model),
		Messages: openai.F([]openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		}),
	})
	elapsed := time.Since(start)
	if err != nil {
		return Response{}, fmt.Errorf("%s: %w", p.name, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return Response{}, ErrEmptyResponse
	}

	return Response{
		Text:         resp.Choices[0].Message.Content,
		Model:        p.model,
		Provider:     p.name,
		ResponseTime: elapsed,
	}, nil
}

// geminiProvider implements Provider against Google's Gemini models via
// google.golang.org/genai (spec §4.4).
type geminiProvider struct {
	model         string
	defaultAPIKey string
	timeout       time.Duration
}

func NewGeminiProvider(model, defaultAPIKey string, timeout time.Duration) Provider {
	return geminiProvider{model: model, defaultAPIKey: defaultAPIKey, timeout: timeout}
}

func (geminiProvider) Name() Name { return Gemini }

func (p geminiProvider) Call(ctx context.Context, system, user, apiKey string) (Response, error) {
	if apiKey == "" {
		apiKey = p.defaultAPIKey
	}
	if apiKey == "" {
		return Response{}, errors.New("gemini: no API key configured")
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return Response{}, fmt.Errorf("gemini: creating client: %w", err)
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
	}

	start := time.Now()
	resp, err := client.Models.GenerateContent(ctx, p.model, genai.Text(user), config)
	elapsed := time.Since(start)
	if err != nil {
		return Response{}, fmt.Errorf("gemini: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return Response{}, ErrEmptyResponse
	}

	return Response{Text: text, Model: p.model, Provider: Gemini, ResponseTime: elapsed}, nil
}
