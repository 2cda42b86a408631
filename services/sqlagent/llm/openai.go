// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/awnumar/memguard"
	"github.com/sashabaranov/go-openai"
)

const (
	defaultOpenAIModel = "gpt-4o-mini"
	openAISecretPath   = "/run/secrets/openai_api_key"
)

// OpenAIConfig configures OpenAIClient.
type OpenAIConfig struct {
	// APIKey falls back to OPENAI_API_KEY, then the container secret file.
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float32
	MaxTokens   int
}

// OpenAIClient implements ChatClient over the OpenAI chat completions API.
type OpenAIClient struct {
	client *openai.Client
	cfg    OpenAIConfig
}

// NewOpenAIClient resolves the API key and creates the client. The key is
// kept in a memguard enclave until the client is built.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	key, err := resolveAPIKey(cfg.APIKey)
	if err != nil {
		return nil, err
	}
	buf, err := key.Open()
	if err != nil {
		return nil, fmt.Errorf("open api key: %w", err)
	}
	clientCfg := openai.DefaultConfig(buf.String())
	buf.Destroy()

	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
		slog.Warn("OpenAI model not set, using default", slog.String("model", cfg.Model))
	}
	cfg.APIKey = ""
	slog.Info("Initializing OpenAI client", slog.String("model", cfg.Model))
	return &OpenAIClient{client: openai.NewClientWithConfig(clientCfg), cfg: cfg}, nil
}

func resolveAPIKey(explicit string) (*memguard.Enclave, error) {
	key := strings.TrimSpace(explicit)
	if key == "" {
		key = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}
	if key == "" {
		data, err := os.ReadFile(openAISecretPath)
		if err != nil {
			return nil, fmt.Errorf("%w: OPENAI_API_KEY not set and %s not readable", ErrUnavailable, openAISecretPath)
		}
		key = strings.TrimSpace(string(data))
		slog.Info("Read the OpenAI API key from container secrets")
	}
	return memguard.NewEnclave([]byte(key)), nil
}

// Chat implements ChatClient.
func (o *OpenAIClient) Chat(ctx context.Context, messages []Message) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       o.cfg.Model,
		Temperature: o.cfg.Temperature,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	if o.cfg.MaxTokens > 0 {
		req.MaxCompletionTokens = o.cfg.MaxTokens
	}
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleSystem {
			role = openai.ChatMessageRoleSystem
		}
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	slog.Debug("Received response from OpenAI", slog.String("finish_reason", string(resp.Choices[0].FinishReason)))
	return resp.Choices[0].Message.Content, nil
}
