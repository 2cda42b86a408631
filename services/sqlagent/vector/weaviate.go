// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vector

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// DefaultClassName is the Weaviate class holding answered questions.
const DefaultClassName = "AnsweredQuery"

// WeaviateConfig configures the Weaviate-backed index.
type WeaviateConfig struct {
	// URL of the Weaviate server, e.g. "http://localhost:8080".
	URL string `yaml:"url"`

	// ClassName overrides DefaultClassName.
	ClassName string `yaml:"class_name"`

	// Vectorizer module for the question property. Default: text2vec-transformers.
	Vectorizer string `yaml:"vectorizer"`
}

// WeaviateIndex stores entries as Weaviate objects and searches with nearText.
//
// # Description
//
// Only the question text is vectorized; SQL and row counts are stored as
// plain properties. Similarity is Weaviate's certainty, which already lies
// in [0, 1].
//
// # Thread Safety
//
// Safe for concurrent use; the underlying client is goroutine-safe.
type WeaviateIndex struct {
	client     *weaviate.Client
	className  string
	vectorizer string
}

// NewWeaviateIndex connects to Weaviate. Call EnsureSchema before use.
func NewWeaviateIndex(cfg WeaviateConfig) (*WeaviateIndex, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("weaviate url is required")
	}
	wcfg := weaviate.Config{Scheme: "http", Host: cfg.URL}
	switch {
	case strings.HasPrefix(cfg.URL, "https://"):
		wcfg.Scheme = "https"
		wcfg.Host = strings.TrimPrefix(cfg.URL, "https://")
	case strings.HasPrefix(cfg.URL, "http://"):
		wcfg.Host = strings.TrimPrefix(cfg.URL, "http://")
	}

	client, err := weaviate.NewClient(wcfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return NewWeaviateIndexWithClient(client, cfg.ClassName, cfg.Vectorizer), nil
}

// NewWeaviateIndexWithClient wraps an existing client.
func NewWeaviateIndexWithClient(client *weaviate.Client, className, vectorizer string) *WeaviateIndex {
	if className == "" {
		className = DefaultClassName
	}
	if vectorizer == "" {
		vectorizer = "text2vec-transformers"
	}
	return &WeaviateIndex{client: client, className: className, vectorizer: vectorizer}
}

// Schema returns the class definition used by EnsureSchema.
func (w *WeaviateIndex) Schema() *models.Class {
	skip := map[string]interface{}{w.vectorizer: map[string]interface{}{"skip": true}}
	return &models.Class{
		Class:       w.className,
		Description: "Questions answered by the SQL agent and the SQL that answered them",
		Vectorizer:  w.vectorizer,
		Properties: []*models.Property{
			{Name: "entryId", DataType: []string{"text"}, Tokenization: "field", ModuleConfig: skip},
			{Name: "question", DataType: []string{"text"}, Description: "Natural-language question"},
			{Name: "sql", DataType: []string{"text"}, Description: "Final SQL", ModuleConfig: skip},
			{Name: "rowCount", DataType: []string{"int"}, ModuleConfig: skip},
		},
	}
}

// EnsureSchema creates the class if it does not exist. Idempotent.
func (w *WeaviateIndex) EnsureSchema(ctx context.Context) error {
	if _, err := w.client.Schema().ClassGetter().WithClassName(w.className).Do(ctx); err == nil {
		return nil
	}
	slog.Info("Creating weaviate class", slog.String("class", w.className))
	if err := w.client.Schema().ClassCreator().WithClass(w.Schema()).Do(ctx); err != nil {
		return fmt.Errorf("create class %s: %w", w.className, err)
	}
	return nil
}

// Ready reports whether the server answers its readiness probe.
func (w *WeaviateIndex) Ready(ctx context.Context) bool {
	ok, err := w.client.Misc().ReadyChecker().Do(ctx)
	return err == nil && ok
}

// Add implements Index. The entry ID must be a UUID.
func (w *WeaviateIndex) Add(ctx context.Context, e Entry) error {
	if strings.TrimSpace(e.Question) == "" {
		return ErrEmptyQuestion
	}
	props := map[string]interface{}{
		"entryId":  e.ID,
		"question": e.Question,
		"sql":      e.SQL,
		"rowCount": e.RowCount,
	}

	exists, err := w.client.Data().Checker().WithClassName(w.className).WithID(e.ID).Do(ctx)
	if err != nil {
		return fmt.Errorf("check entry %s: %w", e.ID, err)
	}
	if exists {
		err = w.client.Data().Updater().
			WithClassName(w.className).
			WithID(e.ID).
			WithProperties(props).
			Do(ctx)
	} else {
		_, err = w.client.Data().Creator().
			WithClassName(w.className).
			WithID(e.ID).
			WithProperties(props).
			Do(ctx)
	}
	if err != nil {
		return fmt.Errorf("store entry %s: %w", e.ID, err)
	}
	return nil
}

// Search implements Index.
func (w *WeaviateIndex) Search(ctx context.Context, question string, minSimilarity float64, limit int) ([]Match, error) {
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}
	if limit <= 0 {
		limit = 5
	}

	nearText := w.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{question}).
		WithCertainty(float32(minSimilarity))

	fields := []graphql.Field{
		{Name: "entryId"},
		{Name: "question"},
		{Name: "sql"},
		{Name: "rowCount"},
		{Name: "_additional { certainty }"},
	}

	result, err := w.client.GraphQL().Get().
		WithClassName(w.className).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("similar query search: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("similar query search: %s", result.Errors[0].Message)
	}
	return parseMatches(result, w.className), nil
}

func parseMatches(result *models.GraphQLResponse, className string) []Match {
	get, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	objects, ok := get[className].([]interface{})
	if !ok {
		return nil
	}

	matches := make([]Match, 0, len(objects))
	for _, raw := range objects {
		obj, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		m := Match{Entry: Entry{
			ID:       stringProp(obj, "entryId"),
			Question: stringProp(obj, "question"),
			SQL:      stringProp(obj, "sql"),
		}}
		if rc, ok := obj["rowCount"].(float64); ok {
			m.Entry.RowCount = int(rc)
		}
		if add, ok := obj["_additional"].(map[string]interface{}); ok {
			if c, ok := add["certainty"].(float64); ok {
				m.Similarity = c
			}
		}
		matches = append(matches, m)
	}
	return matches
}

func stringProp(obj map[string]interface{}, key string) string {
	s, _ := obj[key].(string)
	return s
}
