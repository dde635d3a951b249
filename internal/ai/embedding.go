package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var _ BatchEmbedder = (*OpenAICompatibleClient)(nil)

// Embed returns the embedding vector for the given text.
func (c *OpenAICompatibleClient) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("embedding input is empty")
	}

	reqBody := map[string]interface{}{
		"model": c.embedModel,
		"input": text,
	}
	return Retry(ctx, c.retry, func() ([]float32, error) {
		raw, err := c.post(ctx, "/embeddings", reqBody)
		if err != nil {
			return nil, err
		}
		vectors, err := parseEmbeddings(raw)
		if err != nil {
			return nil, err
		}
		if len(vectors) == 0 || len(vectors[0]) == 0 {
			return nil, &OracleError{Kind: ErrOracleEmpty, Body: string(raw)}
		}
		return vectors[0], nil
	})
}

// EmbedBatch returns embeddings for multiple texts in input order.
func (c *OpenAICompatibleClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	trimmed := make([]string, 0, len(texts))
	for _, t := range texts {
		s := strings.TrimSpace(t)
		if s == "" {
			return nil, errors.New("embedding batch contains an empty text")
		}
		trimmed = append(trimmed, s)
	}

	reqBody := map[string]interface{}{
		"model": c.embedModel,
		"input": trimmed,
	}
	return Retry(ctx, c.retry, func() ([][]float32, error) {
		raw, err := c.post(ctx, "/embeddings", reqBody)
		if err != nil {
			return nil, err
		}
		vectors, err := parseEmbeddings(raw)
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(trimmed) {
			return nil, &OracleError{Kind: ErrOracleEmpty, Err: fmt.Errorf("embedding count mismatch: got %d, want %d", len(vectors), len(trimmed))}
		}
		return vectors, nil
	})
}

func parseEmbeddings(raw []byte) ([][]float32, error) {
	var parsed struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &OracleError{Kind: ErrOracleTransient, Err: fmt.Errorf("parse embedding json failed: %w", err)}
	}
	result := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		idx := d.Index
		if idx < 0 || idx >= len(result) || result[idx] != nil {
			idx = i
		}
		result[idx] = d.Embedding
	}
	return result, nil
}
