package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completer is the generative oracle.
type Completer interface {
	Complete(ctx context.Context, messages []ChatMessage) (string, error)
}

// Embedder is the embedding oracle.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BatchEmbedder embeds several texts in one request, returning vectors in
// input order.
type BatchEmbedder interface {
	Embedder
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type ClientOptions struct {
	BaseURL           string
	APIKey            string
	Model             string
	EmbeddingModel    string
	Temperature       float64
	RequestTimeout    time.Duration
	RequestsPerSecond float64
	Burst             int
	Retry             RetryPolicy
	HTTPClient        *http.Client
}

type OpenAICompatibleClient struct {
	httpClient  *http.Client
	limiter     *rate.Limiter
	retry       RetryPolicy
	baseURL     string
	apiKey      string
	model       string
	embedModel  string
	temperature float64
}

var (
	_ Completer = (*OpenAICompatibleClient)(nil)
	_ Embedder  = (*OpenAICompatibleClient)(nil)
)

// NewOpenAICompatibleClient fails when the credential or endpoint is missing so
// misconfiguration surfaces at startup instead of on the first document.
func NewOpenAICompatibleClient(opts ClientOptions) (*OpenAICompatibleClient, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("llm api key is not configured")
	}
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, errors.New("llm base url is not configured")
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 90 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.RequestTimeout}
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	retry := opts.Retry
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryPolicy()
	}

	return &OpenAICompatibleClient{
		httpClient:  httpClient,
		limiter:     rate.NewLimiter(limit, burst),
		retry:       retry,
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		apiKey:      opts.APIKey,
		model:       opts.Model,
		embedModel:  opts.EmbeddingModel,
		temperature: opts.Temperature,
	}, nil
}

func (c *OpenAICompatibleClient) Complete(ctx context.Context, messages []ChatMessage) (string, error) {
	reqBody := map[string]interface{}{
		"model":       c.model,
		"messages":    messages,
		"stream":      false,
		"temperature": c.temperature,
	}

	return Retry(ctx, c.retry, func() (string, error) {
		raw, err := c.post(ctx, "/chat/completions", reqBody)
		if err != nil {
			return "", err
		}

		var parsed struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		}
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return "", &OracleError{Kind: ErrOracleTransient, Err: fmt.Errorf("parse llm json failed: %w", err)}
		}
		if len(parsed.Choices) == 0 {
			return "", &OracleError{Kind: ErrOracleEmpty, Body: string(raw)}
		}
		return parsed.Choices[0].Message.Content, nil
	})
}

// post sends one JSON request and returns the raw body of a 2xx response.
// Non-2xx responses are classified into the oracle error taxonomy.
func (c *OpenAICompatibleClient) post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for rate limiter failed: %w", err)
	}

	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal llm request failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("build llm request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport(ctx, fmt.Errorf("read llm response failed: %w", err))
	}
	if resp.StatusCode >= 300 {
		return nil, classifyStatus(resp.StatusCode, raw)
	}
	return raw, nil
}
