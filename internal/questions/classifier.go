// Package questions finds explicit questions and implicit requirements in
// document chunks and drafts answers for them.
package questions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"rfi-copilot/internal/ai"
	"rfi-copilot/internal/chunk"
)

// Classifier returns the validated questions found in one chunk. An error
// wrapping ErrMalformedOutput means the chunk contributed nothing; oracle
// errors are returned as is so callers can tell fatal from transient.
type Classifier interface {
	Classify(ctx context.Context, ch chunk.Chunk) ([]ProcessedQuestion, error)
}

// Retriever supplies knowledge-base snippets related to a query.
type Retriever interface {
	Snippets(ctx context.Context, query string, k int) ([]string, error)
}

type LLMOptions struct {
	// Timeout bounds one oracle call, retries included.
	Timeout   time.Duration
	Retriever Retriever
	TopK      int
	Logger    *zap.Logger
}

type LLMClassifier struct {
	completer ai.Completer
	timeout   time.Duration
	retriever Retriever
	topK      int
	logger    *zap.Logger
}

func NewLLMClassifier(completer ai.Completer, opts LLMOptions) *LLMClassifier {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &LLMClassifier{
		completer: completer,
		timeout:   opts.Timeout,
		retriever: opts.Retriever,
		topK:      opts.TopK,
		logger:    opts.Logger,
	}
}

func (c *LLMClassifier) Classify(ctx context.Context, ch chunk.Chunk) ([]ProcessedQuestion, error) {
	messages := buildMessages(ch, c.grounding(ctx, ch))

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	raw, err := c.completer.Complete(callCtx, messages)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("classify chunk %d timed out after %s: %w", ch.Index, c.timeout, ai.ErrOracleTransient)
		}
		return nil, fmt.Errorf("classify chunk %d failed: %w", ch.Index, err)
	}

	records, err := ParseRecords(raw)
	if err != nil {
		c.logger.Warn("model output is not a record array",
			zap.Int("chunk_index", ch.Index),
			zap.String("output", excerpt(raw)),
		)
		return nil, fmt.Errorf("chunk %d: %w", ch.Index, err)
	}

	valid, rejected := ValidateAll(records)
	for _, reason := range rejected {
		c.logger.Warn("question record rejected", zap.Int("chunk_index", ch.Index), zap.Error(reason))
	}
	return attribute(valid, ch), nil
}

// grounding fetches reference snippets; failures only cost answer quality.
func (c *LLMClassifier) grounding(ctx context.Context, ch chunk.Chunk) []string {
	if c.retriever == nil || c.topK <= 0 {
		return nil
	}
	snippets, err := c.retriever.Snippets(ctx, ch.Text, c.topK)
	if err != nil {
		c.logger.Warn("knowledge base lookup failed", zap.Int("chunk_index", ch.Index), zap.Error(err))
		return nil
	}
	return snippets
}

// attribute ties each question to its chunk and prefixes the model's
// location hint with the chunk citation.
func attribute(qs []ProcessedQuestion, ch chunk.Chunk) []ProcessedQuestion {
	citation := ch.Citation()
	for i := range qs {
		qs[i].ChunkIndex = ch.Index
		if citation != "" && !strings.Contains(qs[i].SourceDocument, citation) {
			qs[i].SourceDocument = citation + " - " + qs[i].SourceDocument
		}
	}
	return qs
}
