package questions

import (
	"context"

	"go.uber.org/zap"

	"rfi-copilot/internal/ai"
	"rfi-copilot/internal/chunk"
)

// HybridClassifier uses the primary classifier and falls back to the
// secondary one for chunks where the primary failed without a fatal error.
type HybridClassifier struct {
	primary  Classifier
	fallback Classifier
	logger   *zap.Logger
}

func NewHybridClassifier(primary, fallback Classifier, logger *zap.Logger) *HybridClassifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HybridClassifier{primary: primary, fallback: fallback, logger: logger}
}

func (h *HybridClassifier) Classify(ctx context.Context, ch chunk.Chunk) ([]ProcessedQuestion, error) {
	qs, err := h.primary.Classify(ctx, ch)
	if err == nil {
		return qs, nil
	}
	if ai.IsFatal(err) || ctx.Err() != nil {
		return nil, err
	}
	h.logger.Info("primary classifier failed, using fallback",
		zap.Int("chunk_index", ch.Index),
		zap.Error(err),
	)
	return h.fallback.Classify(ctx, ch)
}
