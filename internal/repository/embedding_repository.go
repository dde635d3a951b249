package repository

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"rfi-copilot/internal/model"
)

// ScoredSnippet is one embedding row ranked against a query vector.
type ScoredSnippet struct {
	ID         uint         `json:"id"`
	ContextID  uint         `json:"context_id"`
	Text       string       `json:"text"`
	Similarity float64      `json:"similarity"`
	Corpus     model.Corpus `gorm:"-" json:"corpus"`
}

type EmbeddingRepository struct {
	db *gorm.DB
}

func NewEmbeddingRepository(db *gorm.DB) *EmbeddingRepository {
	return &EmbeddingRepository{db: db}
}

func (r *EmbeddingRepository) Insert(ctx context.Context, corpus model.Corpus, contextID uint, text string, vec []float32) error {
	var row interface{}
	switch corpus {
	case model.CorpusQuestions:
		row = &model.QuestionEmbedding{ContextID: contextID, Text: text, Embedding: model.NewVector(vec)}
	case model.CorpusAnswers:
		row = &model.AnswerEmbedding{ContextID: contextID, Text: text, Embedding: model.NewVector(vec)}
	default:
		return fmt.Errorf("unknown corpus %q", corpus)
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("create %s embedding failed: %w", corpus, err)
	}
	return nil
}

func (r *EmbeddingRepository) DeleteByContextID(ctx context.Context, contextID uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("context_id = ?", contextID).Delete(&model.QuestionEmbedding{}).Error; err != nil {
			return fmt.Errorf("delete question embeddings failed: %w", err)
		}
		if err := tx.Where("context_id = ?", contextID).Delete(&model.AnswerEmbedding{}).Error; err != nil {
			return fmt.Errorf("delete answer embeddings failed: %w", err)
		}
		return nil
	})
}

func (r *EmbeddingRepository) CountByContextID(ctx context.Context, corpus model.Corpus, contextID uint) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Table(corpus.Table()).Where("context_id = ?", contextID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count %s embeddings failed: %w", corpus, err)
	}
	return count, nil
}

// Nearest returns the k rows of corpus most similar to query by cosine
// similarity, best first.
func (r *EmbeddingRepository) Nearest(ctx context.Context, corpus model.Corpus, query []float32, k int) ([]ScoredSnippet, error) {
	if k <= 0 || len(query) == 0 {
		return nil, nil
	}
	var (
		out []ScoredSnippet
		err error
	)
	if r.db.Dialector.Name() == "postgres" {
		out, err = r.nearestPgvector(ctx, corpus, query, k)
	} else {
		out, err = r.nearestInProcess(ctx, corpus, query, k)
	}
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Corpus = corpus
	}
	return out, nil
}

func (r *EmbeddingRepository) nearestPgvector(ctx context.Context, corpus model.Corpus, query []float32, k int) ([]ScoredSnippet, error) {
	vec := pgvector.NewVector(query)
	var out []ScoredSnippet
	err := r.db.WithContext(ctx).
		Table(corpus.Table()).
		Select("id, context_id, text, 1 - (embedding <=> ?) AS similarity", vec).
		Order(gorm.Expr("embedding <=> ?", vec)).
		Limit(k).
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("search %s embeddings failed: %w", corpus, err)
	}
	return out, nil
}

type embeddingRow struct {
	ID        uint
	ContextID uint
	Text      string
	Embedding model.Vector
}

func (r *EmbeddingRepository) nearestInProcess(ctx context.Context, corpus model.Corpus, query []float32, k int) ([]ScoredSnippet, error) {
	var rows []embeddingRow
	if err := r.db.WithContext(ctx).Table(corpus.Table()).Select("id, context_id, text, embedding").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("load %s embeddings failed: %w", corpus, err)
	}

	scored := make([]ScoredSnippet, 0, len(rows))
	for _, row := range rows {
		vec := row.Embedding.Slice()
		if len(vec) != len(query) {
			continue
		}
		scored = append(scored, ScoredSnippet{
			ID:         row.ID,
			ContextID:  row.ContextID,
			Text:       row.Text,
			Similarity: CosineSimilarity(query, vec),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Similarity == scored[j].Similarity {
			return scored[i].ID < scored[j].ID
		}
		return scored[i].Similarity > scored[j].Similarity
	})
	if k < len(scored) {
		scored = scored[:k]
	}
	return scored, nil
}

// CosineSimilarity returns 0 for mismatched or zero vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA <= 0 || normB <= 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
