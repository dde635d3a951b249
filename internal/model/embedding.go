package model

import (
	"time"
)

// QuestionEmbedding stores one question-like snippet of a ContextEntry.
type QuestionEmbedding struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ContextID uint      `gorm:"not null;index" json:"context_id"`
	Text      string    `gorm:"type:text;not null" json:"text"`
	Embedding Vector    `gorm:"not null" json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// AnswerEmbedding stores one statement snippet of a ContextEntry.
type AnswerEmbedding struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ContextID uint      `gorm:"not null;index" json:"context_id"`
	Text      string    `gorm:"type:text;not null" json:"text"`
	Embedding Vector    `gorm:"not null" json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Corpus selects one of the two embedding tables.
type Corpus string

const (
	CorpusQuestions Corpus = "questions"
	CorpusAnswers   Corpus = "answers"
)

func (c Corpus) Table() string {
	if c == CorpusQuestions {
		return "question_embeddings"
	}
	return "answer_embeddings"
}
