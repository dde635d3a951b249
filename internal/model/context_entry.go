package model

import (
	"time"

	"gorm.io/datatypes"
)

const (
	ContextSourceKnowledgeBase = "knowledge_base"
	ContextSourceWebsite       = "website"
	ContextSourceDocument      = "document"
)

// ContextEntry is one knowledge-base item used to ground generated answers.
type ContextEntry struct {
	ID         uint              `gorm:"primaryKey" json:"id"`
	Title      string            `gorm:"size:512;not null" json:"title"`
	Content    string            `gorm:"not null" json:"content"`
	SourceType string            `gorm:"size:32;not null;index" json:"source_type"`
	Metadata   datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`

	QuestionEmbeddings []QuestionEmbedding `gorm:"foreignKey:ContextID;constraint:OnDelete:CASCADE" json:"-"`
	AnswerEmbeddings   []AnswerEmbedding   `gorm:"foreignKey:ContextID;constraint:OnDelete:CASCADE" json:"-"`
}
