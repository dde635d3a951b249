package model

import (
	"time"

	"gorm.io/datatypes"
)

const (
	QuestionTypeExplicit = "explicit"
	QuestionTypeImplicit = "implicit"
)

// Question is one extracted question or requirement with its draft answer.
type Question struct {
	ID             uint              `gorm:"primaryKey" json:"id"`
	DocumentID     uint              `gorm:"not null;index" json:"document_id"`
	Text           string            `gorm:"type:text;not null" json:"text"`
	Type           string            `gorm:"size:16;not null" json:"type"`
	Confidence     float64           `gorm:"not null" json:"confidence"`
	Answer         string            `gorm:"type:text;not null" json:"answer"`
	SourceDocument string            `gorm:"type:text;not null" json:"source_document"`
	Metadata       datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}
