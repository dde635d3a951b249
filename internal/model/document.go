package model

import (
	"encoding/base64"
	"time"

	"gorm.io/datatypes"
)

const (
	DocumentStatusProcessing = "processing"
	DocumentStatusProcessed  = "processed"
	DocumentStatusError      = "error"
)

// Document is an uploaded RFI file. Content holds the raw payload base64 encoded.
type Document struct {
	ID          uint              `gorm:"primaryKey" json:"id"`
	Name        string            `gorm:"size:256;not null" json:"name"`
	ContentType string            `gorm:"size:128;not null" json:"content_type"`
	Size        int64             `gorm:"not null;default:0" json:"size"`
	Content     string            `gorm:"not null" json:"-"`
	Status      string            `gorm:"size:16;not null;index" json:"status"`
	Metadata    datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// ErrorMessage returns the failure reason recorded by the pipeline, if any.
func (d *Document) ErrorMessage() string {
	if d.Metadata == nil {
		return ""
	}
	if msg, ok := d.Metadata["error"].(string); ok {
		return msg
	}
	return ""
}

// EncodeContent is the storage encoding of a raw upload.
func EncodeContent(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// Payload decodes the stored upload back into its original bytes.
func (d *Document) Payload() ([]byte, error) {
	return base64.StdEncoding.DecodeString(d.Content)
}
