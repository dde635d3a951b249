package app

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"rfi-copilot/internal/extract"
)

// UploadFile is one file received from a client.
type UploadFile struct {
	Name        string
	ContentType string
	Data        []byte
}

var extensionTypes = map[string]string{
	".docx": extract.MediaTypeDOCX,
	".doc":  extract.MediaTypeDOC,
	".xlsx": extract.MediaTypeXLSX,
	".xls":  extract.MediaTypeXLS,
	".pdf":  extract.MediaTypePDF,
}

// IntakePolicy guards what may enter the pipeline.
type IntakePolicy struct {
	MaxFileBytes int64
}

// Admit checks size and resolves the media type of f. A generic or missing
// declared type is replaced by content sniffing, then by the file extension.
// The returned type may still be unsupported; callers decide what to do with
// such files.
func (p IntakePolicy) Admit(f UploadFile) (string, error) {
	if strings.TrimSpace(f.Name) == "" {
		return "", fmt.Errorf("%w: file name is required", ErrInvalidInput)
	}
	if len(f.Data) == 0 {
		return "", fmt.Errorf("%w: %s is empty", ErrInvalidInput, f.Name)
	}
	if p.MaxFileBytes > 0 && int64(len(f.Data)) > p.MaxFileBytes {
		return "", fmt.Errorf("%w: %s is %d bytes, limit is %d", ErrFileTooLarge, f.Name, len(f.Data), p.MaxFileBytes)
	}

	mediaType := extract.NormalizeMediaType(f.ContentType)
	if mediaType != "" && mediaType != "application/octet-stream" {
		return mediaType, nil
	}
	if sniffed := extract.NormalizeMediaType(mimetype.Detect(f.Data).String()); extract.Supports(sniffed) {
		return sniffed, nil
	}
	if byExt, ok := extensionTypes[strings.ToLower(filepath.Ext(f.Name))]; ok {
		return byExt, nil
	}
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	return mediaType, nil
}
