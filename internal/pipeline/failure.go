package pipeline

import (
	"context"
	"errors"

	"rfi-copilot/internal/ai"
	"rfi-copilot/internal/extract"
)

var (
	ErrAlreadyRunning = errors.New("a pipeline run is already active for this document")
	errDocumentGone   = errors.New("document was deleted during processing")
)

// Failure kinds stored in document metadata under "error_kind".
const (
	KindUnsupportedFormat = "unsupported_format"
	KindExtraction        = "extraction"
	KindOracleAuth        = "oracle_auth"
	KindOracleQuota       = "oracle_quota"
	KindDeleted           = "deleted"
	KindInterrupted       = "interrupted"
	KindInternal          = "internal"
)

// FailureMessage renders err as a message for end users plus its kind. The
// message prefix tells a provider outage apart from a problem with the file.
func FailureMessage(err error) (message, kind string) {
	switch {
	case errors.Is(err, extract.ErrUnsupportedFormat):
		return err.Error(), KindUnsupportedFormat
	case errors.Is(err, extract.ErrExtractionFailure):
		return err.Error(), KindExtraction
	case errors.Is(err, ai.ErrOracleAuth):
		return "model provider rejected credentials: " + err.Error(), KindOracleAuth
	case errors.Is(err, ai.ErrOracleQuota):
		return "model provider quota exhausted: " + err.Error(), KindOracleQuota
	case errors.Is(err, errDocumentGone):
		return errDocumentGone.Error(), KindDeleted
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "processing was interrupted, reprocess the document to retry", KindInterrupted
	default:
		return "processing failed: " + err.Error(), KindInternal
	}
}
