package questions

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"

	"rfi-copilot/internal/model"
)

var (
	// ErrMalformedOutput means the oracle reply held no parseable record array.
	ErrMalformedOutput = errors.New("malformed model output")
	ErrInvalidRecord   = errors.New("invalid question record")
)

// ProcessedQuestion is a record that passed validation.
type ProcessedQuestion struct {
	Text           string  `json:"question" validate:"required"`
	Type           string  `json:"type" validate:"oneof=explicit implicit"`
	Confidence     float64 `json:"confidence" validate:"gte=0,lte=1"`
	Answer         string  `json:"answer" validate:"required"`
	SourceDocument string  `json:"source_document" validate:"required"`
	ChunkIndex     int     `json:"-"`
}

// Model converts q into a row owned by documentID.
func (q ProcessedQuestion) Model(documentID uint) model.Question {
	return model.Question{
		DocumentID:     documentID,
		Text:           q.Text,
		Type:           q.Type,
		Confidence:     q.Confidence,
		Answer:         q.Answer,
		SourceDocument: q.SourceDocument,
		Metadata:       map[string]interface{}{"chunk_index": q.ChunkIndex},
	}
}

// ValidationError explains why one record was dropped.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid question record: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidRecord
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ParseRecords decodes the oracle reply as a JSON array. When the reply is
// not a bare array, the first well-formed array of objects embedded in it is
// used instead (code fences, leading prose). An object wrapping the array
// under "questions" is also accepted.
func ParseRecords(raw string) ([]interface{}, error) {
	trimmed := strings.TrimSpace(raw)
	if v, ok := decodeValue(trimmed, true); ok {
		switch t := v.(type) {
		case []interface{}:
			return t, nil
		case map[string]interface{}:
			if arr, ok := t["questions"].([]interface{}); ok {
				return arr, nil
			}
		}
	}

	for i := 0; i < len(raw); i++ {
		if raw[i] != '[' {
			continue
		}
		v, ok := decodeValue(raw[i:], false)
		if !ok {
			continue
		}
		if arr, ok := v.([]interface{}); ok && allObjects(arr) {
			return arr, nil
		}
	}
	return nil, ErrMalformedOutput
}

// decodeValue decodes one JSON value from s. With whole set, trailing
// non-space content is an error.
func decodeValue(s string, whole bool) (interface{}, bool) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	if whole {
		var extra json.RawMessage
		if err := dec.Decode(&extra); err != io.EOF {
			return nil, false
		}
	}
	return v, true
}

func allObjects(arr []interface{}) bool {
	for _, item := range arr {
		if _, ok := item.(map[string]interface{}); !ok {
			return false
		}
	}
	return true
}

// ValidateRecord turns one untyped record into a ProcessedQuestion or
// reports the first field that is missing or out of contract.
func ValidateRecord(rec interface{}) (ProcessedQuestion, error) {
	m, ok := rec.(map[string]interface{})
	if !ok {
		return ProcessedQuestion{}, &ValidationError{Field: "record", Reason: "is not an object"}
	}

	var (
		q   ProcessedQuestion
		err error
	)
	if q.Text, err = stringField(m, "question", "text"); err != nil {
		return ProcessedQuestion{}, err
	}
	if q.Type, err = stringField(m, "type"); err != nil {
		return ProcessedQuestion{}, err
	}
	q.Type = strings.ToLower(q.Type)
	if q.Confidence, err = confidenceField(m); err != nil {
		return ProcessedQuestion{}, err
	}
	if q.Answer, err = stringField(m, "answer"); err != nil {
		return ProcessedQuestion{}, err
	}
	if q.SourceDocument, err = stringField(m, "source_document", "source"); err != nil {
		return ProcessedQuestion{}, err
	}

	if err := validate.Struct(q); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return ProcessedQuestion{}, &ValidationError{Field: verrs[0].Field(), Reason: "failed " + verrs[0].Tag()}
		}
		return ProcessedQuestion{}, &ValidationError{Field: "record", Reason: err.Error()}
	}
	return q, nil
}

// lookup finds the first present key, ignoring case.
func lookup(m map[string]interface{}, names ...string) (interface{}, string, bool) {
	for _, name := range names {
		if v, ok := m[name]; ok {
			return v, name, true
		}
		for k, v := range m {
			if strings.EqualFold(k, name) {
				return v, name, true
			}
		}
	}
	return nil, names[0], false
}

func stringField(m map[string]interface{}, names ...string) (string, error) {
	v, name, ok := lookup(m, names...)
	if !ok || v == nil {
		return "", &ValidationError{Field: name, Reason: "is missing"}
	}
	s, ok := v.(string)
	if !ok {
		return "", &ValidationError{Field: name, Reason: fmt.Sprintf("must be a string, got %T", v)}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", &ValidationError{Field: name, Reason: "is empty"}
	}
	return s, nil
}

func confidenceField(m map[string]interface{}) (float64, error) {
	v, _, ok := lookup(m, "confidence")
	if !ok || v == nil {
		return 0, &ValidationError{Field: "confidence", Reason: "is missing"}
	}
	var f float64
	switch n := v.(type) {
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, &ValidationError{Field: "confidence", Reason: "is not a number"}
		}
		f = parsed
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	default:
		return 0, &ValidationError{Field: "confidence", Reason: fmt.Sprintf("must be a number, got %T", v)}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f > 1 {
		return 0, &ValidationError{Field: "confidence", Reason: fmt.Sprintf("%v is outside [0, 1]", f)}
	}
	return f, nil
}

// ValidateAll keeps the records that pass validation and returns the
// rejection reasons of the rest.
func ValidateAll(records []interface{}) ([]ProcessedQuestion, []error) {
	var (
		out      []ProcessedQuestion
		rejected []error
	)
	for _, rec := range records {
		q, err := ValidateRecord(rec)
		if err != nil {
			rejected = append(rejected, err)
			continue
		}
		out = append(out, q)
	}
	return out, rejected
}

// excerpt shortens raw oracle output for log lines.
func excerpt(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) > 200 {
		return raw[:200] + "..."
	}
	return raw
}
