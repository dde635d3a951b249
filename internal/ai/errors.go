package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrOracleAuth means the provider rejected our credentials. Retrying is
	// pointless and every later call will fail the same way.
	ErrOracleAuth = errors.New("oracle authentication failed")
	// ErrOracleQuota means the account ran out of quota or credit.
	ErrOracleQuota = errors.New("oracle quota exhausted")
	// ErrOracleTransient covers rate limiting, timeouts, 5xx and network errors.
	ErrOracleTransient = errors.New("oracle temporarily unavailable")
	// ErrOracleRequest is a non-retryable rejection of one specific request.
	ErrOracleRequest = errors.New("oracle rejected request")
	// ErrOracleEmpty means the provider answered 2xx without usable content.
	ErrOracleEmpty = errors.New("oracle returned empty response")
)

// OracleError carries the provider response that caused a failure.
type OracleError struct {
	Kind       error
	StatusCode int
	Body       string
	Err        error
}

func (e *OracleError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	} else if e.Body != "" {
		b.WriteString(": ")
		b.WriteString(truncate(e.Body, 300))
	}
	return b.String()
}

func (e *OracleError) Is(target error) bool {
	return target == e.Kind
}

func (e *OracleError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err should stop all work for a document rather than
// a single chunk or snippet.
func IsFatal(err error) bool {
	return errors.Is(err, ErrOracleAuth) || errors.Is(err, ErrOracleQuota)
}

// IsRetryable is the default retry predicate.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrOracleTransient)
}

func classifyStatus(status int, body []byte) error {
	text := string(body)
	lower := strings.ToLower(text)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &OracleError{Kind: ErrOracleAuth, StatusCode: status, Body: text}
	case status == http.StatusPaymentRequired:
		return &OracleError{Kind: ErrOracleQuota, StatusCode: status, Body: text}
	case status == http.StatusTooManyRequests:
		if strings.Contains(lower, "insufficient_quota") || strings.Contains(lower, "quota") || strings.Contains(lower, "billing") {
			return &OracleError{Kind: ErrOracleQuota, StatusCode: status, Body: text}
		}
		return &OracleError{Kind: ErrOracleTransient, StatusCode: status, Body: text}
	case status == http.StatusRequestTimeout || status >= 500:
		return &OracleError{Kind: ErrOracleTransient, StatusCode: status, Body: text}
	default:
		return &OracleError{Kind: ErrOracleRequest, StatusCode: status, Body: text}
	}
}

func classifyTransport(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(ctxErr, context.Canceled) {
		return ctxErr
	}
	return &OracleError{Kind: ErrOracleTransient, Err: err}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
