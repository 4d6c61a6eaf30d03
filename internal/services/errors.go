package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
)

var (
	// ErrTransient marks failures worth retrying against the same provider:
	// network errors, timeouts, and 5xx responses.
	ErrTransient = errors.New("transient failure")
	// ErrTerminal marks failures that must not be retried against the same
	// provider: auth errors, validation rejections, and other 4xx responses.
	ErrTerminal = errors.New("terminal failure")
	// ErrInvalidInput marks malformed source material. Jobs fail immediately.
	ErrInvalidInput = errors.New("invalid input")
	// ErrExhausted marks a unit of work for which every provider/retry
	// combination has failed.
	ErrExhausted = errors.New("providers exhausted")
	// ErrConfiguration marks startup configuration problems.
	ErrConfiguration = errors.New("configuration error")
	// ErrNotFound marks missing upstream resources.
	ErrNotFound = errors.New("not found")
	// ErrRestricted marks sources that exist but require authentication or
	// membership the daemon does not have.
	ErrRestricted = errors.New("access restricted")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsRetriable reports whether an error should consume retry budget on the
// same provider. Terminal, invalid-input, and context errors never retry.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTerminal) || errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrConfiguration) || errors.Is(err, ErrRestricted) {
		return false
	}
	// Explicit markers win: a per-call timeout wrapped as transient retries
	// even though it carries context.DeadlineExceeded underneath.
	if errors.Is(err, ErrTransient) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Timeout()
	}
	return false
}

// ClassifyHTTPStatus maps a response status code to the retry taxonomy.
// 2xx yields nil; 408, 429, and 5xx are transient; remaining 4xx terminal.
func ClassifyHTTPStatus(code int) error {
	switch {
	case code < http.StatusMultipleChoices:
		return nil
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= http.StatusInternalServerError:
		return ErrTransient
	default:
		return ErrTerminal
	}
}

// ProviderFailure records the last error observed for one provider while a
// unit of work was being attempted.
type ProviderFailure struct {
	Provider string
	Err      error
}

// ExhaustionError reports that every eligible provider failed for one chunk.
// It names the chunk and the last error from each attempted provider so a
// human can decide whether the whole job is worth retrying.
type ExhaustionError struct {
	Capability string
	ChunkIndex int
	Failures   []ProviderFailure
}

func (e *ExhaustionError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s exhausted for chunk %d", e.Capability, e.ChunkIndex)
	for _, failure := range e.Failures {
		fmt.Fprintf(&sb, "; %s: %v", failure.Provider, failure.Err)
	}
	return sb.String()
}

// Is lets errors.Is match ExhaustionError against the ErrExhausted sentinel.
func (e *ExhaustionError) Is(target error) bool {
	return target == ErrExhausted
}

// LastProvider returns the name of the provider attempted last, or "".
func (e *ExhaustionError) LastProvider() string {
	if len(e.Failures) == 0 {
		return ""
	}
	return e.Failures[len(e.Failures)-1].Provider
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
