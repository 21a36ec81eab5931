package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/kirillkom/doc-converter/internal/core/domain"
)

// HTTPStatusError is a non-2xx answer from the server. Message holds the
// "error" field of Ollama's JSON error body, or the raw body otherwise.
type HTTPStatusError struct {
	Operation  string
	StatusCode int
	Message    string
}

func (e *HTTPStatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("ollama %s: status %d", e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("ollama %s: status %d: %s", e.Operation, e.StatusCode, e.Message)
}

func newHTTPStatusError(operation string, statusCode int, body []byte) *HTTPStatusError {
	message := strings.TrimSpace(string(body))
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		message = payload.Error
	}
	return &HTTPStatusError{Operation: operation, StatusCode: statusCode, Message: message}
}

// modelGone reports answers meaning the requested model cannot serve the
// request at all, as opposed to a malformed request.
func (e *HTTPStatusError) modelGone() bool {
	if e.StatusCode == http.StatusNotFound {
		return true
	}
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "model") &&
		(strings.Contains(msg, "not found") || strings.Contains(msg, "does not support") || strings.Contains(msg, "out of memory"))
}

// classifyToDomain maps transport failures onto the error taxonomy the
// resilience executor and the engine act on.
func classifyToDomain(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.WrapError(domain.ErrTimeout, operation, err)
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.modelGone():
			return domain.WrapError(domain.ErrModelUnavailable, operation, err)
		case isRetryableHTTPStatus(statusErr.StatusCode):
			return domain.WrapError(domain.ErrTemporary, operation, err)
		case statusErr.StatusCode >= 500:
			return domain.WrapError(domain.ErrModelUnavailable, operation, err)
		default:
			return domain.WrapError(domain.ErrInvalidInput, operation, err)
		}
	}

	var decodeErr *decodeError
	if errors.As(err, &decodeErr) {
		return domain.WrapError(domain.ErrModelUnavailable, operation, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}

	return domain.WrapError(domain.ErrModelUnavailable, operation, err)
}

func isRetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
