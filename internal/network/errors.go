package network

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net"
	"net/http"
)

const RequestIDHeader = "X-Request-Id"

type contextKey string

const requestIDKey contextKey = "request_id"

type ErrorBody struct {
	Status        int    `json:"status"`
	RequestID     string `json:"request_id"`
	ErrorCategory string `json:"error_category"`
	Message       string `json:"message"`
}

func WriteError(w http.ResponseWriter, requestID string, status int, category string, message string) {
	if recorder, ok := w.(errorCategoryWriter); ok {
		recorder.SetErrorCategory(category)
	}
	w.Header().Set(RequestIDHeader, requestID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorBody{
		Status:        status,
		RequestID:     requestID,
		ErrorCategory: category,
		Message:       message,
	})
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) (string, bool) {
	value, ok := ctx.Value(requestIDKey).(string)
	return value, ok
}

func NewRequestID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf)
}

// Category maps a fetch error to a metrics/log label.
func Category(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrTooLarge):
		return "too_large"
	case errors.Is(err, ErrOriginUnavailable):
		return "breaker_open"
	case errors.Is(err, context.Canceled):
		return "client_canceled"
	case isTimeoutError(err) || errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case isDialError(err):
		return "connect_failed"
	default:
		return "other"
	}
}

func isTimeoutError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func isDialError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial"
	}
	return false
}
