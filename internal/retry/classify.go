package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// StatusError marks a completed response whose status is worth retrying.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d", e.Status)
}

// ClassifyError names a transient failure. Anything it does not recognise
// is permanent.
func ClassifyError(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.Status {
		case 408, 429, 502, 503, 504:
			return fmt.Sprintf("status_%d", statusErr.Status), true
		}
		return "", false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return "dial", true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout", true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout", true
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return "reset", true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return "eof", true
	}
	return "", false
}
