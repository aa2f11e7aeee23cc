package retry

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func TestDoRetriesTransientErrors(t *testing.T) {
	calls := 0
	var reasons []string
	retries, err := Do(context.Background(), Policy{Attempts: 3, Backoff: time.Millisecond}, func(reason string) {
		reasons = append(reasons, reason)
	}, func(context.Context) error {
		calls++
		if calls < 3 {
			return io.ErrUnexpectedEOF
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if retries != 2 || calls != 3 {
		t.Fatalf("expected 2 retries over 3 calls, got %d/%d", retries, calls)
	}
	if len(reasons) != 2 || reasons[0] != "eof" {
		t.Fatalf("unexpected reasons %v", reasons)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	permanent := errors.New("bad request")
	retries, err := Do(context.Background(), Policy{Attempts: 5}, nil, func(context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) || retries != 0 || calls != 1 {
		t.Fatalf("expected a single attempt, got calls=%d retries=%d err=%v", calls, retries, err)
	}
}

func TestDoHonorsAttempts(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Policy{Attempts: 2}, nil, func(context.Context) error {
		calls++
		return &StatusError{Status: 503}
	})
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Status != 503 {
		t.Fatalf("expected last status error, got %v", err)
	}
}

func TestDoStopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, _ = Do(ctx, Policy{Attempts: 10, Backoff: time.Hour}, nil, func(context.Context) error {
		calls++
		cancel()
		return io.EOF
	})
	if calls != 1 {
		t.Fatalf("expected cancellation to stop retries, got %d calls", calls)
	}
}

func TestClassifyStatus(t *testing.T) {
	if _, ok := ClassifyError(&StatusError{Status: 404}); ok {
		t.Fatalf("404 must not be retried")
	}
	if reason, ok := ClassifyError(&StatusError{Status: 503}); !ok || reason != "status_503" {
		t.Fatalf("unexpected classification %q %v", reason, ok)
	}
}
