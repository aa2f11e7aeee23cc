package obs

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

type AccessLogEntry struct {
	Timestamp         string `json:"ts"`
	RequestID         string `json:"request_id"`
	Method            string `json:"method"`
	Host              string `json:"host"`
	Path              string `json:"path"`
	Version           string `json:"version"`
	Strategy          string `json:"strategy"`
	Source            string `json:"source"`
	CacheStatus       string `json:"cache_status"`
	Destination       string `json:"destination"`
	PassthroughReason string `json:"passthrough_reason,omitempty"`
	Status            int    `json:"status"`
	DurationMS        int64  `json:"duration_ms"`
	BytesOut          int64  `json:"bytes_out"`
	ErrorCategory     string `json:"error_category"`
	UserAgent         string `json:"user_agent,omitempty"`
	RemoteAddr        string `json:"remote_addr,omitempty"`
}

type LogFileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

var (
	outputMu sync.RWMutex
	output   io.Writer
)

// SetOutput redirects access log lines. A nil writer restores stdout.
func SetOutput(w io.Writer) {
	outputMu.Lock()
	output = w
	outputMu.Unlock()
}

// OpenLogFile routes access logs into a size-rotated file and returns its
// closer.
func OpenLogFile(cfg LogFileConfig) io.Closer {
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 100
	}
	logger := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	SetOutput(logger)
	return logger
}

func currentOutput() io.Writer {
	outputMu.RLock()
	w := output
	outputMu.RUnlock()
	if w == nil {
		return os.Stdout
	}
	return w
}

func LogAccess(ctx RequestContext) {
	entry := AccessLogEntry{
		Timestamp:         time.Now().UTC().Format(time.RFC3339Nano),
		RequestID:         defaultString(ctx.RequestID, "none"),
		Method:            ctx.Method,
		Host:              ctx.Host,
		Path:              ctx.Path,
		Version:           defaultString(ctx.Version, "none"),
		Strategy:          defaultString(ctx.Strategy, "none"),
		Source:            defaultString(ctx.Source, "none"),
		CacheStatus:       defaultString(ctx.CacheStatus, "bypass"),
		Destination:       defaultString(ctx.Destination, "other"),
		PassthroughReason: ctx.PassthroughReason,
		Status:            ctx.Status,
		DurationMS:        ctx.Duration.Milliseconds(),
		BytesOut:          ctx.BytesOut,
		ErrorCategory:     defaultString(ctx.ErrorCategory, "none"),
		UserAgent:         ctx.UserAgent,
		RemoteAddr:        ctx.RemoteAddr,
	}

	w := currentOutput()
	data, err := json.Marshal(entry)
	if err != nil {
		_, _ = fmt.Fprintf(w, "log_marshal_error request_id=%s error=%v\n", entry.RequestID, err)
		return
	}
	outputMu.Lock()
	_, _ = w.Write(append(data, '\n'))
	outputMu.Unlock()
}

func defaultString(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
