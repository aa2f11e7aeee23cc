package obs

import "time"

type RequestContext struct {
	RequestID         string
	Method            string
	Host              string
	Path              string
	Version           string
	Strategy          string
	Source            string
	CacheStatus       string
	Destination       string
	PassthroughReason string
	Status            int
	Duration          time.Duration
	BytesOut          int64
	ErrorCategory     string
	UserAgent         string
	RemoteAddr        string
}
