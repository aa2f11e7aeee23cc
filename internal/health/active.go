package health

import (
	"net/http"
	"time"
)

const (
	defaultProbeInterval = 5 * time.Second
	defaultProbeTimeout  = 2 * time.Second
)

type ProbeConfig struct {
	Path     string
	Interval time.Duration
	Timeout  time.Duration
}

// OriginProbeLoop polls origin+path until stop closes. Any 2xx or 3xx
// answer counts as reachable.
func OriginProbeLoop(cfg ProbeConfig, origin string, stop <-chan struct{}, onSuccess func(), onFailure func()) {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultProbeInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultProbeTimeout
	}
	client := &http.Client{Timeout: cfg.Timeout}
	path := cfg.Path
	if path == "" {
		path = "/"
	}

	safeProbe(client, origin, path, onSuccess, onFailure)
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			safeProbe(client, origin, path, onSuccess, onFailure)
		}
	}
}

func safeProbe(client *http.Client, origin string, path string, onSuccess func(), onFailure func()) {
	defer func() {
		if recover() != nil {
			onFailure()
		}
	}()

	req, err := http.NewRequest(http.MethodHead, origin+path, nil)
	if err != nil {
		onFailure()
		return
	}

	resp, err := client.Do(req)
	if err != nil {
		onFailure()
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		onSuccess()
		return
	}
	onFailure()
}
