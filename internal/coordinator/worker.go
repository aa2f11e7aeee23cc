package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"offline_coordinator/internal/cache"
	"offline_coordinator/internal/config"
	"offline_coordinator/internal/obs"
	"offline_coordinator/internal/policy"
	"offline_coordinator/internal/retry"
)

type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

const (
	defaultInstallConcurrency  = 4
	defaultInstallTimeout      = 30 * time.Second
	defaultInstallRetryBackoff = 200 * time.Millisecond

	VersionHeader = "X-Coordinator-Version"
	SourceHeader  = "X-Coordinator-Source"
)

var ErrRedundant = errors.New("worker is redundant")

// Upstream is the real network as seen by a worker.
type Upstream interface {
	policy.Network
	Forward(w http.ResponseWriter, r *http.Request, target *url.URL, requestID string)
}

type Deps struct {
	Storage  cache.Storage
	Upstream Upstream
	Metrics  *obs.Metrics
}

// Worker is one generation of the coordinator, bound to a single version
// tag and the bucket named after it.
type Worker struct {
	cfg        *config.Config
	version    string
	bucketName string
	basePath   string
	origin     *url.URL
	manifest   []*url.URL
	strategy   policy.Strategy
	exclusions policy.Exclusions
	env        *policy.Env
	deps       Deps

	mu          sync.Mutex
	state       State
	forceUpdate atomic.Bool
}

func NewWorker(cfg *config.Config, deps Deps) (*Worker, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if deps.Storage == nil || deps.Upstream == nil {
		return nil, errors.New("worker needs storage and upstream")
	}
	origin, err := cfg.OriginURL()
	if err != nil {
		return nil, err
	}
	basePath := BasePath(origin.Hostname(), cfg.LocalHostSet(), cfg.DeployPath)

	patterns := make([]config.PatternConfig, 0, len(cfg.Patterns))
	for _, pattern := range cfg.Patterns {
		pattern.Prefixes = withBase(basePath, pattern.Prefixes)
		patterns = append(patterns, pattern)
	}
	strategy, err := policy.New(cfg.PolicyName(), policy.Options{
		Patterns: policy.MatcherFromConfig(patterns),
		Static:   policy.PrefixMatcher("static", withBase(basePath, cfg.StaticPrefixes)),
	})
	if err != nil {
		return nil, err
	}

	w := &Worker{
		cfg:        cfg,
		version:    cfg.Version,
		bucketName: cfg.BucketName(),
		basePath:   basePath,
		origin:     origin,
		strategy:   strategy,
		exclusions: policy.Exclusions{Origin: origin, DenyHosts: cfg.DenyHosts},
		deps:       deps,
		state:      StateParsed,
	}
	for _, seed := range cfg.Manifest {
		w.manifest = append(w.manifest, w.resolve(seed))
	}

	fallback := policy.Fallback{
		ShellKey: cache.BuildKey(http.MethodGet, w.resolve(defaultString(cfg.Fallback.ShellPath, "/"))),
		Status:   cfg.Fallback.Status,
		Message:  cfg.Fallback.Message,
	}
	if cfg.Fallback.ImagePath != "" {
		fallback.ImageKey = cache.BuildKey(http.MethodGet, w.resolve(cfg.Fallback.ImagePath))
	}
	w.env = &policy.Env{
		Bucket:      &guardedStore{Store: deps.Storage.Bucket(w.bucketName), worker: w},
		Network:     deps.Upstream,
		Fallback:    fallback,
		Coalescer:   cache.NewCoalescer(0),
		OnStoreFail: w.storeFailed,
	}
	return w, nil
}

// BasePath is empty on local hosts and deployPath everywhere else.
func BasePath(hostname string, localHosts []string, deployPath string) string {
	for _, local := range localHosts {
		if strings.EqualFold(hostname, local) {
			return ""
		}
	}
	return strings.TrimRight(deployPath, "/")
}

func (w *Worker) Version() string    { return w.version }
func (w *Worker) BucketName() string { return w.bucketName }
func (w *Worker) BasePath() string   { return w.basePath }
func (w *Worker) Strategy() string   { return w.strategy.Name() }

func (w *Worker) Config() *config.Config {
	return w.cfg
}

func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(state State) {
	w.mu.Lock()
	w.state = state
	w.mu.Unlock()
	w.deps.Metrics.RecordLifecycle(string(state))
}

func (w *Worker) ForceUpdatePending() bool {
	return w.forceUpdate.Load()
}

// SetForceUpdate switches the worker to the force-update bypass strategy.
func (w *Worker) SetForceUpdate(on bool) {
	w.forceUpdate.Store(on)
}

// Manifest returns the seed URLs resolved against the base path.
func (w *Worker) Manifest() []string {
	out := make([]string, 0, len(w.manifest))
	for _, seed := range w.manifest {
		out = append(out, seed.String())
	}
	return out
}

// Install opens the worker's bucket and seeds it from the manifest. Seeds
// are fetched independently; a failed seed is logged and skipped. Only an
// unusable storage fails the install.
func (w *Worker) Install(ctx context.Context) error {
	if w.State() == StateRedundant {
		return ErrRedundant
	}
	w.setState(StateInstalling)

	bucket, err := w.deps.Storage.Open(w.bucketName)
	if err != nil {
		w.setState(StateRedundant)
		return fmt.Errorf("install %s: %w", w.version, err)
	}

	timeout := defaultInstallTimeout
	if w.cfg.Lifecycle.InstallTimeoutMS > 0 {
		timeout = time.Duration(w.cfg.Lifecycle.InstallTimeoutMS) * time.Millisecond
	}
	concurrency := w.cfg.Lifecycle.InstallConcurrency
	if concurrency <= 0 {
		concurrency = defaultInstallConcurrency
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stored atomic.Int32
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(concurrency)
	for _, seed := range w.manifest {
		group.Go(func() error {
			if w.seed(groupCtx, bucket, seed) {
				stored.Add(1)
			}
			return nil
		})
	}
	_ = group.Wait()

	log.Printf("coordinator: installed version=%s bucket=%s seeds=%d/%d", w.version, w.bucketName, stored.Load(), len(w.manifest))
	w.setState(StateInstalled)
	return nil
}

func (w *Worker) seed(ctx context.Context, bucket cache.Store, target *url.URL) bool {
	req := &policy.Request{
		Method:      http.MethodGet,
		URL:         target,
		Key:         cache.BuildKey(http.MethodGet, target),
		Destination: policy.DestinationOther,
		Header:      http.Header{},
	}
	var entry cache.Entry
	_, err := retry.Do(ctx, w.retryPolicy(), func(reason string) {
		log.Printf("coordinator: retrying seed version=%s url=%s reason=%s", w.version, target.Redacted(), reason)
	}, func(ctx context.Context) error {
		var err error
		entry, err = w.deps.Upstream.Fetch(ctx, req)
		if err == nil && (entry.Status < 200 || entry.Status > 299) {
			err = &retry.StatusError{Status: entry.Status}
		}
		return err
	})
	if err == nil {
		err = bucket.Set(req.Key, entry)
	}
	if err != nil {
		log.Printf("coordinator: seed failed version=%s url=%s: %v", w.version, target.Redacted(), err)
		w.deps.Metrics.RecordInstallSeed(w.version, false)
		return false
	}
	w.deps.Metrics.RecordInstallSeed(w.version, true)
	return true
}

func (w *Worker) retryPolicy() retry.Policy {
	policy := retry.Policy{
		Attempts: w.cfg.Lifecycle.InstallRetries + 1,
		Backoff:  defaultInstallRetryBackoff,
	}
	if w.cfg.Lifecycle.InstallRetryBackoffMS > 0 {
		policy.Backoff = time.Duration(w.cfg.Lifecycle.InstallRetryBackoffMS) * time.Millisecond
	}
	policy.Jitter = policy.Backoff / 2
	return policy
}

// Activate deletes every bucket except the worker's own. It never creates
// a bucket and is safe to repeat.
func (w *Worker) Activate(ctx context.Context) error {
	if w.State() == StateRedundant {
		return ErrRedundant
	}
	w.setState(StateActivating)

	names, err := w.deps.Storage.Names()
	if err != nil {
		w.setState(StateActivated)
		return fmt.Errorf("activate %s: %w", w.version, err)
	}
	var errs []error
	for _, name := range names {
		if name == w.bucketName {
			continue
		}
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if _, err := w.deps.Storage.Delete(name); err != nil {
			errs = append(errs, err)
			continue
		}
		log.Printf("coordinator: deleted stale bucket=%s active=%s", name, w.bucketName)
	}
	w.setState(StateActivated)
	return errors.Join(errs...)
}

func (w *Worker) markRedundant() {
	if w.State() == StateRedundant {
		return
	}
	w.setState(StateRedundant)
}

func (w *Worker) storeFailed(key string, err error) {
	if errors.Is(err, ErrRedundant) {
		return
	}
	log.Printf("coordinator: cache write failed bucket=%s key=%s: %v", w.bucketName, key, err)
	w.deps.Metrics.RecordCacheStoreFail(w.bucketName)
}

func (w *Worker) resolve(seed string) *url.URL {
	path := seed
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	target := *w.origin
	if parsed, err := url.Parse(w.basePath + path); err == nil {
		target.Path = parsed.Path
		target.RawQuery = parsed.RawQuery
	} else {
		target.Path = w.basePath + path
	}
	return &target
}

func withBase(basePath string, prefixes []string) []string {
	if basePath == "" || len(prefixes) == 0 {
		return prefixes
	}
	out := make([]string, 0, len(prefixes))
	for _, prefix := range prefixes {
		if !strings.HasPrefix(prefix, "/") {
			prefix = "/" + prefix
		}
		out = append(out, basePath+prefix)
	}
	return out
}

func defaultString(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// guardedStore refuses writes once its worker is redundant so a superseded
// worker cannot recreate a bucket activation already deleted.
type guardedStore struct {
	cache.Store
	worker *Worker
}

func (s *guardedStore) Set(key string, entry cache.Entry) error {
	if s.worker.State() == StateRedundant {
		return ErrRedundant
	}
	return s.Store.Set(key, entry)
}
