package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"

	"offline_coordinator/internal/config"
	"offline_coordinator/internal/message"
	"offline_coordinator/internal/network"
	"offline_coordinator/internal/provider"
	"offline_coordinator/internal/runtime"
)

// Pages is the set of connected foreground pages.
type Pages interface {
	Broadcast(msg message.Message) int
	ClientCount() int
}

// Observer is told about every activation.
type Observer interface {
	WorkerActivated(version string)
}

type Options struct {
	Pages     Pages
	Provider  provider.Provider
	Observers []Observer
}

// Registration owns the worker slots of one origin. Both slots are read
// lock-free; lifecycle transitions and control messages are serialized by
// mu.
type Registration struct {
	deps      Deps
	pages     Pages
	provider  provider.Provider
	observers []Observer

	active  *runtime.Store[*Worker]
	waiting atomic.Pointer[Worker]

	mu sync.Mutex

	handoffs sync.WaitGroup
}

func NewRegistration(deps Deps, opts Options) *Registration {
	r := &Registration{
		deps:      deps,
		pages:     opts.Pages,
		provider:  opts.Provider,
		observers: opts.Observers,
		active:    runtime.NewStore[*Worker](),
	}
	r.active.OnDrained(r.sweep)
	return r
}

func (r *Registration) Active() *Worker {
	worker, _ := r.active.Get()
	return worker
}

func (r *Registration) Waiting() *Worker {
	return r.waiting.Load()
}

// Register installs a worker for cfg unless its version is already active
// or waiting. The first worker activates at once; later ones wait for a
// skip-waiting message, the skip_waiting_on_install flag, or for every page
// to disconnect.
func (r *Registration) Register(ctx context.Context, cfg *config.Config) (*Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerLocked(ctx, cfg)
}

func (r *Registration) registerLocked(ctx context.Context, cfg *config.Config) (*Worker, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	active := r.Active()
	if active != nil && active.Version() == cfg.Version {
		return active, nil
	}
	if waiting := r.waiting.Load(); waiting != nil && waiting.Version() == cfg.Version {
		return waiting, nil
	}

	worker, err := NewWorker(cfg, r.deps)
	if err != nil {
		return nil, err
	}
	if err := worker.Install(ctx); err != nil {
		worker.markRedundant()
		r.discardBucket(worker)
		return nil, err
	}

	if active == nil {
		r.activateLocked(ctx, worker)
		return worker, nil
	}

	if previous := r.waiting.Swap(worker); previous != nil {
		previous.markRedundant()
		r.discardBucket(previous)
		log.Printf("coordinator: waiting version=%s replaced by version=%s", previous.Version(), worker.Version())
	}
	log.Printf("coordinator: version=%s waiting behind active=%s", worker.Version(), active.Version())

	if cfg.Lifecycle.SkipWaitingOnInstall || r.pageCount() == 0 {
		r.activateLocked(ctx, worker)
	}
	return worker, nil
}

// Update asks the provider for the current config and registers it.
func (r *Registration) Update(ctx context.Context) (*Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updateLocked(ctx)
}

func (r *Registration) updateLocked(ctx context.Context) (*Worker, error) {
	if r.provider == nil {
		return nil, errors.New("no config provider")
	}
	cfg, err := r.provider.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("update check via %s: %w", r.provider.Name(), err)
	}
	return r.registerLocked(ctx, cfg)
}

// SkipWaiting activates the waiting worker. It reports false when nothing
// was waiting.
func (r *Registration) SkipWaiting(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	waiting := r.waiting.Load()
	if waiting == nil {
		return false
	}
	r.activateLocked(ctx, waiting)
	return true
}

// ForceUpdate drops the active bucket, switches the active worker to
// network bypass, runs an update check, promotes anything waiting and tells
// every page the cache is gone. Repeating it is harmless.
func (r *Registration) ForceUpdate(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if active := r.Active(); active != nil {
		if _, err := r.deps.Storage.Delete(active.BucketName()); err != nil {
			log.Printf("coordinator: force update could not delete bucket=%s: %v", active.BucketName(), err)
		}
		active.SetForceUpdate(true)
	}
	if r.provider != nil {
		if _, err := r.updateLocked(ctx); err != nil {
			log.Printf("coordinator: force update check failed: %v", err)
		}
	}
	if waiting := r.waiting.Load(); waiting != nil {
		r.activateLocked(ctx, waiting)
	}
	r.broadcast(message.Message{Type: message.TypeCacheCleared})
}

// Dispatch handles one control message from a page. Unknown and outbound
// types are ignored.
func (r *Registration) Dispatch(ctx context.Context, msg message.Message) {
	switch msg.Type {
	case message.TypeSkipWaiting:
		r.SkipWaiting(ctx)
	case message.TypeForceUpdate:
		r.ForceUpdate(ctx)
	}
}

// PagesGone performs the natural handoff once the last page disconnects.
// It runs asynchronously because it is called from the page hub.
func (r *Registration) PagesGone() {
	r.handoffs.Add(1)
	go func() {
		defer r.handoffs.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		waiting := r.waiting.Load()
		if waiting == nil || r.pageCount() != 0 {
			return
		}
		log.Printf("coordinator: no pages left, activating version=%s", waiting.Version())
		r.activateLocked(context.Background(), waiting)
	}()
}

func (r *Registration) activateLocked(ctx context.Context, worker *Worker) {
	if err := worker.Activate(ctx); err != nil {
		log.Printf("coordinator: activate version=%s: %v", worker.Version(), err)
	}
	r.waiting.CompareAndSwap(worker, nil)
	previous, ok := r.active.Swap(worker)
	if ok && previous != nil && previous != worker {
		previous.markRedundant()
	}

	r.deps.Metrics.SetActiveVersion(worker.Version())
	for _, observer := range r.observers {
		observer.WorkerActivated(worker.Version())
	}
	log.Printf("coordinator: activated version=%s bucket=%s strategy=%s", worker.Version(), worker.BucketName(), worker.Strategy())
	r.broadcast(message.Message{Type: message.TypeControllerChange, Version: worker.Version()})
}

// sweep runs once a superseded worker has no requests left in flight.
func (r *Registration) sweep(worker *Worker) {
	if worker == nil {
		return
	}
	r.discardBucket(worker)
}

func (r *Registration) discardBucket(worker *Worker) {
	if active := r.Active(); active != nil && active.BucketName() == worker.BucketName() {
		return
	}
	if waiting := r.waiting.Load(); waiting != nil && waiting != worker && waiting.BucketName() == worker.BucketName() {
		return
	}
	if _, err := r.deps.Storage.Delete(worker.BucketName()); err != nil {
		log.Printf("coordinator: discard bucket=%s: %v", worker.BucketName(), err)
	}
}

func (r *Registration) broadcast(msg message.Message) {
	if r.pages == nil {
		return
	}
	r.pages.Broadcast(msg)
}

func (r *Registration) pageCount() int {
	if r.pages == nil {
		return 0
	}
	return r.pages.ClientCount()
}

// ServeHTTP routes the request to the active worker, pinning it until the
// response is written.
func (r *Registration) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ref := r.active.Acquire()
	if ref == nil {
		requestID := req.Header.Get(network.RequestIDHeader)
		if requestID == "" {
			requestID = network.NewRequestID()
		}
		network.WriteError(w, requestID, http.StatusServiceUnavailable, "no_active_worker", "no active coordinator worker")
		return
	}
	defer r.active.Release(ref)
	ref.Value.ServeHTTP(w, req)
}

// Draining reports whether superseded workers are piling up with requests
// still in flight.
func (r *Registration) Draining() bool {
	return r.active.UnderPressure()
}

// Close waits for pending handoffs.
func (r *Registration) Close() {
	r.handoffs.Wait()
}
