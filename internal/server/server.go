package server

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"offline_coordinator/internal/limits"
	"offline_coordinator/internal/runtime"
)

type Server struct {
	Addr string

	httpServer   *http.Server
	ln           net.Listener
	limits       limits.Limits
	shutdown     runtime.ShutdownConfig
	inflight     *runtime.InflightTracker
	stoppers     []Stopper
	closeIdle    []func()
	shutdownOnce sync.Once
	shutdownErr  error
}

type Stopper interface {
	Stop(ctx context.Context) error
}

type StopFunc func(ctx context.Context) error

func (s StopFunc) Stop(ctx context.Context) error {
	return s(ctx)
}

// Options configure the listener. Stoppers run before the in-flight wait,
// so long-lived connections such as control sockets belong there.
type Options struct {
	Limits    limits.Limits
	Shutdown  runtime.ShutdownConfig
	Inflight  *runtime.InflightTracker
	Stoppers  []Stopper
	CloseIdle []func()
}

func StartServer(handler http.Handler, addr string, options Options) (*Server, error) {
	if handler == nil {
		return nil, errors.New("handler is nil")
	}
	if addr == "" {
		return nil, errors.New("no listen address configured")
	}

	limitConfig := options.Limits
	if limitConfig.MaxHeaderBytes == 0 {
		limitConfig = limits.Default()
	}
	shutdownConfig := runtime.ApplyShutdownDefaults(options.Shutdown)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	httpSrv := &http.Server{
		Handler:           trackInflight(handler, options.Inflight),
		MaxHeaderBytes:    limitConfig.MaxHeaderBytes,
		ReadHeaderTimeout: limitConfig.ReadHeaderTimeout,
		ReadTimeout:       limitConfig.ReadTimeout,
		WriteTimeout:      limitConfig.WriteTimeout,
		IdleTimeout:       limitConfig.IdleTimeout,
	}
	go serve(httpSrv, ln)

	return &Server{
		Addr:       ln.Addr().String(),
		httpServer: httpSrv,
		ln:         ln,
		limits:     limitConfig,
		shutdown:   shutdownConfig,
		inflight:   options.Inflight,
		stoppers:   options.Stoppers,
		closeIdle:  options.CloseIdle,
	}, nil
}

func trackInflight(next http.Handler, tracker *runtime.InflightTracker) http.Handler {
	if tracker == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tracker.Inc()
		defer tracker.Dec()
		next.ServeHTTP(w, r)
	})
}

func serve(server *http.Server, ln net.Listener) {
	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("server error: %v", err)
	}
}

func (s *Server) Close() error {
	if s == nil {
		return nil
	}
	return s.Shutdown()
}

func (s *Server) Shutdown() error {
	if s == nil {
		return nil
	}
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.shutdownSequence()
	})
	return s.shutdownErr
}

func (s *Server) shutdownSequence() error {
	_ = s.ln.Close()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), s.shutdown.GracefulTimeout)
	for _, stopper := range s.stoppers {
		if stopper == nil {
			continue
		}
		if err := stopper.Stop(stopCtx); err != nil {
			log.Printf("shutdown: stopper failed: %v", err)
		}
	}
	stopCancel()

	if s.shutdown.Drain > 0 {
		time.Sleep(s.shutdown.Drain)
	}

	for _, closeIdle := range s.closeIdle {
		if closeIdle != nil {
			closeIdle()
		}
	}

	gracefulCtx, gracefulCancel := context.WithTimeout(context.Background(), s.shutdown.GracefulTimeout)
	defer gracefulCancel()
	if s.inflight != nil {
		_ = s.inflight.Wait(gracefulCtx)
	}
	var firstErr error
	if err := s.httpServer.Shutdown(gracefulCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		firstErr = err
	}
	if gracefulCtx.Err() == nil {
		return firstErr
	}

	if s.shutdown.ForceClose > 0 {
		time.Sleep(s.shutdown.ForceClose)
	}
	_ = s.httpServer.Close()
	if firstErr != nil {
		return firstErr
	}
	return gracefulCtx.Err()
}
