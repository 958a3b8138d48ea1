package harness

import (
	"context"
	"errors"
	"sync"
)

// Service is one background dependency of a test run: the session bus (with
// its privileged helper), the virtual display, or the configured remote.
//
// A Service is either "not started" (stop must be a safe no-op) or
// "started" (a valid handle exists and must be stopped exactly once). The
// Registry enforces at-most-once start and exactly-once stop; Service
// implementations only have to make Stop tolerate being called after the
// underlying process already exited.
type Service interface {
	// Name identifies the service in the registry and in debug output.
	Name() string
	// Start acquires the service's resources. Called at most once.
	Start(ctx context.Context) error
	// Stop releases the service's resources. Called at most once, and only
	// after a successful Start.
	Stop() error
}

// Registry tracks which services a run has started, memoizing starts and
// guaranteeing every started service is stopped exactly once.
//
// Ensure and StopAll are serialized with a mutex so a signal-driven
// teardown can race a scenario's lazy ensures safely.
type Registry struct {
	mu      sync.Mutex
	started []Service
	names   map[string]bool
	debugf  Debugf
}

// NewRegistry returns an empty registry.
func NewRegistry(debugf Debugf) *Registry {
	return &Registry{names: make(map[string]bool), debugf: debugf}
}

// Ensure starts svc if no service with the same name was started during
// this run. Subsequent calls with the same name are no-ops. A failed start
// is not memoized; it is reported to the caller and the service stays "not
// started".
func (r *Registry) Ensure(ctx context.Context, svc Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.names[svc.Name()] {
		return nil
	}

	if r.debugf != nil {
		r.debugf("harness(service): starting %s", svc.Name())
	}

	err := svc.Start(ctx)
	if err != nil {
		return err
	}

	r.names[svc.Name()] = true
	r.started = append(r.started, svc)

	return nil
}

// Started reports whether a service with the given name was started.
func (r *Registry) Started(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.names[name]
}

// StopAll stops every started service in reverse start order. Every stop is
// attempted even when an earlier one fails; failures are collected and
// returned joined, so a stubborn service never prevents stopping the rest.
//
// StopAll is idempotent: a second call (or a call when nothing was started)
// does nothing and returns nil.
func (r *Registry) StopAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error

	for i := len(r.started) - 1; i >= 0; i-- {
		svc := r.started[i]

		if r.debugf != nil {
			r.debugf("harness(service): stopping %s", svc.Name())
		}

		err := svc.Stop()
		if err != nil {
			errs = append(errs, err)
		}
	}

	r.started = nil
	r.names = make(map[string]bool)

	return errors.Join(errs...)
}
