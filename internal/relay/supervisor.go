package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/shinji-kodama/proxy-bridge/internal/model"
)

const (
	// defaultBindTimeout bounds the wait for a worker's bind outcome.
	// A worker that neither reports nor exits within this window is
	// cancelled and reported as ErrWorkerDied.
	defaultBindTimeout = 5 * time.Second

	// defaultBindRetryBudget bounds the total time Restart spends
	// retrying address-in-use bind failures. The retry exists to absorb
	// the window where the previous worker's port is still being
	// released by the OS; a port genuinely held by someone else exhausts
	// the budget and surfaces as a BindError.
	defaultBindRetryBudget = 2 * time.Second
)

// SupervisorConfig holds options for NewSupervisor. The zero value is
// usable: it forwards over TCP, logs via slog.Default(), and applies the
// default timeouts.
type SupervisorConfig struct {
	// Forwarder handles accepted connections. If nil, a TCPForwarder
	// with default settings is used.
	Forwarder Forwarder

	// Logger receives structured log output. If nil, slog.Default()
	// is used.
	Logger *slog.Logger

	// BindTimeout overrides defaultBindTimeout when positive.
	BindTimeout time.Duration

	// BindRetryBudget overrides defaultBindRetryBudget when positive.
	BindRetryBudget time.Duration
}

// Supervisor owns at most one relay worker at a time and serializes all
// lifecycle transitions for its slot. Restart is the only operation a
// caller needs: it subsumes stop and start and returns the bound port
// only after the new worker has confirmed its bind.
type Supervisor struct {
	forward     Forwarder
	logger      *slog.Logger
	bindTimeout time.Duration
	retryBudget time.Duration

	// mu serializes Restart/Stop/Close. It is held across the entire
	// restart sequence, so two concurrent restarts can never race their
	// workers onto the same port.
	mu sync.Mutex

	// current and boundPort are set and cleared together: a recorded
	// port always corresponds to a live, bind-confirmed worker.
	current   *worker
	boundPort int
}

// NewSupervisor creates a supervisor with the given options.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	forward := cfg.Forwarder
	if forward == nil {
		forward = &TCPForwarder{Logger: cfg.Logger}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	bindTimeout := cfg.BindTimeout
	if bindTimeout <= 0 {
		bindTimeout = defaultBindTimeout
	}

	retryBudget := cfg.BindRetryBudget
	if retryBudget <= 0 {
		retryBudget = defaultBindRetryBudget
	}

	return &Supervisor{
		forward:     forward,
		logger:      logger,
		bindTimeout: bindTimeout,
		retryBudget: retryBudget,
	}
}

// Restart stops any current worker, then starts a new one with cfg and
// blocks until that worker reports its bind outcome. The bound port is
// returned only after the bind is confirmed; on any failure the
// supervisor is left with no active worker and the error propagates to
// the caller. Bind failures are not retried beyond the port-release
// window — whether a retry is safe is the caller's call.
//
// ctx governs only the waiting inside this call (outcome wait and retry
// pacing). A successfully started worker runs until the next Restart,
// Stop, or Close, regardless of ctx.
func (s *Supervisor) Restart(ctx context.Context, cfg model.RelayConfig) (int, error) {
	if err := cfg.Validate(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// The old worker is fully stopped (goroutine exited, listener
	// closed) before the new worker's bind is attempted, so two workers
	// never contend for the same port from this supervisor.
	s.stopLocked()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 20 * time.Millisecond
	policy.MaxInterval = 250 * time.Millisecond
	policy.MaxElapsedTime = s.retryBudget

	var started *worker
	var port int
	attempt := func() error {
		w, outcome := startWorker(cfg, s.forward, s.logger)
		p, err := s.awaitBind(ctx, w, outcome)
		if err != nil {
			var bindErr *BindError
			if errors.As(err, &bindErr) && errors.Is(bindErr.Err, syscall.EADDRINUSE) {
				// The previous owner may still be releasing the
				// port; retry within the budget.
				return err
			}
			return backoff.Permanent(err)
		}
		started, port = w, p
		return nil
	}

	if err := backoff.Retry(attempt, backoff.WithContext(policy, ctx)); err != nil {
		return 0, err
	}

	s.current = started
	s.boundPort = port
	s.logger.Info("relay restarted",
		"listen", cfg.ListenAddress,
		"port", port,
		"upstream", cfg.UpstreamTarget,
	)
	return port, nil
}

// awaitBind waits for the worker's single bind outcome. On every failure
// path the worker is stopped before returning, so an unconfirmed worker
// is never left running in the background.
func (s *Supervisor) awaitBind(ctx context.Context, w *worker, outcome <-chan bindOutcome) (int, error) {
	timer := time.NewTimer(s.bindTimeout)
	defer timer.Stop()

	select {
	case result, ok := <-outcome:
		if !ok {
			// Channel closed with no value: the worker died before
			// reporting. Equivalent in severity to a bind failure,
			// distinguished for diagnostics.
			w.stop()
			return 0, ErrWorkerDied
		}
		if result.err != nil {
			w.stop()
			return 0, result.err
		}
		return result.port, nil

	case <-timer.C:
		w.stop()
		return 0, fmt.Errorf("no bind outcome within %s: %w", s.bindTimeout, ErrWorkerDied)

	case <-ctx.Done():
		w.stop()
		return 0, ctx.Err()
	}
}

// Stop cancels the current worker, if any, and clears the recorded port.
// It is idempotent: calling it with no active worker is a no-op.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// Close stops the supervisor's worker so that no background task
// outlives its owner. It exists so callers can tie the supervisor's
// teardown to their own, typically via defer; the error return is always
// nil and only satisfies io.Closer.
func (s *Supervisor) Close() error {
	s.Stop()
	return nil
}

// Port returns the currently recorded bound port and whether a
// bind-confirmed worker is active.
func (s *Supervisor) Port() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundPort, s.current != nil
}

// stopLocked cancels and discards the current worker. The caller must
// hold s.mu. When it returns, the worker goroutine has exited and the
// handle and port are cleared — always together, never one without the
// other.
func (s *Supervisor) stopLocked() {
	if s.current == nil {
		return
	}
	s.current.stop()
	s.current = nil
	s.boundPort = 0
}
