package relay

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"

	"github.com/shinji-kodama/proxy-bridge/internal/model"
)

// bindOutcome is the single message a worker sends back to its starter:
// either the bound port or the bind error. Exactly one value is sent per
// worker lifetime, before the accept loop begins.
type bindOutcome struct {
	port int
	err  error
}

// worker runs one relay instance. It is created only via startWorker and
// owned exclusively by a Supervisor; the handle is never shared between
// supervisors or duplicated.
type worker struct {
	cfg     model.RelayConfig
	forward Forwarder
	logger  *slog.Logger

	// cancel signals the worker to shut down. Cancellation is
	// cooperative: it closes the listener, the accept loop observes the
	// closed listener or the done context, and in-flight connections are
	// drained before the worker finishes.
	cancel context.CancelFunc

	// done is closed when the worker goroutine has fully exited, meaning
	// the listener is closed and the port is released by this process.
	done chan struct{}

	connections sync.WaitGroup
}

// startWorker spawns a worker goroutine for cfg and returns its handle
// together with the receive half of the bind outcome channel.
//
// The channel has capacity one and is closed by the worker when its bind
// phase ends. The consumer therefore observes exactly one of: a bound
// port, a bind error, or a bare close — and a bare close means the worker
// died before reporting, which must never be read as success.
//
// The worker's lifetime is deliberately not tied to any caller context:
// it runs until its handle is stopped, so a supervisor's worker cannot be
// torn down by the expiry of one restart call's context.
func startWorker(cfg model.RelayConfig, forward Forwarder, logger *slog.Logger) (*worker, <-chan bindOutcome) {
	ctx, cancel := context.WithCancel(context.Background())
	w := &worker{
		cfg:     cfg,
		forward: forward,
		logger:  logger,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	outcome := make(chan bindOutcome, 1)
	go w.run(ctx, outcome)
	return w, outcome
}

// run is the worker goroutine body: bind, report, serve, clean up.
// Every exit path closes the listening socket (when one was opened), so
// the port is available to a subsequent bind attempt.
func (w *worker) run(ctx context.Context, outcome chan<- bindOutcome) {
	defer close(w.done)
	// Closing the outcome channel ends the bind phase. If run exits
	// before the send below, the consumer sees a closed channel with no
	// value and treats the worker as dead.
	defer close(outcome)

	listener, err := net.Listen("tcp", w.cfg.ListenAddress)
	if err != nil {
		outcome <- bindOutcome{err: &BindError{Addr: w.cfg.ListenAddress, Err: err}}
		return
	}
	defer listener.Close()

	boundAddr := listener.Addr().String()
	port := listener.Addr().(*net.TCPAddr).Port
	outcome <- bindOutcome{port: port}

	// Close the listener as soon as cancellation is signalled so the
	// blocking Accept call unblocks. This is what bounds the time
	// between a stop request and the port being free again.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	w.logger.Info("relay bound",
		"listen", boundAddr,
		"upstream", w.cfg.UpstreamTarget,
	)

	w.acceptLoop(ctx, listener)
	w.connections.Wait()

	w.logger.Info("relay stopped", "listen", boundAddr)
}

// acceptLoop accepts connections and hands each one to the forwarder in
// its own goroutine. Per-connection forwarding errors are logged and drop
// only that connection; they never terminate the loop.
func (w *worker) acceptLoop(ctx context.Context, listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				// The listener died without a cancellation request.
				// Nothing more can be accepted; exit and let the
				// deferred close release what remains.
				w.logger.Error("relay listener closed unexpectedly", "error", err)
				return
			}
			w.logger.Error("accept failed", "error", err)
			continue
		}

		w.connections.Add(1)
		go func() {
			defer w.connections.Done()
			defer conn.Close()
			if err := w.forward.Forward(ctx, conn, w.cfg.UpstreamTarget); err != nil {
				w.logger.Warn("forwarding failed",
					"remote", conn.RemoteAddr().String(),
					"upstream", w.cfg.UpstreamTarget,
					"error", err,
				)
			}
		}()
	}
}

// stop cancels the worker and blocks until its goroutine has exited.
// On return the listener is closed, in-flight connections have drained,
// and the port is released by this process.
func (w *worker) stop() {
	w.cancel()
	<-w.done
}
