// Package relay implements the proxy-bridge relay lifecycle: a worker
// that binds a listen address and forwards accepted connections to an
// upstream target, and a supervisor that owns at most one worker at a
// time and serializes start/stop/restart transitions.
//
// The central protocol is the bind confirmation round-trip: a worker
// reports exactly one bind outcome over a single-use channel before the
// supervisor records it as current. A restart therefore never reports
// success while the underlying bind is unconfirmed, and a worker that
// dies before reporting surfaces as ErrWorkerDied rather than silence.
//
// Workers are cancelled cooperatively. Cancellation closes the listener,
// which both unblocks the accept loop and releases the port for the next
// bind attempt. The supervisor absorbs the OS port-release window with a
// bounded bind retry instead of a fixed sleep.
package relay
