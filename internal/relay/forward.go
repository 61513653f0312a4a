package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"
)

// defaultDialTimeout bounds the upstream dial for a single accepted
// connection. A slow or dead upstream should fail that connection
// quickly rather than pile up forwarding goroutines.
const defaultDialTimeout = 5 * time.Second

// Forwarder hands one accepted connection to the relaying routine.
// The worker invokes it once per connection; a returned error drops that
// connection only and never affects the worker or supervisor state.
type Forwarder interface {
	Forward(ctx context.Context, conn net.Conn, upstream string) error
}

// TCPForwarder is the default Forwarder: it dials the upstream target
// over TCP and copies bytes in both directions until either side closes.
type TCPForwarder struct {
	// DialTimeout bounds the upstream dial. Zero means defaultDialTimeout.
	DialTimeout time.Duration

	// Logger receives per-connection debug output. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// logger returns the configured logger or the default.
func (f *TCPForwarder) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

// Forward dials upstream and relays bytes between the two connections.
// It returns once both directions have finished. Dial failures are
// returned to the caller; copy errors after a successful dial are logged
// at debug level because they are routinely just one side hanging up.
func (f *TCPForwarder) Forward(ctx context.Context, conn net.Conn, upstream string) error {
	timeout := f.DialTimeout
	if timeout == 0 {
		timeout = defaultDialTimeout
	}

	dialer := &net.Dialer{Timeout: timeout}
	upstreamConn, err := dialer.DialContext(ctx, "tcp", upstream)
	if err != nil {
		return fmt.Errorf("dial upstream %s: %w", upstream, err)
	}
	defer upstreamConn.Close()

	logger := f.logger().With("upstream", upstream)

	var waitGroup sync.WaitGroup
	waitGroup.Add(2)

	// client -> upstream
	go func() {
		defer waitGroup.Done()
		bytesCopied, copyError := io.Copy(upstreamConn, conn)
		if copyError != nil && !isExpectedCloseError(copyError) {
			logger.Debug("client->upstream copy error",
				"bytes_copied", bytesCopied,
				"error", copyError,
			)
		}
		// Half-close so the upstream sees EOF once the client is done
		// writing, while its responses can still drain the other way.
		if tcpConn, ok := upstreamConn.(*net.TCPConn); ok {
			tcpConn.CloseWrite()
		}
	}()

	// upstream -> client
	go func() {
		defer waitGroup.Done()
		bytesCopied, copyError := io.Copy(conn, upstreamConn)
		if copyError != nil && !isExpectedCloseError(copyError) {
			logger.Debug("upstream->client copy error",
				"bytes_copied", bytesCopied,
				"error", copyError,
			)
		}
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			tcpConn.CloseWrite()
		}
	}()

	waitGroup.Wait()
	return nil
}

// isExpectedCloseError reports whether err is the ordinary result of one
// side of a relayed connection going away.
func isExpectedCloseError(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
