package controller

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/proxy-bridge/internal/model"
	"github.com/shinji-kodama/proxy-bridge/internal/relay"
)

// fakeRelauncher records container relaunch requests and optionally
// fails them.
type fakeRelauncher struct {
	relaunched []string
	err        error
}

func (f *fakeRelauncher) Relaunch(_ context.Context, name string) error {
	f.relaunched = append(f.relaunched, name)
	return f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startUpstream runs a throwaway TCP listener to serve as a bridge's
// upstream target.
func startUpstream(t *testing.T) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	return listener.Addr().String()
}

// newTestController builds a controller over the given specs with fast
// timeouts and a fake relauncher, returning both.
func newTestController(t *testing.T, specs []model.BridgeSpec) (*Controller, *fakeRelauncher) {
	t.Helper()
	relauncher := &fakeRelauncher{}
	c, err := New(Config{
		Bridges:    specs,
		Relauncher: relauncher,
		Logger:     testLogger(),
		Supervisor: relay.SupervisorConfig{
			BindTimeout:     2 * time.Second,
			BindRetryBudget: 300 * time.Millisecond,
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, relauncher
}

// TestStart_BindsAllBridges verifies that Start reports a confirmed port
// per bridge and does not touch any container.
func TestStart_BindsAllBridges(t *testing.T) {
	specs := []model.BridgeSpec{
		{Name: "alpha", ListenAddress: "127.0.0.1:0", UpstreamTarget: startUpstream(t)},
		{Name: "beta", ListenAddress: "127.0.0.1:0", UpstreamTarget: startUpstream(t), Container: "backend"},
	}
	c, relauncher := newTestController(t, specs)

	ports, err := c.Start(context.Background())
	require.NoError(t, err)
	require.Len(t, ports, 2)
	assert.Greater(t, ports["alpha"], 0)
	assert.Greater(t, ports["beta"], 0)

	assert.Empty(t, relauncher.relaunched, "Start must not restart containers")
	assert.Equal(t, ports, c.Ports())
}

// TestStart_FailureStopsStartedBridges verifies fail-fast cleanup: when
// a later bridge cannot bind, earlier bridges are stopped again.
func TestStart_FailureStopsStartedBridges(t *testing.T) {
	// Occupy a port so the second bridge's bind fails.
	blocker, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer blocker.Close()

	specs := []model.BridgeSpec{
		{Name: "alpha", ListenAddress: "127.0.0.1:0", UpstreamTarget: startUpstream(t)},
		{Name: "beta", ListenAddress: blocker.Addr().String(), UpstreamTarget: startUpstream(t)},
	}
	c, _ := newTestController(t, specs)

	_, err = c.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"beta"`)

	assert.Empty(t, c.Ports(), "no bridge should remain running after a failed Start")
}

// TestRelaunch_RestartsContainerThenRelay verifies the relaunch
// ordering: the upstream container is cycled before the relay restarts,
// and the confirmed port is returned.
func TestRelaunch_RestartsContainerThenRelay(t *testing.T) {
	specs := []model.BridgeSpec{
		{Name: "devtools", ListenAddress: "127.0.0.1:0", UpstreamTarget: startUpstream(t), Container: "chrome"},
	}
	c, relauncher := newTestController(t, specs)

	port, err := c.Relaunch(context.Background(), "devtools")
	require.NoError(t, err)
	assert.Greater(t, port, 0)
	assert.Equal(t, []string{"chrome"}, relauncher.relaunched)

	// A second relaunch cycles the container again and rebinds.
	port2, err := c.Relaunch(context.Background(), "devtools")
	require.NoError(t, err)
	assert.Greater(t, port2, 0)
	assert.Equal(t, []string{"chrome", "chrome"}, relauncher.relaunched)
}

// TestRelaunch_ContainerFailureSkipsRelay verifies that a failed
// container restart propagates without restarting the relay.
func TestRelaunch_ContainerFailureSkipsRelay(t *testing.T) {
	specs := []model.BridgeSpec{
		{Name: "devtools", ListenAddress: "127.0.0.1:0", UpstreamTarget: startUpstream(t), Container: "chrome"},
	}
	c, relauncher := newTestController(t, specs)
	relauncher.err = fmt.Errorf("daemon unavailable")

	_, err := c.Relaunch(context.Background(), "devtools")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daemon unavailable")

	assert.Empty(t, c.Ports(), "the relay must not be reported running")
}

// TestRelaunch_UnknownBridge verifies the not-found exit code mapping.
func TestRelaunch_UnknownBridge(t *testing.T) {
	specs := []model.BridgeSpec{
		{Name: "alpha", ListenAddress: "127.0.0.1:0", UpstreamTarget: startUpstream(t)},
	}
	c, _ := newTestController(t, specs)

	_, err := c.Relaunch(context.Background(), "missing")
	require.Error(t, err)

	var cliErr *model.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, model.ExitBridgeNotFound, cliErr.Code)
}

// TestRelaunchAll verifies the sweep over all bridges in configuration
// order.
func TestRelaunchAll(t *testing.T) {
	specs := []model.BridgeSpec{
		{Name: "alpha", ListenAddress: "127.0.0.1:0", UpstreamTarget: startUpstream(t), Container: "one"},
		{Name: "beta", ListenAddress: "127.0.0.1:0", UpstreamTarget: startUpstream(t), Container: "two"},
	}
	c, relauncher := newTestController(t, specs)

	ports, err := c.RelaunchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, ports, 2)
	assert.Equal(t, []string{"one", "two"}, relauncher.relaunched)
}

// TestNew_ContainerWithoutRelauncher verifies that a bridge naming a
// container requires a relauncher at construction time.
func TestNew_ContainerWithoutRelauncher(t *testing.T) {
	_, err := New(Config{
		Bridges: []model.BridgeSpec{
			{Name: "devtools", ListenAddress: "127.0.0.1:9222", UpstreamTarget: "127.0.0.1:9223", Container: "chrome"},
		},
		Logger: testLogger(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no relauncher")
}

// TestClose_StopsEverything verifies that closing the controller leaves
// every bridge port free for a fresh bind.
func TestClose_StopsEverything(t *testing.T) {
	specs := []model.BridgeSpec{
		{Name: "alpha", ListenAddress: "127.0.0.1:0", UpstreamTarget: startUpstream(t)},
	}
	c, _ := newTestController(t, specs)

	ports, err := c.Start(context.Background())
	require.NoError(t, err)
	port := ports["alpha"]

	require.NoError(t, c.Close())

	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err, "the port should be free after Close")
	_ = listener.Close()
}
