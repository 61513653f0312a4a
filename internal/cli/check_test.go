package cli

import (
	"errors"
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/proxy-bridge/internal/config"
	"github.com/shinji-kodama/proxy-bridge/internal/model"
	"github.com/shinji-kodama/proxy-bridge/internal/relay"
)

// TestParseListenPort covers the listen-address projection used by the
// preflight check.
func TestParseListenPort(t *testing.T) {
	assert.Equal(t, 9222, parseListenPort("127.0.0.1:9222"))
	assert.Equal(t, 0, parseListenPort("127.0.0.1:0"), "OS-assigned ports are skipped")
	assert.Equal(t, 0, parseListenPort("garbage"))
}

// TestFindPortConflicts verifies that an occupied listen port is
// reported against its bridge and free ones are not.
func TestFindPortConflicts(t *testing.T) {
	// Hold one port so exactly that bridge conflicts.
	blocker, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer blocker.Close()
	occupied := blocker.Addr().(*net.TCPAddr).Port

	// Find a port that is currently free for the non-conflicting bridge.
	free, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	freePort := free.Addr().(*net.TCPAddr).Port
	require.NoError(t, free.Close())

	file := &config.File{Bridges: []model.BridgeSpec{
		{Name: "busy", ListenAddress: addrWithPort(occupied), UpstreamTarget: "127.0.0.1:9000"},
		{Name: "free", ListenAddress: addrWithPort(freePort), UpstreamTarget: "127.0.0.1:9001"},
		{Name: "dynamic", ListenAddress: "127.0.0.1:0", UpstreamTarget: "127.0.0.1:9002"},
	}}

	conflicts := findPortConflicts(file)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "busy", conflicts[0].Bridge)
	assert.Equal(t, occupied, conflicts[0].Port)
}

// addrWithPort formats a loopback listen address for a port number.
func addrWithPort(port int) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}

// TestWrapExitError verifies exit-code mapping for relay failures.
func TestWrapExitError(t *testing.T) {
	bindErr := &relay.BindError{Addr: "127.0.0.1:9222", Err: errors.New("address already in use")}
	var cliErr *model.CLIError

	require.True(t, errors.As(wrapExitError(bindErr), &cliErr))
	assert.Equal(t, model.ExitBindFailed, cliErr.Code)

	require.True(t, errors.As(wrapExitError(relay.ErrWorkerDied), &cliErr))
	assert.Equal(t, model.ExitWorkerDied, cliErr.Code)

	// Errors already carrying a CLIError pass through unchanged.
	original := model.NewCLIError(model.ExitConfigError, "bad config")
	assert.Same(t, original, wrapExitError(original).(*model.CLIError))

	// Unknown errors pass through untouched.
	plain := errors.New("something else")
	assert.Equal(t, plain, wrapExitError(plain))
}
