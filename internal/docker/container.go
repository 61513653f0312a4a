// container.go implements the container operations behind bridge
// relaunches: name-based lookup plus start/stop/restart via the Docker
// SDK. A bridge's upstream container is addressed by the name given in
// the bridges configuration, never by ID, because IDs change every time
// the container is recreated.
package docker

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"

	"github.com/shinji-kodama/proxy-bridge/internal/model"
)

// FindContainerByName returns the container whose name matches name
// exactly, searching both running and stopped containers. Returns a
// CLIError with ExitBridgeNotFound when no container has that name.
func FindContainerByName(ctx context.Context, cli *Client, name string) (*types.Container, error) {
	containers, err := cli.Inner().ContainerList(ctx, container.ListOptions{
		// Stopped containers are included: a relaunch must be able to
		// start a container that exited since the last launch.
		All: true,
	})
	if err != nil {
		return nil, model.WrapCLIError(model.ExitDockerNotRunning,
			"failed to list containers", err)
	}

	for i := range containers {
		if containerHasName(containers[i].Names, name) {
			return &containers[i], nil
		}
	}

	return nil, model.NewCLIError(model.ExitBridgeNotFound,
		fmt.Sprintf("container %q not found", name))
}

// containerHasName reports whether any of the Docker API's name entries
// matches name. The API returns names with a leading slash
// (e.g. "/chrome"), which callers should not have to know about.
func containerHasName(names []string, name string) bool {
	for _, n := range names {
		if strings.TrimPrefix(n, "/") == name {
			return true
		}
	}
	return false
}

// RestartContainer restarts a container by ID. Docker stops the
// container's main process (SIGTERM, then SIGKILL after the daemon's
// default timeout) and starts it again.
func RestartContainer(ctx context.Context, cli *Client, containerID string) error {
	if err := cli.Inner().ContainerRestart(ctx, containerID, container.StopOptions{}); err != nil {
		return model.WrapCLIError(model.ExitDockerNotRunning,
			fmt.Sprintf("failed to restart container %q", containerID), err)
	}
	return nil
}

// StartContainer starts a stopped container by ID.
func StartContainer(ctx context.Context, cli *Client, containerID string) error {
	if err := cli.Inner().ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return model.WrapCLIError(model.ExitDockerNotRunning,
			fmt.Sprintf("failed to start container %q", containerID), err)
	}
	return nil
}

// StopContainer gracefully stops a running container by ID, using the
// Docker daemon's default timeout before escalating to SIGKILL.
func StopContainer(ctx context.Context, cli *Client, containerID string) error {
	if err := cli.Inner().ContainerStop(ctx, containerID, container.StopOptions{}); err != nil {
		return model.WrapCLIError(model.ExitDockerNotRunning,
			fmt.Sprintf("failed to stop container %q", containerID), err)
	}
	return nil
}

// Relauncher restarts upstream containers by name. It satisfies the
// controller package's UpstreamRelauncher interface.
type Relauncher struct {
	cli *Client
}

// NewRelauncher creates a Relauncher backed by the given client.
func NewRelauncher(cli *Client) *Relauncher {
	return &Relauncher{cli: cli}
}

// Relaunch finds the named container and restarts it. A stopped
// container is started rather than restarted, so a relaunch works
// regardless of the container's current state.
func (r *Relauncher) Relaunch(ctx context.Context, name string) error {
	found, err := FindContainerByName(ctx, r.cli, name)
	if err != nil {
		return err
	}

	if found.State == "running" {
		return RestartContainer(ctx, r.cli, found.ID)
	}
	return StartContainer(ctx, r.cli, found.ID)
}
