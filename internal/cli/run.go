// Package cli — run.go implements the "proxy-bridge run" command.
//
// The run command loads the bridges configuration, verifies that the
// configured listen ports are free, starts a relay per bridge, and then
// serves until interrupted. SIGHUP relaunches every bridge: upstream
// containers are restarted first, then each relay is restarted and its
// bind re-confirmed.
//
// Bind failures during startup or relaunch are reported with exit code 4
// (or 5 when a worker died unreported) — never swallowed.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/proxy-bridge/internal/config"
	"github.com/shinji-kodama/proxy-bridge/internal/controller"
	"github.com/shinji-kodama/proxy-bridge/internal/docker"
	"github.com/shinji-kodama/proxy-bridge/internal/model"
)

// NewRunCommand creates the "run" cobra command.
// It is called from NewRootCommand to register as a subcommand.
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start all configured bridges and serve until interrupted",
		Long: `Start a relay for every bridge in the configuration file and keep them
running. Each relay's bind is confirmed before the bridge is reported as
started.

Signals:
  SIGHUP          relaunch all bridges (restart upstream containers, then relays)
  SIGINT/SIGTERM  stop all bridges and exit

Examples:
  proxy-bridge run
  proxy-bridge run --config bridges.yaml --json`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd.Context())
		},
	}

	return cmd
}

// runRun is the main logic function for the run command.
func runRun(ctx context.Context) error {
	// Step 1: Load the bridges configuration.
	file, err := loadBridgesFile()
	if err != nil {
		return err
	}

	VerboseLog("Loaded %d bridge(s)", len(file.Bridges))

	// Step 2: Verify the configured listen ports are free before
	// starting anything. This reports all conflicts at once instead of
	// failing on the first bind mid-startup.
	if conflicts := findPortConflicts(file); len(conflicts) > 0 {
		return model.NewCLIError(model.ExitBindFailed,
			fmt.Sprintf("port conflict: the following listen ports are already in use: %v", conflictPorts(conflicts)))
	}

	// Step 3: Connect to Docker only when a bridge actually names an
	// upstream container. Container-less setups must work without a
	// Docker daemon.
	var relauncher controller.UpstreamRelauncher
	if anyContainer(file) {
		cli, err := docker.NewClient()
		if err != nil {
			return err
		}
		defer func() { _ = cli.Close() }()

		if err := cli.Ping(ctx); err != nil {
			return err
		}
		VerboseLog("Connected to Docker daemon")
		relauncher = docker.NewRelauncher(cli)
	}

	// Step 4: Build the controller and start every bridge. Start
	// returns only confirmed ports; a bind failure aborts the run.
	ctrl, err := controller.New(controller.Config{
		Bridges:    file.Bridges,
		Relauncher: relauncher,
		Logger:     newLogger(),
	})
	if err != nil {
		return err
	}
	defer func() { _ = ctrl.Close() }()

	ports, err := ctrl.Start(ctx)
	if err != nil {
		return err
	}

	printRunResult(file, ports, "started")

	// Step 5: Serve until interrupted, relaunching on SIGHUP.
	return serveSignals(ctx, ctrl, file)
}

// serveSignals blocks until SIGINT/SIGTERM, handling SIGHUP relaunches
// in between. A failed relaunch terminates the run: continuing with a
// bridge whose bind is unconfirmed would silently serve nothing.
func serveSignals(ctx context.Context, ctrl *controller.Controller, file *config.File) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hangup := make(chan os.Signal, 1)
	signal.Notify(hangup, syscall.SIGHUP)
	defer signal.Stop(hangup)

	for {
		select {
		case <-ctx.Done():
			VerboseLog("Shutting down bridges")
			return nil

		case <-hangup:
			VerboseLog("SIGHUP received, relaunching all bridges")
			ports, err := ctrl.RelaunchAll(ctx)
			if err != nil {
				return err
			}
			printRunResult(file, ports, "relaunched")
		}
	}
}

// loadBridgesFile resolves the configuration path (the --config flag or
// discovery in the working directory) and loads it.
func loadBridgesFile() (*config.File, error) {
	path := configPath
	if path == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		path, err = config.Locate(cwd)
		if err != nil {
			return nil, err
		}
	}

	VerboseLog("Using configuration %s", path)
	return config.Load(path)
}

// anyContainer reports whether any bridge names an upstream container.
func anyContainer(file *config.File) bool {
	for _, b := range file.Bridges {
		if b.Container != "" {
			return true
		}
	}
	return false
}

// printRunResult outputs the bridge table in text or JSON format.
func printRunResult(file *config.File, ports map[string]int, action string) {
	if IsJSONOutput() {
		printRunResultJSON(file, ports, action)
	} else {
		printRunResultText(file, ports, action)
	}
}

// printRunResultJSON outputs the result as structured JSON.
func printRunResultJSON(file *config.File, ports map[string]int, action string) {
	type bridgeJSON struct {
		Name      string `json:"name"`
		Port      int    `json:"port"`
		Upstream  string `json:"upstream"`
		Container string `json:"container,omitempty"`
	}

	type resultJSON struct {
		Action  string       `json:"action"`
		Bridges []bridgeJSON `json:"bridges"`
	}

	result := resultJSON{
		Action:  action,
		Bridges: make([]bridgeJSON, 0, len(file.Bridges)),
	}

	for _, b := range file.Bridges {
		result.Bridges = append(result.Bridges, bridgeJSON{
			Name:      b.Name,
			Port:      ports[b.Name],
			Upstream:  b.UpstreamTarget,
			Container: b.Container,
		})
	}

	data, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(data))
}

// printRunResultText outputs the result as human-readable text with one
// line per bridge.
func printRunResultText(file *config.File, ports map[string]int, action string) {
	fmt.Printf("%s %d bridge(s)\n", capitalize(action), len(file.Bridges))
	fmt.Println()
	for _, b := range file.Bridges {
		target := b.UpstreamTarget
		if b.Container != "" {
			target = fmt.Sprintf("%s (container: %s)", target, b.Container)
		}
		fmt.Printf("  %-12s %s:%-6d -> %s\n", b.Name, listenHost(b.ListenAddress), ports[b.Name], target)
	}
}

// listenHost extracts the host part of a configured listen address for
// display next to the confirmed bound port.
func listenHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return "127.0.0.1"
	}
	return host
}

// capitalize upper-cases the first byte of an ASCII word for display.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
