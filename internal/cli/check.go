// Package cli — check.go implements the "proxy-bridge check" command.
//
// The check command loads the bridges configuration and verifies that
// every configured listen port is currently free, without starting any
// relay. For occupied ports it suggests a nearby free alternative. This
// is the same preflight the run command performs, exposed standalone so
// scripts can validate a configuration before deploying it.
package cli

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/proxy-bridge/internal/config"
	"github.com/shinji-kodama/proxy-bridge/internal/model"
	"github.com/shinji-kodama/proxy-bridge/internal/port"
)

// suggestionSearchSpan is how far above a conflicting port the check
// command searches for a free alternative to suggest.
const suggestionSearchSpan = 1000

// NewCheckCommand creates the "check" cobra command.
// It is called from NewRootCommand to register as a subcommand.
func NewCheckCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify the configured listen ports are available",
		Long: `Check that every listen port in the bridges configuration is currently
free on this host, without starting any bridge.

Exits with code 4 when any port is in use, listing the conflicts and a
suggested free alternative for each.

Examples:
  proxy-bridge check
  proxy-bridge check --config bridges.yaml --json`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck()
		},
	}

	return cmd
}

// portConflict describes one bridge whose configured listen port is
// already in use, with a suggested free alternative (0 when none was
// found nearby).
type portConflict struct {
	Bridge    string `json:"bridge"`
	Port      int    `json:"port"`
	Suggested int    `json:"suggested,omitempty"`
}

// runCheck is the main logic function for the check command.
func runCheck() error {
	file, err := loadBridgesFile()
	if err != nil {
		return err
	}

	conflicts := findPortConflicts(file)

	scanner := port.NewScanner()
	for i := range conflicts {
		// Best effort: a failed search just leaves Suggested at 0.
		if alt, err := scanner.FindAvailablePort(conflicts[i].Port+1, conflicts[i].Port+suggestionSearchSpan, "tcp"); err == nil {
			conflicts[i].Suggested = alt
		}
	}

	printCheckResult(file, conflicts)

	if len(conflicts) > 0 {
		return model.NewCLIError(model.ExitBindFailed,
			fmt.Sprintf("port conflict: the following listen ports are already in use: %v", conflictPorts(conflicts)))
	}
	return nil
}

// findPortConflicts probes every bridge's configured listen port and
// returns the ones already in use. Bridges listening on port 0 are
// skipped: the OS assigns those at bind time, so they cannot conflict.
func findPortConflicts(file *config.File) []portConflict {
	scanner := port.NewScanner()

	var conflicts []portConflict
	for _, b := range file.Bridges {
		listenPort := parseListenPort(b.ListenAddress)
		if listenPort == 0 {
			continue
		}
		if !scanner.IsPortAvailable(listenPort, "tcp") {
			conflicts = append(conflicts, portConflict{Bridge: b.Name, Port: listenPort})
		}
	}
	return conflicts
}

// conflictPorts projects the conflicting port numbers for error messages.
func conflictPorts(conflicts []portConflict) []int {
	ports := make([]int, 0, len(conflicts))
	for _, c := range conflicts {
		ports = append(ports, c.Port)
	}
	return ports
}

// parseListenPort extracts the port number from a validated listen
// address. Returns 0 for OS-assigned ports or unparsable input (the
// latter cannot happen after config validation).
func parseListenPort(addr string) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	listenPort, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}
	return listenPort
}

// printCheckResult outputs the check result in text or JSON format.
func printCheckResult(file *config.File, conflicts []portConflict) {
	if IsJSONOutput() {
		printCheckResultJSON(file, conflicts)
	} else {
		printCheckResultText(file, conflicts)
	}
}

// printCheckResultJSON outputs the check result as structured JSON.
func printCheckResultJSON(file *config.File, conflicts []portConflict) {
	result := map[string]interface{}{
		"bridges":   len(file.Bridges),
		"ok":        len(conflicts) == 0,
		"conflicts": conflicts,
	}

	data, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(data))
}

// printCheckResultText outputs the check result as human-readable text.
func printCheckResultText(file *config.File, conflicts []portConflict) {
	if len(conflicts) == 0 {
		fmt.Printf("All %d bridge listen port(s) are available\n", len(file.Bridges))
		return
	}

	fmt.Printf("%d of %d bridge listen port(s) are in use:\n", len(conflicts), len(file.Bridges))
	fmt.Println()
	for _, c := range conflicts {
		if c.Suggested != 0 {
			fmt.Printf("  %-12s port %d in use (try %d)\n", c.Bridge, c.Port, c.Suggested)
		} else {
			fmt.Printf("  %-12s port %d in use\n", c.Bridge, c.Port)
		}
	}
}
