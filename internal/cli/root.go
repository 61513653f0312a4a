// Package cli implements the cobra-based CLI commands for proxy-bridge.
//
// Each subcommand (run, check) is defined in its own file within this
// package. This file defines the root command that serves as the parent
// for all subcommands and handles global flags and exit-code mapping.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/proxy-bridge/internal/model"
	"github.com/shinji-kodama/proxy-bridge/internal/relay"
)

// Global flag variables shared across all subcommands. These are bound
// to cobra persistent flags on the root command, which makes them
// available to every subcommand automatically.
var (
	// jsonOutput controls whether command output is formatted as JSON
	// for machine consumption instead of human-readable text.
	jsonOutput bool

	// verbose enables detailed logging output for debugging.
	verbose bool

	// configPath optionally points at the bridges configuration file.
	// When empty, the conventional names are searched in the working
	// directory.
	configPath string
)

// version, commit, and date are set at build time via ldflags.
// They are injected from the main package to display version information.
var (
	// Version is the semantic version of the binary (e.g., "1.0.0").
	Version = "dev"

	// Commit is the Git commit hash the binary was built from.
	Commit = "none"

	// Date is the build timestamp.
	Date = "unknown"
)

// NewRootCommand creates and configures the root cobra command.
// The root command itself does not perform any action — it only provides
// help text and global flags. Actual functionality is provided by the
// run and check subcommands.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "proxy-bridge",
		Short: "Local proxy bridges with confirmed-bind restarts",
		Long: `proxy-bridge runs local TCP listening endpoints that forward accepted
connections to upstream targets, typically services inside containers that
get relaunched (for example a browser's DevTools port).

Every bridge restart waits for the new listener's bind to be confirmed
before reporting success, so a failed bind is always surfaced to the
caller instead of being lost in a background task.`,

		// We handle error output and usage printing ourselves for a
		// cleaner UX (text or JSON based on --json).
		SilenceUsage:  true,
		SilenceErrors: true,

		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date),
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the bridges configuration file")

	rootCmd.AddCommand(NewRunCommand())
	rootCmd.AddCommand(NewCheckCommand())

	return rootCmd
}

// Execute runs the root command and handles exit codes. It inspects the
// returned error and translates it into an OS exit code: CLIError types
// carry their own codes, known relay failures map to their dedicated
// codes, and everything else defaults to 1.
func Execute(rootCmd *cobra.Command) {
	err := rootCmd.Execute()
	if err == nil {
		return
	}

	err = wrapExitError(err)

	var cliErr *model.CLIError
	if errors.As(err, &cliErr) {
		printError(cliErr.Message, cliErr.Err)
		os.Exit(int(cliErr.Code))
	}

	printError(err.Error(), nil)
	os.Exit(int(model.ExitGeneralError))
}

// wrapExitError attaches exit codes to relay failures that bubble up as
// plain errors. Errors already carrying a CLIError pass through.
func wrapExitError(err error) error {
	var cliErr *model.CLIError
	if errors.As(err, &cliErr) {
		return err
	}

	var bindErr *relay.BindError
	if errors.As(err, &bindErr) {
		return model.WrapCLIError(model.ExitBindFailed, "relay bind failed", err)
	}
	if errors.Is(err, relay.ErrWorkerDied) {
		return model.WrapCLIError(model.ExitWorkerDied, "relay worker died", err)
	}
	return err
}

// printError outputs an error message in the appropriate format
// (JSON or text) based on the --json global flag.
func printError(message string, underlying error) {
	if jsonOutput {
		errObj := map[string]interface{}{
			"error": map[string]interface{}{
				"message": message,
			},
		}
		if underlying != nil {
			if errMap, ok := errObj["error"].(map[string]interface{}); ok {
				errMap["detail"] = underlying.Error()
			}
		}
		// Errors go to stderr even in JSON mode: stdout is reserved for
		// successful command output.
		data, _ := json.MarshalIndent(errObj, "", "  ")
		fmt.Fprintln(os.Stderr, string(data))
	} else {
		if underlying != nil {
			fmt.Fprintf(os.Stderr, "Error: %s: %v\n", message, underlying)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %s\n", message)
		}
	}
}

// VerboseLog prints a message to stderr only when verbose mode is
// enabled. Commands use this for progress output that helps users see
// which operations are being performed.
func VerboseLog(format string, args ...interface{}) {
	if verbose {
		fmt.Fprintf(os.Stderr, "[verbose] "+format+"\n", args...)
	}
}

// IsJSONOutput returns whether the --json flag is set.
// Subcommands use this to decide their output format.
func IsJSONOutput() bool {
	return jsonOutput
}

// newLogger builds the slog logger handed to the relay and controller
// packages. Verbose mode lowers the level to debug; normal runs keep it
// at info. Output goes to stderr so stdout stays machine-parsable.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
