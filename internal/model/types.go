package model

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
)

// RelayConfig describes one relay instance: the local address it listens
// on and the upstream target accepted connections are forwarded to.
//
// A RelayConfig is immutable once handed to a relay worker. Callers create
// a fresh value per restart attempt rather than mutating a shared one, so
// a worker's view of its configuration can never change mid-flight.
type RelayConfig struct {
	// ListenAddress is the local "host:port" address the relay binds.
	// A port of 0 asks the OS to pick a free port; the bound port is
	// reported back through the supervisor's restart result.
	ListenAddress string `json:"listen" yaml:"listen"`

	// UpstreamTarget is the "host:port" address accepted connections
	// are forwarded to.
	UpstreamTarget string `json:"upstream" yaml:"upstream"`
}

// Validate checks that both addresses are well-formed "host:port" strings
// with in-range ports. Validation happens before any worker is spawned, so
// a malformed config never reaches the network layer.
func (c RelayConfig) Validate() error {
	if err := validateHostPort(c.ListenAddress, true); err != nil {
		return fmt.Errorf("relay config: invalid listen address %q: %w", c.ListenAddress, err)
	}
	if err := validateHostPort(c.UpstreamTarget, false); err != nil {
		return fmt.Errorf("relay config: invalid upstream target %q: %w", c.UpstreamTarget, err)
	}
	return nil
}

// validateHostPort checks a "host:port" string. allowZero permits port 0
// (meaningful for listen addresses, where it requests an OS-assigned port,
// but nonsensical as a dial target).
func validateHostPort(addr string, allowZero bool) error {
	if addr == "" {
		return fmt.Errorf("address must not be empty")
	}
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("port %q is not a number", portStr)
	}
	if port < 0 || port > 65535 {
		return fmt.Errorf("port %d out of range (0-65535)", port)
	}
	if port == 0 && !allowZero {
		return fmt.Errorf("port must not be 0")
	}
	return nil
}

// BridgeSpec is one named bridge entry from the configuration file.
// It pairs a relay configuration with an optional upstream container:
// when Container is set, relaunching the bridge restarts that container
// before the relay is restarted.
type BridgeSpec struct {
	// Name is the unique identifier for this bridge.
	// Must contain only alphanumeric characters and hyphens.
	Name string `json:"name" yaml:"name"`

	// ListenAddress is the local address the bridge listens on.
	ListenAddress string `json:"listen" yaml:"listen"`

	// UpstreamTarget is the address accepted connections forward to.
	UpstreamTarget string `json:"upstream" yaml:"upstream"`

	// Container optionally names the Docker container that serves the
	// upstream target. Empty when the upstream is not containerized.
	Container string `json:"container,omitempty" yaml:"container,omitempty"`
}

// RelayConfig returns the relay configuration for this bridge.
// A fresh value is returned on every call, matching the one-config-per-
// start-attempt lifecycle.
func (b BridgeSpec) RelayConfig() RelayConfig {
	return RelayConfig{
		ListenAddress: b.ListenAddress,
		UpstreamTarget: b.UpstreamTarget,
	}
}

// Validate checks the bridge name and the embedded relay configuration.
func (b BridgeSpec) Validate() error {
	if err := ValidateName(b.Name); err != nil {
		return err
	}
	return b.RelayConfig().Validate()
}

// nameRegex validates bridge names: alphanumeric + hyphens only,
// must start and end with alphanumeric.
var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]*[a-zA-Z0-9]$|^[a-zA-Z0-9]$`)

// ValidateName checks if the given name is a valid bridge name.
// Valid names contain only alphanumeric characters and hyphens,
// and must start/end with an alphanumeric character.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("bridge name must not be empty")
	}
	if !nameRegex.MatchString(name) {
		return fmt.Errorf("invalid bridge name %q: must contain only alphanumeric characters and hyphens, and start/end with alphanumeric", name)
	}
	return nil
}

// ExitCode defines standard CLI exit codes. These codes allow scripts and
// CI systems to programmatically determine the outcome of a command.
type ExitCode int

const (
	// ExitSuccess indicates the command completed successfully.
	ExitSuccess ExitCode = 0

	// ExitGeneralError indicates an unspecified error occurred.
	ExitGeneralError ExitCode = 1

	// ExitConfigError indicates the bridges configuration file was
	// missing or invalid.
	ExitConfigError ExitCode = 2

	// ExitDockerNotRunning indicates the Docker daemon is not accessible.
	ExitDockerNotRunning ExitCode = 3

	// ExitBindFailed indicates a relay could not bind its listen address,
	// or a preflight check found the port already in use.
	ExitBindFailed ExitCode = 4

	// ExitWorkerDied indicates a relay worker exited before reporting
	// a bind outcome.
	ExitWorkerDied ExitCode = 5

	// ExitBridgeNotFound indicates the named bridge does not exist in
	// the configuration.
	ExitBridgeNotFound ExitCode = 6
)

// CLIError is a custom error type that carries an exit code.
// This allows the CLI layer to translate domain errors into
// appropriate process exit codes.
type CLIError struct {
	// Code is the exit code to return to the OS.
	Code ExitCode

	// Message is the human-readable error description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error satisfies the error interface. It returns the human-readable
// error message, optionally including the underlying error.
func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewCLIError creates a new CLIError with the given exit code and message.
func NewCLIError(code ExitCode, message string) *CLIError {
	return &CLIError{Code: code, Message: message}
}

// WrapCLIError creates a new CLIError that wraps an existing error.
func WrapCLIError(code ExitCode, message string, err error) *CLIError {
	return &CLIError{Code: code, Message: message, Err: err}
}
