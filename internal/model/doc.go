// Package model defines the domain types and value objects for the
// proxy-bridge CLI and the relay lifecycle library.
//
// This package contains pure data structures with no external dependencies.
// RelayConfig and BridgeSpec are transient, in-memory values: bridge state
// never survives a process restart, so there are no persistence concerns
// here.
//
// The package also defines exit codes (ExitCode) and a custom error type
// (CLIError) that carries exit codes for proper OS process exit handling.
package model
