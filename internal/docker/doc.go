// Package docker wraps the Docker Engine SDK client for relaunching the
// upstream containers that proxy bridges forward to.
//
// It handles Docker socket autodetection across platforms, daemon
// connectivity checks, and name-based container lookup. The Relauncher
// type adapts these operations to the controller package's
// UpstreamRelauncher interface.
package docker
