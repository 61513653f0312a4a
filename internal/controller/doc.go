// Package controller ties bridges together: it owns one relay
// supervisor per configured bridge and coordinates relaunches, where the
// upstream container is restarted first and the bridge's relay is then
// restarted against it.
//
// Container restarts go through the UpstreamRelauncher interface, so the
// Docker-backed implementation in internal/docker can be swapped for a
// test double.
package controller
