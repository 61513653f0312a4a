// Package port implements host port availability scanning for bridge
// preflight checks.
//
// Before bridges are started (and in the standalone check command), the
// CLI verifies that each configured listen port is actually free, so a
// conflict is reported up front instead of surfacing as a bind failure
// mid-startup. Probing uses net.Listen/net.ListenPacket: asking the OS
// directly is more reliable than parsing /proc/net/* or shelling out to
// tools like lsof that may need elevated permissions.
package port
