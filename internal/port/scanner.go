package port

import (
	"fmt"
	"net"
)

// Scanner checks whether specific ports are available on the host machine.
//
// The struct is currently stateless, but is defined as a struct (rather
// than bare functions) so that future options (e.g., bind address) can be
// added without breaking the API, and so the Scanner is injectable as a
// dependency in tests.
type Scanner struct{}

// NewScanner creates a new Scanner instance.
func NewScanner() *Scanner {
	return &Scanner{}
}

// IsPortAvailable checks whether a single port is free on the host.
//
// For TCP it attempts net.Listen(":port"); for UDP, net.ListenPacket.
// If the bind succeeds the port is available and the probe listener is
// closed immediately. The probe binds all interfaces (":port") so a
// service listening on 0.0.0.0 is not misreported as free.
//
// Returns true if the port is free, false if it is in use or the
// protocol is unknown.
func (s *Scanner) IsPortAvailable(port int, protocol string) bool {
	addr := fmt.Sprintf(":%d", port)

	switch protocol {
	case "tcp":
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			return false
		}
		defer func() { _ = listener.Close() }()
		return true

	case "udp":
		conn, err := net.ListenPacket("udp", addr)
		if err != nil {
			return false
		}
		defer func() { _ = conn.Close() }()
		return true

	default:
		// Unknown protocol — treat as unavailable to fail safe.
		return false
	}
}

// FindAvailablePort scans [startPort, endPort] (inclusive) and returns
// the first free port for the given protocol. The sequential search is
// deterministic, so repeated runs on the same host suggest the same
// alternative.
//
// Returns an error if no port in the range is free.
func (s *Scanner) FindAvailablePort(startPort, endPort int, protocol string) (int, error) {
	for port := startPort; port <= endPort; port++ {
		if s.IsPortAvailable(port, protocol) {
			return port, nil
		}
	}
	return 0, fmt.Errorf("no available %s port found in range %d-%d", protocol, startPort, endPort)
}
