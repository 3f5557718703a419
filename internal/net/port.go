package net

import (
	"fmt"
	"net"
)

// GetEphemeralTCPPort asks the OS for a free TCP port on the loopback interface and releases it immediately.
// Nothing stops another process from grabbing the port before the caller binds it.
func GetEphemeralTCPPort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("resolving 127.0.0.1:0: %w", err)
	}
	listener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("listening to acquire port: %w", err)
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// HostPort joins a host and an int port.
func HostPort(host string, port int) string {
	return net.JoinHostPort(host, fmt.Sprint(port))
}
