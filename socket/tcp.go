package socket

import "net"

// NewTCPSocket returns a Socket ready to Connect over TCP.
func NewTCPSocket() Socket {
	return newDialSocket("tcp")
}

// FromAcceptedConn wraps a connection handed back by a net.Listener's
// Accept (TCP or Unix) as a Socket, for use by server.Server's accept
// loop.
func FromAcceptedConn(conn net.Conn) Socket {
	return newConnSocket(conn)
}
