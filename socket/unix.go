package socket

// NewUnixSocket returns a Socket ready to Connect over a Unix domain
// socket path.
func NewUnixSocket() Socket {
	return newDialSocket("unix")
}
