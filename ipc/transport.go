package ipc

import "io"

// Transport is the duplex byte stream a Worker exchanges frames over.
// Production code backs it with an *os.File pipe end (inherited via
// Cmd.ExtraFiles); tests back it with an in-memory pipe so the framing
// and dispatch logic can be exercised without forking real processes.
type Transport interface {
	io.Reader
	io.Writer
	io.Closer
}
