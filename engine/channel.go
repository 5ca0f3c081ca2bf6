package engine

// MessageChannel is the duplex frame transport a Conn drives. The concrete
// implementation (WebSocket, in-memory pair, ...) owns framing and I/O; the
// Conn owns packet semantics, heartbeat and teardown.
//
// Read is called from a single reader goroutine and Write from a single
// writer goroutine; implementations do not need internal synchronization
// between the two directions.
type MessageChannel interface {
	// Read blocks until the next frame arrives. It returns an error once
	// the channel is closed or broken; there is no separate close
	// callback, the terminal read error is the close notification and it
	// terminates the Conn.
	Read() (data []byte, binary bool, err error)

	Write(data []byte, binary bool) error

	Close(code int, reason string) error

	RemoteAddress() string
	LocalAddress() string
}

// Compressible is implemented by channels that support per-frame
// compression.
type Compressible interface {
	SetCompression(enabled bool)
}
