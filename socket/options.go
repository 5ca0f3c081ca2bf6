package socket

import (
	"time"

	"github.com/phederal/sio/engine"
	"github.com/phederal/sio/parser"
)

type ServerOptions struct {
	// PingInterval is the delay between server-sent heartbeat pings.
	PingInterval time.Duration
	// PingTimeout is how long to wait for a pong, counted from the last
	// inbound frame, before closing with "ping timeout".
	PingTimeout time.Duration
	// MaxPayload bounds a single inbound frame, in bytes.
	MaxPayload int64
	// ConnectTimeout is how long a connection may stay without a single
	// attached namespace before it is closed.
	ConnectTimeout time.Duration
	// CloseGrace bounds the outbound drain when a connection closes.
	CloseGrace time.Duration
	// AckTimeoutDefault applies to acknowledgements requested without an
	// explicit Timeout; 0 means no implicit deadline.
	AckTimeoutDefault time.Duration
	// MaxAckTableSize caps pending acknowledgement entries per server;
	// 0 means unbounded. Registrations beyond the cap fail with
	// ErrAckTableFull.
	MaxAckTableSize int
	// PerConnectionOutboundQueue bounds each connection's outbound queue.
	PerConnectionOutboundQueue int
	// MaxConnections caps concurrent connections; 0 means unlimited.
	MaxConnections int
	// CleanupEmptyChildNamespaces removes dynamically created namespaces
	// once their last socket detaches.
	CleanupEmptyChildNamespaces bool

	// Parser overrides the default JSON packet codec.
	Parser parser.Parser
	// Adapter overrides the in-memory adapter constructor.
	Adapter AdapterConstructor

	// Path is the HTTP mount path, default "/socket.io".
	Path string
	// ServeClient enables serving the client bundle under Path.
	ServeClient bool
	// ClientPath is the directory holding the client bundle files.
	ClientPath string
	// ClientVersion is the ETag used when serving the client bundle.
	ClientVersion string
}

func DefaultServerOptions() *ServerOptions {
	return &ServerOptions{
		PingInterval:   25_000 * time.Millisecond,
		PingTimeout:    20_000 * time.Millisecond,
		MaxPayload:     1e6,
		ConnectTimeout: 45_000 * time.Millisecond,
		CloseGrace:     500 * time.Millisecond,
		Path:           "/socket.io",
	}
}

// Assign fills the zero fields of o from other and returns o.
func (o *ServerOptions) Assign(other *ServerOptions) *ServerOptions {
	if other == nil {
		return o
	}
	if o.PingInterval <= 0 {
		o.PingInterval = other.PingInterval
	}
	if o.PingTimeout <= 0 {
		o.PingTimeout = other.PingTimeout
	}
	if o.MaxPayload <= 0 {
		o.MaxPayload = other.MaxPayload
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = other.ConnectTimeout
	}
	if o.CloseGrace <= 0 {
		o.CloseGrace = other.CloseGrace
	}
	if o.AckTimeoutDefault <= 0 {
		o.AckTimeoutDefault = other.AckTimeoutDefault
	}
	if o.MaxAckTableSize <= 0 {
		o.MaxAckTableSize = other.MaxAckTableSize
	}
	if o.PerConnectionOutboundQueue <= 0 {
		o.PerConnectionOutboundQueue = other.PerConnectionOutboundQueue
	}
	if o.MaxConnections <= 0 {
		o.MaxConnections = other.MaxConnections
	}
	if o.Parser == nil {
		o.Parser = other.Parser
	}
	if o.Adapter == nil {
		o.Adapter = other.Adapter
	}
	if o.Path == "" {
		o.Path = other.Path
	}
	if o.ClientPath == "" {
		o.ClientPath = other.ClientPath
	}
	if o.ClientVersion == "" {
		o.ClientVersion = other.ClientVersion
	}
	return o
}

// EngineOptions projects the transport-level subset of the options.
func (o *ServerOptions) EngineOptions() *engine.Options {
	return &engine.Options{
		PingInterval:      o.PingInterval,
		PingTimeout:       o.PingTimeout,
		MaxPayload:        o.MaxPayload,
		CloseGrace:        o.CloseGrace,
		OutboundQueueSize: o.PerConnectionOutboundQueue,
		MaxConnections:    o.MaxConnections,
	}
}
