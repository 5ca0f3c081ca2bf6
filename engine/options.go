package engine

import "time"

type Options struct {
	// PingInterval is the delay between server-sent pings.
	PingInterval time.Duration
	// PingTimeout is how long the server waits for a pong, counted from
	// the last inbound frame.
	PingTimeout time.Duration
	// MaxPayload bounds the size of a single inbound frame.
	MaxPayload int64
	// CloseGrace bounds the outbound queue drain on close.
	CloseGrace time.Duration
	// OutboundQueueSize bounds the per-connection outbound queue.
	OutboundQueueSize int
	// MaxConnections caps concurrent connections; 0 means unlimited.
	MaxConnections int
}

func DefaultOptions() *Options {
	return &Options{
		PingInterval:      25_000 * time.Millisecond,
		PingTimeout:       20_000 * time.Millisecond,
		MaxPayload:        1e6,
		CloseGrace:        500 * time.Millisecond,
		OutboundQueueSize: 128,
	}
}

// withDefaults fills in zero fields from DefaultOptions.
func (o *Options) withDefaults() *Options {
	defaults := DefaultOptions()
	if o == nil {
		return defaults
	}
	out := *o
	if out.PingInterval <= 0 {
		out.PingInterval = defaults.PingInterval
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = defaults.PingTimeout
	}
	if out.MaxPayload <= 0 {
		out.MaxPayload = defaults.MaxPayload
	}
	if out.CloseGrace <= 0 {
		out.CloseGrace = defaults.CloseGrace
	}
	if out.OutboundQueueSize <= 0 {
		out.OutboundQueueSize = defaults.OutboundQueueSize
	}
	return &out
}
