package engine

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/phederal/sio/pkg/events"
	"github.com/phederal/sio/pkg/log"
	"github.com/phederal/sio/pkg/utils"
)

var conn_log = log.NewLog("sio:engine")

// Close reasons, observable by the peer and surfaced on the "close" event.
const (
	ReasonTransportError = "transport error"
	ReasonTransportClose = "transport close"
	ReasonPingTimeout    = "ping timeout"
	ReasonParseError     = "parse error"
	ReasonForcedClose    = "forced close"
	ReasonServerShutdown = "server shutting down"
)

var (
	// ErrWouldBlock is returned by Send when the outbound queue is full
	// and the frame is not volatile.
	ErrWouldBlock = errors.New("outbound queue is full")
	ErrConnClosed = errors.New("connection is closed")
)

type outFrame struct {
	data     []byte
	binary   bool
	compress bool
}

// Conn is the per-channel state machine: it performs the handshake, drives
// the heartbeat, serializes all writes through a bounded queue with a single
// writer, and turns channel failures into close reasons.
//
// Lifecycle events: "data" (payload []byte, binary bool), "heartbeat",
// "close" (reason string).
type Conn struct {
	events.EventEmitter

	id      string
	channel MessageChannel
	opts    *Options
	request *http.Request

	state_mu sync.RWMutex
	state    string

	outbound chan *outFrame
	closing  chan struct{}

	closeOnce   sync.Once
	closeReason string

	heartbeat_mu     sync.Mutex
	pingTimer        *time.Timer
	pingTimeoutTimer *time.Timer
}

// NewConn accepts a channel: it issues the session id, sends the OPEN
// handshake and starts the read/write loops and the heartbeat.
//
// request is the originating HTTP request, if any; it feeds the attach-time
// handshake metadata and may be nil for non-HTTP channels.
func NewConn(channel MessageChannel, opts *Options, request *http.Request) (*Conn, error) {
	id, err := utils.Base64Id()
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	c := &Conn{
		EventEmitter: events.New(),
		id:           id,
		channel:      channel,
		opts:         opts,
		request:      request,
		state:        "open",
		outbound:     make(chan *outFrame, opts.OutboundQueueSize),
		closing:      make(chan struct{}),
	}

	handshake, err := encodeHandshake(&HandshakeData{
		Sid:          id,
		Upgrades:     []string{},
		PingInterval: opts.PingInterval.Milliseconds(),
		PingTimeout:  opts.PingTimeout.Milliseconds(),
		MaxPayload:   opts.MaxPayload,
	})
	if err != nil {
		return nil, err
	}
	c.outbound <- &outFrame{data: handshake}

	conn_log.Debug("connection %s open", id)
	go c.writeLoop()
	go c.readLoop()
	c.schedulePing()
	return c, nil
}

func (c *Conn) Id() string {
	return c.id
}

// Request returns the HTTP request that originated the channel, or nil.
func (c *Conn) Request() *http.Request {
	return c.request
}

func (c *Conn) RemoteAddress() string {
	return c.channel.RemoteAddress()
}

func (c *Conn) LocalAddress() string {
	return c.channel.LocalAddress()
}

// ReadyState is one of "open", "closing", "closed".
func (c *Conn) ReadyState() string {
	c.state_mu.RLock()
	defer c.state_mu.RUnlock()

	return c.state
}

func (c *Conn) setReadyState(state string) {
	c.state_mu.Lock()
	c.state = state
	c.state_mu.Unlock()
}

// Send enqueues a message payload. Volatile frames are silently dropped
// when the queue is full; non-volatile frames fail with ErrWouldBlock so
// the caller can apply backpressure.
func (c *Conn) Send(data []byte, binary bool, volatile, compress bool) error {
	if c.ReadyState() != "open" {
		return ErrConnClosed
	}
	f := &outFrame{data: data, binary: true, compress: compress}
	if !binary {
		f = &outFrame{data: (&Packet{Type: MESSAGE, Data: data}).Encode(), compress: compress}
	}
	select {
	case c.outbound <- f:
		return nil
	default:
	}
	if volatile {
		conn_log.Debug("connection %s dropping volatile frame, queue full", c.id)
		return nil
	}
	return ErrWouldBlock
}

// sendControl enqueues a control packet. Control packets cannot be dropped;
// failure to queue one means the connection is hopelessly backed up.
func (c *Conn) sendControl(packet *Packet) {
	select {
	case c.outbound <- &outFrame{data: packet.Encode()}:
	default:
		conn_log.Debug("connection %s queue overflow on control packet", c.id)
		c.Close(ReasonTransportError)
	}
}

// Close starts an orderly teardown: pending outbound frames are drained for
// at most CloseGrace, then the channel is closed and "close" is emitted with
// the given reason.
func (c *Conn) Close(reason string) {
	c.closeOnce.Do(func() {
		conn_log.Debug("connection %s closing, reason %q", c.id, reason)
		c.setReadyState("closing")
		c.closeReason = reason
		c.stopHeartbeat()
		close(c.closing)
	})
}

func (c *Conn) readLoop() {
	for {
		data, binary, err := c.channel.Read()
		if err != nil {
			c.Close(ReasonTransportClose)
			return
		}
		if int64(len(data)) > c.opts.MaxPayload {
			c.Close(ReasonTransportError)
			return
		}
		c.onActivity()
		if binary {
			c.Emit("data", data, true)
			continue
		}
		packet, err := DecodePacket(data)
		if err != nil {
			c.Close(ReasonParseError)
			return
		}
		switch packet.Type {
		case PONG:
			c.Emit("heartbeat")
		case PING:
			// client-initiated probe, answer in kind
			c.sendControl(&Packet{Type: PONG, Data: packet.Data})
		case MESSAGE:
			c.Emit("data", packet.Data, false)
		case CLOSE:
			c.Close(ReasonTransportClose)
			return
		}
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case f := <-c.outbound:
			if err := c.write(f); err != nil {
				c.Close(ReasonTransportError)
				c.finish()
				return
			}
		case <-c.closing:
			c.drain()
			c.finish()
			return
		}
	}
}

func (c *Conn) write(f *outFrame) error {
	if compressible, ok := c.channel.(Compressible); ok {
		compressible.SetCompression(f.compress)
	}
	return c.channel.Write(f.data, f.binary)
}

// drain flushes frames already queued, bounded by CloseGrace.
func (c *Conn) drain() {
	deadline := time.NewTimer(c.opts.CloseGrace)
	defer deadline.Stop()
	for {
		select {
		case f := <-c.outbound:
			if err := c.write(f); err != nil {
				return
			}
		case <-deadline.C:
			return
		default:
			return
		}
	}
}

func (c *Conn) finish() {
	c.channel.Write((&Packet{Type: CLOSE}).Encode(), false)
	c.channel.Close(1000, c.closeReason)
	c.setReadyState("closed")
	c.Emit("close", c.closeReason)
}

func (c *Conn) schedulePing() {
	c.heartbeat_mu.Lock()
	defer c.heartbeat_mu.Unlock()

	utils.ClearTimeout(c.pingTimer)
	c.pingTimer = utils.SetTimeout(func() {
		conn_log.Debug("connection %s ping", c.id)
		c.sendControl(&Packet{Type: PING})
		c.armPingTimeout()
	}, c.opts.PingInterval)
}

func (c *Conn) armPingTimeout() {
	c.heartbeat_mu.Lock()
	defer c.heartbeat_mu.Unlock()

	utils.ClearTimeout(c.pingTimeoutTimer)
	c.pingTimeoutTimer = utils.SetTimeout(func() {
		c.Close(ReasonPingTimeout)
	}, c.opts.PingTimeout)
}

// onActivity resets the liveness window: any inbound frame counts.
func (c *Conn) onActivity() {
	c.heartbeat_mu.Lock()
	utils.ClearTimeout(c.pingTimeoutTimer)
	c.heartbeat_mu.Unlock()
	if c.ReadyState() == "open" {
		c.schedulePing()
	}
}

func (c *Conn) stopHeartbeat() {
	c.heartbeat_mu.Lock()
	defer c.heartbeat_mu.Unlock()

	utils.ClearTimeout(c.pingTimer)
	utils.ClearTimeout(c.pingTimeoutTimer)
}
