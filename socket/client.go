package socket

import (
	"net/http"
	"time"

	"github.com/phederal/sio/engine"
	"github.com/phederal/sio/parser"
	"github.com/phederal/sio/pkg/log"
	"github.com/phederal/sio/pkg/types"
	"github.com/phederal/sio/pkg/utils"
)

var client_log = log.NewLog("sio:client")

// Client wraps one transport connection and fans its packets out to the
// sockets of the namespaces the peer attached to. There is exactly one
// Client per engine connection and one Socket per attached namespace.
type Client struct {
	server  *Server
	conn    *engine.Conn
	encoder parser.Encoder
	decoder parser.Decoder

	sockets *types.Map[SocketId, *Socket]
	nsps    *types.Map[string, *Socket]

	connectTimer *time.Timer
}

func NewClient(server *Server, conn *engine.Conn) *Client {
	c := &Client{
		server:  server,
		conn:    conn,
		encoder: server.Encoder(),
		decoder: server.Parser().NewDecoder(),
		sockets: &types.Map[SocketId, *Socket]{},
		nsps:    &types.Map[string, *Socket]{},
	}
	c.setup()
	return c
}

func (c *Client) setup() {
	c.decoder.On("decoded", func(args ...any) {
		c.ondecoded(args[0].(*parser.Packet))
	})
	c.conn.On("data", func(args ...any) {
		c.ondata(args[0].([]byte), args[1].(bool))
	})
	c.conn.On("close", func(args ...any) {
		c.onclose(args[0].(string))
	})

	if timeout := c.server.Opts().ConnectTimeout; timeout > 0 {
		c.connectTimer = utils.SetTimeout(func() {
			if c.nsps.Len() == 0 {
				client_log.Debug("no namespace joined yet, closing the client")
				c.conn.Close("connect timeout")
			}
		}, timeout)
	}
}

// Conn returns the underlying transport connection.
func (c *Client) Conn() *engine.Conn {
	return c.conn
}

// Request returns the HTTP request that opened the connection.
func (c *Client) Request() *http.Request {
	return c.conn.Request()
}

func (c *Client) ondata(data []byte, binary bool) {
	if err := c.decoder.Add(data, binary); err != nil {
		c.onProtocolError(err)
	}
}

// onProtocolError tears the connection down after a protocol violation.
func (c *Client) onProtocolError(err error) {
	client_log.Debug("protocol error: %v", err)
	c.conn.Close(engine.ReasonParseError)
}

func (c *Client) ondecoded(packet *parser.Packet) {
	if packet.Type == parser.CONNECT {
		c.connect(packet.Nsp, packet.Data)
		return
	}
	socket, ok := c.nsps.Load(packet.Nsp)
	if !ok {
		client_log.Debug("no socket for namespace %s, packet dropped", packet.Nsp)
		return
	}
	socket._onpacket(packet)
}

// connect handles a CONNECT packet: the target namespace must exist or match
// a dynamic matcher, then its middleware chain decides.
func (c *Client) connect(name string, auth any) {
	if _, ok := c.server._nsps.Load(name); ok {
		c.doConnect(name, auth)
		return
	}
	c.server._checkNamespace(name, auth, func(allowed bool) {
		if !allowed {
			client_log.Debug("creation of namespace %s was denied", name)
			c.writeConnectError(name, NewExtendedError("Invalid namespace", nil))
			return
		}
		c.doConnect(name, auth)
	})
}

func (c *Client) doConnect(name string, auth any) {
	nsp := c.server.Of(name, nil)
	nsp.Add(c, auth, func(socket *Socket) {
		c.sockets.Store(socket.Id(), socket)
		c.nsps.Store(name, socket)
		utils.ClearTimeout(c.connectTimer)
	})
}

// WritePacket encodes a packet and enqueues its frames on the connection.
func (c *Client) WritePacket(packet *parser.Packet, opts *WriteOptions) error {
	frames, err := c.encoder.Encode(packet)
	if err != nil {
		client_log.Debug("packet encode failed: %v", err)
		return err
	}
	return c.WriteToEngine(frames, opts)
}

// WriteToEngine enqueues pre-encoded frames. The first enqueue failure is
// returned; remaining frames are still attempted so a partially written
// multi-frame packet does not stall the binary attachment counter on the
// peer side longer than needed.
func (c *Client) WriteToEngine(frames []parser.Frame, opts *WriteOptions) error {
	if opts == nil {
		opts = &WriteOptions{}
	}
	var first error
	for _, frame := range frames {
		if err := c.conn.Send(frame.Data, frame.Binary, opts.Volatile, opts.Compress); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (c *Client) writeConnectError(nsp string, err *ExtendedError) {
	data := map[string]any{"message": err.Message}
	if err.Data != nil {
		data["data"] = err.Data
	}
	c.WritePacket(&parser.Packet{
		Type: parser.CONNECT_ERROR,
		Nsp:  nsp,
		Data: data,
	}, nil)
}

// _disconnect closes the underlying connection, detaching every namespace.
func (c *Client) _disconnect() {
	c.conn.Close(engine.ReasonForcedClose)
}

// _remove forgets a detached socket.
func (c *Client) _remove(socket *Socket) {
	if _, ok := c.sockets.LoadAndDelete(socket.Id()); ok {
		c.nsps.Delete(socket.Nsp().Name())
	}
}

// onclose propagates the connection teardown to every attached socket.
func (c *Client) onclose(reason string) {
	client_log.Debug("client close with reason %s", reason)
	c.destroy()

	c.sockets.Range(func(_ SocketId, socket *Socket) bool {
		socket._onclose(reason)
		return true
	})
	c.sockets.Clear()
	c.nsps.Clear()
}

func (c *Client) destroy() {
	utils.ClearTimeout(c.connectTimer)
	c.conn.RemoveAllListeners("data")
	c.conn.RemoveAllListeners("close")
	c.decoder.Destroy()
}
