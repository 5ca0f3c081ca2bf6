package socket

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phederal/sio/engine"
)

type testFrame struct {
	data   []byte
	binary bool
}

// pipeChannel is an in-memory engine.MessageChannel; the test plays the
// client side of the wire protocol over it.
type pipeChannel struct {
	incoming chan testFrame
	outgoing chan testFrame
	closed   chan struct{}
	once     sync.Once
}

func newPipeChannel() *pipeChannel {
	return &pipeChannel{
		incoming: make(chan testFrame, 64),
		outgoing: make(chan testFrame, 64),
		closed:   make(chan struct{}),
	}
}

func (p *pipeChannel) Read() ([]byte, bool, error) {
	select {
	case f := <-p.incoming:
		return f.data, f.binary, nil
	case <-p.closed:
		return nil, false, errors.New("channel closed")
	}
}

func (p *pipeChannel) Write(data []byte, binary bool) error {
	select {
	case p.outgoing <- testFrame{data: data, binary: binary}:
		return nil
	case <-p.closed:
		return errors.New("channel closed")
	}
}

func (p *pipeChannel) Close(int, string) error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *pipeChannel) RemoteAddress() string { return "pipe" }
func (p *pipeChannel) LocalAddress() string  { return "pipe" }

// testClient drives the client half of a connection. send and next work on
// bare protocol payloads; the transport message prefix is handled here, and
// heartbeat pings are answered transparently.
type testClient struct {
	t       *testing.T
	channel *pipeChannel
}

func newTestServer(t *testing.T, opts *ServerOptions) *Server {
	t.Helper()
	server := NewServer(opts)
	t.Cleanup(func() { server.Close(nil) })
	return server
}

// dial opens a transport connection against the server; the engine OPEN
// handshake is consumed before returning.
func dial(t *testing.T, server *Server) *testClient {
	t.Helper()
	channel := newPipeChannel()
	conn, err := engine.NewConn(channel, server.Opts().EngineOptions(), nil)
	require.NoError(t, err)
	server.Engine().Accept(conn)
	t.Cleanup(func() { channel.Close(1000, "test done") })

	c := &testClient{t: t, channel: channel}
	open := c.nextFrame()
	require.Equal(t, byte('0'), open[0], "expected the OPEN handshake first")
	return c
}

func (c *testClient) send(payload string) {
	c.t.Helper()
	select {
	case c.channel.incoming <- testFrame{data: []byte("4" + payload)}:
	case <-time.After(2 * time.Second):
		c.t.Fatal("send blocked")
	}
}

func (c *testClient) sendBinary(data []byte) {
	c.t.Helper()
	select {
	case c.channel.incoming <- testFrame{data: data, binary: true}:
	case <-time.After(2 * time.Second):
		c.t.Fatal("send blocked")
	}
}

func (c *testClient) nextFrame() []byte {
	c.t.Helper()
	for {
		select {
		case f := <-c.channel.outgoing:
			if !f.binary && len(f.data) > 0 && f.data[0] == '2' {
				// transport ping, answer and keep reading
				c.channel.incoming <- testFrame{data: []byte("3")}
				continue
			}
			return f.data
		case <-time.After(2 * time.Second):
			c.t.Fatal("timed out waiting for a frame")
			return nil
		}
	}
}

// next returns the payload of the next protocol message.
func (c *testClient) next() string {
	c.t.Helper()
	frame := c.nextFrame()
	require.Equal(c.t, byte('4'), frame[0], "expected a message frame, got %q", frame)
	return string(frame[1:])
}

// nextBinary returns the next binary attachment frame.
func (c *testClient) nextBinary() []byte {
	c.t.Helper()
	frame := c.nextFrame()
	return frame
}

// expectSilence asserts that no protocol message arrives within d.
func (c *testClient) expectSilence(d time.Duration) {
	c.t.Helper()
	select {
	case f := <-c.channel.outgoing:
		if !f.binary && len(f.data) > 0 && f.data[0] == '2' {
			c.channel.incoming <- testFrame{data: []byte("3")}
			return
		}
		c.t.Fatalf("expected no frame, got %q", f.data)
	case <-time.After(d):
	}
}

func (c *testClient) waitClosed() {
	c.t.Helper()
	for {
		select {
		case f := <-c.channel.outgoing:
			if !f.binary && len(f.data) > 0 && f.data[0] == '1' {
				return
			}
		case <-c.channel.closed:
			return
		case <-time.After(2 * time.Second):
			c.t.Fatal("connection was not closed")
		}
	}
}

// connect attaches the client to a namespace and returns the sid from the
// CONNECT reply.
func (c *testClient) connect(nsp string) string {
	c.t.Helper()
	if nsp == "/" {
		c.send("0")
	} else {
		c.send("0" + nsp + ",")
	}
	reply := c.next()
	require.Equal(c.t, byte('0'), reply[0], "expected a CONNECT reply, got %q", reply)
	payload := reply[1:]
	if nsp != "/" {
		payload = strings.TrimPrefix(payload, nsp+",")
	}
	var body struct {
		Sid string `json:"sid"`
	}
	require.NoError(c.t, json.Unmarshal([]byte(payload), &body))
	require.NotEmpty(c.t, body.Sid)
	return body.Sid
}

// acceptedSocket subscribes to "connection" and returns a channel yielding
// the server-side sockets as clients attach.
func acceptedSocket(nsp *Namespace) chan *Socket {
	sockets := make(chan *Socket, 4)
	nsp.On("connection", func(args ...any) {
		sockets <- args[0].(*Socket)
	})
	return sockets
}

func waitSocket(t *testing.T, sockets chan *Socket) *Socket {
	t.Helper()
	select {
	case s := <-sockets:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no socket attached")
		return nil
	}
}

func TestConnectToDefaultNamespace(t *testing.T) {
	server := newTestServer(t, nil)
	sockets := acceptedSocket(server.Sockets())

	client := dial(t, server)
	sid := client.connect("/")

	socket := waitSocket(t, sockets)
	assert.Equal(t, SocketId(sid), socket.Id())
	assert.True(t, socket.Connected())
	assert.True(t, socket.Rooms().Has(Room(sid)), "socket joins the room named after its id")
}

func TestConnectCarriesAuthPayload(t *testing.T) {
	server := newTestServer(t, nil)
	sockets := acceptedSocket(server.Sockets())

	client := dial(t, server)
	client.send(`0{"token":"abc"}`)
	client.next()

	socket := waitSocket(t, sockets)
	auth, ok := socket.Handshake().Auth.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "abc", auth["token"])
}

func TestConnectToUnknownNamespace(t *testing.T) {
	server := newTestServer(t, nil)
	client := dial(t, server)

	client.send("0/nope,")
	reply := client.next()
	require.True(t, strings.HasPrefix(reply, "4/nope,"), "expected a CONNECT_ERROR, got %q", reply)
	var body struct {
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(reply, "4/nope,")), &body))
	assert.Equal(t, "Invalid namespace", body.Message)
}

func TestConnectToCustomNamespace(t *testing.T) {
	server := newTestServer(t, nil)
	chat := server.Of("/chat", nil)
	sockets := acceptedSocket(chat)

	client := dial(t, server)
	client.connect("/chat")

	socket := waitSocket(t, sockets)
	assert.Equal(t, "/chat", socket.Nsp().Name())
}

func TestConnectToDynamicNamespace(t *testing.T) {
	server := newTestServer(t, nil)
	dynamic := server.Of(regexp.MustCompile(`^/dynamic-\d+$`), nil)
	sockets := acceptedSocket(dynamic)

	client := dial(t, server)
	client.connect("/dynamic-101")

	socket := waitSocket(t, sockets)
	assert.Equal(t, "/dynamic-101", socket.Nsp().Name())

	// a non-matching name is still rejected
	client.send("0/static,")
	assert.True(t, strings.HasPrefix(client.next(), "4/static,"))
}

func TestMiddlewareRejection(t *testing.T) {
	server := newTestServer(t, nil)
	server.Use(func(s *Socket, next func(*ExtendedError)) {
		next(NewExtendedError("unauthorized", map[string]any{"code": 403}))
	})

	client := dial(t, server)
	client.send("0")
	reply := client.next()
	require.Equal(t, byte('4'), reply[0], "expected a CONNECT_ERROR, got %q", reply)

	var body struct {
		Message string         `json:"message"`
		Data    map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(reply[1:]), &body))
	assert.Equal(t, "unauthorized", body.Message)
	assert.Equal(t, float64(403), body.Data["code"])
}

func TestRejectedInitialConnectClosesConnection(t *testing.T) {
	server := newTestServer(t, nil)
	server.Use(func(s *Socket, next func(*ExtendedError)) {
		next(NewExtendedError("unauthorized", nil))
	})

	client := dial(t, server)
	client.send("0")
	reply := client.next()
	require.Equal(t, byte('4'), reply[0], "expected a CONNECT_ERROR, got %q", reply)
	client.waitClosed()
}

func TestRejectedCustomNamespaceKeepsConnection(t *testing.T) {
	server := newTestServer(t, nil)
	chat := server.Of("/chat", nil)
	chat.Use(func(s *Socket, next func(*ExtendedError)) {
		next(NewExtendedError("unauthorized", nil))
	})

	client := dial(t, server)
	client.send("0/chat,")
	reply := client.next()
	require.True(t, strings.HasPrefix(reply, "4/chat,"), "expected a CONNECT_ERROR, got %q", reply)

	// the connection is still usable
	client.connect("/")
}

func TestMiddlewareChainOrder(t *testing.T) {
	server := newTestServer(t, nil)
	var order []string
	server.Use(func(s *Socket, next func(*ExtendedError)) {
		order = append(order, "first")
		next(nil)
	})
	server.Use(func(s *Socket, next func(*ExtendedError)) {
		order = append(order, "second")
		next(nil)
	})
	sockets := acceptedSocket(server.Sockets())

	client := dial(t, server)
	client.connect("/")
	waitSocket(t, sockets)

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestEventDelivery(t *testing.T) {
	server := newTestServer(t, nil)
	sockets := acceptedSocket(server.Sockets())
	client := dial(t, server)
	client.connect("/")
	socket := waitSocket(t, sockets)

	received := make(chan []any, 1)
	socket.On("order", func(args ...any) {
		received <- args
	})
	client.send(`2["order","pizza",2]`)

	select {
	case args := <-received:
		assert.Equal(t, []any{"pizza", float64(2)}, args)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestServerEmit(t *testing.T) {
	server := newTestServer(t, nil)
	sockets := acceptedSocket(server.Sockets())
	client := dial(t, server)
	client.connect("/")
	socket := waitSocket(t, sockets)

	require.NoError(t, socket.Emit("greet", "hello"))
	assert.Equal(t, `2["greet","hello"]`, client.next())
}

func TestEmitReservedEventFails(t *testing.T) {
	server := newTestServer(t, nil)
	sockets := acceptedSocket(server.Sockets())
	client := dial(t, server)
	client.connect("/")
	socket := waitSocket(t, sockets)

	assert.Error(t, socket.Emit("disconnect"))
	assert.Error(t, server.Emit("connection"))
	client.expectSilence(50 * time.Millisecond)
}

func TestInboundReservedEventClosesConnection(t *testing.T) {
	server := newTestServer(t, nil)
	sockets := acceptedSocket(server.Sockets())
	client := dial(t, server)
	client.connect("/")
	waitSocket(t, sockets)

	client.send(`2["disconnecting"]`)
	client.waitClosed()
}

func TestInboundAckRoundTrip(t *testing.T) {
	server := newTestServer(t, nil)
	sockets := acceptedSocket(server.Sockets())
	client := dial(t, server)
	client.connect("/")
	socket := waitSocket(t, sockets)

	socket.On("sum", func(args ...any) {
		a := args[0].(float64)
		b := args[1].(float64)
		ack := args[len(args)-1].(func(...any))
		ack(a + b)
		ack("ignored") // double invocation is a no-op
	})

	client.send(`21["sum",1,2]`)
	assert.Equal(t, `31[3]`, client.next())
	client.expectSilence(50 * time.Millisecond)
}

func TestOutboundAckRoundTrip(t *testing.T) {
	server := newTestServer(t, nil)
	sockets := acceptedSocket(server.Sockets())
	client := dial(t, server)
	client.connect("/")
	socket := waitSocket(t, sockets)

	ack, results := ackrecorder()
	require.NoError(t, socket.Emit("question", "state?", ack))

	frame := client.next()
	require.Regexp(t, `^2\d+\["question","state\?"\]$`, frame)
	id := frame[1:strings.Index(frame, "[")]

	client.send("3" + id + `["all good"]`)
	r := waitAck(t, results)
	assert.NoError(t, r.err)
	assert.Equal(t, []any{"all good"}, r.args)
}

func TestOutboundAckTimeout(t *testing.T) {
	server := newTestServer(t, nil)
	sockets := acceptedSocket(server.Sockets())
	client := dial(t, server)
	client.connect("/")
	socket := waitSocket(t, sockets)

	ack, results := ackrecorder()
	require.NoError(t, socket.Timeout(50*time.Millisecond).Emit("question", ack))
	client.next()

	r := waitAck(t, results)
	assert.ErrorIs(t, r.err, ErrAckTimeout)
}

func TestBroadcastToRoom(t *testing.T) {
	server := newTestServer(t, nil)
	sockets := acceptedSocket(server.Sockets())

	c1 := dial(t, server)
	c1.connect("/")
	s1 := waitSocket(t, sockets)
	c2 := dial(t, server)
	c2.connect("/")
	waitSocket(t, sockets)

	s1.Join("game")
	require.NoError(t, server.To("game").Emit("start"))

	assert.Equal(t, `2["start"]`, c1.next())
	c2.expectSilence(100 * time.Millisecond)
}

func TestBroadcastExceptRoomAndSocket(t *testing.T) {
	server := newTestServer(t, nil)
	sockets := acceptedSocket(server.Sockets())

	c1 := dial(t, server)
	c1.connect("/")
	s1 := waitSocket(t, sockets)
	c2 := dial(t, server)
	c2.connect("/")
	s2 := waitSocket(t, sockets)
	c3 := dial(t, server)
	c3.connect("/")
	waitSocket(t, sockets)

	s1.Join("muted")
	require.NoError(t, server.Except("muted").Emit("ping-all"))
	assert.Equal(t, `2["ping-all"]`, c2.next())
	assert.Equal(t, `2["ping-all"]`, c3.next())
	c1.expectSilence(100 * time.Millisecond)

	require.NoError(t, server.ExceptSocket(s2.Id()).Emit("partial"))
	assert.Equal(t, `2["partial"]`, c1.next())
	assert.Equal(t, `2["partial"]`, c3.next())
	c2.expectSilence(100 * time.Millisecond)
}

func TestSocketBroadcastExcludesSender(t *testing.T) {
	server := newTestServer(t, nil)
	sockets := acceptedSocket(server.Sockets())

	c1 := dial(t, server)
	c1.connect("/")
	s1 := waitSocket(t, sockets)
	c2 := dial(t, server)
	c2.connect("/")
	waitSocket(t, sockets)

	require.NoError(t, s1.Broadcast().Emit("typing"))
	assert.Equal(t, `2["typing"]`, c2.next())
	c1.expectSilence(100 * time.Millisecond)
}

func TestBroadcastRoomUnionDeliversOnce(t *testing.T) {
	server := newTestServer(t, nil)
	sockets := acceptedSocket(server.Sockets())

	c1 := dial(t, server)
	c1.connect("/")
	s1 := waitSocket(t, sockets)

	s1.Join("r1", "r2")
	require.NoError(t, server.To("r1", "r2").Emit("once"))
	assert.Equal(t, `2["once"]`, c1.next())
	c1.expectSilence(100 * time.Millisecond)
}

func TestBroadcastAckPartialOnTimeout(t *testing.T) {
	server := newTestServer(t, nil)
	sockets := acceptedSocket(server.Sockets())

	c1 := dial(t, server)
	c1.connect("/")
	waitSocket(t, sockets)
	c2 := dial(t, server)
	c2.connect("/")
	waitSocket(t, sockets)

	ack, results := ackrecorder()
	require.NoError(t, server.Timeout(200*time.Millisecond).Emit("poll", ack))

	f1 := c1.next()
	id := f1[1:strings.Index(f1, "[")]
	c2.next()

	// only the first client answers in time
	c1.send("3" + id + `["yes"]`)

	r := waitAck(t, results)
	assert.ErrorIs(t, r.err, ErrAckTimeout)
	assert.Equal(t, []any{"yes"}, r.args)
}

func TestBroadcastAckAllResponses(t *testing.T) {
	server := newTestServer(t, nil)
	sockets := acceptedSocket(server.Sockets())

	c1 := dial(t, server)
	c1.connect("/")
	waitSocket(t, sockets)
	c2 := dial(t, server)
	c2.connect("/")
	waitSocket(t, sockets)

	ack, results := ackrecorder()
	require.NoError(t, server.Timeout(2*time.Second).Emit("poll", ack))

	f1 := c1.next()
	id := f1[1:strings.Index(f1, "[")]
	c2.next()

	c1.send("3" + id + `["a"]`)
	c2.send("3" + id + `["b"]`)

	r := waitAck(t, results)
	assert.NoError(t, r.err)
	assert.ElementsMatch(t, []any{"a", "b"}, r.args)
}

func TestClientNamespaceDisconnect(t *testing.T) {
	server := newTestServer(t, nil)
	sockets := acceptedSocket(server.Sockets())
	client := dial(t, server)
	client.connect("/")
	socket := waitSocket(t, sockets)

	reasons := make(chan string, 2)
	socket.On("disconnecting", func(args ...any) {
		reasons <- "disconnecting:" + args[0].(string)
	})
	socket.On("disconnect", func(args ...any) {
		reasons <- "disconnect:" + args[0].(string)
	})

	client.send("1")
	assert.Equal(t, "disconnecting:client namespace disconnect", <-reasons)
	assert.Equal(t, "disconnect:client namespace disconnect", <-reasons)
	assert.False(t, socket.Connected())
	assert.Nil(t, server.Sockets().Adapter().SocketRooms(socket.Id()))
}

func TestServerNamespaceDisconnect(t *testing.T) {
	server := newTestServer(t, nil)
	sockets := acceptedSocket(server.Sockets())
	client := dial(t, server)
	client.connect("/")
	socket := waitSocket(t, sockets)

	reasons := make(chan string, 1)
	socket.On("disconnect", func(args ...any) {
		reasons <- args[0].(string)
	})

	socket.Disconnect(false)
	assert.Equal(t, "1", client.next())
	assert.Equal(t, "server namespace disconnect", <-reasons)
}

func TestDisconnectClosesConnection(t *testing.T) {
	server := newTestServer(t, nil)
	sockets := acceptedSocket(server.Sockets())
	client := dial(t, server)
	client.connect("/")
	socket := waitSocket(t, sockets)

	socket.Disconnect(true)
	client.waitClosed()
}

func TestDisconnectAbortsPendingAcks(t *testing.T) {
	server := newTestServer(t, nil)
	sockets := acceptedSocket(server.Sockets())
	client := dial(t, server)
	client.connect("/")
	socket := waitSocket(t, sockets)

	ack, results := ackrecorder()
	require.NoError(t, socket.Emit("question", ack))
	client.next()

	client.send("1")
	r := waitAck(t, results)
	assert.ErrorIs(t, r.err, ErrAckAborted)
}

func TestConnectTimeout(t *testing.T) {
	server := newTestServer(t, &ServerOptions{ConnectTimeout: 50 * time.Millisecond})
	client := dial(t, server)

	// never send a CONNECT packet
	client.waitClosed()
}

func TestMalformedPacketClosesConnection(t *testing.T) {
	server := newTestServer(t, nil)
	client := dial(t, server)
	client.connect("/")

	client.send(`2[]`)
	client.waitClosed()
}

func TestUnexpectedBinaryClosesConnection(t *testing.T) {
	server := newTestServer(t, nil)
	client := dial(t, server)
	client.connect("/")

	client.sendBinary([]byte{1, 2, 3})
	client.waitClosed()
}

func TestBinaryEventDelivery(t *testing.T) {
	server := newTestServer(t, nil)
	sockets := acceptedSocket(server.Sockets())
	client := dial(t, server)
	client.connect("/")
	socket := waitSocket(t, sockets)

	received := make(chan []any, 1)
	socket.On("upload", func(args ...any) {
		received <- args
	})

	client.send(`51-["upload",{"_placeholder":true,"num":0}]`)
	client.sendBinary([]byte{0xca, 0xfe})

	select {
	case args := <-received:
		require.Len(t, args, 1)
		assert.Equal(t, []byte{0xca, 0xfe}, args[0])
	case <-time.After(2 * time.Second):
		t.Fatal("binary event not delivered")
	}
}

func TestBinaryEmitSendsAttachments(t *testing.T) {
	server := newTestServer(t, nil)
	sockets := acceptedSocket(server.Sockets())
	client := dial(t, server)
	client.connect("/")
	socket := waitSocket(t, sockets)

	require.NoError(t, socket.Emit("file", []byte{7, 8}))
	assert.Equal(t, `51-["file",{"_placeholder":true,"num":0}]`, client.next())
	assert.Equal(t, []byte{7, 8}, client.nextBinary())
}

func TestSocketMiddleware(t *testing.T) {
	server := newTestServer(t, nil)
	sockets := acceptedSocket(server.Sockets())
	client := dial(t, server)
	client.connect("/")
	socket := waitSocket(t, sockets)

	blocked := make(chan error, 1)
	socket.On("error", func(args ...any) {
		blocked <- args[0].(error)
	})
	socket.Use(func(event []any, next func(error)) {
		if event[0] == "forbidden" {
			next(fmt.Errorf("not allowed"))
			return
		}
		next(nil)
	})
	delivered := make(chan struct{}, 1)
	socket.On("allowed", func(...any) { delivered <- struct{}{} })
	socket.On("forbidden", func(...any) { t.Error("blocked event was dispatched") })

	client.send(`2["allowed"]`)
	<-delivered
	client.send(`2["forbidden"]`)

	select {
	case err := <-blocked:
		assert.EqualError(t, err, "not allowed")
	case <-time.After(2 * time.Second):
		t.Fatal("middleware error not reported")
	}
}

func TestOnAnyListeners(t *testing.T) {
	server := newTestServer(t, nil)
	sockets := acceptedSocket(server.Sockets())
	client := dial(t, server)
	client.connect("/")
	socket := waitSocket(t, sockets)

	incoming := make(chan []any, 1)
	socket.OnAny(func(args ...any) { incoming <- args })
	outgoing := make(chan []any, 1)
	socket.OnAnyOutgoing(func(args ...any) { outgoing <- args })

	client.send(`2["ev","in"]`)
	select {
	case args := <-incoming:
		assert.Equal(t, []any{"ev", "in"}, args)
	case <-time.After(2 * time.Second):
		t.Fatal("OnAny not invoked")
	}

	require.NoError(t, socket.Emit("out-ev", "out"))
	select {
	case args := <-outgoing:
		assert.Equal(t, []any{"out-ev", "out"}, args)
	case <-time.After(2 * time.Second):
		t.Fatal("OnAnyOutgoing not invoked")
	}
}

func TestSendEmitsMessageEvent(t *testing.T) {
	server := newTestServer(t, nil)
	sockets := acceptedSocket(server.Sockets())
	client := dial(t, server)
	client.connect("/")
	socket := waitSocket(t, sockets)

	require.NoError(t, socket.Send("hi"))
	assert.Equal(t, `2["message","hi"]`, client.next())
}

func TestFetchSocketsAndRemoteSocket(t *testing.T) {
	server := newTestServer(t, nil)
	sockets := acceptedSocket(server.Sockets())
	client := dial(t, server)
	client.connect("/")
	socket := waitSocket(t, sockets)
	socket.SetData(map[string]any{"name": "alice"})

	remotes := server.FetchSockets()
	require.Len(t, remotes, 1)
	remote := remotes[0]
	assert.Equal(t, socket.Id(), remote.Id())
	assert.Equal(t, map[string]any{"name": "alice"}, remote.Data())

	require.NoError(t, remote.Emit("direct"))
	assert.Equal(t, `2["direct"]`, client.next())

	remote.Join("fetched")
	assert.True(t, socket.Rooms().Has("fetched"))
}

func TestSocketsJoinAndLeave(t *testing.T) {
	server := newTestServer(t, nil)
	sockets := acceptedSocket(server.Sockets())
	client := dial(t, server)
	client.connect("/")
	socket := waitSocket(t, sockets)

	server.SocketsJoin("everyone")
	assert.True(t, socket.Rooms().Has("everyone"))

	server.SocketsLeave("everyone")
	assert.False(t, socket.Rooms().Has("everyone"))
}

func TestServeClientBundleEncodingNegotiation(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "socket.io.min.js"), []byte("!function(){}();"), 0o644))

	server := newTestServer(t, &ServerOptions{
		ServeClient:   true,
		ClientPath:    dir,
		ClientVersion: "4.7.0",
	})

	get := func(acceptEncoding string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/socket.io/socket.io.min.js", nil)
		if acceptEncoding != "" {
			req.Header.Set("Accept-Encoding", acceptEncoding)
		}
		rec := httptest.NewRecorder()
		server.ServeHTTP(rec, req)
		return rec
	}

	rec := get("gzip, br")
	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "br", rec.Header().Get("Content-Encoding"), "brotli is preferred")

	rec = get("gzip;q=1.0, deflate")
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))

	rec = get("identity")
	assert.Empty(t, rec.Header().Get("Content-Encoding"))

	req := httptest.NewRequest("GET", "/socket.io/socket.io.min.js", nil)
	req.Header.Set("If-None-Match", `"4.7.0"`)
	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	assert.Equal(t, 304, rec.Code)
}

func TestNewNamespaceEvent(t *testing.T) {
	server := newTestServer(t, nil)
	created := make(chan string, 1)
	server.On("new_namespace", func(args ...any) {
		created <- args[0].(*Namespace).Name()
	})

	server.Of("/orders", nil)
	select {
	case name := <-created:
		assert.Equal(t, "/orders", name)
	case <-time.After(2 * time.Second):
		t.Fatal("new_namespace not emitted")
	}
}

func TestCleanupEmptyChildNamespaces(t *testing.T) {
	server := newTestServer(t, &ServerOptions{CleanupEmptyChildNamespaces: true})
	server.Of(regexp.MustCompile(`^/room-\d+$`), nil)

	client := dial(t, server)
	client.connect("/room-7")
	_, ok := server._nsps.Load("/room-7")
	require.True(t, ok)

	client.send("1/room-7,")
	require.Eventually(t, func() bool {
		_, ok := server._nsps.Load("/room-7")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestVolatileBroadcastDoesNotFailWhenQueueFull(t *testing.T) {
	server := newTestServer(t, &ServerOptions{PerConnectionOutboundQueue: 1})
	sockets := acceptedSocket(server.Sockets())

	channel := newPipeChannel()
	channel.outgoing = make(chan testFrame) // no reader, writer blocks
	conn, err := engine.NewConn(channel, server.Opts().EngineOptions(), nil)
	require.NoError(t, err)
	server.Engine().Accept(conn)
	t.Cleanup(func() { channel.Close(1000, "test done") })

	channel.incoming <- testFrame{data: []byte("40")}
	socket := waitSocket(t, sockets)

	// the CONNECT reply occupies the queue slot behind the blocked
	// handshake; a non-volatile emit reports backpressure
	require.Eventually(t, func() bool {
		return errors.Is(socket.Emit("nonvolatile"), engine.ErrWouldBlock)
	}, 2*time.Second, 10*time.Millisecond)

	assert.NoError(t, server.Volatile().Emit("volatile"))
}
