package engine

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testFrame struct {
	data   []byte
	binary bool
}

// pipeChannel is an in-memory MessageChannel: the test plays the client side
// by feeding incoming and draining outgoing.
type pipeChannel struct {
	incoming chan testFrame
	outgoing chan testFrame
	closed   chan struct{}
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
	select {
	case <-p.closed:
	default:
		close(p.closed)
	}
	return nil
}

func (p *pipeChannel) RemoteAddress() string { return "pipe" }
func (p *pipeChannel) LocalAddress() string  { return "pipe" }

func (p *pipeChannel) next(t *testing.T) testFrame {
	t.Helper()
	select {
	case f := <-p.outgoing:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an outgoing frame")
		return testFrame{}
	}
}

func testOpts() *Options {
	return &Options{
		PingInterval:      time.Hour,
		PingTimeout:       time.Hour,
		MaxPayload:        1e6,
		CloseGrace:        100 * time.Millisecond,
		OutboundQueueSize: 16,
	}
}

func openConn(t *testing.T, opts *Options) (*Conn, *pipeChannel) {
	t.Helper()
	channel := newPipeChannel()
	conn, err := NewConn(channel, opts, nil)
	require.NoError(t, err)
	t.Cleanup(func() { channel.Close(1000, "test done") })
	return conn, channel
}

func closeReason(conn *Conn) chan string {
	ch := make(chan string, 1)
	conn.On("close", func(args ...any) {
		ch <- args[0].(string)
	})
	return ch
}

func waitReason(t *testing.T, ch chan string) string {
	t.Helper()
	select {
	case reason := <-ch:
		return reason
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for close")
		return ""
	}
}

func TestHandshakeIsSentFirst(t *testing.T) {
	conn, channel := openConn(t, testOpts())

	frame := channel.next(t)
	require.NotEmpty(t, frame.data)
	assert.Equal(t, byte(OPEN), frame.data[0])

	var handshake HandshakeData
	require.NoError(t, json.Unmarshal(frame.data[1:], &handshake))
	assert.Equal(t, conn.Id(), handshake.Sid)
	assert.Equal(t, int64(1e6), handshake.MaxPayload)
	assert.Empty(t, handshake.Upgrades)
}

func TestMessageRoundTrip(t *testing.T) {
	conn, channel := openConn(t, testOpts())
	channel.next(t) // handshake

	received := make(chan []byte, 1)
	conn.On("data", func(args ...any) {
		received <- args[0].([]byte)
	})
	channel.incoming <- testFrame{data: []byte("4hello")}

	select {
	case data := <-received:
		assert.Equal(t, []byte("hello"), data)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}

	require.NoError(t, conn.Send([]byte("world"), false, false, false))
	frame := channel.next(t)
	assert.Equal(t, "4world", string(frame.data))
}

func TestBinaryFramesPassThrough(t *testing.T) {
	conn, channel := openConn(t, testOpts())
	channel.next(t)

	require.NoError(t, conn.Send([]byte{1, 2, 3}, true, false, false))
	frame := channel.next(t)
	assert.True(t, frame.binary)
	assert.Equal(t, []byte{1, 2, 3}, frame.data)
}

func TestServerPingAndPongKeepAlive(t *testing.T) {
	opts := testOpts()
	opts.PingInterval = 50 * time.Millisecond
	opts.PingTimeout = 500 * time.Millisecond
	conn, channel := openConn(t, opts)
	channel.next(t)

	heartbeat := make(chan struct{}, 1)
	conn.On("heartbeat", func(...any) {
		select {
		case heartbeat <- struct{}{}:
		default:
		}
	})

	frame := channel.next(t)
	require.Equal(t, byte(PING), frame.data[0])
	channel.incoming <- testFrame{data: []byte{byte(PONG)}}

	select {
	case <-heartbeat:
	case <-time.After(2 * time.Second):
		t.Fatal("pong not observed")
	}
	assert.Equal(t, "open", conn.ReadyState())
}

func TestPingTimeoutClosesConnection(t *testing.T) {
	opts := testOpts()
	opts.PingInterval = 100 * time.Millisecond
	opts.PingTimeout = 50 * time.Millisecond
	conn, channel := openConn(t, opts)
	reason := closeReason(conn)
	channel.next(t)

	// never answer the ping
	assert.Equal(t, ReasonPingTimeout, waitReason(t, reason))
	assert.Equal(t, "closed", conn.ReadyState())
}

func TestOversizedFrameClosesConnection(t *testing.T) {
	opts := testOpts()
	opts.MaxPayload = 8
	conn, channel := openConn(t, opts)
	reason := closeReason(conn)
	channel.next(t)

	channel.incoming <- testFrame{data: []byte("4aaaaaaaaaaaaaaaa")}
	assert.Equal(t, ReasonTransportError, waitReason(t, reason))
}

func TestMalformedFrameClosesConnection(t *testing.T) {
	conn, channel := openConn(t, testOpts())
	reason := closeReason(conn)
	channel.next(t)

	channel.incoming <- testFrame{data: []byte{}}
	assert.Equal(t, ReasonParseError, waitReason(t, reason))
}

func TestClientCloseFrame(t *testing.T) {
	conn, channel := openConn(t, testOpts())
	reason := closeReason(conn)
	channel.next(t)

	channel.incoming <- testFrame{data: []byte{byte(CLOSE)}}
	assert.Equal(t, ReasonTransportClose, waitReason(t, reason))
}

func TestVolatileDropAndWouldBlock(t *testing.T) {
	opts := testOpts()
	opts.OutboundQueueSize = 1
	channel := newPipeChannel()
	// no reader on the outgoing side: the writer stays blocked on the
	// handshake and the queue fills up
	channel.outgoing = make(chan testFrame)
	conn, err := NewConn(channel, opts, nil)
	require.NoError(t, err)
	t.Cleanup(func() { channel.Close(1000, "test done") })

	// wait for the write loop to pick up the handshake so the queue slot
	// is free, then occupy it again
	require.Eventually(t, func() bool {
		return conn.Send([]byte("fills the queue"), false, false, false) == nil
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return errors.Is(conn.Send([]byte("blocked"), false, false, false), ErrWouldBlock)
	}, 2*time.Second, 10*time.Millisecond)

	assert.NoError(t, conn.Send([]byte("dropped"), false, true, false))
}

func TestAcceptAlreadyClosedConnection(t *testing.T) {
	channel := newPipeChannel()
	conn, err := NewConn(channel, testOpts(), nil)
	require.NoError(t, err)
	reason := closeReason(conn)
	channel.Close(1000, "gone")
	waitReason(t, reason)

	server := NewServer(testOpts())
	server.Accept(conn)
	assert.Equal(t, 0, server.ClientsCount(), "a dead connection must not linger in the registry")
}

func TestSendAfterCloseFails(t *testing.T) {
	conn, channel := openConn(t, testOpts())
	reason := closeReason(conn)
	channel.next(t)

	conn.Close(ReasonForcedClose)
	waitReason(t, reason)
	assert.ErrorIs(t, conn.Send([]byte("late"), false, false, false), ErrConnClosed)
}

func TestCloseDrainsPendingFrames(t *testing.T) {
	conn, channel := openConn(t, testOpts())
	reason := closeReason(conn)
	channel.next(t)

	require.NoError(t, conn.Send([]byte("pending"), false, false, false))
	conn.Close(ReasonForcedClose)

	drained := false
	for {
		select {
		case f := <-channel.outgoing:
			if string(f.data) == "4pending" {
				drained = true
			}
		case <-time.After(2 * time.Second):
			t.Fatal("connection did not close")
		}
		select {
		case <-reason:
			assert.True(t, drained, "pending frame was not drained before close")
			return
		default:
		}
	}
}
