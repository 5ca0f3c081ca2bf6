package socket

import (
	"fmt"
	"time"

	"github.com/phederal/sio/pkg/log"
	"github.com/phederal/sio/pkg/types"
)

var namespace_log = log.NewLog("sio:namespace")

// NAMESPACE_RESERVED_EVENTS are the event names emitted by the namespace
// itself; they cannot be used as broadcast event names.
var NAMESPACE_RESERVED_EVENTS = types.NewSet(
	"connect",
	"connection",
	"new_namespace",
)

// ExtendedError is the middleware rejection payload: the message becomes the
// "message" field of the CONNECT_ERROR packet and Data, when non-nil, its
// "data" field.
type ExtendedError struct {
	Message string
	Data    any
}

func NewExtendedError(message string, data any) *ExtendedError {
	return &ExtendedError{Message: message, Data: data}
}

func (e *ExtendedError) Error() string {
	return e.Message
}

// Namespace is a communication channel identified by a pathname, sharing a
// single underlying connection between every namespace a client attaches to.
//
//	chat := io.Of("/chat")
//	chat.On("connection", func(args ...any) {
//		socket := args[0].(*socket.Socket)
//		// ...
//	})
type Namespace struct {
	*StrictEventEmitter

	name    string
	server  *Server
	sockets *types.Map[SocketId, *Socket]
	adapter Adapter
	fns     *types.Slice[func(*Socket, func(*ExtendedError))]

	// onEmpty, when set, fires after the last socket detaches. Used to
	// garbage-collect dynamically created namespaces.
	onEmpty func()
}

func NewNamespace(server *Server, name string) *Namespace {
	n := &Namespace{
		StrictEventEmitter: NewStrictEventEmitter(),

		name:    name,
		server:  server,
		sockets: &types.Map[SocketId, *Socket]{},
		fns:     types.NewSlice[func(*Socket, func(*ExtendedError))](),
	}
	n.InitAdapter()
	return n
}

// InitAdapter builds the adapter from the server options.
func (n *Namespace) InitAdapter() {
	n.adapter = n.server.Opts().Adapter.New(n)
	n.adapter.Init()
}

// Name returns the namespace identifier, such as "/" or "/chat".
func (n *Namespace) Name() string {
	return n.name
}

func (n *Namespace) Server() *Server {
	return n.server
}

// Sockets returns the sockets currently attached to this namespace.
func (n *Namespace) Sockets() *types.Map[SocketId, *Socket] {
	return n.sockets
}

func (n *Namespace) Adapter() Adapter {
	return n.adapter
}

// Use registers a middleware, a function run for every incoming attachment.
// Calling next with a non-nil error rejects the attachment with a
// CONNECT_ERROR packet built from the error.
//
//	io.Use(func(s *socket.Socket, next func(*socket.ExtendedError)) {
//		if !authorized(s.Handshake().Auth) {
//			next(socket.NewExtendedError("unauthorized", nil))
//			return
//		}
//		next(nil)
//	})
func (n *Namespace) Use(fn func(*Socket, func(*ExtendedError))) *Namespace {
	n.fns.Push(fn)
	return n
}

// run executes the middleware chain. The callback is invoked synchronously
// when the chain is empty, so the CONNECT reply always precedes the dispatch
// of any EVENT the client pipelined behind its CONNECT.
func (n *Namespace) run(socket *Socket, fn func(*ExtendedError)) {
	fns := n.fns.All()
	if len(fns) == 0 {
		fn(nil)
		return
	}
	var run func(i int)
	run = func(i int) {
		fns[i](socket, func(err *ExtendedError) {
			if err != nil {
				fn(err)
				return
			}
			if i == len(fns)-1 {
				fn(nil)
				return
			}
			run(i + 1)
		})
	}
	run(0)
}

// Add attaches a client to this namespace: the middleware chain decides, the
// socket is created on success and fn receives it once the CONNECT reply has
// been queued.
func (n *Namespace) Add(client *Client, auth any, fn func(*Socket)) {
	namespace_log.Debug("adding socket to nsp %s", n.name)
	socket := NewSocket(n.server, n, client, auth)
	n.run(socket, func(err *ExtendedError) {
		if client.Conn().ReadyState() != "open" {
			namespace_log.Debug("next called after client was closed, ignoring socket")
			return
		}
		if err != nil {
			namespace_log.Debug("middleware error, sending CONNECT_ERROR packet")
			client.writeConnectError(n.name, err)
			// a rejected initial CONNECT on the default namespace closes
			// the connection once the error packet is flushed
			if n.name == "/" && client.nsps.Len() == 0 {
				client._disconnect()
			}
			return
		}
		n._doConnect(socket, fn)
	})
}

func (n *Namespace) _doConnect(socket *Socket, fn func(*Socket)) {
	n.sockets.Store(socket.Id(), socket)
	socket._onconnect()
	if fn != nil {
		fn(socket)
	}
	n.EmitReserved("connect", socket)
	n.EmitReserved("connection", socket)
}

// remove detaches a socket. Called by the socket itself upon disconnection.
func (n *Namespace) remove(socket *Socket) {
	if _, ok := n.sockets.LoadAndDelete(socket.Id()); !ok {
		return
	}
	if n.sockets.Len() == 0 && n.onEmpty != nil {
		n.onEmpty()
	}
}

// Emit broadcasts an event to every socket of the namespace. An Ack as last
// argument aggregates one response per target.
//
//	io.Of("/chat").Emit("event", "payload")
func (n *Namespace) Emit(ev string, args ...any) error {
	if NAMESPACE_RESERVED_EVENTS.Has(ev) {
		return fmt.Errorf("%q is a reserved event name", ev)
	}
	return NewBroadcastOperator(n.adapter, nil, nil, nil, nil).Emit(ev, args...)
}

// EmitWithAck broadcasts an event and returns a function accepting the
// acknowledgement callback.
func (n *Namespace) EmitWithAck(ev string, args ...any) func(Ack) error {
	return func(ack Ack) error {
		return n.Emit(ev, append(args, ack)...)
	}
}

// Send emits a "message" event to every socket of the namespace.
func (n *Namespace) Send(args ...any) error {
	return n.Emit("message", args...)
}

// Write emits a "message" event. Alias of Send.
func (n *Namespace) Write(args ...any) error {
	return n.Emit("message", args...)
}

// To targets a room when emitting.
func (n *Namespace) To(room ...Room) *BroadcastOperator {
	return NewBroadcastOperator(n.adapter, nil, nil, nil, nil).To(room...)
}

// In targets a room when emitting. Alias of To.
func (n *Namespace) In(room ...Room) *BroadcastOperator {
	return n.To(room...)
}

// Except excludes the members of a room when emitting.
func (n *Namespace) Except(room ...Room) *BroadcastOperator {
	return NewBroadcastOperator(n.adapter, nil, nil, nil, nil).Except(room...)
}

// ExceptSocket excludes explicit socket ids when emitting.
func (n *Namespace) ExceptSocket(id ...SocketId) *BroadcastOperator {
	return NewBroadcastOperator(n.adapter, nil, nil, nil, nil).ExceptSocket(id...)
}

// Compress sets the compress flag for the next emission.
func (n *Namespace) Compress(compress bool) *BroadcastOperator {
	return NewBroadcastOperator(n.adapter, nil, nil, nil, nil).Compress(compress)
}

// Volatile marks the next emission as droppable under backpressure.
func (n *Namespace) Volatile() *BroadcastOperator {
	return NewBroadcastOperator(n.adapter, nil, nil, nil, nil).Volatile()
}

// Local restricts the next emission to the current node.
func (n *Namespace) Local() *BroadcastOperator {
	return NewBroadcastOperator(n.adapter, nil, nil, nil, nil).Local()
}

// Timeout sets the acknowledgement deadline for the next emission.
func (n *Namespace) Timeout(timeout time.Duration) *BroadcastOperator {
	return NewBroadcastOperator(n.adapter, nil, nil, nil, nil).Timeout(timeout)
}

// AllSockets returns the ids of every socket of the namespace.
func (n *Namespace) AllSockets() *types.Set[SocketId] {
	return NewBroadcastOperator(n.adapter, nil, nil, nil, nil).AllSockets()
}

// FetchSockets returns a view of every socket of the namespace.
func (n *Namespace) FetchSockets() []*RemoteSocket {
	return NewBroadcastOperator(n.adapter, nil, nil, nil, nil).FetchSockets()
}

// SocketsJoin makes every matching socket join the given rooms.
func (n *Namespace) SocketsJoin(room ...Room) {
	NewBroadcastOperator(n.adapter, nil, nil, nil, nil).SocketsJoin(room...)
}

// SocketsLeave makes every matching socket leave the given rooms.
func (n *Namespace) SocketsLeave(room ...Room) {
	NewBroadcastOperator(n.adapter, nil, nil, nil, nil).SocketsLeave(room...)
}

// DisconnectSockets disconnects every matching socket.
func (n *Namespace) DisconnectSockets(close bool) {
	NewBroadcastOperator(n.adapter, nil, nil, nil, nil).DisconnectSockets(close)
}
