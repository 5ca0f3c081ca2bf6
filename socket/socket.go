package socket

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phederal/sio/parser"
	"github.com/phederal/sio/pkg/log"
	"github.com/phederal/sio/pkg/types"
	"github.com/phederal/sio/pkg/utils"
)

var socket_log = log.NewLog("sio:socket")

// SOCKET_RESERVED_EVENTS are the lifecycle event names: they are rejected on
// the inbound path and cannot be emitted as data events.
var SOCKET_RESERVED_EVENTS = types.NewSet(
	"connect",
	"connect_error",
	"connecting",
	"disconnect",
	"disconnecting",
	"newListener",
	"removeListener",
)

// Handshake holds the details of the namespace attachment.
type Handshake struct {
	// Headers are the headers sent as part of the handshake.
	Headers map[string][]string `json:"headers"`
	// Time is the date of creation (as string).
	Time string `json:"time"`
	// Address is the ip address of the client.
	Address string `json:"address"`
	// Xdomain reports whether the connection is cross-domain.
	Xdomain bool `json:"xdomain"`
	// Secure reports whether the connection is made over SSL.
	Secure bool `json:"secure"`
	// Issued is the date of creation (unix milliseconds).
	Issued int64 `json:"issued"`
	// Url is the request that originated the connection.
	Url string `json:"url"`
	// Query is the query parameters of the first request.
	Query map[string][]string `json:"query"`
	// Auth is the authentication payload of the CONNECT packet.
	Auth any `json:"auth"`
}

// Socket is one client attached to one namespace. It is the main object to
// interact with a client: emitting and receiving events, joining and leaving
// rooms, and broadcasting to the rest of the namespace.
//
//	io.On("connection", func(args ...any) {
//		socket := args[0].(*socket.Socket)
//		socket.On("hello", func(args ...any) {
//			socket.Emit("hey", "how are you")
//		})
//	})
type Socket struct {
	*StrictEventEmitter

	id        SocketId
	nsp       *Namespace
	server    *Server
	client    *Client
	handshake *Handshake

	connected atomic.Bool

	data   any
	dataMu sync.RWMutex

	flags   BroadcastFlags
	flagsMu sync.Mutex

	fns                  *types.Slice[func([]any, func(error))]
	anyListeners         *types.Slice[*func(...any)]
	anyOutgoingListeners *types.Slice[*func(...any)]
}

func NewSocket(server *Server, nsp *Namespace, client *Client, auth any) *Socket {
	id, _ := utils.Base64Id()
	s := &Socket{
		StrictEventEmitter: NewStrictEventEmitter(),

		id:     SocketId(id),
		nsp:    nsp,
		server: server,
		client: client,

		fns:                  types.NewSlice[func([]any, func(error))](),
		anyListeners:         types.NewSlice[*func(...any)](),
		anyOutgoingListeners: types.NewSlice[*func(...any)](),
	}
	s.handshake = s.buildHandshake(auth)
	return s
}

func (s *Socket) buildHandshake(auth any) *Handshake {
	request := s.client.Request()
	now := time.Now()
	handshake := &Handshake{
		Time:   now.Format(time.RFC1123),
		Issued: now.UnixMilli(),
		Auth:   auth,
	}
	if request != nil {
		handshake.Headers = request.Header
		handshake.Address = s.client.Conn().RemoteAddress()
		handshake.Xdomain = request.Header.Get("Origin") != ""
		handshake.Secure = request.TLS != nil
		handshake.Url = request.RequestURI
		handshake.Query = request.URL.Query()
	}
	return handshake
}

// Id returns the session id, unique to this namespace attachment.
func (s *Socket) Id() SocketId {
	return s.id
}

// Nsp returns the namespace this socket is attached to.
func (s *Socket) Nsp() *Namespace {
	return s.nsp
}

// Client returns the client owning this socket.
func (s *Socket) Client() *Client {
	return s.client
}

// Handshake returns the handshake details.
func (s *Socket) Handshake() *Handshake {
	return s.handshake
}

// Connected reports whether the socket is currently attached.
func (s *Socket) Connected() bool {
	return s.connected.Load()
}

func (s *Socket) Data() any {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()

	return s.data
}

func (s *Socket) SetData(data any) {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()

	s.data = data
}

// Rooms returns the rooms the socket is currently in.
func (s *Socket) Rooms() *types.Set[Room] {
	if rooms := s.nsp.Adapter().SocketRooms(s.id); rooms != nil {
		return rooms
	}
	return types.NewSet[Room]()
}

// Emit sends an event to the client. When the last argument is an Ack the
// packet carries an acknowledgement id; the callback is invoked with the
// client's response, or with ErrAckTimeout / ErrAckAborted.
//
//	socket.Emit("hello", "world")
//
//	socket.Timeout(5*time.Second).Emit("request", func(args []any, err error) {
//		// ...
//	})
//
// A non-volatile emission against a saturated outbound queue returns
// engine.ErrWouldBlock without enqueueing.
func (s *Socket) Emit(ev string, args ...any) error {
	if SOCKET_RESERVED_EVENTS.Has(ev) {
		return fmt.Errorf("%q is a reserved event name", ev)
	}
	data := append([]any{ev}, args...)
	packet := &parser.Packet{Type: parser.EVENT, Data: data}

	flags := s.takeFlags()
	if ack, withAck := data[len(data)-1].(Ack); withAck {
		packet.Data = data[:len(data)-1]
		id, err := s.registerAckCallback(flags.Timeout, ack)
		if err != nil {
			return err
		}
		packet.Id = &id
	}
	return s.packet(packet, &flags.WriteOptions)
}

// EmitWithAck emits an event and returns a function accepting the
// acknowledgement callback.
func (s *Socket) EmitWithAck(ev string, args ...any) func(Ack) error {
	return func(ack Ack) error {
		return s.Emit(ev, append(args, ack)...)
	}
}

func (s *Socket) registerAckCallback(timeout *time.Duration, ack Ack) (uint64, error) {
	deadline := s.server.Opts().AckTimeoutDefault
	if timeout != nil {
		deadline = *timeout
	}
	id := s.server.Acks().NextId()
	if err := s.server.Acks().Register(id, s.id, deadline, ack); err != nil {
		return 0, err
	}
	socket_log.Debug("socket %s waiting for ack %d", s.id, id)
	return id, nil
}

// Send emits a "message" event.
func (s *Socket) Send(args ...any) error {
	return s.Emit("message", args...)
}

// Write emits a "message" event. Alias of Send.
func (s *Socket) Write(args ...any) error {
	return s.Emit("message", args...)
}

// packet encodes and enqueues a packet addressed to this socket only.
func (s *Socket) packet(packet *parser.Packet, opts *WriteOptions) error {
	packet.Nsp = s.nsp.Name()
	s.notifyOutgoingListeners(packet)
	return s.client.WritePacket(packet, opts)
}

// Join makes the socket join the given rooms.
func (s *Socket) Join(rooms ...Room) {
	socket_log.Debug("socket %s joining rooms %v", s.id, rooms)
	s.nsp.Adapter().AddAll(s.id, types.NewSet(rooms...))
}

// Leave makes the socket leave a room.
func (s *Socket) Leave(room Room) {
	socket_log.Debug("socket %s leaving room %s", s.id, room)
	s.nsp.Adapter().Del(s.id, room)
}

func (s *Socket) leaveAll() {
	s.nsp.Adapter().DelAll(s.id)
}

// Use registers an incoming-event middleware. Middlewares see the raw event
// array and run in registration order before the listeners; calling next
// with an error aborts dispatch and emits an "error" event on the socket.
//
//	socket.Use(func(event []any, next func(error)) {
//		if isUnauthorized(event[0]) {
//			next(errors.New("unauthorized event"))
//			return
//		}
//		next(nil)
//	})
func (s *Socket) Use(fn func([]any, func(error))) *Socket {
	s.fns.Push(fn)
	return s
}

func (s *Socket) runMiddlewares(event []any, fn func(error)) {
	fns := s.fns.All()
	if len(fns) == 0 {
		fn(nil)
		return
	}
	var run func(i int)
	run = func(i int) {
		fns[i](event, func(err error) {
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

// _onconnect is invoked by the namespace once the middleware chain accepted
// the attachment.
func (s *Socket) _onconnect() {
	socket_log.Debug("socket %s connected on %s", s.id, s.nsp.Name())
	s.connected.Store(true)
	s.Join(Room(s.id))
	s.packet(&parser.Packet{
		Type: parser.CONNECT,
		Data: map[string]any{"sid": s.id},
	}, nil)
}

// _onpacket routes one decoded packet addressed to this socket.
func (s *Socket) _onpacket(packet *parser.Packet) {
	socket_log.Debug("socket %s got packet type %s", s.id, packet.Type)
	switch packet.Type {
	case parser.EVENT, parser.BINARY_EVENT:
		s.onevent(packet)
	case parser.ACK, parser.BINARY_ACK:
		s.onack(packet)
	case parser.DISCONNECT:
		s.ondisconnect()
	}
}

func (s *Socket) onevent(packet *parser.Packet) {
	args, _ := packet.Data.([]any)
	if len(args) == 0 {
		s.client.onProtocolError(fmt.Errorf("event packet with empty payload"))
		return
	}
	ev, ok := args[0].(string)
	if !ok {
		s.client.onProtocolError(fmt.Errorf("event name is not a string"))
		return
	}
	if SOCKET_RESERVED_EVENTS.Has(ev) {
		s.client.onProtocolError(fmt.Errorf("reserved event %q received from client", ev))
		return
	}
	if packet.Id != nil {
		socket_log.Debug("attaching ack callback to event %s", ev)
		args = append(args, s.ack(*packet.Id))
	}
	s.runMiddlewares(args, func(err error) {
		if err != nil {
			s._onerror(err)
			return
		}
		s.dispatch(ev, args[1:]...)
	})
}

// ack builds the one-shot response closure injected as the last listener
// argument when the inbound event carries an acknowledgement id.
func (s *Socket) ack(id uint64) func(...any) {
	var sent atomic.Bool
	return func(args ...any) {
		if !sent.CompareAndSwap(false, true) {
			socket_log.Debug("ack %d already sent, duplicate invocation ignored", id)
			return
		}
		socket_log.Debug("sending ack %d with %v", id, args)
		if args == nil {
			args = []any{}
		}
		s.packet(&parser.Packet{
			Type: parser.ACK,
			Id:   &id,
			Data: args,
		}, nil)
	}
}

func (s *Socket) onack(packet *parser.Packet) {
	if packet.Id == nil {
		socket_log.Debug("ack packet without id ignored")
		return
	}
	args, _ := packet.Data.([]any)
	s.server.Acks().Resolve(*packet.Id, s.id, args)
}

func (s *Socket) ondisconnect() {
	socket_log.Debug("socket %s got disconnect packet", s.id)
	s._onclose("client namespace disconnect")
}

// dispatch invokes the catch-all and per-event listeners. A panicking
// listener is recovered and reported through the "error" event.
func (s *Socket) dispatch(ev string, args ...any) {
	defer func() {
		if r := recover(); r != nil {
			s._onerror(fmt.Errorf("listener panic: %v", r))
		}
	}()
	for _, listener := range s.anyListeners.All() {
		(*listener)(append([]any{ev}, args...)...)
	}
	s.EmitUntyped(ev, args...)
}

func (s *Socket) _onerror(err error) {
	if s.ListenerCount("error") > 0 {
		s.EmitReserved("error", err)
		return
	}
	utils.Log().Error("socket %s error: %v", s.id, err)
}

// _onclose detaches the socket. Safe to call more than once.
func (s *Socket) _onclose(reason string) {
	if !s.connected.CompareAndSwap(true, false) {
		return
	}
	socket_log.Debug("closing socket %s, reason %s", s.id, reason)
	s.EmitReserved("disconnecting", reason)
	s.leaveAll()
	s.nsp.remove(s)
	s.client._remove(s)
	s.server.Acks().AbortSocket(s.id)
	s.EmitReserved("disconnect", reason)
}

// Disconnect detaches this socket from its namespace. When status is true
// the underlying connection is closed as well, detaching every namespace of
// the client.
func (s *Socket) Disconnect(status bool) *Socket {
	if !s.connected.Load() {
		return s
	}
	if status {
		s.client._disconnect()
		return s
	}
	s.packet(&parser.Packet{Type: parser.DISCONNECT}, nil)
	s._onclose("server namespace disconnect")
	return s
}

// Compress sets the compress flag for the next emission.
func (s *Socket) Compress(compress bool) *Socket {
	s.flagsMu.Lock()
	s.flags.Compress = compress
	s.flagsMu.Unlock()
	return s
}

// Volatile marks the next emission as droppable when the outbound queue is
// saturated.
func (s *Socket) Volatile() *Socket {
	s.flagsMu.Lock()
	s.flags.Volatile = true
	s.flagsMu.Unlock()
	return s
}

// Timeout sets the acknowledgement deadline for the next emission.
func (s *Socket) Timeout(timeout time.Duration) *Socket {
	s.flagsMu.Lock()
	s.flags.Timeout = &timeout
	s.flagsMu.Unlock()
	return s
}

func (s *Socket) takeFlags() BroadcastFlags {
	s.flagsMu.Lock()
	defer s.flagsMu.Unlock()

	flags := s.flags
	s.flags = BroadcastFlags{}
	return flags
}

// To targets a room when broadcasting. The socket itself is always excluded.
//
//	socket.To("room-101").Emit("foo", "bar")
func (s *Socket) To(room ...Room) *BroadcastOperator {
	return s.newBroadcastOperator().To(room...)
}

// In targets a room when broadcasting. Alias of To.
func (s *Socket) In(room ...Room) *BroadcastOperator {
	return s.newBroadcastOperator().In(room...)
}

// Except excludes the members of a room when broadcasting.
func (s *Socket) Except(room ...Room) *BroadcastOperator {
	return s.newBroadcastOperator().Except(room...)
}

// Broadcast targets every socket of the namespace but this one.
//
//	socket.Broadcast().Emit("foo", "bar")
func (s *Socket) Broadcast() *BroadcastOperator {
	return s.newBroadcastOperator()
}

// Local targets the current node only when broadcasting.
func (s *Socket) Local() *BroadcastOperator {
	return s.newBroadcastOperator().Local()
}

func (s *Socket) newBroadcastOperator() *BroadcastOperator {
	return NewBroadcastOperator(s.nsp.Adapter(), nil, nil, types.NewSet(s.id), nil)
}

// OnAny registers a catch-all listener invoked for every inbound event.
func (s *Socket) OnAny(listener func(...any)) *Socket {
	s.anyListeners.Push(&listener)
	return s
}

// OffAny removes a catch-all listener, or all of them when nil.
func (s *Socket) OffAny(listener func(...any)) *Socket {
	offAny(s.anyListeners, listener)
	return s
}

// ListenersAny returns the registered catch-all listeners.
func (s *Socket) ListenersAny() []func(...any) {
	return collectAny(s.anyListeners)
}

// OnAnyOutgoing registers a catch-all listener invoked for every outbound
// event, including broadcasts reaching this socket.
func (s *Socket) OnAnyOutgoing(listener func(...any)) *Socket {
	s.anyOutgoingListeners.Push(&listener)
	return s
}

// OffAnyOutgoing removes an outgoing catch-all listener, or all of them when
// nil.
func (s *Socket) OffAnyOutgoing(listener func(...any)) *Socket {
	offAny(s.anyOutgoingListeners, listener)
	return s
}

// ListenersAnyOutgoing returns the registered outgoing catch-all listeners.
func (s *Socket) ListenersAnyOutgoing() []func(...any) {
	return collectAny(s.anyOutgoingListeners)
}

// notifyOutgoingListeners reports an outbound EVENT packet to the outgoing
// catch-all listeners.
func (s *Socket) notifyOutgoingListeners(packet *parser.Packet) {
	if packet.Type != parser.EVENT && packet.Type != parser.BINARY_EVENT {
		return
	}
	listeners := s.anyOutgoingListeners.All()
	if len(listeners) == 0 {
		return
	}
	args, _ := packet.Data.([]any)
	for _, listener := range listeners {
		(*listener)(args...)
	}
}

func offAny(listeners *types.Slice[*func(...any)], listener func(...any)) {
	if listener == nil {
		listeners.Clear()
		return
	}
	kept := []*func(...any){}
	for _, l := range listeners.All() {
		if fmt.Sprintf("%p", *l) == fmt.Sprintf("%p", listener) {
			continue
		}
		kept = append(kept, l)
	}
	listeners.Clear()
	listeners.Push(kept...)
}

func collectAny(listeners *types.Slice[*func(...any)]) []func(...any) {
	out := []func(...any){}
	for _, l := range listeners.All() {
		out = append(out, *l)
	}
	return out
}
