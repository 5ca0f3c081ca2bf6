package socket

import (
	"fmt"
	"time"

	"github.com/phederal/sio/parser"
	"github.com/phederal/sio/pkg/types"
)

// BroadcastOperator is an immutable, chainable selector and emitter: every
// modifier returns a new operator with an extended filter, and the terminal
// methods resolve the target set through the Adapter at call time.
type BroadcastOperator struct {
	adapter       Adapter
	rooms         *types.Set[Room]
	exceptRooms   *types.Set[Room]
	exceptSockets *types.Set[SocketId]
	flags         *BroadcastFlags
}

func NewBroadcastOperator(adapter Adapter, rooms *types.Set[Room], exceptRooms *types.Set[Room], exceptSockets *types.Set[SocketId], flags *BroadcastFlags) *BroadcastOperator {
	b := &BroadcastOperator{adapter: adapter}
	b.rooms = rooms
	if b.rooms == nil {
		b.rooms = types.NewSet[Room]()
	}
	b.exceptRooms = exceptRooms
	if b.exceptRooms == nil {
		b.exceptRooms = types.NewSet[Room]()
	}
	b.exceptSockets = exceptSockets
	if b.exceptSockets == nil {
		b.exceptSockets = types.NewSet[SocketId]()
	}
	b.flags = flags
	if b.flags == nil {
		b.flags = &BroadcastFlags{}
	}
	return b
}

// To targets a room when emitting.
//
//	// the "foo" event will reach every client in "room-101"
//	io.To("room-101").Emit("foo", "bar")
//
//	// a client in both rooms is notified at most once
//	io.To("room-101", "room-102").Emit("foo", "bar")
func (b *BroadcastOperator) To(room ...Room) *BroadcastOperator {
	rooms := types.NewSet(b.rooms.Keys()...)
	rooms.Add(room...)
	return NewBroadcastOperator(b.adapter, rooms, b.exceptRooms, b.exceptSockets, b.flags)
}

// In targets a room when emitting. Alias of To.
func (b *BroadcastOperator) In(room ...Room) *BroadcastOperator {
	return b.To(room...)
}

// Except excludes the members of a room when emitting. To exclude a single
// socket by id, use ExceptSocket; a room label is never guessed to be a
// socket id.
func (b *BroadcastOperator) Except(room ...Room) *BroadcastOperator {
	exceptRooms := types.NewSet(b.exceptRooms.Keys()...)
	exceptRooms.Add(room...)
	return NewBroadcastOperator(b.adapter, b.rooms, exceptRooms, b.exceptSockets, b.flags)
}

// ExceptSocket excludes explicit socket ids when emitting.
func (b *BroadcastOperator) ExceptSocket(id ...SocketId) *BroadcastOperator {
	exceptSockets := types.NewSet(b.exceptSockets.Keys()...)
	exceptSockets.Add(id...)
	return NewBroadcastOperator(b.adapter, b.rooms, b.exceptRooms, exceptSockets, b.flags)
}

// Compress sets the compress flag for the next emission.
func (b *BroadcastOperator) Compress(compress bool) *BroadcastOperator {
	flags := *b.flags
	flags.Compress = compress
	return NewBroadcastOperator(b.adapter, b.rooms, b.exceptRooms, b.exceptSockets, &flags)
}

// Volatile marks the next emission as droppable when a recipient's outbound
// queue is saturated.
func (b *BroadcastOperator) Volatile() *BroadcastOperator {
	flags := *b.flags
	flags.Volatile = true
	return NewBroadcastOperator(b.adapter, b.rooms, b.exceptRooms, b.exceptSockets, &flags)
}

// Local restricts the next emission to the current node.
func (b *BroadcastOperator) Local() *BroadcastOperator {
	flags := *b.flags
	flags.Local = true
	return NewBroadcastOperator(b.adapter, b.rooms, b.exceptRooms, b.exceptSockets, &flags)
}

// Timeout sets the acknowledgement deadline for the next emission.
//
//	io.Timeout(1000 * time.Millisecond).Emit("some-event", func(args []any, err error) {
//		if err != nil {
//			// some clients did not acknowledge in time; args holds
//			// the responses received so far
//		}
//	})
func (b *BroadcastOperator) Timeout(timeout time.Duration) *BroadcastOperator {
	flags := *b.flags
	flags.Timeout = &timeout
	return NewBroadcastOperator(b.adapter, b.rooms, b.exceptRooms, b.exceptSockets, &flags)
}

// Emit broadcasts an event to every matching socket. When the last argument
// is an Ack, one response per recipient is expected and aggregated; the
// callback fires once with the responses in arrival order, or with
// ErrAckTimeout and the partial list at the deadline.
func (b *BroadcastOperator) Emit(ev string, args ...any) error {
	if SOCKET_RESERVED_EVENTS.Has(ev) {
		return fmt.Errorf("%q is a reserved event name", ev)
	}
	data := append([]any{ev}, args...)
	packet := &parser.Packet{Type: parser.EVENT, Data: data}
	opts := &BroadcastOptions{
		Rooms:         b.rooms,
		Except:        b.exceptRooms,
		ExceptSockets: b.exceptSockets,
		Flags:         b.flags,
	}

	ack, withAck := data[len(data)-1].(Ack)
	if !withAck {
		b.adapter.Broadcast(packet, opts)
		return nil
	}
	packet.Data = data[:len(data)-1]

	server := b.adapter.Nsp().Server()
	timeout := server.Opts().AckTimeoutDefault
	if b.flags.Timeout != nil {
		timeout = *b.flags.Timeout
	}
	id := server.Acks().NextId()
	entry, err := server.Acks().RegisterBroadcast(id, timeout, ack)
	if err != nil {
		return err
	}
	packet.Id = &id
	b.adapter.BroadcastWithAck(packet, opts, func(socket *Socket) {
		entry.Expect(socket.Id())
	})
	entry.Seal()
	return nil
}

// EmitWithAck emits an event and returns a function accepting the
// acknowledgement callback.
//
//	io.Timeout(1000 * time.Millisecond).EmitWithAck("some-event")(func(args []any, err error) {
//		// one response per client
//	})
func (b *BroadcastOperator) EmitWithAck(ev string, args ...any) func(Ack) error {
	return func(ack Ack) error {
		return b.Emit(ev, append(args, ack)...)
	}
}

// AllSockets returns the ids of the matching sockets.
func (b *BroadcastOperator) AllSockets() *types.Set[SocketId] {
	return b.adapter.Sockets(b.rooms)
}

// FetchSockets returns a view of the matching socket instances.
func (b *BroadcastOperator) FetchSockets() []*RemoteSocket {
	remoteSockets := []*RemoteSocket{}
	for _, details := range b.adapter.FetchSockets(b.opts()) {
		remoteSockets = append(remoteSockets, NewRemoteSocket(b.adapter, details))
	}
	return remoteSockets
}

// SocketsJoin makes the matching sockets join the given rooms.
func (b *BroadcastOperator) SocketsJoin(room ...Room) {
	b.adapter.AddSockets(b.opts(), room)
}

// SocketsLeave makes the matching sockets leave the given rooms.
func (b *BroadcastOperator) SocketsLeave(room ...Room) {
	b.adapter.DelSockets(b.opts(), room)
}

// DisconnectSockets disconnects the matching sockets. When close is true
// the underlying connections are torn down as well.
func (b *BroadcastOperator) DisconnectSockets(close bool) {
	b.adapter.DisconnectSockets(b.opts(), close)
}

func (b *BroadcastOperator) opts() *BroadcastOptions {
	return &BroadcastOptions{
		Rooms:         b.rooms,
		Except:        b.exceptRooms,
		ExceptSockets: b.exceptSockets,
		Flags:         b.flags,
	}
}

// RemoteSocket is the thin, read-mostly view of a socket returned by
// FetchSockets: a snapshot of its state plus an emitter targeting just
// that socket.
type RemoteSocket struct {
	id        SocketId
	handshake *Handshake
	rooms     *types.Set[Room]
	data      any

	operator *BroadcastOperator
}

func NewRemoteSocket(adapter Adapter, details SocketDetails) *RemoteSocket {
	return &RemoteSocket{
		id:        details.Id(),
		handshake: details.Handshake(),
		rooms:     types.NewSet(details.Rooms().Keys()...),
		data:      details.Data(),
		operator:  NewBroadcastOperator(adapter, types.NewSet(Room(details.Id())), nil, nil, nil),
	}
}

func (r *RemoteSocket) Id() SocketId {
	return r.id
}

func (r *RemoteSocket) Handshake() *Handshake {
	return r.handshake
}

func (r *RemoteSocket) Rooms() *types.Set[Room] {
	return r.rooms
}

func (r *RemoteSocket) Data() any {
	return r.data
}

func (r *RemoteSocket) Emit(ev string, args ...any) error {
	return r.operator.Emit(ev, args...)
}

func (r *RemoteSocket) Join(room ...Room) {
	r.operator.SocketsJoin(room...)
}

func (r *RemoteSocket) Leave(room ...Room) {
	r.operator.SocketsLeave(room...)
}

func (r *RemoteSocket) Disconnect(close bool) *RemoteSocket {
	r.operator.DisconnectSockets(close)
	return r
}
