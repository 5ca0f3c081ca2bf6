package socket

import (
	"time"

	"github.com/phederal/sio/parser"
	"github.com/phederal/sio/pkg/events"
	"github.com/phederal/sio/pkg/types"
)

type (
	// SocketId identifies one socket, that is one client attached to one
	// namespace. A client attached to several namespaces holds one
	// SocketId per attachment.
	SocketId string

	// Room is a label grouping sockets within a namespace for targeted
	// broadcasting. Every socket is a member of the room named after its
	// own id while it is attached.
	Room string

	// Ack is the acknowledgement callback shape used across the API: it
	// receives the response arguments, or a non-nil error when the
	// acknowledgement failed (timeout, disconnection, table full).
	Ack = func(args []any, err error)

	WriteOptions struct {
		Volatile bool
		Compress bool
	}

	BroadcastFlags struct {
		WriteOptions

		Local   bool
		Timeout *time.Duration
	}

	// BroadcastOptions selects the target set of a broadcast. Rooms and
	// Except hold room labels; ExceptSockets holds explicit socket ids.
	// The two exclusion fields are deliberately separate: a string is
	// never guessed to be one or the other.
	BroadcastOptions struct {
		Rooms         *types.Set[Room]
		Except        *types.Set[Room]
		ExceptSockets *types.Set[SocketId]
		Flags         *BroadcastFlags
	}

	// SocketDetails is the read-only view of a socket exposed through
	// FetchSockets.
	SocketDetails interface {
		Id() SocketId
		Handshake() *Handshake
		Rooms() *types.Set[Room]
		Data() any
	}

	// Adapter maintains the room membership indices of one namespace and
	// performs broadcast target resolution. Implementations emit
	// "room-created", "room-joined", "room-left" and "room-deleted".
	Adapter interface {
		events.EventEmitter

		Rooms() *types.Map[Room, *types.Set[SocketId]]
		Sids() *types.Map[SocketId, *types.Set[Room]]
		Nsp() *Namespace

		Init()
		Close()

		// AddAll adds a socket to a list of rooms; idempotent.
		AddAll(SocketId, *types.Set[Room])

		// Del removes a socket from a room; idempotent.
		Del(SocketId, Room)

		// DelAll removes a socket from every room it has joined.
		DelAll(SocketId)

		// Broadcast resolves the target set and enqueues the encoded
		// packet on every target's connection.
		Broadcast(*parser.Packet, *BroadcastOptions)

		// BroadcastWithAck behaves like Broadcast for a packet that
		// carries an ack id, reporting each targeted socket through
		// expect before the frames are enqueued.
		BroadcastWithAck(*parser.Packet, *BroadcastOptions, func(*Socket))

		// Sockets returns the ids of the sockets matching the rooms.
		Sockets(*types.Set[Room]) *types.Set[SocketId]

		// SocketRooms returns the rooms a socket has joined, or nil.
		SocketRooms(SocketId) *types.Set[Room]

		FetchSockets(*BroadcastOptions) []SocketDetails
		AddSockets(*BroadcastOptions, []Room)
		DelSockets(*BroadcastOptions, []Room)
		DisconnectSockets(*BroadcastOptions, bool)
	}

	AdapterConstructor interface {
		New(*Namespace) Adapter
	}
)
