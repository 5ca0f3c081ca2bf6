package socket

import (
	"github.com/phederal/sio/parser"
	"github.com/phederal/sio/pkg/events"
	"github.com/phederal/sio/pkg/log"
	"github.com/phederal/sio/pkg/types"
)

var adapter_log = log.NewLog("sio:adapter")

type AdapterBuilder struct{}

func (*AdapterBuilder) New(nsp *Namespace) Adapter {
	return NewAdapter(nsp)
}

// adapter is the in-memory Adapter: a bidirectional index between rooms and
// socket ids, rebuildable at any time from the namespace's socket pool.
type adapter struct {
	events.EventEmitter

	nsp     *Namespace
	rooms   *types.Map[Room, *types.Set[SocketId]]
	sids    *types.Map[SocketId, *types.Set[Room]]
	encoder parser.Encoder
}

func NewAdapter(nsp *Namespace) Adapter {
	return &adapter{
		EventEmitter: events.New(),

		nsp:     nsp,
		rooms:   &types.Map[Room, *types.Set[SocketId]]{},
		sids:    &types.Map[SocketId, *types.Set[Room]]{},
		encoder: nsp.Server().Encoder(),
	}
}

func (a *adapter) Rooms() *types.Map[Room, *types.Set[SocketId]] {
	return a.rooms
}

func (a *adapter) Sids() *types.Map[SocketId, *types.Set[Room]] {
	return a.sids
}

func (a *adapter) Nsp() *Namespace {
	return a.nsp
}

func (a *adapter) Init() {}

func (a *adapter) Close() {}

func (a *adapter) AddAll(id SocketId, rooms *types.Set[Room]) {
	joined, _ := a.sids.LoadOrStore(id, types.NewSet[Room]())
	for _, room := range rooms.Keys() {
		joined.Add(room)
		ids, loaded := a.rooms.LoadOrStore(room, types.NewSet[SocketId]())
		if !loaded {
			a.Emit("room-created", room)
		}
		if !ids.Has(id) {
			ids.Add(id)
			a.Emit("room-joined", room, id)
		}
	}
}

func (a *adapter) Del(id SocketId, room Room) {
	if rooms, ok := a.sids.Load(id); ok {
		rooms.Delete(room)
	}
	a.del(room, id)
}

func (a *adapter) del(room Room, id SocketId) {
	if ids, ok := a.rooms.Load(room); ok {
		if ids.Delete(id) {
			a.Emit("room-left", room, id)
		}
		if ids.Len() == 0 {
			if _, ok := a.rooms.LoadAndDelete(room); ok {
				a.Emit("room-deleted", room)
			}
		}
	}
}

func (a *adapter) DelAll(id SocketId) {
	if rooms, ok := a.sids.Load(id); ok {
		for _, room := range rooms.Keys() {
			a.del(room, id)
		}
		a.sids.Delete(id)
	}
}

func (a *adapter) Broadcast(packet *parser.Packet, opts *BroadcastOptions) {
	flags := &BroadcastFlags{}
	if opts != nil && opts.Flags != nil {
		flags = opts.Flags
	}
	writeOpts := &WriteOptions{Volatile: flags.Volatile, Compress: flags.Compress}

	packet.Nsp = a.nsp.Name()
	frames, err := a.encoder.Encode(packet)
	if err != nil {
		adapter_log.Debug("broadcast encode failed: %v", err)
		return
	}
	a.apply(opts, func(socket *Socket) {
		socket.notifyOutgoingListeners(packet)
		socket.client.WriteToEngine(frames, writeOpts)
	})
}

func (a *adapter) BroadcastWithAck(packet *parser.Packet, opts *BroadcastOptions, expect func(*Socket)) {
	flags := &BroadcastFlags{}
	if opts != nil && opts.Flags != nil {
		flags = opts.Flags
	}
	writeOpts := &WriteOptions{Volatile: flags.Volatile, Compress: flags.Compress}

	packet.Nsp = a.nsp.Name()
	frames, err := a.encoder.Encode(packet)
	if err != nil {
		adapter_log.Debug("broadcast encode failed: %v", err)
		return
	}
	a.apply(opts, func(socket *Socket) {
		expect(socket)
		socket.notifyOutgoingListeners(packet)
		socket.client.WriteToEngine(frames, writeOpts)
	})
}

func (a *adapter) Sockets(rooms *types.Set[Room]) *types.Set[SocketId] {
	sids := types.NewSet[SocketId]()
	a.apply(&BroadcastOptions{Rooms: rooms}, func(socket *Socket) {
		sids.Add(socket.Id())
	})
	return sids
}

func (a *adapter) SocketRooms(id SocketId) *types.Set[Room] {
	if rooms, ok := a.sids.Load(id); ok {
		return rooms
	}
	return nil
}

func (a *adapter) FetchSockets(opts *BroadcastOptions) []SocketDetails {
	sockets := []SocketDetails{}
	a.apply(opts, func(socket *Socket) {
		sockets = append(sockets, socket)
	})
	return sockets
}

func (a *adapter) AddSockets(opts *BroadcastOptions, rooms []Room) {
	a.apply(opts, func(socket *Socket) {
		socket.Join(rooms...)
	})
}

func (a *adapter) DelSockets(opts *BroadcastOptions, rooms []Room) {
	a.apply(opts, func(socket *Socket) {
		for _, room := range rooms {
			socket.Leave(room)
		}
	})
}

func (a *adapter) DisconnectSockets(opts *BroadcastOptions, status bool) {
	a.apply(opts, func(socket *Socket) {
		socket.Disconnect(status)
	})
}

// apply invokes callback once per socket matching opts: the union of the
// requested rooms (or every attached socket when none are given), minus the
// members of the excluded rooms and the explicitly excluded socket ids.
func (a *adapter) apply(opts *BroadcastOptions, callback func(*Socket)) {
	if opts == nil {
		opts = &BroadcastOptions{}
	}
	except := a.computeExceptSids(opts.Except, opts.ExceptSockets)

	if opts.Rooms != nil && opts.Rooms.Len() > 0 {
		seen := types.NewSet[SocketId]()
		for _, room := range opts.Rooms.Keys() {
			ids, ok := a.rooms.Load(room)
			if !ok {
				continue
			}
			for _, id := range ids.Keys() {
				if seen.Has(id) || except.Has(id) {
					continue
				}
				if socket, ok := a.nsp.Sockets().Load(id); ok {
					seen.Add(id)
					callback(socket)
				}
			}
		}
		return
	}

	a.sids.Range(func(id SocketId, _ *types.Set[Room]) bool {
		if except.Has(id) {
			return true
		}
		if socket, ok := a.nsp.Sockets().Load(id); ok {
			callback(socket)
		}
		return true
	})
}

func (a *adapter) computeExceptSids(exceptRooms *types.Set[Room], exceptSockets *types.Set[SocketId]) *types.Set[SocketId] {
	except := types.NewSet[SocketId]()
	if exceptRooms != nil {
		for _, room := range exceptRooms.Keys() {
			if ids, ok := a.rooms.Load(room); ok {
				except.Add(ids.Keys()...)
			}
		}
	}
	if exceptSockets != nil {
		except.Add(exceptSockets.Keys()...)
	}
	return except
}
