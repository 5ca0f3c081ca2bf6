package socket

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phederal/sio/pkg/log"
	"github.com/phederal/sio/pkg/utils"
)

var ack_log = log.NewLog("sio:ack")

var (
	// ErrAckTimeout is reported when no acknowledgement arrived within
	// the deadline.
	ErrAckTimeout = errors.New("operation has timed out")
	// ErrAckAborted is reported when the target socket disconnected
	// before acknowledging.
	ErrAckAborted = errors.New("socket has been disconnected")
	// ErrAckTableFull is returned when the pending acknowledgement table
	// reached MaxAckTableSize.
	ErrAckTableFull = errors.New("acknowledgement table is full")
)

// AbortedAck fills the response slot of a broadcast target that
// disconnected before acknowledging.
type AbortedAck struct {
	Sid   SocketId `json:"sid"`
	Error string   `json:"error"`
}

// AckRegistry correlates outgoing acknowledgement requests with their
// responses. There is one registry per Server: the id space is shared
// across all namespaces and ids increase monotonically for the lifetime of
// the server (wrap at 2^64 is defined as modulo).
type AckRegistry struct {
	ids     atomic.Uint64
	count   atomic.Int64
	maxSize int

	mu      sync.Mutex
	entries map[uint64]ackEntry
}

type ackEntry interface {
	// resolve feeds one response; reports whether it was consumed.
	resolve(sid SocketId, args []any) bool
	// abort completes the entry (or one of its slots) for a socket that
	// disconnected.
	abort(sid SocketId)
}

func NewAckRegistry(maxSize int) *AckRegistry {
	return &AckRegistry{
		maxSize: maxSize,
		entries: map[uint64]ackEntry{},
	}
}

// NextId returns the next acknowledgement id. The first id is 0.
func (r *AckRegistry) NextId() uint64 {
	return r.ids.Add(1) - 1
}

func (r *AckRegistry) Len() int {
	return int(r.count.Load())
}

func (r *AckRegistry) add(id uint64, entry ackEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxSize > 0 && len(r.entries) >= r.maxSize {
		return ErrAckTableFull
	}
	r.entries[id] = entry
	r.count.Store(int64(len(r.entries)))
	return nil
}

func (r *AckRegistry) remove(id uint64) {
	r.mu.Lock()
	delete(r.entries, id)
	r.count.Store(int64(len(r.entries)))
	r.mu.Unlock()
}

func (r *AckRegistry) load(id uint64) (ackEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	return entry, ok
}

// Register tracks a single-target acknowledgement. The callback is invoked
// exactly once: with the response arguments, with ErrAckTimeout, or with
// ErrAckAborted if the socket disconnects first. A timeout of 0 disables
// the deadline.
func (r *AckRegistry) Register(id uint64, sid SocketId, timeout time.Duration, ack Ack) error {
	entry := &singleAck{registry: r, id: id, sid: sid, ack: ack}
	if err := r.add(id, entry); err != nil {
		return err
	}
	if timeout > 0 {
		entry.setTimer(utils.SetTimeout(func() {
			ack_log.Debug("ack %d timed out after %s", id, timeout)
			entry.complete(nil, ErrAckTimeout)
		}, timeout))
	}
	return nil
}

// RegisterBroadcast tracks a multi-target acknowledgement. Targets are
// announced through Expect and sealed with Seal once the broadcast fan-out
// is complete; the callback fires once all expected responses arrived, or
// at the deadline with the partial response list.
func (r *AckRegistry) RegisterBroadcast(id uint64, timeout time.Duration, ack Ack) (*BroadcastAck, error) {
	entry := &BroadcastAck{registry: r, id: id, ack: ack, pending: map[SocketId]struct{}{}}
	if err := r.add(id, entry); err != nil {
		return nil, err
	}
	if timeout > 0 {
		entry.setTimer(utils.SetTimeout(entry.expire, timeout))
	}
	return entry, nil
}

// Resolve feeds an inbound acknowledgement response. Responses with no
// matching entry (already completed, timed out, or re-sent) are dropped
// with a warning.
func (r *AckRegistry) Resolve(id uint64, sid SocketId, args []any) {
	entry, ok := r.load(id)
	if !ok {
		ack_log.Debug("late ack %d from %s dropped", id, sid)
		return
	}
	if !entry.resolve(sid, args) {
		ack_log.Debug("ack %d from unexpected socket %s dropped", id, sid)
	}
}

// AbortSocket completes every entry or slot waiting on a socket that
// disconnected. No callback is left pending past its target's lifetime.
func (r *AckRegistry) AbortSocket(sid SocketId) {
	r.mu.Lock()
	entries := make([]ackEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		entries = append(entries, entry)
	}
	r.mu.Unlock()

	for _, entry := range entries {
		entry.abort(sid)
	}
}

type singleAck struct {
	registry *AckRegistry
	id       uint64
	sid      SocketId
	ack      Ack

	mu    sync.Mutex
	timer *time.Timer
	done  bool
}

// setTimer publishes the deadline timer. The entry is reachable through the
// registry before the timer is armed, so an entry that already completed
// stops the timer instead of keeping it.
func (a *singleAck) setTimer(timer *time.Timer) {
	a.mu.Lock()
	if a.done {
		a.mu.Unlock()
		utils.ClearTimeout(timer)
		return
	}
	a.timer = timer
	a.mu.Unlock()
}

func (a *singleAck) complete(args []any, err error) {
	a.mu.Lock()
	if a.done {
		a.mu.Unlock()
		return
	}
	a.done = true
	timer := a.timer
	a.mu.Unlock()

	utils.ClearTimeout(timer)
	a.registry.remove(a.id)
	a.ack(args, err)
}

func (a *singleAck) resolve(sid SocketId, args []any) bool {
	if sid != a.sid {
		return false
	}
	a.complete(args, nil)
	return true
}

func (a *singleAck) abort(sid SocketId) {
	if sid == a.sid {
		a.complete(nil, ErrAckAborted)
	}
}

// BroadcastAck aggregates the responses of one acknowledged broadcast.
// Responses are reported in arrival order.
type BroadcastAck struct {
	registry *AckRegistry
	id       uint64
	ack      Ack

	mu        sync.Mutex
	timer     *time.Timer
	pending   map[SocketId]struct{}
	responses []any
	sealed    bool
	done      bool
}

// setTimer publishes the deadline timer; stops it when the entry already
// completed.
func (a *BroadcastAck) setTimer(timer *time.Timer) {
	a.mu.Lock()
	if a.done {
		a.mu.Unlock()
		utils.ClearTimeout(timer)
		return
	}
	a.timer = timer
	a.mu.Unlock()
}

// Expect announces one more target socket.
func (a *BroadcastAck) Expect(sid SocketId) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.done {
		return
	}
	a.pending[sid] = struct{}{}
}

// Seal marks the expectation set complete. An acknowledged broadcast that
// matched no target completes immediately with an empty response list.
func (a *BroadcastAck) Seal() {
	a.mu.Lock()
	a.sealed = true
	finish := a.tryFinishLocked(nil)
	a.mu.Unlock()
	finish()
}

func (a *BroadcastAck) resolve(sid SocketId, args []any) bool {
	a.mu.Lock()
	if a.done {
		a.mu.Unlock()
		return false
	}
	if _, ok := a.pending[sid]; !ok {
		a.mu.Unlock()
		return false
	}
	delete(a.pending, sid)
	a.responses = append(a.responses, args...)
	finish := a.tryFinishLocked(nil)
	a.mu.Unlock()
	finish()
	return true
}

func (a *BroadcastAck) abort(sid SocketId) {
	a.mu.Lock()
	if _, ok := a.pending[sid]; !ok || a.done {
		a.mu.Unlock()
		return
	}
	delete(a.pending, sid)
	a.responses = append(a.responses, &AbortedAck{Sid: sid, Error: "disconnected"})
	finish := a.tryFinishLocked(nil)
	a.mu.Unlock()
	finish()
}

func (a *BroadcastAck) expire() {
	a.mu.Lock()
	finish := a.finishLocked(ErrAckTimeout)
	a.mu.Unlock()
	finish()
}

// tryFinishLocked completes the entry when sealed and nothing is pending.
func (a *BroadcastAck) tryFinishLocked(err error) func() {
	if !a.sealed || len(a.pending) > 0 {
		return func() {}
	}
	return a.finishLocked(err)
}

func (a *BroadcastAck) finishLocked(err error) func() {
	if a.done {
		return func() {}
	}
	a.done = true
	timer := a.timer
	responses := a.responses
	return func() {
		utils.ClearTimeout(timer)
		a.registry.remove(a.id)
		a.ack(responses, err)
	}
}
