package socket

import (
	"strconv"
	"sync/atomic"

	"github.com/phederal/sio/pkg/log"
	"github.com/phederal/sio/pkg/types"
)

var parent_namespace_log = log.NewLog("sio:parent-namespace")

var parentNspSeq atomic.Uint64

// ParentNamespace is the registration target of a dynamic namespace matcher:
// middlewares and connection listeners registered on it are inherited by
// every child namespace created when a client attaches to a matching name.
//
//	io.Of(regexp.MustCompile(`^/dynamic-\d+$`)).On("connection", ...)
type ParentNamespace struct {
	*Namespace

	children *types.Set[*Namespace]
}

func NewParentNamespace(server *Server) *ParentNamespace {
	n := &ParentNamespace{
		Namespace: NewNamespace(server, "/_"+strconv.FormatUint(parentNspSeq.Add(1), 10)),
		children:  types.NewSet[*Namespace](),
	}
	return n
}

// CreateChild builds the concrete namespace for one matched name, copying
// the parent's middlewares and lifecycle listeners.
func (p *ParentNamespace) CreateChild(name string) *Namespace {
	parent_namespace_log.Debug("creating child namespace %s", name)
	child := NewNamespace(p.server, name)

	for _, fn := range p.fns.All() {
		child.fns.Push(fn)
	}
	for _, ev := range []string{"connect", "connection"} {
		for _, listener := range p.Listeners(ev) {
			child.On(ev, listener)
		}
	}

	if p.server.Opts().CleanupEmptyChildNamespaces {
		child.onEmpty = func() {
			parent_namespace_log.Debug("removing empty child namespace %s", name)
			p.children.Delete(child)
			p.server._nsps.Delete(name)
		}
	}

	p.children.Add(child)
	p.server._nsps.Store(name, child)
	p.server.Sockets().EmitReserved("new_namespace", child)
	return child
}

// Children returns the live child namespaces.
func (p *ParentNamespace) Children() *types.Set[*Namespace] {
	return p.children
}
