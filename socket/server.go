package socket

import (
	"compress/flate"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/phederal/sio/engine"
	"github.com/phederal/sio/parser"
	"github.com/phederal/sio/pkg/log"
	"github.com/phederal/sio/pkg/types"
	"github.com/phederal/sio/pkg/utils"
)

var server_log = log.NewLog("sio:server")

var clientPathRegexp = regexp.MustCompile(`^/socket\.io(\.msgpack|\.esm)?(\.min)?\.js(\.map)?$`)

// ParentNspNameMatchFn decides whether a dynamic namespace name is allowed.
type ParentNspNameMatchFn func(name string, auth any, fn func(allowed bool))

type parentNspEntry struct {
	match  ParentNspNameMatchFn
	parent *ParentNamespace
}

// Server is the entry point of the library: it owns the namespaces, the
// transport layer and the acknowledgement registry, and serves the protocol
// over HTTP.
//
//	io := socket.NewServer(nil)
//	io.On("connection", func(args ...any) {
//		s := args[0].(*socket.Socket)
//		// ...
//	})
//	http.ListenAndServe(":3000", io)
type Server struct {
	opts *ServerOptions

	eio     *engine.Server
	_parser parser.Parser
	encoder parser.Encoder
	acks    *AckRegistry

	_nsps      *types.Map[string, *Namespace]
	parentNsps *types.Slice[parentNspEntry]
	sockets    *Namespace
}

func NewServer(opts *ServerOptions) *Server {
	if opts == nil {
		opts = &ServerOptions{}
	}
	opts.Assign(DefaultServerOptions())
	if opts.Parser == nil {
		opts.Parser = parser.NewParser()
	}
	if opts.Adapter == nil {
		opts.Adapter = &AdapterBuilder{}
	}

	s := &Server{
		opts:       opts,
		_parser:    opts.Parser,
		encoder:    opts.Parser.NewEncoder(),
		acks:       NewAckRegistry(opts.MaxAckTableSize),
		_nsps:      &types.Map[string, *Namespace]{},
		parentNsps: types.NewSlice[parentNspEntry](),
	}
	s.sockets = s.Of("/", nil)
	s.Bind(engine.NewServer(opts.EngineOptions()))
	return s
}

func (s *Server) Opts() *ServerOptions {
	return s.opts
}

// Acks returns the server-wide acknowledgement registry.
func (s *Server) Acks() *AckRegistry {
	return s.acks
}

func (s *Server) Parser() parser.Parser {
	return s._parser
}

// Encoder returns the shared packet encoder.
func (s *Server) Encoder() parser.Encoder {
	return s.encoder
}

// Engine returns the transport-level server.
func (s *Server) Engine() *engine.Server {
	return s.eio
}

// Sockets returns the default ("/") namespace.
func (s *Server) Sockets() *Namespace {
	return s.sockets
}

// Of returns a namespace by name, creating it on first use. The name may be
// a string, a *regexp.Regexp or a ParentNspNameMatchFn; the latter two
// register a dynamic matcher whose children are created as clients attach.
//
//	io.Of("/chat", nil)
//	io.Of(regexp.MustCompile(`^/dynamic-\d+$`), nil)
func (s *Server) Of(name any, fn func(...any)) *Namespace {
	switch n := name.(type) {
	case string:
		return s.ofString(n, fn)
	case *regexp.Regexp:
		return s.ofMatcher(func(nsp string, _ any, allow func(bool)) {
			allow(n.MatchString(nsp))
		}, fn)
	case ParentNspNameMatchFn:
		return s.ofMatcher(n, fn)
	default:
		panic("Of accepts a string, a *regexp.Regexp or a ParentNspNameMatchFn")
	}
}

func (s *Server) ofString(name string, fn func(...any)) *Namespace {
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	nsp, ok := s._nsps.Load(name)
	if !ok {
		server_log.Debug("initializing namespace %s", name)
		nsp = NewNamespace(s, name)
		s._nsps.Store(name, nsp)
		if name != "/" && s.sockets != nil {
			s.sockets.EmitReserved("new_namespace", nsp)
		}
	}
	if fn != nil {
		nsp.On("connection", fn)
	}
	return nsp
}

func (s *Server) ofMatcher(match ParentNspNameMatchFn, fn func(...any)) *Namespace {
	parent := NewParentNamespace(s)
	server_log.Debug("initializing parent namespace %s", parent.Name())
	s.parentNsps.Push(parentNspEntry{match: match, parent: parent})
	if fn != nil {
		parent.On("connection", fn)
	}
	return parent.Namespace
}

// _checkNamespace asks the dynamic matchers, in registration order, whether
// the namespace may be created. The first matcher that allows it wins and
// the child namespace is created before fn(true) is invoked.
func (s *Server) _checkNamespace(name string, auth any, fn func(allowed bool)) {
	entries := s.parentNsps.All()
	if len(entries) == 0 {
		fn(false)
		return
	}
	var check func(i int)
	check = func(i int) {
		if i == len(entries) {
			fn(false)
			return
		}
		entries[i].match(name, auth, func(allowed bool) {
			if !allowed {
				check(i + 1)
				return
			}
			if _, ok := s._nsps.Load(name); !ok {
				entries[i].parent.CreateChild(name)
			}
			fn(true)
		})
	}
	check(0)
}

// Bind attaches the server to a transport-level server.
func (s *Server) Bind(eio *engine.Server) *Server {
	s.eio = eio
	s.eio.On("connection", func(args ...any) {
		s.onconnection(args[0].(*engine.Conn))
	})
	return s
}

func (s *Server) onconnection(conn *engine.Conn) {
	server_log.Debug("incoming connection with id %s", conn.Id())
	NewClient(s, conn)
}

// ServeHTTP serves the client bundle under Path when ServeClient is set and
// hands every other request under Path to the transport layer.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(s.opts.Path, "/")
	if !strings.HasPrefix(r.URL.Path, path) {
		http.NotFound(w, r)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, path)
	if s.opts.ServeClient && clientPathRegexp.MatchString(rest) {
		s.serveFile(w, r, rest)
		return
	}
	s.eio.ServeHTTP(w, r)
}

// serveFile sends one client bundle file, negotiating the response encoding
// from Accept-Encoding and honoring If-None-Match against ClientVersion.
func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, name string) {
	etag := `"` + s.opts.ClientVersion + `"`
	if match := r.Header.Get("If-None-Match"); match != "" {
		if strings.Contains(match, etag) {
			server_log.Debug("serve client 304")
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	file, err := os.Open(filepath.Join(s.opts.ClientPath, filepath.Base(name)))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer file.Close()

	if strings.HasSuffix(name, ".map") {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	}
	w.Header().Set("Cache-Control", "public, max-age=0")
	w.Header().Set("ETag", etag)

	encoding := utils.Contains(r.Header.Get("Accept-Encoding"), []string{"br", "gzip", "deflate", "zstd"})
	switch encoding {
	case "br":
		w.Header().Set("Content-Encoding", "br")
		bw := brotli.NewWriter(w)
		defer bw.Close()
		io.Copy(bw, file)
	case "gzip":
		w.Header().Set("Content-Encoding", "gzip")
		gw := gzip.NewWriter(w)
		defer gw.Close()
		io.Copy(gw, file)
	case "deflate":
		w.Header().Set("Content-Encoding", "deflate")
		fw, _ := flate.NewWriter(w, flate.DefaultCompression)
		defer fw.Close()
		io.Copy(fw, file)
	case "zstd":
		w.Header().Set("Content-Encoding", "zstd")
		zw, _ := zstd.NewWriter(w)
		defer zw.Close()
		io.Copy(zw, file)
	default:
		io.Copy(w, file)
	}
}

// Close terminates every connection with reason "server shutting down" and
// releases the adapters. fn, when non-nil, runs once teardown is complete.
func (s *Server) Close(fn func()) {
	s.eio.Close()
	s._nsps.Range(func(_ string, nsp *Namespace) bool {
		nsp.Adapter().Close()
		return true
	})
	if fn != nil {
		fn()
	}
}

// On registers a listener on the default namespace.
func (s *Server) On(ev string, listener func(...any)) {
	s.sockets.On(ev, listener)
}

// Once registers a one-shot listener on the default namespace.
func (s *Server) Once(ev string, listener func(...any)) {
	s.sockets.Once(ev, listener)
}

// Use registers a middleware on the default namespace.
func (s *Server) Use(fn func(*Socket, func(*ExtendedError))) *Server {
	s.sockets.Use(fn)
	return s
}

// Emit broadcasts an event to every socket of the default namespace.
func (s *Server) Emit(ev string, args ...any) error {
	return s.sockets.Emit(ev, args...)
}

// EmitWithAck broadcasts an event on the default namespace and returns a
// function accepting the acknowledgement callback.
func (s *Server) EmitWithAck(ev string, args ...any) func(Ack) error {
	return s.sockets.EmitWithAck(ev, args...)
}

// Send emits a "message" event on the default namespace.
func (s *Server) Send(args ...any) error {
	return s.sockets.Send(args...)
}

// Write emits a "message" event. Alias of Send.
func (s *Server) Write(args ...any) error {
	return s.sockets.Write(args...)
}

// To targets a room of the default namespace.
func (s *Server) To(room ...Room) *BroadcastOperator {
	return s.sockets.To(room...)
}

// In targets a room of the default namespace. Alias of To.
func (s *Server) In(room ...Room) *BroadcastOperator {
	return s.sockets.In(room...)
}

// Except excludes the members of a room of the default namespace.
func (s *Server) Except(room ...Room) *BroadcastOperator {
	return s.sockets.Except(room...)
}

// ExceptSocket excludes explicit socket ids of the default namespace.
func (s *Server) ExceptSocket(id ...SocketId) *BroadcastOperator {
	return s.sockets.ExceptSocket(id...)
}

// Compress sets the compress flag for the next emission.
func (s *Server) Compress(compress bool) *BroadcastOperator {
	return s.sockets.Compress(compress)
}

// Volatile marks the next emission as droppable under backpressure.
func (s *Server) Volatile() *BroadcastOperator {
	return s.sockets.Volatile()
}

// Local restricts the next emission to the current node.
func (s *Server) Local() *BroadcastOperator {
	return s.sockets.Local()
}

// Timeout sets the acknowledgement deadline for the next emission.
func (s *Server) Timeout(timeout time.Duration) *BroadcastOperator {
	return s.sockets.Timeout(timeout)
}

// AllSockets returns the ids of every socket of the default namespace.
func (s *Server) AllSockets() *types.Set[SocketId] {
	return s.sockets.AllSockets()
}

// FetchSockets returns a view of every socket of the default namespace.
func (s *Server) FetchSockets() []*RemoteSocket {
	return s.sockets.FetchSockets()
}

// SocketsJoin makes every socket of the default namespace join the rooms.
func (s *Server) SocketsJoin(room ...Room) {
	s.sockets.SocketsJoin(room...)
}

// SocketsLeave makes every socket of the default namespace leave the rooms.
func (s *Server) SocketsLeave(room ...Room) {
	s.sockets.SocketsLeave(room...)
}

// DisconnectSockets disconnects every socket of the default namespace.
func (s *Server) DisconnectSockets(close bool) {
	s.sockets.DisconnectSockets(close)
}
