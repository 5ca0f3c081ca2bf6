package engine

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/phederal/sio/pkg/events"
	"github.com/phederal/sio/pkg/log"
	"github.com/phederal/sio/pkg/types"
)

var server_log = log.NewLog("sio:engine:server")

// Server accepts WebSocket upgrades and hands each resulting channel to a
// new Conn. It emits "connection" with the *Conn.
type Server struct {
	events.EventEmitter

	opts     *Options
	upgrader *websocket.Upgrader
	conns    *types.Map[string, *Conn]
}

func NewServer(opts *Options) *Server {
	return &Server{
		EventEmitter: events.New(),
		opts:         opts.withDefaults(),
		upgrader: &websocket.Upgrader{
			ReadBufferSize:    1024,
			WriteBufferSize:   1024,
			EnableCompression: true,
			CheckOrigin:       func(*http.Request) bool { return true },
		},
		conns: &types.Map[string, *Conn]{},
	}
}

func (s *Server) Opts() *Options {
	return s.opts
}

func (s *Server) ClientsCount() int {
	return s.conns.Len()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if transport := r.URL.Query().Get("transport"); transport != "" && transport != "websocket" {
		http.Error(w, `{"code":0,"message":"Transport unknown"}`, http.StatusBadRequest)
		return
	}
	if s.opts.MaxConnections > 0 && s.conns.Len() >= s.opts.MaxConnections {
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		server_log.Debug("upgrade failed: %v", err)
		return
	}
	conn, err := NewConn(NewWebSocketChannel(ws), s.opts, r)
	if err != nil {
		ws.Close()
		return
	}
	s.Accept(conn)
}

// Accept registers an already constructed Conn; used by ServeHTTP and by
// callers that bring their own MessageChannel.
func (s *Server) Accept(conn *Conn) {
	server_log.Debug("accepted connection %s from %s", conn.Id(), conn.RemoteAddress())
	conn.On("close", func(...any) {
		s.conns.Delete(conn.Id())
	})
	s.conns.Store(conn.Id(), conn)
	// the close event may have fired before the listener was registered
	if conn.ReadyState() == "closed" {
		s.conns.Delete(conn.Id())
	}
	s.Emit("connection", conn)
}

// Close terminates every open connection.
func (s *Server) Close() {
	s.conns.Range(func(_ string, conn *Conn) bool {
		conn.Close(ReasonServerShutdown)
		return true
	})
}
