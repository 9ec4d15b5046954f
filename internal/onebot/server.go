package onebot

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Server accepts NapCat's reverse WebSocket connection. At most one client
// is served at a time; extra connections are rejected.
type Server struct {
	addr     string
	token    string
	upgrader websocket.Upgrader
	conns    chan Conn

	httpServer *http.Server
}

func NewServer(addr, token string) *Server {
	s := &Server{
		addr:  addr,
		token: token,
		conns: make(chan Conn, 1),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	return s
}

// Handler serves the WebSocket upgrade on any path.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWS)
	return mux
}

// Start listens until ctx is cancelled. Blocks.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	slog.Info("reverse ws listening", "addr", s.addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Connect waits for the next inbound NapCat connection.
func (s *Server) Connect(ctx context.Context) (Conn, error) {
	select {
	case conn := <-s.conns:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.token != "" && !s.authorized(r) {
		slog.Warn("reverse ws unauthorized", "remote", r.RemoteAddr)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	select {
	case s.conns <- &gorillaConn{conn: conn}:
		slog.Info("reverse ws connected", "remote", r.RemoteAddr)
	default:
		slog.Warn("reverse ws connection rejected", "remote", r.RemoteAddr)
		conn.Close()
	}
}

// authorized checks the OneBot access token, sent either as a bearer header
// or an access_token query parameter.
func (s *Server) authorized(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	if auth == "Bearer "+s.token || auth == "Token "+s.token {
		return true
	}
	return r.URL.Query().Get("access_token") == s.token
}

// gorillaConn adapts a gorilla conn to the Conn interface. Reads ignore the
// context; cancellation is delivered by closing the connection.
type gorillaConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *gorillaConn) Read(_ context.Context) ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *gorillaConn) Write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(deadline)
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *gorillaConn) Close() {
	c.conn.Close()
}
