package onebot

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

// Conn is one live OneBot connection, either direction.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close()
}

// Transport produces live connections: dialing forward or accepting reverse.
type Transport interface {
	Connect(ctx context.Context) (Conn, error)
}

// Dialer connects to a NapCat forward WebSocket endpoint.
type Dialer struct {
	URL   string
	Token string
}

func (d *Dialer) Connect(ctx context.Context) (Conn, error) {
	headers := http.Header{}
	if d.Token != "" {
		headers.Set("Authorization", "Bearer "+d.Token)
	}

	conn, _, err := websocket.Dial(ctx, d.URL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return nil, fmt.Errorf("onebot: ws dial %s: %w", d.URL, err)
	}
	conn.SetReadLimit(1 << 20) // 1MB
	return &wsConn{conn: conn}, nil
}

// wsConn wraps coder/websocket with a thread-safe write method.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close() {
	c.conn.Close(websocket.StatusNormalClosure, "")
}
