package onebot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	defaultAPITimeout = 30 * time.Second
	maxBackoff        = 30 * time.Second
)

// Client multiplexes API calls and event delivery over one OneBot
// connection, reconnecting through its Transport when the link drops. API
// responses are matched to requests by uuid echo.
type Client struct {
	transport  Transport
	onEvent    func(Event)
	apiTimeout time.Duration
	limiter    *rate.Limiter

	connMu sync.RWMutex
	conn   Conn

	mu      sync.Mutex
	pending map[string]chan apiResponse
}

type ClientConfig struct {
	Transport  Transport
	OnEvent    func(Event)   // message and notice events; heartbeats are swallowed
	SendRPM    int           // outbound send pacing; 0 disables
	APITimeout time.Duration // per-call deadline, default 30s
}

func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		transport:  cfg.Transport,
		onEvent:    cfg.OnEvent,
		apiTimeout: cfg.APITimeout,
		pending:    make(map[string]chan apiResponse),
	}
	if c.apiTimeout <= 0 {
		c.apiTimeout = defaultAPITimeout
	}
	if cfg.SendRPM > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.SendRPM)), 5)
	}
	return c
}

// Run connects and pumps frames until ctx is cancelled, reconnecting with
// capped backoff after connection loss.
func (c *Client) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := c.transport.Connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("onebot connect failed", "error", err, "retry_in", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
		c.setConn(conn)
		slog.Info("onebot connected")

		err = c.pump(ctx, conn)
		c.setConn(nil)
		conn.Close()
		c.failPending()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("onebot connection lost", "error", err)
	}
}

// Close drops the current connection, unblocking Run's read loop.
func (c *Client) Close() {
	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (c *Client) pump(ctx context.Context, conn Conn) error {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		c.dispatch(data)
	}
}

// dispatch routes one frame: an echo marks an API response, anything else
// is an event.
func (c *Client) dispatch(data []byte) {
	var probe struct {
		Echo     string `json:"echo"`
		PostType string `json:"post_type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		slog.Debug("unparseable frame", "error", err)
		return
	}

	if probe.Echo != "" {
		var resp apiResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			slog.Warn("bad api response", "error", err)
			return
		}
		c.mu.Lock()
		ch := c.pending[resp.Echo]
		delete(c.pending, resp.Echo)
		c.mu.Unlock()
		if ch != nil {
			ch <- resp
		}
		return
	}

	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		slog.Warn("bad event frame", "error", err)
		return
	}
	switch ev.PostType {
	case "message", "notice":
		if c.onEvent != nil {
			c.onEvent(ev)
		}
	case "meta_event":
		// heartbeats
	default:
		slog.Debug("event ignored", "post_type", ev.PostType)
	}
}

func (c *Client) setConn(conn Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
}

func (c *Client) currentConn() (Conn, error) {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	if c.conn == nil {
		return nil, errors.New("onebot: not connected")
	}
	return c.conn, nil
}

// failPending closes all in-flight call channels after connection loss.
func (c *Client) failPending() {
	c.mu.Lock()
	for echo, ch := range c.pending {
		delete(c.pending, echo)
		close(ch)
	}
	c.mu.Unlock()
}

// call sends one API request and waits for its echoed response.
func (c *Client) call(ctx context.Context, action string, params interface{}, out interface{}) error {
	conn, err := c.currentConn()
	if err != nil {
		return err
	}

	echo := uuid.NewString()
	frame, err := json.Marshal(apiRequest{Action: action, Params: params, Echo: echo})
	if err != nil {
		return fmt.Errorf("onebot: encode %s: %w", action, err)
	}

	ch := make(chan apiResponse, 1)
	c.mu.Lock()
	c.pending[echo] = ch
	c.mu.Unlock()
	cleanup := func() {
		c.mu.Lock()
		delete(c.pending, echo)
		c.mu.Unlock()
	}

	ctx, cancel := context.WithTimeout(ctx, c.apiTimeout)
	defer cancel()

	if err := conn.Write(ctx, frame); err != nil {
		cleanup()
		return fmt.Errorf("onebot: %s: %w", action, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return fmt.Errorf("onebot: %s: connection closed", action)
		}
		// retcode 1 is the async-accepted status
		if resp.Status == "failed" || (resp.Retcode != 0 && resp.Retcode != 1) {
			msg := resp.Message
			if msg == "" {
				msg = resp.Wording
			}
			return fmt.Errorf("onebot: %s failed: retcode %d %s", action, resp.Retcode, msg)
		}
		if out != nil && len(resp.Data) > 0 {
			if err := json.Unmarshal(resp.Data, out); err != nil {
				return fmt.Errorf("onebot: decode %s response: %w", action, err)
			}
		}
		return nil
	case <-ctx.Done():
		cleanup()
		return fmt.Errorf("onebot: %s: %w", action, ctx.Err())
	}
}

// pace throttles outbound sends when a limiter is configured.
func (c *Client) pace(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// SendGroupMsg sends plain text to a group.
func (c *Client) SendGroupMsg(ctx context.Context, groupID int64, text string) (int64, error) {
	if err := c.pace(ctx); err != nil {
		return 0, err
	}
	var out struct {
		MessageID int64 `json:"message_id"`
	}
	params := map[string]interface{}{
		"group_id": groupID,
		"message":  []Segment{Text(text)},
	}
	if err := c.call(ctx, "send_group_msg", params, &out); err != nil {
		return 0, err
	}
	return out.MessageID, nil
}

// SendPrivateMsg sends plain text to a friend.
func (c *Client) SendPrivateMsg(ctx context.Context, userID int64, text string) (int64, error) {
	if err := c.pace(ctx); err != nil {
		return 0, err
	}
	var out struct {
		MessageID int64 `json:"message_id"`
	}
	params := map[string]interface{}{
		"user_id": userID,
		"message": []Segment{Text(text)},
	}
	if err := c.call(ctx, "send_private_msg", params, &out); err != nil {
		return 0, err
	}
	return out.MessageID, nil
}

// SendToSource routes text to a chat identified by source type and id.
func (c *Client) SendToSource(ctx context.Context, sourceType, id, text string) error {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return fmt.Errorf("onebot: bad source id %q: %w", id, err)
	}
	switch sourceType {
	case "group":
		_, err = c.SendGroupMsg(ctx, n, text)
	case "private":
		_, err = c.SendPrivateMsg(ctx, n, text)
	default:
		err = fmt.Errorf("onebot: unknown source type %q", sourceType)
	}
	return err
}

// GetMsg fetches a message by id, used to render reply references.
func (c *Client) GetMsg(ctx context.Context, messageID int64) (*Message, error) {
	var out Message
	if err := c.call(ctx, "get_msg", map[string]interface{}{"message_id": messageID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetFriendList(ctx context.Context) ([]Friend, error) {
	var out []Friend
	if err := c.call(ctx, "get_friend_list", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetGroupList(ctx context.Context) ([]Group, error) {
	var out []Group
	if err := c.call(ctx, "get_group_list", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetGroupFileURL resolves a downloadable URL for a group file.
func (c *Client) GetGroupFileURL(ctx context.Context, groupID int64, fileID string) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	params := map[string]interface{}{"group_id": groupID, "file_id": fileID}
	if err := c.call(ctx, "get_group_file_url", params, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

// GetPrivateFileURL resolves a downloadable URL for a private file.
func (c *Client) GetPrivateFileURL(ctx context.Context, userID int64, fileID string) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	params := map[string]interface{}{"user_id": userID, "file_id": fileID}
	if err := c.call(ctx, "get_private_file_url", params, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

// UploadPrivateFile pushes a local file to a friend chat.
func (c *Client) UploadPrivateFile(ctx context.Context, userID int64, path, name string) error {
	if err := c.pace(ctx); err != nil {
		return err
	}
	params := map[string]interface{}{"user_id": userID, "file": path, "name": name}
	return c.call(ctx, "upload_private_file", params, nil)
}
