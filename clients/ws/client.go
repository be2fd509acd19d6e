// Package ws provides a WebSocket client for the fintellix gateway.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"sync/atomic"

	"github.com/coder/websocket"

	wsprotocol "github.com/dohr-michael/fintellix/internal/gateway/ws"
)

// Client is a WebSocket client for the fintellix gateway.
type Client struct {
	conn   *websocket.Conn
	reqSeq uint64
	ctx    context.Context
	cancel context.CancelFunc
}

// Options tune the event stream of a connection.
type Options struct {
	// Subject limits events to one subject. Empty streams every subject.
	Subject string
	// Replay asks for up to this many remembered events before live ones.
	Replay int
}

// Dial connects to the gateway WebSocket endpoint.
func Dial(ctx context.Context, endpoint string, opts Options) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse gateway url: %w", err)
	}
	q := u.Query()
	if opts.Subject != "" {
		q.Set("subject", opts.Subject)
	}
	if opts.Replay > 0 {
		q.Set("replay", strconv.Itoa(opts.Replay))
	}
	u.RawQuery = q.Encode()
	endpoint = u.String()

	conn, _, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("ws dial: %w", err)
	}

	clientCtx, cancel := context.WithCancel(ctx)
	return &Client{
		conn:   conn,
		ctx:    clientCtx,
		cancel: cancel,
	}, nil
}

// Request sends a request frame and returns its id.
func (c *Client) Request(method wsprotocol.Method, params any) (string, error) {
	seq := atomic.AddUint64(&c.reqSeq, 1)
	raw, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("marshal params: %w", err)
	}

	frame := wsprotocol.Frame{
		Type:   wsprotocol.FrameTypeRequest,
		ID:     fmt.Sprintf("req-%d", seq),
		Method: string(method),
		Params: raw,
	}
	data, err := wsprotocol.MarshalFrame(frame)
	if err != nil {
		return "", err
	}
	if err := c.conn.Write(c.ctx, websocket.MessageText, data); err != nil {
		return "", err
	}
	return frame.ID, nil
}

// SubmitQuery asks the gateway to queue a query for subject.
func (c *Client) SubmitQuery(subject, text string) (string, error) {
	return c.Request(wsprotocol.MethodSubmitQuery, map[string]string{"subject": subject, "text": text})
}

// Watch switches the event stream to subject, or to every subject when empty.
func (c *Client) Watch(subject string) (string, error) {
	return c.Request(wsprotocol.MethodWatch, map[string]string{"subject": subject})
}

// Poll requests the job status of subject.
func (c *Client) Poll(subject string) (string, error) {
	return c.Request(wsprotocol.MethodPollSubject, map[string]string{"subject": subject})
}

// ReadFrame reads the next frame from the connection.
func (c *Client) ReadFrame() (wsprotocol.Frame, error) {
	_, data, err := c.conn.Read(c.ctx)
	if err != nil {
		return wsprotocol.Frame{}, err
	}
	return wsprotocol.UnmarshalFrame(data)
}

// Close gracefully closes the connection.
func (c *Client) Close() error {
	c.cancel()
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}
