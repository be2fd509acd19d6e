package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/coder/websocket"

	"github.com/dohr-michael/fintellix/internal/events"
	"github.com/dohr-michael/fintellix/internal/session"
	"github.com/dohr-michael/fintellix/internal/subjects"
	"github.com/dohr-michael/fintellix/internal/tasks"
)

// Controller is the part of session.Controller reachable over a socket.
type Controller interface {
	SubmitQuery(subject, text string) (session.SubmitResult, error)
	SubmitCompetitors(subject string, competitors []string) (session.SubmitResult, error)
	Poll(subject string) (tasks.Status, error)
}

const sendBuffer = 256

// Client represents a connected WebSocket client.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	mu    sync.Mutex
	watch subjects.Key // empty = every subject
}

func (c *Client) wants(subject string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.watch == "" || subject == "" || string(c.watch) == subject
}

// Hub manages WebSocket clients and bridges them to the event bus.
type Hub struct {
	mu          sync.RWMutex
	clients     map[*Client]struct{}
	bus         *events.Bus
	ctrl        Controller
	unsubscribe func()
}

// NewHub creates a hub streaming bus events. ctrl may be nil, in which case
// request frames are rejected.
func NewHub(bus *events.Bus, ctrl Controller) *Hub {
	h := &Hub{
		clients: make(map[*Client]struct{}),
		bus:     bus,
		ctrl:    ctrl,
	}

	h.unsubscribe = bus.Subscribe(func(e events.Event) {
		if data, ok := encodeEvent(e); ok {
			h.broadcast(e.Subject, data)
		}
	})

	return h
}

func encodeEvent(e events.Event) ([]byte, bool) {
	frame, err := NewEventFrame(string(e.Type), e.Subject, e)
	if err != nil {
		slog.Error("marshal event frame", "error", err)
		return nil, false
	}
	data, err := MarshalFrame(frame)
	if err != nil {
		slog.Error("marshal frame", "error", err)
		return nil, false
	}
	return data, true
}

// replay queues the last n remembered events the client watches.
func (h *Hub) replay(c *Client, n int) {
	for _, e := range h.bus.HistoryFor(n, events.Filter{Subject: string(c.watch)}) {
		data, ok := encodeEvent(e)
		if !ok {
			continue
		}
		select {
		case c.send <- data:
		default:
			return
		}
	}
}

// broadcast sends data to every client watching subject.
func (h *Hub) broadcast(subject string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if !c.wants(subject) {
			continue
		}
		select {
		case c.send <- data:
		default:
			// Client too slow, skip
		}
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	slog.Info("ws client connected", "clients", len(h.clients), "watch", c.watch)
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		slog.Info("ws client disconnected", "clients", len(h.clients))
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the connection. ?subject=XYZ limits the stream to one
// subject and ?replay=N first sends up to N remembered events.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	var watch subjects.Key
	if raw := r.URL.Query().Get("subject"); raw != "" {
		k, err := subjects.Normalize(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		watch = k
	}
	var replay int
	if raw := r.URL.Query().Get("replay"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "replay must be a non-negative integer", http.StatusBadRequest)
			return
		}
		replay = min(n, sendBuffer)
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // local control surface, any origin
	})
	if err != nil {
		slog.Error("ws accept", "error", err)
		return
	}

	client := &Client{
		conn:  conn,
		send:  make(chan []byte, sendBuffer),
		hub:   h,
		watch: watch,
	}
	if replay > 0 && h.bus != nil {
		h.replay(client, replay)
	}
	h.register(client)

	ctx := r.Context()
	go client.writePump(ctx)
	client.readPump(ctx)
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("ws read closed", "status", websocket.CloseStatus(err))
			} else {
				slog.Debug("ws read error", "error", err)
			}
			return
		}

		frame, err := UnmarshalFrame(data)
		if err != nil {
			slog.Error("ws unmarshal frame", "error", err)
			continue
		}
		if frame.Type != FrameTypeRequest {
			slog.Debug("ws unknown frame type", "type", frame.Type)
			continue
		}
		c.handleRequest(frame)
	}
}

type subjectParams struct {
	Subject     string   `json:"subject"`
	Text        string   `json:"text,omitempty"`
	Competitors []string `json:"competitors,omitempty"`
}

func (c *Client) handleRequest(frame Frame) {
	var params subjectParams
	if len(frame.Params) > 0 {
		if err := json.Unmarshal(frame.Params, &params); err != nil {
			c.sendError(frame.ID, "invalid params")
			return
		}
	}

	if Method(frame.Method) == MethodWatch {
		var watch subjects.Key
		if params.Subject != "" {
			k, err := subjects.Normalize(params.Subject)
			if err != nil {
				c.sendError(frame.ID, err.Error())
				return
			}
			watch = k
		}
		c.mu.Lock()
		c.watch = watch
		c.mu.Unlock()
		c.sendOK(frame.ID, map[string]string{"watch": string(watch)})
		return
	}

	ctrl := c.hub.ctrl
	if ctrl == nil {
		c.sendError(frame.ID, "requests not available")
		return
	}

	var (
		payload any
		err     error
	)
	switch Method(frame.Method) {
	case MethodSubmitQuery:
		payload, err = ctrl.SubmitQuery(params.Subject, params.Text)
	case MethodSubmitCompetitors:
		payload, err = ctrl.SubmitCompetitors(params.Subject, params.Competitors)
	case MethodPollSubject:
		payload, err = ctrl.Poll(params.Subject)
	default:
		c.sendError(frame.ID, "unknown method: "+frame.Method)
		return
	}
	if err != nil {
		c.sendError(frame.ID, err.Error())
		return
	}
	c.sendOK(frame.ID, payload)
}

func (c *Client) writePump(ctx context.Context) {
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) sendOK(id string, payload any) {
	c.reply(NewResponseFrame(id, true, payload, ""))
}

func (c *Client) sendError(id string, errMsg string) {
	c.reply(NewResponseFrame(id, false, nil, errMsg))
}

func (c *Client) reply(f Frame, err error) {
	if err != nil {
		return
	}
	data, err := MarshalFrame(f)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// Close shuts down the hub and all client connections.
func (h *Hub) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close(websocket.StatusGoingAway, "server shutdown")
		delete(h.clients, c)
		close(c.send)
	}
}
