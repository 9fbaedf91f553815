package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/savepop/savepop/internal/app/events"
	"github.com/savepop/savepop/internal/app/system"
	"github.com/savepop/savepop/internal/errors"
	"github.com/savepop/savepop/pkg/logger"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = (pongWait * 9) / 10
	sendBuffer  = 256
	eventBuffer = 1024

	// ReadyEvent is the first message on every stream. Events published after
	// a client has read it are guaranteed to reach that client.
	ReadyEvent = "stream.ready"
)

// Hub fans domain events out to websocket clients. Users receive their own
// goal, grid and quest events; veto court events go to everyone.
type Hub struct {
	upgrader websocket.Upgrader
	log      *logger.Logger

	register   chan *client
	unregister chan *client
	broadcast  chan events.Event
	clients    map[*client]struct{}

	mu      sync.Mutex
	running bool
	done    chan struct{}
	stopped chan struct{}
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	send   chan []byte
}

var (
	_ events.Publisher = (*Hub)(nil)
	_ system.Service   = (*Hub)(nil)
)

// NewHub builds a hub. Call Start before serving websocket clients.
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.NewDefault("stream")
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log:        log,
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan events.Event, eventBuffer),
		clients:    make(map[*client]struct{}),
	}
}

func (h *Hub) Name() string { return "event-hub" }

func (h *Hub) Start(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return nil
	}
	h.done = make(chan struct{})
	h.stopped = make(chan struct{})
	h.running = true
	go h.run(h.done, h.stopped)
	return nil
}

func (h *Hub) Stop(ctx context.Context) error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return nil
	}
	h.running = false
	close(h.done)
	stopped := h.stopped
	h.mu.Unlock()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish queues evt for delivery. A full queue drops the event.
func (h *Hub) Publish(_ context.Context, evt events.Event) {
	select {
	case h.broadcast <- evt:
	default:
		h.log.WithField("type", evt.Type).Warn("event queue full; dropping event")
	}
}

func (h *Hub) run(done, stopped chan struct{}) {
	defer close(stopped)
	for {
		select {
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.log.WithField("user_id", c.userID).WithField("clients", len(h.clients)).Debug("stream client connected")

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}

		case evt := <-h.broadcast:
			payload, err := json.Marshal(evt)
			if err != nil {
				h.log.WithError(err).WithField("type", evt.Type).Warn("encode event")
				continue
			}
			for c := range h.clients {
				if !deliverable(evt, c.userID) {
					continue
				}
				select {
				case c.send <- payload:
				default:
					delete(h.clients, c)
					close(c.send)
				}
			}

		case <-done:
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			return
		}
	}
}

func deliverable(evt events.Event, userID string) bool {
	if strings.HasPrefix(evt.Type, "veto.") {
		return true
	}
	return evt.UserID == userID
}

// ServeWS upgrades an authenticated request and streams events to it.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())
	if userID == "" {
		writeError(w, errors.Unauthenticated(""))
		return
	}

	h.mu.Lock()
	running, done := h.running, h.done
	h.mu.Unlock()
	if !running {
		writeError(w, errors.Internal("event stream not running", nil))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	c := &client{hub: h, conn: conn, userID: userID, send: make(chan []byte, sendBuffer)}

	if ready, err := json.Marshal(events.New(ReadyEvent, userID, map[string]string{"user_id": userID})); err == nil {
		c.send <- ready
	}

	select {
	case h.register <- c:
	case <-done:
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump(done)
}

// readPump drains client frames so pongs and close messages are processed.
func (c *client) readPump(done chan struct{}) {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.WithError(err).Debug("websocket closed unexpectedly")
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
