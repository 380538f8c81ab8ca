package render

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wrale/wrale-signage-player/api/types/v1alpha1"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/errors"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/playback"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096
)

// MediaPathPrefix is where the control API serves cached files
const MediaPathPrefix = "/media/"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// checkOrigin accepts same-host pages and local files
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return u.Host == r.Host
}

// connection is a middleman between the websocket connection and the hub
type connection struct {
	id     uuid.UUID
	ws     *websocket.Conn
	send   chan []byte
	hub    *Hub
	logger *slog.Logger
}

// cleanup handles proper connection closure and cleanup
func (c *connection) cleanup() {
	select {
	case c.hub.unregister <- c:
	case <-c.hub.done:
	}

	if err := c.ws.Close(); err != nil {
		c.logger.Debug("error closing websocket connection", "error", err, "connectionId", c.id)
	}
}

func (c *connection) readPump() {
	defer c.cleanup()

	c.ws.SetReadLimit(maxMessageSize)
	if err := c.ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error("failed to set read deadline", "error", err, "connectionId", c.id)
		return
	}

	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Error("websocket read error", "error", err, "connectionId", c.id)
			}
			break
		}

		var msg v1alpha1.RenderMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.logger.Error("invalid renderer message", "error", err, "connectionId", c.id)
			continue
		}

		switch msg.Type {
		case v1alpha1.RenderMessageMediaEnded, v1alpha1.RenderMessageMediaError:
			if msg.Type == v1alpha1.RenderMessageMediaError && msg.Error != nil {
				c.logger.Warn("renderer reported media error",
					"section", msg.SectionID, "code", msg.Error.Code, "message", msg.Error.Message)
			}
			c.hub.notify(msg.SectionID, msg.Token, msg.Type)
		default:
			c.logger.Error("unexpected message type", "type", msg.Type, "connectionId", c.id)
		}
	}
}

func (c *connection) write(mt int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(mt, payload)
}

func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				_ = c.write(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.write(websocket.TextMessage, message); err != nil {
				c.logger.Error("failed to write message", "error", err, "connectionId", c.id)
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, []byte{}); err != nil {
				c.logger.Debug("failed to write ping", "error", err, "connectionId", c.id)
				return
			}
		}
	}
}

// Hub is a renderer that forwards frames to every connected browser page.
// Pages that connect late receive the current frames immediately.
type Hub struct {
	// Registered connections
	connections map[*connection]bool

	// Register requests from the connections
	register chan *connection

	// Unregister requests from connections
	unregister chan *connection

	// Outbound messages for all connections
	broadcast chan []byte

	done   chan struct{}
	count  atomic.Int32
	logger *slog.Logger

	mu          sync.Mutex
	frames      map[string]v1alpha1.RenderMessage
	paused      map[string]bool
	orientation v1alpha1.Orientation
	notifier    Notifier
}

var _ playback.Renderer = (*Hub)(nil)

// NewHub creates a hub; Run must be called before frames are sent
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		broadcast:   make(chan []byte, 64),
		register:    make(chan *connection),
		unregister:  make(chan *connection),
		connections: make(map[*connection]bool),
		done:        make(chan struct{}),
		logger:      logger,
		frames:      make(map[string]v1alpha1.RenderMessage),
		paused:      make(map[string]bool),
	}
}

// Attach sets the receiver of renderer callbacks
func (h *Hub) Attach(n Notifier) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notifier = n
}

func (h *Hub) notify(sectionID string, token uint64, event v1alpha1.RenderMessageType) {
	h.mu.Lock()
	n := h.notifier
	h.mu.Unlock()
	if n != nil {
		n.Notify(sectionID, token, event)
	}
}

// Run serves register, unregister and broadcast requests until ctx is done
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for c := range h.connections {
				close(c.send)
				delete(h.connections, c)
			}
			h.count.Store(0)
			return
		case c := <-h.register:
			h.connections[c] = true
			h.count.Store(int32(len(h.connections)))
			h.logger.Info("renderer connected", "connectionId", c.id, "connections", len(h.connections))
			for _, m := range h.replay() {
				select {
				case c.send <- m:
				default:
				}
			}
		case c := <-h.unregister:
			if _, ok := h.connections[c]; ok {
				delete(h.connections, c)
				close(c.send)
				h.count.Store(int32(len(h.connections)))
				h.logger.Info("renderer disconnected", "connectionId", c.id, "connections", len(h.connections))
			}
		case m := <-h.broadcast:
			for c := range h.connections {
				select {
				case c.send <- m:
				default:
					close(c.send)
					delete(h.connections, c)
					h.count.Store(int32(len(h.connections)))
				}
			}
		}
	}
}

// Connections returns the number of connected renderers
func (h *Hub) Connections() int {
	return int(h.count.Load())
}

// replay returns the messages that reproduce the current screen
func (h *Hub) replay() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out [][]byte
	if h.orientation != "" {
		if data, err := json.Marshal(newMessage(v1alpha1.RenderMessageOrientation, "", func(m *v1alpha1.RenderMessage) {
			m.Orientation = h.orientation
		})); err == nil {
			out = append(out, data)
		}
	}

	ids := make([]string, 0, len(h.frames))
	for id := range h.frames {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if data, err := json.Marshal(h.frames[id]); err == nil {
			out = append(out, data)
		}
		if h.paused[id] {
			if data, err := json.Marshal(newMessage(v1alpha1.RenderMessagePause, id, nil)); err == nil {
				out = append(out, data)
			}
		}
	}
	return out
}

func newMessage(t v1alpha1.RenderMessageType, sectionID string, fill func(*v1alpha1.RenderMessage)) v1alpha1.RenderMessage {
	m := v1alpha1.RenderMessage{
		TypeMeta: v1alpha1.TypeMeta{
			Kind:       "RenderMessage",
			APIVersion: v1alpha1.APIVersion,
		},
		Type:      t,
		SectionID: sectionID,
		Timestamp: time.Now(),
	}
	if fill != nil {
		fill(&m)
	}
	return m
}

func (h *Hub) send(m v1alpha1.RenderMessage) error {
	const op = "Hub.send"

	data, err := json.Marshal(m)
	if err != nil {
		return errors.NewError("ENCODE_FAILED", "failed to marshal render message", op, err)
	}
	select {
	case h.broadcast <- data:
		return nil
	case <-h.done:
		return errors.NewError("UNAVAILABLE", "renderer hub stopped", op, errors.ErrUnavailable)
	}
}

// Show implements playback.Renderer. Local paths are rewritten to URLs
// served under MediaPathPrefix.
func (h *Hub) Show(sectionID string, token uint64, frame v1alpha1.FramePayload) error {
	frame.URI = MediaURI(frame.URI)
	m := newMessage(v1alpha1.RenderMessageShow, sectionID, func(m *v1alpha1.RenderMessage) {
		m.Token = token
		m.Frame = &frame
	})

	h.mu.Lock()
	h.frames[sectionID] = m
	delete(h.paused, sectionID)
	h.mu.Unlock()

	return h.send(m)
}

func (h *Hub) Pause(sectionID string) error {
	h.mu.Lock()
	h.paused[sectionID] = true
	h.mu.Unlock()
	return h.send(newMessage(v1alpha1.RenderMessagePause, sectionID, nil))
}

func (h *Hub) Resume(sectionID string) error {
	h.mu.Lock()
	delete(h.paused, sectionID)
	h.mu.Unlock()
	return h.send(newMessage(v1alpha1.RenderMessageResume, sectionID, nil))
}

func (h *Hub) Clear(sectionID string) error {
	h.mu.Lock()
	delete(h.frames, sectionID)
	delete(h.paused, sectionID)
	h.mu.Unlock()
	return h.send(newMessage(v1alpha1.RenderMessageClear, sectionID, nil))
}

func (h *Hub) SetOrientation(o v1alpha1.Orientation) error {
	h.mu.Lock()
	h.orientation = o
	h.mu.Unlock()
	return h.send(newMessage(v1alpha1.RenderMessageOrientation, "", func(m *v1alpha1.RenderMessage) {
		m.Orientation = o
	}))
}

// MediaURI maps a cached file path to the URL the control API serves it at
func MediaURI(localPath string) string {
	if localPath == "" {
		return ""
	}
	return MediaPathPrefix + url.PathEscape(filepath.Base(localPath))
}

// ServeWs upgrades a renderer page to a websocket
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "renderer hub stopped", http.StatusServiceUnavailable)
		return
	default:
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &connection{
		id:     uuid.New(),
		send:   make(chan []byte, 256),
		ws:     ws,
		hub:    h,
		logger: h.logger,
	}

	select {
	case h.register <- c:
	case <-h.done:
		_ = ws.Close()
		return
	}

	go c.writePump()
	c.readPump()
}
