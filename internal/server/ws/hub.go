// Package ws streams settlement lifecycle events to WebSocket clients by
// bridging the signal bus onto long-lived connections.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/quorumlabs/foresight/internal/domain"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	// Keepalive pings must fire well inside the pong window.
	pingEvery   = pongTimeout * 9 / 10
	readLimit   = 4096
	outboxDepth = 256
)

// busChannels are the signal bus channels the hub relays. Settlement
// lifecycle events all publish on "markets".
var busChannels = []string{"markets"}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin filtering happens in the CORS middleware; the upgrade itself
	// accepts any origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Config carries runtime metadata echoed to clients in the status frame
// sent on connect.
type Config struct {
	Mode      string
	StartedAt time.Time
}

// Hub fans signal bus messages out to every connected WebSocket session
// that is subscribed to the originating channel.
type Hub struct {
	bus       domain.SignalBus
	logger    *slog.Logger
	mode      string
	startedAt time.Time

	mu       sync.Mutex
	sessions map[*session]struct{}
	closed   bool
}

// NewHub creates a hub relaying the signal bus to WebSocket clients.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	h := &Hub{
		bus:       bus,
		logger:    logger,
		mode:      cfg.Mode,
		startedAt: cfg.StartedAt,
		sessions:  make(map[*session]struct{}),
	}
	if h.mode == "" {
		h.mode = "unknown"
	}
	if h.startedAt.IsZero() {
		h.startedAt = time.Now().UTC()
	}
	return h
}

// Run pumps every bus channel until the context is cancelled, then drops
// all connected sessions.
func (h *Hub) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, name := range busChannels {
		g.Go(func() error { return h.pump(ctx, name) })
	}
	err := g.Wait()

	h.mu.Lock()
	h.closed = true
	for s := range h.sessions {
		close(s.out)
		delete(h.sessions, s)
	}
	h.mu.Unlock()
	return err
}

// pump forwards one bus channel into the session set.
func (h *Hub) pump(ctx context.Context, channel string) error {
	msgs, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("ws: subscribe failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return err
	}
	h.logger.Info("ws: relaying channel", slog.String("channel", channel))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-msgs:
			if !ok {
				h.logger.Warn("ws: bus subscription closed",
					slog.String("channel", channel),
				)
				return nil
			}
			h.deliver(channel, data)
		}
	}
}

// deliver enqueues a message on every session subscribed to the channel.
// Sessions with a full outbox lose the message rather than stall the hub.
func (h *Hub) deliver(channel string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.sessions {
		if !s.wants(channel) {
			continue
		}
		select {
		case s.out <- data:
		default:
			h.logger.Warn("ws: dropping message for slow client")
		}
	}
}

func (h *Hub) attach(s *session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.sessions[s] = struct{}{}
	h.logger.Info("ws: client connected", slog.Int("total_clients", len(h.sessions)))
	return true
}

func (h *Hub) detach(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[s]; !ok {
		return
	}
	delete(h.sessions, s)
	close(s.out)
	h.logger.Info("ws: client disconnected", slog.Int("total_clients", len(h.sessions)))
}

// HandleWS upgrades the request and runs the session pumps.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	s := &session{
		hub:      h,
		conn:     conn,
		out:      make(chan []byte, outboxDepth),
		channels: make(map[string]struct{}, len(busChannels)),
	}
	for _, name := range busChannels {
		s.channels[name] = struct{}{}
	}

	if !h.attach(s) {
		conn.Close()
		return
	}
	s.greet()

	go s.writeLoop()
	go s.readLoop()
}

// session is one WebSocket connection with its channel subscriptions.
type session struct {
	hub  *Hub
	conn *websocket.Conn
	out  chan []byte

	mu       sync.Mutex
	channels map[string]struct{}
}

// controlFrame is the JSON frame clients send to adjust subscriptions.
type controlFrame struct {
	Action   string   `json:"action"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// wants reports whether the session subscribes to the channel, honoring a
// trailing-star wildcard such as "markets:*".
func (s *session) wants(channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[channel]; ok {
		return true
	}
	for name := range s.channels {
		if prefix, ok := strings.CutSuffix(name, "*"); ok && strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
}

func (s *session) apply(frame controlFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range frame.Channels {
		switch frame.Action {
		case "subscribe":
			s.channels[name] = struct{}{}
		case "unsubscribe":
			delete(s.channels, name)
		}
	}
}

// greet queues a status frame so clients can treat the socket as live
// before any settlement event arrives.
func (s *session) greet() {
	uptime := int64(time.Since(s.hub.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}
	frame, err := json.Marshal(map[string]any{
		"type": "status",
		"payload": map[string]any{
			"mode":           s.hub.mode,
			"ws_connected":   true,
			"uptime_seconds": uptime,
		},
	})
	if err != nil {
		return
	}
	select {
	case s.out <- frame:
	default:
	}
}

// readLoop consumes client frames, applying subscription changes and
// refreshing the read deadline on pongs.
func (s *session) readLoop() {
	defer func() {
		s.hub.detach(s)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(readLimit)
	s.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.hub.logger.Warn("ws: unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var frame controlFrame
		if json.Unmarshal(data, &frame) == nil && frame.Action != "" {
			s.apply(frame)
		}
	}
}

// writeLoop drains the outbox onto the wire and keeps the connection
// alive with pings.
func (s *session) writeLoop() {
	ticker := time.NewTicker(pingEvery)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.out:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
