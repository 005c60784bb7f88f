package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/scanquest/scanquest-server-go/internal/config"
	"github.com/scanquest/scanquest-server-go/internal/game/events"
	"github.com/scanquest/scanquest-server-go/internal/session"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// WSMessage is one frame pushed to a browser.
type WSMessage struct {
	Type      string    `json:"type"`
	CardID    string    `json:"card_id,omitempty"`
	Field     string    `json:"field,omitempty"`
	Amount    int       `json:"amount,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type wsClient struct {
	conn      *websocket.Conn
	send      chan []byte
	sessionID string
	userID    string
}

// Hub fans game events out to the WebSocket clients of the player they
// concern. Events are queued without blocking the publisher; a client that
// cannot keep up is dropped.
type Hub struct {
	sessions *session.Manager
	upgrader websocket.Upgrader
	logger   *zap.Logger

	clients    map[*wsClient]bool
	register   chan *wsClient
	unregister chan *wsClient
	events     chan events.Event
	count      chan chan int
	drop       chan string
	done       chan struct{}
}

// NewHub creates a hub. allowedOrigins restricts browser origins; empty
// allows any.
func NewHub(sessions *session.Manager, allowedOrigins []string, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Hub{
		sessions: sessions,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				return allowed[r.Header.Get("Origin")]
			},
		},
		logger:     logger,
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		events:     make(chan events.Event, 256),
		count:      make(chan chan int),
		drop:       make(chan string),
		done:       make(chan struct{}),
	}
}

// Attach subscribes the hub to bus and disconnects clients whose session
// ends.
func (h *Hub) Attach(bus *events.Bus) int {
	h.sessions.OnClose(func(s *session.Session) { h.Drop(s.ID) })
	return bus.Subscribe(h.Enqueue)
}

// Drop disconnects every client of sessionID.
func (h *Hub) Drop(sessionID string) {
	select {
	case h.drop <- sessionID:
	case <-h.done:
	}
}

// Enqueue queues evt for delivery and never blocks.
func (h *Hub) Enqueue(evt events.Event) {
	select {
	case h.events <- evt:
	default:
		h.logger.Debug("websocket queue full, dropping event", zap.String("kind", string(evt.Kind)))
	}
}

// Run delivers events until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			return

		case c := <-h.register:
			if _, ok := h.sessions.GetSession(c.sessionID); !ok {
				close(c.send)
				continue
			}
			h.clients[c] = true
			h.logger.Debug("websocket client registered", zap.String("session_id", c.sessionID))

		case id := <-h.drop:
			for c := range h.clients {
				if c.sessionID == id {
					delete(h.clients, c)
					close(c.send)
					h.logger.Debug("websocket client dropped, session ended", zap.String("session_id", id))
				}
			}

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.logger.Debug("websocket client unregistered", zap.String("session_id", c.sessionID))
			}

		case evt := <-h.events:
			msg, err := json.Marshal(messageFor(evt))
			if err != nil {
				h.logger.Warn("failed to encode event", zap.Error(err))
				continue
			}
			for c := range h.clients {
				if c.userID != evt.UserID {
					continue
				}
				select {
				case c.send <- msg:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}

		case reply := <-h.count:
			reply <- len(h.clients)
		}
	}
}

// Clients returns the number of connected clients. Run must be active.
func (h *Hub) Clients(ctx context.Context) int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-ctx.Done():
		return 0
	case <-h.done:
		return 0
	}
}

func messageFor(evt events.Event) WSMessage {
	return WSMessage{
		Type:      string(evt.Kind),
		CardID:    evt.CardID,
		Field:     evt.Field,
		Amount:    evt.Amount,
		Data:      evt.Payload,
		Timestamp: evt.Timestamp,
	}
}

// ServeHTTP upgrades /ws?session=<id> and sends the current player state
// first.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.sessions.GetSession(r.URL.Query().Get("session"))
	if !ok {
		http.Error(w, "unknown session", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &wsClient{
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		sessionID: sess.ID,
		userID:    sess.UserID,
	}
	initial := events.New(events.KindPlayerState, sess.UserID, "")
	initial.Payload = sess.State()
	if msg, err := json.Marshal(messageFor(initial)); err == nil {
		c.send <- msg
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) readPump(c *wsClient) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		// Clients only send keepalives; any frame counts as activity.
		h.logger.Debug("websocket message", zap.String("session_id", c.sessionID), zap.Int("bytes", len(raw)))
		h.sessions.UpdateActivity(c.sessionID)
	}
}

func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// StartWebSocketServer serves the hub on cfg.Address until ctx is done.
func StartWebSocketServer(ctx context.Context, cfg config.WebSocketConfig, hub *Hub, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              cfg.Address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("starting WebSocket server", zap.String("address", cfg.Address))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
