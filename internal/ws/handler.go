package ws

import (
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"gridclash/internal/broadcast"
)

// Handler upgrades HTTP requests to websocket connections and feeds their messages
// to the router.
type Handler struct {
	router     *Router
	hub        *broadcast.Hub
	upgrader   websocket.Upgrader
	sendBuffer int
	logger     *zap.Logger
}

// Options configures the websocket endpoint.
type Options struct {
	// AllowedOrigins restricts browser origins; empty allows any.
	AllowedOrigins []string
	// SendBuffer is the number of events queued per connection before drops.
	SendBuffer int
}

// NewHandler creates a new WebSocket handler.
func NewHandler(router *Router, hub *broadcast.Hub, opts Options, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	allowed := slices.Clone(opts.AllowedOrigins)
	return &Handler{
		router: router,
		hub:    hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || slices.Contains(allowed, origin)
			},
		},
		sendBuffer: opts.SendBuffer,
		logger:     logger,
	}
}

// RegisterRoutes sets up the WebSocket routes.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", h.handleWebSocket)
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("upgrade failed", zap.Error(err))
		return
	}

	c := newClient(uuid.NewString(), conn, h.sendBuffer, h.logger)
	h.hub.Register(c.id, c)
	defer h.router.Disconnect(c.id)
	defer c.close()
	go c.writePump()

	c.logger.Debug("connection opened", zap.String("remote", r.RemoteAddr))

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	ctx := r.Context()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("read failed", zap.Error(err))
			}
			return
		}
		h.router.Handle(ctx, c.id, data)
	}
}
