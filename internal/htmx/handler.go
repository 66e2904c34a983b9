package htmx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/a-h/templ"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"gridclash/internal/broadcast"
	"gridclash/internal/game"
)

// ErrSlowConsumer is returned to the hub when a spectator stream falls behind.
var ErrSlowConsumer = errors.New("spectator stream is full")

const streamBuffer = 16

// Handler serves read-only spectator pages with SSE for real-time updates.
type Handler struct {
	games  *game.Service
	hub    *broadcast.Hub
	logger *zap.Logger
}

// NewHandler creates a new HTMX handler.
func NewHandler(games *game.Service, hub *broadcast.Hub, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{games: games, hub: hub, logger: logger}
}

// RegisterRoutes sets up the HTMX routes.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /watch/{gameID}", h.handlePage)
	mux.HandleFunc("GET /watch/{gameID}/events", h.handleSSE)
}

// stream is a hub connection that hands events to an SSE response.
type stream struct {
	ch chan broadcast.Event
}

func (s *stream) Send(ev broadcast.Event) error {
	select {
	case s.ch <- ev:
		return nil
	default:
		return ErrSlowConsumer
	}
}

func (h *Handler) handlePage(w http.ResponseWriter, r *http.Request) {
	g, err := h.games.Get(r.Context(), r.PathValue("gameID"))
	if err != nil {
		h.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := GamePage(g, r.URL.Query().Get("as")).Render(r.Context(), w); err != nil {
		h.logger.Debug("render page", zap.Error(err))
	}
}

func (h *Handler) handleSSE(w http.ResponseWriter, r *http.Request) {
	gameID := r.PathValue("gameID")
	viewer := r.URL.Query().Get("as")
	g, err := h.games.Get(r.Context(), gameID)
	if err != nil {
		h.fail(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	st := &stream{ch: make(chan broadcast.Event, streamBuffer)}
	connID := "sse-" + uuid.NewString()
	h.hub.Register(connID, st)
	defer h.hub.Unregister(connID)
	if err := h.hub.Subscribe(connID, broadcast.GameChannel(gameID)); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Send initial state
	writeEvent(w, "game-update", renderToString(r.Context(), GameContent(g, viewer)))
	flusher.Flush()

	for {
		select {
		case ev := <-st.ch:
			switch ev.Type {
			case broadcast.EventGameUpdated:
				update, ok := ev.Data.(broadcast.GameUpdate)
				if !ok {
					continue
				}
				writeEvent(w, "game-update", renderToString(r.Context(), GameContent(update.Session, viewer)))
			case broadcast.EventReactionReceived:
				reaction, ok := ev.Data.(broadcast.Reaction)
				if !ok {
					continue
				}
				writeEvent(w, "reaction", renderToString(r.Context(), ReactionLine(reaction.SenderName, reaction.Emoji)))
			case broadcast.EventGameDeleted:
				writeEvent(w, "game-deleted", gameID)
				flusher.Flush()
				return
			default:
				continue
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if game.KindOf(err) == game.KindNotFound {
		http.Error(w, "game not found", http.StatusNotFound)
		return
	}
	h.logger.Error("load game", zap.Error(err))
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeEvent(w http.ResponseWriter, name, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, strings.ReplaceAll(data, "\n", ""))
}

func renderToString(ctx context.Context, component templ.Component) string {
	var buf bytes.Buffer
	component.Render(ctx, &buf)
	return buf.String()
}
