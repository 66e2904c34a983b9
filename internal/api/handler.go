package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"gridclash/internal/broadcast"
	"gridclash/internal/game"
	"gridclash/internal/invite"
	"gridclash/internal/models"
	"gridclash/internal/storage"
)

// PlayerHeader carries the caller's identity.
const PlayerHeader = "X-Player-ID"

const maxBodySize = 16 << 10

var (
	errNoIdentity = errors.New("missing " + PlayerHeader + " header")
	errBadBody    = errors.New("invalid request body")
	errBadQuery   = errors.New("invalid query")
)

// Handler serves the REST side of the game: the lobby, session lifecycle and stats.
// Every mutation is announced on the hub like its websocket counterpart.
type Handler struct {
	games    *game.Service
	announce *broadcast.Announcer
	invites  *invite.Coordinator
	validate *validator.Validate
	logger   *zap.Logger
}

// NewHandler creates a new handler
func NewHandler(games *game.Service, announce *broadcast.Announcer, invites *invite.Coordinator, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		games:    games,
		announce: announce,
		invites:  invites,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// RegisterRoutes sets up the routes
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/games", h.handleCreateGame)
	mux.HandleFunc("GET /api/games", h.handleListGames)
	mux.HandleFunc("GET /api/games/{id}", h.handleGetGame)
	mux.HandleFunc("GET /api/games/{id}/moves", h.handleMoves)
	mux.HandleFunc("POST /api/games/{id}/join", h.handleJoinGame)
	mux.HandleFunc("DELETE /api/games/{id}", h.handleLeaveGame)
	mux.HandleFunc("GET /api/players/{id}/stats", h.handleStats)
}

type createRequest struct {
	VsAI         bool              `json:"vsAI"`
	Difficulty   models.Difficulty `json:"difficulty" validate:"omitempty,oneof=easy medium hard"`
	Mode         models.Mode       `json:"mode" validate:"omitempty,max=16"`
	BoardSize    int               `json:"boardSize" validate:"omitempty,oneof=3 4 5 7"`
	TurnDuration int               `json:"turnDuration" validate:"min=0,max=3600"`
	DecayTurns   int               `json:"decayTurns" validate:"min=0,max=64"`
}

type listQuery struct {
	Status models.Status `validate:"omitempty,oneof=waiting in_progress completed"`
	Player string        `validate:"max=64"`
	Limit  int           `validate:"min=0,max=200"`
}

type errorResponse struct {
	Message string `json:"message"`
	Kind    string `json:"kind"`
}

func (h *Handler) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	player, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req createRequest
	if err := h.decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}

	s, err := h.games.Create(r.Context(), game.CreateParams{
		PlayerX:             player,
		VsAI:                req.VsAI,
		Difficulty:          req.Difficulty,
		Mode:                req.Mode,
		BoardSize:           req.BoardSize,
		TurnDurationSeconds: req.TurnDuration,
		DecayTurns:          req.DecayTurns,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.announce.Created(s)
	h.respondJSON(w, http.StatusCreated, s)
}

// handleListGames lists sessions. Without a player filter the waiting list is the
// public lobby and leaves out reserved invitations.
func (h *Handler) handleListGames(w http.ResponseWriter, r *http.Request) {
	q := listQuery{
		Status: models.Status(r.URL.Query().Get("status")),
		Player: r.URL.Query().Get("player"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.respondError(w, fmt.Errorf("%w: limit %q", errBadQuery, raw))
			return
		}
		q.Limit = n
	}
	if err := h.validate.Struct(q); err != nil {
		h.respondError(w, err)
		return
	}

	list, err := h.games.List(r.Context(), storage.ListFilter{
		Status:     q.Status,
		Player:     q.Player,
		PublicOnly: q.Player == "",
		Limit:      q.Limit,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	if list == nil {
		list = []*models.GameSession{}
	}
	h.respondJSON(w, http.StatusOK, list)
}

func (h *Handler) handleGetGame(w http.ResponseWriter, r *http.Request) {
	s, err := h.games.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, s)
}

func (h *Handler) handleMoves(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.games.Get(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	moves, err := h.games.Moves(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if moves == nil {
		moves = []models.MoveRecord{}
	}
	h.respondJSON(w, http.StatusOK, moves)
}

func (h *Handler) handleJoinGame(w http.ResponseWriter, r *http.Request) {
	player, ok := h.identity(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	// the reservation is cleared by the join and cannot change while the session waits
	prev, err := h.games.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	s, err := h.games.Join(r.Context(), id, player)
	if err != nil {
		h.respondError(w, err)
		return
	}
	invited := prev.InvitedPlayerID != nil
	if invited {
		h.invites.Settled(s, false)
	}
	h.announce.Joined(s, invited)
	h.respondJSON(w, http.StatusOK, s)
}

// handleLeaveGame withdraws a waiting session or forfeits a running one.
func (h *Handler) handleLeaveGame(w http.ResponseWriter, r *http.Request) {
	player, ok := h.identity(w, r)
	if !ok {
		return
	}
	s, deleted, err := h.games.Forfeit(r.Context(), r.PathValue("id"), player)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if deleted {
		if s.InvitedPlayerID != nil {
			h.invites.Settled(s, true)
		}
		h.announce.Deleted(s)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.announce.Updated(models.StatusInProgress, s)
	h.respondJSON(w, http.StatusOK, s)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.games.Stats(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, stats)
}

func (h *Handler) identity(w http.ResponseWriter, r *http.Request) (string, bool) {
	player := r.Header.Get(PlayerHeader)
	if player == "" || len(player) > 64 {
		h.respondJSON(w, http.StatusUnauthorized, errorResponse{Message: errNoIdentity.Error(), Kind: "unauthorized"})
		return "", false
	}
	return player, true
}

func (h *Handler) decode(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", errBadBody, err)
	}
	return h.validate.Struct(v)
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Debug("write response", zap.Error(err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	status, kind := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
		msg = "internal error"
	}
	h.respondJSON(w, status, errorResponse{Message: msg, Kind: string(kind)})
}

func classify(err error) (int, game.Kind) {
	var invalid validator.ValidationErrors
	if errors.As(err, &invalid) || errors.Is(err, errBadBody) || errors.Is(err, errBadQuery) {
		return http.StatusBadRequest, game.KindValidation
	}
	switch kind := game.KindOf(err); kind {
	case game.KindValidation:
		return http.StatusUnprocessableEntity, kind
	case game.KindNotFound:
		return http.StatusNotFound, kind
	case game.KindConflict:
		return http.StatusConflict, kind
	default:
		return http.StatusInternalServerError, game.KindInternal
	}
}
