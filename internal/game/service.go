package game

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gridclash/internal/models"
	"gridclash/internal/rules"
	"gridclash/internal/storage"
)

const (
	// DefaultDecayTurns is how many turns a piece survives in decay mode.
	DefaultDecayTurns = 6
	// MaxTurnDuration caps the per-turn timer.
	MaxTurnDuration = time.Hour
)

// Service handles game logic: it validates actions, applies them through the rules
// engine and persists the result with conditional writes.
type Service struct {
	store  storage.Store
	logger *zap.Logger
	now    func() time.Time
	newID  func() string

	rngMu sync.Mutex
	rng   rules.Rand
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRand sets the randomness source of the board effects.
func WithRand(r rules.Rand) Option {
	return func(s *Service) { s.rng = r }
}

// WithIDGenerator replaces the session id generator.
func WithIDGenerator(f func() string) Option {
	return func(s *Service) { s.newID = f }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a new game service
func NewService(store storage.Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: zap.NewNop(),
		now:    time.Now,
		newID:  func() string { return uuid.New().String()[:8] },
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// IntN draws from the service's randomness source; safe for concurrent use.
func (s *Service) IntN(n int) int {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.IntN(n)
}

// CreateParams describes a new session.
type CreateParams struct {
	PlayerX             string
	VsAI                bool
	Difficulty          models.Difficulty
	Mode                models.Mode
	BoardSize           int
	TurnDurationSeconds int
	DecayTurns          int
	InvitedPlayerID     string
}

func (p *CreateParams) normalize() (rules.Geometry, error) {
	if p.PlayerX == "" || p.PlayerX == models.AIPlayer {
		return rules.Geometry{}, fmt.Errorf("%w: missing player", ErrInvalidConfig)
	}
	if p.Mode == "" {
		p.Mode = models.ModeClassic
	}
	if p.BoardSize == 0 {
		p.BoardSize = 3
	}
	g, err := rules.CheckVariant(p.Mode, p.BoardSize)
	if err != nil {
		return rules.Geometry{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if p.TurnDurationSeconds < 0 || time.Duration(p.TurnDurationSeconds)*time.Second > MaxTurnDuration {
		return rules.Geometry{}, fmt.Errorf("%w: turn duration %ds", ErrInvalidConfig, p.TurnDurationSeconds)
	}
	if p.VsAI {
		if p.InvitedPlayerID != "" {
			return rules.Geometry{}, fmt.Errorf("%w: bot games cannot carry an invitation", ErrInvalidConfig)
		}
		if p.Difficulty == "" {
			p.Difficulty = models.DifficultyMedium
		}
		if !p.Difficulty.Valid() {
			return rules.Geometry{}, fmt.Errorf("%w: difficulty %q", ErrInvalidConfig, p.Difficulty)
		}
	} else {
		p.Difficulty = ""
	}
	if p.InvitedPlayerID == p.PlayerX {
		return rules.Geometry{}, fmt.Errorf("%w: cannot invite yourself", ErrInvalidConfig)
	}
	if p.Mode == models.ModeDecay {
		if p.DecayTurns < 0 {
			return rules.Geometry{}, fmt.Errorf("%w: decay turns %d", ErrInvalidConfig, p.DecayTurns)
		}
		if p.DecayTurns == 0 {
			p.DecayTurns = DefaultDecayTurns
		}
	} else {
		p.DecayTurns = 0
	}
	return g, nil
}

// Create creates a new session. PvP sessions wait for an opponent; bot sessions
// start immediately.
func (s *Service) Create(ctx context.Context, p CreateParams) (*models.GameSession, error) {
	g, err := p.normalize()
	if err != nil {
		return nil, err
	}

	now := s.now()
	board := rules.NewBoard(g)
	if p.Mode == models.ModeRandom {
		board = rules.SeedRandomStart(board, g, s)
	}

	session := &models.GameSession{
		ID:                  s.newID(),
		PlayerX:             models.StringPtr(p.PlayerX),
		Board:               board,
		CurrentTurn:         models.StringPtr(p.PlayerX),
		Status:              models.StatusWaiting,
		Mode:                p.Mode,
		BoardSize:           p.BoardSize,
		TurnDurationSeconds: p.TurnDurationSeconds,
		DecayTurns:          p.DecayTurns,
		VsAI:                p.VsAI,
		AIDifficulty:        p.Difficulty,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if p.Mode == models.ModeDecay {
		session.PlacedAt = map[int]int{}
	}
	if p.InvitedPlayerID != "" {
		session.InvitedPlayerID = models.StringPtr(p.InvitedPlayerID)
	}
	if p.VsAI {
		session.Status = models.StatusInProgress
		session.TurnStartedAt = &now
	}

	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create game: %w", err)
	}
	s.logger.Info("game created",
		zap.String("game_id", session.ID),
		zap.String("player", p.PlayerX),
		zap.String("mode", string(p.Mode)),
		zap.Int("board_size", p.BoardSize),
		zap.Bool("vs_ai", p.VsAI),
	)
	return session, nil
}

// Get retrieves a game by ID
func (s *Service) Get(ctx context.Context, id string) (*models.GameSession, error) {
	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return session, nil
}

// List returns sessions matching the filter.
func (s *Service) List(ctx context.Context, f storage.ListFilter) ([]*models.GameSession, error) {
	return s.store.ListSessions(ctx, f)
}

// Moves returns the move log of a session.
func (s *Service) Moves(ctx context.Context, id string) ([]models.MoveRecord, error) {
	return s.store.ListMoves(ctx, id)
}

// Stats returns the statistics of a player.
func (s *Service) Stats(ctx context.Context, playerID string) (models.PlayerStats, error) {
	return s.store.Stats(ctx, playerID)
}

// Join seats player as O in a waiting session. When several players race for the
// same session exactly one wins; the others get ErrConflict.
func (s *Service) Join(ctx context.Context, id, player string) (*models.GameSession, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case player == "" || player == models.AIPlayer:
		return nil, ErrNotParticipant
	case session.Status == models.StatusInProgress:
		return nil, ErrConflict
	case session.Status != models.StatusWaiting:
		return nil, ErrNotWaiting
	case session.PlayerX != nil && *session.PlayerX == player:
		return nil, ErrOwnGame
	case session.InvitedPlayerID != nil && *session.InvitedPlayerID != player:
		return nil, ErrNotInvited
	}

	joined, err := s.store.JoinSession(ctx, id, player, s.now())
	if err != nil {
		return nil, mapStoreErr(err)
	}
	s.logger.Info("game joined", zap.String("game_id", id), zap.String("player", player))
	return joined, nil
}

// Effects lists the mode side effects of one move.
type Effects struct {
	Decayed []int `json:"decayed,omitempty"`
	Bombed  int   `json:"bombed"`
	Blocker int   `json:"blocker"`
}

// MoveResult is the outcome of a move.
type MoveResult struct {
	Previous  *models.GameSession
	Session   *models.GameSession
	Cell      int
	Effects   Effects
	Completed bool
}

// Move applies a human move. target is a cell index, or a column in gravity mode.
func (s *Service) Move(ctx context.Context, id, player string, target int) (*MoveResult, error) {
	if player == models.AIPlayer {
		return nil, ErrNotYourTurn
	}
	return s.apply(ctx, id, player, target)
}

// BotMove applies the bot's move in a session played against the AI.
func (s *Service) BotMove(ctx context.Context, id string, target int) (*MoveResult, error) {
	return s.apply(ctx, id, models.AIPlayer, target)
}

func (s *Service) apply(ctx context.Context, id, mover string, target int) (*MoveResult, error) {
	prev, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if prev.Status != models.StatusInProgress {
		return nil, ErrNotInProgress
	}
	if !holdsTurn(prev, mover) {
		return nil, ErrNotYourTurn
	}

	g, err := rules.GeometryFor(prev.BoardSize)
	if err != nil {
		return nil, fmt.Errorf("game %s: %w", id, err)
	}
	cell, err := rules.ResolveTarget(prev.Board, g, prev.Mode, prev.BombedCells, target)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIllegalMove, err)
	}

	now := s.now()
	symbol := prev.SymbolOf(mover)
	next := prev.Clone()
	next.Board = rules.Place(prev.Board, cell, symbol)
	next.TurnCount++
	next.UpdatedAt = now
	if next.Mode == models.ModeDecay {
		if next.PlacedAt == nil {
			next.PlacedAt = map[int]int{}
		}
		next.PlacedAt[cell] = next.TurnCount
	}

	res := &MoveResult{Previous: prev, Cell: cell, Effects: Effects{Bombed: -1, Blocker: -1}}

	var finishErr error
	if winner, line := rules.CheckWinner(next.Board, g); winner != models.Empty {
		next.WinningLine = line
		finishErr = finish(next, s.lineWinner(next, mover))
	} else if rules.IsFull(next.Board, next.BombedCells) {
		finishErr = finish(next, nil)
	} else if draw := s.applyEffects(next, g, res); draw {
		finishErr = finish(next, nil)
	} else {
		next.CurrentTurn = nextTurn(next, mover)
		next.TurnStartedAt = &now
	}
	if finishErr != nil {
		return nil, finishErr
	}
	res.Completed = next.Status == models.StatusCompleted

	record := &models.MoveRecord{
		GameID:    id,
		TurnIndex: next.TurnCount,
		Player:    mover,
		Target:    target,
		Cell:      cell,
		Symbol:    symbol,
		At:        now,
	}
	if err := s.commit(ctx, prev, next, record); err != nil {
		return nil, err
	}
	res.Session = next

	s.logger.Debug("move applied",
		zap.String("game_id", id),
		zap.String("player", mover),
		zap.Int("cell", cell),
		zap.Int("turn", next.TurnCount),
	)
	if res.Completed {
		s.logCompletion(next)
	}
	return res, nil
}

// applyEffects runs the mode side effects in their fixed order: decay, bomb, blocker.
// It reports whether a blocker exhausted the board.
func (s *Service) applyEffects(next *models.GameSession, g rules.Geometry, res *MoveResult) bool {
	if next.Mode == models.ModeDecay {
		board, placed, cleared := rules.Decay(next.Board, next.PlacedAt, next.TurnCount, next.DecayTurns)
		next.Board, next.PlacedAt = board, placed
		res.Effects.Decayed = cleared
	}
	if next.Mode == models.ModeBomb {
		bombed, cell := rules.Bomb(next.Board, g, next.BombedCells, next.TurnCount, s)
		next.BombedCells = bombed
		res.Effects.Bombed = cell
		if cell >= 0 && rules.IsFull(next.Board, next.BombedCells) {
			return true
		}
	}
	if next.Mode == models.ModeBlocker {
		board, cell, exhausted := rules.PlaceBlocker(next.Board, next.BombedCells, s)
		next.Board = board
		res.Effects.Blocker = cell
		return exhausted
	}
	return false
}

// lineWinner returns who wins when mover completes a line: the mover, or the other
// party in misere mode.
func (s *Service) lineWinner(session *models.GameSession, mover string) *string {
	if session.Mode != models.ModeMisere {
		return models.StringPtr(mover)
	}
	other, ok := session.OpponentOf(mover)
	if !ok {
		return nil
	}
	return models.StringPtr(other)
}

// finish completes the session. A nil winner is a draw.
func finish(next *models.GameSession, winner *string) error {
	status, err := next.Status.Transition(models.StatusCompleted)
	if err != nil {
		return fmt.Errorf("game %s: %w", next.ID, err)
	}
	next.Status = status
	next.Winner = winner
	next.CurrentTurn = nil
	return nil
}

// Forfeit gives up a session. A waiting session is deleted outright; an in-progress
// session is completed in favour of the other party.
func (s *Service) Forfeit(ctx context.Context, id, player string) (session *models.GameSession, deleted bool, err error) {
	prev, err := s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	switch prev.Status {
	case models.StatusWaiting:
		if prev.PlayerX == nil || *prev.PlayerX != player {
			return nil, false, ErrNotParticipant
		}
		if err := s.store.DeleteWaiting(ctx, id); err != nil {
			return nil, false, mapStoreErr(err)
		}
		s.logger.Info("waiting game abandoned", zap.String("game_id", id), zap.String("player", player))
		return prev, true, nil
	case models.StatusInProgress:
		if !prev.IsParticipant(player) {
			return nil, false, ErrNotParticipant
		}
		next, err := s.concede(ctx, prev, player)
		return next, false, err
	}
	return nil, false, ErrNotInProgress
}

// Timeout ends a session whose turn timer ran out. The loss goes to whoever held the
// turn at expiry, not to the caller.
func (s *Service) Timeout(ctx context.Context, id, caller string) (*models.GameSession, error) {
	prev, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if prev.Status != models.StatusInProgress {
		return nil, ErrNotInProgress
	}
	if !prev.IsParticipant(caller) {
		return nil, ErrNotParticipant
	}
	return s.expire(ctx, prev)
}

// ExpireTurn is Timeout for timers: it is a no-op returning ErrStaleTurn when the
// session moved past turnCount since the timer was armed.
func (s *Service) ExpireTurn(ctx context.Context, id string, turnCount int) (*models.GameSession, error) {
	prev, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if prev.Status != models.StatusInProgress || prev.TurnCount != turnCount {
		return nil, ErrStaleTurn
	}
	return s.expire(ctx, prev)
}

func (s *Service) expire(ctx context.Context, prev *models.GameSession) (*models.GameSession, error) {
	deadline, ok := prev.TurnDeadline()
	if !ok {
		return nil, ErrNoTurnTimer
	}
	if s.now().Before(deadline) {
		return nil, ErrTurnNotExpired
	}
	loser := models.AIPlayer
	if prev.CurrentTurn != nil {
		loser = *prev.CurrentTurn
	}
	return s.concede(ctx, prev, loser)
}

// concede completes prev with loser forfeiting.
func (s *Service) concede(ctx context.Context, prev *models.GameSession, loser string) (*models.GameSession, error) {
	next := prev.Clone()
	next.UpdatedAt = s.now()
	next.ForfeitBy = models.StringPtr(loser)
	var winner *string
	if other, ok := prev.OpponentOf(loser); ok {
		winner = models.StringPtr(other)
	}
	if err := finish(next, winner); err != nil {
		return nil, err
	}
	if err := s.commit(ctx, prev, next, nil); err != nil {
		return nil, err
	}
	s.logCompletion(next)
	return next, nil
}

// Cancel deletes a waiting session on behalf of its creator.
func (s *Service) Cancel(ctx context.Context, id, player string) (*models.GameSession, error) {
	prev, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if prev.Status != models.StatusWaiting {
		return nil, ErrNotWaiting
	}
	if prev.PlayerX == nil || *prev.PlayerX != player {
		return nil, ErrNotParticipant
	}
	if err := s.store.DeleteWaiting(ctx, id); err != nil {
		return nil, mapStoreErr(err)
	}
	s.logger.Info("game cancelled", zap.String("game_id", id), zap.String("player", player))
	return prev, nil
}

// Decline deletes a waiting session on behalf of the player it was reserved for.
func (s *Service) Decline(ctx context.Context, id, player string) (*models.GameSession, error) {
	prev, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if prev.Status != models.StatusWaiting {
		return nil, ErrNotWaiting
	}
	if prev.InvitedPlayerID == nil || *prev.InvitedPlayerID != player {
		return nil, ErrNotInvited
	}
	if err := s.store.DeleteWaiting(ctx, id); err != nil {
		return nil, mapStoreErr(err)
	}
	s.logger.Info("invitation declined", zap.String("game_id", id), zap.String("player", player))
	return prev, nil
}

// commit writes next conditionally on prev's status and turn count, together with the
// move record and, on completion, every player's statistics.
func (s *Service) commit(ctx context.Context, prev, next *models.GameSession, move *models.MoveRecord) error {
	t := storage.Transition{
		Session:       next,
		PrevStatus:    prev.Status,
		PrevTurnCount: prev.TurnCount,
		Move:          move,
	}
	if next.Status == models.StatusCompleted {
		t.Stats = statDeltas(next)
	}
	err := s.store.Commit(ctx, t)
	if errors.Is(err, storage.ErrConflict) {
		current, getErr := s.store.GetSession(ctx, next.ID)
		if getErr == nil && current.Status != prev.Status {
			return ErrNotInProgress
		}
		return ErrConflict
	}
	if err != nil {
		return mapStoreErr(err)
	}
	return nil
}

func (s *Service) logCompletion(session *models.GameSession) {
	fields := []zap.Field{
		zap.String("game_id", session.ID),
		zap.Int("turns", session.TurnCount),
	}
	if session.Winner != nil {
		fields = append(fields, zap.String("winner", *session.Winner))
	} else {
		fields = append(fields, zap.Bool("draw", true))
	}
	if session.ForfeitBy != nil {
		fields = append(fields, zap.String("forfeit_by", *session.ForfeitBy))
	}
	s.logger.Info("game completed", fields...)
}

// statDeltas returns one statistics update per human player of a completed session.
func statDeltas(session *models.GameSession) []models.StatDelta {
	bucket := models.BucketFor(session)
	forfeit := session.ForfeitBy != nil
	var out []models.StatDelta
	for _, player := range session.Humans() {
		outcome := models.OutcomeDraw
		if session.Winner != nil {
			if *session.Winner == player {
				outcome = models.OutcomeWin
			} else {
				outcome = models.OutcomeLoss
			}
		}
		out = append(out, models.StatDelta{
			PlayerID: player,
			Bucket:   bucket,
			Outcome:  outcome,
			Forfeit:  forfeit,
		})
	}
	return out
}

func holdsTurn(session *models.GameSession, mover string) bool {
	if mover == models.AIPlayer {
		return session.VsAI && session.CurrentTurn == nil
	}
	return session.CurrentTurn != nil && *session.CurrentTurn == mover
}

// nextTurn returns who moves after mover: the other human, or nil for the bot.
func nextTurn(session *models.GameSession, mover string) *string {
	if session.VsAI {
		if mover == models.AIPlayer {
			return models.StringPtr(*session.PlayerX)
		}
		return nil
	}
	other, ok := session.OpponentOf(mover)
	if !ok {
		return nil
	}
	return models.StringPtr(other)
}

func mapStoreErr(err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, storage.ErrConflict):
		return ErrConflict
	}
	return err
}
