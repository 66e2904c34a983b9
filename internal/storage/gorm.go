package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"gridclash/internal/models"
)

type sessionRow struct {
	ID                  string            `gorm:"primaryKey;size:64"`
	PlayerX             *string           `gorm:"size:128;index"`
	PlayerO             *string           `gorm:"size:128;index"`
	Board               models.Board      `gorm:"serializer:json"`
	CurrentTurn         *string           `gorm:"size:128"`
	Status              models.Status     `gorm:"size:16;index;not null"`
	Winner              *string           `gorm:"size:128"`
	WinningLine         []int             `gorm:"serializer:json"`
	Mode                models.Mode       `gorm:"size:16;not null"`
	BoardSize           int               `gorm:"not null"`
	TurnDurationSeconds int               `gorm:"not null;default:0"`
	TurnStartedAt       *time.Time
	TurnCount           int               `gorm:"not null;default:0"`
	PlacedAt            map[int]int       `gorm:"serializer:json"`
	DecayTurns          int               `gorm:"not null;default:0"`
	BombedCells         []int             `gorm:"serializer:json"`
	ForfeitBy           *string           `gorm:"size:128"`
	InvitedPlayerID     *string           `gorm:"size:128;index"`
	VsAI                bool              `gorm:"not null;default:false"`
	AIDifficulty        models.Difficulty `gorm:"size:16"`
	CreatedAt           time.Time         `gorm:"autoCreateTime:false;index"`
	UpdatedAt           time.Time         `gorm:"autoUpdateTime:false"`
}

func (sessionRow) TableName() string { return "game_sessions" }

type moveRow struct {
	ID        uint        `gorm:"primaryKey"`
	GameID    string      `gorm:"size:64;index:idx_moves_game_turn"`
	TurnIndex int         `gorm:"index:idx_moves_game_turn"`
	Player    string      `gorm:"size:128"`
	Target    int
	Cell      int
	Symbol    models.Cell `gorm:"size:8"`
	At        time.Time
}

func (moveRow) TableName() string { return "game_moves" }

type statRow struct {
	PlayerID string        `gorm:"primaryKey;size:128"`
	Bucket   models.Bucket `gorm:"primaryKey;size:16"`
	Wins     int           `gorm:"not null;default:0"`
	Losses   int           `gorm:"not null;default:0"`
	Draws    int           `gorm:"not null;default:0"`
	Forfeits int           `gorm:"not null;default:0"`
}

func (statRow) TableName() string { return "player_stats" }

// GormStore implements Store on top of a gorm database.
type GormStore struct {
	db *gorm.DB
}

// OpenSQLite opens (or creates) a SQLite database through the pure-Go driver.
func OpenSQLite(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", dsn, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite serializes writers; a single connection also keeps :memory: databases shared.
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// NewGormStore migrates the schema and returns the store.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&sessionRow{}, &moveRow{}, &statRow{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) CreateSession(ctx context.Context, gs *models.GameSession) error {
	row := toRow(gs)
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *GormStore) GetSession(ctx context.Context, id string) (*models.GameSession, error) {
	var row sessionRow
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromRow(row), nil
}

func (s *GormStore) ListSessions(ctx context.Context, f ListFilter) ([]*models.GameSession, error) {
	q := s.db.WithContext(ctx).Model(&sessionRow{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.PublicOnly {
		q = q.Where("invited_player_id IS NULL")
	}
	if f.Player != "" {
		q = q.Where("player_x = ? OR player_o = ?", f.Player, f.Player)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var rows []sessionRow
	if err := q.Order("created_at DESC").Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*models.GameSession, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromRow(row))
	}
	return out, nil
}

func (s *GormStore) JoinSession(ctx context.Context, id, playerO string, at time.Time) (*models.GameSession, error) {
	var joined *models.GameSession
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&sessionRow{}).
			Where("id = ? AND status = ? AND player_o IS NULL", id, models.StatusWaiting).
			Updates(map[string]any{
				"player_o":          playerO,
				"status":            models.StatusInProgress,
				"invited_player_id": nil,
				"turn_started_at":   at,
				"updated_at":        at,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return missOrConflict(tx, id)
		}
		var row sessionRow
		if err := tx.Where("id = ?", id).First(&row).Error; err != nil {
			return err
		}
		joined = fromRow(row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return joined, nil
}

func (s *GormStore) DeleteWaiting(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND status = ?", id, models.StatusWaiting).Delete(&sessionRow{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return missOrConflict(tx, id)
		}
		return tx.Where("game_id = ?", id).Delete(&moveRow{}).Error
	})
}

func (s *GormStore) Commit(ctx context.Context, t Transition) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := toRow(t.Session)
		res := tx.Model(&sessionRow{}).
			Where("id = ? AND status = ? AND turn_count = ?", row.ID, t.PrevStatus, t.PrevTurnCount).
			Select("*").Omit("id", "created_at").
			Updates(&row)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return missOrConflict(tx, row.ID)
		}
		if t.Move != nil {
			mv := moveRow{
				GameID:    t.Move.GameID,
				TurnIndex: t.Move.TurnIndex,
				Player:    t.Move.Player,
				Target:    t.Move.Target,
				Cell:      t.Move.Cell,
				Symbol:    t.Move.Symbol,
				At:        t.Move.At,
			}
			if err := tx.Create(&mv).Error; err != nil {
				return fmt.Errorf("append move: %w", err)
			}
		}
		for _, d := range t.Stats {
			if err := upsertStat(tx, d); err != nil {
				return fmt.Errorf("update stats for %s: %w", d.PlayerID, err)
			}
		}
		return nil
	})
}

func (s *GormStore) ListMoves(ctx context.Context, gameID string) ([]models.MoveRecord, error) {
	var rows []moveRow
	if err := s.db.WithContext(ctx).Where("game_id = ?", gameID).Order("turn_index").Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.MoveRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.MoveRecord{
			GameID:    r.GameID,
			TurnIndex: r.TurnIndex,
			Player:    r.Player,
			Target:    r.Target,
			Cell:      r.Cell,
			Symbol:    r.Symbol,
			At:        r.At,
		})
	}
	return out, nil
}

func (s *GormStore) Stats(ctx context.Context, playerID string) (models.PlayerStats, error) {
	var rows []statRow
	if err := s.db.WithContext(ctx).Where("player_id = ?", playerID).Find(&rows).Error; err != nil {
		return models.PlayerStats{}, err
	}
	st := emptyStats(playerID)
	for _, r := range rows {
		st.Buckets[r.Bucket] = models.Record{Wins: r.Wins, Losses: r.Losses, Draws: r.Draws, Forfeits: r.Forfeits}
	}
	return st, nil
}

func upsertStat(tx *gorm.DB, d models.StatDelta) error {
	rec := d.Record()
	row := statRow{
		PlayerID: d.PlayerID,
		Bucket:   d.Bucket,
		Wins:     rec.Wins,
		Losses:   rec.Losses,
		Draws:    rec.Draws,
		Forfeits: rec.Forfeits,
	}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "player_id"}, {Name: "bucket"}},
		DoUpdates: clause.Assignments(map[string]any{
			"wins":     gorm.Expr("wins + ?", rec.Wins),
			"losses":   gorm.Expr("losses + ?", rec.Losses),
			"draws":    gorm.Expr("draws + ?", rec.Draws),
			"forfeits": gorm.Expr("forfeits + ?", rec.Forfeits),
		}),
	}).Create(&row).Error
}

func missOrConflict(tx *gorm.DB, id string) error {
	var n int64
	if err := tx.Model(&sessionRow{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrConflict
}

func toRow(s *models.GameSession) sessionRow {
	return sessionRow{
		ID:                  s.ID,
		PlayerX:             s.PlayerX,
		PlayerO:             s.PlayerO,
		Board:               s.Board,
		CurrentTurn:         s.CurrentTurn,
		Status:              s.Status,
		Winner:              s.Winner,
		WinningLine:         s.WinningLine,
		Mode:                s.Mode,
		BoardSize:           s.BoardSize,
		TurnDurationSeconds: s.TurnDurationSeconds,
		TurnStartedAt:       s.TurnStartedAt,
		TurnCount:           s.TurnCount,
		PlacedAt:            s.PlacedAt,
		DecayTurns:          s.DecayTurns,
		BombedCells:         s.BombedCells,
		ForfeitBy:           s.ForfeitBy,
		InvitedPlayerID:     s.InvitedPlayerID,
		VsAI:                s.VsAI,
		AIDifficulty:        s.AIDifficulty,
		CreatedAt:           s.CreatedAt,
		UpdatedAt:           s.UpdatedAt,
	}
}

func fromRow(r sessionRow) *models.GameSession {
	return &models.GameSession{
		ID:                  r.ID,
		PlayerX:             r.PlayerX,
		PlayerO:             r.PlayerO,
		Board:               r.Board,
		CurrentTurn:         r.CurrentTurn,
		Status:              r.Status,
		Winner:              r.Winner,
		WinningLine:         r.WinningLine,
		Mode:                r.Mode,
		BoardSize:           r.BoardSize,
		TurnDurationSeconds: r.TurnDurationSeconds,
		TurnStartedAt:       r.TurnStartedAt,
		TurnCount:           r.TurnCount,
		PlacedAt:            r.PlacedAt,
		DecayTurns:          r.DecayTurns,
		BombedCells:         r.BombedCells,
		ForfeitBy:           r.ForfeitBy,
		InvitedPlayerID:     r.InvitedPlayerID,
		VsAI:                r.VsAI,
		AIDifficulty:        r.AIDifficulty,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
}
