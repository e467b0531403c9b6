package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hamdanyasser/debug-battle-backend/internal/models"
)

// PlayerRepository 플레이어 테이블 접근
type PlayerRepository struct {
	db *sql.DB
}

func NewPlayerRepository(db *sql.DB) *PlayerRepository {
	return &PlayerRepository{db: db}
}

// Create 새 플레이어 생성. 시작 레이팅은 1000.
func (r *PlayerRepository) Create(ctx context.Context, player *models.Player) error {
	query := `
		INSERT INTO players (id, username, email, password_hash, rating, peak_rating, wins, losses, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5, 0, 0, NOW(), NOW())
		RETURNING created_at, updated_at`

	player.Rating = models.DefaultRating
	player.PeakRating = models.DefaultRating

	err := r.db.QueryRowContext(ctx, query,
		player.ID, player.Username, player.Email, player.PasswordHash, player.Rating,
	).Scan(&player.CreatedAt, &player.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create player: %w", err)
	}
	return nil
}

// FindByID ID로 조회. 없으면 (nil, nil).
func (r *PlayerRepository) FindByID(ctx context.Context, id string) (*models.Player, error) {
	query := `
		SELECT id, username, email, password_hash, rating, peak_rating, wins, losses, created_at, updated_at
		FROM players WHERE id = $1`

	player := &models.Player{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&player.ID, &player.Username, &player.Email, &player.PasswordHash,
		&player.Rating, &player.PeakRating, &player.Wins, &player.Losses,
		&player.CreatedAt, &player.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find player: %w", err)
	}
	return player, nil
}

// FindByUsername 사용자명으로 조회. 없으면 (nil, nil).
func (r *PlayerRepository) FindByUsername(ctx context.Context, username string) (*models.Player, error) {
	query := `
		SELECT id, username, email, password_hash, rating, peak_rating, wins, losses, created_at, updated_at
		FROM players WHERE username = $1`

	player := &models.Player{}
	err := r.db.QueryRowContext(ctx, query, username).Scan(
		&player.ID, &player.Username, &player.Email, &player.PasswordHash,
		&player.Rating, &player.PeakRating, &player.Wins, &player.Losses,
		&player.CreatedAt, &player.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find player: %w", err)
	}
	return player, nil
}

// UpdateRating 레이팅과 전적 갱신. 최고 레이팅은 내려가지 않는다.
func (r *PlayerRepository) UpdateRating(ctx context.Context, id string, newRating int, won bool) error {
	query := `
		UPDATE players
		SET rating = $2,
		    peak_rating = GREATEST(peak_rating, $2),
		    wins = wins + $3,
		    losses = losses + $4,
		    updated_at = NOW()
		WHERE id = $1`

	winInc, lossInc := 0, 1
	if won {
		winInc, lossInc = 1, 0
	}

	result, err := r.db.ExecContext(ctx, query, id, newRating, winInc, lossInc)
	if err != nil {
		return fmt.Errorf("failed to update rating: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Leaderboard 레이팅 상위 플레이어 목록
func (r *PlayerRepository) Leaderboard(ctx context.Context, limit int) ([]*models.Player, error) {
	query := `
		SELECT id, username, email, password_hash, rating, peak_rating, wins, losses, created_at, updated_at
		FROM players
		ORDER BY rating DESC, wins DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	var players []*models.Player
	for rows.Next() {
		player := &models.Player{}
		err := rows.Scan(
			&player.ID, &player.Username, &player.Email, &player.PasswordHash,
			&player.Rating, &player.PeakRating, &player.Wins, &player.Losses,
			&player.CreatedAt, &player.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan player: %w", err)
		}
		players = append(players, player)
	}
	return players, rows.Err()
}
