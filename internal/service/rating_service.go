package service

import (
	"context"
	"fmt"

	"github.com/hamdanyasser/debug-battle-backend/internal/models"
	"github.com/hamdanyasser/debug-battle-backend/pkg/logger"
)

// PlayerRepository 레이팅 반영에 필요한 저장소 연산
type PlayerRepository interface {
	FindByID(ctx context.Context, id string) (*models.Player, error)
	UpdateRating(ctx context.Context, id string, newRating int, won bool) error
}

// RatingService 배틀 결과를 플레이어 레이팅에 반영한다.
// 각 세션은 자기 플레이어의 행만 갱신한다 — 양쪽 세션이 각자 반영하므로
// 한 배틀이 같은 행을 두 번 건드리는 일이 없다.
type RatingService struct {
	repo    PlayerRepository
	ranking *RankingService
}

func NewRatingService(repo PlayerRepository, ranking *RankingService) *RatingService {
	return &RatingService{repo: repo, ranking: ranking}
}

// ApplyMatchOutcome 종료된 방 문서로 본인 레이팅을 갱신한다.
func (s *RatingService) ApplyMatchOutcome(ctx context.Context, playerID string, room *models.BattleRoom) (*RatingChangedEvent, error) {
	if room.State != models.RoomStateFinished || room.WinnerID == "" {
		return nil, ErrWrongState
	}
	if !room.HasPlayer(playerID) {
		return nil, ErrNotInRoom
	}

	player, err := s.repo.FindByID(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load player: %w", err)
	}
	if player == nil {
		return nil, ErrNotInRoom
	}

	won := room.WinnerID == playerID
	outcome := MatchOutcome{
		Won:            won,
		OwnRating:      player.Rating,
		OpponentRating: room.OpponentRating(playerID),
		Perfect:        won && room.AttemptsOf(playerID) == 1,
	}
	if won && room.StartedAt > 0 && room.FinishedAt > room.StartedAt && room.DurationMs > 0 {
		elapsed := room.FinishedAt - room.StartedAt
		outcome.TimeAdvantage = float64(room.DurationMs-elapsed) / float64(room.DurationMs)
	}

	change := s.ranking.EloDelta(outcome)
	newRating := player.Rating + change.Delta
	if newRating < 0 {
		newRating = 0
	}

	if err := s.repo.UpdateRating(ctx, playerID, newRating, won); err != nil {
		return nil, fmt.Errorf("failed to update rating: %w", err)
	}

	logger.Info("rating updated",
		"player_id", playerID, "old", player.Rating, "new", newRating,
		"delta", change.Delta, "won", won)

	return &RatingChangedEvent{
		OldRating:   player.Rating,
		NewRating:   newRating,
		Delta:       change.Delta,
		BonusReason: change.BonusReason,
		Tier:        s.ranking.RankTier(newRating),
	}, nil
}
