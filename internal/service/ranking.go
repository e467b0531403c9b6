package service

import (
	"math"
	"strings"
	"time"
)

// 티어 기준 레이팅
const (
	TierBronzeFloor  = 1000
	TierSilverFloor  = 1200
	TierGoldFloor    = 1400
	TierDiamondFloor = 1600
	TierMasterFloor  = 1800
	TierLegendFloor  = 2000
)

const (
	// 승패 반영 최소 변동 폭
	minDeltaMagnitude = 5

	// 매칭 범위: 기본 ±100, 10초 대기마다 ±25 확장, 기본+300에서 상한
	matchBaseRange   = 100
	matchRangeGrowth = 25
	matchGrowthEvery = 10 * time.Second
	matchMaxExtra    = 300
)

// MatchOutcome 한 플레이어 관점의 배틀 결과
type MatchOutcome struct {
	Won            bool
	OwnRating      int
	OpponentRating int
	// Perfect 첫 제출에 정답
	Perfect bool
	// TimeAdvantage (제한 시간 대비) 상대보다 얼마나 빨리 끝냈는지, 0~1
	TimeAdvantage float64
}

// EloChange 레이팅 변동 계산 결과
type EloChange struct {
	Delta       int     `json:"delta"`
	Base        int     `json:"base"`
	Bonus       int     `json:"bonus"`
	BonusReason string  `json:"bonus_reason,omitempty"`
	Expected    float64 `json:"expected"`
	KFactor     int     `json:"k_factor"`
}

// RankingService Elo 레이팅 계산. 상태가 없는 순수 계산 모듈이다.
type RankingService struct{}

func NewRankingService() *RankingService {
	return &RankingService{}
}

// KFactor 레이팅 구간별 K 계수. 낮은 구간일수록 변동이 크다.
func (s *RankingService) KFactor(rating int) int {
	switch {
	case rating < 1200:
		return 40
	case rating < 1400:
		return 32
	case rating < 1600:
		return 28
	case rating < 1800:
		return 24
	default:
		return 20
	}
}

// ExpectedScore 표준 Elo 기대 승률
func (s *RankingService) ExpectedScore(ownRating, opponentRating int) float64 {
	return 1.0 / (1.0 + math.Pow(10, float64(opponentRating-ownRating)/400.0))
}

// EloDelta 배틀 결과로 레이팅 변동을 계산한다.
// 승자는 최소 +5, 패자는 최소 -5가 보장된다. 보너스는 승자에게만 붙는다.
func (s *RankingService) EloDelta(outcome MatchOutcome) EloChange {
	k := s.KFactor(outcome.OwnRating)
	expected := s.ExpectedScore(outcome.OwnRating, outcome.OpponentRating)

	actual := 0.0
	if outcome.Won {
		actual = 1.0
	}
	base := int(math.Round(float64(k) * (actual - expected)))

	bonus := 0
	var reasons []string
	if outcome.Won {
		if outcome.Perfect {
			bonus += 5
			reasons = append(reasons, "perfect")
		}
		if outcome.TimeAdvantage > 0.3 {
			bonus += int(outcome.TimeAdvantage * 10)
			reasons = append(reasons, "speed")
		}
		if diff := outcome.OpponentRating - outcome.OwnRating; diff > 100 {
			upset := diff / 50
			if upset > 10 {
				upset = 10
			}
			bonus += upset
			reasons = append(reasons, "upset")
		}
	}

	delta := base + bonus
	if outcome.Won && delta < minDeltaMagnitude {
		delta = minDeltaMagnitude
	}
	if !outcome.Won && delta > -minDeltaMagnitude {
		delta = -minDeltaMagnitude
	}

	return EloChange{
		Delta:       delta,
		Base:        base,
		Bonus:       bonus,
		BonusReason: strings.Join(reasons, ","),
		Expected:    expected,
		KFactor:     k,
	}
}

// RankTier 레이팅에 해당하는 티어 이름
func (s *RankingService) RankTier(rating int) string {
	switch {
	case rating >= TierLegendFloor:
		return "Legend"
	case rating >= TierMasterFloor:
		return "Master"
	case rating >= TierDiamondFloor:
		return "Diamond"
	case rating >= TierGoldFloor:
		return "Gold"
	case rating >= TierSilverFloor:
		return "Silver"
	default:
		return "Bronze"
	}
}

// tierFloor 해당 레이팅 티어의 하한. Legend는 상한이 없다.
func tierFloor(rating int) (floor, ceil int) {
	floors := []int{TierBronzeFloor, TierSilverFloor, TierGoldFloor, TierDiamondFloor, TierMasterFloor, TierLegendFloor}
	floor = 0
	ceil = math.MaxInt
	for _, f := range floors {
		if rating >= f {
			floor = f
		} else {
			ceil = f
			break
		}
	}
	return floor, ceil
}

// RankPoints 현재 티어 내 진행도 (0~100)
func (s *RankingService) RankPoints(rating int) int {
	floor, ceil := tierFloor(rating)
	if ceil == math.MaxInt {
		return 100
	}
	points := (rating - floor) * 100 / (ceil - floor)
	if points < 0 {
		return 0
	}
	if points > 100 {
		return 100
	}
	return points
}

// IsNearPromotion 다음 티어까지 25점 이내인지
func (s *RankingService) IsNearPromotion(rating int) bool {
	_, ceil := tierFloor(rating)
	return ceil != math.MaxInt && ceil-rating <= 25
}

// IsAtDemotionRisk 티어 하한에서 25점 이내인지 (Bronze 제외)
func (s *RankingService) IsAtDemotionRisk(rating int) bool {
	floor, _ := tierFloor(rating)
	return floor >= TierSilverFloor && rating-floor <= 25
}

// MatchmakingWindow 대기 시간에 따라 넓어지는 매칭 레이팅 범위
func (s *RankingService) MatchmakingWindow(rating int, waited time.Duration) (minRating, maxRating int) {
	extra := int(waited/matchGrowthEvery) * matchRangeGrowth
	if extra > matchMaxExtra {
		extra = matchMaxExtra
	}
	spread := matchBaseRange + extra
	return rating - spread, rating + spread
}

// MatchQuality 레이팅 차이에 따른 매치 품질 (0~1, 가까울수록 1)
func (s *RankingService) MatchQuality(ratingA, ratingB int) float64 {
	diff := math.Abs(float64(ratingA - ratingB))
	quality := 1.0 - diff/400.0
	if quality < 0 {
		return 0
	}
	return quality
}

// PlacementElo 배치 경기 결과로 정하는 시작 레이팅.
// 기본 1000에서 승리당 +100, 패배당 -50, 800~1500으로 제한.
func (s *RankingService) PlacementElo(wins, losses int) int {
	rating := 1000 + wins*100 - losses*50
	if rating < 800 {
		return 800
	}
	if rating > 1500 {
		return 1500
	}
	return rating
}

// SeasonReset 시즌 종료 시 레이팅을 중앙값 방향으로 압축한다.
func (s *RankingService) SeasonReset(rating int) int {
	return (rating + 1200) / 2
}

// StreakMultiplier 연승 보정 계수
func (s *RankingService) StreakMultiplier(winStreak int) float64 {
	switch {
	case winStreak >= 5:
		return 1.5
	case winStreak >= 3:
		return 1.2
	default:
		return 1.0
	}
}
