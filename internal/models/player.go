package models

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Player 플레이어 계정 및 레이팅 정보
type Player struct {
	ID           string    `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Rating       int       `json:"rating" db:"rating"`
	PeakRating   int       `json:"peak_rating" db:"peak_rating"`
	Wins         int       `json:"wins" db:"wins"`
	Losses       int       `json:"losses" db:"losses"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// DefaultRating 신규 플레이어 시작 레이팅
const DefaultRating = 1000

// HashPassword 비밀번호를 bcrypt로 해싱
func (p *Player) HashPassword(password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	p.PasswordHash = string(hash)
	return nil
}

// CheckPassword 비밀번호 검증
func (p *Player) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(password)) == nil
}

// WinRate 승률 (경기가 없으면 0)
func (p *Player) WinRate() float64 {
	total := p.Wins + p.Losses
	if total == 0 {
		return 0
	}
	return float64(p.Wins) / float64(total)
}

// PublicProfile 다른 플레이어에게 노출되는 정보
type PublicProfile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Rating   int    `json:"rating"`
	Tier     string `json:"tier"`
	Wins     int    `json:"wins"`
	Losses   int    `json:"losses"`
}
