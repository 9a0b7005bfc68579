package models

import (
	"time"

	"github.com/google/uuid"
)

// User represents a registered player in the system
type User struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Score        int       `json:"score"`
	CreatedAt    time.Time `json:"created_at"`
}

// ScoreRecord is the ranking projection of a user
type ScoreRecord struct {
	Username string `json:"username"`
	Score    int    `json:"score"`
}
