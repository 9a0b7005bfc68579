package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/quizkit/mathrush/internal/models"
)

// DB defines what the repository needs from the database layer.
// *pgxpool.Pool satisfies it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository implements user data access operations
type Repository struct {
	db DB
}

// NewRepository creates a new users repository
func NewRepository(db DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates the users table if it does not exist
func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id            UUID PRIMARY KEY,
			username      TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			score         INT  NOT NULL DEFAULT 0,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("failed to migrate users table: %w", err)
	}
	return nil
}

// CreateUser creates a new user with a zero score
func (r *Repository) CreateUser(ctx context.Context, req CreateUserRequest) (*models.User, error) {
	var user models.User
	err := r.db.QueryRow(ctx, `
		INSERT INTO users (id, username, password_hash)
		VALUES ($1, $2, $3)
		RETURNING id, username, password_hash, score, created_at`,
		uuid.New(), req.Username, req.PasswordHash,
	).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Score, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return &user, nil
}

// GetUserByUsername retrieves a user by username
func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	err := r.db.QueryRow(ctx, `
		SELECT id, username, password_hash, score, created_at
		FROM users
		WHERE username = $1`,
		username,
	).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Score, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by username: %w", err)
	}
	return &user, nil
}

// IncrementScore adds one point to the named user's score
func (r *Repository) IncrementScore(ctx context.Context, username string) (*models.ScoreRecord, error) {
	var rec models.ScoreRecord
	err := r.db.QueryRow(ctx, `
		UPDATE users
		SET score = score + 1
		WHERE username = $1
		RETURNING username, score`,
		username,
	).Scan(&rec.Username, &rec.Score)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to increment score: %w", err)
	}
	return &rec, nil
}

// RankAll returns all users ordered by score descending
func (r *Repository) RankAll(ctx context.Context) ([]models.ScoreRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT username, score
		FROM users
		ORDER BY score DESC, username ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to rank users: %w", err)
	}
	defer rows.Close()

	var ranking []models.ScoreRecord
	for rows.Next() {
		var rec models.ScoreRecord
		if err := rows.Scan(&rec.Username, &rec.Score); err != nil {
			return nil, fmt.Errorf("failed to scan score record: %w", err)
		}
		ranking = append(ranking, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read score records: %w", err)
	}
	return ranking, nil
}
