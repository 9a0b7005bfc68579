package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/quizkit/mathrush/internal/models"
	"github.com/rs/zerolog/log"
)

// UsersRepository defines what the app layer needs from the repository
type UsersRepository interface {
	CreateUser(ctx context.Context, req CreateUserRequest) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	IncrementScore(ctx context.Context, username string) (*models.ScoreRecord, error)
	RankAll(ctx context.Context) ([]models.ScoreRecord, error)
}

// App handles users business logic
type App struct {
	repo UsersRepository
}

// NewApp creates a new users App
func NewApp(repo UsersRepository) *App {
	return &App{repo: repo}
}

// CreateUser creates a new user with validation
func (a *App) CreateUser(ctx context.Context, req CreateUserRequest) (*models.User, error) {
	if err := validateCreateUserRequest(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	existing, err := a.repo.GetUserByUsername(ctx, req.Username)
	if err == nil && existing != nil {
		return nil, fmt.Errorf("user with username %s already exists", req.Username)
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}

	user, err := a.repo.CreateUser(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	log.Info().Str("username", user.Username).Msg("created user")
	return user, nil
}

// GetUserByUsername retrieves a user by username
func (a *App) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return a.repo.GetUserByUsername(ctx, username)
}

// IncrementScore adds one point to the named user's score
func (a *App) IncrementScore(ctx context.Context, username string) (*models.ScoreRecord, error) {
	return a.repo.IncrementScore(ctx, username)
}

// RankAll returns all users ordered by score descending
func (a *App) RankAll(ctx context.Context) ([]models.ScoreRecord, error) {
	return a.repo.RankAll(ctx)
}

func validateCreateUserRequest(req CreateUserRequest) error {
	if req.Username == "" {
		return fmt.Errorf("username is required")
	}
	if len(req.Username) > 64 {
		return fmt.Errorf("username must be at most 64 characters")
	}
	if req.PasswordHash == "" {
		return fmt.Errorf("password hash is required")
	}
	return nil
}
