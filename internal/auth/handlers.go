package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/quizkit/mathrush/internal/models"
	"github.com/quizkit/mathrush/internal/questions"
	"github.com/quizkit/mathrush/internal/users"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

const bcryptCost = 10

// UserStore defines what the handlers need from the users layer
type UserStore interface {
	CreateUser(ctx context.Context, req users.CreateUserRequest) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
}

// Handlers serves the signup and login endpoints
type Handlers struct {
	store  UserStore
	tokens *Tokens
}

// NewHandlers creates the auth HTTP handlers
func NewHandlers(store UserStore, tokens *Tokens) *Handlers {
	return &Handlers{store: store, tokens: tokens}
}

// RegisterRoutes registers the auth routes with an HTTP mux
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /signup", h.HandleSignup)
	mux.HandleFunc("POST /login", h.HandleLogin)
	mux.HandleFunc("GET /{$}", h.HandlePracticeQuestion)
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

// HandleSignup registers a new user with a bcrypt-hashed password
func (h *Handlers) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Error creating user", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" {
		http.Error(w, "Error creating user", http.StatusBadRequest)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		http.Error(w, "Error creating user", http.StatusBadRequest)
		return
	}

	if _, err := h.store.CreateUser(r.Context(), users.CreateUserRequest{
		Username:     req.Username,
		PasswordHash: string(hash),
	}); err != nil {
		log.Warn().Err(err).Str("username", req.Username).Msg("signup failed")
		http.Error(w, "Error creating user", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusCreated)
	w.Write([]byte("User registered successfully"))
}

// HandleLogin verifies credentials and issues a session token
func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Error logging in", http.StatusInternalServerError)
		return
	}

	user, err := h.store.GetUserByUsername(r.Context(), req.Username)
	if errors.Is(err, users.ErrNotFound) {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("username", req.Username).Msg("login lookup failed")
		http.Error(w, "Error logging in", http.StatusInternalServerError)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := h.tokens.Issue(user.ID, user.Username)
	if err != nil {
		log.Error().Err(err).Str("username", req.Username).Msg("failed to issue token")
		http.Error(w, "Error logging in", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(loginResponse{Token: token, Username: user.Username})
}

// HandlePracticeQuestion returns a freshly generated question. It never
// touches session state.
func (h *Handlers) HandlePracticeQuestion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(questions.New())
}
