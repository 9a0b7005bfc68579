package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/quizkit/mathrush/internal/auth"
	"github.com/quizkit/mathrush/internal/models"
	"github.com/quizkit/mathrush/internal/quiz"
)

type testSink struct {
	mu         sync.Mutex
	scores     map[string]int
	increments int
}

func newTestSink(seed map[string]int) *testSink {
	scores := make(map[string]int)
	for k, v := range seed {
		scores[k] = v
	}
	return &testSink{scores: scores}
}

func (s *testSink) IncrementScore(_ context.Context, username string) (*models.ScoreRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scores[username]; !ok {
		return nil, errors.New("user not found")
	}
	s.scores[username]++
	s.increments++
	return &models.ScoreRecord{Username: username, Score: s.scores[username]}, nil
}

func (s *testSink) RankAll(_ context.Context) ([]models.ScoreRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ScoreRecord
	for name, score := range s.scores {
		out = append(out, models.ScoreRecord{Username: name, Score: score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

func (s *testSink) incrementCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.increments
}

type testEnv struct {
	server      *httptest.Server
	manager     *Manager
	coordinator *quiz.Coordinator
	tokens      *auth.Tokens
	sink        *testSink
}

func newTestEnv(t *testing.T, questions []models.Question, seed map[string]int) *testEnv {
	t.Helper()

	tokens := auth.NewTokens("gateway-test-secret")
	sink := newTestSink(seed)
	manager := NewManager(DefaultConnectionConfig(), tokens)
	coordinator := quiz.NewCoordinator(questions, manager, sink, 100*time.Millisecond)
	manager.AttachSession(coordinator)

	ctx, cancel := context.WithCancel(context.Background())
	go manager.Start(ctx)

	mux := http.NewServeMux()
	manager.RegisterRoutes(mux)
	server := httptest.NewServer(mux)

	t.Cleanup(func() {
		server.Close()
		cancel()
	})

	return &testEnv{
		server:      server,
		manager:     manager,
		coordinator: coordinator,
		tokens:      tokens,
		sink:        sink,
	}
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (e *testEnv) token(t *testing.T, username string) string {
	t.Helper()
	credential, err := e.tokens.Issue(uuid.New(), username)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return credential
}

func sendEvent(t *testing.T, conn *websocket.Conn, eventType EventType, payload any) {
	t.Helper()
	event, err := NewEvent(eventType, payload)
	if err != nil {
		t.Fatalf("failed to build %s event: %v", eventType, err)
	}
	if err := conn.WriteJSON(event); err != nil {
		t.Fatalf("failed to send %s event: %v", eventType, err)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn, want EventType) json.RawMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event Event
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("failed to read event (want %s): %v", want, err)
	}
	if event.Type != want {
		t.Fatalf("event type = %q, want %q", event.Type, want)
	}
	return event.Data
}

func expectNoEvent(t *testing.T, conn *websocket.Conn, within time.Duration) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(within))
	var event Event
	if err := conn.ReadJSON(&event); err == nil {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func twoQuestions() []models.Question {
	return []models.Question{
		{Expression: "2 + 3", Answer: 5, Position: 0},
		{Expression: "6 * 2", Answer: 12, Position: 1},
	}
}

func TestQuestionBroadcastReachesUnauthenticatedConnections(t *testing.T) {
	env := newTestEnv(t, twoQuestions(), map[string]int{"alice": 0})
	conn := env.dial(t)

	env.coordinator.Start()

	var payload NewQuestionPayload
	if err := json.Unmarshal(readEvent(t, conn, EventTypeNewQuestion), &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Question != "2 + 3" || payload.Index != 1 {
		t.Errorf("unexpected question payload: %+v", payload)
	}
}

func TestLateJoinerReceivesSnapshotOnAuthenticate(t *testing.T) {
	env := newTestEnv(t, twoQuestions(), map[string]int{"alice": 0})

	// Session is already in progress before the client connects.
	env.coordinator.Start()

	conn := env.dial(t)
	sendEvent(t, conn, EventTypeAuthenticate, AuthenticatePayload{Token: env.token(t, "alice")})

	var payload NewQuestionPayload
	if err := json.Unmarshal(readEvent(t, conn, EventTypeNewQuestion), &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Question != "2 + 3" || payload.Index != 1 {
		t.Errorf("snapshot = %+v, want the active question", payload)
	}
}

func TestInvalidTokenGetsAuthErrorThenDisconnect(t *testing.T) {
	env := newTestEnv(t, twoQuestions(), nil)
	conn := env.dial(t)

	sendEvent(t, conn, EventTypeAuthenticate, AuthenticatePayload{Token: "bogus"})

	var payload AuthErrorPayload
	if err := json.Unmarshal(readEvent(t, conn, EventTypeAuthError), &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Message == "" {
		t.Error("auth-error carries no message")
	}

	// The server closes the connection; the next read must fail.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("connection still open after auth-error")
	}
}

func TestWinnerFlowOverWebsocket(t *testing.T) {
	env := newTestEnv(t, twoQuestions(), map[string]int{"alice": 0, "bob": 2})

	player := env.dial(t)
	watcher := env.dial(t)

	env.coordinator.Start()
	readEvent(t, player, EventTypeNewQuestion)
	readEvent(t, watcher, EventTypeNewQuestion)

	sendEvent(t, player, EventTypeAuthenticate, AuthenticatePayload{Token: env.token(t, "alice")})
	readEvent(t, player, EventTypeNewQuestion) // snapshot

	sendEvent(t, player, EventTypeSubmitAnswer, SubmitAnswerPayload{Answer: "5", Username: "alice"})

	var winner WinnerPayload
	if err := json.Unmarshal(readEvent(t, watcher, EventTypeWinner), &winner); err != nil {
		t.Fatal(err)
	}
	if winner.Username != "alice" || winner.CorrectAnswer != 5 {
		t.Errorf("unexpected winner payload: %+v", winner)
	}
	if len(winner.Scores) != 2 || winner.Scores[0].Username != "bob" || winner.Scores[1].Score != 1 {
		t.Errorf("unexpected ranking: %+v", winner.Scores)
	}
	readEvent(t, player, EventTypeWinner)

	// After the advance delay both connections see question two.
	var next NewQuestionPayload
	if err := json.Unmarshal(readEvent(t, watcher, EventTypeNewQuestion), &next); err != nil {
		t.Fatal(err)
	}
	if next.Question != "6 * 2" || next.Index != 2 {
		t.Errorf("unexpected next question: %+v", next)
	}

	if n := env.sink.incrementCount(); n != 1 {
		t.Errorf("increments = %d, want 1", n)
	}
}

func TestUnauthenticatedSubmissionIsIgnored(t *testing.T) {
	env := newTestEnv(t, twoQuestions(), map[string]int{"alice": 0})
	conn := env.dial(t)

	env.coordinator.Start()
	readEvent(t, conn, EventTypeNewQuestion)

	sendEvent(t, conn, EventTypeSubmitAnswer, SubmitAnswerPayload{Answer: "5", Username: "alice"})

	expectNoEvent(t, conn, 150*time.Millisecond)
	if n := env.sink.incrementCount(); n != 0 {
		t.Errorf("increments = %d, want 0", n)
	}
}

func TestPayloadUsernameIsNotTrusted(t *testing.T) {
	env := newTestEnv(t, twoQuestions(), map[string]int{"alice": 0, "mallory": 0})
	conn := env.dial(t)

	env.coordinator.Start()
	readEvent(t, conn, EventTypeNewQuestion)

	sendEvent(t, conn, EventTypeAuthenticate, AuthenticatePayload{Token: env.token(t, "alice")})
	readEvent(t, conn, EventTypeNewQuestion) // snapshot

	// Payload claims mallory; the verified identity must win the award.
	sendEvent(t, conn, EventTypeSubmitAnswer, SubmitAnswerPayload{Answer: "5", Username: "mallory"})

	var winner WinnerPayload
	if err := json.Unmarshal(readEvent(t, conn, EventTypeWinner), &winner); err != nil {
		t.Fatal(err)
	}
	if winner.Username != "alice" {
		t.Errorf("winner = %q, want the verified identity alice", winner.Username)
	}
}
