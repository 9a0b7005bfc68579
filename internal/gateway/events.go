package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/quizkit/mathrush/internal/models"
)

// Event is the envelope for every message crossing the websocket, in both
// directions.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// EventType represents the type of a gateway event
type EventType string

const (
	// Server to clients.
	EventTypeNewQuestion EventType = "new-question"
	EventTypeWinner      EventType = "winner"
	EventTypeAuthError   EventType = "auth-error"

	// Clients to server.
	EventTypeAuthenticate EventType = "authenticate"
	EventTypeSubmitAnswer EventType = "submit-answer"
)

// NewQuestionPayload carries the active question. Index is 1-based on the
// wire.
type NewQuestionPayload struct {
	Question string `json:"question"`
	Index    int    `json:"index"`
}

// WinnerPayload announces the winner of the current question together with
// the full ranking, score-descending.
type WinnerPayload struct {
	Username      string               `json:"username"`
	CorrectAnswer int                  `json:"correctAnswer"`
	Scores        []models.ScoreRecord `json:"scores"`
}

// AuthErrorPayload precedes a forced disconnect.
type AuthErrorPayload struct {
	Message string `json:"message"`
}

// AuthenticatePayload carries the bearer credential from a client.
type AuthenticatePayload struct {
	Token string `json:"token"`
}

// SubmitAnswerPayload carries an answer submission. The username field is
// accepted for wire compatibility but is never trusted; the award uses the
// connection's verified identity.
type SubmitAnswerPayload struct {
	Answer   FlexString `json:"answer"`
	Username string     `json:"username"`
}

// FlexString decodes from either a JSON string or a JSON number, since
// clients send answers both ways.
type FlexString string

func (s *FlexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = FlexString(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = FlexString(n.String())
	return nil
}

// NewEvent builds an envelope around the given payload.
func NewEvent(eventType EventType, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return &Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}, nil
}

func newQuestionEvent(q models.Question) (*Event, error) {
	return NewEvent(EventTypeNewQuestion, NewQuestionPayload{
		Question: q.Expression,
		Index:    q.Position + 1,
	})
}

func newWinnerEvent(username string, correctAnswer int, ranking []models.ScoreRecord) (*Event, error) {
	if ranking == nil {
		ranking = []models.ScoreRecord{}
	}
	return NewEvent(EventTypeWinner, WinnerPayload{
		Username:      username,
		CorrectAnswer: correctAnswer,
		Scores:        ranking,
	})
}

func newAuthErrorEvent(message string) (*Event, error) {
	return NewEvent(EventTypeAuthError, AuthErrorPayload{Message: message})
}
