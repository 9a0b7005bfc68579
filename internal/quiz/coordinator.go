package quiz

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/quizkit/mathrush/internal/models"
	"github.com/rs/zerolog/log"
)

// Broadcaster defines what the coordinator needs to fan events out to
// connected participants.
type Broadcaster interface {
	BroadcastQuestion(q models.Question)
	BroadcastWinner(username string, correctAnswer int, ranking []models.ScoreRecord)
}

// ScoreSink defines what the coordinator needs from the score store. The
// coordinator requests increments; it never caches or owns scores.
type ScoreSink interface {
	IncrementScore(ctx context.Context, username string) (*models.ScoreRecord, error)
	RankAll(ctx context.Context) ([]models.ScoreRecord, error)
}

// Coordinator runs one quiz session: it tracks the current question, decides
// the single winner per question under concurrent submissions, and advances
// to the next question after a fixed delay.
//
// The index and answered flag are the only shared mutable state in the
// system. Every submission passes through the same mutex, so exactly one
// correct submission per question observes answered == false and flips it;
// everything after that is a silent no-op.
type Coordinator struct {
	broadcaster  Broadcaster
	scores       ScoreSink
	clock        clockwork.Clock
	advanceDelay time.Duration

	mu        sync.Mutex
	questions []models.Question
	index     int
	answered  bool
	finished  bool
}

// NewCoordinator creates a coordinator over a fixed question set.
func NewCoordinator(questions []models.Question, broadcaster Broadcaster, scores ScoreSink, advanceDelay time.Duration) *Coordinator {
	return &Coordinator{
		broadcaster:  broadcaster,
		scores:       scores,
		clock:        clockwork.NewRealClock(),
		advanceDelay: advanceDelay,
		questions:    questions,
	}
}

// Start broadcasts the first question. An empty question set finishes the
// session immediately.
func (c *Coordinator) Start() {
	c.mu.Lock()
	if len(c.questions) == 0 {
		c.finished = true
		c.mu.Unlock()
		log.Info().Msg("no questions generated, session finished")
		return
	}
	q := c.questions[0]
	c.answered = false
	c.mu.Unlock()

	log.Info().Int("questions", len(c.questions)).Msg("session started")
	c.broadcaster.BroadcastQuestion(q)
}

// SubmitAnswer arbitrates one answer submission. Unparseable values and
// wrong answers change nothing. The first correct submission for the current
// question wins; later correct submissions are dropped silently, matching
// the tolerance for late answers rather than surfacing an error.
func (c *Coordinator) SubmitAnswer(ctx context.Context, username, raw string) {
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return
	}

	c.mu.Lock()
	if c.finished || c.answered {
		c.mu.Unlock()
		return
	}
	q := c.questions[c.index]
	if value != float64(q.Answer) {
		c.mu.Unlock()
		return
	}
	c.answered = true
	c.mu.Unlock()

	log.Info().
		Str("username", username).
		Int("question", q.Position).
		Msg("question answered")

	c.award(ctx, username, q)

	// Fire-and-forget: the session always advances after the delay,
	// regardless of anything that happens in between.
	c.clock.AfterFunc(c.advanceDelay, c.advance)
}

// award applies the score increment and broadcasts the winner. A missing
// user row skips the increment but the winner event still goes out with the
// verified identity.
func (c *Coordinator) award(ctx context.Context, username string, q models.Question) {
	if _, err := c.scores.IncrementScore(ctx, username); err != nil {
		log.Warn().Err(err).Str("username", username).Msg("score increment skipped")
	}

	// Ranking is fetched after the increment so the snapshot reflects it.
	ranking, err := c.scores.RankAll(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to fetch ranking")
	}

	c.broadcaster.BroadcastWinner(username, q.Answer, ranking)
}

func (c *Coordinator) advance() {
	c.mu.Lock()
	c.index++
	if c.index >= len(c.questions) {
		c.finished = true
		c.mu.Unlock()
		log.Info().Msg("question set exhausted, session finished")
		return
	}
	c.answered = false
	q := c.questions[c.index]
	c.mu.Unlock()

	c.broadcaster.BroadcastQuestion(q)
}

// CurrentQuestion returns the active question for late-joiner snapshots.
// The second result is false once the session has finished.
func (c *Coordinator) CurrentQuestion() (models.Question, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return models.Question{}, false
	}
	return c.questions[c.index], true
}
