// Package engine runs the forecasting game: question lifecycle, bet placement
// against the balance ledger, and settlement.
//
// The engine owns all consistency rules. Chat transport, dialogue state and
// rendering live outside it and reach it only through the methods below.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rewired-gh/forecastbot/internal/codec"
	"github.com/rewired-gh/forecastbot/internal/logger"
	"github.com/rewired-gh/forecastbot/internal/metrics"
	"github.com/rewired-gh/forecastbot/internal/models"
	"github.com/rewired-gh/forecastbot/internal/storage"
)

var validate = validator.New()

// Notifier delivers a settlement result to its participant. Delivery is
// best-effort; errors are logged and never roll back a settlement.
type Notifier interface {
	NotifyResult(ctx context.Context, result models.SettlementResult) error
}

type Config struct {
	MinPoints         int64
	MaxPoints         int64
	NotifyConcurrency int
	MyBetsLimit       int
}

func DefaultConfig() Config {
	return Config{
		MinPoints:         1,
		MaxPoints:         10_000,
		NotifyConcurrency: 8,
		MyBetsLimit:       20,
	}
}

type Engine struct {
	store    *storage.Storage
	notifier Notifier
	metrics  *metrics.Metrics
	config   Config
	now      func() time.Time

	participantLocks keyedMutex
	questionLocks    keyedMutex
}

// New creates an engine. notifier and m may be nil.
func New(store *storage.Storage, notifier Notifier, m *metrics.Metrics, config Config) *Engine {
	if config.NotifyConcurrency <= 0 {
		config.NotifyConcurrency = DefaultConfig().NotifyConcurrency
	}
	return &Engine{
		store:    store,
		notifier: notifier,
		metrics:  m,
		config:   config,
		now:      time.Now,
	}
}

// SetNotifier replaces the result notifier. The transport is usually built
// after the engine since it needs the engine to serve commands.
func (e *Engine) SetNotifier(n Notifier) {
	e.notifier = n
}

func (e *Engine) Config() Config {
	return e.config
}

// CreateQuestion validates and publishes a new OPEN question.
func (e *Engine) CreateQuestion(ctx context.Context, title string, kind models.Kind, rawStep string) (int64, error) {
	if !kind.Valid() {
		return 0, models.ErrInvalidKind
	}
	step, err := codec.ParseStep(rawStep, kind)
	if err != nil {
		return 0, err
	}
	q := &models.Question{
		Title:     strings.TrimSpace(title),
		Kind:      kind,
		Step:      step,
		Status:    models.StatusOpen,
		CreatedAt: e.now(),
	}
	id, err := e.store.CreateQuestion(ctx, q)
	if err != nil {
		return 0, err
	}
	logger.Info("Question #%d created (%s, step %s): %s", id, kind, step, q.Title)
	return id, nil
}

// ListOpenQuestions returns questions still accepting bets, newest first.
func (e *Engine) ListOpenQuestions(ctx context.Context) ([]models.Question, error) {
	return e.store.ListOpenQuestions(ctx)
}

func (e *Engine) GetQuestion(ctx context.Context, id int64) (*models.Question, error) {
	return e.store.GetQuestion(ctx, id)
}

// QuestionBets lists the live bets on a question with their owners.
func (e *Engine) QuestionBets(ctx context.Context, id int64) (*models.Question, []models.QuestionBet, error) {
	q, err := e.store.GetQuestion(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	bets, err := e.store.QuestionBets(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return q, bets, nil
}

// ListMyBets returns a participant's most recent bets, newest first.
func (e *Engine) ListMyBets(ctx context.Context, participantID int64) ([]models.MyBet, error) {
	return e.store.ListParticipantBets(ctx, participantID, e.config.MyBetsLimit)
}

// Touch registers a participant on first contact, refreshes their name and
// returns the stored record with its current balance.
func (e *Engine) Touch(ctx context.Context, p models.Participant) (*models.Participant, error) {
	if err := e.store.UpsertParticipant(ctx, p); err != nil {
		return nil, err
	}
	return e.store.Participant(ctx, p.ID)
}

// Balance returns a participant's spendable points.
func (e *Engine) Balance(ctx context.Context, participantID int64) (int64, error) {
	return e.store.Balance(ctx, participantID)
}

// outcome classifies an engine error into a metrics label.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, models.ErrInvalidFormat):
		return "invalid_format"
	case errors.Is(err, models.ErrInvalidStep):
		return "invalid_step"
	case errors.Is(err, models.ErrInvalidPoints):
		return "invalid_points"
	case errors.Is(err, models.ErrQuestionNotFound):
		return "not_found"
	case errors.Is(err, models.ErrQuestionClosed):
		return "closed"
	case errors.Is(err, models.ErrAlreadySettled):
		return "already_settled"
	case errors.Is(err, models.ErrInsufficientBalance):
		return "insufficient_balance"
	}
	return "error"
}

func (e *Engine) validatePoints(points int64) error {
	if err := validate.Var(points, fmt.Sprintf("gte=%d,lte=%d", e.config.MinPoints, e.config.MaxPoints)); err != nil {
		return fmt.Errorf("%w: %d not in [%d, %d]", models.ErrInvalidPoints, points, e.config.MinPoints, e.config.MaxPoints)
	}
	return nil
}
