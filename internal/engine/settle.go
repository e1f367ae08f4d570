package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/forecastbot/internal/codec"
	"github.com/rewired-gh/forecastbot/internal/logger"
	"github.com/rewired-gh/forecastbot/internal/models"
	"github.com/rewired-gh/forecastbot/internal/scoring"
	"github.com/rewired-gh/forecastbot/internal/storage"
	"golang.org/x/sync/errgroup"
)

// Settle publishes the fact for an open question, scores every bet and
// credits the ledger. The status change, scoring and credits commit as one
// transaction; a question is settled at most once.
//
// Result notifications are sent after the commit and their failures do not
// affect the returned results.
func (e *Engine) Settle(ctx context.Context, questionID int64, rawFact string) ([]models.SettlementResult, error) {
	unlock := e.questionLocks.Lock(questionID)
	defer unlock()

	start := time.Now()
	results, err := e.settle(ctx, questionID, rawFact)

	var credited int64
	for _, r := range results {
		credited += r.Credited
	}
	e.metrics.Settlement(outcome(err), len(results), credited, time.Since(start))
	if err != nil {
		logger.Warn("Settlement of #%d refused: %v", questionID, err)
		return nil, err
	}

	e.dispatch(ctx, results)
	return results, nil
}

func (e *Engine) settle(ctx context.Context, questionID int64, rawFact string) ([]models.SettlementResult, error) {
	q, err := e.store.GetQuestion(ctx, questionID)
	if err != nil {
		return nil, err
	}
	if !q.IsOpen() {
		return nil, fmt.Errorf("%w: #%d", models.ErrAlreadySettled, q.ID)
	}
	fact, err := codec.ParseFact(rawFact, q.Kind)
	if err != nil {
		return nil, err
	}

	settlementID := uuid.NewString()
	settledAt := e.now()

	var results []models.SettlementResult
	err = e.store.InTx(ctx, func(tx *storage.Tx) error {
		ok, err := tx.MarkSettled(ctx, q.ID, fact, settlementID, settledAt)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: #%d", models.ErrAlreadySettled, q.ID)
		}

		bets, err := tx.QuestionBets(ctx, q.ID)
		if err != nil {
			return err
		}
		census := scoring.NewCensus(q.Step, forecasts(bets))

		results = make([]models.SettlementResult, 0, len(bets))
		for _, qb := range bets {
			score := scoring.Score(qb.Bet.Forecast, fact, q.Step, qb.Bet.Points, census)
			balance, err := tx.Credit(ctx, qb.Participant.ID, score.Payout)
			if err != nil {
				return fmt.Errorf("failed to credit participant %d: %w", qb.Participant.ID, err)
			}
			participant := qb.Participant
			participant.Balance = balance
			results = append(results, models.SettlementResult{
				SettlementID:  settlementID,
				QuestionID:    q.ID,
				QuestionTitle: q.Title,
				Kind:          q.Kind,
				Participant:   participant,
				Forecast:      qb.Bet.Forecast,
				Fact:          fact,
				Points:        qb.Bet.Points,
				Score:         score,
				Credited:      score.Payout,
				Balance:       balance,
				SettledAt:     settledAt,
			})
		}
		logger.Debug("Settlement %s: width %s over %d bets", settlementID, census.Width, census.Total())
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Question #%d settled with fact %s (settlement %s, %d bets)",
		q.ID, codec.Format(fact, q.Kind), settlementID, len(results))
	return results, nil
}

// dispatch fans results out to the notifier. Every delivery is attempted;
// a failure is logged and counted, never propagated.
func (e *Engine) dispatch(ctx context.Context, results []models.SettlementResult) {
	if e.notifier == nil || len(results) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(e.config.NotifyConcurrency)
	for _, r := range results {
		g.Go(func() error {
			if err := e.notifier.NotifyResult(ctx, r); err != nil {
				logger.Warn("Failed to notify participant %d about #%d: %v", r.Participant.ID, r.QuestionID, err)
				e.metrics.Notification(false)
				return nil
			}
			e.metrics.Notification(true)
			return nil
		})
	}
	_ = g.Wait()
}
