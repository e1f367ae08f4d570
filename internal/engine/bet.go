package engine

import (
	"context"
	"fmt"

	"github.com/rewired-gh/forecastbot/internal/codec"
	"github.com/rewired-gh/forecastbot/internal/logger"
	"github.com/rewired-gh/forecastbot/internal/models"
	"github.com/rewired-gh/forecastbot/internal/scoring"
	"github.com/rewired-gh/forecastbot/internal/storage"
	"github.com/shopspring/decimal"
)

// PlaceBet records or replaces a participant's forecast on an open question.
//
// Only the difference between the new and the previous stake moves through
// the ledger: raising a bet debits the delta, lowering it refunds. The
// returned preview scores the forecast against the bets placed so far, so
// its uniqueness figures are provisional until settlement.
func (e *Engine) PlaceBet(ctx context.Context, p models.Participant, questionID int64, rawForecast string, points int64) (*models.BetPreview, error) {
	var (
		preview *models.BetPreview
		kind    = "unknown"
		delta   int64
	)
	err := func() error {
		if err := e.validatePoints(points); err != nil {
			return err
		}

		unlock := e.participantLocks.Lock(p.ID)
		defer unlock()

		return e.store.InTx(ctx, func(tx *storage.Tx) error {
			q, err := tx.GetQuestion(ctx, questionID)
			if err != nil {
				return err
			}
			kind = string(q.Kind)
			if !q.IsOpen() {
				return fmt.Errorf("%w: #%d", models.ErrQuestionClosed, q.ID)
			}
			forecast, err := codec.Parse(rawForecast, q.Kind, q.Step)
			if err != nil {
				return err
			}

			if err := tx.UpsertParticipant(ctx, p); err != nil {
				return err
			}
			prev, err := tx.GetBet(ctx, p.ID, q.ID)
			if err != nil {
				return err
			}
			var before int64
			if prev != nil {
				before = prev.Points
			}

			delta = points - before
			balance, err := tx.Balance(ctx, p.ID)
			if err != nil {
				return err
			}
			if delta != 0 {
				if balance, err = tx.AdjustBalance(ctx, p.ID, -delta); err != nil {
					return err
				}
			}

			err = tx.UpsertBet(ctx, &models.Bet{
				ParticipantID: p.ID,
				QuestionID:    q.ID,
				Forecast:      forecast,
				Points:        points,
				CreatedAt:     e.now(),
			})
			if err != nil {
				return err
			}

			bets, err := tx.QuestionBets(ctx, q.ID)
			if err != nil {
				return err
			}
			cl := scoring.NewCensus(q.Step, forecasts(bets)).Lookup(forecast)

			preview = &models.BetPreview{
				Question:     *q,
				Forecast:     forecast,
				Points:       points,
				ClusterFrom:  cl.From,
				ClusterTo:    cl.To,
				BinCount:     cl.Count,
				Total:        cl.Total,
				Unique:       cl.Unique,
				Balance:      balance,
				Replaced:     prev != nil,
				PointsBefore: before,
			}
			return nil
		})
	}()

	if err != nil {
		delta = 0
	}
	e.metrics.BetPlaced(kind, outcome(err), delta)
	if err != nil {
		logger.Debug("Bet by %d on #%d rejected: %v", p.ID, questionID, err)
		return nil, err
	}
	logger.Info("Bet by %d on #%d: %s x %d points (delta %+d, balance %d)",
		p.ID, questionID, preview.Forecast, points, delta, preview.Balance)
	return preview, nil
}

func forecasts(bets []models.QuestionBet) []decimal.Decimal {
	out := make([]decimal.Decimal, len(bets))
	for i, b := range bets {
		out[i] = b.Bet.Forecast
	}
	return out
}
