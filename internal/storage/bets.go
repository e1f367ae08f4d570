package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rewired-gh/forecastbot/internal/models"
	"github.com/shopspring/decimal"
)

// GetBet returns the participant's live bet on a question, or nil if none.
func (tx *Tx) GetBet(ctx context.Context, participantID, questionID int64) (*models.Bet, error) {
	row := tx.tx.QueryRowContext(ctx, `
		SELECT participant_id, question_id, forecast, points, created_at
		FROM bets WHERE participant_id = ? AND question_id = ?`,
		participantID, questionID)
	b, err := scanBet(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bet: %w", err)
	}
	return b, nil
}

// UpsertBet writes the participant's bet, replacing any previous one.
func (tx *Tx) UpsertBet(ctx context.Context, b *models.Bet) error {
	_, err := tx.tx.ExecContext(ctx, `
		INSERT INTO bets (participant_id, question_id, forecast, points, created_at)
		VALUES (?,?,?,?,?)
		ON CONFLICT (participant_id, question_id) DO UPDATE SET
			forecast = excluded.forecast,
			points = excluded.points,
			created_at = excluded.created_at`,
		b.ParticipantID, b.QuestionID, b.Forecast.String(), b.Points, b.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert bet: %w", err)
	}
	return nil
}

func (s *Storage) QuestionBets(ctx context.Context, questionID int64) ([]models.QuestionBet, error) {
	return questionBets(ctx, s.db, questionID)
}

// QuestionBets loads every live bet on a question with its owner.
func (tx *Tx) QuestionBets(ctx context.Context, questionID int64) ([]models.QuestionBet, error) {
	return questionBets(ctx, tx.tx, questionID)
}

func questionBets(ctx context.Context, q querier, questionID int64) ([]models.QuestionBet, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT b.participant_id, b.question_id, b.forecast, b.points, b.created_at,
		       p.name, p.balance, p.created_at
		FROM bets b
		JOIN participants p ON p.id = b.participant_id
		WHERE b.question_id = ?
		ORDER BY b.participant_id`, questionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query bets: %w", err)
	}
	defer rows.Close()

	bets := []models.QuestionBet{}
	for rows.Next() {
		var (
			qb            models.QuestionBet
			forecast      string
			betAtNano     int64
			createdAtNano int64
		)
		err := rows.Scan(
			&qb.Bet.ParticipantID, &qb.Bet.QuestionID, &forecast, &qb.Bet.Points, &betAtNano,
			&qb.Participant.Name, &qb.Participant.Balance, &createdAtNano,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bet: %w", err)
		}
		if qb.Bet.Forecast, err = decimal.NewFromString(forecast); err != nil {
			return nil, fmt.Errorf("corrupt forecast %q: %w", forecast, err)
		}
		qb.Bet.CreatedAt = time.Unix(0, betAtNano)
		qb.Participant.ID = qb.Bet.ParticipantID
		qb.Participant.CreatedAt = time.Unix(0, createdAtNano)
		bets = append(bets, qb)
	}
	return bets, rows.Err()
}

// ListParticipantBets returns a participant's bets, most recent first.
// A limit <= 0 returns all of them.
func (s *Storage) ListParticipantBets(ctx context.Context, participantID int64, limit int) ([]models.MyBet, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.forecast, b.points, b.created_at,
		       q.id, q.title, q.kind, q.step, q.status, q.fact, q.settlement_id, q.created_at, q.settled_at
		FROM bets b
		JOIN questions q ON q.id = b.question_id
		WHERE b.participant_id = ?
		ORDER BY b.created_at DESC, b.question_id DESC
		LIMIT ?`, participantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query participant bets: %w", err)
	}
	defer rows.Close()

	bets := []models.MyBet{}
	for rows.Next() {
		var (
			mb       models.MyBet
			forecast string
			placedAt int64
		)
		q, err := scanQuestion(func(dest ...any) error {
			return rows.Scan(append([]any{&forecast, &mb.Points, &placedAt}, dest...)...)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant bet: %w", err)
		}
		f, err := decimal.NewFromString(forecast)
		if err != nil {
			return nil, fmt.Errorf("corrupt forecast %q: %w", forecast, err)
		}
		mb.Question = *q
		mb.Forecast = f
		mb.PlacedAt = time.Unix(0, placedAt)
		bets = append(bets, mb)
	}
	return bets, rows.Err()
}

func scanBet(scan func(...any) error) (*models.Bet, error) {
	var (
		b             models.Bet
		forecast      string
		createdAtNano int64
	)
	if err := scan(&b.ParticipantID, &b.QuestionID, &forecast, &b.Points, &createdAtNano); err != nil {
		return nil, err
	}
	f, err := decimal.NewFromString(forecast)
	if err != nil {
		return nil, fmt.Errorf("corrupt forecast %q: %w", forecast, err)
	}
	b.Forecast = f
	b.CreatedAt = time.Unix(0, createdAtNano)
	return &b, nil
}
