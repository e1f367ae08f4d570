package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rewired-gh/forecastbot/internal/models"
)

// UpsertParticipant registers a participant with the seed balance on first
// contact. A non-empty name replaces the stored display name.
func (s *Storage) UpsertParticipant(ctx context.Context, p models.Participant) error {
	return upsertParticipant(ctx, s.db, p, s.startBalance)
}

func (tx *Tx) UpsertParticipant(ctx context.Context, p models.Participant) error {
	return upsertParticipant(ctx, tx.tx, p, tx.startBalance)
}

func upsertParticipant(ctx context.Context, q querier, p models.Participant, seed int64) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO participants (id, name, balance, created_at)
		VALUES (?,?,?,?)
		ON CONFLICT (id) DO UPDATE SET
			name = CASE WHEN excluded.name <> '' THEN excluded.name ELSE participants.name END`,
		p.ID, p.Name, seed, p.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert participant: %w", err)
	}
	return nil
}

// Participant returns a registered participant.
func (s *Storage) Participant(ctx context.Context, id int64) (*models.Participant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, balance, created_at FROM participants WHERE id = ?`, id)
	var (
		p             models.Participant
		createdAtNano int64
	)
	err := row.Scan(&p.ID, &p.Name, &p.Balance, &createdAtNano)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", models.ErrParticipantNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	p.CreatedAt = time.Unix(0, createdAtNano)
	return &p, nil
}

// Balance returns the spendable points of a participant. Unknown
// participants report the seed balance.
func (s *Storage) Balance(ctx context.Context, id int64) (int64, error) {
	return balance(ctx, s.db, id, s.startBalance)
}

func (tx *Tx) Balance(ctx context.Context, id int64) (int64, error) {
	return balance(ctx, tx.tx, id, tx.startBalance)
}

func balance(ctx context.Context, q querier, id, seed int64) (int64, error) {
	var bal int64
	err := q.QueryRowContext(ctx, `SELECT balance FROM participants WHERE id = ?`, id).Scan(&bal)
	if errors.Is(err, sql.ErrNoRows) {
		return seed, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	return bal, nil
}

// AdjustBalance adds delta (possibly negative) to a registered participant's
// balance and returns the new balance. A debit larger than the balance fails
// with *models.InsufficientBalanceError and leaves the balance untouched.
func (tx *Tx) AdjustBalance(ctx context.Context, id, delta int64) (int64, error) {
	res, err := tx.tx.ExecContext(ctx, `
		UPDATE participants SET balance = balance + ?
		WHERE id = ? AND balance + ? >= 0`, delta, id, delta)
	if err != nil {
		return 0, fmt.Errorf("failed to adjust balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to adjust balance: %w", err)
	}
	if n == 0 {
		var have int64
		err := tx.tx.QueryRowContext(ctx, `SELECT balance FROM participants WHERE id = ?`, id).Scan(&have)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%w: %d", models.ErrParticipantNotFound, id)
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read balance: %w", err)
		}
		return 0, &models.InsufficientBalanceError{Need: -delta, Have: have}
	}
	return tx.Balance(ctx, id)
}

// Credit adds a non-negative amount to a participant's balance.
func (tx *Tx) Credit(ctx context.Context, id, amount int64) (int64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("credit must not be negative: %d", amount)
	}
	return tx.AdjustBalance(ctx, id, amount)
}
