// Package models defines the core domain entities: participants, questions, bets
// and the records produced when a question is settled.
package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

// Kind is the answer type of a question. It is fixed at creation.
type Kind string

const (
	KindNumeric Kind = "NUM"
	KindTime    Kind = "TIME"
)

// ParseKind accepts the operator's free-text answer type ("num", "TIME", ...).
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToUpper(strings.TrimSpace(s))) {
	case KindNumeric:
		return KindNumeric, nil
	case KindTime:
		return KindTime, nil
	}
	return "", ErrInvalidKind
}

func (k Kind) Valid() bool {
	return k == KindNumeric || k == KindTime
}

// Status is the lifecycle state of a question. OPEN → SETTLED only.
type Status string

const (
	StatusOpen    Status = "OPEN"
	StatusSettled Status = "SETTLED"
)

// Question is a forecasting question published by an operator.
// Step and Fact hold exact decimals; for KindTime they are whole minutes.
type Question struct {
	ID           int64            `json:"id"`
	Title        string           `json:"title" validate:"required,min=3,max=512"`
	Kind         Kind             `json:"kind" validate:"required,oneof=NUM TIME"`
	Step         decimal.Decimal  `json:"step"`
	Status       Status           `json:"status" validate:"required,oneof=OPEN SETTLED"`
	Fact         *decimal.Decimal `json:"fact,omitempty"`
	SettlementID string           `json:"settlement_id,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	SettledAt    *time.Time       `json:"settled_at,omitempty"`
}

// Validate checks question field constraints.
func (q *Question) Validate() error {
	q.Title = strings.TrimSpace(q.Title)
	if err := validate.Struct(q); err != nil {
		return errors.Join(ErrInvalidQuestion, err)
	}
	if !q.Step.IsPositive() {
		return errors.Join(ErrInvalidQuestion, errors.New("step must be greater than zero"))
	}
	if q.Kind == KindTime && !q.Step.IsInteger() {
		return errors.Join(ErrInvalidQuestion, errors.New("time step must be whole minutes"))
	}
	if (q.Status == StatusSettled) != (q.Fact != nil) {
		return errors.Join(ErrInvalidQuestion, errors.New("fact must be present iff settled"))
	}
	return nil
}

func (q *Question) IsOpen() bool {
	return q.Status == StatusOpen
}

// Participant is a player identified by their chat user id.
type Participant struct {
	ID        int64     `json:"id" validate:"required"`
	Name      string    `json:"name" validate:"max=256"`
	Balance   int64     `json:"balance" validate:"gte=0"`
	CreatedAt time.Time `json:"created_at"`
}

// DisplayName falls back to the numeric id when no name is known.
func (p Participant) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return formatID(p.ID)
}

// Validate checks participant field constraints.
func (p *Participant) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid participant: %w", err)
	}
	return nil
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// Bet is the single live forecast of a participant on a question.
type Bet struct {
	ParticipantID int64           `json:"participant_id"`
	QuestionID    int64           `json:"question_id"`
	Forecast      decimal.Decimal `json:"forecast"`
	Points        int64           `json:"points"`
	CreatedAt     time.Time       `json:"created_at"`
}
