package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Score is the outcome of scoring one forecast against a fact.
type Score struct {
	Error     decimal.Decimal
	Tolerance decimal.Decimal
	Accuracy  decimal.Decimal
	Unique    decimal.Decimal
	BinCount  int // k: forecasts sharing the bin
	Total     int // N: forecasts in the snapshot
	Payout    int64
}

// SettlementResult is the per-participant record emitted when a question settles.
type SettlementResult struct {
	SettlementID  string
	QuestionID    int64
	QuestionTitle string
	Kind          Kind
	Participant   Participant
	Forecast      decimal.Decimal
	Fact          decimal.Decimal
	Points        int64
	Score         Score
	Credited      int64
	Balance       int64
	SettledAt     time.Time
}

// BetPreview is returned when a bet is accepted. The uniqueness figures are
// computed against the bets placed so far and may change until settlement.
type BetPreview struct {
	Question     Question
	Forecast     decimal.Decimal
	Points       int64
	ClusterFrom  decimal.Decimal
	ClusterTo    decimal.Decimal
	BinCount     int
	Total        int
	Unique       decimal.Decimal
	Balance      int64
	Replaced     bool
	PointsBefore int64
}

// MyBet is one row of a participant's bet history.
type MyBet struct {
	Question Question
	Forecast decimal.Decimal
	Points   int64
	PlacedAt time.Time
}

// QuestionBet pairs a bet with its owner for operator listings.
type QuestionBet struct {
	Bet         Bet
	Participant Participant
}
