package models

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidFormat       = errors.New("invalid value format")
	ErrInvalidStep         = errors.New("value is not a multiple of the question step")
	ErrInvalidKind         = errors.New("answer kind must be NUM or TIME")
	ErrInvalidQuestion     = errors.New("invalid question")
	ErrInvalidPoints       = errors.New("points out of range")
	ErrQuestionNotFound    = errors.New("question not found")
	ErrQuestionClosed      = errors.New("question is closed")
	ErrAlreadySettled      = errors.New("question already settled")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrParticipantNotFound = errors.New("participant not found")
)

// InsufficientBalanceError reports the shortfall of a rejected bet.
// It matches ErrInsufficientBalance under errors.Is.
type InsufficientBalanceError struct {
	Need int64
	Have int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: need %d, have %d", e.Need, e.Have)
}

func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

// Shortfall is the number of points missing to place the bet.
func (e *InsufficientBalanceError) Shortfall() int64 {
	return e.Need - e.Have
}
