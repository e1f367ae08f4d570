// Package codec parses user-entered numeric and clock-time answers into exact
// decimals and renders them back for display.
//
// NUM values are arbitrary-precision decimals. TIME values are whole minutes
// since midnight carried in the same decimal type so scoring code never has
// to branch on the answer kind.
package codec

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rewired-gh/forecastbot/internal/models"
	"github.com/shopspring/decimal"
)

const (
	MinutesPerDay = 24 * 60

	// MaxTimeStep bounds the step of a TIME question, in minutes.
	MaxTimeStep = 240

	// MaxStepPlaces bounds the fractional digits of a NUM step. Cluster
	// widths are kept to the same precision.
	MaxStepPlaces = 4

	maxNumberLen = 32
)

var plainNumber = regexp.MustCompile(`^[+-]?\d+(\.\d+)?$`)

// Parse validates a forecast for a question of the given kind and step.
// A zero step disables the multiple-of-step check.
func Parse(text string, kind models.Kind, step decimal.Decimal) (decimal.Decimal, error) {
	v, err := ParseFact(text, kind)
	if err != nil {
		return decimal.Zero, err
	}
	if !IsMultiple(v, step) {
		return decimal.Zero, fmt.Errorf("%w: %s is not a multiple of %s", models.ErrInvalidStep, text, step.String())
	}
	return v, nil
}

// ParseFact parses a published outcome. Any well-formed value is accepted;
// facts are not required to sit on the step grid.
func ParseFact(text string, kind models.Kind) (decimal.Decimal, error) {
	switch kind {
	case models.KindNumeric:
		return parseNumber(text)
	case models.KindTime:
		m, err := parseClock(text)
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromInt(int64(m)), nil
	}
	return decimal.Zero, models.ErrInvalidKind
}

// ParseStep parses the step of a new question.
func ParseStep(text string, kind models.Kind) (decimal.Decimal, error) {
	switch kind {
	case models.KindNumeric:
		step, err := parseNumber(text)
		if err != nil {
			return decimal.Zero, err
		}
		if !step.IsPositive() {
			return decimal.Zero, fmt.Errorf("%w: step must be greater than zero", models.ErrInvalidFormat)
		}
		if !step.Equal(step.Truncate(MaxStepPlaces)) {
			return decimal.Zero, fmt.Errorf("%w: step must have at most %d decimal places", models.ErrInvalidFormat, MaxStepPlaces)
		}
		return step, nil
	case models.KindTime:
		s := strings.TrimSpace(text)
		if !isDigits(s) {
			return decimal.Zero, fmt.Errorf("%w: step must be a whole number of minutes", models.ErrInvalidFormat)
		}
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > MaxTimeStep {
			return decimal.Zero, fmt.Errorf("%w: step must be between 1 and %d minutes", models.ErrInvalidFormat, MaxTimeStep)
		}
		return decimal.NewFromInt(int64(n)), nil
	}
	return decimal.Zero, models.ErrInvalidKind
}

// IsMultiple reports whether v sits exactly on the step grid.
func IsMultiple(v, step decimal.Decimal) bool {
	if step.IsZero() {
		return true
	}
	return v.Mod(step).IsZero()
}

func parseNumber(text string) (decimal.Decimal, error) {
	s := strings.ReplaceAll(strings.TrimSpace(text), ",", ".")
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: empty number", models.ErrInvalidFormat)
	}
	// NewFromString also takes exponents, which Mod would expand digit by digit
	if len(s) > maxNumberLen || !plainNumber.MatchString(s) {
		return decimal.Zero, fmt.Errorf("%w: %q is not a plain number", models.ErrInvalidFormat, text)
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a number", models.ErrInvalidFormat, text)
	}
	return v, nil
}

// parseClock converts H:MM or HH:MM to minutes since midnight.
func parseClock(text string) (int, error) {
	s := strings.TrimSpace(text)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok || !isDigits(hh) || !isDigits(mm) {
		return 0, fmt.Errorf("%w: %q is not HH:MM", models.ErrInvalidFormat, text)
	}
	h, errH := strconv.Atoi(hh)
	m, errM := strconv.Atoi(mm)
	if errH != nil || errM != nil || h > 23 || m > 59 {
		return 0, fmt.Errorf("%w: %q is not a valid time of day", models.ErrInvalidFormat, text)
	}
	return h*60 + m, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
