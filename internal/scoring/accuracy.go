package scoring

import (
	"github.com/rewired-gh/forecastbot/internal/models"
	"github.com/shopspring/decimal"
)

var (
	accuracyPlaces int32 = 4
	payoutPlaces   int32 = 2
	two                  = decimal.NewFromInt(2)
)

// Tolerance is a forecast's personal tolerance: 10% of |forecast|,
// never below the question step.
func Tolerance(forecast, step decimal.Decimal) decimal.Decimal {
	t := forecast.Abs().Mul(ToleranceRate)
	if t.LessThan(step) {
		return step
	}
	return t
}

// AccuracyMultiplier decays linearly from 2 at an exact hit to 1 at the edge
// of the tolerance, and drops to 0 beyond it.
func AccuracyMultiplier(err, tolerance decimal.Decimal) decimal.Decimal {
	if err.GreaterThan(tolerance) {
		return decimal.Zero
	}
	if !tolerance.IsPositive() {
		// only reachable with err == tolerance == 0
		return two
	}
	return two.Sub(err.Div(tolerance)).Round(accuracyPlaces)
}

// Payout converts a stake into credited points. The product is rounded to
// cents and then floored to whole points.
func Payout(points int64, accuracy, unique decimal.Decimal) int64 {
	if accuracy.IsZero() {
		return 0
	}
	p := decimal.NewFromInt(points).Mul(accuracy).Mul(unique).Round(payoutPlaces)
	return p.Floor().IntPart()
}

// Score evaluates one forecast against the fact using a frozen census.
func Score(forecast, fact, step decimal.Decimal, points int64, census *Census) models.Score {
	errAbs := forecast.Sub(fact).Abs()
	tol := Tolerance(forecast, step)
	acc := AccuracyMultiplier(errAbs, tol)
	cl := census.Lookup(forecast)

	return models.Score{
		Error:     errAbs,
		Tolerance: tol,
		Accuracy:  acc,
		Unique:    cl.Unique,
		BinCount:  cl.Count,
		Total:     cl.Total,
		Payout:    Payout(points, acc, cl.Unique),
	}
}
