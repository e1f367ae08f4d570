// Package scoring implements forecast settlement arithmetic: uniqueness
// clustering, accuracy decay and payout.
package scoring

import (
	"sort"

	"github.com/shopspring/decimal"
)

var (
	// ToleranceRate scales both the cluster width and personal tolerance.
	ToleranceRate = decimal.RequireFromString("0.10")

	widthPlaces int32 = 4
	one               = decimal.NewFromInt(1)
)

// uniquenessTiers maps a bin's population share to a bonus. Each bound is
// inclusive and tiers are checked in order.
var uniquenessTiers = []struct {
	maxRatio   decimal.Decimal
	multiplier decimal.Decimal
}{
	{decimal.RequireFromString("0.07"), decimal.RequireFromString("2.8")},
	{decimal.RequireFromString("0.17"), decimal.RequireFromString("2.0")},
	{decimal.RequireFromString("0.40"), decimal.RequireFromString("1.4")},
}

var baseUniqueness = decimal.RequireFromString("1.1")

// UniquenessMultiplier returns K_unique for the share of forecasts that
// landed in the same bin.
func UniquenessMultiplier(ratio decimal.Decimal) decimal.Decimal {
	for _, tier := range uniquenessTiers {
		if ratio.LessThanOrEqual(tier.maxRatio) {
			return tier.multiplier
		}
	}
	return baseUniqueness
}

// ClusterWidth picks a single bin width W for a question:
// max(step, 10% of the median absolute forecast), rounded to 4 places.
// The median is taken in float64; it only steers the width.
func ClusterWidth(step decimal.Decimal, values []decimal.Decimal) decimal.Decimal {
	fallback := step
	if !step.IsPositive() {
		fallback = one
	}
	if len(values) == 0 {
		return fallback
	}

	abs := make([]float64, len(values))
	for i, v := range values {
		abs[i] = v.Abs().InexactFloat64()
	}

	w := decimal.NewFromFloat(median(abs)).Mul(ToleranceRate)
	if !w.IsPositive() {
		w = fallback
	}
	if step.IsPositive() && w.LessThan(step) {
		w = step
	}
	// a step finer than widthPlaces would otherwise round to a zero width
	if w = w.Round(widthPlaces); !w.IsPositive() {
		return fallback
	}
	return w
}

func median(xs []float64) float64 {
	sort.Float64s(xs)
	n := len(xs)
	if n%2 == 1 {
		return xs[n/2]
	}
	return (xs[n/2-1] + xs[n/2]) / 2
}

// Bin returns floor(v / w), rounding toward negative infinity.
func Bin(v, w decimal.Decimal) int64 {
	q, r := v.QuoRem(w, 0)
	if !r.IsZero() && r.Sign() != w.Sign() {
		q = q.Sub(one)
	}
	return q.IntPart()
}

// Census is a frozen bin count over one snapshot of a question's forecasts.
type Census struct {
	Width  decimal.Decimal
	counts map[int64]int
	total  int
}

// Cluster describes where a forecast falls within a Census.
type Cluster struct {
	Bin    int64
	From   decimal.Decimal
	To     decimal.Decimal
	Count  int
	Total  int
	Ratio  decimal.Decimal
	Unique decimal.Decimal
}

// NewCensus computes the width once and bins every value against it.
func NewCensus(step decimal.Decimal, values []decimal.Decimal) *Census {
	c := &Census{
		Width:  ClusterWidth(step, values),
		counts: make(map[int64]int, len(values)),
		total:  len(values),
	}
	for _, v := range values {
		c.counts[Bin(v, c.Width)]++
	}
	return c
}

// Total is the number of forecasts in the snapshot (N).
func (c *Census) Total() int {
	return c.total
}

// Lookup places v in the census. v is expected to be part of the snapshot;
// the population share is 1 when the snapshot is empty.
func (c *Census) Lookup(v decimal.Decimal) Cluster {
	bin := Bin(v, c.Width)
	k := c.counts[bin]

	ratio := one
	if c.total > 0 {
		ratio = decimal.NewFromInt(int64(k)).Div(decimal.NewFromInt(int64(c.total)))
	}

	from := decimal.NewFromInt(bin).Mul(c.Width)
	return Cluster{
		Bin:    bin,
		From:   from,
		To:     from.Add(c.Width),
		Count:  k,
		Total:  c.total,
		Ratio:  ratio,
		Unique: UniquenessMultiplier(ratio),
	}
}
