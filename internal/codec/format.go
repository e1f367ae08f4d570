package codec

import (
	"fmt"

	"github.com/rewired-gh/forecastbot/internal/models"
	"github.com/shopspring/decimal"
)

// Format renders a stored forecast or fact. NUM values keep their exact
// digits with at least one decimal place so that Parse(Format(v)) == v.
func Format(v decimal.Decimal, kind models.Kind) string {
	if kind == models.KindTime {
		return Clock(v.Floor().IntPart())
	}
	if v.IsInteger() {
		return v.StringFixed(1)
	}
	return v.String()
}

// FormatRounded renders a derived quantity such as a cluster bound.
// NUM values are rounded half-up to one decimal place for display only.
func FormatRounded(v decimal.Decimal, kind models.Kind) string {
	if kind == models.KindTime {
		return Clock(v.Floor().IntPart())
	}
	return v.StringFixed(1)
}

// FormatSpan renders a distance (error or tolerance). TIME spans are minutes.
func FormatSpan(v decimal.Decimal, kind models.Kind) string {
	if kind == models.KindTime {
		return fmt.Sprintf("%d min", v.Floor().IntPart())
	}
	return v.StringFixed(1)
}

// FormatStep renders a question's step.
func FormatStep(step decimal.Decimal, kind models.Kind) string {
	if kind == models.KindTime {
		return fmt.Sprintf("%d min", step.IntPart())
	}
	return step.String()
}

// Clock renders minutes since midnight as HH:MM, wrapping modulo one day.
func Clock(minutes int64) string {
	m := minutes % MinutesPerDay
	if m < 0 {
		m += MinutesPerDay
	}
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}
