package codec

import (
	"errors"
	"strings"
	"testing"

	"github.com/rewired-gh/forecastbot/internal/models"
	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestParseNumeric(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		step    string
		want    string
		wantErr error
	}{
		{"integer", "10", "1", "10", nil},
		{"dot separator", "2.5", "0.5", "2.5", nil},
		{"comma separator", "2,5", "0.5", "2.5", nil},
		{"surrounding spaces", "  7  ", "1", "7", nil},
		{"negative", "-3", "1", "-3", nil},
		{"fine step", "0.30", "0.1", "0.3", nil},
		{"not a multiple", "2.3", "0.5", "", models.ErrInvalidStep},
		{"not a multiple of integer step", "7", "5", "", models.ErrInvalidStep},
		{"garbage", "abc", "1", "", models.ErrInvalidFormat},
		{"empty", "   ", "1", "", models.ErrInvalidFormat},
		{"two separators", "1.2.3", "0.1", "", models.ErrInvalidFormat},
		{"zero step accepts anything", "1.234", "0", "1.234", nil},
		{"exponent", "1e3", "1", "", models.ErrInvalidFormat},
		{"huge exponent", "1e30000000", "1", "", models.ErrInvalidFormat},
		{"negative exponent", "5E-2", "0.01", "", models.ErrInvalidFormat},
		{"too long", "1" + strings.Repeat("0", 40), "1", "", models.ErrInvalidFormat},
		{"leading dot", ".5", "0.5", "", models.ErrInvalidFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input, models.KindNumeric, d(tt.step))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Parse(%q) error = %v, want %v", tt.input, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.input, err)
			}
			if !got.Equal(d(tt.want)) {
				t.Errorf("Parse(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		step    int64
		want    int64
		wantErr error
	}{
		{"on step", "09:05", 5, 545, nil},
		{"off step", "09:07", 5, 0, models.ErrInvalidStep},
		{"single digit hour", "9:30", 15, 570, nil},
		{"midnight", "00:00", 10, 0, nil},
		{"last minute", "23:59", 1, 1439, nil},
		{"hour out of range", "24:00", 1, 0, models.ErrInvalidFormat},
		{"minute out of range", "12:60", 1, 0, models.ErrInvalidFormat},
		{"missing colon", "0905", 5, 0, models.ErrInvalidFormat},
		{"signed", "-1:00", 1, 0, models.ErrInvalidFormat},
		{"empty minutes", "12:", 1, 0, models.ErrInvalidFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input, models.KindTime, decimal.NewFromInt(tt.step))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Parse(%q) error = %v, want %v", tt.input, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.input, err)
			}
			if got.IntPart() != tt.want {
				t.Errorf("Parse(%q) = %s, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseFactIgnoresStep(t *testing.T) {
	v, err := ParseFact("09:07", models.KindTime)
	if err != nil {
		t.Fatalf("ParseFact: %v", err)
	}
	if v.IntPart() != 547 {
		t.Errorf("got %s, want 547", v)
	}

	if _, err := ParseFact("10:75", models.KindTime); !errors.Is(err, models.ErrInvalidFormat) {
		t.Errorf("expected ErrInvalidFormat, got %v", err)
	}
	if _, err := ParseFact("12,34", models.KindNumeric); err != nil {
		t.Errorf("ParseFact numeric: %v", err)
	}
	if _, err := ParseFact("1e2000000000", models.KindNumeric); !errors.Is(err, models.ErrInvalidFormat) {
		t.Errorf("exponent fact: expected ErrInvalidFormat, got %v", err)
	}
}

func TestParseStep(t *testing.T) {
	tests := []struct {
		input   string
		kind    models.Kind
		wantErr bool
	}{
		{"1", models.KindNumeric, false},
		{"0,5", models.KindNumeric, false},
		{"0", models.KindNumeric, true},
		{"-1", models.KindNumeric, true},
		{"0.0001", models.KindNumeric, false},
		{"0.00001", models.KindNumeric, true},
		{"0.50000", models.KindNumeric, false},
		{"0.00005", models.KindNumeric, true},
		{"1e-5", models.KindNumeric, true},
		{"15", models.KindTime, false},
		{"240", models.KindTime, false},
		{"241", models.KindTime, true},
		{"0", models.KindTime, true},
		{"2.5", models.KindTime, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind)+"/"+tt.input, func(t *testing.T) {
			_, err := ParseStep(tt.input, tt.kind)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseStep(%q, %s) error = %v, wantErr %v", tt.input, tt.kind, err, tt.wantErr)
			}
		})
	}
}

func TestFormatRoundTrip(t *testing.T) {
	for _, s := range []string{"10", "-3", "0", "2.5", "1.25", "0.001", "123456789.123"} {
		v := d(s)
		out := Format(v, models.KindNumeric)
		back, err := ParseFact(out, models.KindNumeric)
		if err != nil {
			t.Fatalf("ParseFact(%q): %v", out, err)
		}
		if !back.Equal(v) {
			t.Errorf("round trip %s -> %q -> %s", s, out, back)
		}
	}

	for m := int64(0); m < MinutesPerDay; m += 7 {
		out := Format(decimal.NewFromInt(m), models.KindTime)
		back, err := ParseFact(out, models.KindTime)
		if err != nil {
			t.Fatalf("ParseFact(%q): %v", out, err)
		}
		if back.IntPart() != m {
			t.Errorf("round trip %d -> %q -> %s", m, out, back)
		}
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		v    decimal.Decimal
		kind models.Kind
		want string
	}{
		{d("10"), models.KindNumeric, "10.0"},
		{d("1.25"), models.KindNumeric, "1.25"},
		{d("545"), models.KindTime, "09:05"},
		{d("1440"), models.KindTime, "00:00"},
		{d("1500"), models.KindTime, "01:00"},
		{d("-60"), models.KindTime, "23:00"},
	}
	for _, tt := range tests {
		if got := Format(tt.v, tt.kind); got != tt.want {
			t.Errorf("Format(%s, %s) = %q, want %q", tt.v, tt.kind, got, tt.want)
		}
	}

	if got := FormatRounded(d("1.25"), models.KindNumeric); got != "1.3" {
		t.Errorf("FormatRounded(1.25) = %q, want 1.3", got)
	}
	if got := FormatRounded(d("-1.25"), models.KindNumeric); got != "-1.3" {
		t.Errorf("FormatRounded(-1.25) = %q, want -1.3", got)
	}
	if got := FormatRounded(d("547.5"), models.KindTime); got != "09:07" {
		t.Errorf("FormatRounded(547.5, TIME) = %q, want 09:07", got)
	}
	if got := FormatSpan(d("54.5"), models.KindTime); got != "54 min" {
		t.Errorf("FormatSpan = %q, want 54 min", got)
	}
}
