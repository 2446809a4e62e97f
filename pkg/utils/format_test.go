package utils

import (
	"regexp"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

var indianGrouping = regexp.MustCompile(`^(\d{1,2},)*\d{1,3}$`)

// Property: FormatIndianCurrency emits ₹, two decimals and Indian digit
// grouping, and parses back to the amount rounded to the paisa.
func TestProperty_IndianCurrencyFormatting(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("format is well formed and value preserving", prop.ForAll(
		func(amount float64) bool {
			formatted := FormatIndianCurrency(amount)
			rounded := decimal.NewFromFloat(amount).Round(2)

			body := formatted
			if rounded.IsNegative() {
				if !strings.HasPrefix(formatted, "-₹") {
					return false
				}
				body = strings.TrimPrefix(formatted, "-")
			}
			if !strings.HasPrefix(body, "₹") {
				return false
			}
			parts := strings.Split(strings.TrimPrefix(body, "₹"), ".")
			if len(parts) != 2 || len(parts[1]) != 2 || !indianGrouping.MatchString(parts[0]) {
				return false
			}

			parsed, err := decimal.NewFromString(strings.ReplaceAll(strings.Replace(formatted, "₹", "", 1), ",", ""))
			return err == nil && parsed.Equal(rounded)
		},
		gen.Float64Range(-1e12, 1e12),
	))

	properties.TestingRun(t)
}

func TestFormatIndianCurrency(t *testing.T) {
	tests := []struct {
		amount float64
		want   string
	}{
		{0, "₹0.00"},
		{100, "₹100.00"},
		{1000, "₹1,000.00"},
		{100000, "₹1,00,000.00"},
		{10000000, "₹1,00,00,000.00"},
		{-1234.56, "-₹1,234.56"},
		{12345678.90, "₹1,23,45,678.90"},
		{0.125, "₹0.13"},
		{-0.001, "₹0.00"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatIndianCurrency(tt.amount))
		})
	}
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "+1.50%", FormatPercent(1.5))
	assert.Equal(t, "-2.50%", FormatPercent(-2.5))
	assert.Equal(t, "0.00%", FormatPercent(0))
	assert.Equal(t, "17.34%", FormatRatio(0.1734))
	assert.Equal(t, "+₹4,900.00", FormatPnL(4900))
	assert.Equal(t, "-₹66,875.00", FormatPnL(-66875))
	assert.Equal(t, "1.50 L", FormatCompact(150000))
	assert.Equal(t, "-2.00 Cr", FormatCompact(-2e7))
	assert.Equal(t, "₹9,999.00", FormatCompact(9999))
}
