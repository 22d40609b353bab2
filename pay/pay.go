// Package pay converts worked time into money owed.
//
// Project pay rates arrive as free-form strings entered by project owners
// ("€12.50/hr", "12,50", "$9"). ParseRate is the single place that string is
// interpreted; every earnings computation in the codebase goes through
// Earnings so the two can never drift apart.
package pay

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// rateToken matches the first contiguous numeric token in a rate string.
// A single '.' or ',' is accepted as the decimal separator.
var rateToken = regexp.MustCompile(`[0-9]+(?:[.,][0-9]+)?`)

// ParseRate extracts an hourly pay rate from a raw project setting.
// Malformed or empty input yields 0 — a bad settings field must never block
// a worker from submitting, so this function has no error path.
func ParseRate(raw string) float64 {
	tok := rateToken.FindString(raw)
	if tok == "" {
		return 0
	}
	tok = strings.ReplaceAll(tok, ",", ".")
	rate, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0
	}
	return rate
}

// Earnings returns the money owed for the given worked seconds at an hourly
// rate. The result is kept at full precision; rounding happens only at the
// presentation boundary (see Format) so repeated updates do not compound
// rounding error.
func Earnings(seconds int64, rate float64) float64 {
	if seconds <= 0 || rate <= 0 {
		return 0
	}
	return float64(seconds) / 3600 * rate
}

// Format renders an amount for display with two decimal places using the
// locale's digit grouping and decimal separator.
func Format(amount float64, tag language.Tag) string {
	p := message.NewPrinter(tag)
	return p.Sprintf("%.2f", amount)
}
