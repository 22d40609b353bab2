package pay

import (
	"testing"

	"golang.org/x/text/language"
)

func TestParseRate(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"12.50", 12.50},
		{"12,50", 12.50},
		{"€12.50/hr", 12.50},
		{"$9", 9},
		{"rate: 7,25 per hour", 7.25},
		{"0.5", 0.5},
		{"", 0},
		{"n/a", 0},
		{"€€€", 0},
		{"free", 0},
	}
	for _, c := range cases {
		if got := ParseRate(c.in); got != c.want {
			t.Errorf("ParseRate(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestEarnings(t *testing.T) {
	if got := Earnings(3600, 10); got != 10 {
		t.Errorf("one hour at 10/hr = %v, want 10", got)
	}
	if got := Earnings(1800, 10); got != 5 {
		t.Errorf("half hour at 10/hr = %v, want 5", got)
	}
	if got := Earnings(0, 10); got != 0 {
		t.Errorf("zero seconds = %v, want 0", got)
	}
	if got := Earnings(-5, 10); got != 0 {
		t.Errorf("negative seconds = %v, want 0", got)
	}
	if got := Earnings(3600, 0); got != 0 {
		t.Errorf("zero rate = %v, want 0", got)
	}
}

// Earnings must be linear in time for a fixed rate.
func TestEarnings_Linear(t *testing.T) {
	for _, sec := range []int64{1, 60, 977, 3600, 86400} {
		single := Earnings(sec, 7.25)
		double := Earnings(2*sec, 7.25)
		if double != 2*single {
			t.Errorf("Earnings(%d)=%v but Earnings(%d)=%v; want exact doubling", sec, single, 2*sec, double)
		}
	}
}

func TestEarnings_GarbageRateIsZeroPay(t *testing.T) {
	for _, raw := range []string{"n/a", "", "€€€", "-", "??"} {
		if got := Earnings(3600, ParseRate(raw)); got != 0 {
			t.Errorf("garbage rate %q produced earnings %v, want 0", raw, got)
		}
	}
}

func TestFormat(t *testing.T) {
	if got := Format(1234.567, language.English); got != "1,234.57" {
		t.Errorf("Format en = %q, want %q", got, "1,234.57")
	}
	if got := Format(5, language.English); got != "5.00" {
		t.Errorf("Format en = %q, want %q", got, "5.00")
	}
}
