package sizer

import (
	"math/rand"
	"testing"
)

func TestSize_Exact(t *testing.T) {
	if got := Size(50000, 0.2, 100); got != 100 {
		t.Errorf("Size(50000, 0.2, 100) = %d, want 100", got)
	}
	if got := Size(50000, 0.2, 0); got != 0 {
		t.Errorf("Size(50000, 0.2, 0) = %d, want 0", got)
	}
}

func TestSize_FailsClosed(t *testing.T) {
	cases := []struct {
		name                  string
		cash, fraction, price float64
	}{
		{"negative price", 50000, 0.2, -5},
		{"zero cash", 0, 0.2, 10},
		{"negative cash", -100, 0.2, 10},
		{"zero fraction", 50000, 0, 10},
	}
	for _, c := range cases {
		if got := Size(c.cash, c.fraction, c.price); got != 0 {
			t.Errorf("%s: got %d, want 0", c.name, got)
		}
	}
}

func TestSize_Floors(t *testing.T) {
	// 0.95 * 50000 / 333 = 142.64...
	if got := Size(50000, 0.95, 333); got != 142 {
		t.Errorf("got %d, want 142", got)
	}
	// Price above the budget buys nothing.
	if got := Size(1000, 0.2, 250); got != 0 {
		t.Errorf("got %d, want 0", got)
	}
}

func TestSize_NeverExceedsBudget(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 5000; i++ {
		cash := rng.Float64() * 1e6
		fraction := 0.01 + rng.Float64()*0.99
		price := 0.01 + rng.Float64()*500

		units := Size(cash, fraction, price)
		if units < 0 {
			t.Fatalf("negative size %d", units)
		}
		if float64(units)*price > fraction*cash*(1+1e-12) {
			t.Fatalf("notional %.6f exceeds budget %.6f (cash=%v fraction=%v price=%v)",
				float64(units)*price, fraction*cash, cash, fraction, price)
		}
		if float64(units+1)*price <= fraction*cash*(1-1e-12) {
			t.Fatalf("size %d not maximal (cash=%v fraction=%v price=%v)", units, cash, fraction, price)
		}
	}
}

func TestFixedFraction(t *testing.T) {
	if _, err := NewFixedFraction(0); err == nil {
		t.Error("expected error for zero fraction")
	}
	if _, err := NewFixedFraction(1.5); err == nil {
		t.Error("expected error for fraction > 1")
	}

	s, err := NewFixedFraction(0.2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Fraction() != 0.2 {
		t.Errorf("Fraction() = %v", s.Fraction())
	}
	if got := s.Size(50000, 100); got != 100 {
		t.Errorf("Size = %d, want 100", got)
	}
}
