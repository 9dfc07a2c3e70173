package pricing

import "testing"

func TestContributionModes(t *testing.T) {
	if got := Contribution(150_000, PerGroup, 5); got != 150_000 {
		t.Fatalf("expected per_group to charge once, got %d", got)
	}
	if got := Contribution(150_000, PerUnit, 5); got != 750_000 {
		t.Fatalf("expected per_unit to multiply, got %d", got)
	}
	if got := Contribution(150_000, PerGroup, 0); got != 0 {
		t.Fatalf("expected zero quantity to contribute nothing, got %d", got)
	}
}

func TestSum(t *testing.T) {
	lines := []Line{
		{Qty: 2, UnitPrice: 200_000, Mode: PerUnit},
		{Qty: 3, UnitPrice: 50_000, Mode: PerGroup},
		{Qty: -1, UnitPrice: 10_000, Mode: PerUnit},
	}
	if got := Sum(lines); got != 450_000 {
		t.Fatalf("expected 450000, got %d", got)
	}
}

func TestNewComponentFloorsAtZero(t *testing.T) {
	c := NewComponent(100_000, 150_000)
	if c.Net != 0 {
		t.Fatalf("expected net floored at zero, got %d", c.Net)
	}
	if c.Discount != 100_000 {
		t.Fatalf("expected discount capped at subtotal, got %d", c.Discount)
	}
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode(" PER_GROUP ")
	if err != nil || mode != PerGroup {
		t.Fatalf("expected per_group, got %q (%v)", mode, err)
	}
	if _, err := ParseMode("hourly"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
