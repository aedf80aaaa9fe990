package tier_test

import (
	"testing"

	"blueprintcourt/internal/tier"
)

func TestSelect(t *testing.T) {
	if got := tier.Select(999_999, 1_000_000); got != tier.Expert {
		t.Fatalf("below threshold: got %s, want expert", got)
	}
	if got := tier.Select(1_000_000, 1_000_000); got != tier.DAO {
		t.Fatalf("at threshold: got %s, want dao", got)
	}
	if got := tier.Select(5_000_000, 1_000_000); got != tier.DAO {
		t.Fatalf("above threshold: got %s, want dao", got)
	}
	if got := tier.Select(0, 1_000_000); got != tier.Expert {
		t.Fatalf("empty market: got %s, want expert", got)
	}
}
