package costs

import "testing"

func TestCostCents(t *testing.T) {
	cases := []struct {
		name                     string
		model                    string
		prompt, completion, want int
	}{
		{"sonnet round numbers", "claude-sonnet-4-20250514", 1_000_000, 1_000_000, 1800},
		{"fractions round up", "claude-sonnet-4-20250514", 1000, 1000, 3}, // 0.3 + 1.5 cents
		{"haiku", "claude-3-5-haiku-20241022", 2_000_000, 500_000, 360},
		{"unknown model uses top tier", "some-future-model", 1_000_000, 0, 1500},
		{"mock is free", "mock", 5_000_000, 5_000_000, 0},
		{"zero tokens", "claude-sonnet-4-20250514", 0, 0, 0},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := CostCents(c.model, c.prompt, c.completion); got != c.want {
				t.Errorf("CostCents(%s, %d, %d) = %d, want %d",
					c.model, c.prompt, c.completion, got, c.want)
			}
		})
	}
}
