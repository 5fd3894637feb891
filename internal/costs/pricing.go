package costs

// Pricing in cents per million tokens. Unknown models fall back to the most
// expensive tier so costs are never under-reported.
type pricing struct {
	inputCentsPerMTok  int
	outputCentsPerMTok int
}

var modelPricing = map[string]pricing{
	"claude-sonnet-4-20250514":   {300, 1500},
	"claude-3-5-sonnet-20241022": {300, 1500},
	"claude-3-5-haiku-20241022":  {80, 400},
	"claude-opus-4-20250514":     {1500, 7500},
	// Non-billable clients.
	"mock":       {0, 0},
	"claude-cli": {0, 0},
}

var fallbackPricing = pricing{1500, 7500}

// CostCents prices one call, rounding each component up so fractions of a
// cent are never dropped.
func CostCents(model string, promptTokens, completionTokens int) int {
	p, ok := modelPricing[model]
	if !ok {
		p = fallbackPricing
	}
	return ceilDiv(promptTokens*p.inputCentsPerMTok, 1_000_000) +
		ceilDiv(completionTokens*p.outputCentsPerMTok, 1_000_000)
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
