package router

// CostPerMToken is the USD price per million input/output tokens for one
// model. Cost-per-token tables are externally provided inputs, not derived
// from provider responses, so this table is a static baseline with a
// runtime override hook for operators who need to correct it.
type CostPerMToken struct {
	Input  float64
	Output float64
}

var defaultCosts = map[string]CostPerMToken{
	"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
	"claude-opus-4-1-20250805":   {Input: 15.00, Output: 75.00},
	"claude-haiku-4-5-20251001":  {Input: 0.80, Output: 4.00},
	"gpt-4o":                     {Input: 2.50, Output: 10.00},
	"gpt-4o-mini":                {Input: 0.15, Output: 0.60},
}

// CostTable holds per-model pricing with an override layer on top of the
// static defaults, so operators can correct prices without a redeploy.
type CostTable struct {
	overrides map[string]CostPerMToken
}

func NewCostTable() *CostTable {
	return &CostTable{overrides: make(map[string]CostPerMToken)}
}

func (t *CostTable) Override(model string, cost CostPerMToken) {
	t.overrides[model] = cost
}

// Estimate returns the USD cost of one call given token counts. Unknown
// models cost 0 rather than erroring, since cost is an accounting nicety,
// not a blocking concern (per the error handling design's
// non-critical-write policy).
func (t *CostTable) Estimate(model string, inputTokens, outputTokens int64) float64 {
	cost, ok := t.overrides[model]
	if !ok {
		cost, ok = defaultCosts[model]
		if !ok {
			return 0
		}
	}
	return float64(inputTokens)/1_000_000*cost.Input + float64(outputTokens)/1_000_000*cost.Output
}
