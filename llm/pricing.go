package llm

// ModelPricing holds per-model token prices in BRL per 1M tokens.
type ModelPricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// defaultPricing is the static pricing table, converted to BRL at the
// budget's reference rate. Unknown models fall back to the most expensive
// entry so cost estimates never understate spend.
var defaultPricing = map[string]ModelPricing{
	"claude-3-5-haiku-20241022":  {InputPer1M: 4.40, OutputPer1M: 22.00},
	"claude-3-5-sonnet-20241022": {InputPer1M: 16.50, OutputPer1M: 82.50},
	"gpt-4o-mini":                {InputPer1M: 0.83, OutputPer1M: 3.30},
	"gpt-4o":                     {InputPer1M: 13.75, OutputPer1M: 55.00},
	"gemini-1.5-flash":           {InputPer1M: 0.41, OutputPer1M: 1.65},
	"gemini-1.5-pro":             {InputPer1M: 6.88, OutputPer1M: 27.50},
}

// fallbackPricing covers models missing from the table.
var fallbackPricing = ModelPricing{InputPer1M: 16.50, OutputPer1M: 82.50}

// CostBRL computes the call cost for the given model and token counts.
func CostBRL(model string, promptTokens, completionTokens int) float64 {
	pricing, ok := defaultPricing[model]
	if !ok {
		pricing = fallbackPricing
	}
	return (float64(promptTokens)*pricing.InputPer1M + float64(completionTokens)*pricing.OutputPer1M) / 1e6
}

// EstimateCostBRL bounds the cost of a pending request for budget
// reservation: prompt size is approximated at four characters per token
// and the completion at the request's max tokens.
func EstimateCostBRL(model string, promptChars, maxTokens int) float64 {
	promptTokens := promptChars/4 + 1
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return CostBRL(model, promptTokens, maxTokens)
}
