package openrouter

// ModelPricing holds per-token pricing for an OpenRouter model.
// Prices are USD per million tokens.
type ModelPricing struct {
	PromptPrice     float64 // USD per 1M prompt tokens
	CompletionPrice float64 // USD per 1M completion tokens
}

// modelPricing is a static table for the models the delegation chains use.
// TODO: pull live pricing from the OpenRouter /models endpoint on a schedule.
var modelPricing = map[string]ModelPricing{
	// Anthropic via OpenRouter
	"anthropic/claude-opus-4": {
		PromptPrice:     15.00,
		CompletionPrice: 75.00,
	},
	"anthropic/claude-sonnet-4": {
		PromptPrice:     3.00,
		CompletionPrice: 15.00,
	},
	"anthropic/claude-3.5-haiku": {
		PromptPrice:     0.80,
		CompletionPrice: 4.00,
	},

	// OpenAI via OpenRouter
	"openai/gpt-4.1": {
		PromptPrice:     2.00,
		CompletionPrice: 8.00,
	},
	"openai/gpt-4.1-mini": {
		PromptPrice:     0.40,
		CompletionPrice: 1.60,
	},
	"openai/gpt-4o": {
		PromptPrice:     2.50,
		CompletionPrice: 10.00,
	},
	"openai/gpt-4o-mini": {
		PromptPrice:     0.15,
		CompletionPrice: 0.60,
	},

	// Google via OpenRouter
	"google/gemini-2.5-pro": {
		PromptPrice:     1.25,
		CompletionPrice: 10.00,
	},
	"google/gemini-2.5-flash": {
		PromptPrice:     0.30,
		CompletionPrice: 2.50,
	},

	// Open-weight models via OpenRouter
	"meta-llama/llama-3.1-70b-instruct": {
		PromptPrice:     0.52,
		CompletionPrice: 0.75,
	},
	"meta-llama/llama-3.1-8b-instruct": {
		PromptPrice:     0.055,
		CompletionPrice: 0.055,
	},
	"mistralai/mistral-7b-instruct": {
		PromptPrice:     0.06,
		CompletionPrice: 0.06,
	},
}

// DefaultPricingFallback is the per-request cost assumed for models missing
// from the table. Overestimating keeps the budget gate conservative.
const DefaultPricingFallback = 0.01

// CalculateCost computes the USD cost of a call from token usage.
func CalculateCost(model string, promptTokens, completionTokens int) float64 {
	pricing, found := modelPricing[model]
	if !found {
		return DefaultPricingFallback
	}

	promptCost := (float64(promptTokens) / 1_000_000.0) * pricing.PromptPrice
	completionCost := (float64(completionTokens) / 1_000_000.0) * pricing.CompletionPrice

	return promptCost + completionCost
}

// GetPricing returns pricing for a model, if known.
func GetPricing(model string) (ModelPricing, bool) {
	pricing, found := modelPricing[model]
	return pricing, found
}
