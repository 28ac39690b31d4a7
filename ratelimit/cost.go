package ratelimit

import "strings"

// Rate is a price per 1000 tokens in USD.
type Rate struct {
	Input  float64
	Output float64
}

// DefaultRate applies to unknown providers and models. It deliberately
// over-estimates so budgets err on the safe side.
var DefaultRate = Rate{Input: 0.01, Output: 0.03}

// wildcardModel matches any model of a provider.
const wildcardModel = "*"

// rateTable maps provider -> model -> rate.
var rateTable = map[string]map[string]Rate{
	"openai": {
		"text-embedding-3-small": {Input: 0.00002},
		"text-embedding-3-large": {Input: 0.00013},
		"text-embedding-ada-002": {Input: 0.0001},
		"gpt-4o-mini":            {Input: 0.00015, Output: 0.0006},
		"gpt-4o":                 {Input: 0.0025, Output: 0.01},
		"gpt-4.1-mini":           {Input: 0.0004, Output: 0.0016},
	},
	"mistral": {
		"mistral-embed":        {Input: 0.0001},
		"mistral-small-latest": {Input: 0.0002, Output: 0.0006},
	},
	// Self-hosted servers cost nothing per token.
	"ollama":  {wildcardModel: {}},
	"localai": {wildcardModel: {}},
	"vllm":    {wildcardModel: {}},
	"mock":    {wildcardModel: {}},
}

// LookupRate finds the rate for a provider and model.
func LookupRate(provider, model string) Rate {
	models, ok := rateTable[strings.ToLower(provider)]
	if !ok {
		return DefaultRate
	}
	if r, ok := models[strings.ToLower(model)]; ok {
		return r
	}
	if r, ok := models[wildcardModel]; ok {
		return r
	}
	return DefaultRate
}

// CalculateCost prices a call in USD. Unknown models use DefaultRate.
func CalculateCost(provider, model string, inputTokens, outputTokens int) float64 {
	r := LookupRate(provider, model)
	return float64(inputTokens)/1000*r.Input + float64(outputTokens)/1000*r.Output
}
