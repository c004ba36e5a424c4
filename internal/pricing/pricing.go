// Package pricing estimates USD cost from token counts. Rates are published
// per-million-token list prices; the result is an estimate, not a billing
// figure.
package pricing

import (
	"math"
	"strings"
)

type rates struct {
	InputPerMillion      float64
	OutputPerMillion     float64
	CacheReadPerMillion  float64
	CacheWritePerMillion float64
}

// Anthropic tiers keyed by family substring. Cache reads are heavily
// discounted relative to input; cache writes carry a premium.
var anthropicTiers = map[string]rates{
	"opus":   {15.0, 75.0, 1.50, 18.75},
	"haiku":  {0.25, 1.25, 0.025, 0.3125},
	"sonnet": {3.0, 15.0, 0.30, 3.75},
}

var geminiTiers = map[string]rates{
	"flash": {InputPerMillion: 0.15, OutputPerMillion: 0.60},
	"pro":   {InputPerMillion: 1.25, OutputPerMillion: 10.0},
}

// glmRates is a flat table; the GLM sources do not distinguish model tiers.
var glmRates = rates{InputPerMillion: 1.0, OutputPerMillion: 4.0}

func anthropicRates(model string) rates {
	lower := strings.ToLower(model)
	for _, family := range []string{"opus", "haiku"} {
		if strings.Contains(lower, family) {
			return anthropicTiers[family]
		}
	}
	return anthropicTiers["sonnet"]
}

// Anthropic estimates cost for an Anthropic-family model. Tier selection is
// a case-insensitive substring match; anything unrecognized bills at the mid
// (sonnet) tier. Zero tokens cost zero regardless of model name.
func Anthropic(model string, inputTokens, outputTokens, cacheReadTokens, cacheWriteTokens uint64) float64 {
	r := anthropicRates(model)
	cost := (float64(inputTokens)*r.InputPerMillion +
		float64(outputTokens)*r.OutputPerMillion +
		float64(cacheReadTokens)*r.CacheReadPerMillion +
		float64(cacheWriteTokens)*r.CacheWritePerMillion) / 1e6
	return Round2(cost)
}

// Gemini estimates cost for a Gemini-family model. "flash" models bill at the
// economy tier, everything else at the pro tier.
func Gemini(model string, inputTokens, outputTokens uint64) float64 {
	r := geminiTiers["pro"]
	if strings.Contains(strings.ToLower(model), "flash") {
		r = geminiTiers["flash"]
	}
	cost := (float64(inputTokens)*r.InputPerMillion + float64(outputTokens)*r.OutputPerMillion) / 1e6
	return Round2(cost)
}

// GLM estimates cost for GLM-family models at the flat coding-plan rates.
func GLM(inputTokens, outputTokens uint64) float64 {
	cost := (float64(inputTokens)*glmRates.InputPerMillion + float64(outputTokens)*glmRates.OutputPerMillion) / 1e6
	return Round2(cost)
}

// Round2 rounds to two decimal places, half away from zero.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
