package agent

import (
	"context"
	"strconv"
	"strings"
)

// Tier is the run's chosen model class (§3 AgentRun.tier).
type Tier string

const (
	TierReasoning Tier = "reasoning"
	TierAction    Tier = "action"
)

// DefaultTierThreshold is the classifier score (1-5) at or above which a
// run is classified as TierReasoning (§4.6 step 2).
const DefaultTierThreshold = 3

// Classifier is a cheap small-model completion returning an integer 1-5
// that the engine thresholds into a Tier. Classifier failures default to
// TierAction (§4.6 step 2).
type Classifier func(ctx context.Context, userMessage string) (score int, err error)

// ClassifyTier runs classifier against userMessage and thresholds the
// result. A nil classifier, or one that errors, defaults to TierAction.
func ClassifyTier(ctx context.Context, classifier Classifier, userMessage string, threshold int) Tier {
	if classifier == nil {
		return TierAction
	}
	if threshold <= 0 {
		threshold = DefaultTierThreshold
	}
	score, err := classifier(ctx, userMessage)
	if err != nil {
		return TierAction
	}
	if score >= threshold {
		return TierReasoning
	}
	return TierAction
}

// ParseClassifierScore extracts the first integer 1-5 found in a raw model
// completion, tolerating surrounding prose ("Score: 4" or just "4").
func ParseClassifierScore(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	for _, field := range strings.FieldsFunc(raw, func(r rune) bool {
		return !(r >= '0' && r <= '9')
	}) {
		n, err := strconv.Atoi(field)
		if err == nil && n >= 1 && n <= 5 {
			return n, true
		}
	}
	return 0, false
}
