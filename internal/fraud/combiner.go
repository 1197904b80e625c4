package fraud

import (
	"math"
	"strings"
)

const (
	// ReasonModelAnomaly is appended when the model score exceeds the anomaly threshold.
	ReasonModelAnomaly = "ML: Anomaly Detected"

	// NoRiskFlags replaces an empty reason list.
	NoRiskFlags = "No risk flags detected"

	// ReasonSeparator joins reasons into reason_code.
	ReasonSeparator = " | "

	maxScore = 100.0
)

// CombinerConfig holds the blending weights and thresholds.
type CombinerConfig struct {
	RuleWeight       float64
	ModelWeight      float64
	FlagThreshold    float64
	AnomalyThreshold float64
}

// DefaultCombinerConfig returns the production weights: 60% rules, 40% model,
// flagged at 70.
func DefaultCombinerConfig() CombinerConfig {
	return CombinerConfig{
		RuleWeight:       0.6,
		ModelWeight:      0.4,
		FlagThreshold:    70,
		AnomalyThreshold: 70,
	}
}

// Combiner blends the rule score with an optional model score.
type Combiner struct {
	cfg CombinerConfig
}

// NewCombiner creates a Combiner.
func NewCombiner(cfg CombinerConfig) Combiner {
	return Combiner{cfg: cfg}
}

// Assessment is the final per-transaction scoring result.
type Assessment struct {
	RuleScore  float64  `json:"rule_score"`
	ModelScore *float64 `json:"model_score,omitempty"`
	FinalScore float64  `json:"final_score"`
	Flagged    bool     `json:"is_flagged"`
	Reasons    []string `json:"reasons"`
}

// ReasonText joins the reasons for storage, or returns the no-flags sentinel.
func (a Assessment) ReasonText() string {
	if len(a.Reasons) == 0 {
		return NoRiskFlags
	}
	return strings.Join(a.Reasons, ReasonSeparator)
}

// FraudScore returns the legacy 0.0-1.0 view of the final score.
func (a Assessment) FraudScore() float64 {
	return math.Round(a.FinalScore*100) / 10000
}

// Combine produces the final assessment. modelScore is nil when no model is
// available; otherwise it must already be normalized to 0-100.
func (c Combiner) Combine(outcome RuleOutcome, modelScore *float64) Assessment {
	reasons := outcome.Reasons()

	final := outcome.Score
	if modelScore != nil {
		final = outcome.Score*c.cfg.RuleWeight + *modelScore*c.cfg.ModelWeight
		if *modelScore > c.cfg.AnomalyThreshold {
			reasons = append(reasons, ReasonModelAnomaly)
		}
	}
	final = clamp(final)

	// the decision uses the unrounded score
	flagged := final >= c.cfg.FlagThreshold

	return Assessment{
		RuleScore:  outcome.Score,
		ModelScore: modelScore,
		FinalScore: roundTo(final, 1),
		Flagged:    flagged,
		Reasons:    reasons,
	}
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > maxScore {
		return maxScore
	}
	return v
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
