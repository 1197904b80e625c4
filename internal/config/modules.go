package config

import (
	"strings"

	"github.com/dvloznov/securepath/internal/fraud"
	"github.com/dvloznov/securepath/internal/ingest"
	"github.com/dvloznov/securepath/internal/triage"
	"github.com/shopspring/decimal"
)

// RuleConfig builds the immutable rule engine configuration.
func (c *Config) RuleConfig() fraud.RuleConfig {
	return fraud.RuleConfig{
		HomeCountry:          strings.ToUpper(c.Rules.HomeCountry),
		HighAmount:           decimal.NewFromFloat(c.Rules.HighAmount),
		HighAmountWeight:     c.Rules.HighAmountWeight,
		ForeignCountryWeight: c.Rules.ForeignCountryWeight,
		VelocityThreshold:    c.Rules.VelocityThreshold,
		VelocityWeight:       c.Rules.VelocityWeight,
		NewDeviceMarker:      c.Rules.NewDeviceMarker,
		NewDeviceWeight:      c.Rules.NewDeviceWeight,
		NewIPWeight:          c.Rules.NewIPWeight,
	}
}

// CombinerConfig builds the score combiner configuration.
func (c *Config) CombinerConfig() fraud.CombinerConfig {
	return fraud.CombinerConfig{
		RuleWeight:       c.Scoring.RuleWeight,
		ModelWeight:      c.Scoring.ModelWeight,
		FlagThreshold:    c.Scoring.FlagThreshold,
		AnomalyThreshold: c.Scoring.AnomalyThreshold,
	}
}

// TriageConfig builds the batch triage constants.
func (c *Config) TriageConfig() triage.Config {
	return triage.Config{
		AmountThreshold: decimal.NewFromFloat(c.Triage.AmountThreshold),
		HighRiskScore:   decimal.NewFromFloat(c.Triage.HighRiskScore),
		HighFraudScore:  decimal.NewFromFloat(c.Triage.HighFraudScore),
		LowRiskScore:    decimal.NewFromFloat(c.Triage.LowRiskScore),
	}
}

// IngestLimits returns the per-upload limits.
func (c *Config) IngestLimits() ingest.Limits {
	return ingest.Limits{
		MaxPayloadBytes: c.Ingest.MaxPayloadBytes,
		MaxRows:         c.Ingest.MaxRows,
	}
}
