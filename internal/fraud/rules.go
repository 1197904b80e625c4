// Package fraud scores individual transactions with a fixed rule set and an
// optional anomaly model.
package fraud

import (
	"strings"

	"github.com/dvloznov/securepath/internal/domain"
	"github.com/shopspring/decimal"
)

// Rule identifiers, in evaluation order.
const (
	RuleHighAmount     = "R1"
	RuleForeignCountry = "R2"
	RuleHighVelocityIP = "R3"
	RuleNewDevice      = "R4"
	RuleNewIPAddress   = "R5"
)

// Reasons attached to triggered rules.
const (
	ReasonHighAmount     = "High Amount (>$5,000)"
	ReasonForeignCountry = "Foreign Country"
	ReasonHighVelocityIP = "High Velocity IP"
	ReasonNewDevice      = "New Device"
	ReasonNewIPAddress   = "New IP Address"
)

// RuleConfig holds the rule thresholds and weights. It is copied into the
// Engine at construction and never changes afterwards.
type RuleConfig struct {
	HomeCountry          string
	HighAmount           decimal.Decimal
	HighAmountWeight     float64
	ForeignCountryWeight float64
	VelocityThreshold    int
	VelocityWeight       float64
	NewDeviceMarker      string
	NewDeviceWeight      float64
	NewIPWeight          float64
}

// DefaultRuleConfig returns the production rule set.
func DefaultRuleConfig() RuleConfig {
	return RuleConfig{
		HomeCountry:          "US",
		HighAmount:           decimal.NewFromInt(5000),
		HighAmountWeight:     30,
		ForeignCountryWeight: 25,
		VelocityThreshold:    10,
		VelocityWeight:       20,
		NewDeviceMarker:      "new",
		NewDeviceWeight:      15,
		NewIPWeight:          10,
	}
}

// RuleResult is one triggered rule.
type RuleResult struct {
	RuleID string  `json:"rule_id"`
	Reason string  `json:"reason"`
	Weight float64 `json:"weight"`
}

// RuleOutcome is the aggregate of every triggered rule. Score is not clamped.
type RuleOutcome struct {
	Score   float64      `json:"score"`
	Results []RuleResult `json:"results"`
}

// Reasons returns the reason strings in rule order.
func (o RuleOutcome) Reasons() []string {
	reasons := make([]string, 0, len(o.Results))
	for _, r := range o.Results {
		reasons = append(reasons, r.Reason)
	}
	return reasons
}

// HistoryView gives the rules read access to a transaction's neighbours.
type HistoryView interface {
	// SharedIPCount returns how many other transactions carry tx's IP address.
	SharedIPCount(tx domain.Transaction) int

	// IPSeenForPrincipal reports whether another transaction of tx's owner
	// carries tx's IP address.
	IPSeenForPrincipal(tx domain.Transaction) bool
}

// Engine evaluates the rule set.
type Engine struct {
	cfg RuleConfig
}

// NewEngine creates an Engine with the given rule configuration.
func NewEngine(cfg RuleConfig) *Engine {
	cfg.HomeCountry = strings.ToUpper(strings.TrimSpace(cfg.HomeCountry))
	cfg.NewDeviceMarker = strings.ToLower(cfg.NewDeviceMarker)
	return &Engine{cfg: cfg}
}

// Config returns a copy of the engine's rule configuration.
func (e *Engine) Config() RuleConfig {
	return e.cfg
}

// Evaluate runs every rule against tx. A nil history skips the rules that
// need one.
func (e *Engine) Evaluate(tx domain.Transaction, history HistoryView) RuleOutcome {
	var out RuleOutcome
	add := func(id, reason string, weight float64) {
		out.Score += weight
		out.Results = append(out.Results, RuleResult{RuleID: id, Reason: reason, Weight: weight})
	}

	if tx.Amount.GreaterThan(e.cfg.HighAmount) {
		add(RuleHighAmount, ReasonHighAmount, e.cfg.HighAmountWeight)
	}

	if e.isForeign(tx.Country) {
		add(RuleForeignCountry, ReasonForeignCountry, e.cfg.ForeignCountryWeight)
	}

	ip := strings.TrimSpace(tx.IPAddress)
	if ip != "" && history != nil && storedIPCount(tx, history) > e.cfg.VelocityThreshold {
		add(RuleHighVelocityIP, ReasonHighVelocityIP, e.cfg.VelocityWeight)
	}

	if e.isNewDevice(tx.DeviceID) {
		add(RuleNewDevice, ReasonNewDevice, e.cfg.NewDeviceWeight)
	}

	if ip != "" && history != nil && !history.IPSeenForPrincipal(tx) {
		add(RuleNewIPAddress, ReasonNewIPAddress, e.cfg.NewIPWeight)
	}

	return out
}

// storedIPCount is how many stored transactions carry tx's IP address,
// counting tx itself once it is persisted.
func storedIPCount(tx domain.Transaction, history HistoryView) int {
	n := history.SharedIPCount(tx)
	if tx.ID != 0 {
		n++
	}
	return n
}

func (e *Engine) isForeign(country string) bool {
	c := strings.ToUpper(strings.TrimSpace(country))
	return c != "" && c != e.cfg.HomeCountry
}

func (e *Engine) isNewDevice(deviceID string) bool {
	if deviceID == "" || e.cfg.NewDeviceMarker == "" {
		return false
	}
	return strings.Contains(strings.ToLower(deviceID), e.cfg.NewDeviceMarker)
}

// Features builds the model feature vector for tx: amount, high-amount flag,
// foreign flag, new-device flag and the IP occurrence count (1 without an IP).
func (e *Engine) Features(tx domain.Transaction, history HistoryView) []float64 {
	amount, _ := tx.Amount.Float64()
	ipCount := 1.0
	if strings.TrimSpace(tx.IPAddress) != "" && history != nil {
		// the transaction itself counts as one occurrence
		ipCount = float64(history.SharedIPCount(tx) + 1)
	}
	return []float64{
		amount,
		boolFeature(tx.Amount.GreaterThan(e.cfg.HighAmount)),
		boolFeature(e.isForeign(tx.Country)),
		boolFeature(e.isNewDevice(tx.DeviceID)),
		ipCount,
	}
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// ScoreOne runs the rules for a single transaction and combines the result
// without a model score.
func (e *Engine) ScoreOne(tx domain.Transaction, history HistoryView, c Combiner) Assessment {
	outcome := e.Evaluate(tx, history)
	return c.Combine(outcome, nil)
}
