// Package triage runs the bulk amount-threshold fraud decision over every
// undecided transaction in a scope.
package triage

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/securepath/internal/audit"
	"github.com/dvloznov/securepath/internal/domain"
	"github.com/dvloznov/securepath/internal/logger"
	"github.com/dvloznov/securepath/internal/metrics"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const (
	// HighRiskReasons is stored in fraud_reasons for rejected transactions.
	HighRiskReasons = "High transaction amount (>= $5000)."

	// HighRiskReasonCode is stored in reason_code for rejected transactions.
	HighRiskReasonCode = "R1: High Amount"
)

// Config holds the triage thresholds and the constants written on decision.
type Config struct {
	AmountThreshold decimal.Decimal
	HighRiskScore   decimal.Decimal
	HighFraudScore  decimal.Decimal
	LowRiskScore    decimal.Decimal
}

// DefaultConfig returns the production triage constants.
func DefaultConfig() Config {
	return Config{
		AmountThreshold: decimal.NewFromInt(5000),
		HighRiskScore:   decimal.NewFromInt(80),
		HighFraudScore:  decimal.RequireFromString("0.5"),
		LowRiskScore:    decimal.NewFromInt(10),
	}
}

// Decision is the set of columns written to one partition.
type Decision struct {
	IsFraud    bool
	RiskScore  decimal.Decimal
	FraudScore decimal.Decimal
	// FraudReasons and ReasonCode are cleared when nil.
	FraudReasons *string
	ReasonCode   *string
	Status       domain.Status
}

// Plan describes one triage run: transactions at or above AmountThreshold get
// HighRisk, the rest get LowRisk.
type Plan struct {
	AmountThreshold decimal.Decimal
	HighRisk        Decision
	LowRisk         Decision
}

// NewPlan builds the Plan for cfg.
func NewPlan(cfg Config) Plan {
	reasons, code := HighRiskReasons, HighRiskReasonCode
	return Plan{
		AmountThreshold: cfg.AmountThreshold,
		HighRisk: Decision{
			IsFraud:      true,
			RiskScore:    cfg.HighRiskScore,
			FraudScore:   cfg.HighFraudScore,
			FraudReasons: &reasons,
			ReasonCode:   &code,
			Status:       domain.StatusRejected,
		},
		LowRisk: Decision{
			IsFraud:    false,
			RiskScore:  cfg.LowRiskScore,
			FraudScore: decimal.Zero,
			Status:     domain.StatusApproved,
		},
	}
}

// Counts are the rows changed by each partition update.
type Counts struct {
	Flagged  int64
	Approved int64
}

// Repository applies a Plan. Both partition updates must run in one database
// transaction and each must re-check that the row is still undecided, so
// counts reflect only the rows this call changed.
type Repository interface {
	Triage(ctx context.Context, scope domain.Scope, plan Plan) (Counts, error)
}

// BatchResult summarises a triage run.
type BatchResult struct {
	Processed int64         `json:"processed"`
	Flagged   int64         `json:"flagged"`
	Approved  int64         `json:"approved"`
	Duration  time.Duration `json:"duration"`
}

// Listener is notified after a successful run. Listener errors are logged.
type Listener interface {
	BatchCompleted(ctx context.Context, p domain.Principal, scope domain.Scope, res BatchResult) error
}

// Processor runs triage batches.
type Processor struct {
	repo      Repository
	recorder  audit.Recorder
	plan      Plan
	listeners []Listener
}

// NewProcessor creates a Processor.
func NewProcessor(repo Repository, recorder audit.Recorder, cfg Config, listeners ...Listener) *Processor {
	return &Processor{
		repo:      repo,
		recorder:  recorder,
		plan:      NewPlan(cfg),
		listeners: listeners,
	}
}

// RunBatch decides every undecided transaction in scope and records one audit
// entry attributed to p. An empty eligible set is a successful no-op.
func (p *Processor) RunBatch(ctx context.Context, principal domain.Principal, scope domain.Scope) (*BatchResult, error) {
	log := logger.FromContext(ctx)
	start := time.Now()

	if !scope.Global && scope.UserID == "" {
		return nil, fmt.Errorf("RunBatch: scope needs a user or Global")
	}

	counts, err := p.repo.Triage(ctx, scope, p.plan)
	metrics.ObserveSince("triage", start, err)
	if err != nil {
		audit.Failure(ctx, p.recorder, domain.ActionFraudDetectionFailed, principal, err)
		return nil, fmt.Errorf("RunBatch: %w", err)
	}

	res := BatchResult{
		Processed: counts.Flagged + counts.Approved,
		Flagged:   counts.Flagged,
		Approved:  counts.Approved,
		Duration:  time.Since(start),
	}
	metrics.Decisions.WithLabelValues("triage", "flagged").Add(float64(res.Flagged))
	metrics.Decisions.WithLabelValues("triage", "approved").Add(float64(res.Approved))

	details := fmt.Sprintf("Processed %d transactions. Detected %d fraud attempts. Approved %d transactions. Elapsed %s.",
		res.Processed, res.Flagged, res.Approved, res.Duration.Round(time.Millisecond))
	audit.BestEffort(ctx, p.recorder, audit.Entry(domain.ActionFraudDetection, details, principal))

	log.Info().
		Str("principal", principal.ID).
		Bool("global", scope.Global).
		Int64("processed", res.Processed).
		Int64("flagged", res.Flagged).
		Int64("approved", res.Approved).
		Dur("duration", res.Duration).
		Msg("Triage batch completed")

	p.notify(ctx, principal, scope, res)
	return &res, nil
}

func (p *Processor) notify(ctx context.Context, principal domain.Principal, scope domain.Scope, res BatchResult) {
	if len(p.listeners) == 0 || res.Processed == 0 {
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, l := range p.listeners {
		g.Go(func() error {
			return l.BatchCompleted(gctx, principal, scope, res)
		})
	}
	if err := g.Wait(); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Msg("Post-batch listener failed")
	}
}
