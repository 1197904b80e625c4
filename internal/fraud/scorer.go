package fraud

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dvloznov/securepath/internal/audit"
	"github.com/dvloznov/securepath/internal/domain"
	"github.com/dvloznov/securepath/internal/logger"
	"github.com/dvloznov/securepath/internal/metrics"
)

// DefaultMaxBatch caps how many transactions one scoring call loads.
const DefaultMaxBatch = 5000

// Repository is the storage the scoring service needs.
type Repository interface {
	// ListForScoring returns the principal's transactions with the given ids,
	// or its undecided transactions when ids is empty, up to limit rows.
	ListForScoring(ctx context.Context, userID string, ids []uint64, limit int) ([]domain.Transaction, error)

	// LoadIPCounts returns stored occurrence counts for the given IPs, globally
	// and for each of the given principals.
	LoadIPCounts(ctx context.Context, ips []string, userIDs []string) (IPCounts, error)

	// SaveScores writes risk score, fraud flag, legacy fraud score and reason
	// code of each update in one statement per row and one transaction.
	SaveScores(ctx context.Context, updates []ScoreUpdate) error
}

// ScoreUpdate is the persisted outcome of one assessment. RiskScore and
// IsFraud are always written together.
type ScoreUpdate struct {
	ID         uint64
	RiskScore  float64
	FraudScore float64
	IsFraud    bool
	ReasonCode string
}

// Notifier receives flagged transactions. Failures are logged, not returned.
type Notifier interface {
	NotifyFlagged(ctx context.Context, tx domain.Transaction, a Assessment) error
}

// ScoredTransaction is one row of a scoring result.
type ScoredTransaction struct {
	ID            uint64  `json:"id"`
	TransactionID string  `json:"transaction_id"`
	RiskScore     float64 `json:"risk_score"`
	ReasonCode    string  `json:"reason_code"`
	Flagged       bool    `json:"flagged"`
}

// ScoreResult summarises a scoring call.
type ScoreResult struct {
	Scored       int                 `json:"scored"`
	Flagged      int                 `json:"flagged"`
	ModelEnabled bool                `json:"model_enabled"`
	Results      []ScoredTransaction `json:"results"`
	Duration     time.Duration       `json:"duration"`
}

// Scorer runs the per-transaction scoring path: rules, optional model and
// combiner over a set of stored transactions.
type Scorer struct {
	engine   *Engine
	combiner Combiner
	model    AnomalyModel
	repo     Repository
	recorder audit.Recorder
	notifier Notifier
	maxBatch int
}

// ScorerOption configures a Scorer.
type ScorerOption func(*Scorer)

// WithModel enables the anomaly model.
func WithModel(m AnomalyModel) ScorerOption {
	return func(s *Scorer) { s.model = m }
}

// WithNotifier sets the flagged-transaction notifier.
func WithNotifier(n Notifier) ScorerOption {
	return func(s *Scorer) { s.notifier = n }
}

// WithMaxBatch overrides DefaultMaxBatch.
func WithMaxBatch(n int) ScorerOption {
	return func(s *Scorer) {
		if n > 0 {
			s.maxBatch = n
		}
	}
}

// NewScorer creates a Scorer.
func NewScorer(engine *Engine, combiner Combiner, repo Repository, recorder audit.Recorder, opts ...ScorerOption) *Scorer {
	s := &Scorer{
		engine:   engine,
		combiner: combiner,
		repo:     repo,
		recorder: recorder,
		maxBatch: DefaultMaxBatch,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score assesses the principal's transactions (the given ids, or every
// undecided one) and persists the scores.
func (s *Scorer) Score(ctx context.Context, p domain.Principal, ids []uint64) (*ScoreResult, error) {
	start := time.Now()
	res, err := s.score(ctx, p, ids)
	metrics.ObserveSince("score", start, err)
	if err != nil {
		audit.Failure(ctx, s.recorder, domain.ActionFraudScoringFailed, p, err)
		return nil, err
	}
	res.Duration = time.Since(start)

	details := fmt.Sprintf("Scored %d transactions. Flagged %d as high risk. Elapsed %s.",
		res.Scored, res.Flagged, res.Duration.Round(time.Millisecond))
	audit.BestEffort(ctx, s.recorder, audit.Entry(domain.ActionFraudScoring, details, p))
	return res, nil
}

func (s *Scorer) score(ctx context.Context, p domain.Principal, ids []uint64) (*ScoreResult, error) {
	log := logger.FromContext(ctx)

	txs, err := s.repo.ListForScoring(ctx, p.ID, ids, s.maxBatch)
	if err != nil {
		return nil, fmt.Errorf("Scorer.Score: loading transactions: %w", err)
	}
	res := &ScoreResult{ModelEnabled: s.model != nil, Results: []ScoredTransaction{}}
	if len(txs) == 0 {
		return res, nil
	}

	counts, err := s.repo.LoadIPCounts(ctx, distinctIPs(txs), distinctUsers(txs))
	if err != nil {
		return nil, fmt.Errorf("Scorer.Score: loading history: %w", err)
	}
	history := NewSnapshot(counts)

	assessments := s.Assess(ctx, txs, history)

	updates := make([]ScoreUpdate, len(txs))
	for i, a := range assessments {
		updates[i] = ScoreUpdate{
			ID:         txs[i].ID,
			RiskScore:  a.FinalScore,
			FraudScore: a.FraudScore(),
			IsFraud:    a.Flagged,
			ReasonCode: a.ReasonText(),
		}
	}
	if err := s.repo.SaveScores(ctx, updates); err != nil {
		return nil, fmt.Errorf("Scorer.Score: saving scores: %w", err)
	}

	for i, a := range assessments {
		res.Results = append(res.Results, ScoredTransaction{
			ID:            txs[i].ID,
			TransactionID: txs[i].TransactionID,
			RiskScore:     a.FinalScore,
			ReasonCode:    a.ReasonText(),
			Flagged:       a.Flagged,
		})
		if !a.Flagged {
			metrics.Decisions.WithLabelValues("scoring", "clear").Inc()
			continue
		}
		res.Flagged++
		metrics.Decisions.WithLabelValues("scoring", "flagged").Inc()
		if s.notifier != nil {
			if err := s.notifier.NotifyFlagged(ctx, txs[i], a); err != nil {
				log.Warn().Err(err).Str("transaction_id", txs[i].TransactionID).Msg("Failed to publish fraud alert")
			}
		}
	}
	res.Scored = len(txs)

	log.Info().
		Str("principal", p.ID).
		Int("scored", res.Scored).
		Int("flagged", res.Flagged).
		Bool("model", res.ModelEnabled).
		Msg("Scoring completed")

	return res, nil
}

// Assess scores txs against history without touching storage. The model, when
// configured, is run once over the whole batch so normalization is batch-wide.
func (s *Scorer) Assess(ctx context.Context, txs []domain.Transaction, history HistoryView) []Assessment {
	modelScores := s.modelScores(ctx, txs, history)

	out := make([]Assessment, len(txs))
	for i, tx := range txs {
		outcome := s.engine.Evaluate(tx, history)
		var ms *float64
		if modelScores != nil {
			v := modelScores[i]
			ms = &v
		}
		out[i] = s.combiner.Combine(outcome, ms)
	}
	return out
}

// modelScores returns nil without a model. A failing model, or one returning
// a non-finite score, yields zero scores for the batch so the rule share
// still applies.
func (s *Scorer) modelScores(ctx context.Context, txs []domain.Transaction, history HistoryView) []float64 {
	if s.model == nil {
		return nil
	}
	features := make([][]float64, len(txs))
	for i, tx := range txs {
		features[i] = s.engine.Features(tx, history)
	}

	raw, err := s.model.DecisionFunction(ctx, features)
	if err != nil || len(raw) != len(txs) {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Int("rows", len(txs)).Msg("Anomaly model failed; using zero model scores")
		return make([]float64, len(txs))
	}
	for i, v := range raw {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			log := logger.FromContext(ctx)
			log.Warn().Int("row", i).Float64("raw_score", v).Msg("Anomaly model returned a non-finite score; using zero model scores")
			return make([]float64, len(txs))
		}
	}
	return NormalizeModelScores(raw)
}

func distinctIPs(txs []domain.Transaction) []string {
	seen := make(map[string]struct{})
	var ips []string
	for _, tx := range txs {
		ip := strings.TrimSpace(tx.IPAddress)
		if ip == "" {
			continue
		}
		if _, ok := seen[ip]; ok {
			continue
		}
		seen[ip] = struct{}{}
		ips = append(ips, ip)
	}
	return ips
}

func distinctUsers(txs []domain.Transaction) []string {
	seen := make(map[string]struct{})
	var users []string
	for _, tx := range txs {
		if _, ok := seen[tx.UserID]; ok {
			continue
		}
		seen[tx.UserID] = struct{}{}
		users = append(users, tx.UserID)
	}
	return users
}
