package fraud

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/dvloznov/securepath/internal/domain"
	"github.com/shopspring/decimal"
)

type mockRepository struct {
	ListForScoringFunc func(ctx context.Context, userID string, ids []uint64, limit int) ([]domain.Transaction, error)
	LoadIPCountsFunc   func(ctx context.Context, ips []string, userIDs []string) (IPCounts, error)
	SaveScoresFunc     func(ctx context.Context, updates []ScoreUpdate) error
}

func (m *mockRepository) ListForScoring(ctx context.Context, userID string, ids []uint64, limit int) ([]domain.Transaction, error) {
	if m.ListForScoringFunc != nil {
		return m.ListForScoringFunc(ctx, userID, ids, limit)
	}
	return nil, nil
}

func (m *mockRepository) LoadIPCounts(ctx context.Context, ips []string, userIDs []string) (IPCounts, error) {
	if m.LoadIPCountsFunc != nil {
		return m.LoadIPCountsFunc(ctx, ips, userIDs)
	}
	return IPCounts{}, nil
}

func (m *mockRepository) SaveScores(ctx context.Context, updates []ScoreUpdate) error {
	if m.SaveScoresFunc != nil {
		return m.SaveScoresFunc(ctx, updates)
	}
	return nil
}

type recordingAuditor struct {
	entries []domain.AuditEntry
}

func (r *recordingAuditor) Record(ctx context.Context, entry domain.AuditEntry) error {
	r.entries = append(r.entries, entry)
	return nil
}

type mockNotifier struct {
	calls []string
	err   error
}

func (n *mockNotifier) NotifyFlagged(ctx context.Context, tx domain.Transaction, a Assessment) error {
	n.calls = append(n.calls, tx.TransactionID)
	return n.err
}

type stubModel struct {
	scores []float64
	err    error
}

func (m stubModel) DecisionFunction(ctx context.Context, features [][]float64) ([]float64, error) {
	return m.scores, m.err
}

func scoringFixture() []domain.Transaction {
	return []domain.Transaction{
		{ID: 1, TransactionID: "T1-U7", UserID: "7", Amount: decimal.NewFromInt(7500), Country: "RU", IPAddress: "203.0.113.9", DeviceID: "new-phone"},
		{ID: 2, TransactionID: "T2-U7", UserID: "7", Amount: decimal.NewFromInt(25), Country: "US", IPAddress: "10.0.0.1"},
	}
}

func TestScorer_Score(t *testing.T) {
	var saved []ScoreUpdate
	repo := &mockRepository{
		ListForScoringFunc: func(ctx context.Context, userID string, ids []uint64, limit int) ([]domain.Transaction, error) {
			if userID != "7" {
				t.Errorf("userID = %q, want 7", userID)
			}
			if limit != DefaultMaxBatch {
				t.Errorf("limit = %d, want %d", limit, DefaultMaxBatch)
			}
			return scoringFixture(), nil
		},
		LoadIPCountsFunc: func(ctx context.Context, ips []string, userIDs []string) (IPCounts, error) {
			if len(ips) != 2 || len(userIDs) != 1 {
				t.Errorf("ips = %v, users = %v", ips, userIDs)
			}
			return IPCounts{
				Global:      map[string]int{"203.0.113.9": 13, "10.0.0.1": 4},
				ByPrincipal: map[string]map[string]int{"7": {"203.0.113.9": 13, "10.0.0.1": 4}},
			}, nil
		},
		SaveScoresFunc: func(ctx context.Context, updates []ScoreUpdate) error {
			saved = updates
			return nil
		},
	}
	auditor := &recordingAuditor{}
	notifier := &mockNotifier{}

	s := NewScorer(NewEngine(DefaultRuleConfig()), NewCombiner(DefaultCombinerConfig()), repo, auditor, WithNotifier(notifier))
	res, err := s.Score(context.Background(), domain.Principal{ID: "7"}, nil)
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}

	if res.Scored != 2 || res.Flagged != 1 {
		t.Errorf("Scored/Flagged = %d/%d, want 2/1", res.Scored, res.Flagged)
	}
	if res.ModelEnabled {
		t.Error("model should be disabled")
	}
	if len(saved) != 2 {
		t.Fatalf("saved %d updates, want 2", len(saved))
	}
	if saved[0].RiskScore != 90 || !saved[0].IsFraud || saved[0].FraudScore != 0.9 {
		t.Errorf("first update = %+v", saved[0])
	}
	if saved[1].RiskScore != 0 || saved[1].IsFraud || saved[1].ReasonCode != NoRiskFlags {
		t.Errorf("second update = %+v", saved[1])
	}
	if len(notifier.calls) != 1 || notifier.calls[0] != "T1-U7" {
		t.Errorf("notifier calls = %v", notifier.calls)
	}
	if len(auditor.entries) != 1 || auditor.entries[0].Action != domain.ActionFraudScoring {
		t.Fatalf("audit entries = %+v", auditor.entries)
	}
	if !strings.HasPrefix(auditor.entries[0].Details, "Scored 2 transactions. Flagged 1 as high risk.") {
		t.Errorf("audit details = %q", auditor.entries[0].Details)
	}
}

func TestScorer_Score_Errors(t *testing.T) {
	boom := errors.New("db down")

	tests := []struct {
		name string
		repo *mockRepository
	}{
		{
			name: "list fails",
			repo: &mockRepository{
				ListForScoringFunc: func(ctx context.Context, userID string, ids []uint64, limit int) ([]domain.Transaction, error) {
					return nil, boom
				},
			},
		},
		{
			name: "save fails",
			repo: &mockRepository{
				ListForScoringFunc: func(ctx context.Context, userID string, ids []uint64, limit int) ([]domain.Transaction, error) {
					return scoringFixture(), nil
				},
				SaveScoresFunc: func(ctx context.Context, updates []ScoreUpdate) error {
					return boom
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auditor := &recordingAuditor{}
			s := NewScorer(NewEngine(DefaultRuleConfig()), NewCombiner(DefaultCombinerConfig()), tt.repo, auditor)

			_, err := s.Score(context.Background(), domain.Principal{ID: "7"}, nil)
			if !errors.Is(err, boom) {
				t.Fatalf("error = %v, want %v", err, boom)
			}
			if len(auditor.entries) != 1 || auditor.entries[0].Action != domain.ActionFraudScoringFailed {
				t.Errorf("audit entries = %+v", auditor.entries)
			}
		})
	}
}

func TestScorer_Score_Empty(t *testing.T) {
	auditor := &recordingAuditor{}
	saveCalled := false
	repo := &mockRepository{
		SaveScoresFunc: func(ctx context.Context, updates []ScoreUpdate) error {
			saveCalled = true
			return nil
		},
	}
	s := NewScorer(NewEngine(DefaultRuleConfig()), NewCombiner(DefaultCombinerConfig()), repo, auditor)

	res, err := s.Score(context.Background(), domain.Principal{ID: "7"}, nil)
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if res.Scored != 0 || saveCalled {
		t.Errorf("expected no-op, got scored=%d saveCalled=%v", res.Scored, saveCalled)
	}
	if len(auditor.entries) != 1 {
		t.Errorf("expected audit record for empty run, got %d", len(auditor.entries))
	}
}

func TestScorer_Assess_WithModel(t *testing.T) {
	txs := scoringFixture()
	history := SliceHistory(txs)

	tests := []struct {
		name      string
		model     stubModel
		wantFinal []float64
	}{
		{
			name: "model blends and flags anomaly",
			// raw -1 is the most anomalous, normalizes to ~100
			model:     stubModel{scores: []float64{1, -1}},
			wantFinal: []float64{48, 46},
		},
		{
			name:      "model failure yields zero model scores",
			model:     stubModel{err: errors.New("timeout")},
			wantFinal: []float64{48, 6},
		},
		{
			name:      "infinite raw score yields zero model scores",
			model:     stubModel{scores: []float64{math.Inf(-1), 0}},
			wantFinal: []float64{48, 6},
		},
		{
			name:      "NaN raw score yields zero model scores",
			model:     stubModel{scores: []float64{0, math.NaN()}},
			wantFinal: []float64{48, 6},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScorer(NewEngine(DefaultRuleConfig()), NewCombiner(DefaultCombinerConfig()), &mockRepository{}, nil, WithModel(tt.model))
			got := s.Assess(context.Background(), txs, history)
			for i, a := range got {
				if a.FinalScore != tt.wantFinal[i] {
					t.Errorf("tx %d FinalScore = %v, want %v", i, a.FinalScore, tt.wantFinal[i])
				}
				if a.ModelScore == nil {
					t.Errorf("tx %d: expected model score", i)
				}
			}
		})
	}
}
