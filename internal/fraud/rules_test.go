package fraud

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/dvloznov/securepath/internal/domain"
	"github.com/shopspring/decimal"
)

func historyWithIP(userID, ip string, n int) SliceHistory {
	h := make(SliceHistory, 0, n)
	for i := 0; i < n; i++ {
		h = append(h, domain.Transaction{
			ID:            uint64(1000 + i),
			TransactionID: fmt.Sprintf("H%d-U%s", i, userID),
			UserID:        userID,
			IPAddress:     ip,
		})
	}
	return h
}

func TestEngine_Evaluate_AllSignalsScenario(t *testing.T) {
	engine := NewEngine(DefaultRuleConfig())
	tx := domain.Transaction{
		TransactionID: "T1-U7",
		UserID:        "7",
		Amount:        decimal.NewFromInt(7500),
		Country:       "RU",
		IPAddress:     "203.0.113.9",
		DeviceID:      "new-phone-01",
	}
	history := historyWithIP("7", "203.0.113.9", 12)

	outcome := engine.Evaluate(tx, history)

	if outcome.Score != 90 {
		t.Errorf("Score = %v, want 90", outcome.Score)
	}
	want := []string{ReasonHighAmount, ReasonForeignCountry, ReasonHighVelocityIP, ReasonNewDevice}
	if !reflect.DeepEqual(outcome.Reasons(), want) {
		t.Errorf("Reasons = %v, want %v", outcome.Reasons(), want)
	}

	a := engine.ScoreOne(tx, history, NewCombiner(DefaultCombinerConfig()))
	if a.FinalScore != 90.0 {
		t.Errorf("FinalScore = %v, want 90.0", a.FinalScore)
	}
	if !a.Flagged {
		t.Error("expected transaction to be flagged")
	}
}

func TestEngine_Evaluate(t *testing.T) {
	engine := NewEngine(DefaultRuleConfig())

	tests := []struct {
		name        string
		tx          domain.Transaction
		history     HistoryView
		wantScore   float64
		wantReasons []string
	}{
		{
			name:        "no signals",
			tx:          domain.Transaction{UserID: "1", Amount: decimal.NewFromInt(20)},
			history:     SliceHistory{},
			wantScore:   0,
			wantReasons: []string{},
		},
		{
			name:        "amount exactly 5000 does not trigger",
			tx:          domain.Transaction{UserID: "1", Amount: decimal.NewFromInt(5000), Country: "US"},
			history:     SliceHistory{},
			wantScore:   0,
			wantReasons: []string{},
		},
		{
			name:        "home country lower case is not foreign",
			tx:          domain.Transaction{UserID: "1", Amount: decimal.NewFromInt(1), Country: "us"},
			history:     SliceHistory{},
			wantScore:   0,
			wantReasons: []string{},
		},
		{
			name:        "new device case insensitive",
			tx:          domain.Transaction{UserID: "1", Amount: decimal.NewFromInt(1), DeviceID: "Android-NEW"},
			history:     SliceHistory{},
			wantScore:   15,
			wantReasons: []string{ReasonNewDevice},
		},
		{
			name:        "first seen ip",
			tx:          domain.Transaction{UserID: "1", Amount: decimal.NewFromInt(1), IPAddress: "10.0.0.1"},
			history:     historyWithIP("2", "10.0.0.1", 3),
			wantScore:   10,
			wantReasons: []string{ReasonNewIPAddress},
		},
		{
			name:        "velocity counts other principals",
			tx:          domain.Transaction{UserID: "1", Amount: decimal.NewFromInt(1), IPAddress: "10.0.0.1"},
			history:     historyWithIP("2", "10.0.0.1", 11),
			wantScore:   30,
			wantReasons: []string{ReasonHighVelocityIP, ReasonNewIPAddress},
		},
		{
			name:        "exactly ten shared is not high velocity",
			tx:          domain.Transaction{UserID: "1", Amount: decimal.NewFromInt(1), IPAddress: "10.0.0.1"},
			history:     historyWithIP("1", "10.0.0.1", 10),
			wantScore:   0,
			wantReasons: []string{},
		},
		{
			name:        "stored transaction counts itself toward velocity",
			tx:          domain.Transaction{ID: 1, UserID: "1", Amount: decimal.NewFromInt(1), IPAddress: "10.0.0.1"},
			history:     historyWithIP("2", "10.0.0.1", 10),
			wantScore:   30,
			wantReasons: []string{ReasonHighVelocityIP, ReasonNewIPAddress},
		},
		{
			name:        "stored transaction with nine others is not high velocity",
			tx:          domain.Transaction{ID: 1, UserID: "1", Amount: decimal.NewFromInt(1), IPAddress: "10.0.0.1"},
			history:     historyWithIP("2", "10.0.0.1", 9),
			wantScore:   10,
			wantReasons: []string{ReasonNewIPAddress},
		},
		{
			name:        "missing history skips ip rules",
			tx:          domain.Transaction{UserID: "1", Amount: decimal.NewFromInt(1), IPAddress: "10.0.0.1"},
			history:     nil,
			wantScore:   0,
			wantReasons: []string{},
		},
		{
			name: "every rule triggered",
			tx: domain.Transaction{
				UserID: "1", Amount: decimal.NewFromInt(9000), Country: "NG",
				IPAddress: "10.0.0.9", DeviceID: "new",
			},
			history:     historyWithIP("2", "10.0.0.9", 20),
			wantScore:   100,
			wantReasons: []string{ReasonHighAmount, ReasonForeignCountry, ReasonHighVelocityIP, ReasonNewDevice, ReasonNewIPAddress},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome := engine.Evaluate(tt.tx, tt.history)
			if outcome.Score != tt.wantScore {
				t.Errorf("Score = %v, want %v", outcome.Score, tt.wantScore)
			}
			if !reflect.DeepEqual(outcome.Reasons(), tt.wantReasons) {
				t.Errorf("Reasons = %v, want %v", outcome.Reasons(), tt.wantReasons)
			}
		})
	}
}

func TestEngine_Monotonicity(t *testing.T) {
	engine := NewEngine(DefaultRuleConfig())
	history := historyWithIP("1", "10.1.1.1", 2)

	base := domain.Transaction{UserID: "1", Amount: decimal.NewFromInt(100), IPAddress: "10.1.1.1"}
	before := engine.Evaluate(base, history).Score

	mutations := map[string]func(tx *domain.Transaction){
		"raise amount":   func(tx *domain.Transaction) { tx.Amount = decimal.NewFromInt(6000) },
		"foreign":        func(tx *domain.Transaction) { tx.Country = "FR" },
		"new device":     func(tx *domain.Transaction) { tx.DeviceID = "new-tablet" },
		"unseen address": func(tx *domain.Transaction) { tx.IPAddress = "192.0.2.44" },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			tx := base
			mutate(&tx)
			if after := engine.Evaluate(tx, history).Score; after < before {
				t.Errorf("score decreased from %v to %v", before, after)
			}
		})
	}
}

func TestEngine_Features(t *testing.T) {
	engine := NewEngine(DefaultRuleConfig())

	tx := domain.Transaction{ID: 5, UserID: "1", Amount: decimal.RequireFromString("6000.50"), Country: "CA", DeviceID: "x", IPAddress: "1.1.1.1"}
	history := historyWithIP("1", "1.1.1.1", 4)

	got := engine.Features(tx, history)
	want := []float64{6000.5, 1, 1, 0, 5}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Features = %v, want %v", got, want)
	}

	noIP := engine.Features(domain.Transaction{Amount: decimal.NewFromInt(1)}, history)
	if noIP[4] != 1 {
		t.Errorf("ip feature without address = %v, want 1", noIP[4])
	}
}

func TestSnapshot_ExcludesPersistedSelf(t *testing.T) {
	snap := NewSnapshot(IPCounts{
		Global:      map[string]int{"1.2.3.4": 11},
		ByPrincipal: map[string]map[string]int{"u1": {"1.2.3.4": 1}},
	})

	stored := domain.Transaction{ID: 9, UserID: "u1", IPAddress: "1.2.3.4"}
	if got := snap.SharedIPCount(stored); got != 10 {
		t.Errorf("SharedIPCount = %d, want 10", got)
	}
	if snap.IPSeenForPrincipal(stored) {
		t.Error("only occurrence is the transaction itself; expected unseen")
	}

	adHoc := domain.Transaction{UserID: "u1", IPAddress: "1.2.3.4"}
	if got := snap.SharedIPCount(adHoc); got != 11 {
		t.Errorf("SharedIPCount for unsaved = %d, want 11", got)
	}
	if !snap.IPSeenForPrincipal(adHoc) {
		t.Error("expected seen for unsaved transaction")
	}

	// eleven stored rows on one address, the scored one included
	engine := NewEngine(DefaultRuleConfig())
	outcome := engine.Evaluate(stored, snap)
	if outcome.Score != 30 || !reflect.DeepEqual(outcome.Reasons(), []string{ReasonHighVelocityIP, ReasonNewIPAddress}) {
		t.Errorf("stored outcome = %v %v", outcome.Score, outcome.Reasons())
	}
}
