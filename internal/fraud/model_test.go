package fraud

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNormalizeModelScores(t *testing.T) {
	got := NormalizeModelScores([]float64{0.2, -0.3, 0.0})

	// -0.3 is the most anomalous raw score and maps to ~100.
	if got[1] < 99.99 || got[1] > 100 {
		t.Errorf("most anomalous = %v, want ~100", got[1])
	}
	if got[0] != 0 {
		t.Errorf("least anomalous = %v, want 0", got[0])
	}
	if got[2] <= got[0] || got[2] >= got[1] {
		t.Errorf("middle score %v not between %v and %v", got[2], got[0], got[1])
	}

	flat := NormalizeModelScores([]float64{1.5, 1.5, 1.5})
	for i, v := range flat {
		if v != 0 {
			t.Errorf("flat[%d] = %v, want 0", i, v)
		}
	}

	if len(NormalizeModelScores(nil)) != 0 {
		t.Error("expected empty result for empty input")
	}
}

func TestLinearModel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.json")
	if err := os.WriteFile(path, []byte(`{"weights":[0.5,-1],"intercept":2}`), 0o600); err != nil {
		t.Fatal(err)
	}

	m, err := LoadLinearModel(path)
	if err != nil {
		t.Fatalf("LoadLinearModel() error = %v", err)
	}

	scores, err := m.DecisionFunction(context.Background(), [][]float64{{2, 1}, {0, 4}})
	if err != nil {
		t.Fatalf("DecisionFunction() error = %v", err)
	}
	if scores[0] != 2 || scores[1] != -2 {
		t.Errorf("scores = %v, want [2 -2]", scores)
	}

	if _, err := m.DecisionFunction(context.Background(), [][]float64{{1}}); err == nil {
		t.Error("expected error for short feature row")
	}
}

func TestLoadLinearModel_Errors(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.json")
	if err := os.WriteFile(empty, []byte(`{"weights":[]}`), 0o600); err != nil {
		t.Fatal(err)
	}
	garbage := filepath.Join(dir, "garbage.json")
	if err := os.WriteFile(garbage, []byte(`not json`), 0o600); err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{filepath.Join(dir, "missing.json"), empty, garbage} {
		if _, err := LoadLinearModel(path); err == nil {
			t.Errorf("LoadLinearModel(%s) expected error", filepath.Base(path))
		}
	}
}

func TestRemoteModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req decisionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		scores := make([]float64, len(req.Instances))
		for i, row := range req.Instances {
			scores[i] = -row[0]
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(decisionResponse{Scores: scores})
	}))
	defer srv.Close()

	m := NewRemoteModel(srv.URL, time.Second)
	got, err := m.DecisionFunction(context.Background(), [][]float64{{1, 0}, {3, 0}})
	if err != nil {
		t.Fatalf("DecisionFunction() error = %v", err)
	}
	if len(got) != 2 || got[0] != -1 || got[1] != -3 {
		t.Errorf("scores = %v, want [-1 -3]", got)
	}
}

func TestRemoteModel_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m := NewRemoteModel(srv.URL, time.Second)
	m.client.SetRetryCount(0)
	if _, err := m.DecisionFunction(context.Background(), [][]float64{{1}}); err == nil {
		t.Error("expected error for 503 response")
	}
}
