package fraud

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
)

// normalizeEpsilon keeps min-max scaling defined when every score is equal.
const normalizeEpsilon = 1e-10

// AnomalyModel is a trained anomaly detector. DecisionFunction returns one raw
// score per feature row; lower means more anomalous.
type AnomalyModel interface {
	DecisionFunction(ctx context.Context, features [][]float64) ([]float64, error)
}

// NormalizeModelScores inverts the raw decision scores so higher is riskier and
// min-max scales them to 0-100 across the batch.
func NormalizeModelScores(raw []float64) []float64 {
	out := make([]float64, len(raw))
	if len(raw) == 0 {
		return out
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for i, v := range raw {
		out[i] = -v
		lo = math.Min(lo, out[i])
		hi = math.Max(hi, out[i])
	}
	for i := range out {
		out[i] = (out[i] - lo) / (hi - lo + normalizeEpsilon) * 100
	}
	return out
}

// LinearModel is a linear decision function w·x + b exported from an offline
// training job.
type LinearModel struct {
	Weights   []float64 `json:"weights"`
	Intercept float64   `json:"intercept"`
}

// LoadLinearModel reads a LinearModel from a JSON file.
func LoadLinearModel(path string) (*LinearModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadLinearModel: reading %s: %w", path, err)
	}
	var m LinearModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("LoadLinearModel: decoding %s: %w", path, err)
	}
	if len(m.Weights) == 0 {
		return nil, fmt.Errorf("LoadLinearModel: %s has no weights", path)
	}
	return &m, nil
}

// DecisionFunction implements AnomalyModel.
func (m *LinearModel) DecisionFunction(ctx context.Context, features [][]float64) ([]float64, error) {
	scores := make([]float64, len(features))
	for i, row := range features {
		if len(row) != len(m.Weights) {
			return nil, fmt.Errorf("LinearModel: row %d has %d features, want %d", i, len(row), len(m.Weights))
		}
		s := m.Intercept
		for j, w := range m.Weights {
			s += w * row[j]
		}
		scores[i] = s
	}
	return scores, nil
}

// RemoteModel calls a model server exposing the decision function over HTTP.
type RemoteModel struct {
	client   *resty.Client
	endpoint string
}

// NewRemoteModel creates a RemoteModel posting to endpoint.
func NewRemoteModel(endpoint string, timeout time.Duration) *RemoteModel {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetHeader("Content-Type", "application/json")
	return &RemoteModel{client: client, endpoint: endpoint}
}

type decisionRequest struct {
	Instances [][]float64 `json:"instances"`
}

type decisionResponse struct {
	Scores []float64 `json:"scores"`
}

// DecisionFunction implements AnomalyModel.
func (m *RemoteModel) DecisionFunction(ctx context.Context, features [][]float64) ([]float64, error) {
	var out decisionResponse
	resp, err := m.client.R().
		SetContext(ctx).
		SetBody(decisionRequest{Instances: features}).
		SetResult(&out).
		Post(m.endpoint)
	if err != nil {
		return nil, fmt.Errorf("RemoteModel: request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("RemoteModel: status %d: %s", resp.StatusCode(), resp.String())
	}
	if len(out.Scores) != len(features) {
		return nil, fmt.Errorf("RemoteModel: got %d scores for %d rows", len(out.Scores), len(features))
	}
	return out.Scores, nil
}

var (
	_ AnomalyModel = (*LinearModel)(nil)
	_ AnomalyModel = (*RemoteModel)(nil)
)
