package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dvloznov/securepath/internal/config"
	"github.com/dvloznov/securepath/internal/domain"
	"github.com/dvloznov/securepath/internal/ingest"
)

func newPlaidServer(t *testing.T, handler func(path string, body map[string]interface{}) (int, interface{})) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if body["client_id"] != "cid" || body["secret"] != "sec" {
			t.Errorf("credentials missing from %s body: %v", r.URL.Path, body)
		}
		status, out := handler(r.URL.Path, body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(out)
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(config.PlaidConfig{ClientID: "cid", Secret: "sec", BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	c.http.SetRetryCount(0)
	return c
}

func TestClient_LinkAndExchange(t *testing.T) {
	c := newPlaidServer(t, func(path string, body map[string]interface{}) (int, interface{}) {
		switch path {
		case "/link/token/create":
			user, _ := body["user"].(map[string]interface{})
			if user["client_user_id"] != "7" {
				t.Errorf("user = %v", body["user"])
			}
			return 200, map[string]string{"link_token": "link-sandbox-1"}
		case "/item/public_token/exchange":
			if body["public_token"] == "bad" {
				return 400, map[string]string{"error_type": "INVALID_INPUT", "error_code": "INVALID_PUBLIC_TOKEN", "error_message": "bad token"}
			}
			return 200, map[string]string{"access_token": "access-sandbox-1"}
		}
		return 404, map[string]string{}
	})
	ctx := context.Background()

	link, err := c.CreateLinkToken(ctx, "7")
	if err != nil || link != "link-sandbox-1" {
		t.Errorf("CreateLinkToken() = %q, %v", link, err)
	}
	access, err := c.ExchangePublicToken(ctx, "public-1")
	if err != nil || access != "access-sandbox-1" {
		t.Errorf("ExchangePublicToken() = %q, %v", access, err)
	}

	_, err = c.ExchangePublicToken(ctx, "bad")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != 400 || apiErr.ErrorCode != "INVALID_PUBLIC_TOKEN" {
		t.Errorf("error = %v", err)
	}
}

func TestClient_TransactionsPaginates(t *testing.T) {
	calls := 0
	c := newPlaidServer(t, func(path string, body map[string]interface{}) (int, interface{}) {
		calls++
		opts, _ := body["options"].(map[string]interface{})
		offset := int(opts["offset"].(float64))
		if body["start_date"] != "2025-01-01" || body["end_date"] != "2025-01-31" {
			t.Errorf("dates = %v..%v", body["start_date"], body["end_date"])
		}
		var txs []Transaction
		if offset == 0 {
			txs = []Transaction{{TransactionID: "a"}, {TransactionID: "b"}}
		} else {
			txs = []Transaction{{TransactionID: "c"}}
		}
		return 200, map[string]interface{}{"transactions": txs, "total_transactions": 3}
	})

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	got, err := c.Transactions(context.Background(), "access", start, start.AddDate(0, 0, 30))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || calls != 2 {
		t.Errorf("got %d transactions in %d calls", len(got), calls)
	}
}

func TestNewClient_Config(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.PlaidConfig
		wantErr bool
	}{
		{"missing credentials", config.PlaidConfig{Env: "sandbox"}, true},
		{"unknown env", config.PlaidConfig{ClientID: "a", Secret: "b", Env: "moon"}, true},
		{"sandbox", config.PlaidConfig{ClientID: "a", Secret: "b", Env: "sandbox"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewClient() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

type mockSource struct {
	TransactionsFunc func(ctx context.Context, token string, start, end time.Time) ([]Transaction, error)
}

func (m *mockSource) Transactions(ctx context.Context, token string, start, end time.Time) ([]Transaction, error) {
	return m.TransactionsFunc(ctx, token, start, end)
}

type mockIngester struct {
	rows   []ingest.Row
	source string
}

func (m *mockIngester) IngestRows(ctx context.Context, rows []ingest.Row, p domain.Principal, source string) (*ingest.Result, error) {
	m.rows, m.source = rows, source
	return &ingest.Result{ReadCount: len(rows), InsertedCount: len(rows)}, nil
}

func TestImporter_Sync(t *testing.T) {
	now := time.Date(2025, 2, 10, 15, 0, 0, 0, time.UTC)
	src := &mockSource{TransactionsFunc: func(ctx context.Context, token string, start, end time.Time) ([]Transaction, error) {
		if token != "access-1" || !end.Equal(now) || !start.Equal(now.AddDate(0, 0, -30)) {
			t.Errorf("window %v..%v token %s", start, end, token)
		}
		return []Transaction{
			{TransactionID: "p1", Amount: 12.5, Date: "2025-02-01", Name: "UBER *TRIP", MerchantName: "Uber", ISOCurrencyCode: "USD", Location: Location{Country: "US"}},
			{TransactionID: "p2", Amount: 89.4, Date: "2025-02-02", Name: "Corner Shop"},
		}, nil
	}}
	ing := &mockIngester{}
	imp := NewImporter(src, ing, 0)
	imp.now = func() time.Time { return now }

	res, err := imp.Sync(context.Background(), domain.Principal{ID: "7"}, "access-1")
	if err != nil {
		t.Fatal(err)
	}
	if res.InsertedCount != 2 || ing.source != ingest.SourceAggregator {
		t.Errorf("result = %+v, source = %s", res, ing.source)
	}

	want := []ingest.Row{
		{"transaction_id": "p1", "date": "2025-02-01", "amount": "12.5", "merchant": "Uber", "currency": "USD", "country": "US"},
		{"transaction_id": "p2", "date": "2025-02-02", "amount": "89.4", "merchant": "Corner Shop"},
	}
	for i, row := range ing.rows {
		if len(row) != len(want[i]) {
			t.Errorf("row %d = %v, want %v", i, row, want[i])
			continue
		}
		for k, v := range want[i] {
			if row[k] != v {
				t.Errorf("row %d %s = %q, want %q", i, k, row[k], v)
			}
		}
	}
}

func TestImporter_SourceError(t *testing.T) {
	src := &mockSource{TransactionsFunc: func(context.Context, string, time.Time, time.Time) ([]Transaction, error) {
		return nil, &APIError{Status: 400, ErrorCode: "ITEM_LOGIN_REQUIRED"}
	}}
	if _, err := NewImporter(src, &mockIngester{}, 30).Sync(context.Background(), domain.Principal{ID: "1"}, "x"); err == nil {
		t.Fatal("expected error")
	}
}
