package reviewsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/securepath/internal/domain"
	"github.com/jomei/notionapi"
	"github.com/shopspring/decimal"
)

type mockNotion struct {
	queryFunc  func(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
	createFunc func(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error)
	updateFunc func(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error)
}

func (m *mockNotion) QueryDatabase(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, databaseID, req)
	}
	return &notionapi.DatabaseQueryResponse{}, nil
}

func (m *mockNotion) CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
	if m.createFunc != nil {
		return m.createFunc(ctx, databaseID, properties)
	}
	return &notionapi.Page{ID: "new"}, nil
}

func (m *mockNotion) UpdatePage(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error) {
	if m.updateFunc != nil {
		return m.updateFunc(ctx, pageID, properties)
	}
	return &notionapi.Page{ID: notionapi.ObjectID(pageID)}, nil
}

type mockSource struct {
	txs []domain.Transaction
	err error
}

func (m *mockSource) ListFlagged(ctx context.Context, c domain.Cursor, limit int) ([]domain.Transaction, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.Transaction
	for _, tx := range m.txs {
		if tx.UpdatedAt.After(c.UpdatedAt) || (tx.UpdatedAt.Equal(c.UpdatedAt) && tx.ID > c.ID) {
			out = append(out, tx)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func reviewPage(id, principal, txID string) notionapi.Page {
	return notionapi.Page{
		ID: notionapi.ObjectID(id),
		Properties: notionapi.Properties{
			PropTransactionID: &notionapi.TitleProperty{Title: []notionapi.RichText{{PlainText: txID}}},
			PropPrincipal:     &notionapi.RichTextProperty{RichText: []notionapi.RichText{{PlainText: principal}}},
		},
	}
}

func flagged(id uint64, principal, txID string, at time.Time) domain.Transaction {
	return domain.Transaction{
		ID:            id,
		TransactionID: txID,
		UserID:        principal,
		Amount:        decimal.RequireFromString("7500.00"),
		Currency:      "EUR",
		Country:       "RU",
		Merchant:      "Amazon",
		Date:          at,
		Status:        domain.StatusRejected,
		IsFraud:       true,
		RiskScore:     decimal.NewNullDecimal(decimal.NewFromInt(80)),
		ReasonCode:    "AMOUNT_THRESHOLD",
		UpdatedAt:     at,
	}
}

func TestSyncer_Sync(t *testing.T) {
	at := time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC)
	source := &mockSource{txs: []domain.Transaction{
		flagged(1, "7", "A1-U7", at),
		flagged(2, "7", "A2-U7", at),
		flagged(3, "8", "A1-U7", at),
	}}

	var queries int
	var created, updated []string
	notion := &mockNotion{
		queryFunc: func(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
			queries++
			if req.StartCursor == "" {
				return &notionapi.DatabaseQueryResponse{
					Results:    []notionapi.Page{reviewPage("p1", "7", "A1-U7")},
					HasMore:    true,
					NextCursor: "next",
				}, nil
			}
			return &notionapi.DatabaseQueryResponse{Results: []notionapi.Page{reviewPage("p2", "9", "Z9")}}, nil
		},
		createFunc: func(ctx context.Context, databaseID string, props notionapi.Properties) (*notionapi.Page, error) {
			if databaseID != "db" {
				t.Errorf("databaseID = %q", databaseID)
			}
			title := props[PropTransactionID].(notionapi.TitleProperty)
			created = append(created, title.Title[0].Text.Content)
			return &notionapi.Page{ID: "new"}, nil
		},
		updateFunc: func(ctx context.Context, pageID string, props notionapi.Properties) (*notionapi.Page, error) {
			updated = append(updated, pageID)
			return &notionapi.Page{ID: notionapi.ObjectID(pageID)}, nil
		},
	}

	s := NewSyncer(notion, source, "db", false)
	res, err := s.Sync(context.Background(), domain.Cursor{})
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	if queries != 2 {
		t.Errorf("queries = %d, want 2", queries)
	}
	if res.Created != 2 || res.Updated != 1 || res.Failed != 0 {
		t.Errorf("result = %+v", res)
	}
	if len(updated) != 1 || updated[0] != "p1" {
		t.Errorf("updated = %v, want [p1]", updated)
	}
	if len(created) != 2 || created[0] != "A2-U7" || created[1] != "A1-U7" {
		t.Errorf("created = %v", created)
	}
	if res.Cursor.ID != 3 || !res.Cursor.UpdatedAt.Equal(at) {
		t.Errorf("cursor = %+v", res.Cursor)
	}
}

func TestSyncer_DryRun(t *testing.T) {
	at := time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC)
	source := &mockSource{txs: []domain.Transaction{flagged(1, "7", "A1-U7", at), flagged(2, "7", "A2-U7", at)}}
	notion := &mockNotion{
		queryFunc: func(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
			return &notionapi.DatabaseQueryResponse{Results: []notionapi.Page{reviewPage("p1", "7", "A1-U7")}}, nil
		},
		createFunc: func(ctx context.Context, databaseID string, props notionapi.Properties) (*notionapi.Page, error) {
			t.Error("CreatePage called in dry run")
			return nil, nil
		},
		updateFunc: func(ctx context.Context, pageID string, props notionapi.Properties) (*notionapi.Page, error) {
			t.Error("UpdatePage called in dry run")
			return nil, nil
		},
	}

	res, err := NewSyncer(notion, source, "db", true).Sync(context.Background(), domain.Cursor{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Created != 1 || res.Updated != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestSyncer_Errors(t *testing.T) {
	at := time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name        string
		source      *mockSource
		notion      *mockNotion
		wantErr     bool
		wantFailed  int
		wantCreated int
	}{
		{
			name:   "query fails",
			source: &mockSource{},
			notion: &mockNotion{queryFunc: func(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
				return nil, errors.New("unauthorized")
			}},
			wantErr: true,
		},
		{
			name:    "source fails",
			source:  &mockSource{err: errors.New("db down")},
			notion:  &mockNotion{},
			wantErr: true,
		},
		{
			name:   "create failure continues",
			source: &mockSource{txs: []domain.Transaction{flagged(1, "7", "A1-U7", at), flagged(2, "7", "A2-U7", at)}},
			notion: &mockNotion{createFunc: func(ctx context.Context, databaseID string, props notionapi.Properties) (*notionapi.Page, error) {
				if props[PropTransactionID].(notionapi.TitleProperty).Title[0].Text.Content == "A1-U7" {
					return nil, errors.New("rate limited")
				}
				return &notionapi.Page{ID: "ok"}, nil
			}},
			wantFailed:  1,
			wantCreated: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := NewSyncer(tt.notion, tt.source, "db", false).Sync(context.Background(), domain.Cursor{})
			if (err != nil) != tt.wantErr {
				t.Fatalf("Sync() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if res.Failed != tt.wantFailed || res.Created != tt.wantCreated {
				t.Errorf("result = %+v", res)
			}
		})
	}
}

func TestTransactionToProperties(t *testing.T) {
	at := time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC)
	tx := flagged(1, "7", "A1-U7", at)
	tx.FraudReasons = "amount above threshold; foreign country"

	props := TransactionToProperties(tx)

	if got := props[PropAmount].(notionapi.NumberProperty).Number; got != 7500 {
		t.Errorf("Amount = %v", got)
	}
	if got := props[PropRiskScore].(notionapi.NumberProperty).Number; got != 80 {
		t.Errorf("Risk Score = %v", got)
	}
	if got := props[PropStatus].(notionapi.SelectProperty).Select.Name; got != "rejected" {
		t.Errorf("Status = %q", got)
	}
	if got := props[PropReasons].(notionapi.RichTextProperty).RichText[0].Text.Content; got != tx.FraudReasons {
		t.Errorf("Reasons = %q", got)
	}
	if !props[PropIsFraud].(notionapi.CheckboxProperty).Checkbox {
		t.Error("Is Fraud = false")
	}

	tx.Country = ""
	tx.RiskScore = decimal.NullDecimal{}
	props = TransactionToProperties(tx)
	if _, ok := props[PropCountry]; ok {
		t.Error("Country set for empty value")
	}
	if _, ok := props[PropRiskScore]; ok {
		t.Error("Risk Score set for unscored transaction")
	}
}
