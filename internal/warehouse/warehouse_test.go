package warehouse

import (
	"context"
	"errors"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/dvloznov/securepath/internal/domain"
	"github.com/dvloznov/securepath/internal/triage"
	"github.com/shopspring/decimal"
)

type mockSource struct {
	txs     []domain.Transaction
	entries []domain.AuditEntry
	txErr   error
}

func after(tx domain.Transaction, c domain.Cursor) bool {
	if tx.UpdatedAt.After(c.UpdatedAt) {
		return true
	}
	return tx.UpdatedAt.Equal(c.UpdatedAt) && tx.ID > c.ID
}

func (m *mockSource) ListScoredSince(ctx context.Context, c domain.Cursor, limit int) ([]domain.Transaction, error) {
	if m.txErr != nil {
		return nil, m.txErr
	}
	var out []domain.Transaction
	for _, tx := range m.txs {
		if (c == domain.Cursor{}) || after(tx, c) {
			out = append(out, tx)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockSource) ListAuditAfter(ctx context.Context, afterID uint64, limit int) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	for _, e := range m.entries {
		if e.ID > afterID {
			out = append(out, e)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type mockSink struct {
	wm        Watermark
	txRows    []*ScoredTransactionRow
	auditRows []*AuditRow
	inserts   int
}

func (m *mockSink) InsertTransactions(ctx context.Context, rows []*ScoredTransactionRow) error {
	m.inserts++
	m.txRows = append(m.txRows, rows...)
	return nil
}

func (m *mockSink) InsertAudit(ctx context.Context, rows []*AuditRow) error {
	m.inserts++
	m.auditRows = append(m.auditRows, rows...)
	return nil
}

func (m *mockSink) Watermarks(ctx context.Context) (Watermark, error) { return m.wm, nil }

func fixtures() *mockSource {
	t0 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	src := &mockSource{}
	for i := 1; i <= 5; i++ {
		ts := t0
		if i > 3 {
			ts = t0.Add(time.Minute)
		}
		src.txs = append(src.txs, domain.Transaction{
			ID: uint64(i), TransactionID: "T", UserID: "1", Amount: decimal.NewFromInt(int64(i)),
			RiskScore: decimal.NewNullDecimal(decimal.NewFromInt(10)), Status: domain.StatusApproved, UpdatedAt: ts,
		})
	}
	for i := 1; i <= 3; i++ {
		src.entries = append(src.entries, domain.AuditEntry{ID: uint64(i), Action: domain.ActionFraudDetection, Timestamp: t0})
	}
	return src
}

func TestExporter_Export(t *testing.T) {
	src := fixtures()
	sink := &mockSink{}

	res, err := NewExporter(src, sink, 2).Export(context.Background())
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if res.Transactions != 5 || res.AuditEntries != 3 {
		t.Errorf("result = %+v", res)
	}
	// 3 transaction pages + 2 audit pages
	if sink.inserts != 5 {
		t.Errorf("inserts = %d, want 5", sink.inserts)
	}
	if !res.Watermark.TransactionsUpdatedAfter.Equal(src.txs[4].UpdatedAt) || res.Watermark.AuditAfterID != 3 {
		t.Errorf("watermark = %+v", res.Watermark)
	}
}

func TestExporter_ResumesFromWatermark(t *testing.T) {
	src := fixtures()
	sink := &mockSink{wm: Watermark{TransactionsUpdatedAfter: src.txs[3].UpdatedAt, AuditAfterID: 2}}

	res, err := NewExporter(src, sink, 10).Export(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	// rows at the watermark timestamp are re-sent; insert ids dedupe them
	if res.Transactions != 2 || res.AuditEntries != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestExporter_SourceError(t *testing.T) {
	src := fixtures()
	src.txErr = errors.New("db down")
	if _, err := NewExporter(src, &mockSink{}, 0).Export(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewScoredTransactionRow(t *testing.T) {
	tx := domain.Transaction{
		ID: 9, TransactionID: "A-U1", UserID: "1",
		Amount:     decimal.RequireFromString("7500.25"),
		Currency:   "USD",
		Date:       time.Date(2024, 12, 31, 23, 30, 0, 0, time.FixedZone("EST", -5*3600)),
		FraudScore: decimal.NewNullDecimal(decimal.RequireFromString("0.9")),
		UpdatedAt:  time.Date(2025, 1, 1, 0, 0, 0, 5, time.UTC),
	}
	row := NewScoredTransactionRow(tx, time.Now())

	if got := row.TransactionDate.String(); got != "2025-01-01" {
		t.Errorf("TransactionDate = %s, want UTC day 2025-01-01", got)
	}

	if row.Amount.FloatString(2) != "7500.25" {
		t.Errorf("Amount = %s", row.Amount.FloatString(2))
	}
	if row.RiskScore.Valid || !row.FraudScore.Valid || row.FraudScore.Float64 != 0.9 {
		t.Errorf("scores = %+v / %+v", row.RiskScore, row.FraudScore)
	}
	if row.Status != "pending" || row.Country.Valid {
		t.Errorf("defaults = %s / %+v", row.Status, row.Country)
	}
	if row.insertID() != "tx-9-1735689600000000005" {
		t.Errorf("insertID = %s", row.insertID())
	}
}

func TestReadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_tables.sql":      {Data: []byte("CREATE TABLE `{{PROJECT_ID}}.{{DATASET_ID}}.t` (id INT64);")},
		"0001_init.sql":        {Data: []byte("SELECT 1;")},
		"001_bad.sql":          {Data: []byte("x")},
		"0003_missing_ext":     {Data: []byte("x")},
		"notes.md":             {Data: []byte("x")},
		"0004_views/readme.md": {Data: []byte("x")},
	}

	got, err := ReadMigrations(fsys, "proj", "ds")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Version != 1 || got[1].Version != 2 {
		t.Fatalf("migrations = %+v", got)
	}
	if got[1].Name != "tables" || got[1].SQL != "CREATE TABLE `proj.ds.t` (id INT64);" {
		t.Errorf("migration 2 = %+v", got[1])
	}

	other, _ := ReadMigrations(fsys, "other", "ds2")
	if other[1].Checksum != got[1].Checksum {
		t.Error("checksum should not depend on placeholders")
	}

	pending := Pending(got, []AppliedMigration{{Version: 1}})
	if len(pending) != 1 || pending[0].Version != 2 {
		t.Errorf("pending = %+v", pending)
	}

	dup := fstest.MapFS{
		"0001_a.sql": {Data: []byte("a")},
		"0001_b.sql": {Data: []byte("b")},
	}
	if _, err := ReadMigrations(dup, "p", "d"); err == nil {
		t.Error("expected duplicate version error")
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	got, err := ReadMigrations(EmbeddedMigrations(), "proj", "ds")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) < 3 || got[0].Name != "init_schema_migrations" {
		t.Fatalf("embedded = %+v", got)
	}
	for _, m := range got {
		if strings.Contains(m.SQL, "{{") {
			t.Errorf("%s has unreplaced placeholders", m.Filename)
		}
	}
}

func TestExporter_BatchCompleted(t *testing.T) {
	sink := &mockSink{}
	var l triage.Listener = NewExporter(fixtures(), sink, 10)

	err := l.BatchCompleted(context.Background(), domain.Principal{ID: "7"}, domain.ScopeFor("7"), triage.BatchResult{Processed: 5})
	if err != nil {
		t.Fatalf("BatchCompleted() error = %v", err)
	}
	if len(sink.txRows) != 5 || len(sink.auditRows) != 3 {
		t.Errorf("exported %d transactions, %d audit entries", len(sink.txRows), len(sink.auditRows))
	}
}

func TestMigrationFilenamePattern(t *testing.T) {
	tests := []struct {
		filename string
		valid    bool
		version  string
		name     string
	}{
		{"0001_init_schema_migrations.sql", true, "0001", "init_schema_migrations"},
		{"0042_add.view.sql", true, "0042", "add.view"},
		{"001_invalid.sql", false, "", ""},
		{"0001_test", false, "", ""},
		{"0001.sql", false, "", ""},
		{"invalid_0001_test.sql", false, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			m := filenamePattern.FindStringSubmatch(tt.filename)
			if (m != nil) != tt.valid {
				t.Fatalf("match = %v, want %v", m != nil, tt.valid)
			}
			if tt.valid && (m[1] != tt.version || m[2] != tt.name) {
				t.Errorf("parts = %q %q", m[1], m[2])
			}
		})
	}
}
