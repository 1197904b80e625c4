package pipeline

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/securepath/internal/domain"
	"github.com/dvloznov/securepath/internal/ingest"
	"github.com/dvloznov/securepath/internal/uploads"
)

type mockIngester struct {
	IngestFunc func(ctx context.Context, rows []ingest.Row, p domain.Principal, source, name string) (*ingest.Result, error)
	ingestedAt time.Time
}

func (m *mockIngester) IngestNamedRows(ctx context.Context, rows []ingest.Row, p domain.Principal, source, name string, ingestedAt time.Time) (*ingest.Result, error) {
	m.ingestedAt = ingestedAt
	return m.IngestFunc(ctx, rows, p, source, name)
}

type mockParser struct {
	ParseStatementFunc func(ctx context.Context, pdfBytes []byte) (map[string]interface{}, error)
}

func (m *mockParser) ParseStatement(ctx context.Context, pdfBytes []byte) (map[string]interface{}, error) {
	return m.ParseStatementFunc(ctx, pdfBytes)
}

type ingestCall struct {
	rows   []ingest.Row
	source string
	name   string
}

func recordingIngester(calls *[]ingestCall) *mockIngester {
	return &mockIngester{
		IngestFunc: func(ctx context.Context, rows []ingest.Row, p domain.Principal, source, name string) (*ingest.Result, error) {
			*calls = append(*calls, ingestCall{rows: rows, source: source, name: name})
			return &ingest.Result{ReadCount: len(rows), InsertedCount: len(rows)}, nil
		},
	}
}

func gzipped(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(s)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func archived(t *testing.T, a *uploads.MemoryArchive, name string, data []byte) string {
	t.Helper()
	uri, err := a.Put(context.Background(), "uploads/7/"+name, bytes.NewReader(data), "")
	if err != nil {
		t.Fatal(err)
	}
	return uri
}

func TestUploadIngestionPipeline_CSV(t *testing.T) {
	archive := uploads.NewMemoryArchive()
	var calls []ingestCall
	p := NewUploadIngestionPipeline(Deps{
		Archive:  archive,
		Ingester: recordingIngester(&calls),
		Limits:   ingest.Limits{MaxPayloadBytes: 1 << 20, MaxRows: 100},
	})

	tests := []struct {
		name     string
		fileName string
		data     []byte
		wantName string
	}{
		{"plain", "jan.csv", []byte("Txn_ID,Amount\nA1,10\nA2,20\n"), "jan.csv"},
		{"gzip", "jan.csv.gz", gzipped(t, "Txn_ID,Amount\nA1,10\nA2,20\n"), "jan.csv"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls = nil
			state := &PipelineState{
				Principal: domain.Principal{ID: "7"},
				ObjectURI: archived(t, archive, tt.fileName, tt.data),
				FileName:  tt.fileName,
			}
			if err := p.Execute(context.Background(), state); err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if len(calls) != 1 {
				t.Fatalf("ingest calls = %d", len(calls))
			}
			c := calls[0]
			if c.source != ingest.SourceCSV || c.name != tt.wantName || len(c.rows) != 2 {
				t.Errorf("call = %+v", c)
			}
			if c.rows[0]["transaction_id"] != "A1" {
				t.Errorf("first row = %v", c.rows[0])
			}
			if state.Result == nil || state.Result.InsertedCount != 2 {
				t.Errorf("Result = %+v", state.Result)
			}
		})
	}
}

func TestUploadIngestionPipeline_PDF(t *testing.T) {
	archive := uploads.NewMemoryArchive()
	var calls []ingestCall
	parser := &mockParser{
		ParseStatementFunc: func(ctx context.Context, pdfBytes []byte) (map[string]interface{}, error) {
			if !bytes.HasPrefix(pdfBytes, pdfMagic) {
				t.Errorf("parser got %q", pdfBytes)
			}
			return decodeModelOutput("```json\n[{\"date\":\"2024-02-01\",\"merchant\":\"Tea Room\",\"amount\":12.5,\"currency\":\"gbp\",\"country\":\"GB\",\"transaction_id\":null}]\n```")
		},
	}
	p := NewUploadIngestionPipeline(Deps{
		Archive:  archive,
		Parser:   parser,
		Ingester: recordingIngester(&calls),
		Limits:   ingest.Limits{MaxPayloadBytes: 1 << 20, MaxRows: 100},
	})

	state := &PipelineState{
		Principal:   domain.Principal{ID: "7"},
		ObjectURI:   archived(t, archive, "statement", []byte("%PDF-1.7 ...")),
		FileName:    "statement",
		ContentType: "application/octet-stream",
	}
	if err := p.Execute(context.Background(), state); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if state.Format != FormatPDF {
		t.Errorf("Format = %s", state.Format)
	}
	if len(calls) != 1 || calls[0].source != ingest.SourceStatement {
		t.Fatalf("calls = %+v", calls)
	}
	row := calls[0].rows[0]
	if row["merchant"] != "Tea Room" || row["amount"] != "12.5" || row["currency"] != "gbp" || row["country"] != "GB" {
		t.Errorf("row = %v", row)
	}
	if _, ok := row["transaction_id"]; ok {
		t.Errorf("null transaction_id should be absent: %v", row)
	}
}

func TestUploadIngestionPipeline_ForwardsIngestedAt(t *testing.T) {
	archive := uploads.NewMemoryArchive()
	var calls []ingestCall
	ing := recordingIngester(&calls)
	p := NewUploadIngestionPipeline(Deps{Archive: archive, Ingester: ing, Limits: ingest.Limits{MaxRows: 10}})

	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	state := &PipelineState{
		Principal:  domain.Principal{ID: "7"},
		ObjectURI:  archived(t, archive, "feb.csv", []byte("Amount\n10\n")),
		FileName:   "feb.csv",
		IngestedAt: at,
	}
	if err := p.Execute(context.Background(), state); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !ing.ingestedAt.Equal(at) {
		t.Errorf("ingestedAt = %v, want %v", ing.ingestedAt, at)
	}
}

func TestUploadIngestionPipeline_Errors(t *testing.T) {
	archive := uploads.NewMemoryArchive()
	never := &mockIngester{
		IngestFunc: func(ctx context.Context, rows []ingest.Row, p domain.Principal, source, name string) (*ingest.Result, error) {
			t.Error("ingest must not be called")
			return nil, nil
		},
	}
	limits := ingest.Limits{MaxPayloadBytes: 64, MaxRows: 2}

	tests := []struct {
		name    string
		file    string
		data    []byte
		parser  StatementParser
		wantErr error
	}{
		{"pdf disabled", "s.pdf", []byte("%PDF-1.4"), nil, ErrUnsupportedFormat},
		{"too large", "big.csv", []byte("amount\n" + strings.Repeat("1\n", 100)), nil, ingest.ErrPayloadTooLarge},
		{"gzip bomb", "big.csv.gz", gzipped(t, "amount\n"+strings.Repeat("1\n", 1000)), nil, ingest.ErrPayloadTooLarge},
		{"too many rows", "rows.csv", []byte("amount\n1\n2\n3\n"), nil, ingest.ErrTooManyRows},
		{"bad model output", "s.pdf", []byte("%PDF-1.4"), &mockParser{
			ParseStatementFunc: func(ctx context.Context, pdfBytes []byte) (map[string]interface{}, error) {
				return map[string]interface{}{"transactions": "nope"}, nil
			},
		}, ingest.ErrMalformedInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewUploadIngestionPipeline(Deps{Archive: archive, Parser: tt.parser, Ingester: never, Limits: limits})
			state := &PipelineState{
				Principal: domain.Principal{ID: "7"},
				ObjectURI: archived(t, archive, tt.file, tt.data),
				FileName:  tt.file,
			}
			if err := p.Execute(context.Background(), state); !errors.Is(err, tt.wantErr) {
				t.Errorf("Execute() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	missing := NewUploadIngestionPipeline(Deps{Archive: archive, Ingester: never, Limits: limits})
	if err := missing.Execute(context.Background(), &PipelineState{ObjectURI: "mem://local/nope"}); err == nil {
		t.Error("expected fetch error for missing object")
	}
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		file        string
		payload     string
		want        Format
	}{
		{"pdf content type", "application/pdf", "x", "", FormatPDF},
		{"csv content type wins over ext", "text/csv", "x.pdf", "", FormatCSV},
		{"pdf extension", "", "Statement.PDF", "", FormatPDF},
		{"csv extension", "", "a.csv", "%PDF-", FormatCSV},
		{"sniffed pdf", "application/octet-stream", "blob", "%PDF-1.7", FormatPDF},
		{"default csv", "", "blob", "amount\n1\n", FormatCSV},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectFormat(tt.contentType, tt.file, []byte(tt.payload)); got != tt.want {
				t.Errorf("DetectFormat() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCleanModelJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"raw", `[{"a":1}]`, `[{"a":1}]`},
		{"fenced", "```json\n[{\"a\":1}]\n```", `[{"a":1}]`},
		{"chatter", "Here you go:\n[1,2]\nThanks", `[1,2]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cleanModelJSON(tt.in); got != tt.want {
				t.Errorf("cleanModelJSON() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTransformModelOutputToRows_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]interface{}
	}{
		{"missing key", map[string]interface{}{}},
		{"not an array", map[string]interface{}{"transactions": map[string]interface{}{}}},
		{"element not object", map[string]interface{}{"transactions": []interface{}{"x"}}},
		{"missing amount", map[string]interface{}{"transactions": []interface{}{
			map[string]interface{}{"date": "2024-01-01", "merchant": "m"},
		}}},
		{"amount wrong type", map[string]interface{}{"transactions": []interface{}{
			map[string]interface{}{"date": "2024-01-01", "merchant": "m", "amount": true},
		}}},
		{"empty merchant", map[string]interface{}{"transactions": []interface{}{
			map[string]interface{}{"date": "2024-01-01", "merchant": " ", "amount": 1.0},
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := transformModelOutputToRows(tt.raw); err == nil {
				t.Error("expected error")
			}
		})
	}
}
