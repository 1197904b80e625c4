package pipeline

import (
	"context"
	"time"

	"github.com/dvloznov/securepath/internal/domain"
	"github.com/dvloznov/securepath/internal/ingest"
	"github.com/dvloznov/securepath/internal/uploads"
)

// Archive is the read side of the upload archive.
type Archive = uploads.Archive

// StatementParser extracts transactions from a PDF statement. The output is
// the model's JSON wrapped under a "transactions" key.
type StatementParser interface {
	ParseStatement(ctx context.Context, pdfBytes []byte) (map[string]interface{}, error)
}

// Ingester is the subset of ingest.Service the pipeline calls.
type Ingester interface {
	IngestNamedRows(ctx context.Context, rows []ingest.Row, p domain.Principal, source, name string, ingestedAt time.Time) (*ingest.Result, error)
}

var _ Ingester = (*ingest.Service)(nil)
