// Package pipeline turns an archived upload into ingested transactions:
// fetch, decompress, extract rows, ingest.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/securepath/internal/domain"
	"github.com/dvloznov/securepath/internal/ingest"
)

// PipelineStep represents a single step in the ingestion pipeline.
type PipelineStep interface {
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all pipeline steps.
type PipelineState struct {
	Principal   domain.Principal
	ObjectURI   string
	FileName    string
	ContentType string
	// IngestedAt, when set, seeds generated ids so a rerun reproduces them.
	IngestedAt time.Time

	Payload []byte
	Format  Format
	Rows    []ingest.Row
	Result  *ingest.Result
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	for i, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
	}
	return nil
}

// Deps are the collaborators of the upload ingestion pipeline.
type Deps struct {
	Archive  Archive
	Parser   StatementParser // nil disables PDF statements
	Ingester Ingester
	Limits   ingest.Limits
}

// NewUploadIngestionPipeline creates the standard four-step pipeline for
// archived uploads.
func NewUploadIngestionPipeline(d Deps) *Pipeline {
	return NewPipeline(
		&FetchUploadStep{Archive: d.Archive, MaxBytes: d.Limits.MaxPayloadBytes},
		&DecompressStep{MaxBytes: d.Limits.MaxPayloadBytes},
		&ExtractRowsStep{Parser: d.Parser, Limits: d.Limits},
		&IngestStep{Ingester: d.Ingester},
	)
}
