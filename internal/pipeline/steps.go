package pipeline

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/dvloznov/securepath/internal/ingest"
)

// Format is the detected payload format.
type Format string

const (
	FormatCSV Format = "csv"
	FormatPDF Format = "pdf"
)

// ErrUnsupportedFormat is returned for payloads no extractor can handle.
var ErrUnsupportedFormat = errors.New("unsupported upload format")

var (
	gzipMagic = []byte{0x1f, 0x8b}
	pdfMagic  = []byte("%PDF-")
)

// readLimited reads r fully, failing once more than max bytes arrive. A
// non-positive max disables the check.
func readLimited(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, ingest.ErrPayloadTooLarge
	}
	return data, nil
}

// Step 1: FetchUploadStep reads the archived upload.
type FetchUploadStep struct {
	Archive  Archive
	MaxBytes int64
}

func (s *FetchUploadStep) Execute(ctx context.Context, state *PipelineState) error {
	rc, err := s.Archive.Open(ctx, state.ObjectURI)
	if err != nil {
		return fmt.Errorf("fetch upload: %w", err)
	}
	defer rc.Close()

	data, err := readLimited(rc, s.MaxBytes)
	if err != nil {
		return fmt.Errorf("fetch upload: %w", err)
	}
	state.Payload = data
	return nil
}

// Step 2: DecompressStep inflates gzip payloads.
type DecompressStep struct {
	MaxBytes int64
}

func (s *DecompressStep) Execute(ctx context.Context, state *PipelineState) error {
	if !bytes.HasPrefix(state.Payload, gzipMagic) {
		return nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(state.Payload))
	if err != nil {
		return fmt.Errorf("decompress: %w: %v", ingest.ErrMalformedInput, err)
	}
	defer zr.Close()

	data, err := readLimited(zr, s.MaxBytes)
	if errors.Is(err, ingest.ErrPayloadTooLarge) {
		return fmt.Errorf("decompress: %w", err)
	}
	if err != nil {
		return fmt.Errorf("decompress: %w: %v", ingest.ErrMalformedInput, err)
	}
	state.Payload = data
	state.FileName = strings.TrimSuffix(state.FileName, ".gz")
	return nil
}

// DetectFormat picks the extractor from content type, file extension and
// content, in that order.
func DetectFormat(contentType, fileName string, payload []byte) Format {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "pdf"):
		return FormatPDF
	case strings.Contains(ct, "csv"):
		return FormatCSV
	}
	switch strings.ToLower(path.Ext(fileName)) {
	case ".pdf":
		return FormatPDF
	case ".csv", ".txt":
		return FormatCSV
	}
	if bytes.HasPrefix(payload, pdfMagic) {
		return FormatPDF
	}
	return FormatCSV
}

// Step 3: ExtractRowsStep turns the payload into raw rows.
type ExtractRowsStep struct {
	Parser StatementParser
	Limits ingest.Limits
}

func (s *ExtractRowsStep) Execute(ctx context.Context, state *PipelineState) error {
	state.Format = DetectFormat(state.ContentType, state.FileName, state.Payload)

	switch state.Format {
	case FormatPDF:
		if s.Parser == nil {
			return fmt.Errorf("extract rows: %w: PDF statements are disabled", ErrUnsupportedFormat)
		}
		raw, err := s.Parser.ParseStatement(ctx, state.Payload)
		if err != nil {
			return fmt.Errorf("extract rows: %w", err)
		}
		rows, err := transformModelOutputToRows(raw)
		if err != nil {
			return fmt.Errorf("extract rows: %w: %v", ingest.ErrMalformedInput, err)
		}
		state.Rows = rows
	default:
		rows, err := ingest.ReadCSV(bytes.NewReader(state.Payload), s.Limits)
		if err != nil {
			return fmt.Errorf("extract rows: %w", err)
		}
		state.Rows = rows
	}
	return nil
}

// Step 4: IngestStep normalizes, deduplicates and stores the rows.
type IngestStep struct {
	Ingester Ingester
}

func (s *IngestStep) Execute(ctx context.Context, state *PipelineState) error {
	source := ingest.SourceCSV
	if state.Format == FormatPDF {
		source = ingest.SourceStatement
	}
	res, err := s.Ingester.IngestNamedRows(ctx, state.Rows, state.Principal, source, state.FileName, state.IngestedAt)
	if err != nil {
		return err
	}
	state.Result = res
	return nil
}
