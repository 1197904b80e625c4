package ingest

import (
	"bufio"
	"compress/gzip"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrPayloadTooLarge is returned when the input exceeds Limits.MaxPayloadBytes.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrTooManyRows is returned when the input exceeds Limits.MaxRows.
	ErrTooManyRows = errors.New("too many rows")

	// ErrMalformedInput is returned for input that cannot be read as CSV.
	ErrMalformedInput = errors.New("malformed input")
)

var gzipMagic = []byte{0x1f, 0x8b}

// Limits bounds a single ingest call. Zero values disable a limit.
type Limits struct {
	MaxPayloadBytes int64
	MaxRows         int
}

// ReadCSV reads every data row of a CSV document into canonical rows. Gzip
// input is decompressed transparently; MaxPayloadBytes applies to both the
// compressed and decompressed stream.
func ReadCSV(r io.Reader, limits Limits) ([]Row, error) {
	src := bufio.NewReader(newLimitReader(r, limits.MaxPayloadBytes))

	var body io.Reader = src
	if magic, err := src.Peek(len(gzipMagic)); err == nil && magic[0] == gzipMagic[0] && magic[1] == gzipMagic[1] {
		zr, err := gzip.NewReader(src)
		if err != nil {
			return nil, fmt.Errorf("ReadCSV: gzip header: %w: %v", ErrMalformedInput, err)
		}
		defer zr.Close()
		body = newLimitReader(zr, limits.MaxPayloadBytes)
	}

	cr := csv.NewReader(body)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, ErrPayloadTooLarge) {
			return nil, fmt.Errorf("ReadCSV: %w", ErrPayloadTooLarge)
		}
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("ReadCSV: %w: missing header row", ErrMalformedInput)
		}
		return nil, fmt.Errorf("ReadCSV: header: %w: %v", ErrMalformedInput, err)
	}
	columns := CanonicalHeaders(header)

	var rows []Row
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if errors.Is(err, ErrPayloadTooLarge) {
				return nil, fmt.Errorf("ReadCSV: %w", ErrPayloadTooLarge)
			}
			return nil, fmt.Errorf("ReadCSV: %w: %v", ErrMalformedInput, err)
		}
		if limits.MaxRows > 0 && len(rows) >= limits.MaxRows {
			return nil, fmt.Errorf("ReadCSV: %w: more than %d rows", ErrTooManyRows, limits.MaxRows)
		}

		row := make(Row, len(columns))
		for i, col := range columns {
			if i >= len(record) || col == "" {
				continue
			}
			if _, dup := row[col]; dup {
				continue
			}
			row[col] = record[i]
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// limitReader fails with ErrPayloadTooLarge once more than n bytes are read.
type limitReader struct {
	r io.Reader
	n int64
}

func newLimitReader(r io.Reader, n int64) io.Reader {
	if n <= 0 {
		return r
	}
	return &limitReader{r: r, n: n}
}

func (l *limitReader) Read(p []byte) (int, error) {
	if l.n < 0 {
		return 0, ErrPayloadTooLarge
	}
	if int64(len(p)) > l.n+1 {
		p = p[:l.n+1]
	}
	n, err := l.r.Read(p)
	l.n -= int64(n)
	if l.n < 0 {
		return n, ErrPayloadTooLarge
	}
	return n, err
}
