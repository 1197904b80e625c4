package warehouse

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
)

// Table names inside the dataset.
const (
	TransactionsTable = "transactions_scored"
	AuditTable        = "audit_log"
)

// BigQuerySink streams rows into a dataset using a shared client.
type BigQuerySink struct {
	client  *bigquery.Client
	project string
	dataset string
}

// NewBigQuerySink creates a sink for project.dataset.
func NewBigQuerySink(ctx context.Context, project, dataset string) (*BigQuerySink, error) {
	if project == "" {
		return nil, fmt.Errorf("warehouse.NewBigQuerySink: project is required")
	}
	client, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("warehouse.NewBigQuerySink: creating client: %w", err)
	}
	return &BigQuerySink{client: client, project: project, dataset: dataset}, nil
}

// Client exposes the underlying client for migrations.
func (s *BigQuerySink) Client() *bigquery.Client {
	return s.client
}

// Close closes the BigQuery client connection.
func (s *BigQuerySink) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *BigQuerySink) table(name string) *bigquery.Table {
	return s.client.DatasetInProject(s.project, s.dataset).Table(name)
}

// InsertTransactions implements Sink.
func (s *BigQuerySink) InsertTransactions(ctx context.Context, rows []*ScoredTransactionRow) error {
	if len(rows) == 0 {
		return nil
	}
	savers := make([]*bigquery.StructSaver, len(rows))
	for i, r := range rows {
		savers[i] = &bigquery.StructSaver{Struct: r, InsertID: r.insertID()}
	}
	if err := s.table(TransactionsTable).Inserter().Put(ctx, savers); err != nil {
		return fmt.Errorf("warehouse.InsertTransactions: inserting rows: %w", err)
	}
	return nil
}

// InsertAudit implements Sink.
func (s *BigQuerySink) InsertAudit(ctx context.Context, rows []*AuditRow) error {
	if len(rows) == 0 {
		return nil
	}
	savers := make([]*bigquery.StructSaver, len(rows))
	for i, r := range rows {
		savers[i] = &bigquery.StructSaver{Struct: r, InsertID: r.insertID()}
	}
	if err := s.table(AuditTable).Inserter().Put(ctx, savers); err != nil {
		return fmt.Errorf("warehouse.InsertAudit: inserting rows: %w", err)
	}
	return nil
}

// Watermarks implements Sink by reading the newest exported update time and
// audit id. Empty tables give zero values.
func (s *BigQuerySink) Watermarks(ctx context.Context) (Watermark, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT
			(SELECT MAX(updated_ts) FROM `+"`%[1]s.%[2]s.%[3]s`"+`) AS updated_ts,
			(SELECT MAX(id) FROM `+"`%[1]s.%[2]s.%[4]s`"+`) AS audit_id
	`, s.project, s.dataset, TransactionsTable, AuditTable))

	it, err := q.Read(ctx)
	if err != nil {
		return Watermark{}, fmt.Errorf("warehouse.Watermarks: query read: %w", err)
	}

	var row struct {
		UpdatedTS bigquery.NullTimestamp `bigquery:"updated_ts"`
		AuditID   bigquery.NullInt64     `bigquery:"audit_id"`
	}
	err = it.Next(&row)
	if err == iterator.Done {
		return Watermark{}, nil
	}
	if err != nil {
		return Watermark{}, fmt.Errorf("warehouse.Watermarks: iter next: %w", err)
	}

	var wm Watermark
	if row.UpdatedTS.Valid {
		wm.TransactionsUpdatedAfter = row.UpdatedTS.Timestamp
	}
	if row.AuditID.Valid {
		wm.AuditAfterID = uint64(row.AuditID.Int64)
	}
	return wm, nil
}

// RunDDL runs one statement as a query job and waits for it.
func RunDDL(ctx context.Context, client *bigquery.Client, sql string, params ...bigquery.QueryParameter) error {
	query := client.Query(sql)
	query.Parameters = params
	job, err := query.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}

var _ Sink = (*BigQuerySink)(nil)
