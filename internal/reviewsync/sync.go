// Package reviewsync mirrors rejected and fraud-flagged transactions into a
// Notion database used as the analysts' review board.
package reviewsync

import (
	"context"
	"fmt"

	"github.com/dvloznov/securepath/internal/domain"
	"github.com/dvloznov/securepath/internal/logger"
	"github.com/jomei/notionapi"
)

// BatchSize is the number of transactions read from the store per page.
const BatchSize = 100

// Result summarises a sync run.
type Result struct {
	Created int           `json:"created"`
	Updated int           `json:"updated"`
	Failed  int           `json:"failed"`
	Cursor  domain.Cursor `json:"cursor"`
}

// Syncer pushes flagged transactions to the review board. Rows are matched on
// principal and transaction id, so repeated runs update instead of duplicate.
type Syncer struct {
	notion     NotionService
	source     Source
	databaseID string
	dryRun     bool
}

// NewSyncer creates a Syncer.
func NewSyncer(notion NotionService, source Source, databaseID string, dryRun bool) *Syncer {
	return &Syncer{notion: notion, source: source, databaseID: databaseID, dryRun: dryRun}
}

// Sync processes every flagged transaction after from. Per-row Notion
// failures are logged and counted; the run continues.
func (s *Syncer) Sync(ctx context.Context, from domain.Cursor) (*Result, error) {
	log := logger.FromContext(ctx)
	log.Info().Time("from", from.UpdatedAt).Bool("dry_run", s.dryRun).Msg("Starting review board sync")

	pages, err := queryAllPages(ctx, s.notion, s.databaseID)
	if err != nil {
		return nil, fmt.Errorf("reviewsync.Sync: %w", err)
	}
	existing := make(map[string]string, len(pages))
	for _, page := range pages {
		if key := extractKey(page); key != "" {
			existing[key] = string(page.ID)
		}
	}
	log.Info().Int("notion_page_count", len(existing)).Msg("Retrieved existing review pages")

	res := &Result{Cursor: from}
	for {
		txs, err := s.source.ListFlagged(ctx, res.Cursor, BatchSize)
		if err != nil {
			return res, fmt.Errorf("reviewsync.Sync: %w", err)
		}
		if len(txs) == 0 {
			break
		}
		for _, tx := range txs {
			s.syncOne(ctx, tx, existing, res)
		}
		res.Cursor = domain.CursorOf(txs[len(txs)-1])
	}

	log.Info().
		Int("created", res.Created).
		Int("updated", res.Updated).
		Int("failed", res.Failed).
		Msg("Review board sync completed")
	return res, nil
}

func (s *Syncer) syncOne(ctx context.Context, tx domain.Transaction, existing map[string]string, res *Result) {
	log := logger.FromContext(ctx)
	key := pageKey(tx.UserID, tx.TransactionID)
	pageID, found := existing[key]

	if s.dryRun {
		if found {
			log.Info().Str("transaction_id", tx.TransactionID).Str("page_id", pageID).Msg("[DRY RUN] Would update review page")
			res.Updated++
		} else {
			log.Info().Str("transaction_id", tx.TransactionID).Msg("[DRY RUN] Would create review page")
			res.Created++
		}
		return
	}

	props := TransactionToProperties(tx)
	if found {
		if _, err := s.notion.UpdatePage(ctx, pageID, props); err != nil {
			log.Warn().Err(err).Str("transaction_id", tx.TransactionID).Str("page_id", pageID).Msg("Failed to update review page")
			res.Failed++
			return
		}
		res.Updated++
		return
	}

	page, err := s.notion.CreatePage(ctx, s.databaseID, props)
	if err != nil {
		log.Warn().Err(err).Str("transaction_id", tx.TransactionID).Msg("Failed to create review page")
		res.Failed++
		return
	}
	existing[key] = string(page.ID)
	res.Created++
}

func queryAllPages(ctx context.Context, notion NotionService, databaseID string) ([]notionapi.Page, error) {
	var all []notionapi.Page
	var cursor notionapi.Cursor
	for {
		req := &notionapi.DatabaseQueryRequest{PageSize: 100}
		if cursor != "" {
			req.StartCursor = cursor
		}
		resp, err := notion.QueryDatabase(ctx, databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("queryAllPages: %w", err)
		}
		all = append(all, resp.Results...)
		if !resp.HasMore {
			return all, nil
		}
		cursor = resp.NextCursor
	}
}
