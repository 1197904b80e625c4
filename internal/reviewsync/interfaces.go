package reviewsync

import (
	"context"

	"github.com/dvloznov/securepath/internal/domain"
	"github.com/jomei/notionapi"
)

// NotionService is the part of the Notion API the sync uses.
type NotionService interface {
	CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error)
	UpdatePage(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error)
	QueryDatabase(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
}

// Source lists rejected or fraud-flagged transactions after a cursor.
type Source interface {
	ListFlagged(ctx context.Context, c domain.Cursor, limit int) ([]domain.Transaction, error)
}
