// Package audit records the append-only trail of state-changing operations.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/securepath/internal/domain"
	"github.com/dvloznov/securepath/internal/logger"
)

// maxDetailsLen bounds the details text of a single entry.
const maxDetailsLen = 4000

// Recorder is the audit hook every core operation calls.
type Recorder interface {
	Record(ctx context.Context, entry domain.AuditEntry) error
}

// Store persists audit entries. Implementations must never update or delete.
type Store interface {
	InsertAudit(ctx context.Context, entry *domain.AuditEntry) error
	ListAudit(ctx context.Context, principal string, page domain.Page) ([]domain.AuditEntry, int64, error)
}

// Service writes audit entries to a Store.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService creates an audit Service.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Record implements Recorder. The timestamp is assigned here.
func (s *Service) Record(ctx context.Context, entry domain.AuditEntry) error {
	if entry.Action == "" {
		return fmt.Errorf("audit.Record: action is required")
	}
	entry.ID = 0
	entry.Timestamp = s.now().UTC()
	entry.Details = domain.Truncate(entry.Details, maxDetailsLen)
	if err := s.store.InsertAudit(ctx, &entry); err != nil {
		return fmt.Errorf("audit.Record: %w", err)
	}
	return nil
}

// List returns one page of principal's entries, newest first, and their
// total count.
func (s *Service) List(ctx context.Context, principal string, page domain.Page) ([]domain.AuditEntry, int64, error) {
	if principal == "" {
		return nil, 0, fmt.Errorf("audit.List: principal is required")
	}
	entries, total, err := s.store.ListAudit(ctx, principal, page)
	if err != nil {
		return nil, 0, fmt.Errorf("audit.List: %w", err)
	}
	return entries, total, nil
}

// Entry builds an entry attributed to p.
func Entry(action, details string, p domain.Principal) domain.AuditEntry {
	return domain.AuditEntry{
		Action:        action,
		Details:       details,
		Principal:     p.ID,
		SourceAddress: p.Address,
		UserAgent:     p.UserAgent,
	}
}

// BestEffort records entry and logs instead of failing. Used on error paths
// where the original error must reach the caller regardless.
func BestEffort(ctx context.Context, r Recorder, entry domain.AuditEntry) {
	if r == nil {
		return
	}
	if err := r.Record(ctx, entry); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("action", entry.Action).Msg("Failed to write audit record")
	}
}

// Failure records a failed operation on a best-effort basis.
func Failure(ctx context.Context, r Recorder, action string, p domain.Principal, cause error) {
	BestEffort(ctx, r, Entry(action, fmt.Sprintf("Error: %v", cause), p))
}

var _ Recorder = (*Service)(nil)
