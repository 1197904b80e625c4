package store

import (
	"context"
	"fmt"

	"github.com/dvloznov/securepath/internal/audit"
	"github.com/dvloznov/securepath/internal/domain"
)

// InsertAudit implements audit.Store.
func (s *Store) InsertAudit(ctx context.Context, entry *domain.AuditEntry) error {
	m := toAuditModel(entry)
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("store.InsertAudit: %w", err)
	}
	entry.ID = m.ID
	return nil
}

// ListAudit implements audit.Store, newest first. Only entries attributed to
// principal are visible.
func (s *Store) ListAudit(ctx context.Context, principal string, page domain.Page) ([]domain.AuditEntry, int64, error) {
	q := s.db.WithContext(ctx).Model(&AuditLogModel{}).Where("user_id = ?", principal)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("store.ListAudit: count: %w", err)
	}

	var ms []AuditLogModel
	err := q.Order("timestamp DESC").Order("id DESC").
		Offset(page.Offset()).Limit(page.Size).
		Find(&ms).Error
	if err != nil {
		return nil, 0, fmt.Errorf("store.ListAudit: %w", err)
	}

	entries := make([]domain.AuditEntry, len(ms))
	for i := range ms {
		entries[i] = toAuditEntry(&ms[i])
	}
	return entries, total, nil
}

// ListAuditAfter returns entries with an id above afterID, oldest first.
func (s *Store) ListAuditAfter(ctx context.Context, afterID uint64, limit int) ([]domain.AuditEntry, error) {
	var ms []AuditLogModel
	q := s.db.WithContext(ctx).Where("id > ?", afterID).Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&ms).Error; err != nil {
		return nil, fmt.Errorf("store.ListAuditAfter: %w", err)
	}
	entries := make([]domain.AuditEntry, len(ms))
	for i := range ms {
		entries[i] = toAuditEntry(&ms[i])
	}
	return entries, nil
}

var _ audit.Store = (*Store)(nil)
