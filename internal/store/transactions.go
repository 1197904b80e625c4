package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/securepath/internal/domain"
	"github.com/dvloznov/securepath/internal/fraud"
	"github.com/dvloznov/securepath/internal/ingest"
	"github.com/dvloznov/securepath/internal/triage"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// inChunk bounds the size of IN lists.
const inChunk = 500

// defaultInsertBatch is used when Store is created without a batch size.
const defaultInsertBatch = 1000

var undecidedStatuses = []string{string(domain.StatusPending), string(domain.StatusReview)}

// Store implements the repositories of the ingest, fraud, triage, audit and
// cleansing packages on one *gorm.DB.
type Store struct {
	db          *gorm.DB
	insertBatch int
}

// New creates a Store. insertBatch <= 0 selects the default batch size.
func New(db *gorm.DB, insertBatch int) *Store {
	if insertBatch <= 0 {
		insertBatch = defaultInsertBatch
	}
	return &Store{db: db, insertBatch: insertBatch}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// undecided filters on rows still eligible for a fraud decision.
func undecided(db *gorm.DB) *gorm.DB {
	return db.Where("(status IN ? OR status IS NULL)", undecidedStatuses)
}

func scoped(db *gorm.DB, scope domain.Scope) *gorm.DB {
	if scope.Global {
		return db
	}
	return db.Where("user_id = ?", scope.UserID)
}

func chunks(ids []string, size int) [][]string {
	var out [][]string
	for size < len(ids) {
		ids, out = ids[size:], append(out, ids[:size:size])
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}

// ExistingTransactionIDs implements ingest.Repository.
func (s *Store) ExistingTransactionIDs(ctx context.Context, userID string, ids []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	for _, chunk := range chunks(ids, inChunk) {
		var found []string
		err := s.db.WithContext(ctx).Model(&TransactionModel{}).
			Where("user_id = ? AND transaction_id IN ?", userID, chunk).
			Pluck("transaction_id", &found).Error
		if err != nil {
			return nil, fmt.Errorf("store.ExistingTransactionIDs: %w", err)
		}
		for _, id := range found {
			existing[id] = struct{}{}
		}
	}
	return existing, nil
}

// InsertIgnoreConflicts implements ingest.Repository. Rows colliding on
// (user_id, transaction_id) are skipped by the database; created ids are read
// back through the batch id so skipped rows are never reported.
func (s *Store) InsertIgnoreConflicts(ctx context.Context, batchID string, txs []domain.Transaction) ([]uint64, error) {
	if len(txs) == 0 {
		return []uint64{}, nil
	}
	models := make([]*TransactionModel, len(txs))
	for i := range txs {
		m := toTransactionModel(&txs[i])
		m.ID = 0
		m.IngestBatchID = batchID
		models[i] = m
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "transaction_id"}},
			DoNothing: true,
		}).
		CreateInBatches(models, s.insertBatch).Error
	if err != nil {
		return nil, fmt.Errorf("store.InsertIgnoreConflicts: %w", err)
	}

	var created []uint64
	err = s.db.WithContext(ctx).Model(&TransactionModel{}).
		Where("ingest_batch_id = ?", batchID).
		Order("id").
		Pluck("id", &created).Error
	if err != nil {
		return nil, fmt.Errorf("store.InsertIgnoreConflicts: reading created ids: %w", err)
	}
	if created == nil {
		created = []uint64{}
	}
	return created, nil
}

// GetTransaction returns one of the principal's transactions.
func (s *Store) GetTransaction(ctx context.Context, userID string, id uint64) (*domain.Transaction, error) {
	var m TransactionModel
	err := s.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, id).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store.GetTransaction: %w", err)
	}
	tx := toTransaction(&m)
	return &tx, nil
}

// ListForScoring implements fraud.Repository.
func (s *Store) ListForScoring(ctx context.Context, userID string, ids []uint64, limit int) ([]domain.Transaction, error) {
	q := s.db.WithContext(ctx).Model(&TransactionModel{}).Where("user_id = ?", userID)
	if len(ids) > 0 {
		q = q.Where("id IN ?", ids)
	} else {
		q = undecided(q)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var ms []TransactionModel
	if err := q.Order("id").Find(&ms).Error; err != nil {
		return nil, fmt.Errorf("store.ListForScoring: %w", err)
	}
	return toTransactions(ms), nil
}

type ipCountRow struct {
	UserID    string
	IPAddress string
	N         int
}

// LoadIPCounts implements fraud.Repository with two grouped queries.
func (s *Store) LoadIPCounts(ctx context.Context, ips []string, userIDs []string) (fraud.IPCounts, error) {
	counts := fraud.IPCounts{
		Global:      make(map[string]int),
		ByPrincipal: make(map[string]map[string]int),
	}
	if len(ips) == 0 {
		return counts, nil
	}

	for _, chunk := range chunks(ips, inChunk) {
		var global []ipCountRow
		err := s.db.WithContext(ctx).Model(&TransactionModel{}).
			Select("ip_address, COUNT(*) AS n").
			Where("ip_address IN ?", chunk).
			Group("ip_address").
			Scan(&global).Error
		if err != nil {
			return counts, fmt.Errorf("store.LoadIPCounts: global: %w", err)
		}
		for _, r := range global {
			counts.Global[r.IPAddress] = r.N
		}

		if len(userIDs) == 0 {
			continue
		}
		var perUser []ipCountRow
		err = s.db.WithContext(ctx).Model(&TransactionModel{}).
			Select("user_id, ip_address, COUNT(*) AS n").
			Where("ip_address IN ? AND user_id IN ?", chunk, userIDs).
			Group("user_id, ip_address").
			Scan(&perUser).Error
		if err != nil {
			return counts, fmt.Errorf("store.LoadIPCounts: per principal: %w", err)
		}
		for _, r := range perUser {
			if counts.ByPrincipal[r.UserID] == nil {
				counts.ByPrincipal[r.UserID] = make(map[string]int)
			}
			counts.ByPrincipal[r.UserID][r.IPAddress] = r.N
		}
	}
	return counts, nil
}

// SaveScores implements fraud.Repository. Status is left untouched.
func (s *Store) SaveScores(ctx context.Context, updates []fraud.ScoreUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, u := range updates {
			err := tx.Model(&TransactionModel{}).Where("id = ?", u.ID).Updates(map[string]interface{}{
				"risk_score":  decimal.NewFromFloat(u.RiskScore).Round(2),
				"fraud_score": decimal.NewFromFloat(u.FraudScore).Round(4),
				"is_fraud":    u.IsFraud,
				"reason_code": u.ReasonCode,
			}).Error
			if err != nil {
				return fmt.Errorf("store.SaveScores: id %d: %w", u.ID, err)
			}
		}
		return nil
	})
}

func decisionColumns(d triage.Decision) map[string]interface{} {
	cols := map[string]interface{}{
		"is_fraud":      d.IsFraud,
		"risk_score":    d.RiskScore,
		"fraud_score":   d.FraudScore,
		"fraud_reasons": nil,
		"reason_code":   nil,
		"status":        string(d.Status),
	}
	if d.FraudReasons != nil {
		cols["fraud_reasons"] = *d.FraudReasons
	}
	if d.ReasonCode != nil {
		cols["reason_code"] = *d.ReasonCode
	}
	return cols
}

// Triage implements triage.Repository. Each update re-checks the undecided
// status so rows decided by a concurrent run are neither touched nor counted.
func (s *Store) Triage(ctx context.Context, scope domain.Scope, plan triage.Plan) (triage.Counts, error) {
	var counts triage.Counts
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		high := undecided(scoped(tx.Model(&TransactionModel{}), scope)).
			Where("amount >= ?", plan.AmountThreshold).
			Updates(decisionColumns(plan.HighRisk))
		if high.Error != nil {
			return fmt.Errorf("high-risk update: %w", high.Error)
		}
		counts.Flagged = high.RowsAffected

		low := undecided(scoped(tx.Model(&TransactionModel{}), scope)).
			Where("amount < ?", plan.AmountThreshold).
			Updates(decisionColumns(plan.LowRisk))
		if low.Error != nil {
			return fmt.Errorf("remainder update: %w", low.Error)
		}
		counts.Approved = low.RowsAffected
		return nil
	})
	if err != nil {
		return triage.Counts{}, fmt.Errorf("store.Triage: %w", err)
	}
	return counts, nil
}

// TransactionFilter narrows ListTransactions.
type TransactionFilter struct {
	UserID string
	Status domain.Status
}

// ListTransactions returns one page of the principal's transactions, newest
// first, and the total matching count.
func (s *Store) ListTransactions(ctx context.Context, f TransactionFilter, page domain.Page) ([]domain.Transaction, int64, error) {
	q := s.db.WithContext(ctx).Model(&TransactionModel{}).Where("user_id = ?", f.UserID)
	switch {
	case f.Status == domain.StatusPending:
		q = undecided(q)
	case f.Status != "":
		q = q.Where("status = ?", string(f.Status))
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("store.ListTransactions: count: %w", err)
	}

	var ms []TransactionModel
	err := q.Order("date DESC").Order("id DESC").
		Offset(page.Offset()).Limit(page.Size).
		Find(&ms).Error
	if err != nil {
		return nil, 0, fmt.Errorf("store.ListTransactions: %w", err)
	}
	return toTransactions(ms), total, nil
}

// Stats returns the dashboard counters for a principal.
func (s *Store) Stats(ctx context.Context, userID string) (domain.Stats, error) {
	var st domain.Stats
	base := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&TransactionModel{}).Where("user_id = ?", userID)
	}

	if err := base().Count(&st.Total).Error; err != nil {
		return st, fmt.Errorf("store.Stats: total: %w", err)
	}
	if err := base().Where("is_fraud = ?", true).Count(&st.FraudCount).Error; err != nil {
		return st, fmt.Errorf("store.Stats: fraud: %w", err)
	}
	if err := undecided(base()).Count(&st.Pending).Error; err != nil {
		return st, fmt.Errorf("store.Stats: pending: %w", err)
	}

	var sum decimal.NullDecimal
	if err := base().Select("SUM(amount)").Row().Scan(&sum); err != nil {
		return st, fmt.Errorf("store.Stats: amount: %w", err)
	}
	total := decimal.Zero
	if sum.Valid {
		total = sum.Decimal
	}
	st.TotalAmount = total.StringFixed(2)
	return st, nil
}

// EachTransaction streams the principal's transactions in id order.
func (s *Store) EachTransaction(ctx context.Context, userID string, fn func(domain.Transaction) error) error {
	var batch []TransactionModel
	var fnErr error
	res := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id").
		FindInBatches(&batch, s.insertBatch, func(tx *gorm.DB, _ int) error {
			for i := range batch {
				if fnErr = fn(toTransaction(&batch[i])); fnErr != nil {
					return fnErr
				}
			}
			return nil
		})
	if fnErr != nil {
		return fnErr
	}
	if res.Error != nil {
		return fmt.Errorf("store.EachTransaction: %w", res.Error)
	}
	return nil
}

// afterCursor keeps rows strictly after c in (updated_at, id) order.
func afterCursor(db *gorm.DB, c domain.Cursor) *gorm.DB {
	if c.UpdatedAt.IsZero() && c.ID == 0 {
		return db
	}
	return db.Where("(updated_at > ? OR (updated_at = ? AND id > ?))", c.UpdatedAt, c.UpdatedAt, c.ID)
}

// ListFlagged returns rejected or fraud-flagged transactions positioned after
// c, oldest update first.
func (s *Store) ListFlagged(ctx context.Context, c domain.Cursor, limit int) ([]domain.Transaction, error) {
	var ms []TransactionModel
	q := s.db.WithContext(ctx).
		Where("(is_fraud = ? OR status = ?)", true, string(domain.StatusRejected))
	q = afterCursor(q, c).Order("updated_at").Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&ms).Error; err != nil {
		return nil, fmt.Errorf("store.ListFlagged: %w", err)
	}
	return toTransactions(ms), nil
}

// ListScoredSince returns transactions carrying a risk score positioned after
// c, oldest update first.
func (s *Store) ListScoredSince(ctx context.Context, c domain.Cursor, limit int) ([]domain.Transaction, error) {
	var ms []TransactionModel
	q := afterCursor(s.db.WithContext(ctx).Where("risk_score IS NOT NULL"), c).
		Order("updated_at").Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&ms).Error; err != nil {
		return nil, fmt.Errorf("store.ListScoredSince: %w", err)
	}
	return toTransactions(ms), nil
}

var (
	_ ingest.Repository = (*Store)(nil)
	_ fraud.Repository  = (*Store)(nil)
	_ triage.Repository = (*Store)(nil)
)
