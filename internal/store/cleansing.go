package store

import (
	"context"
	"fmt"

	"github.com/dvloznov/securepath/internal/cleansing"
	"github.com/dvloznov/securepath/internal/domain"
	"gorm.io/gorm"
)

// DeleteDuplicateTransactions implements cleansing.Repository, keeping the
// oldest row of every (user_id, transaction_id) group.
func (s *Store) DeleteDuplicateTransactions(ctx context.Context, userID string) (int64, error) {
	keep := s.db.Model(&TransactionModel{}).
		Select("MIN(id)").
		Where("user_id = ?", userID).
		Group("transaction_id")

	res := s.db.WithContext(ctx).
		Where("user_id = ? AND id NOT IN (?)", userID, keep).
		Delete(&TransactionModel{})
	if res.Error != nil {
		return 0, fmt.Errorf("store.DeleteDuplicateTransactions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// NormalizeTransactions implements cleansing.Repository. Each batch of
// changed rows is written in its own transaction.
func (s *Store) NormalizeTransactions(ctx context.Context, userID string, normalize func(*domain.Transaction) bool) (int64, int64, error) {
	var processed, changed int64
	var batch []TransactionModel

	res := s.db.WithContext(ctx).Where("user_id = ?", userID).
		FindInBatches(&batch, s.insertBatch, func(tx *gorm.DB, _ int) error {
			var dirty []domain.Transaction
			for i := range batch {
				processed++
				t := toTransaction(&batch[i])
				if normalize(&t) {
					dirty = append(dirty, t)
				}
			}
			if len(dirty) == 0 {
				return nil
			}
			err := s.db.WithContext(ctx).Transaction(func(wtx *gorm.DB) error {
				for _, t := range dirty {
					err := wtx.Model(&TransactionModel{}).Where("id = ?", t.ID).Updates(map[string]interface{}{
						"country":  nullable(t.Country),
						"currency": t.Currency,
						"amount":   t.Amount,
						"merchant": t.Merchant,
					}).Error
					if err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
			changed += int64(len(dirty))
			return nil
		})
	if res.Error != nil {
		return processed, changed, fmt.Errorf("store.NormalizeTransactions: %w", res.Error)
	}
	return processed, changed, nil
}

var _ cleansing.Repository = (*Store)(nil)
