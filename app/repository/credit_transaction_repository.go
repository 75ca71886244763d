package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManuelReschke/PalmLedger/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errRejectDebit = errors.New("debit rejected: insufficient balance")

type creditTransactionRepository struct {
	db *gorm.DB
}

// NewCreditTransactionRepository creates a credit ledger repository backed by GORM.
func NewCreditTransactionRepository(db *gorm.DB) CreditTransactionRepository {
	return &creditTransactionRepository{db: db}
}

// Append inserts txn and moves the owner's cached balance by txn.CreditAmount
// inside one database transaction. A conflicting order number leaves both the
// ledger and the balance untouched and reports Inserted=false.
func (r *creditTransactionRepository) Append(ctx context.Context, txn *models.CreditTransaction, policy BalancePolicy) (AppendResult, error) {
	var res AppendResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owner models.User
		if err := tx.Select("id", "credits").Where("id = ?", txn.UserID).First(&owner).Error; err != nil {
			return translateNotFound(err)
		}
		current := owner.Credits

		if policy == BalanceClampToZero && txn.CreditAmount < 0 && current+txn.CreditAmount < 0 {
			txn.CreditAmount = -current
		}

		created := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(txn)
		if created.Error != nil {
			return created.Error
		}
		if created.RowsAffected == 0 {
			res.Balance = current
			return nil
		}
		res.Inserted = true

		update := tx.Model(&models.User{}).Where("id = ?", txn.UserID)
		if policy != BalanceUnchecked {
			update = update.Where("credits + ? >= 0", txn.CreditAmount)
		}
		updated := update.Update("credits", gorm.Expr("credits + ?", txn.CreditAmount))
		if updated.Error != nil {
			return updated.Error
		}
		if updated.RowsAffected == 0 {
			return errRejectDebit
		}

		var after models.User
		if err := tx.Select("id", "credits").Where("id = ?", txn.UserID).First(&after).Error; err != nil {
			return err
		}
		res.Balance = after.Credits
		return nil
	})
	if errors.Is(err, errRejectDebit) {
		return AppendResult{Insufficient: true}, nil
	}
	if err != nil {
		return AppendResult{}, fmt.Errorf("append credit transaction %s: %w", txn.OrderNumber, err)
	}
	return res, nil
}

func (r *creditTransactionRepository) ExistsByOrderNumber(ctx context.Context, orderNumber string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.CreditTransaction{}).
		Where("order_number = ?", orderNumber).
		Count(&count).Error
	return count > 0, err
}

// SumByUser returns the signed sum of all ledger rows of a user.
func (r *creditTransactionRepository) SumByUser(ctx context.Context, userID string) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).Model(&models.CreditTransaction{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(credit_amount), 0)").
		Scan(&sum).Error
	return sum, err
}

func (r *creditTransactionRepository) ListByUser(ctx context.Context, userID string, offset, limit int) ([]models.CreditTransaction, error) {
	var txns []models.CreditTransaction
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("order_date DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&txns).Error
	return txns, err
}

func (r *creditTransactionRepository) ListByUserAndType(ctx context.Context, userID string, creditType models.CreditType) ([]models.CreditTransaction, error) {
	var txns []models.CreditTransaction
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND credit_type = ?", userID, creditType).
		Order("id ASC").
		Find(&txns).Error
	return txns, err
}
