package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/PalmLedger/app/models"
	"gorm.io/gorm"
)

type subscriptionRecordRepository struct {
	db *gorm.DB
}

// NewSubscriptionRecordRepository creates a subscription log repository backed by GORM.
func NewSubscriptionRecordRepository(db *gorm.DB) SubscriptionRecordRepository {
	return &subscriptionRecordRepository{db: db}
}

func (r *subscriptionRecordRepository) Insert(ctx context.Context, rec *models.SubscriptionRecord) (int64, error) {
	tx := r.db.WithContext(ctx).Create(rec)
	return tx.RowsAffected, tx.Error
}

func (r *subscriptionRecordRepository) ExistsBySubscriptionID(ctx context.Context, subscriptionID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.SubscriptionRecord{}).
		Where("subscription_id = ?", subscriptionID).
		Count(&count).Error
	return count > 0, err
}

// LatestByUser returns the row with the most recent order date for a user.
func (r *subscriptionRecordRepository) LatestByUser(ctx context.Context, userID string) (*models.SubscriptionRecord, error) {
	var rec models.SubscriptionRecord
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("order_date DESC, id DESC").
		First(&rec).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &rec, nil
}

func (r *subscriptionRecordRepository) ListBySubscriptionID(ctx context.Context, subscriptionID string) ([]models.SubscriptionRecord, error) {
	var recs []models.SubscriptionRecord
	err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("order_date ASC, id ASC").
		Find(&recs).Error
	return recs, err
}

// CancelLatest flips only the most recent live row of a subscription to
// cancelled. The row is picked by a correlated subquery because UPDATE with
// ORDER BY/LIMIT is not portable.
func (r *subscriptionRecordRepository) CancelLatest(ctx context.Context, subscriptionID string, at time.Time) (int64, error) {
	tx := r.db.WithContext(ctx).Exec(`
UPDATE subscription_records
SET order_type = ?, subscription_status = ?, canceled_at = ?, updated_at = ?
WHERE id = (
	SELECT id FROM subscription_records
	WHERE subscription_id = ? AND order_type = ? AND subscription_status IN (?, ?)
	ORDER BY order_date DESC, id DESC
	LIMIT 1
)`,
		models.OrderTypeCancelled, models.SubscriptionStatusCanceled, at, at,
		subscriptionID, models.OrderTypeActive, models.SubscriptionStatusActive, models.SubscriptionStatusTrialing,
	)
	return tx.RowsAffected, tx.Error
}

// HasTrial reports whether the user ever started a trial on one of plans.
// Annual trials are stored with the annual cadence, so trial_start counts too.
func (r *subscriptionRecordRepository) HasTrial(ctx context.Context, userID string, plans []models.PlanType) (bool, error) {
	if len(plans) == 0 {
		return false, nil
	}
	var count int64
	err := r.db.WithContext(ctx).Model(&models.SubscriptionRecord{}).
		Where("user_id = ?", userID).
		Where("(subscription_type = ? OR trial_start IS NOT NULL)", models.SubscriptionTypeTrial).
		Where("plan_type IN ?", plans).
		Count(&count).Error
	return count > 0, err
}
