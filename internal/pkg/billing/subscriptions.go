package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"

	"github.com/ManuelReschke/PalmLedger/app/models"
	"github.com/ManuelReschke/PalmLedger/app/repository"
)

// TrialPeriod is the length of a trial subscription.
const TrialPeriod = 3 * 24 * time.Hour

// ValidityInfo answers "what may this user do right now".
type ValidityInfo struct {
	HasSubscription    bool                      `json:"has_subscription"`
	IsActive           bool                      `json:"is_active"`
	InGracePeriod      bool                      `json:"in_grace_period"`
	SubscriptionID     string                    `json:"subscription_id,omitempty"`
	PlanType           models.PlanType           `json:"plan_type,omitempty"`
	SubscriptionType   models.SubscriptionType   `json:"subscription_type,omitempty"`
	SubscriptionStatus models.SubscriptionStatus `json:"subscription_status,omitempty"`
	ExpiryDate         *time.Time                `json:"expiry_date,omitempty"`
}

// SubscriptionLedger appends subscription lifecycle rows and answers
// point-in-time questions about them.
type SubscriptionLedger struct {
	repo    repository.SubscriptionRecordRepository
	catalog *Catalog
	now     func() time.Time
}

func NewSubscriptionLedger(repo repository.SubscriptionRecordRepository, catalog *Catalog) *SubscriptionLedger {
	return &SubscriptionLedger{repo: repo, catalog: catalog, now: time.Now}
}

func (s *SubscriptionLedger) paidRow(od OrderDetail, priceID string) (*models.SubscriptionRecord, error) {
	p, ok := s.catalog.Resolve(priceID)
	if !ok || p.OneTime {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPrice, priceID)
	}
	date := od.Date
	if date.IsZero() {
		date = s.now()
	}
	return &models.SubscriptionRecord{
		UserID:             od.UserID,
		OrderNumber:        od.OrderNumber(),
		SubscriptionID:     od.SubscriptionID,
		OrderPrice:         od.Price,
		CreditAmount:       p.Credits,
		OrderType:          models.OrderTypeActive,
		OrderDesc:          p.Name,
		OrderDate:          date.UTC(),
		SubscriptionType:   p.Cadence,
		SubscriptionStatus: models.SubscriptionStatusActive,
		PlanType:           p.Plan,
	}, nil
}

// RecordNew inserts the first row of a subscription. It is a no-op returning
// 0 when the subscription id is already known.
func (s *SubscriptionLedger) RecordNew(ctx context.Context, od OrderDetail, priceID string) (int64, error) {
	if strings.TrimSpace(od.SubscriptionID) == "" {
		return 0, fmt.Errorf("%w: subscription id", ErrMissingCorrelation)
	}
	exists, err := s.repo.ExistsBySubscriptionID(ctx, od.SubscriptionID)
	if err != nil {
		return 0, err
	}
	if exists {
		log.Infof("[Subscriptions] Subscription %s already recorded, skipping", od.SubscriptionID)
		return 0, nil
	}
	row, err := s.paidRow(od, priceID)
	if err != nil {
		return 0, err
	}
	return s.repo.Insert(ctx, row)
}

// RecordRenewal always inserts a new row, including for trial conversions.
// Earlier rows of the subscription stay untouched.
func (s *SubscriptionLedger) RecordRenewal(ctx context.Context, od OrderDetail, priceID string) (int64, error) {
	if strings.TrimSpace(od.SubscriptionID) == "" {
		return 0, fmt.Errorf("%w: subscription id", ErrMissingCorrelation)
	}
	row, err := s.paidRow(od, priceID)
	if err != nil {
		return 0, err
	}
	return s.repo.Insert(ctx, row)
}

// RecordTrial inserts the trial row of a subscription, once.
func (s *SubscriptionLedger) RecordTrial(ctx context.Context, od OrderDetail, subscriptionID, priceID string) (int64, error) {
	if strings.TrimSpace(subscriptionID) == "" {
		return 0, fmt.Errorf("%w: subscription id", ErrMissingCorrelation)
	}
	exists, err := s.repo.ExistsBySubscriptionID(ctx, subscriptionID)
	if err != nil {
		return 0, err
	}
	if exists {
		log.Infof("[Subscriptions] Trial %s already recorded, skipping", subscriptionID)
		return 0, nil
	}

	p, ok := s.catalog.Resolve(priceID)
	if !ok || p.OneTime {
		return 0, fmt.Errorf("%w: %q", ErrUnknownPrice, priceID)
	}
	subType := models.SubscriptionTypeTrial
	if s.catalog.IsAnnual(priceID) {
		subType = models.SubscriptionTypeAnnual
	}

	now := s.now().UTC()
	trialEnd := now.Add(TrialPeriod)
	orderNumber := od.OrderNumber()
	if orderNumber == "" {
		orderNumber = trialOrderNumber(subscriptionID)
	}
	return s.repo.Insert(ctx, &models.SubscriptionRecord{
		UserID:             od.UserID,
		OrderNumber:        orderNumber,
		SubscriptionID:     subscriptionID,
		OrderPrice:         decimal.Zero,
		CreditAmount:       s.catalog.TrialCredits(),
		OrderType:          models.OrderTypeActive,
		OrderDesc:          p.Name + " (trial)",
		OrderDate:          now,
		SubscriptionType:   subType,
		SubscriptionStatus: models.SubscriptionStatusTrialing,
		TrialStart:         &now,
		TrialEnd:           &trialEnd,
		PlanType:           p.Plan,
	})
}

// Cancel marks only the most recent live row of the subscription cancelled.
func (s *SubscriptionLedger) Cancel(ctx context.Context, subscriptionID string) (int64, error) {
	if strings.TrimSpace(subscriptionID) == "" {
		return 0, fmt.Errorf("%w: subscription id", ErrMissingCorrelation)
	}
	n, err := s.repo.CancelLatest(ctx, subscriptionID, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("cancel subscription %s: %w", subscriptionID, err)
	}
	if n == 0 {
		log.Infof("[Subscriptions] No live row for subscription %s, nothing to cancel", subscriptionID)
	}
	return n, nil
}

// HasOrder reports whether the subscription already has a row for orderNumber.
func (s *SubscriptionLedger) HasOrder(ctx context.Context, subscriptionID, orderNumber string) (bool, error) {
	rows, err := s.repo.ListBySubscriptionID(ctx, subscriptionID)
	if err != nil {
		return false, fmt.Errorf("list subscription %s: %w", subscriptionID, err)
	}
	for _, r := range rows {
		if r.OrderNumber == orderNumber {
			return true, nil
		}
	}
	return false, nil
}

// GetLatest returns the user's most recent row, or nil.
func (s *SubscriptionLedger) GetLatest(ctx context.Context, userID string) (*models.SubscriptionRecord, error) {
	rec, err := s.repo.LatestByUser(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

// GetValid evaluates the user's latest row at the current time.
func (s *SubscriptionLedger) GetValid(ctx context.Context, userID string) (ValidityInfo, error) {
	latest, err := s.GetLatest(ctx, userID)
	if err != nil {
		return ValidityInfo{}, err
	}
	return evaluateValidity(latest, s.now()), nil
}

func evaluateValidity(rec *models.SubscriptionRecord, now time.Time) ValidityInfo {
	if rec == nil {
		return ValidityInfo{}
	}
	info := ValidityInfo{
		HasSubscription:    true,
		SubscriptionID:     rec.SubscriptionID,
		PlanType:           rec.PlanType,
		SubscriptionType:   rec.SubscriptionType,
		SubscriptionStatus: rec.SubscriptionStatus,
	}
	if plan, ok := InferPlan(string(rec.PlanType), rec.OrderDesc, rec.OrderPrice); ok {
		info.PlanType = plan
	}

	end := validUntil(rec, now)
	live := now.Before(end)
	info.ExpiryDate = &end
	if rec.IsActiveContribution() {
		info.IsActive = live
	} else {
		info.InGracePeriod = live
	}
	return info
}

// validUntil returns the end of the period the row currently pays for. A
// cancelled row pays until the end of the period containing its cancellation.
func validUntil(rec *models.SubscriptionRecord, now time.Time) time.Time {
	if rec.SubscriptionType == models.SubscriptionTypeTrial || rec.TrialEnd != nil {
		if rec.TrialEnd != nil {
			return *rec.TrialEnd
		}
		return rec.OrderDate.Add(TrialPeriod)
	}

	ref := now
	if !rec.IsActiveContribution() {
		if rec.CanceledAt == nil {
			return periodEnd(rec.OrderDate, rec.OrderDate, rec.SubscriptionType.PeriodDays())
		}
		ref = *rec.CanceledAt
	}
	return periodEnd(rec.OrderDate, ref, rec.SubscriptionType.PeriodDays())
}

// periodEnd returns orderDate + (floor((ref-orderDate)/period)+1) * period.
func periodEnd(orderDate, ref time.Time, periodDays int) time.Time {
	period := time.Duration(periodDays) * 24 * time.Hour
	elapsed := ref.Sub(orderDate)
	if elapsed < 0 {
		elapsed = 0
	}
	periods := int64(elapsed / period)
	return orderDate.Add(time.Duration(periods+1) * period)
}

// HasUsedTrial reports whether the user ever had a trial on a paid plan.
func (s *SubscriptionLedger) HasUsedTrial(ctx context.Context, userID string) (bool, error) {
	return s.repo.HasTrial(ctx, userID, s.catalog.TrialPlans())
}

// CanSubscribe blocks resubscription only while the latest row is live.
// A cancelled row within its grace period does not block.
func (s *SubscriptionLedger) CanSubscribe(ctx context.Context, userID string) (bool, error) {
	latest, err := s.GetLatest(ctx, userID)
	if err != nil {
		return false, err
	}
	return !latest.IsActiveContribution(), nil
}

func trialOrderNumber(subscriptionID string) string {
	return "trial_" + subscriptionID
}
