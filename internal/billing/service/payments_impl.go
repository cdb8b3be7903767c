package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	domain "github.com/smallbiznis/washline/internal/billing/domain"
	"github.com/smallbiznis/washline/internal/clock"
	"github.com/smallbiznis/washline/internal/config"
	"github.com/smallbiznis/washline/internal/generator"
	subscriptiondomain "github.com/smallbiznis/washline/internal/subscription/domain"
	"github.com/smallbiznis/washline/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Payments struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	pricing   *config.PricingHolder
	generator generator.Service
}

type PaymentsParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Pricing   *config.PricingHolder
	Generator generator.Service
}

func NewPayments(p PaymentsParam) domain.Payments {
	return &Payments{
		db:        p.DB,
		log:       p.Log.Named("billing.payments"),
		genID:     p.GenID,
		clock:     p.Clock,
		pricing:   p.Pricing,
		generator: p.Generator,
	}
}

// ListCustomerPayments implements domain.Payments.
func (s *Payments) ListCustomerPayments(ctx context.Context, customerID snowflake.ID, filter domain.ListPaymentsFilter) ([]domain.Payment, error) {
	query := s.db.WithContext(ctx).Preload("Fine").Where("customer_id = ?", customerID)
	if filter.Status != "" {
		query = query.Where("payment_status = ?", filter.Status)
	}
	if filter.Type != "" {
		query = query.Where("payment_type = ?", filter.Type)
	}

	var payments []domain.Payment
	if err := query.Order("due_date ASC, id ASC").Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}

// GetPayment implements domain.Payments.
func (s *Payments) GetPayment(ctx context.Context, paymentID snowflake.ID) (domain.Payment, error) {
	var payment domain.Payment
	err := s.db.WithContext(ctx).Preload("Fine").First(&payment, "id = ?", paymentID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Payment{}, domain.ErrPaymentNotFound
		}
		return domain.Payment{}, err
	}
	return payment, nil
}

// Pay implements domain.Payments.
func (s *Payments) Pay(ctx context.Context, customerID, paymentID snowflake.ID) (domain.Payment, error) {
	today := clock.Day(s.clock.Now())

	var payment domain.Payment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&payment, "id = ?", paymentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrPaymentNotFound
			}
			return err
		}
		if payment.CustomerID != customerID {
			return domain.ErrPaymentForbidden
		}
		if payment.PaymentStatus != domain.PaymentStatusPending {
			return domain.ErrPaymentNotPending
		}

		result := tx.Model(&domain.Payment{}).
			Where("id = ? AND payment_status = ?", payment.ID, domain.PaymentStatusPending).
			Updates(map[string]any{
				"payment_status": domain.PaymentStatusPaid,
				"payment_date":   today,
				"updated_at":     s.clock.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrPaymentNotPending
		}
		payment.PaymentStatus = domain.PaymentStatusPaid
		payment.PaymentDate = &today

		// Settling always clears the standing fine; it was priced into
		// what the customer just paid.
		if err := tx.Where("payment_id = ?", payment.ID).Delete(&domain.PaymentFine{}).Error; err != nil {
			return err
		}

		if payment.PaymentType == domain.PaymentTypeMonthly && !payment.Initial {
			return s.extendCycle(tx, payment, today)
		}
		return nil
	})
	if err != nil {
		return domain.Payment{}, err
	}

	s.log.Info("payment settled",
		zap.Int64("payment_id", payment.ID.Int64()),
		zap.Int64("customer_id", customerID.Int64()),
		zap.String("payment_type", string(payment.PaymentType)),
		zap.Bool("initial", payment.Initial),
	)

	// Paying may lift a generation suspension; catch up today's order now
	// instead of waiting for the next scheduler tick.
	if payment.PaymentType == domain.PaymentTypeMonthly && payment.SubscriptionID != nil {
		if _, err := s.generator.EnsureOrdersForSubscription(ctx, *payment.SubscriptionID, today); err != nil &&
			!errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
			s.log.Warn("post-payment order generation failed",
				zap.Int64("subscription_id", payment.SubscriptionID.Int64()),
				zap.Error(err),
			)
		}
	}
	return payment, nil
}

// extendCycle rolls the subscription forward one cycle from its previous
// boundary, not from the payment date, so late payers do not drift the
// cycle. Payments settled before the boundary leave the cycle untouched.
// Stray pending renewals for the same subscription are removed; the paid
// row supersedes them.
func (s *Payments) extendCycle(tx *gorm.DB, payment domain.Payment, today time.Time) error {
	if payment.SubscriptionID == nil {
		return fmt.Errorf("monthly payment %d has no subscription", payment.ID.Int64())
	}

	var sub subscriptiondomain.Subscription
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&sub, "id = ?", *payment.SubscriptionID).Error; err != nil {
		return err
	}

	base := today
	if sub.EndDate != nil {
		end := clock.Day(*sub.EndDate)
		if today.Before(end) {
			// Paid ahead of the boundary; the running cycle stands and
			// the next renewal will anchor to it as usual.
			return nil
		}
		base = end
	}
	newEnd := base.AddDate(0, 0, subscriptiondomain.CycleDays)

	err := tx.Model(&subscriptiondomain.Subscription{}).
		Where("id = ?", sub.ID).
		Updates(map[string]any{"end_date": newEnd, "updated_at": s.clock.Now()}).Error
	if err != nil {
		return err
	}

	return tx.Where("subscription_id = ? AND payment_type = ? AND payment_status = ? AND id <> ?",
		sub.ID, domain.PaymentTypeMonthly, domain.PaymentStatusPending, payment.ID).
		Delete(&domain.Payment{}).Error
}

// EnsureRenewalPayments implements domain.Payments.
func (s *Payments) EnsureRenewalPayments(ctx context.Context, today time.Time) (int, error) {
	today = clock.Day(today)
	pricing := s.pricing.Get()

	// Subscriptions whose cycle has completed and have no pending monthly
	// payment yet. The plan price travels with the row.
	type dueSubscription struct {
		ID           snowflake.ID
		CustomerID   snowflake.ID
		EndDate      time.Time
		MonthlyPrice float64
	}

	var due []dueSubscription
	err := s.db.WithContext(ctx).Raw(`
		SELECT s.id, s.customer_id, s.end_date, p.monthly_price
		FROM subscriptions s
		JOIN plans p ON p.id = s.plan_id
		WHERE s.is_active = ?
		  AND s.end_date IS NOT NULL
		  AND s.end_date <= ?
		  AND NOT EXISTS (
			SELECT 1 FROM payments pay
			WHERE pay.subscription_id = s.id
			  AND pay.payment_type = ?
			  AND pay.payment_status = ?
		  )
		ORDER BY s.id`,
		true, today, domain.PaymentTypeMonthly, domain.PaymentStatusPending,
	).Scan(&due).Error
	if err != nil {
		return 0, err
	}

	created := 0
	var errs []error
	for _, sub := range due {
		subID := sub.ID
		payment := domain.Payment{
			ID:             s.genID.Generate(),
			CustomerID:     sub.CustomerID,
			SubscriptionID: &subID,
			PaymentType:    domain.PaymentTypeMonthly,
			PaymentStatus:  domain.PaymentStatusPending,
			Amount:         sub.MonthlyPrice,
			DueDate:        clock.Day(sub.EndDate).AddDate(0, 0, pricing.SignupGraceDays),
		}
		if err := s.db.WithContext(ctx).Create(&payment).Error; err != nil {
			// A concurrent sweep created it first; the invariant holds.
			if db.IsDuplicateKeyErr(err) {
				continue
			}
			errs = append(errs, fmt.Errorf("subscription %d: %w", sub.ID.Int64(), err))
			continue
		}
		created++
	}

	if created > 0 {
		s.log.Info("renewal payments created", zap.Int("created", created))
	}
	return created, errors.Join(errs...)
}
