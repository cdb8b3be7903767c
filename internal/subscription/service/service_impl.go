package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/smallbiznis/washline/internal/billing/domain"
	"github.com/smallbiznis/washline/internal/clock"
	"github.com/smallbiznis/washline/internal/config"
	"github.com/smallbiznis/washline/internal/generator"
	orderdomain "github.com/smallbiznis/washline/internal/order/domain"
	plandomain "github.com/smallbiznis/washline/internal/plan/domain"
	domain "github.com/smallbiznis/washline/internal/subscription/domain"
	"github.com/smallbiznis/washline/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	pricing   *config.PricingHolder
	plans     plandomain.Service
	generator generator.Service
}

type ServiceParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Pricing   *config.PricingHolder
	Plans     plandomain.Service
	Generator generator.Service
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("subscription.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		pricing:   p.Pricing,
		plans:     p.Plans,
		generator: p.Generator,
	}
}

// Subscribe implements domain.Service.
func (s *Service) Subscribe(ctx context.Context, customerID snowflake.ID, req domain.SubscribeRequest) (domain.Subscription, error) {
	if !orderdomain.ValidShift(req.PickupShift) {
		return domain.Subscription{}, fmt.Errorf("%w: pickup_shift", domain.ErrInvalidSubscription)
	}

	plan, err := s.plans.GetByID(ctx, req.PlanID)
	if err != nil {
		return domain.Subscription{}, err
	}

	pricing := s.pricing.Get()
	today := clock.Day(s.clock.Now())
	endDate := today.AddDate(0, 0, domain.CycleDays)

	sub := domain.Subscription{
		ID:          s.genID.Generate(),
		CustomerID:  customerID,
		PlanID:      plan.ID,
		PickupShift: req.PickupShift,
		IsActive:    true,
		StartDate:   today,
		EndDate:     &endDate,
	}

	// The signup payment is due inside a short grace window; it does not
	// extend the cycle when paid, the subscription already covers it.
	initial := billingdomain.Payment{
		ID:             s.genID.Generate(),
		CustomerID:     customerID,
		SubscriptionID: &sub.ID,
		PaymentType:    billingdomain.PaymentTypeMonthly,
		PaymentStatus:  billingdomain.PaymentStatusPending,
		Amount:         plan.MonthlyPrice,
		Initial:        true,
		DueDate:        today.AddDate(0, 0, pricing.SignupGraceDays),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing domain.Subscription
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("customer_id = ? AND is_active = ?", customerID, true).
			First(&existing).Error
		if err == nil {
			return domain.ErrAlreadySubscribed
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if err := tx.Create(&sub).Error; err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrAlreadySubscribed
			}
			return err
		}
		if err := tx.Create(&initial).Error; err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrAlreadySubscribed
			}
			return err
		}
		return nil
	})
	if err != nil {
		return domain.Subscription{}, err
	}

	s.log.Info("subscription created",
		zap.Int64("subscription_id", sub.ID.Int64()),
		zap.Int64("customer_id", customerID.Int64()),
		zap.Int64("plan_id", plan.ID.Int64()),
	)

	// Same-day pickup should exist as soon as the customer subscribes; a
	// generation failure here is the scheduler's to retry, not the caller's.
	if _, err := s.generator.EnsureOrdersForSubscription(ctx, sub.ID, today); err != nil {
		s.log.Warn("post-subscribe order generation failed",
			zap.Int64("subscription_id", sub.ID.Int64()),
			zap.Error(err),
		)
	}
	return sub, nil
}

// Cancel implements domain.Service.
func (s *Service) Cancel(ctx context.Context, customerID snowflake.ID) error {
	today := clock.Day(s.clock.Now())
	result := s.db.WithContext(ctx).Model(&domain.Subscription{}).
		Where("customer_id = ? AND is_active = ?", customerID, true).
		Updates(map[string]any{"is_active": false, "end_date": today, "updated_at": s.clock.Now()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrSubscriptionNotFound
	}
	s.log.Info("subscription cancelled", zap.Int64("customer_id", customerID.Int64()))
	return nil
}

// GetActiveByCustomer implements domain.Service.
func (s *Service) GetActiveByCustomer(ctx context.Context, customerID snowflake.ID) (domain.Subscription, error) {
	var sub domain.Subscription
	err := s.db.WithContext(ctx).
		Where("customer_id = ? AND is_active = ?", customerID, true).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Subscription{}, domain.ErrSubscriptionNotFound
		}
		return domain.Subscription{}, err
	}
	return sub, nil
}

// GetOverview implements domain.Service.
func (s *Service) GetOverview(ctx context.Context, customerID snowflake.ID) (domain.Overview, error) {
	sub, err := s.GetActiveByCustomer(ctx, customerID)
	if err != nil {
		return domain.Overview{}, err
	}

	var skips []domain.SkipDay
	err = s.db.WithContext(ctx).
		Where("subscription_id = ?", sub.ID).
		Order("skip_date ASC").
		Find(&skips).Error
	if err != nil {
		return domain.Overview{}, err
	}

	cycleEnd := clock.Day(s.clock.Now()).AddDate(0, 0, domain.CycleDays)
	if sub.EndDate != nil {
		cycleEnd = clock.Day(*sub.EndDate)
	}
	cycleStart := cycleEnd.AddDate(0, 0, -domain.CycleDays)

	// Usage so far this cycle: cancelled pickups do not count against the
	// allowance.
	var pickupCount int64
	err = s.db.WithContext(ctx).Model(&orderdomain.Order{}).
		Where("customer_id = ? AND order_type = ? AND status <> ? AND pickup_date >= ? AND pickup_date < ?",
			customerID, orderdomain.TypeMonthly, orderdomain.StatusCancelled, cycleStart, cycleEnd).
		Count(&pickupCount).Error
	if err != nil {
		return domain.Overview{}, err
	}

	var weightUsed float64
	err = s.db.WithContext(ctx).Model(&orderdomain.OrderWeight{}).
		Joins("JOIN orders ON orders.id = order_weights.order_id").
		Where("orders.customer_id = ? AND orders.order_type = ? AND orders.status <> ? AND orders.pickup_date >= ? AND orders.pickup_date < ?",
			customerID, orderdomain.TypeMonthly, orderdomain.StatusCancelled, cycleStart, cycleEnd).
		Select("COALESCE(SUM(order_weights.weight_kg), 0)").
		Scan(&weightUsed).Error
	if err != nil {
		return domain.Overview{}, err
	}

	var allowance float64
	if plan, err := s.plans.GetByID(ctx, sub.PlanID); err == nil {
		allowance = plan.MaxWeightPerMonth
	} else if !errors.Is(err, plandomain.ErrPlanNotFound) {
		return domain.Overview{}, err
	}

	var pendingPayment *billingdomain.Payment
	var pending billingdomain.Payment
	err = s.db.WithContext(ctx).
		Where("subscription_id = ? AND payment_type = ? AND payment_status = ?",
			sub.ID, billingdomain.PaymentTypeMonthly, billingdomain.PaymentStatusPending).
		First(&pending).Error
	switch {
	case err == nil:
		pendingPayment = &pending
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return domain.Overview{}, err
	}

	return domain.Overview{
		Subscription:      sub,
		CycleStart:        cycleStart,
		CycleEnd:          cycleEnd,
		SkipDays:          skips,
		PickupCount:       pickupCount,
		WeightUsedKG:      weightUsed,
		WeightAllowanceKG: allowance,
		PendingPayment:    pendingPayment,
	}, nil
}

// RecordSkipDay implements domain.Service. The skip row and the order
// cancellation commit together or not at all.
func (s *Service) RecordSkipDay(ctx context.Context, customerID snowflake.ID, req domain.SkipDayRequest) (domain.SkipDay, error) {
	skipDate, err := clock.ParseDay(req.SkipDate)
	if err != nil {
		return domain.SkipDay{}, domain.ErrInvalidSkipDate
	}
	if skipDate.Before(clock.Day(s.clock.Now())) {
		return domain.SkipDay{}, domain.ErrInvalidSkipDate
	}

	sub, err := s.GetActiveByCustomer(ctx, customerID)
	if err != nil {
		return domain.SkipDay{}, err
	}

	skip := domain.SkipDay{
		ID:             s.genID.Generate(),
		SubscriptionID: sub.ID,
		SkipDate:       skipDate,
		Reason:         req.Reason,
		CreatedAt:      s.clock.Now(),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order orderdomain.Order
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("customer_id = ? AND pickup_date = ? AND order_type = ? AND status <> ?",
				customerID, skipDate, orderdomain.TypeMonthly, orderdomain.StatusCancelled).
			First(&order).Error
		switch {
		case err == nil:
			if order.Status != orderdomain.StatusScheduled {
				return domain.ErrSkipTooLate
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			// No order yet; the skip alone blocks future generation.
		default:
			return err
		}

		if err := tx.Create(&skip).Error; err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrDuplicateSkip
			}
			return err
		}

		if order.ID == 0 {
			return nil
		}
		result := tx.Model(&orderdomain.Order{}).
			Where("id = ? AND status = ?", order.ID, orderdomain.StatusScheduled).
			Updates(map[string]any{"status": orderdomain.StatusCancelled, "updated_at": s.clock.Now()})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrSkipTooLate
		}
		return tx.Create(&orderdomain.OrderStatusLog{
			ID:        s.genID.Generate(),
			OrderID:   order.ID,
			Status:    orderdomain.StatusCancelled,
			ChangedBy: customerID,
			CreatedAt: s.clock.Now(),
		}).Error
	})
	if err != nil {
		return domain.SkipDay{}, err
	}

	s.log.Info("skip day recorded",
		zap.Int64("subscription_id", sub.ID.Int64()),
		zap.String("skip_date", skipDate.Format(time.DateOnly)),
	)
	return skip, nil
}
