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
	domain "github.com/smallbiznis/washline/internal/order/domain"
	zonedomain "github.com/smallbiznis/washline/internal/zone/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	pricing  *config.PricingHolder
	resolver zonedomain.Resolver
}

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Pricing  *config.PricingHolder
	Resolver zonedomain.Resolver
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("order.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		pricing:  p.Pricing,
		resolver: p.Resolver,
	}
}

// CreateDemandOrder implements domain.Service.
func (s *Service) CreateDemandOrder(ctx context.Context, customerID snowflake.ID, req domain.CreateDemandOrderRequest) (domain.Order, error) {
	if !domain.ValidShift(req.PickupShift) {
		return domain.Order{}, fmt.Errorf("%w: pickup_shift", domain.ErrInvalidOrder)
	}

	pickupDate, err := clock.ParseDay(req.PickupDate)
	if err != nil {
		return domain.Order{}, fmt.Errorf("%w: pickup_date", domain.ErrInvalidOrder)
	}

	today := clock.Day(s.clock.Now())
	if pickupDate.Before(today) {
		return domain.Order{}, fmt.Errorf("%w: pickup_date in the past", domain.ErrInvalidOrder)
	}

	resolution, err := s.resolver.Resolve(ctx, customerID)
	if err != nil {
		return domain.Order{}, err
	}

	pricing := s.pricing.Get()

	order := domain.Order{
		ID:          s.genID.Generate(),
		CustomerID:  customerID,
		BranchID:    resolution.Branch.ID,
		AddressID:   resolution.Address.ID,
		OrderType:   domain.TypeDemand,
		PickupShift: req.PickupShift,
		PickupDate:  pickupDate,
		Status:      domain.StatusScheduled,
	}
	if resolution.Staff != nil {
		staffID := resolution.Staff.ID
		order.StaffID = &staffID
	}

	// The placeholder payment carries a far-future due date until the
	// pickup is weighed and delivered; the fine sweep ignores it.
	payment := billingdomain.Payment{
		ID:            s.genID.Generate(),
		CustomerID:    customerID,
		OrderID:       &order.ID,
		PaymentType:   billingdomain.PaymentTypeDemand,
		PaymentStatus: billingdomain.PaymentStatusPending,
		Amount:        0,
		DueDate:       today.AddDate(0, 0, pricing.PlaceholderDueDays),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&order).Error; err != nil {
			return err
		}
		if err := tx.Create(&payment).Error; err != nil {
			return err
		}
		return s.appendStatusLog(tx, order.ID, domain.StatusScheduled, customerID)
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.log.Info("demand order created",
		zap.Int64("order_id", order.ID.Int64()),
		zap.Int64("customer_id", customerID.Int64()),
		zap.String("pickup_date", pickupDate.Format(time.DateOnly)),
	)
	return order, nil
}

// UpdateDemandOrder implements domain.Service. Only demand orders still
// in scheduled may change their pickup slot.
func (s *Service) UpdateDemandOrder(ctx context.Context, customerID, orderID snowflake.ID, req domain.UpdateDemandOrderRequest) (domain.Order, error) {
	var order domain.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND customer_id = ? AND order_type = ?", orderID, customerID, domain.TypeDemand).
			First(&order).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrOrderNotFound
			}
			return err
		}
		if order.Status != domain.StatusScheduled {
			return domain.ErrOrderNotEditable
		}

		updates := map[string]any{}
		if req.PickupDate != nil {
			pickupDate, err := clock.ParseDay(*req.PickupDate)
			if err != nil {
				return fmt.Errorf("%w: pickup_date", domain.ErrInvalidOrder)
			}
			if pickupDate.Before(clock.Day(s.clock.Now())) {
				return fmt.Errorf("%w: pickup_date in the past", domain.ErrInvalidOrder)
			}
			updates["pickup_date"] = pickupDate
			order.PickupDate = pickupDate
		}
		if req.PickupShift != nil {
			if !domain.ValidShift(*req.PickupShift) {
				return fmt.Errorf("%w: pickup_shift", domain.ErrInvalidOrder)
			}
			updates["pickup_shift"] = *req.PickupShift
			order.PickupShift = *req.PickupShift
		}
		if len(updates) == 0 {
			return nil
		}
		updates["updated_at"] = s.clock.Now()
		return tx.Model(&domain.Order{}).Where("id = ?", order.ID).Updates(updates).Error
	})
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// DeleteDemandOrder implements domain.Service. The placeholder payment
// goes with the order.
func (s *Service) DeleteDemandOrder(ctx context.Context, customerID, orderID snowflake.ID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order domain.Order
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND customer_id = ? AND order_type = ?", orderID, customerID, domain.TypeDemand).
			First(&order).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrOrderNotFound
			}
			return err
		}
		if order.Status != domain.StatusScheduled {
			return domain.ErrOrderNotEditable
		}
		if err := tx.Where("order_id = ? AND payment_status = ?", order.ID, billingdomain.PaymentStatusPending).
			Delete(&billingdomain.Payment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("order_id = ?", order.ID).Delete(&domain.OrderStatusLog{}).Error; err != nil {
			return err
		}
		return tx.Delete(&order).Error
	})
}

// GetOrder implements domain.Service.
func (s *Service) GetOrder(ctx context.Context, orderID snowflake.ID) (domain.Order, error) {
	var order domain.Order
	err := s.db.WithContext(ctx).Preload("Weight").First(&order, "id = ?", orderID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, err
	}
	return order, nil
}

// ListCustomerOrders implements domain.Service.
func (s *Service) ListCustomerOrders(ctx context.Context, customerID snowflake.ID, filter domain.ListOrdersFilter) ([]domain.Order, error) {
	query := s.db.WithContext(ctx).Preload("Weight").Where("customer_id = ?", customerID)
	return listOrders(applyFilter(query, filter))
}

// ListStaffOrders implements domain.Service.
func (s *Service) ListStaffOrders(ctx context.Context, staffUserID snowflake.ID, filter domain.ListOrdersFilter) ([]domain.Order, error) {
	staff, err := s.resolver.StaffByUserID(ctx, staffUserID)
	if err != nil {
		return nil, err
	}
	query := s.db.WithContext(ctx).Preload("Weight").Where("staff_id = ?", staff.ID)
	return listOrders(applyFilter(query, filter))
}

func applyFilter(query *gorm.DB, filter domain.ListOrdersFilter) *gorm.DB {
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.OrderType != "" {
		query = query.Where("order_type = ?", filter.OrderType)
	}
	if filter.PickupDate != nil {
		query = query.Where("pickup_date = ?", clock.Day(*filter.PickupDate))
	}
	return query
}

func listOrders(query *gorm.DB) ([]domain.Order, error) {
	var orders []domain.Order
	if err := query.Order("pickup_date DESC, id DESC").Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// Transition implements domain.Service.
func (s *Service) Transition(ctx context.Context, orderID, actorID snowflake.ID, req domain.TransitionRequest, allowed []domain.Status) (domain.Order, error) {
	if allowed != nil && !statusAllowed(allowed, req.Status) {
		return domain.Order{}, domain.ErrStatusNotAllowed
	}

	pred, ok := domain.Predecessor(req.Status)
	if !ok {
		return domain.Order{}, domain.ErrInvalidTransition
	}

	var order domain.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&order, "id = ?", orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrOrderNotFound
			}
			return err
		}

		if order.Status != pred {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, order.Status, req.Status)
		}

		if req.Status == domain.StatusPickedUp && order.OrderType == domain.TypeDemand {
			if req.WeightKG == nil || *req.WeightKG <= 0 {
				return domain.ErrWeightRequired
			}
			if err := s.recordWeight(tx, &order, actorID, *req.WeightKG); err != nil {
				return err
			}
		}

		// Conditional update keeps concurrent transitions idempotent: the
		// second writer sees zero rows affected and reports the conflict.
		result := tx.Model(&domain.Order{}).
			Where("id = ? AND status = ?", order.ID, pred).
			Updates(map[string]any{"status": req.Status, "updated_at": s.clock.Now()})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, order.Status, req.Status)
		}
		order.Status = req.Status

		if req.Status == domain.StatusDelivered && order.OrderType == domain.TypeDemand {
			if err := s.startDemandDueWindow(tx, order.ID); err != nil {
				return err
			}
		}

		return s.appendStatusLog(tx, order.ID, req.Status, actorID)
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.log.Info("order status changed",
		zap.Int64("order_id", order.ID.Int64()),
		zap.String("status", string(order.Status)),
		zap.Int64("actor_id", actorID.Int64()),
	)
	return order, nil
}

// CancelScheduled implements domain.Service.
func (s *Service) CancelScheduled(ctx context.Context, orderID, actorID snowflake.ID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.cancelScheduledTx(tx, orderID, actorID)
	})
}

func (s *Service) cancelScheduledTx(tx *gorm.DB, orderID, actorID snowflake.ID) error {
	result := tx.Model(&domain.Order{}).
		Where("id = ? AND status = ?", orderID, domain.StatusScheduled).
		Updates(map[string]any{"status": domain.StatusCancelled, "updated_at": s.clock.Now()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrOrderNotEditable
	}
	return s.appendStatusLog(tx, orderID, domain.StatusCancelled, actorID)
}

// recordWeight upserts the weigh-in and prices the order's pending
// payment: weight times the per-kg rate, floored at the minimum charge.
func (s *Service) recordWeight(tx *gorm.DB, order *domain.Order, actorID snowflake.ID, weightKG float64) error {
	weight := domain.OrderWeight{
		ID:         s.genID.Generate(),
		OrderID:    order.ID,
		WeightKG:   weightKG,
		RecordedBy: actorID,
		RecordedAt: s.clock.Now(),
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"weight_kg", "recorded_by", "recorded_at"}),
	}).Create(&weight).Error
	if err != nil {
		return err
	}

	pricing := s.pricing.Get()
	amount := weightKG * pricing.DemandPricePerKG
	if amount < pricing.DemandMinimumCharge {
		amount = pricing.DemandMinimumCharge
	}

	return tx.Model(&billingdomain.Payment{}).
		Where("order_id = ? AND payment_status = ?", order.ID, billingdomain.PaymentStatusPending).
		Update("amount", amount).Error
}

// startDemandDueWindow starts the payment clock at delivery: the customer
// gets the configured grace days from today before the fine sweep bites.
func (s *Service) startDemandDueWindow(tx *gorm.DB, orderID snowflake.ID) error {
	pricing := s.pricing.Get()
	due := clock.Day(s.clock.Now()).AddDate(0, 0, pricing.DemandDueGraceDays)
	return tx.Model(&billingdomain.Payment{}).
		Where("order_id = ? AND payment_status = ?", orderID, billingdomain.PaymentStatusPending).
		Update("due_date", due).Error
}

func (s *Service) appendStatusLog(tx *gorm.DB, orderID snowflake.ID, status domain.Status, actorID snowflake.ID) error {
	return tx.Create(&domain.OrderStatusLog{
		ID:        s.genID.Generate(),
		OrderID:   orderID,
		Status:    status,
		ChangedBy: actorID,
		CreatedAt: s.clock.Now(),
	}).Error
}

func statusAllowed(allowed []domain.Status, status domain.Status) bool {
	for _, s := range allowed {
		if s == status {
			return true
		}
	}
	return false
}
