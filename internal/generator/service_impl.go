package generator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/smallbiznis/washline/internal/billing/domain"
	"github.com/smallbiznis/washline/internal/clock"
	"github.com/smallbiznis/washline/internal/config"
	"github.com/smallbiznis/washline/internal/lock"
	obsmetrics "github.com/smallbiznis/washline/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/washline/internal/order/domain"
	subscriptiondomain "github.com/smallbiznis/washline/internal/subscription/domain"
	zonedomain "github.com/smallbiznis/washline/internal/zone/domain"
	"github.com/smallbiznis/washline/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	sweepLockKeyPrefix  = "washline:generator:sweep:"
	sweepLockAcquireMax = 2 * time.Second
	sweepLockRetryEvery = 250 * time.Millisecond
)

type service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	cfg      *config.Config
	locker   *lock.Locker
	resolver zonedomain.Resolver
}

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Cfg      *config.Config
	Locker   *lock.Locker `optional:"true"`
	Resolver zonedomain.Resolver
}

func NewService(p ServiceParam) Service {
	return &service{
		db:       p.DB,
		log:      p.Log.Named("generator"),
		genID:    p.GenID,
		clock:    p.Clock,
		cfg:      p.Cfg,
		locker:   p.Locker,
		resolver: p.Resolver,
	}
}

// EnsureOrdersForSubscription implements Service.
func (s *service) EnsureOrdersForSubscription(ctx context.Context, subscriptionID snowflake.ID, date time.Time) (Result, error) {
	var sub subscriptiondomain.Subscription
	err := s.db.WithContext(ctx).First(&sub, "id = ?", subscriptionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Result{Locked: true}, subscriptiondomain.ErrSubscriptionNotFound
		}
		return Result{Locked: true}, err
	}
	result := Result{Locked: true}
	if err := s.ensureOrder(ctx, sub, clock.Day(date), &result); err != nil {
		return result, err
	}
	return result, nil
}

// EnsureOrdersForAll implements Service.
func (s *service) EnsureOrdersForAll(ctx context.Context, date time.Time) (Result, error) {
	date = clock.Day(date)
	metrics := obsmetrics.Scheduler()

	release, acquired, err := s.acquireSweepLock(ctx, date)
	if err != nil {
		return Result{}, err
	}
	if !acquired {
		metrics.IncSweepDeferred()
		s.log.Info("generation sweep deferred, lock held elsewhere",
			zap.String("date", date.Format(time.DateOnly)),
		)
		return Result{}, nil
	}
	defer release()

	var subs []subscriptiondomain.Subscription
	err = s.db.WithContext(ctx).
		Where("is_active = ? AND start_date <= ?", true, date).
		Order("id ASC").
		Find(&subs).Error
	if err != nil {
		return Result{Locked: true}, err
	}

	result := Result{Locked: true}
	var errs []error
	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := s.ensureOrder(ctx, sub, date, &result); err != nil {
			errs = append(errs, fmt.Errorf("subscription %d: %w", sub.ID.Int64(), err))
		}
	}

	metrics.AddOrdersCreated(result.Created)
	s.log.Info("generation sweep finished",
		zap.String("date", date.Format(time.DateOnly)),
		zap.Int("scanned", result.Scanned),
		zap.Int("created", result.Created),
		zap.Int("skipped", result.Skipped),
		zap.Int("errors", len(errs)),
	)
	return result, errors.Join(errs...)
}

// ensureOrder applies the generation rules for a single subscription day.
// Every skip is counted, never treated as an error.
func (s *service) ensureOrder(ctx context.Context, sub subscriptiondomain.Subscription, date time.Time, result *Result) error {
	result.Scanned++
	metrics := obsmetrics.Scheduler()

	if !sub.IsActive || clock.Day(sub.StartDate).After(date) {
		result.Skipped++
		return nil
	}
	if sub.EndDate != nil && date.After(clock.Day(*sub.EndDate)) {
		result.Skipped++
		return nil
	}

	suspended, err := s.hasOverdueMonthlyPayment(ctx, sub.ID, date)
	if err != nil {
		return err
	}
	if suspended {
		result.Skipped++
		metrics.AddOrdersSkipped(SkipReasonSuspended, 1)
		return nil
	}

	var skipCount int64
	err = s.db.WithContext(ctx).Model(&subscriptiondomain.SkipDay{}).
		Where("subscription_id = ? AND skip_date = ?", sub.ID, date).
		Count(&skipCount).Error
	if err != nil {
		return err
	}
	if skipCount > 0 {
		result.Skipped++
		metrics.AddOrdersSkipped(SkipReasonSkipDay, 1)
		return nil
	}

	var existing int64
	err = s.db.WithContext(ctx).Model(&orderdomain.Order{}).
		Where("customer_id = ? AND pickup_date = ? AND order_type = ?",
			sub.CustomerID, date, orderdomain.TypeMonthly).
		Count(&existing).Error
	if err != nil {
		return err
	}
	if existing > 0 {
		result.Skipped++
		metrics.AddOrdersSkipped(SkipReasonExisting, 1)
		return nil
	}

	resolution, err := s.resolver.Resolve(ctx, sub.CustomerID)
	if err != nil {
		if errors.Is(err, zonedomain.ErrNotResolvable) {
			result.Skipped++
			metrics.AddOrdersSkipped(SkipReasonUnresolvable, 1)
			s.log.Warn("subscription not resolvable to a branch",
				zap.Int64("subscription_id", sub.ID.Int64()),
				zap.Int64("customer_id", sub.CustomerID.Int64()),
			)
			return nil
		}
		return err
	}

	order := orderdomain.Order{
		ID:          s.genID.Generate(),
		CustomerID:  sub.CustomerID,
		BranchID:    resolution.Branch.ID,
		AddressID:   resolution.Address.ID,
		OrderType:   orderdomain.TypeMonthly,
		PickupShift: sub.PickupShift,
		PickupDate:  date,
		Status:      orderdomain.StatusScheduled,
	}
	if resolution.Staff != nil {
		staffID := resolution.Staff.ID
		order.StaffID = &staffID
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&order).Error; err != nil {
			return err
		}
		return tx.Create(&orderdomain.OrderStatusLog{
			ID:        s.genID.Generate(),
			OrderID:   order.ID,
			Status:    orderdomain.StatusScheduled,
			ChangedBy: sub.CustomerID,
			CreatedAt: s.clock.Now(),
		}).Error
	})
	if err != nil {
		// A concurrent generator won the race; the day is covered.
		if db.IsDuplicateKeyErr(err) {
			result.Skipped++
			metrics.AddOrdersSkipped(SkipReasonDuplicate, 1)
			return nil
		}
		return err
	}

	result.Created++
	return nil
}

// hasOverdueMonthlyPayment reports whether generation is suspended for
// the subscription: a pending monthly payment past its due date as of
// the reference day.
func (s *service) hasOverdueMonthlyPayment(ctx context.Context, subscriptionID snowflake.ID, day time.Time) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&billingdomain.Payment{}).
		Where("subscription_id = ? AND payment_type = ? AND payment_status = ? AND due_date < ?",
			subscriptionID, billingdomain.PaymentTypeMonthly, billingdomain.PaymentStatusPending, day).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// acquireSweepLock bounds acquisition so a stuck replica cannot stall the
// run loop. Without a locker configured the sweep runs lock-free.
func (s *service) acquireSweepLock(ctx context.Context, date time.Time) (func(), bool, error) {
	if s.locker == nil {
		return func() {}, true, nil
	}

	key := sweepLockKeyPrefix + date.Format(time.DateOnly)
	ttl := s.cfg.Scheduler.LockTTL
	if ttl <= 0 {
		ttl = time.Minute
	}

	deadline := time.Now().Add(sweepLockAcquireMax)
	for {
		token, ok, err := s.locker.TryLock(ctx, key, ttl)
		if err != nil {
			return nil, false, err
		}
		if ok {
			release := func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := s.locker.Release(releaseCtx, key, token); err != nil {
					s.log.Warn("sweep lock release failed", zap.String("key", key), zap.Error(err))
				}
			}
			return release, true, nil
		}
		if time.Now().After(deadline) {
			return nil, false, nil
		}
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-time.After(sweepLockRetryEvery):
		}
	}
}
