package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	domain "github.com/smallbiznis/washline/internal/billing/domain"
	"github.com/smallbiznis/washline/internal/clock"
	"github.com/smallbiznis/washline/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Fines struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	pricing *config.PricingHolder
}

type FinesParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Pricing *config.PricingHolder
}

func NewFines(p FinesParam) domain.Fines {
	return &Fines{
		db:      p.DB,
		log:     p.Log.Named("billing.fines"),
		genID:   p.GenID,
		clock:   p.Clock,
		pricing: p.Pricing,
	}
}

// EnsureFineForPayment implements domain.Fines.
func (s *Fines) EnsureFineForPayment(ctx context.Context, paymentID snowflake.ID, today time.Time) error {
	today = clock.Day(today)

	var payment domain.Payment
	err := s.db.WithContext(ctx).First(&payment, "id = ?", paymentID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrPaymentNotFound
		}
		return err
	}
	_, err = s.reconcileFine(ctx, payment, today)
	return err
}

// EnsureFinesForAllOverdue implements domain.Fines.
func (s *Fines) EnsureFinesForAllOverdue(ctx context.Context, today time.Time) (domain.FineSweepResult, error) {
	today = clock.Day(today)
	result := domain.FineSweepResult{}

	// Pending payments that are overdue or still carry a fine row from a
	// previous sweep both need reconciling; everything else is untouched.
	var payments []domain.Payment
	err := s.db.WithContext(ctx).
		Where("payment_status = ? AND due_date < ?", domain.PaymentStatusPending, today).
		Find(&payments).Error
	if err != nil {
		return result, err
	}

	var errs []error
	for _, payment := range payments {
		result.Scanned++
		upserted, err := s.reconcileFine(ctx, payment, today)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if upserted {
			result.Upserts++
		}
	}

	// Fines whose payment is no longer pending and overdue are stale.
	stale := s.db.WithContext(ctx).
		Where("payment_id NOT IN (?)", s.db.Model(&domain.Payment{}).
			Select("id").
			Where("payment_status = ? AND due_date < ?", domain.PaymentStatusPending, today)).
		Delete(&domain.PaymentFine{})
	if stale.Error != nil {
		errs = append(errs, stale.Error)
	} else {
		result.Cleared = int(stale.RowsAffected)
	}

	s.log.Info("fine sweep finished",
		zap.String("date", today.Format(time.DateOnly)),
		zap.Int("scanned", result.Scanned),
		zap.Int("upserts", result.Upserts),
		zap.Int("cleared", result.Cleared),
	)
	return result, errors.Join(errs...)
}

// reconcileFine recomputes the fine for one payment. Returns true when a
// fine row was written.
func (s *Fines) reconcileFine(ctx context.Context, payment domain.Payment, today time.Time) (bool, error) {
	daysOverdue := clock.DaysBetween(payment.DueDate, today)
	if payment.PaymentStatus != domain.PaymentStatusPending || daysOverdue <= 0 {
		return false, s.db.WithContext(ctx).
			Where("payment_id = ?", payment.ID).
			Delete(&domain.PaymentFine{}).Error
	}

	pricing := s.pricing.Get()
	fine := domain.PaymentFine{
		ID:          s.genID.Generate(),
		PaymentID:   payment.ID,
		Amount:      float64(daysOverdue) * pricing.FinePerDay,
		DaysOverdue: daysOverdue,
		UpdatedAt:   s.clock.Now(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "payment_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"amount", "days_overdue", "updated_at"}),
	}).Create(&fine).Error
	if err != nil {
		return false, err
	}
	return true, nil
}
