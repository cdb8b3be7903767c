// Package domain contains customer subscriptions and skip days.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/smallbiznis/washline/internal/billing/domain"
	orderdomain "github.com/smallbiznis/washline/internal/order/domain"
)

// CycleDays is the length of one rolling billing cycle.
const CycleDays = 30

// Subscription is at most one active row per customer. EndDate marks the
// rolling cycle boundary: [EndDate-30d, EndDate] is the current cycle,
// and once today >= EndDate a renewal payment must exist.
type Subscription struct {
	ID          snowflake.ID      `gorm:"primaryKey" json:"id"`
	CustomerID  snowflake.ID      `gorm:"not null;index" json:"customer_id"`
	PlanID      snowflake.ID      `gorm:"not null;index" json:"plan_id"`
	PickupShift orderdomain.Shift `gorm:"type:text;not null" json:"pickup_shift"`
	IsActive    bool              `gorm:"not null;default:true" json:"is_active"`
	StartDate   time.Time         `gorm:"type:date;not null" json:"start_date"`
	EndDate     *time.Time        `gorm:"type:date" json:"end_date,omitempty"`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// SkipDay is a customer-declared "no pickup" exception. Once recorded it
// blocks generation for that date permanently, even if the subscription
// is later cancelled and recreated.
type SkipDay struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	SubscriptionID snowflake.ID `gorm:"not null;uniqueIndex:idx_skip_days_sub_date" json:"subscription_id"`
	SkipDate       time.Time    `gorm:"type:date;not null;uniqueIndex:idx_skip_days_sub_date" json:"skip_date"`
	Reason         string       `gorm:"type:text;not null;default:''" json:"reason"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (SkipDay) TableName() string { return "subscription_skip_days" }

type SubscribeRequest struct {
	PlanID      snowflake.ID      `json:"plan_id"`
	PickupShift orderdomain.Shift `json:"pickup_shift"`
}

type SkipDayRequest struct {
	SkipDate string `json:"skip_date"`
	Reason   string `json:"reason,omitempty"`
}

// Overview is the customer-facing subscription summary: cycle bounds,
// skip days, usage so far this cycle against the plan allowance, and the
// pending monthly payment if one exists.
type Overview struct {
	Subscription      Subscription           `json:"subscription"`
	CycleStart        time.Time              `json:"cycle_start"`
	CycleEnd          time.Time              `json:"cycle_end"`
	SkipDays          []SkipDay              `json:"skip_days"`
	PickupCount       int64                  `json:"pickup_count"`
	WeightUsedKG      float64                `json:"weight_used_kg"`
	WeightAllowanceKG float64                `json:"weight_allowance_kg"`
	PendingPayment    *billingdomain.Payment `json:"pending_payment,omitempty"`
}

type Service interface {
	// Subscribe activates a subscription for the customer and creates the
	// initial pending payment. Fails if an active subscription exists.
	Subscribe(ctx context.Context, customerID snowflake.ID, req SubscribeRequest) (Subscription, error)

	// Cancel deactivates the active subscription and closes its cycle at
	// today. Orders already scheduled are left to skip-day handling.
	Cancel(ctx context.Context, customerID snowflake.ID) error

	GetActiveByCustomer(ctx context.Context, customerID snowflake.ID) (Subscription, error)
	GetOverview(ctx context.Context, customerID snowflake.ID) (Overview, error)

	// RecordSkipDay registers a skip for the given date and cancels the
	// day's order if one is still scheduled. Rejected when the order has
	// already advanced past scheduled.
	RecordSkipDay(ctx context.Context, customerID snowflake.ID, req SkipDayRequest) (SkipDay, error)
}

var (
	ErrAlreadySubscribed    = errors.New("already_subscribed")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrInvalidSubscription  = errors.New("invalid_subscription")
	ErrDuplicateSkip        = errors.New("skip_day_already_recorded")
	ErrSkipTooLate          = errors.New("skip_day_too_late")
	ErrInvalidSkipDate      = errors.New("invalid_skip_date")
)
