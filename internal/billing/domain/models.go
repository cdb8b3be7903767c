// Package domain contains payments, fines and the billing cycle contract.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type PaymentType string

const (
	PaymentTypeMonthly PaymentType = "monthly"
	PaymentTypeDemand  PaymentType = "demand"
)

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// Payment is one row per billable event. Monthly payments reference a
// subscription; demand payments reference an order. Amount stays zero on
// demand payments until the pickup is weighed.
//
// Initial distinguishes the signup payment from renewals; paying a
// renewal extends the cycle, paying the initial one does not.
type Payment struct {
	ID             snowflake.ID  `gorm:"primaryKey" json:"id"`
	CustomerID     snowflake.ID  `gorm:"not null;index" json:"customer_id"`
	SubscriptionID *snowflake.ID `gorm:"index" json:"subscription_id,omitempty"`
	OrderID        *snowflake.ID `gorm:"index" json:"order_id,omitempty"`
	PaymentType    PaymentType   `gorm:"type:text;not null" json:"payment_type"`
	PaymentStatus  PaymentStatus `gorm:"type:text;not null;default:'pending'" json:"payment_status"`
	Amount         float64       `gorm:"not null;default:0" json:"amount"`
	Initial        bool          `gorm:"not null;default:false" json:"initial"`
	DueDate        time.Time     `gorm:"type:date;not null" json:"due_date"`
	PaymentDate    *time.Time    `gorm:"type:date" json:"payment_date,omitempty"`
	CreatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`

	Fine *PaymentFine `gorm:"foreignKey:PaymentID" json:"fine,omitempty"`
}

// TableName sets the database table name.
func (Payment) TableName() string { return "payments" }

// PaymentFine reflects the current overdue state of a payment, not a
// history. At most one per payment; the sweep recalculates or deletes it.
type PaymentFine struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	PaymentID   snowflake.ID `gorm:"not null;uniqueIndex" json:"payment_id"`
	Amount      float64      `gorm:"not null" json:"amount"`
	DaysOverdue int          `gorm:"not null" json:"days_overdue"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (PaymentFine) TableName() string { return "payment_fines" }

// TotalDue is the payment amount plus any standing fine.
func (p Payment) TotalDue() float64 {
	if p.Fine != nil {
		return p.Amount + p.Fine.Amount
	}
	return p.Amount
}

type ListPaymentsFilter struct {
	Status PaymentStatus
	Type   PaymentType
}

type Payments interface {
	ListCustomerPayments(ctx context.Context, customerID snowflake.ID, filter ListPaymentsFilter) ([]Payment, error)
	GetPayment(ctx context.Context, paymentID snowflake.ID) (Payment, error)

	// Pay settles a pending payment: marks it paid, stamps the payment
	// date, deletes any fine, and for monthly renewals extends the
	// subscription cycle. All in one transaction.
	Pay(ctx context.Context, customerID, paymentID snowflake.ID) (Payment, error)

	// EnsureRenewalPayments creates the pending renewal payment for every
	// active subscription whose cycle has completed as of today. Idempotent;
	// returns the number created.
	EnsureRenewalPayments(ctx context.Context, today time.Time) (int, error)
}

type FineSweepResult struct {
	Scanned int
	Upserts int
	Cleared int
}

type Fines interface {
	// EnsureFineForPayment recalculates the fine row for one payment,
	// deleting it when the payment is no longer overdue.
	EnsureFineForPayment(ctx context.Context, paymentID snowflake.ID, today time.Time) error

	// EnsureFinesForAllOverdue sweeps every pending payment.
	EnsureFinesForAllOverdue(ctx context.Context, today time.Time) (FineSweepResult, error)
}

var (
	ErrPaymentNotFound   = errors.New("payment_not_found")
	ErrPaymentNotPending = errors.New("payment_not_pending")
	ErrPaymentForbidden  = errors.New("payment_forbidden")
)
