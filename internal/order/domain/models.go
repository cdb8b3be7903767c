// Package domain contains the pickup order lifecycle.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusScheduled        Status = "scheduled"
	StatusPickedUp         Status = "picked_up"
	StatusReachedBranch    Status = "reached_branch"
	StatusWashing          Status = "washing"
	StatusReadyForDelivery Status = "ready_for_delivery"
	StatusDelivered        Status = "delivered"
	StatusCancelled        Status = "cancelled"
)

type OrderType string

const (
	TypeMonthly OrderType = "monthly"
	TypeDemand  OrderType = "demand"
)

type Shift string

const (
	ShiftMorning Shift = "morning"
	ShiftEvening Shift = "evening"
)

// ValidShift reports whether s is a recognized pickup shift.
func ValidShift(s Shift) bool {
	return s == ShiftMorning || s == ShiftEvening
}

// predecessors maps every status to the single status it may be entered
// from. No other transitions exist; the map is the whole state machine.
var predecessors = map[Status]Status{
	StatusPickedUp:         StatusScheduled,
	StatusReachedBranch:    StatusPickedUp,
	StatusWashing:          StatusReachedBranch,
	StatusReadyForDelivery: StatusWashing,
	StatusDelivered:        StatusReadyForDelivery,
	StatusCancelled:        StatusScheduled,
}

// CanTransition reports whether an order in status from may move to
// status to.
func CanTransition(from, to Status) bool {
	pred, ok := predecessors[to]
	return ok && pred == from
}

// Predecessor returns the status an order must be in before entering to.
func Predecessor(to Status) (Status, bool) {
	pred, ok := predecessors[to]
	return pred, ok
}

type Order struct {
	ID          snowflake.ID  `gorm:"primaryKey" json:"id"`
	CustomerID  snowflake.ID  `gorm:"not null;index:idx_orders_customer_date" json:"customer_id"`
	BranchID    snowflake.ID  `gorm:"not null;index" json:"branch_id"`
	AddressID   snowflake.ID  `gorm:"not null" json:"address_id"`
	StaffID     *snowflake.ID `gorm:"index" json:"staff_id,omitempty"`
	OrderType   OrderType     `gorm:"type:text;not null" json:"order_type"`
	PickupShift Shift         `gorm:"type:text;not null" json:"pickup_shift"`
	PickupDate  time.Time     `gorm:"type:date;not null;index:idx_orders_customer_date" json:"pickup_date"`
	Status      Status        `gorm:"type:text;not null;default:'scheduled'" json:"status"`
	CreatedAt   time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`

	Weight *OrderWeight `gorm:"foreignKey:OrderID" json:"weight,omitempty"`
}

// TableName sets the database table name.
func (Order) TableName() string { return "orders" }

// OrderWeight is the single weigh-in captured at pickup. At most one row
// per order; re-weighing replaces the value in place.
type OrderWeight struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	OrderID    snowflake.ID `gorm:"not null;uniqueIndex" json:"order_id"`
	WeightKG   float64      `gorm:"not null" json:"weight_kg"`
	RecordedBy snowflake.ID `gorm:"not null" json:"recorded_by"`
	RecordedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"recorded_at"`
}

// TableName sets the database table name.
func (OrderWeight) TableName() string { return "order_weights" }

// OrderStatusLog is append-only. Rows are never updated or deleted.
type OrderStatusLog struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	OrderID   snowflake.ID `gorm:"not null;index" json:"order_id"`
	Status    Status       `gorm:"type:text;not null" json:"status"`
	ChangedBy snowflake.ID `gorm:"not null" json:"changed_by"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (OrderStatusLog) TableName() string { return "order_status_logs" }

type CreateDemandOrderRequest struct {
	PickupDate  string `json:"pickup_date"`
	PickupShift Shift  `json:"pickup_shift"`
}

type UpdateDemandOrderRequest struct {
	PickupDate  *string `json:"pickup_date,omitempty"`
	PickupShift *Shift  `json:"pickup_shift,omitempty"`
}

// TransitionRequest moves an order to Status. WeightKG is required when
// Status is picked_up on a demand order and ignored otherwise.
type TransitionRequest struct {
	Status   Status   `json:"status"`
	WeightKG *float64 `json:"weight_kg,omitempty"`
}

type ListOrdersFilter struct {
	Status     Status
	OrderType  OrderType
	PickupDate *time.Time
}

type Service interface {
	CreateDemandOrder(ctx context.Context, customerID snowflake.ID, req CreateDemandOrderRequest) (Order, error)
	UpdateDemandOrder(ctx context.Context, customerID, orderID snowflake.ID, req UpdateDemandOrderRequest) (Order, error)
	DeleteDemandOrder(ctx context.Context, customerID, orderID snowflake.ID) error
	GetOrder(ctx context.Context, orderID snowflake.ID) (Order, error)
	ListCustomerOrders(ctx context.Context, customerID snowflake.ID, filter ListOrdersFilter) ([]Order, error)
	ListStaffOrders(ctx context.Context, staffUserID snowflake.ID, filter ListOrdersFilter) ([]Order, error)

	// Transition applies the lifecycle state machine. actorID lands in the
	// status log. allowed restricts which target statuses the caller may
	// request; nil means any valid transition.
	Transition(ctx context.Context, orderID, actorID snowflake.ID, req TransitionRequest, allowed []Status) (Order, error)

	// CancelScheduled cancels an order only if it is still scheduled,
	// logging the change. Used by skip-day recording and customer deletes.
	CancelScheduled(ctx context.Context, orderID, actorID snowflake.ID) error
}

// StaffStatuses are the only targets delivery staff may request through
// the status endpoint. Intermediate branch states are operator-driven.
var StaffStatuses = []Status{StatusPickedUp, StatusReachedBranch, StatusDelivered}

var (
	ErrOrderNotFound     = errors.New("order_not_found")
	ErrInvalidTransition = errors.New("invalid_status_transition")
	ErrWeightRequired    = errors.New("weight_required")
	ErrOrderNotEditable  = errors.New("order_not_editable")
	ErrInvalidOrder      = errors.New("invalid_order")
	ErrStatusNotAllowed  = errors.New("status_not_allowed")
)
