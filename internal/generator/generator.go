// Package generator creates the daily monthly pickup orders for active
// subscriptions. Generation is idempotent per (customer, date); the
// database's partial unique index is the final arbiter under races.
package generator

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Skip reasons reported through metrics.
const (
	SkipReasonExisting     = "existing_order"
	SkipReasonSkipDay      = "skip_day"
	SkipReasonSuspended    = "payment_overdue"
	SkipReasonUnresolvable = "zone_unresolvable"
	SkipReasonDuplicate    = "duplicate_key"
)

// Result summarizes one generation pass. Locked is false when the batch
// lock was held elsewhere and the sweep was deferred untouched.
type Result struct {
	Scanned int  `json:"scanned"`
	Created int  `json:"created"`
	Skipped int  `json:"skipped"`
	Locked  bool `json:"locked"`
}

// Add folds another pass into the receiver. Locked is left alone; it
// describes a single sweep, not an aggregate.
func (r *Result) Add(other Result) {
	r.Scanned += other.Scanned
	r.Created += other.Created
	r.Skipped += other.Skipped
}

type Service interface {
	// EnsureOrdersForSubscription generates the order for one subscription
	// and date. Safe to call repeatedly; at most one order ever results.
	EnsureOrdersForSubscription(ctx context.Context, subscriptionID snowflake.ID, date time.Time) (Result, error)

	// EnsureOrdersForAll sweeps every active subscription for the date.
	// Individual failures are joined and reported, never abort the sweep.
	EnsureOrdersForAll(ctx context.Context, date time.Time) (Result, error)
}
