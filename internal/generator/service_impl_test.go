package generator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/smallbiznis/washline/internal/billing/domain"
	"github.com/smallbiznis/washline/internal/clock"
	"github.com/smallbiznis/washline/internal/config"
	"github.com/smallbiznis/washline/internal/dbtest"
	orderdomain "github.com/smallbiznis/washline/internal/order/domain"
	subscriptiondomain "github.com/smallbiznis/washline/internal/subscription/domain"
	zoneservice "github.com/smallbiznis/washline/internal/zone/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type generatorFixture struct {
	db    *gorm.DB
	node  *snowflake.Node
	svc   Service
	clock *clock.FakeClock
	world dbtest.World
	sub   subscriptiondomain.Subscription
}

func newGeneratorFixture(t *testing.T) *generatorFixture {
	t.Helper()

	db := dbtest.Open(t)
	node := dbtest.NewNode(t)
	world := dbtest.SeedWorld(t, db, node)
	fakeClock := clock.NewFakeClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))

	resolver := zoneservice.NewResolver(zoneservice.ResolverParam{DB: db, Log: zap.NewNop()})
	svc := NewService(ServiceParam{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    fakeClock,
		Cfg:      &config.Config{},
		Resolver: resolver,
	})

	start := clock.Day(fakeClock.Now())
	end := start.AddDate(0, 0, subscriptiondomain.CycleDays)
	sub := subscriptiondomain.Subscription{
		ID:          node.Generate(),
		CustomerID:  world.CustomerID,
		PlanID:      node.Generate(),
		PickupShift: orderdomain.ShiftMorning,
		IsActive:    true,
		StartDate:   start,
		EndDate:     &end,
	}
	require.NoError(t, db.Create(&sub).Error)

	return &generatorFixture{db: db, node: node, svc: svc, clock: fakeClock, world: world, sub: sub}
}

func (f *generatorFixture) today() time.Time {
	return clock.Day(f.clock.Now())
}

func (f *generatorFixture) orderCount(t *testing.T) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(&orderdomain.Order{}).
		Where("customer_id = ? AND order_type = ?", f.sub.CustomerID, orderdomain.TypeMonthly).
		Count(&count).Error)
	return count
}

func TestEnsureOrdersForSubscriptionCreatesOnce(t *testing.T) {
	f := newGeneratorFixture(t)
	ctx := context.Background()

	result, err := f.svc.EnsureOrdersForSubscription(ctx, f.sub.ID, f.today())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)

	var order orderdomain.Order
	require.NoError(t, f.db.First(&order, "customer_id = ?", f.sub.CustomerID).Error)
	assert.Equal(t, orderdomain.StatusScheduled, order.Status)
	assert.Equal(t, orderdomain.TypeMonthly, order.OrderType)
	assert.Equal(t, orderdomain.ShiftMorning, order.PickupShift)
	assert.Equal(t, f.world.Branch.ID, order.BranchID)
	assert.Equal(t, f.world.Address.ID, order.AddressID)
	require.NotNil(t, order.StaffID)
	assert.Equal(t, f.world.Staff.ID, *order.StaffID)

	var logCount int64
	require.NoError(t, f.db.Model(&orderdomain.OrderStatusLog{}).
		Where("order_id = ?", order.ID).Count(&logCount).Error)
	assert.EqualValues(t, 1, logCount)

	// Re-running must not create a second order for the same day.
	result, err = f.svc.EnsureOrdersForSubscription(ctx, f.sub.ID, f.today())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Created)
	assert.Equal(t, 1, result.Skipped)
	assert.EqualValues(t, 1, f.orderCount(t))
}

func TestEnsureOrdersDistinctDays(t *testing.T) {
	f := newGeneratorFixture(t)
	ctx := context.Background()

	for day := 0; day < 3; day++ {
		result, err := f.svc.EnsureOrdersForSubscription(ctx, f.sub.ID, f.today())
		require.NoError(t, err)
		assert.Equal(t, 1, result.Created)
		f.clock.Advance(24 * time.Hour)
	}
	assert.EqualValues(t, 3, f.orderCount(t))
}

func TestEnsureOrdersSkipDayBlocksGeneration(t *testing.T) {
	f := newGeneratorFixture(t)
	ctx := context.Background()
	node := f.node

	require.NoError(t, f.db.Create(&subscriptiondomain.SkipDay{
		ID:             node.Generate(),
		SubscriptionID: f.sub.ID,
		SkipDate:       f.today(),
	}).Error)

	result, err := f.svc.EnsureOrdersForSubscription(ctx, f.sub.ID, f.today())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Created)
	assert.Equal(t, 1, result.Skipped)
	assert.EqualValues(t, 0, f.orderCount(t))

	// The skip is permanent for that date, later passes never revisit it.
	result, err = f.svc.EnsureOrdersForSubscription(ctx, f.sub.ID, f.today())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Created)
}

func TestEnsureOrdersSuspendedWhileOverdue(t *testing.T) {
	f := newGeneratorFixture(t)
	ctx := context.Background()
	node := f.node

	subID := f.sub.ID
	overdue := domain.Payment{
		ID:             node.Generate(),
		CustomerID:     f.sub.CustomerID,
		SubscriptionID: &subID,
		PaymentType:    domain.PaymentTypeMonthly,
		PaymentStatus:  domain.PaymentStatusPending,
		Amount:         499,
		DueDate:        f.today().AddDate(0, 0, -2),
	}
	require.NoError(t, f.db.Create(&overdue).Error)

	result, err := f.svc.EnsureOrdersForSubscription(ctx, f.sub.ID, f.today())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Created)
	assert.EqualValues(t, 0, f.orderCount(t))

	// Settling the payment lifts the suspension.
	require.NoError(t, f.db.Model(&domain.Payment{}).
		Where("id = ?", overdue.ID).
		Update("payment_status", domain.PaymentStatusPaid).Error)

	result, err = f.svc.EnsureOrdersForSubscription(ctx, f.sub.ID, f.today())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
}

func TestEnsureOrdersPendingButNotOverdueGenerates(t *testing.T) {
	f := newGeneratorFixture(t)
	ctx := context.Background()
	node := f.node

	subID := f.sub.ID
	require.NoError(t, f.db.Create(&domain.Payment{
		ID:             node.Generate(),
		CustomerID:     f.sub.CustomerID,
		SubscriptionID: &subID,
		PaymentType:    domain.PaymentTypeMonthly,
		PaymentStatus:  domain.PaymentStatusPending,
		Amount:         499,
		DueDate:        f.today().AddDate(0, 0, 3),
	}).Error)

	result, err := f.svc.EnsureOrdersForSubscription(ctx, f.sub.ID, f.today())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
}

func TestEnsureOrdersUnresolvableIsSkipNotError(t *testing.T) {
	f := newGeneratorFixture(t)
	ctx := context.Background()

	// Move the customer outside every zone.
	require.NoError(t, f.db.Model(&f.world.Address).Update("pincode", "999999").Error)

	result, err := f.svc.EnsureOrdersForSubscription(ctx, f.sub.ID, f.today())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Created)
	assert.Equal(t, 1, result.Skipped)
}

func TestEnsureOrdersInactiveAndOutOfWindow(t *testing.T) {
	f := newGeneratorFixture(t)
	ctx := context.Background()

	require.NoError(t, f.db.Model(&subscriptiondomain.Subscription{}).
		Where("id = ?", f.sub.ID).Update("is_active", false).Error)
	result, err := f.svc.EnsureOrdersForSubscription(ctx, f.sub.ID, f.today())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Created)

	require.NoError(t, f.db.Model(&subscriptiondomain.Subscription{}).
		Where("id = ?", f.sub.ID).Update("is_active", true).Error)
	beyondEnd := f.today().AddDate(0, 0, subscriptiondomain.CycleDays+1)
	result, err = f.svc.EnsureOrdersForSubscription(ctx, f.sub.ID, beyondEnd)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Created)
}

func TestEnsureOrdersForAllSweep(t *testing.T) {
	f := newGeneratorFixture(t)
	ctx := context.Background()
	node := f.node

	// A second active subscription in the same zone.
	second := dbtest.SeedWorld(t, f.db, node)
	start := f.today()
	end := start.AddDate(0, 0, subscriptiondomain.CycleDays)
	require.NoError(t, f.db.Create(&subscriptiondomain.Subscription{
		ID:          node.Generate(),
		CustomerID:  second.CustomerID,
		PlanID:      node.Generate(),
		PickupShift: orderdomain.ShiftEvening,
		IsActive:    true,
		StartDate:   start,
		EndDate:     &end,
	}).Error)

	result, err := f.svc.EnsureOrdersForAll(ctx, f.today())
	require.NoError(t, err)
	assert.True(t, result.Locked)
	assert.Equal(t, 2, result.Scanned)
	assert.Equal(t, 2, result.Created)

	// Idempotent: the second sweep creates nothing.
	result, err = f.svc.EnsureOrdersForAll(ctx, f.today())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Created)
	assert.Equal(t, 2, result.Skipped)
}

func TestEnsureOrdersConcurrentSingleWinner(t *testing.T) {
	f := newGeneratorFixture(t)
	ctx := context.Background()
	date := f.today()

	// Race several generators for the same day. Exactly one insert wins;
	// the rest land on the existing-order check or the unique index and
	// report a skip.
	const workers = 4
	results := make([]Result, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.EnsureOrdersForSubscription(ctx, f.sub.ID, date)
		}(i)
	}
	wg.Wait()

	created, skipped := 0, 0
	for i := range results {
		require.NoError(t, errs[i])
		created += results[i].Created
		skipped += results[i].Skipped
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, workers-1, skipped)
	assert.EqualValues(t, 1, f.orderCount(t))
}

func TestResultAdd(t *testing.T) {
	total := Result{Locked: true}
	total.Add(Result{Scanned: 2, Created: 1, Skipped: 1})
	total.Add(Result{Scanned: 3, Skipped: 3})
	assert.Equal(t, Result{Scanned: 5, Created: 1, Skipped: 4, Locked: true}, total)
}
