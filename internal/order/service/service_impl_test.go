package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/smallbiznis/washline/internal/billing/domain"
	"github.com/smallbiznis/washline/internal/clock"
	"github.com/smallbiznis/washline/internal/config"
	"github.com/smallbiznis/washline/internal/dbtest"
	domain "github.com/smallbiznis/washline/internal/order/domain"
	zoneservice "github.com/smallbiznis/washline/internal/zone/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type orderFixture struct {
	db    *gorm.DB
	node  *snowflake.Node
	clock *clock.FakeClock
	svc   domain.Service
	world dbtest.World
}

func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()

	db := dbtest.Open(t)
	node := dbtest.NewNode(t)
	world := dbtest.SeedWorld(t, db, node)
	fakeClock := clock.NewFakeClock(time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC))

	svc := NewService(ServiceParam{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    fakeClock,
		Pricing:  config.NewStaticPricingHolder(config.DefaultPricingConfig()),
		Resolver: zoneservice.NewResolver(zoneservice.ResolverParam{DB: db, Log: zap.NewNop()}),
	})

	return &orderFixture{db: db, node: node, clock: fakeClock, svc: svc, world: world}
}

func (f *orderFixture) today() time.Time {
	return clock.Day(f.clock.Now())
}

func (f *orderFixture) createDemand(t *testing.T) domain.Order {
	t.Helper()
	order, err := f.svc.CreateDemandOrder(context.Background(), f.world.CustomerID, domain.CreateDemandOrderRequest{
		PickupDate:  f.today().Format(time.DateOnly),
		PickupShift: domain.ShiftEvening,
	})
	require.NoError(t, err)
	return order
}

func (f *orderFixture) pendingPayment(t *testing.T, orderID snowflake.ID) billingdomain.Payment {
	t.Helper()
	var payment billingdomain.Payment
	require.NoError(t, f.db.First(&payment, "order_id = ? AND payment_status = ?",
		orderID, billingdomain.PaymentStatusPending).Error)
	return payment
}

func TestCreateDemandOrder(t *testing.T) {
	f := newOrderFixture(t)

	order := f.createDemand(t)
	assert.Equal(t, domain.TypeDemand, order.OrderType)
	assert.Equal(t, domain.StatusScheduled, order.Status)
	assert.Equal(t, f.world.Branch.ID, order.BranchID)
	require.NotNil(t, order.StaffID)
	assert.Equal(t, f.world.Staff.ID, *order.StaffID)

	// Placeholder payment with the parked due date; priced at weigh-in.
	payment := f.pendingPayment(t, order.ID)
	assert.InDelta(t, 0, payment.Amount, 0.001)
	days := config.DefaultPricingConfig().PlaceholderDueDays
	assert.Equal(t, f.today().AddDate(0, 0, days), clock.Day(payment.DueDate))

	var logs int64
	require.NoError(t, f.db.Model(&domain.OrderStatusLog{}).
		Where("order_id = ?", order.ID).Count(&logs).Error)
	assert.EqualValues(t, 1, logs)
}

func TestCreateDemandOrderRejectsBadInput(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateDemandOrder(ctx, f.world.CustomerID, domain.CreateDemandOrderRequest{
		PickupDate:  f.today().AddDate(0, 0, -1).Format(time.DateOnly),
		PickupShift: domain.ShiftMorning,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	_, err = f.svc.CreateDemandOrder(ctx, f.world.CustomerID, domain.CreateDemandOrderRequest{
		PickupDate:  f.today().Format(time.DateOnly),
		PickupShift: "noon",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestPickupRequiresWeight(t *testing.T) {
	f := newOrderFixture(t)
	order := f.createDemand(t)

	_, err := f.svc.Transition(context.Background(), order.ID, f.world.Staff.UserID,
		domain.TransitionRequest{Status: domain.StatusPickedUp}, nil)
	assert.ErrorIs(t, err, domain.ErrWeightRequired)
}

func TestPickupPricesByWeight(t *testing.T) {
	f := newOrderFixture(t)
	order := f.createDemand(t)

	weight := 4.0
	_, err := f.svc.Transition(context.Background(), order.ID, f.world.Staff.UserID,
		domain.TransitionRequest{Status: domain.StatusPickedUp, WeightKG: &weight}, nil)
	require.NoError(t, err)

	payment := f.pendingPayment(t, order.ID)
	assert.InDelta(t, 200, payment.Amount, 0.001)
}

func TestPickupAppliesMinimumCharge(t *testing.T) {
	f := newOrderFixture(t)
	order := f.createDemand(t)

	// 1.5 kg at 50/kg is below the 100 floor.
	weight := 1.5
	_, err := f.svc.Transition(context.Background(), order.ID, f.world.Staff.UserID,
		domain.TransitionRequest{Status: domain.StatusPickedUp, WeightKG: &weight}, nil)
	require.NoError(t, err)

	payment := f.pendingPayment(t, order.ID)
	assert.InDelta(t, 100, payment.Amount, 0.001)
}

func TestFullLifecycleStartsDueWindowAtDelivery(t *testing.T) {
	f := newOrderFixture(t)
	order := f.createDemand(t)
	ctx := context.Background()
	actor := f.world.Staff.UserID

	weight := 3.0
	_, err := f.svc.Transition(ctx, order.ID, actor,
		domain.TransitionRequest{Status: domain.StatusPickedUp, WeightKG: &weight}, nil)
	require.NoError(t, err)

	for _, status := range []domain.Status{
		domain.StatusReachedBranch,
		domain.StatusWashing,
		domain.StatusReadyForDelivery,
	} {
		_, err = f.svc.Transition(ctx, order.ID, actor, domain.TransitionRequest{Status: status}, nil)
		require.NoError(t, err)
	}

	f.clock.Advance(48 * time.Hour)
	got, err := f.svc.Transition(ctx, order.ID, actor,
		domain.TransitionRequest{Status: domain.StatusDelivered}, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, got.Status)

	payment := f.pendingPayment(t, order.ID)
	grace := config.DefaultPricingConfig().DemandDueGraceDays
	assert.Equal(t, f.today().AddDate(0, 0, grace), clock.Day(payment.DueDate))

	var logs int64
	require.NoError(t, f.db.Model(&domain.OrderStatusLog{}).
		Where("order_id = ?", order.ID).Count(&logs).Error)
	assert.EqualValues(t, 6, logs)
}

func TestTransitionRejectsSkippedStep(t *testing.T) {
	f := newOrderFixture(t)
	order := f.createDemand(t)

	_, err := f.svc.Transition(context.Background(), order.ID, f.world.Staff.UserID,
		domain.TransitionRequest{Status: domain.StatusWashing}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestTransitionHonorsAllowedStatuses(t *testing.T) {
	f := newOrderFixture(t)
	order := f.createDemand(t)
	ctx := context.Background()
	actor := f.world.Staff.UserID

	weight := 2.0
	_, err := f.svc.Transition(ctx, order.ID, actor,
		domain.TransitionRequest{Status: domain.StatusPickedUp, WeightKG: &weight}, domain.StaffStatuses)
	require.NoError(t, err)

	_, err = f.svc.Transition(ctx, order.ID, actor,
		domain.TransitionRequest{Status: domain.StatusReachedBranch}, domain.StaffStatuses)
	require.NoError(t, err)

	// Washing is a branch-side state, off limits for the pickup staff.
	_, err = f.svc.Transition(ctx, order.ID, actor,
		domain.TransitionRequest{Status: domain.StatusWashing}, domain.StaffStatuses)
	assert.ErrorIs(t, err, domain.ErrStatusNotAllowed)
}

func TestCancelOnlyWhileScheduled(t *testing.T) {
	f := newOrderFixture(t)
	order := f.createDemand(t)
	ctx := context.Background()
	actor := f.world.Staff.UserID

	weight := 2.0
	_, err := f.svc.Transition(ctx, order.ID, actor,
		domain.TransitionRequest{Status: domain.StatusPickedUp, WeightKG: &weight}, nil)
	require.NoError(t, err)

	err = f.svc.CancelScheduled(ctx, order.ID, f.world.CustomerID)
	assert.ErrorIs(t, err, domain.ErrOrderNotEditable)

	second := f.createDemand(t)
	require.NoError(t, f.svc.CancelScheduled(ctx, second.ID, f.world.CustomerID))

	got, err := f.svc.GetOrder(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)
}

func TestUpdateAndDeleteOnlyWhileScheduled(t *testing.T) {
	f := newOrderFixture(t)
	order := f.createDemand(t)
	ctx := context.Background()

	newDate := f.today().AddDate(0, 0, 2).Format(time.DateOnly)
	newShift := domain.ShiftMorning
	updated, err := f.svc.UpdateDemandOrder(ctx, f.world.CustomerID, order.ID, domain.UpdateDemandOrderRequest{
		PickupDate:  &newDate,
		PickupShift: &newShift,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ShiftMorning, updated.PickupShift)
	assert.Equal(t, f.today().AddDate(0, 0, 2), clock.Day(updated.PickupDate))

	weight := 2.0
	_, err = f.svc.Transition(ctx, order.ID, f.world.Staff.UserID,
		domain.TransitionRequest{Status: domain.StatusPickedUp, WeightKG: &weight}, nil)
	require.NoError(t, err)

	_, err = f.svc.UpdateDemandOrder(ctx, f.world.CustomerID, order.ID, domain.UpdateDemandOrderRequest{PickupShift: &newShift})
	assert.ErrorIs(t, err, domain.ErrOrderNotEditable)

	err = f.svc.DeleteDemandOrder(ctx, f.world.CustomerID, order.ID)
	assert.ErrorIs(t, err, domain.ErrOrderNotEditable)
}

func TestDeleteRemovesPlaceholderPayment(t *testing.T) {
	f := newOrderFixture(t)
	order := f.createDemand(t)
	ctx := context.Background()

	require.NoError(t, f.svc.DeleteDemandOrder(ctx, f.world.CustomerID, order.ID))

	_, err := f.svc.GetOrder(ctx, order.ID)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	var payments int64
	require.NoError(t, f.db.Model(&billingdomain.Payment{}).
		Where("order_id = ?", order.ID).Count(&payments).Error)
	assert.EqualValues(t, 0, payments)
}

func TestListOrdersFilters(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	first := f.createDemand(t)
	_, err := f.svc.CreateDemandOrder(ctx, f.world.CustomerID, domain.CreateDemandOrderRequest{
		PickupDate:  f.today().AddDate(0, 0, 1).Format(time.DateOnly),
		PickupShift: domain.ShiftMorning,
	})
	require.NoError(t, err)

	orders, err := f.svc.ListCustomerOrders(ctx, f.world.CustomerID, domain.ListOrdersFilter{})
	require.NoError(t, err)
	assert.Len(t, orders, 2)

	day := f.today()
	orders, err = f.svc.ListCustomerOrders(ctx, f.world.CustomerID, domain.ListOrdersFilter{PickupDate: &day})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, first.ID, orders[0].ID)

	staffOrders, err := f.svc.ListStaffOrders(ctx, f.world.Staff.UserID, domain.ListOrdersFilter{})
	require.NoError(t, err)
	assert.Len(t, staffOrders, 2)
}
