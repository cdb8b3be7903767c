package service

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/washline/internal/dbtest"
	domain "github.com/smallbiznis/washline/internal/zone/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type resolverFixture struct {
	db       *gorm.DB
	node     *snowflake.Node
	resolver domain.Resolver
	world    dbtest.World
}

func newResolverFixture(t *testing.T) *resolverFixture {
	t.Helper()

	db := dbtest.Open(t)
	node := dbtest.NewNode(t)
	world := dbtest.SeedWorld(t, db, node)
	resolver := NewResolver(ResolverParam{DB: db, Log: zap.NewNop()})

	return &resolverFixture{db: db, node: node, resolver: resolver, world: world}
}

func TestResolve(t *testing.T) {
	f := newResolverFixture(t)

	res, err := f.resolver.Resolve(context.Background(), f.world.CustomerID)
	require.NoError(t, err)
	assert.Equal(t, f.world.Branch.ID, res.Branch.ID)
	assert.Equal(t, f.world.Address.ID, res.Address.ID)
	require.NotNil(t, res.Staff)
	assert.Equal(t, f.world.Staff.ID, res.Staff.ID)
}

func TestResolveUsesLatestAddress(t *testing.T) {
	f := newResolverFixture(t)

	// A later address outside every zone overrides the serviceable one.
	moved := domain.CustomerAddress{
		ID:          f.node.Generate(),
		CustomerID:  f.world.CustomerID,
		Label:       "office",
		FullAddress: "2 Fort Road",
		Pincode:     "560001",
	}
	require.NoError(t, f.db.Create(&moved).Error)

	_, err := f.resolver.Resolve(context.Background(), f.world.CustomerID)
	assert.ErrorIs(t, err, domain.ErrNotResolvable)
}

func TestResolveNoAddress(t *testing.T) {
	f := newResolverFixture(t)

	_, err := f.resolver.Resolve(context.Background(), f.node.Generate())
	assert.ErrorIs(t, err, domain.ErrNotResolvable)
}

func TestResolveIgnoresInactiveBranch(t *testing.T) {
	f := newResolverFixture(t)

	require.NoError(t, f.db.Model(&domain.Branch{}).
		Where("id = ?", f.world.Branch.ID).Update("is_active", false).Error)

	_, err := f.resolver.Resolve(context.Background(), f.world.CustomerID)
	assert.ErrorIs(t, err, domain.ErrNotResolvable)
}

func TestResolvePrefersAvailableStaff(t *testing.T) {
	f := newResolverFixture(t)

	require.NoError(t, f.db.Model(&domain.DeliveryStaff{}).
		Where("id = ?", f.world.Staff.ID).Update("is_available", false).Error)

	zoneID := f.world.Zone.ID
	second := domain.DeliveryStaff{
		ID:          f.node.Generate(),
		UserID:      f.node.Generate(),
		BranchID:    f.world.Branch.ID,
		ZoneID:      &zoneID,
		IsAvailable: true,
		IsApproved:  true,
		IsActive:    true,
	}
	require.NoError(t, f.db.Create(&second).Error)

	res, err := f.resolver.Resolve(context.Background(), f.world.CustomerID)
	require.NoError(t, err)
	require.NotNil(t, res.Staff)
	assert.Equal(t, second.ID, res.Staff.ID)
}

func TestResolveFallsBackToUnavailableStaff(t *testing.T) {
	f := newResolverFixture(t)

	require.NoError(t, f.db.Model(&domain.DeliveryStaff{}).
		Where("id = ?", f.world.Staff.ID).Update("is_available", false).Error)

	res, err := f.resolver.Resolve(context.Background(), f.world.CustomerID)
	require.NoError(t, err)
	require.NotNil(t, res.Staff)
	assert.Equal(t, f.world.Staff.ID, res.Staff.ID)
}

func TestResolveWithoutStaffStillResolves(t *testing.T) {
	f := newResolverFixture(t)

	require.NoError(t, f.db.Model(&domain.DeliveryStaff{}).
		Where("id = ?", f.world.Staff.ID).Update("is_approved", false).Error)

	res, err := f.resolver.Resolve(context.Background(), f.world.CustomerID)
	require.NoError(t, err)
	assert.Nil(t, res.Staff)
}

func TestBranchesForPincode(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()

	branches, err := f.resolver.BranchesForPincode(ctx, dbtest.Pincode)
	require.NoError(t, err)
	require.Len(t, branches, 1)
	assert.Equal(t, f.world.Branch.ID, branches[0].ID)

	branches, err = f.resolver.BranchesForPincode(ctx, "999999")
	require.NoError(t, err)
	assert.Empty(t, branches)

	branches, err = f.resolver.BranchesForPincode(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, branches)
}

func TestStaffByUserID(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()

	staff, err := f.resolver.StaffByUserID(ctx, f.world.Staff.UserID)
	require.NoError(t, err)
	assert.Equal(t, f.world.Staff.ID, staff.ID)

	_, err = f.resolver.StaffByUserID(ctx, f.node.Generate())
	assert.ErrorIs(t, err, domain.ErrStaffNotFound)
}

func TestSetStaffAvailability(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()

	require.NoError(t, f.resolver.SetStaffAvailability(ctx, f.world.Staff.ID, false))

	var staff domain.DeliveryStaff
	require.NoError(t, f.db.First(&staff, "id = ?", f.world.Staff.ID).Error)
	assert.False(t, staff.IsAvailable)

	err := f.resolver.SetStaffAvailability(ctx, f.node.Generate(), true)
	assert.ErrorIs(t, err, domain.ErrStaffNotFound)
}
