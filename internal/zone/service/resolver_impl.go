package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	zonedomain "github.com/smallbiznis/washline/internal/zone/domain"
	"github.com/smallbiznis/washline/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Resolver struct {
	db        *gorm.DB
	log       *zap.Logger
	staffRepo repository.Repository[zonedomain.DeliveryStaff]
}

type ResolverParam struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

func NewResolver(p ResolverParam) zonedomain.Resolver {
	return &Resolver{
		db:        p.DB,
		log:       p.Log.Named("zone.resolver"),
		staffRepo: repository.ProvideStore[zonedomain.DeliveryStaff](p.DB),
	}
}

// Resolve implements domain.Resolver.
func (r *Resolver) Resolve(ctx context.Context, customerID snowflake.ID) (zonedomain.Resolution, error) {
	var address zonedomain.CustomerAddress
	err := r.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("id DESC").
		First(&address).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return zonedomain.Resolution{}, zonedomain.ErrNotResolvable
		}
		return zonedomain.Resolution{}, err
	}

	zone, branch, err := r.zoneForPincode(ctx, address.Pincode, 0)
	if err != nil {
		return zonedomain.Resolution{}, err
	}
	if zone == nil {
		return zonedomain.Resolution{}, zonedomain.ErrNotResolvable
	}

	staff, err := r.staffForZone(ctx, zone.ID)
	if err != nil {
		return zonedomain.Resolution{}, err
	}

	return zonedomain.Resolution{
		Branch:  *branch,
		Address: address,
		Staff:   staff,
	}, nil
}

// BranchesForPincode implements domain.Resolver.
func (r *Resolver) BranchesForPincode(ctx context.Context, pincode string) ([]zonedomain.Branch, error) {
	pincode = strings.TrimSpace(pincode)
	if pincode == "" {
		return nil, nil
	}

	zones, branches, err := r.activeZones(ctx)
	if err != nil {
		return nil, err
	}

	seen := map[snowflake.ID]bool{}
	result := make([]zonedomain.Branch, 0)
	for _, zone := range zones {
		if !containsPincode(zone.Pincodes, pincode) {
			continue
		}
		branch, ok := branches[zone.BranchID]
		if !ok || seen[branch.ID] {
			continue
		}
		seen[branch.ID] = true
		result = append(result, branch)
	}
	return result, nil
}

// StaffByUserID implements domain.Resolver.
func (r *Resolver) StaffByUserID(ctx context.Context, userID snowflake.ID) (zonedomain.DeliveryStaff, error) {
	staff, err := r.staffRepo.FindOne(ctx, &zonedomain.DeliveryStaff{UserID: userID})
	if err != nil {
		return zonedomain.DeliveryStaff{}, err
	}
	if staff == nil {
		return zonedomain.DeliveryStaff{}, zonedomain.ErrStaffNotFound
	}
	return *staff, nil
}

// SetStaffAvailability implements domain.Resolver.
func (r *Resolver) SetStaffAvailability(ctx context.Context, staffID snowflake.ID, available bool) error {
	result := r.db.WithContext(ctx).
		Model(&zonedomain.DeliveryStaff{}).
		Where("id = ?", staffID).
		Update("is_available", available)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return zonedomain.ErrStaffNotFound
	}
	return nil
}

func (r *Resolver) zoneForPincode(ctx context.Context, pincode string, branchID snowflake.ID) (*zonedomain.ServiceZone, *zonedomain.Branch, error) {
	pincode = strings.TrimSpace(pincode)
	if pincode == "" {
		return nil, nil, nil
	}

	zones, branches, err := r.activeZones(ctx)
	if err != nil {
		return nil, nil, err
	}

	for _, zone := range zones {
		if branchID != 0 && zone.BranchID != branchID {
			continue
		}
		if !containsPincode(zone.Pincodes, pincode) {
			continue
		}
		branch, ok := branches[zone.BranchID]
		if !ok {
			continue
		}
		z := zone
		b := branch
		return &z, &b, nil
	}
	return nil, nil, nil
}

// activeZones loads all zones belonging to active branches. Pincode
// containment is checked in memory so the same code serves every dialect.
func (r *Resolver) activeZones(ctx context.Context) ([]zonedomain.ServiceZone, map[snowflake.ID]zonedomain.Branch, error) {
	var branches []zonedomain.Branch
	if err := r.db.WithContext(ctx).Where("is_active = ?", true).Find(&branches).Error; err != nil {
		return nil, nil, err
	}
	if len(branches) == 0 {
		return nil, nil, nil
	}

	byID := make(map[snowflake.ID]zonedomain.Branch, len(branches))
	ids := make([]snowflake.ID, 0, len(branches))
	for _, b := range branches {
		byID[b.ID] = b
		ids = append(ids, b.ID)
	}

	var zones []zonedomain.ServiceZone
	if err := r.db.WithContext(ctx).Where("branch_id IN ?", ids).Order("id ASC").Find(&zones).Error; err != nil {
		return nil, nil, err
	}
	return zones, byID, nil
}

// staffForZone prefers an available staff member and falls back to any
// approved/active one, lowest ID first for a stable tiebreak.
func (r *Resolver) staffForZone(ctx context.Context, zoneID snowflake.ID) (*zonedomain.DeliveryStaff, error) {
	var staff zonedomain.DeliveryStaff
	err := r.db.WithContext(ctx).
		Where("zone_id = ? AND is_active = ? AND is_approved = ? AND is_available = ?", zoneID, true, true, true).
		Order("id ASC").
		First(&staff).Error
	if err == nil {
		return &staff, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	err = r.db.WithContext(ctx).
		Where("zone_id = ? AND is_active = ? AND is_approved = ?", zoneID, true, true).
		Order("id ASC").
		First(&staff).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &staff, nil
}

func containsPincode(pincodes []string, pincode string) bool {
	for _, p := range pincodes {
		if strings.TrimSpace(p) == pincode {
			return true
		}
	}
	return false
}
