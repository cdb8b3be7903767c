// Package domain contains the branch/zone directory and the resolver contract.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type City struct {
	ID    snowflake.ID `gorm:"primaryKey" json:"id"`
	Name  string       `gorm:"type:text;not null;uniqueIndex" json:"name"`
	State string       `gorm:"type:text;not null" json:"state"`
}

// TableName sets the database table name.
func (City) TableName() string { return "cities" }

type Branch struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	CityID    snowflake.ID `gorm:"not null;index" json:"city_id"`
	Name      string       `gorm:"type:text;not null" json:"name"`
	Address   string       `gorm:"type:text" json:"address"`
	Latitude  float64      `gorm:"" json:"latitude"`
	Longitude float64      `gorm:"" json:"longitude"`
	IsActive  bool         `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Branch) TableName() string { return "branches" }

// ServiceZone is a branch-scoped set of postal codes defining serviceable addresses.
type ServiceZone struct {
	ID       snowflake.ID                `gorm:"primaryKey" json:"id"`
	BranchID snowflake.ID                `gorm:"not null;index" json:"branch_id"`
	Name     string                      `gorm:"type:text;not null" json:"name"`
	Pincodes datatypes.JSONSlice[string] `gorm:"type:jsonb" json:"pincodes"`
}

// TableName sets the database table name.
func (ServiceZone) TableName() string { return "service_zones" }

// DeliveryStaff binds an externally-authenticated user to a branch and zone.
type DeliveryStaff struct {
	ID          snowflake.ID  `gorm:"primaryKey" json:"id"`
	UserID      snowflake.ID  `gorm:"not null;uniqueIndex" json:"user_id"`
	BranchID    snowflake.ID  `gorm:"not null;index" json:"branch_id"`
	ZoneID      *snowflake.ID `gorm:"index" json:"zone_id,omitempty"`
	IsAvailable bool          `gorm:"not null;default:true" json:"is_available"`
	IsApproved  bool          `gorm:"not null;default:false" json:"is_approved"`
	IsActive    bool          `gorm:"not null;default:true" json:"is_active"`
}

// TableName sets the database table name.
func (DeliveryStaff) TableName() string { return "delivery_staff" }

type CustomerAddress struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	CustomerID  snowflake.ID `gorm:"not null;index" json:"customer_id"`
	Label       string       `gorm:"type:text" json:"label"`
	FullAddress string       `gorm:"type:text;not null" json:"full_address"`
	Pincode     string       `gorm:"type:text;not null" json:"pincode"`
	Latitude    float64      `gorm:"" json:"latitude"`
	Longitude   float64      `gorm:"" json:"longitude"`
	IsDefault   bool         `gorm:"not null;default:false" json:"is_default"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (CustomerAddress) TableName() string { return "customer_addresses" }

// Resolution is the outcome of mapping a customer to a serving branch.
// Staff may be nil; orders can be created unassigned and assigned later.
type Resolution struct {
	Branch  Branch
	Address CustomerAddress
	Staff   *DeliveryStaff
}

type Resolver interface {
	// Resolve maps a customer's most recent address to a branch, zone and
	// staff member. Returns ErrNotResolvable when no address, zone or
	// active branch matches; batch callers treat that as a skip.
	Resolve(ctx context.Context, customerID snowflake.ID) (Resolution, error)
	BranchesForPincode(ctx context.Context, pincode string) ([]Branch, error)
	StaffByUserID(ctx context.Context, userID snowflake.ID) (DeliveryStaff, error)
	SetStaffAvailability(ctx context.Context, staffID snowflake.ID, available bool) error
}

var (
	ErrNotResolvable = errors.New("zone_not_resolvable")
	ErrStaffNotFound = errors.New("delivery_staff_not_found")
)
