// Package dbtest provides the shared in-memory database fixture used by
// service tests.
package dbtest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/washline/internal/migration"
	zonedomain "github.com/smallbiznis/washline/internal/zone/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Open returns an isolated in-memory sqlite database with the full
// schema applied. Row locking clauses are stripped; sqlite's single
// writer makes them redundant.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	stripLocking := func(d *gorm.DB) {
		if _, ok := d.Statement.Clauses["FOR UPDATE"]; ok {
			delete(d.Statement.Clauses, "FOR UPDATE")
		}
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			newSQL := strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
			newSQL = strings.ReplaceAll(newSQL, "FOR UPDATE", "")
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(newSQL)
		}
	}
	if err := db.Callback().Query().Before("gorm:query").Register("sqlite_strip_locking", stripLocking); err != nil {
		t.Fatalf("register query callback: %v", err)
	}
	if err := db.Callback().Row().Before("gorm:row").Register("sqlite_strip_locking_row", stripLocking); err != nil {
		t.Fatalf("register row callback: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := migration.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// NewNode returns a snowflake node for generating test IDs.
func NewNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

// World is the minimal serviceable geography: one city, one active
// branch, one zone covering Pincode, one approved staff member and one
// customer address inside the zone.
type World struct {
	CustomerID snowflake.ID
	City       zonedomain.City
	Branch     zonedomain.Branch
	Zone       zonedomain.ServiceZone
	Staff      zonedomain.DeliveryStaff
	Address    zonedomain.CustomerAddress
}

const Pincode = "400001"

// SeedWorld inserts the serviceable geography and returns it.
func SeedWorld(t *testing.T, db *gorm.DB, node *snowflake.Node) World {
	t.Helper()

	w := World{CustomerID: node.Generate()}

	cityID := node.Generate()
	w.City = zonedomain.City{ID: cityID, Name: fmt.Sprintf("Mumbai-%d", cityID), State: "MH"}
	if err := db.Create(&w.City).Error; err != nil {
		t.Fatalf("seed city: %v", err)
	}

	w.Branch = zonedomain.Branch{
		ID:       node.Generate(),
		CityID:   w.City.ID,
		Name:     "Andheri",
		IsActive: true,
	}
	if err := db.Create(&w.Branch).Error; err != nil {
		t.Fatalf("seed branch: %v", err)
	}

	w.Zone = zonedomain.ServiceZone{
		ID:       node.Generate(),
		BranchID: w.Branch.ID,
		Name:     "Andheri East",
		Pincodes: datatypes.JSONSlice[string]{Pincode, "400002"},
	}
	if err := db.Create(&w.Zone).Error; err != nil {
		t.Fatalf("seed zone: %v", err)
	}

	zoneID := w.Zone.ID
	w.Staff = zonedomain.DeliveryStaff{
		ID:          node.Generate(),
		UserID:      node.Generate(),
		BranchID:    w.Branch.ID,
		ZoneID:      &zoneID,
		IsAvailable: true,
		IsApproved:  true,
		IsActive:    true,
	}
	if err := db.Create(&w.Staff).Error; err != nil {
		t.Fatalf("seed staff: %v", err)
	}

	w.Address = zonedomain.CustomerAddress{
		ID:          node.Generate(),
		CustomerID:  w.CustomerID,
		Label:       "home",
		FullAddress: "14 Marol Lane",
		Pincode:     Pincode,
		IsDefault:   true,
	}
	if err := db.Create(&w.Address).Error; err != nil {
		t.Fatalf("seed address: %v", err)
	}

	return w
}
