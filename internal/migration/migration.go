// Package migration creates the schema on startup so the service is
// usable out of the box for local and self-hosted environments.
package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	billingdomain "github.com/smallbiznis/washline/internal/billing/domain"
	orderdomain "github.com/smallbiznis/washline/internal/order/domain"
	plandomain "github.com/smallbiznis/washline/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/washline/internal/subscription/domain"
	zonedomain "github.com/smallbiznis/washline/internal/zone/domain"
	"gorm.io/gorm"
)

// RunMigrations applies the embedded postgres migrations.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// AutoMigrate builds the schema through gorm for dialects the SQL
// migrations do not target. The two partial unique indexes backing the
// generation and billing invariants are created explicitly; gorm cannot
// express them.
func AutoMigrate(conn *gorm.DB) error {
	err := conn.AutoMigrate(
		&plandomain.Plan{},
		&zonedomain.City{},
		&zonedomain.Branch{},
		&zonedomain.ServiceZone{},
		&zonedomain.DeliveryStaff{},
		&zonedomain.CustomerAddress{},
		&subscriptiondomain.Subscription{},
		&subscriptiondomain.SkipDay{},
		&orderdomain.Order{},
		&orderdomain.OrderWeight{},
		&orderdomain.OrderStatusLog{},
		&billingdomain.Payment{},
		&billingdomain.PaymentFine{},
	)
	if err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	statements := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS uniq_orders_monthly_customer_date
		 ON orders (customer_id, pickup_date) WHERE order_type = 'monthly'`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uniq_payments_pending_monthly
		 ON payments (subscription_id) WHERE payment_type = 'monthly' AND payment_status = 'pending'`,
	}
	for _, stmt := range statements {
		if err := conn.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}
