package database

import (
	"fmt"

	"github.com/ksred/recon-api/internal/database/migrations"
	"github.com/ksred/recon-api/internal/reconciliation"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase initializes and returns a new GORM DB connection
func NewDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := migrations.AddMatches(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Auto-migrate other schemas
	err = db.AutoMigrate(
		&reconciliation.Record{},
		&reconciliation.Rule{},
		&reconciliation.IdempotencyRecord{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}

// SeedDefaultRules inserts the default amount-match rule when no rules
// exist yet, so a fresh deployment can reconcile out of the box.
func SeedDefaultRules(db *gorm.DB) error {
	var count int64
	if err := db.Model(&reconciliation.Rule{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	rule := reconciliation.Rule{
		Name:              "Default amount match",
		RuleType:          reconciliation.RuleAmountMatch,
		AmountTolerance:   1.00,
		DateToleranceDays: 3,
		IsActive:          true,
		Priority:          1,
	}
	return db.Create(&rule).Error
}
