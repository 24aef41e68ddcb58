package migrations

import (
	"github.com/ksred/recon-api/internal/reconciliation"
	"gorm.io/gorm"
)

func AddMatches(db *gorm.DB) error {
	if err := db.AutoMigrate(&reconciliation.Match{}); err != nil {
		return err
	}

	if err := db.AutoMigrate(&reconciliation.Exception{}); err != nil {
		return err
	}

	return nil
}
