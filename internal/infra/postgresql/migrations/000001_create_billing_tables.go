package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/itemize-cloud/campaign-engine/internal/repository"
	"gorm.io/gorm"
)

func createBillingTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_billing_tables",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.SubscriptionModel{}, &repository.UsageCounterModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.UsageCounterModel{}, &repository.SubscriptionModel{})
		},
	}
}
