package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/itemize-cloud/campaign-engine/internal/repository"
	"gorm.io/gorm"
)

func createCampaignsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_campaigns",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.CampaignModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_campaigns_org_created ON campaigns (organization_id, created_at DESC)`,
				`CREATE INDEX IF NOT EXISTS idx_campaigns_scheduled_due ON campaigns (scheduled_at) WHERE status = 'scheduled'`,
				`CREATE INDEX IF NOT EXISTS idx_campaigns_sending ON campaigns (status) WHERE status = 'sending'`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.CampaignModel{})
		},
	}
}
