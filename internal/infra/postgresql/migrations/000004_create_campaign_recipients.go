package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/itemize-cloud/campaign-engine/internal/repository"
	"gorm.io/gorm"
)

func createCampaignRecipientsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_campaign_recipients",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.CampaignRecipientModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_campaign_recipients_contact ON campaign_recipients (campaign_id, contact_id)`,
				`CREATE INDEX IF NOT EXISTS idx_campaign_recipients_pending ON campaign_recipients (campaign_id, position) WHERE status = 'pending'`,
				`CREATE INDEX IF NOT EXISTS idx_campaign_recipients_status ON campaign_recipients (campaign_id, status)`,
				`ALTER TABLE campaign_recipients DROP CONSTRAINT IF EXISTS fk_campaign_recipients_campaign`,
				`ALTER TABLE campaign_recipients ADD CONSTRAINT fk_campaign_recipients_campaign FOREIGN KEY (campaign_id) REFERENCES campaigns (id) ON DELETE CASCADE`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.CampaignRecipientModel{})
		},
	}
}
