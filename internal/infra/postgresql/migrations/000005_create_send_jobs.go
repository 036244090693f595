package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/itemize-cloud/campaign-engine/internal/repository"
	"gorm.io/gorm"
)

func createSendJobsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000005_create_send_jobs",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.SendJobModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_send_jobs_running ON send_jobs (campaign_id) WHERE status = 'running'`,
				`ALTER TABLE send_jobs DROP CONSTRAINT IF EXISTS fk_send_jobs_campaign`,
				`ALTER TABLE send_jobs ADD CONSTRAINT fk_send_jobs_campaign FOREIGN KEY (campaign_id) REFERENCES campaigns (id) ON DELETE CASCADE`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.SendJobModel{})
		},
	}
}
