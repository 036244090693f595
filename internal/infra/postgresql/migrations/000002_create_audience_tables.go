package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/itemize-cloud/campaign-engine/internal/repository"
	"gorm.io/gorm"
)

func createAudienceTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_audience_tables",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(
				&repository.ContactModel{},
				&repository.TagModel{},
				&repository.ContactTagModel{},
				&repository.EmailTemplateModel{},
			); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_contacts_org_created ON contacts (organization_id, created_at, id)`,
				`ALTER TABLE contact_tags DROP CONSTRAINT IF EXISTS fk_contact_tags_contact`,
				`ALTER TABLE contact_tags ADD CONSTRAINT fk_contact_tags_contact FOREIGN KEY (contact_id) REFERENCES contacts (id) ON DELETE CASCADE`,
				`ALTER TABLE contact_tags DROP CONSTRAINT IF EXISTS fk_contact_tags_tag`,
				`ALTER TABLE contact_tags ADD CONSTRAINT fk_contact_tags_tag FOREIGN KEY (tag_id) REFERENCES tags (id) ON DELETE CASCADE`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(
				&repository.ContactTagModel{},
				&repository.EmailTemplateModel{},
				&repository.TagModel{},
				&repository.ContactModel{},
			)
		},
	}
}
