package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/webhook-dispatcher/internal/repository"
	"gorm.io/gorm"
)

func createDestinationsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_destinations",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.DestinationModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_destinations_resolve ON destinations (tenant_id, event, active)`,
				`CREATE INDEX IF NOT EXISTS idx_destinations_branch ON destinations (branch_id) WHERE branch_id IS NOT NULL`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.DestinationModel{})
		},
	}
}
