package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/webhook-dispatcher/internal/repository"
	"gorm.io/gorm"
)

func createDeliveryRecordsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_delivery_records",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.DeliveryRecordModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_delivery_records_due ON delivery_records (state, next_retry_at)`,
				`CREATE INDEX IF NOT EXISTS idx_delivery_records_dispatch_id ON delivery_records (dispatch_id)`,
				`CREATE INDEX IF NOT EXISTS idx_delivery_records_tenant_created ON delivery_records (tenant_id, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_delivery_records_stalled ON delivery_records (updated_at) WHERE state = 'pending'`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.DeliveryRecordModel{})
		},
	}
}
