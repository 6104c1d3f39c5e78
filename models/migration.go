package models

import (
	"log"

	"github.com/mmdatafocus/closing_backend/config"
	"gorm.io/gorm"
)

func MigrateTable() {
	if err := MigrateTableWithDB(config.GetDB()); err != nil {
		log.Fatal(err)
	}
}

// MigrateTableWithDB migrates the tables this service owns. The sales view is owned by the
// point-of-sale subsystem and is never migrated here.
func MigrateTableWithDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&DailyClosing{},
		&NetworkTransaction{},
		&Divergence{},
		&ClosingHistory{},
	)
}
