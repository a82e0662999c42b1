package models

import (
	"log"

	"bitbucket.org/kivumarket/fishstock_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&User{},
		&ProductStock{},
		&Sale{},
		&StockMovement{},
		&AuditRecord{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
