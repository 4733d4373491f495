package db

import (
	"log"

	"collab-sync-server/internal/store"
)

// Migrate runs database migrations
func Migrate() {
	err := AppDb.AutoMigrate(
		&store.Document{},
		&store.DocumentCollaborator{},
	)

	if err != nil {
		log.Fatal(err)
	}

	log.Println("Database schema migrated successfully")
}
