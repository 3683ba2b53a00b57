package main

import (
	"log"

	"forgecrm-backend/shared/config"
	"forgecrm-backend/shared/database"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	log.Println("🗑️ Starting database reset...")

	config.LoadConfig()
	cfg := config.GetConfig()

	if cfg.IsProduction() {
		log.Fatal("❌ Refusing to reset the database with APP_ENV=production")
	}

	db, err := gorm.Open(postgres.Open(database.DSN(cfg)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Fatal("❌ Database connection failed:", err)
	}

	log.Println("🗑️ Dropping auth service tables...")
	if err := database.DropOwnedTables(db); err != nil {
		log.Fatalf("❌ Database reset failed: %v", err)
	}

	log.Println("✅ Database reset completed - all tables dropped!")
	log.Println("💡 Run 'go run ./cmd/seed' to recreate tables and the admin user")
}
