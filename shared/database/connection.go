package database

import (
	"fmt"
	"log"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"forgecrm-backend/shared/config"
	"forgecrm-backend/shared/database/models"
	"forgecrm-backend/shared/database/models/audit"
	"forgecrm-backend/shared/database/models/auth"
)

var DB *gorm.DB

// ownedModels lists the tables this service migrates, parents first.
var ownedModels = []interface{}{
	&models.Organization{},
	&models.User{},
	&auth.PasswordHistory{},
	&audit.AuditLog{},
}

// getLogLevel returns appropriate log level based on environment
func getLogLevel(cfg *config.Config) logger.LogLevel {
	if cfg.IsProduction() {
		return logger.Error
	}
	return logger.Warn
}

// DSN builds the postgres connection string.
func DSN(cfg *config.Config) string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		cfg.DBHost,
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBName,
		cfg.DBPort,
		cfg.DBSSLMode,
	)
}

// InitDatabase initializes the database connection and runs migrations
func InitDatabase() error {
	cfg := config.GetConfig()

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(getLogLevel(cfg)),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var err error
	DB, err = gorm.Open(postgres.Open(DSN(cfg)), gormConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("✅ Database connection established successfully")

	if err := runMigrations(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	return nil
}

// runMigrations creates or updates the tables this service owns
func runMigrations() error {
	log.Println("🔄 Checking database schema...")

	migrator := DB.Migrator()
	migratedCount := 0
	for _, model := range ownedModels {
		if !migrator.HasTable(model) {
			log.Printf("📦 Creating table: %T", model)
			migratedCount++
		}

		if err := DB.AutoMigrate(model); err != nil {
			return fmt.Errorf("failed to migrate %T: %w", model, err)
		}
	}

	if migratedCount > 0 {
		log.Printf("✅ Database migrations completed (%d tables created)", migratedCount)
	} else {
		log.Println("✅ Database schema is up to date")
	}

	return nil
}

// DropOwnedTables removes every table created by runMigrations, children
// first.
func DropOwnedTables(db *gorm.DB) error {
	migrator := db.Migrator()
	for i := len(ownedModels) - 1; i >= 0; i-- {
		model := ownedModels[i]
		log.Printf("   Dropping table: %T", model)
		if err := migrator.DropTable(model); err != nil {
			return fmt.Errorf("failed to drop %T: %w", model, err)
		}
	}
	return nil
}

// GetDB returns the database instance
func GetDB() *gorm.DB {
	return DB
}

// CloseDatabase closes the database connection
func CloseDatabase() error {
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}
