package main

import (
	"log"

	"forgecrm-backend/shared/config"
	"forgecrm-backend/shared/database"
	"forgecrm-backend/shared/security/credentials"
)

func main() {
	log.Println("🌱 Starting database seeding...")

	config.LoadConfig()
	cfg := config.GetConfig()

	if err := database.InitDatabase(); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.CloseDatabase()

	hasher := credentials.NewPasswordHasher(cfg.BcryptCost)
	policy := credentials.PasswordPolicy{
		MinLength:      cfg.PasswordMinLength,
		RequireUpper:   cfg.PasswordRequireUpper,
		RequireLower:   cfg.PasswordRequireLower,
		RequireNumber:  cfg.PasswordRequireNumber,
		RequireSpecial: cfg.PasswordRequireSpecial,
	}

	if err := database.CreateSuperAdminFromConfig(hasher, policy); err != nil {
		log.Fatalf("Failed to create super admin: %v", err)
	}

	log.Println("✅ Database seeding completed successfully!")
}
