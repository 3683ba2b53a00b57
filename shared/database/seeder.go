package database

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"gorm.io/gorm"

	"forgecrm-backend/shared/config"
	"forgecrm-backend/shared/database/models"
	"forgecrm-backend/shared/security/credentials"
)

const bootstrapOrganizationSlug = "forgecrm-admin"

// CreateSuperAdminFromConfig creates the bootstrap admin from SUPER_ADMIN_*.
func CreateSuperAdminFromConfig(hasher *credentials.PasswordHasher, policy credentials.PasswordPolicy) error {
	cfg := config.GetConfig()
	return CreateSuperAdmin(DB, hasher, policy, cfg.SuperAdminEmail, cfg.SuperAdminPassword, "Super", "Admin")
}

// CreateSuperAdmin creates the bootstrap organization and its admin user.
// It does nothing when the email is already registered.
func CreateSuperAdmin(db *gorm.DB, hasher *credentials.PasswordHasher, policy credentials.PasswordPolicy, email, password, firstName, lastName string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	var existingUser models.User
	err := db.Where("LOWER(email) = ?", email).First(&existingUser).Error
	if err == nil {
		log.Println("Super admin already exists")
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	if err := policy.Validate(password); err != nil {
		return fmt.Errorf("SUPER_ADMIN_PASSWORD rejected: %w", err)
	}

	hashedPassword, err := hasher.Hash(password)
	if err != nil {
		return err
	}

	return db.Transaction(func(tx *gorm.DB) error {
		var org models.Organization
		err := tx.Where("slug = ?", bootstrapOrganizationSlug).First(&org).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			org = models.Organization{
				Name:   "ForgeCRM Administration",
				Slug:   bootstrapOrganizationSlug,
				Status: "ACTIVE",
			}
			if err := tx.Create(&org).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		admin := models.User{
			Email:          email,
			Password:       hashedPassword,
			FirstName:      firstName,
			LastName:       lastName,
			Role:           string(credentials.RoleAdmin),
			Status:         "ACTIVE",
			EmailVerified:  true,
			OrganizationID: &org.ID,
		}
		if err := tx.Create(&admin).Error; err != nil {
			return err
		}

		if err := tx.Model(&org).Update("owner_id", admin.ID).Error; err != nil {
			return err
		}

		log.Printf("✅ Super admin created: %s", email)
		return nil
	})
}
