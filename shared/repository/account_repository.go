package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"forgecrm-backend/shared/database/models"
	"forgecrm-backend/shared/database/models/auth"
	"forgecrm-backend/shared/security/authflow"
	"forgecrm-backend/shared/security/credentials"
)

// uniqueViolation is the PostgreSQL SQLSTATE for duplicate keys.
const uniqueViolation = "23505"

var (
	ErrAccountNotFound = authflow.ErrAccountNotFound
	ErrEmailTaken      = authflow.ErrEmailTaken
)

// AccountRepository implements authflow.AccountStore on top of gorm.
type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func toAccount(user *models.User) *authflow.Account {
	account := &authflow.Account{
		ID:           user.ID.String(),
		Email:        user.Email,
		PasswordHash: user.Password,
		FirstName:    user.FirstName,
		LastName:     user.LastName,
		Role:         credentials.Role(user.Role),
		Active:       user.IsActive(),
	}
	if user.OrganizationID != nil {
		account.OrganizationID = user.OrganizationID.String()
	}
	return account
}

func (r *AccountRepository) FindAccountByEmail(ctx context.Context, email string) (*authflow.Account, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Where("LOWER(email) = ?", strings.ToLower(strings.TrimSpace(email))).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return toAccount(&user), nil
}

// OrganizationForEmail lets the audit logger scope events that only carry
// an email. Unknown emails belong to no organization.
func (r *AccountRepository) OrganizationForEmail(ctx context.Context, email string) (string, error) {
	account, err := r.FindAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return "", nil
		}
		return "", err
	}
	return account.OrganizationID, nil
}

func (r *AccountRepository) FindAccountByID(ctx context.Context, id string) (*authflow.Account, error) {
	userID, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrAccountNotFound
	}

	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return toAccount(&user), nil
}

func (r *AccountRepository) CreateAccount(ctx context.Context, account authflow.NewAccount) (*authflow.Account, error) {
	user := models.User{
		Email:     strings.ToLower(strings.TrimSpace(account.Email)),
		Password:  account.PasswordHash,
		FirstName: account.FirstName,
		LastName:  account.LastName,
		Role:      string(account.Role),
		Status:    "ACTIVE",
	}
	if account.OrganizationID != "" {
		orgID, err := uuid.Parse(account.OrganizationID)
		if err != nil {
			return nil, fmt.Errorf("invalid organization id: %w", err)
		}
		user.OrganizationID = &orgID
	}

	if err := r.db.WithContext(ctx).Create(&user).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return toAccount(&user), nil
}

// UpdatePassword swaps the hash and records the old one in the password
// history within one transaction. History beyond keepHistory is pruned.
func (r *AccountRepository) UpdatePassword(ctx context.Context, userID, newHash string, keepHistory int) error {
	id, err := uuid.Parse(userID)
	if err != nil {
		return ErrAccountNotFound
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.First(&user, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrAccountNotFound
			}
			return err
		}

		if keepHistory > 0 {
			if err := tx.Create(&auth.PasswordHistory{UserID: id, PasswordHash: user.Password}).Error; err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		if err := tx.Model(&user).Updates(map[string]interface{}{
			"password":            newHash,
			"password_changed_at": now,
		}).Error; err != nil {
			return err
		}

		if keepHistory <= 0 {
			return tx.Where("user_id = ?", id).Delete(&auth.PasswordHistory{}).Error
		}

		keep := tx.Model(&auth.PasswordHistory{}).
			Select("id").
			Where("user_id = ?", id).
			Order("created_at DESC").
			Limit(keepHistory)
		return tx.Where("user_id = ? AND id NOT IN (?)", id, keep).
			Delete(&auth.PasswordHistory{}).Error
	})
}

func (r *AccountRepository) PasswordHistory(ctx context.Context, userID string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	id, err := uuid.Parse(userID)
	if err != nil {
		return nil, ErrAccountNotFound
	}

	var hashes []string
	err = r.db.WithContext(ctx).
		Model(&auth.PasswordHistory{}).
		Where("user_id = ?", id).
		Order("created_at DESC").
		Limit(limit).
		Pluck("password_hash", &hashes).Error
	return hashes, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
