package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	auditmodels "forgecrm-backend/shared/database/models/audit"
	"forgecrm-backend/shared/security/audit"
	"forgecrm-backend/shared/utils/query"
)

// archiveBatchSize bounds a single archive export.
const archiveBatchSize = 50000

var auditFilterFields = map[string]string{
	"event_type":     "event_type",
	"status":         "status",
	"email":          "email",
	"user_id":        "user_id",
	"ip_address":     "ip_address",
	"correlation_id": "correlation_id",
}

var auditSortFields = map[string]string{
	"created_at": "created_at",
	"event_type": "event_type",
	"email":      "email",
	"status":     "status",
}

var auditSearchFields = []string{"email", "ip_address", "path"}

// AuditRepository is the durable sink of the audit logger.
type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// CreateAuditRecord inserts one entry.
func (r *AuditRepository) CreateAuditRecord(ctx context.Context, entry audit.Entry) error {
	record, err := toAuditLog(entry)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(record).Error
}

// List returns one page of organizationID's entries matching params
// together with the total number of matches.
func (r *AuditRepository) List(ctx context.Context, organizationID string, params query.FilterParams) ([]audit.Entry, int64, error) {
	orgID, err := parseOrganizationID(organizationID)
	if err != nil {
		return nil, 0, err
	}

	db := r.db.WithContext(ctx).Model(&auditmodels.AuditLog{}).Where("organization_id = ?", orgID)
	db = query.ApplyFilters(db, params.Filters, auditFilterFields)
	db = query.ApplySearch(db, params.Search, auditSearchFields)
	db = query.ApplyTimeRange(db, "created_at", params.From, params.To)

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var records []auditmodels.AuditLog
	db = query.ApplySort(db, params.Sort, auditSortFields)
	db = query.ApplyPagination(db, params.Page, params.Limit)
	if err := db.Find(&records).Error; err != nil {
		return nil, 0, err
	}

	return toEntries(records), total, nil
}

// Range returns organizationID's entries created in [from, to), oldest first.
func (r *AuditRepository) Range(ctx context.Context, organizationID string, from, to time.Time) ([]audit.Entry, error) {
	orgID, err := parseOrganizationID(organizationID)
	if err != nil {
		return nil, err
	}

	var records []auditmodels.AuditLog
	err = r.db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Where("created_at >= ? AND created_at < ?", from, to).
		Order("created_at ASC").
		Limit(archiveBatchSize).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return toEntries(records), nil
}

func parseOrganizationID(organizationID string) (uuid.UUID, error) {
	orgID, err := uuid.Parse(organizationID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid organization id %q: %w", organizationID, err)
	}
	return orgID, nil
}

func toAuditLog(entry audit.Entry) (*auditmodels.AuditLog, error) {
	id, err := uuid.Parse(entry.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid audit entry id %q: %w", entry.ID, err)
	}

	record := &auditmodels.AuditLog{
		ID:            id,
		EventType:     string(entry.EventType),
		Email:         entry.Email,
		IPAddress:     entry.IPAddress,
		UserAgent:     entry.UserAgent,
		Path:          entry.Path,
		Status:        string(entry.Status),
		Details:       entry.Details,
		CorrelationID: entry.CorrelationID,
		CreatedAt:     entry.Timestamp,
	}
	if userID, err := uuid.Parse(entry.UserID); err == nil {
		record.UserID = &userID
	}
	if orgID, err := uuid.Parse(entry.OrganizationID); err == nil {
		record.OrganizationID = &orgID
	}
	return record, nil
}

func toEntries(records []auditmodels.AuditLog) []audit.Entry {
	entries := make([]audit.Entry, 0, len(records))
	for _, record := range records {
		entry := audit.Entry{
			ID:            record.ID.String(),
			EventType:     audit.EventType(record.EventType),
			Email:         record.Email,
			IPAddress:     record.IPAddress,
			UserAgent:     record.UserAgent,
			Path:          record.Path,
			Status:        audit.Status(record.Status),
			Details:       record.Details,
			CorrelationID: record.CorrelationID,
			Timestamp:     record.CreatedAt,
		}
		if record.UserID != nil {
			entry.UserID = record.UserID.String()
		}
		if record.OrganizationID != nil {
			entry.OrganizationID = record.OrganizationID.String()
		}
		entries = append(entries, entry)
	}
	return entries
}
