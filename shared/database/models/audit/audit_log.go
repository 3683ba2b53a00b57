package audit

import (
	"time"

	"github.com/google/uuid"
)

// AuditLog represents a security audit entry. Rows are insert-only.
type AuditLog struct {
	ID             uuid.UUID              `json:"id" gorm:"type:uuid;primary_key"`
	EventType      string                 `json:"event_type" gorm:"type:varchar(50);not null;index"`
	UserID         *uuid.UUID             `json:"user_id,omitempty" gorm:"type:uuid;index"`
	Email          string                 `json:"email,omitempty" gorm:"type:varchar(255);index"`
	OrganizationID *uuid.UUID             `json:"organization_id,omitempty" gorm:"type:uuid;index"`
	IPAddress      string                 `json:"ip_address" gorm:"type:varchar(45)"`
	UserAgent      string                 `json:"user_agent" gorm:"type:text"`
	Path           string                 `json:"path" gorm:"type:varchar(500)"`
	Status         string                 `json:"status" gorm:"type:varchar(10);not null;index"`
	Details        map[string]interface{} `json:"details,omitempty" gorm:"type:jsonb;serializer:json"`
	CorrelationID  string                 `json:"correlation_id" gorm:"type:varchar(100);not null;index"`
	CreatedAt      time.Time              `json:"created_at" gorm:"not null;index"`
}

// TableName returns the table name for AuditLog
func (AuditLog) TableName() string {
	return "audit_logs"
}
