package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"forgecrm-backend/auth-service/middleware"
	"forgecrm-backend/shared/security/audit"
	"forgecrm-backend/shared/security/authflow"
	"forgecrm-backend/shared/security/lockout"
	"forgecrm-backend/shared/utils/query"
)

// AuditLister pages through one organization's stored audit entries.
type AuditLister interface {
	List(ctx context.Context, organizationID string, params query.FilterParams) ([]audit.Entry, int64, error)
}

// AuditArchiver exports a time range of one organization's audit entries
// to object storage.
type AuditArchiver interface {
	Archive(ctx context.Context, organizationID string, from, to time.Time) (audit.ArchiveResult, error)
}

// AccountLookup resolves the account behind a lockout key.
type AccountLookup interface {
	FindAccountByEmail(ctx context.Context, email string) (*authflow.Account, error)
}

// LockoutManager reads and clears account lockouts.
type LockoutManager interface {
	Status(ctx context.Context, accountID string) (lockout.Status, error)
	Unlock(ctx context.Context, accountID, actorID string) (bool, error)
}

// SecurityHandler serves the administrative security endpoints. Every
// endpoint is limited to the caller's organization.
type SecurityHandler struct {
	audits   AuditLister
	archiver AuditArchiver
	lockouts LockoutManager
	accounts AccountLookup
	feed     *audit.Feed
}

// NewSecurityHandler creates the handler. archiver and feed may be nil when
// object storage or the live feed is not configured.
func NewSecurityHandler(audits AuditLister, archiver AuditArchiver, lockouts LockoutManager, accounts AccountLookup, feed *audit.Feed) *SecurityHandler {
	return &SecurityHandler{audits: audits, archiver: archiver, lockouts: lockouts, accounts: accounts, feed: feed}
}

// callerOrganization aborts with 403 when the token carries no organization.
func callerOrganization(c *gin.Context) (string, bool) {
	organizationID := c.GetString(middleware.ContextOrganizationID)
	if organizationID == "" {
		c.JSON(http.StatusForbidden, gin.H{"error": "Account is not assigned to an organization"})
		return "", false
	}
	return organizationID, true
}

// lockoutTarget returns the normalized email of the path account when it
// belongs to the caller's organization. Accounts of other organizations
// are reported as not found.
func (h *SecurityHandler) lockoutTarget(c *gin.Context) (string, bool) {
	organizationID, ok := callerOrganization(c)
	if !ok {
		return "", false
	}

	email := lockout.NormalizeAccountID(c.Param("email"))
	account, err := h.accounts.FindAccountByEmail(c.Request.Context(), email)
	if err != nil {
		if errors.Is(err, authflow.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
			return "", false
		}
		internalError(c, "Failed to load account", err)
		return "", false
	}
	if account.OrganizationID != organizationID {
		log.Printf("🚫 Cross-organization lockout access denied: user=%s org=%s target=%s",
			c.GetString(middleware.ContextUserID), organizationID, email)
		c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
		return "", false
	}
	return email, true
}

type AuditLogListResponse struct {
	Data       []audit.Entry            `json:"data"`
	Pagination query.PaginationResponse `json:"pagination"`
}

// ArchiveRequest selects the range to export. Defaults to the last 24 hours.
type ArchiveRequest struct {
	From *time.Time `json:"from,omitempty" example:"2025-06-01T00:00:00Z"`
	To   *time.Time `json:"to,omitempty" example:"2025-06-02T00:00:00Z"`
}

type LockoutStatusResponse struct {
	Email            string     `json:"email"`
	Locked           bool       `json:"locked"`
	LockedUntil      *time.Time `json:"locked_until,omitempty"`
	RemainingMinutes int        `json:"remaining_minutes"`
	FailureCount     int        `json:"failure_count"`
}

// GET /api/auth/audit-logs
// @Summary List audit logs
// @Description Paginated security audit trail. Supports event_type, status, user_id and email filters, search, sort and an RFC3339 from/to range.
// @Tags security
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page number"
// @Param limit query int false "Page size (max 100)"
// @Param event_type query string false "Event type filter"
// @Param status query string false "SUCCESS or FAILURE"
// @Param from query string false "Start of range (RFC3339)"
// @Param to query string false "End of range (RFC3339)"
// @Success 200 {object} handlers.AuditLogListResponse
// @Failure 400 {object} map[string]string "Invalid query"
// @Failure 403 {object} map[string]string "Insufficient permissions"
// @Router /auth/audit-logs [get]
func (h *SecurityHandler) ListAuditLogs(c *gin.Context) {
	organizationID, ok := callerOrganization(c)
	if !ok {
		return
	}

	params, err := query.ParseQueryParams(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entries, total, err := h.audits.List(c.Request.Context(), organizationID, params)
	if err != nil {
		internalError(c, "Failed to load audit logs", err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}

	c.JSON(http.StatusOK, AuditLogListResponse{
		Data:       entries,
		Pagination: query.BuildPaginationResponse(params.Page, params.Limit, total),
	})
}

// POST /api/auth/audit-logs/archive
// @Summary Archive audit logs
// @Description Export a range of audit entries as NDJSON to object storage
// @Tags security
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body ArchiveRequest false "Range to archive"
// @Success 201 {object} audit.ArchiveResult
// @Failure 400 {object} map[string]string "Invalid range"
// @Failure 403 {object} map[string]string "Insufficient permissions"
// @Failure 404 {object} map[string]string "No entries in range"
// @Failure 503 {object} map[string]string "Archive storage not configured"
// @Router /auth/audit-logs/archive [post]
func (h *SecurityHandler) ArchiveAuditLogs(c *gin.Context) {
	if h.archiver == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Audit archive storage is not configured"})
		return
	}
	organizationID, ok := callerOrganization(c)
	if !ok {
		return
	}

	var req ArchiveRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	to := time.Now().UTC()
	if req.To != nil {
		to = *req.To
	}
	from := to.Add(-24 * time.Hour)
	if req.From != nil {
		from = *req.From
	}
	if !from.Before(to) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from must be before to"})
		return
	}

	result, err := h.archiver.Archive(c.Request.Context(), organizationID, from, to)
	if err != nil {
		if errors.Is(err, audit.ErrNothingToArchive) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No audit entries in the requested range"})
			return
		}
		internalError(c, "Failed to archive audit logs", err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// GET /api/auth/lockouts/{email}
// @Summary Lockout status
// @Description Current lockout state of an account
// @Tags security
// @Produce json
// @Security BearerAuth
// @Param email path string true "Account email"
// @Success 200 {object} handlers.LockoutStatusResponse
// @Failure 403 {object} map[string]string "Insufficient permissions"
// @Failure 404 {object} map[string]string "Account not found"
// @Router /auth/lockouts/{email} [get]
func (h *SecurityHandler) GetLockoutStatus(c *gin.Context) {
	email, ok := h.lockoutTarget(c)
	if !ok {
		return
	}

	status, err := h.lockouts.Status(c.Request.Context(), email)
	if err != nil {
		internalError(c, "Failed to load lockout status", err)
		return
	}

	c.JSON(http.StatusOK, LockoutStatusResponse{
		Email:            email,
		Locked:           status.Locked,
		LockedUntil:      status.LockedUntil,
		RemainingMinutes: status.RemainingMinutes,
		FailureCount:     status.FailureCount,
	})
}

// DELETE /api/auth/lockouts/{email}
// @Summary Unlock account
// @Description Clear the lockout and failure counter of an account
// @Tags security
// @Produce json
// @Security BearerAuth
// @Param email path string true "Account email"
// @Success 200 {object} map[string]interface{} "Unlock result"
// @Failure 403 {object} map[string]string "Insufficient permissions"
// @Failure 404 {object} map[string]string "Account not found"
// @Router /auth/lockouts/{email} [delete]
func (h *SecurityHandler) UnlockAccount(c *gin.Context) {
	email, ok := h.lockoutTarget(c)
	if !ok {
		return
	}

	wasLocked, err := h.lockouts.Unlock(c.Request.Context(), email, c.GetString(middleware.ContextUserID))
	if err != nil {
		internalError(c, "Failed to unlock account", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"email":      email,
		"was_locked": wasLocked,
		"message":    "Account unlocked",
	})
}

// GET /ws/security-events
// @Summary Live security events
// @Description WebSocket stream of the caller organization's audit entries. The access token may be passed as the token query parameter.
// @Tags security
// @Security BearerAuth
// @Param token query string false "Access token"
// @Success 101 {string} string "Switching Protocols"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 403 {object} map[string]string "Insufficient permissions"
// @Router /ws/security-events [get]
func (h *SecurityHandler) SecurityEvents(c *gin.Context) {
	if h.feed == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Security event feed is disabled"})
		return
	}
	organizationID, ok := callerOrganization(c)
	if !ok {
		return
	}
	h.feed.HandleConnection(c, c.GetString(middleware.ContextUserID), organizationID)
}
