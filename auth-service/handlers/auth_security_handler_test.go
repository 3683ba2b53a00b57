package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"forgecrm-backend/auth-service/middleware"
	"forgecrm-backend/shared/security/audit"
	"forgecrm-backend/shared/security/authflow"
	"forgecrm-backend/shared/security/lockout"
	"forgecrm-backend/shared/store"
	"forgecrm-backend/shared/utils/query"
)

type MockAuditLister struct {
	mock.Mock
}

func (m *MockAuditLister) List(ctx context.Context, organizationID string, params query.FilterParams) ([]audit.Entry, int64, error) {
	args := m.Called(ctx, organizationID, params)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]audit.Entry), args.Get(1).(int64), args.Error(2)
}

type MockArchiver struct {
	mock.Mock
}

func (m *MockArchiver) Archive(ctx context.Context, organizationID string, from, to time.Time) (audit.ArchiveResult, error) {
	args := m.Called(ctx, organizationID, from, to)
	return args.Get(0).(audit.ArchiveResult), args.Error(1)
}

func sameInstant(want time.Time) interface{} {
	return mock.MatchedBy(func(got time.Time) bool { return got.Equal(want) })
}

// newSecurityRouter stands in for AuthMiddleware: the caller is admin-1 of
// organizationID.
func newSecurityRouter(handler *SecurityHandler, organizationID string) *gin.Engine {
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserID, "admin-1")
		c.Set(middleware.ContextOrganizationID, organizationID)
		c.Next()
	})
	router.GET("/audit-logs", handler.ListAuditLogs)
	router.POST("/audit-logs/archive", handler.ArchiveAuditLogs)
	router.GET("/lockouts/:email", handler.GetLockoutStatus)
	router.DELETE("/lockouts/:email", handler.UnlockAccount)
	router.GET("/ws/security-events", handler.SecurityEvents)
	return router
}

func serve(router *gin.Engine, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// newSecurityAccounts holds one account in org-1 and one in org-2.
func newSecurityAccounts() *memoryAccounts {
	accounts := newMemoryAccounts()
	accounts.accounts["user@example.com"] = &authflow.Account{ID: "user-1", Email: "user@example.com", OrganizationID: "org-1", Active: true}
	accounts.accounts["other@example.com"] = &authflow.Account{ID: "user-2", Email: "other@example.com", OrganizationID: "org-2", Active: true}
	return accounts
}

func newSecurityHandler(audits AuditLister, archiver AuditArchiver, tracker *lockout.Tracker) *SecurityHandler {
	return NewSecurityHandler(audits, archiver, tracker, newSecurityAccounts(), nil)
}

func newTestTracker() *lockout.Tracker {
	return lockout.New(store.NewMemoryStore("lockout"), nil, lockout.Config{
		MaxAttempts:     3,
		FailureWindow:   15 * time.Minute,
		LockoutDuration: 30 * time.Minute,
	})
}

func TestListAuditLogs(t *testing.T) {
	lister := new(MockAuditLister)
	entries := []audit.Entry{{ID: "1", EventType: audit.EventLoginFailure, Status: audit.StatusFailure}}
	lister.On("List", mock.Anything, "org-1", mock.MatchedBy(func(p query.FilterParams) bool {
		return p.Page == 2 && p.Limit == 10 && p.Filters["event_type"] == "LOGIN_FAILURE"
	})).Return(entries, int64(11), nil)

	router := newSecurityRouter(newSecurityHandler(lister, nil, newTestTracker()), "org-1")

	w := serve(router, http.MethodGet, "/audit-logs?page=2&limit=10&filters%5Bevent_type%5D=LOGIN_FAILURE", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var response AuditLogListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Len(t, response.Data, 1)
	assert.Equal(t, int64(11), response.Pagination.Total)
	assert.False(t, response.Pagination.HasNext)
	assert.True(t, response.Pagination.HasPrev)
	lister.AssertExpectations(t)
}

func TestListAuditLogs_BadRange(t *testing.T) {
	lister := new(MockAuditLister)
	router := newSecurityRouter(newSecurityHandler(lister, nil, newTestTracker()), "org-1")

	w := serve(router, http.MethodGet, "/audit-logs?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	lister.AssertNotCalled(t, "List", mock.Anything, mock.Anything, mock.Anything)
}

func TestListAuditLogs_RequiresOrganization(t *testing.T) {
	lister := new(MockAuditLister)
	router := newSecurityRouter(newSecurityHandler(lister, nil, newTestTracker()), "")

	w := serve(router, http.MethodGet, "/audit-logs", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	lister.AssertNotCalled(t, "List", mock.Anything, mock.Anything, mock.Anything)
}

func TestListAuditLogs_StoreError(t *testing.T) {
	lister := new(MockAuditLister)
	lister.On("List", mock.Anything, "org-1", mock.Anything).Return(nil, int64(0), errors.New("db down"))
	router := newSecurityRouter(newSecurityHandler(lister, nil, newTestTracker()), "org-1")

	w := serve(router, http.MethodGet, "/audit-logs", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "db down")
}

func TestArchiveAuditLogs(t *testing.T) {
	from := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

	t.Run("not configured", func(t *testing.T) {
		router := newSecurityRouter(newSecurityHandler(new(MockAuditLister), nil, newTestTracker()), "org-1")
		w := serve(router, http.MethodPost, "/audit-logs/archive", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("archived", func(t *testing.T) {
		archiver := new(MockArchiver)
		archiver.On("Archive", mock.Anything, "org-1", sameInstant(from), sameInstant(to)).Return(audit.ArchiveResult{
			OrganizationID: "org-1",
			Bucket:         "audit",
			ObjectKey:      "audit/org-1/2025/06/01/audit-20250601T000000Z-20250602T000000Z.ndjson",
			SHA256:         "abc",
			EntryCount:     3,
		}, nil)
		router := newSecurityRouter(newSecurityHandler(new(MockAuditLister), archiver, newTestTracker()), "org-1")

		body, _ := json.Marshal(ArchiveRequest{From: &from, To: &to})
		w := serve(router, http.MethodPost, "/audit-logs/archive", body)
		require.Equal(t, http.StatusCreated, w.Code)
		assert.Contains(t, w.Body.String(), `"sha256":"abc"`)
		archiver.AssertExpectations(t)
	})

	t.Run("empty range", func(t *testing.T) {
		archiver := new(MockArchiver)
		archiver.On("Archive", mock.Anything, "org-1", sameInstant(from), sameInstant(to)).Return(audit.ArchiveResult{}, audit.ErrNothingToArchive)
		router := newSecurityRouter(newSecurityHandler(new(MockAuditLister), archiver, newTestTracker()), "org-1")

		body, _ := json.Marshal(ArchiveRequest{From: &from, To: &to})
		w := serve(router, http.MethodPost, "/audit-logs/archive", body)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("inverted range", func(t *testing.T) {
		archiver := new(MockArchiver)
		router := newSecurityRouter(newSecurityHandler(new(MockAuditLister), archiver, newTestTracker()), "org-1")

		body, _ := json.Marshal(ArchiveRequest{From: &to, To: &from})
		w := serve(router, http.MethodPost, "/audit-logs/archive", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		archiver.AssertNotCalled(t, "Archive", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("no organization", func(t *testing.T) {
		archiver := new(MockArchiver)
		router := newSecurityRouter(newSecurityHandler(new(MockAuditLister), archiver, newTestTracker()), "")

		body, _ := json.Marshal(ArchiveRequest{From: &from, To: &to})
		w := serve(router, http.MethodPost, "/audit-logs/archive", body)
		assert.Equal(t, http.StatusForbidden, w.Code)
		archiver.AssertNotCalled(t, "Archive", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestLockoutStatusAndUnlock(t *testing.T) {
	tracker := newTestTracker()
	router := newSecurityRouter(newSecurityHandler(new(MockAuditLister), nil, tracker), "org-1")

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := tracker.RecordFailure(ctx, "user@example.com")
		require.NoError(t, err)
	}

	w := serve(router, http.MethodGet, "/lockouts/User@Example.com", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status LockoutStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "user@example.com", status.Email)
	assert.True(t, status.Locked)
	assert.Equal(t, 3, status.FailureCount)
	assert.Equal(t, 30, status.RemainingMinutes)

	w = serve(router, http.MethodDelete, "/lockouts/user@example.com", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"was_locked":true`)

	w = serve(router, http.MethodGet, "/lockouts/user@example.com", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.False(t, status.Locked)
	assert.Equal(t, 0, status.FailureCount)
}

func TestLockout_OtherOrganizationIsHidden(t *testing.T) {
	tracker := newTestTracker()
	router := newSecurityRouter(newSecurityHandler(new(MockAuditLister), nil, tracker), "org-1")

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := tracker.RecordFailure(ctx, "other@example.com")
		require.NoError(t, err)
	}

	w := serve(router, http.MethodGet, "/lockouts/other@example.com", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.NotContains(t, w.Body.String(), "failure_count")

	w = serve(router, http.MethodDelete, "/lockouts/other@example.com", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	status, err := tracker.Status(ctx, "other@example.com")
	require.NoError(t, err)
	assert.True(t, status.Locked, "a foreign admin must not clear the lock")
}

func TestLockout_UnknownAccount(t *testing.T) {
	router := newSecurityRouter(newSecurityHandler(new(MockAuditLister), nil, newTestTracker()), "org-1")

	w := serve(router, http.MethodGet, "/lockouts/ghost@example.com", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLockout_RequiresOrganization(t *testing.T) {
	router := newSecurityRouter(newSecurityHandler(new(MockAuditLister), nil, newTestTracker()), "")

	w := serve(router, http.MethodDelete, "/lockouts/user@example.com", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSecurityEvents_FeedDisabled(t *testing.T) {
	router := newSecurityRouter(newSecurityHandler(new(MockAuditLister), nil, newTestTracker()), "org-1")

	w := serve(router, http.MethodGet, "/ws/security-events", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSecurityEvents_RequiresOrganization(t *testing.T) {
	feed := audit.NewFeed()
	router := newSecurityRouter(NewSecurityHandler(new(MockAuditLister), nil, newTestTracker(), newSecurityAccounts(), feed), "")

	w := serve(router, http.MethodGet, "/ws/security-events", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, 0, feed.SubscriberCount())
}
