package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"forgecrm-backend/auth-service/middleware"
	"forgecrm-backend/shared/security/authflow"
	"forgecrm-backend/shared/security/credentials"
)

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

// POST /api/auth/change-password
// @Summary Change password
// @Description Change the authenticated user's password
// @Tags auth
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body ChangePasswordRequest true "Current and new password"
// @Success 200 {object} map[string]string "Password changed"
// @Failure 400 {object} map[string]interface{} "Policy violation or reused password"
// @Failure 401 {object} map[string]string "Current password incorrect"
// @Router /auth/change-password [post]
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString(middleware.ContextUserID)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized", "code": "token_missing"})
		return
	}

	err := h.service.ChangePassword(c.Request.Context(), userID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		var policyErr *credentials.PolicyError
		switch {
		case errors.As(err, &policyErr):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":      "Password does not meet requirements",
				"violations": policyErr.Violations,
			})
		case errors.Is(err, credentials.ErrPasswordReused):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Password was used recently. Choose a different one."})
		case errors.Is(err, authflow.ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Current password is incorrect"})
		default:
			internalError(c, "Failed to change password", err)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Password changed successfully"})
}
