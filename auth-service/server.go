package main

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"forgecrm-backend/auth-service/handlers"
	"forgecrm-backend/auth-service/middleware"
	"forgecrm-backend/shared/security/credentials"
	"forgecrm-backend/shared/security/ratelimit"
)

// routerDeps carries everything the HTTP layer needs.
type routerDeps struct {
	Auth             *handlers.AuthHandler
	Security         *handlers.SecurityHandler
	Tokens           *credentials.TokenService
	RegisterLimiter  *ratelimit.Limiter
	GlobalLimiter    *middleware.GlobalRateLimiter
	AllowedOrigins   []string
	EnableSwaggerDoc bool
}

func newRouter(deps routerDeps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(middleware.SentryRecovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     deps.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.CorrelationHeader},
		ExposeHeaders:    []string{middleware.CorrelationHeader, "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	router.Use(middleware.CorrelationMiddleware())
	if deps.GlobalLimiter != nil {
		router.Use(deps.GlobalLimiter.Middleware())
	}

	authenticated := middleware.AuthMiddleware(deps.Tokens)

	// Auth endpoints
	auth := router.Group("/api/auth")
	{
		auth.POST("/login", deps.Auth.Login)
		auth.POST("/register", middleware.RateLimitMiddleware(deps.RegisterLimiter, "Too many registration attempts. Please try again later."), deps.Auth.Register)
		auth.POST("/refresh", deps.Auth.Refresh)
		auth.POST("/validate", deps.Auth.Validate)
		auth.POST("/logout", deps.Auth.Logout)
		auth.GET("/me", authenticated, deps.Auth.Me)
		auth.POST("/change-password", authenticated, deps.Auth.ChangePassword)

		// Security administration
		auth.GET("/audit-logs", authenticated, middleware.RequireRole(credentials.RoleManager), deps.Security.ListAuditLogs)
		auth.POST("/audit-logs/archive", authenticated, middleware.RequireRole(credentials.RoleAdmin), deps.Security.ArchiveAuditLogs)
		auth.GET("/lockouts/:email", authenticated, middleware.RequireRole(credentials.RoleAdmin), deps.Security.GetLockoutStatus)
		auth.DELETE("/lockouts/:email", authenticated, middleware.RequireRole(credentials.RoleAdmin), deps.Security.UnlockAccount)
	}

	router.GET("/ws/security-events",
		middleware.WebSocketAuthMiddleware(deps.Tokens),
		middleware.RequireRole(credentials.RoleAdmin),
		deps.Security.SecurityEvents,
	)

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "auth",
		})
	})

	// Swagger documentation
	if deps.EnableSwaggerDoc {
		router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	return router
}
