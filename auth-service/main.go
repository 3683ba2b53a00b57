package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	_ "forgecrm-backend/docs"

	"forgecrm-backend/auth-service/handlers"
	"forgecrm-backend/auth-service/middleware"
	"forgecrm-backend/shared/config"
	"forgecrm-backend/shared/database"
	"forgecrm-backend/shared/observability"
	"forgecrm-backend/shared/repository"
	"forgecrm-backend/shared/security/audit"
	"forgecrm-backend/shared/security/authflow"
	"forgecrm-backend/shared/security/credentials"
	"forgecrm-backend/shared/security/lockout"
	"forgecrm-backend/shared/security/ratelimit"
	"forgecrm-backend/shared/store"
)

func main() {
	// Load configuration
	config.LoadConfig()
	cfg := config.GetConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("❌ %v", err)
	}

	if err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv, "forgecrm-auth-service@1.0.0"); err != nil {
		log.Printf("⚠️ Sentry initialization failed: %v", err)
	}
	defer observability.FlushSentry()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	if err := database.InitDatabase(); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.CloseDatabase()
	db := database.GetDB()

	rateStore, lockoutStore, closeStores, err := buildStores(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize state store: %v", err)
	}
	defer closeStores()

	// Audit trail: database sink, live feed, optional archive
	auditRepo := repository.NewAuditRepository(db)
	accountRepo := repository.NewAccountRepository(db)
	feed := audit.NewFeed(cfg.FrontendURL)
	go feed.Run(ctx)

	loggerOpts := []audit.LoggerOption{
		audit.WithEnvironment(cfg.AppEnv),
		audit.WithPublisher(feed),
		audit.WithOrganizationResolver(accountRepo),
	}
	if cfg.AuditAsync {
		loggerOpts = append(loggerOpts, audit.WithAsync(cfg.AuditQueueSize))
	}
	auditLogger := audit.NewLogger(auditRepo, loggerOpts...)
	defer auditLogger.Close()

	var archiver handlers.AuditArchiver
	minioClient, err := audit.ConnectMinIO(ctx, audit.MinIOOptions{
		ServerURL: cfg.MinIOServerURL,
		AccessKey: cfg.MinIORootUser,
		SecretKey: cfg.MinIORootPassword,
		UseSSL:    cfg.MinIOUseSSL,
		Bucket:    cfg.AuditArchiveBucket,
	})
	if err != nil {
		log.Printf("⚠️ Audit archiving disabled: %v", err)
	} else {
		archiver = audit.NewArchiver(minioClient, auditRepo, cfg.AuditArchiveBucket)
	}

	// Login defense components
	loginLimiter := ratelimit.New(rateStore, ratelimit.Config{
		MaxAttempts: cfg.LoginRateLimitMaxAttempts,
		Window:      cfg.LoginRateLimitWindow(),
	}, ratelimit.WithScope("login"))

	registerLimiter := ratelimit.New(rateStore, ratelimit.Config{
		MaxAttempts: cfg.RegisterRateLimitMaxAttempts,
		Window:      cfg.RegisterRateLimitWindow(),
	}, ratelimit.WithScope("register"))

	tracker := lockout.New(lockoutStore, auditLogger, lockout.Config{
		MaxAttempts:     cfg.LockoutMaxAttempts,
		FailureWindow:   cfg.LockoutFailureWindow(),
		LockoutDuration: cfg.LockoutDuration(),
	})

	tokens, err := credentials.NewTokenService(credentials.TokenConfig{
		AccessSecret:  cfg.JWTAccessSecret,
		RefreshSecret: cfg.JWTRefreshSecret,
		AccessTTL:     cfg.JWTAccessExpire(),
		RefreshTTL:    cfg.JWTRefreshExpire(),
		Issuer:        "forgecrm-auth",
	})
	if err != nil {
		log.Fatalf("Failed to initialize token service: %v", err)
	}

	service := authflow.NewService(authflow.Dependencies{
		Limiter:  loginLimiter,
		Lockout:  tracker,
		Hasher:   credentials.NewPasswordHasher(cfg.BcryptCost),
		Policy:   passwordPolicy(cfg),
		Tokens:   tokens,
		Accounts: accountRepo,
		Audit:    auditLogger,
	})

	router := newRouter(routerDeps{
		Auth: handlers.NewAuthHandler(service, handlers.CookieConfig{
			Secure:   cfg.CookieSecure,
			Domain:   cfg.CookieDomain,
			SameSite: handlers.ParseSameSite(cfg.CookieSameSite),
		}),
		Security:         handlers.NewSecurityHandler(auditRepo, archiver, tracker, accountRepo, feed),
		Tokens:           tokens,
		RegisterLimiter:  registerLimiter,
		GlobalLimiter:    middleware.NewGlobalRateLimiter(ctx, cfg.GlobalRateLimitPerSecond, cfg.GlobalRateLimitBurst, 10*time.Minute),
		AllowedOrigins:   []string{cfg.FrontendURL},
		EnableSwaggerDoc: !cfg.IsProduction(),
	})

	port := cfg.ServicePort()
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("🚀 Auth Service starting on port %s...", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("🛑 Shutting down auth service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("❌ Graceful shutdown failed: %v", err)
	}
}

// buildStores returns the state stores of the limiters and the lockout
// tracker. Memory stores get a background sweeper; Redis expires keys itself.
func buildStores(ctx context.Context, cfg *config.Config) (store.Store, store.Store, func(), error) {
	if cfg.RateLimitStore == "redis" {
		client, err := store.ConnectRedis(ctx, store.RedisOptions{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		shared := store.NewRedisStore(client, "forgecrm:auth:")
		return shared, shared, func() { client.Close() }, nil
	}

	rateStore := store.NewMemoryStore("ratelimit")
	lockoutStore := store.NewMemoryStore("lockout")
	rateStore.StartSweeper(ctx, cfg.StateSweepInterval())
	lockoutStore.StartSweeper(ctx, cfg.StateSweepInterval())

	log.Println("⚠️ Using in-memory state store; counters are not shared between instances")
	return rateStore, lockoutStore, func() {}, nil
}

func passwordPolicy(cfg *config.Config) credentials.PasswordPolicy {
	return credentials.PasswordPolicy{
		MinLength:      cfg.PasswordMinLength,
		RequireUpper:   cfg.PasswordRequireUpper,
		RequireLower:   cfg.PasswordRequireLower,
		RequireNumber:  cfg.PasswordRequireNumber,
		RequireSpecial: cfg.PasswordRequireSpecial,
		HistoryDepth:   cfg.PasswordHistoryDepth,
	}
}
