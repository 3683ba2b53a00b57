package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	c := FromEnv()

	assert.Equal(t, 15*time.Minute, c.LoginRateLimitWindow())
	assert.Equal(t, 10, c.LoginRateLimitMaxAttempts)
	assert.Equal(t, time.Hour, c.RegisterRateLimitWindow())
	assert.Equal(t, 5, c.LockoutMaxAttempts)
	assert.Equal(t, 15*time.Minute, c.LockoutFailureWindow())
	assert.Equal(t, 30*time.Minute, c.LockoutDuration())
	assert.Equal(t, time.Minute, c.StateSweepInterval())
	assert.Equal(t, 15*time.Minute, c.JWTAccessExpire())
	assert.Equal(t, 7*24*time.Hour, c.JWTRefreshExpire())
	assert.Equal(t, 12, c.BcryptCost)
	assert.Equal(t, "memory", c.RateLimitStore)
	assert.Equal(t, "8001", c.ServicePort())
	assert.NoError(t, c.Validate())
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("LOGIN_RATE_LIMIT_MAX_ATTEMPTS", "3")
	t.Setenv("LOCKOUT_DURATION_MINUTES", "60")
	t.Setenv("RATE_LIMIT_STORE", "Redis")
	t.Setenv("PASSWORD_REQUIRE_SPECIAL", "false")
	t.Setenv("GLOBAL_RATE_LIMIT_PER_SECOND", "2.5")
	t.Setenv("AUTH_SERVICE_URL", "http://auth:9001")

	c := FromEnv()
	assert.Equal(t, 3, c.LoginRateLimitMaxAttempts)
	assert.Equal(t, time.Hour, c.LockoutDuration())
	assert.Equal(t, "redis", c.RateLimitStore)
	assert.False(t, c.PasswordRequireSpecial)
	assert.Equal(t, 2.5, c.GlobalRateLimitPerSecond)
	assert.Equal(t, "9001", c.ServicePort())
}

func TestFromEnv_InvalidNumberFallsBack(t *testing.T) {
	t.Setenv("LOCKOUT_MAX_ATTEMPTS", "five")
	assert.Equal(t, 5, FromEnv().LockoutMaxAttempts)
}

func TestValidate(t *testing.T) {
	c := FromEnv()
	c.JWTRefreshSecret = c.JWTAccessSecret
	c.LockoutMaxAttempts = 0
	c.RateLimitStore = "memcached"

	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must differ")
	assert.Contains(t, err.Error(), "LOCKOUT_MAX_ATTEMPTS")
	assert.Contains(t, err.Error(), "memcached")
}

func TestValidate_ProductionRejectsDevSecrets(t *testing.T) {
	c := FromEnv()
	c.AppEnv = "production"
	assert.Error(t, c.Validate())

	c.JWTAccessSecret = "a-real-access-secret"
	c.JWTRefreshSecret = "a-real-refresh-secret"
	assert.NoError(t, c.Validate())
}

func TestValidate_ProblemsKeepDeclarationOrder(t *testing.T) {
	c := FromEnv()
	c.LoginRateLimitWindowMS = 0
	c.LockoutMaxAttempts = 0
	c.PasswordMinLength = 0

	want := "invalid configuration: " +
		"LOGIN_RATE_LIMIT_WINDOW_MS must be positive; " +
		"LOCKOUT_MAX_ATTEMPTS must be positive; " +
		"PASSWORD_MIN_LENGTH must be positive"

	for i := 0; i < 20; i++ {
		err := c.Validate()
		require.Error(t, err)
		assert.Equal(t, want, err.Error(), "run %d", i)
	}
}
