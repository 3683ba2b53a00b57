// Package docs ForgeCRM API documentation
package docs

// Swagger documentation info
// @title ForgeCRM Auth API
// @version 1.0
// @description Authentication and login defense for ForgeCRM: rate limiting, account lockout, credentials and security audit.
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.url http://www.forgecrm.io/support
// @contact.email support@forgecrm.io

// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0.html

// @host localhost:8001
// @BasePath /api
// @schemes http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and the JWT token.

// Auth Service Endpoints
// @tag.name auth
// @tag.description Authentication and session tokens
// @tag.name security
// @tag.description Audit trail, lockout administration and live security events
