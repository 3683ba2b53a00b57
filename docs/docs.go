package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "API Support",
            "url": "http://www.forgecrm.io/support",
            "email": "support@forgecrm.io"
        },
        "license": {
            "name": "Apache 2.0",
            "url": "http://www.apache.org/licenses/LICENSE-2.0.html"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/auth/login": {
            "post": {
                "tags": ["auth"],
                "summary": "User login",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"in": "body", "name": "login", "required": true, "schema": {"$ref": "#/definitions/handlers.LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "Successful login", "schema": {"$ref": "#/definitions/handlers.LoginResponse"}},
                    "400": {"description": "Invalid request format"},
                    "401": {"description": "Invalid credentials"},
                    "423": {"description": "Account locked"},
                    "429": {"description": "Too many login attempts"}
                }
            }
        },
        "/auth/register": {
            "post": {
                "tags": ["auth"],
                "summary": "Register a new user",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"in": "body", "name": "register", "required": true, "schema": {"$ref": "#/definitions/handlers.RegisterRequest"}}
                ],
                "responses": {
                    "201": {"description": "Account created", "schema": {"$ref": "#/definitions/handlers.LoginResponse"}},
                    "400": {"description": "Invalid request or password policy violation"},
                    "409": {"description": "Email already registered"},
                    "429": {"description": "Too many registration attempts"}
                }
            }
        },
        "/auth/refresh": {
            "post": {
                "tags": ["auth"],
                "summary": "Refresh access token",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"in": "body", "name": "refresh", "schema": {"$ref": "#/definitions/handlers.RefreshRequest"}}
                ],
                "responses": {
                    "200": {"description": "New access token", "schema": {"$ref": "#/definitions/handlers.RefreshResponse"}},
                    "401": {"description": "Invalid refresh token"}
                }
            }
        },
        "/auth/validate": {
            "post": {
                "tags": ["auth"],
                "summary": "Validate access token",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"in": "body", "name": "validate", "required": true, "schema": {"$ref": "#/definitions/handlers.ValidateRequest"}}
                ],
                "responses": {
                    "200": {"description": "Validation result", "schema": {"$ref": "#/definitions/handlers.ValidateResponse"}}
                }
            }
        },
        "/auth/logout": {
            "post": {
                "tags": ["auth"],
                "summary": "Logout",
                "produces": ["application/json"],
                "responses": {"200": {"description": "Logged out"}}
            }
        },
        "/auth/me": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["auth"],
                "summary": "Current user",
                "produces": ["application/json"],
                "responses": {
                    "200": {"description": "Authenticated identity", "schema": {"$ref": "#/definitions/handlers.UserInfo"}},
                    "401": {"description": "Unauthorized"}
                }
            }
        },
        "/auth/change-password": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["auth"],
                "summary": "Change password",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.ChangePasswordRequest"}}
                ],
                "responses": {
                    "200": {"description": "Password changed"},
                    "400": {"description": "Policy violation or reused password"},
                    "401": {"description": "Current password incorrect"}
                }
            }
        },
        "/auth/audit-logs": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["security"],
                "summary": "List audit logs",
                "produces": ["application/json"],
                "parameters": [
                    {"type": "integer", "name": "page", "in": "query"},
                    {"type": "integer", "name": "limit", "in": "query"},
                    {"type": "string", "name": "event_type", "in": "query"},
                    {"type": "string", "name": "status", "in": "query"},
                    {"type": "string", "name": "from", "in": "query"},
                    {"type": "string", "name": "to", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.AuditLogListResponse"}},
                    "400": {"description": "Invalid query"},
                    "403": {"description": "Insufficient permissions"}
                }
            }
        },
        "/auth/audit-logs/archive": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["security"],
                "summary": "Archive audit logs",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"in": "body", "name": "body", "schema": {"$ref": "#/definitions/handlers.ArchiveRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/audit.ArchiveResult"}},
                    "400": {"description": "Invalid range"},
                    "403": {"description": "Insufficient permissions"},
                    "404": {"description": "No entries in range"},
                    "503": {"description": "Archive storage not configured"}
                }
            }
        },
        "/auth/lockouts/{email}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["security"],
                "summary": "Lockout status",
                "produces": ["application/json"],
                "parameters": [{"type": "string", "name": "email", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.LockoutStatusResponse"}},
                    "403": {"description": "Insufficient permissions"},
                    "404": {"description": "Account not found"}
                }
            },
            "delete": {
                "security": [{"BearerAuth": []}],
                "tags": ["security"],
                "summary": "Unlock account",
                "produces": ["application/json"],
                "parameters": [{"type": "string", "name": "email", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "Unlock result"},
                    "403": {"description": "Insufficient permissions"},
                    "404": {"description": "Account not found"}
                }
            }
        }
    },
    "definitions": {
        "handlers.LoginRequest": {
            "type": "object",
            "required": ["email", "password"],
            "properties": {
                "email": {"type": "string", "example": "admin@forgecrm.io"},
                "password": {"type": "string"}
            }
        },
        "handlers.UserInfo": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "email": {"type": "string"},
                "first_name": {"type": "string"},
                "last_name": {"type": "string"},
                "role": {"type": "string"},
                "organization_id": {"type": "string"}
            }
        },
        "handlers.LoginResponse": {
            "type": "object",
            "properties": {
                "token": {"type": "string"},
                "refresh_token": {"type": "string"},
                "expires_at": {"type": "string"},
                "refresh_expires_at": {"type": "string"},
                "user": {"$ref": "#/definitions/handlers.UserInfo"}
            }
        },
        "handlers.RegisterRequest": {
            "type": "object",
            "required": ["email", "password", "first_name", "last_name"],
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"},
                "first_name": {"type": "string"},
                "last_name": {"type": "string"},
                "organization_id": {"type": "string"}
            }
        },
        "handlers.RefreshRequest": {
            "type": "object",
            "properties": {"refresh_token": {"type": "string"}}
        },
        "handlers.RefreshResponse": {
            "type": "object",
            "properties": {
                "token": {"type": "string"},
                "expires_at": {"type": "string"}
            }
        },
        "handlers.ValidateRequest": {
            "type": "object",
            "required": ["token"],
            "properties": {"token": {"type": "string"}}
        },
        "handlers.ValidateResponse": {
            "type": "object",
            "properties": {
                "valid": {"type": "boolean"},
                "user_id": {"type": "string"},
                "email": {"type": "string"},
                "role": {"type": "string"},
                "expires_at": {"type": "string"}
            }
        },
        "handlers.ChangePasswordRequest": {
            "type": "object",
            "required": ["current_password", "new_password"],
            "properties": {
                "current_password": {"type": "string"},
                "new_password": {"type": "string"}
            }
        },
        "handlers.ArchiveRequest": {
            "type": "object",
            "properties": {
                "from": {"type": "string"},
                "to": {"type": "string"}
            }
        },
        "handlers.LockoutStatusResponse": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "locked": {"type": "boolean"},
                "locked_until": {"type": "string"},
                "remaining_minutes": {"type": "integer"},
                "failure_count": {"type": "integer"}
            }
        },
        "handlers.AuditLogListResponse": {
            "type": "object",
            "properties": {
                "data": {"type": "array", "items": {"type": "object"}},
                "pagination": {"type": "object"}
            }
        },
        "audit.ArchiveResult": {
            "type": "object",
            "properties": {
                "organization_id": {"type": "string"},
                "bucket": {"type": "string"},
                "object_key": {"type": "string"},
                "sha256": {"type": "string"},
                "entry_count": {"type": "integer"},
                "size": {"type": "integer"},
                "from": {"type": "string"},
                "to": {"type": "string"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "description": "Type \"Bearer\" followed by a space and the JWT token.",
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8001",
	BasePath:         "/api",
	Schemes:          []string{"http", "https"},
	Title:            "ForgeCRM Auth API",
	Description:      "Authentication and login defense for ForgeCRM: rate limiting, account lockout, credentials and security audit.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
