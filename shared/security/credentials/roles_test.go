package credentials

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role     Role
		required Role
		want     bool
	}{
		{RoleAdmin, RoleAdmin, true},
		{RoleAdmin, RoleManager, true},
		{RoleAdmin, RoleAgent, true},
		{RoleManager, RoleAdmin, false},
		{RoleManager, RoleManager, true},
		{RoleManager, RoleAgent, true},
		{RoleAgent, RoleAdmin, false},
		{RoleAgent, RoleManager, false},
		{RoleAgent, RoleAgent, true},
		{Role("owner"), RoleAgent, false},
		{RoleAdmin, Role("owner"), false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, HasPermission(tt.role, tt.required), "%s >= %s", tt.role, tt.required)
	}
}

func TestParseRole(t *testing.T) {
	role, err := ParseRole(" Admin ")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, role)

	_, err = ParseRole("superuser")
	assert.Error(t, err)
}
