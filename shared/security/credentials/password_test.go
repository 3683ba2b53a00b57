package credentials

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestPasswordHasher_HashAndVerify(t *testing.T) {
	hasher := NewPasswordHasher(bcrypt.MinCost)

	hash, err := hasher.Hash("Str0ng!Pass")
	require.NoError(t, err)
	assert.NotEqual(t, "Str0ng!Pass", hash)

	assert.True(t, hasher.Verify("Str0ng!Pass", hash))
	assert.False(t, hasher.Verify("str0ng!pass", hash))
	assert.False(t, hasher.Verify("Str0ng!Pass", ""))

	other, err := hasher.Hash("Str0ng!Pass")
	require.NoError(t, err)
	assert.NotEqual(t, hash, other, "hashes are salted")
}

func TestPasswordHasher_DefaultCost(t *testing.T) {
	assert.Equal(t, DefaultBcryptCost, NewPasswordHasher(0).Cost())
	assert.Equal(t, DefaultBcryptCost, NewPasswordHasher(99).Cost())
}

func TestPasswordHasher_NeedsRehash(t *testing.T) {
	hasher := NewPasswordHasher(bcrypt.MinCost)
	hash, err := hasher.Hash("Str0ng!Pass")
	require.NoError(t, err)

	assert.False(t, hasher.NeedsRehash(hash))
	assert.True(t, NewPasswordHasher(bcrypt.MinCost+1).NeedsRehash(hash))
	assert.True(t, hasher.NeedsRehash("garbage"))
}

func TestPasswordHasher_VerifyDummyDoesNotPanic(t *testing.T) {
	hasher := NewPasswordHasher(bcrypt.MinCost)
	assert.NotPanics(t, func() { hasher.VerifyDummy("whatever") })
}

func TestPasswordPolicy_Validate(t *testing.T) {
	policy := DefaultPasswordPolicy()

	tests := []struct {
		name      string
		password  string
		violation string
	}{
		{"too short", "Ab1!", "at least 8 characters"},
		{"no upper", "lowercase1!", "uppercase"},
		{"no lower", "UPPERCASE1!", "lowercase"},
		{"no number", "NoNumbers!!", "number"},
		{"no special", "NoSpecial11", "special"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := policy.Validate(tt.password)
			var policyErr *PolicyError
			require.True(t, errors.As(err, &policyErr))
			assert.Contains(t, policyErr.Error(), tt.violation)
		})
	}

	assert.NoError(t, policy.Validate("Str0ng!Pass"))
}

func TestPasswordPolicy_ReportsEveryViolation(t *testing.T) {
	err := DefaultPasswordPolicy().Validate("abc")
	var policyErr *PolicyError
	require.True(t, errors.As(err, &policyErr))
	assert.Len(t, policyErr.Violations, 4)
}

func TestPasswordPolicy_RelaxedRules(t *testing.T) {
	policy := PasswordPolicy{MinLength: 4}
	assert.NoError(t, policy.Validate("abcd"))
}

func TestPasswordPolicy_CheckHistory(t *testing.T) {
	hasher := NewPasswordHasher(bcrypt.MinCost)
	policy := PasswordPolicy{HistoryDepth: 2}

	var history []string
	for _, p := range []string{"Newest1!aa", "Middle1!aa", "Oldest1!aa"} {
		hash, err := hasher.Hash(p)
		require.NoError(t, err)
		history = append(history, hash)
	}

	assert.ErrorIs(t, policy.CheckHistory(hasher, "Newest1!aa", history), ErrPasswordReused)
	assert.ErrorIs(t, policy.CheckHistory(hasher, "Middle1!aa", history), ErrPasswordReused)
	assert.NoError(t, policy.CheckHistory(hasher, "Oldest1!aa", history), "beyond history depth")
	assert.NoError(t, policy.CheckHistory(hasher, "Brand1!new", history))
	assert.NoError(t, PasswordPolicy{}.CheckHistory(hasher, "Newest1!aa", history))
}
