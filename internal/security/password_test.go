package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPasswordLengthLimits(t *testing.T) {
	_, err := HashPassword("short")
	assert.ErrorContains(t, err, "at least 12")

	// bcrypt ignores everything after 72 bytes, so longer input is refused.
	_, err = HashPassword(strings.Repeat("x", 73))
	assert.ErrorContains(t, err, "at most 72")
}

func TestVerifyPassword(t *testing.T) {
	const password = "club secretary password"
	hash, err := HashPassword(password)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$2"), "bcrypt hash expected")

	assert.True(t, VerifyPassword(password, hash))
	assert.False(t, VerifyPassword("club treasurer password", hash))
	assert.False(t, VerifyPassword(password, ""))
	assert.False(t, VerifyPassword(password, "not-a-hash"))
}
