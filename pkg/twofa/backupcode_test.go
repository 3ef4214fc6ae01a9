package twofa

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateBackupCodes(t *testing.T) {
	codes, err := GenerateBackupCodes(BACKUP_CODE_COUNT)
	require.NoError(t, err)
	require.Len(t, codes, BACKUP_CODE_COUNT)

	seen := make(map[string]bool)
	for _, code := range codes {
		assert.Regexp(t, `^[0-9a-f]{8}$`, code)
		assert.False(t, seen[code])
		seen[code] = true
	}

	empty, err := GenerateBackupCodes(0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestHashBackupCode(t *testing.T) {
	hash := HashBackupCode("a1b2c3d4")
	assert.Len(t, hash, 64)
	assert.NotEqual(t, "a1b2c3d4", hash)

	assert.Equal(t, hash, HashBackupCode(" A1B2C3D4 "))
	assert.NotEqual(t, hash, HashBackupCode("a1b2c3d5"))

	assert.Equal(t, []string{hash, HashBackupCode("ffffffff")}, hashBackupCodes([]string{"a1b2c3d4", "FFFFFFFF"}))
}
