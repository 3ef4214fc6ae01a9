package twofa

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	BACKUP_CODE_COUNT = 8
	// 4 random bytes = 8 hex characters
	backupCodeBytes = 4
)

// GenerateBackupCodes returns n distinct plaintext backup codes
func GenerateBackupCodes(n int) ([]string, error) {
	codes := make([]string, 0, n)
	seen := make(map[string]struct{}, n)
	buf := make([]byte, backupCodeBytes)

	for len(codes) < n {
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("failed to read random bytes: %w", err)
		}
		code := hex.EncodeToString(buf)
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	return codes, nil
}

// NormalizeBackupCode trims whitespace and lowercases a user-typed code
func NormalizeBackupCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// HashBackupCode is the one-way hash stored in place of a backup code
func HashBackupCode(code string) string {
	sum := sha256.Sum256([]byte(NormalizeBackupCode(code)))
	return hex.EncodeToString(sum[:])
}

func hashBackupCodes(codes []string) []string {
	hashes := make([]string, len(codes))
	for i, code := range codes {
		hashes[i] = HashBackupCode(code)
	}
	return hashes
}
