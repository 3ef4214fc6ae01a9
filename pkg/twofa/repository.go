package twofa

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
)

// ErrRecordNotFound is returned by a TwoFactorStore when the principal has no record in its partition
var ErrRecordNotFound = errors.New("2FA record not found")

// Partition names the storage partition that holds a principal's 2FA state
type Partition string

const (
	PartitionUser  Partition = "user"
	PartitionAdmin Partition = "admin"
)

// State is the 2FA state embedded in a user or admin-profile record.
// BackupCodes holds sha256 hashes only, never plaintext codes.
type State struct {
	Secret      string     `json:"secret,omitempty"`
	Enabled     bool       `json:"enabled"`
	BackupCodes []string   `json:"backup_codes,omitempty"`
	VerifiedAt  *time.Time `json:"verified_at,omitempty"`
}

// HasSecret reports whether a secret has been provisioned
func (s State) HasSecret() bool {
	return s.Secret != ""
}

// Record is a principal's row in one partition
type Record struct {
	PrincipalID string `json:"principal_id"`
	Email       string `json:"email"`
	State
}

// Patch describes a partial update of State. Only fields whose Set flag is true are written.
type Patch struct {
	SetSecret      bool
	Secret         string
	SetEnabled     bool
	Enabled        bool
	SetBackupCodes bool
	BackupCodes    []string
	SetVerifiedAt  bool
	VerifiedAt     *time.Time
}

// Apply returns s with the patch applied
func (p Patch) Apply(s State) State {
	if p.SetSecret {
		s.Secret = p.Secret
	}
	if p.SetEnabled {
		s.Enabled = p.Enabled
	}
	if p.SetBackupCodes {
		s.BackupCodes = slices.Clone(p.BackupCodes)
	}
	if p.SetVerifiedAt {
		s.VerifiedAt = p.VerifiedAt
	}
	return s
}

// ProvisionPatch stores a freshly generated secret. The enabled flag is left as stored.
func ProvisionPatch(secret string) Patch {
	return Patch{SetSecret: true, Secret: secret}
}

// EnablePatch marks enrollment as confirmed at the given time with a new set of backup code hashes
func EnablePatch(hashes []string, verifiedAt time.Time) Patch {
	return Patch{
		SetEnabled:     true,
		Enabled:        true,
		SetBackupCodes: true,
		BackupCodes:    hashes,
		SetVerifiedAt:  true,
		VerifiedAt:     &verifiedAt,
	}
}

// ReplaceBackupCodesPatch swaps the whole backup code collection
func ReplaceBackupCodesPatch(hashes []string) Patch {
	return Patch{SetBackupCodes: true, BackupCodes: hashes}
}

// ResetPatch clears every 2FA field
func ResetPatch() Patch {
	return Patch{
		SetSecret:      true,
		SetEnabled:     true,
		SetBackupCodes: true,
		BackupCodes:    []string{},
		SetVerifiedAt:  true,
	}
}

// TwoFactorStore is the persistence interface of one partition
type TwoFactorStore interface {
	Partition() Partition
	FindByID(ctx context.Context, principalID string) (Record, error)
	Update(ctx context.Context, principalID string, patch Patch) error
	// ConsumeBackupCode removes hash from the principal's backup codes if present.
	// It returns false when the hash is not stored.
	ConsumeBackupCode(ctx context.Context, principalID, hash string) (bool, error)
	UpdateMany(ctx context.Context, patch Patch) error
}

// updateAllPartitions applies patch to every row of every store. Postgres partitions sharing a
// pool are updated in one transaction. Memory and file partitions are updated in order and a
// failure stops at the failing partition, leaving earlier partitions updated.
func updateAllPartitions(ctx context.Context, stores []TwoFactorStore, patch Patch) error {
	if pgStores, pool, ok := sharedPoolStores(stores); ok {
		return updateManyTx(ctx, pool, pgStores, patch)
	}
	for _, store := range stores {
		if err := store.UpdateMany(ctx, patch); err != nil {
			return fmt.Errorf("%s partition: %w", store.Partition(), err)
		}
	}
	return nil
}
