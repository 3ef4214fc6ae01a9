package twofa

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"time"

	twofaerrors "github.com/tendant/simple-twofa/pkg/errors"
	"github.com/tendant/simple-twofa/pkg/metrics"
)

type TwoFactorService interface {
	GenerateSecret(ctx context.Context, principalID, emailHint string) (Provisioning, error)
	Verify(ctx context.Context, principalID, code string) (bool, error)
	Enable(ctx context.Context, principalID, secret, code string) (Enrollment, error)
	Disable(ctx context.Context, principalID, code string) (bool, error)
	Status(ctx context.Context, principalID string) (Status, error)
	VerifyBackupCode(ctx context.Context, principalID, code string) (bool, error)
	RegenerateBackupCodes(ctx context.Context, principalID, code string) ([]string, error)
	RemainingBackupCodes(ctx context.Context, principalID string) (int, error)
	GenerateCurrentPasscode(ctx context.Context, principalID string) (string, time.Duration, error)
	ClearAll(ctx context.Context) error
}

type (
	Provisioning struct {
		Secret          string `json:"secret"`
		ProvisioningURI string `json:"provisioning_uri"`
		QRCodeURL       string `json:"qr_code_url"`
		ManualEntryKey  string `json:"manual_entry_key"`
	}

	Enrollment struct {
		Enabled     bool     `json:"enabled"`
		BackupCodes []string `json:"backup_codes"`
	}

	Status struct {
		Enabled              bool `json:"enabled"`
		HasSecret            bool `json:"has_secret"`
		RemainingBackupCodes int  `json:"remaining_backup_codes"`
	}
)

type TwoFaService struct {
	resolver *Resolver
	issuer   string
	limiter  *BackupCodeLimiter
	now      func() time.Time
}

type Option func(*TwoFaService)

// WithIssuer sets the application name shown in authenticator apps
func WithIssuer(issuer string) Option {
	return func(s *TwoFaService) {
		if issuer != "" {
			s.issuer = issuer
		}
	}
}

func WithBackupCodeLimiter(limiter *BackupCodeLimiter) Option {
	return func(s *TwoFaService) {
		s.limiter = limiter
	}
}

// WithClock replaces time.Now, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(s *TwoFaService) {
		s.now = now
	}
}

func NewTwoFaService(resolver *Resolver, opts ...Option) *TwoFaService {
	s := &TwoFaService{
		resolver: resolver,
		issuer:   DEFAULT_ISSUER,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateSecret provisions a new TOTP secret. The stored enabled flag is not touched:
// a principal that already has 2FA enabled stays enabled until Enable confirms the new secret.
func (s *TwoFaService) GenerateSecret(ctx context.Context, principalID, emailHint string) (Provisioning, error) {
	identity, err := s.resolver.Resolve(ctx, principalID)
	if err != nil {
		return Provisioning{}, err
	}

	accountName := emailHint
	if accountName == "" {
		accountName = identity.Email
	}
	if accountName == "" {
		accountName = identity.PrincipalID
	}

	key, err := GenerateTotpKey(s.issuer, accountName)
	if err != nil {
		metrics.Observe("setup", metrics.ResultError)
		return Provisioning{}, twofaerrors.ProvisioningError(err)
	}

	qrCode, err := RenderQRCode(key.URL())
	if err != nil {
		slog.Error("Failed to render provisioning QR code", "principalId", principalID, "error", err)
		metrics.Observe("setup", metrics.ResultError)
		return Provisioning{}, err
	}

	if err := identity.Store.Update(ctx, identity.PrincipalID, ProvisionPatch(key.Secret())); err != nil {
		return Provisioning{}, storeError("setup", err, principalID, "failed to store 2FA secret")
	}

	slog.Info("Provisioned 2FA secret", "principalId", principalID, "partition", identity.Store.Partition(), "enabled", identity.Enabled)
	metrics.Observe("setup", metrics.ResultSuccess)

	return Provisioning{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
		QRCodeURL:       qrCode,
		ManualEntryKey:  key.Secret(),
	}, nil
}

// Verify checks a TOTP code against the stored secret. A wrong code is (false, nil).
func (s *TwoFaService) Verify(ctx context.Context, principalID, code string) (bool, error) {
	identity, err := s.resolver.Resolve(ctx, principalID)
	if err != nil {
		return false, err
	}
	if !identity.HasSecret() {
		metrics.Observe("verify", metrics.ResultFailure)
		return false, twofaerrors.Unauthorized("2FA is not set up for this account")
	}

	valid, err := s.checkPasscode(identity.Secret, code)
	if err != nil {
		metrics.Observe("verify", metrics.ResultError)
		return false, err
	}
	if !valid {
		slog.Warn("Invalid 2FA token", "principalId", principalID)
		metrics.Observe("verify", metrics.ResultFailure)
		return false, nil
	}

	metrics.Observe("verify", metrics.ResultSuccess)
	return true, nil
}

// Enable confirms a provisioned secret and issues backup codes. The plaintext codes are only
// returned here; the store keeps their hashes.
func (s *TwoFaService) Enable(ctx context.Context, principalID, secret, code string) (Enrollment, error) {
	identity, err := s.resolver.Resolve(ctx, principalID)
	if err != nil {
		return Enrollment{}, err
	}

	if !identity.HasSecret() || subtle.ConstantTimeCompare([]byte(secret), []byte(identity.Secret)) != 1 {
		metrics.Observe("enable", metrics.ResultFailure)
		return Enrollment{}, twofaerrors.BadRequest("2FA secret does not match the provisioned secret")
	}

	valid, err := s.checkPasscode(secret, code)
	if err != nil {
		metrics.Observe("enable", metrics.ResultError)
		return Enrollment{}, err
	}
	if !valid {
		slog.Warn("Invalid 2FA token on enable", "principalId", principalID)
		metrics.Observe("enable", metrics.ResultFailure)
		return Enrollment{}, twofaerrors.Unauthorized("invalid 2FA token")
	}

	codes, err := GenerateBackupCodes(BACKUP_CODE_COUNT)
	if err != nil {
		metrics.Observe("enable", metrics.ResultError)
		return Enrollment{}, twofaerrors.InternalWrap(err, "failed to generate backup codes")
	}

	if err := identity.Store.Update(ctx, identity.PrincipalID, EnablePatch(hashBackupCodes(codes), s.now().UTC())); err != nil {
		return Enrollment{}, storeError("enable", err, principalID, "failed to enable 2FA")
	}

	slog.Info("Enabled 2FA", "principalId", principalID, "partition", identity.Store.Partition())
	metrics.Observe("enable", metrics.ResultSuccess)

	return Enrollment{Enabled: true, BackupCodes: codes}, nil
}

// Disable clears all 2FA state after a successful TOTP check
func (s *TwoFaService) Disable(ctx context.Context, principalID, code string) (bool, error) {
	identity, err := s.resolver.Resolve(ctx, principalID)
	if err != nil {
		return false, err
	}
	if !identity.Enabled {
		metrics.Observe("disable", metrics.ResultFailure)
		return false, twofaerrors.BadRequest("2FA is not enabled")
	}

	valid, err := s.checkPasscode(identity.Secret, code)
	if err != nil {
		metrics.Observe("disable", metrics.ResultError)
		return false, err
	}
	if !valid {
		slog.Warn("Invalid 2FA token on disable", "principalId", principalID)
		metrics.Observe("disable", metrics.ResultFailure)
		return false, twofaerrors.Unauthorized("invalid 2FA token")
	}

	if err := identity.Store.Update(ctx, identity.PrincipalID, ResetPatch()); err != nil {
		return false, storeError("disable", err, principalID, "failed to disable 2FA")
	}

	slog.Info("Disabled 2FA", "principalId", principalID, "partition", identity.Store.Partition())
	metrics.Observe("disable", metrics.ResultSuccess)
	return true, nil
}

func (s *TwoFaService) Status(ctx context.Context, principalID string) (Status, error) {
	identity, err := s.resolver.Resolve(ctx, principalID)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Enabled:              identity.Enabled,
		HasSecret:            identity.HasSecret(),
		RemainingBackupCodes: len(identity.BackupCodes),
	}, nil
}

// VerifyBackupCode consumes a backup code. A code that is not stored is (false, nil).
func (s *TwoFaService) VerifyBackupCode(ctx context.Context, principalID, code string) (bool, error) {
	identity, err := s.resolver.Resolve(ctx, principalID)
	if err != nil {
		return false, err
	}
	if !identity.Enabled || len(identity.BackupCodes) == 0 {
		metrics.Observe("verify_backup", metrics.ResultFailure)
		return false, twofaerrors.Unauthorized("no backup codes available")
	}

	if err := s.limiter.Check(ctx, principalID); err != nil {
		if errors.Is(err, ErrBackupCodeRateLimited) {
			slog.Warn("Backup code attempts locked", "principalId", principalID)
			metrics.Observe("verify_backup", metrics.ResultFailure)
			return false, twofaerrors.RateLimitExceeded(s.limiter.Cooldown().String())
		}
		slog.Error("Backup code limiter check failed", "principalId", principalID, "error", err)
		metrics.Observe("verify_backup", metrics.ResultError)
		return false, twofaerrors.InternalWrap(err, "failed to check backup code attempts")
	}

	consumed, err := identity.Store.ConsumeBackupCode(ctx, identity.PrincipalID, HashBackupCode(code))
	if err != nil {
		return false, storeError("verify_backup", err, principalID, "failed to consume backup code")
	}

	if !consumed {
		slog.Warn("Invalid backup code", "principalId", principalID)
		if err := s.limiter.RecordFailure(ctx, principalID); err != nil {
			slog.Error("Failed to record backup code failure", "principalId", principalID, "error", err)
		}
		metrics.Observe("verify_backup", metrics.ResultFailure)
		return false, nil
	}

	if err := s.limiter.Reset(ctx, principalID); err != nil {
		slog.Error("Failed to reset backup code attempts", "principalId", principalID, "error", err)
	}
	slog.Info("Backup code used", "principalId", principalID, "partition", identity.Store.Partition(), "remaining", len(identity.BackupCodes)-1)
	metrics.Observe("verify_backup", metrics.ResultSuccess)
	metrics.BackupCodesConsumedTotal.WithLabelValues(string(identity.Store.Partition())).Inc()
	return true, nil
}

// RegenerateBackupCodes replaces every stored backup code, used or not, after a TOTP check
func (s *TwoFaService) RegenerateBackupCodes(ctx context.Context, principalID, code string) ([]string, error) {
	identity, err := s.resolver.Resolve(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if !identity.Enabled {
		metrics.Observe("regenerate_backup", metrics.ResultFailure)
		return nil, twofaerrors.BadRequest("2FA is not enabled")
	}

	valid, err := s.checkPasscode(identity.Secret, code)
	if err != nil {
		metrics.Observe("regenerate_backup", metrics.ResultError)
		return nil, err
	}
	if !valid {
		slog.Warn("Invalid 2FA token on backup code regeneration", "principalId", principalID)
		metrics.Observe("regenerate_backup", metrics.ResultFailure)
		return nil, twofaerrors.Unauthorized("invalid 2FA token")
	}

	codes, err := GenerateBackupCodes(BACKUP_CODE_COUNT)
	if err != nil {
		metrics.Observe("regenerate_backup", metrics.ResultError)
		return nil, twofaerrors.InternalWrap(err, "failed to generate backup codes")
	}

	if err := identity.Store.Update(ctx, identity.PrincipalID, ReplaceBackupCodesPatch(hashBackupCodes(codes))); err != nil {
		return nil, storeError("regenerate_backup", err, principalID, "failed to store backup codes")
	}

	slog.Info("Regenerated backup codes", "principalId", principalID, "partition", identity.Store.Partition())
	metrics.Observe("regenerate_backup", metrics.ResultSuccess)
	return codes, nil
}

func (s *TwoFaService) RemainingBackupCodes(ctx context.Context, principalID string) (int, error) {
	identity, err := s.resolver.Resolve(ctx, principalID)
	if err != nil {
		return 0, err
	}
	return len(identity.BackupCodes), nil
}

// GenerateCurrentPasscode returns the code an authenticator would show right now.
// Only for debug routes.
func (s *TwoFaService) GenerateCurrentPasscode(ctx context.Context, principalID string) (string, time.Duration, error) {
	identity, err := s.resolver.Resolve(ctx, principalID)
	if err != nil {
		return "", 0, err
	}
	if !identity.HasSecret() {
		return "", 0, twofaerrors.Unauthorized("2FA is not set up for this account")
	}

	now := s.now()
	code, err := GenerateTotpPasscode(identity.Secret, now)
	if err != nil {
		return "", 0, twofaerrors.InternalWrap(err, "failed to generate 2FA token")
	}
	return code, passcodeExpiresIn(now), nil
}

// ClearAll resets 2FA state for every principal in every partition. It performs no
// authorization of its own.
func (s *TwoFaService) ClearAll(ctx context.Context) error {
	stores := s.resolver.Stores()
	if err := updateAllPartitions(ctx, stores, ResetPatch()); err != nil {
		slog.Error("Failed to clear 2FA state", "error", err)
		metrics.Observe("clear_all", metrics.ResultError)
		return twofaerrors.InternalWrap(err, "failed to clear 2FA state")
	}
	slog.Warn("Cleared 2FA state for all principals", "partitions", len(stores))
	metrics.Observe("clear_all", metrics.ResultSuccess)
	return nil
}

// checkPasscode is the possession gate shared by every TOTP-protected operation
func (s *TwoFaService) checkPasscode(secret, code string) (bool, error) {
	valid, err := ValidateTotpPasscode(secret, code, s.now())
	if err != nil {
		return false, twofaerrors.InternalWrap(err, "failed to validate 2FA token")
	}
	return valid, nil
}

// storeError maps a failed write for operation to a service error and counts it
func storeError(operation string, err error, principalID, message string) error {
	metrics.Observe(operation, metrics.ResultError)
	if errors.Is(err, ErrRecordNotFound) {
		return twofaerrors.NotFound("principal", principalID)
	}
	slog.Error(message, "principalId", principalID, "error", err)
	return twofaerrors.InternalWrap(err, message)
}
