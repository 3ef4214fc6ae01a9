// Package twofa provides TOTP two-factor authentication with backup codes.
//
// 2FA state lives on two kinds of principal: regular users and admins. Each kind is
// stored in its own partition behind a TwoFactorStore. A Resolver decides which
// partition owns a principal (admin first, then user) and every operation writes
// back through that same store.
//
// # Overview
//
// The twofa package provides:
//   - TOTP secret provisioning with an otpauth:// URI and a PNG QR code data URL
//   - Enrollment confirmation that issues 8 single-use backup codes
//   - TOTP verification with one step of clock drift in either direction
//   - Backup code verification, consumption and regeneration
//   - Disable and a bulk reset of every principal
//   - Postgres, file and in-memory stores
//
// # Basic Usage
//
//	import "github.com/tendant/simple-twofa/pkg/twofa"
//
//	stores, err := twofa.NewTwoFactorStores("postgres", twofa.StoreConfig{Pool: pool})
//	if err != nil {
//		return err
//	}
//
//	service := twofa.NewTwoFaService(
//		twofa.NewResolver(stores.Users, stores.Admins),
//		twofa.WithIssuer("Creator Platform"),
//		twofa.WithBackupCodeLimiter(twofa.NewBackupCodeLimiter(redisClient, 5, 15*time.Minute)),
//	)
//
// # Enrollment
//
//	// Step 1: provision a secret and show the QR code
//	prov, err := service.GenerateSecret(ctx, principalID, "")
//
//	// Step 2: confirm with a code from the authenticator app
//	enrollment, err := service.Enable(ctx, principalID, prov.Secret, codeFromApp)
//
//	// enrollment.BackupCodes is the only time plaintext codes are available
//
// Provisioning does not change the enabled flag. A principal that already has 2FA
// enabled keeps it, and keeps its old backup codes, until Enable confirms the new secret.
//
// # Login
//
//	valid, err := service.Verify(ctx, principalID, code)
//	if !valid {
//		// fall back to a backup code
//		valid, err = service.VerifyBackupCode(ctx, principalID, backupCode)
//	}
//
// A wrong code is reported as (false, nil). Errors are reserved for missing principals,
// principals without 2FA, rate limits and storage failures; see pkg/errors for codes.
//
// # Related Packages
//
//   - pkg/twofa/api - HTTP routes
//   - pkg/errors - Error codes and HTTP status mapping
//   - pkg/metrics - Prometheus counters
package twofa
