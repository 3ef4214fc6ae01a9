package twofa

import (
	"errors"
	"log/slog"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	DEFAULT_ISSUER = "Creator Platform"
	PERIOD         = 30
	SKEW           = 1
	// 20 bytes = 160 bits of secret entropy
	SECRET_SIZE = 20
)

var totpOpts = totp.ValidateOpts{
	Period:    PERIOD,
	Skew:      SKEW,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// GenerateTotpKey creates a random secret and its otpauth:// provisioning URI
func GenerateTotpKey(issuer, accountName string) (*otp.Key, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountName,
		Period:      PERIOD,
		SecretSize:  SECRET_SIZE,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		slog.Error("Failed to generate totp secret", "issuer", issuer, "error", err)
		return nil, err
	}
	return key, nil
}

// GenerateTotpPasscode returns the code for the time step containing t
func GenerateTotpPasscode(totpSecret string, t time.Time) (string, error) {
	code, err := totp.GenerateCodeCustom(totpSecret, t.UTC(), totpOpts)
	if err != nil {
		slog.Error("Failed to generate totp passcode", "error", err)
		return "", err
	}
	return code, nil
}

// ValidateTotpPasscode accepts codes for the step containing t and one step either side.
// A code of the wrong length is a wrong code, not an error.
func ValidateTotpPasscode(totpSecret, passcode string, t time.Time) (bool, error) {
	valid, err := totp.ValidateCustom(passcode, totpSecret, t.UTC(), totpOpts)
	if errors.Is(err, otp.ErrValidateInputInvalidLength) {
		return false, nil
	}
	if err != nil {
		slog.Error("Failed to validate totp passcode", "error", err)
		return false, err
	}
	return valid, nil
}

// passcodeExpiresIn is the time left in the step containing t
func passcodeExpiresIn(t time.Time) time.Duration {
	elapsed := t.Unix() % PERIOD
	return time.Duration(PERIOD-elapsed) * time.Second
}
