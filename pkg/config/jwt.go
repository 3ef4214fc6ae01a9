package config

import "github.com/go-chi/jwtauth/v5"

// JWTConfig holds the HS256 key used to verify tokens for elevated operations.
// There is no default secret: anyone holding it can reset 2FA for every principal.
type JWTConfig struct {
	Secret        string   `env:"JWT_SECRET" env-required:"true"`
	ElevatedRoles []string `env:"TWOFA_ELEVATED_ROLES" env-separator:"," env-default:"superadmin"`
}

func (j JWTConfig) NewJWTAuth() *jwtauth.JWTAuth {
	return jwtauth.New("HS256", []byte(j.Secret), nil)
}

func (j JWTConfig) validate() ValidationErrors {
	errs := CollectErrors(RequireMinLength("JWT_SECRET", j.Secret, 32))
	if len(j.ElevatedRoles) == 0 {
		errs = append(errs, ValidationError{Field: "TWOFA_ELEVATED_ROLES", Message: "must contain at least one value"})
	}
	return errs
}
