package config

import (
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// TwoFAConfig holds the 2FA service settings
type TwoFAConfig struct {
	AppName     string `env:"TWOFA_APP_NAME" env-default:"Creator Platform"`
	Prefix      string `env:"TWOFA_PREFIX" env-default:"/2fa"`
	Persistence string `env:"TWOFA_PERSISTENCE" env-default:"postgres"`
	DataDir     string `env:"TWOFA_DATA_DIR" env-default:"./data"`
	DebugRoutes bool   `env:"TWOFA_DEBUG_ROUTES" env-default:"false"`

	BackupMaxAttempts int           `env:"TWOFA_BACKUP_MAX_ATTEMPTS" env-default:"5"`
	BackupCooldown    time.Duration `env:"TWOFA_BACKUP_COOLDOWN" env-default:"15m"`
}

var persistenceTypes = []string{"postgres", "postgresql", "file", "memory", "inmem"}

func (c TwoFAConfig) UsesPostgres() bool {
	return c.Persistence == "postgres" || c.Persistence == "postgresql"
}

func (c TwoFAConfig) validate() ValidationErrors {
	errs := CollectErrors(
		RequireNonEmpty("TWOFA_APP_NAME", c.AppName),
		RequireOneOf("TWOFA_PERSISTENCE", c.Persistence, persistenceTypes),
		RequirePositive("TWOFA_BACKUP_MAX_ATTEMPTS", c.BackupMaxAttempts),
		RequirePositiveDuration("TWOFA_BACKUP_COOLDOWN", c.BackupCooldown),
	)
	if !strings.HasPrefix(c.Prefix, "/") {
		errs = append(errs, ValidationError{Field: "TWOFA_PREFIX", Message: "must start with /"})
	}
	if c.Persistence == "file" {
		errs = append(errs, CollectErrors(RequireNonEmpty("TWOFA_DATA_DIR", c.DataDir))...)
	}
	return errs
}

// Config is everything the twofa server reads from the environment
type Config struct {
	TwoFA     TwoFAConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
}

// Load reads the config from environment variables, applying defaults
func Load() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	validators := []Validator{c.TwoFA.validate, c.JWT.validate}
	if c.TwoFA.UsesPostgres() {
		validators = append(validators, c.Database.validate)
	}
	return Validate(validators...)
}
