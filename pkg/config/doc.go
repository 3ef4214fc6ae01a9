// Package config loads simple-twofa settings from environment variables.
//
// Every setting has an env tag read by cleanenv, so a bare environment starts the
// service with Postgres persistence, no Redis limiter and debug routes off:
//
//	cfg, err := config.Load()
//	if err != nil {
//		return err
//	}
//	if err := cfg.Validate(); err != nil {
//		return err // config.ValidationErrors lists every bad field
//	}
//
// # Environment
//
//   - TWOFA_APP_NAME, TWOFA_PREFIX, TWOFA_PERSISTENCE, TWOFA_DATA_DIR, TWOFA_DEBUG_ROUTES
//   - TWOFA_BACKUP_MAX_ATTEMPTS, TWOFA_BACKUP_COOLDOWN
//   - IDM_PG_HOST, IDM_PG_PORT, IDM_PG_DATABASE, IDM_PG_USER, IDM_PG_PASSWORD, IDM_PG_SCHEMA
//   - REDIS_ADDR, REDIS_PASSWORD, REDIS_DB
//   - JWT_SECRET, TWOFA_ELEVATED_ROLES
//   - RATELIMIT_* (global, per IP and verify endpoints)
package config
