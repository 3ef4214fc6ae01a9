package twofa

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// table layout of one partition
type pgPartition struct {
	table     string
	keyColumn string
	selectSQL string
}

var pgPartitions = map[Partition]pgPartition{
	PartitionUser: {
		table:     "users",
		keyColumn: "id",
		selectSQL: `
		SELECT u.id, u.email, u.two_factor_secret, u.two_factor_enabled,
			u.two_factor_backup_codes, u.two_factor_verified_at
		FROM users u
		WHERE u.id = $1
	`,
	},
	PartitionAdmin: {
		table:     "admin_profiles",
		keyColumn: "user_id",
		selectSQL: `
		SELECT a.user_id, u.email, a.two_factor_secret, a.two_factor_enabled,
			a.two_factor_backup_codes, a.two_factor_verified_at
		FROM admin_profiles a
		JOIN users u ON u.id = a.user_id
		WHERE a.user_id = $1
	`,
	},
}

// PostgresStore implements TwoFactorStore using PostgreSQL.
// The user partition is the users table; the admin partition is admin_profiles joined to users.
type PostgresStore struct {
	pool      *pgxpool.Pool
	partition Partition
	layout    pgPartition
}

// NewPostgresStore creates a new PostgreSQL-backed store for the given partition
func NewPostgresStore(pool *pgxpool.Pool, partition Partition) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	layout, ok := pgPartitions[partition]
	if !ok {
		return nil, fmt.Errorf("unsupported partition: %s", partition)
	}
	return &PostgresStore{
		pool:      pool,
		partition: partition,
		layout:    layout,
	}, nil
}

func (r *PostgresStore) Partition() Partition {
	return r.partition
}

// FindByID retrieves the 2FA state of a principal
func (r *PostgresStore) FindByID(ctx context.Context, principalID string) (Record, error) {
	var (
		record     Record
		secret     pgtype.Text
		verifiedAt pgtype.Timestamptz
	)

	err := r.pool.QueryRow(ctx, r.layout.selectSQL, principalID).Scan(
		&record.PrincipalID,
		&record.Email,
		&secret,
		&record.Enabled,
		&record.BackupCodes,
		&verifiedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrRecordNotFound
		}
		return Record{}, fmt.Errorf("failed to get 2FA record: %w", err)
	}

	record.Secret = secret.String
	if verifiedAt.Valid {
		t := verifiedAt.Time
		record.VerifiedAt = &t
	}
	return record, nil
}

// setClause builds the SET list for a Patch with parameters starting at $first
func setClause(first int) string {
	return fmt.Sprintf(`
			two_factor_secret = CASE WHEN $%d THEN NULLIF($%d, '') ELSE two_factor_secret END,
			two_factor_enabled = CASE WHEN $%d THEN $%d ELSE two_factor_enabled END,
			two_factor_backup_codes = CASE WHEN $%d THEN $%d::text[] ELSE two_factor_backup_codes END,
			two_factor_verified_at = CASE WHEN $%d THEN $%d::timestamptz ELSE two_factor_verified_at END,
			updated_at = NOW()`,
		first, first+1, first+2, first+3, first+4, first+5, first+6, first+7)
}

func patchArgs(patch Patch) []any {
	codes := patch.BackupCodes
	if codes == nil {
		codes = []string{}
	}
	return []any{
		patch.SetSecret, patch.Secret,
		patch.SetEnabled, patch.Enabled,
		patch.SetBackupCodes, codes,
		patch.SetVerifiedAt, patch.VerifiedAt,
	}
}

// Update applies a patch to one principal's row
func (r *PostgresStore) Update(ctx context.Context, principalID string, patch Patch) error {
	query := fmt.Sprintf(`UPDATE %s SET %s WHERE %s = $1`, r.layout.table, setClause(2), r.layout.keyColumn)

	args := append([]any{principalID}, patchArgs(patch)...)
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update 2FA record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// ConsumeBackupCode removes the hash in a single statement so concurrent requests cannot both use it
func (r *PostgresStore) ConsumeBackupCode(ctx context.Context, principalID, hash string) (bool, error) {
	query := fmt.Sprintf(`
		UPDATE %[1]s
		SET two_factor_backup_codes = array_remove(two_factor_backup_codes, $2), updated_at = NOW()
		WHERE %[2]s = $1 AND $2 = ANY(two_factor_backup_codes)
	`, r.layout.table, r.layout.keyColumn)

	tag, err := r.pool.Exec(ctx, query, principalID, hash)
	if err != nil {
		return false, fmt.Errorf("failed to consume backup code: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// pgExecer is satisfied by both *pgxpool.Pool and pgx.Tx
type pgExecer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// UpdateMany applies a patch to every row of the partition
func (r *PostgresStore) UpdateMany(ctx context.Context, patch Patch) error {
	return r.updateMany(ctx, r.pool, patch)
}

func (r *PostgresStore) updateMany(ctx context.Context, db pgExecer, patch Patch) error {
	query := fmt.Sprintf(`UPDATE %s SET %s`, r.layout.table, setClause(1))

	if _, err := db.Exec(ctx, query, patchArgs(patch)...); err != nil {
		return fmt.Errorf("failed to update 2FA records in %s partition: %w", r.partition, err)
	}
	return nil
}

// sharedPoolStores returns the stores as PostgresStores when all of them use the same pool
func sharedPoolStores(stores []TwoFactorStore) ([]*PostgresStore, *pgxpool.Pool, bool) {
	var pool *pgxpool.Pool
	pgStores := make([]*PostgresStore, 0, len(stores))
	for _, store := range stores {
		pgStore, ok := store.(*PostgresStore)
		if !ok || (pool != nil && pgStore.pool != pool) {
			return nil, nil, false
		}
		pool = pgStore.pool
		pgStores = append(pgStores, pgStore)
	}
	return pgStores, pool, pool != nil
}

// updateManyTx patches every partition in one transaction; a failure in any partition rolls back all of them
func updateManyTx(ctx context.Context, pool *pgxpool.Pool, stores []*PostgresStore, patch Patch) error {
	return pgx.BeginTxFunc(ctx, pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, store := range stores {
			if err := store.updateMany(ctx, tx, patch); err != nil {
				return err
			}
		}
		return nil
	})
}
