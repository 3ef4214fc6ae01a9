package twofa

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// StoreConfig contains configuration for creating the partition stores
type StoreConfig struct {
	// Pool is required for PostgreSQL stores
	Pool *pgxpool.Pool
	// DataDir is required for file-based stores
	DataDir string
}

// Stores holds one store per partition
type Stores struct {
	Users  TwoFactorStore
	Admins TwoFactorStore
}

// NewTwoFactorStores creates the user and admin stores based on the persistence type
func NewTwoFactorStores(persistenceType string, config StoreConfig) (Stores, error) {
	switch persistenceType {
	case "postgres", "postgresql":
		if config.Pool == nil {
			return Stores{}, fmt.Errorf("pool required for postgres store")
		}
		users, err := NewPostgresStore(config.Pool, PartitionUser)
		if err != nil {
			return Stores{}, err
		}
		admins, err := NewPostgresStore(config.Pool, PartitionAdmin)
		if err != nil {
			return Stores{}, err
		}
		return Stores{Users: users, Admins: admins}, nil
	case "file":
		if config.DataDir == "" {
			return Stores{}, fmt.Errorf("dataDir required for file store")
		}
		users, err := NewFileStore(config.DataDir, PartitionUser)
		if err != nil {
			return Stores{}, err
		}
		admins, err := NewFileStore(config.DataDir, PartitionAdmin)
		if err != nil {
			return Stores{}, err
		}
		return Stores{Users: users, Admins: admins}, nil
	case "memory", "inmem":
		return Stores{
			Users:  NewInMemoryStore(PartitionUser),
			Admins: NewInMemoryStore(PartitionAdmin),
		}, nil
	default:
		return Stores{}, fmt.Errorf("unsupported persistence type: %s (supported: postgres, file, memory)", persistenceType)
	}
}
