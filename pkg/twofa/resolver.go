package twofa

import (
	"context"
	"errors"
	"log/slog"

	twofaerrors "github.com/tendant/simple-twofa/pkg/errors"
)

// Identity is the partition-agnostic view of a principal's 2FA state.
// Store is the partition that owns the state; all writes for this principal go through it.
type Identity struct {
	PrincipalID string
	IsAdmin     bool
	Email       string
	State
	Store TwoFactorStore
}

// Resolver decides which partition holds a principal's 2FA state
type Resolver struct {
	users  TwoFactorStore
	admins TwoFactorStore
}

func NewResolver(users, admins TwoFactorStore) *Resolver {
	return &Resolver{
		users:  users,
		admins: admins,
	}
}

// Resolve loads a principal. A principal with an admin profile is an admin;
// otherwise its plain user record is used.
func (r *Resolver) Resolve(ctx context.Context, principalID string) (Identity, error) {
	if principalID == "" {
		return Identity{}, twofaerrors.NotFound("principal", principalID)
	}

	for _, store := range []TwoFactorStore{r.admins, r.users} {
		record, err := store.FindByID(ctx, principalID)
		if errors.Is(err, ErrRecordNotFound) {
			continue
		}
		if err != nil {
			slog.Error("Failed to resolve principal", "principalId", principalID, "partition", store.Partition(), "error", err)
			return Identity{}, twofaerrors.InternalWrap(err, "failed to load 2FA state")
		}
		return Identity{
			PrincipalID: record.PrincipalID,
			IsAdmin:     store.Partition() == PartitionAdmin,
			Email:       record.Email,
			State:       record.State,
			Store:       store,
		}, nil
	}

	return Identity{}, twofaerrors.NotFound("principal", principalID)
}

// Stores returns every partition, admins first
func (r *Resolver) Stores() []TwoFactorStore {
	return []TwoFactorStore{r.admins, r.users}
}
