package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"bops/internal/config"
	"bops/internal/domain"
	"bops/internal/engine/auth"
	"bops/internal/repo"
)

// CreateTenant registers a local authority with cfg, or the default
// configuration when cfg is nil.
func (e Engine) CreateTenant(ctx context.Context, id, name string, cfg *config.Config) (domain.Tenant, error) {
	if err := nonEmpty("tenant id", id); err != nil {
		return domain.Tenant{}, err
	}
	if cfg == nil {
		cfg = config.Default(id)
	}
	if cfg.Tenant.ID != id {
		return domain.Tenant{}, fmt.Errorf("config belongs to tenant %s, not %s", cfg.Tenant.ID, id)
	}
	if err := cfg.Validate(); err != nil {
		return domain.Tenant{}, err
	}
	if name == "" {
		name = cfg.Tenant.Name
	}
	t := domain.Tenant{ID: id, Name: name, CreatedAt: e.stamp()}
	return inTx(ctx, e.DB, func(tx *sql.Tx) (domain.Tenant, error) {
		if err := e.Repo.InsertTenant(ctx, tx, t); err != nil {
			if repo.IsUniqueViolation(err) {
				return domain.Tenant{}, fmt.Errorf("tenant %s already exists", id)
			}
			return domain.Tenant{}, fmt.Errorf("insert tenant: %w", err)
		}
		if err := e.Repo.UpsertTenantConfigTx(ctx, tx, id, cfg); err != nil {
			return domain.Tenant{}, fmt.Errorf("insert tenant config: %w", err)
		}
		return t, nil
	})
}

type UserOptions struct {
	ID       string
	TenantID string
	Name     string
	Email    string
	Role     string
}

func (e Engine) CreateUser(ctx context.Context, opts UserOptions) (domain.User, error) {
	role, err := auth.ParseRole(opts.Role)
	if err != nil {
		return domain.User{}, invalidPayload("%v", err)
	}
	if err := nonEmpty("name", opts.Name); err != nil {
		return domain.User{}, err
	}
	if _, err := e.Repo.GetTenant(ctx, opts.TenantID); err != nil {
		return domain.User{}, err
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	u := domain.User{
		ID:        opts.ID,
		TenantID:  opts.TenantID,
		Name:      opts.Name,
		Email:     opts.Email,
		Role:      string(role),
		CreatedAt: e.stamp(),
	}
	return inTx(ctx, e.DB, func(tx *sql.Tx) (domain.User, error) {
		if err := e.Repo.InsertUserTx(ctx, tx, u); err != nil {
			return domain.User{}, fmt.Errorf("insert user: %w", err)
		}
		return u, nil
	})
}

// SetUserRole changes a user's role. Only administrators of the same tenant
// may do this.
func (e Engine) SetUserRole(ctx context.Context, userID, role, actorID string) (domain.User, error) {
	r, err := auth.ParseRole(role)
	if err != nil {
		return domain.User{}, invalidPayload("%v", err)
	}
	return inTx(ctx, e.DB, func(tx *sql.Tx) (domain.User, error) {
		u, err := e.Repo.GetUserTx(ctx, tx, userID)
		if err != nil {
			return domain.User{}, err
		}
		if _, err := e.Auth.RequireTx(ctx, tx, u.TenantID, actorID, auth.RoleAdministrator); err != nil {
			return domain.User{}, err
		}
		if err := e.Repo.UpdateUserRoleTx(ctx, tx, userID, string(r)); err != nil {
			return domain.User{}, err
		}
		u.Role = string(r)
		return u, nil
	})
}

// CreateAPIKey issues a key for a user. The plain key is returned once; only
// its hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, userID, name string) (domain.APIKey, string, error) {
	if _, err := e.Repo.GetUser(ctx, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.APIKey{}, "", fmt.Errorf("user %s: %w", userID, err)
		}
		return domain.APIKey{}, "", err
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", err
	}
	plain := "bops_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   userID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: e.stamp(),
	}
	out, err := inTx(ctx, e.DB, func(tx *sql.Tx) (domain.APIKey, error) {
		return key, e.Repo.InsertAPIKeyTx(ctx, tx, key)
	})
	if err != nil {
		return domain.APIKey{}, "", err
	}
	return out, plain, nil
}

// ListAPIKeys returns the keys issued to a user. Only hashes are stored.
func (e Engine) ListAPIKeys(ctx context.Context, userID string) ([]domain.APIKey, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("user id required")
	}
	return e.Repo.ListAPIKeys(ctx, userID)
}

// RevokeAPIKey deletes one of a user's keys. Users may revoke their own
// keys; administrators may revoke any key in their tenant.
func (e Engine) RevokeAPIKey(ctx context.Context, userID, keyID, actorID string) error {
	_, err := inTx(ctx, e.DB, func(tx *sql.Tx) (struct{}, error) {
		u, err := e.Repo.GetUserTx(ctx, tx, userID)
		if err != nil {
			return struct{}{}, err
		}
		if actorID != userID {
			if _, err := e.Auth.RequireTx(ctx, tx, u.TenantID, actorID, auth.RoleAdministrator); err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, e.Repo.DeleteAPIKeyTx(ctx, tx, userID, keyID)
	})
	return err
}
