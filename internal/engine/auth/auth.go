package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type Role string

const (
	RoleAssessor      Role = "assessor"
	RoleReviewer      Role = "reviewer"
	RoleAdministrator Role = "administrator"
)

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleAssessor, RoleReviewer, RoleAdministrator:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Actor is a user as seen by capability checks.
type Actor struct {
	ID       string
	TenantID string
	Role     Role
}

// HasRole reports whether the actor may act as role. Administrators may act
// as anyone; reviewers may also assess.
func HasRole(a Actor, role Role) bool {
	switch a.Role {
	case RoleAdministrator:
		return true
	case RoleReviewer:
		return role == RoleReviewer || role == RoleAssessor
	case RoleAssessor:
		return role == RoleAssessor
	}
	return false
}

// ForbiddenError indicates the actor lacks a role.
type ForbiddenError struct {
	ActorID string
	Role    Role
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("actor %s needs role %s", e.ActorID, e.Role)
}

var ErrUnknownActor = errors.New("unknown actor")

// Service resolves actors from the users table.
type Service struct {
	DB *sql.DB
}

func (s Service) ActorTx(ctx context.Context, tx *sql.Tx, actorID string) (Actor, error) {
	if actorID == "" {
		return Actor{}, errors.New("actor_id required")
	}
	var a Actor
	err := tx.QueryRowContext(ctx, `SELECT id, tenant_id, role FROM users WHERE id=?`, actorID).Scan(&a.ID, &a.TenantID, &a.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return Actor{}, fmt.Errorf("%w: %s", ErrUnknownActor, actorID)
	}
	return a, err
}

// RequireTx loads the actor and checks it may act as role within tenantID.
func (s Service) RequireTx(ctx context.Context, tx *sql.Tx, tenantID, actorID string, role Role) (Actor, error) {
	a, err := s.ActorTx(ctx, tx, actorID)
	if errors.Is(err, ErrUnknownActor) {
		return Actor{}, ForbiddenError{ActorID: actorID, Role: role}
	}
	if err != nil {
		return Actor{}, err
	}
	if a.TenantID != tenantID || !HasRole(a, role) {
		return Actor{}, ForbiddenError{ActorID: actorID, Role: role}
	}
	return a, nil
}

// Role returns the role of a known actor, empty if the actor is not a user.
func (s Service) Role(ctx context.Context, actorID string) (Role, error) {
	var role Role
	err := s.DB.QueryRowContext(ctx, `SELECT role FROM users WHERE id=?`, actorID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return role, err
}
