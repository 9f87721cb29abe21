package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"leadline/internal/domain"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Permissions granted by role. Admin holds every permission.
const (
	PermLeadDelete   = "lead.delete"
	PermLeadAssign   = "lead.assign"
	PermStateManage  = "state.manage"
	PermPolicyManage = "policy.manage"
	PermActorManage  = "actor.manage"
)

var rolePermissions = map[string][]string{
	domain.RoleAdmin:    {PermLeadDelete, PermLeadAssign, PermStateManage, PermPolicyManage, PermActorManage},
	domain.RoleUser:     {},
	domain.RolePreSales: {},
	domain.RoleSales:    {},
}

// ValidRole reports whether role is one of the known actor roles.
func ValidRole(role string) bool {
	_, ok := rolePermissions[role]
	return ok
}

// Permissions lists what role may do.
func Permissions(role string) []string {
	return append([]string(nil), rolePermissions[role]...)
}

// Service provides role checks backed by SQL.
type Service struct {
	DB *sql.DB
}

// ActorRole returns the role of an active actor.
func (s Service) ActorRole(ctx context.Context, tx *sql.Tx, actorID string) (string, error) {
	if actorID == "" {
		return "", errors.New("actor_id required")
	}
	var role string
	var active bool
	err := tx.QueryRowContext(ctx, `SELECT role, active FROM actors WHERE id=?`, actorID).Scan(&role, &active)
	if err == sql.ErrNoRows || (err == nil && !active) {
		return "", ForbiddenError{Permission: "actor.active"}
	}
	return role, err
}

func (s Service) ActorHasPermission(ctx context.Context, tx *sql.Tx, actorID, perm string) (bool, error) {
	role, err := s.ActorRole(ctx, tx, actorID)
	if err != nil {
		return false, err
	}
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true, nil
		}
	}
	return false, nil
}

// Require returns ForbiddenError unless actorID holds perm.
func (s Service) Require(ctx context.Context, tx *sql.Tx, actorID, perm string) error {
	ok, err := s.ActorHasPermission(ctx, tx, actorID, perm)
	if err != nil {
		return err
	}
	if !ok {
		return ForbiddenError{Permission: perm}
	}
	return nil
}
