// Package permission wires casbin's RBAC engine to the admin surface: an
// operator (identified by a subject string set by whatever session layer
// sits in front of this service) must hold a role granted access to a
// resource/action pair before an admin handler runs.
package permission

import (
	"fmt"
	"sync"

	"github.com/casbin/casbin/v2"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"gorm.io/gorm"

	"github.com/veevpn/panel/internal/shared/logger"
)

// Enforcer guards casbin's enforcer with a mutex since policy reloads and
// enforcement checks can race across goroutines serving concurrent requests.
type Enforcer struct {
	enforcer *casbin.Enforcer
	mu       sync.RWMutex
	logger   logger.Interface
}

// NewEnforcer loads the RBAC model from modelPath and stores policy rows in
// the same database as everything else, via the gorm adapter.
func NewEnforcer(db *gorm.DB, modelPath string, log logger.Interface) (*Enforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin adapter: %w", err)
	}

	enforcer, err := casbin.NewEnforcer(modelPath, adapter)
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}

	if err := enforcer.LoadPolicy(); err != nil {
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}

	return &Enforcer{enforcer: enforcer, logger: log}, nil
}

// Enforce checks whether subject may perform action on resource.
func (e *Enforcer) Enforce(subject, resource, action string) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	allowed, err := e.enforcer.Enforce(subject, resource, action)
	if err != nil {
		e.logger.Errorw("permission check failed", "error", err, "subject", subject, "resource", resource, "action", action)
		return false, fmt.Errorf("permission check failed: %w", err)
	}
	return allowed, nil
}

// AddPolicy grants role the ability to perform action on resource.
func (e *Enforcer) AddPolicy(role, resource, action string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.enforcer.AddPolicy(role, resource, action); err != nil {
		return fmt.Errorf("failed to add policy: %w", err)
	}
	return e.enforcer.SavePolicy()
}

// RemovePolicy revokes a previously granted role/resource/action triple.
func (e *Enforcer) RemovePolicy(role, resource, action string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.enforcer.RemovePolicy(role, resource, action); err != nil {
		return fmt.Errorf("failed to remove policy: %w", err)
	}
	return e.enforcer.SavePolicy()
}

// AddRoleForSubject assigns an admin subject to a role.
func (e *Enforcer) AddRoleForSubject(subject, role string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.enforcer.AddRoleForUser(subject, role); err != nil {
		return fmt.Errorf("failed to add role: %w", err)
	}
	return e.enforcer.SavePolicy()
}

// DeleteRoleForSubject removes a role assignment from an admin subject.
func (e *Enforcer) DeleteRoleForSubject(subject, role string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.enforcer.DeleteRoleForUser(subject, role); err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	return e.enforcer.SavePolicy()
}

// RolesForSubject lists the roles an admin subject currently holds.
func (e *Enforcer) RolesForSubject(subject string) ([]string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	roles, err := e.enforcer.GetRolesForUser(subject)
	if err != nil {
		return nil, fmt.Errorf("failed to get roles: %w", err)
	}
	return roles, nil
}

// LoadPolicy re-reads policy rows from the database, picking up out-of-band
// edits (a migration seeding default roles, a DBA fixing a stuck grant).
func (e *Enforcer) LoadPolicy() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.enforcer.LoadPolicy(); err != nil {
		return fmt.Errorf("failed to reload policy: %w", err)
	}
	e.logger.Info("casbin policy reloaded")
	return nil
}
