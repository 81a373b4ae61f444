// Package user models the end customer a subscription and its keys belong to.
package user

import (
	"fmt"
	"time"
)

// User is a customer of the service. Authentication and profile management
// live outside this module; only the fields the control plane needs to
// reason about entitlement and delivery are modeled here.
type User struct {
	id          uint
	displayName string
	isVIP       bool
	createdAt   time.Time
}

// New creates a new user.
func New(displayName string, isVIP bool) (*User, error) {
	if displayName == "" {
		return nil, fmt.Errorf("display name is required")
	}
	return &User{
		displayName: displayName,
		isVIP:       isVIP,
		createdAt:   time.Now().UTC(),
	}, nil
}

// Reconstruct rebuilds a User from persistence.
func Reconstruct(id uint, displayName string, isVIP bool, createdAt time.Time) (*User, error) {
	if id == 0 {
		return nil, fmt.Errorf("user id cannot be zero")
	}
	if displayName == "" {
		return nil, fmt.Errorf("display name is required")
	}
	return &User{id: id, displayName: displayName, isVIP: isVIP, createdAt: createdAt}, nil
}

func (u *User) ID() uint             { return u.id }
func (u *User) DisplayName() string  { return u.displayName }
func (u *User) IsVIP() bool          { return u.isVIP }
func (u *User) CreatedAt() time.Time { return u.createdAt }

// Rename changes the display name shown in admin tooling and notifications.
func (u *User) Rename(displayName string) error {
	if displayName == "" {
		return fmt.Errorf("display name is required")
	}
	u.displayName = displayName
	return nil
}

// SetVIP flags a user for priority/expanded access level resolution.
func (u *User) SetVIP(isVIP bool) {
	u.isVIP = isVIP
}
