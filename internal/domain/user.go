package domain

import "errors"

// User is an authenticated caller of the HTTP API.
type User struct {
	ID   string
	Role Role
}

// Role represents a user's access level
type Role string

const (
	// RoleOwner may collect the ledger's reserve.
	RoleOwner Role = "owner"

	// RoleDepositor may deposit and withdraw for its own account.
	RoleDepositor Role = "depositor"

	// RoleViewer can only read balances and events.
	RoleViewer Role = "viewer"
)

var validRoles = map[Role]bool{
	RoleOwner:     true,
	RoleDepositor: true,
	RoleViewer:    true,
}

// IsValid checks if the role is a valid role
func (r Role) IsValid() bool {
	return validRoles[r]
}

// CanMutate reports whether the role may deposit or withdraw.
func (r Role) CanMutate() bool {
	return r == RoleOwner || r == RoleDepositor
}

// Authentication errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)
