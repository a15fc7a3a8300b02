// Package entities contains the core domain entities of the money-movement engine.
// Entities have identity and enforce their own invariants.
package entities

import (
	"strings"
	"time"

	"github.com/Haleralex/payflow/internal/domain/errors"
	"github.com/google/uuid"
)

// User is the identity that owns wallets and webhook subscriptions.
// Immutable after creation as far as this engine is concerned.
type User struct {
	id        uuid.UUID
	name      string
	email     string
	createdAt time.Time
}

// NewUser creates a new user.
//
// Business Rules:
// - Name and email are required
// - Email uniqueness is enforced by the store (unique index)
func NewUser(name, email string) (*User, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))

	if name == "" {
		return nil, errors.ValidationError{Field: "name", Message: "name is required"}
	}
	if email == "" || !strings.Contains(email, "@") {
		return nil, errors.ValidationError{Field: "email", Message: "valid email is required"}
	}

	return &User{
		id:        uuid.New(),
		name:      name,
		email:     email,
		createdAt: time.Now(),
	}, nil
}

// ReconstructUser reconstructs a User from stored data.
func ReconstructUser(id uuid.UUID, name, email string, createdAt time.Time) *User {
	return &User{
		id:        id,
		name:      name,
		email:     email,
		createdAt: createdAt,
	}
}

func (u *User) ID() uuid.UUID        { return u.id }
func (u *User) Name() string         { return u.name }
func (u *User) Email() string        { return u.email }
func (u *User) CreatedAt() time.Time { return u.createdAt }
