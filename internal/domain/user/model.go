package user

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/lims/lims/internal/platform/auth"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
)

// User maps to the app_user table. The permission set is not a column: it is
// derived from the role on the fly, so it can never drift from the canonical
// mapping.
type User struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	LabID             uuid.UUID  `db:"lab_id" json:"lab_id"`
	Name              string     `db:"name" json:"name"`
	Email             string     `db:"email" json:"email"`
	PasswordHash      string     `db:"password_hash" json:"-"`
	Role              auth.Role  `db:"role" json:"role"`
	Status            Status     `db:"status" json:"status"`
	LastLogin         *time.Time `db:"last_login" json:"last_login,omitempty"`
	ResetTokenHash    *string    `db:"reset_token_hash" json:"-"`
	ResetTokenExpires *time.Time `db:"reset_token_expires" json:"-"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// Permissions returns the caller-visible capability set for this user.
func (u *User) Permissions() []auth.Permission {
	return auth.PermissionsForRole(u.Role)
}

// MarshalJSON adds the derived permissions to the serialized form.
func (u *User) MarshalJSON() ([]byte, error) {
	type alias User
	return json.Marshal(struct {
		*alias
		Permissions []auth.Permission `json:"permissions"`
	}{(*alias)(u), u.Permissions()})
}

// CheckPassword compares a candidate password against the stored hash.
func (u *User) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// HashPassword produces a bcrypt hash for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Account adapts a user to the shape the auth middleware consumes.
func (u *User) Account() *auth.Account {
	return &auth.Account{
		ID:     u.ID,
		LabID:  u.LabID,
		Role:   u.Role,
		Active: u.Status == StatusActive,
	}
}
