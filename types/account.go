package types

import "time"

// Role is the authorization level of an account.
type Role string

const (
	RoleUser      Role = "user"
	RoleGuide     Role = "guide"
	RoleLeadGuide Role = "lead-guide"
	RoleAdmin     Role = "admin"
)

// DefaultRole is assigned to every new account unless an administrator says otherwise.
const DefaultRole = RoleUser

// DefaultPhoto is the profile image reference of accounts that never uploaded one.
const DefaultPhoto = "default.jpg"

// Roles lists every valid role, lowest privilege first.
var Roles = []Role{RoleUser, RoleGuide, RoleLeadGuide, RoleAdmin}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	for _, role := range Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Account represents a user identity together with its credential state.
type Account struct {
	// ID is the opaque identifier assigned at creation.
	ID string `json:"id" db:"id"`

	// Name is the display name.
	Name string `json:"name" db:"name" validate:"required,max=100"`

	// Email is unique across all accounts and stored lower-cased.
	Email string `json:"email" db:"email" validate:"required,email,max=254"`

	// Photo references the profile image in object storage.
	Photo string `json:"photo" db:"photo"`

	// Role indicates the account's authorization level.
	Role Role `json:"role" db:"role" validate:"required,oneof=user guide lead-guide admin"`

	// PasswordHash stores the bcrypt digest of the password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash" validate:"required"`

	// PasswordChangedAt is set whenever PasswordHash changes after creation.
	PasswordChangedAt *time.Time `json:"-" db:"password_changed_at"`

	// PasswordResetToken holds the SHA-256 of an outstanding reset token.
	PasswordResetToken string `json:"-" db:"password_reset_token"`

	// PasswordResetExpires is paired with PasswordResetToken.
	PasswordResetExpires *time.Time `json:"-" db:"password_reset_expires"`

	// Active is false once the account holder deleted the account.
	Active bool `json:"-" db:"active"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ChangedPasswordAfter reports whether the password changed after a token
// issued at issuedAt, compared at whole-second precision.
func (a Account) ChangedPasswordAfter(issuedAt time.Time) bool {
	if a.PasswordChangedAt == nil {
		return false
	}
	return a.PasswordChangedAt.Unix() > issuedAt.Unix()
}

// ClearPasswordReset drops any outstanding reset token.
func (a *Account) ClearPasswordReset() {
	a.PasswordResetToken = ""
	a.PasswordResetExpires = nil
}

// AccountView is the public representation of an account.
type AccountView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Photo     string    `json:"photo"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// View strips credential and reset state from the account.
func (a Account) View() AccountView {
	return AccountView{
		ID:        a.ID,
		Name:      a.Name,
		Email:     a.Email,
		Photo:     a.Photo,
		Role:      a.Role,
		CreatedAt: a.CreatedAt,
	}
}
