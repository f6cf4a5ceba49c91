package types

import "time"

// Role is the authorization level of a user.
// Roles are immutable once a user is created; there is no self-promotion path.
type Role string

const (
	// RoleCitizen can report issues and escalate their own stalled issues.
	RoleCitizen Role = "citizen"

	// RoleOfficial triages and resolves issues assigned within their department.
	RoleOfficial Role = "official"

	// RoleHigherOfficial handles escalated issues and has department-wide
	// oversight of them.
	RoleHigherOfficial Role = "higher_official"
)

// ParseRole normalizes a raw role string to a canonical Role.
// Legacy spellings such as "higherofficial" and "higher-official" are accepted.
func ParseRole(raw string) (Role, bool) {
	switch normalizeToken(raw) {
	case "citizen":
		return RoleCitizen, true
	case "official":
		return RoleOfficial, true
	case "higher_official", "higherofficial":
		return RoleHigherOfficial, true
	default:
		return "", false
	}
}

// User represents an account in the system.
type User struct {
	// ID is the unique identifier of the user.
	ID int `json:"id" db:"id"`

	// Name is the user's full name.
	Name string `json:"name" db:"name"`

	// Email is the user's unique email address, used for login.
	Email string `json:"email" db:"email"`

	// Phone is the user's contact number.
	Phone string `json:"phone" db:"phone"`

	// Address is the user's postal address.
	Address string `json:"address" db:"address"`

	// Role indicates the user's authorization level. It is set at
	// registration and never changes afterwards.
	Role Role `json:"role" db:"role"`

	// PasswordHash stores the bcrypt hash of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// CreatedAt is the timestamp when the account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Citizen is the profile linked 1:1 with a citizen user. It is created in the
// same transaction as the user row during registration.
type Citizen struct {
	ID     int `json:"id" db:"id"`
	UserID int `json:"user_id" db:"user_id"`
}

// Official is the profile linked 1:1 with an official or higher official user.
// Department scopes which issue categories the official may be assigned.
type Official struct {
	ID         int    `json:"id" db:"id"`
	UserID     int    `json:"user_id" db:"user_id"`
	Department string `json:"department" db:"department"`

	// ReportsTo is the user id of the official's superior, nil for
	// higher officials at the top of the chain.
	ReportsTo *int `json:"reports_to,omitempty" db:"reports_to"`
}

// Actor identifies the authenticated principal performing an operation.
// It is decoded from the bearer token; the engine trusts these fields without
// re-verifying credentials.
type Actor struct {
	UserID int  `json:"user_id"`
	Role   Role `json:"role"`

	// CitizenID is set only for citizen actors.
	CitizenID int `json:"citizen_id,omitempty"`
}
