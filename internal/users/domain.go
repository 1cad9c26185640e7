package users

import "time"

// Preferences controls which channels a user is willing to receive.
type Preferences struct {
	Email bool `json:"email"`
	Push  bool `json:"push"`
}

// User is the account record the auth core and dispatch pipeline consult.
// PasswordHash is the stored bcrypt hash; the auth core reads it to verify
// passwords.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	PushToken    string
	Role         string // viewer, operator, or admin; defaults to viewer
	Preferences  Preferences
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
