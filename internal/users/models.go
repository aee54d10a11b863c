package users

import "time"

// User is a registered account. CallingNumber is the short dialable identity
// other users address calls to; it is unique and assigned at registration.
type User struct {
	ID            string    `json:"id" db:"id"`
	Username      string    `json:"username" db:"username"`
	DisplayName   string    `json:"display_name" db:"display_name"`
	CallingNumber string    `json:"calling_number" db:"calling_number"`

	// PasswordHash is a bcrypt hash; never serialized.
	PasswordHash string `json:"-" db:"password_hash"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
