package models

import (
	"time"

	"github.com/google/uuid"
)

// UserRole is a platform-level role, distinct from the per-session Role.
type UserRole string

const (
	UserAdmin     UserRole = "admin"
	UserModerator UserRole = "moderator"
	UserMember    UserRole = "member"
	// UserGuest identifies anonymous participants holding a guest token.
	UserGuest UserRole = "guest"
)

// User is a registered staff or member account. Anonymous participants have
// no User row; they exist only as a minted guest identity in their token.
type User struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Password  string    `json:"-"`
	FullName  string    `json:"full_name"`
	Role      UserRole  `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserPublic is User without sensitive fields for API responses.
type UserPublic struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	Role      UserRole  `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// ToPublic converts User to UserPublic.
func (u *User) ToPublic() UserPublic {
	return UserPublic{
		ID:        u.ID,
		Email:     u.Email,
		FullName:  u.FullName,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
	}
}
