package models

import (
	"strings"
	"time"
)

// Role defines what a user may do.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
	RoleAgent Role = "agent"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleAgent:
		return true
	}
	return false
}

// User represents a user in the system.
type User struct {
	Base           `bson:",inline"`
	Name           string     `bson:"name" json:"name"`
	Surname        string     `bson:"surname" json:"surname"`
	Email          string     `bson:"email" json:"email"`
	PasswordHash   string     `bson:"password" json:"-"` // Store hash, not plaintext
	Role           Role       `bson:"role" json:"role"`
	IsActive       bool       `bson:"isActive" json:"isActive"`
	Phone          string     `bson:"phone,omitempty" json:"phone"`
	Bio            string     `bson:"bio,omitempty" json:"bio"`
	Position       string     `bson:"position,omitempty" json:"position"`
	ContactEmail   string     `bson:"contactEmail,omitempty" json:"contactEmail"`
	ProfilePicture string     `bson:"profilePicture,omitempty" json:"profilePicture"`
	LastLogin      *time.Time `bson:"lastLogin,omitempty" json:"lastLogin,omitempty"`
	EmailVerified  bool       `bson:"emailVerified" json:"emailVerified"`
	Timestamps     `bson:",inline"`
}

// FullName joins name and surname.
func (u *User) FullName() string {
	return strings.TrimSpace(u.Name + " " + u.Surname)
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// UserView is the serialised form of a User returned by the API.
type UserView struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Surname        string     `json:"surname"`
	FullName       string     `json:"fullName"`
	Email          string     `json:"email"`
	Phone          string     `json:"phone"`
	Bio            string     `json:"bio,omitempty"`
	Position       string     `json:"position,omitempty"`
	ContactEmail   string     `json:"contactEmail,omitempty"`
	ProfilePicture string     `json:"profilePicture"`
	Role           Role       `json:"role"`
	IsActive       bool       `json:"isActive"`
	LastLogin      *time.Time `json:"lastLogin,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// View returns the API representation of the user.
func (u *User) View() UserView {
	return UserView{
		ID:             u.ID.Hex(),
		Name:           u.Name,
		Surname:        u.Surname,
		FullName:       u.FullName(),
		Email:          u.Email,
		Phone:          u.Phone,
		Bio:            u.Bio,
		Position:       u.Position,
		ContactEmail:   u.ContactEmail,
		ProfilePicture: u.ProfilePicture,
		Role:           u.Role,
		IsActive:       u.IsActive,
		LastLogin:      u.LastLogin,
		CreatedAt:      u.CreatedAt,
	}
}

// OwnerView is the reduced user shape embedded in listings and reels.
type OwnerView struct {
	ID             string `json:"_id" bson:"_id"`
	Name           string `json:"name" bson:"name"`
	Surname        string `json:"surname" bson:"surname"`
	Email          string `json:"email" bson:"email"`
	Phone          string `json:"phone,omitempty" bson:"phone,omitempty"`
	ProfilePicture string `json:"profilePicture,omitempty" bson:"profilePicture,omitempty"`
}

// Owner returns the reduced view of the user.
func (u *User) Owner() OwnerView {
	return OwnerView{
		ID:             u.ID.Hex(),
		Name:           u.Name,
		Surname:        u.Surname,
		Email:          u.Email,
		Phone:          u.Phone,
		ProfilePicture: u.ProfilePicture,
	}
}

// NormalizeEmail lower-cases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
