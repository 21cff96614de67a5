package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// RegisterRequest holds the payload for creating an account.
type RegisterRequest struct {
	Username  string   `json:"username" validate:"required,min=3,max=50"`
	Email     string   `json:"email" validate:"required,email"`
	Password  string   `json:"password" validate:"required,min=6"`
	FirstName string   `json:"firstName" validate:"required"`
	LastName  string   `json:"lastName" validate:"required"`
	Role      UserRole `json:"role" validate:"required,oneof=STUDENT TEACHER ADMIN"`
	IP        string   `json:"-"`
	UserAgent string   `json:"-"`
}

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Username  string `json:"username" validate:"required"`
	Password  string `json:"password" validate:"required"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// LoginResponse returns the issued session token and its metadata. Field
// names match the wire contract consumed by the frontend and downstream
// services.
type LoginResponse struct {
	Token      string   `json:"token"`
	TokenType  string   `json:"tokenType"`
	ValidityMs int64    `json:"validityMs"`
	User       UserInfo `json:"user"`
}

// UpdatePasswordRequest payload for changing the caller's password.
type UpdatePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=6"`
	ConfirmPassword string `json:"confirmPassword" validate:"required"`
}

// UserInfo describes an account in responses, without credentials.
type UserInfo struct {
	ID        string   `json:"id"`
	Username  string   `json:"username"`
	Email     string   `json:"email"`
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	Role      UserRole `json:"role"`
}

// JWTClaims is the session token payload. Subject carries the username.
type JWTClaims struct {
	UserID string   `json:"userId"`
	Role   UserRole `json:"role"`
	Email  string   `json:"email"`
	jwt.RegisteredClaims
}

// Username returns the subject claim.
func (c *JWTClaims) Username() string {
	return c.Subject
}
