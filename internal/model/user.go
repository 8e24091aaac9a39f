package model

import "time"

type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	AccessToken string `json:"access_token"`
	User        User   `json:"user"`
}

// Relationship is the capability edge created when an invitation is accepted.
type Relationship struct {
	UserID       string    `json:"userId"`
	GuardianID   string    `json:"guardianId"`
	Role         Role      `json:"role"`
	InvitationID string    `json:"invitationId"`
	CreatedAt    time.Time `json:"createdAt"`
}
