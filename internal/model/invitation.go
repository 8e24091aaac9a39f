package model

import "time"

type Invitation struct {
	ID                  string     `json:"id"`
	User                User       `json:"user"`
	Email               string     `json:"email"`
	Guardian            *User      `json:"guardian,omitempty"`
	InvitationToken     string     `json:"invitationToken"`
	InvitationExpiresAt time.Time  `json:"invitationExpiresAt"`
	IsAccepted          bool       `json:"isAccepted"`
	AcceptedAt          *time.Time `json:"acceptedAt,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

type InviteRequest struct {
	Email string `json:"email"`
}
