package model

import "time"

type AuthMethod string

const (
	AuthMethodWallet      AuthMethod = "wallet"
	AuthMethodEmail       AuthMethod = "email"
	AuthMethodSocial      AuthMethod = "social"
	AuthMethodWeb3Profile AuthMethod = "web3-profile"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// UserProfile is the identity the core consumes from the external
// identity provider. Role is derived at profile-sync time from an
// injected authorization policy, never computed here.
type UserProfile struct {
	ID         string     `db:"id" json:"id"`
	Method     AuthMethod `db:"method" json:"method"`
	Identifier string     `db:"identifier" json:"identifier"` // email, wallet address, or handle
	Name       string     `db:"name" json:"name,omitempty"`
	Role       Role       `db:"role" json:"role"`
	LastSeenAt time.Time  `db:"last_seen_at" json:"last_seen_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}
