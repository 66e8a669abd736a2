// Package identity syncs externally-authenticated user profiles into
// the ledger's user store and derives the user's role on the way in.
// The core never sees credentials, only an opaque authenticated id.
package identity

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/domain/model"
	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/ledger"
)

// RolePolicy decides whether an identifier carries admin privileges.
// The policy is deployment configuration injected from outside; no
// identifier list lives in code.
type RolePolicy interface {
	Elevated(identifier string) bool
}

// AllowList is a RolePolicy backed by a fixed identifier set,
// case-insensitive. An empty list elevates nobody.
type AllowList struct {
	members map[string]struct{}
}

func NewAllowList(identifiers []string) *AllowList {
	members := make(map[string]struct{}, len(identifiers))
	for _, id := range identifiers {
		id = strings.ToLower(strings.TrimSpace(id))
		if id != "" {
			members[id] = struct{}{}
		}
	}
	return &AllowList{members: members}
}

func (a *AllowList) Elevated(identifier string) bool {
	_, ok := a.members[strings.ToLower(identifier)]
	return ok
}

// ProfileSync merges incoming session profiles into the user store.
type ProfileSync struct {
	store   ledger.UserStore
	policy  RolePolicy
	logger  *slog.Logger
	nowFunc func() time.Time
}

func NewProfileSync(store ledger.UserStore, policy RolePolicy, logger *slog.Logger) *ProfileSync {
	return &ProfileSync{
		store:   store,
		policy:  policy,
		logger:  logger.With("component", "identity"),
		nowFunc: time.Now,
	}
}

// Sync resolves the profile's role and upserts it. Role resolution:
// an explicit incoming role wins, else the previously stored role,
// else plain user; the policy then force-elevates matching
// identifiers regardless.
//
// The returned profile is always usable even when the store write
// fails, so a degraded ledger never locks an admin out of their
// session. The write error is still returned for the caller to log.
func (s *ProfileSync) Sync(ctx context.Context, profile model.UserProfile) (model.UserProfile, error) {
	role := profile.Role
	if role == "" {
		existing, err := s.store.GetProfile(ctx, profile.ID)
		switch {
		case err == nil:
			role = existing.Role
		case errors.Is(err, ledger.ErrNotFound):
			role = model.RoleUser
		default:
			s.logger.Warn("profile lookup failed, defaulting role", "user_id", profile.ID, "error", err)
			role = model.RoleUser
		}
	}
	if s.policy.Elevated(profile.Identifier) {
		role = model.RoleAdmin
	}

	now := s.nowFunc()
	profile.Role = role
	profile.LastSeenAt = now
	profile.UpdatedAt = now

	if err := s.store.UpsertProfile(ctx, &profile); err != nil {
		s.logger.Warn("profile sync write failed, continuing with local session",
			"user_id", profile.ID,
			"role", role,
			"error", err,
		)
		return profile, err
	}
	return profile, nil
}
