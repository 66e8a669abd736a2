package identity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/domain/model"
	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/ledger"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func walletProfile() model.UserProfile {
	return model.UserProfile{
		ID:         "u-wallet-1",
		Method:     model.AuthMethodWallet,
		Identifier: "0xAbCd1234",
		Name:       "deckard",
	}
}

func TestSync_DefaultsToUserRole(t *testing.T) {
	store := ledger.NewMemoryUsers()
	sync := NewProfileSync(store, NewAllowList(nil), testLogger())

	got, err := sync.Sync(context.Background(), walletProfile())
	require.NoError(t, err)
	assert.Equal(t, model.RoleUser, got.Role)
	assert.False(t, got.LastSeenAt.IsZero())

	stored, err := store.GetProfile(context.Background(), "u-wallet-1")
	require.NoError(t, err)
	assert.Equal(t, model.RoleUser, stored.Role)
}

func TestSync_AllowListPromotesAdmin(t *testing.T) {
	store := ledger.NewMemoryUsers()
	policy := NewAllowList([]string{"ops@example.com"})
	sync := NewProfileSync(store, policy, testLogger())

	profile := model.UserProfile{
		ID:         "u-email-1",
		Method:     model.AuthMethodEmail,
		Identifier: "OPS@example.com", // case must not matter
	}

	got, err := sync.Sync(context.Background(), profile)
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, got.Role)

	stored, err := store.GetProfile(context.Background(), "u-email-1")
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, stored.Role)
}

func TestSync_KeepsPreviouslyStoredRole(t *testing.T) {
	store := ledger.NewMemoryUsers()
	require.NoError(t, store.UpsertProfile(context.Background(), &model.UserProfile{
		ID:   "u-wallet-1",
		Role: model.RoleAdmin,
	}))

	sync := NewProfileSync(store, NewAllowList(nil), testLogger())

	got, err := sync.Sync(context.Background(), walletProfile())
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, got.Role, "a previously granted role survives re-sync")
}

func TestSync_ExplicitIncomingRoleWins(t *testing.T) {
	store := ledger.NewMemoryUsers()
	sync := NewProfileSync(store, NewAllowList(nil), testLogger())

	profile := walletProfile()
	profile.Role = model.RoleAdmin

	got, err := sync.Sync(context.Background(), profile)
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, got.Role)
}

type failingUserStore struct{}

func (failingUserStore) UpsertProfile(context.Context, *model.UserProfile) error {
	return errors.New("store unavailable")
}
func (failingUserStore) GetProfile(context.Context, string) (*model.UserProfile, error) {
	return nil, errors.New("store unavailable")
}
func (failingUserStore) ListProfiles(context.Context, int) ([]model.UserProfile, error) {
	return nil, errors.New("store unavailable")
}
func (failingUserStore) SetRole(context.Context, string, model.Role) error {
	return errors.New("store unavailable")
}

func TestSync_DegradedStoreStillAppliesPolicy(t *testing.T) {
	policy := NewAllowList([]string{"ops@example.com"})
	sync := NewProfileSync(failingUserStore{}, policy, testLogger())

	profile := model.UserProfile{
		ID:         "u-email-1",
		Method:     model.AuthMethodEmail,
		Identifier: "ops@example.com",
	}

	got, err := sync.Sync(context.Background(), profile)
	assert.Error(t, err, "the write failure is surfaced for logging")
	assert.Equal(t, model.RoleAdmin, got.Role, "role policy applies even when the store is down")
}

func TestAllowList_EmptyElevatesNobody(t *testing.T) {
	policy := NewAllowList([]string{" ", ""})
	assert.False(t, policy.Elevated("anyone@example.com"))
	assert.False(t, policy.Elevated(""))
}
