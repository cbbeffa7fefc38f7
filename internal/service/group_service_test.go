package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walletchat/internal/apperr"
	"walletchat/internal/domain"
	"walletchat/internal/service"
)

func TestGroupLifecycle(t *testing.T) {
	env := newTestEnv(t, "group_lifecycle")
	ctx := context.Background()
	env.seedUser(t, alice)
	env.seedUser(t, bob)
	env.seedUser(t, carol)

	g, err := env.groupSvc.Create(ctx, alice, "Core", "the core group", "")
	require.NoError(t, err)
	require.Equal(t, alice, g.Owner)
	require.Equal(t, 1, g.MemberCount())
	requireSingleOwner(t, g)

	t.Run("AddMembers", func(t *testing.T) {
		updated, err := env.groupSvc.AddMembers(ctx, alice, g.ID, []string{bob, carol})
		require.NoError(t, err)
		assert.Equal(t, 3, updated.MemberCount())
		requireSingleOwner(t, updated)
	})

	t.Run("AddMembersIdempotent", func(t *testing.T) {
		updated, err := env.groupSvc.AddMembers(ctx, alice, g.ID, []string{bob})
		require.NoError(t, err)
		assert.Equal(t, 3, updated.MemberCount(), "re-adding a member is a no-op, not an error")
	})

	t.Run("UnknownMemberRejected", func(t *testing.T) {
		_, err := env.groupSvc.AddMembers(ctx, alice, g.ID, []string{dave})
		assert.ErrorIs(t, err, apperr.ErrUnknownRecipient)
	})

	t.Run("MemberCannotAdd", func(t *testing.T) {
		_, err := env.groupSvc.AddMembers(ctx, bob, g.ID, []string{carol})
		assert.ErrorIs(t, err, apperr.ErrInsufficientRole)
	})

	t.Run("OwnerCannotLeave", func(t *testing.T) {
		err := env.groupSvc.Leave(ctx, alice, g.ID)
		assert.ErrorIs(t, err, apperr.ErrOwnerMustTransfer)
	})

	t.Run("OwnerCannotBeKicked", func(t *testing.T) {
		err := env.groupSvc.RemoveMember(ctx, alice, g.ID, alice)
		assert.ErrorIs(t, err, apperr.ErrOwnerMustTransfer)
	})

	t.Run("MemberLeaves", func(t *testing.T) {
		require.NoError(t, env.groupSvc.Leave(ctx, carol, g.ID))
		updated, err := env.groupSvc.Get(ctx, alice, g.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, updated.MemberCount())
		requireSingleOwner(t, updated)
	})
}

func TestTransferOwnership(t *testing.T) {
	env := newTestEnv(t, "group_transfer")
	ctx := context.Background()
	env.seedUser(t, carol)
	env.seedUser(t, dave)

	g, err := env.groupSvc.Create(ctx, carol, "G", "", "")
	require.NoError(t, err)
	_, err = env.groupSvc.AddMembers(ctx, carol, g.ID, []string{dave})
	require.NoError(t, err)

	require.NoError(t, env.groupSvc.TransferOwnership(ctx, carol, g.ID, dave))

	after, err := env.groupSvc.Get(ctx, carol, g.ID)
	require.NoError(t, err)
	assert.Equal(t, dave, after.Owner)
	assert.Equal(t, domain.RoleAdmin, after.Member(carol).Role)
	assert.Equal(t, domain.RoleOwner, after.Member(dave).Role)
	requireSingleOwner(t, after)

	// The demoted owner can no longer transfer.
	err = env.groupSvc.TransferOwnership(ctx, carol, g.ID, carol)
	assert.Error(t, err)
	err = env.groupSvc.TransferOwnership(ctx, carol, g.ID, dave)
	assert.ErrorIs(t, err, apperr.ErrInsufficientRole)
}

func TestTransferToNonMember(t *testing.T) {
	env := newTestEnv(t, "group_transfer_nonmember")
	ctx := context.Background()
	env.seedUser(t, alice)
	env.seedUser(t, bob)

	g, err := env.groupSvc.Create(ctx, alice, "G", "", "")
	require.NoError(t, err)

	err = env.groupSvc.TransferOwnership(ctx, alice, g.ID, bob)
	assert.ErrorIs(t, err, apperr.ErrNotMember)
}

func TestTransferStaleOwnerRejected(t *testing.T) {
	env := newTestEnv(t, "group_transfer_stale")
	ctx := context.Background()
	env.seedUser(t, alice)
	env.seedUser(t, bob)
	env.seedUser(t, carol)

	g, err := env.groupSvc.Create(ctx, alice, "G", "", "")
	require.NoError(t, err)
	_, err = env.groupSvc.AddMembers(ctx, alice, g.ID, []string{bob, carol})
	require.NoError(t, err)
	require.NoError(t, env.groupSvc.TransferOwnership(ctx, alice, g.ID, bob))

	// A swap applied on behalf of an actor who already lost ownership must
	// be rejected at the store, or two owner rows would survive the race.
	err = env.groups.TransferOwnership(ctx, g.ID, alice, carol)
	require.Error(t, err)

	after, err := env.groupSvc.Get(ctx, bob, g.ID)
	require.NoError(t, err)
	assert.Equal(t, bob, after.Owner)
	assert.Equal(t, domain.RoleMember, after.Member(carol).Role)
	requireSingleOwner(t, after)
}

func TestOwnershipInvariantAcrossSequence(t *testing.T) {
	env := newTestEnv(t, "group_invariant")
	ctx := context.Background()
	users := []string{alice, bob, carol, dave}
	for _, u := range users {
		env.seedUser(t, u)
	}

	g, err := env.groupSvc.Create(ctx, alice, "G", "", "")
	require.NoError(t, err)

	check := func() {
		current, err := env.groups.GetByID(ctx, g.ID)
		require.NoError(t, err)
		requireSingleOwner(t, current)
	}

	_, err = env.groupSvc.AddMembers(ctx, alice, g.ID, []string{bob, carol, dave})
	require.NoError(t, err)
	check()

	require.NoError(t, env.groupSvc.TransferOwnership(ctx, alice, g.ID, bob))
	check()

	require.NoError(t, env.groupSvc.RemoveMember(ctx, bob, g.ID, carol))
	check()

	require.NoError(t, env.groupSvc.TransferOwnership(ctx, bob, g.ID, dave))
	check()

	require.NoError(t, env.groupSvc.Leave(ctx, bob, g.ID))
	check()
}

func TestMuteBoundary(t *testing.T) {
	env := newTestEnv(t, "group_mute")
	ctx := context.Background()
	env.seedUser(t, alice)
	env.seedUser(t, bob)

	g, err := env.groupSvc.Create(ctx, alice, "G", "", "")
	require.NoError(t, err)
	_, err = env.groupSvc.AddMembers(ctx, alice, g.ID, []string{bob})
	require.NoError(t, err)

	now := env.clock.Now()

	t.Run("PastMuteNotMuted", func(t *testing.T) {
		past := now.Add(-time.Second)
		require.NoError(t, env.groups.SetMutedUntil(ctx, g.ID, bob, &past))
		err := env.guard.Check(ctx, bob, domain.GroupScope(g.ID), service.ActionSend)
		assert.NoError(t, err)
	})

	t.Run("FutureMuteMuted", func(t *testing.T) {
		require.NoError(t, env.groupSvc.Mute(ctx, alice, g.ID, bob, time.Hour))
		err := env.guard.Check(ctx, bob, domain.GroupScope(g.ID), service.ActionSend)
		assert.ErrorIs(t, err, apperr.ErrMemberMuted)
	})

	t.Run("ZeroDurationUnmutes", func(t *testing.T) {
		require.NoError(t, env.groupSvc.Mute(ctx, alice, g.ID, bob, 0))
		err := env.guard.Check(ctx, bob, domain.GroupScope(g.ID), service.ActionSend)
		assert.NoError(t, err)
	})

	t.Run("OwnerCannotBeMuted", func(t *testing.T) {
		err := env.groupSvc.Mute(ctx, alice, g.ID, alice, time.Hour)
		assert.ErrorIs(t, err, apperr.ErrInsufficientRole)
	})
}

func TestCapacity(t *testing.T) {
	env := newTestEnv(t, "group_capacity")
	ctx := context.Background()
	env.seedUser(t, alice)
	env.seedUser(t, bob)
	env.seedUser(t, carol)
	env.seedUser(t, dave)

	g, err := env.groupSvc.Create(ctx, alice, "G", "", "")
	require.NoError(t, err)
	require.NoError(t, env.groups.UpdateSettings(ctx, g.ID, domain.GroupSettings{MaxMembers: 2}))

	_, err = env.groupSvc.AddMembers(ctx, alice, g.ID, []string{bob})
	require.NoError(t, err)

	_, err = env.groupSvc.AddMembers(ctx, alice, g.ID, []string{carol, dave})
	assert.ErrorIs(t, err, apperr.ErrCapacityExceeded)

	// Nothing from the rejected batch may have landed.
	after, err := env.groupSvc.Get(ctx, alice, g.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, after.MemberCount())
}

func TestInviteCodes(t *testing.T) {
	env := newTestEnv(t, "group_invites")
	ctx := context.Background()
	env.seedUser(t, alice)
	env.seedUser(t, bob)
	env.seedUser(t, carol)

	g, err := env.groupSvc.Create(ctx, alice, "G", "", "")
	require.NoError(t, err)

	code, expires, err := env.groupSvc.GenerateInvite(ctx, alice, g.ID)
	require.NoError(t, err)
	assert.Len(t, code, 8)
	assert.True(t, expires.After(env.clock.Now()))

	t.Run("Redeem", func(t *testing.T) {
		result, err := env.groupSvc.RedeemInvite(ctx, bob, code)
		require.NoError(t, err)
		assert.False(t, result.Pending)
		assert.True(t, result.Group.IsMember(bob))
	})

	t.Run("RedeemTwiceNoop", func(t *testing.T) {
		result, err := env.groupSvc.RedeemInvite(ctx, bob, code)
		require.NoError(t, err)
		assert.Equal(t, 2, result.Group.MemberCount())
	})

	t.Run("InvalidCode", func(t *testing.T) {
		_, err := env.groupSvc.RedeemInvite(ctx, carol, "NOTACODE")
		assert.ErrorIs(t, err, apperr.ErrInviteInvalid)
	})

	t.Run("RequireApprovalQueues", func(t *testing.T) {
		require.NoError(t, env.groups.UpdateSettings(ctx, g.ID, domain.GroupSettings{
			RequireApproval: true,
			MaxMembers:      500,
		}))
		result, err := env.groupSvc.RedeemInvite(ctx, carol, code)
		require.NoError(t, err)
		assert.True(t, result.Pending)
		assert.False(t, result.Group.IsMember(carol))

		reqs, err := env.groupSvc.JoinRequests(ctx, alice, g.ID)
		require.NoError(t, err)
		require.Len(t, reqs, 1)
		assert.Equal(t, carol, reqs[0].Address)

		require.NoError(t, env.groupSvc.ApproveJoinRequest(ctx, alice, g.ID, carol))
		after, err := env.groupSvc.Get(ctx, alice, g.ID)
		require.NoError(t, err)
		assert.True(t, after.IsMember(carol))

		reqs, err = env.groupSvc.JoinRequests(ctx, alice, g.ID)
		require.NoError(t, err)
		assert.Empty(t, reqs)
	})
}

func TestExpiredInvite(t *testing.T) {
	env := newTestEnv(t, "group_invite_expired")
	ctx := context.Background()
	env.seedUser(t, alice)
	env.seedUser(t, bob)

	g, err := env.groupSvc.Create(ctx, alice, "G", "", "")
	require.NoError(t, err)

	expired := env.clock.Now().Add(-time.Hour)
	require.NoError(t, env.groups.SetInviteCode(ctx, g.ID, "OLDCODE1", expired))

	_, err = env.groupSvc.RedeemInvite(ctx, bob, "OLDCODE1")
	assert.ErrorIs(t, err, apperr.ErrInviteExpired)
}

func TestSettingsValidation(t *testing.T) {
	env := newTestEnv(t, "group_settings")
	ctx := context.Background()
	env.seedUser(t, alice)
	env.seedUser(t, bob)

	g, err := env.groupSvc.Create(ctx, alice, "G", "", "")
	require.NoError(t, err)
	_, err = env.groupSvc.AddMembers(ctx, alice, g.ID, []string{bob})
	require.NoError(t, err)

	err = env.groupSvc.UpdateSettings(ctx, alice, g.ID, domain.GroupSettings{MaxMembers: 1})
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err), "cap below member count is rejected")

	err = env.groupSvc.UpdateSettings(ctx, bob, g.ID, domain.GroupSettings{MaxMembers: 100})
	assert.ErrorIs(t, err, apperr.ErrInsufficientRole)

	require.NoError(t, env.groupSvc.UpdateSettings(ctx, alice, g.ID, domain.GroupSettings{
		MuteAll:    true,
		MaxMembers: 100,
	}))
	after, err := env.groupSvc.Get(ctx, alice, g.ID)
	require.NoError(t, err)
	assert.True(t, after.Settings.MuteAll)
	assert.Equal(t, 100, after.Settings.MaxMembers)
}
