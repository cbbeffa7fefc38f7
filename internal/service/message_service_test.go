package service_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walletchat/internal/apperr"
	"walletchat/internal/domain"
	"walletchat/internal/service"
)

func sendText(t *testing.T, env *testEnv, from string, scope domain.Scope, content string) *domain.Message {
	t.Helper()
	m, err := env.messageSvc.Send(context.Background(), from, scope, service.SendInput{
		Type:    domain.TypeText,
		Content: content,
	})
	require.NoError(t, err)
	return m
}

func TestSendDirectMessage(t *testing.T) {
	env := newTestEnv(t, "msg_send_direct")
	ctx := context.Background()
	env.seedUser(t, alice)
	env.seedUser(t, bob)

	m := sendText(t, env, alice, domain.PeerScope(bob), "hello")
	assert.Equal(t, domain.StatusSent, m.Status)

	thread, err := env.messageSvc.Thread(ctx, bob, alice, 0, 0)
	require.NoError(t, err)
	require.Len(t, thread, 1)
	assert.Equal(t, m.ID, thread[0].ID)

	sender, err := env.identities.GetByAddress(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(1), sender.MessagesSent)
}

func TestSendValidation(t *testing.T) {
	env := newTestEnv(t, "msg_validation")
	ctx := context.Background()
	env.seedUser(t, alice)
	env.seedUser(t, bob)
	scope := domain.PeerScope(bob)

	t.Run("EmptyText", func(t *testing.T) {
		_, err := env.messageSvc.Send(ctx, alice, scope, service.SendInput{Type: domain.TypeText})
		assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))
	})

	t.Run("ContentTooLong", func(t *testing.T) {
		_, err := env.messageSvc.Send(ctx, alice, scope, service.SendInput{
			Type:    domain.TypeText,
			Content: strings.Repeat("x", 5001),
		})
		assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))
	})

	t.Run("SystemTypeRejected", func(t *testing.T) {
		_, err := env.messageSvc.Send(ctx, alice, scope, service.SendInput{
			Type:    domain.TypeSystem,
			Content: "x",
		})
		assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))
	})

	t.Run("VoiceNeedsDuration", func(t *testing.T) {
		_, err := env.messageSvc.Send(ctx, alice, scope, service.SendInput{
			Type: domain.TypeVoice,
			File: &domain.FileInfo{URL: "https://cdn/x.ogg"},
		})
		assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))

		_, err = env.messageSvc.Send(ctx, alice, scope, service.SendInput{
			Type: domain.TypeVoice,
			File: &domain.FileInfo{URL: "https://cdn/x.ogg", Duration: 12},
		})
		assert.NoError(t, err)
	})

	t.Run("BlockedSender", func(t *testing.T) {
		require.NoError(t, env.identities.Block(ctx, bob, alice))
		_, err := env.messageSvc.Send(ctx, alice, scope, service.SendInput{
			Type:    domain.TypeText,
			Content: "hi",
		})
		assert.ErrorIs(t, err, apperr.ErrBlocked)
	})
}

func TestMarkReadIdempotent(t *testing.T) {
	env := newTestEnv(t, "msg_mark_read")
	ctx := context.Background()
	env.seedUser(t, alice)
	env.seedUser(t, bob)

	m := sendText(t, env, alice, domain.PeerScope(bob), "hello")

	require.NoError(t, env.messageSvc.MarkRead(ctx, bob, m.ID))
	first, err := env.messages.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, first.Read)
	assert.Equal(t, domain.StatusRead, first.Status)

	// Second mark must not change observable state.
	require.NoError(t, env.messageSvc.MarkRead(ctx, bob, m.ID))
	second, err := env.messages.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ReadAt, second.ReadAt)

	t.Run("SenderMarkIsNoop", func(t *testing.T) {
		m2 := sendText(t, env, alice, domain.PeerScope(bob), "again")
		require.NoError(t, env.messageSvc.MarkRead(ctx, alice, m2.ID))
		got, err := env.messages.GetByID(ctx, m2.ID)
		require.NoError(t, err)
		assert.False(t, got.Read)
	})

	t.Run("StrangerForbidden", func(t *testing.T) {
		env.seedUser(t, carol)
		err := env.messageSvc.MarkRead(ctx, carol, m.ID)
		assert.Equal(t, apperr.CodePermissionDenied, apperr.CodeOf(err))
	})
}

func TestMutualDelete(t *testing.T) {
	env := newTestEnv(t, "msg_mutual_delete")
	ctx := context.Background()
	env.seedUser(t, alice)
	env.seedUser(t, bob)

	m := sendText(t, env, alice, domain.PeerScope(bob), "secret")

	// First delete hides it from Alice only.
	require.NoError(t, env.messageSvc.SoftDelete(ctx, alice, m.ID))

	aliceThread, err := env.messageSvc.Thread(ctx, alice, bob, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, aliceThread)

	bobThread, err := env.messageSvc.Thread(ctx, bob, alice, 0, 0)
	require.NoError(t, err)
	assert.Len(t, bobThread, 1)

	// Second participant's delete removes it for both.
	require.NoError(t, env.messageSvc.SoftDelete(ctx, bob, m.ID))

	bobThread, err = env.messageSvc.Thread(ctx, bob, alice, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, bobThread)

	_, err = env.messageSvc.EditHistory(ctx, alice, m.ID)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err), "fully deleted message is gone")
}

func TestEditMessage(t *testing.T) {
	env := newTestEnv(t, "msg_edit")
	ctx := context.Background()
	env.seedUser(t, alice)
	env.seedUser(t, bob)

	m := sendText(t, env, alice, domain.PeerScope(bob), "draft")

	t.Run("OnlySender", func(t *testing.T) {
		_, err := env.messageSvc.Edit(ctx, bob, m.ID, "hijack")
		assert.Equal(t, apperr.CodePermissionDenied, apperr.CodeOf(err))
	})

	t.Run("HistoryPreserved", func(t *testing.T) {
		edited, err := env.messageSvc.Edit(ctx, alice, m.ID, "final")
		require.NoError(t, err)
		assert.Equal(t, "final", edited.Content)
		assert.True(t, edited.Edited)

		hist, err := env.messageSvc.EditHistory(ctx, alice, m.ID)
		require.NoError(t, err)
		require.Len(t, hist, 1)
		assert.Equal(t, "draft", hist[0].Content)
	})
}

func TestGroupMessaging(t *testing.T) {
	env := newTestEnv(t, "msg_group")
	ctx := context.Background()
	env.seedUser(t, alice)
	env.seedUser(t, bob)
	env.seedUser(t, carol)

	g, err := env.groupSvc.Create(ctx, alice, "Core", "", "")
	require.NoError(t, err)
	_, err = env.groupSvc.AddMembers(ctx, alice, g.ID, []string{bob})
	require.NoError(t, err)

	m := sendText(t, env, bob, domain.GroupScope(g.ID), "hello group")

	t.Run("CountIncremented", func(t *testing.T) {
		after, err := env.groups.GetByID(ctx, g.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), after.MessageCount)
	})

	t.Run("NonMemberCannotRead", func(t *testing.T) {
		_, err := env.messageSvc.GroupThread(ctx, carol, g.ID, 0, 0)
		assert.ErrorIs(t, err, apperr.ErrNotMember)
	})

	t.Run("ReadReceiptsAccumulate", func(t *testing.T) {
		require.NoError(t, env.messageSvc.MarkRead(ctx, alice, m.ID))
		require.NoError(t, env.messageSvc.MarkRead(ctx, alice, m.ID)) // idempotent

		receipts, err := env.messageSvc.ReadReceipts(ctx, bob, m.ID)
		require.NoError(t, err)
		require.Len(t, receipts, 1)
		assert.Equal(t, alice, receipts[0].Reader)
	})

	t.Run("MuteAllBlocksMemberSend", func(t *testing.T) {
		require.NoError(t, env.groupSvc.UpdateSettings(ctx, alice, g.ID, domain.GroupSettings{
			MuteAll:    true,
			MaxMembers: 500,
		}))
		_, err := env.messageSvc.Send(ctx, bob, domain.GroupScope(g.ID), service.SendInput{
			Type:    domain.TypeText,
			Content: "still here?",
		})
		assert.ErrorIs(t, err, apperr.ErrGroupMuted)

		// Owner is exempt.
		_, err = env.messageSvc.Send(ctx, alice, domain.GroupScope(g.ID), service.SendInput{
			Type:    domain.TypeText,
			Content: "owners only",
		})
		assert.NoError(t, err)
	})

	t.Run("PinRequiresAdmin", func(t *testing.T) {
		err := env.messageSvc.SetPinned(ctx, bob, m.ID, true)
		assert.ErrorIs(t, err, apperr.ErrInsufficientRole)
		require.NoError(t, env.messageSvc.SetPinned(ctx, alice, m.ID, true))

		got, err := env.messages.GetByID(ctx, m.ID)
		require.NoError(t, err)
		assert.True(t, got.Pinned)
	})
}

func TestReplySummaries(t *testing.T) {
	env := newTestEnv(t, "msg_replies")
	ctx := context.Background()
	env.seedUser(t, alice)
	env.seedUser(t, bob)

	parent := sendText(t, env, alice, domain.PeerScope(bob), "question?")
	reply, err := env.messageSvc.Send(ctx, bob, domain.PeerScope(alice), service.SendInput{
		Type:    domain.TypeText,
		Content: "answer",
		ReplyTo: &parent.ID,
	})
	require.NoError(t, err)

	thread, err := env.messageSvc.Thread(ctx, alice, bob, 0, 0)
	require.NoError(t, err)
	require.Len(t, thread, 2)

	// Newest first: the reply leads.
	assert.Equal(t, reply.ID, thread[0].ID)
	require.NotNil(t, thread[0].Reply)
	assert.Equal(t, parent.ID, thread[0].Reply.ID)
	assert.Equal(t, "question?", thread[0].Reply.Content)

	t.Run("CrossConversationReplyRejected", func(t *testing.T) {
		env.seedUser(t, carol)
		_, err := env.messageSvc.Send(ctx, alice, domain.PeerScope(carol), service.SendInput{
			Type:    domain.TypeText,
			Content: "leak",
			ReplyTo: &parent.ID,
		})
		assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))
	})
}

func TestUnreadCount(t *testing.T) {
	env := newTestEnv(t, "msg_unread")
	ctx := context.Background()
	env.seedUser(t, alice)
	env.seedUser(t, bob)

	m1 := sendText(t, env, alice, domain.PeerScope(bob), "one")
	sendText(t, env, alice, domain.PeerScope(bob), "two")

	count, err := env.messageSvc.UnreadCount(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, env.messageSvc.MarkRead(ctx, bob, m1.ID))
	count, err = env.messageSvc.UnreadCount(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	t.Run("DeletedForRecipientExcluded", func(t *testing.T) {
		m3 := sendText(t, env, alice, domain.PeerScope(bob), "three")
		count, err := env.messageSvc.UnreadCount(ctx, bob)
		require.NoError(t, err)
		require.Equal(t, 2, count)

		// Tombstoning an unread message removes it from the badge too.
		require.NoError(t, env.messageSvc.SoftDelete(ctx, bob, m3.ID))
		count, err = env.messageSvc.UnreadCount(ctx, bob)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})
}

func TestThreadOrderStableWithinSecond(t *testing.T) {
	env := newTestEnv(t, "msg_thread_order")
	ctx := context.Background()
	env.seedUser(t, alice)
	env.seedUser(t, bob)

	// The fixed clock stamps every message identically, so ordering falls
	// entirely on the insertion tie-break.
	var ids []string
	for i := 0; i < 20; i++ {
		m := sendText(t, env, alice, domain.PeerScope(bob), fmt.Sprintf("m%02d", i))
		ids = append(ids, m.ID)
	}

	thread, err := env.messageSvc.Thread(ctx, bob, alice, 0, 0)
	require.NoError(t, err)
	require.Len(t, thread, len(ids))
	for i, m := range thread {
		assert.Equal(t, ids[len(ids)-1-i], m.ID, "thread position %d", i)
	}
}
