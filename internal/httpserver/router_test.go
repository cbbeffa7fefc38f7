package httpserver_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"walletchat/internal/config"
	"walletchat/internal/httpserver"
	"walletchat/internal/presence"
	"walletchat/internal/security"
	"walletchat/internal/store/sqlite"
	"walletchat/internal/ws"
)

const (
	alice = "0xaaaa000000000000000000000000000000000001"
	bob   = "0xbbbb000000000000000000000000000000000002"
	carol = "0xcccc000000000000000000000000000000000003"
)

type apiClient struct {
	t      *testing.T
	srv    http.Handler
	tokens map[string]string
}

func newAPI(t *testing.T, name string) *apiClient {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := sqlite.Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, sqlite.Migrate(db))

	cfg := &config.Config{
		CORSOrigins:       []string{"http://localhost:3000"},
		MaxMessageLength:  5000,
		DefaultMaxMembers: 500,
		InviteTTLDays:     7,
		WSEventsPerSecond: 25,
		WSEventBurst:      50,
	}
	tokenSvc := security.NewTokenService("test-secret", time.Hour)
	hub := ws.NewHub(zap.NewNop(), prometheus.NewRegistry())
	tracker := presence.NewTracker()

	srv := httpserver.NewRouter(cfg, db, hub, tracker, tokenSvc, security.DevVerifier{}, zap.NewNop())
	return &apiClient{t: t, srv: srv, tokens: make(map[string]string)}
}

// login runs the wallet login flow and caches the bearer token.
func (c *apiClient) login(address string) {
	c.t.Helper()
	status, body := c.do("", http.MethodPost, "/api/auth/login", map[string]any{
		"address":   address,
		"message":   "Sign in to WalletChat",
		"signature": "0xsigned",
	})
	require.Contains(c.t, []int{http.StatusOK, http.StatusCreated}, status)

	var res struct {
		Token string `json:"token"`
	}
	require.NoError(c.t, json.Unmarshal(body, &res))
	require.NotEmpty(c.t, res.Token)
	c.tokens[address] = res.Token
}

// do issues a request as the given address (empty for unauthenticated) and
// returns the status and raw body.
func (c *apiClient) do(as, method, path string, payload any) (int, []byte) {
	c.t.Helper()

	var body *bytes.Buffer
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(c.t, err)
		body = bytes.NewBuffer(raw)
	} else {
		body = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if as != "" {
		token, ok := c.tokens[as]
		require.True(c.t, ok, "no session for %s", as)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	c.srv.ServeHTTP(rec, req)
	return rec.Code, rec.Body.Bytes()
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(body, &v))
	return v
}

func TestLoginAndMe(t *testing.T) {
	api := newAPI(t, "http_login")

	status, body := api.do("", http.MethodPost, "/api/auth/login", map[string]any{
		"address":   alice,
		"message":   "Sign in to WalletChat",
		"signature": "0xsigned",
	})
	assert.Equal(t, http.StatusCreated, status, "first login creates the identity")

	res := decode[map[string]any](t, body)
	assert.Equal(t, true, res["is_new_user"])
	api.tokens[alice] = res["token"].(string)

	status, body = api.do(alice, http.MethodGet, "/api/auth/me", nil)
	require.Equal(t, http.StatusOK, status)
	me := decode[map[string]any](t, body)
	assert.Equal(t, alice, me["address"])

	t.Run("SecondLoginReturns200", func(t *testing.T) {
		status, _ := api.do("", http.MethodPost, "/api/auth/login", map[string]any{
			"address":   alice,
			"message":   "Sign in to WalletChat",
			"signature": "0xsigned",
		})
		assert.Equal(t, http.StatusOK, status)
	})

	t.Run("MissingToken", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		rec := httptest.NewRecorder()
		api.srv.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("GarbageToken", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		req.Header.Set("Authorization", "Bearer not-a-jwt")
		rec := httptest.NewRecorder()
		api.srv.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestDirectMessageFlow(t *testing.T) {
	api := newAPI(t, "http_direct")
	api.login(alice)
	api.login(bob)

	status, body := api.do(alice, http.MethodPost, "/api/messages/", map[string]any{
		"to":      bob,
		"type":    "text",
		"content": "gm",
	})
	require.Equal(t, http.StatusCreated, status, string(body))
	sent := decode[map[string]any](t, body)
	msgID := sent["id"].(string)

	// Both participants see the same message id in the thread.
	status, body = api.do(bob, http.MethodGet, "/api/messages/chat/"+alice, nil)
	require.Equal(t, http.StatusOK, status)
	thread := decode[[]map[string]any](t, body)
	require.Len(t, thread, 1)
	assert.Equal(t, msgID, thread[0]["id"])

	t.Run("UnreadThenRead", func(t *testing.T) {
		status, body := api.do(bob, http.MethodGet, "/api/messages/unread", nil)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, float64(1), decode[map[string]any](t, body)["unread"])

		status, _ = api.do(bob, http.MethodPut, "/api/messages/"+msgID+"/read", nil)
		require.Equal(t, http.StatusOK, status)

		status, body = api.do(bob, http.MethodGet, "/api/messages/unread", nil)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, float64(0), decode[map[string]any](t, body)["unread"])
	})

	t.Run("BothTargetsRejected", func(t *testing.T) {
		status, _ := api.do(alice, http.MethodPost, "/api/messages/", map[string]any{
			"to":       bob,
			"group_id": "g1",
			"type":     "text",
			"content":  "which one",
		})
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("UnknownRecipient", func(t *testing.T) {
		status, _ := api.do(alice, http.MethodPost, "/api/messages/", map[string]any{
			"to":      carol,
			"type":    "text",
			"content": "anyone there",
		})
		assert.Equal(t, http.StatusNotFound, status)
	})

	t.Run("BlockedSender", func(t *testing.T) {
		status, _ := api.do(bob, http.MethodPost, "/api/users/block/"+alice, nil)
		require.Equal(t, http.StatusOK, status)

		status, _ = api.do(alice, http.MethodPost, "/api/messages/", map[string]any{
			"to":      bob,
			"type":    "text",
			"content": "hello?",
		})
		assert.Equal(t, http.StatusForbidden, status)
	})
}

func TestGroupModerationFlow(t *testing.T) {
	api := newAPI(t, "http_group")
	api.login(alice)
	api.login(bob)
	api.login(carol)

	status, body := api.do(alice, http.MethodPost, "/api/groups/", map[string]any{
		"name":    "Research",
		"members": []string{bob},
	})
	require.Equal(t, http.StatusCreated, status, string(body))
	group := decode[map[string]any](t, body)
	groupID := group["id"].(string)

	// Bob can post.
	status, body = api.do(bob, http.MethodPost, "/api/messages/", map[string]any{
		"group_id": groupID,
		"type":     "text",
		"content":  "first",
	})
	require.Equal(t, http.StatusCreated, status, string(body))

	status, body = api.do(alice, http.MethodGet, "/api/groups/"+groupID, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), decode[map[string]any](t, body)["message_count"])

	t.Run("OutsiderCannotPost", func(t *testing.T) {
		status, _ := api.do(carol, http.MethodPost, "/api/messages/", map[string]any{
			"group_id": groupID,
			"type":     "text",
			"content":  "let me in",
		})
		assert.Equal(t, http.StatusForbidden, status)
	})

	t.Run("MuteAllSilencesMembersNotOwner", func(t *testing.T) {
		status, _ := api.do(alice, http.MethodPut, "/api/groups/"+groupID+"/settings", map[string]any{
			"mute_all":    true,
			"max_members": 500,
		})
		require.Equal(t, http.StatusOK, status)

		status, _ = api.do(bob, http.MethodPost, "/api/messages/", map[string]any{
			"group_id": groupID,
			"type":     "text",
			"content":  "anyone?",
		})
		assert.Equal(t, http.StatusForbidden, status)

		status, _ = api.do(alice, http.MethodPost, "/api/messages/", map[string]any{
			"group_id": groupID,
			"type":     "text",
			"content":  "announcements only",
		})
		assert.Equal(t, http.StatusCreated, status)

		status, _ = api.do(alice, http.MethodPut, "/api/groups/"+groupID+"/settings", map[string]any{
			"mute_all":    false,
			"max_members": 500,
		})
		require.Equal(t, http.StatusOK, status)
	})

	t.Run("PerMemberMute", func(t *testing.T) {
		status, _ := api.do(alice, http.MethodPost, "/api/groups/"+groupID+"/mute", map[string]any{
			"address":          bob,
			"duration_seconds": 3600,
		})
		require.Equal(t, http.StatusOK, status)

		status, _ = api.do(bob, http.MethodPost, "/api/messages/", map[string]any{
			"group_id": groupID,
			"type":     "text",
			"content":  "muffled",
		})
		assert.Equal(t, http.StatusForbidden, status)

		status, _ = api.do(alice, http.MethodDelete, "/api/groups/"+groupID+"/mute/"+bob, nil)
		require.Equal(t, http.StatusOK, status)

		status, _ = api.do(bob, http.MethodPost, "/api/messages/", map[string]any{
			"group_id": groupID,
			"type":     "text",
			"content":  "back",
		})
		assert.Equal(t, http.StatusCreated, status)
	})

	t.Run("MemberCannotChangeSettings", func(t *testing.T) {
		status, _ := api.do(bob, http.MethodPut, "/api/groups/"+groupID+"/settings", map[string]any{
			"mute_all":    true,
			"max_members": 500,
		})
		assert.Equal(t, http.StatusForbidden, status)
	})
}

func TestOwnershipTransferViaAPI(t *testing.T) {
	api := newAPI(t, "http_transfer")
	api.login(alice)
	api.login(bob)

	status, body := api.do(alice, http.MethodPost, "/api/groups/", map[string]any{
		"name":    "Handoff",
		"members": []string{bob},
	})
	require.Equal(t, http.StatusCreated, status)
	groupID := decode[map[string]any](t, body)["id"].(string)

	status, _ = api.do(alice, http.MethodPost, "/api/groups/"+groupID+"/transfer", map[string]any{
		"address": bob,
	})
	require.Equal(t, http.StatusOK, status)

	// The old owner lost owner-only privileges.
	status, _ = api.do(alice, http.MethodPost, "/api/groups/"+groupID+"/transfer", map[string]any{
		"address": alice,
	})
	assert.Equal(t, http.StatusForbidden, status)

	// And the new owner holds them.
	status, _ = api.do(bob, http.MethodPost, "/api/groups/"+groupID+"/admins", map[string]any{
		"address": alice,
	})
	assert.Equal(t, http.StatusOK, status)
}

func TestInviteCodesViaAPI(t *testing.T) {
	api := newAPI(t, "http_invites")
	api.login(alice)
	api.login(bob)

	status, body := api.do(alice, http.MethodPost, "/api/groups/", map[string]any{
		"name": "OpenDoor",
	})
	require.Equal(t, http.StatusCreated, status)
	groupID := decode[map[string]any](t, body)["id"].(string)

	status, body = api.do(alice, http.MethodPost, "/api/groups/"+groupID+"/invite", nil)
	require.Equal(t, http.StatusCreated, status)
	code := decode[map[string]any](t, body)["invite_code"].(string)
	require.Len(t, code, 8)

	status, _ = api.do(bob, http.MethodPost, "/api/groups/join/"+code, nil)
	assert.Equal(t, http.StatusOK, status)

	status, body = api.do(bob, http.MethodGet, "/api/groups/"+groupID, nil)
	require.Equal(t, http.StatusOK, status, "redeemed member can read the group")

	t.Run("BogusCode", func(t *testing.T) {
		status, _ := api.do(bob, http.MethodPost, "/api/groups/join/XXXXXXXX", nil)
		assert.Equal(t, http.StatusBadRequest, status)
	})
}

func TestHealthAndMetrics(t *testing.T) {
	api := newAPI(t, "http_ops")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	api.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	api.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
