package service_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"walletchat/internal/domain"
	"walletchat/internal/service"
	"walletchat/internal/store/sqlite"
)

// newTestDB opens a named in-memory database. cache=shared keeps all pooled
// connections on the same store.
func newTestDB(t *testing.T, name string) *sql.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := sqlite.Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, sqlite.Migrate(db))
	return db
}

type testEnv struct {
	identities *sqlite.IdentityRepo
	groups     *sqlite.GroupRepo
	messages   *sqlite.MessageRepo

	guard      *service.Guard
	groupSvc   *service.GroupService
	messageSvc *service.MessageService
	clock      fixedClock
}

func newTestEnv(t *testing.T, name string) *testEnv {
	t.Helper()
	db := newTestDB(t, name)
	log := zap.NewNop()
	clock := fixedClock{now: time.Now().UTC().Truncate(time.Second)}

	identities := sqlite.NewIdentityRepo(db)
	groups := sqlite.NewGroupRepo(db)
	messages := sqlite.NewMessageRepo(db)

	guard := service.NewGuard(identities, groups, clock)
	return &testEnv{
		identities: identities,
		groups:     groups,
		messages:   messages,
		guard:      guard,
		groupSvc:   service.NewGroupService(groups, identities, guard, clock, log, 500, 7*24*time.Hour),
		messageSvc: service.NewMessageService(messages, identities, groups, guard, clock, log, 5000),
		clock:      clock,
	}
}

func (e *testEnv) seedUser(t *testing.T, address string) {
	t.Helper()
	err := e.identities.Create(context.Background(), &domain.Identity{
		Address:  address,
		Nickname: address[:6],
		IsActive: true,
	})
	require.NoError(t, err)
}

// requireSingleOwner asserts the ownership invariant: exactly one member with
// the owner role, and it matches the group's owner field.
func requireSingleOwner(t *testing.T, g *domain.Group) {
	t.Helper()
	owners := 0
	for _, m := range g.Members {
		if m.Role == domain.RoleOwner {
			owners++
			require.Equal(t, g.Owner, m.Address)
		}
	}
	require.Equal(t, 1, owners, "group %s must have exactly one owner", g.ID)
}
