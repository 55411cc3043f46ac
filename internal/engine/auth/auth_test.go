package auth_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agencyhub/internal/db"
	"agencyhub/internal/domain"
	"agencyhub/internal/engine/auth"
	"agencyhub/internal/migrate"
	"agencyhub/internal/repo"
)

func newGate(t *testing.T) (auth.Gate, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	r := repo.Repo{DB: conn}
	ctx := context.Background()
	for _, u := range []domain.User{
		{ID: "agent", Name: "A", Role: domain.RoleAgent, Status: domain.StatusActive},
		{ID: "manager", Name: "M", Role: domain.RoleManager, Status: domain.StatusActive},
		{ID: "suspended", Name: "S", Role: domain.RoleRecruit, Status: domain.StatusSuspended},
	} {
		u.CreatedAt, u.UpdatedAt = "2025-01-01T00:00:00Z", "2025-01-01T00:00:00Z"
		require.NoError(t, r.InsertUser(ctx, nil, u))
	}
	return auth.Gate{
		Repo:     r,
		Roles:    []string{domain.RoleAgent, domain.RoleRecruit},
		Statuses: []string{domain.StatusOnboarding, domain.StatusActive},
	}, ctx
}

func TestGateCheck(t *testing.T) {
	g, ctx := newGate(t)

	assert.NoError(t, g.Check(ctx, "agent"))
	assert.ErrorIs(t, g.Check(ctx, "missing"), repo.ErrNotFound)

	var ne auth.NotEligibleError
	require.ErrorAs(t, g.Check(ctx, "manager"), &ne)
	assert.Equal(t, domain.RoleManager, ne.Role)
	require.ErrorAs(t, g.Check(ctx, "suspended"), &ne)
	assert.Equal(t, domain.StatusSuspended, ne.Status)
	assert.Contains(t, ne.Error(), "suspended")
}

func TestGatePredicates(t *testing.T) {
	g, ctx := newGate(t)

	ok, err := g.UserExists(ctx, "manager")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = g.UserExists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = g.IsEligible(ctx, "agent")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = g.IsEligible(ctx, "manager")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = g.IsEligible(ctx, "missing")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestGateCheckMatchesIsEligible(t *testing.T) {
	g, ctx := newGate(t)
	g.Roles = []string{domain.RoleManager}

	for _, id := range []string{"agent", "manager", "suspended"} {
		ok, err := g.IsEligible(ctx, id)
		require.NoError(t, err, id)
		if ok {
			assert.NoError(t, g.Check(ctx, id), id)
			continue
		}
		var ne auth.NotEligibleError
		assert.ErrorAs(t, g.Check(ctx, id), &ne, id)
	}
	assert.NoError(t, g.Check(ctx, "manager"))
}
