package repo_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agencyhub/internal/db"
	"agencyhub/internal/domain"
	"agencyhub/internal/events"
	"agencyhub/internal/migrate"
	"agencyhub/internal/repo"
)

func newRepo(t *testing.T) (repo.Repo, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return repo.Repo{DB: conn}, context.Background()
}

func seedUser(t *testing.T, r repo.Repo, ctx context.Context, id, createdAt string) {
	t.Helper()
	require.NoError(t, r.InsertUser(ctx, nil, domain.User{
		ID: id, Name: id, Role: domain.RoleAgent, Status: domain.StatusActive, CreatedAt: createdAt, UpdatedAt: createdAt,
	}))
}

func day(s string) time.Time {
	d, err := domain.ParseDay(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestCadenceEventsRoundTrip(t *testing.T) {
	r, ctx := newRepo(t)
	seedUser(t, r, ctx, "u1", "2025-01-01T00:00:00Z")
	for _, d := range []string{"2025-03-01", "2025-03-20", "2025-03-10"} {
		require.NoError(t, r.InsertCadenceEvent(ctx, nil, domain.CadenceEvent{UserID: "u1", Date: day(d), Kind: domain.KindActionCompleted, CreatedAt: "2025-03-31T00:00:00Z"}))
	}
	err := r.InsertCadenceEvent(ctx, nil, domain.CadenceEvent{UserID: "u1", Date: day("2025-03-10"), Kind: domain.KindMissed})
	assert.ErrorIs(t, err, repo.ErrConflict)

	list, err := r.ListCadenceEventsSince(ctx, "u1", day("2025-03-10"))
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "2025-03-20", domain.FormatDay(list[0].Date))
	assert.Equal(t, "2025-03-10", domain.FormatDay(list[1].Date))

	all, err := r.ListCadenceEventsSince(ctx, "u1", time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	n, err := r.CountCadenceEvents(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	bounded, err := r.ListCadenceEventsBetween(ctx, "u1", day("2025-03-01"), day("2025-03-15"))
	require.NoError(t, err)
	require.Len(t, bounded, 2)
	assert.Equal(t, "2025-03-10", domain.FormatDay(bounded[0].Date))
	assert.Equal(t, "2025-03-01", domain.FormatDay(bounded[1].Date))

	n, err = r.CountCadenceEventsThrough(ctx, "u1", day("2025-03-09"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = r.CountCadenceEventsThrough(ctx, "u1", day("2025-02-28"))
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := r.GetCadenceEvent(ctx, "u1", day("2025-03-01"))
	require.NoError(t, err)
	assert.Equal(t, domain.KindActionCompleted, got.Kind)
	_, err = r.GetCadenceEvent(ctx, "u1", day("2025-02-01"))
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestCadenceEventRequiresUser(t *testing.T) {
	r, ctx := newRepo(t)
	err := r.InsertCadenceEvent(ctx, nil, domain.CadenceEvent{UserID: "ghost", Date: day("2025-03-01"), Kind: domain.KindMissed})
	assert.Error(t, err)
}

func TestListUsersCursor(t *testing.T) {
	r, ctx := newRepo(t)
	seedUser(t, r, ctx, "a", "2025-01-01T00:00:00Z")
	seedUser(t, r, ctx, "b", "2025-01-02T00:00:00Z")
	seedUser(t, r, ctx, "c", "2025-01-03T00:00:00Z")

	page, err := r.ListUsers(ctx, repo.UserFilters{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "c", page[0].ID)
	last := page[1]

	next, err := r.ListUsers(ctx, repo.UserFilters{Limit: 2, CursorCreatedAt: last.CreatedAt, CursorID: last.ID})
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, "a", next[0].ID)

	none, err := r.ListUsers(ctx, repo.UserFilters{Role: domain.RoleManager})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAuditEventCursors(t *testing.T) {
	r, ctx := newRepo(t)
	w := events.Writer{Now: func() time.Time { return time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC) }}
	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, w.Append(ctx, tx, events.UserCreated, "user", "u", "", nil))
	}
	require.NoError(t, tx.Commit())

	latest, err := r.LatestAuditEventID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), latest)

	after, err := r.AuditEventsAfter(ctx, 10, 3)
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, int64(4), after[0].ID)

	page, err := r.LatestAuditEvents(ctx, repo.AuditFilters{Limit: 2, Before: 4})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(3), page[0].ID)
	assert.Equal(t, "system", page[0].ActorID)
	assert.Equal(t, "{}", page[0].Payload)
}
