package agencysdk_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agencyhub/internal/config"
	"agencyhub/internal/db"
	"agencyhub/internal/engine"
	"agencyhub/internal/migrate"
	"agencyhub/internal/server"
	agencysdk "agencyhub/sdk/go"
)

func newClient(t *testing.T) *agencysdk.Client {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	e := engine.New(conn, config.Default())
	e.Now = func() time.Time { return time.Date(2025, 3, 31, 9, 0, 0, 0, time.UTC) }

	// Bootstrap a key directly; the API requires credentials for every call.
	ctx := context.Background()
	_, err = e.CreateUser(ctx, engine.UserCreateOptions{ID: "admin", Name: "Admin", Role: "admin", Status: "active"})
	require.NoError(t, err)
	_, secret, err := e.CreateAPIKey(ctx, "admin", "sdk-test", "")
	require.NoError(t, err)

	handler, err := server.New(server.Config{Engine: e, BasePath: "/v0"})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := agencysdk.New(srv.URL)
	c.APIKey = secret
	return c
}

func TestClientRhythmFlow(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	u, err := c.CreateUser(ctx, "", "Riley", "agent", "active")
	require.NoError(t, err)
	require.NotEmpty(t, u.ID)

	state, err := c.RhythmState(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "NOT_STARTED", state.RhythmState)

	for _, d := range []string{"2025-03-29", "2025-03-30", "2025-03-31"} {
		_, err := c.RecordCadenceEvent(ctx, u.ID, d, "ACTION_COMPLETED")
		require.NoError(t, err)
	}
	events, err := c.ListCadenceEvents(ctx, u.ID, "2025-03-30")
	require.NoError(t, err)
	assert.Len(t, events, 2)

	state, err = c.RhythmState(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "STARTING_TO_FLOW", state.RhythmState)
	assert.Equal(t, "COMPLETE", state.TodayStatus)
	require.NotNil(t, state.NextThreshold)
	assert.Equal(t, "ON_CADENCE", *state.NextThreshold)

	require.NoError(t, c.DeleteCadenceEvent(ctx, u.ID, "2025-03-31"))
	state, err = c.RhythmStateAsOf(ctx, u.ID, "2025-03-31")
	require.NoError(t, err)
	assert.Equal(t, "INCOMPLETE", state.TodayStatus)

	page, err := c.AuditEventsPage(ctx, 2, "")
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.NotEmpty(t, page.NextCursor)
}

func TestClientAPIError(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	_, err := c.RhythmState(ctx, "admin")
	var apiErr *agencysdk.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, "not_eligible", apiErr.Code)

	_, err = c.GetUser(ctx, "nobody")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "not_found", apiErr.Code)

	c.APIKey = "ak_bad"
	_, err = c.GetUser(ctx, "admin")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}
