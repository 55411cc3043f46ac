package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agencyhub/internal/config"
	"agencyhub/internal/db"
	"agencyhub/internal/domain"
	"agencyhub/internal/engine"
	"agencyhub/internal/migrate"
)

const testSecret = "test-secret"

var testNow = time.Date(2025, 3, 31, 14, 30, 0, 0, time.UTC)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	token  string
	close  func()
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	require.NoError(t, err, "open db")
	require.NoError(t, migrate.Migrate(conn), "migrate")
	e := engine.New(conn, config.Default())
	e.Now = func() time.Time { return testNow }
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret, EnableDevLogin: true},
	})
	require.NoError(t, err, "build handler")
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err, "listen")
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.close)

	res, body := ts.do(t, http.MethodPost, "/v0/auth/dev/login", map[string]any{"actor_id": "ops"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	var login DevLoginResponse
	require.NoError(t, json.Unmarshal(body, &login))
	ts.token = login.Token
	return ts
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err, "marshal body")
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err, "new request")
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	require.NoError(t, err, "do request")
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err, "read body")
	return res, data
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	return doJSON(t, s.client, method, s.URL+path, body, headers)
}

// authed sends the request with the dev bearer token.
func (s *testServer) authed(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	return s.do(t, method, path, body, map[string]string{"Authorization": "Bearer " + s.token})
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(body, &env), string(body))
	return env.Error.Code
}

func (s *testServer) createUser(t *testing.T, id, role, status string) {
	t.Helper()
	res, body := s.authed(t, http.MethodPost, "/v0/users", map[string]any{"id": id, "name": "User " + id, "role": role, "status": status})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
}

func TestHealthAndAuth(t *testing.T) {
	srv := newTestServer(t)

	res, body := srv.do(t, http.MethodGet, "/v0/health", nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode, string(body))

	res, body = srv.do(t, http.MethodGet, "/v0/users", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "unauthorized", errorCode(t, body))

	res, body = srv.do(t, http.MethodGet, "/v0/users", nil, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "invalid_credentials", errorCode(t, body))

	res, body = srv.authed(t, http.MethodGet, "/v0/me", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	var me MeResponse
	require.NoError(t, json.Unmarshal(body, &me))
	assert.Equal(t, "ops", me.ActorID)
	assert.Equal(t, "jwt", me.Source)
}

func TestRhythmStateEndpoint(t *testing.T) {
	srv := newTestServer(t)
	srv.createUser(t, "u1", domain.RoleAgent, domain.StatusActive)

	res, body := srv.authed(t, http.MethodGet, "/v0/users/u1/rhythm-state", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	var raw map[string]any
	require.NoError(t, json.Unmarshal(body, &raw))
	assert.Equal(t, "NOT_STARTED", raw["rhythm_state"])
	assert.Equal(t, "STARTING_TO_FLOW", raw["next_threshold"])
	assert.Nil(t, raw["behavioral_constraints"])
	assert.Equal(t, false, raw["peer_alignment_enabled"])
	assert.Equal(t, "UNAVAILABLE", raw["peer_comparison"])

	for i := 6; i >= 0; i-- {
		date := domain.FormatDay(domain.Day(testNow).AddDate(0, 0, -i))
		res, body := srv.authed(t, http.MethodPost, "/v0/users/u1/cadence-events", map[string]any{"date": date, "kind": "ACTION_COMPLETED"})
		require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
	}

	res, body = srv.authed(t, http.MethodGet, "/v0/users/u1/rhythm-state", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	var result domain.RhythmStateResult
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, domain.StateOnCadence, result.RhythmState)
	assert.Equal(t, domain.TodayComplete, result.TodayStatus)
	assert.Equal(t, 21, result.DaysRemainingToNextThreshold)
	assert.Equal(t, "2025-03-31T14:30:00Z", result.ComputedAt)

	res, body = srv.authed(t, http.MethodGet, "/v0/users/u1/rhythm-state?as_of=2025-03-27", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, domain.StateStartingToFlow, result.RhythmState)

	res, _ = srv.authed(t, http.MethodGet, "/v0/users/u1/rhythm-state?as_of=2025-04-02", nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestNewBuildsHandler(t *testing.T) {
	var handler http.Handler
	require.NotPanics(t, func() {
		var err error
		handler, err = New(Config{Engine: engine.New(nil, nil)})
		require.NoError(t, err)
	})
	assert.NotNil(t, handler)
}

func TestRhythmStateEndpointFlowing(t *testing.T) {
	srv := newTestServer(t)
	srv.createUser(t, "u1", domain.RoleAgent, domain.StatusActive)
	for i := 0; i < 22; i++ {
		_, err := srv.Engine.RecordCadenceEvent(context.Background(), engine.CadenceRecordOptions{
			UserID: "u1",
			Date:   domain.Day(testNow).AddDate(0, 0, -i),
			Kind:   string(domain.KindActionCompleted),
		})
		require.NoError(t, err)
	}

	res, body := srv.authed(t, http.MethodGet, "/v0/users/u1/rhythm-state", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	var raw map[string]any
	require.NoError(t, json.Unmarshal(body, &raw))
	assert.Equal(t, "FLOWING_IN_RHYTHM", raw["rhythm_state"])
	assert.Nil(t, raw["next_threshold"])
	assert.EqualValues(t, 0, raw["days_remaining_to_next_threshold"])
	assert.Equal(t, "COMPLETE", raw["today_status"])
	assert.EqualValues(t, 3, raw["weeks_on_cadence"])
	constraints, ok := raw["behavioral_constraints"].(map[string]any)
	require.True(t, ok, string(body))
	assert.Equal(t, true, constraints["suppress_escalation"])
}

func TestRhythmStateErrors(t *testing.T) {
	srv := newTestServer(t)
	srv.createUser(t, "mgr", domain.RoleManager, domain.StatusActive)

	res, body := srv.authed(t, http.MethodGet, "/v0/users/mgr/rhythm-state", nil)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Equal(t, "not_eligible", errorCode(t, body))

	res, body = srv.authed(t, http.MethodGet, "/v0/users/ghost/rhythm-state", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "not_found", errorCode(t, body))
}

func TestCadenceEventEndpoints(t *testing.T) {
	srv := newTestServer(t)
	srv.createUser(t, "u1", domain.RoleRecruit, domain.StatusOnboarding)

	res, body := srv.authed(t, http.MethodPost, "/v0/users/u1/cadence-events", map[string]any{"kind": "MISSED"})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
	var ev CadenceEventResponse
	require.NoError(t, json.Unmarshal(body, &ev))
	assert.Equal(t, "2025-03-31", ev.Date)

	res, body = srv.authed(t, http.MethodPost, "/v0/users/u1/cadence-events", map[string]any{"kind": "RESET"})
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Equal(t, "duplicate_event", errorCode(t, body))

	res, _ = srv.authed(t, http.MethodPost, "/v0/users/u1/cadence-events", map[string]any{"kind": "NAP"})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, body = srv.authed(t, http.MethodPost, "/v0/users/u1/cadence-events", map[string]any{"kind": "MISSED", "date": "2025-04-05"})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "future_event", errorCode(t, body))

	res, body = srv.authed(t, http.MethodPost, "/v0/users/u1/cadence-events", map[string]any{"kind": "MILESTONE", "date": "2025-03-30"})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))

	res, body = srv.authed(t, http.MethodGet, "/v0/users/u1/cadence-events?since=2025-03-31", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	var list paginatedCadenceEvents
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list.Items, 1)
	assert.Equal(t, "MISSED", list.Items[0].Kind)

	res, _ = srv.authed(t, http.MethodDelete, "/v0/users/u1/cadence-events/2025-03-31", nil)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	res, _ = srv.authed(t, http.MethodDelete, "/v0/users/u1/cadence-events/2025-03-31", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	res, _ = srv.authed(t, http.MethodDelete, "/v0/users/u1/cadence-events/yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestUserEndpoints(t *testing.T) {
	srv := newTestServer(t)
	for _, id := range []string{"a", "b", "c"} {
		srv.createUser(t, id, domain.RoleAgent, domain.StatusActive)
	}

	res, body := srv.authed(t, http.MethodPatch, "/v0/users/b", map[string]any{"status": "suspended"})
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	var u domain.User
	require.NoError(t, json.Unmarshal(body, &u))
	assert.Equal(t, domain.StatusSuspended, u.Status)

	res, body = srv.authed(t, http.MethodGet, "/v0/users?status=active", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	var page paginatedUsers
	require.NoError(t, json.Unmarshal(body, &page))
	assert.Len(t, page.Items, 2)

	res, _ = srv.authed(t, http.MethodGet, "/v0/users/zzz", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res, body = srv.authed(t, http.MethodPost, "/v0/users", map[string]any{"id": "a", "name": "Again"})
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Equal(t, "conflict", errorCode(t, body))
}

func TestAPIKeyAuthAndAudit(t *testing.T) {
	srv := newTestServer(t)
	srv.createUser(t, "u1", domain.RoleAgent, domain.StatusActive)

	res, body := srv.authed(t, http.MethodPost, "/v0/users/u1/api-keys", map[string]any{"name": "crm-sync"})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
	var key APIKeyResponse
	require.NoError(t, json.Unmarshal(body, &key))
	require.NotEmpty(t, key.Key)

	res, body = srv.do(t, http.MethodGet, "/v0/me", nil, map[string]string{"X-Api-Key": key.Key})
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	var me MeResponse
	require.NoError(t, json.Unmarshal(body, &me))
	assert.Equal(t, "u1", me.ActorID)
	assert.Equal(t, "api_key", me.Source)

	res, _ = srv.do(t, http.MethodGet, "/v0/me", nil, map[string]string{"X-Api-Key": "ak_wrong"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, body = srv.authed(t, http.MethodGet, "/v0/audit-events?limit=1", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	var page paginatedAuditEvents
	require.NoError(t, json.Unmarshal(body, &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, "api_key.created", page.Items[0].Type)
	assert.Equal(t, "ops", page.Items[0].ActorID)
	require.NotEmpty(t, page.NextCursor)

	res, body = srv.authed(t, http.MethodGet, "/v0/audit-events?limit=5&cursor="+page.NextCursor, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	require.NoError(t, json.Unmarshal(body, &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, "user.created", page.Items[0].Type)
	assert.Empty(t, page.NextCursor)
}

func TestAPIKeyListAndRevoke(t *testing.T) {
	srv := newTestServer(t)
	srv.createUser(t, "u1", domain.RoleAgent, domain.StatusActive)

	res, body := srv.authed(t, http.MethodPost, "/v0/users/u1/api-keys", map[string]any{"name": "crm-sync"})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
	var key APIKeyResponse
	require.NoError(t, json.Unmarshal(body, &key))

	res, body = srv.authed(t, http.MethodGet, "/v0/users/u1/api-keys", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	assert.NotContains(t, string(body), key.Key)
	assert.NotContains(t, string(body), "key_hash")
	var list apiKeyList
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list.Items, 1)
	assert.Equal(t, key.ID, list.Items[0].ID)
	assert.Equal(t, "crm-sync", list.Items[0].Name)

	res, _ = srv.do(t, http.MethodGet, "/v0/me", nil, map[string]string{"X-Api-Key": key.Key})
	require.Equal(t, http.StatusOK, res.StatusCode)

	res, body = srv.authed(t, http.MethodDelete, "/v0/users/u1/api-keys/"+key.ID, nil)
	require.Equal(t, http.StatusNoContent, res.StatusCode, string(body))

	res, body = srv.do(t, http.MethodGet, "/v0/me", nil, map[string]string{"X-Api-Key": key.Key})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode, string(body))

	res, body = srv.authed(t, http.MethodDelete, "/v0/users/u1/api-keys/"+key.ID, nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "not_found", errorCode(t, body))

	res, body = srv.authed(t, http.MethodGet, "/v0/audit-events?limit=1&type=api_key.revoked", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	var page paginatedAuditEvents
	require.NoError(t, json.Unmarshal(body, &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, key.ID, page.Items[0].EntityID)
	assert.Equal(t, "ops", page.Items[0].ActorID)
}

func TestOpenAPIIsPublic(t *testing.T) {
	srv := newTestServer(t)
	res, body := srv.do(t, http.MethodGet, "/v0/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(body, &doc))
	paths, ok := doc["paths"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, paths, "/v0/users/{user_id}/rhythm-state")
}

func TestOpenAPIConcurrentRequests(t *testing.T) {
	srv := newTestServer(t)
	var wg sync.WaitGroup
	bodies := make([][]byte, 8)
	for i := range bodies {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := http.Get(srv.URL + "/v0/openapi.json")
			if err != nil {
				return
			}
			defer res.Body.Close()
			bodies[i], _ = io.ReadAll(res.Body)
		}(i)
	}
	wg.Wait()
	for _, b := range bodies {
		require.NotEmpty(t, b)
		assert.Equal(t, string(bodies[0]), string(b))
	}
}
