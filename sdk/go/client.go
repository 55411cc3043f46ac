package agencysdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal agency HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// User represents the API user model.
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// CadenceEvent is one recorded day.
type CadenceEvent struct {
	UserID    string `json:"user_id"`
	Date      string `json:"date"`
	Kind      string `json:"kind"`
	CreatedAt string `json:"created_at"`
}

// RhythmState is the resolved engagement state for a user.
type RhythmState struct {
	RhythmState                  string           `json:"rhythm_state"`
	StreakDays                   int              `json:"streak_days"`
	WeeksOnCadence               int              `json:"weeks_on_cadence"`
	NextThreshold                *string          `json:"next_threshold"`
	DaysRemainingToNextThreshold int              `json:"days_remaining_to_next_threshold"`
	TodayStatus                  string           `json:"today_status"`
	InternalDegradation          bool             `json:"internal_degradation"`
	BehavioralConstraints        *json.RawMessage `json:"behavioral_constraints"`
	ComputedAt                   string           `json:"computed_at"`
	PeerAlignmentEnabled         bool             `json:"peer_alignment_enabled"`
	PeerPercentile               int              `json:"peer_percentile"`
	PeerComparison               string           `json:"peer_comparison"`
}

// AuditEvent represents an audit log entry.
type AuditEvent struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// PaginatedAuditEvents wraps list responses with cursors.
type PaginatedAuditEvents struct {
	Items      []AuditEvent `json:"items"`
	NextCursor string       `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code and Message come from the error
// envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateUser creates a user. Empty role and status take server defaults.
func (c *Client) CreateUser(ctx context.Context, id, name, role, status string) (User, error) {
	body := map[string]any{"name": name}
	if id != "" {
		body["id"] = id
	}
	if role != "" {
		body["role"] = role
	}
	if status != "" {
		body["status"] = status
	}
	var resp User
	err := c.do(ctx, http.MethodPost, "v0/users", body, &resp)
	return resp, err
}

// GetUser fetches a user by id.
func (c *Client) GetUser(ctx context.Context, id string) (User, error) {
	var resp User
	err := c.do(ctx, http.MethodGet, userPath(id, ""), nil, &resp)
	return resp, err
}

// RecordCadenceEvent records the outcome of one day. An empty date means today.
func (c *Client) RecordCadenceEvent(ctx context.Context, userID, date, kind string) (CadenceEvent, error) {
	body := map[string]any{"kind": kind}
	if date != "" {
		body["date"] = date
	}
	var resp CadenceEvent
	err := c.do(ctx, http.MethodPost, userPath(userID, "cadence-events"), body, &resp)
	return resp, err
}

// ListCadenceEvents lists events on or after since (YYYY-MM-DD), newest first.
func (c *Client) ListCadenceEvents(ctx context.Context, userID, since string) ([]CadenceEvent, error) {
	endpoint := userPath(userID, "cadence-events")
	if since != "" {
		endpoint += "?since=" + url.QueryEscape(since)
	}
	var resp struct {
		Items []CadenceEvent `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// DeleteCadenceEvent removes the event recorded on date.
func (c *Client) DeleteCadenceEvent(ctx context.Context, userID, date string) error {
	return c.do(ctx, http.MethodDelete, userPath(userID, "cadence-events/"+url.PathEscape(date)), nil, nil)
}

// RhythmState resolves the user's current rhythm state.
func (c *Client) RhythmState(ctx context.Context, userID string) (RhythmState, error) {
	return c.RhythmStateAsOf(ctx, userID, "")
}

// RhythmStateAsOf resolves the rhythm state as of a past date.
func (c *Client) RhythmStateAsOf(ctx context.Context, userID, asOf string) (RhythmState, error) {
	endpoint := userPath(userID, "rhythm-state")
	if asOf != "" {
		endpoint += "?as_of=" + url.QueryEscape(asOf)
	}
	var resp RhythmState
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// AuditEventsPage returns a page of audit events, newest first.
func (c *Client) AuditEventsPage(ctx context.Context, limit int, cursor string) (PaginatedAuditEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "v0/audit-events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedAuditEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func userPath(userID, p string) string {
	base := "v0/users/" + url.PathEscape(userID)
	if p == "" {
		return base
	}
	return base + "/" + strings.TrimLeft(p, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
