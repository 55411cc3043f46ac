package server

import (
	"agencyhub/internal/domain"
)

// Request payloads

type CreateUserRequest struct {
	ID     *string `json:"id,omitempty"`
	Name   string  `json:"name" minLength:"1"`
	Email  *string `json:"email,omitempty"`
	Role   string  `json:"role,omitempty" enum:"agent,recruit,manager,admin"`
	Status string  `json:"status,omitempty" enum:"onboarding,active,suspended,terminated"`
}

type UpdateUserRequest struct {
	Name   *string `json:"name,omitempty"`
	Email  *string `json:"email,omitempty"`
	Role   *string `json:"role,omitempty" enum:"agent,recruit,manager,admin"`
	Status *string `json:"status,omitempty" enum:"onboarding,active,suspended,terminated"`
}

type RecordCadenceEventRequest struct {
	// Date defaults to today in the configured timezone.
	Date string `json:"date,omitempty" example:"2025-03-31"`
	Kind string `json:"kind" enum:"ACTION_COMPLETED,MILESTONE,MISSED,RESET"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

// Response payloads

type CadenceEventResponse struct {
	UserID    string `json:"user_id"`
	Date      string `json:"date" example:"2025-03-31"`
	Kind      string `json:"kind" enum:"ACTION_COMPLETED,MILESTONE,MISSED,RESET"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key" doc:"Plaintext key, shown once"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// APIKeySummary describes an issued key without its secret or hash.
type APIKeySummary struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type MeResponse struct {
	ActorID string `json:"actor_id"`
	Source  string `json:"source" enum:"jwt,api_key"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type paginatedUsers struct {
	Items      []domain.User `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type paginatedCadenceEvents struct {
	Items []CadenceEventResponse `json:"items"`
}

type apiKeyList struct {
	Items []APIKeySummary `json:"items"`
}

type paginatedAuditEvents struct {
	Items      []domain.AuditEvent `json:"items"`
	NextCursor string              `json:"next_cursor,omitempty"`
}

// Conversion helpers

func cadenceEventResponse(ev domain.CadenceEvent) CadenceEventResponse {
	return CadenceEventResponse{
		UserID:    ev.UserID,
		Date:      domain.FormatDay(ev.Date),
		Kind:      string(ev.Kind),
		CreatedAt: ev.CreatedAt,
	}
}

func mapCadenceEvents(items []domain.CadenceEvent) []CadenceEventResponse {
	res := make([]CadenceEventResponse, 0, len(items))
	for _, ev := range items {
		res = append(res, cadenceEventResponse(ev))
	}
	return res
}

func nonNilUsers(items []domain.User) []domain.User {
	if items == nil {
		return []domain.User{}
	}
	return items
}

func nonNilAuditEvents(items []domain.AuditEvent) []domain.AuditEvent {
	if items == nil {
		return []domain.AuditEvent{}
	}
	return items
}

func mapAPIKeys(keys []domain.APIKey) []APIKeySummary {
	out := make([]APIKeySummary, 0, len(keys))
	for _, k := range keys {
		out = append(out, APIKeySummary{ID: k.ID, UserID: k.UserID, Name: k.Name, CreatedAt: k.CreatedAt})
	}
	return out
}
