package domain

type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role" enum:"agent,recruit,manager,admin"`
	Status    string `json:"status" enum:"onboarding,active,suspended,terminated"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

// Known user roles and statuses. The eligibility gate decides which of them
// may receive a rhythm state.
const (
	RoleAgent   = "agent"
	RoleRecruit = "recruit"
	RoleManager = "manager"
	RoleAdmin   = "admin"

	StatusOnboarding = "onboarding"
	StatusActive     = "active"
	StatusSuspended  = "suspended"
	StatusTerminated = "terminated"
)

var (
	Roles    = []string{RoleAgent, RoleRecruit, RoleManager, RoleAdmin}
	Statuses = []string{StatusOnboarding, StatusActive, StatusSuspended, StatusTerminated}
)

// ValidRole reports whether role is one of Roles.
func ValidRole(role string) bool {
	return contains(Roles, role)
}

// ValidStatus reports whether status is one of Statuses.
func ValidStatus(status string) bool {
	return contains(Statuses, status)
}

func contains(items []string, v string) bool {
	for _, it := range items {
		if it == v {
			return true
		}
	}
	return false
}

type AuditEvent struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
