package auth

import (
	"context"
	"fmt"

	"agencyhub/internal/domain"
	"agencyhub/internal/repo"
)

// NotEligibleError indicates a user whose role or status excludes them from
// rhythm tracking.
type NotEligibleError struct {
	UserID string
	Role   string
	Status string
}

func (e NotEligibleError) Error() string {
	return fmt.Sprintf("user %s not eligible for rhythm state (role=%s status=%s)", e.UserID, e.Role, e.Status)
}

// Gate decides which users may receive a rhythm state.
type Gate struct {
	Repo     repo.Repo
	Roles    []string
	Statuses []string
}

func (g Gate) UserExists(ctx context.Context, userID string) (bool, error) {
	return g.Repo.UserExists(ctx, userID)
}

// IsEligible reports whether the user's role and status are both allowed.
// Missing users return repo.ErrNotFound.
func (g Gate) IsEligible(ctx context.Context, userID string) (bool, error) {
	_, ok, err := g.lookup(ctx, userID)
	return ok, err
}

// Check runs existence then eligibility and returns the matching typed error.
func (g Gate) Check(ctx context.Context, userID string) error {
	exists, err := g.UserExists(ctx, userID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("user %s: %w", userID, repo.ErrNotFound)
	}
	u, ok, err := g.lookup(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return NotEligibleError{UserID: userID, Role: u.Role, Status: u.Status}
	}
	return nil
}

func (g Gate) lookup(ctx context.Context, userID string) (domain.User, bool, error) {
	u, err := g.Repo.GetUser(ctx, userID)
	if err != nil {
		return domain.User{}, false, err
	}
	return u, contains(g.Roles, u.Role) && contains(g.Statuses, u.Status), nil
}

func contains(items []string, v string) bool {
	for _, it := range items {
		if it == v {
			return true
		}
	}
	return false
}
