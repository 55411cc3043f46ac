package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/felixgeelhaar/bolt/v3"
	"github.com/google/uuid"

	"agencyhub/internal/config"
	"agencyhub/internal/domain"
	"agencyhub/internal/engine/auth"
	"agencyhub/internal/events"
	"agencyhub/internal/logging"
	"agencyhub/internal/repo"
	"agencyhub/internal/rhythm"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrInvalidEventKind = errors.New("invalid event kind")
	ErrFutureEvent      = errors.New("event date is in the future")
	ErrDuplicateEvent   = errors.New("event already recorded for date")
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Gate   auth.Gate
	Config *config.Config
	Now    func() time.Time
	Logger *bolt.Logger
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	r := repo.Repo{DB: db}
	e := Engine{
		DB:     db,
		Repo:   r,
		Gate:   auth.Gate{Repo: r, Roles: cfg.Eligibility.Roles, Statuses: cfg.Eligibility.Statuses},
		Config: cfg,
		Now:    time.Now,
	}
	e.Events = events.Writer{Now: e.now}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() *bolt.Logger {
	return logging.Or(e.Logger)
}

func (e Engine) location() *time.Location {
	if e.Config == nil {
		return time.UTC
	}
	loc, err := e.Config.Location()
	if err != nil {
		return time.UTC
	}
	return loc
}

// Today is the current calendar day in the configured timezone.
func (e Engine) Today() time.Time {
	return domain.Day(e.now().In(e.location()))
}

func (e Engine) lookbackDays() int {
	if e.Config == nil || e.Config.Rhythm.LookbackDays < config.MinLookbackDays {
		return config.MinLookbackDays
	}
	return e.Config.Rhythm.LookbackDays
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// UserCreateOptions are parameters for creating a user.
type UserCreateOptions struct {
	ID      string
	Name    string
	Email   string
	Role    string
	Status  string
	ActorID string
}

func (e Engine) CreateUser(ctx context.Context, opts UserCreateOptions) (domain.User, error) {
	opts.Name = strings.TrimSpace(opts.Name)
	if opts.Name == "" {
		return domain.User{}, invalid("name required")
	}
	if opts.Role == "" {
		opts.Role = domain.RoleAgent
	}
	if opts.Status == "" {
		opts.Status = domain.StatusOnboarding
	}
	if !domain.ValidRole(opts.Role) {
		return domain.User{}, invalid("role %q", opts.Role)
	}
	if !domain.ValidStatus(opts.Status) {
		return domain.User{}, invalid("status %q", opts.Status)
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := e.now().UTC().Format(time.RFC3339)
	u := domain.User{
		ID:        id,
		Name:      opts.Name,
		Email:     strings.TrimSpace(opts.Email),
		Role:      opts.Role,
		Status:    opts.Status,
		CreatedAt: now,
		UpdatedAt: now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertUser(ctx, tx, u); err != nil {
		return domain.User{}, fmt.Errorf("insert user: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.UserCreated, "user", u.ID, opts.ActorID, events.Payload{"role": u.Role, "status": u.Status}); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// UserUpdateOptions carries a partial update; nil fields are left unchanged.
type UserUpdateOptions struct {
	ID      string
	Name    *string
	Email   *string
	Role    *string
	Status  *string
	ActorID string
}

func (e Engine) UpdateUser(ctx context.Context, opts UserUpdateOptions) (domain.User, error) {
	u, err := e.Repo.GetUser(ctx, opts.ID)
	if err != nil {
		return domain.User{}, err
	}
	changes := events.Payload{}
	if opts.Name != nil {
		name := strings.TrimSpace(*opts.Name)
		if name == "" {
			return domain.User{}, invalid("name required")
		}
		u.Name = name
		changes["name"] = name
	}
	if opts.Email != nil {
		u.Email = strings.TrimSpace(*opts.Email)
		changes["email"] = u.Email
	}
	if opts.Role != nil {
		if !domain.ValidRole(*opts.Role) {
			return domain.User{}, invalid("role %q", *opts.Role)
		}
		changes["from_role"] = u.Role
		u.Role = *opts.Role
		changes["role"] = u.Role
	}
	if opts.Status != nil {
		if !domain.ValidStatus(*opts.Status) {
			return domain.User{}, invalid("status %q", *opts.Status)
		}
		changes["from_status"] = u.Status
		u.Status = *opts.Status
		changes["status"] = u.Status
	}
	if len(changes) == 0 {
		return u, nil
	}
	u.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateUser(ctx, tx, u); err != nil {
		return domain.User{}, fmt.Errorf("update user: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.UserUpdated, "user", u.ID, opts.ActorID, changes); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

func (e Engine) GetUser(ctx context.Context, id string) (domain.User, error) {
	return e.Repo.GetUser(ctx, id)
}

func (e Engine) ListUsers(ctx context.Context, f repo.UserFilters) ([]domain.User, error) {
	return e.Repo.ListUsers(ctx, f)
}

// CadenceRecordOptions describes one daily cadence outcome.
type CadenceRecordOptions struct {
	UserID string
	// Date defaults to today in the configured timezone.
	Date    time.Time
	Kind    string
	ActorID string
}

func (e Engine) RecordCadenceEvent(ctx context.Context, opts CadenceRecordOptions) (domain.CadenceEvent, error) {
	kind, err := domain.ParseEventKind(opts.Kind)
	if err != nil {
		return domain.CadenceEvent{}, fmt.Errorf("%w: %q", ErrInvalidEventKind, opts.Kind)
	}
	today := e.Today()
	date := today
	if !opts.Date.IsZero() {
		date = domain.Day(opts.Date)
	}
	if date.After(today) {
		return domain.CadenceEvent{}, fmt.Errorf("%w: %s after %s", ErrFutureEvent, domain.FormatDay(date), domain.FormatDay(today))
	}
	if _, err := e.Repo.GetUser(ctx, opts.UserID); err != nil {
		return domain.CadenceEvent{}, err
	}
	ev := domain.CadenceEvent{
		UserID:    opts.UserID,
		Date:      date,
		Kind:      kind,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.CadenceEvent{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertCadenceEvent(ctx, tx, ev); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return domain.CadenceEvent{}, fmt.Errorf("%w: %s %s", ErrDuplicateEvent, ev.UserID, domain.FormatDay(date))
		}
		return domain.CadenceEvent{}, fmt.Errorf("insert cadence event: %w", err)
	}
	payload := events.Payload{"date": domain.FormatDay(date), "kind": string(kind)}
	if err := e.Events.Append(ctx, tx, events.CadenceRecorded, "user", ev.UserID, opts.ActorID, payload); err != nil {
		return domain.CadenceEvent{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.CadenceEvent{}, err
	}
	logging.With(e.log().Debug(), logging.UserID(ev.UserID), logging.EventKind(kind)).
		Str("date", domain.FormatDay(date)).Msg("cadence event recorded")
	return ev, nil
}

func (e Engine) DeleteCadenceEvent(ctx context.Context, userID string, date time.Time, actorID string) error {
	date = domain.Day(date)
	existing, err := e.Repo.GetCadenceEvent(ctx, userID, date)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteCadenceEvent(ctx, tx, userID, date); err != nil {
		return err
	}
	payload := events.Payload{"date": domain.FormatDay(date), "kind": string(existing.Kind)}
	if err := e.Events.Append(ctx, tx, events.CadenceDeleted, "user", userID, actorID, payload); err != nil {
		return err
	}
	return tx.Commit()
}

// ListCadenceEvents returns events on or after since, newest first. A zero
// since lists the full history.
func (e Engine) ListCadenceEvents(ctx context.Context, userID string, since time.Time) ([]domain.CadenceEvent, error) {
	if _, err := e.Repo.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return e.Repo.ListCadenceEventsSince(ctx, userID, since)
}

// ResolveRhythmState computes the user's rhythm state as of today.
func (e Engine) ResolveRhythmState(ctx context.Context, userID string) (domain.RhythmStateResult, error) {
	return e.ResolveRhythmStateAt(ctx, userID, e.Today())
}

// ResolveRhythmStateAt computes the rhythm state as if today were the given day.
func (e Engine) ResolveRhythmStateAt(ctx context.Context, userID string, today time.Time) (domain.RhythmStateResult, error) {
	ev, err := e.EvaluateRhythmStateAt(ctx, userID, today)
	if err != nil {
		return domain.RhythmStateResult{}, err
	}
	return ev.Result, nil
}

// EvaluateRhythmStateAt is ResolveRhythmStateAt with the intermediate signals.
func (e Engine) EvaluateRhythmStateAt(ctx context.Context, userID string, today time.Time) (rhythm.Evaluation, error) {
	if err := e.Gate.Check(ctx, userID); err != nil {
		return rhythm.Evaluation{}, err
	}
	today = domain.Day(today)
	since := today.AddDate(0, 0, -(e.lookbackDays() - 1))
	window, err := e.Repo.ListCadenceEventsBetween(ctx, userID, since, today)
	if err != nil {
		return rhythm.Evaluation{}, fmt.Errorf("read cadence events: %w", err)
	}
	hasHistory := len(window) > 0
	if !hasHistory {
		n, err := e.Repo.CountCadenceEventsThrough(ctx, userID, today)
		if err != nil {
			return rhythm.Evaluation{}, fmt.Errorf("count cadence events: %w", err)
		}
		hasHistory = n > 0
	}
	eval := rhythm.Evaluate(rhythm.Input{
		Today:      today,
		Events:     window,
		HasHistory: hasHistory,
		ComputedAt: e.now(),
	})
	logging.With(e.log().Debug(),
		logging.UserID(userID),
		logging.Potential(eval.Potential),
		logging.State(eval.Final),
		logging.Degraded(eval.Result.InternalDegradation),
	).Str("rule", eval.Rule).Msg("rhythm state resolved")
	return eval, nil
}

// CreateAPIKey issues a key for userID. The plaintext is returned once and
// only its hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, userID, name, actorID string) (domain.APIKey, string, error) {
	if _, err := e.Repo.GetUser(ctx, userID); err != nil {
		return domain.APIKey{}, "", err
	}
	secret, err := newSecret()
	if err != nil {
		return domain.APIKey{}, "", err
	}
	key := domain.APIKey{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(secret),
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return domain.APIKey{}, "", fmt.Errorf("insert api key: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.APIKeyCreated, "api_key", key.ID, actorID, events.Payload{"user_id": userID, "name": key.Name}); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, secret, nil
}

// ListAPIKeys returns userID's keys, newest first.
func (e Engine) ListAPIKeys(ctx context.Context, userID string) ([]domain.APIKey, error) {
	if _, err := e.Repo.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return e.Repo.ListAPIKeys(ctx, userID)
}

// RevokeAPIKey deletes one of userID's keys; it stops authenticating at once.
func (e Engine) RevokeAPIKey(ctx context.Context, userID, keyID, actorID string) error {
	if _, err := e.Repo.GetUser(ctx, userID); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteAPIKey(ctx, tx, userID, keyID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.APIKeyRevoked, "api_key", keyID, actorID, events.Payload{"user_id": userID}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) ListAuditEvents(ctx context.Context, f repo.AuditFilters) ([]domain.AuditEvent, error) {
	return e.Repo.LatestAuditEvents(ctx, f)
}

func newSecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return "ak_" + hex.EncodeToString(buf), nil
}
