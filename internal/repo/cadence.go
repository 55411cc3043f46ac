package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"agencyhub/internal/domain"
)

func scanCadenceEvent(row rowScanner) (domain.CadenceEvent, error) {
	var (
		ev   domain.CadenceEvent
		date string
		kind string
	)
	if err := row.Scan(&ev.UserID, &date, &kind, &ev.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ev, ErrNotFound
		}
		return ev, err
	}
	d, err := domain.ParseDay(date)
	if err != nil {
		return ev, fmt.Errorf("cadence event %s/%s: %w", ev.UserID, date, err)
	}
	ev.Date = d
	ev.Kind = domain.EventKind(kind)
	return ev, nil
}

// InsertCadenceEvent stores one event; a second event on the same date
// returns ErrConflict.
func (r Repo) InsertCadenceEvent(ctx context.Context, tx *sql.Tx, ev domain.CadenceEvent) error {
	_, err := r.execer(tx).ExecContext(ctx, `INSERT INTO cadence_events(user_id,date,kind,created_at) VALUES (?,?,?,?)`,
		ev.UserID, domain.FormatDay(ev.Date), string(ev.Kind), ev.CreatedAt)
	return mapConstraint(err)
}

func (r Repo) GetCadenceEvent(ctx context.Context, userID string, date time.Time) (domain.CadenceEvent, error) {
	return scanCadenceEvent(r.DB.QueryRowContext(ctx, `SELECT user_id,date,kind,created_at FROM cadence_events WHERE user_id=? AND date=?`,
		userID, domain.FormatDay(date)))
}

func (r Repo) DeleteCadenceEvent(ctx context.Context, tx *sql.Tx, userID string, date time.Time) error {
	res, err := r.execer(tx).ExecContext(ctx, `DELETE FROM cadence_events WHERE user_id=? AND date=?`, userID, domain.FormatDay(date))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListCadenceEventsSince returns a user's events dated on or after since,
// newest first. A zero since returns the full history.
func (r Repo) ListCadenceEventsSince(ctx context.Context, userID string, since time.Time) ([]domain.CadenceEvent, error) {
	return r.ListCadenceEventsBetween(ctx, userID, since, time.Time{})
}

// ListCadenceEventsBetween returns events dated within [since, until], newest
// first. A zero bound leaves that side open.
func (r Repo) ListCadenceEventsBetween(ctx context.Context, userID string, since, until time.Time) ([]domain.CadenceEvent, error) {
	query := `SELECT user_id,date,kind,created_at FROM cadence_events WHERE user_id=?`
	args := []any{userID}
	if !since.IsZero() {
		query += ` AND date >= ?`
		args = append(args, domain.FormatDay(since))
	}
	if !until.IsZero() {
		query += ` AND date <= ?`
		args = append(args, domain.FormatDay(until))
	}
	query += ` ORDER BY date DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CadenceEvent
	for rows.Next() {
		ev, err := scanCadenceEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, ev)
	}
	return res, rows.Err()
}

// CountCadenceEvents counts a user's events across the full history.
func (r Repo) CountCadenceEvents(ctx context.Context, userID string) (int, error) {
	return r.CountCadenceEventsThrough(ctx, userID, time.Time{})
}

// CountCadenceEventsThrough counts events dated on or before until. A zero
// until counts everything.
func (r Repo) CountCadenceEventsThrough(ctx context.Context, userID string, until time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM cadence_events WHERE user_id=?`
	args := []any{userID}
	if !until.IsZero() {
		query += ` AND date <= ?`
		args = append(args, domain.FormatDay(until))
	}
	var n int
	err := r.DB.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}
