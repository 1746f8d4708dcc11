package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	ngevent "github.com/eugener/ngevent/internal"
)

const registrationColumns = `id, event_id, user_id, status, form_data, registered_at`

// CreateRegistration inserts a registration. A cancelled registration for
// the same event and user is reactivated in place and r.ID is set to the
// existing row's ID. The seat count is evaluated inside the insert on the
// single write connection, so concurrent callers cannot overbook.
func (s *Store) CreateRegistration(ctx context.Context, r *ngevent.Registration, capacity *int) error {
	status := r.Status
	if status == "" {
		status = ngevent.RegistrationRegistered
	}
	var limit sql.NullInt64
	if capacity != nil {
		limit = sql.NullInt64{Int64: int64(*capacity), Valid: true}
	}
	result, err := s.write.ExecContext(ctx,
		`INSERT INTO registrations (`+registrationColumns+`)
		 SELECT ?, ?, ?, ?, ?, ?
		 WHERE ? IS NULL OR (SELECT COUNT(*) FROM registrations
		   WHERE event_id = ? AND status != 'cancelled') < ?
		 ON CONFLICT(event_id, user_id) DO UPDATE SET status=excluded.status,
		 form_data=excluded.form_data, registered_at=excluded.registered_at
		 WHERE registrations.status = 'cancelled'`,
		r.ID, r.EventID, r.UserID, status, nullStr(string(r.FormData)), fmtTime(r.RegisteredAt),
		limit, r.EventID, limit,
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return s.rejectRegistration(ctx, r.EventID, r.UserID)
	}
	r.Status = status
	return s.write.QueryRowContext(ctx,
		`SELECT id FROM registrations WHERE event_id = ? AND user_id = ?`, r.EventID, r.UserID,
	).Scan(&r.ID)
}

// rejectRegistration explains an insert that affected no rows: either the
// user already holds an active seat or the event is full.
func (s *Store) rejectRegistration(ctx context.Context, eventID, userID string) error {
	var active int
	err := s.write.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM registrations
		 WHERE event_id = ? AND user_id = ? AND status != 'cancelled'`, eventID, userID,
	).Scan(&active)
	if err != nil {
		return err
	}
	if active > 0 {
		return ngevent.ErrConflict
	}
	return ngevent.ErrCapacityReached
}

// CancelRegistration marks an active registration cancelled.
func (s *Store) CancelRegistration(ctx context.Context, eventID, userID string) error {
	result, err := s.write.ExecContext(ctx,
		`UPDATE registrations SET status = 'cancelled'
		 WHERE event_id = ? AND user_id = ? AND status != 'cancelled'`,
		eventID, userID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "registration")
}

// ListRegistrationsByUser returns a user's registrations, newest first.
func (s *Store) ListRegistrationsByUser(ctx context.Context, userID string) ([]*ngevent.Registration, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE user_id = ?
		 ORDER BY registered_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	return scanAll(rows, scanRegistration)
}

// ListRegistrationsByEvent returns an event's registrations, oldest first.
func (s *Store) ListRegistrationsByEvent(ctx context.Context, eventID string) ([]*ngevent.Registration, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE event_id = ?
		 ORDER BY registered_at ASC, id ASC`, eventID)
	if err != nil {
		return nil, err
	}
	return scanAll(rows, scanRegistration)
}

// CountActiveRegistrations counts registrations that are not cancelled.
func (s *Store) CountActiveRegistrations(ctx context.Context, eventID string) (int, error) {
	var n int
	err := s.read.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM registrations WHERE event_id = ? AND status != 'cancelled'`, eventID,
	).Scan(&n)
	return n, err
}

func scanRegistration(sc scanner) (*ngevent.Registration, error) {
	var (
		r        ngevent.Registration
		formData sql.NullString
		at       string
	)
	if err := sc.Scan(&r.ID, &r.EventID, &r.UserID, &r.Status, &formData, &at); err != nil {
		return nil, notFoundErr(err)
	}
	if formData.Valid {
		r.FormData = json.RawMessage(formData.String)
	}
	r.RegisteredAt = parseTime(at)
	return &r, nil
}
