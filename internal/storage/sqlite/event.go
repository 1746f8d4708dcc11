package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/shopspring/decimal"

	ngevent "github.com/eugener/ngevent/internal"
)

const eventColumns = `id, organizer_id, title, description, start_date, end_date, location,
	category, capacity, registration_fee, status, image_url, created_at`

// ListEvents returns a page of events ordered by start date ascending.
func (s *Store) ListEvents(ctx context.Context, f ngevent.EventFilter) (*ngevent.EventPage, error) {
	where := []string{"status = ?"}
	args := []any{f.Status}
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, f.Category)
	}
	if f.Search != "" {
		where = append(where, `title LIKE ? ESCAPE '\'`)
		args = append(args, "%"+likeEscape(f.Search)+"%")
	}
	cond := strings.Join(where, " AND ")

	var count int
	if err := s.read.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE `+cond, args...,
	).Scan(&count); err != nil {
		return nil, err
	}

	rows, err := s.read.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE `+cond+
			` ORDER BY start_date ASC, id ASC LIMIT ? OFFSET ?`,
		append(args, f.PageSize, f.Offset())...,
	)
	if err != nil {
		return nil, err
	}
	events, err := scanAll(rows, scanEvent)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []*ngevent.Event{}
	}
	return &ngevent.EventPage{Data: events, Count: count}, nil
}

// GetEvent retrieves an event by ID.
func (s *Store) GetEvent(ctx context.Context, id string) (*ngevent.Event, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	return scanEvent(row)
}

// ListEventsByOrganizer returns an organizer's events, newest first.
func (s *Store) ListEventsByOrganizer(ctx context.Context, organizerID string) ([]*ngevent.Event, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE organizer_id = ? ORDER BY created_at DESC, id DESC`,
		organizerID)
	if err != nil {
		return nil, err
	}
	return scanAll(rows, scanEvent)
}

// CreateEvent inserts a new event.
func (s *Store) CreateEvent(ctx context.Context, e *ngevent.Event) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO events (`+eventColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.OrganizerID, e.Title, nullStr(e.Description),
		fmtTime(e.StartDate), fmtTime(e.EndDate), nullStr(e.Location), nullStr(e.Category),
		nullInt(e.Capacity), e.RegistrationFee.String(), e.Status, nullStr(e.ImageURL),
		fmtTime(e.CreatedAt),
	)
	if isUniqueViolation(err) {
		return ngevent.ErrConflict
	}
	return err
}

// UpdateEvent overwrites every mutable column of an existing event.
func (s *Store) UpdateEvent(ctx context.Context, e *ngevent.Event) error {
	result, err := s.write.ExecContext(ctx,
		`UPDATE events SET title=?, description=?, start_date=?, end_date=?, location=?,
		 category=?, capacity=?, registration_fee=?, status=?, image_url=? WHERE id=?`,
		e.Title, nullStr(e.Description), fmtTime(e.StartDate), fmtTime(e.EndDate),
		nullStr(e.Location), nullStr(e.Category), nullInt(e.Capacity),
		e.RegistrationFee.String(), e.Status, nullStr(e.ImageURL), e.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "event")
}

// DeleteEvent removes an event; speakers, form fields and registrations
// cascade.
func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	result, err := s.write.ExecContext(ctx, `DELETE FROM events WHERE id=?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "event")
}

func scanEvent(sc scanner) (*ngevent.Event, error) {
	var (
		e                               ngevent.Event
		desc, location, category, image sql.NullString
		start, end, created, fee        string
		capacity                        sql.NullInt64
	)
	err := sc.Scan(
		&e.ID, &e.OrganizerID, &e.Title, &desc, &start, &end, &location,
		&category, &capacity, &fee, &e.Status, &image, &created,
	)
	if err != nil {
		return nil, notFoundErr(err)
	}
	e.Description = desc.String
	e.Location = location.String
	e.Category = category.String
	e.ImageURL = image.String
	e.Capacity = intPtr(capacity)
	e.StartDate = parseTime(start)
	e.EndDate = parseTime(end)
	e.CreatedAt = parseTime(created)
	if e.RegistrationFee, err = decimal.NewFromString(fee); err != nil {
		e.RegistrationFee = decimal.Zero
	}
	return &e, nil
}
