package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	ngevent "github.com/eugener/ngevent/internal"
)

// ListFormFields returns the registration form of an event in display order.
func (s *Store) ListFormFields(ctx context.Context, eventID string) ([]*ngevent.FormField, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, event_id, field_name, field_type, is_required, options, order_index
		 FROM form_fields WHERE event_id = ? ORDER BY order_index ASC`, eventID)
	if err != nil {
		return nil, err
	}
	return scanAll(rows, scanFormField)
}

// ListSpeakers returns the speakers of an event in display order.
func (s *Store) ListSpeakers(ctx context.Context, eventID string) ([]*ngevent.Speaker, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, event_id, name, title, company, bio, photo_url, linkedin_url,
		 twitter_url, website_url, order_index
		 FROM speakers WHERE event_id = ? ORDER BY order_index ASC`, eventID)
	if err != nil {
		return nil, err
	}
	return scanAll(rows, scanSpeaker)
}

// ReplaceFormFields deletes the current form of an event and inserts fields
// in one transaction.
func (s *Store) ReplaceFormFields(ctx context.Context, eventID string, fields []*ngevent.FormField) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM form_fields WHERE event_id = ?`, eventID); err != nil {
			return err
		}
		for _, f := range fields {
			opts, err := marshalStrings(f.Options)
			if err != nil {
				return err
			}
			f.EventID = eventID
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO form_fields (id, event_id, field_name, field_type, is_required, options, order_index)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				f.ID, eventID, f.FieldName, f.FieldType, boolToInt(f.IsRequired), opts, f.OrderIndex,
			); err != nil {
				return fmt.Errorf("insert form field %q: %w", f.FieldName, err)
			}
		}
		return nil
	})
}

// ReplaceSpeakers deletes the current speakers of an event and inserts
// speakers in one transaction.
func (s *Store) ReplaceSpeakers(ctx context.Context, eventID string, speakers []*ngevent.Speaker) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM speakers WHERE event_id = ?`, eventID); err != nil {
			return err
		}
		for _, sp := range speakers {
			sp.EventID = eventID
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO speakers (id, event_id, name, title, company, bio, photo_url,
				 linkedin_url, twitter_url, website_url, order_index)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				sp.ID, eventID, sp.Name, nullStr(sp.Title), nullStr(sp.Company), nullStr(sp.Bio),
				nullStr(sp.PhotoURL), nullStr(sp.LinkedInURL), nullStr(sp.TwitterURL),
				nullStr(sp.WebsiteURL), sp.OrderIndex,
			); err != nil {
				return fmt.Errorf("insert speaker %q: %w", sp.Name, err)
			}
		}
		return nil
	})
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func scanFormField(sc scanner) (*ngevent.FormField, error) {
	var (
		f        ngevent.FormField
		required int
		opts     sql.NullString
	)
	if err := sc.Scan(&f.ID, &f.EventID, &f.FieldName, &f.FieldType, &required, &opts, &f.OrderIndex); err != nil {
		return nil, notFoundErr(err)
	}
	f.IsRequired = required != 0
	o, err := unmarshalStringSlice(opts)
	if err != nil {
		return nil, err
	}
	f.Options = o
	return &f, nil
}

func scanSpeaker(sc scanner) (*ngevent.Speaker, error) {
	var (
		sp                                             ngevent.Speaker
		title, company, bio, photo, linkedin, tw, site sql.NullString
	)
	if err := sc.Scan(&sp.ID, &sp.EventID, &sp.Name, &title, &company, &bio,
		&photo, &linkedin, &tw, &site, &sp.OrderIndex); err != nil {
		return nil, notFoundErr(err)
	}
	sp.Title = title.String
	sp.Company = company.String
	sp.Bio = bio.String
	sp.PhotoURL = photo.String
	sp.LinkedInURL = linkedin.String
	sp.TwitterURL = tw.String
	sp.WebsiteURL = site.String
	return &sp, nil
}
