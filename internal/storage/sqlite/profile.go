package sqlite

import (
	"context"
	"database/sql"

	ngevent "github.com/eugener/ngevent/internal"
)

// GetProfile retrieves a profile by user ID.
func (s *Store) GetProfile(ctx context.Context, id string) (*ngevent.Profile, error) {
	var (
		p                   ngevent.Profile
		email, avatar, city sql.NullString
		updated             string
	)
	err := s.read.QueryRowContext(ctx,
		`SELECT id, full_name, email, avatar_url, city, role, updated_at
		 FROM profiles WHERE id = ?`, id,
	).Scan(&p.ID, &p.FullName, &email, &avatar, &city, &p.Role, &updated)
	if err != nil {
		return nil, notFoundErr(err)
	}
	p.Email = email.String
	p.AvatarURL = avatar.String
	p.City = city.String
	p.UpdatedAt = parseTime(updated)
	return &p, nil
}

// UpsertProfile inserts the profile or overwrites an existing one.
func (s *Store) UpsertProfile(ctx context.Context, p *ngevent.Profile) error {
	role := p.Role
	if role == "" {
		role = ngevent.RoleParticipant
	}
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO profiles (id, full_name, email, avatar_url, city, role, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET full_name=excluded.full_name, email=excluded.email,
		 avatar_url=excluded.avatar_url, city=excluded.city, role=excluded.role,
		 updated_at=excluded.updated_at`,
		p.ID, p.FullName, nullStr(p.Email), nullStr(p.AvatarURL), nullStr(p.City),
		role, fmtTime(p.UpdatedAt),
	)
	return err
}
