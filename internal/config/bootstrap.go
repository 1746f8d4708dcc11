package config

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	ngevent "github.com/eugener/ngevent/internal"
	"github.com/eugener/ngevent/internal/storage"
)

// AdminKeyPrefix marks generated admin keys.
const AdminKeyPrefix = "nge_"

// Bootstrap seeds the database from the config file on first run. Rows
// that already exist are left untouched.
func Bootstrap(ctx context.Context, cfg *Config, store storage.Store) error {
	now := time.Now().UTC()

	// Seed profiles
	for _, p := range cfg.Seed.Profiles {
		if p.ID == "" {
			continue
		}
		_, err := store.GetProfile(ctx, p.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, ngevent.ErrNotFound) {
			return err
		}
		role := p.Role
		if role == "" {
			role = ngevent.RoleParticipant
		}
		prof := &ngevent.Profile{
			ID:        p.ID,
			FullName:  p.FullName,
			Email:     p.Email,
			City:      p.City,
			Role:      role,
			UpdatedAt: now,
		}
		if err := store.UpsertProfile(ctx, prof); err != nil {
			return err
		}
		slog.Info("bootstrapped profile", "id", p.ID)
	}

	// Seed events
	for _, e := range cfg.Seed.Events {
		if e.ID == "" {
			continue
		}
		_, err := store.GetEvent(ctx, e.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, ngevent.ErrNotFound) {
			return err
		}
		fee := decimal.Zero
		if e.Fee != "" {
			if fee, err = decimal.NewFromString(e.Fee); err != nil {
				return fmt.Errorf("seed event %s: registration_fee: %w", e.ID, err)
			}
		}
		status := e.Status
		if status == "" {
			status = ngevent.EventPublished
		}
		ev := &ngevent.Event{
			ID:              e.ID,
			OrganizerID:     e.OrganizerID,
			Title:           e.Title,
			Description:     e.Description,
			StartDate:       e.StartDate.UTC(),
			EndDate:         e.EndDate.UTC(),
			Location:        e.Location,
			Category:        e.Category,
			Capacity:        e.Capacity,
			RegistrationFee: fee,
			Status:          status,
			CreatedAt:       now,
		}
		if err := store.CreateEvent(ctx, ev); err != nil {
			return err
		}
		slog.Info("bootstrapped event", "id", e.ID, "title", e.Title)
	}

	return nil
}

// GenerateAdminKey creates a random admin key and returns the plaintext.
func GenerateAdminKey() string {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		panic("crypto/rand: " + err.Error())
	}
	return AdminKeyPrefix + base64.RawURLEncoding.EncodeToString(raw)
}
