package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spa1teN/tausendsassa/internal/models"
)

// GetMapSettings returns the guild's map board config, creating a default row
// on first access.
func (s *Store) GetMapSettings(ctx context.Context, guildID int64) (*models.MapSettings, error) {
	var m models.MapSettings
	var visual []byte
	err := s.pool.QueryRow(ctx,
		`SELECT guild_id, region, custom_bounds, channel_id, message_id, visual, allow_proximity, created_at, updated_at
		 FROM map_settings WHERE guild_id = $1`, guildID,
	).Scan(&m.GuildID, &m.Region, &m.CustomBounds, &m.ChannelID, &m.MessageID, &visual, &m.AllowProximity, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if IsNotFound(wrapErr("getting map settings", err)) {
			def := models.MapSettings{
				GuildID:        guildID,
				Region:         "world",
				Visual:         models.DefaultVisualSettings(),
				AllowProximity: true,
			}
			if err := s.saveMapSettings(ctx, &def); err != nil {
				return nil, err
			}
			return &def, nil
		}
		return nil, wrapErr("getting map settings", err)
	}

	m.Visual = models.DefaultVisualSettings()
	if len(visual) > 0 {
		if err := json.Unmarshal(visual, &m.Visual); err != nil {
			return nil, fmt.Errorf("decoding visual settings for guild %d: %w", guildID, err)
		}
	}
	return &m, nil
}

func (s *Store) saveMapSettings(ctx context.Context, m *models.MapSettings) error {
	visual, err := json.Marshal(m.Visual)
	if err != nil {
		return fmt.Errorf("encoding visual settings: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO map_settings (guild_id, region, custom_bounds, channel_id, message_id, visual, allow_proximity)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (guild_id) DO UPDATE SET
			region = EXCLUDED.region, custom_bounds = EXCLUDED.custom_bounds,
			channel_id = EXCLUDED.channel_id, message_id = EXCLUDED.message_id,
			visual = EXCLUDED.visual, allow_proximity = EXCLUDED.allow_proximity,
			updated_at = now()`,
		m.GuildID, m.Region, m.CustomBounds, m.ChannelID, m.MessageID, visual, m.AllowProximity,
	)
	return wrapErr("saving map settings", err)
}

// SetMapRegion changes the guild's map region.
func (s *Store) SetMapRegion(ctx context.Context, guildID int64, region string) error {
	m, err := s.GetMapSettings(ctx, guildID)
	if err != nil {
		return err
	}
	m.Region = region
	return s.saveMapSettings(ctx, m)
}

// SetMapChannel records where the board message lives.
func (s *Store) SetMapChannel(ctx context.Context, guildID int64, channelID, messageID *int64) error {
	m, err := s.GetMapSettings(ctx, guildID)
	if err != nil {
		return err
	}
	m.ChannelID = channelID
	m.MessageID = messageID
	return s.saveMapSettings(ctx, m)
}

// SetMapVisual replaces the visual settings. Pin size is clamped to [8, 32].
func (s *Store) SetMapVisual(ctx context.Context, guildID int64, v models.VisualSettings) error {
	if v.PinSize < 8 {
		v.PinSize = 8
	}
	if v.PinSize > 32 {
		v.PinSize = 32
	}
	m, err := s.GetMapSettings(ctx, guildID)
	if err != nil {
		return err
	}
	m.Visual = v
	return s.saveMapSettings(ctx, m)
}

// ListMapBoards returns every guild map that has a board message to refresh.
func (s *Store) ListMapBoards(ctx context.Context) ([]models.MapSettings, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT guild_id FROM map_settings WHERE channel_id IS NOT NULL AND message_id IS NOT NULL`)
	if err != nil {
		return nil, wrapErr("listing map boards", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, wrapErr("scanning map board", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterating map boards", err)
	}

	boards := make([]models.MapSettings, 0, len(ids))
	for _, id := range ids {
		m, err := s.GetMapSettings(ctx, id)
		if err != nil {
			return nil, err
		}
		boards = append(boards, *m)
	}
	return boards, nil
}

// --- Pins ---

// SetPin inserts or overwrites the user's pin (I4/P9: one row per
// (guild, user); a repeat overwrites coordinates and label).
func (s *Store) SetPin(ctx context.Context, p *models.MapPin) error {
	if p.ID.IsZero() {
		p.ID = models.NewULID()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO map_pins (id, guild_id, user_id, username, display_name, location,
		                       latitude, longitude, color, pinned_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		 ON CONFLICT (guild_id, user_id) DO UPDATE SET
			username = EXCLUDED.username, display_name = EXCLUDED.display_name,
			location = EXCLUDED.location, latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude, color = EXCLUDED.color, updated_at = now()`,
		p.ID, p.GuildID, p.UserID, p.Username, p.DisplayName, p.Location,
		p.Latitude, p.Longitude, p.Color,
	)
	return wrapErr("setting pin", err)
}

// GetPin returns one user's pin.
func (s *Store) GetPin(ctx context.Context, guildID, userID int64) (*models.MapPin, error) {
	var p models.MapPin
	err := s.pool.QueryRow(ctx,
		`SELECT id, guild_id, user_id, username, display_name, location,
		        latitude, longitude, color, pinned_at, updated_at
		 FROM map_pins WHERE guild_id = $1 AND user_id = $2`,
		guildID, userID,
	).Scan(&p.ID, &p.GuildID, &p.UserID, &p.Username, &p.DisplayName, &p.Location,
		&p.Latitude, &p.Longitude, &p.Color, &p.PinnedAt, &p.UpdatedAt)
	if err != nil {
		return nil, wrapErr("getting pin", err)
	}
	return &p, nil
}

// ListPins returns all pins of a guild.
func (s *Store) ListPins(ctx context.Context, guildID int64) ([]models.MapPin, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, guild_id, user_id, username, display_name, location,
		        latitude, longitude, color, pinned_at, updated_at
		 FROM map_pins WHERE guild_id = $1 ORDER BY pinned_at`, guildID)
	if err != nil {
		return nil, wrapErr("listing pins", err)
	}
	defer rows.Close()

	var pins []models.MapPin
	for rows.Next() {
		var p models.MapPin
		if err := rows.Scan(&p.ID, &p.GuildID, &p.UserID, &p.Username, &p.DisplayName,
			&p.Location, &p.Latitude, &p.Longitude, &p.Color, &p.PinnedAt, &p.UpdatedAt); err != nil {
			return nil, wrapErr("scanning pin", err)
		}
		pins = append(pins, p)
	}
	return pins, wrapErr("iterating pins", rows.Err())
}

// DeletePin removes a user's pin and reports whether one existed.
func (s *Store) DeletePin(ctx context.Context, guildID, userID int64) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM map_pins WHERE guild_id = $1 AND user_id = $2`, guildID, userID)
	if err != nil {
		return false, wrapErr("deleting pin", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CountPins returns the number of pins in a guild.
func (s *Store) CountPins(ctx context.Context, guildID int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM map_pins WHERE guild_id = $1`, guildID).Scan(&n)
	if err != nil {
		return 0, wrapErr("counting pins", err)
	}
	return n, nil
}

// ProximityCandidates returns pins inside a lat/lng bounding box. The caller
// refines the result with a haversine pass; the box only prunes the scan.
func (s *Store) ProximityCandidates(ctx context.Context, guildID int64, minLat, minLng, maxLat, maxLng float64) ([]models.MapPin, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, guild_id, user_id, username, display_name, location,
		        latitude, longitude, color, pinned_at, updated_at
		 FROM map_pins
		 WHERE guild_id = $1 AND latitude BETWEEN $2 AND $4 AND longitude BETWEEN $3 AND $5`,
		guildID, minLat, minLng, maxLat, maxLng)
	if err != nil {
		return nil, wrapErr("listing proximity candidates", err)
	}
	defer rows.Close()

	var pins []models.MapPin
	for rows.Next() {
		var p models.MapPin
		if err := rows.Scan(&p.ID, &p.GuildID, &p.UserID, &p.Username, &p.DisplayName,
			&p.Location, &p.Latitude, &p.Longitude, &p.Color, &p.PinnedAt, &p.UpdatedAt); err != nil {
			return nil, wrapErr("scanning proximity candidate", err)
		}
		pins = append(pins, p)
	}
	return pins, wrapErr("iterating proximity candidates", rows.Err())
}
