// Package backup exports all per-guild configuration as a JSON archive on a
// daily schedule, uploads it to S3-compatible storage and/or a webhook, and
// prunes old local archives.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/spa1teN/tausendsassa/internal/chat"
	"github.com/spa1teN/tausendsassa/internal/events"
	"github.com/spa1teN/tausendsassa/internal/models"
)

// Store is the slice of the persistent store the backup service exports.
type Store interface {
	ListGuilds(ctx context.Context) ([]models.Guild, error)
	ListFeedsByGuild(ctx context.Context, guildID int64) ([]models.Feed, error)
	ListCalendarsByGuild(ctx context.Context, guildID int64) ([]models.Calendar, error)
	GetMapSettings(ctx context.Context, guildID int64) (*models.MapSettings, error)
	ListPins(ctx context.Context, guildID int64) ([]models.MapPin, error)
	GetModerationConfig(ctx context.Context, guildID int64) (*models.ModerationConfig, error)
}

// WebhookPoster uploads the archive as a multipart webhook file.
type WebhookPoster interface {
	Post(ctx context.Context, url string, payload chat.WebhookPayload, files []chat.File) error
}

// Config carries the backup destinations.
type Config struct {
	Dir        string
	KeepDays   int
	WebhookURL string

	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3UseSSL    bool
}

// Service runs the export.
type Service struct {
	store    Store
	webhooks WebhookPoster
	bus      *events.Bus
	logger   *slog.Logger
	cfg      Config

	s3 *minio.Client
}

// New creates the backup service. The S3 client is only constructed when an
// endpoint is configured; failures degrade to local-plus-webhook backups.
func New(store Store, webhooks WebhookPoster, bus *events.Bus, logger *slog.Logger, cfg Config) *Service {
	if cfg.KeepDays <= 0 {
		cfg.KeepDays = 7
	}
	s := &Service{store: store, webhooks: webhooks, bus: bus, logger: logger, cfg: cfg}

	if cfg.S3Endpoint != "" {
		client, err := minio.New(cfg.S3Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
			Secure: cfg.S3UseSSL,
			Region: cfg.S3Region,
		})
		if err != nil {
			logger.Warn("backup S3 client unavailable",
				slog.String("endpoint", cfg.S3Endpoint),
				slog.String("error", err.Error()),
			)
		} else {
			s.s3 = client
		}
	}
	return s
}

// guildExport is one guild's configuration in the archive.
type guildExport struct {
	Guild      models.Guild             `json:"guild"`
	Feeds      []models.Feed            `json:"feeds,omitempty"`
	Calendars  []models.Calendar        `json:"calendars,omitempty"`
	Map        *models.MapSettings      `json:"map,omitempty"`
	Pins       []models.MapPin          `json:"pins,omitempty"`
	Moderation *models.ModerationConfig `json:"moderation,omitempty"`
}

type archive struct {
	ExportedAt time.Time     `json:"exported_at"`
	Guilds     []guildExport `json:"guilds"`
}

// Run performs one backup cycle: export, write locally, upload, prune.
func (s *Service) Run(ctx context.Context) error {
	data, err := s.export(ctx)
	if err != nil {
		return err
	}

	name := fmt.Sprintf("tausendsassa-backup-%s.json", time.Now().UTC().Format("20060102-150405"))

	if err := os.MkdirAll(s.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("creating backup dir: %w", err)
	}
	path := filepath.Join(s.cfg.Dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing backup archive: %w", err)
	}

	if s.s3 != nil {
		_, err := s.s3.PutObject(ctx, s.cfg.S3Bucket, name, bytes.NewReader(data), int64(len(data)),
			minio.PutObjectOptions{ContentType: "application/json"})
		if err != nil {
			s.logger.Warn("backup S3 upload failed",
				slog.String("object", name),
				slog.String("error", err.Error()),
			)
		} else {
			s.logger.Info("backup uploaded to S3", slog.String("object", name))
		}
	}

	if s.cfg.WebhookURL != "" {
		payload := chat.WebhookPayload{Content: fmt.Sprintf("Configuration backup `%s`", name)}
		files := []chat.File{{Name: name, Reader: bytes.NewReader(data)}}
		if err := s.webhooks.Post(ctx, s.cfg.WebhookURL, payload, files); err != nil {
			s.logger.Warn("backup webhook upload failed",
				slog.String("error", err.Error()),
			)
		}
	}

	pruned := s.prune()
	s.logger.Info("backup completed",
		slog.String("archive", name),
		slog.Int("bytes", len(data)),
		slog.Int("pruned", pruned),
	)

	s.bus.PublishData(ctx, events.SubjectBackupCompleted, 0, map[string]any{
		"archive": name, "bytes": len(data),
	})
	return nil
}

func (s *Service) export(ctx context.Context) ([]byte, error) {
	guilds, err := s.store.ListGuilds(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing guilds for backup: %w", err)
	}

	out := archive{ExportedAt: time.Now().UTC()}
	for _, g := range guilds {
		exp := guildExport{Guild: g}

		if exp.Feeds, err = s.store.ListFeedsByGuild(ctx, g.ID); err != nil {
			return nil, fmt.Errorf("exporting feeds for guild %d: %w", g.ID, err)
		}
		if exp.Calendars, err = s.store.ListCalendarsByGuild(ctx, g.ID); err != nil {
			return nil, fmt.Errorf("exporting calendars for guild %d: %w", g.ID, err)
		}
		if exp.Map, err = s.store.GetMapSettings(ctx, g.ID); err != nil {
			return nil, fmt.Errorf("exporting map settings for guild %d: %w", g.ID, err)
		}
		if exp.Pins, err = s.store.ListPins(ctx, g.ID); err != nil {
			return nil, fmt.Errorf("exporting pins for guild %d: %w", g.ID, err)
		}
		if exp.Moderation, err = s.store.GetModerationConfig(ctx, g.ID); err != nil {
			return nil, fmt.Errorf("exporting moderation config for guild %d: %w", g.ID, err)
		}

		out.Guilds = append(out.Guilds, exp)
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding backup archive: %w", err)
	}
	return data, nil
}

// prune deletes local archives older than the retention window.
func (s *Service) prune() int {
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		return 0
	}
	cutoff := time.Now().AddDate(0, 0, -s.cfg.KeepDays)

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "tausendsassa-backup-") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.cfg.Dir, entry.Name())); err == nil {
			removed++
		}
	}
	return removed
}
