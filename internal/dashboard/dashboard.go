// Package dashboard serves the summary counts and user settings with a short
// in-memory cache in front of the gateway.
package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/dharsanguruparan/notely/internal/model"
)

const statsKey = "dashboard:stats"

// Source is the part of the gateway used here.
type Source interface {
	DashboardStats(ctx context.Context) (model.DashboardStats, error)
	GetSettings(ctx context.Context, userID string) (model.UserSettings, error)
	SaveSettings(ctx context.Context, userID string, s model.UserSettings) (model.UserSettings, error)
}

// Summary is a dashboard view.
type Summary struct {
	Stats     model.DashboardStats
	FetchedAt time.Time
	Cached    bool
}

type entry struct {
	stats     model.DashboardStats
	fetchedAt time.Time
}

// Service caches dashboard reads for ttl.
type Service struct {
	src   Source
	cache *cache.Cache
	ttl   time.Duration
	log   *slog.Logger
}

// New returns a Service. A ttl of zero disables caching.
func New(src Source, ttl time.Duration, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	cleanup := 2 * ttl
	if cleanup <= 0 {
		cleanup = time.Minute
	}
	return &Service{
		src:   src,
		cache: cache.New(ttl, cleanup),
		ttl:   ttl,
		log:   log,
	}
}

// Stats returns the dashboard counts, from cache when fresh.
func (s *Service) Stats(ctx context.Context) (Summary, error) {
	if s.ttl > 0 {
		if v, ok := s.cache.Get(statsKey); ok {
			e := v.(entry)
			return Summary{Stats: e.stats, FetchedAt: e.fetchedAt, Cached: true}, nil
		}
	}
	stats, err := s.src.DashboardStats(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("load dashboard: %w", err)
	}
	e := entry{stats: stats, fetchedAt: time.Now()}
	if s.ttl > 0 {
		s.cache.Set(statsKey, e, s.ttl)
	}
	s.log.Debug("dashboard.stats.fetched", "videos", stats.TotalVideos, "documents", stats.TotalDocuments, "active", stats.ActiveJobs)
	return Summary{Stats: stats, FetchedAt: e.fetchedAt}, nil
}

// Invalidate drops cached stats, for example after a new submission.
func (s *Service) Invalidate() {
	s.cache.Delete(statsKey)
}

// Settings reads the settings of userID.
func (s *Service) Settings(ctx context.Context, userID string) (model.UserSettings, error) {
	key := settingsKey(userID)
	if s.ttl > 0 {
		if v, ok := s.cache.Get(key); ok {
			return v.(model.UserSettings), nil
		}
	}
	settings, err := s.src.GetSettings(ctx, userID)
	if err != nil {
		return model.UserSettings{}, fmt.Errorf("load settings: %w", err)
	}
	if s.ttl > 0 {
		s.cache.Set(key, settings, s.ttl)
	}
	return settings, nil
}

// SaveSettings writes settings and caches what the service echoed back.
func (s *Service) SaveSettings(ctx context.Context, userID string, settings model.UserSettings) (model.UserSettings, error) {
	key := settingsKey(userID)
	s.cache.Delete(key)
	saved, err := s.src.SaveSettings(ctx, userID, settings)
	if err != nil {
		return model.UserSettings{}, fmt.Errorf("save settings: %w", err)
	}
	if s.ttl > 0 {
		s.cache.Set(key, saved, s.ttl)
	}
	s.log.Info("dashboard.settings.saved", "user_id", userID)
	return saved, nil
}

func settingsKey(userID string) string { return "settings:" + userID }
