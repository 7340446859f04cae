// Package catalog caches the list of generated notes and forwards artifact
// requests to the gateway.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dharsanguruparan/notely/internal/model"
)

// Source is the part of the gateway the catalog needs.
type Source interface {
	ListResults(ctx context.Context) ([]model.ResultRecord, error)
	ListDocuments(ctx context.Context) ([]model.DocumentMeta, error)
	DownloadArtifact(ctx context.Context, noteID string, format model.ArtifactFormat) ([]byte, error)
	TriggerExport(ctx context.Context, noteID string) (bool, error)
	GenerateNotes(ctx context.Context, sourceID string, kind model.SourceKind) (string, error)
}

// KindFilter selects records by source kind.
type KindFilter string

// KindAll matches every record.
const KindAll KindFilter = "all"

// ParseKindFilter accepts "all", "video" or "document". Empty means all.
func ParseKindFilter(s string) (KindFilter, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == string(KindAll) {
		return KindAll, nil
	}
	kind, err := model.ParseSourceKind(s)
	if err != nil {
		return "", err
	}
	return KindFilter(kind), nil
}

// Catalog holds the last listing fetched from the service.
type Catalog struct {
	src Source
	log *slog.Logger
	sf  singleflight.Group

	mu          sync.RWMutex
	records     []model.ResultRecord
	refreshedAt time.Time
}

// New returns an empty Catalog.
func New(src Source, log *slog.Logger) *Catalog {
	if log == nil {
		log = slog.Default()
	}
	return &Catalog{src: src, log: log}
}

// Refresh replaces the cached list with the service's current listing.
// Concurrent calls share one request. On error the previous list is kept.
func (c *Catalog) Refresh(ctx context.Context) ([]model.ResultRecord, error) {
	v, err, shared := c.sf.Do("results", func() (any, error) {
		records, err := c.src.ListResults(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.records = records
		c.refreshedAt = time.Now()
		c.mu.Unlock()
		c.log.Info("catalog.refreshed", "records", len(records))
		return records, nil
	})
	if err != nil {
		c.log.Warn("catalog.refresh.failed", "error", err, "shared", shared)
		return nil, fmt.Errorf("refresh notes: %w", err)
	}
	return clone(v.([]model.ResultRecord)), nil
}

// Records returns a copy of the cached list.
func (c *Catalog) Records() []model.ResultRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return clone(c.records)
}

// RefreshedAt is the time of the last successful refresh.
func (c *Catalog) RefreshedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refreshedAt
}

// Get finds a cached record by id.
func (c *Catalog) Get(id string) (model.ResultRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.records {
		if r.ID == id {
			return r, true
		}
	}
	return model.ResultRecord{}, false
}

// Filter applies FilterRecords to the cached list.
func (c *Catalog) Filter(query string, kind KindFilter) []model.ResultRecord {
	return FilterRecords(c.Records(), query, kind)
}

// FilterRecords keeps records whose kind matches and whose title or source
// name contains query, ignoring case. It does not modify records.
func FilterRecords(records []model.ResultRecord, query string, kind KindFilter) []model.ResultRecord {
	q := strings.ToLower(query)
	out := make([]model.ResultRecord, 0, len(records))
	for _, r := range records {
		if kind != "" && kind != KindAll && KindFilter(r.SourceKind) != kind {
			continue
		}
		if q != "" &&
			!strings.Contains(strings.ToLower(r.Title), q) &&
			!strings.Contains(strings.ToLower(r.SourceName), q) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Download fetches one artifact of a note.
func (c *Catalog) Download(ctx context.Context, noteID string, format model.ArtifactFormat) ([]byte, error) {
	return c.src.DownloadArtifact(ctx, noteID, format)
}

// Export pushes a note to the external note service and reports the flag the
// service returned. The cached list is left untouched.
func (c *Catalog) Export(ctx context.Context, noteID string) (bool, error) {
	ok, err := c.src.TriggerExport(ctx, noteID)
	if err != nil {
		return false, err
	}
	c.log.Info("catalog.exported", "note_id", noteID, "success", ok)
	return ok, nil
}

// Generate asks the service to build notes for a processed source.
func (c *Catalog) Generate(ctx context.Context, sourceID string, kind model.SourceKind) (string, error) {
	return c.src.GenerateNotes(ctx, sourceID, kind)
}

// Documents lists the uploaded documents. The listing is not cached.
func (c *Catalog) Documents(ctx context.Context) ([]model.DocumentMeta, error) {
	return c.src.ListDocuments(ctx)
}

func clone(in []model.ResultRecord) []model.ResultRecord {
	if in == nil {
		return nil
	}
	out := make([]model.ResultRecord, len(in))
	copy(out, in)
	return out
}
