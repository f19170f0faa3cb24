package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"datavault/internal/platform/config"
	"datavault/internal/platform/redis"
	id "datavault/pkg/domain"
	dErrors "datavault/pkg/domain-errors"
)

// statsCacheTTL bounds how stale the aggregate view may be. Stats are a
// dashboard read, not a compliance artifact, so a short cache is acceptable.
const statsCacheTTL = 30 * time.Second

// Service exposes the read side of the audit trail: paginated queries,
// aggregate stats and portable exports. Writes go through the Recorder.
type Service struct {
	store  Store
	logger *slog.Logger
	cache  *redis.Client
}

// ServiceOption configures the Service.
type ServiceOption func(*Service)

// WithStatsCache enables short-lived caching of aggregate stats. A nil client
// is a no-op.
func WithStatsCache(c *redis.Client) ServiceOption {
	return func(s *Service) {
		s.cache = c
	}
}

// NewService creates an audit read service backed by the given store.
func NewService(store Store, logger *slog.Logger, opts ...ServiceOption) *Service {
	s := &Service{store: store, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Query returns one page of the owner's audit trail, newest first. Pages are
// 1-indexed; out-of-range values fall back to defaults, and the page size is
// capped server-side regardless of what the caller requests.
func (s *Service) Query(ctx context.Context, ownerID id.OwnerID, filter Filter, page, perPage int) (Page, error) {
	if filter.Action != nil && !filter.Action.IsValid() {
		return Page{}, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unknown audit action %q", *filter.Action))
	}
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = config.DefaultAuditPageSize
	}
	if perPage > config.MaxAuditPageSize {
		perPage = config.MaxAuditPageSize
	}

	offset := (page - 1) * perPage
	entries, total, err := s.store.Query(ctx, ownerID, filter, offset, perPage)
	if err != nil {
		return Page{}, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to query audit trail")
	}

	totalPages := 0
	if total > 0 {
		totalPages = (total + perPage - 1) / perPage
	}

	return Page{
		Entries: entries,
		Pagination: Pagination{
			Page:       page,
			PerPage:    perPage,
			Total:      total,
			TotalPages: totalPages,
		},
	}, nil
}

// Aggregate computes the owner's audit stats. The three counts are fetched
// concurrently; when a cache is configured the assembled result is reused for
// a short window.
func (s *Service) Aggregate(ctx context.Context, ownerID id.OwnerID) (Stats, error) {
	cacheKey := "audit:stats:" + ownerID.String()

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, cacheKey).Bytes(); err == nil {
			var stats Stats
			if err := json.Unmarshal(cached, &stats); err == nil {
				return stats, nil
			}
		}
	}

	var (
		byAction map[Action]int
		recent   int
		total    int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		byAction, err = s.store.CountByAction(gctx, ownerID)
		return err
	})
	g.Go(func() error {
		var err error
		recent, err = s.store.CountSince(gctx, ownerID, time.Now().Add(-RecentWindow))
		return err
	})
	g.Go(func() error {
		var err error
		total, err = s.store.Count(gctx, ownerID)
		return err
	})
	if err := g.Wait(); err != nil {
		return Stats{}, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to aggregate audit stats")
	}

	stats := Stats{ByAction: byAction, RecentCount: recent, TotalCount: total}

	if s.cache != nil {
		if payload, err := json.Marshal(stats); err == nil {
			if err := s.cache.Set(ctx, cacheKey, payload, statsCacheTTL).Err(); err != nil {
				s.logger.WarnContext(ctx, "failed to cache audit stats", "error", err)
			}
		}
	}

	return stats, nil
}

// Export formats supported by Export.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// exportEntry is the fixed projection used for audit exports and fan-out.
// Internal fields like Details stay out of the portable shape.
type exportEntry struct {
	ID         string `json:"id"`
	Action     string `json:"action"`
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
	IPAddress  string `json:"ipAddress"`
	UserAgent  string `json:"userAgent"`
	Timestamp  string `json:"timestamp"`
}

func exportRecord(e Entry) exportEntry {
	return exportEntry{
		ID:         e.ID.String(),
		Action:     string(e.Action),
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		IPAddress:  e.IPAddress,
		UserAgent:  e.UserAgent,
		Timestamp:  e.Timestamp.UTC().Format(time.RFC3339),
	}
}

// Export renders the owner's complete audit trail in the requested format.
// The export is a read: no entry is written for viewing one's own trail here,
// the caller decides whether the access itself is auditable.
func (s *Service) Export(ctx context.Context, ownerID id.OwnerID, format string) ([]byte, error) {
	entries, err := s.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to load audit trail for export")
	}

	records := make([]exportEntry, 0, len(entries))
	for _, e := range entries {
		records = append(records, exportRecord(e))
	}

	switch format {
	case FormatJSON:
		payload, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode audit export")
		}
		return payload, nil
	case FormatCSV:
		return renderCSV(records)
	default:
		return nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unsupported export format %q", format))
	}
}

func renderCSV(records []exportEntry) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"id", "action", "entityType", "entityId", "ipAddress", "userAgent", "timestamp"}
	if err := w.Write(header); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to render audit export")
	}
	for _, r := range records {
		row := []string{r.ID, r.Action, r.EntityType, r.EntityID, r.IPAddress, r.UserAgent, r.Timestamp}
		if err := w.Write(row); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to render audit export")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to render audit export")
	}
	return buf.Bytes(), nil
}
