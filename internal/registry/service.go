package registry

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"datavault/internal/audit"
	"datavault/internal/consent"
	"datavault/internal/platform/metrics"
	"datavault/internal/platform/redis"
	"datavault/internal/platform/tracer"
	id "datavault/pkg/domain"
	dErrors "datavault/pkg/domain-errors"
	"datavault/pkg/sealing"
)

// MaskedValue replaces sensitive field values on reads that did not ask for
// the plain value.
const MaskedValue = "********"

const statsCacheTTL = 30 * time.Second

// Service implements the data inventory: registration, listing, mutation and
// the soft-delete erasure cascades. Items and their consents move together;
// every cascade runs inside one transaction.
type Service struct {
	items    Store
	consents consent.Store
	trail    audit.Store
	tx       TxRunner
	auditor  *audit.Recorder
	sealer   sealing.Codec
	tracer   tracer.Tracer
	logger   *slog.Logger
	metrics  *metrics.Metrics
	cache    *redis.Client
}

// Option configures the Service.
type Option func(*Service)

// WithMetrics sets the metrics instance for registry counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithTracer sets the tracer; tests leave the noop default.
func WithTracer(t tracer.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

// WithStatsCache enables short-lived caching of the stats dashboard.
func WithStatsCache(c *redis.Client) Option {
	return func(s *Service) {
		s.cache = c
	}
}

// NewService creates a registry service.
func NewService(items Store, consents consent.Store, trail audit.Store, tx TxRunner, auditor *audit.Recorder, sealer sealing.Codec, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		items:    items,
		consents: consents,
		trail:    trail,
		tx:       tx,
		auditor:  auditor,
		sealer:   sealer,
		tracer:   tracer.NewNoop(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func validateCreate(input CreateInput) error {
	if !input.Category.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "unknown data category")
	}
	if input.FieldName == "" {
		return dErrors.New(dErrors.CodeValidation, "field name is required")
	}
	if input.Purpose == "" {
		return dErrors.New(dErrors.CodeValidation, "purpose is required")
	}
	if input.RetentionDays < 0 {
		return dErrors.New(dErrors.CodeValidation, "retention days must not be negative")
	}
	return nil
}

// Create registers a data item together with its auto-granted, item-scoped
// consent in one transaction. The consent expires when the retention period
// does; items without a retention period get a non-expiring consent.
func (s *Service) Create(ctx context.Context, ownerID id.OwnerID, input CreateInput, meta audit.Meta) (*Item, error) {
	if ownerID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "owner is required")
	}
	if err := validateCreate(input); err != nil {
		return nil, err
	}

	now := time.Now()
	storedValue := input.FieldValue
	if input.Category == CategorySensitive {
		sealed, err := s.sealer.Seal(input.FieldValue)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to seal sensitive value")
		}
		storedValue = sealed
	}

	item := &Item{
		ID:             id.NewItemID(),
		OwnerID:        ownerID,
		Category:       input.Category,
		FieldName:      input.FieldName,
		FieldValue:     storedValue,
		Purpose:        input.Purpose,
		Source:         input.Source,
		DataController: input.DataController,
		RetentionDays:  input.RetentionDays,
		CollectedAt:    now,
		IsActive:       true,
	}

	var expiresAt *time.Time
	if input.RetentionDays > 0 {
		expiry := now.AddDate(0, 0, input.RetentionDays)
		expiresAt = &expiry
	}
	itemID := item.ID
	record := &consent.Record{
		ID:         id.NewConsentID(),
		OwnerID:    ownerID,
		DataItemID: &itemID,
		Purpose:    input.Purpose,
		Status:     consent.StatusGranted,
		GrantedAt:  &now,
		ExpiresAt:  expiresAt,
		CreatedAt:  now,
	}

	err := s.tx.RunInTx(ctx, func(items Store, consents consent.Store) error {
		if err := items.Save(ctx, item); err != nil {
			return err
		}
		return consents.Save(ctx, record)
	})
	if err != nil {
		return nil, dErrors.WrapInfra(err, dErrors.CodeStoreUnavailable, "failed to register data item")
	}

	if s.metrics != nil {
		s.metrics.IncrementItemsCreated(string(item.Category))
		s.metrics.IncrementConsentsGranted("auto")
		s.metrics.AddGrantedConsents(1)
	}
	s.auditor.Record(ctx, audit.Entry{
		OwnerID:    ownerID,
		Action:     audit.ActionDataCreate,
		EntityType: audit.EntityPersonalData,
		EntityID:   item.ID.String(),
		Details:    map[string]any{"fieldName": item.FieldName, "category": string(item.Category)},
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
	})

	return s.present(item, false), nil
}

// List returns the owner's active items, newest first. Sensitive values come
// back masked.
func (s *Service) List(ctx context.Context, ownerID id.OwnerID, filter Filter) ([]*Item, error) {
	if ownerID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "owner is required")
	}
	if filter.Category != nil && !filter.Category.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "unknown data category")
	}

	items, err := s.items.ListActive(ctx, ownerID, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to list data items")
	}
	presented := make([]*Item, 0, len(items))
	for _, item := range items {
		presented = append(presented, s.present(item, false))
	}
	return presented, nil
}

// Get returns one item, active or erased, so callers can branch on IsActive.
// Revealing a sensitive value unseals it and leaves a DATA_VIEW entry; without
// reveal the value comes back masked.
func (s *Service) Get(ctx context.Context, ownerID id.OwnerID, itemID id.ItemID, reveal bool, meta audit.Meta) (*Item, error) {
	if ownerID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "owner is required")
	}

	item, err := s.items.Get(ctx, ownerID, itemID)
	if err != nil {
		return nil, dErrors.WrapInfra(err, dErrors.CodeStoreUnavailable, "failed to get data item")
	}

	if reveal && item.Category == CategorySensitive {
		s.auditor.Record(ctx, audit.Entry{
			OwnerID:    ownerID,
			Action:     audit.ActionDataView,
			EntityType: audit.EntityPersonalData,
			EntityID:   item.ID.String(),
			Details:    map[string]any{"fieldName": item.FieldName, "revealed": true},
			IPAddress:  meta.IPAddress,
			UserAgent:  meta.UserAgent,
		})
	}
	return s.presentErr(item, reveal)
}

// Update replaces the item's field value. Collection metadata and CollectedAt
// are immutable; erased items cannot be updated.
func (s *Service) Update(ctx context.Context, ownerID id.OwnerID, itemID id.ItemID, fieldValue string, meta audit.Meta) (*Item, error) {
	if ownerID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "owner is required")
	}
	if fieldValue == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "field value is required")
	}

	item, err := s.items.Get(ctx, ownerID, itemID)
	if err != nil {
		return nil, dErrors.WrapInfra(err, dErrors.CodeStoreUnavailable, "failed to get data item")
	}
	if !item.IsActive {
		return nil, dErrors.New(dErrors.CodeDataInactive, "cannot update erased data")
	}

	storedValue := fieldValue
	if item.Category == CategorySensitive {
		sealed, err := s.sealer.Seal(fieldValue)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to seal sensitive value")
		}
		storedValue = sealed
	}

	if err := s.items.UpdateValue(ctx, ownerID, itemID, storedValue); err != nil {
		return nil, dErrors.WrapInfra(err, dErrors.CodeStoreUnavailable, "failed to update data item")
	}
	item.FieldValue = storedValue

	s.auditor.Record(ctx, audit.Entry{
		OwnerID:    ownerID,
		Action:     audit.ActionDataUpdate,
		EntityType: audit.EntityPersonalData,
		EntityID:   item.ID.String(),
		Details:    map[string]any{"fieldName": item.FieldName},
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
	})
	return s.present(item, false), nil
}

// SoftDelete erases one item: IsActive flips off and every granted consent
// referencing the item is withdrawn, atomically. No reader observes an erased
// item with a still-granted consent.
func (s *Service) SoftDelete(ctx context.Context, ownerID id.OwnerID, itemID id.ItemID, meta audit.Meta) error {
	if ownerID.IsNil() {
		return dErrors.New(dErrors.CodeUnauthorized, "owner is required")
	}

	now := time.Now()
	var (
		fieldName string
		withdrawn int
	)
	err := s.tx.RunInTx(ctx, func(items Store, consents consent.Store) error {
		item, err := items.Get(ctx, ownerID, itemID)
		if err != nil {
			return err
		}
		if !item.IsActive {
			return dErrors.New(dErrors.CodeInvalidTransition, "data item already erased")
		}
		fieldName = item.FieldName

		if _, err := items.Deactivate(ctx, ownerID, itemID); err != nil {
			return err
		}
		withdrawn, err = consents.WithdrawGrantedByItem(ctx, ownerID, itemID, now)
		return err
	})
	if err != nil {
		return dErrors.WrapInfra(err, dErrors.CodeStoreUnavailable, "failed to erase data item")
	}

	if s.metrics != nil {
		s.metrics.IncrementItemsErased(1)
		if withdrawn > 0 {
			s.metrics.IncrementConsentsWithdrawn("cascade", withdrawn)
			s.metrics.AddGrantedConsents(-withdrawn)
		}
	}
	s.auditor.Record(ctx, audit.Entry{
		OwnerID:    ownerID,
		Action:     audit.ActionDataDelete,
		EntityType: audit.EntityPersonalData,
		EntityID:   itemID.String(),
		Details:    map[string]any{"fieldName": fieldName, "withdrawnConsents": withdrawn},
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
	})
	return nil
}

// EraseAll runs the soft-delete cascade over every active item as one unit
// and reports how much it erased. The trail gets a single summary entry.
func (s *Service) EraseAll(ctx context.Context, ownerID id.OwnerID, meta audit.Meta) (result EraseResult, err error) {
	if ownerID.IsNil() {
		return EraseResult{}, dErrors.New(dErrors.CodeUnauthorized, "owner is required")
	}

	ctx, span := s.tracer.Start(ctx, tracer.SpanEraseAll,
		tracer.String(tracer.AttrOwnerID, ownerID.String()),
	)
	defer func() { span.End(err) }()

	now := time.Now()
	err = s.tx.RunInTx(ctx, func(items Store, consents consent.Store) error {
		active, err := items.ListActive(ctx, ownerID, Filter{})
		if err != nil {
			return err
		}
		for _, item := range active {
			if _, err := items.Deactivate(ctx, ownerID, item.ID); err != nil {
				return err
			}
			withdrawn, err := consents.WithdrawGrantedByItem(ctx, ownerID, item.ID, now)
			if err != nil {
				return err
			}
			result.WithdrawnConsents += withdrawn
		}
		result.ErasedCount = len(active)
		return nil
	})
	if err != nil {
		err = dErrors.WrapInfra(err, dErrors.CodeStoreUnavailable, "failed to erase all data")
		return EraseResult{}, err
	}
	span.SetAttributes(tracer.Int64(tracer.AttrItemCount, int64(result.ErasedCount)))

	if s.metrics != nil && result.ErasedCount > 0 {
		s.metrics.IncrementItemsErased(result.ErasedCount)
		if result.WithdrawnConsents > 0 {
			s.metrics.IncrementConsentsWithdrawn("cascade", result.WithdrawnConsents)
			s.metrics.AddGrantedConsents(-result.WithdrawnConsents)
		}
	}
	s.auditor.Record(ctx, audit.Entry{
		OwnerID:    ownerID,
		Action:     audit.ActionDataDelete,
		EntityType: audit.EntityPersonalData,
		Details:    map[string]any{"type": "complete_erasure", "itemCount": result.ErasedCount},
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
	})
	span.AddEvent(tracer.EventAuditEmitted)
	return result, nil
}

// Stats assembles the owner's registry dashboard. The three reads run
// concurrently; when a cache is configured the result is reused briefly.
func (s *Service) Stats(ctx context.Context, ownerID id.OwnerID) (Stats, error) {
	if ownerID.IsNil() {
		return Stats{}, dErrors.New(dErrors.CodeUnauthorized, "owner is required")
	}

	cacheKey := "registry:stats:" + ownerID.String()
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, cacheKey).Bytes(); err == nil {
			var stats Stats
			if err := json.Unmarshal(cached, &stats); err == nil {
				return stats, nil
			}
		}
	}

	now := time.Now()
	var (
		byCategory     map[Category]int
		activeConsents int
		recentActivity int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		byCategory, err = s.items.CountActiveByCategory(gctx, ownerID)
		return err
	})
	g.Go(func() error {
		records, err := s.consents.ListByOwner(gctx, ownerID)
		if err != nil {
			return err
		}
		for _, record := range records {
			if record.EffectiveStatus(now) == consent.StatusGranted {
				activeConsents++
			}
		}
		return nil
	})
	g.Go(func() error {
		var err error
		recentActivity, err = s.trail.CountSince(gctx, ownerID, now.Add(-audit.RecentWindow))
		return err
	})
	if err := g.Wait(); err != nil {
		return Stats{}, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to load registry stats")
	}

	stats := Stats{
		ByCategory:     byCategory,
		ActiveConsents: activeConsents,
		RecentActivity: recentActivity,
	}
	for _, count := range byCategory {
		stats.TotalActive += count
	}

	if s.cache != nil {
		if payload, err := json.Marshal(stats); err == nil {
			if err := s.cache.Set(ctx, cacheKey, payload, statsCacheTTL).Err(); err != nil {
				s.logger.WarnContext(ctx, "failed to cache registry stats", "error", err)
			}
		}
	}
	return stats, nil
}

// present prepares an item for callers: sensitive values are masked, or
// unsealed when reveal is set.
func (s *Service) present(item *Item, reveal bool) *Item {
	presented, err := s.presentErr(item, reveal)
	if err != nil {
		// Only reachable on unseal failure, which presentErr reports; the
		// non-reveal path cannot fail.
		presented = item
	}
	return presented
}

func (s *Service) presentErr(item *Item, reveal bool) (*Item, error) {
	if item.Category != CategorySensitive {
		return item, nil
	}
	clone := *item
	if !reveal {
		clone.FieldValue = MaskedValue
		return &clone, nil
	}
	opened, err := s.sealer.Open(item.FieldValue)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvariantViolation, "sealed value failed integrity check")
	}
	clone.FieldValue = opened
	return &clone, nil
}
