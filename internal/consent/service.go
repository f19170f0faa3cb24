package consent

import (
	"context"
	"log/slog"
	"time"

	"datavault/internal/audit"
	"datavault/internal/platform/config"
	"datavault/internal/platform/metrics"
	id "datavault/pkg/domain"
	dErrors "datavault/pkg/domain-errors"
)

// Service implements the consent lifecycle: grant, withdraw, bulk withdrawal
// and the read side. Every transition writes exactly one audit entry.
type Service struct {
	store      Store
	auditor    *audit.Recorder
	logger     *slog.Logger
	metrics    *metrics.Metrics
	consentTTL time.Duration
}

// Option configures the Service.
type Option func(*Service)

// WithMetrics sets the metrics instance for consent counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithConsentTTL overrides the expiry horizon applied when regranting a
// previously expiring consent.
func WithConsentTTL(ttl time.Duration) Option {
	return func(s *Service) {
		s.consentTTL = ttl
	}
}

// NewService creates a consent service.
func NewService(store Store, auditor *audit.Recorder, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:      store,
		auditor:    auditor,
		logger:     logger,
		consentTTL: config.DefaultConsentTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateInput describes a consent record to create. Status must be GRANTED
// (auto-issued, e.g. alongside a data item) or PENDING (awaiting an explicit
// grant); the ledger never starts a record in a terminal state.
type CreateInput struct {
	DataItemID *id.ItemID
	Purpose    string
	Status     Status
	ExpiresAt  *time.Time
}

// Create records a new consent decision.
func (s *Service) Create(ctx context.Context, ownerID id.OwnerID, input CreateInput, meta audit.Meta) (*Record, error) {
	if ownerID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "owner is required")
	}
	if input.Purpose == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "purpose is required")
	}
	if input.Status != StatusGranted && input.Status != StatusPending {
		return nil, dErrors.New(dErrors.CodeValidation, "initial status must be GRANTED or PENDING")
	}

	now := time.Now()
	record := &Record{
		ID:         id.NewConsentID(),
		OwnerID:    ownerID,
		DataItemID: input.DataItemID,
		Purpose:    input.Purpose,
		Status:     input.Status,
		ExpiresAt:  input.ExpiresAt,
		CreatedAt:  now,
	}
	if input.Status == StatusGranted {
		record.GrantedAt = &now
	}

	if err := s.store.Save(ctx, record); err != nil {
		return nil, dErrors.WrapInfra(err, dErrors.CodeStoreUnavailable, "failed to save consent")
	}

	if input.Status == StatusGranted {
		if s.metrics != nil {
			s.metrics.IncrementConsentsGranted("create")
			s.metrics.AddGrantedConsents(1)
		}
		s.auditor.Record(ctx, audit.Entry{
			OwnerID:    ownerID,
			Action:     audit.ActionConsentGrant,
			EntityType: audit.EntityConsent,
			EntityID:   record.ID.String(),
			Details:    map[string]any{"purpose": record.Purpose, "status": string(record.Status)},
			IPAddress:  meta.IPAddress,
			UserAgent:  meta.UserAgent,
		})
	}
	return record, nil
}

// Grant moves a consent to GRANTED. Allowed from WITHDRAWN, PENDING and
// EXPIRED; a consent that is already effectively granted is rejected rather
// than silently re-stamped, so grantedAt stays meaningful.
func (s *Service) Grant(ctx context.Context, ownerID id.OwnerID, consentID id.ConsentID, meta audit.Meta) (*Record, error) {
	if ownerID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "owner is required")
	}

	now := time.Now()
	record, err := s.store.Execute(ctx, ownerID, consentID,
		func(rec *Record, itemActive bool) error {
			if rec.EffectiveStatus(now) == StatusGranted {
				return dErrors.New(dErrors.CodeInvalidTransition, "consent already granted")
			}
			if rec.DataItemID != nil && !itemActive {
				return dErrors.New(dErrors.CodeDataInactive, "cannot grant consent for erased data")
			}
			return nil
		},
		func(rec *Record) {
			rec.Status = StatusGranted
			rec.GrantedAt = &now
			rec.WithdrawnAt = nil
			if rec.ExpiresAt != nil {
				expires := now.Add(s.consentTTL)
				rec.ExpiresAt = &expires
			}
		},
	)
	if err != nil {
		return nil, dErrors.WrapInfra(err, dErrors.CodeStoreUnavailable, "failed to grant consent")
	}

	if s.metrics != nil {
		s.metrics.IncrementConsentsGranted("grant")
		s.metrics.AddGrantedConsents(1)
	}
	s.auditor.Record(ctx, audit.Entry{
		OwnerID:    ownerID,
		Action:     audit.ActionConsentGrant,
		EntityType: audit.EntityConsent,
		EntityID:   consentID.String(),
		Details:    map[string]any{"purpose": record.Purpose, "status": string(record.Status)},
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
	})
	return record, nil
}

// Withdraw moves a consent to WITHDRAWN. Any state but WITHDRAWN may be
// withdrawn, including PENDING and EXPIRED; withdrawing twice is rejected.
func (s *Service) Withdraw(ctx context.Context, ownerID id.OwnerID, consentID id.ConsentID, meta audit.Meta) (*Record, error) {
	if ownerID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "owner is required")
	}

	now := time.Now()
	wasGranted := false
	record, err := s.store.Execute(ctx, ownerID, consentID,
		func(rec *Record, _ bool) error {
			if rec.Status == StatusWithdrawn {
				return dErrors.New(dErrors.CodeInvalidTransition, "consent already withdrawn")
			}
			return nil
		},
		func(rec *Record) {
			wasGranted = rec.Status == StatusGranted
			rec.Status = StatusWithdrawn
			rec.WithdrawnAt = &now
		},
	)
	if err != nil {
		return nil, dErrors.WrapInfra(err, dErrors.CodeStoreUnavailable, "failed to withdraw consent")
	}

	if s.metrics != nil {
		s.metrics.IncrementConsentsWithdrawn("withdraw", 1)
		if wasGranted {
			s.metrics.AddGrantedConsents(-1)
		}
	}
	s.auditor.Record(ctx, audit.Entry{
		OwnerID:    ownerID,
		Action:     audit.ActionConsentWithdraw,
		EntityType: audit.EntityConsent,
		EntityID:   consentID.String(),
		Details:    map[string]any{"purpose": record.Purpose, "status": string(record.Status)},
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
	})
	return record, nil
}

// WithdrawAll withdraws every granted consent of the owner as one unit and
// returns how many were withdrawn. The trail gets a single summary entry,
// not one per record.
func (s *Service) WithdrawAll(ctx context.Context, ownerID id.OwnerID, meta audit.Meta) (int, error) {
	if ownerID.IsNil() {
		return 0, dErrors.New(dErrors.CodeUnauthorized, "owner is required")
	}

	now := time.Now()
	count, err := s.store.WithdrawAllGranted(ctx, ownerID, now)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to withdraw all consents")
	}

	if s.metrics != nil && count > 0 {
		s.metrics.IncrementConsentsWithdrawn("withdraw_all", count)
		s.metrics.AddGrantedConsents(-count)
	}
	s.auditor.Record(ctx, audit.Entry{
		OwnerID:    ownerID,
		Action:     audit.ActionConsentWithdraw,
		EntityType: audit.EntityConsent,
		Details:    map[string]any{"type": "withdraw_all", "count": count},
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
	})
	return count, nil
}

// Get returns one consent record. Records of other owners are reported as
// not found, never as forbidden.
func (s *Service) Get(ctx context.Context, ownerID id.OwnerID, consentID id.ConsentID) (*Record, error) {
	if ownerID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "owner is required")
	}
	record, err := s.store.Get(ctx, ownerID, consentID)
	if err != nil {
		return nil, dErrors.WrapInfra(err, dErrors.CodeStoreUnavailable, "failed to get consent")
	}
	return record, nil
}

// List returns the owner's consents, optionally narrowed by effective status.
func (s *Service) List(ctx context.Context, ownerID id.OwnerID, filter Filter) ([]*Record, error) {
	if ownerID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "owner is required")
	}
	if filter.Status != nil && !filter.Status.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "unknown consent status")
	}

	records, err := s.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to list consents")
	}
	if filter.Status == nil {
		return records, nil
	}

	now := time.Now()
	filtered := make([]*Record, 0, len(records))
	for _, record := range records {
		if record.EffectiveStatus(now) == *filter.Status {
			filtered = append(filtered, record)
		}
	}
	return filtered, nil
}

// Stats counts the owner's consents by effective status.
func (s *Service) Stats(ctx context.Context, ownerID id.OwnerID) (Stats, error) {
	if ownerID.IsNil() {
		return Stats{}, dErrors.New(dErrors.CodeUnauthorized, "owner is required")
	}

	records, err := s.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return Stats{}, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to load consent stats")
	}

	now := time.Now()
	stats := Stats{ByStatus: make(map[Status]int, len(Statuses))}
	for _, status := range Statuses {
		stats.ByStatus[status] = 0
	}
	for _, record := range records {
		stats.ByStatus[record.EffectiveStatus(now)]++
		stats.Total++
	}
	return stats, nil
}
