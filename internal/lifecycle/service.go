// Package lifecycle coordinates the cross-module data-subject operations:
// full export (portability) and default registration. It composes the
// registry, consent and audit modules without owning state of its own.
package lifecycle

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"datavault/internal/audit"
	"datavault/internal/consent"
	"datavault/internal/platform/metrics"
	"datavault/internal/platform/tracer"
	"datavault/internal/registry"
	id "datavault/pkg/domain"
	dErrors "datavault/pkg/domain-errors"
	"datavault/pkg/sealing"
)

// Export formats supported by ExportAll.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Service is the lifecycle coordinator.
type Service struct {
	items    registry.Store
	consents consent.Store
	tx       registry.TxRunner
	auditor  *audit.Recorder
	sealer   sealing.Codec
	tracer   tracer.Tracer
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// Option configures the Service.
type Option func(*Service)

// WithMetrics sets the metrics instance for lifecycle counters.
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

// NewService creates a lifecycle coordinator.
func NewService(items registry.Store, consents consent.Store, tx registry.TxRunner, auditor *audit.Recorder, sealer sealing.Codec, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		items:    items,
		consents: consents,
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

// ConsentView is the consent projection joined onto exported items.
type ConsentView struct {
	Status    consent.Status `json:"status"`
	Purpose   string         `json:"purpose"`
	GrantedAt *time.Time     `json:"grantedAt"`
}

// ExportItem is one exported data item. Sensitive values are unsealed:
// portability means handing the subject their actual data.
type ExportItem struct {
	ID             string       `json:"id"`
	Category       string       `json:"category"`
	FieldName      string       `json:"fieldName"`
	FieldValue     string       `json:"fieldValue"`
	Purpose        string       `json:"purpose"`
	Source         string       `json:"source"`
	DataController string       `json:"dataController"`
	CollectedAt    string       `json:"collectedAt"`
	RetentionDays  int          `json:"retentionDays"`
	IsActive       bool         `json:"isActive"`
	Consent        *ConsentView `json:"consent,omitempty"`
}

// Envelope is the JSON export wrapper.
type Envelope struct {
	ExportedAt time.Time    `json:"exportedAt"`
	OwnerID    string       `json:"ownerId"`
	ItemCount  int          `json:"itemCount"`
	Data       []ExportItem `json:"data"`
}

// ExportAll assembles the owner's complete inventory, erased items included,
// joined with each item's consent state. It reads, formats and audits; it
// never mutates.
func (s *Service) ExportAll(ctx context.Context, ownerID id.OwnerID, format string, meta audit.Meta) (payload []byte, err error) {
	if ownerID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "owner is required")
	}
	if format != FormatJSON && format != FormatCSV {
		return nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unsupported export format %q", format))
	}

	ctx, span := s.tracer.Start(ctx, tracer.SpanExportAll,
		tracer.String(tracer.AttrOwnerID, ownerID.String()),
		tracer.String(tracer.AttrExportFormat, format),
	)
	defer func() { span.End(err) }()

	items, err := s.items.ListAll(ctx, ownerID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to load data items for export")
	}
	records, err := s.consents.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to load consents for export")
	}

	now := time.Now()
	byItem := make(map[id.ItemID]*ConsentView, len(records))
	for _, record := range records {
		if record.DataItemID == nil {
			continue
		}
		byItem[*record.DataItemID] = &ConsentView{
			Status:    record.EffectiveStatus(now),
			Purpose:   record.Purpose,
			GrantedAt: record.GrantedAt,
		}
	}

	rows := make([]ExportItem, 0, len(items))
	for _, item := range items {
		value := item.FieldValue
		if item.Category == registry.CategorySensitive {
			opened, openErr := s.sealer.Open(item.FieldValue)
			if openErr != nil {
				err = dErrors.Wrap(openErr, dErrors.CodeInvariantViolation, "sealed value failed integrity check")
				return nil, err
			}
			value = opened
		}
		rows = append(rows, ExportItem{
			ID:             item.ID.String(),
			Category:       string(item.Category),
			FieldName:      item.FieldName,
			FieldValue:     value,
			Purpose:        item.Purpose,
			Source:         item.Source,
			DataController: item.DataController,
			CollectedAt:    item.CollectedAt.UTC().Format(time.RFC3339),
			RetentionDays:  item.RetentionDays,
			IsActive:       item.IsActive,
			Consent:        byItem[item.ID],
		})
	}
	span.SetAttributes(tracer.Int64(tracer.AttrItemCount, int64(len(rows))))

	switch format {
	case FormatJSON:
		payload, err = json.MarshalIndent(Envelope{
			ExportedAt: now,
			OwnerID:    ownerID.String(),
			ItemCount:  len(rows),
			Data:       rows,
		}, "", "  ")
		if err != nil {
			err = dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode export")
			return nil, err
		}
	case FormatCSV:
		payload, err = renderCSV(rows)
		if err != nil {
			return nil, err
		}
	}

	if s.metrics != nil {
		s.metrics.IncrementDataExports(format)
	}
	s.auditor.Record(ctx, audit.Entry{
		OwnerID:    ownerID,
		Action:     audit.ActionDataExport,
		EntityType: audit.EntityPersonalData,
		Details:    map[string]any{"itemCount": len(rows), "format": format},
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
	})
	span.AddEvent(tracer.EventAuditEmitted)

	return payload, nil
}

func renderCSV(rows []ExportItem) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"id", "category", "fieldName", "fieldValue", "purpose", "source", "dataController", "collectedAt", "retentionDays", "isActive"}
	if err := w.Write(header); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to render export")
	}
	for _, r := range rows {
		record := []string{
			r.ID,
			r.Category,
			r.FieldName,
			r.FieldValue,
			r.Purpose,
			r.Source,
			r.DataController,
			r.CollectedAt,
			strconv.Itoa(r.RetentionDays),
			strconv.FormatBool(r.IsActive),
		}
		if err := w.Write(record); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to render export")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to render export")
	}
	return buf.Bytes(), nil
}

// defaultItems are the records every new owner starts with.
func defaultItems(name, email string) []registry.CreateInput {
	return []registry.CreateInput{
		{
			Category:       registry.CategoryIdentity,
			FieldName:      "Full Name",
			FieldValue:     name,
			Purpose:        "Account identification and personalization",
			Source:         "User Registration",
			DataController: "DataVault Inc.",
			RetentionDays:  365,
		},
		{
			Category:       registry.CategoryContact,
			FieldName:      "Email Address",
			FieldValue:     email,
			Purpose:        "Account login and communication",
			Source:         "User Registration",
			DataController: "DataVault Inc.",
			RetentionDays:  365,
		},
	}
}

// RegisterWithDefaults seeds a new owner's inventory: the fixed identity and
// contact items, each with an auto-granted consent expiring with its
// retention period. The whole seed commits or none of it does; the caller
// records the surrounding login entry.
func (s *Service) RegisterWithDefaults(ctx context.Context, ownerID id.OwnerID, name, email string, meta audit.Meta) (createdErr error) {
	if ownerID.IsNil() {
		return dErrors.New(dErrors.CodeUnauthorized, "owner is required")
	}
	if name == "" || email == "" {
		return dErrors.New(dErrors.CodeValidation, "name and email are required")
	}

	ctx, span := s.tracer.Start(ctx, tracer.SpanRegisterDefault,
		tracer.String(tracer.AttrOwnerID, ownerID.String()),
	)
	defer func() { span.End(createdErr) }()

	now := time.Now()
	err := s.tx.RunInTx(ctx, func(items registry.Store, consents consent.Store) error {
		for _, input := range defaultItems(name, email) {
			item := &registry.Item{
				ID:             id.NewItemID(),
				OwnerID:        ownerID,
				Category:       input.Category,
				FieldName:      input.FieldName,
				FieldValue:     input.FieldValue,
				Purpose:        input.Purpose,
				Source:         input.Source,
				DataController: input.DataController,
				RetentionDays:  input.RetentionDays,
				CollectedAt:    now,
				IsActive:       true,
			}
			if err := items.Save(ctx, item); err != nil {
				return err
			}

			expiry := now.AddDate(0, 0, input.RetentionDays)
			itemID := item.ID
			record := &consent.Record{
				ID:         id.NewConsentID(),
				OwnerID:    ownerID,
				DataItemID: &itemID,
				Purpose:    input.Purpose,
				Status:     consent.StatusGranted,
				GrantedAt:  &now,
				ExpiresAt:  &expiry,
				CreatedAt:  now,
			}
			if err := consents.Save(ctx, record); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		createdErr = dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to seed default data")
		return createdErr
	}

	if s.metrics != nil {
		s.metrics.IncrementItemsCreated(string(registry.CategoryIdentity))
		s.metrics.IncrementItemsCreated(string(registry.CategoryContact))
		s.metrics.IncrementConsentsGranted("auto")
		s.metrics.IncrementConsentsGranted("auto")
		s.metrics.AddGrantedConsents(2)
	}
	span.SetAttributes(tracer.Int64(tracer.AttrItemCount, 2))
	return nil
}
