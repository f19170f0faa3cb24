package registry

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"datavault/internal/audit"
	"datavault/internal/consent"
	"datavault/internal/platform/tracer"
	id "datavault/pkg/domain"
	dErrors "datavault/pkg/domain-errors"
	"datavault/pkg/sealing"
)

type ServiceSuite struct {
	suite.Suite
	items      *InMemoryStore
	consents   *consent.InMemoryStore
	auditStore *audit.InMemoryStore
	service    *Service
	ownerID    id.OwnerID
}

func (s *ServiceSuite) SetupTest() {
	s.items = NewInMemoryStore()
	s.consents = consent.NewInMemoryStore(consent.WithItemLookup(s.lookupItem))
	s.auditStore = audit.NewInMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.service = NewService(
		s.items,
		s.consents,
		s.auditStore,
		NewMemoryTxRunner(s.items, s.consents),
		audit.NewRecorder(s.auditStore, logger),
		sealing.NewChecksumCodec(),
		logger,
	)
	s.ownerID = id.NewOwnerID()
}

func (s *ServiceSuite) lookupItem(ownerID id.OwnerID, itemID id.ItemID) (bool, bool) {
	return s.items.ItemActive(ownerID, itemID)
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) mustCreate(category Category, fieldName, fieldValue string) *Item {
	item, err := s.service.Create(context.Background(), s.ownerID, CreateInput{
		Category:       category,
		FieldName:      fieldName,
		FieldValue:     fieldValue,
		Purpose:        "account-management",
		Source:         "user_provided",
		DataController: "DataVault Inc.",
		RetentionDays:  365,
	}, audit.Meta{})
	s.Require().NoError(err)
	return item
}

func (s *ServiceSuite) grantedConsents() []*consent.Record {
	records, err := s.consents.ListByOwner(context.Background(), s.ownerID)
	s.Require().NoError(err)
	now := time.Now()
	var granted []*consent.Record
	for _, record := range records {
		if record.EffectiveStatus(now) == consent.StatusGranted {
			granted = append(granted, record)
		}
	}
	return granted
}

// TestCreate_Validation verifies the registration input rules.
func (s *ServiceSuite) TestCreate_Validation() {
	cases := []struct {
		name  string
		input CreateInput
	}{
		{"unknown category", CreateInput{Category: "BIOMETRIC", FieldName: "f", FieldValue: "v", Purpose: "p"}},
		{"missing field name", CreateInput{Category: CategoryContact, FieldValue: "v", Purpose: "p"}},
		{"missing purpose", CreateInput{Category: CategoryContact, FieldName: "f", FieldValue: "v"}},
		{"negative retention", CreateInput{Category: CategoryContact, FieldName: "f", FieldValue: "v", Purpose: "p", RetentionDays: -1}},
	}
	for _, tc := range cases {
		s.T().Run(tc.name, func(t *testing.T) {
			_, err := s.service.Create(context.Background(), s.ownerID, tc.input, audit.Meta{})
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		})
	}
}

// TestCreate_AutoGrantsConsent verifies the item and its consent land
// together, with the consent expiring when retention does.
func (s *ServiceSuite) TestCreate_AutoGrantsConsent() {
	item := s.mustCreate(CategoryContact, "Email Address", "owner@example.com")
	s.True(item.IsActive)

	granted := s.grantedConsents()
	s.Require().Len(granted, 1)
	record := granted[0]
	s.Require().NotNil(record.DataItemID)
	s.Equal(item.ID, *record.DataItemID)
	s.Require().NotNil(record.GrantedAt)
	s.Nil(record.WithdrawnAt)
	s.Require().NotNil(record.ExpiresAt)
	wantExpiry := record.CreatedAt.AddDate(0, 0, 365)
	s.WithinDuration(wantExpiry, *record.ExpiresAt, time.Second)

	entries, err := s.auditStore.ListByOwner(context.Background(), s.ownerID)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(audit.ActionDataCreate, entries[0].Action)
}

// TestList_ImplicitActiveFilter verifies erased items vanish from listings
// while Get still returns them.
func (s *ServiceSuite) TestList_ImplicitActiveFilter() {
	kept := s.mustCreate(CategoryIdentity, "Full Name", "Ada Lovelace")
	erased := s.mustCreate(CategoryContact, "Email Address", "ada@example.com")
	s.Require().NoError(s.service.SoftDelete(context.Background(), s.ownerID, erased.ID, audit.Meta{}))

	items, err := s.service.List(context.Background(), s.ownerID, Filter{})
	s.Require().NoError(err)
	s.Require().Len(items, 1)
	s.Equal(kept.ID, items[0].ID)

	got, err := s.service.Get(context.Background(), s.ownerID, erased.ID, false, audit.Meta{})
	s.Require().NoError(err)
	s.False(got.IsActive)
}

// TestList_Search verifies case-insensitive matching across field name, value
// and purpose.
func (s *ServiceSuite) TestList_Search() {
	s.mustCreate(CategoryIdentity, "Full Name", "Ada Lovelace")
	s.mustCreate(CategoryContact, "Email Address", "ada@example.com")

	items, err := s.service.List(context.Background(), s.ownerID, Filter{Search: "LOVELACE"})
	s.Require().NoError(err)
	s.Len(items, 1)

	items, err = s.service.List(context.Background(), s.ownerID, Filter{Search: "account-management"})
	s.Require().NoError(err)
	s.Len(items, 2, "purpose must be searchable")

	category := CategoryContact
	items, err = s.service.List(context.Background(), s.ownerID, Filter{Category: &category})
	s.Require().NoError(err)
	s.Len(items, 1)
}

// TestSensitiveMasking verifies sealed storage, masked reads and the audited
// reveal path.
func (s *ServiceSuite) TestSensitiveMasking() {
	item := s.mustCreate(CategorySensitive, "Recovery Phrase", "correct horse battery staple")
	s.Equal(MaskedValue, item.FieldValue)

	items, err := s.service.List(context.Background(), s.ownerID, Filter{})
	s.Require().NoError(err)
	s.Require().Len(items, 1)
	s.Equal(MaskedValue, items[0].FieldValue)

	revealed, err := s.service.Get(context.Background(), s.ownerID, item.ID, true, audit.Meta{})
	s.Require().NoError(err)
	s.Equal("correct horse battery staple", revealed.FieldValue)

	action := audit.ActionDataView
	page, err := audit.NewService(s.auditStore, slog.New(slog.NewTextHandler(io.Discard, nil))).
		Query(context.Background(), s.ownerID, audit.Filter{Action: &action}, 1, 10)
	s.Require().NoError(err)
	s.Len(page.Entries, 1, "reveal must leave a view entry")
}

// TestUpdate verifies field value mutation and the erased-item guard.
func (s *ServiceSuite) TestUpdate() {
	item := s.mustCreate(CategoryContact, "Email Address", "old@example.com")

	updated, err := s.service.Update(context.Background(), s.ownerID, item.ID, "new@example.com", audit.Meta{})
	s.Require().NoError(err)
	s.Equal("new@example.com", updated.FieldValue)

	s.Require().NoError(s.service.SoftDelete(context.Background(), s.ownerID, item.ID, audit.Meta{}))
	_, err = s.service.Update(context.Background(), s.ownerID, item.ID, "again@example.com", audit.Meta{})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeDataInactive))
}

// TestSoftDelete_Cascade verifies the invariant that an erased item keeps no
// granted consent behind.
func (s *ServiceSuite) TestSoftDelete_Cascade() {
	item := s.mustCreate(CategoryFinancial, "IBAN", "DE89370400440532013000")
	s.Require().Len(s.grantedConsents(), 1)

	s.Require().NoError(s.service.SoftDelete(context.Background(), s.ownerID, item.ID, audit.Meta{}))

	s.Empty(s.grantedConsents(), "cascade must withdraw the item's consent")
	got, err := s.service.Get(context.Background(), s.ownerID, item.ID, false, audit.Meta{})
	s.Require().NoError(err)
	s.False(got.IsActive)
}

// TestSoftDelete_Twice verifies repeat erasure is rejected, not re-run.
func (s *ServiceSuite) TestSoftDelete_Twice() {
	item := s.mustCreate(CategoryUsage, "Page Views", "1042")
	s.Require().NoError(s.service.SoftDelete(context.Background(), s.ownerID, item.ID, audit.Meta{}))

	err := s.service.SoftDelete(context.Background(), s.ownerID, item.ID, audit.Meta{})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	s.EqualError(err, "data item already erased")
}

// TestSoftDelete_NotFoundCollapse verifies foreign and missing items look the
// same to the caller.
func (s *ServiceSuite) TestSoftDelete_NotFoundCollapse() {
	item := s.mustCreate(CategoryContact, "Email Address", "a@example.com")

	errForeign := s.service.SoftDelete(context.Background(), id.NewOwnerID(), item.ID, audit.Meta{})
	errMissing := s.service.SoftDelete(context.Background(), s.ownerID, id.NewItemID(), audit.Meta{})

	s.True(dErrors.HasCode(errForeign, dErrors.CodeNotFound))
	s.True(dErrors.HasCode(errMissing, dErrors.CodeNotFound))
}

// TestEraseAll verifies the bulk cascade: count, empty listing and the single
// summary entry.
func (s *ServiceSuite) TestEraseAll() {
	for i := 0; i < 13; i++ {
		s.mustCreate(CategoryUsage, "Metric", "value")
	}
	entriesBefore, err := s.auditStore.ListByOwner(context.Background(), s.ownerID)
	s.Require().NoError(err)

	result, err := s.service.EraseAll(context.Background(), s.ownerID, audit.Meta{})
	s.Require().NoError(err)
	s.Equal(13, result.ErasedCount)
	s.Equal(13, result.WithdrawnConsents)

	items, err := s.service.List(context.Background(), s.ownerID, Filter{})
	s.Require().NoError(err)
	s.Empty(items)
	s.Empty(s.grantedConsents())

	entries, err := s.auditStore.ListByOwner(context.Background(), s.ownerID)
	s.Require().NoError(err)
	s.Require().Len(entries, len(entriesBefore)+1, "bulk erasure must write exactly one summary entry")
	summary := entries[0]
	s.Equal(audit.ActionDataDelete, summary.Action)
	s.Equal("complete_erasure", summary.Details["type"])
	s.Equal(13, summary.Details["itemCount"])
}

// recordingTracer captures spans so tests can assert traced operations.
type recordingTracer struct {
	names []string
	spans []*recordingSpan
}

type recordingSpan struct {
	attrs  []tracer.Attribute
	events []string
	ended  bool
	err    error
}

func (t *recordingTracer) Start(ctx context.Context, name string, attrs ...tracer.Attribute) (context.Context, tracer.Span) {
	span := &recordingSpan{attrs: attrs}
	t.names = append(t.names, name)
	t.spans = append(t.spans, span)
	return ctx, span
}

func (sp *recordingSpan) End(err error) {
	sp.ended = true
	sp.err = err
}

func (sp *recordingSpan) SetAttributes(attrs ...tracer.Attribute) {
	sp.attrs = append(sp.attrs, attrs...)
}

func (sp *recordingSpan) AddEvent(name string, _ ...tracer.Attribute) {
	sp.events = append(sp.events, name)
}

// TestEraseAll_Traced verifies the bulk cascade emits one span carrying the
// owner, the erased item count and the audit event.
func (s *ServiceSuite) TestEraseAll_Traced() {
	s.mustCreate(CategoryUsage, "Page Views", "1042")
	s.mustCreate(CategoryContact, "Email Address", "ada@example.com")

	spans := &recordingTracer{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(
		s.items,
		s.consents,
		s.auditStore,
		NewMemoryTxRunner(s.items, s.consents),
		audit.NewRecorder(s.auditStore, logger),
		sealing.NewChecksumCodec(),
		logger,
		WithTracer(spans),
	)

	result, err := svc.EraseAll(context.Background(), s.ownerID, audit.Meta{})
	s.Require().NoError(err)
	s.Equal(2, result.ErasedCount)

	s.Require().Equal([]string{tracer.SpanEraseAll}, spans.names)
	span := spans.spans[0]
	s.True(span.ended)
	s.NoError(span.err)
	s.Contains(span.events, tracer.EventAuditEmitted)

	var itemCount any
	for _, attr := range span.attrs {
		if attr.Key == tracer.AttrItemCount {
			itemCount = attr.Value
		}
	}
	s.Equal(int64(2), itemCount, "span must carry the erased item count")
}

// TestEraseAll_Empty verifies erasing nothing reports zero without error.
func (s *ServiceSuite) TestEraseAll_Empty() {
	result, err := s.service.EraseAll(context.Background(), s.ownerID, audit.Meta{})
	s.Require().NoError(err)
	s.Equal(0, result.ErasedCount)
}

// TestStats verifies the dashboard aggregation.
func (s *ServiceSuite) TestStats() {
	s.mustCreate(CategoryIdentity, "Full Name", "Ada Lovelace")
	s.mustCreate(CategoryContact, "Email Address", "ada@example.com")
	erased := s.mustCreate(CategoryUsage, "Session Count", "7")
	s.Require().NoError(s.service.SoftDelete(context.Background(), s.ownerID, erased.ID, audit.Meta{}))

	stats, err := s.service.Stats(context.Background(), s.ownerID)
	s.Require().NoError(err)
	s.Equal(2, stats.TotalActive)
	s.Equal(1, stats.ByCategory[CategoryIdentity])
	s.Equal(1, stats.ByCategory[CategoryContact])
	s.Equal(0, stats.ByCategory[CategoryUsage])
	s.Equal(2, stats.ActiveConsents)
	s.Equal(4, stats.RecentActivity, "3 creates + 1 delete in the trailing week")
}

// TestGrantAfterErasureBlocked closes the loop with the consent ledger: the
// cascade's withdrawn consent cannot be regranted while the item stays erased.
func (s *ServiceSuite) TestGrantAfterErasureBlocked() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	consentSvc := consent.NewService(s.consents, audit.NewRecorder(s.auditStore, logger), logger)

	item := s.mustCreate(CategoryContact, "Email Address", "ada@example.com")
	s.Require().NoError(s.service.SoftDelete(context.Background(), s.ownerID, item.ID, audit.Meta{}))

	records, err := s.consents.ListByOwner(context.Background(), s.ownerID)
	s.Require().NoError(err)
	s.Require().Len(records, 1)

	_, err = consentSvc.Grant(context.Background(), s.ownerID, records[0].ID, audit.Meta{})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeDataInactive))
}
