package lifecycle

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"datavault/internal/audit"
	"datavault/internal/consent"
	"datavault/internal/registry"
	id "datavault/pkg/domain"
	dErrors "datavault/pkg/domain-errors"
	"datavault/pkg/sealing"
)

type ServiceSuite struct {
	suite.Suite
	items      *registry.InMemoryStore
	consents   *consent.InMemoryStore
	auditStore *audit.InMemoryStore
	registrySv *registry.Service
	service    *Service
	ownerID    id.OwnerID
}

func (s *ServiceSuite) SetupTest() {
	s.items = registry.NewInMemoryStore()
	s.consents = consent.NewInMemoryStore(consent.WithItemLookup(s.items.ItemActive))
	s.auditStore = audit.NewInMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	recorder := audit.NewRecorder(s.auditStore, logger)
	sealer := sealing.NewChecksumCodec()
	runner := registry.NewMemoryTxRunner(s.items, s.consents)

	s.registrySv = registry.NewService(s.items, s.consents, s.auditStore, runner, recorder, sealer, logger)
	s.service = NewService(s.items, s.consents, runner, recorder, sealer, logger)
	s.ownerID = id.NewOwnerID()
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

// TestRegisterWithDefaults verifies the seed: two items, two granted consents,
// retention-aligned expiries.
func (s *ServiceSuite) TestRegisterWithDefaults() {
	err := s.service.RegisterWithDefaults(context.Background(), s.ownerID, "Ada Lovelace", "ada@example.com", audit.Meta{})
	s.Require().NoError(err)

	items, err := s.items.ListAll(context.Background(), s.ownerID)
	s.Require().NoError(err)
	s.Require().Len(items, 2)

	byName := make(map[string]*registry.Item, 2)
	for _, item := range items {
		byName[item.FieldName] = item
	}
	s.Require().Contains(byName, "Full Name")
	s.Require().Contains(byName, "Email Address")
	s.Equal(registry.CategoryIdentity, byName["Full Name"].Category)
	s.Equal("Ada Lovelace", byName["Full Name"].FieldValue)
	s.Equal(registry.CategoryContact, byName["Email Address"].Category)
	s.Equal("ada@example.com", byName["Email Address"].FieldValue)

	records, err := s.consents.ListByOwner(context.Background(), s.ownerID)
	s.Require().NoError(err)
	s.Require().Len(records, 2)
	now := time.Now()
	for _, record := range records {
		s.Equal(consent.StatusGranted, record.EffectiveStatus(now))
		s.Require().NotNil(record.DataItemID)
		s.Require().NotNil(record.ExpiresAt)
		s.WithinDuration(record.CreatedAt.AddDate(0, 0, 365), *record.ExpiresAt, time.Second)
	}
}

// TestRegisterWithDefaults_Validation verifies the required inputs.
func (s *ServiceSuite) TestRegisterWithDefaults_Validation() {
	err := s.service.RegisterWithDefaults(context.Background(), s.ownerID, "", "ada@example.com", audit.Meta{})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	items, listErr := s.items.ListAll(context.Background(), s.ownerID)
	s.Require().NoError(listErr)
	s.Empty(items, "a rejected seed must leave nothing behind")
}

// discardingTxRunner hands the callback transaction-scoped scratch stores and
// publishes nothing on failure, mirroring a database rollback. Tests inspect
// the scratch stores to see what the failed attempt wrote inside the
// transaction.
type discardingTxRunner struct {
	items    registry.Store
	consents consent.Store
}

func (r *discardingTxRunner) RunInTx(_ context.Context, fn func(items registry.Store, consents consent.Store) error) error {
	return fn(r.items, r.consents)
}

// saveFailingConsentStore fails every consent insert after the first
// allowed ones, simulating the store dying partway through a cascade.
type saveFailingConsentStore struct {
	*consent.InMemoryStore
	allowed int
	saves   int
}

func (f *saveFailingConsentStore) Save(ctx context.Context, record *consent.Record) error {
	f.saves++
	if f.saves > f.allowed {
		return errors.New("write: connection reset by peer")
	}
	return f.InMemoryStore.Save(ctx, record)
}

// TestRegisterWithDefaults_MidSeedFailure verifies the seed is all or
// nothing: the first item lands, the consent insert right after it fails, and
// no partial set becomes visible because every write went through the
// transaction-scoped stores.
func (s *ServiceSuite) TestRegisterWithDefaults_MidSeedFailure() {
	scratchItems := registry.NewInMemoryStore()
	scratchConsents := &saveFailingConsentStore{
		InMemoryStore: consent.NewInMemoryStore(consent.WithItemLookup(scratchItems.ItemActive)),
	}
	runner := &discardingTxRunner{items: scratchItems, consents: scratchConsents}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(s.items, s.consents, runner, audit.NewRecorder(s.auditStore, logger), sealing.NewChecksumCodec(), logger)

	err := svc.RegisterWithDefaults(context.Background(), s.ownerID, "Ada Lovelace", "ada@example.com", audit.Meta{})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeStoreUnavailable))

	staged, err := scratchItems.ListAll(context.Background(), s.ownerID)
	s.Require().NoError(err)
	s.Len(staged, 1, "the failure must land after the first insert succeeded in the transaction")
	s.Equal(1, scratchConsents.saves)

	items, err := s.items.ListAll(context.Background(), s.ownerID)
	s.Require().NoError(err)
	s.Empty(items, "no partial seed may become visible")

	records, err := s.consents.ListByOwner(context.Background(), s.ownerID)
	s.Require().NoError(err)
	s.Empty(records)
}

func (s *ServiceSuite) seedInventory() {
	_, err := s.registrySv.Create(context.Background(), s.ownerID, registry.CreateInput{
		Category:       registry.CategoryIdentity,
		FieldName:      "Full Name",
		FieldValue:     "Ada Lovelace",
		Purpose:        "Account identification and personalization",
		Source:         "User Registration",
		DataController: "DataVault Inc.",
		RetentionDays:  365,
	}, audit.Meta{})
	s.Require().NoError(err)

	_, err = s.registrySv.Create(context.Background(), s.ownerID, registry.CreateInput{
		Category:       registry.CategorySensitive,
		FieldName:      "Recovery Phrase",
		FieldValue:     "correct horse battery staple",
		Purpose:        "Account recovery",
		Source:         "user_provided",
		DataController: "DataVault Inc.",
		RetentionDays:  0,
	}, audit.Meta{})
	s.Require().NoError(err)
}

// TestExportAll_JSON verifies the envelope, the consent join and that
// sensitive values come out unsealed.
func (s *ServiceSuite) TestExportAll_JSON() {
	s.seedInventory()

	payload, err := s.service.ExportAll(context.Background(), s.ownerID, FormatJSON, audit.Meta{})
	s.Require().NoError(err)

	var envelope Envelope
	s.Require().NoError(json.Unmarshal(payload, &envelope))
	s.Equal(s.ownerID.String(), envelope.OwnerID)
	s.Equal(2, envelope.ItemCount)
	s.Require().Len(envelope.Data, 2)

	byName := make(map[string]ExportItem, 2)
	for _, row := range envelope.Data {
		byName[row.FieldName] = row
	}
	s.Equal("correct horse battery staple", byName["Recovery Phrase"].FieldValue, "export must carry the plain value")
	s.Require().NotNil(byName["Full Name"].Consent)
	s.Equal(consent.StatusGranted, byName["Full Name"].Consent.Status)

	action := audit.ActionDataExport
	entries, _, err := s.auditStore.Query(context.Background(), s.ownerID, audit.Filter{Action: &action}, 0, 10)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal("json", entries[0].Details["format"])
}

// TestExportAll_CSVRoundTrip verifies the fixed column order and that parsing
// the CSV back recovers field name, value and category.
func (s *ServiceSuite) TestExportAll_CSVRoundTrip() {
	s.seedInventory()

	payload, err := s.service.ExportAll(context.Background(), s.ownerID, FormatCSV, audit.Meta{})
	s.Require().NoError(err)

	rows, err := csv.NewReader(strings.NewReader(string(payload))).ReadAll()
	s.Require().NoError(err)
	s.Require().Len(rows, 3)
	s.Equal([]string{"id", "category", "fieldName", "fieldValue", "purpose", "source", "dataController", "collectedAt", "retentionDays", "isActive"}, rows[0])

	parsed := make(map[string][]string, 2)
	for _, row := range rows[1:] {
		parsed[row[2]] = row
	}
	s.Equal("IDENTITY", parsed["Full Name"][1])
	s.Equal("Ada Lovelace", parsed["Full Name"][3])
	s.Equal("correct horse battery staple", parsed["Recovery Phrase"][3])
}

// TestExportAll_IncludesErased verifies erased items stay in the export with
// isActive false, and that exporting does not mutate.
func (s *ServiceSuite) TestExportAll_IncludesErased() {
	s.seedInventory()
	result, err := s.registrySv.EraseAll(context.Background(), s.ownerID, audit.Meta{})
	s.Require().NoError(err)
	s.Equal(2, result.ErasedCount)

	payload, err := s.service.ExportAll(context.Background(), s.ownerID, FormatJSON, audit.Meta{})
	s.Require().NoError(err)

	var envelope Envelope
	s.Require().NoError(json.Unmarshal(payload, &envelope))
	s.Require().Len(envelope.Data, 2)
	for _, row := range envelope.Data {
		s.False(row.IsActive)
		s.Require().NotNil(row.Consent)
		s.Equal(consent.StatusWithdrawn, row.Consent.Status)
	}

	items, err := s.items.ListAll(context.Background(), s.ownerID)
	s.Require().NoError(err)
	s.Len(items, 2, "export must not mutate the inventory")
}

// TestExportAll_UnsupportedFormat verifies format validation.
func (s *ServiceSuite) TestExportAll_UnsupportedFormat() {
	_, err := s.service.ExportAll(context.Background(), s.ownerID, "xml", audit.Meta{})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

// TestExportAll_EmptyInventory verifies a fresh owner exports an empty
// envelope, not an error.
func (s *ServiceSuite) TestExportAll_EmptyInventory() {
	payload, err := s.service.ExportAll(context.Background(), s.ownerID, FormatJSON, audit.Meta{})
	s.Require().NoError(err)

	var envelope Envelope
	require.NoError(s.T(), json.Unmarshal(payload, &envelope))
	assert.Equal(s.T(), 0, envelope.ItemCount)
}
