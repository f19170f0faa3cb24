package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"datavault/internal/platform/config"
	id "datavault/pkg/domain"
	dErrors "datavault/pkg/domain-errors"
)

type ServiceSuite struct {
	suite.Suite
	store   *InMemoryStore
	service *Service
	ownerID id.OwnerID
}

func (s *ServiceSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.service = NewService(s.store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.ownerID = id.NewOwnerID()
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) seed(n int, action Action, base time.Time) {
	for i := 0; i < n; i++ {
		err := s.store.Append(context.Background(), Entry{
			ID:         id.NewEntryID(),
			OwnerID:    s.ownerID,
			Action:     action,
			EntityType: EntityPersonalData,
			EntityID:   fmt.Sprintf("item-%d", i),
			IPAddress:  "192.0.2.1",
			UserAgent:  "test-agent",
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
		})
		s.Require().NoError(err)
	}
}

// TestQuery_Pagination verifies 1-indexed paging, newest-first ordering and
// the server-side page size cap.
func (s *ServiceSuite) TestQuery_Pagination() {
	s.seed(45, ActionDataView, time.Now().Add(-2*time.Hour))

	s.T().Run("defaults applied for out-of-range values", func(t *testing.T) {
		page, err := s.service.Query(context.Background(), s.ownerID, Filter{}, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, page.Pagination.Page)
		assert.Equal(t, config.DefaultAuditPageSize, page.Pagination.PerPage)
		assert.Equal(t, 45, page.Pagination.Total)
		assert.Equal(t, 3, page.Pagination.TotalPages)
		assert.Len(t, page.Entries, config.DefaultAuditPageSize)
	})

	s.T().Run("newest entry comes first", func(t *testing.T) {
		page, err := s.service.Query(context.Background(), s.ownerID, Filter{}, 1, 10)
		require.NoError(t, err)
		require.Len(t, page.Entries, 10)
		for i := 1; i < len(page.Entries); i++ {
			assert.False(t, page.Entries[i].Timestamp.After(page.Entries[i-1].Timestamp))
		}
	})

	s.T().Run("requested size above cap is clamped", func(t *testing.T) {
		page, err := s.service.Query(context.Background(), s.ownerID, Filter{}, 1, 5000)
		require.NoError(t, err)
		assert.Equal(t, config.MaxAuditPageSize, page.Pagination.PerPage)
		assert.Len(t, page.Entries, 45)
	})

	s.T().Run("page past the end is empty but reports totals", func(t *testing.T) {
		page, err := s.service.Query(context.Background(), s.ownerID, Filter{}, 9, 10)
		require.NoError(t, err)
		assert.Empty(t, page.Entries)
		assert.Equal(t, 45, page.Pagination.Total)
		assert.Equal(t, 5, page.Pagination.TotalPages)
	})
}

// TestQuery_Filters verifies action and time-range narrowing.
func (s *ServiceSuite) TestQuery_Filters() {
	base := time.Now().Add(-3 * time.Hour)
	s.seed(5, ActionDataView, base)
	s.seed(3, ActionConsentGrant, base.Add(time.Hour))

	s.T().Run("action filter", func(t *testing.T) {
		action := ActionConsentGrant
		page, err := s.service.Query(context.Background(), s.ownerID, Filter{Action: &action}, 1, 50)
		require.NoError(t, err)
		assert.Equal(t, 3, page.Pagination.Total)
		for _, e := range page.Entries {
			assert.Equal(t, ActionConsentGrant, e.Action)
		}
	})

	s.T().Run("time range filter", func(t *testing.T) {
		from := base.Add(time.Hour).Add(-time.Second)
		page, err := s.service.Query(context.Background(), s.ownerID, Filter{From: &from}, 1, 50)
		require.NoError(t, err)
		assert.Equal(t, 3, page.Pagination.Total)
	})

	s.T().Run("unknown action is rejected", func(t *testing.T) {
		bogus := Action("SHRED")
		_, err := s.service.Query(context.Background(), s.ownerID, Filter{Action: &bogus}, 1, 10)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

// TestQuery_EmptyTrail verifies that an owner without entries gets an empty
// page, not an error.
func (s *ServiceSuite) TestQuery_EmptyTrail() {
	page, err := s.service.Query(context.Background(), id.NewOwnerID(), Filter{}, 1, 10)
	s.Require().NoError(err)
	s.Empty(page.Entries)
	s.Equal(0, page.Pagination.Total)
	s.Equal(0, page.Pagination.TotalPages)
}

// TestAggregate verifies the per-action breakdown and the trailing recent
// window.
func (s *ServiceSuite) TestAggregate() {
	now := time.Now()
	s.seed(4, ActionDataView, now.Add(-30*24*time.Hour)) // outside recent window
	s.seed(2, ActionLogin, now.Add(-time.Hour))          // inside

	stats, err := s.service.Aggregate(context.Background(), s.ownerID)
	s.Require().NoError(err)
	s.Equal(6, stats.TotalCount)
	s.Equal(2, stats.RecentCount)
	s.Equal(4, stats.ByAction[ActionDataView])
	s.Equal(2, stats.ByAction[ActionLogin])
}

// TestExport verifies both portable formats carry the fixed projection.
func (s *ServiceSuite) TestExport() {
	s.seed(3, ActionDataCreate, time.Now().Add(-time.Hour))

	s.T().Run("json", func(t *testing.T) {
		payload, err := s.service.Export(context.Background(), s.ownerID, FormatJSON)
		require.NoError(t, err)

		var records []map[string]any
		require.NoError(t, json.Unmarshal(payload, &records))
		require.Len(t, records, 3)
		for _, r := range records {
			assert.Equal(t, string(ActionDataCreate), r["action"])
			assert.Equal(t, "192.0.2.1", r["ipAddress"])
			assert.Contains(t, r, "entityId")
			assert.NotContains(t, r, "details")
		}
	})

	s.T().Run("csv", func(t *testing.T) {
		payload, err := s.service.Export(context.Background(), s.ownerID, FormatCSV)
		require.NoError(t, err)

		rows, err := csv.NewReader(strings.NewReader(string(payload))).ReadAll()
		require.NoError(t, err)
		require.Len(t, rows, 4) // header + 3 entries
		assert.Equal(t, []string{"id", "action", "entityType", "entityId", "ipAddress", "userAgent", "timestamp"}, rows[0])
	})

	s.T().Run("unsupported format", func(t *testing.T) {
		_, err := s.service.Export(context.Background(), s.ownerID, "xml")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

// TestStoreFailureMapping verifies that store outages surface with the
// retryable store code rather than a generic internal error.
func (s *ServiceSuite) TestStoreFailureMapping() {
	failing := &failingStore{err: errors.New("connection refused")}
	svc := NewService(failing, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := svc.Query(context.Background(), s.ownerID, Filter{}, 1, 10)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeStoreUnavailable))

	_, err = svc.Aggregate(context.Background(), s.ownerID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeStoreUnavailable))

	_, err = svc.Export(context.Background(), s.ownerID, FormatJSON)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeStoreUnavailable))
}

type failingStore struct {
	err error
}

func (f *failingStore) Append(context.Context, Entry) error { return f.err }
func (f *failingStore) Query(context.Context, id.OwnerID, Filter, int, int) ([]Entry, int, error) {
	return nil, 0, f.err
}
func (f *failingStore) ListByOwner(context.Context, id.OwnerID) ([]Entry, error) {
	return nil, f.err
}
func (f *failingStore) CountByAction(context.Context, id.OwnerID) (map[Action]int, error) {
	return nil, f.err
}
func (f *failingStore) CountSince(context.Context, id.OwnerID, time.Time) (int, error) {
	return 0, f.err
}
func (f *failingStore) Count(context.Context, id.OwnerID) (int, error) {
	return 0, f.err
}
