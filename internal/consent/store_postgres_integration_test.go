//go:build integration

package consent_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"datavault/internal/consent"
	id "datavault/pkg/domain"
	dErrors "datavault/pkg/domain-errors"
	"datavault/pkg/platform/sentinel"
	"datavault/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *consent.PostgresStore
	ownerID  id.OwnerID
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = consent.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.postgres.TruncateAll(ctx))
	s.ownerID = s.postgres.CreateTestOwner(ctx, s.T())
}

func (s *PostgresStoreSuite) newRecord(status consent.Status, itemID *id.ItemID) *consent.Record {
	now := time.Now()
	record := &consent.Record{
		ID:         id.NewConsentID(),
		OwnerID:    s.ownerID,
		DataItemID: itemID,
		Purpose:    "Integration testing",
		Status:     status,
		CreatedAt:  now,
	}
	if status == consent.StatusGranted {
		record.GrantedAt = &now
	}
	return record
}

func (s *PostgresStoreSuite) TestSaveAndGet() {
	ctx := context.Background()
	record := s.newRecord(consent.StatusPending, nil)
	s.Require().NoError(s.store.Save(ctx, record))

	got, err := s.store.Get(ctx, s.ownerID, record.ID)
	s.Require().NoError(err)
	s.Equal(record.ID, got.ID)
	s.Equal(consent.StatusPending, got.Status)

	// Duplicate id conflicts.
	s.ErrorIs(s.store.Save(ctx, record), sentinel.ErrConflict)

	// Foreign owner reads as missing.
	otherOwner := s.postgres.CreateTestOwner(ctx, s.T())
	_, err = s.store.Get(ctx, otherOwner, record.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

// TestConcurrentWithdraw verifies that racing withdrawals of one record
// resolve to exactly one winner under the row lock.
func (s *PostgresStoreSuite) TestConcurrentWithdraw() {
	ctx := context.Background()
	record := s.newRecord(consent.StatusGranted, nil)
	s.Require().NoError(s.store.Save(ctx, record))

	const goroutines = 20
	var wg sync.WaitGroup
	var wins atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Execute(ctx, s.ownerID, record.ID,
				func(r *consent.Record, _ bool) error {
					if r.Status == consent.StatusWithdrawn {
						return dErrors.New(dErrors.CodeInvalidTransition, "consent already withdrawn")
					}
					return nil
				},
				func(r *consent.Record) {
					now := time.Now()
					r.Status = consent.StatusWithdrawn
					r.WithdrawnAt = &now
				},
			)
			if err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), wins.Load(), "exactly one withdrawal wins")

	got, err := s.store.Get(ctx, s.ownerID, record.ID)
	s.Require().NoError(err)
	s.Equal(consent.StatusWithdrawn, got.Status)
	s.NotNil(got.WithdrawnAt)
}

// TestExecuteSeesItemState verifies the item row lock feeds itemActive into
// the validate callback.
func (s *PostgresStoreSuite) TestExecuteSeesItemState() {
	ctx := context.Background()
	itemID := s.postgres.CreateTestItem(ctx, s.T(), s.ownerID)
	record := s.newRecord(consent.StatusPending, &itemID)
	s.Require().NoError(s.store.Save(ctx, record))

	var sawActive bool
	_, err := s.store.Execute(ctx, s.ownerID, record.ID,
		func(_ *consent.Record, itemActive bool) error {
			sawActive = itemActive
			return nil
		},
		func(r *consent.Record) {
			now := time.Now()
			r.Status = consent.StatusGranted
			r.GrantedAt = &now
		},
	)
	s.Require().NoError(err)
	s.True(sawActive)

	_, err = s.postgres.Exec(ctx, `UPDATE personal_data_items SET is_active = FALSE WHERE id = $1`, itemID.String())
	s.Require().NoError(err)

	_, err = s.store.Execute(ctx, s.ownerID, record.ID,
		func(_ *consent.Record, itemActive bool) error {
			if !itemActive {
				return dErrors.New(dErrors.CodeDataInactive, "cannot grant consent for erased data")
			}
			return nil
		},
		func(_ *consent.Record) {},
	)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeDataInactive))
}

func (s *PostgresStoreSuite) TestWithdrawAllGranted() {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		s.Require().NoError(s.store.Save(ctx, s.newRecord(consent.StatusGranted, nil)))
	}
	s.Require().NoError(s.store.Save(ctx, s.newRecord(consent.StatusPending, nil)))

	count, err := s.store.WithdrawAllGranted(ctx, s.ownerID, time.Now())
	s.Require().NoError(err)
	s.Equal(3, count)

	records, err := s.store.ListByOwner(ctx, s.ownerID)
	s.Require().NoError(err)
	withdrawn := 0
	for _, r := range records {
		if r.Status == consent.StatusWithdrawn {
			withdrawn++
		}
	}
	s.Equal(3, withdrawn)

	// Second pass finds nothing granted; zero is not an error.
	count, err = s.store.WithdrawAllGranted(ctx, s.ownerID, time.Now())
	s.Require().NoError(err)
	s.Zero(count)
}

func (s *PostgresStoreSuite) TestWithdrawGrantedByItem() {
	ctx := context.Background()
	itemID := s.postgres.CreateTestItem(ctx, s.T(), s.ownerID)
	otherItem := s.postgres.CreateTestItem(ctx, s.T(), s.ownerID)

	s.Require().NoError(s.store.Save(ctx, s.newRecord(consent.StatusGranted, &itemID)))
	s.Require().NoError(s.store.Save(ctx, s.newRecord(consent.StatusGranted, &otherItem)))

	count, err := s.store.WithdrawGrantedByItem(ctx, s.ownerID, itemID, time.Now())
	s.Require().NoError(err)
	s.Equal(1, count, "only consents referencing the item are touched")
}
