package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	id "datavault/pkg/domain"
)

type RecorderSuite struct {
	suite.Suite
	store    *InMemoryStore
	recorder *Recorder
	ownerID  id.OwnerID
}

func (s *RecorderSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.recorder = NewRecorder(s.store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.ownerID = id.NewOwnerID()
}

func TestRecorderSuite(t *testing.T) {
	suite.Run(t, new(RecorderSuite))
}

// TestRecord_FillsDefaults verifies that identity and timestamp are assigned
// when the caller leaves them zero.
func (s *RecorderSuite) TestRecord_FillsDefaults() {
	before := time.Now()
	s.recorder.Record(context.Background(), Entry{
		OwnerID:    s.ownerID,
		Action:     ActionLogin,
		EntityType: EntityOwner,
	})

	entries, err := s.store.ListByOwner(context.Background(), s.ownerID)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.False(entries[0].ID.IsNil())
	s.False(entries[0].Timestamp.Before(before))
}

// TestRecord_PreservesExplicitTimestamp verifies a caller-supplied timestamp
// is stored as given.
func (s *RecorderSuite) TestRecord_PreservesExplicitTimestamp() {
	stamp := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	s.recorder.Record(context.Background(), Entry{
		OwnerID:    s.ownerID,
		Action:     ActionDataView,
		EntityType: EntityPersonalData,
		Timestamp:  stamp,
	})

	entries, err := s.store.ListByOwner(context.Background(), s.ownerID)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.True(entries[0].Timestamp.Equal(stamp))
}

// TestRecord_SwallowsStoreFailure verifies the best-effort contract: an audit
// outage must never ripple back into the mutation path.
func (s *RecorderSuite) TestRecord_SwallowsStoreFailure() {
	s.store.FailAppendWith(errors.New("disk full"))

	// Record has no error return; surviving the call is the assertion.
	s.recorder.Record(context.Background(), Entry{
		OwnerID:    s.ownerID,
		Action:     ActionDataDelete,
		EntityType: EntityPersonalData,
	})

	s.store.FailAppendWith(nil)
	entries, err := s.store.ListByOwner(context.Background(), s.ownerID)
	s.Require().NoError(err)
	s.Empty(entries, "failed append must not be retried or buffered")
}

// TestRecord_SubsequentAppendsAfterOutage verifies recovery once the store is
// healthy again.
func (s *RecorderSuite) TestRecord_SubsequentAppendsAfterOutage() {
	s.store.FailAppendWith(errors.New("timeout"))
	s.recorder.Record(context.Background(), Entry{OwnerID: s.ownerID, Action: ActionLogin, EntityType: EntityOwner})

	s.store.FailAppendWith(nil)
	s.recorder.Record(context.Background(), Entry{OwnerID: s.ownerID, Action: ActionLogout, EntityType: EntityOwner})

	entries, err := s.store.ListByOwner(context.Background(), s.ownerID)
	require.NoError(s.T(), err)
	require.Len(s.T(), entries, 1)
	assert.Equal(s.T(), ActionLogout, entries[0].Action)
}
