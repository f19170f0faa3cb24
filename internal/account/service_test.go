package account

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
	"datavault/internal/jwttoken"
	"datavault/internal/lifecycle"
	"datavault/internal/registry"
	dErrors "datavault/pkg/domain-errors"
	"datavault/pkg/sealing"
)

type ServiceSuite struct {
	suite.Suite
	items      *registry.InMemoryStore
	consents   *consent.InMemoryStore
	auditStore *audit.InMemoryStore
	tokens     *jwttoken.Service
	service    *Service
}

func (s *ServiceSuite) SetupTest() {
	s.items = registry.NewInMemoryStore()
	s.consents = consent.NewInMemoryStore(consent.WithItemLookup(s.items.ItemActive))
	s.auditStore = audit.NewInMemoryStore()
	s.tokens = jwttoken.NewService("test-signing-key", "datavault", time.Hour)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	recorder := audit.NewRecorder(s.auditStore, logger)
	sealer := sealing.NewChecksumCodec()
	runner := registry.NewMemoryTxRunner(s.items, s.consents)

	inventory := registry.NewService(s.items, s.consents, s.auditStore, runner, recorder, sealer, logger)
	defaults := lifecycle.NewService(s.items, s.consents, runner, recorder, sealer, logger)
	s.service = NewService(NewInMemoryStore(), s.tokens, defaults, inventory, recorder, logger)
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) register() (*Owner, string) {
	owner, token, err := s.service.Register(context.Background(), RegisterInput{
		Email:    "Ada@Example.com",
		Password: "long-enough-password",
		Name:     "Ada Lovelace",
	}, audit.Meta{IPAddress: "192.0.2.1", UserAgent: "test-agent"})
	s.Require().NoError(err)
	return owner, token
}

// TestRegister verifies the full registration scenario: account, two seeded
// items, two granted consents, one login entry, working token.
func (s *ServiceSuite) TestRegister() {
	owner, token := s.register()
	s.Equal("ada@example.com", owner.Email, "email is normalized")

	got, err := s.tokens.VerifyToken(token)
	s.Require().NoError(err)
	s.Equal(owner.ID, got)

	items, err := s.items.ListAll(context.Background(), owner.ID)
	s.Require().NoError(err)
	s.Len(items, 2)

	records, err := s.consents.ListByOwner(context.Background(), owner.ID)
	s.Require().NoError(err)
	s.Require().Len(records, 2)
	now := time.Now()
	for _, record := range records {
		s.Equal(consent.StatusGranted, record.EffectiveStatus(now))
	}

	entries, err := s.auditStore.ListByOwner(context.Background(), owner.ID)
	s.Require().NoError(err)
	s.Require().Len(entries, 1, "registration writes exactly one entry")
	s.Equal(audit.ActionLogin, entries[0].Action)
	s.Equal("registration", entries[0].Details["method"])
	s.Equal("192.0.2.1", entries[0].IPAddress)
}

// TestRegister_Validation verifies input rules.
func (s *ServiceSuite) TestRegister_Validation() {
	cases := []struct {
		name  string
		input RegisterInput
	}{
		{"missing email", RegisterInput{Password: "long-enough-pw", Name: "Ada"}},
		{"malformed email", RegisterInput{Email: "not-an-email", Password: "long-enough-pw", Name: "Ada"}},
		{"short password", RegisterInput{Email: "a@example.com", Password: "short", Name: "Ada"}},
		{"missing name", RegisterInput{Email: "a@example.com", Password: "long-enough-pw"}},
	}
	for _, tc := range cases {
		s.T().Run(tc.name, func(t *testing.T) {
			_, _, err := s.service.Register(context.Background(), tc.input, audit.Meta{})
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		})
	}
}

// TestRegister_DuplicateEmail verifies the conflict path.
func (s *ServiceSuite) TestRegister_DuplicateEmail() {
	s.register()
	_, _, err := s.service.Register(context.Background(), RegisterInput{
		Email:    "ada@example.com",
		Password: "another-password",
		Name:     "Imposter",
	}, audit.Meta{})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

// TestLogin verifies credential checking and the activity-item refresh.
func (s *ServiceSuite) TestLogin() {
	owner, _ := s.register()

	_, token, err := s.service.Login(context.Background(), "ada@example.com", "long-enough-password",
		audit.Meta{IPAddress: "198.51.100.7", UserAgent: "test-agent"})
	s.Require().NoError(err)
	s.NotEmpty(token)

	category := registry.CategoryActivity
	activity, err := s.items.ListActive(context.Background(), owner.ID, registry.Filter{Category: &category})
	s.Require().NoError(err)
	s.Require().Len(activity, 2)
	byName := make(map[string]string, 2)
	for _, item := range activity {
		byName[item.FieldName] = item.FieldValue
	}
	s.Equal("198.51.100.7", byName["IP Address"])
	s.Contains(byName, "Last Login")

	// Second login updates in place rather than growing the inventory.
	_, _, err = s.service.Login(context.Background(), "ada@example.com", "long-enough-password",
		audit.Meta{IPAddress: "203.0.113.9"})
	s.Require().NoError(err)
	activity, err = s.items.ListActive(context.Background(), owner.ID, registry.Filter{Category: &category})
	s.Require().NoError(err)
	s.Len(activity, 2)
}

// TestLogin_FailuresCollapse verifies unknown email and wrong password are
// indistinguishable.
func (s *ServiceSuite) TestLogin_FailuresCollapse() {
	s.register()

	_, _, errUnknown := s.service.Login(context.Background(), "nobody@example.com", "long-enough-password", audit.Meta{})
	_, _, errWrongPw := s.service.Login(context.Background(), "ada@example.com", "wrong-password", audit.Meta{})

	s.Require().Error(errUnknown)
	s.Require().Error(errWrongPw)
	s.True(dErrors.HasCode(errUnknown, dErrors.CodeUnauthorized))
	s.True(dErrors.HasCode(errWrongPw, dErrors.CodeUnauthorized))
	s.Equal(errUnknown.Error(), errWrongPw.Error())
}

// TestLogout verifies the trail entry.
func (s *ServiceSuite) TestLogout() {
	owner, _ := s.register()

	s.Require().NoError(s.service.Logout(context.Background(), owner.ID, audit.Meta{}))

	action := audit.ActionLogout
	entries, _, err := s.auditStore.Query(context.Background(), owner.ID, audit.Filter{Action: &action}, 0, 10)
	s.Require().NoError(err)
	s.Len(entries, 1)
}
