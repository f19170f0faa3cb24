package account

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"datavault/internal/audit"
	"datavault/internal/jwttoken"
	"datavault/internal/lifecycle"
	"datavault/internal/platform/metrics"
	"datavault/internal/registry"
	id "datavault/pkg/domain"
	dErrors "datavault/pkg/domain-errors"
	"datavault/pkg/secrets"
)

// errInvalidCredentials is the single rejection every authentication failure
// collapses to. Unknown email and wrong password are indistinguishable.
var errInvalidCredentials = dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")

// Service implements owner accounts: registration with the default data
// seed, password login with activity tracking, and logout.
type Service struct {
	store     Store
	tokens    *jwttoken.Service
	defaults  *lifecycle.Service
	inventory *registry.Service
	auditor   *audit.Recorder
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// Option configures the Service.
type Option func(*Service)

// WithMetrics sets the metrics instance for account counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService creates an account service.
func NewService(store Store, tokens *jwttoken.Service, defaults *lifecycle.Service, inventory *registry.Service, auditor *audit.Recorder, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:     store,
		tokens:    tokens,
		defaults:  defaults,
		inventory: inventory,
		auditor:   auditor,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func validateRegister(input RegisterInput) error {
	if strings.TrimSpace(input.Email) == "" || !strings.Contains(input.Email, "@") {
		return dErrors.New(dErrors.CodeValidation, "a valid email is required")
	}
	if strings.TrimSpace(input.Name) == "" {
		return dErrors.New(dErrors.CodeValidation, "name is required")
	}
	if len(input.Password) < minPasswordLength {
		return dErrors.New(dErrors.CodeValidation, "password must be at least 8 characters")
	}
	return nil
}

// Register creates an owner account, seeds the default data items and issues
// the first access token. The seed is all-or-nothing; the LOGIN audit entry
// is best-effort like every other entry.
func (s *Service) Register(ctx context.Context, input RegisterInput, meta audit.Meta) (*Owner, string, error) {
	if err := validateRegister(input); err != nil {
		return nil, "", err
	}

	hash, err := secrets.Hash(input.Password)
	if err != nil {
		return nil, "", err
	}

	owner := &Owner{
		ID:           id.NewOwnerID(),
		Email:        strings.ToLower(strings.TrimSpace(input.Email)),
		Name:         strings.TrimSpace(input.Name),
		PasswordHash: hash,
		CreatedAt:    time.Now(),
	}
	if err := s.store.Save(ctx, owner); err != nil {
		if dErrors.HasCode(err, dErrors.CodeConflict) {
			return nil, "", dErrors.New(dErrors.CodeConflict, "email already registered")
		}
		return nil, "", dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to create account")
	}

	if err := s.defaults.RegisterWithDefaults(ctx, owner.ID, owner.Name, owner.Email, meta); err != nil {
		return nil, "", err
	}

	token, err := s.tokens.GenerateAccessToken(owner.ID)
	if err != nil {
		return nil, "", err
	}

	if s.metrics != nil {
		s.metrics.IncrementOwnersRegistered()
	}
	s.auditor.Record(ctx, audit.Entry{
		OwnerID:    owner.ID,
		Action:     audit.ActionLogin,
		EntityType: audit.EntityOwner,
		EntityID:   owner.ID.String(),
		Details:    map[string]any{"method": "registration"},
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
	})
	return owner, token, nil
}

// Login verifies credentials, refreshes the owner's login-activity items and
// issues a fresh token.
func (s *Service) Login(ctx context.Context, email, password string, meta audit.Meta) (*Owner, string, error) {
	owner, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			if s.metrics != nil {
				s.metrics.IncrementAuthFailures()
			}
			return nil, "", errInvalidCredentials
		}
		return nil, "", dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to load account")
	}
	if err := secrets.Verify(password, owner.PasswordHash); err != nil {
		if dErrors.HasCode(err, dErrors.CodeUnauthorized) {
			if s.metrics != nil {
				s.metrics.IncrementAuthFailures()
			}
			return nil, "", errInvalidCredentials
		}
		return nil, "", err
	}

	if err := s.trackLoginActivity(ctx, owner.ID, meta); err != nil {
		return nil, "", err
	}

	token, err := s.tokens.GenerateAccessToken(owner.ID)
	if err != nil {
		return nil, "", err
	}

	if s.metrics != nil {
		s.metrics.IncrementLogins()
	}
	details := map[string]any{"method": "password"}
	if meta.Device != "" {
		details["device"] = meta.Device
	}
	s.auditor.Record(ctx, audit.Entry{
		OwnerID:    owner.ID,
		Action:     audit.ActionLogin,
		EntityType: audit.EntityOwner,
		EntityID:   owner.ID.String(),
		Details:    details,
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
	})
	return owner, token, nil
}

// Logout records the end of a session. Tokens are stateless, so there is
// nothing to revoke; the trail entry is the point.
func (s *Service) Logout(ctx context.Context, ownerID id.OwnerID, meta audit.Meta) error {
	if ownerID.IsNil() {
		return dErrors.New(dErrors.CodeUnauthorized, "owner is required")
	}
	s.auditor.Record(ctx, audit.Entry{
		OwnerID:    ownerID,
		Action:     audit.ActionLogout,
		EntityType: audit.EntityOwner,
		EntityID:   ownerID.String(),
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
	})
	return nil
}

// Profile returns the owner's account record.
func (s *Service) Profile(ctx context.Context, ownerID id.OwnerID) (*Owner, error) {
	if ownerID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "owner is required")
	}
	owner, err := s.store.GetByID(ctx, ownerID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to load account")
	}
	return owner, nil
}

// loginActivityItems is what each successful login refreshes in the registry.
func loginActivityItems(now time.Time, meta audit.Meta) []registry.CreateInput {
	ip := meta.IPAddress
	if ip == "" {
		ip = "Unknown"
	}
	return []registry.CreateInput{
		{
			Category:       registry.CategoryActivity,
			FieldName:      "Last Login",
			FieldValue:     now.UTC().Format(time.RFC3339),
			Purpose:        "Security monitoring and session management",
			Source:         "System Generated",
			DataController: "DataVault Inc.",
			RetentionDays:  30,
		},
		{
			Category:       registry.CategoryActivity,
			FieldName:      "IP Address",
			FieldValue:     ip,
			Purpose:        "Security monitoring and session management",
			Source:         "System Generated",
			DataController: "DataVault Inc.",
			RetentionDays:  30,
		},
	}
}

// trackLoginActivity upserts the ACTIVITY items recording the last login time
// and source address.
func (s *Service) trackLoginActivity(ctx context.Context, ownerID id.OwnerID, meta audit.Meta) error {
	category := registry.CategoryActivity
	existing, err := s.inventory.List(ctx, ownerID, registry.Filter{Category: &category})
	if err != nil {
		return err
	}
	byName := make(map[string]id.ItemID, len(existing))
	for _, item := range existing {
		byName[item.FieldName] = item.ID
	}

	for _, input := range loginActivityItems(time.Now(), meta) {
		if itemID, ok := byName[input.FieldName]; ok {
			if _, err := s.inventory.Update(ctx, ownerID, itemID, input.FieldValue, meta); err != nil {
				return err
			}
			continue
		}
		if _, err := s.inventory.Create(ctx, ownerID, input, meta); err != nil {
			return err
		}
	}
	return nil
}
