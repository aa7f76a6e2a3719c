package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// CreateParams is the validated input to Service.Create.
type CreateParams struct {
	ProjectID   string
	CreatedBy   string
	Description string
}

// Service implements the credential gateway operations the Front Router and the api-keys HTTP handlers call.
type Service struct {
	repo Repository
	log  zerolog.Logger
}

// NewService returns a Service backed by repo.
func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, log: logger}
}

// Create issues a new key for params.ProjectID, persists its hash, and returns the row plus the plaintext key —
// the only time the plaintext is ever available after this call returns.
func (s *Service) Create(ctx context.Context, params CreateParams) (*ApiKey, string, error) {
	if !ValidProjectID(params.ProjectID) {
		return nil, "", ErrInvalidProjectID
	}

	plaintext, err := GenerateKey()
	if err != nil {
		return nil, "", fmt.Errorf("generate key: %w", err)
	}

	row := ApiKey{
		ProjectID:   params.ProjectID,
		KeyHash:     HashKey(plaintext),
		KeyPrefix:   Prefix(plaintext),
		CreatedBy:   Sanitize(params.CreatedBy),
		Description: Sanitize(params.Description),
	}

	created, err := s.repo.Create(ctx, row)
	if err != nil {
		if errors.Is(err, ErrAlreadyActive) {
			return nil, "", ErrAlreadyActive
		}
		return nil, "", fmt.Errorf("create api key: %w", err)
	}
	return created, plaintext, nil
}

// Describe returns the row for projectID, active or not.
func (s *Service) Describe(ctx context.Context, projectID string) (*ApiKey, error) {
	k, err := s.repo.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return k, nil
}

// List returns all active keys.
func (s *Service) List(ctx context.Context) ([]ApiKey, error) {
	return s.repo.List(ctx)
}

// Revoke deactivates the active key for projectID.
func (s *Service) Revoke(ctx context.Context, projectID string) error {
	return s.repo.Revoke(ctx, projectID)
}

// Validate checks a presented plaintext key against the active row for projectID. On success it schedules a
// best-effort lastUsedAt update and returns true; every failure mode (malformed key, no active row, hash mismatch)
// returns false with a generic reason, never distinguishing which check failed to the caller.
func (s *Service) Validate(ctx context.Context, projectID, presentedKey string) bool {
	if !ValidFormat(presentedKey) {
		return false
	}

	k, err := s.repo.FindActiveByHash(ctx, projectID, HashKey(presentedKey))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Warn().Err(err).Str("project_id", projectID).Msg("api key validation lookup failed")
		}
		return false
	}

	go func() {
		touchCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.repo.TouchLastUsed(touchCtx, k.ID, time.Now()); err != nil {
			s.log.Warn().Err(err).Str("project_id", projectID).Msg("failed to update api key last_used_at")
		}
	}()

	return true
}
