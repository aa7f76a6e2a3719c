package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"

	"github.com/roombus/roombus-server/internal/postgres"
)

// selectColumns lists the columns returned by queries that produce an ApiKey. Every method that scans into an
// ApiKey must select these columns in this exact order.
const selectColumns = `id, project_id, key_hash, key_prefix, created_at, last_used_at, is_active, created_by, description`

func scanApiKey(row pgx.Row) (*ApiKey, error) {
	var k ApiKey
	err := row.Scan(&k.ID, &k.ProjectID, &k.KeyHash, &k.KeyPrefix, &k.CreatedAt, &k.LastUsedAt, &k.IsActive, &k.CreatedBy, &k.Description)
	if err != nil {
		return nil, fmt.Errorf("scan api key: %w", err)
	}
	return &k, nil
}

// Repository persists ApiKey rows. PGRepository is the only implementation; tests against the HTTP handlers use
// an in-memory fake satisfying the same interface (see internal/api/credential_fake_test.go and service_test.go).
type Repository interface {
	Create(ctx context.Context, k ApiKey) (*ApiKey, error)
	Get(ctx context.Context, projectID string) (*ApiKey, error)
	List(ctx context.Context) ([]ApiKey, error)
	Revoke(ctx context.Context, projectID string) error
	FindActiveByHash(ctx context.Context, projectID, keyHash string) (*ApiKey, error)
	TouchLastUsed(ctx context.Context, id int64, at time.Time) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed credential repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Create inserts a new active key for k.ProjectID, or reactivates the row if one already exists in an inactive
// state. Returns ErrAlreadyActive if an active row already exists for the project — the "at most one active key
// per project" invariant is enforced here via the table's unique project_id column rather than read-then-write,
// since ON CONFLICT DO UPDATE ... WHERE is race-free under concurrent creation attempts.
func (r *PGRepository) Create(ctx context.Context, k ApiKey) (*ApiKey, error) {
	row := r.db.QueryRow(ctx,
		`INSERT INTO api_keys (project_id, key_hash, key_prefix, created_by, description, is_active, created_at)
		 VALUES ($1, $2, $3, $4, $5, true, NOW())
		 ON CONFLICT (project_id) DO UPDATE SET
		   key_hash = EXCLUDED.key_hash,
		   key_prefix = EXCLUDED.key_prefix,
		   created_by = EXCLUDED.created_by,
		   description = EXCLUDED.description,
		   is_active = true,
		   created_at = NOW(),
		   last_used_at = NULL
		 WHERE NOT api_keys.is_active
		 RETURNING `+selectColumns,
		k.ProjectID, k.KeyHash, k.KeyPrefix, k.CreatedBy, k.Description,
	)

	created, err := scanApiKey(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || postgres.IsUniqueViolation(err) {
			return nil, ErrAlreadyActive
		}
		return nil, fmt.Errorf("insert api key: %w", err)
	}
	return created, nil
}

// Get returns the row for projectID regardless of active state. Returns ErrNotFound if no row exists.
func (r *PGRepository) Get(ctx context.Context, projectID string) (*ApiKey, error) {
	k, err := scanApiKey(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM api_keys WHERE project_id = $1`, projectID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query api key: %w", err)
	}
	return k, nil
}

// List returns all active rows.
func (r *PGRepository) List(ctx context.Context) ([]ApiKey, error) {
	rows, err := r.db.Query(ctx, `SELECT `+selectColumns+` FROM api_keys WHERE is_active ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query api keys: %w", err)
	}
	defer rows.Close()

	var keys []ApiKey
	for rows.Next() {
		k, err := scanApiKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, *k)
	}
	return keys, rows.Err()
}

// Revoke sets is_active = false for projectID. Returns ErrNotFound if no active row matches.
func (r *PGRepository) Revoke(ctx context.Context, projectID string) error {
	tag, err := r.db.Exec(ctx, `UPDATE api_keys SET is_active = false WHERE project_id = $1 AND is_active`, projectID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FindActiveByHash looks up an active key by (project_id, key_hash), the validation path used by the Front Router.
func (r *PGRepository) FindActiveByHash(ctx context.Context, projectID, keyHash string) (*ApiKey, error) {
	k, err := scanApiKey(r.db.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM api_keys WHERE project_id = $1 AND key_hash = $2 AND is_active`,
		projectID, keyHash,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query api key by hash: %w", err)
	}
	return k, nil
}

// TouchLastUsed best-effort updates last_used_at for a validated key. Callers treat failures here as non-fatal:
// validation itself has already succeeded by the time this is called.
func (r *PGRepository) TouchLastUsed(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("touch last_used_at: %w", err)
	}
	return nil
}

// sanitizer strips HTML/script content from free-text fields accepted by POST /api-keys before they are persisted,
// since description and createdBy are later rendered verbatim by GET /api-keys responses that may be viewed in an
// admin dashboard.
var sanitizer = bluemonday.StrictPolicy()

// Sanitize cleans untrusted free text for storage.
func Sanitize(s string) string {
	return sanitizer.Sanitize(s)
}
