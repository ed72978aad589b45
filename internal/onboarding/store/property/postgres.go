package property

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"deedgate/internal/onboarding/models"
	id "deedgate/pkg/domain"
	"deedgate/pkg/platform/sentinel"
)

// Schema creates the property onboarding table. Applied at startup and by
// integration tests; every statement is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS property_onboardings (
	id              UUID PRIMARY KEY,
	owner_principal TEXT NOT NULL,
	status          TEXT NOT NULL,
	record          JSONB NOT NULL,
	version         BIGINT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_property_onboardings_owner ON property_onboardings (owner_principal);
CREATE INDEX IF NOT EXISTS idx_property_onboardings_status ON property_onboardings (status);
`

const uniqueViolation = "23505"

// PostgresStore persists property records in PostgreSQL. The full record
// lives in a JSONB column; owner, status, and version are extracted for
// indexing and optimistic checks.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres constructs a PostgreSQL-backed property store.
func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema applies the table schema.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply property schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, record *models.PropertyOnboarding) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode property record: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO property_onboardings (id, owner_principal, status, record, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		record.ID.String(), record.Owner.String(), string(record.Status),
		payload, record.Version, record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return sentinel.ErrAlreadyExists
		}
		return fmt.Errorf("insert property record: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, propertyID id.PropertyID) (*models.PropertyOnboarding, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT record FROM property_onboardings WHERE id = $1`,
		propertyID.String(),
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find property record: %w", err)
	}
	return decodeRecord(payload)
}

func (s *PostgresStore) ListByOwner(ctx context.Context, owner id.Principal) ([]*models.PropertyOnboarding, error) {
	return s.list(ctx,
		`SELECT record FROM property_onboardings WHERE owner_principal = $1 ORDER BY created_at`,
		owner.String())
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status models.PropertyStatus) ([]*models.PropertyOnboarding, error) {
	return s.list(ctx,
		`SELECT record FROM property_onboardings WHERE status = $1 ORDER BY created_at`,
		string(status))
}

func (s *PostgresStore) list(ctx context.Context, query string, arg any) ([]*models.PropertyOnboarding, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list property records: %w", err)
	}
	defer rows.Close()

	var out []*models.PropertyOnboarding
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan property record: %w", err)
		}
		record, err := decodeRecord(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list property records: %w", err)
	}
	return out, nil
}

// Execute holds a row lock (SELECT ... FOR UPDATE) across validate and
// mutate, then writes back with a version check. The version predicate is
// redundant under the row lock but keeps a lost update impossible even if the
// locking ever changes.
func (s *PostgresStore) Execute(ctx context.Context, propertyID id.PropertyID,
	validate func(*models.PropertyOnboarding) error,
	mutate func(*models.PropertyOnboarding)) (*models.PropertyOnboarding, error) {

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin property update: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var payload []byte
	err = tx.QueryRow(ctx,
		`SELECT record FROM property_onboardings WHERE id = $1 FOR UPDATE`,
		propertyID.String(),
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock property record: %w", err)
	}

	record, err := decodeRecord(payload)
	if err != nil {
		return nil, err
	}
	if err := validate(record); err != nil {
		return nil, err
	}

	prevVersion := record.Version
	prevUpdated := record.UpdatedAt
	mutate(record)
	record.Version++
	if !record.UpdatedAt.After(prevUpdated) {
		record.UpdatedAt = prevUpdated.Add(time.Nanosecond)
	}

	updated, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode property record: %w", err)
	}
	tag, err := tx.Exec(ctx,
		`UPDATE property_onboardings
		 SET status = $2, record = $3, version = $4, updated_at = $5
		 WHERE id = $1 AND version = $6`,
		record.ID.String(), string(record.Status), updated,
		record.Version, record.UpdatedAt, prevVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("update property record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, sentinel.ErrConflict
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit property update: %w", err)
	}
	return record, nil
}

func decodeRecord(payload []byte) (*models.PropertyOnboarding, error) {
	var record models.PropertyOnboarding
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("decode property record: %w", err)
	}
	return &record, nil
}
