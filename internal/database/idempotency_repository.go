package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/tripora/booking-payments-backend/internal/models"
)

// IdempotencyRepository persists replayed responses keyed by client
// idempotency keys
type IdempotencyRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewIdempotencyRepository creates a new idempotency repository
func NewIdempotencyRepository(db *sqlx.DB, logger *logrus.Logger) *IdempotencyRepository {
	return &IdempotencyRepository{
		db:     db,
		logger: logger,
	}
}

// Save stores the response for an idempotency key. A concurrent save of the
// same key is not an error; the first writer wins.
func (r *IdempotencyRepository) Save(ctx context.Context, key, requestHash string, response json.RawMessage) error {
	query := `
		INSERT INTO idempotency_records (key, request_hash, response, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query, key, requestHash, response, time.Now())
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return nil
		}
		return fmt.Errorf("failed to save idempotency record: %w", err)
	}

	return nil
}

// Get returns the record for a key, or nil when none exists
func (r *IdempotencyRepository) Get(ctx context.Context, key string) (*models.IdempotencyRecord, error) {
	var record models.IdempotencyRecord
	query := `SELECT * FROM idempotency_records WHERE key = $1`

	err := r.db.GetContext(ctx, &record, query, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get idempotency record: %w", err)
	}

	return &record, nil
}
