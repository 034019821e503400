package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/tripora/booking-payments-backend/internal/database"
)

// idempotencyCacheTTL bounds how long replayed responses stay in Redis.
// Postgres keeps them indefinitely; the cache only skips a round trip.
const idempotencyCacheTTL = 24 * time.Hour

// IdempotencyGuard replays stored responses for repeated initiate requests.
// Redis is an optional fast path in front of the durable Postgres record.
type IdempotencyGuard struct {
	repo   *database.IdempotencyRepository
	cache  *redis.Client
	logger *logrus.Logger
}

// NewIdempotencyGuard creates a new idempotency guard. cache may be nil.
func NewIdempotencyGuard(repo *database.IdempotencyRepository, cache *redis.Client, logger *logrus.Logger) *IdempotencyGuard {
	return &IdempotencyGuard{
		repo:   repo,
		cache:  cache,
		logger: logger,
	}
}

// HashRequest fingerprints a request body so a reused key with a different
// payload can be detected.
func HashRequest(body interface{}) string {
	payload, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Lookup returns the stored response for a key, or nil when the key is new.
// requestHash mismatches surface as a conflict to the caller.
func (g *IdempotencyGuard) Lookup(ctx context.Context, key string) (json.RawMessage, string, error) {
	if g.cache != nil {
		cached, err := g.cache.Get(ctx, g.cacheKey(key)).Result()
		if err == nil {
			var entry cachedIdempotencyEntry
			if jsonErr := json.Unmarshal([]byte(cached), &entry); jsonErr == nil {
				return entry.Response, entry.RequestHash, nil
			}
		} else if err != redis.Nil {
			g.logger.WithError(err).Warn("Idempotency cache lookup failed, falling back to database")
		}
	}

	record, err := g.repo.Get(ctx, key)
	if err != nil {
		return nil, "", err
	}
	if record == nil {
		return nil, "", nil
	}

	return record.Response, record.RequestHash, nil
}

// Store persists the response for a key and warms the cache
func (g *IdempotencyGuard) Store(ctx context.Context, key, requestHash string, response json.RawMessage) error {
	if err := g.repo.Save(ctx, key, requestHash, response); err != nil {
		return err
	}

	if g.cache != nil {
		entry, err := json.Marshal(cachedIdempotencyEntry{RequestHash: requestHash, Response: response})
		if err == nil {
			if err := g.cache.Set(ctx, g.cacheKey(key), entry, idempotencyCacheTTL).Err(); err != nil {
				g.logger.WithError(err).Warn("Failed to warm idempotency cache")
			}
		}
	}

	return nil
}

func (g *IdempotencyGuard) cacheKey(key string) string {
	return "idempotency:" + key
}

type cachedIdempotencyEntry struct {
	RequestHash string          `json:"requestHash"`
	Response    json.RawMessage `json:"response"`
}
