package models

import (
	"encoding/json"
	"time"
)

// IdempotencyRecord maps a client-supplied idempotency key to the response
// previously returned for it, making the initiate endpoint replay-safe
// independently of the transaction table.
type IdempotencyRecord struct {
	Key         string          `json:"key" db:"key"`
	RequestHash string          `json:"request_hash" db:"request_hash"`
	Response    json.RawMessage `json:"response" db:"response"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}
