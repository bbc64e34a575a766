package ledger

import (
	"errors"
	"time"
)

// Transaction is one signed points movement for a principal.
type Transaction struct {
	ID          string    `json:"id"`
	PrincipalID string    `json:"principal_id"`
	Delta       int64     `json:"delta"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	// Balance is the principal's counter after this transaction was applied.
	Balance int64 `json:"balance_after"`
}

var (
	ErrNotFound     = errors.New("ledger: not found")
	ErrInvalidDelta = errors.New("ledger: delta must be non-zero")
	ErrInvalidInput = errors.New("ledger: invalid input")
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ClampLimit normalises a caller supplied list limit.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
