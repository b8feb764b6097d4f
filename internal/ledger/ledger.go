// Package ledger records which inbound messages have been claimed and what
// result they produced, so redelivered messages are answered from cache.
package ledger

import (
	"context"
	"errors"
)

var (
	// ErrInFlight means another worker holds the claim and has not finished.
	ErrInFlight = errors.New("message in flight")
	// ErrReleased means the claim was given up without a result; the caller
	// may try to claim again.
	ErrReleased = errors.New("claim released")
)

// Ledger is an atomic check-and-set store keyed by idempotency key. Results
// are opaque bytes so callers choose their own encoding.
type Ledger interface {
	// Claim atomically takes ownership of key. When the key already completed
	// it returns claimed=false with the stored result. When another worker owns
	// it, it returns ErrInFlight.
	Claim(ctx context.Context, key string) (claimed bool, result []byte, err error)
	// Complete stores the result for a claimed key.
	Complete(ctx context.Context, key string, result []byte) error
	// Release drops an unfinished claim so the message can be retried.
	Release(ctx context.Context, key string) error
	// Wait blocks until key completes or is released, or ctx ends.
	Wait(ctx context.Context, key string) ([]byte, error)
}
