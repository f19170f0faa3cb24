package registry

import (
	"context"
	"database/sql"
	"sync"

	"datavault/internal/consent"
	"datavault/internal/platform/database"
)

// TxRunner provides the shared transactional boundary for cascades that span
// data items and their consents. The stores handed to fn are bound to one
// transaction; fn returning an error rolls the whole cascade back.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(items Store, consents consent.Store) error) error
}

// PostgresTxRunner runs cascades inside a database transaction with row locks.
type PostgresTxRunner struct {
	pool *database.Pool
}

// NewPostgresTxRunner constructs a TxRunner over the shared pool.
func NewPostgresTxRunner(pool *database.Pool) *PostgresTxRunner {
	return &PostgresTxRunner{pool: pool}
}

func (r *PostgresTxRunner) RunInTx(ctx context.Context, fn func(items Store, consents consent.Store) error) error {
	return r.pool.RunInTx(ctx, func(tx *sql.Tx) error {
		return fn(NewPostgresTx(tx), consent.NewPostgresTx(tx))
	})
}

// MemoryTxRunner serializes cascades with a coarse lock over the in-memory
// stores. Coarse is fine at test scale; the postgres runner is the one that
// sees concurrency.
type MemoryTxRunner struct {
	mu       sync.Mutex
	items    *InMemoryStore
	consents *consent.InMemoryStore
}

// NewMemoryTxRunner constructs a TxRunner over the in-memory stores.
func NewMemoryTxRunner(items *InMemoryStore, consents *consent.InMemoryStore) *MemoryTxRunner {
	return &MemoryTxRunner{items: items, consents: consents}
}

func (r *MemoryTxRunner) RunInTx(ctx context.Context, fn func(items Store, consents consent.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(r.items, r.consents)
}
