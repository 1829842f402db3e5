package storage

import (
	"context"
	"sync"

	"github.com/example/ride-dispatch/internal/faults"
)

// WalletStore covers the single bookkeeping side effect the dispatch core
// owns: crediting a driver's balance with the settled fare.
type WalletStore interface {
	Credit(ctx context.Context, driverID string, amount int64) (int64, error)
	Balance(ctx context.Context, driverID string) (int64, error)
}

type MemoryWallets struct {
	mu       sync.Mutex
	balances map[string]int64
}

func NewMemoryWallets() *MemoryWallets {
	return &MemoryWallets{balances: make(map[string]int64)}
}

func (m *MemoryWallets) Credit(ctx context.Context, driverID string, amount int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[driverID] += amount
	return m.balances[driverID], nil
}

func (m *MemoryWallets) Balance(ctx context.Context, driverID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[driverID], nil
}

// PostgresWallets keeps balances in the wallets table via upsert.
type PostgresWallets struct {
	store *PostgresStore
}

func NewPostgresWallets(store *PostgresStore) *PostgresWallets {
	return &PostgresWallets{store: store}
}

func (p *PostgresWallets) Credit(ctx context.Context, driverID string, amount int64) (int64, error) {
	var balance int64
	err := p.store.db.QueryRowContext(ctx, `INSERT INTO wallets(driver_id, balance) VALUES($1,$2)
		ON CONFLICT (driver_id) DO UPDATE SET balance = wallets.balance + EXCLUDED.balance
		RETURNING balance`, driverID, amount).Scan(&balance)
	if err != nil {
		return 0, faults.Persistence("credit wallet", err)
	}
	return balance, nil
}

func (p *PostgresWallets) Balance(ctx context.Context, driverID string) (int64, error) {
	var balance int64
	err := p.store.db.QueryRowContext(ctx, `SELECT balance FROM wallets WHERE driver_id=$1`, driverID).Scan(&balance)
	if err != nil {
		return 0, faults.Persistence("read wallet", err)
	}
	return balance, nil
}
