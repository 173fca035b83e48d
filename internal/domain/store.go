package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TradeStore persists wallet trades.
type TradeStore interface {
	// Insert stores the trade; it returns false when a trade with the same
	// id already exists.
	Insert(ctx context.Context, trade TradeEvent) (bool, error)
	GetByID(ctx context.Context, id string) (TradeEvent, error)
	// ListWindow returns the token's trades with start <= ts <= end ordered
	// by timestamp ascending.
	ListWindow(ctx context.Context, tokenID string, start, end time.Time) ([]TradeEvent, error)
	// ListByWallet returns the wallet's trades for a token since the given
	// time, ordered by timestamp ascending.
	ListByWallet(ctx context.Context, walletID, tokenID string, since time.Time) ([]TradeEvent, error)
	ListBefore(ctx context.Context, before time.Time) ([]TradeEvent, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// WalletStore persists tracked wallets.
type WalletStore interface {
	Upsert(ctx context.Context, wallet Wallet) error
	Get(ctx context.Context, address string) (Wallet, error)
	// GetMany returns the wallets that exist among addresses, keyed by
	// address. Unknown addresses are omitted.
	GetMany(ctx context.Context, addresses []string) (map[string]Wallet, error)
}

// TokenStore persists token metadata.
type TokenStore interface {
	Upsert(ctx context.Context, token Token) error
	Get(ctx context.Context, mint string) (Token, error)
}

// SignalStore persists signals. Create returns ErrAlreadyExists when an
// active signal for the same (token, model) exists.
type SignalStore interface {
	Create(ctx context.Context, sig Signal) error
	Update(ctx context.Context, sig Signal) error
	GetByID(ctx context.Context, id string) (Signal, error)
	GetActive(ctx context.Context, tokenID string, model SignalModel) (Signal, error)
	ListActive(ctx context.Context, opts ListOpts) ([]Signal, error)
	ListByToken(ctx context.Context, tokenID string, opts ListOpts) ([]Signal, error)
	Close(ctx context.Context, id, reason string, at time.Time) error
	SetNotificationID(ctx context.Context, id, notificationID string) error
	UpdateEnrichment(ctx context.Context, id string, enrichment map[string]any) error
}

// ClusterStore persists wallet correlation clusters.
type ClusterStore interface {
	Upsert(ctx context.Context, cluster WalletCluster) error
	Get(ctx context.Context, id string) (WalletCluster, error)
	// ListForWallets returns every cluster containing at least one of the
	// given wallets.
	ListForWallets(ctx context.Context, walletIDs []string) ([]WalletCluster, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
