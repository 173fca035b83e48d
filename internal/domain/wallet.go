package domain

import "time"

// Wallet is a tracked smart wallet. Score and Tier come from an external
// scoring process; Tier 1 is the best.
type Wallet struct {
	Address   string
	Label     string
	Score     float64
	Tier      int
	UpdatedAt time.Time
}

// Token is the static metadata of a token mint.
type Token struct {
	MintAddress string
	Symbol      string
	Name        string
	TotalSupply *float64
	Decimals    int
	UpdatedAt   time.Time
}

// WalletCluster is a group of wallets observed to trade together, with a
// correlation coefficient in [0, 1].
type WalletCluster struct {
	ID          string
	Label       string
	WalletIDs   []string
	Correlation float64
	UpdatedAt   time.Time
}

// Contains reports whether the cluster includes the wallet address.
func (c WalletCluster) Contains(wallet string) bool {
	for _, w := range c.WalletIDs {
		if w == wallet {
			return true
		}
	}
	return false
}
