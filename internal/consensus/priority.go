package consensus

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/consensusbot/internal/domain"
)

var lamportsPerSOL = decimal.New(1, 9)

// PriorityFor maps buy pressure and momentum to a priority tier. It does
// not affect whether a signal fires.
func (p PriorityConfig) PriorityFor(buySellRatio, momentumPct float64) domain.PriorityTier {
	switch {
	case buySellRatio >= p.VeryStrongRatio &&
		momentumPct >= p.VeryStrongMomentumMin && momentumPct <= p.VeryStrongMomentumMax:
		return domain.PriorityVeryStrong
	case buySellRatio >= p.StandardRatio && momentumPct >= p.StandardMomentumMin:
		return domain.PriorityStandard
	default:
		return domain.PriorityWeak
	}
}

// FeeLamports returns the priority fee for a tier.
func (p PriorityConfig) FeeLamports(tier domain.PriorityTier) uint64 {
	var sol string
	switch tier {
	case domain.PriorityVeryStrong:
		sol = p.VeryStrongFeeSOL
	case domain.PriorityStandard:
		sol = p.StandardFeeSOL
	default:
		sol = p.WeakFeeSOL
	}
	// Validated at load time.
	lamports, _ := lamportsFromSOL(sol)
	return lamports
}

func lamportsFromSOL(sol string) (uint64, error) {
	d, err := decimal.NewFromString(sol)
	if err != nil {
		return 0, fmt.Errorf("priority fee %q: %w", sol, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("priority fee %q is negative", sol)
	}
	l := d.Mul(lamportsPerSOL)
	if !l.Equal(l.Truncate(0)) {
		return 0, fmt.Errorf("priority fee %q is finer than one lamport", sol)
	}
	return uint64(l.IntPart()), nil
}
