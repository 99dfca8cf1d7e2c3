package hedge

import (
	"math"

	"gamma-hedge-bot/internal/config"
	"gamma-hedge-bot/internal/statespace"
)

// Gate rejection reasons. These are recorded on the status snapshot and in
// operation records; they are never errors.
const (
	ReasonNoPosition     = "no_option_position"
	ReasonDeltaInBand    = "delta_in_band"
	ReasonLiquidity      = "liquidity_unsafe"
	ReasonExecBusy       = "execution_busy"
	ReasonSystemUnsafe   = "system_unsafe"
	ReasonBelowMinShares = "below_min_hedge_shares"
	ReasonCostGate       = "cost_gate"
)

// ShouldOutputTarget is the safe-mode boundary: a hedge target may only be
// emitted when every dimension is in a tradeable state. Any extreme spread,
// system degradation, or execution fault blocks output no matter how large
// the deviation is.
func ShouldOutputTarget(cs statespace.Snapshot) bool {
	return (cs.O == statespace.OptionLongGamma || cs.O == statespace.OptionShortGamma) &&
		(cs.D == statespace.DeltaHedgeNeeded || cs.D == statespace.DeltaForceHedge) &&
		(cs.L == statespace.LiquidityNormal || cs.L == statespace.LiquidityWide) &&
		cs.E == statespace.ExecIdle &&
		cs.S == statespace.SystemOK
}

// BlockReason names the dimension that fails ShouldOutputTarget, for
// observability. Returns "" when no hedge is wanted or output is allowed.
func BlockReason(cs statespace.Snapshot) string {
	if cs.D != statespace.DeltaHedgeNeeded && cs.D != statespace.DeltaForceHedge {
		return ""
	}
	switch {
	case cs.O != statespace.OptionLongGamma && cs.O != statespace.OptionShortGamma:
		return ReasonNoPosition
	case cs.L != statespace.LiquidityNormal && cs.L != statespace.LiquidityWide:
		return ReasonLiquidity
	case cs.E != statespace.ExecIdle:
		return ReasonExecBusy
	case cs.S != statespace.SystemOK:
		return ReasonSystemUnsafe
	}
	return ""
}

// ApplyGates runs an intent through sizing floors, the cost gate, and the
// execution guard. It returns the approved intent, or nil plus the reason it
// was blocked. Rejections are ordinary control flow.
func ApplyGates(intent *Intent, cs statespace.Snapshot, guard *ExecutionGuard, cfg *config.Config) (*Intent, string) {
	if intent == nil || intent.Quantity < cfg.Hedge.MinHedgeShares {
		return nil, ReasonBelowMinShares
	}
	if cfg.Hedge.MaxHedgeSharesPerOrder > 0 && intent.Quantity > cfg.Hedge.MaxHedgeSharesPerOrder {
		capped := *intent
		capped.Quantity = cfg.Hedge.MaxHedgeSharesPerOrder
		intent = &capped
	}
	// Cost gate: require the underlying to have moved since the last hedge.
	// FORCE_HEDGE bypasses it; a runaway delta is hedged regardless of cost.
	if !intent.Force && !costGateOK(cs, cfg.Hedge.MinPriceMovePct) {
		return nil, ReasonCostGate
	}
	ok, reason := guard.AllowHedge(intent.Quantity, intent.Side, cs.SpreadPct, intent.Force, cfg)
	if !ok {
		return nil, reason
	}
	return intent, ""
}

func costGateOK(cs statespace.Snapshot, minPriceMovePct float64) bool {
	if minPriceMovePct <= 0 {
		return true
	}
	if !cs.HasLastHedgePrice || cs.LastHedgePrice <= 0 || !cs.HasSpot {
		return true
	}
	movePct := 100 * math.Abs(cs.Spot-cs.LastHedgePrice) / cs.LastHedgePrice
	return movePct >= minPriceMovePct
}
