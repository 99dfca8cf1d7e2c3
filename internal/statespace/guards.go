package statespace

import (
	"math"

	"gamma-hedge-bot/internal/config"
)

// GuardCounters is the slice of mutable execution-guard state the pure guard
// predicates are allowed to see. The owning guard copies it out per cycle.
type GuardCounters struct {
	DailyHedgeCount    int
	MaxDailyHedgeCount int
	HedgeRetries       int
	MaxHedgeRetries    int
}

// Guards bundles one cycle's guard evaluations for FSM transitions and logs.
type Guards struct {
	DataOK             bool
	DataStale          bool
	GreeksBad          bool
	BrokerDown         bool
	BrokerUp           bool
	HaveOptionPosition bool
	DeltaBandReady     bool
	InNoTradeBand      bool
	OutOfBand          bool
	CostOK             bool
	LiquidityOK        bool
	RetryAllowed       bool
	ExecFault          bool
	PositionsOK        bool
	StrategyEnabled    bool
}

// EvalGuards evaluates every predicate against one snapshot.
func EvalGuards(snap Snapshot, cfg *config.Config, counters GuardCounters) Guards {
	g := Guards{
		DataOK:             DataOK(snap, cfg.Classify.System),
		GreeksBad:          GreeksBad(snap),
		BrokerDown:         BrokerDown(snap),
		HaveOptionPosition: HaveOptionPosition(snap),
		DeltaBandReady:     DeltaBandReady(snap, cfg.Classify.Delta),
		InNoTradeBand:      InNoTradeBand(snap, cfg.Classify.Delta),
		CostOK:             CostOK(snap, cfg.Classify.Liquidity, cfg.Hedge.MinPriceMovePct),
		LiquidityOK:        LiquidityOK(snap, cfg.Risk.MaxSpreadPct),
		RetryAllowed:       RetryAllowed(counters),
		ExecFault:          ExecFault(snap),
		StrategyEnabled:    cfg.Structure.StrategyEnabled(),
	}
	g.DataStale = !g.DataOK
	g.BrokerUp = !g.BrokerDown
	g.OutOfBand = !g.InNoTradeBand
	g.PositionsOK = g.DataOK && snap.S != SystemRiskHalt
	return g
}

// DataOK: event lag within threshold, a quote exists, and spot is positive.
func DataOK(snap Snapshot, sys config.SystemThresholds) bool {
	if snap.HasLag && snap.EventLagMS > sys.DataLagThresholdMS {
		return false
	}
	if snap.L == LiquidityNoQuote {
		return false
	}
	return snap.HasSpot && snap.Spot > 0
}

func GreeksBad(snap Snapshot) bool {
	return !snap.GreeksUsable()
}

func BrokerDown(snap Snapshot) bool {
	return snap.E == ExecDisconnected || snap.E == ExecBrokerError
}

func HaveOptionPosition(snap Snapshot) bool {
	return snap.O == OptionLongGamma || snap.O == OptionShortGamma
}

// DeltaBandReady: greeks usable and band thresholds coherent.
func DeltaBandReady(snap Snapshot, d config.DeltaThresholds) bool {
	return snap.GreeksUsable() && d.ThresholdHedgeShares >= d.EpsilonBand
}

func InNoTradeBand(snap Snapshot, d config.DeltaThresholds) bool {
	return math.Abs(snap.NetDelta) <= d.EpsilonBand
}

// CostOK: spread below the extreme threshold and, when a prior hedge price
// exists, the underlying has moved at least minPriceMovePct percent since.
func CostOK(snap Snapshot, liq config.LiquidityThresholds, minPriceMovePct float64) bool {
	if snap.HasQuote && snap.SpreadPct >= liq.ExtremeSpreadPct {
		return false
	}
	if minPriceMovePct <= 0 {
		return true
	}
	if !snap.HasLastHedgePrice || snap.LastHedgePrice <= 0 || !snap.HasSpot {
		return true
	}
	movePct := 100 * math.Abs(snap.Spot-snap.LastHedgePrice) / snap.LastHedgePrice
	return movePct >= minPriceMovePct
}

// LiquidityOK: quote exists, spread not extreme, and within the optional
// risk-level spread cap.
func LiquidityOK(snap Snapshot, maxSpreadPct float64) bool {
	if snap.L == LiquidityNoQuote || snap.L == LiquidityExtremeWide {
		return false
	}
	if maxSpreadPct > 0 && snap.HasQuote && snap.SpreadPct > maxSpreadPct {
		return false
	}
	return true
}

func RetryAllowed(c GuardCounters) bool {
	if c.MaxHedgeRetries > 0 && c.HedgeRetries >= c.MaxHedgeRetries {
		return false
	}
	if c.MaxDailyHedgeCount > 0 && c.DailyHedgeCount >= c.MaxDailyHedgeCount {
		return false
	}
	return true
}

func ExecFault(snap Snapshot) bool {
	return snap.E == ExecDisconnected || snap.E == ExecBrokerError
}
