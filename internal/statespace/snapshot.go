package statespace

import (
	"math"
	"time"
)

// GreeksSnapshot is the portfolio greeks view delivered by the broker port.
type GreeksSnapshot struct {
	Delta float64
	Gamma float64
	Theta float64
	Vega  float64
	Valid bool
}

func (g GreeksSnapshot) IsFinite() bool {
	for _, v := range []float64{g.Delta, g.Gamma, g.Theta, g.Vega} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Usable is true when the greeks can back a hedging decision: flagged valid,
// finite, and not absurdly large (share-equivalent deltas beyond 1e6 mean a
// broken feed, not a real position).
func (g GreeksSnapshot) Usable() bool {
	return g.Valid && g.IsFinite() && math.Abs(g.Delta) <= 1e6 && math.Abs(g.Gamma) <= 1e6
}

// Snapshot is the immutable world state for one evaluation cycle: the six
// classified dimensions plus the raw numbers the guards need. All six
// dimensions are derived from the same set of inputs; callers must never mix
// fields from different cycles.
type Snapshot struct {
	O OptionPositionState
	D DeltaDeviationState
	M MarketRegimeState
	L LiquidityState
	E ExecutionState
	S SystemHealthState

	NetDelta    float64
	OptionDelta float64
	StockPos    int

	Spot      float64
	Bid       float64
	Ask       float64
	SpreadPct float64
	HasQuote  bool
	HasSpot   bool

	EventLagMS float64
	HasLag     bool

	Greeks    GreeksSnapshot
	HasGreeks bool

	OptionLegsCount int

	LastHedgePrice    float64
	LastHedgeTS       time.Time
	HasLastHedgePrice bool

	TS time.Time
}

// GreeksUsable reports whether this snapshot carries greeks fit for hedging.
func (s Snapshot) GreeksUsable() bool {
	return s.HasGreeks && s.Greeks.Usable()
}

// DefaultSnapshot is the conservative boot-time state: no position, no quote,
// execution idle, health OK.
func DefaultSnapshot(now time.Time) Snapshot {
	return Snapshot{
		O:  OptionNone,
		D:  DeltaInBand,
		M:  MarketNormal,
		L:  LiquidityNoQuote,
		E:  ExecIdle,
		S:  SystemOK,
		TS: now,
	}
}
