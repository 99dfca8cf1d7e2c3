// Package statespace classifies raw market, position, and execution inputs
// into the six discrete dimensions (O, D, M, L, E, S) that drive the trading
// state machine, and provides the pure guard predicates evaluated over them.
package statespace

// OptionPositionState (O): gamma sign of the qualifying option structure.
type OptionPositionState string

const (
	OptionNone       OptionPositionState = "NONE"
	OptionLongGamma  OptionPositionState = "LONG_GAMMA"
	OptionShortGamma OptionPositionState = "SHORT_GAMMA"
)

// DeltaDeviationState (D): |net delta| against the configured bands.
// Severity is totally ordered: IN_BAND < MINOR < HEDGE_NEEDED < FORCE_HEDGE.
// INVALID sits outside the ordering and wins whenever greeks are unusable.
type DeltaDeviationState string

const (
	DeltaInBand      DeltaDeviationState = "IN_BAND"
	DeltaMinor       DeltaDeviationState = "MINOR"
	DeltaHedgeNeeded DeltaDeviationState = "HEDGE_NEEDED"
	DeltaForceHedge  DeltaDeviationState = "FORCE_HEDGE"
	DeltaInvalid     DeltaDeviationState = "INVALID"
)

// Severity rank for monotonicity checks; INVALID reports -1.
func (d DeltaDeviationState) Severity() int {
	switch d {
	case DeltaInBand:
		return 0
	case DeltaMinor:
		return 1
	case DeltaHedgeNeeded:
		return 2
	case DeltaForceHedge:
		return 3
	default:
		return -1
	}
}

// MarketRegimeState (M): coarse regime from data age and price history.
type MarketRegimeState string

const (
	MarketQuiet         MarketRegimeState = "QUIET"
	MarketNormal        MarketRegimeState = "NORMAL"
	MarketTrend         MarketRegimeState = "TREND"
	MarketChoppyHighVol MarketRegimeState = "CHOPPY_HIGHVOL"
	MarketGap           MarketRegimeState = "GAP"
	MarketStale         MarketRegimeState = "STALE"
)

// LiquidityState (L): spread quality of the underlying quote.
type LiquidityState string

const (
	LiquidityNormal      LiquidityState = "NORMAL"
	LiquidityWide        LiquidityState = "WIDE"
	LiquidityExtremeWide LiquidityState = "EXTREME_WIDE"
	LiquidityNoQuote     LiquidityState = "NO_QUOTE"
)

// ExecutionState (E): order/execution layer condition, derived from the
// hedge FSM, never computed independently.
type ExecutionState string

const (
	ExecIdle         ExecutionState = "IDLE"
	ExecOrderWorking ExecutionState = "ORDER_WORKING"
	ExecPartialFill  ExecutionState = "PARTIAL_FILL"
	ExecDisconnected ExecutionState = "DISCONNECTED"
	ExecBrokerError  ExecutionState = "BROKER_ERROR"
)

// SystemHealthState (S): greeks validity, event lag, circuit breaker.
// Precedence when several apply: RISK_HALT > GREEKS_BAD > DATA_LAG > OK.
type SystemHealthState string

const (
	SystemOK        SystemHealthState = "OK"
	SystemGreeksBad SystemHealthState = "GREEKS_BAD"
	SystemDataLag   SystemHealthState = "DATA_LAG"
	SystemRiskHalt  SystemHealthState = "RISK_HALT"
)
