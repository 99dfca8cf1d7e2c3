package fsm

import (
	"sync"

	"gamma-hedge-bot/internal/statespace"
)

// TradingState is the macro strategy state.
type TradingState string

const (
	TradingBoot      TradingState = "BOOT"
	TradingSync      TradingState = "SYNC"
	TradingIdle      TradingState = "IDLE"
	TradingArmed     TradingState = "ARMED"
	TradingMonitor   TradingState = "MONITOR"
	TradingNoTrade   TradingState = "NO_TRADE"
	TradingPauseCost TradingState = "PAUSE_COST"
	TradingPauseLiq  TradingState = "PAUSE_LIQ"
	TradingNeedHedge TradingState = "NEED_HEDGE"
	TradingHedging   TradingState = "HEDGING"
	TradingSafe      TradingState = "SAFE"
)

// TradingFSM owns the macro trading state. Transitions are computed by a pure
// function over (state, event, guards); an event with no matching arc leaves
// the state unchanged. The global SAFE override is evaluated before any
// per-state arc so a broker or data fault wins from anywhere.
type TradingFSM struct {
	mu    sync.Mutex
	state TradingState
}

func NewTradingFSM() *TradingFSM {
	return &TradingFSM{state: TradingBoot}
}

func (f *TradingFSM) State() TradingState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Apply feeds one event plus the current guard evaluation into the machine.
// It returns the resulting state and whether a transition happened.
func (f *TradingFSM) Apply(ev TradingEvent, g statespace.Guards) (TradingState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	next := nextTradingState(f.state, ev, g)
	changed := next != f.state
	f.state = next
	return next, changed
}

// Reset forces the machine back to BOOT. Used only on full daemon restart.
func (f *TradingFSM) Reset() {
	f.mu.Lock()
	f.state = TradingBoot
	f.mu.Unlock()
}

func nextTradingState(s TradingState, ev TradingEvent, g statespace.Guards) TradingState {
	// Global fault override. Highest priority, reachable from every state
	// except BOOT (nothing is running yet) and SAFE itself.
	if s != TradingBoot && s != TradingSafe {
		if g.BrokerDown || g.DataStale || g.GreeksBad || g.ExecFault {
			return TradingSafe
		}
	}

	switch s {
	case TradingBoot:
		if ev == EventStart {
			return TradingSync
		}
	case TradingSync:
		if ev == EventSynced || ev == EventTick {
			if !g.DataOK || g.BrokerDown {
				return TradingSafe
			}
			if g.PositionsOK && g.DataOK {
				return TradingIdle
			}
		}
	case TradingIdle:
		if isEvalEvent(ev) && g.HaveOptionPosition && g.StrategyEnabled {
			return TradingArmed
		}
	case TradingArmed:
		if isEvalEvent(ev) {
			if !g.HaveOptionPosition {
				return TradingIdle
			}
			if g.DeltaBandReady {
				return TradingMonitor
			}
		}
	case TradingMonitor, TradingNoTrade, TradingPauseCost, TradingPauseLiq:
		if isEvalEvent(ev) {
			if !g.HaveOptionPosition {
				return TradingIdle
			}
			return evalHedgeBranch(g)
		}
	case TradingNeedHedge:
		if ev == EventTargetEmitted {
			return TradingHedging
		}
		if isEvalEvent(ev) {
			// Re-evaluate; the deviation may have resolved before an
			// intent was ever emitted.
			return evalHedgeBranch(g)
		}
	case TradingHedging:
		switch ev {
		case EventHedgeDone:
			return TradingMonitor
		case EventHedgeFailed:
			if g.RetryAllowed {
				return TradingNeedHedge
			}
			return TradingSafe
		}
	case TradingSafe:
		switch ev {
		case EventManualResume:
			if g.BrokerUp && g.DataOK {
				return TradingSync
			}
		case EventBrokerUp:
			if g.DataOK {
				return TradingSync
			}
		}
	}
	return s
}

// evalHedgeBranch implements the MONITOR-family branch. The no-trade band
// check always runs first so a flat delta never reaches the cost or
// liquidity pauses.
func evalHedgeBranch(g statespace.Guards) TradingState {
	if g.InNoTradeBand {
		return TradingNoTrade
	}
	if g.CostOK && g.LiquidityOK {
		return TradingNeedHedge
	}
	if !g.CostOK {
		return TradingPauseCost
	}
	return TradingPauseLiq
}

func isEvalEvent(ev TradingEvent) bool {
	return ev == EventTick || ev == EventQuote || ev == EventGreeksUpdate
}
