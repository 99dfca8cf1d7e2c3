package fsm

import (
	"testing"

	"gamma-hedge-bot/internal/statespace"
)

func healthyGuards() statespace.Guards {
	return statespace.Guards{
		DataOK:             true,
		BrokerUp:           true,
		PositionsOK:        true,
		HaveOptionPosition: true,
		StrategyEnabled:    true,
		DeltaBandReady:     true,
		CostOK:             true,
		LiquidityOK:        true,
		RetryAllowed:       true,
	}
}

func TestTradingHappyPathToMonitor(t *testing.T) {
	f := NewTradingFSM()
	g := healthyGuards()

	steps := []struct {
		ev   TradingEvent
		want TradingState
	}{
		{EventStart, TradingSync},
		{EventSynced, TradingIdle},
		{EventTick, TradingArmed},
		{EventTick, TradingMonitor},
	}
	for _, s := range steps {
		got, _ := f.Apply(s.ev, g)
		if got != s.want {
			t.Fatalf("after %s: got %s want %s", s.ev, got, s.want)
		}
	}
}

func TestTradingNoTradeBandPrecedence(t *testing.T) {
	f := &TradingFSM{state: TradingMonitor}
	g := healthyGuards()
	g.InNoTradeBand = true
	g.CostOK = false
	g.LiquidityOK = false

	got, _ := f.Apply(EventTick, g)
	if got != TradingNoTrade {
		t.Fatalf("in-band must win over pauses, got %s", got)
	}
}

func TestTradingPauseBranches(t *testing.T) {
	cases := []struct {
		name          string
		costOK, liqOK bool
		want          TradingState
	}{
		{"both ok", true, true, TradingNeedHedge},
		{"cost bad", false, true, TradingPauseCost},
		{"liq bad", true, false, TradingPauseLiq},
		{"both bad", false, false, TradingPauseCost},
	}
	for _, c := range cases {
		f := &TradingFSM{state: TradingMonitor}
		g := healthyGuards()
		g.CostOK = c.costOK
		g.LiquidityOK = c.liqOK
		got, _ := f.Apply(EventTick, g)
		if got != c.want {
			t.Fatalf("%s: got %s want %s", c.name, got, c.want)
		}
	}
}

func TestTradingHedgeCycle(t *testing.T) {
	f := &TradingFSM{state: TradingNeedHedge}
	g := healthyGuards()

	if got, _ := f.Apply(EventTargetEmitted, g); got != TradingHedging {
		t.Fatalf("target_emitted: got %s", got)
	}
	if got, _ := f.Apply(EventHedgeDone, g); got != TradingMonitor {
		t.Fatalf("hedge_done: got %s", got)
	}
}

func TestTradingHedgeFailedRetryExhausted(t *testing.T) {
	g := healthyGuards()

	f := &TradingFSM{state: TradingHedging}
	if got, _ := f.Apply(EventHedgeFailed, g); got != TradingNeedHedge {
		t.Fatalf("retry allowed: got %s", got)
	}

	g.RetryAllowed = false
	f = &TradingFSM{state: TradingHedging}
	if got, _ := f.Apply(EventHedgeFailed, g); got != TradingSafe {
		t.Fatalf("retry exhausted: got %s", got)
	}
}

func TestTradingGlobalSafeOverride(t *testing.T) {
	states := []TradingState{
		TradingSync, TradingIdle, TradingArmed, TradingMonitor,
		TradingNoTrade, TradingPauseCost, TradingPauseLiq,
		TradingNeedHedge, TradingHedging,
	}
	for _, s := range states {
		f := &TradingFSM{state: s}
		g := healthyGuards()
		g.BrokerDown = true
		g.BrokerUp = false
		if got, _ := f.Apply(EventTick, g); got != TradingSafe {
			t.Fatalf("broker down from %s: got %s", s, got)
		}
	}
}

func TestTradingSafeRecovery(t *testing.T) {
	g := healthyGuards()

	f := &TradingFSM{state: TradingSafe}
	if got, _ := f.Apply(EventManualResume, g); got != TradingSync {
		t.Fatalf("manual_resume healthy: got %s", got)
	}

	bad := g
	bad.DataOK = false
	f = &TradingFSM{state: TradingSafe}
	if got, changed := f.Apply(EventManualResume, bad); changed || got != TradingSafe {
		t.Fatalf("manual_resume with stale data must stay SAFE, got %s", got)
	}

	f = &TradingFSM{state: TradingSafe}
	if got, _ := f.Apply(EventBrokerUp, g); got != TradingSync {
		t.Fatalf("broker_up auto recovery: got %s", got)
	}
}

func TestTradingUnmatchedEventIsNoop(t *testing.T) {
	f := &TradingFSM{state: TradingIdle}
	g := healthyGuards()
	got, changed := f.Apply(EventHedgeDone, g)
	if changed || got != TradingIdle {
		t.Fatalf("unmatched event must be a no-op, got %s changed=%v", got, changed)
	}
}

func TestTradingPositionGoneFallsBackToIdle(t *testing.T) {
	f := &TradingFSM{state: TradingMonitor}
	g := healthyGuards()
	g.HaveOptionPosition = false
	if got, _ := f.Apply(EventTick, g); got != TradingIdle {
		t.Fatalf("position gone: got %s", got)
	}
}
