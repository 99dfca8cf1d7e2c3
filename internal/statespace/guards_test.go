package statespace

import (
	"testing"
	"time"

	"gamma-hedge-bot/internal/config"
)

func TestDataOK(t *testing.T) {
	sys := config.SystemThresholds{DataLagThresholdMS: 1500}
	snap := Snapshot{HasSpot: true, Spot: 100, L: LiquidityNormal, HasLag: true, EventLagMS: 100}
	if !DataOK(snap, sys) {
		t.Fatal("healthy snapshot must pass")
	}
	lagged := snap
	lagged.EventLagMS = 2000
	if DataOK(lagged, sys) {
		t.Fatal("lagged snapshot must fail")
	}
	noQuote := snap
	noQuote.L = LiquidityNoQuote
	if DataOK(noQuote, sys) {
		t.Fatal("missing quote must fail")
	}
}

func TestInNoTradeBand(t *testing.T) {
	d := config.DeltaThresholds{EpsilonBand: 5}
	if !InNoTradeBand(Snapshot{NetDelta: 5}, d) {
		t.Fatal("boundary value is still in band")
	}
	if InNoTradeBand(Snapshot{NetDelta: -5.01}, d) {
		t.Fatal("outside epsilon must be out of band")
	}
}

func TestCostOK(t *testing.T) {
	liq := config.LiquidityThresholds{ExtremeSpreadPct: 0.01}

	base := Snapshot{
		HasQuote: true, SpreadPct: 0.001,
		HasSpot: true, Spot: 101,
		HasLastHedgePrice: true, LastHedgePrice: 100,
		LastHedgeTS: time.Now(),
	}
	// 1% move against a 0.5% requirement.
	if !CostOK(base, liq, 0.5) {
		t.Fatal("sufficient move must pass")
	}
	tiny := base
	tiny.Spot = 100.1
	if CostOK(tiny, liq, 0.5) {
		t.Fatal("0.1% move against 0.5% requirement must fail")
	}
	// No prior hedge: gate is permissive.
	fresh := base
	fresh.HasLastHedgePrice = false
	fresh.Spot = 100.0001
	if !CostOK(fresh, liq, 0.5) {
		t.Fatal("first hedge must not be cost gated")
	}
	wide := base
	wide.SpreadPct = 0.02
	if CostOK(wide, liq, 0.5) {
		t.Fatal("extreme spread must fail the cost gate")
	}
}

func TestLiquidityOK(t *testing.T) {
	if LiquidityOK(Snapshot{L: LiquidityNoQuote}, 0) {
		t.Fatal("no quote must fail")
	}
	if LiquidityOK(Snapshot{L: LiquidityExtremeWide}, 0) {
		t.Fatal("extreme spread must fail")
	}
	if !LiquidityOK(Snapshot{L: LiquidityWide, HasQuote: true, SpreadPct: 0.004}, 0) {
		t.Fatal("wide without cap must pass")
	}
	if LiquidityOK(Snapshot{L: LiquidityWide, HasQuote: true, SpreadPct: 0.004}, 0.003) {
		t.Fatal("risk-level spread cap must apply")
	}
}

func TestRetryAllowed(t *testing.T) {
	if !RetryAllowed(GuardCounters{HedgeRetries: 1, MaxHedgeRetries: 3}) {
		t.Fatal("under the limit must pass")
	}
	if RetryAllowed(GuardCounters{HedgeRetries: 3, MaxHedgeRetries: 3}) {
		t.Fatal("at the retry limit must fail")
	}
	if RetryAllowed(GuardCounters{DailyHedgeCount: 10, MaxDailyHedgeCount: 10}) {
		t.Fatal("at the daily limit must fail")
	}
}

func TestEvalGuardsDerivedFields(t *testing.T) {
	cfg := &config.Config{
		Classify: testClassifyCfg(),
	}
	snap := Snapshot{
		O: OptionLongGamma, D: DeltaHedgeNeeded, M: MarketNormal,
		L: LiquidityNormal, E: ExecDisconnected, S: SystemOK,
		NetDelta: 30, HasSpot: true, Spot: 100,
		Greeks: GreeksSnapshot{Delta: 30, Gamma: 0.5, Valid: true}, HasGreeks: true,
	}
	g := EvalGuards(snap, cfg, GuardCounters{})
	if !g.BrokerDown || g.BrokerUp {
		t.Fatal("disconnected E must read as broker down")
	}
	if !g.ExecFault {
		t.Fatal("disconnected E must read as exec fault")
	}
	if !g.OutOfBand || g.InNoTradeBand {
		t.Fatal("net delta 30 with epsilon 5 is out of band")
	}
	if !g.HaveOptionPosition {
		t.Fatal("long gamma must count as having a position")
	}
}
