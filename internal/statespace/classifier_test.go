package statespace

import (
	"math"
	"testing"
	"time"

	"gamma-hedge-bot/internal/config"
)

func testClassifyCfg() config.ClassifyConfig {
	return config.ClassifyConfig{
		Delta: config.DeltaThresholds{
			EpsilonBand:          5,
			ThresholdHedgeShares: 20,
			MaxDeltaLimit:        100,
		},
		Market: config.MarketThresholds{
			StaleTSThresholdMS: 5000,
			VolWindow:          20,
		},
		Liquidity: config.LiquidityThresholds{
			WideSpreadPct:    0.002,
			ExtremeSpreadPct: 0.01,
		},
		System: config.SystemThresholds{DataLagThresholdMS: 1500},
	}
}

func goodInputs(now time.Time) Inputs {
	return Inputs{
		Greeks:          GreeksSnapshot{Delta: 30, Gamma: 0.5, Valid: true},
		HasGreeks:       true,
		OptionLegsCount: 2,
		Bid:             100.0,
		Ask:             100.1,
		HasQuote:        true,
		QuoteAgeMS:      50,
		HasAge:          true,
		EventLagMS:      80,
		HasLag:          true,
		ExecState:       ExecIdle,
		Now:             now,
	}
}

func TestClassifyBasicHedgeNeeded(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	snap, err := Classify(goodInputs(now), testClassifyCfg())
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if snap.O != OptionLongGamma {
		t.Fatalf("O: got %s", snap.O)
	}
	if snap.D != DeltaHedgeNeeded {
		t.Fatalf("D: got %s want HEDGE_NEEDED", snap.D)
	}
	if snap.L != LiquidityNormal {
		t.Fatalf("L: got %s", snap.L)
	}
	if snap.S != SystemOK {
		t.Fatalf("S: got %s", snap.S)
	}
	if !snap.HasSpot || math.Abs(snap.Spot-100.05) > 1e-9 {
		t.Fatalf("spot: got %v", snap.Spot)
	}
}

func TestClassifyDeterministic(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	in := goodInputs(now)
	cfg := testClassifyCfg()
	first, err := Classify(in, cfg)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := Classify(in, cfg)
		if err != nil {
			t.Fatalf("classify #%d: %v", i, err)
		}
		if again != first {
			t.Fatalf("run %d diverged: %+v vs %+v", i, again, first)
		}
	}
}

func TestClassifyDeltaBoundaries(t *testing.T) {
	cfg := testClassifyCfg()
	cases := []struct {
		delta float64
		want  DeltaDeviationState
	}{
		{0, DeltaInBand},
		{5, DeltaInBand}, // <= epsilon stays in band
		{5.001, DeltaMinor},
		{19.999, DeltaMinor},
		{20, DeltaHedgeNeeded}, // >= threshold escalates
		{99.999, DeltaHedgeNeeded},
		{100, DeltaForceHedge},
		{-100, DeltaForceHedge},
		{-20, DeltaHedgeNeeded},
		{-5, DeltaInBand},
	}
	for _, c := range cases {
		in := goodInputs(time.Now())
		in.Greeks.Delta = c.delta
		snap, err := Classify(in, cfg)
		if err != nil {
			t.Fatalf("delta %v: %v", c.delta, err)
		}
		if snap.D != c.want {
			t.Fatalf("delta %v: got %s want %s", c.delta, snap.D, c.want)
		}
	}
}

// Severity must never decrease as |net_delta| grows.
func TestClassifyDeltaMonotonic(t *testing.T) {
	cfg := testClassifyCfg()
	prev := -2
	for d := 0.0; d <= 150; d += 0.5 {
		in := goodInputs(time.Now())
		in.Greeks.Delta = d
		snap, err := Classify(in, cfg)
		if err != nil {
			t.Fatalf("delta %v: %v", d, err)
		}
		sev := snap.D.Severity()
		if sev < prev {
			t.Fatalf("severity regressed at delta=%v: %d < %d", d, sev, prev)
		}
		prev = sev
	}
}

func TestClassifyInvalidGreeks(t *testing.T) {
	cfg := testClassifyCfg()
	bad := []GreeksSnapshot{
		{Delta: math.NaN(), Gamma: 0.5, Valid: true},
		{Delta: 30, Gamma: math.Inf(1), Valid: true},
		{Delta: 30, Gamma: 0.5, Valid: false},
	}
	for i, g := range bad {
		in := goodInputs(time.Now())
		in.Greeks = g
		snap, err := Classify(in, cfg)
		if err != nil {
			t.Fatalf("case %d: %v", i, err)
		}
		if snap.D != DeltaInvalid {
			t.Fatalf("case %d: D got %s want INVALID", i, snap.D)
		}
		if snap.S != SystemGreeksBad {
			t.Fatalf("case %d: S got %s want GREEKS_BAD", i, snap.S)
		}
	}
}

func TestClassifyMalformedQuote(t *testing.T) {
	in := goodInputs(time.Now())
	in.Bid = math.NaN()
	if _, err := Classify(in, testClassifyCfg()); err == nil {
		t.Fatal("NaN bid must fail classification")
	}
	in = goodInputs(time.Now())
	in.Ask = -1
	if _, err := Classify(in, testClassifyCfg()); err == nil {
		t.Fatal("negative ask must fail classification")
	}
}

func TestClassifyStaleQuote(t *testing.T) {
	in := goodInputs(time.Now())
	in.QuoteAgeMS = 6000
	snap, err := Classify(in, testClassifyCfg())
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if snap.M != MarketStale {
		t.Fatalf("M: got %s want STALE", snap.M)
	}
}

func TestClassifyDataLag(t *testing.T) {
	in := goodInputs(time.Now())
	in.EventLagMS = 2000
	snap, err := Classify(in, testClassifyCfg())
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if snap.S != SystemDataLag {
		t.Fatalf("S: got %s want DATA_LAG", snap.S)
	}
}

func TestClassifySystemPrecedence(t *testing.T) {
	// Everything bad at once: RISK_HALT wins.
	in := goodInputs(time.Now())
	in.RiskHalt = true
	in.Greeks.Valid = false
	in.EventLagMS = 9000
	snap, err := Classify(in, testClassifyCfg())
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if snap.S != SystemRiskHalt {
		t.Fatalf("S: got %s want RISK_HALT", snap.S)
	}
}

func TestClassifyLiquidityBands(t *testing.T) {
	cfg := testClassifyCfg()
	cases := []struct {
		bid, ask float64
		want     LiquidityState
	}{
		{100.0, 100.1, LiquidityNormal},
		{100.0, 100.5, LiquidityWide},
		{100.0, 102.0, LiquidityExtremeWide},
	}
	for _, c := range cases {
		in := goodInputs(time.Now())
		in.Bid, in.Ask = c.bid, c.ask
		snap, err := Classify(in, cfg)
		if err != nil {
			t.Fatalf("quote %v/%v: %v", c.bid, c.ask, err)
		}
		if snap.L != c.want {
			t.Fatalf("quote %v/%v: got %s want %s", c.bid, c.ask, snap.L, c.want)
		}
	}

	in := goodInputs(time.Now())
	in.HasQuote = false
	snap, err := Classify(in, cfg)
	if err != nil {
		t.Fatalf("no quote: %v", err)
	}
	if snap.L != LiquidityNoQuote {
		t.Fatalf("no quote: got %s", snap.L)
	}
}

func TestClassifyNoPosition(t *testing.T) {
	in := goodInputs(time.Now())
	in.OptionLegsCount = 0
	snap, err := Classify(in, testClassifyCfg())
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if snap.O != OptionNone {
		t.Fatalf("O: got %s want NONE", snap.O)
	}
}

func TestClassifyShortGamma(t *testing.T) {
	in := goodInputs(time.Now())
	in.Greeks.Gamma = -0.4
	snap, err := Classify(in, testClassifyCfg())
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if snap.O != OptionShortGamma {
		t.Fatalf("O: got %s want SHORT_GAMMA", snap.O)
	}
}
