package positions

import (
	"testing"
	"time"

	"gamma-hedge-bot/internal/broker"
	"gamma-hedge-bot/internal/config"
)

func structureCfg() config.StructureConfig {
	return config.StructureConfig{
		Symbol:     "SPY",
		MinDTE:     7,
		MaxDTE:     60,
		ATMBandPct: 0.05,
	}
}

func TestBuildSelectsStructure(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	raw := []broker.Position{
		{Symbol: "SPY", SecType: "STK", Quantity: -40},
		{Symbol: "SPY", SecType: "OPT", Right: "C", Strike: 500, Expiry: now.AddDate(0, 0, 30), Quantity: 2},
		{Symbol: "SPY", SecType: "OPT", Right: "P", Strike: 495, Expiry: now.AddDate(0, 0, 30), Quantity: 2},
		// Too close to expiry.
		{Symbol: "SPY", SecType: "OPT", Right: "C", Strike: 500, Expiry: now.AddDate(0, 0, 3), Quantity: 1},
		// Too far from the money at spot 500 with a 5% band.
		{Symbol: "SPY", SecType: "OPT", Right: "C", Strike: 600, Expiry: now.AddDate(0, 0, 30), Quantity: 1},
		// Different symbol entirely.
		{Symbol: "QQQ", SecType: "OPT", Right: "C", Strike: 430, Expiry: now.AddDate(0, 0, 30), Quantity: 1},
		// Closed leg.
		{Symbol: "SPY", SecType: "OPT", Right: "P", Strike: 500, Expiry: now.AddDate(0, 0, 30), Quantity: 0},
	}

	p := Build(raw, structureCfg(), 500, now)
	if p.StockShares != -40 {
		t.Fatalf("stock: got %d", p.StockShares)
	}
	if len(p.OptionLegs) != 2 {
		t.Fatalf("legs: got %d want 2", len(p.OptionLegs))
	}
	if p.Excluded != 2 {
		t.Fatalf("excluded: got %d want 2", p.Excluded)
	}
}

func TestBuildNoSpotSkipsATMFilter(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	raw := []broker.Position{
		{Symbol: "SPY", SecType: "OPT", Right: "C", Strike: 600, Expiry: now.AddDate(0, 0, 30), Quantity: 1},
	}
	p := Build(raw, structureCfg(), 0, now)
	if len(p.OptionLegs) != 1 {
		t.Fatalf("without spot the ATM filter must not apply, got %d legs", len(p.OptionLegs))
	}
}
