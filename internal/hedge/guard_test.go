package hedge

import (
	"testing"
	"time"

	"gamma-hedge-bot/internal/broker"
	"gamma-hedge-bot/internal/config"
)

func TestGuardCooldown(t *testing.T) {
	cfg := testCfg()
	now := rthNow
	g := guardAt(now)

	if ok, reason := g.AllowHedge(30, broker.Sell, 0.001, false, cfg); !ok {
		t.Fatalf("first hedge blocked: %s", reason)
	}
	g.RecordHedgeSent(30, broker.Sell, 100)

	g.now = func() time.Time { return now.Add(30 * time.Second) }
	if ok, reason := g.AllowHedge(30, broker.Sell, 0.001, false, cfg); ok || reason != ReasonCooldown {
		t.Fatalf("want cooldown, got ok=%v %q", ok, reason)
	}

	// Force hedges bypass the cooldown.
	if ok, reason := g.AllowHedge(30, broker.Sell, 0.001, true, cfg); !ok {
		t.Fatalf("force hedge must bypass cooldown: %s", reason)
	}

	g.now = func() time.Time { return now.Add(61 * time.Second) }
	if ok, reason := g.AllowHedge(30, broker.Sell, 0.001, false, cfg); !ok {
		t.Fatalf("after cooldown blocked: %s", reason)
	}
}

func TestGuardDailyCountLimit(t *testing.T) {
	cfg := testCfg()
	cfg.Risk.MaxDailyHedgeCount = 2
	cfg.Hedge.Cooldown = 0
	g := guardAt(rthNow)

	g.RecordHedgeSent(10, broker.Buy, 100)
	g.RecordHedgeSent(10, broker.Buy, 100)
	if ok, reason := g.AllowHedge(10, broker.Buy, 0.001, false, cfg); ok || reason != ReasonDailyHedgeLimit {
		t.Fatalf("want daily limit, got ok=%v %q", ok, reason)
	}
	// Force does not bypass the daily count.
	if ok, _ := g.AllowHedge(10, broker.Buy, 0.001, true, cfg); ok {
		t.Fatal("force must not bypass the daily count")
	}
}

func TestGuardPositionLimit(t *testing.T) {
	cfg := testCfg()
	cfg.Risk.MaxPositionShares = 100
	g := guardAt(rthNow)
	g.SetPosition(80)

	if ok, reason := g.AllowHedge(30, broker.Buy, 0.001, false, cfg); ok || reason != ReasonPositionLimit {
		t.Fatalf("want position limit, got ok=%v %q", ok, reason)
	}
	// Selling reduces exposure and passes.
	if ok, reason := g.AllowHedge(30, broker.Sell, 0.001, false, cfg); !ok {
		t.Fatalf("reducing trade blocked: %s", reason)
	}
}

func TestGuardSpreadLimit(t *testing.T) {
	cfg := testCfg()
	g := guardAt(rthNow)
	if ok, reason := g.AllowHedge(30, broker.Buy, 0.02, false, cfg); ok || reason != ReasonSpreadTooWide {
		t.Fatalf("want spread block, got ok=%v %q", ok, reason)
	}
}

func TestGuardTradingHours(t *testing.T) {
	cfg := testCfg()
	cfg.Risk.TradingHoursOnly = true

	night := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC) // 23:00 New York Monday
	g := guardAt(night)
	if ok, reason := g.AllowHedge(30, broker.Buy, 0.001, false, cfg); ok || reason != ReasonOutsideRTH {
		t.Fatalf("want outside_rth, got ok=%v %q", ok, reason)
	}

	g = guardAt(rthNow)
	if ok, reason := g.AllowHedge(30, broker.Buy, 0.001, false, cfg); !ok {
		t.Fatalf("mid-session blocked: %s", reason)
	}
}

func TestGuardEarningsBlackout(t *testing.T) {
	cfg := testCfg()
	cfg.Earnings = config.EarningsConfig{
		Dates:              []string{"2026-03-11"},
		BlackoutDaysBefore: 1,
		BlackoutDaysAfter:  1,
	}
	g := guardAt(rthNow) // March 10 New York, one day before
	if ok, reason := g.AllowHedge(30, broker.Buy, 0.001, false, cfg); ok || reason != ReasonEarningsWindow {
		t.Fatalf("want earnings blackout, got ok=%v %q", ok, reason)
	}

	g = guardAt(rthNow.AddDate(0, 0, -7))
	if ok, reason := g.AllowHedge(30, broker.Buy, 0.001, false, cfg); !ok {
		t.Fatalf("outside blackout blocked: %s", reason)
	}
}

func TestGuardCircuitBreaker(t *testing.T) {
	cfg := testCfg()
	g := guardAt(rthNow)

	if tripped := g.SetDailyPnL(-500, cfg); tripped {
		t.Fatal("breaker must not trip under the limit")
	}
	if tripped := g.SetDailyPnL(-1000, cfg); !tripped {
		t.Fatal("breaker must trip at the loss limit")
	}
	// Latches and blocks everything, force included.
	if ok, reason := g.AllowHedge(30, broker.Buy, 0.001, true, cfg); ok || reason != ReasonCircuitBreaker {
		t.Fatalf("want circuit_breaker, got ok=%v %q", ok, reason)
	}
	if tripped := g.SetDailyPnL(0, cfg); !tripped {
		t.Fatal("breaker must latch even when pnl recovers")
	}
}

func TestGuardDailyReset(t *testing.T) {
	cfg := testCfg()
	cfg.Hedge.Cooldown = 0
	now := rthNow
	g := guardAt(now)

	g.RecordHedgeSent(10, broker.Buy, 100)
	g.SetDailyPnL(-2000, cfg)
	if !g.CircuitBreakerTripped() {
		t.Fatal("breaker should be tripped")
	}

	g.now = func() time.Time { return now.AddDate(0, 0, 1) }
	if ok, reason := g.AllowHedge(10, broker.Buy, 0.001, false, cfg); !ok {
		t.Fatalf("new day must reset the breaker: %s", reason)
	}
	count, pnl, breaker, _, _ := g.Snapshot()
	if count != 0 || pnl != 0 || breaker {
		t.Fatalf("counters not reset: count=%d pnl=%v breaker=%v", count, pnl, breaker)
	}
}

func TestGuardRejectionDoesNotMutate(t *testing.T) {
	cfg := testCfg()
	g := guardAt(rthNow)
	g.AllowHedge(30, broker.Buy, 0.02, false, cfg) // spread rejection
	count, _, _, lastTS, _ := g.Snapshot()
	if count != 0 || !lastTS.IsZero() {
		t.Fatalf("rejection mutated state: count=%d lastTS=%v", count, lastTS)
	}
}

func TestGuardRestoreSameDayOnly(t *testing.T) {
	g := guardAt(rthNow)
	g.Restore("2026-03-10", 5, -100, rthNow.Add(-time.Hour), 99.5, false)
	count, pnl, _, _, _ := g.Snapshot()
	if count != 5 || pnl != -100 {
		t.Fatalf("same-day restore ignored: count=%d pnl=%v", count, pnl)
	}

	g2 := guardAt(rthNow)
	g2.Restore("2026-03-09", 5, -100, rthNow.Add(-25*time.Hour), 99.5, true)
	count, _, breaker, _, _ := g2.Snapshot()
	if count != 0 || breaker {
		t.Fatal("stale-day restore must be dropped")
	}
}
