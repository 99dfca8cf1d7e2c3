package hedge

import (
	"fmt"
	"sync"
	"time"

	"gamma-hedge-bot/internal/broker"
	"gamma-hedge-bot/internal/config"
)

// Guard rejection reasons.
const (
	ReasonCircuitBreaker  = "circuit_breaker"
	ReasonCooldown        = "cooldown"
	ReasonDailyHedgeLimit = "max_daily_hedge_count"
	ReasonPositionLimit   = "max_position"
	ReasonSpreadTooWide   = "spread_too_wide"
	ReasonOutsideRTH      = "outside_rth"
	ReasonEarningsWindow  = "earnings_blackout"
)

// ExecutionGuard is the stateful risk gate in front of order submission. It
// is mutated only by the control loop, synchronously with gate evaluation;
// the mutex exists for the status sink's read path.
type ExecutionGuard struct {
	mu sync.Mutex

	dailyHedgeCount int
	dailyPnL        float64
	position        int
	lastHedgeTS     time.Time
	lastHedgePrice  float64
	breakerTripped  bool
	day             string // YYYY-MM-DD of the counters above

	loc *time.Location
	now func() time.Time
}

func NewExecutionGuard() *ExecutionGuard {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	return &ExecutionGuard{loc: loc, now: time.Now}
}

// AllowHedge runs the risk checks in order and returns the first failing
// reason. It never mutates state; approval side effects happen in
// RecordHedgeSent once the order is actually sent.
func (g *ExecutionGuard) AllowHedge(qty int, side broker.Side, spreadPct float64, force bool, cfg *config.Config) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	g.rollDayLocked(now)

	// The breaker blocks everything once tripped, force hedges included.
	if g.breakerTripped {
		return false, ReasonCircuitBreaker
	}
	if !force && cfg.Hedge.Cooldown > 0 && !g.lastHedgeTS.IsZero() {
		if now.Sub(g.lastHedgeTS) < cfg.Hedge.Cooldown {
			return false, ReasonCooldown
		}
	}
	if cfg.Risk.MaxDailyHedgeCount > 0 && g.dailyHedgeCount >= cfg.Risk.MaxDailyHedgeCount {
		return false, ReasonDailyHedgeLimit
	}
	if cfg.Risk.MaxPositionShares > 0 {
		next := g.position
		if side == broker.Buy {
			next += qty
		} else {
			next -= qty
		}
		if abs(next) > cfg.Risk.MaxPositionShares {
			return false, ReasonPositionLimit
		}
	}
	if cfg.Risk.MaxSpreadPct > 0 && spreadPct > cfg.Risk.MaxSpreadPct {
		return false, ReasonSpreadTooWide
	}
	if cfg.Risk.TradingHoursOnly && !g.inRTHLocked(now) {
		return false, ReasonOutsideRTH
	}
	if inEarningsBlackout(now.In(g.loc), cfg.Earnings) {
		return false, ReasonEarningsWindow
	}
	return true, ""
}

// RecordHedgeSent updates the mutable counters after an order went out.
func (g *ExecutionGuard) RecordHedgeSent(qty int, side broker.Side, price float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	g.rollDayLocked(now)
	g.dailyHedgeCount++
	g.lastHedgeTS = now
	g.lastHedgePrice = price
	if side == broker.Buy {
		g.position += qty
	} else {
		g.position -= qty
	}
}

// SetPosition resyncs the guard's position view from the broker.
func (g *ExecutionGuard) SetPosition(shares int) {
	g.mu.Lock()
	g.position = shares
	g.mu.Unlock()
}

// SetDailyPnL records the running daily P&L and trips the circuit breaker
// when the loss reaches the configured limit. The breaker latches for the
// rest of the day.
func (g *ExecutionGuard) SetDailyPnL(pnl float64, cfg *config.Config) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollDayLocked(g.now())
	g.dailyPnL = pnl
	if cfg.Risk.MaxDailyLossUSD > 0 && pnl <= -cfg.Risk.MaxDailyLossUSD {
		g.breakerTripped = true
	}
	return g.breakerTripped
}

// Restore rehydrates counters persisted from a previous run of the same day.
func (g *ExecutionGuard) Restore(day string, hedgeCount int, pnl float64, lastTS time.Time, lastPrice float64, breaker bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if day != g.now().In(g.loc).Format("2006-01-02") {
		return
	}
	g.day = day
	g.dailyHedgeCount = hedgeCount
	g.dailyPnL = pnl
	g.lastHedgeTS = lastTS
	g.lastHedgePrice = lastPrice
	g.breakerTripped = breaker
}

// Snapshot returns the observable guard state for the status sink.
func (g *ExecutionGuard) Snapshot() (hedgeCount int, pnl float64, breaker bool, lastTS time.Time, lastPrice float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dailyHedgeCount, g.dailyPnL, g.breakerTripped, g.lastHedgeTS, g.lastHedgePrice
}

func (g *ExecutionGuard) CircuitBreakerTripped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.breakerTripped
}

// rollDayLocked resets the daily counters, breaker included, when the New
// York trading day has changed.
func (g *ExecutionGuard) rollDayLocked(now time.Time) {
	day := now.In(g.loc).Format("2006-01-02")
	if g.day == day {
		return
	}
	g.day = day
	g.dailyHedgeCount = 0
	g.dailyPnL = 0
	g.breakerTripped = false
}

// inRTHLocked: regular session, 09:30 to 16:00 New York, weekdays.
func (g *ExecutionGuard) inRTHLocked(now time.Time) bool {
	ny := now.In(g.loc)
	if wd := ny.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	mins := ny.Hour()*60 + ny.Minute()
	return mins >= 9*60+30 && mins < 16*60
}

func inEarningsBlackout(day time.Time, e config.EarningsConfig) bool {
	if len(e.Dates) == 0 {
		return false
	}
	d := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	for _, raw := range e.Dates {
		ed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			continue
		}
		start := ed.AddDate(0, 0, -e.BlackoutDaysBefore)
		end := ed.AddDate(0, 0, e.BlackoutDaysAfter)
		if !d.Before(start) && !d.After(end) {
			return true
		}
	}
	return false
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// String gives a compact one-line guard summary for heartbeat logs.
func (g *ExecutionGuard) String() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fmt.Sprintf("hedges=%d pnl=%.2f breaker=%v pos=%d", g.dailyHedgeCount, g.dailyPnL, g.breakerTripped, g.position)
}
