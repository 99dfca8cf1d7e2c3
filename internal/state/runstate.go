package state

import (
	"context"
	"encoding/json"
	"strings"
)

const RunStateKey = "daemon:run_state"

// RunState is the slice of guard and execution state that survives a
// restart: daily risk counters plus whatever order was in flight when the
// process last exited, so it can be reconciled against broker positions
// before hedging resumes.
type RunState struct {
	Day             string  `json:"day"` // YYYY-MM-DD, New York
	DailyHedgeCount int     `json:"daily_hedge_count"`
	DailyPnLUSD     float64 `json:"daily_pnl_usd"`
	BreakerTripped  bool    `json:"breaker_tripped"`
	LastHedgeTSMS   int64   `json:"last_hedge_ts_ms"`
	LastHedgePrice  float64 `json:"last_hedge_price"`

	InFlightClientID string `json:"inflight_client_id,omitempty"`
	InFlightSide     string `json:"inflight_side,omitempty"`
	InFlightShares   int    `json:"inflight_shares,omitempty"`
	HedgeState       string `json:"hedge_state,omitempty"`
}

func LoadRunState(ctx context.Context, store Store) (RunState, bool, error) {
	if store == nil {
		return RunState{}, false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, RunStateKey)
	if err != nil {
		return RunState{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return RunState{}, false, nil
	}
	var rs RunState
	if err := json.Unmarshal([]byte(raw), &rs); err != nil {
		return RunState{}, false, err
	}
	return rs, true, nil
}

func SaveRunState(ctx context.Context, store Store, rs RunState) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(rs)
	if err != nil {
		return err
	}
	return store.Set(ctx, RunStateKey, string(payload))
}
