// Package hedge turns a classified delta deviation into an approved order,
// or a recorded refusal. Nothing in here talks to the broker; it only
// decides.
package hedge

import (
	"math"
	"time"

	"gamma-hedge-bot/internal/broker"
	"gamma-hedge-bot/internal/config"
	"gamma-hedge-bot/internal/statespace"
)

// Intent is a desired hedge before gating.
type Intent struct {
	Side         broker.Side
	Quantity     int // absolute shares for this order
	TargetShares int // stock position after a complete hedge
	Force        bool
	Reason       string
	TS           time.Time
}

// PlanIntent sizes a hedge that neutralizes the snapshot's net delta. It
// returns nil when the required trade is below the minimum order size; the
// per-order cap truncates larger trades, leaving the remainder to the next
// cycle.
func PlanIntent(snap statespace.Snapshot, h config.HedgeConfig) *Intent {
	shares := int(math.Round(math.Abs(snap.NetDelta)))
	if shares < h.MinHedgeShares {
		return nil
	}
	side := broker.Sell
	if snap.NetDelta < 0 {
		side = broker.Buy
	}
	if h.MaxHedgeSharesPerOrder > 0 && shares > h.MaxHedgeSharesPerOrder {
		shares = h.MaxHedgeSharesPerOrder
	}
	target := snap.StockPos - int(math.Round(snap.NetDelta))
	reason := "delta_hedge"
	if snap.D == statespace.DeltaForceHedge {
		reason = "force_hedge"
	}
	return &Intent{
		Side:         side,
		Quantity:     shares,
		TargetShares: target,
		Force:        snap.D == statespace.DeltaForceHedge,
		Reason:       reason,
		TS:           snap.TS,
	}
}
