// Package sink publishes daemon status and operation records to external
// storage. Writes are best effort: the control loop enqueues and moves on,
// and a full queue or dead database never stalls a trading decision.
package sink

import (
	"context"
	"time"
)

// StatusRecord is one evaluation cycle's observable state.
type StatusRecord struct {
	TS              time.Time
	DaemonState     string
	TradingState    string
	HedgeState      string
	Symbol          string
	Spot            float64
	Bid             float64
	Ask             float64
	NetDelta        float64
	StockPosition   int
	OptionLegsCount int
	DailyHedgeCount int
	DailyPnLUSD     float64
	DataLagMS       float64
	BlockReason     string
	ConfigSummary   string
}

// Operation is one order-lifecycle event: an intent, a submission, a fill,
// a cancel, or a gate rejection worth recording.
type Operation struct {
	TS       time.Time
	Type     string // intent, order_sent, fill, cancel, reject, gate_block
	Side     string
	Quantity int
	Price    float64
	Reason   string
}

// StatusSink is the persistence port. Implementations must not block the
// caller.
type StatusSink interface {
	EnqueueStatus(rec StatusRecord)
	EnqueueOperation(op Operation)
	Start(ctx context.Context)
	Close() error
}

// Noop drops everything. Used when the sink is disabled.
type Noop struct{}

func (Noop) EnqueueStatus(StatusRecord) {}
func (Noop) EnqueueOperation(Operation) {}
func (Noop) Start(context.Context)      {}
func (Noop) Close() error               { return nil }
