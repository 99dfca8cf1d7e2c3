// Package fsm holds the three coupled state machines: the daemon lifecycle
// gate, the macro trading machine, and the per-order hedge execution machine.
// Each is a single-writer structure owned by the control loop; other layers
// read state through accessors only.
package fsm

import "time"

// TradingEvent drives the macro trading machine.
type TradingEvent string

const (
	EventStart         TradingEvent = "start"
	EventSynced        TradingEvent = "synced"
	EventTick          TradingEvent = "tick"
	EventQuote         TradingEvent = "quote"
	EventGreeksUpdate  TradingEvent = "greeks_update"
	EventTargetEmitted TradingEvent = "target_emitted"
	EventHedgeDone     TradingEvent = "hedge_done"
	EventHedgeFailed   TradingEvent = "hedge_failed"
	EventBrokerUp      TradingEvent = "broker_up"
	EventManualResume  TradingEvent = "manual_resume"
	EventShutdown      TradingEvent = "shutdown"
)

// HedgeEvent drives the per-order execution machine.
type HedgeEvent string

const (
	HedgeRecvTarget      HedgeEvent = "recv_target"
	HedgePlanSkip        HedgeEvent = "plan_skip"
	HedgePlanSend        HedgeEvent = "plan_send"
	HedgePlaceOrder      HedgeEvent = "place_order"
	HedgeAckOK           HedgeEvent = "ack_ok"
	HedgeAckReject       HedgeEvent = "ack_reject"
	HedgeTimeoutAck      HedgeEvent = "timeout_ack"
	HedgePartialFill     HedgeEvent = "partial_fill"
	HedgeFullFill        HedgeEvent = "full_fill"
	HedgeTimeoutWorking  HedgeEvent = "timeout_working"
	HedgeRiskTrip        HedgeEvent = "risk_trip"
	HedgeManualCancel    HedgeEvent = "manual_cancel"
	HedgeBrokerDown      HedgeEvent = "broker_down"
	HedgeCancelSent      HedgeEvent = "cancel_sent"
	HedgePositionsSynced HedgeEvent = "positions_resynced"
	HedgeCannotRecover   HedgeEvent = "cannot_recover"
	HedgeTryResync       HedgeEvent = "try_resync"
)

// TargetPosition is the hedge target handed from the strategy layer to the
// hedge execution machine.
type TargetPosition struct {
	TargetShares int
	Side         string // BUY or SELL
	Quantity     int    // absolute shares to trade
	Reason       string
	TS           time.Time
}
