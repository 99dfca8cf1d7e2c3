package fsm

import (
	"sync"
	"time"

	"gamma-hedge-bot/internal/statespace"
)

// HedgeState is the per-order execution state.
type HedgeState string

const (
	HedgeExecIdle HedgeState = "EXEC_IDLE"
	HedgePlan     HedgeState = "PLAN"
	HedgeSend     HedgeState = "SEND"
	HedgeWaitAck  HedgeState = "WAIT_ACK"
	HedgeWorking  HedgeState = "WORKING"
	HedgePartial  HedgeState = "PARTIAL"
	HedgeReprice  HedgeState = "REPRICE"
	HedgeCancel   HedgeState = "CANCEL"
	HedgeRecover  HedgeState = "RECOVER"
	HedgeFilled   HedgeState = "FILLED"
	HedgeFail     HedgeState = "FAIL"
)

type hedgeArc struct {
	from HedgeState
	ev   HedgeEvent
}

// hedgeTransitions is the full arc table. Any (state, event) pair absent from
// the table is a no-op.
var hedgeTransitions = map[hedgeArc]HedgeState{
	{HedgeExecIdle, HedgeRecvTarget}: HedgePlan,
	{HedgeFilled, HedgeRecvTarget}:   HedgePlan,

	{HedgePlan, HedgePlanSkip}: HedgeExecIdle,
	{HedgePlan, HedgePlanSend}: HedgeSend,

	{HedgeSend, HedgePlaceOrder}: HedgeWaitAck,

	{HedgeWaitAck, HedgeAckOK}:      HedgeWorking,
	{HedgeWaitAck, HedgeAckReject}:  HedgeFail,
	{HedgeWaitAck, HedgeTimeoutAck}: HedgeFail,
	{HedgeWaitAck, HedgeBrokerDown}: HedgeFail,

	{HedgeWorking, HedgePartialFill}:    HedgePartial,
	{HedgeWorking, HedgeFullFill}:       HedgeFilled,
	{HedgeWorking, HedgeTimeoutWorking}: HedgeReprice,
	{HedgeWorking, HedgeRiskTrip}:       HedgeCancel,
	{HedgeWorking, HedgeManualCancel}:   HedgeCancel,
	{HedgeWorking, HedgeBrokerDown}:     HedgeCancel,

	{HedgePartial, HedgePlanSend}:     HedgeSend,
	{HedgePartial, HedgePlanSkip}:     HedgeExecIdle,
	{HedgePartial, HedgeFullFill}:     HedgeFilled,
	{HedgePartial, HedgeRiskTrip}:     HedgeCancel,
	{HedgePartial, HedgeManualCancel}: HedgeCancel,
	{HedgePartial, HedgeBrokerDown}:   HedgeCancel,

	{HedgeReprice, HedgePlaceOrder}: HedgeWaitAck,

	{HedgeCancel, HedgeCancelSent}: HedgeRecover,

	{HedgeRecover, HedgePositionsSynced}: HedgeExecIdle,
	{HedgeRecover, HedgeCannotRecover}:   HedgeFail,

	{HedgeFail, HedgeTryResync}: HedgeRecover,
}

// HedgeFSM runs one hedge order at a time through its lifecycle. It also
// tracks broker connectivity so the E dimension can be derived without
// consulting the broker layer directly.
type HedgeFSM struct {
	mu        sync.Mutex
	state     HedgeState
	connected bool

	target       *TargetPosition
	filledShares int
	enteredAt    time.Time
}

func NewHedgeFSM() *HedgeFSM {
	return &HedgeFSM{state: HedgeExecIdle}
}

func (f *HedgeFSM) State() HedgeState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Apply feeds one event into the machine and returns the resulting state and
// whether a transition happened.
func (f *HedgeFSM) Apply(ev HedgeEvent) (HedgeState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applyLocked(ev)
}

func (f *HedgeFSM) applyLocked(ev HedgeEvent) (HedgeState, bool) {
	next, ok := hedgeTransitions[hedgeArc{f.state, ev}]
	if !ok {
		return f.state, false
	}
	f.state = next
	f.enteredAt = time.Now()
	if next == HedgeExecIdle {
		f.target = nil
		f.filledShares = 0
	}
	return next, true
}

// OnTarget admits a new hedge target. It refuses while an order cycle is in
// progress; the caller must not submit another intent until the machine
// returns to EXEC_IDLE or FILLED.
func (f *HedgeFSM) OnTarget(t TargetPosition) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != HedgeExecIdle && f.state != HedgeFilled {
		return false
	}
	f.target = &t
	f.filledShares = 0
	_, ok := f.applyLocked(HedgeRecvTarget)
	return ok
}

// RecordFill accumulates filled shares and fires the matching event.
func (f *HedgeFSM) RecordFill(shares int) (HedgeState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filledShares += shares
	if f.target != nil && f.filledShares >= f.target.Quantity {
		return f.applyLocked(HedgeFullFill)
	}
	return f.applyLocked(HedgePartialFill)
}

// RemainingShares reports how much of the current target is still unfilled.
func (f *HedgeFSM) RemainingShares() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.target == nil {
		return 0
	}
	r := f.target.Quantity - f.filledShares
	if r < 0 {
		return 0
	}
	return r
}

// Target returns a copy of the active target, if any.
func (f *HedgeFSM) Target() (TargetPosition, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.target == nil {
		return TargetPosition{}, false
	}
	return *f.target, true
}

// CanPlaceOrder is the duplicate-order guard: a new order may only be
// started from EXEC_IDLE or FILLED.
func (f *HedgeFSM) CanPlaceOrder() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == HedgeExecIdle || f.state == HedgeFilled
}

// SetConnected records broker connectivity as seen by the control loop.
func (f *HedgeFSM) SetConnected(up bool) {
	f.mu.Lock()
	f.connected = up
	f.mu.Unlock()
}

func (f *HedgeFSM) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// TimeInState reports how long the machine has sat in its current state.
// Used by the control loop for ack and working timeouts.
func (f *HedgeFSM) TimeInState(now time.Time) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enteredAt.IsZero() {
		return 0
	}
	return now.Sub(f.enteredAt)
}

// EffectiveExecutionState maps the hedge machine onto the E dimension of the
// composite state. Disconnection dominates whatever the order lifecycle says.
func (f *HedgeFSM) EffectiveExecutionState() statespace.ExecutionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return statespace.ExecDisconnected
	}
	switch f.state {
	case HedgeExecIdle, HedgeFilled:
		return statespace.ExecIdle
	case HedgePartial:
		return statespace.ExecPartialFill
	case HedgeFail:
		return statespace.ExecBrokerError
	default:
		return statespace.ExecOrderWorking
	}
}
