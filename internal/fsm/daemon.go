package fsm

import (
	"sync"
	"time"
)

// DaemonState is the process lifecycle state.
type DaemonState string

const (
	DaemonIdle             DaemonState = "IDLE"
	DaemonConnecting       DaemonState = "CONNECTING"
	DaemonWaitingBroker    DaemonState = "WAITING_IB"
	DaemonConnected        DaemonState = "CONNECTED"
	DaemonRunning          DaemonState = "RUNNING"
	DaemonRunningSuspended DaemonState = "RUNNING_SUSPENDED"
	DaemonStopping         DaemonState = "STOPPING"
	DaemonStopped          DaemonState = "STOPPED"
)

// daemonArcs lists the allowed lifecycle moves. Broker loss from any live
// state lands in WAITING_IB, never STOPPED; only an explicit stop request
// reaches STOPPING. This keeps process liveness independent of broker
// connectivity.
var daemonArcs = map[DaemonState][]DaemonState{
	DaemonIdle:             {DaemonConnecting, DaemonStopping},
	DaemonConnecting:       {DaemonConnected, DaemonWaitingBroker, DaemonStopping},
	DaemonWaitingBroker:    {DaemonConnecting, DaemonStopping},
	DaemonConnected:        {DaemonRunning, DaemonWaitingBroker, DaemonStopping},
	DaemonRunning:          {DaemonRunningSuspended, DaemonWaitingBroker, DaemonStopping},
	DaemonRunningSuspended: {DaemonRunning, DaemonWaitingBroker, DaemonStopping},
	DaemonStopping:         {DaemonStopped},
	DaemonStopped:          {},
}

// DaemonFSM gates the whole control loop. Owned by the loop goroutine;
// State is safe to read from signal handlers and the sink.
type DaemonFSM struct {
	mu        sync.Mutex
	state     DaemonState
	stopReq   bool
	changedAt time.Time
}

func NewDaemonFSM() *DaemonFSM {
	return &DaemonFSM{state: DaemonIdle, changedAt: time.Now()}
}

func (f *DaemonFSM) State() DaemonState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Transition moves to target if the arc table allows it.
func (f *DaemonFSM) Transition(target DaemonState) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, allowed := range daemonArcs[f.state] {
		if allowed == target {
			f.state = target
			f.changedAt = time.Now()
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether the arc exists without taking it.
func (f *DaemonFSM) CanTransitionTo(target DaemonState) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, allowed := range daemonArcs[f.state] {
		if allowed == target {
			return true
		}
	}
	return false
}

// RequestStop latches the stop flag. The control loop observes it within one
// heartbeat and drives STOPPING itself.
func (f *DaemonFSM) RequestStop() {
	f.mu.Lock()
	f.stopReq = true
	f.mu.Unlock()
}

func (f *DaemonFSM) StopRequested() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopReq
}

// IsRunning reports whether the trading loop should evaluate hedges.
func (f *DaemonFSM) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == DaemonRunning
}

// IsAlive reports whether the process should keep heartbeating. Everything
// short of STOPPING/STOPPED counts, including WAITING_IB.
func (f *DaemonFSM) IsAlive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state != DaemonStopping && f.state != DaemonStopped
}

// TimeInState reports how long the daemon has sat in its current state.
func (f *DaemonFSM) TimeInState(now time.Time) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return now.Sub(f.changedAt)
}
