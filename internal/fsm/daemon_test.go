package fsm

import "testing"

func TestDaemonHappyPath(t *testing.T) {
	f := NewDaemonFSM()
	for _, s := range []DaemonState{DaemonConnecting, DaemonConnected, DaemonRunning} {
		if !f.Transition(s) {
			t.Fatalf("transition to %s refused from %s", s, f.State())
		}
	}
}

func TestDaemonBrokerLossNeverStops(t *testing.T) {
	f := &DaemonFSM{state: DaemonRunning}
	if !f.Transition(DaemonWaitingBroker) {
		t.Fatal("RUNNING must reach WAITING_IB on broker loss")
	}
	if f.Transition(DaemonStopped) {
		t.Fatal("WAITING_IB must not reach STOPPED directly")
	}
	if !f.IsAlive() {
		t.Fatal("WAITING_IB must count as alive")
	}
	if !f.Transition(DaemonConnecting) {
		t.Fatal("WAITING_IB must allow reconnect attempts")
	}
}

func TestDaemonSuspendResume(t *testing.T) {
	f := &DaemonFSM{state: DaemonRunning}
	if !f.Transition(DaemonRunningSuspended) {
		t.Fatal("suspend refused")
	}
	if f.IsRunning() {
		t.Fatal("suspended daemon must not report running")
	}
	if !f.IsAlive() {
		t.Fatal("suspended daemon is still alive")
	}
	if !f.Transition(DaemonRunning) {
		t.Fatal("resume refused")
	}
}

func TestDaemonStopOnlyByRequest(t *testing.T) {
	f := &DaemonFSM{state: DaemonRunning}
	f.RequestStop()
	if !f.StopRequested() {
		t.Fatal("stop flag not latched")
	}
	if !f.Transition(DaemonStopping) {
		t.Fatal("stopping refused")
	}
	if !f.Transition(DaemonStopped) {
		t.Fatal("stopped refused")
	}
	if f.Transition(DaemonRunning) {
		t.Fatal("STOPPED must be terminal")
	}
}

func TestDaemonIllegalArcRefused(t *testing.T) {
	f := &DaemonFSM{state: DaemonIdle}
	if f.Transition(DaemonRunning) {
		t.Fatal("IDLE must not jump straight to RUNNING")
	}
	if f.State() != DaemonIdle {
		t.Fatalf("refused transition must not mutate state, got %s", f.State())
	}
}
