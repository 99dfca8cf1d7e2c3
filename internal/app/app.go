// Package app wires the daemon together and runs the single control loop.
// Every FSM transition, guard mutation, and hedge decision happens on this
// loop; broker callbacks and operator commands are queued and drained here.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"gamma-hedge-bot/internal/alerts"
	"gamma-hedge-bot/internal/broker"
	"gamma-hedge-bot/internal/broker/gateway"
	"gamma-hedge-bot/internal/broker/paper"
	"gamma-hedge-bot/internal/config"
	"gamma-hedge-bot/internal/control"
	"gamma-hedge-bot/internal/exec"
	"gamma-hedge-bot/internal/fsm"
	"gamma-hedge-bot/internal/hedge"
	"gamma-hedge-bot/internal/metrics"
	"gamma-hedge-bot/internal/positions"
	"gamma-hedge-bot/internal/sink"
	"gamma-hedge-bot/internal/state"
	"gamma-hedge-bot/internal/state/sqlite"
	"gamma-hedge-bot/internal/statespace"

	"go.uber.org/zap"
)

type App struct {
	watcher *config.Watcher
	log     *zap.Logger
	store   state.Store
	brk     broker.Broker

	daemonFSM  *fsm.DaemonFSM
	tradingFSM *fsm.TradingFSM
	hedgeFSM   *fsm.HedgeFSM
	guard      *hedge.ExecutionGuard
	executor   *exec.Executor
	queue      *control.Queue
	statusSink sink.StatusSink
	metrics    *metrics.Metrics
	prom       *metrics.Prometheus
	alerts     *alerts.Telegram

	// Loop-local state. Touched only from Run's goroutine.
	priceHistory  []float64
	lastSnap      statespace.Snapshot
	haveSnap      bool
	portfolio     positions.Portfolio
	hedgeRetries  int
	hedgeSeq      int64
	activeOrderID string
	activeCloid   string
	flattening    bool
	lastHedgeTS   time.Time
	lastHedgePx   float64
	dayMarks      []fillMark
	marksDay      string

	connEvents chan broker.ConnState
}

func New(cfgPath string, log *zap.Logger) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(cfg.State.SQLitePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}

	var brk broker.Broker
	if cfg.Broker.Mode == "paper" || cfg.Risk.PaperTrade {
		brk = paper.New()
	} else {
		brk = gateway.New(cfg.Broker, log)
	}

	m := metrics.NewNoop()
	var prom *metrics.Prometheus
	if cfg.Metrics.Enabled {
		prom = metrics.NewPrometheus()
		m = prom.Metrics
	}

	var statusSink sink.StatusSink = sink.Noop{}
	if cfg.Sink.Enabled {
		pg, err := sink.NewPostgres(cfg.Sink, log)
		if err != nil {
			return nil, fmt.Errorf("sink init: %w", err)
		}
		statusSink = pg
	}

	a := &App{
		watcher:    config.NewWatcher(cfgPath, cfg, log),
		log:        log,
		store:      store,
		brk:        brk,
		daemonFSM:  fsm.NewDaemonFSM(),
		tradingFSM: fsm.NewTradingFSM(),
		hedgeFSM:   fsm.NewHedgeFSM(),
		guard:      hedge.NewExecutionGuard(),
		executor:   exec.New(brk, store, log),
		queue:      control.NewQueue(store),
		statusSink: statusSink,
		metrics:    m,
		prom:       prom,
		alerts:     alerts.NewTelegram(cfg.Telegram, log),
		connEvents: make(chan broker.ConnState, 8),
	}
	a.watcher.OnReload(m.ConfigReloads.Inc)
	brk.OnConnChange(func(s broker.ConnState) {
		select {
		case a.connEvents <- s:
		default:
		}
	})
	return a, nil
}

// RequestStop is safe to call from signal handlers.
func (a *App) RequestStop() {
	a.queue.Push(control.CmdStop)
	a.daemonFSM.RequestStop()
}

func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	defer a.statusSink.Close()

	cfg := a.watcher.Current()
	a.restoreRunState(ctx)
	a.statusSink.Start(ctx)
	go a.watcher.Run(ctx, cfg.Daemon.ConfigReloadInterval)
	a.startMetricsServer(ctx, cfg)

	a.connectBroker(ctx)

	ticker := time.NewTicker(cfg.Daemon.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.shutdown(context.Background())
			return ctx.Err()
		case s := <-a.connEvents:
			a.handleConnEvent(ctx, s)
		case <-ticker.C:
			a.drainCommands(ctx)
			if a.daemonFSM.StopRequested() {
				a.shutdown(ctx)
				return nil
			}
			a.heartbeat(ctx)
		}
	}
}

// connectBroker attempts the initial connection. Failure is not fatal: the
// daemon parks in WAITING_IB and retries on schedule.
func (a *App) connectBroker(ctx context.Context) {
	cfg := a.watcher.Current()
	a.daemonFSM.Transition(fsm.DaemonConnecting)
	cctx := ctx
	if cfg.Broker.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, cfg.Broker.ConnectTimeout)
		defer cancel()
	}
	if err := a.brk.Connect(cctx); err != nil {
		a.log.Warn("broker connect failed, waiting", zap.Error(err))
		a.daemonFSM.Transition(fsm.DaemonWaitingBroker)
		a.hedgeFSM.SetConnected(false)
		return
	}
	a.hedgeFSM.SetConnected(true)
	a.daemonFSM.Transition(fsm.DaemonConnected)
	a.daemonFSM.Transition(fsm.DaemonRunning)
	a.log.Info("broker connected, daemon running")
}

func (a *App) handleConnEvent(ctx context.Context, s broker.ConnState) {
	cfg := a.watcher.Current()
	switch s {
	case broker.ConnDown:
		a.metrics.BrokerDisconnects.Inc()
		a.hedgeFSM.SetConnected(false)
		a.hedgeFSM.Apply(fsm.HedgeBrokerDown)
		if a.daemonFSM.Transition(fsm.DaemonWaitingBroker) {
			a.log.Warn("broker connection lost, daemon waiting")
			a.alerts.NotifyBrokerLost(ctx, cfg.Structure.Symbol)
		}
	case broker.ConnUp:
		a.hedgeFSM.SetConnected(true)
		if a.daemonFSM.State() == fsm.DaemonWaitingBroker {
			a.daemonFSM.Transition(fsm.DaemonConnecting)
			a.daemonFSM.Transition(fsm.DaemonConnected)
			a.daemonFSM.Transition(fsm.DaemonRunning)
			a.log.Info("broker connection restored")
		}
	}
}

// heartbeat runs one cycle for the current daemon state. WAITING_IB keeps
// heartbeating and writing status; only RUNNING evaluates hedges.
func (a *App) heartbeat(ctx context.Context) {
	cfg := a.watcher.Current()
	switch a.daemonFSM.State() {
	case fsm.DaemonRunning:
		a.evalCycle(ctx, cfg, true)
	case fsm.DaemonRunningSuspended:
		a.evalCycle(ctx, cfg, false)
	case fsm.DaemonWaitingBroker:
		if a.daemonFSM.TimeInState(time.Now()) >= cfg.Daemon.BrokerRetryInterval {
			a.connectBroker(ctx)
		}
		a.publishStatus(cfg, a.lastSnap, "")
	}
}

func (a *App) drainCommands(ctx context.Context) {
	cmds, err := a.queue.Drain(ctx)
	if err != nil {
		a.log.Warn("control drain failed", zap.Error(err))
	}
	for _, cmd := range cmds {
		a.applyCommand(ctx, cmd)
	}
}

func (a *App) applyCommand(ctx context.Context, cmd control.Command) {
	a.log.Info("control command", zap.String("cmd", string(cmd)))
	switch cmd {
	case control.CmdStop:
		a.daemonFSM.RequestStop()
	case control.CmdSuspend:
		a.daemonFSM.Transition(fsm.DaemonRunningSuspended)
	case control.CmdResume:
		if a.daemonFSM.State() == fsm.DaemonRunningSuspended {
			a.daemonFSM.Transition(fsm.DaemonRunning)
		}
		if a.tradingFSM.State() == fsm.TradingSafe && a.haveSnap {
			cfg := a.watcher.Current()
			g := statespace.EvalGuards(a.lastSnap, cfg, a.guardCounters(cfg))
			a.tradingFSM.Apply(fsm.EventManualResume, g)
		}
	case control.CmdFlatten:
		a.flattening = true
	case control.CmdRetryBroker:
		if a.daemonFSM.State() == fsm.DaemonWaitingBroker {
			a.connectBroker(ctx)
		}
	}
}

func (a *App) shutdown(ctx context.Context) {
	a.daemonFSM.Transition(fsm.DaemonStopping)
	// Persist in-flight order state so it can be reconciled on restart. The
	// order itself is left working unless a flatten was requested.
	a.persistRunState(ctx)
	if a.activeOrderID != "" && a.flattening {
		if err := a.executor.CancelOrder(ctx, a.activeOrderID); err != nil {
			a.log.Warn("cancel on shutdown failed", zap.Error(err))
		}
	}
	if err := a.brk.Close(); err != nil {
		a.log.Warn("broker close failed", zap.Error(err))
	}
	a.daemonFSM.Transition(fsm.DaemonStopped)
	a.log.Info("daemon stopped")
}

func (a *App) startMetricsServer(ctx context.Context, cfg *config.Config) {
	if a.prom == nil || cfg.Metrics.ListenAddr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.prom.Handler())
	srv := &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Warn("metrics server failed", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()
}

func (a *App) restoreRunState(ctx context.Context) {
	rs, ok, err := state.LoadRunState(ctx, a.store)
	if err != nil {
		a.log.Warn("run state load failed", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	a.guard.Restore(rs.Day, rs.DailyHedgeCount, rs.DailyPnLUSD, time.UnixMilli(rs.LastHedgeTSMS), rs.LastHedgePrice, rs.BreakerTripped)
	if rs.LastHedgeTSMS > 0 {
		a.lastHedgeTS = time.UnixMilli(rs.LastHedgeTSMS)
		a.lastHedgePx = rs.LastHedgePrice
	}
	if rs.InFlightClientID != "" {
		// The previous process died with an order out. Surface it loudly;
		// position resync below will absorb whatever filled.
		a.log.Warn("unreconciled order from previous run",
			zap.String("client_id", rs.InFlightClientID),
			zap.String("side", rs.InFlightSide),
			zap.Int("shares", rs.InFlightShares),
			zap.String("hedge_state", rs.HedgeState),
		)
	}
}

// nyLoc is the trading calendar's home zone; daily counters roll on it.
var nyLoc = func() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.UTC
	}
	return loc
}()

func (a *App) persistRunState(ctx context.Context) {
	count, pnl, breaker, lastTS, lastPx := a.guard.Snapshot()
	rs := state.RunState{
		Day:             time.Now().In(nyLoc).Format("2006-01-02"),
		DailyHedgeCount: count,
		DailyPnLUSD:     pnl,
		BreakerTripped:  breaker,
		LastHedgePrice:  lastPx,
		HedgeState:      string(a.hedgeFSM.State()),
	}
	if !lastTS.IsZero() {
		rs.LastHedgeTSMS = lastTS.UnixMilli()
	}
	if a.activeCloid != "" && !a.hedgeFSM.CanPlaceOrder() {
		rs.InFlightClientID = a.activeCloid
		if tgt, ok := a.hedgeFSM.Target(); ok {
			rs.InFlightSide = tgt.Side
			rs.InFlightShares = tgt.Quantity
		}
	}
	if err := state.SaveRunState(ctx, a.store, rs); err != nil {
		a.log.Warn("run state save failed", zap.Error(err))
	}
}

func (a *App) guardCounters(cfg *config.Config) statespace.GuardCounters {
	count, _, _, _, _ := a.guard.Snapshot()
	return statespace.GuardCounters{
		DailyHedgeCount:    count,
		MaxDailyHedgeCount: cfg.Risk.MaxDailyHedgeCount,
		HedgeRetries:       a.hedgeRetries,
		MaxHedgeRetries:    cfg.Risk.MaxHedgeRetries,
	}
}
