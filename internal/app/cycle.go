package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gamma-hedge-bot/internal/broker"
	"gamma-hedge-bot/internal/config"
	"gamma-hedge-bot/internal/exec"
	"gamma-hedge-bot/internal/fsm"
	"gamma-hedge-bot/internal/hedge"
	"gamma-hedge-bot/internal/positions"
	"gamma-hedge-bot/internal/sink"
	"gamma-hedge-bot/internal/statespace"

	"go.uber.org/zap"
)

// evalCycle is one heartbeat: gather inputs, classify, advance the FSMs,
// and, when everything lines up and hedging is allowed, run one hedge step.
func (a *App) evalCycle(ctx context.Context, cfg *config.Config, hedgingAllowed bool) {
	now := time.Now()

	a.absorbFills(ctx, cfg)
	a.checkOrderTimeouts(cfg, now)

	snap, ok := a.classifyCycle(ctx, cfg, now)
	blockReason := ""
	if ok {
		a.lastSnap = snap
		a.haveSnap = true
	}
	a.updateDailyPnL(ctx, cfg, now)
	g := statespace.EvalGuards(a.lastSnap, cfg, a.guardCounters(cfg))
	a.tickTradingFSM(ctx, cfg, g)

	if a.haveSnap {
		blockReason = hedge.BlockReason(a.lastSnap)
		a.metrics.NetDelta.Set(a.lastSnap.NetDelta)
		a.metrics.DataLagMS.Set(a.lastSnap.EventLagMS)
	}
	count, pnl, _, _, _ := a.guard.Snapshot()
	a.metrics.DailyHedgeCount.Set(float64(count))
	a.metrics.DailyPnLUSD.Set(pnl)

	if a.flattening && hedgingAllowed && ok {
		a.flattenOnce(ctx, cfg)
	} else if hedgingAllowed && ok && a.tradingFSM.State() == fsm.TradingNeedHedge {
		if r := a.hedgeOnce(ctx, cfg, g); r != "" {
			blockReason = r
		}
	}

	a.publishStatus(cfg, a.lastSnap, blockReason)
	a.persistRunState(ctx)
}

// classifyCycle pulls quote, greeks, and positions and runs the classifier.
// A failed pull or malformed input keeps the previous snapshot with a
// degraded S so no hedge happens off bad data.
func (a *App) classifyCycle(ctx context.Context, cfg *config.Config, now time.Time) (statespace.Snapshot, bool) {
	symbol := cfg.Structure.Symbol
	in := statespace.Inputs{
		ExecState: a.hedgeFSM.EffectiveExecutionState(),
		RiskHalt:  a.guard.CircuitBreakerTripped(),
		Now:       now,
	}

	quote, qerr := a.brk.GetQuote(ctx, symbol)
	if qerr == nil && quote.Bid > 0 && quote.Ask > 0 {
		in.Bid, in.Ask, in.Last = quote.Bid, quote.Ask, quote.Last
		in.HasQuote = true
		in.HasLast = quote.Last > 0
		if !quote.TS.IsZero() {
			in.QuoteAgeMS = float64(now.Sub(quote.TS).Milliseconds())
			in.HasAge = true
			in.EventLagMS = in.QuoteAgeMS
			in.HasLag = true
		}
		mid := (quote.Bid + quote.Ask) / 2
		a.priceHistory = append(a.priceHistory, mid)
		if window := cfg.Classify.Market.VolWindow; window > 0 && len(a.priceHistory) > window {
			a.priceHistory = a.priceHistory[len(a.priceHistory)-window:]
		}
	} else if qerr != nil && !errors.Is(qerr, broker.ErrNotConnected) {
		a.log.Warn("quote fetch failed", zap.Error(qerr))
	}
	in.PriceHistory = a.priceHistory

	raw, perr := a.brk.GetPositions(ctx)
	if perr == nil {
		spot := 0.0
		if in.HasQuote {
			spot = (in.Bid + in.Ask) / 2
		}
		a.portfolio = positions.Build(raw, cfg.Structure, spot, now)
	} else if !errors.Is(perr, broker.ErrNotConnected) {
		a.log.Warn("positions fetch failed", zap.Error(perr))
	}
	in.OptionLegsCount = len(a.portfolio.OptionLegs)
	in.StockPos = a.portfolio.StockShares

	greeks, gerr := a.brk.GetGreeks(ctx, symbol)
	if gerr == nil {
		in.Greeks = statespace.GreeksSnapshot{
			Delta: greeks.Delta,
			Gamma: greeks.Gamma,
			Theta: greeks.Theta,
			Vega:  greeks.Vega,
			Valid: greeks.Valid,
		}
		in.HasGreeks = true
	} else if !errors.Is(gerr, broker.ErrNotConnected) {
		a.log.Warn("greeks fetch failed", zap.Error(gerr))
	}

	if !a.lastHedgeTS.IsZero() {
		in.LastHedgePrice = a.lastHedgePx
		in.LastHedgeTS = a.lastHedgeTS
		in.HasLastHedgePrice = a.lastHedgePx > 0
	}

	snap, err := statespace.Classify(in, cfg.Classify)
	if err != nil {
		a.log.Warn("classification failed, holding previous state", zap.Error(err))
		if a.haveSnap {
			degraded := a.lastSnap
			degraded.S = statespace.SystemGreeksBad
			degraded.TS = now
			a.lastSnap = degraded
		}
		return statespace.Snapshot{}, false
	}
	return snap, true
}

// tickTradingFSM advances the macro machine through its boot events and one
// evaluation tick, with alerting on SAFE entry.
func (a *App) tickTradingFSM(ctx context.Context, cfg *config.Config, g statespace.Guards) {
	before := a.tradingFSM.State()
	switch before {
	case fsm.TradingBoot:
		a.tradingFSM.Apply(fsm.EventStart, g)
		return
	case fsm.TradingSync:
		a.tradingFSM.Apply(fsm.EventSynced, g)
	case fsm.TradingSafe:
		// Automatic recovery arc: broker back and data healthy.
		if g.BrokerUp && g.DataOK {
			a.tradingFSM.Apply(fsm.EventBrokerUp, g)
		}
	default:
		a.tradingFSM.Apply(fsm.EventTick, g)
	}
	after := a.tradingFSM.State()
	if after == fsm.TradingSafe && before != fsm.TradingSafe {
		a.metrics.SafeEntries.Inc()
		a.log.Warn("trading entered SAFE",
			zap.String("from", string(before)),
			zap.Bool("broker_down", g.BrokerDown),
			zap.Bool("data_stale", g.DataStale),
			zap.Bool("greeks_bad", g.GreeksBad),
			zap.Bool("exec_fault", g.ExecFault),
		)
		a.alerts.NotifySafeEntered(ctx, cfg.Structure.Symbol, safeCause(g))
		a.hedgeRetries = 0
	}
}

func safeCause(g statespace.Guards) string {
	switch {
	case g.BrokerDown:
		return "broker down"
	case g.DataStale:
		return "stale data"
	case g.GreeksBad:
		return "bad greeks"
	case g.ExecFault:
		return "execution fault"
	default:
		return "retries exhausted"
	}
}

// hedgeOnce runs a single NEED_HEDGE evaluation to completion or rejection.
// Returns the block reason when the hedge was refused.
func (a *App) hedgeOnce(ctx context.Context, cfg *config.Config, g statespace.Guards) string {
	snap := a.lastSnap
	if !hedge.ShouldOutputTarget(snap) {
		return hedge.BlockReason(snap)
	}
	if !a.hedgeFSM.CanPlaceOrder() {
		return hedge.ReasonExecBusy
	}
	intent := hedge.PlanIntent(snap, cfg.Hedge)
	approved, reason := hedge.ApplyGates(intent, snap, a.guard, cfg)
	if approved == nil {
		a.metrics.GateBlocks.Inc()
		a.statusSink.EnqueueOperation(sink.Operation{
			TS: snap.TS, Type: "gate_block", Reason: reason,
		})
		a.log.Info("hedge blocked", zap.String("reason", reason), zap.Float64("net_delta", snap.NetDelta))
		return reason
	}

	a.tradingFSM.Apply(fsm.EventTargetEmitted, g)
	a.sendOrder(ctx, cfg, *approved, snap)
	return ""
}

// sendOrder drives the hedge machine PLAN through WAIT_ACK for one approved
// intent.
func (a *App) sendOrder(ctx context.Context, cfg *config.Config, approved hedge.Intent, snap statespace.Snapshot) {
	a.hedgeSeq++
	cloid := fmt.Sprintf("hedge-%s-%d", time.Now().Format("20060102"), a.hedgeSeq)

	a.hedgeFSM.OnTarget(fsm.TargetPosition{
		TargetShares: approved.TargetShares,
		Side:         string(approved.Side),
		Quantity:     approved.Quantity,
		Reason:       approved.Reason,
		TS:           snap.TS,
	})
	a.hedgeFSM.Apply(fsm.HedgePlanSend)
	a.statusSink.EnqueueOperation(sink.Operation{
		TS: snap.TS, Type: "intent", Side: string(approved.Side),
		Quantity: approved.Quantity, Price: snap.Spot, Reason: approved.Reason,
	})

	a.hedgeFSM.Apply(fsm.HedgePlaceOrder)
	orderID, err := a.executor.PlaceOrder(ctx, cloid, approved.Side, approved.Quantity)
	if err != nil {
		if errors.Is(err, exec.ErrNotAccepted) {
			a.hedgeFSM.Apply(fsm.HedgeAckReject)
		} else {
			a.hedgeFSM.Apply(fsm.HedgeTimeoutAck)
		}
		a.onHedgeFailed(cfg, err.Error())
		return
	}
	a.activeOrderID = orderID
	a.activeCloid = cloid
	a.hedgeFSM.Apply(fsm.HedgeAckOK)

	a.guard.RecordHedgeSent(approved.Quantity, approved.Side, snap.Spot)
	a.lastHedgeTS = time.Now()
	a.lastHedgePx = snap.Spot
	a.metrics.HedgesSent.Inc()
	a.statusSink.EnqueueOperation(sink.Operation{
		TS: time.Now(), Type: "order_sent", Side: string(approved.Side),
		Quantity: approved.Quantity, Price: snap.Spot, Reason: orderID,
	})
	a.log.Info("hedge order sent",
		zap.String("order_id", orderID),
		zap.String("side", string(approved.Side)),
		zap.Int("quantity", approved.Quantity),
		zap.Float64("net_delta", snap.NetDelta),
	)
}

// fillMark is one of today's executions, re-marked against spot each cycle
// for the daily P&L feed.
type fillMark struct {
	signedShares int
	price        float64
}

// updateDailyPnL marks today's hedge fills to the current spot and feeds the
// guard's circuit breaker. Marks reset on the New York day roll.
func (a *App) updateDailyPnL(ctx context.Context, cfg *config.Config, now time.Time) {
	day := now.In(nyLoc).Format("2006-01-02")
	if day != a.marksDay {
		a.marksDay = day
		a.dayMarks = a.dayMarks[:0]
	}
	if !a.haveSnap || !a.lastSnap.HasSpot || len(a.dayMarks) == 0 {
		return
	}
	pnl := 0.0
	for _, m := range a.dayMarks {
		pnl += float64(m.signedShares) * (a.lastSnap.Spot - m.price)
	}
	wasTripped := a.guard.CircuitBreakerTripped()
	if a.guard.SetDailyPnL(pnl, cfg) && !wasTripped {
		a.log.Error("daily loss limit hit, circuit breaker tripped",
			zap.Float64("daily_pnl_usd", pnl),
			zap.Float64("limit_usd", cfg.Risk.MaxDailyLossUSD),
		)
		a.alerts.NotifyBreakerTripped(ctx, cfg.Structure.Symbol, pnl)
	}
}

// absorbFills drains broker executions into the hedge machine.
func (a *App) absorbFills(ctx context.Context, cfg *config.Config) {
	fills, err := a.brk.Fills(ctx)
	if err != nil || len(fills) == 0 {
		return
	}
	g := statespace.EvalGuards(a.lastSnap, cfg, a.guardCounters(cfg))
	for _, f := range fills {
		a.statusSink.EnqueueOperation(sink.Operation{
			TS: f.TS, Type: "fill", Quantity: f.Shares, Price: f.Price, Reason: f.OrderID,
		})
		if tgt, ok := a.hedgeFSM.Target(); ok {
			signed := f.Shares
			if tgt.Side == string(broker.Sell) {
				signed = -signed
			}
			a.dayMarks = append(a.dayMarks, fillMark{signedShares: signed, price: f.Price})
		}
		st, _ := a.hedgeFSM.RecordFill(f.Shares)
		switch st {
		case fsm.HedgeFilled:
			a.metrics.HedgesFilled.Inc()
			a.hedgeRetries = 0
			a.activeOrderID = ""
			a.activeCloid = ""
			a.flattening = false
			a.tradingFSM.Apply(fsm.EventHedgeDone, g)
			a.log.Info("hedge filled", zap.String("order_id", f.OrderID), zap.Float64("price", f.Price))
		case fsm.HedgePartial:
			a.log.Info("hedge partial fill",
				zap.String("order_id", f.OrderID),
				zap.Int("shares", f.Shares),
				zap.Int("remaining", a.hedgeFSM.RemainingShares()),
			)
		}
	}
}

// checkOrderTimeouts escalates orders stuck in WAIT_ACK or WORKING and
// drains the CANCEL and FAIL states back to EXEC_IDLE so an aborted order
// never wedges the machine.
func (a *App) checkOrderTimeouts(cfg *config.Config, now time.Time) {
	switch a.hedgeFSM.State() {
	case fsm.HedgeWaitAck:
		if cfg.Hedge.AckTimeout > 0 && a.hedgeFSM.TimeInState(now) > cfg.Hedge.AckTimeout {
			a.hedgeFSM.Apply(fsm.HedgeTimeoutAck)
			a.onHedgeFailed(cfg, "ack timeout")
		}
	case fsm.HedgeWorking, fsm.HedgePartial:
		if cfg.Hedge.WorkingTimeout > 0 && a.hedgeFSM.TimeInState(now) > cfg.Hedge.WorkingTimeout {
			if a.hedgeFSM.RemainingShares() <= 0 {
				// Fully filled, the fill event just has not arrived yet.
				return
			}
			a.log.Warn("working order timed out, repricing", zap.String("order_id", a.activeOrderID))
			if a.activeOrderID != "" {
				if err := a.executor.CancelOrder(context.Background(), a.activeOrderID); err != nil {
					a.log.Warn("cancel failed", zap.Error(err))
				}
				a.statusSink.EnqueueOperation(sink.Operation{TS: now, Type: "cancel", Reason: a.activeOrderID})
			}
			if a.hedgeFSM.State() == fsm.HedgeWorking {
				a.hedgeFSM.Apply(fsm.HedgeTimeoutWorking)
			} else {
				a.hedgeFSM.Apply(fsm.HedgePlanSend)
			}
			a.repriceOrder(cfg)
		}
	case fsm.HedgeCancel:
		// Entered on broker_down, risk_trip, or manual_cancel with an order
		// still out. Confirm the cancel and walk the machine through RECOVER
		// so hedging is not wedged behind a dead order.
		if a.activeOrderID != "" {
			if err := a.executor.CancelOrder(context.Background(), a.activeOrderID); err != nil {
				a.log.Warn("cancel failed", zap.Error(err))
			}
			a.statusSink.EnqueueOperation(sink.Operation{TS: now, Type: "cancel", Reason: a.activeOrderID})
		}
		a.onHedgeFailed(cfg, "order canceled")
	case fsm.HedgeFail:
		a.recoverHedge(cfg, "broker failure")
	}
}

// repriceOrder resubmits the unfilled remainder of the active target under a
// fresh client order id. Entered from REPRICE or SEND after a cancel.
func (a *App) repriceOrder(cfg *config.Config) {
	tgt, ok := a.hedgeFSM.Target()
	remaining := a.hedgeFSM.RemainingShares()
	if !ok || remaining <= 0 {
		a.recoverHedge(cfg, "nothing left to reprice")
		return
	}
	a.hedgeSeq++
	cloid := fmt.Sprintf("hedge-%s-%d", time.Now().Format("20060102"), a.hedgeSeq)
	a.hedgeFSM.Apply(fsm.HedgePlaceOrder)
	orderID, err := a.executor.PlaceOrder(context.Background(), cloid, broker.Side(tgt.Side), remaining)
	if err != nil {
		if errors.Is(err, exec.ErrNotAccepted) {
			a.hedgeFSM.Apply(fsm.HedgeAckReject)
		} else {
			a.hedgeFSM.Apply(fsm.HedgeTimeoutAck)
		}
		a.onHedgeFailed(cfg, err.Error())
		return
	}
	a.activeOrderID = orderID
	a.activeCloid = cloid
	a.hedgeFSM.Apply(fsm.HedgeAckOK)
	a.log.Info("hedge order repriced",
		zap.String("order_id", orderID),
		zap.Int("remaining", remaining),
	)
}

// onHedgeFailed records a failed attempt and moves the trading machine.
func (a *App) onHedgeFailed(cfg *config.Config, cause string) {
	a.metrics.HedgesFailed.Inc()
	a.hedgeRetries++
	a.statusSink.EnqueueOperation(sink.Operation{
		TS: time.Now(), Type: "reject", Reason: cause,
	})
	g := statespace.EvalGuards(a.lastSnap, cfg, a.guardCounters(cfg))
	a.tradingFSM.Apply(fsm.EventHedgeFailed, g)
	a.recoverHedge(cfg, cause)
}

// recoverHedge walks the hedge machine back to EXEC_IDLE through RECOVER,
// resyncing the guard's position view on the way.
func (a *App) recoverHedge(cfg *config.Config, cause string) {
	switch a.hedgeFSM.State() {
	case fsm.HedgeFail:
		a.hedgeFSM.Apply(fsm.HedgeTryResync)
	case fsm.HedgeCancel:
		a.hedgeFSM.Apply(fsm.HedgeCancelSent)
	}
	if a.hedgeFSM.State() == fsm.HedgeRecover {
		a.guard.SetPosition(a.portfolio.StockShares)
		a.hedgeFSM.Apply(fsm.HedgePositionsSynced)
		a.activeOrderID = ""
		a.activeCloid = ""
		a.log.Info("hedge machine recovered", zap.String("cause", cause))
	}
}

// flattenOnce sells or buys the whole stock leg back to zero, bypassing the
// delta band but not the execution guard's hard limits.
func (a *App) flattenOnce(ctx context.Context, cfg *config.Config) {
	stock := a.portfolio.StockShares
	if stock == 0 {
		a.flattening = false
		a.log.Info("flatten complete, stock leg is zero")
		return
	}
	if !a.hedgeFSM.CanPlaceOrder() {
		return
	}
	side := broker.Sell
	if stock < 0 {
		side = broker.Buy
	}
	qty := stock
	if qty < 0 {
		qty = -qty
	}
	if cfg.Hedge.MaxHedgeSharesPerOrder > 0 && qty > cfg.Hedge.MaxHedgeSharesPerOrder {
		qty = cfg.Hedge.MaxHedgeSharesPerOrder
	}
	intent := hedge.Intent{
		Side:         side,
		Quantity:     qty,
		TargetShares: 0,
		Force:        true,
		Reason:       "flatten",
		TS:           time.Now(),
	}
	ok, reason := a.guard.AllowHedge(qty, side, a.lastSnap.SpreadPct, true, cfg)
	if !ok {
		a.log.Warn("flatten blocked", zap.String("reason", reason))
		a.statusSink.EnqueueOperation(sink.Operation{TS: time.Now(), Type: "gate_block", Reason: reason})
		return
	}
	a.sendOrder(ctx, cfg, intent, a.lastSnap)
}

func (a *App) publishStatus(cfg *config.Config, snap statespace.Snapshot, blockReason string) {
	count, pnl, _, _, _ := a.guard.Snapshot()
	rec := sink.StatusRecord{
		TS:              time.Now(),
		DaemonState:     string(a.daemonFSM.State()),
		TradingState:    string(a.tradingFSM.State()),
		HedgeState:      string(a.hedgeFSM.State()),
		Symbol:          cfg.Structure.Symbol,
		Spot:            snap.Spot,
		Bid:             snap.Bid,
		Ask:             snap.Ask,
		NetDelta:        snap.NetDelta,
		StockPosition:   snap.StockPos,
		OptionLegsCount: snap.OptionLegsCount,
		DailyHedgeCount: count,
		DailyPnLUSD:     pnl,
		DataLagMS:       snap.EventLagMS,
		BlockReason:     blockReason,
		ConfigSummary:   configSummary(cfg),
	}
	a.statusSink.EnqueueStatus(rec)
}

func configSummary(cfg *config.Config) string {
	return fmt.Sprintf("eps=%.1f hedge=%.1f max=%.1f cooldown=%s min=%d cap=%d",
		cfg.Classify.Delta.EpsilonBand,
		cfg.Classify.Delta.ThresholdHedgeShares,
		cfg.Classify.Delta.MaxDeltaLimit,
		cfg.Hedge.Cooldown,
		cfg.Hedge.MinHedgeShares,
		cfg.Risk.MaxDailyHedgeCount,
	)
}
