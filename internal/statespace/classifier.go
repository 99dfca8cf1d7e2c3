package statespace

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gamma-hedge-bot/internal/config"
)

// ErrBadInput marks literally malformed numeric inputs (NaN/Inf in a quote
// that claims to exist). Missing data never triggers it; missing data
// classifies to a conservative state instead.
var ErrBadInput = errors.New("classification input malformed")

// Inputs is the raw material for one classification. Everything is captured
// before Classify is called so the six dimensions come from one atomic view.
type Inputs struct {
	Greeks    GreeksSnapshot
	HasGreeks bool

	OptionLegsCount int
	StockPos        int

	Bid      float64
	Ask      float64
	Last     float64
	HasQuote bool // two-sided bid/ask present
	HasLast  bool

	QuoteAgeMS float64 // age of the newest market data event
	HasAge     bool

	EventLagMS float64
	HasLag     bool

	PriceHistory []float64 // recent spot closes, oldest first

	ExecState ExecutionState // from the hedge FSM's effective execution state
	RiskHalt  bool

	LastHedgePrice    float64
	LastHedgeTS       time.Time
	HasLastHedgePrice bool

	Now time.Time
}

// Classify maps raw inputs to a Snapshot. Pure: no I/O, no clock reads
// (Inputs.Now is the only time source), deterministic for fixed inputs.
func Classify(in Inputs, cfg config.ClassifyConfig) (Snapshot, error) {
	if err := checkFinite(in); err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		StockPos:          in.StockPos,
		OptionLegsCount:   in.OptionLegsCount,
		Greeks:            in.Greeks,
		HasGreeks:         in.HasGreeks,
		EventLagMS:        in.EventLagMS,
		HasLag:            in.HasLag,
		LastHedgePrice:    in.LastHedgePrice,
		LastHedgeTS:       in.LastHedgeTS,
		HasLastHedgePrice: in.HasLastHedgePrice,
		TS:                in.Now,
	}

	if in.HasQuote {
		snap.Bid, snap.Ask = in.Bid, in.Ask
		snap.HasQuote = true
		mid := (in.Bid + in.Ask) / 2
		if mid > 0 {
			snap.Spot = mid
			snap.HasSpot = true
			snap.SpreadPct = (in.Ask - in.Bid) / mid
		}
	} else if in.HasLast && in.Last > 0 {
		snap.Spot = in.Last
		snap.HasSpot = true
	}

	usable := in.HasGreeks && in.Greeks.Usable()
	if usable {
		snap.NetDelta = in.Greeks.Delta
		snap.OptionDelta = in.Greeks.Delta - float64(in.StockPos)
	}

	snap.O = classifyOption(in, usable)
	snap.D = classifyDelta(snap.NetDelta, usable, cfg.Delta)
	snap.M = classifyMarket(in, cfg.Market)
	snap.L = classifyLiquidity(snap, cfg.Liquidity)
	snap.E = in.ExecState
	if snap.E == "" {
		snap.E = ExecIdle
	}
	snap.S = classifySystem(in, usable, cfg.System)
	return snap, nil
}

func checkFinite(in Inputs) error {
	if in.HasQuote {
		if !isFinite(in.Bid) || !isFinite(in.Ask) {
			return fmt.Errorf("quote bid=%v ask=%v: %w", in.Bid, in.Ask, ErrBadInput)
		}
		if in.Bid < 0 || in.Ask < 0 {
			return fmt.Errorf("negative quote bid=%v ask=%v: %w", in.Bid, in.Ask, ErrBadInput)
		}
	}
	if in.HasLast && !isFinite(in.Last) {
		return fmt.Errorf("last price %v: %w", in.Last, ErrBadInput)
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func classifyOption(in Inputs, usable bool) OptionPositionState {
	if !usable || in.OptionLegsCount == 0 {
		return OptionNone
	}
	if in.Greeks.Gamma > 0 {
		return OptionLongGamma
	}
	if in.Greeks.Gamma < 0 {
		return OptionShortGamma
	}
	return OptionNone
}

// classifyDelta: >= enters the more severe state, <= epsilon stays in band.
func classifyDelta(netDelta float64, usable bool, t config.DeltaThresholds) DeltaDeviationState {
	if !usable {
		return DeltaInvalid
	}
	abs := math.Abs(netDelta)
	switch {
	case abs <= t.EpsilonBand:
		return DeltaInBand
	case abs >= t.MaxDeltaLimit:
		return DeltaForceHedge
	case abs >= t.ThresholdHedgeShares:
		return DeltaHedgeNeeded
	default:
		return DeltaMinor
	}
}

func classifyMarket(in Inputs, t config.MarketThresholds) MarketRegimeState {
	// Staleness wins over every other regime signal.
	if in.HasAge && in.QuoteAgeMS > t.StaleTSThresholdMS {
		return MarketStale
	}
	h := in.PriceHistory
	if len(h) < 2 {
		return MarketNormal
	}
	n := float64(len(h))
	var mean float64
	for _, p := range h {
		mean += p
	}
	mean /= n
	if mean <= 0 {
		return MarketNormal
	}
	var variance float64
	for _, p := range h {
		variance += (p - mean) * (p - mean)
	}
	variance /= math.Max(n-1, 1)
	vol := math.Sqrt(variance) / mean
	slope := (h[len(h)-1] - h[0]) / n
	maxStep := 0.0
	for i := 1; i < len(h); i++ {
		step := math.Abs(h[i]-h[i-1]) / mean
		if step > maxStep {
			maxStep = step
		}
	}
	switch {
	case maxStep > 0.02:
		return MarketGap
	case vol > 0.02 && math.Abs(slope)/mean < 0.001:
		return MarketChoppyHighVol
	case math.Abs(slope)/mean > 0.005:
		return MarketTrend
	case vol < 0.005:
		return MarketQuiet
	default:
		return MarketNormal
	}
}

// classifyLiquidity: >= enters the wider state.
func classifyLiquidity(snap Snapshot, t config.LiquidityThresholds) LiquidityState {
	if !snap.HasQuote || snap.Bid <= 0 || snap.Ask <= 0 || snap.Ask < snap.Bid {
		return LiquidityNoQuote
	}
	switch {
	case snap.SpreadPct >= t.ExtremeSpreadPct:
		return LiquidityExtremeWide
	case snap.SpreadPct >= t.WideSpreadPct:
		return LiquidityWide
	default:
		return LiquidityNormal
	}
}

// classifySystem precedence: RISK_HALT > GREEKS_BAD > DATA_LAG > OK.
func classifySystem(in Inputs, usable bool, t config.SystemThresholds) SystemHealthState {
	if in.RiskHalt {
		return SystemRiskHalt
	}
	if !usable {
		return SystemGreeksBad
	}
	if in.HasLag && in.EventLagMS > t.DataLagThresholdMS {
		return SystemDataLag
	}
	return SystemOK
}
