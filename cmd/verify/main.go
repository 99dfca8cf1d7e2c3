// Command verify is the offline operator tool. It shares the daemon's state
// file and config: it can validate a config, run a live broker check that
// prints positions, quote, greeks, and the classified state vector, dump the
// persisted run state, and enqueue control commands (stop, flatten, suspend,
// resume, retry_broker) for a running daemon to pick up on its next cycle.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"gamma-hedge-bot/internal/broker"
	"gamma-hedge-bot/internal/broker/gateway"
	"gamma-hedge-bot/internal/broker/paper"
	"gamma-hedge-bot/internal/config"
	"gamma-hedge-bot/internal/control"
	"gamma-hedge-bot/internal/logging"
	"gamma-hedge-bot/internal/positions"
	"gamma-hedge-bot/internal/state"
	"gamma-hedge-bot/internal/state/sqlite"
	"gamma-hedge-bot/internal/statespace"
)

const defaultStatePath = "data/gamma-hedge-bot.db"

func main() {
	configPath := flag.String("config", "", "config path; validated when given, also supplies broker and state settings")
	statePath := flag.String("state", "", "sqlite state file (overrides config)")
	check := flag.Bool("check", false, "connect the broker, print positions/quote/greeks and the classified state, then exit")
	asJSON := flag.Bool("json", false, "print the -check result as JSON")
	showState := flag.Bool("run-state", false, "print the persisted run state and exit")
	sendCmd := flag.String("send", "", "enqueue a control command: stop|flatten|suspend|resume|retry_broker")
	flag.Parse()

	if err := config.LoadEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	dbPath := defaultStatePath
	var cfg *config.Config
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fatal(fmt.Errorf("config invalid: %w", err))
		}
		cfg = loaded
		fmt.Printf("config ok: symbol=%s broker_mode=%s epsilon=%.0f threshold=%.0f max=%.0f\n",
			cfg.Structure.Symbol, cfg.Broker.Mode,
			cfg.Classify.Delta.EpsilonBand, cfg.Classify.Delta.ThresholdHedgeShares, cfg.Classify.Delta.MaxDeltaLimit)
		if cfg.State.SQLitePath != "" {
			dbPath = cfg.State.SQLitePath
		}
	}
	if *statePath != "" {
		dbPath = *statePath
	}

	if *check {
		if cfg == nil {
			fatal(errors.New("-check requires -config"))
		}
		runCheck(cfg, *asJSON)
		return
	}

	if !*showState && *sendCmd == "" {
		if *configPath == "" {
			flag.Usage()
			os.Exit(2)
		}
		return
	}

	store, err := sqlite.New(dbPath)
	if err != nil {
		fatal(fmt.Errorf("open state %s: %w", dbPath, err))
	}
	defer store.Close()
	ctx := context.Background()

	if *showState {
		rs, ok, err := state.LoadRunState(ctx, store)
		if err != nil {
			fatal(err)
		}
		if !ok {
			fmt.Println("no run state persisted yet")
			return
		}
		pretty, err := json.MarshalIndent(rs, "", "  ")
		if err != nil {
			fatal(err)
		}
		fmt.Printf("run state:\n%s\n", string(pretty))
	}

	if *sendCmd != "" {
		cmd, ok := control.ParseCommand(*sendCmd)
		if !ok {
			fatal(errors.New("unknown command: " + *sendCmd))
		}
		if err := control.Append(ctx, store, cmd); err != nil {
			fatal(err)
		}
		fmt.Printf("enqueued %s; the daemon applies it on its next heartbeat\n", cmd)
	}
}

// checkResult is the -check output: the raw broker view plus the classified
// state vector the daemon would act on.
type checkResult struct {
	Symbol    string            `json:"symbol"`
	Positions []broker.Position `json:"positions"`
	Stock     int               `json:"stock_shares"`
	Legs      int               `json:"option_legs"`
	Bid       float64           `json:"bid"`
	Ask       float64           `json:"ask"`
	NetDelta  float64           `json:"net_delta"`
	Gamma     float64           `json:"gamma"`
	O         string            `json:"o"`
	D         string            `json:"d"`
	M         string            `json:"m"`
	L         string            `json:"l"`
	E         string            `json:"e"`
	S         string            `json:"s"`
}

// runCheck dials the configured broker, pulls one round of market data, and
// classifies it exactly the way the daemon's eval cycle does.
func runCheck(cfg *config.Config, asJSON bool) {
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	var brk broker.Broker
	if cfg.Broker.Mode == "paper" || cfg.Risk.PaperTrade {
		brk = paper.New()
	} else {
		brk = gateway.New(cfg.Broker, log)
	}
	ctx := context.Background()
	if cfg.Broker.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Broker.ConnectTimeout)
		defer cancel()
	}
	if err := brk.Connect(ctx); err != nil {
		fatal(fmt.Errorf("broker connect: %w", err))
	}
	defer brk.Close()

	symbol := cfg.Structure.Symbol
	now := time.Now()
	in := statespace.Inputs{ExecState: statespace.ExecIdle, Now: now}

	raw, err := brk.GetPositions(ctx)
	if err != nil {
		fatal(fmt.Errorf("positions: %w", err))
	}
	quote, qerr := brk.GetQuote(ctx, symbol)
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
	}
	spot := 0.0
	if in.HasQuote {
		spot = (in.Bid + in.Ask) / 2
	}
	pf := positions.Build(raw, cfg.Structure, spot, now)
	in.OptionLegsCount = len(pf.OptionLegs)
	in.StockPos = pf.StockShares

	greeks, gerr := brk.GetGreeks(ctx, symbol)
	if gerr == nil {
		in.Greeks = statespace.GreeksSnapshot{
			Delta: greeks.Delta,
			Gamma: greeks.Gamma,
			Theta: greeks.Theta,
			Vega:  greeks.Vega,
			Valid: greeks.Valid,
		}
		in.HasGreeks = true
	}

	snap, err := statespace.Classify(in, cfg.Classify)
	if err != nil {
		fatal(fmt.Errorf("classify: %w", err))
	}

	res := checkResult{
		Symbol:    symbol,
		Positions: raw,
		Stock:     pf.StockShares,
		Legs:      len(pf.OptionLegs),
		Bid:       snap.Bid,
		Ask:       snap.Ask,
		NetDelta:  snap.NetDelta,
		Gamma:     snap.Greeks.Gamma,
		O:         string(snap.O),
		D:         string(snap.D),
		M:         string(snap.M),
		L:         string(snap.L),
		E:         string(snap.E),
		S:         string(snap.S),
	}
	if asJSON {
		pretty, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			fatal(err)
		}
		fmt.Println(string(pretty))
		return
	}
	fmt.Printf("broker ok: %d positions (stock=%d legs=%d)\n", len(raw), res.Stock, res.Legs)
	if in.HasQuote {
		fmt.Printf("quote: bid=%.2f ask=%.2f\n", res.Bid, res.Ask)
	} else {
		fmt.Println("quote: none")
	}
	if in.HasGreeks {
		fmt.Printf("greeks: net_delta=%.2f gamma=%.4f valid=%v\n", res.NetDelta, res.Gamma, in.Greeks.Valid)
	} else {
		fmt.Println("greeks: none")
	}
	fmt.Printf("state: O=%s D=%s M=%s L=%s E=%s S=%s\n", res.O, res.D, res.M, res.L, res.E, res.S)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
