package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"gamma-hedge-bot/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// Postgres writes status and operation records through buffered channels so
// the control loop never waits on the database.
type Postgres struct {
	db     *sql.DB
	log    *zap.Logger
	schema string

	statuses   chan StatusRecord
	operations chan Operation

	started  atomic.Bool
	dropStat atomic.Uint64
	dropOp   atomic.Uint64
}

func NewPostgres(cfg config.SinkConfig, log *zap.Logger) (*Postgres, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("sink dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	p := &Postgres{
		db:         db,
		log:        log,
		schema:     schema,
		statuses:   make(chan StatusRecord, queueSize),
		operations: make(chan Operation, queueSize),
	}
	if err := p.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) Start(ctx context.Context) {
	if p == nil {
		return
	}
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	go p.run(ctx)
}

func (p *Postgres) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *Postgres) EnqueueStatus(rec StatusRecord) {
	if p == nil {
		return
	}
	select {
	case p.statuses <- rec:
	default:
		if p.dropStat.Add(1) == 1 && p.log != nil {
			p.log.Warn("sink status queue full")
		}
	}
}

func (p *Postgres) EnqueueOperation(op Operation) {
	if p == nil {
		return
	}
	select {
	case p.operations <- op:
	default:
		if p.dropOp.Add(1) == 1 && p.log != nil {
			p.log.Warn("sink operation queue full")
		}
	}
}

func (p *Postgres) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-p.statuses:
			p.writeStatus(ctx, rec)
		case op := <-p.operations:
			p.writeOperation(ctx, op)
		}
	}
}

func (p *Postgres) table(name string) string {
	return p.schema + "." + name
}

func (p *Postgres) exec(ctx context.Context, query string, args ...any) error {
	_, err := p.db.ExecContext(ctx, query, args...)
	return err
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	if p.db == nil {
		return errors.New("sink db not initialized")
	}
	if p.schema != "public" {
		if err := p.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", p.schema)); err != nil {
			return err
		}
	}
	statusCols := `
		ts TIMESTAMPTZ NOT NULL,
		daemon_state TEXT NOT NULL,
		trading_state TEXT NOT NULL,
		hedge_state TEXT NOT NULL,
		symbol TEXT NOT NULL,
		spot DOUBLE PRECISION NOT NULL,
		bid DOUBLE PRECISION NOT NULL,
		ask DOUBLE PRECISION NOT NULL,
		net_delta DOUBLE PRECISION NOT NULL,
		stock_position INTEGER NOT NULL,
		option_legs_count INTEGER NOT NULL,
		daily_hedge_count INTEGER NOT NULL,
		daily_pnl_usd DOUBLE PRECISION NOT NULL,
		data_lag_ms DOUBLE PRECISION NOT NULL,
		block_reason TEXT NOT NULL DEFAULT '',
		config_summary TEXT NOT NULL DEFAULT ''`
	// status_current is a single-row live view; status_history appends.
	if err := p.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id INTEGER PRIMARY KEY CHECK (id = 1),%s
	)`, p.table("status_current"), statusCols)); err != nil {
		return err
	}
	if err := p.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id BIGSERIAL PRIMARY KEY,%s
	)`, p.table("status_history"), statusCols)); err != nil {
		return err
	}
	return p.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id BIGSERIAL PRIMARY KEY,
		ts TIMESTAMPTZ NOT NULL,
		op_type TEXT NOT NULL,
		side TEXT NOT NULL DEFAULT '',
		quantity INTEGER NOT NULL DEFAULT 0,
		price DOUBLE PRECISION NOT NULL DEFAULT 0,
		reason TEXT NOT NULL DEFAULT ''
	)`, p.table("operations")))
}

func (p *Postgres) writeStatus(ctx context.Context, rec StatusRecord) {
	if p.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	args := []any{
		rec.TS, rec.DaemonState, rec.TradingState, rec.HedgeState, rec.Symbol,
		rec.Spot, rec.Bid, rec.Ask, rec.NetDelta, rec.StockPosition,
		rec.OptionLegsCount, rec.DailyHedgeCount, rec.DailyPnLUSD,
		rec.DataLagMS, rec.BlockReason, rec.ConfigSummary,
	}
	upsert := fmt.Sprintf(`INSERT INTO %s (
		id, ts, daemon_state, trading_state, hedge_state, symbol, spot, bid, ask,
		net_delta, stock_position, option_legs_count, daily_hedge_count,
		daily_pnl_usd, data_lag_ms, block_reason, config_summary
	) VALUES (1,$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	ON CONFLICT (id) DO UPDATE SET
		ts = EXCLUDED.ts,
		daemon_state = EXCLUDED.daemon_state,
		trading_state = EXCLUDED.trading_state,
		hedge_state = EXCLUDED.hedge_state,
		symbol = EXCLUDED.symbol,
		spot = EXCLUDED.spot,
		bid = EXCLUDED.bid,
		ask = EXCLUDED.ask,
		net_delta = EXCLUDED.net_delta,
		stock_position = EXCLUDED.stock_position,
		option_legs_count = EXCLUDED.option_legs_count,
		daily_hedge_count = EXCLUDED.daily_hedge_count,
		daily_pnl_usd = EXCLUDED.daily_pnl_usd,
		data_lag_ms = EXCLUDED.data_lag_ms,
		block_reason = EXCLUDED.block_reason,
		config_summary = EXCLUDED.config_summary`, p.table("status_current"))
	if err := p.exec(ctx, upsert, args...); err != nil && p.log != nil {
		p.log.Warn("sink status upsert failed", zap.Error(err))
		return
	}
	insert := fmt.Sprintf(`INSERT INTO %s (
		ts, daemon_state, trading_state, hedge_state, symbol, spot, bid, ask,
		net_delta, stock_position, option_legs_count, daily_hedge_count,
		daily_pnl_usd, data_lag_ms, block_reason, config_summary
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`, p.table("status_history"))
	if err := p.exec(ctx, insert, args...); err != nil && p.log != nil {
		p.log.Warn("sink status history insert failed", zap.Error(err))
	}
}

func (p *Postgres) writeOperation(ctx context.Context, op Operation) {
	if p.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (ts, op_type, side, quantity, price, reason)
		VALUES ($1,$2,$3,$4,$5,$6)`, p.table("operations"))
	if err := p.exec(ctx, query, op.TS, op.Type, op.Side, op.Quantity, op.Price, op.Reason); err != nil && p.log != nil {
		p.log.Warn("sink operation insert failed", zap.Error(err))
	}
}
