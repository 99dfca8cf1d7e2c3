package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "gamma_hedge_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type promGauge struct {
	gauge prometheus.Gauge
}

func (p promGauge) Set(v float64) {
	p.gauge.Set(v)
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()

	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      name,
			Help:      help,
		})
		registry.MustRegister(c)
		return c
	}
	gauge := func(name, help string) prometheus.Gauge {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: promNamespace,
			Name:      name,
			Help:      help,
		})
		registry.MustRegister(g)
		return g
	}

	m := &Metrics{
		HedgesSent:        promCounter{counter("hedges_sent_total", "Total number of hedge orders sent.")},
		HedgesFilled:      promCounter{counter("hedges_filled_total", "Total number of hedge orders completely filled.")},
		HedgesFailed:      promCounter{counter("hedges_failed_total", "Total number of hedge orders that ended in failure.")},
		GateBlocks:        promCounter{counter("gate_blocks_total", "Total number of hedge intents blocked by gating.")},
		BrokerDisconnects: promCounter{counter("broker_disconnects_total", "Total number of broker disconnects observed.")},
		SafeEntries:       promCounter{counter("safe_entries_total", "Total number of transitions into the SAFE trading state.")},
		ConfigReloads:     promCounter{counter("config_reloads_total", "Total number of successful config hot reloads.")},
		NetDelta:          promGauge{gauge("net_delta_shares", "Current net delta in share equivalents.")},
		DailyHedgeCount:   promGauge{gauge("daily_hedge_count", "Hedges sent so far today.")},
		DailyPnLUSD:       promGauge{gauge("daily_pnl_usd", "Running daily P&L in USD.")},
		DataLagMS:         promGauge{gauge("data_lag_ms", "Milliseconds of market data event lag.")},
	}

	return &Prometheus{Metrics: m, registry: registry}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
