package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNoopIsComplete(t *testing.T) {
	m := NewNoop()
	m.HedgesSent.Inc()
	m.HedgesFilled.Inc()
	m.HedgesFailed.Inc()
	m.GateBlocks.Inc()
	m.BrokerDisconnects.Inc()
	m.SafeEntries.Inc()
	m.ConfigReloads.Inc()
	m.NetDelta.Set(12.5)
	m.DailyHedgeCount.Set(3)
	m.DailyPnLUSD.Set(-40)
	m.DataLagMS.Set(80)
}

func TestPrometheusExposition(t *testing.T) {
	p := NewPrometheus()
	p.Metrics.HedgesSent.Inc()
	p.Metrics.HedgesSent.Inc()
	p.Metrics.NetDelta.Set(31)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "gamma_hedge_bot_hedges_sent_total 2") {
		t.Fatalf("missing counter, body:\n%s", body)
	}
	if !strings.Contains(body, "gamma_hedge_bot_net_delta_shares 31") {
		t.Fatalf("missing gauge, body:\n%s", body)
	}
}
