package metrics

type Counter interface {
	Inc()
}

type Gauge interface {
	Set(v float64)
}

type Metrics struct {
	HedgesSent        Counter
	HedgesFilled      Counter
	HedgesFailed      Counter
	GateBlocks        Counter
	BrokerDisconnects Counter
	SafeEntries       Counter
	ConfigReloads     Counter

	NetDelta        Gauge
	DailyHedgeCount Gauge
	DailyPnLUSD     Gauge
	DataLagMS       Gauge
}

type noopCounter struct{}

func (noopCounter) Inc() {}

type noopGauge struct{}

func (noopGauge) Set(float64) {}

func NewNoop() *Metrics {
	c := noopCounter{}
	g := noopGauge{}
	return &Metrics{
		HedgesSent:        c,
		HedgesFilled:      c,
		HedgesFailed:      c,
		GateBlocks:        c,
		BrokerDisconnects: c,
		SafeEntries:       c,
		ConfigReloads:     c,
		NetDelta:          g,
		DailyHedgeCount:   g,
		DailyPnLUSD:       g,
		DataLagMS:         g,
	}
}
