// Package paper is a deterministic in-process broker for dry runs. Orders
// fill immediately and completely at the current mid; positions, quotes, and
// greeks are seeded by the caller and mutated only by fills.
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gamma-hedge-bot/internal/broker"
)

type Broker struct {
	mu        sync.Mutex
	connected bool
	connCb    func(broker.ConnState)

	positions []broker.Position
	quote     broker.Quote
	greeks    broker.GreeksReport
	fills     []broker.Fill
	nextOrder int
	seen      map[string]broker.Ack
}

func New() *Broker {
	return &Broker{seen: map[string]broker.Ack{}}
}

func (b *Broker) Connect(context.Context) error {
	b.mu.Lock()
	b.connected = true
	cb := b.connCb
	b.mu.Unlock()
	if cb != nil {
		cb(broker.ConnUp)
	}
	return nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	b.connected = false
	b.mu.Unlock()
	return nil
}

func (b *Broker) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *Broker) OnConnChange(fn func(broker.ConnState)) {
	b.mu.Lock()
	b.connCb = fn
	b.mu.Unlock()
}

// SetMarket seeds the quote and greeks the next calls will observe.
func (b *Broker) SetMarket(q broker.Quote, g broker.GreeksReport) {
	b.mu.Lock()
	b.quote = q
	b.greeks = g
	b.mu.Unlock()
}

// SetPositions replaces the held positions.
func (b *Broker) SetPositions(pos []broker.Position) {
	b.mu.Lock()
	b.positions = append([]broker.Position(nil), pos...)
	b.mu.Unlock()
}

func (b *Broker) GetPositions(context.Context) ([]broker.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return nil, broker.ErrNotConnected
	}
	return append([]broker.Position(nil), b.positions...), nil
}

func (b *Broker) GetQuote(_ context.Context, symbol string) (broker.Quote, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return broker.Quote{}, broker.ErrNotConnected
	}
	q := b.quote
	q.Symbol = symbol
	return q, nil
}

func (b *Broker) GetGreeks(_ context.Context, symbol string) (broker.GreeksReport, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return broker.GreeksReport{}, broker.ErrNotConnected
	}
	g := b.greeks
	g.Symbol = symbol
	return g, nil
}

func (b *Broker) PlaceOrder(_ context.Context, clientID string, side broker.Side, qty int) (broker.Ack, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return broker.Ack{}, broker.ErrNotConnected
	}
	if ack, ok := b.seen[clientID]; ok {
		return ack, nil
	}
	b.nextOrder++
	orderID := fmt.Sprintf("paper-%d", b.nextOrder)
	price := (b.quote.Bid + b.quote.Ask) / 2
	signed := qty
	if side == broker.Sell {
		signed = -qty
	}
	b.applyStockFillLocked(signed)
	b.fills = append(b.fills, broker.Fill{
		OrderID: orderID,
		Shares:  qty,
		Price:   price,
		TS:      time.Now(),
	})
	ack := broker.Ack{OrderID: orderID, ClientID: clientID, Accepted: true}
	b.seen[clientID] = ack
	return ack, nil
}

func (b *Broker) applyStockFillLocked(signedShares int) {
	for i := range b.positions {
		if b.positions[i].SecType == "STK" {
			b.positions[i].Quantity += signedShares
			return
		}
	}
	symbol := b.quote.Symbol
	b.positions = append(b.positions, broker.Position{
		Symbol:   symbol,
		SecType:  "STK",
		Quantity: signedShares,
	})
}

func (b *Broker) CancelOrder(_ context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return broker.ErrNotConnected
	}
	// Paper orders fill instantly, so there is never anything to cancel.
	return broker.ErrUnknownOrder
}

func (b *Broker) Fills(context.Context) ([]broker.Fill, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.fills
	b.fills = nil
	return out, nil
}

var _ broker.Broker = (*Broker)(nil)
