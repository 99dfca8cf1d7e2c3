// Package broker defines the port to the execution venue. The gateway
// implementation speaks to a running broker gateway over a websocket; the
// paper implementation fills orders deterministically for dry runs. All
// failure modes surface through error returns and the connection callback,
// never through panics.
package broker

import (
	"context"
	"errors"
	"time"
)

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

var (
	ErrNotConnected = errors.New("broker: not connected")
	ErrRejected     = errors.New("broker: order rejected")
	ErrTimeout      = errors.New("broker: request timed out")
	ErrUnknownOrder = errors.New("broker: unknown order id")
)

// Position is one holding as reported by the venue.
type Position struct {
	Symbol     string
	SecType    string // STK or OPT
	Right      string // C or P, options only
	Strike     float64
	Expiry     time.Time
	Quantity   int
	AvgCost    float64
	Multiplier int
}

// Quote is a two-sided top-of-book snapshot.
type Quote struct {
	Symbol string
	Bid    float64
	Ask    float64
	Last   float64
	TS     time.Time
}

// GreeksReport carries portfolio greeks for the hedged symbol, in share
// equivalents.
type GreeksReport struct {
	Symbol string
	Delta  float64
	Gamma  float64
	Theta  float64
	Vega   float64
	Valid  bool
	TS     time.Time
}

// Ack is the venue's response to an order submission.
type Ack struct {
	OrderID  string
	ClientID string
	Accepted bool
	Reason   string
}

// Fill reports an execution against a working order.
type Fill struct {
	OrderID string
	Shares  int
	Price   float64
	TS      time.Time
}

// ConnState is delivered to the connection callback.
type ConnState int

const (
	ConnDown ConnState = iota
	ConnUp
)

// Broker is the execution port consumed by the control loop. Implementations
// must be safe for use from a single goroutine; the control loop never calls
// two methods concurrently.
type Broker interface {
	Connect(ctx context.Context) error
	Close() error
	Connected() bool

	GetPositions(ctx context.Context) ([]Position, error)
	GetQuote(ctx context.Context, symbol string) (Quote, error)
	GetGreeks(ctx context.Context, symbol string) (GreeksReport, error)

	// PlaceOrder submits a market order identified by a caller-supplied
	// client order id, used for idempotent resubmission.
	PlaceOrder(ctx context.Context, clientID string, side Side, qty int) (Ack, error)
	CancelOrder(ctx context.Context, orderID string) error

	// Fills returns executions observed since the last call.
	Fills(ctx context.Context) ([]Fill, error)

	// OnConnChange registers the connection-state callback. At most one
	// callback is supported; registering replaces the previous one.
	OnConnChange(fn func(ConnState))
}
