// Package gateway implements the broker port over a websocket connection to
// a broker gateway process. Frames are msgpack maps: requests carry an id,
// a method, and parameters; responses echo the id; the gateway also pushes
// unsolicited event frames for fills and connection state.
package gateway

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	methodPositions   = "positions"
	methodQuote       = "quote"
	methodGreeks      = "greeks"
	methodPlaceOrder  = "place_order"
	methodCancelOrder = "cancel_order"

	eventFill = "fill"
	eventConn = "conn"
)

type requestFrame struct {
	ID     uint64         `msgpack:"id"`
	Method string         `msgpack:"method"`
	Params map[string]any `msgpack:"params,omitempty"`
}

type responseFrame struct {
	ID     uint64             `msgpack:"id"`
	Event  string             `msgpack:"event,omitempty"`
	Error  string             `msgpack:"error,omitempty"`
	Result msgpack.RawMessage `msgpack:"result,omitempty"`
}

type positionWire struct {
	Symbol     string  `msgpack:"symbol"`
	SecType    string  `msgpack:"sec_type"`
	Right      string  `msgpack:"right"`
	Strike     float64 `msgpack:"strike"`
	ExpiryMS   int64   `msgpack:"expiry_ms"`
	Quantity   int     `msgpack:"quantity"`
	AvgCost    float64 `msgpack:"avg_cost"`
	Multiplier int     `msgpack:"multiplier"`
}

type quoteWire struct {
	Symbol string  `msgpack:"symbol"`
	Bid    float64 `msgpack:"bid"`
	Ask    float64 `msgpack:"ask"`
	Last   float64 `msgpack:"last"`
	TSMS   int64   `msgpack:"ts_ms"`
}

type greeksWire struct {
	Symbol string  `msgpack:"symbol"`
	Delta  float64 `msgpack:"delta"`
	Gamma  float64 `msgpack:"gamma"`
	Theta  float64 `msgpack:"theta"`
	Vega   float64 `msgpack:"vega"`
	Valid  bool    `msgpack:"valid"`
	TSMS   int64   `msgpack:"ts_ms"`
}

type ackWire struct {
	OrderID  string `msgpack:"order_id"`
	ClientID string `msgpack:"client_id"`
	Accepted bool   `msgpack:"accepted"`
	Reason   string `msgpack:"reason"`
}

type fillWire struct {
	OrderID string  `msgpack:"order_id"`
	Shares  int     `msgpack:"shares"`
	Price   float64 `msgpack:"price"`
	TSMS    int64   `msgpack:"ts_ms"`
}

type connWire struct {
	Up bool `msgpack:"up"`
}

func encodeRequest(id uint64, method string, params map[string]any) ([]byte, error) {
	if method == "" {
		return nil, errors.New("method is required")
	}
	return msgpack.Marshal(requestFrame{ID: id, Method: method, Params: params})
}

func decodeFrame(data []byte) (responseFrame, error) {
	var frame responseFrame
	if err := msgpack.Unmarshal(data, &frame); err != nil {
		return responseFrame{}, fmt.Errorf("decode frame: %w", err)
	}
	return frame, nil
}

func decodeResult[T any](frame responseFrame) (T, error) {
	var out T
	if frame.Error != "" {
		return out, errors.New(frame.Error)
	}
	if err := msgpack.Unmarshal(frame.Result, &out); err != nil {
		return out, fmt.Errorf("decode result: %w", err)
	}
	return out, nil
}
