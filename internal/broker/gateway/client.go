package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"gamma-hedge-bot/internal/broker"
	"gamma-hedge-bot/internal/config"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// Client implements broker.Broker against a gateway websocket. One read pump
// dispatches response frames to waiting calls and buffers event frames;
// reconnection is driven by the daemon, not here, so a dead connection
// surfaces immediately as ErrNotConnected.
type Client struct {
	url         string
	callTimeout time.Duration
	pingEvery   time.Duration
	log         *zap.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	pending   map[uint64]chan responseFrame
	fills     []broker.Fill
	connCb    func(broker.ConnState)
	connected bool

	nextID   atomic.Uint64
	readDone chan struct{}
}

func New(cfg config.BrokerConfig, log *zap.Logger) *Client {
	callTimeout := cfg.CallTimeout
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}
	return &Client{
		url:         cfg.GatewayURL,
		callTimeout: callTimeout,
		pingEvery:   cfg.PingInterval,
		log:         log,
		pending:     map[uint64]chan responseFrame{},
	}
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return err
	}
	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.readDone = done
	cb := c.connCb
	c.mu.Unlock()

	go c.readPump(conn, done)
	if c.pingEvery > 0 {
		go c.pingLoop(conn, done)
	}
	if cb != nil {
		cb(broker.ConnUp)
	}
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "shutdown")
	}
	return nil
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) OnConnChange(fn func(broker.ConnState)) {
	c.mu.Lock()
	c.connCb = fn
	c.mu.Unlock()
}

func (c *Client) readPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			c.lostConn(conn, err)
			return
		}
		frame, err := decodeFrame(data)
		if err != nil {
			if c.log != nil {
				c.log.Warn("gateway frame decode failed", zap.Error(err))
			}
			continue
		}
		if frame.Event != "" {
			c.handleEvent(frame)
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[frame.ID]
		if ok {
			delete(c.pending, frame.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- frame
		}
	}
}

func (c *Client) handleEvent(frame responseFrame) {
	switch frame.Event {
	case eventFill:
		var fw fillWire
		if err := msgpack.Unmarshal(frame.Result, &fw); err != nil {
			if c.log != nil {
				c.log.Warn("gateway fill decode failed", zap.Error(err))
			}
			return
		}
		c.mu.Lock()
		c.fills = append(c.fills, broker.Fill{
			OrderID: fw.OrderID,
			Shares:  fw.Shares,
			Price:   fw.Price,
			TS:      time.UnixMilli(fw.TSMS),
		})
		c.mu.Unlock()
	case eventConn:
		var cw connWire
		if err := msgpack.Unmarshal(frame.Result, &cw); err != nil {
			return
		}
		c.mu.Lock()
		c.connected = cw.Up
		cb := c.connCb
		c.mu.Unlock()
		if cb != nil {
			if cw.Up {
				cb(broker.ConnUp)
			} else {
				cb(broker.ConnDown)
			}
		}
	}
}

func (c *Client) lostConn(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	wasConnected := c.connected
	c.connected = false
	cb := c.connCb
	// Fail every in-flight call rather than letting it hang.
	for id, ch := range c.pending {
		delete(c.pending, id)
		ch <- responseFrame{Error: broker.ErrNotConnected.Error()}
	}
	c.mu.Unlock()
	_ = conn.Close(websocket.StatusNormalClosure, "read failed")
	if c.log != nil {
		c.log.Warn("gateway connection lost", zap.Error(err))
	}
	if wasConnected && cb != nil {
		cb(broker.ConnDown)
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(c.pingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.callTimeout)
			err := conn.Ping(ctx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (c *Client) call(ctx context.Context, method string, params map[string]any) (responseFrame, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return responseFrame{}, broker.ErrNotConnected
	}
	id := c.nextID.Add(1)
	data, err := encodeRequest(id, method, params)
	if err != nil {
		return responseFrame{}, err
	}
	ch := make(chan responseFrame, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageBinary, data); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return responseFrame{}, err
	}
	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return responseFrame{}, broker.ErrTimeout
		}
		return responseFrame{}, ctx.Err()
	case frame := <-ch:
		if frame.Error == broker.ErrNotConnected.Error() {
			return responseFrame{}, broker.ErrNotConnected
		}
		return frame, nil
	}
}

func (c *Client) GetPositions(ctx context.Context) ([]broker.Position, error) {
	frame, err := c.call(ctx, methodPositions, nil)
	if err != nil {
		return nil, err
	}
	wires, err := decodeResult[[]positionWire](frame)
	if err != nil {
		return nil, err
	}
	out := make([]broker.Position, 0, len(wires))
	for _, w := range wires {
		out = append(out, broker.Position{
			Symbol:     w.Symbol,
			SecType:    w.SecType,
			Right:      w.Right,
			Strike:     w.Strike,
			Expiry:     time.UnixMilli(w.ExpiryMS),
			Quantity:   w.Quantity,
			AvgCost:    w.AvgCost,
			Multiplier: w.Multiplier,
		})
	}
	return out, nil
}

func (c *Client) GetQuote(ctx context.Context, symbol string) (broker.Quote, error) {
	frame, err := c.call(ctx, methodQuote, map[string]any{"symbol": symbol})
	if err != nil {
		return broker.Quote{}, err
	}
	w, err := decodeResult[quoteWire](frame)
	if err != nil {
		return broker.Quote{}, err
	}
	return broker.Quote{
		Symbol: w.Symbol,
		Bid:    w.Bid,
		Ask:    w.Ask,
		Last:   w.Last,
		TS:     time.UnixMilli(w.TSMS),
	}, nil
}

func (c *Client) GetGreeks(ctx context.Context, symbol string) (broker.GreeksReport, error) {
	frame, err := c.call(ctx, methodGreeks, map[string]any{"symbol": symbol})
	if err != nil {
		return broker.GreeksReport{}, err
	}
	w, err := decodeResult[greeksWire](frame)
	if err != nil {
		return broker.GreeksReport{}, err
	}
	return broker.GreeksReport{
		Symbol: w.Symbol,
		Delta:  w.Delta,
		Gamma:  w.Gamma,
		Theta:  w.Theta,
		Vega:   w.Vega,
		Valid:  w.Valid,
		TS:     time.UnixMilli(w.TSMS),
	}, nil
}

func (c *Client) PlaceOrder(ctx context.Context, clientID string, side broker.Side, qty int) (broker.Ack, error) {
	frame, err := c.call(ctx, methodPlaceOrder, map[string]any{
		"client_id": clientID,
		"side":      string(side),
		"quantity":  qty,
	})
	if err != nil {
		return broker.Ack{}, err
	}
	w, err := decodeResult[ackWire](frame)
	if err != nil {
		return broker.Ack{}, err
	}
	return broker.Ack{
		OrderID:  w.OrderID,
		ClientID: w.ClientID,
		Accepted: w.Accepted,
		Reason:   w.Reason,
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	frame, err := c.call(ctx, methodCancelOrder, map[string]any{"order_id": orderID})
	if err != nil {
		return err
	}
	if frame.Error != "" {
		return errors.New(frame.Error)
	}
	return nil
}

// Fills drains the buffered execution events.
func (c *Client) Fills(context.Context) ([]broker.Fill, error) {
	c.mu.Lock()
	out := c.fills
	c.fills = nil
	c.mu.Unlock()
	return out, nil
}

var _ broker.Broker = (*Client)(nil)
