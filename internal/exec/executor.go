// Package exec submits hedge orders idempotently. Every order carries a
// client order id; the id-to-broker-order mapping is cached in memory and in
// the kv store so a crash between submission and acknowledgment never
// produces a duplicate on restart.
package exec

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gamma-hedge-bot/internal/broker"
	"gamma-hedge-bot/internal/state"

	"go.uber.org/zap"
)

// ErrNotAccepted is returned when the venue acknowledged the request but
// rejected the order.
var ErrNotAccepted = errors.New("order not accepted")

// OrderClient is the slice of the broker port the executor needs.
type OrderClient interface {
	PlaceOrder(ctx context.Context, clientID string, side broker.Side, qty int) (broker.Ack, error)
	CancelOrder(ctx context.Context, orderID string) error
}

type Executor struct {
	brk   OrderClient
	store state.Store
	log   *zap.Logger

	mu    sync.Mutex
	cache map[string]string
}

func New(brk OrderClient, store state.Store, log *zap.Logger) *Executor {
	return &Executor{
		brk:   brk,
		store: store,
		log:   log,
		cache: make(map[string]string),
	}
}

// PlaceOrder submits one hedge order under clientID. A clientID that was
// already submitted, in this process or a previous one, returns the original
// broker order id without touching the venue.
func (e *Executor) PlaceOrder(ctx context.Context, clientID string, side broker.Side, qty int) (string, error) {
	if clientID == "" {
		return "", errors.New("client order id is required")
	}
	cacheKey := "cloid:" + clientID
	e.mu.Lock()
	if oid, ok := e.cache[cacheKey]; ok {
		e.mu.Unlock()
		return oid, nil
	}
	e.mu.Unlock()
	if e.store != nil {
		if oid, ok, err := e.store.Get(ctx, cacheKey); err != nil {
			return "", err
		} else if ok {
			e.mu.Lock()
			e.cache[cacheKey] = oid
			e.mu.Unlock()
			return oid, nil
		}
	}
	orderID, err := e.placeWithRetry(ctx, clientID, side, qty)
	if err != nil {
		return "", err
	}
	if e.store != nil {
		if err := e.store.Set(ctx, cacheKey, orderID); err != nil {
			e.log.Warn("failed to persist order id", zap.Error(err))
		}
	}
	e.mu.Lock()
	e.cache[cacheKey] = orderID
	e.mu.Unlock()
	return orderID, nil
}

func (e *Executor) CancelOrder(ctx context.Context, orderID string) error {
	return e.retry(ctx, func() error {
		return e.brk.CancelOrder(ctx, orderID)
	})
}

func (e *Executor) placeWithRetry(ctx context.Context, clientID string, side broker.Side, qty int) (string, error) {
	var orderID string
	err := e.retry(ctx, func() error {
		ack, err := e.brk.PlaceOrder(ctx, clientID, side, qty)
		if err != nil {
			return err
		}
		if !ack.Accepted {
			// A reject is a decision, not a transient fault. Stop
			// retrying and surface it.
			return fmt.Errorf("%w: %s", ErrNotAccepted, ack.Reason)
		}
		orderID = ack.OrderID
		return nil
	})
	if err != nil {
		return "", err
	}
	if orderID == "" {
		return "", errors.New("empty order id")
	}
	return orderID, nil
}

func (e *Executor) retry(ctx context.Context, fn func() error) error {
	backoff := 200 * time.Millisecond
	for attempt := 0; attempt < 5; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrNotAccepted) {
			return err
		}
		if attempt == 4 {
			return fmt.Errorf("retry failed: %w", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil
}
