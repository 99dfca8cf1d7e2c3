package exec

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"gamma-hedge-bot/internal/broker"

	"go.uber.org/zap"
)

type mockClient struct {
	placeCalls  int
	cancelCalls int
	failFirst   int
	reject      bool
}

func (m *mockClient) PlaceOrder(_ context.Context, clientID string, _ broker.Side, _ int) (broker.Ack, error) {
	m.placeCalls++
	if m.placeCalls <= m.failFirst {
		return broker.Ack{}, errors.New("transient")
	}
	if m.reject {
		return broker.Ack{ClientID: clientID, Accepted: false, Reason: "margin"}, nil
	}
	return broker.Ack{OrderID: fmt.Sprintf("oid-%d", m.placeCalls), ClientID: clientID, Accepted: true}, nil
}

func (m *mockClient) CancelOrder(context.Context, string) error {
	m.cancelCalls++
	return nil
}

type memStore struct {
	data map[string]string
}

func newMemStore() *memStore { return &memStore{data: map[string]string{}} }

func (m *memStore) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m.data[key]
	return v, ok, nil
}
func (m *memStore) Set(_ context.Context, key, value string) error {
	m.data[key] = value
	return nil
}
func (m *memStore) Delete(_ context.Context, key string) error {
	delete(m.data, key)
	return nil
}
func (m *memStore) Close() error { return nil }

func TestPlaceOrderIdempotent(t *testing.T) {
	ctx := context.Background()
	client := &mockClient{}
	store := newMemStore()
	e := New(client, store, zap.NewNop())

	first, err := e.PlaceOrder(ctx, "hedge-1", broker.Sell, 30)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	again, err := e.PlaceOrder(ctx, "hedge-1", broker.Sell, 30)
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if first != again {
		t.Fatalf("duplicate submission: %s vs %s", first, again)
	}
	if client.placeCalls != 1 {
		t.Fatalf("broker called %d times, want 1", client.placeCalls)
	}
}

func TestPlaceOrderSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	client := &mockClient{}
	store := newMemStore()

	e := New(client, store, zap.NewNop())
	oid, err := e.PlaceOrder(ctx, "hedge-7", broker.Buy, 50)
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	// Fresh executor, same store: the persisted mapping must short-circuit.
	e2 := New(client, store, zap.NewNop())
	oid2, err := e2.PlaceOrder(ctx, "hedge-7", broker.Buy, 50)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if oid != oid2 || client.placeCalls != 1 {
		t.Fatalf("restart replayed the order: oid=%s oid2=%s calls=%d", oid, oid2, client.placeCalls)
	}
}

func TestPlaceOrderRetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	client := &mockClient{failFirst: 2}
	e := New(client, newMemStore(), zap.NewNop())

	if _, err := e.PlaceOrder(ctx, "hedge-2", broker.Sell, 10); err != nil {
		t.Fatalf("place with transient failures: %v", err)
	}
	if client.placeCalls != 3 {
		t.Fatalf("got %d attempts, want 3", client.placeCalls)
	}
}

func TestPlaceOrderRejectIsNotRetried(t *testing.T) {
	ctx := context.Background()
	client := &mockClient{reject: true}
	e := New(client, newMemStore(), zap.NewNop())

	_, err := e.PlaceOrder(ctx, "hedge-3", broker.Buy, 10)
	if !errors.Is(err, ErrNotAccepted) {
		t.Fatalf("want ErrNotAccepted, got %v", err)
	}
	if client.placeCalls != 1 {
		t.Fatalf("reject must not be retried, got %d attempts", client.placeCalls)
	}
}

func TestPlaceOrderRequiresClientID(t *testing.T) {
	e := New(&mockClient{}, newMemStore(), zap.NewNop())
	if _, err := e.PlaceOrder(context.Background(), "", broker.Buy, 10); err == nil {
		t.Fatal("empty client id must fail")
	}
}
