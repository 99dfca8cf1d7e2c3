package control

import (
	"context"
	"testing"

	"gamma-hedge-bot/internal/state"
)

type memStore struct {
	data map[string]string
}

func newMemStore() *memStore {
	return &memStore{data: map[string]string{}}
}

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

var _ state.Store = (*memStore)(nil)

func TestQueueInProcessDrain(t *testing.T) {
	q := NewQueue(nil)
	q.Push(CmdSuspend)
	q.Push(CmdResume)

	cmds, err := q.Drain(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(cmds) != 2 || cmds[0] != CmdSuspend || cmds[1] != CmdResume {
		t.Fatalf("got %v", cmds)
	}
	cmds, _ = q.Drain(context.Background())
	if len(cmds) != 0 {
		t.Fatalf("second drain must be empty, got %v", cmds)
	}
}

func TestQueueStoreExactlyOnce(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	if err := Append(ctx, store, CmdSuspend); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := Append(ctx, store, CmdStop); err != nil {
		t.Fatalf("append: %v", err)
	}

	q := NewQueue(store)
	cmds, err := q.Drain(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(cmds) != 2 || cmds[0] != CmdSuspend || cmds[1] != CmdStop {
		t.Fatalf("got %v", cmds)
	}

	// Nothing new: second drain applies nothing.
	cmds, err = q.Drain(ctx)
	if err != nil || len(cmds) != 0 {
		t.Fatalf("second drain: %v %v", cmds, err)
	}

	// New append resumes after the persisted offset, including for a fresh
	// queue simulating a daemon restart.
	if err := Append(ctx, store, CmdResume); err != nil {
		t.Fatalf("append: %v", err)
	}
	q2 := NewQueue(store)
	cmds, err = q2.Drain(ctx)
	if err != nil {
		t.Fatalf("drain after restart: %v", err)
	}
	if len(cmds) != 1 || cmds[0] != CmdResume {
		t.Fatalf("got %v", cmds)
	}
}

func TestQueueIgnoresUnknownCommands(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.data["control:commands"] = `[{"id":1,"cmd":"reboot"},{"id":2,"cmd":"flatten"}]`

	q := NewQueue(store)
	cmds, err := q.Drain(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(cmds) != 1 || cmds[0] != CmdFlatten {
		t.Fatalf("got %v", cmds)
	}
}

func TestParseCommand(t *testing.T) {
	if cmd, ok := ParseCommand(" Stop "); !ok || cmd != CmdStop {
		t.Fatalf("got %v %v", cmd, ok)
	}
	if _, ok := ParseCommand("launch"); ok {
		t.Fatal("unknown command must not parse")
	}
}
