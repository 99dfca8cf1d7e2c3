// Package control carries operator commands into the control loop. Commands
// arrive from two sources: in-process (signal handlers) and the kv store,
// where an operator tool appends them. The loop drains once per cycle;
// store-sourced commands are tracked by a persisted offset so each one is
// applied exactly once across restarts.
package control

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"

	"gamma-hedge-bot/internal/state"
)

type Command string

const (
	CmdStop        Command = "stop"
	CmdFlatten     Command = "flatten"
	CmdSuspend     Command = "suspend"
	CmdResume      Command = "resume"
	CmdRetryBroker Command = "retry_broker"
)

func ParseCommand(s string) (Command, bool) {
	switch Command(strings.ToLower(strings.TrimSpace(s))) {
	case CmdStop:
		return CmdStop, true
	case CmdFlatten:
		return CmdFlatten, true
	case CmdSuspend:
		return CmdSuspend, true
	case CmdResume:
		return CmdResume, true
	case CmdRetryBroker:
		return CmdRetryBroker, true
	}
	return "", false
}

const (
	commandsKey    = "control:commands"
	lastAppliedKey = "control:last_applied"
)

// StoredCommand is one operator command appended to the kv store.
type StoredCommand struct {
	ID  int64  `json:"id"`
	Cmd string `json:"cmd"`
}

// Queue is the single-consumer command queue. Push is safe from any
// goroutine; Drain is called only by the control loop.
type Queue struct {
	mu      sync.Mutex
	pending []Command

	store       state.Store
	lastApplied int64
	loaded      bool
}

func NewQueue(store state.Store) *Queue {
	return &Queue{store: store}
}

func (q *Queue) Push(cmd Command) {
	q.mu.Lock()
	q.pending = append(q.pending, cmd)
	q.mu.Unlock()
}

// Drain returns every command pending right now, in-process pushes first,
// then unapplied store commands in append order. The store offset is
// persisted before the commands are returned so a crash mid-apply re-applies
// nothing.
func (q *Queue) Drain(ctx context.Context) ([]Command, error) {
	q.mu.Lock()
	cmds := q.pending
	q.pending = nil
	q.mu.Unlock()

	stored, err := q.drainStore(ctx)
	if err != nil {
		return cmds, err
	}
	return append(cmds, stored...), nil
}

func (q *Queue) drainStore(ctx context.Context) ([]Command, error) {
	if q.store == nil {
		return nil, nil
	}
	if !q.loaded {
		raw, ok, err := q.store.Get(ctx, lastAppliedKey)
		if err != nil {
			return nil, err
		}
		if ok {
			if v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil {
				q.lastApplied = v
			}
		}
		q.loaded = true
	}
	raw, ok, err := q.store.Get(ctx, commandsKey)
	if err != nil || !ok || strings.TrimSpace(raw) == "" {
		return nil, err
	}
	var stored []StoredCommand
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, err
	}
	var out []Command
	maxID := q.lastApplied
	for _, sc := range stored {
		if sc.ID <= q.lastApplied {
			continue
		}
		cmd, valid := ParseCommand(sc.Cmd)
		if sc.ID > maxID {
			maxID = sc.ID
		}
		if !valid {
			continue
		}
		out = append(out, cmd)
	}
	if maxID > q.lastApplied {
		if err := q.store.Set(ctx, lastAppliedKey, strconv.FormatInt(maxID, 10)); err != nil {
			return nil, err
		}
		q.lastApplied = maxID
	}
	return out, nil
}

// Append writes a command to the store for the daemon to pick up. Used by
// operator tooling sharing the same state file.
func Append(ctx context.Context, store state.Store, cmd Command) error {
	raw, ok, err := store.Get(ctx, commandsKey)
	if err != nil {
		return err
	}
	var stored []StoredCommand
	if ok && strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &stored); err != nil {
			return err
		}
	}
	var next int64 = 1
	if n := len(stored); n > 0 {
		next = stored[n-1].ID + 1
	}
	stored = append(stored, StoredCommand{ID: next, Cmd: string(cmd)})
	payload, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	return store.Set(ctx, commandsKey, string(payload))
}
