package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"lendchain/core/events"
	"lendchain/core/types"
)

const (
	defaultEventHistoryLimit = 4096
	eventSubscriberBuffer    = 32
	maxEventListLimit        = 500
)

// EventLog keeps the most recent registry events in emission order and fans
// them out to live subscribers. Sequence numbers start at 1 and never repeat
// within a process.
type EventLog struct {
	mu      sync.Mutex
	limit   int
	seq     uint64
	history []types.Event
	subs    map[uint64]chan types.Event
	nextID  uint64
}

// NewEventLog returns a log retaining up to limit events. A non-positive
// limit selects the default.
func NewEventLog(limit int) *EventLog {
	if limit <= 0 {
		limit = defaultEventHistoryLimit
	}
	return &EventLog{limit: limit, subs: make(map[uint64]chan types.Event)}
}

var _ events.Emitter = (*EventLog)(nil)

func render(evt events.Event) types.Event {
	if payload, ok := evt.(events.Payload); ok {
		if rendered := payload.Event(); rendered != nil {
			out := types.Event{Type: rendered.Type, Attributes: make(map[string]string, len(rendered.Attributes))}
			for k, v := range rendered.Attributes {
				out.Attributes[k] = v
			}
			return out
		}
	}
	return types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
}

func cloneEvent(evt types.Event) types.Event {
	cloned := evt
	cloned.Attributes = make(map[string]string, len(evt.Attributes))
	for k, v := range evt.Attributes {
		cloned.Attributes[k] = v
	}
	return cloned
}

// Emit implements events.Emitter.
func (l *EventLog) Emit(evt events.Event) {
	if l == nil || evt == nil {
		return
	}
	stored := render(evt)

	l.mu.Lock()
	l.seq++
	stored.Sequence = l.seq
	l.history = append(l.history, stored)
	if len(l.history) > l.limit {
		excess := len(l.history) - l.limit
		trimmed := make([]types.Event, l.limit)
		copy(trimmed, l.history[excess:])
		l.history = trimmed
	}
	for _, ch := range l.subs {
		select {
		case ch <- cloneEvent(stored):
		default:
		}
	}
	l.mu.Unlock()
}

// Latest returns the sequence number of the newest event, or zero.
func (l *EventLog) Latest() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// List returns up to limit retained events with a sequence number of at
// least from.
func (l *EventLog) List(from uint64, limit int) []types.Event {
	if limit <= 0 || limit > maxEventListLimit {
		limit = maxEventListLimit
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.Event, 0)
	for _, evt := range l.history {
		if evt.Sequence < from {
			continue
		}
		out = append(out, cloneEvent(evt))
		if len(out) == limit {
			break
		}
	}
	return out
}

// Subscribe registers a subscriber for events emitted after the cursor (a
// decimal sequence number; empty means from the start of retained history).
// It returns the live channel, a cancel function and the retained backlog.
// Slow subscribers miss events rather than blocking emitters. The channel is
// closed once cancel runs or ctx ends.
func (l *EventLog) Subscribe(ctx context.Context, cursor string) (<-chan types.Event, func(), []types.Event, error) {
	if l == nil {
		return nil, nil, nil, fmt.Errorf("event log not initialised")
	}
	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		parsed, err := strconv.ParseUint(trimmed, 10, 64)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("invalid cursor %q", cursor)
		}
		since = parsed
	}

	updates := make(chan types.Event, eventSubscriberBuffer)
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.subs[id] = updates
	backlog := make([]types.Event, 0, len(l.history))
	for _, evt := range l.history {
		if evt.Sequence > since {
			backlog = append(backlog, cloneEvent(evt))
		}
	}
	l.mu.Unlock()

	var once sync.Once
	done := make(chan struct{})
	cancel := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			l.mu.Unlock()
			close(updates)
			close(done)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return updates, cancel, backlog, nil
}
