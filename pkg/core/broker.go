// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"log/slog"
	"sync"
)

// DefaultSubscriberBuffer is the channel capacity of each subscription.
const DefaultSubscriberBuffer = 32

// Broker delivers events to the subscribers of their thread. Slow
// subscribers lose events instead of blocking the publisher.
type Broker struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]chan Event
	next   uint64
	buffer int
	log    *slog.Logger
}

// NewBroker creates a Broker; buffer <= 0 uses DefaultSubscriberBuffer.
func NewBroker(buffer int, log *slog.Logger) *Broker {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	if log == nil {
		log = slog.Default()
	}
	return &Broker{subs: make(map[string]map[uint64]chan Event), buffer: buffer, log: log}
}

// Subscribe returns a channel of threadID's events and a cancel func that
// closes it. cancel is safe to call more than once.
func (b *Broker) Subscribe(threadID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	id := b.next
	ch := make(chan Event, b.buffer)
	if b.subs[threadID] == nil {
		b.subs[threadID] = make(map[uint64]chan Event)
	}
	b.subs[threadID][id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[threadID], id)
			if len(b.subs[threadID]) == 0 {
				delete(b.subs, threadID)
			}
			close(ch)
		})
	}
}

// Notify implements Notifier.
func (b *Broker) Notify(ctx context.Context, ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[ev.ThreadID] {
		select {
		case ch <- ev:
		default:
			b.log.WarnContext(ctx, "broker.event.dropped",
				slog.String("thread_id", ev.ThreadID),
				slog.String("type", string(ev.Type)),
			)
		}
	}
}

// Subscribers returns the number of live subscriptions for threadID.
func (b *Broker) Subscribers(threadID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[threadID])
}
