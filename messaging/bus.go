// Copyright 2026 The Chorus Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"log/slog"
	"sync"

	"github.com/chorus-foundation/chorus/coord"
)

// Bus is an in-process stand-in for the shared coordination channel:
// an envelope sent through any of its transports is delivered
// synchronously to every attached sink, the sender's included (the
// coordinator drops its own traffic by sender id, exactly as it does
// for the real channel). Integration tests and single-host multi-
// instance runs use a Bus in place of ChannelTransport.
type Bus struct {
	logger *slog.Logger

	mu    sync.Mutex
	sinks map[coord.InstanceID]EnvelopeSink
}

// NewBus returns an empty bus. A nil logger discards.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Bus{
		logger: logger,
		sinks:  make(map[coord.InstanceID]EnvelopeSink),
	}
}

// Attach registers an instance's inbound side. Attaching the same id
// again replaces the previous sink.
func (b *Bus) Attach(id coord.InstanceID, sink EnvelopeSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks[id] = sink
}

// Detach removes an instance, simulating a crash: its transport keeps
// working but nothing is delivered to it anymore.
func (b *Bus) Detach(id coord.InstanceID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sinks, id)
}

// Transport returns the sending side for one instance.
func (b *Bus) Transport(id coord.InstanceID) coord.Transport {
	return &busTransport{bus: b, id: id}
}

func (b *Bus) deliver(ctx context.Context, env coord.Envelope) {
	b.mu.Lock()
	sinks := make([]EnvelopeSink, 0, len(b.sinks))
	for _, sink := range b.sinks {
		sinks = append(sinks, sink)
	}
	b.mu.Unlock()

	for _, sink := range sinks {
		if err := sink.HandleEnvelope(ctx, env); err != nil {
			b.logger.Error("bus delivery failed",
				"from", env.From, "kind", env.Kind, "error", err)
		}
	}
}

type busTransport struct {
	bus *Bus
	id  coord.InstanceID
}

// Send validates the envelope the way the wire would and delivers it.
func (t *busTransport) Send(ctx context.Context, env coord.Envelope) error {
	// Encode and discard: a payload the real channel would reject
	// must fail here too, or tests pass on envelopes production drops.
	if _, err := env.EncodeText(); err != nil {
		return err
	}
	t.bus.deliver(ctx, env)
	return nil
}
