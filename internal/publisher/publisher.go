// Package publisher drives the outbound replication path: publish when
// online, enqueue to the outbox when offline or on failure, and auto-flush
// the outbox on reconnect (spec §4.7).
//
// The flush loop's "stop on first failure, keep order" contract mirrors the
// teacher's Replicator.sendReplicateRequest, generalized from a single HTTP
// POST to a batch drain of the durable outbox. The flush loop itself does not
// retry or back off; a stopped flush resumes on the next FlushOutbox call.
package publisher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"merklekv/internal/metrics"
	"merklekv/internal/outbox"
	"merklekv/internal/replev"
	"merklekv/internal/transport"
)

// DefaultBatchSize is how many events flushOutbox drains per batch (spec §4.7).
const DefaultBatchSize = 100

// TopicReplicationEventsSuffix is appended to the topic prefix to form the
// fanout topic events publish to (spec §6).
const TopicReplicationEventsSuffix = "/replication/events"

// Publisher is the outbound path: encode, publish, and fall back to the
// outbox when offline.
type Publisher struct {
	transport transport.Transport
	outbox    *outbox.Queue
	metrics   metrics.Surface
	log       zerolog.Logger
	topic     string
	batchSize int

	mu     sync.Mutex
	online bool
	now    func() time.Time
}

// New creates a Publisher bound to topicPrefix+"/replication/events". It
// starts in the online state and then follows every transition the
// transport reports on its ConnectionState channel.
func New(t transport.Transport, ob *outbox.Queue, m metrics.Surface, log zerolog.Logger, topicPrefix string) *Publisher {
	p := &Publisher{
		transport: t,
		outbox:    ob,
		metrics:   m,
		log:       log,
		topic:     topicPrefix + TopicReplicationEventsSuffix,
		batchSize: DefaultBatchSize,
		online:    true,
		now:       time.Now,
	}
	go p.watchConnectionState()
	return p
}

func (p *Publisher) watchConnectionState() {
	for state := range p.transport.ConnectionState() {
		wasOffline := !p.isOnline()
		p.setOnline(state == transport.Connected)
		if state == transport.Connected && wasOffline {
			if err := p.FlushOutbox(context.Background()); err != nil {
				p.log.Warn().Err(err).Msg("publisher: auto-flush after reconnect failed")
			}
		}
	}
}

func (p *Publisher) isOnline() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

func (p *Publisher) setOnline(online bool) {
	p.mu.Lock()
	p.online = online
	p.mu.Unlock()
}

// Publish sends ev now if the transport is online, else enqueues it in the
// outbox for later delivery (spec §4.7).
func (p *Publisher) Publish(ctx context.Context, ev replev.Event) error {
	payload, err := replev.Encode(ev)
	if err != nil {
		// Oversize/invalid events never reach the outbox (spec §5 backpressure).
		return fmt.Errorf("publisher: encode: %w", err)
	}

	if !p.isOnline() {
		return p.enqueue(ev)
	}

	start := p.now()
	pubErr := p.transport.Publish(ctx, p.topic, payload, 1, false)
	p.metrics.ObservePublishLatencyMs(float64(p.now().Sub(start).Microseconds()) / 1000)

	if pubErr != nil {
		p.metrics.IncPublishErrors()
		return p.enqueue(ev)
	}

	p.metrics.IncEventsPublished(1)
	return nil
}

func (p *Publisher) enqueue(ev replev.Event) error {
	if err := p.outbox.Enqueue(ev); err != nil {
		return fmt.Errorf("publisher: outbox enqueue: %w", err)
	}
	p.metrics.SetOutboxSize(p.outbox.Size())
	return nil
}

// FlushOutbox drains the outbox in FIFO batches while online, stopping at
// the first publish failure so the un-acked suffix stays in order for the
// next attempt (spec §4.7).
func (p *Publisher) FlushOutbox(ctx context.Context) error {
	for p.isOnline() {
		batch := p.outbox.PeekBatch(p.batchSize)
		if len(batch) == 0 {
			return nil
		}

		sent := 0
		for _, ev := range batch {
			payload, err := replev.Encode(ev)
			if err != nil {
				// Should not happen for events that were already encodable
				// once; treat as a publish failure and stop, preserving order.
				break
			}
			if err := p.transport.Publish(ctx, p.topic, payload, 1, false); err != nil {
				p.metrics.IncPublishErrors()
				break
			}
			sent++
			p.metrics.IncEventsPublished(1)

			select {
			case <-ctx.Done():
				if ackErr := p.outbox.AckBatch(sent); ackErr != nil {
					return ackErr
				}
				return ctx.Err()
			default:
			}
		}

		if err := p.outbox.AckBatch(sent); err != nil {
			return err
		}
		p.metrics.SetOutboxSize(p.outbox.Size())

		if sent < len(batch) {
			return nil // stopped early on a failure; caller retries later
		}
	}
	return nil
}
