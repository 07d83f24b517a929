package redis

import (
	"context"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spk364/procomp/internal/domain"
	"github.com/spk364/procomp/internal/errors"
	"github.com/spk364/procomp/internal/logging"
	"github.com/spk364/procomp/internal/metrics"
	"github.com/spk364/procomp/internal/retry"
)

const messageBufferSize = 256

var reconnectPolicy = retry.Policy{
	InitialBackoff: 250 * time.Millisecond,
	MaxBackoff:     10 * time.Second,
	OnRetry: func(attempt int, err error, backoff time.Duration) {
		slog.Warn("Broker reconnect attempt failed", "attempt", attempt, "backoff", backoff, "error", err)
	},
}

// Broker implements domain.Broker on Redis Pub/Sub. The receive loop runs
// for the process lifetime and reconnects with bounded backoff on transport
// failure, resubscribing to the channel set as it is at reconnect time.
// Messages published by other processes during the reconnect gap are lost;
// clients recover the current state point from the match API.
type Broker struct {
	rdb      *goredis.Client
	messages chan domain.BrokerMessage

	mu       sync.Mutex
	channels map[string]struct{}
	sub      *goredis.PubSub

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewBroker(rdb *goredis.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Broker{
		rdb:      rdb,
		messages: make(chan domain.BrokerMessage, messageBufferSize),
		channels: make(map[string]struct{}),
		sub:      rdb.Subscribe(ctx),
		ctx:      ctx,
		cancel:   cancel,
	}
	b.wg.Add(1)
	go b.receiveLoop()
	return b
}

// Publish sends a payload to a channel. Fire-and-forget: the caller logs and
// continues on failure, there is no retry queue.
func (b *Broker) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		metrics.BrokerPublishErrors.Inc()
		return errors.TransportError("failed to publish to broker", err).WithContext("channel", channel)
	}
	return nil
}

// Subscribe adds a channel to the subscription set.
func (b *Broker) Subscribe(ctx context.Context, channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels[channel] = struct{}{}
	if err := b.sub.Subscribe(ctx, channel); err != nil {
		// Keep the channel in the set: the reconnect path resubscribes it.
		return errors.TransportError("failed to subscribe", err).WithContext("channel", channel)
	}
	return nil
}

// Unsubscribe removes a channel from the subscription set.
func (b *Broker) Unsubscribe(ctx context.Context, channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.channels, channel)
	if err := b.sub.Unsubscribe(ctx, channel); err != nil {
		return errors.TransportError("failed to unsubscribe", err).WithContext("channel", channel)
	}
	return nil
}

// Messages returns the stream of messages received from the broker.
func (b *Broker) Messages() <-chan domain.BrokerMessage {
	return b.messages
}

// Close stops the receive loop and closes the message stream.
func (b *Broker) Close() error {
	b.cancel()
	b.mu.Lock()
	err := b.sub.Close()
	b.mu.Unlock()
	b.wg.Wait()
	close(b.messages)
	return err
}

func (b *Broker) receiveLoop() {
	defer b.wg.Done()

	for {
		b.mu.Lock()
		sub := b.sub
		b.mu.Unlock()

		msg, err := sub.ReceiveMessage(b.ctx)
		if err != nil {
			if b.ctx.Err() != nil {
				return
			}
			slog.Warn("Broker receive failed, reconnecting", "error", err)
			if !b.reconnect() {
				return
			}
			continue
		}

		metrics.BrokerBacklog.Set(float64(len(b.messages)))

		select {
		case b.messages <- domain.BrokerMessage{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
		default:
			// Receiver is not keeping up. Dropping is safe: payloads are
			// full snapshots and a later message supersedes this one.
			logging.WithChannel(msg.Channel).Warn("Broker message dropped, local fan-out backlog full")
		}
	}
}

// reconnect replaces the Pub/Sub connection and resubscribes to the live
// channel set. Returns false when the broker is shutting down.
func (b *Broker) reconnect() bool {
	err := retry.DoVoid(b.ctx, reconnectPolicy, func() error {
		b.mu.Lock()
		defer b.mu.Unlock()

		_ = b.sub.Close()
		b.sub = b.rdb.Subscribe(b.ctx)

		// Resubscribe to the channel set as it is now, not a stale snapshot.
		active := make([]string, 0, len(b.channels))
		for ch := range b.channels {
			active = append(active, ch)
		}
		if len(active) == 0 {
			return nil
		}
		return b.sub.Subscribe(b.ctx, active...)
	})
	if err != nil {
		return false
	}

	metrics.BrokerReconnectsTotal.Inc()
	slog.Info("Broker reconnected")
	return true
}
