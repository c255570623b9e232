/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/fleetplan/internal/events"
)

const defaultChannelPrefix = "fleetplan:events:"

// RedisBus implements a Redis pub/sub backed event bus for distributed
// deployments that already run Redis for the schedule.
type RedisBus struct {
	relay
	client redis.UniversalClient
	pubsub *redis.PubSub
	prefix string
	logger zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisBus pattern-subscribes to every event channel under prefix.
func NewRedisBus(ctx context.Context, client redis.UniversalClient, prefix, nodeID string, logger zerolog.Logger) (*RedisBus, error) {
	if prefix == "" {
		prefix = defaultChannelPrefix
	}
	if nodeID == "" {
		nodeID = NewNodeID()
	}

	pubsub := client.PSubscribe(ctx, prefix+"*")
	// Wait for the subscription to be confirmed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe to %s*: %w", prefix, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	rb := &RedisBus{
		relay:  relay{local: events.NewBus(), nodeID: nodeID},
		client: client,
		pubsub: pubsub,
		prefix: prefix,
		logger: logger.With().Str("component", "redis_bus").Logger(),
		cancel: cancel,
	}

	rb.wg.Add(1)
	go rb.receive(runCtx)

	rb.logger.Info().Str("prefix", prefix).Str("node_id", nodeID).Msg("Redis event bus initialized")
	return rb, nil
}

func (rb *RedisBus) receive(ctx context.Context) {
	defer rb.wg.Done()
	ch := rb.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				rb.logger.Warn().Msg("Redis pub/sub channel closed")
				return
			}
			if _, err := rb.deliver([]byte(msg.Payload)); err != nil {
				rb.logger.Error().Err(err).Str("channel", msg.Channel).Msg("failed to decode Redis event")
			}
		}
	}
}

// Publish delivers payload locally and to the other nodes.
func (rb *RedisBus) Publish(eventType events.EventType, payload events.Payload) {
	rb.local.Publish(eventType, payload)

	data, err := marshalMessage(eventType, payload, rb.nodeID)
	if err != nil {
		rb.logger.Error().Err(err).Msg("failed to marshal Redis event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rb.client.Publish(ctx, rb.prefix+string(eventType), data).Err(); err != nil {
		rb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to publish to Redis")
	}
}

// Close stops the receiver and the subscription. The client is owned by the
// caller.
func (rb *RedisBus) Close() error {
	rb.cancel()
	err := rb.pubsub.Close()
	rb.wg.Wait()
	return err
}
