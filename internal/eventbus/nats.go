/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/fleetplan/internal/events"
)

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL           string
	Token         string
	SubjectPrefix string
	NodeID        string

	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "fleetplan.events",
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSBus publishes events on "<prefix>.<event type>" subjects and delivers
// events from other nodes to local subscribers.
type NATSBus struct {
	relay
	conn   *nats.Conn
	sub    *nats.Subscription
	prefix string
	logger zerolog.Logger
}

// NewNATSBus connects to NATS. If the server cannot be reached the bus
// degrades to in-process delivery only.
func NewNATSBus(cfg NATSConfig, logger zerolog.Logger) (*NATSBus, error) {
	defaults := DefaultNATSConfig()
	if cfg.URL == "" {
		cfg.URL = defaults.URL
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = defaults.SubjectPrefix
	}
	if cfg.NodeID == "" {
		cfg.NodeID = NewNodeID()
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = defaults.ReconnectWait
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaults.Timeout
	}

	nb := &NATSBus{
		relay:  relay{local: events.NewBus(), nodeID: cfg.NodeID},
		prefix: cfg.SubjectPrefix,
		logger: logger.With().Str("component", "nats_bus").Logger(),
	}

	opts := []nats.Option{
		nats.Name("fleetplan-" + cfg.NodeID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			nb.logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			nb.logger.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		nb.logger.Warn().Err(err).Str("url", cfg.URL).Msg("NATS connection failed, using in-memory event bus")
		return nb, nil
	}
	nb.conn = conn

	sub, err := conn.Subscribe(cfg.SubjectPrefix+".>", func(m *nats.Msg) {
		if _, err := nb.deliver(m.Data); err != nil {
			nb.logger.Error().Err(err).Str("subject", m.Subject).Msg("failed to decode NATS event")
		}
	})
	if err != nil {
		conn.Close()
		nb.conn = nil
		nb.logger.Warn().Err(err).Msg("NATS subscribe failed, using in-memory event bus")
		return nb, nil
	}
	nb.sub = sub

	nb.logger.Info().Str("url", cfg.URL).Str("node_id", cfg.NodeID).Msg("NATS event bus connected")
	return nb, nil
}

// Connected reports whether events leave this process.
func (nb *NATSBus) Connected() bool {
	return nb.conn != nil && nb.conn.IsConnected()
}

// Publish delivers payload locally and to the other nodes.
func (nb *NATSBus) Publish(eventType events.EventType, payload events.Payload) {
	nb.local.Publish(eventType, payload)
	if nb.conn == nil {
		return
	}

	data, err := marshalMessage(eventType, payload, nb.nodeID)
	if err != nil {
		nb.logger.Error().Err(err).Msg("failed to marshal NATS event")
		return
	}
	if err := nb.conn.Publish(nb.prefix+"."+string(eventType), data); err != nil {
		nb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to publish to NATS")
	}
}

// Close drains the subscription and closes the connection.
func (nb *NATSBus) Close() error {
	if nb.conn == nil {
		return nil
	}
	return nb.conn.Drain()
}
