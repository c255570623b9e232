/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package schedule

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/fleetplan/internal/models"
)

const defaultKeyPrefix = "fleetplan:schedule:"

// KEYS: sequence, current
var assignScript = redis.NewScript(`
	local seq = tonumber(redis.call("get", KEYS[1]) or "0")
	local cur = tonumber(redis.call("get", KEYS[2]) or "0")
	if seq < cur then
		seq = cur
	end
	seq = seq + 1
	redis.call("set", KEYS[1], tostring(seq))
	return seq
`)

// KEYS: current, itinerary, sequence. ARGV: plan id, itinerary JSON.
var setScript = redis.NewScript(`
	local cur = tonumber(redis.call("get", KEYS[1]) or "0")
	local id = tonumber(ARGV[1])
	if id < cur then
		return {0, cur}
	end
	redis.call("set", KEYS[1], ARGV[1])
	redis.call("set", KEYS[2], ARGV[2])
	local seq = tonumber(redis.call("get", KEYS[3]) or "0")
	if seq < id then
		redis.call("set", KEYS[3], ARGV[1])
	end
	return {1, id}
`)

// RedisParticipant stores the schedule entry in Redis so that every fleet
// adapter process sees the same plan ids.
type RedisParticipant struct {
	client redis.UniversalClient
	name   string
	prefix string
	logger zerolog.Logger
}

// NewRedisParticipant creates a participant named name on an existing client.
func NewRedisParticipant(client redis.UniversalClient, prefix, name string, logger zerolog.Logger) *RedisParticipant {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisParticipant{
		client: client,
		name:   name,
		prefix: prefix,
		logger: logger.With().Str("component", "schedule").Str("participant", name).Logger(),
	}
}

func (r *RedisParticipant) Name() string { return r.name }

func (r *RedisParticipant) seqKey() string       { return r.prefix + r.name + ":plan_seq" }
func (r *RedisParticipant) currentKey() string   { return r.prefix + r.name + ":plan_id" }
func (r *RedisParticipant) itineraryKey() string { return r.prefix + r.name + ":itinerary" }

func (r *RedisParticipant) AssignPlanID(ctx context.Context) (models.PlanID, error) {
	n, err := assignScript.Run(ctx, r.client, []string{r.seqKey(), r.currentKey()}).Int64()
	if err != nil {
		return 0, fmt.Errorf("assign plan id: %w", err)
	}
	return models.PlanID(n), nil
}

func (r *RedisParticipant) CurrentPlanID(ctx context.Context) (models.PlanID, error) {
	n, err := r.client.Get(ctx, r.currentKey()).Uint64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get current plan id: %w", err)
	}
	return models.PlanID(n), nil
}

func (r *RedisParticipant) Set(ctx context.Context, id models.PlanID, itinerary models.Itinerary) error {
	payload, err := json.Marshal(itinerary)
	if err != nil {
		return fmt.Errorf("encode itinerary: %w", err)
	}

	res, err := setScript.Run(ctx, r.client,
		[]string{r.currentKey(), r.itineraryKey(), r.seqKey()},
		uint64(id), string(payload),
	).Int64Slice()
	if err != nil {
		return fmt.Errorf("set itinerary: %w", err)
	}
	if len(res) != 2 {
		return fmt.Errorf("set itinerary: unexpected reply %v", res)
	}
	if res[0] == 0 {
		return rejected(id, models.PlanID(res[1]))
	}

	r.logger.Debug().Uint64("plan_id", uint64(id)).Int("routes", len(itinerary)).Msg("itinerary set")
	return nil
}

func (r *RedisParticipant) Itinerary(ctx context.Context) (models.Itinerary, error) {
	raw, err := r.client.Get(ctx, r.itineraryKey()).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get itinerary: %w", err)
	}
	var it models.Itinerary
	if err := json.Unmarshal(raw, &it); err != nil {
		return nil, fmt.Errorf("decode itinerary: %w", err)
	}
	return it, nil
}
