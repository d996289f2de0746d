// SPDX-License-Identifier: AGPL-3.0-or-later
// iaxhub - an in-process telephony message bus and IAX2 transaction core
// Copyright (C) 2023-2026 Jacob McSwain
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

package message

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
)

const connsPerCPU = 10
const maxIdleTime = 5 * time.Minute

// RedisSinkConfig configures the optional Redis-backed post-hook sink.
type RedisSinkConfig struct {
	Host         string
	Port         int
	Password     string
	Channel      string
	TraceEnabled bool
}

// RedisSink publishes a JSON summary of every dispatched message to a
// Redis pub/sub channel, for out-of-process log or metrics consumers. It
// never influences dispatch and is safe to install/uninstall like any
// other PostHook.
type RedisSink struct {
	client  *redis.Client
	channel string
}

type redisSummary struct {
	Name     string `json:"name"`
	Accepted bool   `json:"accepted"`
	Handlers string `json:"handlers,omitempty"`
}

// NewRedisSink dials Redis and returns a ready sink. Call Hook to obtain
// the PostHook to install on a Dispatcher, and Close when done.
func NewRedisSink(ctx context.Context, cfg RedisSinkConfig) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:        cfg.Password,
		PoolFIFO:        true,
		PoolSize:        runtime.GOMAXPROCS(0) * connsPerCPU,
		MinIdleConns:    runtime.GOMAXPROCS(0),
		ConnMaxIdleTime: maxIdleTime,
	})
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("message: connect to redis: %w", err)
	}

	if cfg.TraceEnabled {
		if err := redisotel.InstrumentTracing(client); err != nil {
			return nil, fmt.Errorf("message: instrument redis tracing: %w", err)
		}
		if err := redisotel.InstrumentMetrics(client); err != nil {
			return nil, fmt.Errorf("message: instrument redis metrics: %w", err)
		}
	}

	channel := cfg.Channel
	if channel == "" {
		channel = "iaxhub.messages"
	}
	return &RedisSink{client: client, channel: channel}, nil
}

// Hook returns a PostHook publishing every observed message to Redis.
// Marshal/publish errors are swallowed; this sink is best-effort
// telemetry, never a dispatch dependency.
func (s *RedisSink) Hook() *PostHook {
	return &PostHook{
		Name: "redis-sink",
		Handle: func(msg *Message, accepted bool) {
			payload, err := json.Marshal(redisSummary{
				Name:     msg.Name,
				Accepted: accepted,
				Handlers: msg.Param("handlers"),
			})
			if err != nil {
				return
			}
			_ = s.client.Publish(context.Background(), s.channel, payload).Err()
		},
	}
}

// Close releases the underlying Redis client.
func (s *RedisSink) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("message: close redis sink: %w", err)
	}
	return nil
}
