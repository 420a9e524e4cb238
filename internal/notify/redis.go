/*
Copyright (C) 2026 Podo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig contains the pub/sub connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Circuit breaker: consecutive receive failures before Listen gives
	// up. The daily refresh covers missed updates, so giving up is safe.
	MaxFailures   int
	ReconnectWait time.Duration
}

func DefaultRedisConfig(addr, password string, db int) RedisConfig {
	return RedisConfig{
		Addr:          addr,
		Password:      password,
		DB:            db,
		DialTimeout:   5 * time.Second,
		ReadTimeout:   3 * time.Second,
		WriteTimeout:  3 * time.Second,
		MaxFailures:   5,
		ReconnectWait: 2 * time.Second,
	}
}

// RedisListener receives live updates over a Redis pub/sub channel.
type RedisListener struct {
	client   *redis.Client
	channel  string
	maxFails int
	wait     time.Duration
	logger   zerolog.Logger
}

// RedisChannel builds the per-device channel name.
func RedisChannel(companyID, deviceID string) string {
	return fmt.Sprintf("ad:%s:%s", companyID, deviceID)
}

func NewRedisListener(cfg RedisConfig, channel string, logger zerolog.Logger) (*RedisListener, error) {
	log := logger.With().Str("component", "notify.redis").Logger()
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close() //nolint:errcheck
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	log.Info().Str("addr", cfg.Addr).Str("channel", channel).Msg("redis listener connected")
	return &RedisListener{
		client:   client,
		channel:  channel,
		maxFails: cfg.MaxFailures,
		wait:     cfg.ReconnectWait,
		logger:   log,
	}, nil
}

// Listen consumes the channel until the context ends. A closed receive
// channel triggers a resubscribe; after maxFails consecutive failures the
// listener returns the last error.
func (l *RedisListener) Listen(ctx context.Context, handle Handler) error {
	fails := 0
	for {
		err := l.consume(ctx, handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		fails++
		if fails >= l.maxFails {
			return fmt.Errorf("redis listener giving up after %d failures: %w", fails, err)
		}
		l.logger.Warn().Err(err).Int("fail_count", fails).Msg("redis subscription lost, resubscribing")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.wait):
		}
	}
}

func (l *RedisListener) consume(ctx context.Context, handle Handler) error {
	pubsub := l.client.Subscribe(ctx, l.channel)
	defer pubsub.Close() //nolint:errcheck

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-ch:
			if !ok {
				return fmt.Errorf("redis channel closed")
			}
			var msg Message
			if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
				l.logger.Warn().Err(err).Msg("undecodable live update payload")
				continue
			}
			handle(ctx, msg)
		}
	}
}

func (l *RedisListener) Close() error {
	return l.client.Close()
}
