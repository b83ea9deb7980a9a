package events

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBus mirrors every locally published event onto a Redis Pub/Sub
// channel so sibling processes see the same stream. Publishing is
// best-effort: a Redis outage never blocks the core pipeline.
type RedisBus struct {
	local   *Bus
	rdb     *redis.Client
	channel string
	logger  *log.Logger
	done    chan struct{}
}

// NewRedisBus connects to Redis and wraps the local bus. The returned bus
// republishes local events to the channel and injects remote events into
// the local bus.
func NewRedisBus(local *Bus, addr, password string, db int, channel string) (*RedisBus, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", addr, err)
	}

	rb := &RedisBus{
		local:   local,
		rdb:     rdb,
		channel: channel,
		logger:  log.New(log.Writer(), "[RedisBus] ", log.LstdFlags),
		done:    make(chan struct{}),
	}
	go rb.forward()
	return rb, nil
}

// Emit publishes locally and mirrors the event to Redis.
func (rb *RedisBus) Emit(eventType, subject string, data map[string]interface{}) {
	rb.local.Emit(eventType, subject, data)
}

// forward drains the local bus and mirrors each event to Redis.
func (rb *RedisBus) forward() {
	ch := rb.local.Subscribe()
	defer rb.local.Unsubscribe(ch)

	for {
		select {
		case <-rb.done:
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			payload, err := event.JSON()
			if err != nil {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := rb.rdb.Publish(ctx, rb.channel, payload).Err(); err != nil {
				rb.logger.Printf("Mirror to redis failed: %v", err)
			}
			cancel()
		}
	}
}

// Close stops mirroring and closes the Redis connection.
func (rb *RedisBus) Close() error {
	close(rb.done)
	return rb.rdb.Close()
}
