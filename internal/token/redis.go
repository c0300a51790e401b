// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/jeranaias/petwell/internal/logging"
)

// DefaultRedisChannel is the pub/sub channel used for change announcements.
const DefaultRedisChannel = "petwell:credentials"

// redisNotice is published on every write. Token values are never broadcast;
// subscribers fetch the current value themselves.
type redisNotice struct {
	Namespace string `json:"ns"`
	Key       Key    `json:"key"`
	Removed   bool   `json:"removed"`
	Origin    string `json:"origin"`
}

// RedisStore shares the credential slots between processes through Redis.
// Writes go to plain string keys; a pub/sub channel announces them so other
// clients of the same namespace observe logins, refreshes and logouts.
type RedisStore struct {
	client    redis.UniversalClient
	namespace string
	channel   string
	origin    string
	log       logrus.FieldLogger

	subs   subscribers
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisChannel overrides the announcement channel.
func WithRedisChannel(channel string) RedisOption {
	return func(s *RedisStore) {
		if channel != "" {
			s.channel = channel
		}
	}
}

// WithRedisLogger sets the logger used by the subscription loop.
func WithRedisLogger(l logrus.FieldLogger) RedisOption {
	return func(s *RedisStore) { s.log = l }
}

// NewRedisStore verifies connectivity and starts listening for changes made
// by other clients. namespace separates independent sessions (one per user
// profile) on a shared Redis.
func NewRedisStore(ctx context.Context, client redis.UniversalClient, namespace string, opts ...RedisOption) (*RedisStore, error) {
	if namespace == "" {
		namespace = "default"
	}
	s := &RedisStore{
		client:    client,
		namespace: namespace,
		channel:   DefaultRedisChannel,
		origin:    uuid.New().String(),
		log:       logging.Std(),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis unreachable: %w", err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	pubsub := client.Subscribe(subCtx, s.channel)
	// Wait for the subscription to be confirmed so no announcement published
	// after construction is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", s.channel, err)
	}

	go s.listen(subCtx, pubsub)
	return s, nil
}

func (s *RedisStore) redisKey(k Key) string {
	return "petwell:" + s.namespace + ":" + string(k)
}

func (s *RedisStore) Get(ctx context.Context, key Key) (string, error) {
	v, err := s.client.Get(ctx, s.redisKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, nil
}

func (s *RedisStore) Set(ctx context.Context, key Key, value string) error {
	var err error
	if value == "" {
		err = s.client.Del(ctx, s.redisKey(key)).Err()
	} else {
		err = s.client.Set(ctx, s.redisKey(key), value, 0).Err()
	}
	if err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	s.announce(ctx, redisNotice{Key: key, Removed: value == ""})
	return nil
}

// Clear deletes every slot in one DEL, which Redis applies atomically.
func (s *RedisStore) Clear(ctx context.Context) error {
	keys := make([]string, len(Keys))
	for i, k := range Keys {
		keys[i] = s.redisKey(k)
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis clear: %w", err)
	}
	for _, k := range Keys {
		s.announce(ctx, redisNotice{Key: k, Removed: true})
	}
	return nil
}

func (s *RedisStore) Subscribe(fn func(Change)) func() {
	return s.subs.add(fn)
}

// Close stops the subscription loop. The client is owned by the caller.
func (s *RedisStore) Close() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}

func (s *RedisStore) announce(ctx context.Context, n redisNotice) {
	n.Origin = s.origin
	n.Namespace = s.namespace
	payload, err := json.Marshal(n)
	if err != nil {
		return
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		logging.Event(s.log, "TOKEN_PUBLISH_FAILED").WithError(err).Warn("could not announce credential change")
	}
}

func (s *RedisStore) listen(ctx context.Context, pubsub *redis.PubSub) {
	defer close(s.done)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			s.handle(ctx, msg.Payload)
		}
	}
}

func (s *RedisStore) handle(ctx context.Context, payload string) {
	var n redisNotice
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		logging.Event(s.log, "TOKEN_NOTICE_INVALID").WithError(err).Debug("ignoring malformed credential notice")
		return
	}
	if n.Origin == s.origin || n.Namespace != s.namespace {
		return
	}

	c := Change{Key: n.Key, Removed: n.Removed}
	if !n.Removed {
		v, err := s.Get(ctx, n.Key)
		if err != nil {
			logging.Event(s.log, "TOKEN_NOTICE_FETCH_FAILED").WithError(err).Warn("could not read announced credential")
			return
		}
		c.Value = v
		c.Removed = v == ""
	}
	s.subs.publish(c)
}
