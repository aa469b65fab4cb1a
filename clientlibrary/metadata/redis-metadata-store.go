/*
 * Copyright (c) 2019 VMware, Inc.
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy of this software and
 * associated documentation files (the "Software"), to deal in the Software without restriction, including
 * without limitation the rights to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is furnished to do
 * so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all copies or substantial
 * portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR IMPLIED, INCLUDING BUT
 * NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.
 * IN NO EVENT SHALL THE AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY,
 * WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN CONNECTION WITH THE
 * SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
 */
package metadata

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKeyPrefix namespaces metadata entries in a shared Redis.
const DefaultRedisKeyPrefix = "spring:metadata"

var (
	// KEYS[1] key, ARGV[1] value. Returns the existing value, or false when stored.
	putIfAbsentScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current then
	return current
end
redis.call('SET', KEYS[1], ARGV[1])
return false
`)

	// KEYS[1] key, ARGV[1] expected value, ARGV[2] new value.
	replaceScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	redis.call('SET', KEYS[1], ARGV[2])
	return 1
end
return 0
`)

	// KEYS[1] key. Returns the removed value, or false when absent.
	removeScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current then
	redis.call('DEL', KEYS[1])
end
return current
`)
)

// RedisMetadataStore implements ConcurrentMetadataStore with plain string keys.
// Conditional writes run as Lua scripts so they are atomic on the server.
type RedisMetadataStore struct {
	client redis.Cmdable
	prefix string
}

// NewRedisMetadataStore returns a store keeping entries under prefix:key.
// An empty prefix selects DefaultRedisKeyPrefix.
func NewRedisMetadataStore(client redis.Cmdable, prefix string) *RedisMetadataStore {
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	return &RedisMetadataStore{client: client, prefix: prefix}
}

func (s *RedisMetadataStore) redisKey(key string) string {
	return s.prefix + ":" + key
}

func (s *RedisMetadataStore) Put(ctx context.Context, key, value string) error {
	if err := checkKeyValue(key, value); err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.redisKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *RedisMetadataStore) Get(ctx context.Context, key string) (string, error) {
	if err := checkKey(key); err != nil {
		return "", err
	}
	value, err := s.client.Get(ctx, s.redisKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

func (s *RedisMetadataStore) PutIfAbsent(ctx context.Context, key, value string) (string, error) {
	if err := checkKeyValue(key, value); err != nil {
		return "", err
	}
	existing, err := putIfAbsentScript.Run(ctx, s.client, []string{s.redisKey(key)}, value).Text()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("putIfAbsent %s: %w", key, err)
	}
	return existing, nil
}

func (s *RedisMetadataStore) Replace(ctx context.Context, key, oldValue, newValue string) (bool, error) {
	if err := checkKeyValue(key, oldValue); err != nil {
		return false, err
	}
	if newValue == "" {
		return false, ErrEmptyValue
	}
	replaced, err := replaceScript.Run(ctx, s.client, []string{s.redisKey(key)}, oldValue, newValue).Int()
	if err != nil {
		return false, fmt.Errorf("replace %s: %w", key, err)
	}
	return replaced == 1, nil
}

func (s *RedisMetadataStore) Remove(ctx context.Context, key string) (string, error) {
	if err := checkKey(key); err != nil {
		return "", err
	}
	value, err := removeScript.Run(ctx, s.client, []string{s.redisKey(key)}).Text()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("remove %s: %w", key, err)
	}
	return value, nil
}
