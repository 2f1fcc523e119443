// Package redisstore is a checkpoint.Store on Redis. Each descriptor is a
// hash; conditional writes run as Lua scripts so the lease check and the
// write are one atomic step.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ripkitten-co/prowl"
	"github.com/ripkitten-co/prowl/checkpoint"
	"github.com/ripkitten-co/prowl/internal/codecs"
)

const (
	fieldStatus      = "status"
	fieldPosition    = "position"
	fieldState       = "state"
	fieldLockedUntil = "locked_until"
)

// KEYS[1] descriptor hash, KEYS[2] names set, ARGV[1] name, then field/value pairs
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
for i = 2, #ARGV, 2 do
	redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
redis.call('ZADD', KEYS[2], 0, ARGV[1])
return 1
`)

// KEYS[1] descriptor hash, ARGV[1] lock-free instant in unix micros, then pairs
var conditionalScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
local locked = redis.call('HGET', KEYS[1], 'locked_until')
if locked and locked ~= '' and tonumber(locked) >= tonumber(ARGV[1]) then
	return 0
end
for i = 2, #ARGV, 2 do
	redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
return 1
`)

// KEYS[1] descriptor hash, ARGV field/value pairs
var updateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
for i = 1, #ARGV, 2 do
	redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
return 1
`)

type Option func(*Store)

// WithNamespace prefixes every key. Defaults to "prowl".
func WithNamespace(ns string) Option {
	return func(s *Store) { s.ns = ns }
}

// Store keeps descriptors in hashes named <ns>:projection:<name> and the
// name index in the sorted set <ns>:projections.
type Store struct {
	client redis.UniversalClient
	codec  codecs.Codec
	ns     string
}

// Dial connects to the Redis server at addr and verifies the connection.
func Dial(ctx context.Context, addr string, opts ...Option) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redisstore: connect %s: %w", addr, err)
	}
	return New(client, opts...), nil
}

func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, codec: codecs.NewJSONIter(), ns: "prowl"}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) Close() error { return s.client.Close() }

func (s *Store) key(name string) string { return s.ns + ":projection:" + name }
func (s *Store) namesKey() string       { return s.ns + ":projections" }

func (s *Store) Get(ctx context.Context, name string) (*checkpoint.Descriptor, error) {
	fields, err := s.client.HGetAll(ctx, s.key(name)).Result()
	if err != nil {
		return nil, fmt.Errorf("checkpoint %s: get: %w", name, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("checkpoint %s: get: %w", name, prowl.ErrProjectionNotFound)
	}

	d := &checkpoint.Descriptor{
		Name:     name,
		Status:   checkpoint.Status(fields[fieldStatus]),
		Position: map[string]int64{},
	}
	if raw := fields[fieldPosition]; raw != "" {
		if err := s.codec.Unmarshal([]byte(raw), &d.Position); err != nil {
			return nil, fmt.Errorf("checkpoint %s: decode position: %w", name, err)
		}
	}
	if raw, ok := fields[fieldState]; ok && raw != "" {
		d.State = []byte(raw)
	}
	if raw := fields[fieldLockedUntil]; raw != "" {
		micros, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("checkpoint %s: decode lock: %w", name, err)
		}
		t := time.UnixMicro(micros).UTC()
		d.LockedUntil = &t
	}
	return d, nil
}

func (s *Store) CreateIfAbsent(ctx context.Context, d checkpoint.Descriptor) (bool, error) {
	if d.Status == "" {
		d.Status = checkpoint.StatusIdle
	}
	if d.Position == nil {
		d.Position = map[string]int64{}
	}
	pairs, err := s.pairs(checkpoint.Patch{
		Status:      d.Status,
		Position:    d.Position,
		State:       d.State,
		LockedUntil: d.LockedUntil,
		ClearLock:   d.LockedUntil == nil,
	})
	if err != nil {
		return false, fmt.Errorf("checkpoint %s: create: %w", d.Name, err)
	}

	args := append([]any{d.Name}, pairs...)
	n, err := createScript.Run(ctx, s.client, []string{s.key(d.Name), s.namesKey()}, args...).Int64()
	if err != nil {
		return false, fmt.Errorf("checkpoint %s: create: %w", d.Name, err)
	}
	return n == 1, nil
}

func (s *Store) ConditionalUpdate(ctx context.Context, name string, pred checkpoint.Predicate, patch checkpoint.Patch) (int64, error) {
	pairs, err := s.pairs(patch)
	if err != nil {
		return 0, fmt.Errorf("checkpoint %s: conditional update: %w", name, err)
	}

	args := append([]any{pred.LockFreeAt.UnixMicro()}, pairs...)
	n, err := conditionalScript.Run(ctx, s.client, []string{s.key(name)}, args...).Int64()
	if err != nil {
		return 0, fmt.Errorf("checkpoint %s: conditional update: %w", name, err)
	}
	return n, nil
}

func (s *Store) Update(ctx context.Context, name string, patch checkpoint.Patch) error {
	pairs, err := s.pairs(patch)
	if err != nil {
		return fmt.Errorf("checkpoint %s: update: %w", name, err)
	}
	if len(pairs) == 0 {
		exists, err := s.client.Exists(ctx, s.key(name)).Result()
		if err != nil {
			return fmt.Errorf("checkpoint %s: update: %w", name, err)
		}
		if exists == 0 {
			return fmt.Errorf("checkpoint %s: update: %w", name, prowl.ErrProjectionNotFound)
		}
		return nil
	}

	n, err := updateScript.Run(ctx, s.client, []string{s.key(name)}, pairs...).Int64()
	if err != nil {
		return fmt.Errorf("checkpoint %s: update: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("checkpoint %s: update: %w", name, prowl.ErrProjectionNotFound)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, name string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(name))
		pipe.ZRem(ctx, s.namesKey(), name)
		return nil
	})
	if err != nil {
		return fmt.Errorf("checkpoint %s: delete: %w", name, err)
	}
	return nil
}

func (s *Store) Names(ctx context.Context, prefix string) ([]string, error) {
	by := &redis.ZRangeBy{Min: "-", Max: "+"}
	if prefix != "" {
		by = &redis.ZRangeBy{Min: "[" + prefix, Max: "(" + prefix + "\xff"}
	}
	names, err := s.client.ZRangeByLex(ctx, s.namesKey(), by).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint names: %w", err)
	}
	if len(names) == 0 {
		return nil, nil
	}
	return names, nil
}

// pairs flattens the set fields of p into HSET arguments.
func (s *Store) pairs(p checkpoint.Patch) ([]any, error) {
	var out []any
	if p.Status != "" {
		out = append(out, fieldStatus, string(p.Status))
	}
	if p.Position != nil {
		pos, err := s.codec.Marshal(p.Position)
		if err != nil {
			return nil, fmt.Errorf("encode position: %w", err)
		}
		out = append(out, fieldPosition, string(pos))
	}
	if p.State != nil {
		out = append(out, fieldState, string(p.State))
	}
	switch {
	case p.ClearLock:
		out = append(out, fieldLockedUntil, "")
	case p.LockedUntil != nil:
		out = append(out, fieldLockedUntil, strconv.FormatInt(p.LockedUntil.UnixMicro(), 10))
	}
	return out, nil
}

var _ checkpoint.Store = (*Store)(nil)
