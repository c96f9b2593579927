package incidents

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// RedisKV stores every record key as a field of one Redis hash.
type RedisKV struct {
	redis  *redis.Client
	key    string
	tracer trace.Tracer
}

func NewRedisKV(client *redis.Client, key string) *RedisKV {
	if client == nil {
		panic("incidents: redis client cannot be nil")
	}
	if key == "" {
		key = "safeguard:store"
	}
	return &RedisKV{
		redis:  client,
		key:    key,
		tracer: otel.Tracer("safeguard.internal.incidents.redis"),
	}
}

func (s *RedisKV) Get(ctx context.Context, keys ...string) (Record, error) {
	ctx, span := s.tracer.Start(ctx, "incidents.redis.get")
	defer span.End()

	out := make(Record)
	if len(keys) == 0 {
		all, err := s.redis.HGetAll(ctx, s.key).Result()
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("incidents: redis hgetall: %w", err)
		}
		for k, v := range all {
			out[k] = json.RawMessage(v)
		}
		return out, nil
	}

	vals, err := s.redis.HMGet(ctx, s.key, keys...).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("incidents: redis hmget: %w", err)
	}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		out[keys[i]] = json.RawMessage(str)
	}
	return out, nil
}

func (s *RedisKV) Set(ctx context.Context, rec Record) error {
	ctx, span := s.tracer.Start(ctx, "incidents.redis.set")
	defer span.End()

	if len(rec) == 0 {
		return nil
	}
	fields := make(map[string]any, len(rec))
	for k, v := range rec {
		fields[k] = string(v)
	}
	if err := s.redis.HSet(ctx, s.key, fields).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("incidents: redis hset: %w", err)
	}
	return nil
}

func (s *RedisKV) Clear(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "incidents.redis.clear")
	defer span.End()

	if err := s.redis.Del(ctx, s.key).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("incidents: redis del: %w", err)
	}
	return nil
}
