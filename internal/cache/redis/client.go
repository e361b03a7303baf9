package redis

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Client struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

func NewClient(ctx context.Context, host string, port int, password string, db int, ttl time.Duration, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}

	addr := fmt.Sprintf("%s:%d", host, port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Info("Redis client initialized", zap.String("addr", addr))

	return &Client{client: client, ttl: ttl, log: log}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func embeddingKey(hash string) string {
	return "embedding:" + hash
}

// GetEmbeddings looks up all keys in one round trip. Misses are nil.
func (c *Client) GetEmbeddings(ctx context.Context, keys []string) ([][]float32, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	redisKeys := make([]string, len(keys))
	for i, k := range keys {
		redisKeys[i] = embeddingKey(k)
	}

	values, err := c.client.MGet(ctx, redisKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get embedding cache: %w", err)
	}

	out := make([][]float32, len(keys))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		vec, err := decodeVector([]byte(s))
		if err != nil {
			c.log.Warn("Dropping corrupt cache entry", zap.String("key", redisKeys[i]), zap.Error(err))
			continue
		}
		out[i] = vec
	}
	return out, nil
}

func (c *Client) SetEmbeddings(ctx context.Context, entries map[string][]float32) error {
	if len(entries) == 0 {
		return nil
	}

	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for k, vec := range entries {
			pipe.Set(ctx, embeddingKey(k), encodeVector(vec), c.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set embedding cache: %w", err)
	}
	return nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, errors.New("vector payload length is not a multiple of 4")
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
