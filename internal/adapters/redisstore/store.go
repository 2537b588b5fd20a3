package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fractalTrader/internal/ports"
)

const defaultPrefix = "fractaltrader:"

// kvClient is the subset of redis.UniversalClient the store uses.
type kvClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Store implements ports.Store on Redis string keys holding JSON values.
type Store struct {
	client kvClient
	logger ports.Logger
	prefix string
	close  func() error
}

// Config holds configuration for the Redis store.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	Logger   ports.Logger
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Redis store")
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis at '%s': %w: %w", cfg.Addr, ports.ErrDBConnection, err)
	}
	cfg.Logger.Info(ctx, "Redis store ready", map[string]interface{}{"addr": cfg.Addr})
	s := newStore(client, cfg.Prefix, cfg.Logger)
	s.close = client.Close
	return s, nil
}

func newStore(client kvClient, prefix string, logger ports.Logger) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{client: client, logger: logger, prefix: prefix}
}

// Get decodes the JSON value stored under key into dest.
func (s *Store) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	op := "Get"
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		err = fmt.Errorf("%s failed: %w: %w", op, ports.ErrQueryFailed, err)
		s.logger.Error(ctx, err, op+": Redis read failed", map[string]interface{}{"key": key})
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("%s failed: %w: decoding value of %q: %w", op, ports.ErrQueryFailed, key, err)
	}
	return true, nil
}

// Set JSON-encodes value and stores it under key without expiry.
func (s *Store) Set(ctx context.Context, key string, value interface{}) error {
	op := "Set"
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%s failed: %w: encoding value of %q: %w", op, ports.ErrUpdateFailed, key, err)
	}
	if err := s.client.Set(ctx, s.key(key), data, 0).Err(); err != nil {
		err = fmt.Errorf("%s failed: %w: %w", op, ports.ErrUpdateFailed, err)
		s.logger.Error(ctx, err, op+": Redis write failed", map[string]interface{}{"key": key})
		return err
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s.close == nil {
		return nil
	}
	s.logger.Info(context.Background(), "Closing Redis connection")
	return s.close()
}

func (s *Store) key(k string) string {
	return s.prefix + k
}
