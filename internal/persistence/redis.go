package persistence

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shuttlegw/gateway/internal/config"
	"github.com/shuttlegw/gateway/internal/shuttle"
)

const (
	shuttleStateKeyPrefix = "shuttle_state:"
	commandRegistryKey    = "command_registry"
)

// Store persists shuttle state and the command registry to Redis so a
// restarted gateway can rehydrate without waiting to relearn status from
// each shuttle's next heartbeat.
type Store struct {
	client *redis.Client
	logger *slog.Logger
}

// NewStore builds a Redis-backed Store and verifies connectivity with a ping.
func NewStore(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (*Store, error) {
	opts := &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	if logger != nil {
		logger.Info("redis store connected", slog.String("address", opts.Addr), slog.Int("db", cfg.DB))
	}
	return &Store{client: client, logger: logger}, nil
}

// Close releases the underlying Redis connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

// SaveShuttleState writes a single shuttle's snapshot under its own key.
func (s *Store) SaveShuttleState(ctx context.Context, snap shuttle.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal shuttle state: %w", err)
	}
	key := shuttleStateKeyPrefix + snap.ShuttleID
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("save shuttle state %s: %w", snap.ShuttleID, err)
	}
	return nil
}

// SaveAllShuttleStates snapshots every handle and writes each key. Failures
// for individual shuttles are logged but do not abort the remaining writes.
func (s *Store) SaveAllShuttleStates(ctx context.Context, states map[string]shuttle.Snapshot) {
	for id, snap := range states {
		if err := s.SaveShuttleState(ctx, snap); err != nil {
			if s.logger != nil {
				s.logger.Error("failed to persist shuttle state", slog.String("shuttle_id", id), slog.Any("error", err))
			}
		}
	}
}

// LoadShuttleState returns the persisted snapshot for one shuttle, if any.
func (s *Store) LoadShuttleState(ctx context.Context, shuttleID string) (shuttle.Snapshot, bool, error) {
	var snap shuttle.Snapshot
	data, err := s.client.Get(ctx, shuttleStateKeyPrefix+shuttleID).Result()
	if err == redis.Nil {
		return snap, false, nil
	}
	if err != nil {
		return snap, false, fmt.Errorf("load shuttle state %s: %w", shuttleID, err)
	}
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return snap, false, fmt.Errorf("unmarshal shuttle state %s: %w", shuttleID, err)
	}
	return snap, true, nil
}

// LoadAllShuttleStates scans every shuttle_state:* key and returns a map
// keyed by shuttle ID, mirroring the original's get_all_shuttle_states scan.
func (s *Store) LoadAllShuttleStates(ctx context.Context) (map[string]shuttle.Snapshot, error) {
	result := make(map[string]shuttle.Snapshot)
	iter := s.client.Scan(ctx, 0, shuttleStateKeyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan shuttle states: %w", err)
	}
	if len(keys) == 0 {
		return result, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget shuttle states: %w", err)
	}
	for i, key := range keys {
		raw, ok := values[i].(string)
		if !ok || raw == "" {
			continue
		}
		var snap shuttle.Snapshot
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			if s.logger != nil {
				s.logger.Warn("skipping unreadable persisted shuttle state", slog.String("key", key), slog.Any("error", err))
			}
			continue
		}
		shuttleID := key[len(shuttleStateKeyPrefix):]
		result[shuttleID] = snap
	}
	return result, nil
}

// SaveCommandRegistry persists the full in-flight/terminal command record
// snapshot as one JSON blob, matching the original's single-key approach.
func (s *Store) SaveCommandRegistry(ctx context.Context, records map[string]*shuttle.Record) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal command registry: %w", err)
	}
	if err := s.client.Set(ctx, commandRegistryKey, data, 0).Err(); err != nil {
		return fmt.Errorf("save command registry: %w", err)
	}
	return nil
}

// LoadCommandRegistry returns the last persisted command registry snapshot.
func (s *Store) LoadCommandRegistry(ctx context.Context) (map[string]*shuttle.Record, error) {
	data, err := s.client.Get(ctx, commandRegistryKey).Result()
	if err == redis.Nil {
		return map[string]*shuttle.Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load command registry: %w", err)
	}
	var records map[string]*shuttle.Record
	if err := json.Unmarshal([]byte(data), &records); err != nil {
		return nil, fmt.Errorf("unmarshal command registry: %w", err)
	}
	return records, nil
}
