// Package redis provides Redis caching for the GOBT balance tracker.
// It holds the refreshed Electrum server list and short-lived balance caches.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// serverListKey is where the ranked Electrum server list document lives.
const serverListKey = "electrum:servers"

// Client wraps Redis operations for the balance tracker
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration
type Config struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewClient creates a new Redis client
func NewClient(cfg *Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health checks Redis connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Server list

// ServerEntry is one ranked server in the cached server list
type ServerEntry struct {
	Host           string  `json:"host"`
	Port           int     `json:"port"`
	Transport      string  `json:"transport"`
	HealthScore    float64 `json:"health_score"`
	LatencySeconds float64 `json:"latency_seconds"`
	Version        string  `json:"version"`
}

// ServerList is the ranked server list document downstream consumers read
type ServerList struct {
	Servers   []ServerEntry `json:"servers"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// SetServerList stores the ranked server list. The list has no expiration
// so consumers always see the last successful refresh.
func (c *Client) SetServerList(ctx context.Context, list *ServerList) error {
	jsonData, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("failed to marshal server list: %w", err)
	}

	if err := c.rdb.Set(ctx, serverListKey, jsonData, 0).Err(); err != nil {
		return fmt.Errorf("failed to set server list: %w", err)
	}

	return nil
}

// GetServerList retrieves the ranked server list.
// It returns nil without an error when no list has been stored yet.
func (c *Client) GetServerList(ctx context.Context) (*ServerList, error) {
	jsonData, err := c.rdb.Get(ctx, serverListKey).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get server list: %w", err)
	}

	list := &ServerList{}
	if err := json.Unmarshal([]byte(jsonData), list); err != nil {
		return nil, fmt.Errorf("failed to unmarshal server list: %w", err)
	}

	return list, nil
}

// Balance cache

// CachedBalance is the cached balance document for one address
type CachedBalance struct {
	Address         string    `json:"address"`
	AddressType     string    `json:"address_type"`
	ConfirmedSats   int64     `json:"confirmed_sats"`
	UnconfirmedSats int64     `json:"unconfirmed_sats"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// SetBalance caches a balance with expiration
func (c *Client) SetBalance(ctx context.Context, bal *CachedBalance, expiration time.Duration) error {
	jsonData, err := json.Marshal(bal)
	if err != nil {
		return fmt.Errorf("failed to marshal balance: %w", err)
	}

	key := fmt.Sprintf("balance:%s", bal.Address)
	if err := c.rdb.Set(ctx, key, jsonData, expiration).Err(); err != nil {
		return fmt.Errorf("failed to set balance cache: %w", err)
	}

	return nil
}

// GetBalance retrieves a cached balance.
// It returns nil without an error on a cache miss.
func (c *Client) GetBalance(ctx context.Context, address string) (*CachedBalance, error) {
	key := fmt.Sprintf("balance:%s", address)
	jsonData, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get balance cache: %w", err)
	}

	bal := &CachedBalance{}
	if err := json.Unmarshal([]byte(jsonData), bal); err != nil {
		return nil, fmt.Errorf("failed to unmarshal balance: %w", err)
	}

	return bal, nil
}
