// Package influx provides InfluxDB time-series metrics for the GOBT balance tracker.
// It records balance observations, server health scores and query durations.
package influx

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Client wraps InfluxDB operations for time-series metrics
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	bucket   string
	org      string
}

// Config holds InfluxDB connection configuration
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// NewClient creates a new InfluxDB client
func NewClient(cfg *Config) (*Client, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check InfluxDB health: %w", err)
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return nil, fmt.Errorf("InfluxDB health check failed: %s", msg)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)

	return &Client{
		client:   client,
		writeAPI: writeAPI,
		bucket:   cfg.Bucket,
		org:      cfg.Org,
	}, nil
}

// Close closes the InfluxDB connection
func (c *Client) Close() {
	c.writeAPI.Flush()
	c.client.Close()
}

// Health checks InfluxDB connectivity
func (c *Client) Health(ctx context.Context) error {
	health, err := c.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("failed to check health: %w", err)
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("health check failed: %s", msg)
	}

	return nil
}

// Tracking metrics

// WriteBalanceMetric writes an observed address balance
func (c *Client) WriteBalanceMetric(address, addressType string, confirmedSats, unconfirmedSats int64) {
	tags := map[string]string{
		"address":      address,
		"address_type": addressType,
	}

	fields := map[string]interface{}{
		"confirmed_sats":   confirmedSats,
		"unconfirmed_sats": unconfirmedSats,
	}

	point := write.NewPoint("address_balance", tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WriteServerHealthMetric writes a server health measurement
func (c *Client) WriteServerHealthMetric(host, transport string, healthScore, latencySeconds float64) {
	tags := map[string]string{
		"host":      host,
		"transport": transport,
	}

	fields := map[string]interface{}{
		"health_score":    healthScore,
		"latency_seconds": latencySeconds,
	}

	point := write.NewPoint("server_health", tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WriteQueryDurationMetric writes the duration of one Electrum query
func (c *Client) WriteQueryDurationMetric(method, outcome string, duration time.Duration) {
	tags := map[string]string{
		"method":  method,
		"outcome": outcome,
	}

	fields := map[string]interface{}{
		"duration_ms": float64(duration.Microseconds()) / 1000.0,
	}

	point := write.NewPoint("query_duration", tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// Flush forces a write of all pending points
func (c *Client) Flush() {
	c.writeAPI.Flush()
}
