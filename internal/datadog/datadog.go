package datadog

import (
	"github.com/DataDog/datadog-go/statsd"
	"github.com/rs/zerolog/log"
)

type Config struct {
	AgentAddr string
	Namespace string
	Tags      []string
}

// Client sends gauges to a DogStatsD agent. A nil Client drops everything,
// so callers can use it unconditionally.
type Client struct {
	statsd *statsd.Client
}

func New(cfg Config) (*Client, error) {
	c, err := statsd.New(cfg.AgentAddr,
		statsd.WithNamespace(cfg.Namespace),
		statsd.WithTags(cfg.Tags),
		statsd.WithoutTelemetry(),
	)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create DogStatsD client")
		return nil, err
	}

	log.Info().
		Str("addr", cfg.AgentAddr).
		Str("namespace", cfg.Namespace).
		Strs("tags", cfg.Tags).
		Msg("Datadog metrics initialized")
	return &Client{statsd: c}, nil
}

func (c *Client) Gauge(name string, value float64, tags ...string) {
	if c == nil || c.statsd == nil {
		return
	}
	if err := c.statsd.Gauge(name, value, tags, 1); err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("Failed to emit gauge metric")
	}
}

func (c *Client) Flush() error {
	if c == nil || c.statsd == nil {
		return nil
	}
	return c.statsd.Flush()
}

func (c *Client) Close() error {
	if c == nil || c.statsd == nil {
		return nil
	}
	return c.statsd.Close()
}
