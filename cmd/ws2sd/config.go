package main

import (
	"time"

	"github.com/alecthomas/kong"

	"github.com/matst80/ws2s/internal/ratelimit"
	"github.com/matst80/ws2s/internal/relay"
)

// Config holds all runtime configuration derived from flags, the WS2SD_*
// environment and an optional TOML file.
type Config struct {
	ConfigFile kong.ConfigFlag `name:"config" short:"c" help:"TOML config file." placeholder:"FILE"`

	Listen  string `default:":3613" env:"WS2SD_LISTEN" help:"Bridge listen address."`
	Path    string `default:"/" help:"HTTP path serving the WebSocket endpoint."`
	Metrics string `default:":9100" env:"WS2SD_METRICS" help:"Metrics, health and dashboard listen address."`
	Debug   bool   `env:"WS2SD_DEBUG" help:"Enable debug logs."`

	RedisAddr     string `name:"redis-addr" env:"WS2SD_REDIS_ADDR" help:"Redis address; sessions are kept in memory when empty."`
	RedisPassword string `name:"redis-password" env:"WS2SD_REDIS_PASSWORD" help:"Redis password."`
	RedisDB       int    `name:"redis-db" help:"Redis database number."`
	Instance      string `env:"WS2SD_INSTANCE" help:"Instance id recorded with each session."`

	DialTimeout time.Duration `default:"10s" help:"Timeout for dialing a target and for writes to it."`
	ChunkSize   int           `default:"32768" help:"Max bytes per data message sent to clients."`
	ReadLimit   int64         `default:"1048576" help:"Max size of one inbound WebSocket message."`
	Origins     []string      `help:"Allowed Origin host patterns for browser clients."`
	TrustProxy  bool          `help:"Take the peer address from X-Forwarded-For."`

	RateSessions     int           `name:"rate-sessions" help:"Sessions opened per second across all peers (0 = unlimited)."`
	RatePeerSessions int           `name:"rate-peer-sessions" default:"5" help:"Sessions opened per second per peer (0 = unlimited)."`
	RateCommands     int           `name:"rate-commands" help:"Commands per second across all peers (0 = unlimited)."`
	RatePeerCommands int           `name:"rate-peer-commands" default:"200" help:"Commands per second per peer (0 = unlimited)."`
	RateBurst        int           `name:"rate-burst" default:"20" help:"Bucket capacity for every limit."`
	RatePrune        time.Duration `name:"rate-prune" default:"1m" help:"Interval for dropping idle per-peer buckets."`

	TLSCert string `name:"tls-cert" help:"TLS certificate file; enables wss."`
	TLSKey  string `name:"tls-key" help:"TLS private key file."`
	TLSCA   string `name:"tls-ca" help:"CA file for client certificate verification (enables mTLS)."`
}

func (c *Config) storeConfig() relay.StoreConfig {
	return relay.StoreConfig{
		RedisAddr:     c.RedisAddr,
		RedisPassword: c.RedisPassword,
		RedisDB:       c.RedisDB,
		Instance:      c.Instance,
	}
}

func (c *Config) rateConfig() ratelimit.Config {
	return ratelimit.Config{
		GlobalSessions: c.RateSessions,
		PeerSessions:   c.RatePeerSessions,
		GlobalCommands: c.RateCommands,
		PeerCommands:   c.RatePeerCommands,
		Burst:          c.RateBurst,
	}
}

func (c *Config) serverOptions(store relay.Store, limiter *ratelimit.Limiter) relay.Options {
	return relay.Options{
		Store:          store,
		Limiter:        limiter,
		DialTimeout:    c.DialTimeout,
		ChunkSize:      c.ChunkSize,
		ReadLimit:      c.ReadLimit,
		OriginPatterns: c.Origins,
		TrustProxy:     c.TrustProxy,
		Instance:       c.Instance,
	}
}
