package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// CoordinatorConfig holds configuration for the MosaicDB coordinator.
type CoordinatorConfig struct {
	NodeID   string
	BindAddr string
	RESTPort int
	LogLevel string

	// Storage layout
	StorageRoot  string // directory holding one SQLite file per shard
	RoutingIndex string // path to the routing index database file

	// Embedding collaborator
	EmbedEndpoint string
	EmbedModel    string
	EmbedDim      int

	// Routing
	HotCacheSize   int     // max RoutingEntry records held in memory
	MinSimilarity  float64 // default centroid similarity floor
	ShardLimitMax  int     // upper bound on shards per query
	RouterWorkers  int     // fixed scoring worker pool size
	RouterQueueLen int     // bounded queue in front of the workers

	// Fan-out
	FanoutLimit     int           // max concurrent per-shard sub-queries
	PerShardFactor  int           // per-shard limit K = query limit * factor
	FanoutTimeout   time.Duration // overall deadline for one fan-out
	PoolSize        int           // max pooled handles per shard
	PoolBusyTimeout time.Duration

	// Ranking
	PageRankMax       float64
	FreshnessHalfLife time.Duration
	RRFConstant       float64

	// Result cache
	CacheSize int
	CacheTTL  time.Duration

	// Routing index write batching
	StatsFlushInterval time.Duration
	StatsFlushMax      int
}

// LoadCoordinatorConfig loads coordinator configuration from file and
// MOSAICDB_* environment variables.
func LoadCoordinatorConfig(cfgFile string) (*CoordinatorConfig, error) {
	v := viper.New()

	v.SetDefault("node_id", getHostname())
	v.SetDefault("bind_addr", "0.0.0.0")
	v.SetDefault("rest_port", 8900)
	v.SetDefault("log_level", "info")

	v.SetDefault("storage_root", "/var/lib/mosaicdb/shards")
	v.SetDefault("routing_index", "/var/lib/mosaicdb/routing.db")

	v.SetDefault("embed_endpoint", "http://localhost:8920")
	v.SetDefault("embed_model", "all-MiniLM-L6-v2")
	v.SetDefault("embed_dim", 384)

	v.SetDefault("hot_cache_size", 10000)
	v.SetDefault("min_similarity", 0.1)
	v.SetDefault("shard_limit_max", 64)
	v.SetDefault("router_workers", 10)
	v.SetDefault("router_queue_len", 100)

	v.SetDefault("fanout_limit", 16)
	v.SetDefault("per_shard_factor", 3)
	v.SetDefault("fanout_timeout", "5s")
	v.SetDefault("pool_size", 5)
	v.SetDefault("pool_busy_timeout", "5s")

	v.SetDefault("pagerank_max", 100.0)
	v.SetDefault("freshness_half_life", "720h") // 30 days
	v.SetDefault("rrf_constant", 60.0)

	v.SetDefault("cache_size", 1000)
	v.SetDefault("cache_ttl", "300s")

	v.SetDefault("stats_flush_interval", "5s")
	v.SetDefault("stats_flush_max", 256)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("coordinator")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/mosaicdb/")
		v.AddConfigPath("$HOME/.mosaicdb/")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("MOSAICDB")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &CoordinatorConfig{
		NodeID:   v.GetString("node_id"),
		BindAddr: v.GetString("bind_addr"),
		RESTPort: v.GetInt("rest_port"),
		LogLevel: v.GetString("log_level"),

		StorageRoot:  v.GetString("storage_root"),
		RoutingIndex: v.GetString("routing_index"),

		EmbedEndpoint: v.GetString("embed_endpoint"),
		EmbedModel:    v.GetString("embed_model"),
		EmbedDim:      v.GetInt("embed_dim"),

		HotCacheSize:   v.GetInt("hot_cache_size"),
		MinSimilarity:  v.GetFloat64("min_similarity"),
		ShardLimitMax:  v.GetInt("shard_limit_max"),
		RouterWorkers:  v.GetInt("router_workers"),
		RouterQueueLen: v.GetInt("router_queue_len"),

		FanoutLimit:     v.GetInt("fanout_limit"),
		PerShardFactor:  v.GetInt("per_shard_factor"),
		FanoutTimeout:   v.GetDuration("fanout_timeout"),
		PoolSize:        v.GetInt("pool_size"),
		PoolBusyTimeout: v.GetDuration("pool_busy_timeout"),

		PageRankMax:       v.GetFloat64("pagerank_max"),
		FreshnessHalfLife: v.GetDuration("freshness_half_life"),
		RRFConstant:       v.GetFloat64("rrf_constant"),

		CacheSize: v.GetInt("cache_size"),
		CacheTTL:  v.GetDuration("cache_ttl"),

		StatsFlushInterval: v.GetDuration("stats_flush_interval"),
		StatsFlushMax:      v.GetInt("stats_flush_max"),
	}

	return cfg, nil
}

func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
