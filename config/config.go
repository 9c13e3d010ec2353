package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Effects  EffectsConfig  `mapstructure:"effects"`
	Security SecurityConfig `mapstructure:"security"`
}

type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	Debug    bool   `mapstructure:"debug"`
	AdminKey string `mapstructure:"admin_key"`
	// AdminIPs restricts /api/admin to these addresses or CIDRs. Empty allows all.
	AdminIPs        []string      `mapstructure:"admin_ips"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Mode         string        `mapstructure:"mode"` // memory | sqlite | mysql
	SQLitePath   string        `mapstructure:"sqlite_path"`
	MySQLDSN     string        `mapstructure:"mysql_dsn"`
	MySQLMaxOpen int           `mapstructure:"mysql_max_open"`
	MySQLMaxIdle int           `mapstructure:"mysql_max_idle"`
	MySQLMaxLife time.Duration `mapstructure:"mysql_max_life"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

// EffectsConfig controls the effect catalog source and the periodic sweep.
type EffectsConfig struct {
	// CatalogPath is a .json/.yaml catalog file. Empty means load from the
	// effect_definitions table.
	CatalogPath   string        `mapstructure:"catalog_path"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// SweepRate caps instances processed per second during a bulk sweep.
	SweepRate     float64       `mapstructure:"sweep_rate"`
	SweepBurst    int           `mapstructure:"sweep_burst"`
	SweepLeaseTTL time.Duration `mapstructure:"sweep_lease_ttl"`
	// PurgeInterval is how often logically removed rows are hard-deleted.
	// Zero disables purging.
	PurgeInterval time.Duration `mapstructure:"purge_interval"`
	EventChannel  string        `mapstructure:"event_channel"`
	// HistoryLen is the number of recent events kept per character.
	HistoryLen int `mapstructure:"history_len"`
}

type SecurityConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	JWTTTL         time.Duration `mapstructure:"jwt_ttl"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
}

// Load reads config from the given YAML file path. Environment variables
// prefixed with COMBAT_ override file values, e.g. COMBAT_SECURITY_JWT_SECRET.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/combat.db")
	v.SetDefault("database.mysql_max_open", 50)
	v.SetDefault("database.mysql_max_idle", 10)
	v.SetDefault("database.mysql_max_life", "1h")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("effects.sweep_interval", "1s")
	v.SetDefault("effects.sweep_rate", 2000)
	v.SetDefault("effects.sweep_burst", 200)
	v.SetDefault("effects.sweep_lease_ttl", "30s")
	v.SetDefault("effects.purge_interval", "1h")
	v.SetDefault("effects.event_channel", "effects")
	v.SetDefault("effects.history_len", 50)
	v.SetDefault("security.jwt_ttl", "24h")
	v.SetDefault("security.rate_limit_rps", 100)
	v.SetDefault("security.rate_limit_burst", 200)

	v.SetEnvPrefix("COMBAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
