package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Security SecurityConfig `mapstructure:"security"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Trading  TradingConfig  `mapstructure:"trading"`
	Mint     MintConfig     `mapstructure:"mint"`
}

type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	Debug    bool   `mapstructure:"debug"`
	AdminKey string `mapstructure:"admin_key"`
	// AdminIPs restricts admin routes to these client addresses. Empty
	// means no IP restriction; the admin key still applies.
	AdminIPs []string `mapstructure:"admin_ips"`
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

type SecurityConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	JWTTTLH        time.Duration `mapstructure:"jwt_ttl_h"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
}

type LedgerConfig struct {
	RPCAddr    string `mapstructure:"rpc_addr"`
	Package    string `mapstructure:"package"`     // on-ledger package the game contracts live in
	SignerAddr string `mapstructure:"signer_addr"` // operator wallet engine-side calls are signed as
	// GasEstimates supplies per-flow-kind fallbacks when a ledger response
	// carries no gas figure. Keys match flow kind names.
	GasEstimates map[string]int64 `mapstructure:"gas_estimates"`
	GasPrice     int64            `mapstructure:"gas_price"`
}

type TradingConfig struct {
	MaxSlots         int           `mapstructure:"max_slots"`
	BalanceTolerance int           `mapstructure:"balance_tolerance"`
	LockTTL          time.Duration `mapstructure:"lock_ttl"`
	ProposalTTL      time.Duration `mapstructure:"proposal_ttl"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	// Retention is how long terminal proposals and flows stay readable in
	// memory before the retention sweep evicts them.
	Retention       time.Duration `mapstructure:"retention"`
	HistoryCap      int           `mapstructure:"history_cap"`
	SuggestionLimit int           `mapstructure:"suggestion_limit"`
}

type MintConfig struct {
	QueueSize   int           `mapstructure:"queue_size"`
	JobInterval time.Duration `mapstructure:"job_interval"`
	Collection  string        `mapstructure:"collection"` // on-ledger collection new assets join
}

// Load reads config from the given YAML file path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/terravale.db")
	v.SetDefault("database.mysql_max_open", 50)
	v.SetDefault("database.mysql_max_idle", 10)
	v.SetDefault("database.mysql_max_life", "1h")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("security.jwt_ttl_h", "72h")
	v.SetDefault("security.rate_limit_rps", 100)
	v.SetDefault("security.rate_limit_burst", 200)
	v.SetDefault("ledger.gas_price", 1)
	v.SetDefault("trading.max_slots", 6)
	v.SetDefault("trading.balance_tolerance", 5)
	v.SetDefault("trading.lock_ttl", "5m")
	v.SetDefault("trading.proposal_ttl", "24h")
	v.SetDefault("trading.sweep_interval", "30s")
	v.SetDefault("trading.retention", "1h")
	v.SetDefault("trading.history_cap", 50)
	v.SetDefault("trading.suggestion_limit", 5)
	v.SetDefault("mint.queue_size", 128)
	v.SetDefault("mint.job_interval", "1s")
	v.SetDefault("mint.collection", "terravale")

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
