package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all runtime configuration. Scalars come from the environment;
// ledgers, peers, fees and rates come from the optional CONFIG_FILE.
type Config struct {
	HTTPPort    string
	DatabaseURL string
	RedisURL    string
	StoreDriver string
	BadgerDir   string
	LogLevel    string

	ConnectorID string

	PeerJWTIssuer   string
	PeerJWTAudience string

	NotificationHMACKey        string
	NotificationSkipSignature bool

	MinExpiry          time.Duration
	MaxExpiry          time.Duration
	ExpirySafetyMargin time.Duration
	DefaultExpiry      time.Duration

	DirectoryRefreshInterval time.Duration
	DirectoryMaxStaleness    time.Duration
	RecoveryInterval         time.Duration

	PeerSearchLimit  int
	PeerQuoteTimeout time.Duration
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration

	PublicRateLimitRPS int
	PeerRateLimitRPS   int
	IdempotencyTTL     time.Duration

	DefaultFeeRate string
	Ledgers        []LedgerConfig
	Peers          []PeerConfig
	Fees           map[string]FeeConfig
	Rates          map[string]string
}

// LedgerConfig attaches the connector to one ledger. Balances seed the
// in-memory ledger backend; account names are matched case-insensitively.
type LedgerConfig struct {
	ID            string            `mapstructure:"id"`
	Asset         string            `mapstructure:"asset"`
	Scale         int32             `mapstructure:"scale"`
	Account       string            `mapstructure:"account"`
	Escrow        string            `mapstructure:"escrow"`
	FeeAccount    string            `mapstructure:"fee_account"`
	DefaultExpiry time.Duration     `mapstructure:"default_expiry"`
	Balances      map[string]string `mapstructure:"balances"`
}

// PeerConfig describes one neighbouring connector. JWTSecret signs the
// tokens exchanged with that peer only; ${VAR} references are expanded from
// the environment so secrets can stay out of the file.
type PeerConfig struct {
	ID           string   `mapstructure:"id"`
	BaseURL      string   `mapstructure:"base_url"`
	SharedLedger string   `mapstructure:"shared_ledger"`
	Account      string   `mapstructure:"account"`
	Ledgers      []string `mapstructure:"ledgers"`
	JWTSecret    string   `mapstructure:"jwt_secret"`
}

// FeeConfig overrides the fee schedule for one asset.
type FeeConfig struct {
	Rate    string `mapstructure:"rate"`
	Minimum string `mapstructure:"minimum"`
	Scale   int32  `mapstructure:"scale"`
}

// Load reads environment variables and the optional config file using viper
// and returns a typed config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	bindEnv(v, "config_file", "CONFIG_FILE", "CONNECTOR_CONFIG_FILE")
	bindEnv(v, "port", "PORT", "CONNECTOR_PORT")
	bindEnv(v, "database_url", "DATABASE_URL", "CONNECTOR_DATABASE_URL")
	bindEnv(v, "redis_url", "REDIS_URL", "CONNECTOR_REDIS_URL")
	bindEnv(v, "store_driver", "STORE_DRIVER", "CONNECTOR_STORE_DRIVER")
	bindEnv(v, "badger_dir", "BADGER_DIR", "CONNECTOR_BADGER_DIR")
	bindEnv(v, "log_level", "LOG_LEVEL", "CONNECTOR_LOG_LEVEL")
	bindEnv(v, "connector_id", "CONNECTOR_ID")
	bindEnv(v, "peer_jwt_issuer", "PEER_JWT_ISSUER", "CONNECTOR_PEER_JWT_ISSUER")
	bindEnv(v, "peer_jwt_audience", "PEER_JWT_AUDIENCE", "CONNECTOR_PEER_JWT_AUDIENCE")
	bindEnv(v, "notification_hmac_key", "NOTIFICATION_HMAC_KEY", "CONNECTOR_NOTIFICATION_HMAC_KEY")
	bindEnv(v, "notification_skip_sig", "NOTIFICATION_SKIP_SIG", "CONNECTOR_NOTIFICATION_SKIP_SIG")
	bindEnv(v, "min_expiry", "MIN_EXPIRY", "CONNECTOR_MIN_EXPIRY")
	bindEnv(v, "max_expiry", "MAX_EXPIRY", "CONNECTOR_MAX_EXPIRY")
	bindEnv(v, "expiry_safety_margin", "EXPIRY_SAFETY_MARGIN", "CONNECTOR_EXPIRY_SAFETY_MARGIN")
	bindEnv(v, "default_expiry", "DEFAULT_EXPIRY", "CONNECTOR_DEFAULT_EXPIRY")
	bindEnv(v, "directory_refresh_interval", "DIRECTORY_REFRESH_INTERVAL", "CONNECTOR_DIRECTORY_REFRESH_INTERVAL")
	bindEnv(v, "directory_max_staleness", "DIRECTORY_MAX_STALENESS", "CONNECTOR_DIRECTORY_MAX_STALENESS")
	bindEnv(v, "recovery_interval", "RECOVERY_INTERVAL", "CONNECTOR_RECOVERY_INTERVAL")
	bindEnv(v, "peer_search_limit", "PEER_SEARCH_LIMIT", "CONNECTOR_PEER_SEARCH_LIMIT")
	bindEnv(v, "peer_quote_timeout", "PEER_QUOTE_TIMEOUT", "CONNECTOR_PEER_QUOTE_TIMEOUT")
	bindEnv(v, "retry_base_delay", "RETRY_BASE_DELAY", "CONNECTOR_RETRY_BASE_DELAY")
	bindEnv(v, "retry_max_delay", "RETRY_MAX_DELAY", "CONNECTOR_RETRY_MAX_DELAY")
	bindEnv(v, "public_rate_limit_rps", "PUBLIC_RATE_LIMIT_RPS", "CONNECTOR_PUBLIC_RATE_LIMIT_RPS")
	bindEnv(v, "peer_rate_limit_rps", "PEER_RATE_LIMIT_RPS", "CONNECTOR_PEER_RATE_LIMIT_RPS")
	bindEnv(v, "idempotency_ttl", "IDEMPOTENCY_TTL", "CONNECTOR_IDEMPOTENCY_TTL")
	bindEnv(v, "default_fee_rate", "DEFAULT_FEE_RATE", "CONNECTOR_DEFAULT_FEE_RATE")

	v.SetDefault("port", "8080")
	v.SetDefault("database_url", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("store_driver", "")
	v.SetDefault("badger_dir", "data/transfers")
	v.SetDefault("log_level", "info")
	v.SetDefault("peer_jwt_issuer", "ilp-connector")
	v.SetDefault("peer_jwt_audience", "ilp-peers")
	v.SetDefault("notification_skip_sig", false)
	v.SetDefault("min_expiry", "1s")
	v.SetDefault("max_expiry", "0s")
	v.SetDefault("expiry_safety_margin", "1s")
	v.SetDefault("default_expiry", "10s")
	v.SetDefault("directory_refresh_interval", "1m")
	v.SetDefault("directory_max_staleness", "5m")
	v.SetDefault("recovery_interval", "30s")
	v.SetDefault("peer_search_limit", 4)
	v.SetDefault("peer_quote_timeout", "3s")
	v.SetDefault("retry_base_delay", "50ms")
	v.SetDefault("retry_max_delay", "1s")
	v.SetDefault("public_rate_limit_rps", 10)
	v.SetDefault("peer_rate_limit_rps", 100)
	v.SetDefault("idempotency_ttl", "24h")
	v.SetDefault("default_fee_rate", "0")

	if path := v.GetString("config_file"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		HTTPPort:                  v.GetString("port"),
		DatabaseURL:               v.GetString("database_url"),
		RedisURL:                  v.GetString("redis_url"),
		StoreDriver:               strings.ToLower(v.GetString("store_driver")),
		BadgerDir:                 v.GetString("badger_dir"),
		LogLevel:                  v.GetString("log_level"),
		ConnectorID:               v.GetString("connector_id"),
		PeerJWTIssuer:             v.GetString("peer_jwt_issuer"),
		PeerJWTAudience:           v.GetString("peer_jwt_audience"),
		NotificationHMACKey:       v.GetString("notification_hmac_key"),
		NotificationSkipSignature: v.GetBool("notification_skip_sig"),
		PeerSearchLimit:           max(v.GetInt("peer_search_limit"), 1),
		PublicRateLimitRPS:        max(v.GetInt("public_rate_limit_rps"), 1),
		PeerRateLimitRPS:          max(v.GetInt("peer_rate_limit_rps"), 1),
		DefaultFeeRate:            v.GetString("default_fee_rate"),
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"min_expiry", &cfg.MinExpiry},
		{"max_expiry", &cfg.MaxExpiry},
		{"expiry_safety_margin", &cfg.ExpirySafetyMargin},
		{"default_expiry", &cfg.DefaultExpiry},
		{"directory_refresh_interval", &cfg.DirectoryRefreshInterval},
		{"directory_max_staleness", &cfg.DirectoryMaxStaleness},
		{"recovery_interval", &cfg.RecoveryInterval},
		{"peer_quote_timeout", &cfg.PeerQuoteTimeout},
		{"retry_base_delay", &cfg.RetryBaseDelay},
		{"retry_max_delay", &cfg.RetryMaxDelay},
		{"idempotency_ttl", &cfg.IdempotencyTTL},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(v.GetString(d.key))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", strings.ToUpper(d.key), err)
		}
		*d.dst = parsed
	}

	if err := v.UnmarshalKey("ledgers", &cfg.Ledgers); err != nil {
		return nil, fmt.Errorf("invalid ledgers: %w", err)
	}
	if err := v.UnmarshalKey("peers", &cfg.Peers); err != nil {
		return nil, fmt.Errorf("invalid peers: %w", err)
	}
	for i := range cfg.Peers {
		cfg.Peers[i].JWTSecret = os.ExpandEnv(cfg.Peers[i].JWTSecret)
	}
	if err := v.UnmarshalKey("fees", &cfg.Fees); err != nil {
		return nil, fmt.Errorf("invalid fees: %w", err)
	}
	if err := v.UnmarshalKey("rates", &cfg.Rates); err != nil {
		return nil, fmt.Errorf("invalid rates: %w", err)
	}

	if cfg.StoreDriver == "" {
		cfg.StoreDriver = "badger"
		if cfg.DatabaseURL != "" {
			cfg.StoreDriver = "postgres"
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.ConnectorID) == "" {
		return fmt.Errorf("CONNECTOR_ID is required")
	}
	switch c.StoreDriver {
	case "badger":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is postgres")
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be postgres or badger, got %q", c.StoreDriver)
	}
	if len(c.Peers) > 0 {
		if strings.TrimSpace(c.PeerJWTIssuer) == "" {
			return fmt.Errorf("PEER_JWT_ISSUER is required")
		}
		if strings.TrimSpace(c.PeerJWTAudience) == "" {
			return fmt.Errorf("PEER_JWT_AUDIENCE is required")
		}
	}
	if !c.NotificationSkipSignature && strings.TrimSpace(c.NotificationHMACKey) == "" {
		return fmt.Errorf("NOTIFICATION_HMAC_KEY is required when NOTIFICATION_SKIP_SIG is false")
	}
	if c.ExpirySafetyMargin <= 0 {
		return fmt.Errorf("EXPIRY_SAFETY_MARGIN must be positive")
	}
	if c.MinExpiry <= 0 {
		return fmt.Errorf("MIN_EXPIRY must be positive")
	}
	if c.MaxExpiry != 0 && c.MaxExpiry < c.MinExpiry+c.ExpirySafetyMargin {
		return fmt.Errorf("MAX_EXPIRY must leave room for MIN_EXPIRY plus EXPIRY_SAFETY_MARGIN")
	}
	for i, l := range c.Ledgers {
		if l.ID == "" || l.Asset == "" || l.Account == "" {
			return fmt.Errorf("ledgers[%d]: id, asset and account are required", i)
		}
		if !strings.HasSuffix(l.ID, ".") {
			return fmt.Errorf("ledgers[%d]: ledger id %q must end with a dot", i, l.ID)
		}
	}
	secrets := make(map[string]string, len(c.Peers))
	for i, p := range c.Peers {
		if p.ID == "" || p.BaseURL == "" || p.SharedLedger == "" || p.Account == "" {
			return fmt.Errorf("peers[%d]: id, base_url, shared_ledger and account are required", i)
		}
		if len(p.JWTSecret) < 32 {
			return fmt.Errorf("peers[%d]: jwt_secret must be at least 32 characters", i)
		}
		if owner, ok := secrets[p.JWTSecret]; ok {
			return fmt.Errorf("peers[%d]: jwt_secret is already used by peer %q", i, owner)
		}
		secrets[p.JWTSecret] = p.ID
	}
	return nil
}

func bindEnv(v *viper.Viper, key string, names ...string) {
	args := append([]string{key}, names...)
	_ = v.BindEnv(args...)
}
