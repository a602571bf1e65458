package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"

	"github.com/ilyakaznacheev/cleanenv"
)

type (
	Config struct {
		App         `json:"app"         toml:"app"`
		HTTP        `json:"http"        toml:"http"`
		DB          `json:"db"          toml:"db"`
		Log         `json:"logger"      toml:"logger"`
		Marketplace `json:"marketplace" toml:"marketplace"`
		Payments    `json:"payments"    toml:"payments"`
		Delivery    `json:"delivery"    toml:"delivery"`
		Workers     `json:"workers"     toml:"workers"`
		Redis       `json:"redis"       toml:"redis"`
		Kafka       `json:"kafka"       toml:"kafka"`
		RateLimit   `json:"rate_limit"  toml:"rate_limit"`
		AML         `json:"aml"         toml:"aml"`
		Admin       `json:"admin"       toml:"admin"`
		Auth        `json:"auth"        toml:"auth"`
	}

	App struct {
		Name        string `json:"name"        toml:"name"        env:"APP_NAME"`
		Environment string `json:"environment" toml:"environment" env:"ENV_NAME" env-default:"dev"`
		Debug       bool   `json:"debug"       toml:"debug"       env:"DEBUG"    env-default:"false"`
	}

	// HTTP.TrustedProxies lists the CIDRs whose X-Forwarded-For header is honoured.
	HTTP struct {
		Port           string   `json:"port"            toml:"port"            env:"HTTP_PORT" env-default:"8080"`
		AllowedOrigins []string `json:"allowed_origins" toml:"allowed_origins" env:"HTTP_ALLOWED_ORIGINS" env-separator:","`
		TrustedProxies []string `json:"trusted_proxies" toml:"trusted_proxies" env:"HTTP_TRUSTED_PROXIES" env-separator:","`
	}

	// DB.Driver is "postgres" or "memory"; the memory store is meant for local runs only.
	DB struct {
		Driver            string `json:"driver"              toml:"driver"              env:"DB_DRIVER"            env-default:"postgres"`
		DatabaseURL       string `json:"database_url"        toml:"database_url"        env:"DATABASE_URL"`
		MigrationsPath    string `json:"migrations_path"     toml:"migrations_path"     env:"MIGRATIONS_PATH"      env-default:"./migrations"`
		PoolMax           int32  `json:"pool_max"            toml:"pool_max"            env:"PG_POOL_MAX"          env-default:"10"`
		ConnectTimeout    int    `json:"connect_timeout"     toml:"connect_timeout"     env:"PG_POOL_CONN_TIMEOUT" env-default:"5"`
		HealthCheckPeriod int    `json:"health_check_period" toml:"health_check_period" env:"PG_POOL_HEALTHCHECK"  env-default:"1"`
	}

	Log struct {
		Level slog.Level `json:"level" toml:"level" env:"LOG_LEVEL"`
	}

	Marketplace struct {
		PlatformCommissionRate string `json:"platform_commission_rate" toml:"platform_commission_rate" env:"PLATFORM_COMMISSION_RATE" env-default:"0.05"`
		ReferrerCommissionRate string `json:"referrer_commission_rate" toml:"referrer_commission_rate" env:"REFERRER_COMMISSION_RATE" env-default:"0.10"`
		MinPayoutAmount        string `json:"min_payout_amount"        toml:"min_payout_amount"        env:"MIN_PAYOUT_AMOUNT"        env-default:"10"`
	}

	Payments struct {
		APIURL             string `json:"api_url"         toml:"api_url"         env:"NOWPAYMENTS_API_URL" env-default:"https://api.nowpayments.io/v1"`
		APIKey             string `json:"api_key"         toml:"api_key"         env:"NOWPAYMENTS_API_KEY"`
		IPNSecret          string `json:"ipn_secret"      toml:"ipn_secret"      env:"NOWPAYMENTS_IPN_SECRET"`
		CallbackURL        string `json:"callback_url"    toml:"callback_url"    env:"NOWPAYMENTS_CALLBACK_URL"`
		PriceCurrency      string `json:"price_currency"  toml:"price_currency"  env:"PRICE_CURRENCY"         env-default:"usd"`
		DefaultPayCurrency string `json:"default_pay_currency" toml:"default_pay_currency" env:"DEFAULT_PAY_CURRENCY" env-default:"usdttrc20"`
		RequestTimeout     int    `json:"request_timeout" toml:"request_timeout" env:"NOWPAYMENTS_TIMEOUT"    env-default:"15"`
		WebhookTimeout     int    `json:"webhook_timeout" toml:"webhook_timeout" env:"WEBHOOK_TIMEOUT"        env-default:"10"`
	}

	Delivery struct {
		URL            string `json:"url"             toml:"url"             env:"DELIVERY_URL"`
		Token          string `json:"token"           toml:"token"           env:"DELIVERY_TOKEN"`
		RequestTimeout int    `json:"request_timeout" toml:"request_timeout" env:"DELIVERY_TIMEOUT" env-default:"30"`
	}

	// Workers intervals and ages are in minutes.
	Workers struct {
		RecoveryInterval     int `json:"recovery_interval"      toml:"recovery_interval"      env:"RECOVERY_INTERVAL"      env-default:"60"`
		RecoveryGrace        int `json:"recovery_grace"         toml:"recovery_grace"         env:"RECOVERY_GRACE"         env-default:"5"`
		RecoveryHorizon      int `json:"recovery_horizon"       toml:"recovery_horizon"       env:"RECOVERY_HORIZON"       env-default:"10080"`
		RecoveryBatchSize    int `json:"recovery_batch_size"    toml:"recovery_batch_size"    env:"RECOVERY_BATCH_SIZE"    env-default:"100"`
		OrderExpiration      int `json:"order_expiration"       toml:"order_expiration"       env:"ORDER_EXPIRATION"       env-default:"2880"`
		OrderCleanupInterval int `json:"order_cleanup_interval" toml:"order_cleanup_interval" env:"ORDER_CLEANUP_INTERVAL" env-default:"30"`
	}

	Redis struct {
		Addr     string `json:"addr"     toml:"addr"     env:"REDIS_ADDR"`
		Password string `json:"password" toml:"password" env:"REDIS_PASSWORD"`
		DB       int    `json:"db"       toml:"db"       env:"REDIS_DB" env-default:"0"`
		Channel  string `json:"channel"  toml:"channel"  env:"REDIS_EVENTS_CHANNEL" env-default:"marketplace_events"`
	}

	Kafka struct {
		Brokers []string `json:"brokers" toml:"brokers" env:"KAFKA_BROKERS" env-separator:","`
		Topic   string   `json:"topic"   toml:"topic"   env:"KAFKA_TOPIC" env-default:"marketplace.events"`
	}

	// RateLimit.Backend is "memory" or "redis".
	RateLimit struct {
		Backend  string `json:"backend"  toml:"backend"  env:"RATE_LIMIT_BACKEND"  env-default:"memory"`
		Requests int    `json:"requests" toml:"requests" env:"RATE_LIMIT_REQUESTS" env-default:"60"`
		Window   int    `json:"window"   toml:"window"   env:"RATE_LIMIT_WINDOW"   env-default:"60"`
	}

	AML struct {
		TransactionThreshold string   `json:"transaction_threshold" toml:"transaction_threshold" env:"AML_TRANSACTION_THRESHOLD" env-default:"5000"`
		DenyList             []string `json:"deny_list"             toml:"deny_list"             env:"AML_DENY_LIST" env-separator:","`
		AMLBotAPIKey         string   `json:"amlbot_api_key"        toml:"amlbot_api_key"        env:"AMLBOT_API_KEY"`
		AMLBotAPIURL         string   `json:"amlbot_api_url"        toml:"amlbot_api_url"        env:"AMLBOT_API_URL"`
	}

	Admin struct {
		Token string `json:"token" toml:"token" env:"ADMIN_TOKEN"`
	}

	// Auth.TokenTTL is in minutes. An empty JWTSecret locks every user route.
	Auth struct {
		JWTSecret string `json:"jwt_secret" toml:"jwt_secret" env:"JWT_SECRET"`
		Issuer    string `json:"issuer"     toml:"issuer"     env:"JWT_ISSUER"    env-default:"digital-marketplace"`
		TokenTTL  int    `json:"token_ttl"  toml:"token_ttl"  env:"JWT_TOKEN_TTL" env-default:"1440"`
	}
)

func LoadConfig() (*Config, error) {
	cfg := &Config{}

	_, b, _, _ := runtime.Caller(0)
	basePath := filepath.Dir(b)

	configTomlPath := filepath.Join(basePath, "config.toml")
	err := cleanenv.ReadConfig(configTomlPath, cfg)
	if err != nil {
		configJsonPath := filepath.Join(basePath, "config.json")
		err = cleanenv.ReadConfig(configJsonPath, cfg)
		if err != nil {
			return nil, fmt.Errorf("config error: %w", err)
		}
	}

	err = cleanenv.ReadEnv(cfg)
	if err != nil {
		return nil, fmt.Errorf("env read error: %w", err)
	}

	return cfg, nil
}
