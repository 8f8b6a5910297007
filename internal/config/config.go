package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	DB struct {
		DSN string `yaml:"dsn"`
	} `yaml:"db"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Auth struct {
		JWTSecret  string   `yaml:"jwt_secret"`
		AdminRoles []string `yaml:"admin_roles"`
	} `yaml:"auth"`
	MercadoPago struct {
		BaseURL        string `yaml:"base_url"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
		WebhookSecret  string `yaml:"webhook_secret"`
	} `yaml:"mercadopago"`
	PicPay struct {
		BaseURL        string `yaml:"base_url"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"picpay"`
	Platform Platform `yaml:"platform"`
	Reconcile struct {
		PrepMinutes        int `yaml:"prep_minutes"`
		ClaimWaitMillis    int `yaml:"claim_wait_millis"`
		ClaimWaitAttempts  int `yaml:"claim_wait_attempts"`
		MaxPollAgeMinutes  int `yaml:"max_poll_age_minutes"`
		SubscriptionPeriod int `yaml:"subscription_period_days"`
	} `yaml:"reconcile"`
	Stream struct {
		IntervalSeconds int      `yaml:"interval_seconds"`
		AllowedOrigins  []string `yaml:"allowed_origins"`
	} `yaml:"stream"`
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	Worker struct {
		IntervalSeconds   int64 `yaml:"interval_seconds"`
		MinAgeSeconds     int64 `yaml:"min_age_seconds"`
		BatchSize         int   `yaml:"batch_size"`
		StuckAfterMinutes int   `yaml:"stuck_after_minutes"`
	} `yaml:"worker"`
	Mail struct {
		BaseURL  string `yaml:"base_url"`
		APIKey   string `yaml:"api_key"`
		From     string `yaml:"from"`
		FromName string `yaml:"from_name"`
	} `yaml:"mail"`
}

// Platform holds the platform-level payment credential used for subscription
// charges and their refunds. Tenants never see it.
type Platform struct {
	MercadoPagoAccessToken string `yaml:"mercadopago_access_token"`
}

func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML, applies env overrides and defaults, and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if cfg.Server.Addr == "" {
		return nil, errors.New("server.addr is required")
	}
	if cfg.DB.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("auth.jwt_secret is required")
	}
	return &cfg, nil
}

func (c *Config) PrepWindow() time.Duration {
	return time.Duration(c.Reconcile.PrepMinutes) * time.Minute
}

func (c *Config) MaxPollAge() time.Duration {
	return time.Duration(c.Reconcile.MaxPollAgeMinutes) * time.Minute
}

func (c *Config) ClaimWait() time.Duration {
	return time.Duration(c.Reconcile.ClaimWaitMillis) * time.Millisecond
}

func (c *Config) SubscriptionPeriod() time.Duration {
	return time.Duration(c.Reconcile.SubscriptionPeriod) * 24 * time.Hour
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if len(cfg.Auth.AdminRoles) == 0 {
		cfg.Auth.AdminRoles = []string{"admin", "super_admin"}
	}
	if cfg.MercadoPago.BaseURL == "" {
		cfg.MercadoPago.BaseURL = "https://api.mercadopago.com"
	}
	if cfg.MercadoPago.TimeoutSeconds <= 0 {
		cfg.MercadoPago.TimeoutSeconds = 10
	}
	if cfg.PicPay.BaseURL == "" {
		cfg.PicPay.BaseURL = "https://checkout-api.picpay.com"
	}
	if cfg.PicPay.TimeoutSeconds <= 0 {
		cfg.PicPay.TimeoutSeconds = 10
	}
	if cfg.Reconcile.PrepMinutes <= 0 {
		cfg.Reconcile.PrepMinutes = 40
	}
	if cfg.Reconcile.ClaimWaitMillis <= 0 {
		cfg.Reconcile.ClaimWaitMillis = 250
	}
	if cfg.Reconcile.ClaimWaitAttempts <= 0 {
		cfg.Reconcile.ClaimWaitAttempts = 4
	}
	if cfg.Reconcile.MaxPollAgeMinutes <= 0 {
		cfg.Reconcile.MaxPollAgeMinutes = 24 * 60
	}
	if cfg.Reconcile.SubscriptionPeriod <= 0 {
		cfg.Reconcile.SubscriptionPeriod = 30
	}
	if cfg.Stream.IntervalSeconds <= 0 {
		cfg.Stream.IntervalSeconds = 3
	}
	if cfg.RateLimit.RPS <= 0 {
		cfg.RateLimit.RPS = 5
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 10
	}
	if cfg.Worker.IntervalSeconds <= 0 {
		cfg.Worker.IntervalSeconds = 60
	}
	if cfg.Worker.MinAgeSeconds <= 0 {
		cfg.Worker.MinAgeSeconds = 120
	}
	if cfg.Worker.BatchSize <= 0 {
		cfg.Worker.BatchSize = 100
	}
	if cfg.Worker.StuckAfterMinutes <= 0 {
		cfg.Worker.StuckAfterMinutes = 15
	}
	if cfg.Mail.BaseURL == "" {
		cfg.Mail.BaseURL = "https://api.resend.com"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("ADMIN_ROLES"); v != "" {
		cfg.Auth.AdminRoles = splitCommaList(v)
	}
	if v := os.Getenv("MP_BASE_URL"); v != "" {
		cfg.MercadoPago.BaseURL = v
	}
	if v := os.Getenv("MP_WEBHOOK_SECRET"); v != "" {
		cfg.MercadoPago.WebhookSecret = v
	}
	if v := os.Getenv("PICPAY_BASE_URL"); v != "" {
		cfg.PicPay.BaseURL = v
	}
	if v := os.Getenv("PLATFORM_MP_ACCESS_TOKEN"); v != "" {
		cfg.Platform.MercadoPagoAccessToken = v
	}
	if v := os.Getenv("RECONCILE_PREP_MINUTES"); v != "" {
		cfg.Reconcile.PrepMinutes = atoiOr(cfg.Reconcile.PrepMinutes, v)
	}
	if v := os.Getenv("RECONCILE_MAX_POLL_AGE_MINUTES"); v != "" {
		cfg.Reconcile.MaxPollAgeMinutes = atoiOr(cfg.Reconcile.MaxPollAgeMinutes, v)
	}
	if v := os.Getenv("STREAM_INTERVAL_SECONDS"); v != "" {
		cfg.Stream.IntervalSeconds = atoiOr(cfg.Stream.IntervalSeconds, v)
	}
	if v := os.Getenv("STREAM_ALLOWED_ORIGINS"); v != "" {
		cfg.Stream.AllowedOrigins = splitCommaList(v)
	}
	if v := os.Getenv("WORKER_INTERVAL_SECONDS"); v != "" {
		cfg.Worker.IntervalSeconds = atoi64Or(cfg.Worker.IntervalSeconds, v)
	}
	if v := os.Getenv("WORKER_MIN_AGE_SECONDS"); v != "" {
		cfg.Worker.MinAgeSeconds = atoi64Or(cfg.Worker.MinAgeSeconds, v)
	}
	if v := os.Getenv("WORKER_BATCH_SIZE"); v != "" {
		cfg.Worker.BatchSize = atoiOr(cfg.Worker.BatchSize, v)
	}
	if v := os.Getenv("WORKER_STUCK_AFTER_MINUTES"); v != "" {
		cfg.Worker.StuckAfterMinutes = atoiOr(cfg.Worker.StuckAfterMinutes, v)
	}
	if v := os.Getenv("MAIL_API_KEY"); v != "" {
		cfg.Mail.APIKey = v
	}
	if v := os.Getenv("MAIL_FROM"); v != "" {
		cfg.Mail.From = v
	}
}

func splitCommaList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func atoiOr(fallback int, v string) int {
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func atoi64Or(fallback int64, v string) int64 {
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}
