package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	OIDC      OIDCConfig
	RateLimit RateLimitConfig
	R2        R2Config
	RenderFn  RenderFnConfig
	Provider  ProviderConfig
	Billing   BillingConfig
	Gateway   GatewayConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	ApiDomain string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type OIDCConfig struct {
	Issuer   string
	ClientID string
}

type RateLimitConfig struct {
	RenderPerHour  int
	GeneratePerMin int
	UploadPerHour  int
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

// RenderFnConfig points at the serverless render function
type RenderFnConfig struct {
	BaseURL      string
	APIKey       string
	PollInterval int // seconds between progress polls
	Timeout      int // minutes before an in-flight render is abandoned
}

// ProviderConfig points at the AI media generation provider
type ProviderConfig struct {
	BaseURL         string
	APIKey          string
	PollInitialMS   int
	PollMaxMS       int
	PollTimeoutSecs int
	CostPerTask     int64
}

type BillingConfig struct {
	WebhookSecret string
}

type GatewayConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("RENDER_FN_API_KEY")
	readSecret("PROVIDER_API_KEY")
	readSecret("BILLING_WEBHOOK_SECRET")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.api_domain", "API_DOMAIN")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("oidc.issuer", "OIDC_ISSUER")
	_ = viper.BindEnv("oidc.client_id", "OIDC_CLIENT_ID")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = viper.BindEnv("renderfn.base_url", "RENDER_FN_BASE_URL")
	_ = viper.BindEnv("renderfn.api_key", "RENDER_FN_API_KEY")
	_ = viper.BindEnv("renderfn.poll_interval", "RENDER_FN_POLL_INTERVAL")
	_ = viper.BindEnv("renderfn.timeout", "RENDER_FN_TIMEOUT")
	_ = viper.BindEnv("provider.base_url", "PROVIDER_BASE_URL")
	_ = viper.BindEnv("provider.api_key", "PROVIDER_API_KEY")
	_ = viper.BindEnv("provider.poll_initial_ms", "PROVIDER_POLL_INITIAL_MS")
	_ = viper.BindEnv("provider.poll_max_ms", "PROVIDER_POLL_MAX_MS")
	_ = viper.BindEnv("provider.poll_timeout_secs", "PROVIDER_POLL_TIMEOUT_SECS")
	_ = viper.BindEnv("provider.cost_per_task", "PROVIDER_COST_PER_TASK")
	_ = viper.BindEnv("billing.webhook_secret", "BILLING_WEBHOOK_SECRET")
	_ = viper.BindEnv("gateway.enabled", "GATEWAY_ENABLED")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("ratelimit.render_per_hour", 10)
	viper.SetDefault("ratelimit.generate_per_min", 6)
	viper.SetDefault("ratelimit.upload_per_hour", 50)

	// Render function defaults
	viper.SetDefault("renderfn.base_url", "https://render.motionforge.dev")
	viper.SetDefault("renderfn.poll_interval", 3)
	viper.SetDefault("renderfn.timeout", 30)

	// Provider defaults
	viper.SetDefault("provider.base_url", "https://queue.fal.run")
	viper.SetDefault("provider.poll_initial_ms", 2000)
	viper.SetDefault("provider.poll_max_ms", 10000)
	viper.SetDefault("provider.poll_timeout_secs", 600)
	viper.SetDefault("provider.cost_per_task", 1)

	// Gateway defaults
	viper.SetDefault("gateway.enabled", false)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      viper.GetString("server.port"),
			Env:       viper.GetString("server.env"),
			LogLevel:  viper.GetString("server.log_level"),
			ApiDomain: viper.GetString("server.api_domain"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
		},
		OIDC: OIDCConfig{
			Issuer:   viper.GetString("oidc.issuer"),
			ClientID: viper.GetString("oidc.client_id"),
		},
		RateLimit: RateLimitConfig{
			RenderPerHour:  viper.GetInt("ratelimit.render_per_hour"),
			GeneratePerMin: viper.GetInt("ratelimit.generate_per_min"),
			UploadPerHour:  viper.GetInt("ratelimit.upload_per_hour"),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
		},
		RenderFn: RenderFnConfig{
			BaseURL:      viper.GetString("renderfn.base_url"),
			APIKey:       viper.GetString("renderfn.api_key"),
			PollInterval: viper.GetInt("renderfn.poll_interval"),
			Timeout:      viper.GetInt("renderfn.timeout"),
		},
		Provider: ProviderConfig{
			BaseURL:         viper.GetString("provider.base_url"),
			APIKey:          viper.GetString("provider.api_key"),
			PollInitialMS:   viper.GetInt("provider.poll_initial_ms"),
			PollMaxMS:       viper.GetInt("provider.poll_max_ms"),
			PollTimeoutSecs: viper.GetInt("provider.poll_timeout_secs"),
			CostPerTask:     viper.GetInt64("provider.cost_per_task"),
		},
		Billing: BillingConfig{
			WebhookSecret: viper.GetString("billing.webhook_secret"),
		},
		Gateway: GatewayConfig{
			Enabled: viper.GetBool("gateway.enabled"),
		},
	}

	return cfg, nil
}
