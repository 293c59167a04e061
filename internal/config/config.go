package config

import (
	"fmt"
	"net/netip"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the API server.
type Config struct {
	DataDir     string
	BindAddress string
	Port        int
	BaseURL     string

	StoreDriver string // "sqlite" or "postgres"
	DatabaseURL string // required when StoreDriver is "postgres"

	JWTSecret string

	StripeAPIKey        string
	StripeWebhookSecret string
	Prices              PriceIDs

	RedisAddr      string // optional; enables the shared guard backend
	// TrustedProxies are CIDRs whose X-Forwarded-For headers are honored
	// when deriving the client IP. Empty means the TCP peer is the client.
	TrustedProxies []string
	GuardRateLimit int
	GuardWindow    time.Duration
	IdempotencyTTL time.Duration

	AuditSigningKey string // optional HMAC key for security event checksums

	// AllowedOrigins are CORS origin patterns; "*" matches any run of
	// characters, so "https://*.werkplatz.ch" admits every subdomain.
	AllowedOrigins []string
	DNSRefresh     time.Duration

	LogLevel      string
	LogFormat     string
	MetricsPublic bool
}

// PriceIDs are the statically configured Stripe price identifiers.
type PriceIDs struct {
	BasicMonthly string
	BasicYearly  string
	ProMonthly   string
	ProYearly    string
}

// ListenAddr returns the host:port the HTTP server binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.Port)
}

// Load reads configuration from environment variables.
// A .env file is loaded if present but not required.
func Load() (*Config, error) {
	// Best-effort .env loading (not required)
	_ = godotenv.Load()

	port, err := envOrDefaultInt("WP_PORT", 8080)
	if err != nil {
		return nil, err
	}
	rateLimit, err := envOrDefaultInt("WP_GUARD_RATE_LIMIT", 120)
	if err != nil {
		return nil, err
	}
	window, err := envOrDefaultDuration("WP_GUARD_RATE_WINDOW", time.Minute)
	if err != nil {
		return nil, err
	}
	idempotencyTTL, err := envOrDefaultDuration("WP_IDEMPOTENCY_TTL", 10*time.Minute)
	if err != nil {
		return nil, err
	}
	metricsPublic, err := envOrDefaultBool("WP_METRICS_PUBLIC", false)
	if err != nil {
		return nil, err
	}
	dnsRefresh, err := envOrDefaultDuration("WP_DNS_REFRESH", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:             envOrDefault("WP_DATA_DIR", "./data"),
		BindAddress:         envOrDefault("WP_BIND_ADDRESS", "0.0.0.0"),
		Port:                port,
		BaseURL:             strings.TrimRight(strings.TrimSpace(os.Getenv("WP_BASE_URL")), "/"),
		StoreDriver:         strings.ToLower(envOrDefault("WP_STORE_DRIVER", "sqlite")),
		DatabaseURL:         strings.TrimSpace(os.Getenv("WP_DATABASE_URL")),
		JWTSecret:           strings.TrimSpace(os.Getenv("WP_JWT_SECRET")),
		StripeAPIKey:        strings.TrimSpace(os.Getenv("STRIPE_API_KEY")),
		StripeWebhookSecret: strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET")),
		Prices: PriceIDs{
			BasicMonthly: strings.TrimSpace(os.Getenv("WP_PRICE_BASIC_MONTHLY")),
			BasicYearly:  strings.TrimSpace(os.Getenv("WP_PRICE_BASIC_YEARLY")),
			ProMonthly:   strings.TrimSpace(os.Getenv("WP_PRICE_PRO_MONTHLY")),
			ProYearly:    strings.TrimSpace(os.Getenv("WP_PRICE_PRO_YEARLY")),
		},
		RedisAddr:       strings.TrimSpace(os.Getenv("WP_REDIS_ADDR")),
		GuardRateLimit:  rateLimit,
		GuardWindow:     window,
		IdempotencyTTL:  idempotencyTTL,
		AuditSigningKey: strings.TrimSpace(os.Getenv("WP_AUDIT_SIGNING_KEY")),
		LogLevel:        envOrDefault("WP_LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("WP_LOG_FORMAT", "auto"),
		MetricsPublic:   metricsPublic,
		AllowedOrigins:  splitList(os.Getenv("WP_ALLOWED_ORIGINS")),
		TrustedProxies:  splitList(os.Getenv("WP_TRUSTED_PROXIES")),
		DNSRefresh:      dnsRefresh,
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.JWTSecret == "" {
		missing = append(missing, "WP_JWT_SECRET")
	}
	if c.BaseURL == "" {
		missing = append(missing, "WP_BASE_URL")
	}
	if c.StripeWebhookSecret == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}
	if c.StoreDriver == "postgres" && c.DatabaseURL == "" {
		missing = append(missing, "WP_DATABASE_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("WP_PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.StoreDriver != "sqlite" && c.StoreDriver != "postgres" {
		return fmt.Errorf("WP_STORE_DRIVER must be sqlite or postgres, got %q", c.StoreDriver)
	}
	if c.GuardRateLimit <= 0 {
		return fmt.Errorf("WP_GUARD_RATE_LIMIT must be greater than 0, got %d", c.GuardRateLimit)
	}
	if c.GuardWindow <= 0 {
		return fmt.Errorf("WP_GUARD_RATE_WINDOW must be greater than 0, got %s", c.GuardWindow)
	}
	if c.IdempotencyTTL <= 0 {
		return fmt.Errorf("WP_IDEMPOTENCY_TTL must be greater than 0, got %s", c.IdempotencyTTL)
	}
	for _, proxy := range c.TrustedProxies {
		if !validProxy(proxy) {
			return fmt.Errorf("WP_TRUSTED_PROXIES entry %q is not an IP address or CIDR", proxy)
		}
	}
	if c.DNSRefresh <= 0 {
		return fmt.Errorf("WP_DNS_REFRESH must be greater than 0, got %s", c.DNSRefresh)
	}

	parsedBaseURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("WP_BASE_URL must be a valid URL: %w", err)
	}
	if parsedBaseURL.Scheme != "http" && parsedBaseURL.Scheme != "https" {
		return fmt.Errorf("WP_BASE_URL must use http or https scheme")
	}
	if parsedBaseURL.Host == "" {
		return fmt.Errorf("WP_BASE_URL must include a host")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) (int, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return n, nil
	}
	return fallback, nil
}

func envOrDefaultDuration(key string, fallback time.Duration) (time.Duration, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid duration: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}

func envOrDefaultBool(key string, fallback bool) (bool, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("%s must be a valid boolean: %w", key, err)
		}
		return b, nil
	}
	return fallback, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func validProxy(s string) bool {
	if strings.Contains(s, "/") {
		_, err := netip.ParsePrefix(s)
		return err == nil
	}
	_, err := netip.ParseAddr(s)
	return err == nil
}
