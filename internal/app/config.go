package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/checkout/internal/service/payment"
)

// Драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Платёжные шлюзы.
const (
	GatewayMock     = "mock"
	GatewayRazorpay = "razorpay"
)

// Config описывает настройки запуска сервиса.
type Config struct {
	HTTPAddr    string
	MetricsAddr string
	GRPCAddr    string
	GinMode     string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	SeedDemoData        bool

	Gateway                string
	RazorpayKeyID          string
	RazorpayKeySecret      string
	RazorpayWebhookSecret  string
	RazorpayBaseURL        string
	PaymentCurrency        string
	GatewayTimeout         time.Duration
	GatewayRetryAttempts   int
	GatewayBreakerFailures int
	GatewayBreakerReset    time.Duration
	VerifyGatewayLookup    bool

	ResendAPIKey string
	ResendFrom   string
	ResendURL    string

	TaxRate               decimal.Decimal
	FreeShippingThreshold decimal.Decimal
	FlatShippingFee       decimal.Decimal

	HoldTTL        time.Duration
	SweepInterval  time.Duration
	SweepBatchSize int

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	KafkaBrokers    []string
	KafkaMaxRetries int

	AdminToken string
}

// DefaultConfig возвращает настройки для локального запуска: память и mock-шлюз.
// gRPC health выключен, пока не задан GRPC_ADDR. Демо-каталог загружается только в память.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		SeedDemoData:        true,

		Gateway:                GatewayMock,
		PaymentCurrency:        payment.DefaultCurrency,
		GatewayTimeout:         15 * time.Second,
		GatewayRetryAttempts:   payment.DefaultRetryConfig().MaxAttempts,
		GatewayBreakerFailures: 5,
		GatewayBreakerReset:    30 * time.Second,
		VerifyGatewayLookup:    true,

		ResendFrom: "orders@example.com",

		TaxRate:               decimal.Zero,
		FreeShippingThreshold: decimal.NewFromInt(2000),
		FlatShippingFee:       decimal.NewFromInt(200),

		HoldTTL:        30 * time.Minute,
		SweepInterval:  time.Minute,
		SweepBatchSize: 100,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  5,
		OutboxRetryDelay:   500 * time.Millisecond,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,

		KafkaMaxRetries: 3,
	}
}

// LoadConfig читает .env (если есть) и переменные окружения поверх DefaultConfig.
func LoadConfig(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}
	return ConfigFromEnv(os.LookupEnv)
}

// ConfigFromEnv собирает конфигурацию из функции поиска переменных.
func ConfigFromEnv(lookup func(string) (string, bool)) (Config, error) {
	cfg := DefaultConfig()
	r := envReader{lookup: lookup}

	r.str("HTTP_ADDR", &cfg.HTTPAddr)
	r.str("METRICS_ADDR", &cfg.MetricsAddr)
	r.str("GRPC_ADDR", &cfg.GRPCAddr)
	r.str("GIN_MODE", &cfg.GinMode)

	r.str("STORAGE_DRIVER", &cfg.StorageDriver)
	r.str("POSTGRES_DSN", &cfg.PostgresDSN)
	r.boolean("POSTGRES_AUTO_MIGRATE", &cfg.PostgresAutoMigrate)
	r.boolean("SEED_DEMO_DATA", &cfg.SeedDemoData)

	r.str("PAYMENT_GATEWAY", &cfg.Gateway)
	r.str("RAZORPAY_KEY_ID", &cfg.RazorpayKeyID)
	r.str("RAZORPAY_KEY_SECRET", &cfg.RazorpayKeySecret)
	r.str("RAZORPAY_WEBHOOK_SECRET", &cfg.RazorpayWebhookSecret)
	r.str("RAZORPAY_BASE_URL", &cfg.RazorpayBaseURL)
	r.str("PAYMENT_CURRENCY", &cfg.PaymentCurrency)
	r.duration("GATEWAY_TIMEOUT", &cfg.GatewayTimeout)
	r.integer("GATEWAY_RETRY_ATTEMPTS", &cfg.GatewayRetryAttempts)
	r.integer("GATEWAY_BREAKER_FAILURES", &cfg.GatewayBreakerFailures)
	r.duration("GATEWAY_BREAKER_RESET", &cfg.GatewayBreakerReset)
	r.boolean("VERIFY_GATEWAY_LOOKUP", &cfg.VerifyGatewayLookup)

	r.str("RESEND_API_KEY", &cfg.ResendAPIKey)
	r.str("RESEND_FROM", &cfg.ResendFrom)
	r.str("RESEND_URL", &cfg.ResendURL)

	r.dec("TAX_RATE", &cfg.TaxRate)
	r.dec("FREE_SHIPPING_THRESHOLD", &cfg.FreeShippingThreshold)
	r.dec("FLAT_SHIPPING_FEE", &cfg.FlatShippingFee)

	r.duration("HOLD_TTL", &cfg.HoldTTL)
	r.duration("SWEEP_INTERVAL", &cfg.SweepInterval)
	r.integer("SWEEP_BATCH_SIZE", &cfg.SweepBatchSize)

	r.duration("OUTBOX_POLL_INTERVAL", &cfg.OutboxPollInterval)
	r.integer("OUTBOX_BATCH_SIZE", &cfg.OutboxBatchSize)
	r.integer("OUTBOX_MAX_ATTEMPTS", &cfg.OutboxMaxAttempts)
	r.duration("OUTBOX_RETRY_DELAY", &cfg.OutboxRetryDelay)

	r.duration("IDEMPOTENCY_TTL", &cfg.IdempotencyTTL)
	r.duration("IDEMPOTENCY_CLEANUP_INTERVAL", &cfg.IdempotencyCleanupInterval)
	r.integer("IDEMPOTENCY_CLEANUP_BATCH_SIZE", &cfg.IdempotencyCleanupBatchSize)

	if v, ok := lookup("KAFKA_BROKERS"); ok {
		cfg.KafkaBrokers = splitList(v)
	}
	r.integer("KAFKA_MAX_RETRIES", &cfg.KafkaMaxRetries)

	r.str("ADMIN_TOKEN", &cfg.AdminToken)

	if r.err != nil {
		return Config{}, r.err
	}
	return cfg, cfg.Validate()
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported STORAGE_DRIVER %q", c.StorageDriver))
	}

	switch c.Gateway {
	case GatewayMock:
	case GatewayRazorpay:
		if c.RazorpayKeyID == "" || c.RazorpayKeySecret == "" {
			errs = append(errs, errors.New("RAZORPAY_KEY_ID and RAZORPAY_KEY_SECRET are required for razorpay gateway"))
		}
		if c.RazorpayWebhookSecret == "" {
			errs = append(errs, errors.New("RAZORPAY_WEBHOOK_SECRET is required for razorpay gateway"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported PAYMENT_GATEWAY %q", c.Gateway))
	}

	if c.HoldTTL <= 0 {
		errs = append(errs, errors.New("HOLD_TTL must be positive"))
	}
	if c.TaxRate.IsNegative() || c.FlatShippingFee.IsNegative() || c.FreeShippingThreshold.IsNegative() {
		errs = append(errs, errors.New("pricing settings must not be negative"))
	}
	return errors.Join(errs...)
}

type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (r *envReader) get(key string) (string, bool) {
	v, ok := r.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (r *envReader) fail(key, value string, err error) {
	r.err = errors.Join(r.err, fmt.Errorf("invalid %s=%q: %w", key, value, err))
}

func (r *envReader) str(key string, dst *string) {
	if v, ok := r.get(key); ok {
		*dst = v
	}
}

func (r *envReader) boolean(key string, dst *bool) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, v, err)
		return
	}
	*dst = parsed
}

func (r *envReader) integer(key string, dst *int) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, v, err)
		return
	}
	*dst = parsed
}

func (r *envReader) duration(key string, dst *time.Duration) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, v, err)
		return
	}
	*dst = parsed
}

func (r *envReader) dec(key string, dst *decimal.Decimal) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	parsed, err := decimal.NewFromString(v)
	if err != nil {
		r.fail(key, v, err)
		return
	}
	*dst = parsed
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
