// Package config provides configuration management and environment variable handling for the application
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ProductionConfig holds all configuration for production environment
type ProductionConfig struct {
	Database   DatabaseConfig   `json:"database"`
	Server     ServerConfig     `json:"server"`
	Security   SecurityConfig   `json:"security"`
	JWT        JWTConfig        `json:"jwt"`
	Email      EmailConfig      `json:"email"`
	WhatsApp   WhatsAppConfig   `json:"whatsapp"`
	Extraction ExtractionConfig `json:"extraction"`
	Renderer   RendererConfig   `json:"renderer"`
	Media      MediaConfig      `json:"media"`
	Cache      CacheConfig      `json:"cache"`
	Dispatch   DispatchConfig   `json:"dispatch"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Logging    LoggingConfig    `json:"logging"`
	Metrics    MetricsConfig    `json:"metrics"`
	Deployment DeploymentConfig `json:"deployment"`
}

type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	SlowQueryLog    bool          `json:"slow_query_log"`
	SlowQueryTime   time.Duration `json:"slow_query_time"`
}

type ServerConfig struct {
	Host              string        `json:"host"`
	Port              int           `json:"port"`
	ReadTimeout       time.Duration `json:"read_timeout"`
	WriteTimeout      time.Duration `json:"write_timeout"`
	IdleTimeout       time.Duration `json:"idle_timeout"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout"`
	BodyLimit         int           `json:"body_limit"`
	EnableMetrics     bool          `json:"enable_metrics"`
	TrustedProxies    []string      `json:"trusted_proxies"`
	ProxyHeader       string        `json:"proxy_header"`
	EnableCompression bool          `json:"enable_compression"`
	CompressionLevel  int           `json:"compression_level"`
}

type SecurityConfig struct {
	// TLS/HTTPS
	TLSEnabled  bool   `json:"tls_enabled"`
	TLSCertFile string `json:"tls_cert_file"`
	TLSKeyFile  string `json:"tls_key_file"`

	// CORS
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	CORSMaxAge       int      `json:"cors_max_age"`

	// Rate Limiting
	PublicRateLimit int           `json:"public_rate_limit"` // requests per minute on token routes
	GlobalRateLimit int           `json:"global_rate_limit"` // requests per minute
	RateLimitWindow time.Duration `json:"rate_limit_window"`

	// Webhook verification
	WebhookSecret      string `json:"webhook_secret"`
	WebhookVerifyToken string `json:"webhook_verify_token"` // gateway subscription handshake
}

type JWTConfig struct {
	SecretKey        string        `json:"secret_key"`
	PrivateKey       string        `json:"private_key"`  // RSA private key in PEM format
	PublicKey        string        `json:"public_key"`   // RSA public key in PEM format
	UseRSAKeys       bool          `json:"use_rsa_keys"` // Whether to use RSA keys instead of secret key
	DeliveryTokenTTL time.Duration `json:"delivery_token_ttl"`
	AdminTokenTTL    time.Duration `json:"admin_token_ttl"`
	Issuer           string        `json:"issuer"`
	Audience         string        `json:"audience"`
}

type EmailConfig struct {
	ProviderDomain string        `json:"provider_domain"`
	APIKey         string        `json:"api_key"`
	FromAddress    string        `json:"from_address"`
	FromName       string        `json:"from_name"`
	Timeout        time.Duration `json:"timeout"`
}

type WhatsAppConfig struct {
	ProviderDomain string        `json:"provider_domain"`
	APIKey         string        `json:"api_key"`
	SourceNumber   string        `json:"source_number"`
	Timeout        time.Duration `json:"timeout"`
}

type ExtractionConfig struct {
	ProviderDomain string        `json:"provider_domain"`
	APIKey         string        `json:"api_key"`
	Language       string        `json:"language"`
	MaxRetries     int           `json:"max_retries"`
	RetryBackoff   time.Duration `json:"retry_backoff"`
	Timeout        time.Duration `json:"timeout"`
}

type RendererConfig struct {
	ProviderDomain string        `json:"provider_domain"`
	APIKey         string        `json:"api_key"`
	Timeout        time.Duration `json:"timeout"`
}

type MediaConfig struct {
	Bucket       string `json:"bucket"`
	Region       string `json:"region"`
	AccessKey    string `json:"access_key"`
	SecretKey    string `json:"secret_key"`
	BaseEndpoint string `json:"base_endpoint"` // Set for MinIO or other S3-compatible storage
	UsePathStyle bool   `json:"use_path_style"`
	MaxUploadMB  int    `json:"max_upload_mb"`
}

type CacheConfig struct {
	Enabled       bool          `json:"enabled"`
	RedisURL      string        `json:"redis_url"`
	RedisDB       int           `json:"redis_db"`
	RedisPrefix   string        `json:"redis_prefix"`
	RedisPassword string        `json:"redis_password"`
	DefaultTTL    time.Duration `json:"default_ttl"`
}

type DispatchConfig struct {
	Timeout         time.Duration `json:"timeout"`
	BulkConcurrency int           `json:"bulk_concurrency"` // parallel sends within one bulk request
	SurveyBaseURL   string        `json:"survey_base_url"`  // public origin for survey links
}

type SchedulerConfig struct {
	ExpiryInterval        time.Duration `json:"expiry_interval"`         // zero disables the expiry sweep
	ExpiryBatchSize       int           `json:"expiry_batch_size"`
	ConversationIdleLimit time.Duration `json:"conversation_idle_limit"` // stale context cleanup threshold
	CaptureWorkers        int           `json:"capture_workers"`
	CaptureMaxRetries     int           `json:"capture_max_retries"`
	CaptureRetryBackoff   time.Duration `json:"capture_retry_backoff"`
}

type LoggingConfig struct {
	Level      string `json:"level"`  // debug, info, warn, error
	Format     string `json:"format"` // json, text
	Output     string `json:"output"` // stdout, file, both
	FilePath   string `json:"file_path"`
	MaxSize    int    `json:"max_size"` // MB
	MaxBackups int    `json:"max_backups"`
	MaxAge     int    `json:"max_age"` // days
	Compress   bool   `json:"compress"`

	// Pipeline worker logs
	EnableWorkerLog bool   `json:"enable_worker_log"`
	WorkerLogPath   string `json:"worker_log_path"`
}

type MetricsConfig struct {
	Enabled          bool   `json:"enabled"`
	Path             string `json:"path"`
	EnablePrometheus bool   `json:"enable_prometheus"`
	CollectDBMetrics bool   `json:"collect_db_metrics"`
}

type DeploymentConfig struct {
	Domain      string `json:"domain"`
	APIDomain   string `json:"api_domain"`
	Environment string `json:"environment"`
	Version     string `json:"version"`
	CommitHash  string `json:"commit_hash"`
	BuildTime   string `json:"build_time"`
}

// LoadProductionConfig loads and validates configuration from environment variables
func LoadProductionConfig() (*ProductionConfig, error) {
	// Load environment variables from .env file
	if err := loadEnvFile(); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &ProductionConfig{
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "sondeo"),
			User:            getEnvString("DB_USER", "postgres"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "require"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 100),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 15*time.Minute),
			SlowQueryLog:    getEnvBool("DB_SLOW_QUERY_LOG", true),
			SlowQueryTime:   getEnvDuration("DB_SLOW_QUERY_TIME", 1*time.Second),
		},
		Server: ServerConfig{
			Host:              getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:              getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:       getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:      getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:       getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout:   getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			BodyLimit:         getEnvInt("SERVER_BODY_LIMIT", 16*1024*1024), // 16MB, audio uploads included
			EnableMetrics:     getEnvBool("SERVER_ENABLE_METRICS", true),
			TrustedProxies:    getEnvStringSlice("SERVER_TRUSTED_PROXIES", []string{"127.0.0.1"}),
			ProxyHeader:       getEnvString("SERVER_PROXY_HEADER", "X-Real-IP"),
			EnableCompression: getEnvBool("SERVER_ENABLE_COMPRESSION", true),
			CompressionLevel:  getEnvInt("SERVER_COMPRESSION_LEVEL", 6),
		},
		Security: SecurityConfig{
			TLSEnabled:         getEnvBool("TLS_ENABLED", true),
			TLSCertFile:        getEnvString("TLS_CERT_FILE", "/etc/ssl/certs/sondeo.crt"),
			TLSKeyFile:         getEnvString("TLS_KEY_FILE", "/etc/ssl/private/sondeo.key"),
			AllowedOrigins:     getEnvStringSlice("CORS_ALLOWED_ORIGINS", []string{"https://sondeo.app", "https://api.sondeo.app"}),
			AllowedMethods:     getEnvStringSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			AllowedHeaders:     getEnvStringSlice("CORS_ALLOWED_HEADERS", []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"}),
			AllowCredentials:   getEnvBool("CORS_ALLOW_CREDENTIALS", true),
			CORSMaxAge:         getEnvInt("CORS_MAX_AGE", 86400),
			PublicRateLimit:    getEnvInt("PUBLIC_RATE_LIMIT", 60),
			GlobalRateLimit:    getEnvInt("GLOBAL_RATE_LIMIT", 2000),
			RateLimitWindow:    getEnvDuration("RATE_LIMIT_WINDOW", 1*time.Minute),
			WebhookSecret:      getEnvString("WEBHOOK_SECRET", ""),
			WebhookVerifyToken: getEnvString("WEBHOOK_VERIFY_TOKEN", ""),
		},
		JWT: JWTConfig{
			SecretKey:        getEnvString("JWT_SECRET_KEY", ""),
			PrivateKey:       getEnvString("JWT_PRIVATE_KEY", ""),
			PublicKey:        getEnvString("JWT_PUBLIC_KEY", ""),
			UseRSAKeys:       getEnvBool("JWT_USE_RSA_KEYS", false),
			DeliveryTokenTTL: getEnvDuration("JWT_DELIVERY_TOKEN_TTL", 30*24*time.Hour),
			AdminTokenTTL:    getEnvDuration("JWT_ADMIN_TOKEN_TTL", 24*time.Hour),
			Issuer:           getEnvString("JWT_ISSUER", "sondeo"),
			Audience:         getEnvString("JWT_AUDIENCE", "sondeo-api"),
		},
		Email: EmailConfig{
			ProviderDomain: getEnvString("EMAIL_PROVIDER_DOMAIN", "mock"),
			APIKey:         getEnvString("EMAIL_API_KEY", ""),
			FromAddress:    getEnvString("EMAIL_FROM_ADDRESS", "encuestas@sondeo.app"),
			FromName:       getEnvString("EMAIL_FROM_NAME", "Sondeo"),
			Timeout:        getEnvDuration("EMAIL_TIMEOUT", 30*time.Second),
		},
		WhatsApp: WhatsAppConfig{
			ProviderDomain: getEnvString("WHATSAPP_PROVIDER_DOMAIN", "mock"),
			APIKey:         getEnvString("WHATSAPP_API_KEY", ""),
			SourceNumber:   getEnvString("WHATSAPP_SOURCE_NUMBER", ""),
			Timeout:        getEnvDuration("WHATSAPP_TIMEOUT", 30*time.Second),
		},
		Extraction: ExtractionConfig{
			ProviderDomain: getEnvString("EXTRACTION_PROVIDER_DOMAIN", "mock"),
			APIKey:         getEnvString("EXTRACTION_API_KEY", ""),
			Language:       getEnvString("EXTRACTION_LANGUAGE", "es"),
			MaxRetries:     getEnvInt("EXTRACTION_MAX_RETRIES", 3),
			RetryBackoff:   getEnvDuration("EXTRACTION_RETRY_BACKOFF", 30*time.Second),
			Timeout:        getEnvDuration("EXTRACTION_TIMEOUT", 2*time.Minute),
		},
		Renderer: RendererConfig{
			ProviderDomain: getEnvString("RENDERER_PROVIDER_DOMAIN", "mock"),
			APIKey:         getEnvString("RENDERER_API_KEY", ""),
			Timeout:        getEnvDuration("RENDERER_TIMEOUT", 1*time.Minute),
		},
		Media: MediaConfig{
			Bucket:       getEnvString("MEDIA_S3_BUCKET", "sondeo-captures"),
			Region:       getEnvString("MEDIA_S3_REGION", "us-east-1"),
			AccessKey:    getEnvString("MEDIA_S3_ACCESS_KEY", ""),
			SecretKey:    getEnvString("MEDIA_S3_SECRET_KEY", ""),
			BaseEndpoint: getEnvString("MEDIA_S3_BASE_ENDPOINT", ""),
			UsePathStyle: getEnvBool("MEDIA_S3_USE_PATH_STYLE", false),
			MaxUploadMB:  getEnvInt("MEDIA_MAX_UPLOAD_MB", 15),
		},
		Cache: CacheConfig{
			Enabled:       getEnvBool("CACHE_ENABLED", true),
			RedisURL:      getEnvString("CACHE_REDIS_URL", "redis://localhost:6379"),
			RedisDB:       getEnvInt("CACHE_REDIS_DB", 0),
			RedisPrefix:   getEnvString("CACHE_REDIS_PREFIX", "sondeo:"),
			RedisPassword: getEnvString("REDIS_PASSWORD", ""),
			DefaultTTL:    getEnvDuration("CACHE_DEFAULT_TTL", 1*time.Hour),
		},
		Dispatch: DispatchConfig{
			Timeout:         getEnvDuration("DISPATCH_TIMEOUT", 15*time.Second),
			BulkConcurrency: getEnvInt("DISPATCH_BULK_CONCURRENCY", 8),
			SurveyBaseURL:   getEnvString("DISPATCH_SURVEY_BASE_URL", "https://sondeo.app/s"),
		},
		Scheduler: SchedulerConfig{
			ExpiryInterval:        getEnvDuration("SCHEDULER_EXPIRY_INTERVAL", 10*time.Minute),
			ExpiryBatchSize:       getEnvInt("SCHEDULER_EXPIRY_BATCH_SIZE", 500),
			ConversationIdleLimit: getEnvDuration("SCHEDULER_CONVERSATION_IDLE_LIMIT", 72*time.Hour),
			CaptureWorkers:        getEnvInt("SCHEDULER_CAPTURE_WORKERS", 4),
			CaptureMaxRetries:     getEnvInt("SCHEDULER_CAPTURE_MAX_RETRIES", 3),
			CaptureRetryBackoff:   getEnvDuration("SCHEDULER_CAPTURE_RETRY_BACKOFF", 30*time.Second),
		},
		Logging: LoggingConfig{
			Level:           getEnvString("LOG_LEVEL", "info"),
			Format:          getEnvString("LOG_FORMAT", "json"),
			Output:          getEnvString("LOG_OUTPUT", "stdout"),
			FilePath:        getEnvString("LOG_FILE_PATH", "/var/log/sondeo/app.log"),
			MaxSize:         getEnvInt("LOG_MAX_SIZE", 100),
			MaxBackups:      getEnvInt("LOG_MAX_BACKUPS", 10),
			MaxAge:          getEnvInt("LOG_MAX_AGE", 30),
			Compress:        getEnvBool("LOG_COMPRESS", true),
			EnableWorkerLog: getEnvBool("LOG_ENABLE_WORKER", true),
			WorkerLogPath:   getEnvString("LOG_WORKER_PATH", "/var/log/sondeo/worker.log"),
		},
		Metrics: MetricsConfig{
			Enabled:          getEnvBool("METRICS_ENABLED", true),
			Path:             getEnvString("METRICS_PATH", "/metrics"),
			EnablePrometheus: getEnvBool("METRICS_ENABLE_PROMETHEUS", true),
			CollectDBMetrics: getEnvBool("METRICS_COLLECT_DB", true),
		},
		Deployment: DeploymentConfig{
			Domain:      getEnvString("DOMAIN", "sondeo.app"),
			APIDomain:   getEnvString("API_DOMAIN", "api.sondeo.app"),
			Environment: getEnvString("APP_ENV", "production"),
			Version:     getEnvString("VERSION", "1.0.0"),
			CommitHash:  getEnvString("COMMIT_HASH", "unknown"),
			BuildTime:   getEnvString("BUILD_TIME", "unknown"),
		},
	}

	// Validate the loaded configuration
	if err := ValidateProductionConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadEnvFile loads environment variables from .env file if it exists
func loadEnvFile() error {
	envFile := ".env"

	// Check if .env file exists
	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		// .env file doesn't exist, continue with environment variables
		return nil
	}

	// Open .env file
	file, err := os.Open(envFile)
	if err != nil {
		return fmt.Errorf("failed to open .env file: %w", err)
	}
	defer file.Close()

	// Read file line by line
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse key=value pairs
		if strings.Contains(line, "=") {
			parts := strings.SplitN(line, "=", 2)
			if len(parts) == 2 {
				key := strings.TrimSpace(parts[0])
				value := strings.TrimSpace(parts[1])

				// Remove quotes if present
				if (strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`)) ||
					(strings.HasPrefix(value, `'`) && strings.HasSuffix(value, `'`)) {
					value = value[1 : len(value)-1]
				}

				// Set environment variable if not already set
				if os.Getenv(key) == "" {
					os.Setenv(key, value)
				}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading .env file: %w", err)
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, item := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

// ValidateProductionConfig validates the production configuration
func ValidateProductionConfig(cfg *ProductionConfig) error {
	var errors []string

	if cfg.Database.Host == "" {
		errors = append(errors, "DB_HOST is required")
	}
	if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
		errors = append(errors, "DB_PORT must be between 1 and 65535")
	}
	if cfg.Database.Name == "" {
		errors = append(errors, "DB_NAME is required")
	}
	if cfg.Database.User == "" {
		errors = append(errors, "DB_USER is required")
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errors = append(errors, "SERVER_PORT must be between 1 and 65535")
	}

	if cfg.JWT.UseRSAKeys {
		if cfg.JWT.PrivateKey == "" || cfg.JWT.PublicKey == "" {
			errors = append(errors, "JWT_PRIVATE_KEY and JWT_PUBLIC_KEY are required when JWT_USE_RSA_KEYS is set")
		}
	} else if cfg.JWT.SecretKey == "" {
		errors = append(errors, "JWT_SECRET_KEY is required")
	}
	if cfg.JWT.DeliveryTokenTTL <= 0 {
		errors = append(errors, "JWT_DELIVERY_TOKEN_TTL must be positive")
	}

	if cfg.Scheduler.CaptureWorkers <= 0 {
		errors = append(errors, "SCHEDULER_CAPTURE_WORKERS must be positive")
	}
	if cfg.Scheduler.CaptureMaxRetries < 0 {
		errors = append(errors, "SCHEDULER_CAPTURE_MAX_RETRIES must not be negative")
	}

	if cfg.Dispatch.BulkConcurrency <= 0 {
		errors = append(errors, "DISPATCH_BULK_CONCURRENCY must be positive")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

// IsProduction reports whether the configuration targets production
func (c *ProductionConfig) IsProduction() bool {
	return c.Deployment.Environment == "production"
}

// GetDatabaseDSN returns the PostgreSQL connection string
func (c *ProductionConfig) GetDatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		c.Database.Host, c.Database.Port, c.Database.User, c.Database.Password, c.Database.Name, c.Database.SSLMode)
}
