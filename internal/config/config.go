package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"catalog-service/internal/repository"
	"catalog-service/internal/services"
	"catalog-service/internal/storage"
	"github.com/Tesseract-Nexus/go-shared/secrets"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis
	RedisURL      string
	DraftCacheTTL time.Duration

	// Server
	Port           string
	Environment    string
	AllowedOrigins []string

	// Object storage
	AWSRegion          string
	AWSEndpoint        string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	S3Bucket           string
	MediaPublicBaseURL string

	// Services
	NATSURL         string
	StaffServiceURL string

	// Import limits
	ImportMaxFiles         int
	ImportMaxFileBytes     int64
	ImportUploadTimeout    time.Duration
	ImportPromotionTimeout time.Duration
	ImportPromotionWorkers int
}

func Load() *Config {
	dbPort, _ := strconv.Atoi(getEnv("DB_PORT", "5432"))
	maxFiles, _ := strconv.Atoi(getEnv("IMPORT_MAX_FILES", "200"))
	maxFileBytes, _ := strconv.ParseInt(getEnv("IMPORT_MAX_FILE_BYTES", "10485760"), 10, 64)
	promotionWorkers, _ := strconv.Atoi(getEnv("IMPORT_PROMOTION_WORKERS", "4"))

	return &Config{
		// Database - fetch password from GCP Secret Manager if enabled
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     dbPort,
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: secrets.GetDBPassword(),
		DBName:     getEnv("DB_NAME", "catalog_db"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "redis://redis.redis-marketplace.svc.cluster.local:6379/0"),
		DraftCacheTTL: getDuration("DRAFT_CACHE_TTL", repository.DraftListCacheTTL),

		// Server
		Port:           getEnv("PORT", "8095"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		AllowedOrigins: getList("CORS_ALLOWED_ORIGINS"),

		// Object storage - AWS_S3_ENDPOINT is kept for older deployments
		AWSRegion:          getEnv("AWS_REGION", "us-east-1"),
		AWSEndpoint:        getEnv("AWS_ENDPOINT", os.Getenv("AWS_S3_ENDPOINT")),
		AWSAccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		AWSSecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		S3Bucket:           getEnv("AWS_S3_BUCKET", "tesseract-catalog-media"),
		MediaPublicBaseURL: os.Getenv("MEDIA_PUBLIC_BASE_URL"),

		// Services
		NATSURL:         os.Getenv("NATS_URL"),
		StaffServiceURL: getEnv("STAFF_SERVICE_URL", "http://staff-service.marketplace.svc.cluster.local:8080"),

		// Import limits
		ImportMaxFiles:         maxFiles,
		ImportMaxFileBytes:     maxFileBytes,
		ImportUploadTimeout:    getDuration("IMPORT_UPLOAD_TIMEOUT", 30*time.Second),
		ImportPromotionTimeout: getDuration("IMPORT_PROMOTION_TIMEOUT", 60*time.Second),
		ImportPromotionWorkers: promotionWorkers,
	}
}

// IsProduction reports whether the service runs in production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// ImportServiceConfig returns the limits of the import pipeline
func (c *Config) ImportServiceConfig() services.Config {
	return services.Config{
		MaxFiles:         c.ImportMaxFiles,
		MaxFileBytes:     c.ImportMaxFileBytes,
		UploadTimeout:    c.ImportUploadTimeout,
		PromotionTimeout: c.ImportPromotionTimeout,
		PromotionWorkers: c.ImportPromotionWorkers,
	}
}

// S3Config returns the object storage client settings
func (c *Config) S3Config() storage.S3Config {
	return storage.S3Config{
		Region:          c.AWSRegion,
		Endpoint:        c.AWSEndpoint,
		AccessKeyID:     c.AWSAccessKeyID,
		SecretAccessKey: c.AWSSecretAccessKey,
	}
}

func InitDB(cfg *Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode)

	var logLevel logger.LogLevel
	if cfg.IsProduction() {
		logLevel = logger.Error
	} else {
		logLevel = logger.Info
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})

	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Auto-migrate models to keep schema up to date
	// This will add missing columns but won't delete existing columns
	log.Println("Running auto-migrations...")
	if err := repository.AutoMigrate(db); err != nil {
		// Constraint renames on existing schemas surface as "does not exist"
		errStr := err.Error()
		if strings.Contains(errStr, "does not exist") && strings.Contains(errStr, "constraint") {
			log.Printf("Note: Migration constraint warning (safe to ignore): %v", err)
		} else {
			return nil, fmt.Errorf("failed to run auto-migrations: %w", err)
		}
	}
	log.Println("Auto-migrations completed successfully")

	return db, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDuration accepts Go durations ("45s") or plain seconds ("45")
func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	log.Printf("Invalid duration for %s: %q, using %s", key, value, defaultValue)
	return defaultValue
}

func getList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
