package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"mailpilot/models"
)

var (
	DB        *gorm.DB
	AppConfig Config
)

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"-"`
	DB       int    `json:"db"`
}

type OAuthConfig struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"-"`
	RedirectURI  string `json:"redirect_uri"`
}

// SchedulerConfig carries the dispatcher intervals. Every job enforces
// non-overlapping execution regardless of interval.
type SchedulerConfig struct {
	AutoReplyInterval       time.Duration `json:"auto_reply_interval"`
	ScheduledReplyInterval  time.Duration `json:"scheduled_reply_interval"`
	FollowUpCreateInterval  time.Duration `json:"follow_up_create_interval"`
	FollowUpDispatchInterval time.Duration `json:"follow_up_dispatch_interval"`
	InboxSyncInterval       time.Duration `json:"inbox_sync_interval"`
	RuleWindowInterval      time.Duration `json:"rule_window_interval"`
	LogCleanupInterval      time.Duration `json:"log_cleanup_interval"`
}

type Config struct {
	Environment string      `json:"environment"`
	ServerPort  string      `json:"server_port"`
	JWTSecret   string      `json:"-"`
	SentryDSN   string      `json:"-"`
	Google      OAuthConfig `json:"google"`

	DBHost         string `json:"db_host"`
	DBPort         string `json:"db_port"`
	DBUser         string `json:"db_user"`
	DBPassword     string `json:"-"`
	DBName         string `json:"db_name"`
	DBSSLMode      string `json:"db_ssl_mode"`
	DBMaxIdleConns int    `json:"db_max_idle_conns"`
	DBMaxOpenConns int    `json:"db_max_open_conns"`

	Redis RedisConfig `json:"redis"`

	// Deployment IANA zone for all schedule/business-hour math. Owners can
	// override per account; this is the fallback.
	Timezone string `json:"timezone"`

	// Minimum elapsed time before re-replying to the same recipient.
	CooldownHours int `json:"cooldown_hours"`

	// How far back the follow-up creation pass scans sent messages.
	FollowUpLookbackHours int `json:"follow_up_lookback_hours"`

	// How long log rows are kept before the cleanup job prunes them.
	LogRetentionDays int `json:"log_retention_days"`

	RateLimitTrigger int `json:"rate_limit_trigger"`

	Scheduler SchedulerConfig `json:"scheduler"`

	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `json:"smtp_port"`
	SMTPUsername string `json:"smtp_username"`
	SMTPPassword string `json:"-"`
}

func init() {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
}

func LoadConfig() error {
	AppConfig = Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		ServerPort:  getEnv("SERVER_PORT", "5000"),
		JWTSecret:   getEnv("JWT_SECRET", ""),
		SentryDSN:   getEnv("SENTRY_DSN", ""),
		Google: OAuthConfig{
			ClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
			ClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
			RedirectURI:  getEnv("GOOGLE_REDIRECT_URI", ""),
		},

		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", "mailpilot"),
		DBSSLMode:      getEnv("DB_SSL_MODE", "disable"),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 100),

		Redis: RedisConfig{
			Enabled:  getEnv("REDIS_ENABLED", "false") == "true",
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},

		Timezone:              getEnv("DEPLOY_TIMEZONE", "UTC"),
		CooldownHours:         getEnvAsInt("AUTO_REPLY_COOLDOWN_HOURS", 24),
		FollowUpLookbackHours: getEnvAsInt("FOLLOW_UP_LOOKBACK_HOURS", 24),
		LogRetentionDays:      getEnvAsInt("LOG_RETENTION_DAYS", 90),
		RateLimitTrigger:      getEnvAsInt("RATE_LIMIT_TRIGGER", 5),

		Scheduler: SchedulerConfig{
			AutoReplyInterval:        getEnvAsDuration("AUTO_REPLY_INTERVAL", 2*time.Minute),
			ScheduledReplyInterval:   getEnvAsDuration("SCHEDULED_REPLY_INTERVAL", time.Minute),
			FollowUpCreateInterval:   getEnvAsDuration("FOLLOW_UP_CREATE_INTERVAL", 5*time.Minute),
			FollowUpDispatchInterval: getEnvAsDuration("FOLLOW_UP_DISPATCH_INTERVAL", 5*time.Minute),
			InboxSyncInterval:        getEnvAsDuration("INBOX_SYNC_INTERVAL", 10*time.Minute),
			RuleWindowInterval:       getEnvAsDuration("RULE_WINDOW_INTERVAL", 5*time.Minute),
			LogCleanupInterval:       getEnvAsDuration("LOG_CLEANUP_INTERVAL", 24*time.Hour),
		},

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnvAsInt("SMTP_PORT", 587),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
	}

	// Validate required configurations
	if AppConfig.DBPassword == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if AppConfig.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if _, err := time.LoadLocation(AppConfig.Timezone); err != nil {
		return fmt.Errorf("invalid DEPLOY_TIMEZONE %q: %w", AppConfig.Timezone, err)
	}
	if AppConfig.Environment == "production" {
		if AppConfig.Google.ClientID == "" || AppConfig.Google.ClientSecret == "" {
			return fmt.Errorf("Google OAuth credentials are required in production")
		}
	}

	logConfig()
	return nil
}

// Location returns the deployment zone. LoadConfig validated it already.
func Location() *time.Location {
	loc, err := time.LoadLocation(AppConfig.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func ConnectDB() error {
	log.Println("Attempting to connect to database...")

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBUser,
		AppConfig.DBPassword,
		AppConfig.DBName,
		AppConfig.DBSSLMode,
	)
	log.Println("Using connection string:", maskPassword(dsn))

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get DB instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(AppConfig.DBMaxIdleConns)
	sqlDB.SetMaxOpenConns(AppConfig.DBMaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	log.Println("✅ Successfully connected to the database")
	log.Println("🔄 Starting database migration...")
	if err := migrateDB(DB); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	log.Println("✅ Database migration completed")
	return nil
}

// Helper functions
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var value int
	_, err := fmt.Sscanf(valueStr, "%d", &value)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	d, err := time.ParseDuration(valueStr)
	if err != nil {
		return fallback
	}
	return d
}

func maskPassword(dsn string) string {
	const passwordMarker = "password="
	startIdx := strings.Index(dsn, passwordMarker)
	if startIdx == -1 {
		return dsn
	}

	startIdx += len(passwordMarker)
	endIdx := strings.IndexAny(dsn[startIdx:], " ")
	if endIdx == -1 {
		return dsn[:startIdx] + "*****"
	}
	return dsn[:startIdx] + "*****" + dsn[startIdx+endIdx:]
}

func logConfig() {
	log.Println("🔧 Loaded configuration:")
	log.Printf("Environment: %s", AppConfig.Environment)
	log.Printf("Server Port: %s", AppConfig.ServerPort)
	log.Printf("Database: %s@%s:%s/%s",
		AppConfig.DBUser,
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBName)
	log.Printf("Timezone: %s, cooldown: %dh, lookback: %dh",
		AppConfig.Timezone,
		AppConfig.CooldownHours,
		AppConfig.FollowUpLookbackHours)
}

func migrateDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.RefreshToken{},
		&models.EmailCategory{},
		&models.ClassificationRule{},
		&models.Template{},
		&models.AutoReplyRule{},
		&models.ScheduledReply{},
		&models.InboundMessage{},
		&models.SentMessage{},
		&models.AutoReplyLog{},
		&models.FollowUpRule{},
		&models.FollowUpSequence{},
		&models.FollowUp{},
		&models.FollowUpLog{},
		&models.JobRun{},
	)
}
