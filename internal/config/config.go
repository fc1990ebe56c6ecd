package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration values.
type Config struct {
	Secret   string
	HTTPPort string
	Database DatabaseConfig
	Log      LogConfig
	Alerts   AlertConfig
	Redis    RedisConfig
	Kafka    KafkaConfig

	CatalogCSV  string
	PricePolicy string
}

type DatabaseConfig struct {
	Driver string
	DSN    string
}

type LogConfig struct {
	Level  string
	Format string
}

type AlertConfig struct {
	SweepInterval    time.Duration
	LowStock         int64
	ExpiryWindowDays int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// Load reads .env (if present) and the environment, with reasonable defaults.
func Load() (Config, error) {
	_ = godotenv.Load()
	return load(viper.New())
}

func load(v *viper.Viper) (Config, error) {
	v.AutomaticEnv()
	v.SetDefault("SECRET", "dev_secret")
	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("DATABASE_DRIVER", "sqlite")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_NAME", "agrivet")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")
	v.SetDefault("CATALOG_CSV", "assets/medicine.csv")
	v.SetDefault("ALERT_SWEEP_INTERVAL", "1h")
	v.SetDefault("ALERT_LOW_STOCK_THRESHOLD", 10)
	v.SetDefault("ALERT_EXPIRY_WINDOW_DAYS", 30)
	v.SetDefault("REDIS_CHANNEL", "stock-alerts")
	v.SetDefault("KAFKA_TOPIC", "stock-alerts")
	v.SetDefault("PRICE_POLICY", "mean")

	cfg := Config{
		Secret:      v.GetString("SECRET"),
		HTTPPort:    v.GetString("HTTP_PORT"),
		CatalogCSV:  v.GetString("CATALOG_CSV"),
		PricePolicy: strings.ToLower(v.GetString("PRICE_POLICY")),
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
		Alerts: AlertConfig{
			SweepInterval:    v.GetDuration("ALERT_SWEEP_INTERVAL"),
			LowStock:         v.GetInt64("ALERT_LOW_STOCK_THRESHOLD"),
			ExpiryWindowDays: v.GetInt("ALERT_EXPIRY_WINDOW_DAYS"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
			Channel:  v.GetString("REDIS_CHANNEL"),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(v.GetString("KAFKA_BROKERS")),
			Topic:   v.GetString("KAFKA_TOPIC"),
		},
	}

	driver := strings.ToLower(v.GetString("DATABASE_DRIVER"))
	switch driver {
	case "sqlite", "pgx":
	case "postgres":
		driver = "pgx"
	default:
		return Config{}, fmt.Errorf("unsupported DATABASE_DRIVER %q", driver)
	}
	cfg.Database.Driver = driver

	dsn := v.GetString("DATABASE_DSN")
	if dsn == "" {
		if driver == "sqlite" {
			dsn = "agrivet.db"
		} else {
			dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
				v.GetString("DB_USER"), v.GetString("DB_PASSWORD"), v.GetString("DB_HOST"), v.GetString("DB_PORT"), v.GetString("DB_NAME"))
		}
	}
	cfg.Database.DSN = dsn

	// Validate that port is numeric.
	if _, err := strconv.Atoi(cfg.HTTPPort); err != nil {
		return Config{}, fmt.Errorf("invalid HTTP_PORT value %q", cfg.HTTPPort)
	}
	if cfg.Alerts.LowStock < 0 || cfg.Alerts.ExpiryWindowDays < 0 {
		return Config{}, fmt.Errorf("alert thresholds must not be negative")
	}
	if cfg.PricePolicy != "mean" && cfg.PricePolicy != "weighted" {
		return Config{}, fmt.Errorf("invalid PRICE_POLICY %q (want mean or weighted)", cfg.PricePolicy)
	}

	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
