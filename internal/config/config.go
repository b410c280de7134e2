package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/maxzhirnov/otp-auth/internal/models"
)

type Config struct {
	APP_ENV   string
	HTTP_ADDR string
	LOG_LEVEL string

	DB_HOST     string
	DB_PORT     string
	DB_USER     string
	DB_PASSWORD string
	DB_NAME     string

	ACCESS_SECRET  string
	REFRESH_SECRET string
	ACCESS_TTL     time.Duration
	REFRESH_TTL    time.Duration
	OTP_TTL        time.Duration

	GLOBAL_RATE_LIMIT  int
	GLOBAL_RATE_WINDOW time.Duration
	OTP_RATE_LIMIT     int
	OTP_RATE_WINDOW    time.Duration

	KAFKA_ADDRESS string
	ES_URL        string
	ES_USER       string
	ES_PASSWORD   string

	RESEND_API_KEY string
	RESEND_EMAIL   string
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Notice: .env file not found: %v. Using system environment variables", err)
	}

	config := &Config{
		APP_ENV:   getEnv("APP_ENV", "development"),
		HTTP_ADDR: getEnv("HTTP_ADDR", ":8080"),
		LOG_LEVEL: getEnv("LOG_LEVEL", "info"),

		DB_HOST:     os.Getenv("DB_HOST"),
		DB_PORT:     os.Getenv("DB_PORT"),
		DB_USER:     os.Getenv("DB_USER"),
		DB_PASSWORD: os.Getenv("DB_PASSWORD"),
		DB_NAME:     os.Getenv("DB_NAME"),

		ACCESS_SECRET:  os.Getenv("ACCESS_SECRET"),
		REFRESH_SECRET: os.Getenv("REFRESH_SECRET"),
		ACCESS_TTL:     getDuration("ACCESS_TTL", 5*time.Minute),
		REFRESH_TTL:    getDuration("REFRESH_TTL", 7*24*time.Hour),
		OTP_TTL:        getDuration("OTP_TTL", 10*time.Minute),

		GLOBAL_RATE_LIMIT:  getInt("GLOBAL_RATE_LIMIT", 100),
		GLOBAL_RATE_WINDOW: getDuration("GLOBAL_RATE_WINDOW", 10*time.Minute),
		OTP_RATE_LIMIT:     getInt("OTP_RATE_LIMIT", 10),
		OTP_RATE_WINDOW:    getDuration("OTP_RATE_WINDOW", 10*time.Minute),

		KAFKA_ADDRESS: os.Getenv("KAFKA_ADDRESS"),
		ES_URL:        os.Getenv("ES_URL"),
		ES_USER:       os.Getenv("ES_USER"),
		ES_PASSWORD:   os.Getenv("ES_PASSWORD"),

		RESEND_API_KEY: os.Getenv("RESEND_API_KEY"),
		RESEND_EMAIL:   getEnv("RESEND_EMAIL", "Acme <onboarding@resend.dev>"),
	}

	return config, nil
}

func (c *Config) IsProduction() bool {
	return c.APP_ENV == "production"
}

func InitDB(cfg *Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.DB_USER, cfg.DB_PASSWORD, cfg.DB_HOST, cfg.DB_PORT, cfg.DB_NAME,
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to db: %w", err)
	}
	if err := db.AutoMigrate(&models.User{}); err != nil {
		return nil, fmt.Errorf("failed to migrate tables: %w", err)
	}
	return db, nil
}

func getEnv(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func getInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Notice: invalid %s=%q, using default %d", name, v, def)
		return def
	}
	return n
}

func getDuration(name string, def time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("Notice: invalid %s=%q, using default %s", name, v, def)
		return def
	}
	return d
}
