package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	RestaurantID          string
	RestaurantName        string
	Timezone              string
	CatalogPath           string
	LocalStorePath        string
	DatabaseURL           string
	MongoURI              string
	MongoDatabase         string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	AMQPURL               string
	KitchenDeviceAddr     string
	DeviceTimeoutSeconds  int
	SyncDebounceMillis    int
	OutboxDrainSeconds    int
	ReportCacheTTLSeconds int
	AuthSecret            string
	AccessTokenTTLMinutes int
	ManagerPIN            string
	SeedManagerPassword   string
	SeedStaffPassword     string
	LogLevel              string
	LogFormat             string
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		RestaurantID:          getEnv("RESTAURANT_ID", "main"),
		RestaurantName:        getEnv("RESTAURANT_NAME", "Kitchen Alert Restaurant"),
		Timezone:              getEnv("TIMEZONE", "Asia/Kolkata"),
		CatalogPath:           os.Getenv("CATALOG_PATH"),
		LocalStorePath:        os.Getenv("LOCAL_STORE_PATH"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		MongoURI:              os.Getenv("MONGO_URI"),
		MongoDatabase:         getEnv("MONGO_DATABASE", "kitchenalert"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		AMQPURL:               os.Getenv("AMQP_URL"),
		KitchenDeviceAddr:     strings.TrimSpace(os.Getenv("KITCHEN_DEVICE_ADDR")),
		DeviceTimeoutSeconds:  positiveInt("DEVICE_TIMEOUT_SECONDS", 5),
		SyncDebounceMillis:    positiveInt("SYNC_DEBOUNCE_MS", 1000),
		OutboxDrainSeconds:    positiveInt("OUTBOX_DRAIN_SECONDS", 15),
		ReportCacheTTLSeconds: positiveInt("REPORT_CACHE_TTL_SECONDS", 30),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		ManagerPIN:            strings.TrimSpace(os.Getenv("MANAGER_PIN")),
		SeedManagerPassword:   os.Getenv("SEED_MANAGER_PASSWORD"),
		SeedStaffPassword:     os.Getenv("SEED_STAFF_PASSWORD"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "text"),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) DeviceTimeout() time.Duration {
	return time.Duration(c.DeviceTimeoutSeconds) * time.Second
}

func (c Config) SyncDebounce() time.Duration {
	return time.Duration(c.SyncDebounceMillis) * time.Millisecond
}

func (c Config) OutboxDrainInterval() time.Duration {
	return time.Duration(c.OutboxDrainSeconds) * time.Second
}

func (c Config) ReportCacheTTL() time.Duration {
	return time.Duration(c.ReportCacheTTLSeconds) * time.Second
}

// Location falls back to UTC when the configured zone is unknown.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC, err
	}
	return loc, nil
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func positiveInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
