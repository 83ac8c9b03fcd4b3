package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config содержит конфигурацию приложения
type Config struct {
	Environment string
	Server      ServerConfig
	Redis       RedisConfig
	MQTT        MQTTConfig
	MySQL       MySQLConfig
	Collection  CollectionConfig
	Geo         GeoConfig
	Performance PerformanceConfig
	Monitoring  MonitoringConfig
}

// ServerConfig конфигурация HTTP сервера
type ServerConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// RedisConfig конфигурация Redis
type RedisConfig struct {
	URL          string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
}

// MQTTConfig конфигурация MQTT
type MQTTConfig struct {
	URL          string
	ClientID     string
	Username     string
	Password     string
	CleanSession bool
	TopicPrefix  string
}

// MySQLConfig конфигурация MySQL (исторические записи точек)
type MySQLConfig struct {
	DSN          string
	MaxIdleConns int
	MaxOpenConns int
}

// CollectionConfig параметры построения набора траекторий
type CollectionConfig struct {
	GroupKey        string
	MinLength       float64
	DefaultCRS      string
	RebuildInterval time.Duration
	LoadWindow      time.Duration
	LoadLimit       int
}

// GeoConfig геопространственные настройки
type GeoConfig struct {
	GeohashPrecision int
	MaxRadiusKM      float64
}

// PerformanceConfig настройки производительности
type PerformanceConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	ChannelBuffer int
	MaxRetries    int
	RetryDelay    time.Duration
}

// MonitoringConfig конфигурация мониторинга
type MonitoringConfig struct {
	LogLevel  string
	LogFormat string
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Address:      getEnv("SERVER_ADDRESS", ":8090"),
			ReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Redis: RedisConfig{
			URL:          getEnv("REDIS_URL", "redis://localhost:6379"),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getInt("REDIS_DB", 0),
			PoolSize:     getInt("REDIS_POOL_SIZE", 100),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 10),
		},
		MQTT: MQTTConfig{
			URL:          getEnv("MQTT_URL", "tcp://localhost:1883"),
			ClientID:     getEnv("MQTT_CLIENT_ID", "trajectory-api"),
			Username:     getEnv("MQTT_USERNAME", ""),
			Password:     getEnv("MQTT_PASSWORD", ""),
			CleanSession: getBool("MQTT_CLEAN_SESSION", false),
			TopicPrefix:  getEnv("MQTT_TOPIC_PREFIX", "traj/records/+"),
		},
		MySQL: MySQLConfig{
			DSN:          getEnv("MYSQL_DSN", ""),
			MaxIdleConns: getInt("MYSQL_MAX_IDLE_CONNS", 10),
			MaxOpenConns: getInt("MYSQL_MAX_OPEN_CONNS", 50),
		},
		Collection: CollectionConfig{
			GroupKey:        getEnv("COLLECTION_GROUP_KEY", "device_id"),
			MinLength:       getFloat("COLLECTION_MIN_LENGTH", 0),
			DefaultCRS:      getEnv("COLLECTION_DEFAULT_CRS", "EPSG:4326"),
			RebuildInterval: getDuration("COLLECTION_REBUILD_INTERVAL", 5*time.Minute),
			LoadWindow:      getDuration("COLLECTION_LOAD_WINDOW", 24*time.Hour),
			LoadLimit:       getInt("COLLECTION_LOAD_LIMIT", 500000),
		},
		Geo: GeoConfig{
			GeohashPrecision: getInt("GEO_GEOHASH_PRECISION", 5),
			MaxRadiusKM:      getFloat("GEO_MAX_RADIUS_KM", 200),
		},
		Performance: PerformanceConfig{
			BatchSize:     getInt("BATCH_SIZE", 1000),
			FlushInterval: getDuration("BATCH_FLUSH_INTERVAL", 5*time.Second),
			ChannelBuffer: getInt("BATCH_CHANNEL_BUFFER", 10000),
			MaxRetries:    getInt("BATCH_MAX_RETRIES", 3),
			RetryDelay:    getDuration("BATCH_RETRY_DELAY", 100*time.Millisecond),
		},
		Monitoring: MonitoringConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "text"),
		},
	}

	if cfg.Collection.GroupKey == "" {
		return nil, fmt.Errorf("COLLECTION_GROUP_KEY cannot be empty")
	}
	if cfg.Collection.MinLength < 0 {
		return nil, fmt.Errorf("COLLECTION_MIN_LENGTH cannot be negative")
	}
	if cfg.Geo.GeohashPrecision < 1 || cfg.Geo.GeohashPrecision > 8 {
		return nil, fmt.Errorf("GEO_GEOHASH_PRECISION must be between 1 and 8")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
