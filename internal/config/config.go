package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "SNAPGRAM"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Feed      FeedConfig      `mapstructure:"feed"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// IsRelease 生产模式下cookie带Secure标记
func (c *ServerConfig) IsRelease() bool {
	return c.Mode == "release"
}

// IsDevelopment 只有 debug 和 test 模式允许缺省 jwt.secret
func (c *ServerConfig) IsDevelopment() bool {
	return c.Mode == "debug" || c.Mode == "test"
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"`
}

type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topics  Topics   `mapstructure:"topics"`
	GroupID string   `mapstructure:"group_id"`
}

type Topics struct {
	ContentEvents string `mapstructure:"content_events"`
	UserEvents    string `mapstructure:"user_events"`
}

type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	ExpireTime time.Duration `mapstructure:"expire_time"`
	CookieName string        `mapstructure:"cookie_name"`
	// DevSecret 为 true 表示未配置 secret，正在使用开发用的固定值
	DevSecret bool `mapstructure:"-"`
}

type FeedConfig struct {
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	DefaultLimit int           `mapstructure:"default_limit"`
	MaxLimit     int           `mapstructure:"max_limit"`
}

type RateLimitConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	AuthLimit int           `mapstructure:"auth_limit"`
	Window    time.Duration `mapstructure:"window"`
}

type ReconcileConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	Exporter     string  `mapstructure:"exporter"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SamplerRatio float64 `mapstructure:"sampler_ratio"`
	ServiceName  string  `mapstructure:"service_name"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "snapgram")
	v.SetDefault("database.password", "snapgram")
	v.SetDefault("database.dbname", "snapgram")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 50)
	v.SetDefault("redis.min_idle_conns", 5)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topics.content_events", "snapgram-content-events")
	v.SetDefault("kafka.topics.user_events", "snapgram-user-events")
	v.SetDefault("kafka.group_id", "snapgram-worker")

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expire_time", 7*24*time.Hour)
	v.SetDefault("jwt.cookie_name", "auth-token")

	v.SetDefault("feed.cache_ttl", time.Minute)
	v.SetDefault("feed.default_limit", 10)
	v.SetDefault("feed.max_limit", 100)

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.auth_limit", 20)
	v.SetDefault("ratelimit.window", time.Minute)

	v.SetDefault("reconcile.interval", 10*time.Minute)
	v.SetDefault("reconcile.batch_size", 200)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", "stdout")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4318")
	v.SetDefault("tracing.sampler_ratio", 1.0)
	v.SetDefault("tracing.service_name", "snapgram-api")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// LoadConfig 读取 .env、配置文件和 SNAPGRAM_* 环境变量，后者优先级最高
func LoadConfig() (*Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	return load(configPath)
}

func load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

const devJWTSecret = "dev-secret-change-me"

func (c *Config) Validate() error {
	if c.JWT.Secret == "" || c.JWT.DevSecret {
		if !c.Server.IsDevelopment() {
			return fmt.Errorf("jwt.secret must be set in %s mode", c.Server.Mode)
		}
		c.JWT.Secret = devJWTSecret
		c.JWT.DevSecret = true
	}
	if c.JWT.ExpireTime <= 0 {
		return errors.New("jwt.expire_time must be positive")
	}
	if c.Feed.MaxLimit <= 0 || c.Feed.DefaultLimit <= 0 {
		return errors.New("feed limits must be positive")
	}
	if c.Feed.DefaultLimit > c.Feed.MaxLimit {
		return errors.New("feed.default_limit must not exceed feed.max_limit")
	}
	if c.RateLimit.Enabled && (c.RateLimit.AuthLimit <= 0 || c.RateLimit.Window <= 0) {
		return errors.New("ratelimit.auth_limit and ratelimit.window must be positive")
	}
	if c.Reconcile.BatchSize <= 0 {
		return errors.New("reconcile.batch_size must be positive")
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
