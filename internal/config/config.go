package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath 指定配置文件路径的环境变量。
const EnvConfigPath = "GOAL_AGENT_CONFIG"

// Config 描述 Goal agent 启动阶段需要加载的全部配置。
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Agent    AgentConfig    `yaml:"agent"`
	Store    StoreConfig    `yaml:"store"`
	Cache    CacheConfig    `yaml:"cache"`
	Events   EventsConfig   `yaml:"events"`
	Logging  LoggingConfig  `yaml:"logging"`
	Alerting AlertingConfig `yaml:"alerting"`
}

// ServerConfig 控制 HTTP 服务的监听地址。
// MetricsAddress 非空时指标改为在独立端口暴露。
type ServerConfig struct {
	Address        string     `yaml:"address"`
	MetricsAddress string     `yaml:"metrics_address"`
	Auth           AuthConfig `yaml:"auth"`
}

// AuthConfig 控制工具接口的 API key 认证，mode 取值 disabled 或 api_key。
type AuthConfig struct {
	Mode string         `yaml:"mode"`
	Keys []APIKeyConfig `yaml:"keys"`
}

// APIKeyConfig 描述一个 API key。key 可以是明文或 sha256:<hex> 摘要。
type APIKeyConfig struct {
	Name        string   `yaml:"name"`
	Key         string   `yaml:"key"`
	Permissions []string `yaml:"permissions"`
	Disabled    bool     `yaml:"disabled"`
}

// AgentConfig 控制编排器的并发与超时。
type AgentConfig struct {
	MaxWorkers int           `yaml:"max_workers"`
	Timeout    time.Duration `yaml:"timeout"`
}

// StoreConfig 描述持久化存储，driver 必须显式取值 memory、mysql 或 postgres。
type StoreConfig struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// CacheConfig 描述缓存层，backend 取值 redis 或 memory。
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Backend string        `yaml:"backend"`
	Prefix  string        `yaml:"prefix"`
	TTL     time.Duration `yaml:"ttl"`
	Timeout time.Duration `yaml:"timeout"`
	Redis   RedisConfig   `yaml:"redis"`
}

// RedisConfig 描述 Redis 连接参数。
type RedisConfig struct {
	Address      string        `yaml:"address"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// EventsConfig 描述领域事件的投递方式，driver 取值 none、redis 或 rabbitmq。
type EventsConfig struct {
	Driver   string         `yaml:"driver"`
	Channel  string         `yaml:"channel"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// RabbitMQConfig 描述 RabbitMQ 交换机。
type RabbitMQConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
	Durable  bool   `yaml:"durable"`
}

// LoggingConfig 描述日志级别、格式与输出。
type LoggingConfig struct {
	Level       string      `yaml:"level"`
	Format      string      `yaml:"format"`
	OutputPaths []string    `yaml:"output_paths"`
	MaxSizeMB   int         `yaml:"max_size_mb"`
	MaxBackups  int         `yaml:"max_backups"`
	MaxAgeDays  int         `yaml:"max_age_days"`
	Compress    bool        `yaml:"compress"`
	Audit       AuditConfig `yaml:"audit"`
}

// AuditConfig 描述审计日志文件。
type AuditConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// AlertingConfig 描述告警渠道。
type AlertingConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// Load 解析配置文件，依次应用默认值与环境变量覆盖。
// path 为空时只使用默认值与环境变量。JSON 作为 YAML 的子集同样可以解析。
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("解析配置失败: %w", err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.Auth.Mode == "" {
		c.Server.Auth.Mode = "disabled"
	}
	if c.Agent.MaxWorkers == 0 {
		c.Agent.MaxWorkers = 10
	}
	if c.Agent.Timeout == 0 {
		c.Agent.Timeout = 30 * time.Second
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = "redis"
	}
	if c.Cache.Prefix == "" {
		c.Cache.Prefix = "goal_agent_cache"
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = time.Hour
	}
	if c.Cache.Timeout == 0 {
		c.Cache.Timeout = 500 * time.Millisecond
	}
	if c.Cache.Redis.Address == "" {
		c.Cache.Redis.Address = "localhost:6379"
	}
	if c.Cache.Redis.DialTimeout == 0 {
		c.Cache.Redis.DialTimeout = 2 * time.Second
	}
	if c.Events.Driver == "" {
		c.Events.Driver = "none"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

type lookupFunc func(key string) (string, bool)

// applyEnv 使用环境变量覆盖配置。
func (c *Config) applyEnv(lookup lookupFunc) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s 不是合法整数: %q", key, v))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s 不是合法布尔值: %q", key, v))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := parseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s 不是合法时长: %q", key, v))
				return
			}
			*dst = d
		}
	}

	str("GOAL_AGENT_ADDRESS", &c.Server.Address)
	str("GOAL_AGENT_METRICS_ADDRESS", &c.Server.MetricsAddress)
	integer("GOAL_AGENT_MAX_WORKERS", &c.Agent.MaxWorkers)
	duration("GOAL_AGENT_TIMEOUT", &c.Agent.Timeout)
	str("GOAL_AGENT_STORE_DRIVER", &c.Store.Driver)
	str("GOAL_AGENT_STORE_DSN", &c.Store.DSN)
	boolean("GOAL_AGENT_AUTO_MIGRATE", &c.Store.AutoMigrate)
	boolean("GOAL_AGENT_CACHE_ENABLED", &c.Cache.Enabled)
	str("GOAL_AGENT_CACHE_BACKEND", &c.Cache.Backend)
	duration("GOAL_AGENT_CACHE_TTL", &c.Cache.TTL)
	str("GOAL_AGENT_EVENTS_DRIVER", &c.Events.Driver)
	str("GOAL_AGENT_RABBITMQ_URL", &c.Events.RabbitMQ.URL)
	str("GOAL_AGENT_LOG_LEVEL", &c.Logging.Level)
	str("GOAL_AGENT_ALERT_WEBHOOK", &c.Alerting.WebhookURL)

	var apiKey string
	str("GOAL_AGENT_API_KEY", &apiKey)
	if apiKey != "" {
		c.Server.Auth.Mode = "api_key"
		c.Server.Auth.Keys = append(c.Server.Auth.Keys, APIKeyConfig{
			Name:        "env",
			Key:         apiKey,
			Permissions: []string{"goals:read", "goals:write"},
		})
	}

	var redisHost, redisPort string
	str("REDIS_HOST", &redisHost)
	str("REDIS_PORT", &redisPort)
	if redisHost != "" || redisPort != "" {
		host, port := splitHostPort(c.Cache.Redis.Address)
		if redisHost != "" {
			host = redisHost
		}
		if redisPort != "" {
			port = redisPort
		}
		c.Cache.Redis.Address = host + ":" + port
	}
	str("REDIS_PASSWORD", &c.Cache.Redis.Password)
	integer("REDIS_DB", &c.Cache.Redis.DB)

	return errors.Join(errs...)
}

// parseDuration 接受 Go 时长字符串或纯数字秒数。
func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}

func splitHostPort(addr string) (string, string) {
	idx := strings.LastIndexByte(addr, ':')
	if idx < 0 {
		return addr, "6379"
	}
	return addr[:idx], addr[idx+1:]
}

// Validate 检查配置的合法性，一次性返回全部问题。
func (c *Config) Validate() error {
	var errs []error
	if c.Agent.MaxWorkers <= 0 {
		errs = append(errs, fmt.Errorf("agent.max_workers 必须为正数，当前为 %d", c.Agent.MaxWorkers))
	}
	if c.Agent.Timeout < 0 {
		errs = append(errs, errors.New("agent.timeout 不能为负数"))
	}

	switch c.Server.Auth.Mode {
	case "disabled":
	case "api_key":
		if len(c.Server.Auth.Keys) == 0 {
			errs = append(errs, errors.New("server.auth.keys 在 mode=api_key 时不能为空"))
		}
	default:
		errs = append(errs, fmt.Errorf("不支持的 server.auth.mode: %q", c.Server.Auth.Mode))
	}

	// 存储是唯一的事实来源，不为 driver 提供默认值。
	switch c.Store.Driver {
	case "":
		errs = append(errs, errors.New("store.driver 必须显式配置为 memory、mysql 或 postgres"))
	case "memory":
	case "mysql", "postgres":
		if strings.TrimSpace(c.Store.DSN) == "" {
			errs = append(errs, fmt.Errorf("store.dsn 在 driver=%s 时不能为空", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("不支持的 store.driver: %q", c.Store.Driver))
	}

	if c.Cache.Enabled {
		switch c.Cache.Backend {
		case "memory":
		case "redis":
			if c.Cache.Redis.Address == "" {
				errs = append(errs, errors.New("cache.redis.address 不能为空"))
			}
		default:
			errs = append(errs, fmt.Errorf("不支持的 cache.backend: %q", c.Cache.Backend))
		}
		if c.Cache.TTL <= 0 {
			errs = append(errs, errors.New("cache.ttl 必须为正数"))
		}
	}

	switch c.Events.Driver {
	case "none", "redis":
	case "rabbitmq":
		if c.Events.RabbitMQ.URL == "" {
			errs = append(errs, errors.New("events.rabbitmq.url 在 driver=rabbitmq 时不能为空"))
		}
	default:
		errs = append(errs, fmt.Errorf("不支持的 events.driver: %q", c.Events.Driver))
	}

	if c.Alerting.Enabled && c.Alerting.WebhookURL != "" &&
		!strings.HasPrefix(c.Alerting.WebhookURL, "http://") && !strings.HasPrefix(c.Alerting.WebhookURL, "https://") {
		errs = append(errs, fmt.Errorf("alerting.webhook_url 必须是 http(s) 地址: %q", c.Alerting.WebhookURL))
	}
	return errors.Join(errs...)
}
