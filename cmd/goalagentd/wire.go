package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"OpenMCP-Goals/internal/auth"
	"OpenMCP-Goals/internal/cache"
	"OpenMCP-Goals/internal/config"
	"OpenMCP-Goals/internal/events"
	"OpenMCP-Goals/internal/goal"
	"OpenMCP-Goals/internal/goalagent"
	"OpenMCP-Goals/internal/observability/alerting"
	"OpenMCP-Goals/internal/storage/redis"
	"OpenMCP-Goals/internal/storage/sqlstore"
	"OpenMCP-Goals/pkg/logger"
)

type application struct {
	agent *goalagent.Agent
}

// close 释放编排器持有的全部资源。
func (a *application) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.agent.Close(ctx); err != nil {
		logger.L().Warn("关闭 goal agent 时出现错误", slog.Any("error", err))
	}
}

// build 按配置组装存储、缓存、事件、告警与编排器。
func build(ctx context.Context, cfg *config.Config) (app *application, err error) {
	var cleanup []func() error
	defer func() {
		if err == nil {
			return
		}
		for i := len(cleanup) - 1; i >= 0; i-- {
			_ = cleanup[i]()
		}
	}()

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	cleanup = append(cleanup, store.Close)

	var redisClient *redis.Client
	needRedis := (cfg.Cache.Enabled && cfg.Cache.Backend == "redis") || cfg.Events.Driver == "redis"
	if needRedis {
		redisClient, err = redis.NewClient(ctx, redisConfig(cfg.Cache.Redis))
		if err != nil {
			return nil, err
		}
		cleanup = append(cleanup, redisClient.Close)
	}

	layer := cache.Disabled()
	cacheOwnsRedis := false
	if cfg.Cache.Enabled {
		var backend cache.Backend
		switch cfg.Cache.Backend {
		case "memory":
			backend = cache.NewMemoryBackend()
		default:
			backend = redisClient
			cacheOwnsRedis = true
		}
		layer = cache.New(backend, cache.Config{
			Prefix:  cfg.Cache.Prefix,
			TTL:     cfg.Cache.TTL,
			Timeout: cfg.Cache.Timeout,
		})
	}

	publisher, err := openPublisher(cfg.Events, redisClient, cacheOwnsRedis)
	if err != nil {
		return nil, err
	}
	cleanup = append(cleanup, publisher.Close)

	opts := []goalagent.Option{
		goalagent.WithWorkers(cfg.Agent.MaxWorkers),
		goalagent.WithTimeout(cfg.Agent.Timeout),
		goalagent.WithPublisher(publisher),
	}
	if cfg.Alerting.Enabled {
		opts = append(opts, goalagent.WithAlerts(dispatcher(cfg.Alerting)))
	}

	agent, err := goalagent.New(ctx, store, layer, opts...)
	if err != nil {
		return nil, err
	}
	return &application{agent: agent}, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (goal.Store, error) {
	if cfg.Driver == "memory" {
		logger.L().Warn("使用内存存储，进程退出后数据将丢失")
		return goal.NewMemoryStore(), nil
	}
	return sqlstore.Open(ctx, sqlConfig(cfg))
}

// openPublisher 创建事件发布器。Redis 客户端由缓存持有时不重复关闭。
func openPublisher(cfg config.EventsConfig, client *redis.Client, shared bool) (events.Publisher, error) {
	switch cfg.Driver {
	case "redis":
		channel := cfg.Channel
		if channel == "" {
			channel = events.DefaultChannel
		}
		var closer func() error
		if !shared {
			closer = client.Close
		}
		return events.NewRedis(client, channel, closer), nil
	case "rabbitmq":
		return events.NewRabbitMQ(events.RabbitMQConfig{
			URL:      cfg.RabbitMQ.URL,
			Exchange: cfg.RabbitMQ.Exchange,
			Durable:  cfg.RabbitMQ.Durable,
		})
	default:
		return events.Nop{}, nil
	}
}

func dispatcher(cfg config.AlertingConfig) alerting.Dispatcher {
	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: cfg.WebhookURL})
	}
	return alerting.NewFanout(notifiers...)
}

// migrate 显式执行数据库迁移。
func migrate(ctx context.Context, cfg config.StoreConfig) error {
	if cfg.Driver == "memory" {
		return errors.New("内存存储无需迁移")
	}
	sqlCfg := sqlConfig(cfg)
	sqlCfg.AutoMigrate = false
	store, err := sqlstore.Open(ctx, sqlCfg)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	logger.L().Info("数据库迁移完成", slog.String("driver", cfg.Driver))
	return nil
}

func sqlConfig(cfg config.StoreConfig) sqlstore.Config {
	return sqlstore.Config{
		Driver:          cfg.Driver,
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		AutoMigrate:     cfg.AutoMigrate,
	}
}

func authConfig(cfg config.AuthConfig) auth.Config {
	out := auth.Config{Mode: auth.Mode(cfg.Mode)}
	for _, key := range cfg.Keys {
		out.Keys = append(out.Keys, auth.Key{
			Name:        key.Name,
			Secret:      key.Key,
			Permissions: key.Permissions,
			Disabled:    key.Disabled,
		})
	}
	return out
}

func redisConfig(cfg config.RedisConfig) redis.Config {
	return redis.Config{
		Address:      cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}

// loggerConfig 在未配置输出时使用 fallback；MCP 模式下 stdout 会被替换为 stderr。
func loggerConfig(cfg config.LoggingConfig, fallback string) logger.Config {
	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{fallback}
	}
	if fallback == "stderr" {
		rewritten := make([]string, 0, len(outputs))
		for _, out := range outputs {
			if out == "stdout" {
				out = "stderr"
			}
			rewritten = append(rewritten, out)
		}
		outputs = rewritten
	}
	return logger.Config{
		Level:       cfg.Level,
		Format:      cfg.Format,
		OutputPaths: outputs,
		Rotation: logger.RotationConfig{
			MaxSizeMB:  cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAgeDays: cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		},
		Audit: logger.AuditConfig{
			Enabled:    cfg.Audit.Enabled,
			Path:       cfg.Audit.Path,
			MaxSizeMB:  cfg.Audit.MaxSizeMB,
			MaxBackups: cfg.Audit.MaxBackups,
			MaxAgeDays: cfg.Audit.MaxAgeDays,
		},
	}
}
