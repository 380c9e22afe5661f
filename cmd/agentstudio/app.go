package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"AgentStudio/internal/catalog"
	"AgentStudio/internal/config"
	"AgentStudio/internal/events"
	"AgentStudio/internal/observability/metrics"
	"AgentStudio/internal/upload"
	"AgentStudio/pkg/logger"
	"AgentStudio/sdk/go/agentapi"
)

// app 保存一次命令执行期间共享的依赖。
type app struct {
	cfg      *config.Config
	client   *agentapi.Client
	registry *prometheus.Registry
	metrics  *metrics.Upload
	closers  []func() error
}

func newRootCommand() *cobra.Command {
	var configPath string
	a := &app{}

	root := &cobra.Command{
		Use:           "agentstudio",
		Short:         "Configure AI call agents and upload their reference documents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd.Context(), configPath)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.close()
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "配置文件路径（默认读取 $"+config.EnvConfigPath+" 或 configs/agentstudio.yaml）")

	root.AddCommand(
		newUploadCommand(a),
		newAgentsCommand(a),
		newCatalogCommand(a),
	)
	return root
}

func (a *app) init(ctx context.Context, configPath string) error {
	if configPath == "" {
		configPath = os.Getenv(config.EnvConfigPath)
	}
	if configPath == "" {
		configPath = filepath.Join("configs", "agentstudio.yaml")
	}
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	a.closers = append(a.closers, logger.Sync)

	client, err := agentapi.NewClient(cfg.API.BaseURL, &http.Client{Timeout: cfg.API.Timeout()},
		agentapi.WithAccessToken(cfg.API.Token),
	)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.client = client
	a.registry = prometheus.NewRegistry()
	a.metrics = metrics.NewUpload(a.registry)

	if cfg.Metrics.Address != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Metrics.Address, a.registry); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Warn("指标服务异常退出", slog.String("address", cfg.Metrics.Address), slog.Any("error", err))
			}
		}()
	}
	logger.L().Debug("配置加载完成", slog.String("path", configPath), slog.String("api", cfg.API.BaseURL))
	return nil
}

func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// newSink 依据配置构建事件投递目标，未配置时返回 nil。
func (a *app) newSink(ctx context.Context) (events.Sink, error) {
	var sinks []events.Sink
	for _, name := range a.cfg.Events.Sinks {
		var (
			sink events.Sink
			err  error
		)
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "", "none":
			continue
		case "memory":
			sink = events.NewMemorySink()
		case "redis":
			redisCfg := a.cfg.Events.Redis
			sink, err = events.NewRedisSink(ctx, events.RedisConfig{
				Address:  redisCfg.Address,
				Password: redisCfg.Password,
				DB:       redisCfg.DB,
				Channel:  redisCfg.Channel,
			})
		case "rabbitmq":
			mqCfg := a.cfg.Events.RabbitMQ
			sink, err = events.NewRabbitMQSink(events.RabbitMQConfig{
				URL:     mqCfg.URL,
				Queue:   mqCfg.Queue,
				Durable: mqCfg.Durable,
			})
		case "mysql":
			sink, err = events.NewMySQLSink(ctx, a.cfg.Events.MySQL.DSN)
		default:
			err = fmt.Errorf("未知的事件投递目标: %s", name)
		}
		if err != nil {
			_ = events.NewFanout(sinks...).Close()
			return nil, err
		}
		sinks = append(sinks, sink)
	}
	if len(sinks) == 0 {
		return nil, nil
	}
	fan := events.NewFanout(sinks...)
	a.closers = append(a.closers, fan.Close)
	return fan, nil
}

// newCache 依据配置构建参考数据缓存，"none" 表示不缓存。
func (a *app) newCache(ctx context.Context) (catalog.Cache, error) {
	switch strings.ToLower(a.cfg.Catalog.Cache) {
	case "none", "off":
		return nil, nil
	case "", "memory":
		return catalog.NewMemoryCache(), nil
	case "redis":
		redisCfg := a.cfg.Catalog.Redis
		cache, err := catalog.NewRedisCache(ctx, catalog.RedisCacheConfig{
			Address:  redisCfg.Address,
			Password: redisCfg.Password,
			DB:       redisCfg.DB,
			Prefix:   redisCfg.Prefix,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, cache.Close)
		return cache, nil
	default:
		return nil, fmt.Errorf("未知的缓存驱动: %s", a.cfg.Catalog.Cache)
	}
}

// newSession 创建上传会话，调用方负责 Close。
func (a *app) newSession(ctx context.Context) (*upload.Orchestrator, error) {
	sink, err := a.newSink(ctx)
	if err != nil {
		return nil, err
	}
	opts := []upload.Option{
		upload.WithMaxConcurrent(a.cfg.Upload.MaxConcurrent),
		upload.WithAcceptedExtensions(a.cfg.Upload.AcceptedExtensions...),
		upload.WithMetrics(a.metrics),
	}
	if sink != nil {
		opts = append(opts, upload.WithEventSink(sink))
	}
	return upload.New(a.client, opts...), nil
}
