package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/bitsmanent/pixelounifier/internal/api"
	"github.com/bitsmanent/pixelounifier/internal/config"
	"github.com/bitsmanent/pixelounifier/internal/database"
	"github.com/bitsmanent/pixelounifier/internal/ingest"
	"github.com/bitsmanent/pixelounifier/internal/interfaces"
	"github.com/bitsmanent/pixelounifier/internal/notify"
	"github.com/bitsmanent/pixelounifier/internal/repository"
	"github.com/bitsmanent/pixelounifier/internal/service"
	"github.com/bitsmanent/pixelounifier/internal/utils/httpclient"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configDir string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "pixelounifier",
		Short:         "多数据源赛事/赔率统一服务",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorker(cmd.Context(), opts)
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configDir, "config", "./config", "config.yaml 所在目录")

	cmd.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "执行一次 sweep 后退出",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSweepOnce(cmd.Context(), opts)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "仅执行数据库迁移",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, _, _, err := setup(opts)
			return err
		},
	})
	return cmd
}

// setup 加载配置、初始化日志并连接数据库（库不存在则创建），完成迁移
func setup(opts *rootOptions) (*config.Config, *logrus.Logger, *gorm.DB, error) {
	cfg, err := config.Load(opts.configDir)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("加载配置文件失败: %w", err)
	}
	logger := cfg.Log.NewLogger()
	logger.Info("配置文件加载成功")

	db, err := database.Open(cfg.Postgres, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, nil, nil, fmt.Errorf("数据库表结构迁移失败: %w", err)
	}
	logger.Info("数据库表结构检查完成（不存在则已创建）")
	return cfg, logger, db, nil
}

func newPublisher(cfg *config.Config, client *redis.Client, logger *logrus.Logger) interfaces.UpdatePublisher {
	if cfg.Notify.Driver == config.NotifyDriverRabbitMQHTTP {
		httpClient := httpclient.NewHTTPClient(httpclient.Options{Timeout: cfg.Notify.Timeout, Proxy: cfg.Notify.Proxy}, logger)
		return notify.NewRabbitHTTPPublisher(httpClient, cfg.Notify.PublishURI, cfg.Notify.RoutingKey, cfg.Notify.User, cfg.Notify.Pass, logger)
	}
	return notify.NewRedisStreamPublisher(client, cfg.Redis.UpdatesStream, cfg.Redis.UpdatesMaxLen)
}

func runWorker(parent context.Context, opts *rootOptions) error {
	cfg, logger, db, err := setup(opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := database.OpenRedis(ctx, cfg.Redis.URL)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()
	logger.Info("Redis连接成功")

	publisher := newPublisher(cfg, client, logger)
	logger.WithField("publisher", publisher.Name()).Info("通知投递已配置")

	unifier := service.NewUnifier(db, cfg.Unifier, publisher, logger)
	writer := service.NewStagingService(repository.NewStagingRepository(db), logger)
	consumer := ingest.NewConsumer(client, cfg.Redis, ingest.NewDefaultRegistry(logger), writer, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return unifier.Run(gctx) })
	g.Go(func() error { return consumer.Run(gctx) })

	if cfg.Server.Port != 0 {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           api.NewRouter(db, unifier, logger, cfg.Server.Mode),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Infof("管理端启动成功，端口：%d", cfg.Server.Port)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("启动管理端失败: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("服务异常退出")
		return err
	}
	logger.Info("服务已退出")
	return nil
}

func runSweepOnce(parent context.Context, opts *rootOptions) error {
	cfg, logger, db, err := setup(opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var publisher interfaces.UpdatePublisher
	if cfg.Notify.Driver == config.NotifyDriverRabbitMQHTTP {
		publisher = newPublisher(cfg, nil, logger)
	} else {
		client, err := database.OpenRedis(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		publisher = newPublisher(cfg, client, logger)
	}

	report, err := service.NewUnifier(db, cfg.Unifier, publisher, logger).Sweep(ctx)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"claimed":   report.Claimed(),
		"updates":   report.Updates,
		"batches":   report.Batches,
		"delivered": report.Delivered,
		"failed":    report.Failed(),
	}).Info("sweep 结束")
	if report.Failed() {
		return errors.New("部分阶段执行失败，详见日志")
	}
	return nil
}
