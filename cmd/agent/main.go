package main

import (
	"Fieldlink/internal/api/config"
	"Fieldlink/internal/pkg/cron"
	"Fieldlink/internal/pkg/database"
	"Fieldlink/internal/pkg/logger"
	"Fieldlink/internal/pkg/minio"
	"Fieldlink/internal/wire"
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

func main() {
	// 加载配置
	if err := config.LoadConfig(); err != nil {
		log.Error("Fatal error: failed to load configuration", "err", err)
		panic(err)
	}
	cfg := config.Cfg

	// 初始化日志
	logger.InitLogger()

	// 本地消息库
	dbCfg := cfg.DB
	db, err := database.NewGormDB(&dbCfg)
	if err != nil {
		log.Error("Fatal error: failed to open local message store", "err", err)
		panic(err)
	}

	// 对象存储客户端。终端可能长期离线，这里只构造不探活
	if err = minio.Init(); err != nil {
		log.Error("Fatal error: failed to initialize MinIO", "err", err)
		panic(err)
	}

	// 依赖注入
	app, err := wire.BuildApplication(db, cfg)
	if err != nil {
		log.Error("Fatal error: failed to create application", "err", err)
		panic(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	// 定时任务
	err = cron.InitCron(app.CronMgr)
	if err != nil {
		log.Error("Fatal error: failed to start cron jobs", "err", err)
		panic(err)
	}
	g.Go(func() error {
		<-ctx.Done()
		log.Info("Cron Jobs stopping...")
		app.CronMgr.Stop()
		return nil
	})

	// 网络可达性探测
	g.Go(func() error {
		log.Info("Network prober starting...")
		return app.Prober.Run(ctx)
	})

	// 实时通道重连循环
	g.Go(func() error {
		log.Info("Realtime channel starting...")
		return app.Transport.Run(ctx)
	})

	// 出站投递队列
	g.Go(func() error {
		log.Info("Delivery queue starting...")
		return app.Queue.Run(ctx)
	})

	// 附件管线：先恢复跨重启的未完成任务，再启动工作池
	g.Go(func() error {
		log.Info("Attachment pipeline starting...")
		if err := app.Attach.Resume(ctx); err != nil {
			log.Error("Attachment resume failed", "err", err)
		}
		return app.Attach.Run(ctx)
	})

	// 回环 HTTP 服务器，仅 UI 进程可达
	srv := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port),
		Handler: app.Router,
	}
	g.Go(func() error {
		log.Info("HTTP Server starting...", "addr", srv.Addr)
		if err = srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// 优雅退出
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig := <-quit:
			log.Info("Received signal, shutting down...", "signal", sig)
			cancel()
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err = srv.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP Server shutdown failed", "err", err)
		}
		return nil
	})

	if err = g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("App exited with error", "err", err)
	}
	log.Info("App exited successfully.")
}
