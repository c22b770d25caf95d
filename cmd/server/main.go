// forumaudit 服务入口：HTTP 管理接口 + 审核任务 worker。
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"forumaudit/api"
	"forumaudit/internal/audit"
	"forumaudit/internal/config"
	"forumaudit/internal/forum"
	"forumaudit/internal/infra"
	"forumaudit/internal/infra/queue"
	"forumaudit/internal/logger"
	"forumaudit/internal/worker"
)

func main() {
	env := flag.String("env", "dev", "运行环境 (dev, prod, test)")
	configPath := flag.String("config", "", "配置文件路径")
	flag.Parse()

	// .env 不存在不算错误
	_ = godotenv.Load()

	cfg, err := config.Load(*env, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("服务启动中", zap.String("env", *env))

	// 数据库
	db, err := infra.InitDatabase(&cfg.Database)
	if err != nil {
		log.Fatal("初始化数据库失败", zap.Error(err))
	}
	defer infra.CloseDatabase()

	if cfg.Database.AutoMigrate {
		store := forum.NewStore(db)
		if err := store.AutoMigrate(); err != nil {
			log.Fatal("迁移论坛表失败", zap.Error(err))
		}
		if err := infra.AutoMigrate(db, &audit.AuditLog{}); err != nil {
			log.Fatal("迁移审核日志表失败", zap.Error(err))
		}
	}

	// Redis（队列探活用）
	if _, err := infra.InitRedis(&cfg.Redis); err != nil {
		log.Fatal("初始化 Redis 失败", zap.Error(err))
	}
	defer infra.CloseRedis()

	// 队列客户端与服务
	queueClient := queue.NewClient(&cfg.Redis)
	defer queueClient.Close()

	services := api.BuildServices(db, cfg, queueClient)

	// 任务 worker
	workerServer := worker.NewServer(&cfg.Redis, services.Audit)
	if err := workerServer.Start(); err != nil {
		log.Fatal("启动任务服务器失败", zap.Error(err))
	}

	// HTTP 服务
	router := api.SetupRouter(cfg, services)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		log.Info("HTTP 服务已启动", zap.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP 服务异常退出", zap.Error(err))
		}
	}()

	// 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("收到退出信号，开始关闭")

	workerServer.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("HTTP 服务关闭超时", zap.Error(err))
	}

	log.Info("服务已退出")
}
