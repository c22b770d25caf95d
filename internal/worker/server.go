// Package worker 承载 asynq 异步任务服务器。
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"forumaudit/internal/audit"
	"forumaudit/internal/config"
	"forumaudit/internal/forum"
	"forumaudit/internal/logger"
	"forumaudit/internal/worker/handlers"
	"forumaudit/internal/worker/tasks"
)

// Server 审核任务的消费端
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	svc    *audit.Service
	logger *zap.Logger
}

// NewServer 创建任务服务器。审核队列独占大部分并发额度。
func NewServer(cfg *config.RedisConfig, svc *audit.Service) *Server {
	log := logger.Get().Named("worker")

	server := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password: cfg.Password,
			DB:       cfg.DB,
		},
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				tasks.QueueAudit:   7,
				tasks.QueueDefault: 3,
			},
			// 重试间隔固定，不做指数退避
			RetryDelayFunc: func(n int, e error, t *asynq.Task) time.Duration {
				return audit.RetryDelay
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				log.Error("任务执行失败",
					zap.String("type", task.Type()),
					zap.Int("retried", retried),
					zap.Int("max_retry", maxRetry),
					zap.Error(err))

				// 队列彻底放弃时兜底：处理器崩溃可能没来得及落失败状态
				if task.Type() == tasks.TypeAuditContent && retried >= maxRetry {
					payload, perr := tasks.ParseAuditContentPayload(task)
					if perr != nil {
						return
					}
					req := &audit.AuditRequest{
						ContentType: forum.ContentType(payload.ContentType),
						ContentID:   payload.ContentID,
						UserID:      payload.UserID,
					}
					if ferr := svc.FailLatest(context.Background(), req, err.Error()); ferr != nil {
						log.Error("标记遗留日志失败", zap.Error(ferr))
					}
				}
			}),
			Logger: newAsynqLogger(log),
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeAuditContent, handlers.NewAuditHandler(svc).HandleAuditContent)

	return &Server{
		server: server,
		mux:    mux,
		svc:    svc,
		logger: log,
	}
}

// Start 启动任务服务器（非阻塞）
func (s *Server) Start() error {
	if err := s.server.Start(s.mux); err != nil {
		return fmt.Errorf("启动任务服务器失败: %w", err)
	}
	s.logger.Info("任务服务器已启动")
	return nil
}

// Shutdown 等待在途任务完成后退出
func (s *Server) Shutdown() {
	s.server.Shutdown()
	s.logger.Info("任务服务器已停止")
}

// asynqLogger 把 asynq 的日志接到 zap
type asynqLogger struct {
	log *zap.SugaredLogger
}

func newAsynqLogger(log *zap.Logger) *asynqLogger {
	return &asynqLogger{log: log.Sugar()}
}

func (l *asynqLogger) Debug(args ...interface{}) { l.log.Debug(args...) }
func (l *asynqLogger) Info(args ...interface{})  { l.log.Info(args...) }
func (l *asynqLogger) Warn(args ...interface{})  { l.log.Warn(args...) }
func (l *asynqLogger) Error(args ...interface{}) { l.log.Error(args...) }
func (l *asynqLogger) Fatal(args ...interface{}) { l.log.Fatal(args...) }
