// Package queue 封装审核任务的入队客户端。
package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"forumaudit/internal/audit"
	"forumaudit/internal/config"
	"forumaudit/internal/logger"
	"forumaudit/internal/worker/tasks"
)

// Client 审核任务入队客户端，实现 audit.Enqueuer
type Client struct {
	client *asynq.Client
	logger *zap.Logger
}

// NewClient 创建队列客户端
func NewClient(cfg *config.RedisConfig) *Client {
	return &Client{
		client: asynq.NewClient(asynq.RedisClientOpt{
			Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		logger: logger.Get().Named("queue"),
	}
}

// EnqueueAudit 入队一条审核任务。
// 同一目标短时间内重复提交按唯一键去重，重复提交不算错误。
func (c *Client) EnqueueAudit(req *audit.AuditRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	task, err := tasks.NewAuditContentTask(&tasks.AuditContentPayload{
		ContentType: string(req.ContentType),
		ContentID:   req.ContentID,
		UserID:      req.UserID,
		Changes:     req.Changes,
	})
	if err != nil {
		return err
	}

	info, err := c.client.Enqueue(task,
		asynq.Queue(tasks.QueueAudit),
		asynq.MaxRetry(audit.MaxRetries),
		asynq.Timeout(5*time.Minute),
		asynq.Unique(time.Minute),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrDuplicateTask) {
			c.logger.Debug("审核任务重复提交，已去重",
				zap.String("content_type", string(req.ContentType)),
				zap.String("content_id", req.ContentID))
			return nil
		}
		return fmt.Errorf("审核任务入队失败: %w", err)
	}

	c.logger.Info("审核任务已入队",
		zap.String("task_id", info.ID),
		zap.String("queue", info.Queue),
		zap.String("content_type", string(req.ContentType)),
		zap.String("content_id", req.ContentID))
	return nil
}

// Close 关闭底层连接
func (c *Client) Close() error {
	return c.client.Close()
}
