// Package handlers 实现异步任务的处理器。
package handlers

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"forumaudit/internal/audit"
	"forumaudit/internal/forum"
	"forumaudit/internal/logger"
	"forumaudit/internal/worker/tasks"
)

// AuditHandler 内容审核任务处理器
type AuditHandler struct {
	svc    *audit.Service
	logger *zap.Logger
}

// NewAuditHandler 创建审核任务处理器
func NewAuditHandler(svc *audit.Service) *AuditHandler {
	return &AuditHandler{
		svc:    svc,
		logger: logger.Get().Named("worker"),
	}
}

// HandleAuditContent 执行内容审核任务。
// 内容不存在属终结性失败，包上 SkipRetry 让队列放弃重试。
func (h *AuditHandler) HandleAuditContent(ctx context.Context, t *asynq.Task) error {
	payload, err := tasks.ParseAuditContentPayload(t)
	if err != nil {
		// 载荷坏了重试也没用
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	attempt, _ := asynq.GetRetryCount(ctx)

	req := &audit.AuditRequest{
		ContentType: forum.ContentType(payload.ContentType),
		ContentID:   payload.ContentID,
		UserID:      payload.UserID,
		Changes:     payload.Changes,
	}

	if err := h.svc.Run(ctx, req, attempt); err != nil {
		if audit.IsContentNotFound(err) {
			h.logger.Warn("审核内容已不存在，放弃任务",
				zap.String("content_type", payload.ContentType),
				zap.String("content_id", payload.ContentID))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
	return nil
}
