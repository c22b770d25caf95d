// Package auditlog 提供审核日志的管理端接口。
package auditlog

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"forumaudit/api/handlers/common"
	"forumaudit/internal/audit"
	"forumaudit/internal/auth"
	"forumaudit/internal/forum"
	"forumaudit/internal/logger"
)

// Handler 审核日志接口
type Handler struct {
	query   *audit.QueryService
	svc     *audit.Service
	enqueue audit.Enqueuer
	logger  *zap.Logger
}

// NewHandler 创建审核日志接口
func NewHandler(query *audit.QueryService, svc *audit.Service, enqueue audit.Enqueuer) *Handler {
	return &Handler{
		query:   query,
		svc:     svc,
		enqueue: enqueue,
		logger:  logger.Get().Named("api"),
	}
}

// List 分页查询审核日志。
// 无完整查看权限时返回脱敏记录（去掉内容和请求/响应快照）。
func (h *Handler) List(c *gin.Context) {
	query := &audit.LogQuery{
		ContentType: c.Query("content_type"),
		Status:      c.Query("status"),
		UserID:      c.Query("user_id"),
		SortBy:      c.DefaultQuery("sort_by", "created_at"),
		SortDesc:    c.DefaultQuery("sort_dir", "desc") == "desc",
	}
	query.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	query.PageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if raw := c.Query("min_confidence"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			query.MinConfidence = v
		}
	}

	logs, total, err := h.query.List(c.Request.Context(), query)
	if err != nil {
		h.logger.Error("查询审核日志失败", zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, "查询审核日志失败")
		return
	}

	claims := auth.ClaimsFrom(c)
	if claims == nil || !claims.Has(auth.PermViewFullAuditLogs) {
		redacted := make([]audit.AuditLog, 0, len(logs))
		for i := range logs {
			redacted = append(redacted, *audit.Redact(&logs[i]))
		}
		logs = redacted
	}

	common.Paginated(c, logs, query.Page, query.PageSize, total)
}

// Get 查询单条审核日志详情
func (h *Handler) Get(c *gin.Context) {
	log, err := h.query.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, forum.ErrNotFound) {
			common.Fail(c, http.StatusNotFound, "审核日志不存在")
			return
		}
		h.logger.Error("查询审核日志失败", zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, "查询审核日志失败")
		return
	}

	claims := auth.ClaimsFrom(c)
	if claims == nil || !claims.Has(auth.PermViewFullAuditLogs) {
		log = audit.Redact(log)
	}

	common.OK(c, log)
}

// Stats 各状态日志数量统计
func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.query.Stats(c.Request.Context())
	if err != nil {
		h.logger.Error("统计审核日志失败", zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, "统计审核日志失败")
		return
	}
	common.OK(c, stats)
}

// Retry 人工重试一条失败的审核
func (h *Handler) Retry(c *gin.Context) {
	log, err := h.svc.MarkRetrying(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, forum.ErrNotFound) {
			common.Fail(c, http.StatusNotFound, "审核日志不存在")
			return
		}
		common.Fail(c, http.StatusBadRequest, err.Error())
		return
	}

	req := &audit.AuditRequest{
		ContentType: log.ContentType,
		UserID:      log.UserID,
	}
	if log.ContentID != nil {
		req.ContentID = *log.ContentID
	}
	if err := h.enqueue.EnqueueAudit(req); err != nil {
		h.logger.Error("重试任务入队失败", zap.String("audit_log_id", log.ID), zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, "重试任务入队失败")
		return
	}

	common.Accepted(c, "审核任务已重新入队")
}

// manualAuditRequest 手动触发审核的请求体
type manualAuditRequest struct {
	ContentType string `json:"content_type" binding:"required"`
	ContentID   string `json:"content_id"`
	UserID      string `json:"user_id" binding:"required"`
}

// Manual 手动触发一次审核
func (h *Handler) Manual(c *gin.Context) {
	var body manualAuditRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		common.Fail(c, http.StatusBadRequest, "请求参数错误: "+err.Error())
		return
	}

	req := &audit.AuditRequest{
		ContentType: forum.ContentType(body.ContentType),
		ContentID:   body.ContentID,
		UserID:      body.UserID,
	}
	if err := req.Validate(); err != nil {
		common.Fail(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.enqueue.EnqueueAudit(req); err != nil {
		h.logger.Error("手动审核入队失败", zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, "审核任务入队失败")
		return
	}

	common.Accepted(c, "审核任务已入队")
}
