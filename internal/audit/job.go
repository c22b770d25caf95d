package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"forumaudit/internal/config"
	"forumaudit/internal/forum"
	"forumaudit/internal/logger"
)

const (
	// MaxRetries 任务失败后的最大重试次数
	MaxRetries = 3
	// RetryDelay 重试间隔，固定值
	RetryDelay = 60 * time.Second
)

// Service 审核任务的执行入口。每次执行（含重试）产生一行独立的审核日志，
// 快照按阶段即时落库：内容快照 -> 请求快照 -> 模型调用 -> 响应与裁决。
type Service struct {
	db        *gorm.DB
	store     *forum.Store
	extractor *Extractor
	llm       VerdictClient
	results   *ResultHandler
	cfg       *config.AuditConfig
	logger    *zap.Logger
}

// NewService 创建审核任务服务
func NewService(db *gorm.DB, store *forum.Store, extractor *Extractor, llm VerdictClient, results *ResultHandler, cfg *config.AuditConfig) *Service {
	return &Service{
		db:        db,
		store:     store,
		extractor: extractor,
		llm:       llm,
		results:   results,
		cfg:       cfg,
		logger:    logger.Get().Named("audit"),
	}
}

// Run 执行一次审核。attempt 为本次执行的重试序号（首次为 0）。
// 返回 ContentNotFoundError 时任务不应再重试。
func (s *Service) Run(ctx context.Context, req *AuditRequest, attempt int) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("审核请求不合法: %w", err)
	}

	// 配置缺失直接跳过，不算失败也不留日志
	if !s.llm.IsConfigured() {
		s.logger.Warn("模型未配置，跳过审核",
			zap.String("content_type", string(req.ContentType)),
			zap.String("content_id", req.ContentID))
		return nil
	}

	log := s.newLog(req, attempt)
	ctx = logger.WithAuditID(ctx, log.ID)

	s.logger.Info("审核任务开始",
		zap.String("audit_log_id", log.ID),
		zap.String("content_type", string(req.ContentType)),
		zap.String("content_id", req.ContentID),
		zap.Int("attempt", attempt))

	if err := s.saveLog(ctx, log); err != nil {
		return err
	}

	// 1. 加载内容。不存在属终结性失败，留痕后不再重试。
	content, err := s.store.LoadContent(ctx, req.ContentType, req.ContentID, req.UserID)
	if err != nil {
		if errors.Is(err, forum.ErrNotFound) {
			nfErr := &ContentNotFoundError{
				ContentType: req.ContentType,
				ContentID:   req.ContentID,
				UserID:      req.UserID,
			}
			s.failLog(ctx, log, nfErr.Error(), attempt, true)
			return nfErr
		}
		s.failLog(ctx, log, err.Error(), attempt, false)
		return fmt.Errorf("加载审核内容失败: %w", err)
	}

	// 2. 提取内容快照并先于模型请求落库
	payload, err := s.extractor.Extract(ctx, content, req.Changes)
	if err != nil {
		s.failLog(ctx, log, err.Error(), attempt, false)
		return fmt.Errorf("提取审核内容失败: %w", err)
	}
	log.AuditedContent, _ = json.Marshal(payload)
	if err := s.saveLog(ctx, log); err != nil {
		return err
	}

	// 3. 组装请求并落请求快照，保证"先留痕后外呼"
	messages := BuildMessages(payload, s.llm.SystemPrompt())
	requestSnapshot := map[string]interface{}{
		"model":     s.cfg.Model,
		"messages":  messages,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	log.APIRequest, _ = json.Marshal(requestSnapshot)
	if err := s.saveLog(ctx, log); err != nil {
		return err
	}

	// 4. 调用模型
	start := time.Now()
	verdict, rawResponse, err := s.llm.Audit(ctx, messages)
	observeLLMRequest(s.cfg.Model, time.Since(start), err)

	if rawResponse != nil {
		log.APIResponse = datatypes.JSON(rawResponse)
	}
	if err != nil {
		if IsConfigurationError(err) {
			// 执行中途发现配置被清空，跳过而不失败
			s.logger.Warn("模型配置缺失，任务跳过", zap.String("audit_log_id", log.ID))
			s.failLog(ctx, log, err.Error(), attempt, true)
			return nil
		}
		s.failLog(ctx, log, err.Error(), attempt, false)
		return fmt.Errorf("审核请求失败: %w", err)
	}

	// 5. 落裁决
	log.ResponseFormatVersion = ResponseFormatVersion
	log.Confidence = verdict.Confidence
	log.ActionsTaken, _ = json.Marshal(verdict.Actions)
	log.Conclusion = verdict.Conclusion
	log.Status = StatusCompleted
	if err := s.saveLog(ctx, log); err != nil {
		return err
	}
	observeJob(string(req.ContentType), StatusCompleted)

	s.logger.Info("审核完成",
		zap.String("audit_log_id", log.ID),
		zap.Float64("confidence", verdict.Confidence),
		zap.Any("actions", verdict.Actions))

	// 6. 同步处置
	if err := s.results.Handle(ctx, log, content.Owner, content); err != nil {
		return fmt.Errorf("处置审核结果失败: %w", err)
	}
	return nil
}

// ============================================================================
// 日志维护
// ============================================================================

func (s *Service) newLog(req *AuditRequest, attempt int) *AuditLog {
	log := &AuditLog{
		ID:          uuid.New().String(),
		ContentType: req.ContentType,
		UserID:      req.UserID,
		Status:      StatusPending,
		RetryCount:  attempt,
	}
	if req.ContentID != "" {
		id := req.ContentID
		log.ContentID = &id
	}
	return log
}

func (s *Service) saveLog(ctx context.Context, log *AuditLog) error {
	if err := s.db.WithContext(ctx).Save(log).Error; err != nil {
		return fmt.Errorf("保存审核日志失败: %w", err)
	}
	return nil
}

// failLog 把当前日志标记为失败。terminal 表示不会再重试，
// 重试耗尽时在错误信息前加终结前缀。
func (s *Service) failLog(ctx context.Context, log *AuditLog, message string, attempt int, terminal bool) {
	if !terminal && attempt >= MaxRetries {
		message = "已达最大重试次数: " + message
	}
	log.Status = StatusFailed
	log.ErrorMessage = message
	log.RetryCount = attempt
	if err := s.db.WithContext(ctx).Save(log).Error; err != nil {
		s.logger.Error("保存失败状态失败", zap.String("audit_log_id", log.ID), zap.Error(err))
	}
	observeJob(string(log.ContentType), StatusFailed)
}

// FailLatest 把同一目标最近一条未完成的日志标记为失败。
// 供任务彻底放弃时兜底（如执行早期崩溃没留下当次日志）。
func (s *Service) FailLatest(ctx context.Context, req *AuditRequest, message string) error {
	query := s.db.WithContext(ctx).Model(&AuditLog{}).
		Where("content_type = ? AND user_id = ? AND status <> ?", req.ContentType, req.UserID, StatusCompleted)
	if req.ContentID != "" {
		query = query.Where("content_id = ?", req.ContentID)
	} else {
		query = query.Where("content_id IS NULL")
	}

	var log AuditLog
	if err := query.Order("created_at DESC").First(&log).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("查询待失败日志失败: %w", err)
	}
	if log.Status == StatusFailed {
		return nil
	}

	log.Status = StatusFailed
	log.ErrorMessage = message
	if err := s.db.WithContext(ctx).Save(&log).Error; err != nil {
		return fmt.Errorf("标记日志失败状态失败: %w", err)
	}
	return nil
}

// MarkRetrying 人工重试前把旧日志置为 retrying
func (s *Service) MarkRetrying(ctx context.Context, logID string) (*AuditLog, error) {
	var log AuditLog
	if err := s.db.WithContext(ctx).First(&log, "id = ?", logID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, forum.ErrNotFound
		}
		return nil, fmt.Errorf("查询审核日志失败: %w", err)
	}
	if log.Status == StatusCompleted {
		return nil, fmt.Errorf("已完成的审核不能重试")
	}

	log.Status = StatusRetrying
	if err := s.db.WithContext(ctx).Save(&log).Error; err != nil {
		return nil, fmt.Errorf("更新审核日志失败: %w", err)
	}
	return &log, nil
}
