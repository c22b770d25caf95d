package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"forumaudit/internal/config"
	"forumaudit/internal/forum"
	"forumaudit/internal/logger"
)

// Notifier 违规通知接口，由 notification 包实现
type Notifier interface {
	SendViolationNotice(ctx context.Context, user *forum.User, contentType forum.ContentType, conclusion string, confidence float64) (bool, error)
}

// 封禁落库时 reason 为审核结论，对用户可见的 message 固定为该文案
const suspendMessage = "内容违反社区规范，账号已被暂时封禁"

// ResultHandler 把模型裁决落成处置动作。
// 决策规则：置信度达到阈值且动作列表含实质动作才执行处置，否则放行内容。
type ResultHandler struct {
	db       *gorm.DB
	store    *forum.Store
	flags    *FlagService
	notifier Notifier
	cfg      *config.AuditConfig
	logger   *zap.Logger

	// OnSuspended 封禁完成后的回调，供外部系统接事件（可空）
	OnSuspended func(user *forum.User, until time.Time, reason string)
}

// NewResultHandler 创建处置器
func NewResultHandler(db *gorm.DB, store *forum.Store, flags *FlagService, notifier Notifier, cfg *config.AuditConfig) *ResultHandler {
	return &ResultHandler{
		db:       db,
		store:    store,
		flags:    flags,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.Get().Named("result"),
	}
}

// Handle 处理一次已完成审核的裁决。
// 单个动作失败不阻断其余动作，全部结果写入日志的 execution_log。
func (h *ResultHandler) Handle(ctx context.Context, log *AuditLog, user *forum.User, content *forum.Content) error {
	actions := decodeActions(log.ActionsTaken)
	verdict := &Verdict{
		Confidence: log.Confidence,
		Actions:    actions,
		Conclusion: log.Conclusion,
	}

	record := &ExecutionRecord{
		Timestamp:  time.Now().UTC(),
		Threshold:  h.cfg.ConfidenceThreshold,
		Confidence: verdict.Confidence,
		LLMActions: actions,
	}

	violated := verdict.Confidence >= h.cfg.ConfidenceThreshold && verdict.HasViolation()
	if violated {
		record.Decision = "violated"
		h.executeActions(ctx, verdict, log, user, content, record)
		h.notify(ctx, user, content.Type, verdict, record)
	} else {
		record.Decision = "approved"
		if verdict.Confidence < h.cfg.ConfidenceThreshold {
			record.Reason = ReasonBelowThreshold
		} else {
			record.Reason = ReasonNoViolations
		}
		record.ContentApproved = h.approveContent(ctx, content)
	}

	return h.persistRecord(ctx, log, record)
}

// ============================================================================
// 放行
// ============================================================================

// approveContent 把内容恢复可见并清掉审核标记。内容本就可见时只清标记。
func (h *ResultHandler) approveContent(ctx context.Context, content *forum.Content) bool {
	approved := false

	switch content.Type {
	case forum.ContentTypePost:
		if content.Post != nil && !content.Post.IsApproved {
			if err := h.store.SetPostApproved(ctx, content.Post.ID, true); err != nil {
				h.logger.Error("放行帖子失败", zap.String("post_id", content.Post.ID), zap.Error(err))
			} else {
				approved = true
			}
		}
	case forum.ContentTypeDiscussion:
		if content.Discussion != nil && !content.Discussion.IsApproved {
			if err := h.store.SetDiscussionApproved(ctx, content.Discussion.ID, true); err != nil {
				h.logger.Error("放行讨论失败", zap.String("discussion_id", content.Discussion.ID), zap.Error(err))
			} else {
				approved = true
			}
		}
	}

	if _, err := h.flags.DeleteAuditFlags(ctx, content); err != nil {
		h.logger.Error("清除审核标记失败", zap.Error(err))
	}
	return approved
}

// ============================================================================
// 处置动作
// ============================================================================

// executeActions 逐个执行裁决动作，彼此隔离
func (h *ResultHandler) executeActions(ctx context.Context, verdict *Verdict, log *AuditLog, user *forum.User, content *forum.Content, record *ExecutionRecord) {
	for _, action := range verdict.Actions {
		result := ActionResult{
			Action:    action,
			Timestamp: time.Now().UTC(),
		}

		// none 不做任何处置，但照样留痕
		if action == ActionNone {
			result.Status = "no_action_taken"
			record.ActionsExecuted = append(record.ActionsExecuted, result)
			observeAction(action, "no_action_taken")
			continue
		}

		var err error
		switch action {
		case ActionHide, ActionUnapprove, ActionDelete:
			// 内容处置统一落为隐藏（delete 同样降级为隐藏，保留证据链）
			err = h.hideContent(ctx, log, content, &result)
		case ActionSuspend:
			err = h.suspendUser(ctx, user, verdict.Conclusion, &result)
		default:
			// 未知动作只留痕，不中断其余动作，也不做任何状态变更
			result.Status = "unknown"
			record.ActionsExecuted = append(record.ActionsExecuted, result)
			observeAction(action, "unknown")
			continue
		}

		if err != nil {
			result.Status = "failed"
			result.Error = err.Error()
			h.logger.Error("处置动作执行失败",
				zap.String("action", string(action)),
				zap.String("audit_log_id", log.ID),
				zap.Error(err))
		} else {
			result.Status = "success"
		}
		observeAction(action, result.Status)
		record.ActionsExecuted = append(record.ActionsExecuted, result)
	}

	// 违规内容挂标记，交人工复核
	if _, err := h.flags.CreateAuditFlag(ctx, content, log, StageAudit); err != nil {
		h.logger.Error("创建违规标记失败", zap.String("audit_log_id", log.ID), zap.Error(err))
	}
}

// hideContent 隐藏违规内容；资料审核时退化为重置资料字段
func (h *ResultHandler) hideContent(ctx context.Context, log *AuditLog, content *forum.Content, result *ActionResult) error {
	result.ContentType = string(content.Type)

	switch content.Type {
	case forum.ContentTypePost:
		result.ContentID = content.Post.ID
		return h.store.SetPostApproved(ctx, content.Post.ID, false)

	case forum.ContentTypeDiscussion:
		result.ContentID = content.Discussion.ID
		return h.store.SetDiscussionApproved(ctx, content.Discussion.ID, false)

	case forum.ContentTypeUserProfile:
		return h.revertProfile(ctx, log, content, result)

	case forum.ContentTypeUpload:
		// 文件体在外部存储，这里只能标记元数据；留给人工删除
		result.ContentID = content.Upload.ID
		return nil
	}
	return fmt.Errorf("无法隐藏的内容类型: %s", content.Type)
}

// revertProfile 把违规的资料字段重置为默认值。
// 只重置本次送审快照里出现过的字段。
func (h *ResultHandler) revertProfile(ctx context.Context, log *AuditLog, content *forum.Content, result *ActionResult) error {
	user := content.User
	if user == nil {
		user = content.Owner
	}
	if user == nil {
		return fmt.Errorf("资料审核缺少用户")
	}
	result.UserID = user.ID

	audited := auditedProfileFields(log)

	fields := map[string]interface{}{}
	var reverted []string
	for field := range audited {
		switch field {
		case "display_name":
			// 未配置默认别名时退回用户名，不能把别名清成空串
			name := h.cfg.DefaultDisplayName
			if name == "" {
				name = user.Username
			}
			fields["display_name"] = name
		case "bio":
			fields["bio"] = h.cfg.DefaultBio
		case "avatar":
			fields["avatar_path"] = ""
		case "cover":
			fields["cover_path"] = ""
		case "username":
			// 用户名是登录标识，不自动改，仅记录
			continue
		default:
			continue
		}
		reverted = append(reverted, field)
	}

	if len(fields) == 0 {
		return nil
	}
	if err := h.store.UpdateUserFields(ctx, user.ID, fields); err != nil {
		return err
	}
	result.RevertedFields = reverted
	return nil
}

// auditedProfileFields 从日志的内容快照取出送审过的字段集合
func auditedProfileFields(log *AuditLog) map[string]struct{} {
	fields := map[string]struct{}{}
	if log == nil || len(log.AuditedContent) == 0 {
		return fields
	}
	var payload AuditPayload
	if err := json.Unmarshal(log.AuditedContent, &payload); err != nil {
		return fields
	}
	for field := range payload.Content {
		fields[field] = struct{}{}
	}
	for _, img := range payload.Images {
		switch img.Type {
		case "avatar":
			fields["avatar"] = struct{}{}
		case "cover":
			fields["cover"] = struct{}{}
		}
	}
	return fields
}

// suspendUser 按配置天数封禁用户，封禁原因为模型结论
func (h *ResultHandler) suspendUser(ctx context.Context, user *forum.User, conclusion string, result *ActionResult) error {
	if user == nil {
		return fmt.Errorf("封禁动作缺少用户")
	}
	days := h.cfg.SuspendDays
	if days <= 0 {
		days = 7
	}
	until := time.Now().UTC().AddDate(0, 0, days)
	reason := conclusion
	if reason == "" {
		reason = "违反社区内容规范"
	}

	if err := h.store.SuspendUser(ctx, user.ID, until, reason, suspendMessage); err != nil {
		return err
	}

	result.UserID = user.ID
	result.SuspendDays = days
	result.SuspendedUntil = until.Format(time.RFC3339)

	h.logger.Warn("用户已封禁",
		zap.String("user_id", user.ID),
		zap.Int("days", days),
		zap.Time("until", until))

	if h.OnSuspended != nil {
		h.OnSuspended(user, until, reason)
	}
	return nil
}

// ============================================================================
// 通知与留痕
// ============================================================================

func (h *ResultHandler) notify(ctx context.Context, user *forum.User, contentType forum.ContentType, verdict *Verdict, record *ExecutionRecord) {
	if h.notifier == nil {
		return
	}
	sent, err := h.notifier.SendViolationNotice(ctx, user, contentType, verdict.Conclusion, verdict.Confidence)
	observeNotification(sent, err)
	record.MessageSent = &sent
	if err != nil {
		// 通知失败不影响处置结果，只记录
		record.MessageError = err.Error()
		h.logger.Error("发送违规通知失败", zap.String("user_id", user.ID), zap.Error(err))
	}
}

func (h *ResultHandler) persistRecord(ctx context.Context, log *AuditLog, record *ExecutionRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化处置记录失败: %w", err)
	}
	log.ExecutionLog = data
	if err := h.db.WithContext(ctx).Model(log).Update("execution_log", log.ExecutionLog).Error; err != nil {
		return fmt.Errorf("保存处置记录失败: %w", err)
	}
	return nil
}

// decodeActions 反序列化 actions_taken 字段
func decodeActions(data []byte) []Action {
	if len(data) == 0 {
		return []Action{ActionNone}
	}
	var actions []Action
	if err := json.Unmarshal(data, &actions); err != nil || len(actions) == 0 {
		return []Action{ActionNone}
	}
	return actions
}
