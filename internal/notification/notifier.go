// Package notification 通过站内私信向用户发送审核结果通知。
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"forumaudit/internal/config"
	"forumaudit/internal/forum"
	"forumaudit/internal/logger"
)

// defaultMessageTemplate 未配置模板时使用的内置文案
const defaultMessageTemplate = "您发布的{content_type}因涉嫌违反社区规范已被处理。\n" +
	"原因：{violations}\n" +
	"置信度：{confidence}%\n" +
	"如有异议请联系管理员申诉。"

// MessageNotifier 用系统账号和用户建立私信会话发送通知
type MessageNotifier struct {
	db     *gorm.DB
	cfg    *config.AuditConfig
	logger *zap.Logger
}

// NewMessageNotifier 创建私信通知器
func NewMessageNotifier(db *gorm.DB, cfg *config.AuditConfig) *MessageNotifier {
	return &MessageNotifier{
		db:     db,
		cfg:    cfg,
		logger: logger.Get().Named("notifier"),
	}
}

// SendViolationNotice 向用户发送违规处理通知。
// 返回是否实际发送：通知关闭或系统账号未配置时返回 (false, nil)。
func (n *MessageNotifier) SendViolationNotice(ctx context.Context, user *forum.User, contentType forum.ContentType, conclusion string, confidence float64) (bool, error) {
	if !n.cfg.NotifyEnabled {
		return false, nil
	}
	if n.cfg.SystemUserID == "" {
		n.logger.Warn("通知已启用但未配置系统账号")
		return false, nil
	}
	if user.ID == n.cfg.SystemUserID {
		return false, nil
	}

	var system forum.User
	if err := n.db.WithContext(ctx).First(&system, "id = ?", n.cfg.SystemUserID).Error; err != nil {
		return false, fmt.Errorf("查询系统账号失败: %w", err)
	}

	dialog, err := n.findOrCreateDialog(ctx, system.ID, user.ID)
	if err != nil {
		return false, err
	}

	message := &forum.DialogMessage{
		ID:       uuid.New().String(),
		DialogID: dialog.ID,
		UserID:   system.ID,
		Content:  n.formatMessage(contentType, conclusion, confidence),
	}
	if err := n.db.WithContext(ctx).Create(message).Error; err != nil {
		return false, fmt.Errorf("创建通知消息失败: %w", err)
	}

	updates := map[string]interface{}{"last_message_id": message.ID}
	if dialog.FirstMessageID == nil {
		updates["first_message_id"] = message.ID
	}
	if err := n.db.WithContext(ctx).Model(dialog).Updates(updates).Error; err != nil {
		return false, fmt.Errorf("更新会话消息指针失败: %w", err)
	}

	n.logger.Info("违规通知已发送",
		zap.String("user_id", user.ID),
		zap.String("dialog_id", dialog.ID),
		zap.String("content_type", string(contentType)))
	return true, nil
}

// findOrCreateDialog 查找两人既有的私信会话，不存在则新建并拉入双方
func (n *MessageNotifier) findOrCreateDialog(ctx context.Context, systemID, userID string) (*forum.Dialog, error) {
	var dialog forum.Dialog
	err := n.db.WithContext(ctx).
		Joins("JOIN dialog_users du1 ON du1.dialog_id = dialogs.id AND du1.user_id = ?", systemID).
		Joins("JOIN dialog_users du2 ON du2.dialog_id = dialogs.id AND du2.user_id = ?", userID).
		Where("dialogs.type = ?", "direct").
		First(&dialog).Error
	if err == nil {
		return &dialog, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("查询私信会话失败: %w", err)
	}

	dialog = forum.Dialog{
		ID:   uuid.New().String(),
		Type: "direct",
	}
	err = n.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&dialog).Error; err != nil {
			return err
		}
		members := []forum.DialogUser{
			{DialogID: dialog.ID, UserID: systemID},
			{DialogID: dialog.ID, UserID: userID},
		}
		return tx.Create(&members).Error
	})
	if err != nil {
		return nil, fmt.Errorf("创建私信会话失败: %w", err)
	}
	return &dialog, nil
}

// formatMessage 渲染通知文案，占位符：{content_type} {violations} {confidence}
func (n *MessageNotifier) formatMessage(contentType forum.ContentType, conclusion string, confidence float64) string {
	template := n.cfg.MessageTemplate
	if template == "" {
		template = defaultMessageTemplate
	}
	if conclusion == "" {
		conclusion = "违反社区内容规范"
	}

	replacer := strings.NewReplacer(
		"{content_type}", translateContentType(contentType),
		"{violations}", conclusion,
		"{confidence}", fmt.Sprintf("%.0f", confidence*100),
	)
	return replacer.Replace(template)
}

func translateContentType(t forum.ContentType) string {
	switch t {
	case forum.ContentTypePost:
		return "帖子回复"
	case forum.ContentTypeDiscussion:
		return "讨论主题"
	case forum.ContentTypeUserProfile:
		return "个人资料"
	case forum.ContentTypeUpload:
		return "上传文件"
	default:
		return "内容"
	}
}
