package audit

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"forumaudit/internal/forum"
	"forumaudit/internal/logger"
)

// FlagTypeAudit 审核系统创建的标记类型
const FlagTypeAudit = "llm-audit"

// Stage 标记创建的阶段
type Stage string

const (
	StagePreApprove Stage = "pre_approval" // 新内容入队时的待审标记
	StageAudit      Stage = "audit"        // 审核判违规后的标记
)

// FlagService 维护帖子上的审核标记，给人工版主复核用
type FlagService struct {
	store  *forum.Store
	logger *zap.Logger
}

// NewFlagService 创建标记服务
func NewFlagService(store *forum.Store) *FlagService {
	return &FlagService{
		store:  store,
		logger: logger.Get().Named("flags"),
	}
}

// CreateAuditFlag 在内容对应的帖子上创建审核标记。
// 同一帖子同一类型幂等：已存在则返回现有标记不重复创建。
// 内容无法落到具体帖子（如纯资料审核）时返回 (nil, nil)。
func (s *FlagService) CreateAuditFlag(ctx context.Context, content *forum.Content, log *AuditLog, stage Stage) (*forum.Flag, error) {
	post := resolveFlagPost(content)
	if post == nil {
		return nil, nil
	}

	existing, err := s.store.FindFlag(ctx, post.ID, FlagTypeAudit)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, forum.ErrNotFound) {
		return nil, err
	}

	flag := &forum.Flag{
		PostID:       post.ID,
		Type:         FlagTypeAudit,
		Reason:       flagReason(stage),
		ReasonDetail: flagReasonDetail(log),
	}
	if err := s.store.CreateFlag(ctx, flag); err != nil {
		return nil, err
	}

	s.logger.Info("审核标记已创建",
		zap.String("post_id", post.ID),
		zap.String("stage", string(stage)))
	return flag, nil
}

// DeleteAuditFlags 删除内容对应帖子上的全部审核标记，返回删除数量
func (s *FlagService) DeleteAuditFlags(ctx context.Context, content *forum.Content) (int64, error) {
	post := resolveFlagPost(content)
	if post == nil {
		return 0, nil
	}
	count, err := s.store.DeleteFlags(ctx, post.ID, FlagTypeAudit)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.logger.Info("审核标记已清除",
			zap.String("post_id", post.ID),
			zap.Int64("count", count))
	}
	return count, nil
}

// resolveFlagPost 标记只能挂在帖子上：帖子审核用帖子本身，讨论审核用首帖
func resolveFlagPost(content *forum.Content) *forum.Post {
	switch content.Type {
	case forum.ContentTypePost:
		return content.Post
	case forum.ContentTypeDiscussion:
		return content.FirstPost
	}
	return nil
}

func flagReason(stage Stage) string {
	if stage == StagePreApprove {
		return "AI 审核中"
	}
	return "AI 审核判定违规"
}

// flagReasonDetail 标记详情，每个占位值都有兜底文案
func flagReasonDetail(log *AuditLog) string {
	if log == nil {
		return "内容已提交 AI 审核，等待结果。"
	}
	conclusion := log.Conclusion
	if conclusion == "" {
		conclusion = "未提供审核结论"
	}
	logID := log.ID
	if logID == "" {
		logID = "?"
	}
	return fmt.Sprintf("[AI 审核 #%s] %s\n置信度: %.0f%%", logID, conclusion, log.Confidence*100)
}
