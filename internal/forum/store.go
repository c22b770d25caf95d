package forum

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrNotFound 内容不存在
var ErrNotFound = errors.New("记录不存在")

// Store 论坛内容数据访问层
type Store struct {
	db *gorm.DB
}

// NewStore 创建内容存储
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB 返回底层数据库连接
func (s *Store) DB() *gorm.DB {
	return s.db
}

// AutoMigrate 迁移论坛相关表
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(
		&User{},
		&Discussion{},
		&Post{},
		&Upload{},
		&Flag{},
		&Dialog{},
		&DialogUser{},
		&DialogMessage{},
	)
}

// ============================================================================
// 内容加载
// ============================================================================

// LoadContent 按类型加载审核目标及其关联上下文。
// 内容或作者不存在时返回 ErrNotFound。
func (s *Store) LoadContent(ctx context.Context, contentType ContentType, contentID, userID string) (*Content, error) {
	content := &Content{Type: contentType}

	switch contentType {
	case ContentTypePost:
		post, err := s.FindPost(ctx, contentID)
		if err != nil {
			return nil, err
		}
		content.Post = post
		discussion, err := s.FindDiscussion(ctx, post.DiscussionID)
		if err == nil {
			content.Discussion = discussion
			if first, ferr := s.FirstPost(ctx, discussion.ID); ferr == nil {
				content.FirstPost = first
			}
		}

	case ContentTypeDiscussion:
		discussion, err := s.FindDiscussion(ctx, contentID)
		if err != nil {
			return nil, err
		}
		content.Discussion = discussion
		if first, ferr := s.FirstPost(ctx, discussion.ID); ferr == nil {
			content.FirstPost = first
		}

	case ContentTypeUserProfile:
		user, err := s.FindUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		content.User = user

	case ContentTypeUpload:
		upload, err := s.FindUpload(ctx, contentID)
		if err != nil {
			return nil, err
		}
		content.Upload = upload

	default:
		return nil, fmt.Errorf("不支持的内容类型: %s", contentType)
	}

	owner, err := s.FindUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	content.Owner = owner

	return content, nil
}

// FindPost 查询帖子
func (s *Store) FindPost(ctx context.Context, id string) (*Post, error) {
	var post Post
	if err := s.db.WithContext(ctx).First(&post, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("查询帖子失败: %w", err)
	}
	return &post, nil
}

// FindDiscussion 查询讨论
func (s *Store) FindDiscussion(ctx context.Context, id string) (*Discussion, error) {
	var discussion Discussion
	if err := s.db.WithContext(ctx).First(&discussion, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("查询讨论失败: %w", err)
	}
	return &discussion, nil
}

// FirstPost 查询讨论首帖（楼层号 1）
func (s *Store) FirstPost(ctx context.Context, discussionID string) (*Post, error) {
	var post Post
	err := s.db.WithContext(ctx).
		Where("discussion_id = ? AND number = 1", discussionID).
		First(&post).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("查询首帖失败: %w", err)
	}
	return &post, nil
}

// FindUser 查询用户
func (s *Store) FindUser(ctx context.Context, id string) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}
	return &user, nil
}

// FindUpload 查询上传文件
func (s *Store) FindUpload(ctx context.Context, id string) (*Upload, error) {
	var upload Upload
	if err := s.db.WithContext(ctx).First(&upload, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("查询上传文件失败: %w", err)
	}
	return &upload, nil
}

// ============================================================================
// 内容状态变更
// ============================================================================

// SetPostApproved 更新帖子可见性
func (s *Store) SetPostApproved(ctx context.Context, id string, approved bool) error {
	err := s.db.WithContext(ctx).Model(&Post{}).
		Where("id = ?", id).
		Update("is_approved", approved).Error
	if err != nil {
		return fmt.Errorf("更新帖子审核状态失败: %w", err)
	}
	return nil
}

// SetDiscussionApproved 更新讨论可见性
func (s *Store) SetDiscussionApproved(ctx context.Context, id string, approved bool) error {
	err := s.db.WithContext(ctx).Model(&Discussion{}).
		Where("id = ?", id).
		Update("is_approved", approved).Error
	if err != nil {
		return fmt.Errorf("更新讨论审核状态失败: %w", err)
	}
	return nil
}

// UpdateUserFields 按字段更新用户资料，fields 的键为数据库列名
func (s *Store) UpdateUserFields(ctx context.Context, userID string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Model(&User{}).
		Where("id = ?", userID).
		Updates(fields).Error
	if err != nil {
		return fmt.Errorf("更新用户资料失败: %w", err)
	}
	return nil
}

// SuspendUser 封禁用户到指定时间
func (s *Store) SuspendUser(ctx context.Context, userID string, until time.Time, reason, message string) error {
	err := s.db.WithContext(ctx).Model(&User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"suspended_until": until,
			"suspend_reason":  reason,
			"suspend_message": message,
		}).Error
	if err != nil {
		return fmt.Errorf("封禁用户失败: %w", err)
	}
	return nil
}

// ============================================================================
// 标记
// ============================================================================

// FindFlag 按帖子和类型查询标记
func (s *Store) FindFlag(ctx context.Context, postID, flagType string) (*Flag, error) {
	var flag Flag
	err := s.db.WithContext(ctx).
		Where("post_id = ? AND type = ?", postID, flagType).
		First(&flag).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("查询标记失败: %w", err)
	}
	return &flag, nil
}

// CreateFlag 创建标记
func (s *Store) CreateFlag(ctx context.Context, flag *Flag) error {
	if flag.ID == "" {
		flag.ID = uuid.New().String()
	}
	if err := s.db.WithContext(ctx).Create(flag).Error; err != nil {
		return fmt.Errorf("创建标记失败: %w", err)
	}
	return nil
}

// DeleteFlags 删除帖子上指定类型的全部标记，返回删除数量
func (s *Store) DeleteFlags(ctx context.Context, postID, flagType string) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("post_id = ? AND type = ?", postID, flagType).
		Delete(&Flag{})
	if result.Error != nil {
		return 0, fmt.Errorf("删除标记失败: %w", result.Error)
	}
	return result.RowsAffected, nil
}
