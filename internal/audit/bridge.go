package audit

import (
	"strings"

	"forumaudit/internal/config"
	"forumaudit/internal/forum"
)

// Actor 触发内容变更的操作者
type Actor struct {
	ID              string
	CanBypassAudit  bool // 内容完全不送审
	CanSkipApproval bool // 送审但不预隐藏
}

// Decision 内容事件产出的后续步骤清单，由调用方依次执行。
// PreApprove 为真时内容先隐藏待审，CreateFlag 为真时挂待审标记，
// Enqueue 非空时入队审核任务。
type Decision struct {
	PreApprove bool
	CreateFlag bool
	Enqueue    *AuditRequest
}

// ShouldAudit 是否需要任何后续处理
func (d *Decision) ShouldAudit() bool {
	return d.Enqueue != nil
}

// Bridge 论坛内容事件到审核任务的映射。
// 本身无副作用：只判定该做什么，不碰数据库和队列。
type Bridge struct {
	cfg *config.AuditConfig
}

// NewBridge 创建事件桥
func NewBridge(cfg *config.AuditConfig) *Bridge {
	return &Bridge{cfg: cfg}
}

// OnPostSaved 帖子创建或编辑。首帖跟随讨论审核，不单独入队。
func (b *Bridge) OnPostSaved(post *forum.Post, actor Actor, isNew, contentChanged bool) Decision {
	if actor.CanBypassAudit {
		return Decision{}
	}
	if !isNew && !contentChanged {
		return Decision{}
	}
	if post.Number == 1 {
		return Decision{}
	}

	d := Decision{
		Enqueue: &AuditRequest{
			ContentType: forum.ContentTypePost,
			ContentID:   post.ID,
			UserID:      post.UserID,
		},
	}
	if b.cfg.PreApproveEnabled && isNew && !actor.CanSkipApproval {
		d.PreApprove = true
		d.CreateFlag = true
	}
	return d
}

// OnDiscussionSaved 讨论创建或标题/首帖变更
func (b *Bridge) OnDiscussionSaved(discussion *forum.Discussion, actor Actor, isNew, contentChanged bool) Decision {
	if actor.CanBypassAudit {
		return Decision{}
	}
	if !isNew && !contentChanged {
		return Decision{}
	}

	d := Decision{
		Enqueue: &AuditRequest{
			ContentType: forum.ContentTypeDiscussion,
			ContentID:   discussion.ID,
			UserID:      discussion.UserID,
		},
	}
	if b.cfg.PreApproveEnabled && isNew && !actor.CanSkipApproval {
		d.PreApprove = true
		d.CreateFlag = true
	}
	return d
}

// 可审核的资料字段
var auditableProfileFields = map[string]struct{}{
	"username":     {},
	"display_name": {},
	"bio":          {},
}

// OnProfileChanged 用户资料变更。只有可审核字段变了才入队，
// 变更集原样随任务传递，审核只看这次改了什么。
func (b *Bridge) OnProfileChanged(user *forum.User, actor Actor, dirty map[string]string) Decision {
	if actor.CanBypassAudit {
		return Decision{}
	}

	changes := map[string]FieldChange{}
	for field, value := range dirty {
		if _, ok := auditableProfileFields[field]; !ok {
			continue
		}
		if value == "" {
			continue
		}
		changes[field] = FieldChange{Text: value}
	}
	if len(changes) == 0 {
		return Decision{}
	}

	return Decision{
		Enqueue: &AuditRequest{
			ContentType: forum.ContentTypeUserProfile,
			UserID:      user.ID,
			Changes:     changes,
		},
	}
}

// OnAvatarChanged 头像更换。本地路径标记为磁盘文件，外链保持 URL。
func (b *Bridge) OnAvatarChanged(user *forum.User, actor Actor, avatarPath string) Decision {
	return b.profileImageDecision(user, actor, "avatar", avatarPath, config.DiskAvatars)
}

// OnCoverChanged 封面更换
func (b *Bridge) OnCoverChanged(user *forum.User, actor Actor, coverPath string) Decision {
	return b.profileImageDecision(user, actor, "cover", coverPath, config.DiskCovers)
}

func (b *Bridge) profileImageDecision(user *forum.User, actor Actor, field, path, disk string) Decision {
	if actor.CanBypassAudit || path == "" {
		return Decision{}
	}

	ref := &ImageRef{Kind: ImageRefRemote, URL: path}
	if !strings.Contains(path, "://") {
		ref = &ImageRef{Kind: ImageRefLocal, Disk: disk, Path: path}
	}

	return Decision{
		Enqueue: &AuditRequest{
			ContentType: forum.ContentTypeUserProfile,
			UserID:      user.ID,
			Changes: map[string]FieldChange{
				field: {Image: ref},
			},
		},
	}
}

// OnUploadCreated 文件上传完成
func (b *Bridge) OnUploadCreated(upload *forum.Upload, actor Actor) Decision {
	if !b.cfg.UploadAuditEnabled || actor.CanBypassAudit {
		return Decision{}
	}
	// 只审图片和文本，其他类型无法送模型
	if !strings.HasPrefix(upload.MimeType, "image/") && !strings.HasPrefix(upload.MimeType, "text/") {
		return Decision{}
	}

	return Decision{
		Enqueue: &AuditRequest{
			ContentType: forum.ContentTypeUpload,
			ContentID:   upload.ID,
			UserID:      upload.UserID,
		},
	}
}
