package forum

import (
	"time"
)

// ContentType 被审内容类型（封闭枚举）
type ContentType string

const (
	ContentTypePost        ContentType = "post"
	ContentTypeDiscussion  ContentType = "discussion"
	ContentTypeUserProfile ContentType = "user_profile"
	ContentTypeUpload      ContentType = "upload"
)

// Valid 判断内容类型是否合法
func (t ContentType) Valid() bool {
	switch t {
	case ContentTypePost, ContentTypeDiscussion, ContentTypeUserProfile, ContentTypeUpload:
		return true
	}
	return false
}

// ============================================================================
// 论坛内容模型
// ============================================================================

// Post 帖子回复
type Post struct {
	ID           string `json:"id" gorm:"primaryKey;type:uuid"`
	DiscussionID string `json:"discussionId" gorm:"type:uuid;not null;index"`
	UserID       string `json:"userId" gorm:"type:uuid;not null;index"`
	Number       int    `json:"number" gorm:"not null;default:1"` // 楼层号，1 为首帖
	Content      string `json:"content" gorm:"type:text"`         // 渲染后的标记文本
	IsApproved   bool   `json:"isApproved" gorm:"not null;default:true"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

// TableName 指定表名
func (Post) TableName() string {
	return "posts"
}

// Discussion 讨论主题
type Discussion struct {
	ID          string  `json:"id" gorm:"primaryKey;type:uuid"`
	UserID      string  `json:"userId" gorm:"type:uuid;not null;index"`
	Title       string  `json:"title" gorm:"size:255;not null"`
	FirstPostID *string `json:"firstPostId" gorm:"type:uuid"`
	IsApproved  bool    `json:"isApproved" gorm:"not null;default:true"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

// TableName 指定表名
func (Discussion) TableName() string {
	return "discussions"
}

// User 论坛用户
type User struct {
	ID          string `json:"id" gorm:"primaryKey;type:uuid"`
	Username    string `json:"username" gorm:"size:100;not null;uniqueIndex"`
	DisplayName string `json:"displayName" gorm:"size:150"`
	Bio         string `json:"bio" gorm:"type:text"`
	AvatarPath  string `json:"avatarPath" gorm:"size:255"` // 本地路径或外部 URL
	CoverPath   string `json:"coverPath" gorm:"size:255"`

	// 封禁状态
	SuspendedUntil *time.Time `json:"suspendedUntil"`
	SuspendReason  string     `json:"suspendReason" gorm:"size:500"`
	SuspendMessage string     `json:"suspendMessage" gorm:"size:500"` // 对用户可见的封禁说明

	JoinedAt  time.Time `json:"joinedAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

// TableName 指定表名
func (User) TableName() string {
	return "users"
}

// Upload 上传文件（元数据，文件体在对象存储/磁盘）
type Upload struct {
	ID           string `json:"id" gorm:"primaryKey;type:uuid"`
	UserID       string `json:"userId" gorm:"type:uuid;not null;index"`
	BaseName     string `json:"baseName" gorm:"size:255;not null"`
	Path         string `json:"path" gorm:"size:512"` // 本地存储相对路径
	URL          string `json:"url" gorm:"size:1024"` // 外链地址
	MimeType     string `json:"mimeType" gorm:"size:100"`
	Size         int64  `json:"size"`
	UploadMethod string `json:"uploadMethod" gorm:"size:20;default:local"` // local, remote

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
}

// TableName 指定表名
func (Upload) TableName() string {
	return "uploads"
}

// IsLocal 文件是否存储在本地磁盘
func (u *Upload) IsLocal() bool {
	return u.UploadMethod == "local"
}

// ============================================================================
// 举报标记
// ============================================================================

// Flag 帖子上的审核/举报标记，给人工版主看
type Flag struct {
	ID           string  `json:"id" gorm:"primaryKey;type:uuid"`
	PostID       string  `json:"postId" gorm:"type:uuid;not null;index:idx_flags_post_type"`
	Type         string  `json:"type" gorm:"size:50;not null;index:idx_flags_post_type"`
	UserID       *string `json:"userId" gorm:"type:uuid"` // 空表示系统标记
	Reason       string  `json:"reason" gorm:"size:255"`
	ReasonDetail string  `json:"reasonDetail" gorm:"type:text"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
}

// TableName 指定表名
func (Flag) TableName() string {
	return "flags"
}

// ============================================================================
// 私信会话
// ============================================================================

// Dialog 私信会话
type Dialog struct {
	ID             string  `json:"id" gorm:"primaryKey;type:uuid"`
	Type           string  `json:"type" gorm:"size:20;not null;default:direct"`
	FirstMessageID *string `json:"firstMessageId" gorm:"type:uuid"`
	LastMessageID  *string `json:"lastMessageId" gorm:"type:uuid"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

// TableName 指定表名
func (Dialog) TableName() string {
	return "dialogs"
}

// DialogUser 会话成员关联
type DialogUser struct {
	DialogID string    `json:"dialogId" gorm:"primaryKey;type:uuid"`
	UserID   string    `json:"userId" gorm:"primaryKey;type:uuid"`
	JoinedAt time.Time `json:"joinedAt" gorm:"not null;autoCreateTime"`
}

// TableName 指定表名
func (DialogUser) TableName() string {
	return "dialog_users"
}

// DialogMessage 私信消息
type DialogMessage struct {
	ID       string `json:"id" gorm:"primaryKey;type:uuid"`
	DialogID string `json:"dialogId" gorm:"type:uuid;not null;index"`
	UserID   string `json:"userId" gorm:"type:uuid;not null"`
	Content  string `json:"content" gorm:"type:text;not null"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
}

// TableName 指定表名
func (DialogMessage) TableName() string {
	return "dialog_messages"
}

// ============================================================================
// 内容联合
// ============================================================================

// Content 一次审核的目标内容。Type 决定哪个字段非空；
// Post 审核会同时携带所属 Discussion 及其首帖作为上下文。
type Content struct {
	Type       ContentType
	Post       *Post
	Discussion *Discussion
	FirstPost  *Post // 所属讨论的首帖（Post/Discussion 审核时填充）
	User       *User
	Upload     *Upload
	Owner      *User // 内容作者，始终填充
}

// OwnerID 内容作者 ID
func (c *Content) OwnerID() string {
	if c.Owner != nil {
		return c.Owner.ID
	}
	return ""
}
