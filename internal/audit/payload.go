package audit

import (
	"fmt"

	"forumaudit/internal/forum"
)

// ============================================================================
// 入队请求
// ============================================================================

// ImageRefKind 图片引用类型
type ImageRefKind string

const (
	ImageRefInline ImageRefKind = "inline" // 已内联的 base64 数据
	ImageRefRemote ImageRefKind = "remote" // 外部 URL
	ImageRefLocal  ImageRefKind = "local"  // 本地磁盘文件
)

// ImageRef 变更集中的图片引用。三种来源取其一：
// inline 直接携带数据，remote 携带 URL，local 携带磁盘名和路径。
type ImageRef struct {
	Kind ImageRefKind `json:"kind"`
	Data string       `json:"data,omitempty"` // base64 编码
	Mime string       `json:"mime,omitempty"`
	URL  string       `json:"url,omitempty"`
	Disk string       `json:"disk,omitempty"`
	Path string       `json:"path,omitempty"`
}

// Validate 校验引用的字段组合
func (r *ImageRef) Validate() error {
	switch r.Kind {
	case ImageRefInline:
		if r.Data == "" {
			return fmt.Errorf("inline 图片引用缺少数据")
		}
	case ImageRefRemote:
		if r.URL == "" {
			return fmt.Errorf("remote 图片引用缺少 URL")
		}
	case ImageRefLocal:
		if r.Disk == "" || r.Path == "" {
			return fmt.Errorf("local 图片引用缺少磁盘或路径")
		}
	default:
		return fmt.Errorf("未知的图片引用类型: %s", r.Kind)
	}
	return nil
}

// FieldChange 资料字段的一次变更。文本字段填 Text，图片字段填 Image。
type FieldChange struct {
	Text  string    `json:"text,omitempty"`
	Image *ImageRef `json:"image,omitempty"`
}

// AuditRequest 一次审核任务的入队参数
type AuditRequest struct {
	ContentType forum.ContentType      `json:"content_type"`
	ContentID   string                 `json:"content_id,omitempty"` // 资料审核时为空
	UserID      string                 `json:"user_id"`
	Changes     map[string]FieldChange `json:"changes,omitempty"` // 资料审核的变更集
}

// Validate 校验入队参数
func (r *AuditRequest) Validate() error {
	if !r.ContentType.Valid() {
		return fmt.Errorf("不支持的内容类型: %s", r.ContentType)
	}
	if r.UserID == "" {
		return fmt.Errorf("缺少用户 ID")
	}
	if r.ContentType != forum.ContentTypeUserProfile && r.ContentID == "" {
		return fmt.Errorf("缺少内容 ID")
	}
	return nil
}

// Enqueuer 审核任务入队接口，由队列客户端实现
type Enqueuer interface {
	EnqueueAudit(req *AuditRequest) error
}

// ============================================================================
// 送审载荷
// ============================================================================

// PayloadImage 送审载荷中的一张图片。Data 与 URL 恰有其一非空：
// Data 为 data URI（图片已内联），URL 为让模型自行抓取的地址。
type PayloadImage struct {
	Type   string `json:"type"` // post_image, discussion_image, avatar, cover, uploaded_file
	Data   string `json:"data,omitempty"`
	URL    string `json:"url,omitempty"`
	Source string `json:"source,omitempty"` // 图片的来源地址，便于人工回溯
}

// AuditPayload 提交给模型前的内容快照。
// Content 为扁平的字段名到文本值映射，Context 为作者与场景元数据。
type AuditPayload struct {
	Type    forum.ContentType      `json:"type"`
	Content map[string]string      `json:"content"`
	Context map[string]interface{} `json:"context,omitempty"`
	Images  []PayloadImage         `json:"images,omitempty"`
}

// HasInlineImages 是否存在已内联数据的图片（决定是否走多模态消息）
func (p *AuditPayload) HasInlineImages() bool {
	for _, img := range p.Images {
		if img.Data != "" {
			return true
		}
	}
	return false
}
