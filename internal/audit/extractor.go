package audit

import (
	"context"
	"encoding/base64"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"forumaudit/internal/config"
	"forumaudit/internal/forum"
	"forumaudit/internal/logger"
)

const (
	// 送审文本的最大长度（按字符计），超出部分截断并追加省略号
	maxContentLength = 5000

	// 本地上传目录在 uploads 磁盘下的前缀
	localFilesPrefix = "files/"

	// 单次送审最多携带的图片数
	maxImagesPerAudit = 8
)

// 图片提取正则：HTML img、大写 IMG、Markdown 图片、裸图片链接
var (
	htmlImgPattern     = regexp.MustCompile(`(?i)<img[^>]+src=["']([^"']+)["']`)
	markdownImgPattern = regexp.MustCompile(`!\[[^\]]*\]\(([^)\s]+)`)
	bareImgPattern     = regexp.MustCompile(`(?i)https?://[^\s<>"']+\.(?:png|jpe?g|gif|webp|bmp)(?:\?[^\s<>"']*)?`)
	markupTagPattern   = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern  = regexp.MustCompile(`\s+`)
)

// FileStore 审核取证所需的文件读取接口
type FileStore interface {
	Read(ctx context.Context, disk, path string, maxBytes int64) ([]byte, string, error)
	Fetch(ctx context.Context, rawURL string, maxBytes int64) ([]byte, string, error)
}

// Extractor 把论坛内容转换为模型可消费的送审载荷
type Extractor struct {
	cfg    *config.AuditConfig
	files  FileStore
	logger *zap.Logger
}

// NewExtractor 创建内容提取器
func NewExtractor(cfg *config.AuditConfig, files FileStore) *Extractor {
	return &Extractor{
		cfg:    cfg,
		files:  files,
		logger: logger.Get().Named("extractor"),
	}
}

// Extract 按内容类型生成送审载荷。载荷即写入审核日志的内容快照。
func (e *Extractor) Extract(ctx context.Context, content *forum.Content, changes map[string]FieldChange) (*AuditPayload, error) {
	switch content.Type {
	case forum.ContentTypePost:
		return e.extractPost(ctx, content)
	case forum.ContentTypeDiscussion:
		return e.extractDiscussion(ctx, content)
	case forum.ContentTypeUserProfile:
		return e.extractUserProfile(ctx, content, changes)
	case forum.ContentTypeUpload:
		return e.extractUpload(ctx, content)
	default:
		return nil, fmt.Errorf("不支持的内容类型: %s", content.Type)
	}
}

// ============================================================================
// 各内容类型的提取
// ============================================================================

func (e *Extractor) extractPost(ctx context.Context, content *forum.Content) (*AuditPayload, error) {
	post := content.Post
	text := StripMarkup(post.Content)

	payload := &AuditPayload{
		Type: forum.ContentTypePost,
		Content: map[string]string{
			"text": Truncate(text, maxContentLength),
		},
		Context: e.authorContext(content.Owner),
	}
	payload.Context["post_number"] = post.Number

	// 所属讨论提供上下文：标题和首帖摘要（首帖自身除外）
	if content.Discussion != nil {
		payload.Context["discussion_title"] = content.Discussion.Title
		if content.FirstPost != nil && content.FirstPost.ID != post.ID {
			payload.Context["discussion_first_post"] = Truncate(StripMarkup(content.FirstPost.Content), 500)
		}
	}

	payload.Images = e.resolveContentImages(ctx, post.Content, "post_image")
	return payload, nil
}

func (e *Extractor) extractDiscussion(ctx context.Context, content *forum.Content) (*AuditPayload, error) {
	discussion := content.Discussion

	payload := &AuditPayload{
		Type: forum.ContentTypeDiscussion,
		Content: map[string]string{
			"title": discussion.Title,
		},
		Context: e.authorContext(content.Owner),
	}

	if content.FirstPost != nil {
		payload.Content["first_post"] = Truncate(StripMarkup(content.FirstPost.Content), maxContentLength)
		payload.Images = e.resolveContentImages(ctx, content.FirstPost.Content, "discussion_image")
	}

	return payload, nil
}

func (e *Extractor) extractUserProfile(ctx context.Context, content *forum.Content, changes map[string]FieldChange) (*AuditPayload, error) {
	user := content.User

	payload := &AuditPayload{
		Type:    forum.ContentTypeUserProfile,
		Content: map[string]string{},
		Context: map[string]interface{}{
			"user_id":   user.ID,
			"joined_at": user.JoinedAt.Format("2006-01-02"),
		},
	}

	// 有变更集时只审变更的字段；没有则审全部资料字段
	if len(changes) == 0 {
		changes = map[string]FieldChange{
			"username":     {Text: user.Username},
			"display_name": {Text: user.DisplayName},
			"bio":          {Text: user.Bio},
		}
		if user.AvatarPath != "" {
			changes["avatar"] = FieldChange{Image: imageRefFromPath(user.AvatarPath, config.DiskAvatars)}
		}
		if user.CoverPath != "" {
			changes["cover"] = FieldChange{Image: imageRefFromPath(user.CoverPath, config.DiskCovers)}
		}
	}

	for field, change := range changes {
		if change.Image != nil {
			img := e.resolveImageRef(ctx, change.Image, imageTypeForField(field))
			if img != nil {
				payload.Images = append(payload.Images, *img)
			}
			continue
		}
		if change.Text != "" {
			payload.Content[field] = Truncate(change.Text, maxContentLength)
		}
	}

	return payload, nil
}

func (e *Extractor) extractUpload(ctx context.Context, content *forum.Content) (*AuditPayload, error) {
	upload := content.Upload

	payload := &AuditPayload{
		Type: forum.ContentTypeUpload,
		Content: map[string]string{
			"file_name": upload.BaseName,
			"mime_type": upload.MimeType,
		},
		Context: e.authorContext(content.Owner),
	}
	payload.Context["upload_id"] = upload.ID
	payload.Context["file_size"] = upload.Size
	payload.Context["upload_method"] = upload.UploadMethod

	switch {
	case strings.HasPrefix(upload.MimeType, "image/"):
		ref := &ImageRef{Kind: ImageRefRemote, URL: upload.URL}
		if upload.IsLocal() && upload.Path != "" {
			ref = &ImageRef{Kind: ImageRefLocal, Disk: config.DiskUploads, Path: localFilesPrefix + upload.Path}
		}
		if img := e.resolveImageRef(ctx, ref, "uploaded_file"); img != nil {
			payload.Images = append(payload.Images, *img)
		}

	case strings.HasPrefix(upload.MimeType, "text/"):
		// 文本文件读入内容一并送审
		if upload.IsLocal() && upload.Path != "" {
			data, _, err := e.files.Read(ctx, config.DiskUploads, localFilesPrefix+upload.Path, e.cfg.MaxTextBytes)
			if err != nil {
				e.logger.Warn("读取上传文本失败", zap.String("path", upload.Path), zap.Error(err))
				payload.Content["file_content"] = "[File not found]"
			} else {
				payload.Content["file_content"] = Truncate(string(data), maxContentLength)
			}
		}
	}

	return payload, nil
}

func (e *Extractor) authorContext(owner *forum.User) map[string]interface{} {
	ctx := map[string]interface{}{}
	if owner != nil {
		ctx["author_username"] = owner.Username
		ctx["author_joined_at"] = owner.JoinedAt.Format("2006-01-02")
	}
	return ctx
}

// ============================================================================
// 图片解析
// ============================================================================

// resolveContentImages 从标记文本提取图片地址并按配置内联
func (e *Extractor) resolveContentImages(ctx context.Context, markup, imageType string) []PayloadImage {
	urls := ExtractImageURLs(markup)
	var images []PayloadImage
	for _, u := range urls {
		if len(images) >= maxImagesPerAudit {
			break
		}
		img := e.resolveImageRef(ctx, &ImageRef{Kind: ImageRefRemote, URL: u}, imageType)
		if img != nil {
			images = append(images, *img)
		}
	}
	return images
}

// resolveImageRef 把图片引用落成送审图片。
// 本地文件读不到、远程下载失败时回退为 URL（有 URL 可回退时），
// 彻底拿不到数据则丢弃该图片，绝不让单张图片拖垮整次审核。
func (e *Extractor) resolveImageRef(ctx context.Context, ref *ImageRef, imageType string) *PayloadImage {
	if err := ref.Validate(); err != nil {
		e.logger.Warn("图片引用不合法", zap.Error(err))
		return nil
	}

	switch ref.Kind {
	case ImageRefInline:
		mime := ref.Mime
		if mime == "" {
			mime = "image/jpeg"
		}
		return &PayloadImage{Type: imageType, Data: dataURI(mime, ref.Data)}

	case ImageRefLocal:
		data, mime, err := e.files.Read(ctx, ref.Disk, ref.Path, e.cfg.MaxImageBytes)
		if err != nil {
			e.logger.Warn("读取本地图片失败",
				zap.String("disk", ref.Disk),
				zap.String("path", ref.Path),
				zap.Error(err))
			if ref.URL != "" {
				return &PayloadImage{Type: imageType, URL: ref.URL, Source: ref.URL}
			}
			return nil
		}
		return &PayloadImage{
			Type:   imageType,
			Data:   dataURI(mime, base64.StdEncoding.EncodeToString(data)),
			Source: ref.Disk + ":" + ref.Path,
		}

	case ImageRefRemote:
		if !validImageURL(ref.URL) {
			e.logger.Warn("图片地址不合法", zap.String("url", ref.URL))
			return nil
		}
		if !e.cfg.DownloadImages {
			return &PayloadImage{Type: imageType, URL: ref.URL, Source: ref.URL}
		}
		data, mime, err := e.files.Fetch(ctx, ref.URL, e.cfg.MaxImageBytes)
		if err == nil && strings.HasPrefix(mime, "image/") {
			return &PayloadImage{
				Type:   imageType,
				Data:   dataURI(mime, base64.StdEncoding.EncodeToString(data)),
				Source: ref.URL,
			}
		}
		if err != nil {
			e.logger.Warn("下载远程图片失败", zap.String("url", ref.URL), zap.Error(err))
		}
		// 下载失败回退为 URL，让模型侧自行抓取
		return &PayloadImage{Type: imageType, URL: ref.URL, Source: ref.URL}
	}

	return nil
}

// imageRefFromPath 把资料字段值转为图片引用：含协议的视为外链，否则视为本地文件
func imageRefFromPath(path, disk string) *ImageRef {
	if strings.Contains(path, "://") {
		return &ImageRef{Kind: ImageRefRemote, URL: path}
	}
	return &ImageRef{Kind: ImageRefLocal, Disk: disk, Path: path}
}

func imageTypeForField(field string) string {
	switch field {
	case "avatar":
		return "avatar"
	case "cover":
		return "cover"
	default:
		return "profile_image"
	}
}

func dataURI(mime, b64 string) string {
	return fmt.Sprintf("data:%s;base64,%s", mime, b64)
}

// ============================================================================
// 文本工具
// ============================================================================

// StripMarkup 去除 HTML/BBCode 标签并规整空白
func StripMarkup(markup string) string {
	text := markupTagPattern.ReplaceAllString(markup, " ")
	text = html.UnescapeString(text)
	text = whitespacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// Truncate 按字符数截断，超长时追加省略号
func Truncate(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "..."
}

// ExtractImageURLs 从标记文本中提取图片地址并去重，保持出现顺序
func ExtractImageURLs(markup string) []string {
	var urls []string
	seen := make(map[string]struct{})

	add := func(u string) {
		u = strings.TrimSpace(u)
		if u == "" || !validImageURL(u) {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}

	for _, m := range htmlImgPattern.FindAllStringSubmatch(markup, -1) {
		add(m[1])
	}
	for _, m := range markdownImgPattern.FindAllStringSubmatch(markup, -1) {
		add(m[1])
	}
	for _, m := range bareImgPattern.FindAllString(markup, -1) {
		add(m)
	}

	return urls
}

// validImageURL 仅接受可解析的 http/https 绝对地址
func validImageURL(raw string) bool {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
