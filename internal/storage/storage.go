// Package storage 提供审核取证时的文件读取能力：
// 本地磁盘（头像、封面、上传目录）和远程 URL 两条路径，均带大小上限。
package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"forumaudit/internal/config"
	"forumaudit/internal/logger"
)

const userAgent = "ForumAudit/1.0"

// DiskStore 本地磁盘 + 远程抓取的文件读取器
type DiskStore struct {
	disks  map[string]string // 磁盘名 -> 根目录
	client *http.Client
	logger *zap.Logger
}

// NewDiskStore 创建文件读取器
func NewDiskStore(cfg *config.StorageConfig) *DiskStore {
	return &DiskStore{
		disks: cfg.Disks,
		client: &http.Client{
			Timeout: time.Duration(cfg.FetchTimeout) * time.Second,
		},
		logger: logger.Get().Named("storage"),
	}
}

// Read 读取本地磁盘上的文件，返回内容和按扩展名推断的 MIME 类型。
// 超过 maxBytes 的文件直接拒绝，不读入内存。
func (s *DiskStore) Read(ctx context.Context, disk, path string, maxBytes int64) ([]byte, string, error) {
	root, ok := s.disks[disk]
	if !ok {
		return nil, "", fmt.Errorf("未配置的存储磁盘: %s", disk)
	}

	// 拒绝路径穿越
	cleaned := filepath.Clean("/" + path)
	full := filepath.Join(root, cleaned)

	info, err := os.Stat(full)
	if err != nil {
		return nil, "", fmt.Errorf("读取文件失败 %s:%s: %w", disk, path, err)
	}
	if info.IsDir() {
		return nil, "", fmt.Errorf("路径不是文件: %s:%s", disk, path)
	}
	if maxBytes > 0 && info.Size() > maxBytes {
		return nil, "", fmt.Errorf("文件超过大小上限 (%d > %d): %s", info.Size(), maxBytes, path)
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return nil, "", fmt.Errorf("读取文件失败 %s:%s: %w", disk, path, err)
	}

	return data, MimeByExtension(path), nil
}

// Fetch 下载远程 URL，返回内容和响应的 Content-Type。
// Content-Length 超限直接中止；响应体按 maxBytes 硬截断校验。
func (s *DiskStore) Fetch(ctx context.Context, rawURL string, maxBytes int64) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("构造下载请求失败: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("下载失败 %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("下载失败 %s: HTTP %d", rawURL, resp.StatusCode)
	}
	if maxBytes > 0 && resp.ContentLength > maxBytes {
		return nil, "", fmt.Errorf("远程文件超过大小上限 (%d > %d): %s", resp.ContentLength, maxBytes, rawURL)
	}

	var reader io.Reader = resp.Body
	if maxBytes > 0 {
		reader = io.LimitReader(resp.Body, maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, "", fmt.Errorf("读取响应体失败 %s: %w", rawURL, err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, "", fmt.Errorf("远程文件超过大小上限: %s", rawURL)
	}

	contentType := resp.Header.Get("Content-Type")
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = strings.TrimSpace(contentType[:idx])
	}
	if contentType == "" {
		contentType = MimeByExtension(rawURL)
	}

	s.logger.Debug("远程文件下载完成",
		zap.String("url", rawURL),
		zap.Int("size", len(data)),
		zap.String("content_type", contentType))

	return data, contentType, nil
}

// MimeByExtension 按文件扩展名推断 MIME 类型，未知扩展名按 JPEG 处理
func MimeByExtension(path string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	switch ext {
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	case "bmp":
		return "image/bmp"
	case "svg":
		return "image/svg+xml"
	case "jpg", "jpeg":
		return "image/jpeg"
	default:
		return "image/jpeg"
	}
}
