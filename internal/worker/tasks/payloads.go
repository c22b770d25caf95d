// Package tasks 定义异步任务类型和载荷结构。
package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"forumaudit/internal/audit"
)

// 任务类型
const (
	// TypeAuditContent 内容审核任务
	TypeAuditContent = "audit:content"
)

// 队列名
const (
	QueueAudit   = "audit"
	QueueDefault = "default"
)

// AuditContentPayload 内容审核任务的载荷
type AuditContentPayload struct {
	ContentType string                       `json:"content_type"`
	ContentID   string                       `json:"content_id,omitempty"`
	UserID      string                       `json:"user_id"`
	Changes     map[string]audit.FieldChange `json:"changes,omitempty"`
}

// NewAuditContentTask 构造内容审核任务
func NewAuditContentTask(payload *AuditContentPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化审核任务载荷失败: %w", err)
	}
	return asynq.NewTask(TypeAuditContent, data), nil
}

// ParseAuditContentPayload 解析内容审核任务载荷
func ParseAuditContentPayload(t *asynq.Task) (*AuditContentPayload, error) {
	var payload AuditContentPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return nil, fmt.Errorf("解析审核任务载荷失败: %w", err)
	}
	if payload.UserID == "" {
		return nil, fmt.Errorf("审核任务载荷缺少用户 ID")
	}
	return &payload, nil
}
