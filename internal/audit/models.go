package audit

import (
	"time"

	"gorm.io/datatypes"

	"forumaudit/internal/forum"
)

// Status 审核日志状态
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRetrying  Status = "retrying"
)

// Action 模型判定的处置动作（封闭枚举）
type Action string

const (
	ActionNone      Action = "none"
	ActionHide      Action = "hide"
	ActionUnapprove Action = "unapprove"
	ActionSuspend   Action = "suspend"
	ActionDelete    Action = "delete"
)

// Valid 判断动作是否合法
func (a Action) Valid() bool {
	switch a {
	case ActionNone, ActionHide, ActionUnapprove, ActionSuspend, ActionDelete:
		return true
	}
	return false
}

// ResponseFormatVersion 当前审核响应格式版本。
// 历史日志可能携带旧版本号，展示层据此选择解析方式。
const ResponseFormatVersion = "json_schema_v1"

// AuditLog 单次审核尝试的完整留痕。每次执行（含每次重试）各占一行。
type AuditLog struct {
	ID          string            `json:"id" gorm:"primaryKey;type:uuid"`
	ContentType forum.ContentType `json:"contentType" gorm:"size:50;not null;index:idx_audit_logs_type_status"`
	ContentID   *string           `json:"contentId" gorm:"type:uuid;index"` // 资料审核时为空
	UserID      string            `json:"userId" gorm:"type:uuid;not null;index:idx_audit_logs_user_created"`

	// 取证快照：发起请求前内容的样子、实际发出的请求、模型的原始响应
	AuditedContent datatypes.JSON `json:"auditedContent" gorm:"type:jsonb"`
	APIRequest     datatypes.JSON `json:"apiRequest" gorm:"type:jsonb"`
	APIResponse    datatypes.JSON `json:"apiResponse" gorm:"type:jsonb"`

	ResponseFormatVersion string         `json:"responseFormatVersion" gorm:"size:50"`
	Confidence            float64        `json:"confidence" gorm:"type:decimal(5,4);default:0"`
	ActionsTaken          datatypes.JSON `json:"actionsTaken" gorm:"type:jsonb"` // 模型判定的动作列表
	Conclusion            string         `json:"conclusion" gorm:"type:text"`
	ExecutionLog          datatypes.JSON `json:"executionLog" gorm:"type:jsonb"` // 处置阶段的结构化记录

	Status       Status `json:"status" gorm:"size:20;not null;default:pending;index:idx_audit_logs_type_status"`
	RetryCount   int    `json:"retryCount" gorm:"not null;default:0"`
	ErrorMessage string `json:"errorMessage" gorm:"type:text"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime;index:idx_audit_logs_user_created"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

// TableName 指定表名
func (AuditLog) TableName() string {
	return "audit_logs"
}

// ============================================================================
// 模型裁决
// ============================================================================

// Verdict 模型返回的结构化裁决
type Verdict struct {
	Confidence float64  `json:"confidence"`
	Actions    []Action `json:"actions"`
	Conclusion string   `json:"conclusion"`
}

// HasViolation 动作列表中是否存在实质处置（none 以外的动作）
func (v *Verdict) HasViolation() bool {
	for _, a := range v.Actions {
		if a != ActionNone && a != "" {
			return true
		}
	}
	return false
}

// NormalizedActions 规整后的动作列表：空列表视为 [none]。
// 未知动作保留，由处置阶段记录为 unknown，不在解析时丢弃。
func (v *Verdict) NormalizedActions() []Action {
	var out []Action
	for _, a := range v.Actions {
		if a != "" {
			out = append(out, a)
		}
	}
	if len(out) == 0 {
		return []Action{ActionNone}
	}
	return out
}

// ============================================================================
// 处置执行记录（execution_log 字段的结构）
// ============================================================================

// ActionResult 单个处置动作的执行结果
type ActionResult struct {
	Action         Action    `json:"action"`
	Status         string    `json:"status"` // success, failed, unknown, no_action_taken
	ContentType    string    `json:"content_type,omitempty"`
	ContentID      string    `json:"content_id,omitempty"`
	UserID         string    `json:"user_id,omitempty"`
	SuspendDays    int       `json:"suspend_days,omitempty"`
	SuspendedUntil string    `json:"suspended_until,omitempty"`
	RevertedFields []string  `json:"reverted_fields,omitempty"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// ExecutionRecord 一次处置阶段的完整记录，序列化后存入 execution_log
type ExecutionRecord struct {
	Timestamp       time.Time      `json:"timestamp"`
	Threshold       float64        `json:"threshold"`
	Confidence      float64        `json:"confidence"`
	LLMActions      []Action       `json:"llm_actions"`
	Decision        string         `json:"decision"`         // approved, violated
	Reason          string         `json:"reason,omitempty"` // approved 时的原因
	ActionsExecuted []ActionResult `json:"actions_executed,omitempty"`
	ContentApproved bool           `json:"content_approved"`
	MessageSent     *bool          `json:"message_sent,omitempty"`
	MessageError    string         `json:"message_error,omitempty"`
}

// 放行原因
const (
	ReasonBelowThreshold = "confidence_below_threshold"
	ReasonNoViolations   = "no_violations_found"
)
