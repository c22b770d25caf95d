package audit

import (
	"errors"
	"fmt"

	"forumaudit/internal/forum"
)

// ContentNotFoundError 审核目标内容不存在。属终结性错误，任务不重试。
type ContentNotFoundError struct {
	ContentType forum.ContentType
	ContentID   string
	UserID      string
}

func (e *ContentNotFoundError) Error() string {
	if e.ContentID == "" {
		return fmt.Sprintf("审核内容不存在: %s (用户 %s)", e.ContentType, e.UserID)
	}
	return fmt.Sprintf("审核内容不存在: %s #%s", e.ContentType, e.ContentID)
}

// IsContentNotFound 判断错误链中是否为内容不存在
func IsContentNotFound(err error) bool {
	var target *ContentNotFoundError
	return errors.As(err, &target)
}

// TransportError 与模型服务的网络层故障（超时、连接失败、非 2xx 状态），可重试。
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("模型服务请求失败 (%s): %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// InvalidResponseError 模型返回了无法解析或校验不通过的响应，可重试。
type InvalidResponseError struct {
	Reason string
	Err    error
}

func (e *InvalidResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("模型响应不合法 (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("模型响应不合法: %s", e.Reason)
}

func (e *InvalidResponseError) Unwrap() error {
	return e.Err
}

// ConfigurationError 审核所需配置缺失（如 API Key 为空）。任务直接跳过，不算失败。
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("审核配置不完整: %s", e.Reason)
}

// IsConfigurationError 判断错误链中是否为配置缺失
func IsConfigurationError(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}
