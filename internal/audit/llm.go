package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"forumaudit/internal/config"
	"forumaudit/internal/logger"
)

// defaultSystemPrompt 未配置提示词时使用的内置审核提示词
const defaultSystemPrompt = `You are a content moderation assistant for an online forum. ` +
	`Review the submitted content and determine whether it violates community guidelines: ` +
	`spam, advertising, harassment, hate speech, sexually explicit material, violence, ` +
	`illegal activity, or personal information exposure. ` +
	`Respond with a JSON object containing: "confidence" (a number between 0 and 1 indicating ` +
	`how confident you are that the content violates the guidelines), "actions" ` +
	`(an array chosen from "none", "hide", "unapprove", "suspend", "delete"), and "conclusion" ` +
	`(a short explanation of your verdict). If the content is acceptable, return confidence 0 ` +
	`and actions ["none"].`

// verdictSchema 裁决响应的 JSON Schema，严格模式下模型只能输出该结构
var verdictSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"confidence": {
			"type": "number",
			"description": "Probability that the content violates the guidelines, 0 to 1"
		},
		"actions": {
			"type": "array",
			"items": {
				"type": "string",
				"enum": ["none", "hide", "unapprove", "suspend", "delete"]
			}
		},
		"conclusion": {
			"type": "string"
		}
	},
	"required": ["confidence", "actions", "conclusion"],
	"additionalProperties": false
}`)

// VerdictClient 审核裁决客户端接口，供任务层注入
type VerdictClient interface {
	IsConfigured() bool
	SystemPrompt() string
	Audit(ctx context.Context, messages []openai.ChatCompletionMessage) (*Verdict, json.RawMessage, error)
}

// LLMClient 基于 OpenAI 兼容接口的裁决客户端
type LLMClient struct {
	client *openai.Client
	cfg    *config.AuditConfig
	logger *zap.Logger
}

// NewLLMClient 创建裁决客户端
func NewLLMClient(cfg *config.AuditConfig) *LLMClient {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.APIEndpoint != "" {
		clientConfig.BaseURL = strings.TrimSuffix(cfg.APIEndpoint, "/")
	}
	clientConfig.HTTPClient = &http.Client{Timeout: cfg.RequestTimeout()}

	return &LLMClient{
		client: openai.NewClientWithConfig(clientConfig),
		cfg:    cfg,
		logger: logger.Get().Named("llm"),
	}
}

// IsConfigured API Key 是否已配置
func (c *LLMClient) IsConfigured() bool {
	return c.cfg.IsConfigured()
}

// SystemPrompt 生效的系统提示词
func (c *LLMClient) SystemPrompt() string {
	if c.cfg.SystemPrompt != "" {
		return c.cfg.SystemPrompt
	}
	return defaultSystemPrompt
}

// Audit 发送审核请求并解析裁决。
// 返回值依次为：解析后的裁决、模型原始响应（留痕用）、错误。
// 网络层故障返回 TransportError，响应解析失败返回 InvalidResponseError。
func (c *LLMClient) Audit(ctx context.Context, messages []openai.ChatCompletionMessage) (*Verdict, json.RawMessage, error) {
	if !c.IsConfigured() {
		return nil, nil, &ConfigurationError{Reason: "API Key 未配置"}
	}

	req := openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: float32(c.cfg.Temperature),
		MaxTokens:   c.cfg.MaxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "audit_verdict",
				Schema: verdictSchema,
				Strict: true,
			},
		},
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		c.logger.Error("审核请求失败",
			zap.String("model", c.cfg.Model),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return nil, nil, &TransportError{Op: "chat_completion", Err: err}
	}

	raw, _ := json.Marshal(resp)

	if len(resp.Choices) == 0 {
		return nil, raw, &InvalidResponseError{Reason: "响应不含任何 choice"}
	}
	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return nil, raw, &InvalidResponseError{Reason: "响应内容为空"}
	}

	verdict, err := ParseVerdict(content)
	if err != nil {
		return nil, raw, err
	}

	c.logger.Info("审核请求完成",
		zap.String("model", c.cfg.Model),
		zap.Duration("elapsed", elapsed),
		zap.Float64("confidence", verdict.Confidence),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens))

	return verdict, raw, nil
}

// TestConnection 用一条极小请求验证接口连通性，供管理端测试配置
func (c *LLMClient) TestConnection(ctx context.Context) error {
	if !c.IsConfigured() {
		return &ConfigurationError{Reason: "API Key 未配置"}
	}
	_, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "ping"},
		},
		MaxTokens: 1,
	})
	if err != nil {
		return &TransportError{Op: "test_connection", Err: err}
	}
	return nil
}

// ParseVerdict 解析并校验模型输出的裁决 JSON。
// 置信度收敛到 [0,1]，动作列表剔除非法值。
func ParseVerdict(content string) (*Verdict, error) {
	var verdict Verdict
	if err := json.Unmarshal([]byte(content), &verdict); err != nil {
		return nil, &InvalidResponseError{Reason: "JSON 解析失败", Err: err}
	}
	if verdict.Conclusion == "" {
		return nil, &InvalidResponseError{Reason: "缺少 conclusion 字段"}
	}

	if verdict.Confidence < 0 {
		verdict.Confidence = 0
	}
	if verdict.Confidence > 1 {
		verdict.Confidence = 1
	}
	verdict.Actions = verdict.NormalizedActions()

	return &verdict, nil
}

// ============================================================================
// 消息构建
// ============================================================================

// BuildMessages 把送审载荷组装为对话消息。
// 载荷含内联图片数据时走多模态消息，否则走纯文本。
func BuildMessages(payload *AuditPayload, systemPrompt string) []openai.ChatCompletionMessage {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
	}

	text := formatUserMessage(payload)

	if payload.HasInlineImages() {
		parts := []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: text},
		}
		for _, img := range payload.Images {
			if img.Data == "" {
				continue
			}
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    img.Data,
					Detail: openai.ImageURLDetailAuto,
				},
			})
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:         openai.ChatMessageRoleUser,
			MultiContent: parts,
		})
		return messages
	}

	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: text,
	})
	return messages
}

// formatUserMessage 把载荷格式化为可读的送审文本
func formatUserMessage(payload *AuditPayload) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Content type: %s\n\n", payload.Type)

	fields := make([]string, 0, len(payload.Content))
	for field := range payload.Content {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		fmt.Fprintf(&sb, "[%s]\n%s\n\n", field, payload.Content[field])
	}

	if len(payload.Context) > 0 {
		sb.WriteString("[context]\n")
		ctxJSON, _ := json.Marshal(payload.Context)
		sb.Write(ctxJSON)
		sb.WriteString("\n\n")
	}

	// 未内联的图片只能把地址交给模型
	var urls []string
	for _, img := range payload.Images {
		if img.Data == "" && img.URL != "" {
			urls = append(urls, img.URL)
		}
	}
	if len(urls) > 0 {
		sb.WriteString("[image urls]\n")
		sb.WriteString(strings.Join(urls, "\n"))
		sb.WriteString("\n")
	}

	return strings.TrimSpace(sb.String())
}
