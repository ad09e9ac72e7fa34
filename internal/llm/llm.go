package llm

import (
	"context"

	xerrors "OneChain-Portal/internal/errors"
)

// 大模型调用的错误码。聊天模块遇到这些错误时退回本地知识库。
const (
	CodeUnauthorized  xerrors.Code = "LLM_UNAUTHORIZED"
	CodeRateLimited   xerrors.Code = "LLM_RATE_LIMITED"
	CodeUnavailable   xerrors.Code = "LLM_UNAVAILABLE"
	CodeEmptyResponse xerrors.Code = "LLM_EMPTY_RESPONSE"
)

func init() {
	xerrors.Register(CodeUnauthorized, xerrors.Attributes{Message: "大模型凭证无效", Severity: xerrors.SeverityCritical, Alert: true})
	xerrors.Register(CodeRateLimited, xerrors.Attributes{Message: "大模型请求被限流", Severity: xerrors.SeverityWarning, Retryable: true})
	xerrors.Register(CodeUnavailable, xerrors.Attributes{Message: "大模型服务不可用", Severity: xerrors.SeverityWarning, Retryable: true})
	xerrors.Register(CodeEmptyResponse, xerrors.Attributes{Message: "大模型没有返回内容", Severity: xerrors.SeverityInfo})
}

// Request 描述一次问答请求。
type Request struct {
	// System 是系统提示词，通常由 Prompt 生成。
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
	// User 标识提问者，例如 API Key 名称，供服务商做滥用追踪。
	User string
}

// FinishLength 表示回答因 MaxTokens 被截断。
const FinishLength = "length"

// Usage 是一次调用消耗的 token 数。
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Response 是大模型返回的回答。
type Response struct {
	Content      string
	Model        string
	FinishReason string
	Usage        Usage
}

// Truncated 判断回答是否被长度限制截断。
func (r *Response) Truncated() bool {
	return r != nil && r.FinishReason == FinishLength
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}
