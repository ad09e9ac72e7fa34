// Package langchain adapts langchaingo models to llm.Client. It lets the
// portal talk to any OpenAI-compatible endpoint supported by langchaingo.
package langchain

import (
	"context"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	xerrors "OneChain-Portal/internal/errors"
	"OneChain-Portal/internal/llm"
)

// Config 描述 langchaingo OpenAI 兼容模型的连接信息。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Client 通过 langchaingo 调用大模型。
type Client struct {
	model llms.Model
	name  string
}

// NewClient 使用 OpenAI 兼容接口创建模型。
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, xerrors.New(llm.CodeUnauthorized, "未提供大模型 API Key")
	}
	opts := []openai.Option{openai.WithToken(cfg.APIKey)}
	if cfg.Model != "" {
		opts = append(opts, openai.WithModel(cfg.Model))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化 langchaingo 模型失败")
	}
	return NewFromModel(model, cfg.Model), nil
}

// NewFromModel 包装已有的 langchaingo 模型。
func NewFromModel(model llms.Model, name string) *Client {
	return &Client{model: model, name: name}
}

// Generate 调用模型生成回答。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "问题不能为空")
	}
	messages := make([]llms.MessageContent, 0, 2)
	if system := strings.TrimSpace(req.System); system != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, system))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, strings.TrimSpace(req.Prompt)))

	var opts []llms.CallOption
	if req.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(req.Temperature))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}

	resp, err := c.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "大模型请求已取消")
		}
		return nil, xerrors.Wrap(llm.CodeUnavailable, err, "调用大模型失败")
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, xerrors.New(llm.CodeEmptyResponse, "大模型响应中没有有效的 choices")
	}
	choice := resp.Choices[0]
	content := strings.TrimSpace(choice.Content)
	if content == "" {
		return nil, xerrors.New(llm.CodeEmptyResponse, "大模型响应内容为空")
	}
	return &llm.Response{
		Content:      content,
		Model:        c.name,
		FinishReason: choice.StopReason,
		Usage: llm.Usage{
			PromptTokens:     intInfo(choice.GenerationInfo, "PromptTokens"),
			CompletionTokens: intInfo(choice.GenerationInfo, "CompletionTokens"),
		},
	}, nil
}

// intInfo 读取 langchaingo 放在 GenerationInfo 中的 token 统计。
func intInfo(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

var _ llm.Client = (*Client)(nil)
