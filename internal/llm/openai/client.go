package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	xerrors "OneChain-Portal/internal/errors"
	"OneChain-Portal/internal/llm"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModelName = "gpt-3.5-turbo"
	defaultTimeout   = 60 * time.Second
)

// Config 描述了调用 OpenAI Chat Completions API 所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	// Organization 非空时通过 OpenAI-Organization 头计费到指定组织。
	Organization string
	Timeout      time.Duration
}

// Client 通过 HTTP 调用 OpenAI 提供的大模型能力。
type Client struct {
	apiKey       string
	baseURL      string
	model        string
	organization string
	httpClient   *http.Client
}

// NewClient 根据配置创建 OpenAI 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, xerrors.New(llm.CodeUnauthorized, "未提供 OpenAI API Key")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:       apiKey,
		baseURL:      baseURL,
		model:        model,
		organization: strings.TrimSpace(cfg.Organization),
		httpClient:   &http.Client{Timeout: timeout},
	}, nil
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	User        string    `json:"user,omitempty"`
}

type completionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage llm.Usage `json:"usage"`
}

// apiError 对应 OpenAI 的错误响应体 {"error": {...}}。
type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Generate 调用 Chat Completions 接口。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "问题不能为空")
	}

	payload, err := json.Marshal(c.buildRequest(req, prompt))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化 OpenAI 请求失败")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "构建 OpenAI 请求失败")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if c.organization != "" {
		httpReq.Header.Set("OpenAI-Organization", c.organization)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "OpenAI 请求已取消")
		}
		return nil, xerrors.Wrap(llm.CodeUnavailable, err, "请求 OpenAI 失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, decodeError(resp)
	}

	var decoded completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, xerrors.Wrap(llm.CodeUnavailable, err, "解析 OpenAI 响应失败")
	}
	if len(decoded.Choices) == 0 {
		return nil, xerrors.New(llm.CodeEmptyResponse, "OpenAI 响应中没有有效的 choices")
	}
	choice := decoded.Choices[0]
	content := strings.TrimSpace(choice.Message.Content)
	if content == "" {
		return nil, xerrors.New(llm.CodeEmptyResponse, "OpenAI 响应内容为空",
			xerrors.WithMetadata("finish_reason", choice.FinishReason))
	}
	model := decoded.Model
	if model == "" {
		model = c.model
	}
	return &llm.Response{
		Content:      content,
		Model:        model,
		FinishReason: choice.FinishReason,
		Usage:        decoded.Usage,
	}, nil
}

func (c *Client) buildRequest(req llm.Request, prompt string) completionRequest {
	messages := make([]message, 0, 2)
	if system := strings.TrimSpace(req.System); system != "" {
		messages = append(messages, message{Role: "system", Content: system})
	}
	messages = append(messages, message{Role: "user", Content: prompt})
	return completionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		User:        strings.TrimSpace(req.User),
	}
}

// decodeError 将 HTTP 状态映射为错误码：401/403 不可重试，429 与 5xx 可重试。
func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	detail := strings.TrimSpace(string(body))
	var envelope apiError
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		detail = envelope.Error.Message
	}

	code := xerrors.CodeUpstreamFailure
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		code = llm.CodeUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests:
		code = llm.CodeRateLimited
	case resp.StatusCode >= http.StatusInternalServerError:
		code = llm.CodeUnavailable
	}

	opts := []xerrors.Option{xerrors.WithMetadata("status", strconv.Itoa(resp.StatusCode))}
	if envelope.Error.Type != "" {
		opts = append(opts, xerrors.WithMetadata("type", envelope.Error.Type))
	}
	if code == xerrors.CodeUpstreamFailure {
		opts = append(opts, xerrors.WithRetryable(false))
	}
	return xerrors.Wrap(code, errors.New(detail), fmt.Sprintf("OpenAI 返回错误状态 %d", resp.StatusCode), opts...)
}

var _ llm.Client = (*Client)(nil)
