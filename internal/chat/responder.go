// Package chat 回答 OneChain 开发者问题：优先调用大模型，失败时退回本地知识库。
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	xerrors "OneChain-Portal/internal/errors"
	"OneChain-Portal/internal/knowledge"
	"OneChain-Portal/internal/llm"
	"OneChain-Portal/pkg/logger"
)

// Answer sources.
const (
	SourceLLM      = "llm"
	SourceTopic    = "knowledge"
	SourceGeneral  = "general"
	SourceFallback = "fallback"
)

const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 1500
)

// Response 是一次问答的结果。
type Response struct {
	Answer      string   `json:"answer"`
	Suggestions []string `json:"suggestions"`
	Source      string   `json:"source"`
	Topic       string   `json:"topic,omitempty"`
}

// Responder 组合大模型与本地知识库。
type Responder struct {
	base        *knowledge.Base
	model       llm.Client
	temperature float64
	maxTokens   int
	network     string
	logger      *slog.Logger
}

// Option 定义问答模块的可选配置。
type Option func(*Responder)

// WithModel 配置托管大模型；为空时只使用本地知识库。
func WithModel(model llm.Client) Option {
	return func(r *Responder) {
		r.model = model
	}
}

// WithSampling 覆盖采样温度与最大输出长度。
func WithSampling(temperature float64, maxTokens int) Option {
	return func(r *Responder) {
		if temperature > 0 {
			r.temperature = temperature
		}
		if maxTokens > 0 {
			r.maxTokens = maxTokens
		}
	}
}

// WithNetwork 在提示词中注明默认网络。
func WithNetwork(network string) Option {
	return func(r *Responder) {
		r.network = strings.TrimSpace(network)
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(r *Responder) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewResponder 创建问答模块。base 不能为空。
func NewResponder(base *knowledge.Base, opts ...Option) (*Responder, error) {
	if base == nil {
		return nil, errors.New("知识库未加载")
	}
	r := &Responder{
		base:        base,
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logger.Named("chat")
	}
	return r, nil
}

// Respond 回答问题。大模型失败不会返回错误，而是退回本地知识。
func (r *Responder) Respond(ctx context.Context, query string) (Response, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Response{}, xerrors.New(xerrors.CodeInvalidArgument, "问题不能为空")
	}
	suggestions := r.base.Suggest(query)

	if r.model != nil {
		resp, err := r.model.Generate(ctx, llm.Request{
			System:      r.systemPrompt(query),
			Prompt:      query,
			Temperature: r.temperature,
			MaxTokens:   r.maxTokens,
		})
		if err == nil && resp != nil && strings.TrimSpace(resp.Content) != "" {
			r.logger.Debug("大模型回答完成",
				slog.String("model", resp.Model),
				slog.Int("prompt_tokens", resp.Usage.PromptTokens),
				slog.Int("completion_tokens", resp.Usage.CompletionTokens))
			if resp.Truncated() {
				r.logger.Warn("大模型回答被截断", slog.Int("max_tokens", r.maxTokens))
			}
			return Response{Answer: resp.Content, Suggestions: suggestions, Source: SourceLLM}, nil
		}
		if ctx.Err() != nil {
			return Response{}, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "问答请求已取消")
		}
		r.logger.Warn("大模型调用失败，使用本地知识库",
			slog.String("code", string(xerrors.CodeOf(err))),
			slog.Bool("retryable", xerrors.RetryableError(err)),
			slog.Any("error", err))
	}

	if topic, ok := r.base.Match(query); ok {
		if len(topic.Suggestions) > 0 {
			suggestions = append([]string(nil), topic.Suggestions...)
		}
		return Response{Answer: topic.Answer, Suggestions: suggestions, Source: SourceTopic, Topic: topic.ID}, nil
	}
	return Response{Answer: r.base.GeneralHelp, Suggestions: suggestions, Source: SourceGeneral}, nil
}

// Fallback 返回服务异常时展示的帮助信息。
func (r *Responder) Fallback() Response {
	return Response{
		Answer:      r.base.Fallback,
		Suggestions: append([]string(nil), r.base.DefaultSuggestions...),
		Source:      SourceFallback,
	}
}

func (r *Responder) systemPrompt(query string) string {
	prompt := llm.Prompt{Overview: r.base.Overview, Network: r.network}
	for _, topic := range r.base.Search(query, 2) {
		prompt.Notes = append(prompt.Notes, topic.Title)
	}
	return prompt.String()
}
