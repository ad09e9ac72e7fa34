// Package faucet 向测试网水龙头申请测试代币。
package faucet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"OneChain-Portal/internal/chain"
	xerrors "OneChain-Portal/internal/errors"
	"OneChain-Portal/internal/ptb"
	"OneChain-Portal/pkg/logger"
)

const (
	// CodeFaucetFailure 表示水龙头拒绝或无法完成请求。
	CodeFaucetFailure xerrors.Code = "FAUCET_FAILURE"
	// CodeFaucetUnavailable 表示当前网络没有配置水龙头。
	CodeFaucetUnavailable xerrors.Code = "FAUCET_UNAVAILABLE"

	defaultTimeout = 30 * time.Second
)

func init() {
	xerrors.Register(CodeFaucetFailure, xerrors.Attributes{
		Message:   "水龙头请求失败",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
	xerrors.Register(CodeFaucetUnavailable, xerrors.Attributes{
		Message:  "当前网络不提供水龙头",
		Severity: xerrors.SeverityInfo,
	})
}

// Request 是水龙头请求体。
type Request struct {
	FixedAmountRequest FixedAmountRequest `json:"FixedAmountRequest"`
}

// FixedAmountRequest 申请固定数量的测试代币。
type FixedAmountRequest struct {
	Recipient string `json:"recipient"`
}

// GasObject 是水龙头转出的一个 gas 对象。
type GasObject struct {
	Amount           uint64 `json:"amount"`
	ID               string `json:"id"`
	TransferTxDigest string `json:"transferTxDigest"`
}

// Response 是水龙头响应。
type Response struct {
	TransferredGasObjects []GasObject `json:"transferredGasObjects"`
	Error                 string      `json:"error,omitempty"`
}

// Total 返回本次发放的代币总量。
func (r Response) Total() uint64 {
	var total uint64
	for _, obj := range r.TransferredGasObjects {
		total += obj.Amount
	}
	return total
}

// Client 调用网络配置中的水龙头地址。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// Option 定义客户端可选配置。
type Option func(*Client)

// WithHTTPClient 指定 HTTP 客户端。
func WithHTTPClient(c *http.Client) Option {
	return func(f *Client) {
		if c != nil {
			f.httpClient = c
		}
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(f *Client) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewClient 创建水龙头客户端。
func NewClient(opts ...Option) *Client {
	c := &Client{httpClient: &http.Client{Timeout: defaultTimeout}}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Named("faucet")
	}
	return c
}

// Request 为 recipient 申请测试代币。
func (c *Client) Request(ctx context.Context, network chain.Network, recipient string) (Response, error) {
	normalized, err := ptb.NormalizeAddress(recipient)
	if err != nil {
		return Response{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "收款地址非法",
			xerrors.WithMetadata("recipient", recipient))
	}
	endpoint := strings.TrimSpace(network.FaucetURL)
	if endpoint == "" {
		return Response{}, xerrors.New(CodeFaucetUnavailable, fmt.Sprintf("网络 %s 未配置水龙头", network.Name))
	}

	payload, err := json.Marshal(Request{FixedAmountRequest: FixedAmountRequest{Recipient: normalized}})
	if err != nil {
		return Response{}, fmt.Errorf("序列化水龙头请求失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("构建水龙头请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, xerrors.Wrap(CodeFaucetFailure, err, "请求水龙头失败",
			xerrors.WithMetadata("network", network.Name))
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		opts := []xerrors.Option{
			xerrors.WithMetadata("network", network.Name),
			xerrors.WithMetadata("status", fmt.Sprint(resp.StatusCode)),
		}
		// 4xx 多为限流或地址问题，重试无意义。
		if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode < http.StatusInternalServerError {
			opts = append(opts, xerrors.WithRetryable(false))
		}
		return Response{}, xerrors.New(CodeFaucetFailure,
			fmt.Sprintf("水龙头请求失败: %d %s", resp.StatusCode, strings.TrimSpace(string(body))), opts...)
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, xerrors.Wrap(CodeFaucetFailure, err, "解析水龙头响应失败")
	}
	if out.Error != "" {
		return out, xerrors.New(CodeFaucetFailure, out.Error,
			xerrors.WithMetadata("network", network.Name),
			xerrors.WithRetryable(false))
	}

	logger.Audit().Info("水龙头发放成功",
		slog.String("network", network.Name),
		slog.String("recipient", normalized),
		slog.Int("objects", len(out.TransferredGasObjects)),
		slog.Uint64("amount", out.Total()))
	c.logger.Debug("水龙头响应", slog.Any("objects", out.TransferredGasObjects))
	return out, nil
}
