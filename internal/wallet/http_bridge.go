package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	xerrors "OneChain-Portal/internal/errors"
)

const defaultBridgeTimeout = 2 * time.Minute

// HTTPBridge 通过本地 HTTP 服务与浏览器钱包交互。签名需要用户确认，
// 因此默认超时较长。
type HTTPBridge struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPBridge 创建桥接客户端。
func NewHTTPBridge(baseURL string, httpClient *http.Client) (*HTTPBridge, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("未配置钱包桥接地址")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultBridgeTimeout}
	}
	return &HTTPBridge{baseURL: baseURL, httpClient: httpClient}, nil
}

// Wallets 列出桥接服务发现的钱包。
func (b *HTTPBridge) Wallets(ctx context.Context) ([]Info, error) {
	var out struct {
		Wallets []Info `json:"wallets"`
	}
	if err := b.do(ctx, http.MethodGet, "/v1/wallets", nil, &out); err != nil {
		return nil, err
	}
	return out.Wallets, nil
}

// SignAndExecute 把交易文档交给钱包签名并提交，返回钱包给出的执行结果。
func (b *HTTPBridge) SignAndExecute(ctx context.Context, req SignAndExecuteRequest) (json.RawMessage, error) {
	var out json.RawMessage
	if err := b.do(ctx, http.MethodPost, "/v1/sign-and-execute", req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Sign 请求钱包对交易字节签名。
func (b *HTTPBridge) Sign(ctx context.Context, req SignRequest) (SignedTransaction, error) {
	var out SignedTransaction
	if err := b.do(ctx, http.MethodPost, "/v1/sign", req, &out); err != nil {
		return SignedTransaction{}, err
	}
	if out.Signature == "" {
		return SignedTransaction{}, xerrors.New(CodeRejected, "钱包没有返回签名")
	}
	return out, nil
}

// Disconnect 断开钱包连接。
func (b *HTTPBridge) Disconnect(ctx context.Context, wallet string) error {
	return b.do(ctx, http.MethodPost, "/v1/disconnect", map[string]string{"wallet": wallet}, nil)
}

func (b *HTTPBridge) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("序列化钱包请求失败: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("构建钱包请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return xerrors.Wrap(CodeBridgeFailure, err, "请求钱包桥接服务失败", xerrors.WithMetadata("path", path))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		var apiErr struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		code := CodeBridgeFailure
		if resp.StatusCode < http.StatusInternalServerError {
			code = CodeRejected
		}
		return xerrors.New(code, fmt.Sprintf("钱包返回错误状态 %d: %s", resp.StatusCode, msg),
			xerrors.WithMetadata("path", path),
			xerrors.WithMetadata("status", fmt.Sprint(resp.StatusCode)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return xerrors.Wrap(CodeBridgeFailure, err, "解析钱包响应失败", xerrors.WithMetadata("path", path))
	}
	return nil
}

var _ Bridge = (*HTTPBridge)(nil)
