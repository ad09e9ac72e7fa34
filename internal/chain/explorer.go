package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Explorer 从 OneScan 风格的索引服务读取账户交易。
type Explorer struct {
	endpoint   string
	httpClient *http.Client
}

// NewExplorer 在 endpoint 为空时返回 nil，调用方可以直接把结果传给 WithExplorer。
func NewExplorer(endpoint string, httpClient *http.Client) *Explorer {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Explorer{endpoint: endpoint, httpClient: httpClient}
}

type explorerTransaction struct {
	Hash       string          `json:"hash"`
	Digest     string          `json:"digest"`
	ID         string          `json:"id"`
	Timestamp  json.RawMessage `json:"timestamp"`
	Checkpoint json.RawMessage `json:"checkpoint"`
	Status     string          `json:"status"`
	From       string          `json:"from"`
	Sender     string          `json:"sender"`
	GasLimit   json.RawMessage `json:"gasLimit"`
	GasUsed    *GasCostSummary `json:"gasUsed"`
}

// Transactions 实现 ExplorerFetcher。响应不是 JSON 数组时（接口故障时公网站点会返回 HTML）视为错误。
func (e *Explorer) Transactions(ctx context.Context, address string, limit int) ([]TransactionBlock, error) {
	if e == nil {
		return nil, fmt.Errorf("未配置浏览器接口")
	}
	u, err := url.Parse(e.endpoint)
	if err != nil {
		return nil, fmt.Errorf("浏览器地址非法: %w", err)
	}
	q := u.Query()
	q.Set("address", address)
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求浏览器接口失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("读取浏览器响应失败: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("浏览器接口返回状态码 %d", resp.StatusCode)
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		return nil, fmt.Errorf("浏览器接口返回了非 JSON 内容 (%s)", resp.Header.Get("Content-Type"))
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("浏览器接口返回的不是交易列表")
	}

	var raw []explorerTransaction
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, fmt.Errorf("解析浏览器响应失败: %w", err)
	}

	out := make([]TransactionBlock, 0, len(raw))
	for _, tx := range raw {
		out = append(out, tx.block())
	}
	return out, nil
}

func (tx explorerTransaction) block() TransactionBlock {
	digest := firstNonEmpty(tx.Hash, tx.Digest, tx.ID)
	status := tx.Status
	if status == "" {
		status = "success"
	}
	block := TransactionBlock{
		Digest:      digest,
		TimestampMs: explorerTimestamp(tx.Timestamp),
		Checkpoint:  rawScalar(tx.Checkpoint),
		Effects: &TransactionEffects{
			Status:  ExecutionStatus{Status: status},
			GasUsed: tx.GasUsed,
		},
		Transaction: &TransactionEnvelope{Data: TransactionData{
			Sender: firstNonEmpty(tx.From, tx.Sender),
		}},
	}
	budget := rawScalar(tx.GasLimit)
	if budget == "" && tx.GasUsed != nil {
		budget = tx.GasUsed.ComputationCost
	}
	block.Transaction.Data.GasData.Budget = budget
	return block
}

// explorerTimestamp 接受毫秒时间戳或 RFC 3339 字符串。
func explorerTimestamp(raw json.RawMessage) string {
	s := rawScalar(raw)
	if s == "" {
		return ""
	}
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return s
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return strconv.FormatInt(t.UnixMilli(), 10)
	}
	return ""
}

func rawScalar(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return strings.TrimSpace(s)
		}
		return ""
	}
	return string(raw)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
