package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// WebhookNotifier 通过 HTTP webhook 推送告警。Channel 决定消息格式：
// slack 与 dingtalk 使用各自机器人的文本格式，其余渠道直接发送事件 JSON。
type WebhookNotifier struct {
	URL        string
	Kind       Channel
	HTTPClient *http.Client
}

// NewWebhookNotifier 创建 webhook 通知器。
func NewWebhookNotifier(kind Channel, url string) (*WebhookNotifier, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("%s webhook 地址不能为空", kind)
	}
	if kind == "" {
		kind = ChannelWebhook
	}
	return &WebhookNotifier{
		URL:        url,
		Kind:       kind,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Channel 返回渠道。
func (n *WebhookNotifier) Channel() Channel {
	if n.Kind == "" {
		return ChannelWebhook
	}
	return n.Kind
}

// Notify 发送告警。
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	payload, err := n.payload(event)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("构建告警请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := n.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("发送告警失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("告警 webhook 返回状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func (n *WebhookNotifier) payload(event Event) ([]byte, error) {
	switch n.Channel() {
	case ChannelSlack:
		return json.Marshal(map[string]string{"text": "*" + event.Summary() + "*\n" + event.Text()})
	case ChannelDingTalk:
		return json.Marshal(map[string]any{
			"msgtype": "text",
			"text":    map[string]string{"content": event.Summary() + "\n" + event.Text()},
		})
	default:
		return json.Marshal(event)
	}
}

var _ Notifier = (*WebhookNotifier)(nil)
