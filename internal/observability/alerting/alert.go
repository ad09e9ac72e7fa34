package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	xerrors "OneChain-Portal/internal/errors"
	"OneChain-Portal/pkg/logger"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelLog      Channel = "log"
	ChannelWebhook  Channel = "webhook"
	ChannelDingTalk Channel = "dingtalk"
	ChannelSlack    Channel = "slack"
)

// Event 描述一次需要告警的事件，通常来自失败的模拟或执行作业。
type Event struct {
	Code       xerrors.Code      `json:"code"`
	Message    string            `json:"message"`
	Severity   xerrors.Severity  `json:"severity"`
	JobID      string            `json:"job_id,omitempty"`
	Kind       string            `json:"kind,omitempty"`
	Network    string            `json:"network,omitempty"`
	Attempts   int               `json:"attempts"`
	MaxRetries int               `json:"max_retries"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Summary 返回单行的事件描述。
func (e Event) Summary() string {
	return fmt.Sprintf("[%s] %s 作业 %s(%s) 重试 %d/%d: %s",
		e.Severity, e.Code, e.JobID, e.Kind, e.Attempts, e.MaxRetries, e.Message)
}

// Text 返回带详情的多行描述。
func (e Event) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "告警时间: %s\n", e.OccurredAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "作业: %s (%s)\n", e.JobID, e.Kind)
	if e.Network != "" {
		fmt.Fprintf(&b, "网络: %s\n", e.Network)
	}
	fmt.Fprintf(&b, "重试: %d/%d\n错误码: %s\n描述: %s", e.Attempts, e.MaxRetries, e.Code, e.Message)
	if len(e.Metadata) > 0 {
		keys := make([]string, 0, len(e.Metadata))
		for k := range e.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n详情:")
		for _, k := range keys {
			fmt.Fprintf(&b, "\n- %s: %s", k, e.Metadata[k])
		}
	}
	return b.String()
}

// Notifier 负责将事件发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 将事件投递到每个渠道，同一渠道只保留最后注册的通知器。
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
	minimum   xerrors.Severity
}

// FanoutOption 定义 FanoutDispatcher 的可选配置。
type FanoutOption func(*FanoutDispatcher)

// WithMinimumSeverity 丢弃低于给定级别的事件。
func WithMinimumSeverity(severity xerrors.Severity) FanoutOption {
	return func(d *FanoutDispatcher) {
		d.minimum = severity
	}
}

// NewFanout 创建一个新的 FanoutDispatcher。
func NewFanout(notifiers []Notifier, opts ...FanoutOption) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	d := &FanoutDispatcher{notifiers: set}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Channels 返回已注册的渠道。
func (d *FanoutDispatcher) Channels() []Channel {
	if d == nil {
		return nil
	}
	out := make([]Channel, 0, len(d.notifiers))
	for ch := range d.notifiers {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Notify 将事件广播至所有注册渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	if severityRank(event.Severity) < severityRank(d.minimum) {
		return nil
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	return errors.Join(errs...)
}

func severityRank(s xerrors.Severity) int {
	switch s {
	case xerrors.SeverityCritical:
		return 2
	case xerrors.SeverityWarning:
		return 1
	default:
		return 0
	}
}

// LogNotifier 把告警写入审计日志，未配置任何外部渠道时使用。
type LogNotifier struct {
	Logger *slog.Logger
}

// Channel 返回日志渠道。
func (n *LogNotifier) Channel() Channel { return ChannelLog }

// Notify 记录日志。
func (n *LogNotifier) Notify(_ context.Context, event Event) error {
	l := logger.Audit()
	if n != nil && n.Logger != nil {
		l = n.Logger
	}
	l.Warn("作业告警",
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("job_id", event.JobID),
		slog.String("kind", event.Kind),
		slog.Int("attempts", event.Attempts),
		slog.Int("max_retries", event.MaxRetries),
		slog.String("message", event.Message),
	)
	return nil
}

var _ Dispatcher = (*FanoutDispatcher)(nil)
