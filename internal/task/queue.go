package task

import (
	"context"
	"encoding/json"
	"strings"

	xerrors "OneChain-Portal/internal/errors"
)

// Delivery 是队列中传递的作业引用。作业内容保存在 Store 中，
// 队列只携带路由所需的字段。
type Delivery struct {
	JobID   string `json:"job_id"`
	Kind    Kind   `json:"kind"`
	Network string `json:"network,omitempty"`
	// Attempt 是投递时作业已经尝试过的次数。
	Attempt int `json:"attempt"`
}

// DeliveryFor 根据作业构造投递消息。
func DeliveryFor(job *Job) Delivery {
	return Delivery{JobID: job.ID, Kind: job.Kind, Network: job.Network, Attempt: job.Attempts}
}

// RoutingKey 返回作业类型对应的路由键，例如 ptb.simulate。
func RoutingKey(kind Kind) string {
	return "ptb." + string(kind)
}

// Encode 把投递消息编码为 JSON。
func (d Delivery) Encode() ([]byte, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	return json.Marshal(d)
}

// DecodeDelivery 解析队列中的消息体。
func DecodeDelivery(body []byte) (Delivery, error) {
	var d Delivery
	if err := json.Unmarshal(body, &d); err != nil {
		return Delivery{}, xerrors.Wrap(CodeJobValidation, err, "无法解析队列消息")
	}
	if err := d.validate(); err != nil {
		return Delivery{}, err
	}
	return d, nil
}

func (d Delivery) validate() error {
	if strings.TrimSpace(d.JobID) == "" {
		return xerrors.New(CodeJobValidation, "队列消息缺少作业 ID")
	}
	if !IsValidKind(d.Kind) {
		return xerrors.New(CodeJobValidation, "队列消息的作业类型未知",
			xerrors.WithMetadata("job_id", d.JobID),
			xerrors.WithMetadata("kind", string(d.Kind)))
	}
	return nil
}

// Handler 处理一条投递。返回的错误只用于日志与死信，重试由 Processor 决定。
type Handler func(ctx context.Context, d Delivery) error

// Producer 负责向队列投递作业。
type Producer interface {
	Publish(ctx context.Context, d Delivery) error
	Close() error
}

// Consumer 负责从队列中消费作业，阻塞直到 ctx 结束。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}

// consumeKinds 返回消费者订阅的作业类型。执行类排在前面，
// 同时有积压时优先处理用户等待签名结果的作业。
func consumeKinds(kinds []Kind) []Kind {
	kinds = dedupe(kinds, IsValidKind)
	if len(kinds) == 0 {
		return []Kind{KindExecute, KindSimulate}
	}
	return kinds
}
