package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "OneChain-Portal/internal/errors"
	"OneChain-Portal/pkg/logger"
)

const (
	// DefaultRabbitMQExchange 是未配置时声明的 direct exchange。
	DefaultRabbitMQExchange = "portal.jobs"
	// DefaultRabbitMQQueue 是每种作业队列名的前缀，例如 portal.jobs.execute。
	DefaultRabbitMQQueue = "portal.jobs"

	headerJobKind = "x-job-kind"
	headerNetwork = "x-network"
	headerAttempt = "x-attempt"
)

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数与拓扑。
type RabbitMQConfig struct {
	URL      string
	Exchange string
	// Queue 是队列名前缀，每种作业类型一个队列。
	Queue string
	// DeadLetterExchange 非空时，处理失败或无法解析的消息转入该 exchange。
	DeadLetterExchange string
	// Kinds 是本实例消费的作业类型，为空时消费全部。
	Kinds      []Kind
	Prefetch   int
	Durable    bool
	AutoDelete bool
}

func (cfg RabbitMQConfig) withDefaults() RabbitMQConfig {
	if cfg.Exchange == "" {
		cfg.Exchange = DefaultRabbitMQExchange
	}
	if cfg.Queue == "" {
		cfg.Queue = DefaultRabbitMQQueue
	}
	cfg.Kinds = consumeKinds(cfg.Kinds)
	return cfg
}

// queueName 返回作业类型对应的队列名。
func (cfg RabbitMQConfig) queueName(kind Kind) string {
	return cfg.Queue + "." + string(kind)
}

func (cfg RabbitMQConfig) queueArgs() amqp.Table {
	if cfg.DeadLetterExchange == "" {
		return nil
	}
	return amqp.Table{"x-dead-letter-exchange": cfg.DeadLetterExchange}
}

// RabbitMQQueue 使用 RabbitMQ 实现作业队列。作业按类型路由到独立队列，
// 执行类作业不会被大量模拟作业挤占。
type RabbitMQQueue struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	cfg    RabbitMQConfig
	logger *slog.Logger
}

// NewRabbitMQQueue 连接 RabbitMQ，声明 exchange 以及每种作业类型的队列与绑定。
func NewRabbitMQQueue(cfg RabbitMQConfig) (*RabbitMQQueue, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	cfg = cfg.withDefaults()
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	q := &RabbitMQQueue{conn: conn, ch: ch, cfg: cfg, logger: logger.Named("rabbitmq-queue")}
	if err := q.declare(); err != nil {
		_ = q.Close()
		return nil, err
	}
	return q, nil
}

func (q *RabbitMQQueue) declare() error {
	if q.cfg.Prefetch > 0 {
		if err := q.ch.Qos(q.cfg.Prefetch, 0, false); err != nil {
			return fmt.Errorf("设置 RabbitMQ QOS 失败: %w", err)
		}
	}
	if err := q.ch.ExchangeDeclare(q.cfg.Exchange, amqp.ExchangeDirect, q.cfg.Durable, q.cfg.AutoDelete, false, false, nil); err != nil {
		return fmt.Errorf("声明 exchange %s 失败: %w", q.cfg.Exchange, err)
	}
	// 生产者可能投递任何类型，所以全部类型的队列都要声明。
	for _, kind := range []Kind{KindSimulate, KindExecute} {
		name := q.cfg.queueName(kind)
		if _, err := q.ch.QueueDeclare(name, q.cfg.Durable, q.cfg.AutoDelete, false, false, q.cfg.queueArgs()); err != nil {
			return fmt.Errorf("声明队列 %s 失败: %w", name, err)
		}
		if err := q.ch.QueueBind(name, RoutingKey(kind), q.cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("绑定队列 %s 失败: %w", name, err)
		}
	}
	return nil
}

// newPublishing 构造消息：JSON 消息体，作业 ID 作为 MessageId，
// 类型、网络和尝试次数放在 header 中，便于在管理界面筛选。
func newPublishing(d Delivery) (amqp.Publishing, error) {
	body, err := d.Encode()
	if err != nil {
		return amqp.Publishing{}, err
	}
	headers := amqp.Table{
		headerJobKind: string(d.Kind),
		headerAttempt: int32(d.Attempt),
	}
	if d.Network != "" {
		headers[headerNetwork] = d.Network
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    d.JobID,
		Type:         string(d.Kind),
		Headers:      headers,
		Body:         body,
	}, nil
}

// deliveryFromMessage 解析消息体；消息体不可用时退回到 MessageId 与 header。
func deliveryFromMessage(msg amqp.Delivery) (Delivery, error) {
	d, err := DecodeDelivery(msg.Body)
	if err == nil {
		return d, nil
	}
	kind, _ := msg.Headers[headerJobKind].(string)
	if msg.MessageId == "" || kind == "" {
		return Delivery{}, err
	}
	d = Delivery{JobID: msg.MessageId, Kind: Kind(kind)}
	d.Network, _ = msg.Headers[headerNetwork].(string)
	if attempt, ok := msg.Headers[headerAttempt].(int32); ok {
		d.Attempt = int(attempt)
	}
	return d, d.validate()
}

// Publish 按作业类型路由投递。
func (q *RabbitMQQueue) Publish(ctx context.Context, d Delivery) error {
	if q == nil || q.ch == nil {
		return errors.New("RabbitMQ 队列未初始化")
	}
	msg, err := newPublishing(d)
	if err != nil {
		return err
	}
	if err := q.ch.PublishWithContext(ctx, q.cfg.Exchange, RoutingKey(d.Kind), false, false, msg); err != nil {
		return xerrors.Wrap(CodeJobPublish, err, "RabbitMQ 发布作业失败",
			xerrors.WithMetadata("exchange", q.cfg.Exchange),
			xerrors.WithMetadata("routing_key", RoutingKey(d.Kind)))
	}
	return nil
}

// Consume 订阅配置的作业类型队列，手动确认。处理失败的消息不重新入队，
// 配置了死信 exchange 时转入死信。
func (q *RabbitMQQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if q == nil || q.ch == nil {
		return errors.New("RabbitMQ 队列未初始化")
	}
	if workerCount <= 0 {
		workerCount = 1
	}

	merged := make(chan amqp.Delivery)
	for _, kind := range q.cfg.Kinds {
		name := q.cfg.queueName(kind)
		msgs, err := q.ch.Consume(name, "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("订阅队列 %s 失败: %w", name, err)
		}
		go func() {
			for msg := range msgs {
				select {
				case merged <- msg:
				case <-ctx.Done():
					_ = msg.Nack(false, true)
					return
				}
			}
		}()
	}

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg := <-merged:
					q.dispatch(ctx, msg, handler)
				}
			}
		}()
	}

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

func (q *RabbitMQQueue) dispatch(ctx context.Context, msg amqp.Delivery, handler Handler) {
	d, err := deliveryFromMessage(msg)
	if err != nil {
		q.logger.Warn("丢弃无法解析的队列消息",
			slog.String("message_id", msg.MessageId),
			slog.String("routing_key", msg.RoutingKey),
			slog.Any("error", err))
		_ = msg.Nack(false, false)
		return
	}
	if err := handler(ctx, d); err != nil {
		q.logger.Warn("作业处理失败，消息转入死信",
			slog.String("job_id", d.JobID),
			slog.String("kind", string(d.Kind)),
			slog.Any("error", err))
		_ = msg.Nack(false, false)
		return
	}
	_ = msg.Ack(false)
}

// Close 关闭 RabbitMQ 连接。
func (q *RabbitMQQueue) Close() error {
	if q == nil {
		return nil
	}
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

var _ Queue = (*RabbitMQQueue)(nil)
