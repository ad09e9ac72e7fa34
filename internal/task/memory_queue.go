package task

import (
	"context"
	"sync"

	xerrors "OneChain-Portal/internal/errors"
)

// MemoryQueue 使用 channel 实现的进程内队列，单机部署和测试使用。
// 队列本身不做重试，失败作业是否重投由 Processor 决定。
type MemoryQueue struct {
	ch   chan Delivery
	done chan struct{}
	once sync.Once
}

// NewMemoryQueue 创建一个内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan Delivery, size), done: make(chan struct{})}
}

// Publish 将作业投递到队列。队列已满时阻塞，直到有空位、ctx 结束或队列关闭。
func (q *MemoryQueue) Publish(ctx context.Context, d Delivery) error {
	if err := d.validate(); err != nil {
		return err
	}
	select {
	case <-q.done:
		return errQueueClosed()
	default:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return errQueueClosed()
	case q.ch <- d:
		return nil
	}
}

// Consume 启动 workerCount 个协程消费队列，直到 ctx 结束或队列关闭。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
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
				case <-q.done:
					return
				case d := <-q.ch:
					_ = handler(ctx, d)
				}
			}
		}()
	}
	select {
	case <-ctx.Done():
	case <-q.done:
	}
	wg.Wait()
	return ctx.Err()
}

// Len 返回尚未被消费的作业数。
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

// Close 关闭内存队列，唤醒所有阻塞中的投递者。channel 本身不关闭，
// 关闭后的投递不会 panic。
func (q *MemoryQueue) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}

func errQueueClosed() error {
	return xerrors.New(CodeJobPublish, "队列已关闭", xerrors.WithRetryable(false))
}

var _ Queue = (*MemoryQueue)(nil)
