package task

import (
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "OneChain-Portal/internal/errors"
)

func TestDeliveryEncoding(t *testing.T) {
	job := &Job{ID: "job-7", Kind: KindExecute, Network: "testnet", Attempts: 1}
	d := DeliveryFor(job)
	body, err := d.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"job_id":"job-7","kind":"execute","network":"testnet","attempt":1}`, string(body))

	decoded, err := DecodeDelivery(body)
	require.NoError(t, err)
	assert.Equal(t, d, decoded)

	_, err = DecodeDelivery([]byte(`job-7`))
	assert.Equal(t, CodeJobValidation, xerrors.CodeOf(err))
	_, err = DecodeDelivery([]byte(`{"job_id":"x","kind":"transfer"}`))
	assert.Equal(t, CodeJobValidation, xerrors.CodeOf(err))
	_, err = Delivery{Kind: KindSimulate}.Encode()
	assert.Equal(t, CodeJobValidation, xerrors.CodeOf(err))
}

func TestConsumeKindsPutsExecuteFirst(t *testing.T) {
	assert.Equal(t, []Kind{KindExecute, KindSimulate}, consumeKinds(nil))
	assert.Equal(t, []Kind{KindSimulate}, consumeKinds([]Kind{"bogus", KindSimulate, KindSimulate}))
	assert.Equal(t, "ptb.execute", RoutingKey(KindExecute))
}

func TestRabbitMQPublishingCarriesJobHeaders(t *testing.T) {
	msg, err := newPublishing(Delivery{JobID: "job-1", Kind: KindExecute, Network: "localnet", Attempt: 2})
	require.NoError(t, err)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "job-1", msg.MessageId)
	assert.Equal(t, "execute", msg.Type)
	assert.Equal(t, "execute", msg.Headers[headerJobKind])
	assert.Equal(t, "localnet", msg.Headers[headerNetwork])
	assert.Equal(t, int32(2), msg.Headers[headerAttempt])

	back, err := deliveryFromMessage(amqp.Delivery{Body: msg.Body, Headers: msg.Headers, MessageId: msg.MessageId})
	require.NoError(t, err)
	assert.Equal(t, Delivery{JobID: "job-1", Kind: KindExecute, Network: "localnet", Attempt: 2}, back)

	_, err = newPublishing(Delivery{JobID: "job-2", Kind: "transfer"})
	assert.Error(t, err)
}

func TestRabbitMQMessageFallsBackToHeaders(t *testing.T) {
	d, err := deliveryFromMessage(amqp.Delivery{
		MessageId: "legacy",
		Body:      []byte("legacy"),
		Headers:   amqp.Table{headerJobKind: "simulate", headerAttempt: int32(3)},
	})
	require.NoError(t, err)
	assert.Equal(t, Delivery{JobID: "legacy", Kind: KindSimulate, Attempt: 3}, d)

	_, err = deliveryFromMessage(amqp.Delivery{Body: []byte("garbage")})
	assert.Equal(t, CodeJobValidation, xerrors.CodeOf(err))
}

func TestRabbitMQTopology(t *testing.T) {
	cfg := RabbitMQConfig{Kinds: []Kind{KindExecute}}.withDefaults()
	assert.Equal(t, DefaultRabbitMQExchange, cfg.Exchange)
	assert.Equal(t, "portal.jobs.execute", cfg.queueName(KindExecute))
	assert.Equal(t, []Kind{KindExecute}, cfg.Kinds)
	assert.Nil(t, cfg.queueArgs())

	cfg.DeadLetterExchange = "portal.dlx"
	assert.Equal(t, amqp.Table{"x-dead-letter-exchange": "portal.dlx"}, cfg.queueArgs())
}

func TestRedisQueueKeys(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = client.Close() })

	q := NewRedisQueueFromClient(client, RedisQueueConfig{Queue: "test:jobs"})
	assert.Equal(t, []string{"test:jobs:execute", "test:jobs:simulate"}, q.consumeKeys())
	assert.Equal(t, "test:jobs:dead", q.deadKey())

	simulateOnly := NewRedisQueueFromClient(client, RedisQueueConfig{Kinds: []Kind{KindSimulate}})
	assert.Equal(t, []string{DefaultRedisQueue + ":simulate"}, simulateOnly.consumeKeys())
}
