package messagequeue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type settlement struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (s *settlement) Ack(uint64, bool) error {
	s.acked = true
	return nil
}

func (s *settlement) Nack(_ uint64, _ bool, requeue bool) error {
	s.nacked = true
	s.requeue = requeue
	return nil
}

func (s *settlement) Reject(_ uint64, requeue bool) error {
	return s.Nack(0, false, requeue)
}

type published struct {
	exchange string
	job      Job
}

type recordingPublisher struct {
	sent []published
	err  error
}

func (p *recordingPublisher) publish(_ context.Context, exchange string, job Job) error {
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, published{exchange: exchange, job: job})
	return nil
}

func delivery(t *testing.T, job Job) (amqp.Delivery, *settlement) {
	t.Helper()
	body, err := json.Marshal(job)
	require.NoError(t, err)
	ack := &settlement{}
	return amqp.Delivery{Acknowledger: ack, RoutingKey: job.Name, Body: body}, ack
}

func newRouter(pub jobPublisher) deliveryRouter {
	return deliveryRouter{exchange: "jobs", publisher: pub, logger: discardLogger()}
}

func TestDeliveryRouter(t *testing.T) {
	failing := func(context.Context, Job) error { return errors.New("webhook down") }
	succeeding := func(context.Context, Job) error { return nil }

	tests := []struct {
		name         string
		attempt      int
		handler      Handler
		publishErr   error
		wantExchange string
		wantAttempt  int
		wantAck      bool
		wantRequeue  bool
	}{
		{name: "success acks", handler: succeeding, wantAck: true},
		{name: "failure retries on job exchange", attempt: 0, handler: failing, wantExchange: "jobs", wantAttempt: 1, wantAck: true},
		{name: "last retry still allowed", attempt: 2, handler: failing, wantExchange: "jobs", wantAttempt: 3, wantAck: true},
		{name: "exhausted goes to dead exchange", attempt: 3, handler: failing, wantExchange: "jobs.dead", wantAttempt: 3, wantAck: true},
		{name: "republish failure requeues", handler: failing, publishErr: errors.New("channel closed"), wantRequeue: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := NewJob("callWebhookJobs", payload{RecordID: "r-1"}, JobOptions{ID: "job-1", RetryLimit: 3})
			require.NoError(t, err)
			job.Attempt = tt.attempt

			pub := &recordingPublisher{err: tt.publishErr}
			msg, ack := delivery(t, job)
			newRouter(pub).handle(context.Background(), tt.handler, msg)

			assert.Equal(t, tt.wantAck, ack.acked)
			assert.Equal(t, tt.wantRequeue, ack.nacked && ack.requeue)
			if tt.wantExchange == "" {
				assert.Empty(t, pub.sent)
				return
			}
			require.Len(t, pub.sent, 1)
			assert.Equal(t, tt.wantExchange, pub.sent[0].exchange)
			assert.Equal(t, tt.wantAttempt, pub.sent[0].job.Attempt)
			assert.Equal(t, "job-1", pub.sent[0].job.ID, "id is kept across retries")
		})
	}
}

func TestDeliveryRouter_UndecodableBodyIsDropped(t *testing.T) {
	pub := &recordingPublisher{}
	ack := &settlement{}
	called := false

	newRouter(pub).handle(context.Background(), func(context.Context, Job) error {
		called = true
		return nil
	}, amqp.Delivery{Acknowledger: ack, Body: []byte("{not json")})

	assert.False(t, called)
	assert.True(t, ack.nacked)
	assert.False(t, ack.requeue)
	assert.Empty(t, pub.sent)
}

func TestDeliveryRouter_PanicCountsAsFailure(t *testing.T) {
	pub := &recordingPublisher{}
	job, err := NewJob("callWebhookJobs", nil, JobOptions{RetryLimit: 1})
	require.NoError(t, err)
	msg, ack := delivery(t, job)

	newRouter(pub).handle(context.Background(), func(context.Context, Job) error {
		panic("nil map")
	}, msg)

	assert.True(t, ack.acked)
	require.Len(t, pub.sent, 1)
	assert.Equal(t, "jobs", pub.sent[0].exchange)
}

func TestDeliveryRouter_CancelledDuringBackoffRequeues(t *testing.T) {
	pub := &recordingPublisher{}
	job, err := NewJob("callWebhookJobs", nil, JobOptions{RetryLimit: 3})
	require.NoError(t, err)
	msg, ack := delivery(t, job)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	router := newRouter(pub)
	router.retryBackoff = 0

	router.handle(ctx, func(context.Context, Job) error { return errors.New("boom") }, msg)

	assert.False(t, ack.acked)
	assert.True(t, ack.nacked)
	assert.True(t, ack.requeue)
	assert.Empty(t, pub.sent)
}
