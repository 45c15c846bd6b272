package messagequeue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPConfig configures the RabbitMQ driver.
type AMQPConfig struct {
	URL          string
	Exchange     string
	Workers      int
	Prefetch     int
	RetryBackoff time.Duration
	DialAttempts int
	DialDelay    time.Duration
}

// maxDialDelay caps the reconnect backoff.
const maxDialDelay = 60 * time.Second

// DialWithRetry connects to RabbitMQ with exponential backoff and gives up
// when ctx is cancelled.
func DialWithRetry(ctx context.Context, url string, attempts int, delay time.Duration, logger *slog.Logger) (*amqp.Connection, error) {
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 1; i <= attempts; i++ {
		conn, err := amqp.Dial(url)
		if err == nil {
			if i > 1 {
				logger.Info("rabbit connected", slog.Int("attempt", i))
			}
			return conn, nil
		}
		lastErr = err
		if i == attempts {
			break
		}

		sleep := delay << (i - 1)
		if sleep <= 0 || sleep > maxDialDelay {
			sleep = maxDialDelay
		}
		logger.Warn("rabbit dial failed",
			slog.Int("attempt", i),
			slog.Duration("sleep", sleep),
			slog.String("error", err.Error()),
		)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("dial cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, lastErr)
}

// AMQPQueue publishes jobs to a durable topic exchange, routed by job name.
// Every job name gets a durable queue "<exchange>.<name>" and a dead-letter
// queue "<exchange>.<name>.dead" for jobs that exhausted their retries.
type AMQPQueue struct {
	cfg    AMQPConfig
	conn   *amqp.Connection
	logger *slog.Logger

	pubMu sync.Mutex
	pubCh *amqp.Channel

	mu       sync.Mutex
	handlers map[string]Handler
	channels []*amqp.Channel

	router deliveryRouter

	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
	cancel    context.CancelFunc
}

// jobPublisher sends a job to an exchange.
type jobPublisher interface {
	publish(ctx context.Context, exchange string, job Job) error
}

// deliveryRouter settles one delivery: ack on success, republish to the
// job exchange for a retry, or to the dead exchange once retries run out.
type deliveryRouter struct {
	exchange     string
	retryBackoff time.Duration
	publisher    jobPublisher
	logger       *slog.Logger
}

// NewAMQPQueue dials the broker and declares the job exchanges.
func NewAMQPQueue(ctx context.Context, cfg AMQPConfig, logger *slog.Logger) (*AMQPQueue, error) {
	if cfg.Exchange == "" {
		return nil, errors.New("amqp exchange is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = cfg.Workers
	}

	conn, err := DialWithRetry(ctx, cfg.URL, cfg.DialAttempts, cfg.DialDelay, logger)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	for _, exchange := range []string{cfg.Exchange, deadExchange(cfg.Exchange)} {
		if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
		}
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	q := &AMQPQueue{
		cfg:      cfg,
		conn:     conn,
		logger:   logger,
		pubCh:    ch,
		handlers: make(map[string]Handler),
	}
	q.router = deliveryRouter{
		exchange:     cfg.Exchange,
		retryBackoff: cfg.RetryBackoff,
		publisher:    q,
		logger:       logger,
	}
	return q, nil
}

func deadExchange(exchange string) string {
	return exchange + ".dead"
}

func queueName(exchange, job string) string {
	return exchange + "." + job
}

// Add publishes a persistent job and waits for the broker to confirm it.
func (q *AMQPQueue) Add(ctx context.Context, name string, data any, opts JobOptions) error {
	job, err := NewJob(name, data, opts)
	if err != nil {
		return err
	}
	return q.publish(ctx, q.cfg.Exchange, job)
}

func (q *AMQPQueue) publish(ctx context.Context, exchange string, job Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	q.pubMu.Lock()
	defer q.pubMu.Unlock()
	if q.pubCh == nil {
		return ErrClosed
	}

	confirm, err := q.pubCh.PublishWithDeferredConfirmWithContext(ctx, exchange, job.Name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Type:         job.Name,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s job: %w", job.Name, err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("confirm %s job: %w", job.Name, err)
	}
	if !acked {
		return fmt.Errorf("broker rejected %s job %s", job.Name, job.ID)
	}
	return nil
}

// Work registers the handler of a job name. Must be called before Start.
func (q *AMQPQueue) Work(name string, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[name] = handler
}

// Start declares one queue per registered job and consumes them.
func (q *AMQPQueue) Start(ctx context.Context) error {
	var startErr error
	q.startOnce.Do(func() {
		ctx, q.cancel = context.WithCancel(ctx)

		q.mu.Lock()
		defer q.mu.Unlock()
		for name, handler := range q.handlers {
			if err := q.consume(ctx, name, handler); err != nil {
				startErr = err
				return
			}
		}
		q.logger.Info("message queue started",
			slog.String("driver", DriverAMQP),
			slog.String("exchange", q.cfg.Exchange),
			slog.Int("jobs", len(q.handlers)),
		)
	})
	return startErr
}

func (q *AMQPQueue) consume(ctx context.Context, name string, handler Handler) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open consumer channel: %w", err)
	}
	q.channels = append(q.channels, ch)

	if err := ch.Qos(q.cfg.Prefetch, 0, false); err != nil {
		return err
	}

	queue := queueName(q.cfg.Exchange, name)
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	if err := ch.QueueBind(queue, name, q.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", queue, err)
	}
	dead := queue + ".dead"
	if _, err := ch.QueueDeclare(dead, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", dead, err)
	}
	if err := ch.QueueBind(dead, name, deadExchange(q.cfg.Exchange), false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", dead, err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume %s: %w", queue, err)
	}

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.workerLoop(ctx, handler, deliveries)
	}
	return nil
}

func (q *AMQPQueue) workerLoop(ctx context.Context, handler Handler, deliveries <-chan amqp.Delivery) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-deliveries:
			if !ok {
				return
			}
			q.router.handle(ctx, handler, msg)
		}
	}
}

func (r deliveryRouter) handle(ctx context.Context, handler Handler, msg amqp.Delivery) {
	var job Job
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		r.logger.Error("dropping undecodable job", slog.String("routing_key", msg.RoutingKey), slog.String("error", err.Error()))
		_ = msg.Nack(false, false)
		return
	}

	err := runHandler(ctx, handler, job)
	if err == nil {
		_ = msg.Ack(false)
		return
	}

	target := deadExchange(r.exchange)
	if job.CanRetry() {
		job.Attempt++
		target = r.exchange
		r.logger.Warn("job failed, retrying",
			slog.String("job", job.Name),
			slog.String("job_id", job.ID),
			slog.Int("attempt", job.Attempt),
			slog.String("error", err.Error()),
		)
		if !sleepContext(ctx, backoff(r.retryBackoff, job.Attempt)) {
			_ = msg.Nack(false, true)
			return
		}
	} else {
		r.logger.Error("job failed, retries exhausted",
			slog.String("job", job.Name),
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}

	if pubErr := r.publisher.publish(ctx, target, job); pubErr != nil {
		r.logger.Error("failed to republish job", slog.String("job_id", job.ID), slog.String("error", pubErr.Error()))
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Close stops the consumers and closes the connection.
func (q *AMQPQueue) Close() error {
	var err error
	q.closeOnce.Do(func() {
		if q.cancel != nil {
			q.cancel()
		}
		q.wg.Wait()

		q.mu.Lock()
		for _, ch := range q.channels {
			_ = ch.Close()
		}
		q.mu.Unlock()

		q.pubMu.Lock()
		if q.pubCh != nil {
			_ = q.pubCh.Close()
			q.pubCh = nil
		}
		q.pubMu.Unlock()

		err = q.conn.Close()
	})
	return err
}
