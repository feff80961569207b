package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// Circuit breaker states
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures    = 5
	openTimeout    = 30 * time.Second
	publishTimeout = 5 * time.Second
	maxBackoff     = 30 * time.Second
	prefetchCount  = 10

	DefaultMaxAttempts = 5
)

var (
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrPermanent marks handler failures that must not be redelivered.
	ErrPermanent = errors.New("permanent failure")
)

// Permanent wraps err so Consume drops the job instead of retrying it.
func Permanent(err error) error {
	if err == nil || errors.Is(err, ErrPermanent) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Handler runs one job. Errors wrapping ErrPermanent drop the job; any other
// error schedules a redelivery.
type Handler func(ctx context.Context, msg JobMessage) error

type Client struct {
	url          string
	exchangeName string
	queueName    string
	maxAttempts  int

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	failureCount int64
	state        int32
	lastFailure  time.Time
}

type Option func(*Client)

// WithMaxAttempts bounds deliveries per job, the first one included.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

func NewClient(url, exchangeName, queueName string, opts ...Option) (*Client, error) {
	client := &Client{
		url:          url,
		exchangeName: exchangeName,
		queueName:    queueName,
		maxAttempts:  DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(client)
	}

	if _, err := client.ensureChannel(); err != nil {
		return nil, err
	}
	return client, nil
}

// ensureChannel returns the open channel, dialing again after a lost connection.
func (c *Client) ensureChannel() (*amqp091.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != nil && !c.channel.IsClosed() {
		return c.channel, nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn, c.channel = nil, nil
	}

	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := c.setup(channel); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("setup exchange and queue: %w", err)
	}

	c.conn, c.channel = conn, channel
	return channel, nil
}

func (c *Client) setup(ch *amqp091.Channel) error {
	// Declare exchange
	err := ch.ExchangeDeclare(
		c.exchangeName, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	// Declare queue
	_, err = ch.QueueDeclare(
		c.queueName, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	// Bind queue to exchange
	err = ch.QueueBind(
		c.queueName,    // queue name
		c.queueName,    // routing key (same as queue name for direct exchange)
		c.exchangeName, // exchange
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	return ch.Qos(prefetchCount, 0, false)
}

// EnqueueOnce publishes a persistent one-shot job.
func (c *Client) EnqueueOnce(ctx context.Context, msg JobMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isCircuitOpen() {
		return fmt.Errorf("enqueue %s: %w", msg.Type, ErrCircuitOpen)
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}

	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	if err := c.publish(ctx, body); err != nil {
		c.recordFailure()
		if isConnectionError(err) {
			c.dropChannel()
		}
		return err
	}
	c.recordSuccess()

	slog.DebugContext(ctx, "Published job",
		"job_type", msg.Type,
		"expense_id", msg.ExpenseID,
		"attempt", msg.Attempt,
		"queue", c.queueName)
	return nil
}

// EnqueueEnrichment schedules location enrichment of a local expense.
func (c *Client) EnqueueEnrichment(ctx context.Context, expenseID int64) error {
	return c.EnqueueOnce(ctx, NewEnrichmentMessage(expenseID))
}

// EnqueueBudgetCheck schedules a budget alert evaluation.
func (c *Client) EnqueueBudgetCheck(ctx context.Context) error {
	return c.EnqueueOnce(ctx, NewBudgetCheckMessage())
}

func (c *Client) publish(ctx context.Context, body []byte) error {
	ch, err := c.ensureChannel()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = ch.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		c.queueName,    // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent, // make message persistent
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// Consume delivers jobs to handler until ctx ends. Retryable failures are
// republished with the attempt counter increased after an exponential
// delay; the original delivery is acked only once its successor is queued.
func (c *Client) Consume(ctx context.Context, handler Handler) error {
	ch, err := c.ensureChannel()
	if err != nil {
		return err
	}

	msgs, err := ch.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack (we want manual ack)
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	slog.InfoContext(ctx, "Started consuming jobs", "queue", c.queueName)

	var retries sync.WaitGroup
	defer retries.Wait()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Stopping job consumption", "reason", ctx.Err())
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}
			c.handleDelivery(ctx, delivery, handler, &retries)
		}
	}
}

func (c *Client) handleDelivery(ctx context.Context, delivery amqp091.Delivery, handler Handler, retries *sync.WaitGroup) {
	msg, err := JobMessageFromJSON(delivery.Body)
	if err == nil {
		err = msg.Validate()
	}
	if err != nil {
		slog.ErrorContext(ctx, "Dropping malformed job", "error", err)
		delivery.Nack(false, false) // reject and don't requeue
		return
	}

	err = handler(ctx, msg)
	switch {
	case err == nil:
		delivery.Ack(false)
	case errors.Is(err, ErrPermanent):
		slog.WarnContext(ctx, "Dropping job after permanent failure",
			"job_type", msg.Type,
			"expense_id", msg.ExpenseID,
			"error", err)
		delivery.Ack(false)
	case msg.Attempt+1 >= c.maxAttempts:
		slog.ErrorContext(ctx, "Dropping job after max attempts",
			"job_type", msg.Type,
			"expense_id", msg.ExpenseID,
			"attempt", msg.Attempt,
			"error", err)
		delivery.Ack(false)
	default:
		delay := exponentialBackoff(msg.Attempt)
		slog.WarnContext(ctx, "Job failed, scheduling retry",
			"job_type", msg.Type,
			"expense_id", msg.ExpenseID,
			"attempt", msg.Attempt,
			"delay", delay,
			"error", err)

		retries.Add(1)
		go func() {
			defer retries.Done()
			c.retryLater(ctx, delivery, msg.Retry(), delay)
		}()
	}
}

func (c *Client) retryLater(ctx context.Context, delivery amqp091.Delivery, next JobMessage, delay time.Duration) {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		// Hand the job back to the broker so another run picks it up.
		delivery.Nack(false, true)
		return
	case <-timer.C:
	}

	if err := c.EnqueueOnce(ctx, next); err != nil {
		slog.ErrorContext(ctx, "Failed to republish job, requeueing original",
			"job_type", next.Type,
			"expense_id", next.ExpenseID,
			"error", err)
		delivery.Nack(false, true)
		return
	}
	delivery.Ack(false)
}

// exponentialBackoff returns 1s doubled per attempt, capped at 30s.
func exponentialBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 5 {
		return maxBackoff
	}
	d := time.Second << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{"connection", "EOF", "broken pipe"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (c *Client) isCircuitOpen() bool {
	if atomic.LoadInt32(&c.state) != StateOpen {
		return false
	}
	c.mu.Lock()
	last := c.lastFailure
	c.mu.Unlock()
	if time.Since(last) > openTimeout {
		atomic.CompareAndSwapInt32(&c.state, StateOpen, StateHalfOpen)
		return false
	}
	return true
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func (c *Client) recordFailure() {
	c.mu.Lock()
	c.lastFailure = time.Now()
	c.mu.Unlock()

	if atomic.AddInt64(&c.failureCount, 1) >= maxFailures || atomic.LoadInt32(&c.state) == StateHalfOpen {
		atomic.StoreInt32(&c.state, StateOpen)
	}
}

// dropChannel forgets the current connection so the next call dials again.
func (c *Client) dropChannel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn, c.channel = nil, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
