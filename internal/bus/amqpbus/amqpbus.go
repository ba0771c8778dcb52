// Package amqpbus implements the message bus on a RabbitMQ topic exchange.
package amqpbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"mediaflow/internal/bus"
	"mediaflow/internal/config"
	"mediaflow/internal/jobs"
	"mediaflow/internal/logging"
	"mediaflow/internal/services"
)

const (
	exchangeType   = "topic"
	queuePrefix    = "mediaflow."
	publishTimeout = 5 * time.Second

	defaultReconnectDelay    = time.Second
	defaultMaxReconnectDelay = 30 * time.Second
	defaultMaxReconnects     = 10
)

// Options configures the broker connection.
type Options struct {
	URL      string
	Exchange string
	Prefetch int

	// ReconnectDelay and MaxReconnectDelay bound the doubling wait between
	// attempts to resume a consumer whose deliveries stopped.
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	// MaxReconnects is how many consecutive failed resumes a consumer
	// tolerates before returning an error. Negative retries forever.
	MaxReconnects int
}

// OptionsFromConfig reads bus settings from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		URL:      cfg.Bus.AMQPURL,
		Exchange: cfg.Bus.Exchange,
		Prefetch: cfg.Bus.Prefetch,
	}
}

// Bus publishes persistent JSON messages to a durable topic exchange. Each
// channel name is both the routing key and, prefixed, the durable queue name.
type Bus struct {
	opts   Options
	logger *slog.Logger

	connMu sync.Mutex
	conn   *amqp.Connection
	closed bool

	pubMu sync.Mutex
	pubCh *amqp.Channel

	// openDeliveries registers a consumer on a queue and returns its
	// deliveries with a func that releases the channel.
	openDeliveries func(queue string) (<-chan amqp.Delivery, func(), error)
}

var _ bus.Bus = (*Bus)(nil)

// QueueName returns the durable queue bound to a channel name.
func QueueName(channel string) string {
	return queuePrefix + channel
}

// Dial connects to the broker and declares the exchange and every queue.
func Dial(opts Options, logger *slog.Logger) (*Bus, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, errors.New("amqp url is required")
	}
	if opts.Exchange == "" {
		opts.Exchange = "mediaflow"
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	conn, err := amqp.Dial(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	b := newBus(opts, logger)
	b.conn = conn
	if err := b.declareTopology(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return b, nil
}

func newBus(opts Options, logger *slog.Logger) *Bus {
	if opts.Prefetch <= 0 {
		opts.Prefetch = 1
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.MaxReconnectDelay < opts.ReconnectDelay {
		opts.MaxReconnectDelay = max(defaultMaxReconnectDelay, opts.ReconnectDelay)
	}
	if opts.MaxReconnects == 0 {
		opts.MaxReconnects = defaultMaxReconnects
	}
	b := &Bus{opts: opts, logger: logging.NewComponentLogger(logger, "amqpbus")}
	b.openDeliveries = b.openConsumer
	return b
}

// connection returns the open broker connection, redialing once it has
// dropped. Topology is redeclared on every new connection.
func (b *Bus) connection() (*amqp.Connection, error) {
	b.connMu.Lock()
	defer b.connMu.Unlock()
	if b.closed {
		return nil, errors.New("rabbitmq bus closed")
	}
	if b.conn != nil && !b.conn.IsClosed() {
		return b.conn, nil
	}
	conn, err := amqp.Dial(b.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("reconnect to rabbitmq: %w", err)
	}
	if err := b.declareTopology(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	b.logger.Info("reconnected to rabbitmq")
	b.conn = conn
	return conn, nil
}

func (b *Bus) declareTopology(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(
		b.opts.Exchange,
		exchangeType,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	channels := []string{bus.CompletionChannel}
	for _, stage := range jobs.AllStages() {
		channels = append(channels, bus.DispatchChannel(stage))
	}
	for _, name := range channels {
		q, err := ch.QueueDeclare(
			QueueName(name),
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", name, err)
		}
		if err := ch.QueueBind(q.Name, name, b.opts.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", name, err)
		}
	}
	return nil
}

func (b *Bus) publish(ctx context.Context, routingKey, messageID string, body []byte) error {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	if b.pubCh == nil || b.pubCh.IsClosed() {
		conn, err := b.connection()
		if err != nil {
			return services.Wrap(services.ErrTransient, "", "publish", "connect", err)
		}
		ch, err := conn.Channel()
		if err != nil {
			return services.Wrap(services.ErrTransient, "", "publish", "open channel", err)
		}
		b.pubCh = ch
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := b.pubCh.PublishWithContext(
		ctx,
		b.opts.Exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    messageID,
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	); err != nil {
		return services.Wrap(services.ErrTransient, "", "publish", routingKey, err)
	}
	return nil
}

// PublishDispatch routes msg to its stage queue.
func (b *Bus) PublishDispatch(ctx context.Context, msg bus.DispatchMessage) error {
	msg.Stamp()
	if err := msg.Validate(); err != nil {
		return err
	}
	body, err := bus.EncodeDispatch(msg)
	if err != nil {
		return err
	}
	return b.publish(ctx, bus.DispatchChannel(msg.Stage), msg.MessageID, body)
}

// PublishCompletion routes event to the completion queue.
func (b *Bus) PublishCompletion(ctx context.Context, event bus.CompletionEvent) error {
	event.Stamp()
	if err := event.Validate(); err != nil {
		return err
	}
	body, err := bus.EncodeCompletion(event)
	if err != nil {
		return err
	}
	return b.publish(ctx, bus.CompletionChannel, event.MessageID, body)
}

// ConsumeDispatch starts consumers deliveries loops on the stage queue, each
// on its own channel with the configured prefetch.
func (b *Bus) ConsumeDispatch(ctx context.Context, stage jobs.Stage, consumers int, handler bus.DispatchHandler) error {
	return b.consume(ctx, bus.DispatchChannel(stage), max(consumers, 1), func(ctx context.Context, body []byte) error {
		msg, err := bus.DecodeDispatch(body)
		if err != nil {
			logging.WarnWithContext(b.logger, "dropping malformed dispatch", "bus_decode_failed", logging.Error(err))
			return nil
		}
		return handler(ctx, msg)
	})
}

// ConsumeCompletions consumes the completion queue with a single consumer.
func (b *Bus) ConsumeCompletions(ctx context.Context, handler bus.CompletionHandler) error {
	return b.consume(ctx, bus.CompletionChannel, 1, func(ctx context.Context, body []byte) error {
		event, err := bus.DecodeCompletion(body)
		if err != nil {
			logging.WarnWithContext(b.logger, "dropping malformed completion", "bus_decode_failed", logging.Error(err))
			return nil
		}
		return handler(ctx, event)
	})
}

func (b *Bus) consume(ctx context.Context, name string, consumers int, handle func(context.Context, []byte) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, consumers)
	var wg sync.WaitGroup
	for i := 0; i < consumers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.consumeLoop(ctx, name, handle); err != nil {
				errs <- err
				cancel()
			}
		}()
	}
	wg.Wait()
	close(errs)
	return <-errs
}

// consumeLoop keeps one consumer attached to the queue until ctx ends. A
// session that stops delivering is reopened after a backoff; only
// MaxReconnects consecutive failures end the loop with an error.
func (b *Bus) consumeLoop(ctx context.Context, name string, handle func(context.Context, []byte) error) error {
	queue := QueueName(name)
	failures := 0
	for {
		handled, err := b.consumeSession(ctx, queue, handle)
		if ctx.Err() != nil {
			b.logger.Info("consumer stopping", logging.String("queue", queue))
			return nil
		}
		if handled > 0 {
			failures = 0
		}
		failures++
		if b.opts.MaxReconnects > 0 && failures > b.opts.MaxReconnects {
			return fmt.Errorf("consume %s: gave up after %d reconnect attempts: %w", queue, b.opts.MaxReconnects, err)
		}
		delay := reconnectDelay(b.opts.ReconnectDelay, b.opts.MaxReconnectDelay, failures)
		logging.WarnWithContext(b.logger, "consumer lost; reconnecting", "bus_consumer_reconnect",
			logging.String("queue", queue),
			logging.Int("attempt", failures),
			logging.Duration("delay", delay),
			logging.Error(err),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			b.logger.Info("consumer stopping", logging.String("queue", queue))
			return nil
		case <-timer.C:
		}
	}
}

// reconnectDelay doubles base for every attempt after the first, capped at
// ceiling.
func reconnectDelay(base, ceiling time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt && delay < ceiling; i++ {
		delay *= 2
	}
	return min(delay, ceiling)
}

// consumeSession handles deliveries until ctx ends or the broker closes the
// deliveries channel, returning how many messages it handled.
func (b *Bus) consumeSession(ctx context.Context, queue string, handle func(context.Context, []byte) error) (int, error) {
	deliveries, release, err := b.openDeliveries(queue)
	if err != nil {
		return 0, err
	}
	defer release()

	b.logger.Info("consumer started", logging.String("queue", queue))
	handled := 0
	for {
		select {
		case <-ctx.Done():
			return handled, nil
		case msg, ok := <-deliveries:
			if !ok {
				return handled, fmt.Errorf("deliveries closed for %s", queue)
			}
			handled++
			b.settle(queue, msg, handle(ctx, msg.Body))
		}
	}
}

func (b *Bus) settle(queue string, msg amqp.Delivery, err error) {
	switch {
	case err == nil:
		_ = msg.Ack(false)
	case errors.Is(err, services.ErrTransient):
		b.logger.Debug("requeueing message",
			logging.String("queue", queue),
			logging.String("message_id", msg.MessageId),
			logging.Error(err),
		)
		_ = msg.Nack(false, true)
	default:
		logging.WarnWithContext(b.logger, "message handler failed", "bus_handler_failed",
			logging.String("queue", queue),
			logging.String("message_id", msg.MessageId),
			logging.Error(err),
		)
		_ = msg.Nack(false, false)
	}
}

func (b *Bus) openConsumer(queue string) (<-chan amqp.Delivery, func(), error) {
	conn, err := b.connection()
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	release := func() { _ = ch.Close() }
	if err := ch.Qos(b.opts.Prefetch, 0, false); err != nil {
		release()
		return nil, nil, fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(
		queue,
		"",
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("register consumer: %w", err)
	}
	return deliveries, release, nil
}

// Ping reports whether the broker connection is still open.
func (b *Bus) Ping(context.Context) error {
	b.connMu.Lock()
	defer b.connMu.Unlock()
	if b.conn == nil || b.conn.IsClosed() {
		return errors.New("rabbitmq connection closed")
	}
	return nil
}

// Close closes the publish channel and the connection.
func (b *Bus) Close() error {
	b.pubMu.Lock()
	if b.pubCh != nil {
		_ = b.pubCh.Close()
		b.pubCh = nil
	}
	b.pubMu.Unlock()

	b.connMu.Lock()
	defer b.connMu.Unlock()
	b.closed = true
	if b.conn == nil || b.conn.IsClosed() {
		return nil
	}
	return b.conn.Close()
}
