package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"mediaflow/internal/jobs"
	"mediaflow/internal/logging"
	"mediaflow/internal/services"
)

const defaultMemoryBuffer = 256

// Memory is an in-process bus. Messages are JSON encoded on publish so
// consumers see exactly what a broker would deliver.
type Memory struct {
	logger *slog.Logger
	buffer int

	mu     sync.Mutex
	queues map[string]chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

var _ Bus = (*Memory)(nil)

// NewMemory creates a memory bus whose channels hold up to buffer messages.
func NewMemory(buffer int, logger *slog.Logger) *Memory {
	if buffer <= 0 {
		buffer = defaultMemoryBuffer
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Memory{
		logger: logging.NewComponentLogger(logger, "bus"),
		buffer: buffer,
		queues: make(map[string]chan []byte),
		closed: make(chan struct{}),
	}
}

func (m *Memory) queue(name string) chan []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[name]
	if !ok {
		q = make(chan []byte, m.buffer)
		m.queues[name] = q
	}
	return q
}

func (m *Memory) isClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

func (m *Memory) publish(ctx context.Context, name string, body []byte) error {
	if m.isClosed() {
		return ErrClosed
	}
	select {
	case m.queue(name) <- body:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.closed:
		return ErrClosed
	}
}

// PublishDispatch enqueues msg on its stage channel.
func (m *Memory) PublishDispatch(ctx context.Context, msg DispatchMessage) error {
	msg.Stamp()
	if err := msg.Validate(); err != nil {
		return err
	}
	body, err := EncodeDispatch(msg)
	if err != nil {
		return err
	}
	return m.publish(ctx, DispatchChannel(msg.Stage), body)
}

// PublishCompletion enqueues event on the completion channel.
func (m *Memory) PublishCompletion(ctx context.Context, event CompletionEvent) error {
	event.Stamp()
	if err := event.Validate(); err != nil {
		return err
	}
	body, err := EncodeCompletion(event)
	if err != nil {
		return err
	}
	return m.publish(ctx, CompletionChannel, body)
}

// ConsumeDispatch runs consumers goroutines on the stage channel and blocks
// until ctx is cancelled or the bus is closed.
func (m *Memory) ConsumeDispatch(ctx context.Context, stage jobs.Stage, consumers int, handler DispatchHandler) error {
	return m.consume(ctx, DispatchChannel(stage), max(consumers, 1), func(ctx context.Context, body []byte) error {
		msg, err := DecodeDispatch(body)
		if err != nil {
			logging.WarnWithContext(m.logger, "dropping malformed dispatch", "bus_decode_failed", logging.Error(err))
			return nil
		}
		return handler(ctx, msg)
	})
}

// ConsumeCompletions runs a single consumer on the completion channel.
func (m *Memory) ConsumeCompletions(ctx context.Context, handler CompletionHandler) error {
	return m.consume(ctx, CompletionChannel, 1, func(ctx context.Context, body []byte) error {
		event, err := DecodeCompletion(body)
		if err != nil {
			logging.WarnWithContext(m.logger, "dropping malformed completion", "bus_decode_failed", logging.Error(err))
			return nil
		}
		return handler(ctx, event)
	})
}

func (m *Memory) consume(ctx context.Context, name string, consumers int, handle func(context.Context, []byte) error) error {
	if m.isClosed() {
		return ErrClosed
	}
	q := m.queue(name)
	var wg sync.WaitGroup
	for i := 0; i < consumers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-m.closed:
					return
				case body := <-q:
					if err := handle(ctx, body); err != nil {
						m.redeliver(ctx, name, body, err)
					}
				}
			}
		}()
	}
	wg.Wait()
	if ctx.Err() == nil && m.isClosed() {
		return ErrClosed
	}
	return nil
}

// redeliver puts a message back when the handler reported a transient
// failure. Other failures are logged and dropped, like a nack without requeue.
func (m *Memory) redeliver(ctx context.Context, name string, body []byte, err error) {
	if !errors.Is(err, services.ErrTransient) {
		logging.WarnWithContext(m.logger, "message handler failed", "bus_handler_failed",
			logging.String("channel", name),
			logging.Error(err),
		)
		return
	}
	m.logger.Debug("requeueing message", logging.String("channel", name), logging.Error(err))
	go func() {
		select {
		case m.queue(name) <- body:
		case <-ctx.Done():
		case <-m.closed:
		}
	}()
}

// Close stops all consumers. Publishing afterwards returns ErrClosed.
func (m *Memory) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}
