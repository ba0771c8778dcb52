package amqpbus_test

import (
	"context"
	"os"
	"testing"
	"time"

	"mediaflow/internal/bus"
	"mediaflow/internal/bus/amqpbus"
	"mediaflow/internal/jobs"
	"mediaflow/internal/logging"
)

func dialOrSkip(t *testing.T) *amqpbus.Bus {
	t.Helper()
	url := os.Getenv("MEDIAFLOW_TEST_AMQP_URL")
	if url == "" {
		t.Skip("MEDIAFLOW_TEST_AMQP_URL not set")
	}
	b, err := amqpbus.Dial(amqpbus.Options{URL: url, Exchange: "mediaflow-test"}, logging.NewNop())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestQueueName(t *testing.T) {
	if got := amqpbus.QueueName(bus.DispatchChannel(jobs.StageThumbnail)); got != "mediaflow.dispatch.thumbnail" {
		t.Fatalf("unexpected queue name %q", got)
	}
	if got := amqpbus.QueueName(bus.CompletionChannel); got != "mediaflow.completion" {
		t.Fatalf("unexpected queue name %q", got)
	}
}

func TestDialRequiresURL(t *testing.T) {
	if _, err := amqpbus.Dial(amqpbus.Options{}, nil); err == nil {
		t.Fatal("expected error without url")
	}
}

func TestRoundTripThroughBroker(t *testing.T) {
	b := dialOrSkip(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	received := make(chan bus.CompletionEvent, 1)
	go func() {
		_ = b.ConsumeCompletions(ctx, func(_ context.Context, event bus.CompletionEvent) error {
			received <- event
			return nil
		})
	}()

	output := jobs.NewThumbnailOutput(jobs.ThumbnailOutput{Path: "/tmp/thumb.jpg", Width: 320})
	if err := b.PublishCompletion(ctx, bus.CompletionEvent{JobID: "j", TaskID: "thumbnail-0", Stage: jobs.StageThumbnail, Output: output}); err != nil {
		t.Fatalf("PublishCompletion: %v", err)
	}
	select {
	case event := <-received:
		if event.Output == nil || event.Output.Thumbnail == nil || event.Output.Thumbnail.Width != 320 {
			t.Fatalf("unexpected event %+v", event)
		}
	case <-ctx.Done():
		t.Fatal("completion not delivered")
	}
}
