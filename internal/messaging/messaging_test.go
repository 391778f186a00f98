package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/joao-fontenele/salesflow/internal/domain"
)

type captureWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *captureWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error { return nil }

type scriptedReader struct {
	msgs      []kafka.Message
	committed []int64
}

func (r *scriptedReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		return kafka.Message{}, io.EOF
	}
	msg := r.msgs[0]
	r.msgs = r.msgs[1:]
	return msg, nil
}

func (r *scriptedReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *scriptedReader) Close() error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReleaseQueue_EnqueueKeysByProduct(t *testing.T) {
	w := &captureWriter{}
	q := NewReleaseQueue(&Producer{writer: w, topic: "stock.release"})

	rel := domain.StockRelease{
		ID:        "rel-1",
		ProductID: "prod-9",
		Quantity:  3,
		OrderID:   "order-1",
		Reason:    "order deleted",
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	if err := q.Enqueue(context.Background(), rel); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "prod-9" {
		t.Errorf("expected key prod-9, got %s", w.msgs[0].Key)
	}

	var got domain.StockRelease
	if err := json.Unmarshal(w.msgs[0].Value, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != rel.ID || got.ProductID != rel.ProductID || got.Quantity != rel.Quantity || got.OrderID != rel.OrderID {
		t.Errorf("expected %+v, got %+v", rel, got)
	}
	if !got.Timestamp.Equal(rel.Timestamp) {
		t.Errorf("expected timestamp %v, got %v", rel.Timestamp, got.Timestamp)
	}
}

func TestProducer_WrapsWriteError(t *testing.T) {
	w := &captureWriter{err: errors.New("broker down")}
	p := &Producer{writer: w, topic: "order.events"}

	err := p.Publish(context.Background(), "k", map[string]string{"a": "b"})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestConsumer_DiscardsPermanentFailuresAndStopsOnTransient(t *testing.T) {
	r := &scriptedReader{msgs: []kafka.Message{
		{Offset: 1, Value: []byte("ok")},
		{Offset: 2, Value: []byte("garbage")},
		{Offset: 3, Value: []byte("retry")},
		{Offset: 4, Value: []byte("ok")},
	}}
	c := &Consumer{reader: r, topic: "stock.release", groupID: "g", logger: discardLogger()}

	transient := errors.New("store unavailable")
	var handled []string
	err := c.Consume(context.Background(), func(ctx context.Context, payload []byte) error {
		handled = append(handled, string(payload))
		switch string(payload) {
		case "garbage":
			return fmt.Errorf("%w: bad json", ErrDiscard)
		case "retry":
			return transient
		}
		return nil
	})

	if !errors.Is(err, transient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if len(handled) != 3 {
		t.Errorf("expected 3 messages handled, got %v", handled)
	}
	if len(r.committed) != 2 || r.committed[0] != 1 || r.committed[1] != 2 {
		t.Errorf("expected offsets 1 and 2 committed, got %v", r.committed)
	}
}

func TestMessageCarrier_SetReplaces(t *testing.T) {
	msg := &kafka.Message{}
	c := NewMessageCarrier(msg)

	c.Set("traceparent", "a")
	c.Set("traceparent", "b")
	c.Set("baggage", "x=1")

	if got := c.Get("traceparent"); got != "b" {
		t.Errorf("expected b, got %q", got)
	}
	if len(msg.Headers) != 2 {
		t.Errorf("expected 2 headers, got %d", len(msg.Headers))
	}
	if keys := c.Keys(); len(keys) != 2 {
		t.Errorf("expected 2 keys, got %v", keys)
	}
}
