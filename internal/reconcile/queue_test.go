package reconcile

import (
	"context"
	"errors"
	"testing"
)

func TestQueue_SweepRetriesUntilSuccess(t *testing.T) {
	q := NewQueue(10, nil)

	calls := 0
	q.Append("update call c1", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("db down")
		}
		return nil
	})

	done, remaining := q.Sweep(context.Background())
	if done != 0 || remaining != 1 {
		t.Fatalf("first sweep: done=%d remaining=%d", done, remaining)
	}
	done, remaining = q.Sweep(context.Background())
	if done != 0 || remaining != 1 {
		t.Fatalf("second sweep: done=%d remaining=%d", done, remaining)
	}
	done, remaining = q.Sweep(context.Background())
	if done != 1 || remaining != 0 {
		t.Fatalf("third sweep: done=%d remaining=%d", done, remaining)
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue, got %d", q.Len())
	}
}

func TestQueue_DropsOldestWhenFull(t *testing.T) {
	q := NewQueue(2, nil)

	var ran []string
	mk := func(name string) Op {
		return func(ctx context.Context) error {
			ran = append(ran, name)
			return nil
		}
	}
	q.Append("a", mk("a"))
	q.Append("b", mk("b"))
	q.Append("c", mk("c"))

	if q.Len() != 2 {
		t.Fatalf("expected bounded length 2, got %d", q.Len())
	}
	q.Sweep(context.Background())
	if len(ran) != 2 || ran[0] != "b" || ran[1] != "c" {
		t.Fatalf("expected oldest dropped, ran %v", ran)
	}
}

func TestQueue_CanceledContextKeepsItems(t *testing.T) {
	q := NewQueue(10, nil)
	q.Append("a", func(ctx context.Context) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done, remaining := q.Sweep(ctx)
	if done != 0 || remaining != 1 {
		t.Fatalf("expected nothing done under canceled ctx, done=%d remaining=%d", done, remaining)
	}
}
