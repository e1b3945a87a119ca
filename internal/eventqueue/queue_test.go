package eventqueue

import (
	"sync"
	"testing"
)

func TestPushPopOrder(t *testing.T) {
	q := New[int]()

	for i := 0; i < 10; i++ {
		q.Push(i)
	}

	for i := 0; i < 10; i++ {
		got, ok := q.TryPop()
		if !ok {
			t.Fatalf("TryPop() empty after %d pops, want 10 items", i)
		}
		if got != i {
			t.Errorf("TryPop() = %d, want %d", got, i)
		}
	}

	if _, ok := q.TryPop(); ok {
		t.Error("TryPop() on drained queue returned ok = true")
	}
}

func TestTryPopEmpty(t *testing.T) {
	q := New[string]()

	got, ok := q.TryPop()
	if ok {
		t.Errorf("TryPop() on empty queue = (%q, true), want ok = false", got)
	}
	if got != "" {
		t.Errorf("TryPop() zero value = %q, want empty string", got)
	}
}

func TestInterleavedPushPop(t *testing.T) {
	q := New[int]()

	q.Push(1)
	q.Push(2)
	if got, _ := q.TryPop(); got != 1 {
		t.Errorf("TryPop() = %d, want 1", got)
	}
	q.Push(3)
	if got, _ := q.TryPop(); got != 2 {
		t.Errorf("TryPop() = %d, want 2", got)
	}
	if got, _ := q.TryPop(); got != 3 {
		t.Errorf("TryPop() = %d, want 3", got)
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d, want 0", q.Len())
	}
}

func TestConcurrentProducers(t *testing.T) {
	const producers = 8
	const perProducer = 200

	q := New[int]()
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(base*perProducer + i)
			}
		}(p)
	}
	wg.Wait()

	seen := make(map[int]bool, producers*perProducer)
	perProducerNext := make([]int, producers)
	for {
		v, ok := q.TryPop()
		if !ok {
			break
		}
		if seen[v] {
			t.Fatalf("value %d popped twice", v)
		}
		seen[v] = true

		// Per-producer ordering must be preserved.
		p := v / perProducer
		i := v % perProducer
		if i != perProducerNext[p] {
			t.Fatalf("producer %d out of order: got %d, want %d", p, i, perProducerNext[p])
		}
		perProducerNext[p]++
	}

	if len(seen) != producers*perProducer {
		t.Errorf("popped %d items, want %d", len(seen), producers*perProducer)
	}
}
