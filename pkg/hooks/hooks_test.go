package hooks

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func recorder(calls *[]string, name string) Func {
	return func(context.Context) error {
		*calls = append(*calls, name)
		return nil
	}
}

func TestDoRunsInPriorityOrder(t *testing.T) {
	r := NewRegistry()
	var calls []string

	r.Add(EventStartup, DefaultPriority, recorder(&calls, "default-a"))
	r.Add(EventStartup, 20, recorder(&calls, "late"))
	r.Add(EventStartup, 2, recorder(&calls, "early"))
	r.Add(EventStartup, DefaultPriority, recorder(&calls, "default-b"))
	r.Add("other", 1, recorder(&calls, "other"))

	if err := r.Do(context.Background(), EventStartup); err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	want := []string{"early", "default-a", "default-b", "late"}
	if diff := cmp.Diff(want, calls); diff != "" {
		t.Errorf("hook order mismatch (-want +got):\n%s", diff)
	}
}

func TestDoStopsOnError(t *testing.T) {
	r := NewRegistry()
	var calls []string
	boom := errors.New("boom")

	r.Add("ev", 1, recorder(&calls, "first"))
	r.Add("ev", 2, func(context.Context) error { return boom })
	r.Add("ev", 3, recorder(&calls, "never"))

	err := r.Do(context.Background(), "ev")
	if !errors.Is(err, boom) {
		t.Fatalf("Do() error = %v, want wrapped boom", err)
	}
	if diff := cmp.Diff([]string{"first"}, calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestDoCancelledContext(t *testing.T) {
	r := NewRegistry()
	var calls []string
	r.Add("ev", 1, recorder(&calls, "never"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Do(ctx, "ev"); !errors.Is(err, context.Canceled) {
		t.Errorf("Do() error = %v, want context.Canceled", err)
	}
	if len(calls) != 0 {
		t.Errorf("expected no hooks to run, got %v", calls)
	}
}

func TestDoUnknownEventAndNilFunc(t *testing.T) {
	r := NewRegistry()
	r.Add("ev", 1, nil)
	if r.Has("ev") {
		t.Error("a nil hook should not be registered")
	}
	if err := r.Do(context.Background(), "nothing"); err != nil {
		t.Errorf("Do() on an empty event error = %v", err)
	}
}

func TestAddDuringDo(t *testing.T) {
	r := NewRegistry()
	var calls []string
	r.Add("ev", 1, func(ctx context.Context) error {
		r.Add("ev", 0, recorder(&calls, "added"))
		calls = append(calls, "outer")
		return nil
	})

	if err := r.Do(context.Background(), "ev"); err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if diff := cmp.Diff([]string{"outer"}, calls); diff != "" {
		t.Errorf("first run mismatch (-want +got):\n%s", diff)
	}
}

func TestConcurrentAdd(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	var mu sync.Mutex
	count := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			r.Add("ev", p%5, func(context.Context) error {
				mu.Lock()
				count++
				mu.Unlock()
				return nil
			})
		}(i)
	}
	wg.Wait()

	if err := r.Do(context.Background(), "ev"); err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if count != 50 {
		t.Errorf("ran %d hooks, want 50", count)
	}
}
