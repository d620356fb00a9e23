package shutdown

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestShutdownRunsHooksInReverseOrder(t *testing.T) {
	m := New(time.Second, nil)

	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		m.Register(name, func(ctx context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	if errs := m.Shutdown(); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	want := []string{"third", "second", "first"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}

	select {
	case <-m.Done():
	default:
		t.Error("Done should be closed after Shutdown")
	}

	if errs := m.Shutdown(); errs != nil {
		t.Error("second Shutdown should be a no-op")
	}
	if len(order) != 3 {
		t.Errorf("hooks ran %d times, want 3", len(order))
	}
}

func TestShutdownCollectsErrors(t *testing.T) {
	m := New(time.Second, nil)
	m.Register("broken", func(ctx context.Context) error { return errors.New("boom") })
	m.Register("fine", func(ctx context.Context) error { return nil })

	errs := m.Shutdown()
	if len(errs) != 1 {
		t.Fatalf("errs = %v, want one", errs)
	}
}

func TestWaitWithContextTrigger(t *testing.T) {
	m := New(time.Second, nil)
	ran := make(chan struct{})
	m.Register("probe", func(ctx context.Context) error {
		close(ran)
		return nil
	})

	go m.Trigger()
	if err := m.WaitWithContext(context.Background()); err != nil {
		t.Fatalf("WaitWithContext: %v", err)
	}
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("hook did not run")
	}
}

func TestWaitWithContextCanceled(t *testing.T) {
	m := New(time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.WaitWithContext(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
