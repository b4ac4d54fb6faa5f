package shutdown

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vinayprograms/cellbus/logging"
)

// --- Unit Tests ---

func TestShutdown_SingleHandler(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())

	called := false
	coord.RegisterFunc("bus", PhaseBus, func(ctx context.Context) error {
		called = true
		return nil
	})

	if err := coord.ShutdownWithTimeout(5 * time.Second); err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}
	if !called {
		t.Fatal("handler not called")
	}

	select {
	case <-coord.Done():
	default:
		t.Fatal("Done should be closed")
	}
	if coord.Err() != nil {
		t.Errorf("Err() = %v, want nil", coord.Err())
	}

	result := coord.Result()
	if result == nil || len(result.Results) != 1 {
		t.Fatalf("Result() = %+v, want one handler result", result)
	}
	if result.Results[0].Name != "bus" || result.Results[0].Phase != PhaseBus {
		t.Errorf("result = %+v", result.Results[0])
	}
	if result.Failed() {
		t.Error("Failed() should be false")
	}
}

func TestShutdown_BodyPhaseOrder(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())

	var mu sync.Mutex
	var order []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	// Registered out of order on purpose.
	coord.RegisterFunc("telemetry", PhaseTelemetry, record("telemetry"))
	coord.RegisterFunc("bus", PhaseBus, record("bus"))
	coord.RegisterFunc("web", PhaseWeb, record("web"))
	coord.RegisterFunc("registry", PhaseDeregister, record("registry"))

	if err := coord.ShutdownWithTimeout(5 * time.Second); err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}

	want := []string{"web", "registry", "bus", "telemetry"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestShutdown_SamePhaseConcurrent(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())

	// Each handler waits for the other; sequential execution would deadlock
	// until the timeout.
	var arrived sync.WaitGroup
	arrived.Add(2)
	both := make(chan struct{})
	go func() {
		arrived.Wait()
		close(both)
	}()

	wait := func(ctx context.Context) error {
		arrived.Done()
		select {
		case <-both:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	coord.RegisterFunc("a", PhaseWeb, wait)
	coord.RegisterFunc("b", PhaseWeb, wait)

	if err := coord.ShutdownWithTimeout(2 * time.Second); err != nil {
		t.Errorf("Shutdown error: %v, want concurrent handlers", err)
	}
}

func TestShutdown_HandlerErrors(t *testing.T) {
	tests := []struct {
		name            string
		continueOnError bool
		wantCalls       int32
	}{
		{"continue", true, 2},
		{"stop", false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.ContinueOnError = tt.continueOnError
			coord := NewCoordinator(cfg)

			var calls atomic.Int32
			coord.RegisterFunc("web", PhaseWeb, func(ctx context.Context) error {
				calls.Add(1)
				return errors.New("listener stuck")
			})
			coord.RegisterFunc("bus", PhaseBus, func(ctx context.Context) error {
				calls.Add(1)
				return nil
			})

			err := coord.ShutdownWithTimeout(5 * time.Second)
			if !errors.Is(err, ErrHandlerFailed) {
				t.Fatalf("error = %v, want ErrHandlerFailed", err)
			}
			if !strings.Contains(err.Error(), "web: listener stuck") {
				t.Errorf("error %q should name the failing handler", err)
			}
			if calls.Load() != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls.Load(), tt.wantCalls)
			}
			if got := coord.Result().FailedHandlers(); len(got) != 1 || got[0] != "web" {
				t.Errorf("FailedHandlers() = %v", got)
			}
		})
	}
}

func TestShutdown_Timeout(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())

	coord.RegisterFunc("slow", PhaseWeb, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	later := false
	coord.RegisterFunc("later", PhaseBus, func(ctx context.Context) error {
		later = true
		return nil
	})

	err := coord.ShutdownWithTimeout(50 * time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("error = %v, want ErrTimeout", err)
	}
	if later {
		t.Error("phases after the deadline should not run")
	}
}

func TestShutdown_Twice(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())

	var calls atomic.Int32
	coord.RegisterFunc("once", PhaseBus, func(ctx context.Context) error {
		calls.Add(1)
		return errors.New("boom")
	})

	first := coord.ShutdownWithTimeout(time.Second)
	second := coord.ShutdownWithTimeout(time.Second)

	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	if first == nil || second != first {
		t.Errorf("second = %v, want the first result %v", second, first)
	}
}

func TestShutdown_ConcurrentCallersWait(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())

	release := make(chan struct{})
	coord.RegisterFunc("blocker", PhaseBus, func(ctx context.Context) error {
		<-release
		return nil
	})

	go coord.ShutdownWithTimeout(5 * time.Second)
	time.Sleep(20 * time.Millisecond)

	returned := make(chan error, 1)
	go func() {
		returned <- coord.ShutdownWithTimeout(5 * time.Second)
	}()

	select {
	case <-returned:
		t.Fatal("second caller returned before shutdown finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-returned:
		if err != nil {
			t.Errorf("error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second caller never returned")
	}
}

func TestShutdown_Empty(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())
	if err := coord.ShutdownWithTimeout(time.Second); err != nil {
		t.Errorf("error = %v", err)
	}
	if n := len(coord.Result().Results); n != 0 {
		t.Errorf("results = %d, want 0", n)
	}
}

func TestHandleSignals(t *testing.T) {
	coord := NewCoordinator(Config{Timeout: time.Second, Logger: logging.Nop()})

	var called atomic.Bool
	coord.Register("default_phase", Func(func(ctx context.Context) error {
		called.Store(true)
		return nil
	}))

	coord.HandleSignals()
	coord.Trigger()

	select {
	case <-coord.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not complete after signal")
	}
	if !called.Load() {
		t.Error("handler not called")
	}
	if coord.Result().Results[0].Phase != 100 {
		t.Errorf("phase = %d, want default 100", coord.Result().Results[0].Phase)
	}
}

func TestResult_BeforeDone(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())
	if coord.Result() != nil {
		t.Error("Result() should be nil before shutdown")
	}
	if coord.Err() != nil {
		t.Error("Err() should be nil before shutdown")
	}
}

func TestConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Timeout != 10*time.Second || cfg.DefaultPhase != 100 || !cfg.ContinueOnError {
		t.Errorf("DefaultConfig() = %+v", cfg)
	}

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default", DefaultConfig(), false},
		{"zero", Config{}, false},
		{"negative_timeout", Config{Timeout: -time.Second}, true},
		{"negative_phase", Config{DefaultPhase: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGroupByPhase(t *testing.T) {
	regs := []registration{
		{name: "a", phase: 10},
		{name: "b", phase: 10},
		{name: "c", phase: 30},
	}
	groups := groupByPhase(regs)
	if len(groups) != 2 || len(groups[0]) != 2 || groups[1][0].name != "c" {
		t.Errorf("groups = %+v", groups)
	}
	if groupByPhase(nil) != nil {
		t.Error("empty input should give no groups")
	}
}
