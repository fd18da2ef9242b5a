package breaker

import "testing"

func TestBreaker_HighWaterLevelEngagesAndDrains(t *testing.T) {
	samples := []float64{0.2, 0.9, 0.9, 0.2}
	i := 0
	b := New(Config{
		High:     LevelConfig{Threshold: 0.8, Pulse: 2},
		Critical: LevelConfig{Threshold: 0.95, Pulse: 2},
		Dying:    LevelConfig{Threshold: 0.99, Pulse: 3},
	}, func() float64 {
		v := samples[i]
		i++
		return v
	}, nil)

	want := []bool{false, true, true, false}
	for n, expect := range want {
		b.Tick()
		if got := b.HybridHighWaterLevel(); got != expect {
			t.Fatalf("sample %d (cpu=%v): HybridHighWaterLevel=%v, want %v", n, samples[n], got, expect)
		}
	}
}

func TestBreaker_LevelsAreIndependent(t *testing.T) {
	i := 0
	samples := []float64{0.99, 0.99, 0.99}
	b := New(Config{
		High:     LevelConfig{Threshold: 0.5, Pulse: 1},
		Critical: LevelConfig{Threshold: 0.9, Pulse: 1},
		Dying:    LevelConfig{Threshold: 0.999, Pulse: 1},
	}, func() float64 {
		v := samples[i]
		i++
		return v
	}, nil)

	b.Tick()
	if !b.HybridHighWaterLevel() || !b.HybridCriticalWaterLevel() {
		t.Fatalf("expected high and critical engaged at cpu=0.99")
	}
	if b.HybridDyingWaterLevel() {
		t.Fatalf("expected dying not engaged at cpu=0.99 with threshold 0.999")
	}
}

func TestAsyncWorker_RunsTasksWithoutBlockingProducer(t *testing.T) {
	w := NewAsyncWorker(4, nil)
	defer w.Close()

	done := make(chan struct{})
	w.Enqueue(func() error {
		close(done)
		return nil
	})
	<-done
}

func TestAsyncWorker_TaskFailureDoesNotPropagateToProducer(t *testing.T) {
	w := NewAsyncWorker(4, nil)
	defer w.Close()

	done := make(chan struct{})
	w.Enqueue(func() error {
		defer close(done)
		return errSentinel
	})
	<-done // if Enqueue panicked or blocked forever this test would hang/fail
}

var errSentinel = &testErr{}

type testErr struct{}

func (*testErr) Error() string { return "sentinel" }
