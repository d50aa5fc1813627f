package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/herald/internal/engine"
)

type fakeRunner struct {
	calls    atomic.Int32
	inFlight atomic.Int32
	overlap  atomic.Bool
	err      error
	delay    time.Duration
}

func (r *fakeRunner) OnBatchTick(ctx context.Context) (*engine.BatchResult, error) {
	if r.inFlight.Add(1) > 1 {
		r.overlap.Store(true)
	}
	defer r.inFlight.Add(-1)

	r.calls.Add(1)
	time.Sleep(r.delay)
	if r.err != nil {
		return nil, r.err
	}
	return &engine.BatchResult{}, nil
}

func TestNextRun_Interval(t *testing.T) {
	s := NewScheduler(&fakeRunner{}, ScheduleConfig{Interval: 15 * time.Minute, DailyHour: -1}, zap.NewNop())
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	if got := s.nextRun(now); !got.Equal(now.Add(15 * time.Minute)) {
		t.Errorf("expected %s, got %s", now.Add(15*time.Minute), got)
	}
}

func TestNextRun_Daily(t *testing.T) {
	s := NewScheduler(&fakeRunner{}, ScheduleConfig{DailyHour: 9, DailyMinute: 0}, zap.NewNop())

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"before today's run", time.Date(2025, 3, 10, 8, 30, 0, 0, time.UTC), time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)},
		{"exactly at run time", time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC), time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC)},
		{"after today's run", time.Date(2025, 3, 10, 17, 0, 0, 0, time.UTC), time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC)},
		{"month rollover", time.Date(2025, 3, 31, 10, 0, 0, 0, time.UTC), time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)},
		{"non-UTC clock", time.Date(2025, 3, 10, 8, 30, 0, 0, time.FixedZone("CET", 3600)), time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.nextRun(tt.now); !got.Equal(tt.want) {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestScheduler_RunsSerially(t *testing.T) {
	runner := &fakeRunner{delay: 20 * time.Millisecond}
	s := NewScheduler(runner, ScheduleConfig{Interval: 5 * time.Millisecond, DailyHour: -1}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Start(ctx)
	}()

	time.Sleep(150 * time.Millisecond)
	cancel()
	wg.Wait()

	if runner.calls.Load() < 2 {
		t.Errorf("expected at least 2 sweeps, got %d", runner.calls.Load())
	}
	if runner.overlap.Load() {
		t.Error("sweeps overlapped")
	}
}

func TestScheduler_SurvivesSweepErrors(t *testing.T) {
	runner := &fakeRunner{err: errors.New("store down")}
	s := NewScheduler(runner, ScheduleConfig{Interval: 5 * time.Millisecond, DailyHour: -1}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	s.Start(ctx)

	if runner.calls.Load() < 2 {
		t.Errorf("scheduler should keep running after a failed sweep, got %d calls", runner.calls.Load())
	}
}
