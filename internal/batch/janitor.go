package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"
	"go.uber.org/zap"
)

// DefaultSweepSchedule runs the sweep once a minute.
const DefaultSweepSchedule = "* * * * *"

// Janitor sweeps expired batches on a cron schedule.
type Janitor struct {
	store    Store
	schedule *cronexpr.Expression
	logger   *zap.Logger
	// OnSweep, when set, is called with the number of removed batches.
	OnSweep func(removed int)

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func NewJanitor(store Store, spec string, logger *zap.Logger) (*Janitor, error) {
	if spec == "" {
		spec = DefaultSweepSchedule
	}
	expr, err := cronexpr.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("sweep schedule %q: %w", spec, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Janitor{store: store, schedule: expr, logger: logger}, nil
}

// Start launches the sweep loop. Calling Start on a running janitor is a no-op.
func (j *Janitor) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.stop != nil {
		return
	}
	j.stop = make(chan struct{})
	j.done = make(chan struct{})
	go j.loop(j.stop, j.done)
}

// Stop ends the loop and waits for an in-flight sweep to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	stop, done := j.stop, j.done
	j.stop, j.done = nil, nil
	j.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// RunOnce sweeps immediately.
func (j *Janitor) RunOnce(ctx context.Context) (int, error) {
	removed, err := j.store.Sweep(ctx, time.Now())
	if err != nil {
		j.logger.Warn("batch sweep failed", zap.Error(err))
		return 0, err
	}
	if removed > 0 {
		j.logger.Info("swept expired batches", zap.Int("removed", removed))
	}
	if j.OnSweep != nil {
		j.OnSweep(removed)
	}
	return removed, nil
}

func (j *Janitor) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		now := time.Now()
		next := j.schedule.Next(now)
		if next.IsZero() {
			j.logger.Warn("sweep schedule has no further activations")
			return
		}
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
			_, _ = j.RunOnce(context.Background())
		}
	}
}
