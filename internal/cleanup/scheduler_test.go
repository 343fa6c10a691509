package cleanup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/config"
)

type fakeSweeper struct {
	mu      sync.Mutex
	pending int
	calls   int
}

func (f *fakeSweeper) SweepTyping(now time.Time) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	n := f.pending
	f.pending = 0
	return n
}

type fakePruner struct {
	mu      sync.Mutex
	pending int
	calls   int
}

func (f *fakePruner) PruneStale(threshold time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	n := f.pending
	f.pending = 0
	return n
}

type fakeReaper struct {
	mu      sync.Mutex
	pending int64
	calls   int
	failWith error
}

func (f *fakeReaper) DeleteExpired(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failWith != nil {
		return 0, f.failWith
	}
	n := f.pending
	f.pending = 0
	return n, nil
}

func (f *fakeReaper) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type schedulerFixture struct {
	scheduler *Scheduler
	clock     *clock.Mock
	sweeper   *fakeSweeper
	pruner    *fakePruner
	reaper    *fakeReaper
}

func newSchedulerFixture() *schedulerFixture {
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))

	sweeper := &fakeSweeper{}
	pruner := &fakePruner{}
	reaper := &fakeReaper{}

	scheduler := NewScheduler(
		config.CleanupConfig{SweepInterval: 5 * time.Second, SessionSweep: 5 * time.Minute},
		config.GatewayConfig{LivenessThreshold: 90 * time.Second},
		sweeper, pruner, reaper, clk, zap.NewNop(),
	)
	return &schedulerFixture{scheduler: scheduler, clock: clk, sweeper: sweeper, pruner: pruner, reaper: reaper}
}

func TestScheduler_SweepCollectsTypingAndStaleConnections(t *testing.T) {
	f := newSchedulerFixture()
	f.sweeper.pending = 3
	f.pruner.pending = 2

	f.scheduler.Sweep(context.Background())

	stats := f.scheduler.Stats()
	assert.Equal(t, uint64(3), stats.TypingReclaimed)
	assert.Equal(t, uint64(2), stats.ConnectionsReclaimed)
	assert.Equal(t, uint64(1), stats.SweepsCompleted)
}

func TestScheduler_SessionReapRunsOnItsOwnInterval(t *testing.T) {
	f := newSchedulerFixture()
	f.scheduler.Start(context.Background())
	defer f.scheduler.Stop()

	// Проход каждые 5 секунд не трогает сессии до истечения их интервала
	f.reaper.pending = 4
	f.clock.Add(5 * time.Second)
	assert.Equal(t, 0, f.reaper.callCount())

	f.clock.Add(5 * time.Minute)
	assert.Eventually(t, func() bool {
		return f.reaper.callCount() == 1
	}, time.Second, 10*time.Millisecond)

	stats := f.scheduler.Stats()
	assert.Equal(t, uint64(4), stats.SessionsReclaimed)
}

func TestScheduler_ReaperFailureDoesNotStopSweeps(t *testing.T) {
	f := newSchedulerFixture()
	f.reaper.failWith = errors.New("connection refused")

	// Первый Sweep выпадает на интервал зачистки сессий и падает
	f.clock.Add(6 * time.Minute)
	f.scheduler.Sweep(context.Background())

	f.sweeper.pending = 1
	f.scheduler.Sweep(context.Background())

	stats := f.scheduler.Stats()
	assert.Equal(t, uint64(2), stats.SweepsCompleted)
	assert.Equal(t, uint64(1), stats.TypingReclaimed)
	assert.Equal(t, uint64(0), stats.SessionsReclaimed)
}

func TestScheduler_StopTerminatesLoop(t *testing.T) {
	f := newSchedulerFixture()
	f.scheduler.Start(context.Background())
	f.scheduler.Stop()

	// После Stop тики больше не обрабатываются
	callsBefore := f.sweeper.calls
	f.clock.Add(time.Minute)
	assert.Equal(t, callsBefore, f.sweeper.calls)
}

func TestScheduler_StartIsIdempotent(t *testing.T) {
	f := newSchedulerFixture()
	f.scheduler.Start(context.Background())
	f.scheduler.Start(context.Background())
	f.scheduler.Stop()
}
