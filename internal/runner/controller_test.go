package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"card-sorter/internal/config"
	"card-sorter/internal/event"
	"card-sorter/internal/imaging"
	"card-sorter/internal/motion"
	"card-sorter/internal/transport"
	"card-sorter/internal/types"
	"card-sorter/internal/workspace"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// fakeCycles 按脚本依次返回循环结果，脚本耗尽后重复最后一条
type fakeCycles struct {
	mu       sync.Mutex
	outcomes []types.CycleOutcome
	calls    int
}

func (f *fakeCycles) RunCycle(ctx context.Context, index int) types.CycleOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	if idx >= len(f.outcomes) {
		idx = len(f.outcomes) - 1
	}
	f.calls++
	out := f.outcomes[idx]
	out.CycleIndex = index
	return out
}

func (f *fakeCycles) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeStore struct {
	mu         sync.Mutex
	appended   []types.CycleOutcome
	closeCount int
}

func (s *fakeStore) Append(o types.CycleOutcome) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appended = append(s.appended, o)
	return int64(len(s.appended)), nil
}

func (s *fakeStore) Statistics() (types.StatsSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := types.StatsSnapshot{Total: len(s.appended)}
	for _, o := range s.appended {
		if o.Accepted {
			stats.Success++
		} else {
			stats.Failed++
		}
	}
	return stats, nil
}

func (s *fakeStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCount++
	return nil
}

func (s *fakeStore) Appended() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.appended)
}

func (s *fakeStore) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCount
}

type fakeJournal struct {
	mu         sync.Mutex
	appended   int
	closeCount int
	closeErr   error
}

func (j *fakeJournal) Append(types.CycleOutcome) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.appended++
	return nil
}

func (j *fakeJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.closeCount++
	return j.closeErr
}

func newTestController(t *testing.T, cycles Cycles, policy config.ProcessConfig) (*Controller, *fakeStore, *fakeJournal) {
	t.Helper()
	logger := testLogger()

	trans := transport.NewSimTransport()
	if err := trans.Connect(); err != nil {
		t.Fatalf("仿真传输连接失败: %v", err)
	}
	guard := workspace.NewGuard(types.WorkspaceLimits{
		XMin: -300, XMax: 300, YMin: -200, YMax: 200, ZMin: 0, ZMax: 300,
	})
	positions := map[string]types.Pose{"home": {X: 0, Y: 150, Z: 200}}
	executor := motion.NewExecutor(trans, guard, positions, config.MotionConfig{Speed: 50}, logger)

	camera := imaging.NewSimCamera(8, 8, 1, logger)
	_ = camera.Open()

	st := &fakeStore{}
	journal := &fakeJournal{}
	c := NewController(cycles, policy, st, journal, camera, executor, trans, nil, event.NewBus(), logger)
	return c, st, journal
}

func successOutcome(accepted bool) types.CycleOutcome {
	return types.CycleOutcome{CardNumber: "LOB-001", Confidence: 0.9, Accepted: accepted}
}

func failedOutcome() types.CycleOutcome {
	return types.CycleOutcome{FailureReason: types.PickFailed}
}

func TestRun_StopsAtMaxCards(t *testing.T) {
	cycles := &fakeCycles{outcomes: []types.CycleOutcome{successOutcome(true)}}
	c, st, _ := newTestController(t, cycles, config.ProcessConfig{MaxCards: 5, StatsInterval: 2})

	c.Run(context.Background())

	if got := c.Counters().TotalProcessed; got != 5 {
		t.Errorf("预期处理 5 张, 实际 %d", got)
	}
	if cycles.Calls() != 5 {
		t.Errorf("不应启动第 6 个循环, 实际启动 %d 个", cycles.Calls())
	}
	if st.Appended() != 5 {
		t.Errorf("每个成功循环都应持久化, 实际 %d 条", st.Appended())
	}
}

func TestRun_RejectedOutcomeCountsAsProcessed(t *testing.T) {
	// 识别被拒绝的循环照常计入 TotalProcessed，只是记入 FailedCount
	cycles := &fakeCycles{outcomes: []types.CycleOutcome{successOutcome(false)}}
	c, _, _ := newTestController(t, cycles, config.ProcessConfig{MaxCards: 3})

	c.Run(context.Background())

	counters := c.Counters()
	if counters.TotalProcessed != 3 || counters.FailedCount != 3 || counters.SuccessCount != 0 {
		t.Errorf("计数错误: %+v", counters)
	}
}

func TestRun_StopOnError(t *testing.T) {
	cycles := &fakeCycles{outcomes: []types.CycleOutcome{failedOutcome()}}
	c, st, _ := newTestController(t, cycles, config.ProcessConfig{MaxCards: 5, StopOnError: true})

	c.Run(context.Background())

	if cycles.Calls() != 1 {
		t.Errorf("stop_on_error 下第一次失败就应终止, 实际执行 %d 个循环", cycles.Calls())
	}
	if got := c.Counters().TotalProcessed; got != 0 {
		t.Errorf("失败的循环不应计入 TotalProcessed, 实际 %d", got)
	}
	if st.Appended() != 0 {
		t.Errorf("失败的循环不应持久化")
	}
}

func TestRun_AutoResumeContinuesAfterFailure(t *testing.T) {
	cycles := &fakeCycles{outcomes: []types.CycleOutcome{
		failedOutcome(), successOutcome(true), successOutcome(true),
	}}
	c, _, _ := newTestController(t, cycles, config.ProcessConfig{
		MaxCards: 2, AutoResume: true, ResumeDelayMs: 1,
	})

	c.Run(context.Background())

	if cycles.Calls() != 3 {
		t.Errorf("失败后应冷却并重试, 预期 3 次循环, 实际 %d", cycles.Calls())
	}
	counters := c.Counters()
	if counters.TotalProcessed != 2 {
		t.Errorf("TotalProcessed 应排除失败循环, 实际 %d", counters.TotalProcessed)
	}
}

func TestRun_ManualResumeWaitsForOperator(t *testing.T) {
	cycles := &fakeCycles{outcomes: []types.CycleOutcome{
		failedOutcome(), successOutcome(true),
	}}
	c, _, _ := newTestController(t, cycles, config.ProcessConfig{MaxCards: 1})

	done := make(chan struct{})
	go func() {
		c.Run(context.Background())
		close(done)
	}()

	// 等待控制器进入挂起状态后发出继续信号
	time.Sleep(50 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("手动恢复模式下控制器应挂起等待操作员")
	default:
	}
	c.Resume()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("收到继续信号后控制器应恢复运行")
	}
	if got := c.Counters().TotalProcessed; got != 1 {
		t.Errorf("恢复后应完成剩余循环, 实际 %d", got)
	}
}

func TestRun_OperatorAbortDuringPause(t *testing.T) {
	cycles := &fakeCycles{outcomes: []types.CycleOutcome{failedOutcome()}}
	c, _, _ := newTestController(t, cycles, config.ProcessConfig{MaxCards: 5})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("挂起等待中收到中断信号应立即退出")
	}
}

func TestShutdown_RunsExactlyOnce(t *testing.T) {
	cycles := &fakeCycles{outcomes: []types.CycleOutcome{successOutcome(true)}}
	c, st, journal := newTestController(t, cycles, config.ProcessConfig{MaxCards: 1})

	c.Run(context.Background())
	// 重复调用不应再次执行关停步骤
	c.Shutdown()
	c.Shutdown()

	if st.CloseCount() != 1 {
		t.Errorf("数据库应只关闭一次, 实际 %d 次", st.CloseCount())
	}
	if journal.closeCount != 1 {
		t.Errorf("结果日志应只关闭一次, 实际 %d 次", journal.closeCount)
	}
}

func TestShutdown_StepsAreIndependent(t *testing.T) {
	// 结果日志关闭失败不应阻止数据库关闭
	cycles := &fakeCycles{outcomes: []types.CycleOutcome{successOutcome(true)}}
	c, st, journal := newTestController(t, cycles, config.ProcessConfig{MaxCards: 1})
	journal.closeErr = errors.New("磁盘已满")

	c.Run(context.Background())

	if st.CloseCount() != 1 {
		t.Errorf("前序步骤失败时数据库仍应关闭, 实际 %d 次", st.CloseCount())
	}
}

func TestRestoreCounters(t *testing.T) {
	cycles := &fakeCycles{outcomes: []types.CycleOutcome{successOutcome(true)}}
	c, _, _ := newTestController(t, cycles, config.ProcessConfig{MaxCards: 5})

	c.RestoreCounters(types.RunCounters{TotalProcessed: 3, SuccessCount: 2, FailedCount: 1})
	c.Run(context.Background())

	// 历史 3 张加本次 2 张即达上限
	counters := c.Counters()
	if counters.TotalProcessed != 5 {
		t.Errorf("恢复计数后应只处理剩余额度, 实际 %d", counters.TotalProcessed)
	}
	if cycles.Calls() != 2 {
		t.Errorf("预期本次运行 2 个循环, 实际 %d", cycles.Calls())
	}
}
