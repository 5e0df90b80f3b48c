package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"card-sorter/internal/config"
	"card-sorter/internal/event"
	"card-sorter/internal/imaging"
	"card-sorter/internal/motion"
	"card-sorter/internal/transport"
	"card-sorter/internal/types"
	"card-sorter/internal/util"
	"card-sorter/internal/web"
)

// Cycles 抽象单次循环的执行，便于测试时替换
type Cycles interface {
	RunCycle(ctx context.Context, index int) types.CycleOutcome
}

// OutcomeStore 是存储协作者的窄契约
// Append 对核心而言是 fire-and-forget：失败只记日志，不升级为循环失败
type OutcomeStore interface {
	Append(outcome types.CycleOutcome) (int64, error)
	Statistics() (types.StatsSnapshot, error)
	Close() error
}

// OutcomeJournal 是结果日志的窄契约
type OutcomeJournal interface {
	Append(outcome types.CycleOutcome) error
	Close() error
}

// Controller 驱动分拣主循环并应用运行级弹性策略
// 计数器和硬件句柄由它独占持有；整个循环是单逻辑线程，
// 因为机械臂是唯一的物理资源，不存在安全的并行访问
type Controller struct {
	cycles    Cycles
	policy    config.ProcessConfig
	store     OutcomeStore
	journal   OutcomeJournal
	camera    imaging.Camera
	executor  *motion.Executor
	transport transport.Transport
	tracker   *web.StateTracker
	bus       *event.Bus
	logger    *slog.Logger

	counters     types.RunCounters
	resumeCh     chan struct{}
	shutdownOnce sync.Once
}

// NewController 创建运行控制器
func NewController(
	cycles Cycles,
	policy config.ProcessConfig,
	st OutcomeStore,
	journal OutcomeJournal,
	camera imaging.Camera,
	executor *motion.Executor,
	t transport.Transport,
	tracker *web.StateTracker,
	bus *event.Bus,
	logger *slog.Logger,
) *Controller {
	return &Controller{
		cycles:    cycles,
		policy:    policy,
		store:     st,
		journal:   journal,
		camera:    camera,
		executor:  executor,
		transport: t,
		tracker:   tracker,
		bus:       bus,
		logger:    logger.With("component", "runner"),
		resumeCh:  make(chan struct{}, 1),
	}
}

// RestoreCounters 用日志重放得到的历史计数初始化统计
// 在 Run 之前调用，保证统计不因进程重启归零
func (c *Controller) RestoreCounters(counters types.RunCounters) {
	c.counters.TotalProcessed = counters.TotalProcessed
	c.counters.SuccessCount = counters.SuccessCount
	c.counters.FailedCount = counters.FailedCount
}

// Counters 返回当前计数的副本
func (c *Controller) Counters() types.RunCounters {
	return c.counters
}

// Resume 发出人工继续信号
// 在手动恢复模式下，循环失败后会挂起等待该信号
func (c *Controller) Resume() {
	select {
	case c.resumeCh <- struct{}{}:
	default:
	}
}

// Run 运行主循环直到达到数量上限、策略终止或操作员中断
// 无论以何种路径退出，关停序列都会执行且只执行一次
func (c *Controller) Run(ctx context.Context) {
	c.counters.StartTime = time.Now()
	c.logger.Info("主循环启动", "max_cards", c.policy.MaxCards,
		"stop_on_error", c.policy.StopOnError, "auto_resume", c.policy.AutoResume)

	defer c.Shutdown()

	cycleIndex := c.counters.TotalProcessed

	for {
		// 中断信号只在循环边界检查：进行中的循环总是跑到终态，
		// 因为半途中止的机械臂命令可能损坏卡片或机构
		if ctx.Err() != nil {
			c.logger.Info("操作员中断，退出主循环")
			return
		}
		if c.policy.MaxCards > 0 && c.counters.TotalProcessed >= c.policy.MaxCards {
			c.logger.Info("已达到最大处理数量", "max_cards", c.policy.MaxCards)
			return
		}

		cycleIndex++

		// 生成 Trace ID 并注入 Context，用于全链路追踪
		traceID := util.NewTraceID()
		cycleCtx := util.ContextWithTraceID(ctx, traceID)

		c.bus.Publish(event.Event{Type: event.CycleStarted, CycleIndex: cycleIndex})
		start := time.Now()
		outcome := c.cycles.RunCycle(cycleCtx, cycleIndex)
		duration := time.Since(start).Seconds()

		if outcome.Failed() {
			if !c.handleFailure(ctx, outcome, duration) {
				return
			}
			continue
		}

		c.recordSuccess(outcome, duration)
	}
}

// recordSuccess 处理一次物理完成的循环：计数、持久化、周期性统计
func (c *Controller) recordSuccess(outcome types.CycleOutcome, duration float64) {
	c.counters.TotalProcessed++
	if outcome.Accepted {
		c.counters.SuccessCount++
	} else {
		c.counters.FailedCount++
	}

	// 持久化失败不影响主循环
	if _, err := c.store.Append(outcome); err != nil {
		c.logger.Error("写入卡片记录失败", "error", err, "cycle_index", outcome.CycleIndex)
	}
	if err := c.journal.Append(outcome); err != nil {
		c.logger.Error("写入结果日志失败", "error", err, "cycle_index", outcome.CycleIndex)
	}

	c.bus.Publish(event.Event{Type: event.CycleCompleted, CycleIndex: outcome.CycleIndex, Outcome: &outcome, Duration: duration})
	if outcome.Accepted {
		c.bus.Publish(event.Event{Type: event.CardAccepted, CycleIndex: outcome.CycleIndex, Outcome: &outcome})
	} else {
		c.bus.Publish(event.Event{Type: event.CardRejected, CycleIndex: outcome.CycleIndex, Outcome: &outcome})
	}
	if c.tracker != nil {
		c.tracker.RecordOutcome(outcome, c.counters)
	}

	if c.policy.StatsInterval > 0 && c.counters.TotalProcessed%c.policy.StatsInterval == 0 {
		c.emitStatistics()
	}
}

// handleFailure 按弹性策略处理循环失败
// 返回 false 表示主循环应当终止
func (c *Controller) handleFailure(ctx context.Context, outcome types.CycleOutcome, duration float64) bool {
	// 失败先报告，再应用策略
	c.logger.Error("循环失败", "cycle_index", outcome.CycleIndex,
		"reason", string(outcome.FailureReason))
	c.bus.Publish(event.Event{
		Type: event.CycleFailed, CycleIndex: outcome.CycleIndex, Outcome: &outcome,
		Duration: duration, Error: fmt.Errorf("循环失败: %s", outcome.FailureReason),
	})
	if c.tracker != nil {
		c.tracker.RecordOutcome(outcome, c.counters)
	}

	// 策略优先级: stop_on_error > auto_resume > 人工恢复
	switch {
	case c.policy.StopOnError:
		c.logger.Error("发生错误，停止运行")
		return false
	case c.policy.AutoResume:
		c.logger.Warn("发生错误，冷却后自动恢复",
			"delay_ms", c.policy.ResumeDelayMs)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(time.Duration(c.policy.ResumeDelayMs) * time.Millisecond):
		}
		return true
	default:
		c.logger.Error("发生错误，挂起等待操作员处理 (POST /api/resume 继续)")
		select {
		case <-ctx.Done():
			return false
		case <-c.resumeCh:
			c.logger.Info("收到操作员继续信号")
			return true
		}
	}
}

// emitStatistics 输出统计快照并发布事件
func (c *Controller) emitStatistics() {
	elapsed := time.Since(c.counters.StartTime).Seconds()

	stats, err := c.store.Statistics()
	if err != nil {
		c.logger.Error("获取数据库统计失败", "error", err)
		stats = types.StatsSnapshot{
			Total:   c.counters.TotalProcessed,
			Success: c.counters.SuccessCount,
			Failed:  c.counters.FailedCount,
		}
		if stats.Total > 0 {
			stats.SuccessRate = float64(stats.Success) / float64(stats.Total) * 100
		}
	}
	stats.ElapsedSeconds = elapsed

	speed := 0.0
	if elapsed > 0 {
		speed = float64(c.counters.TotalProcessed) / elapsed
	}
	c.logger.Info("统计信息",
		"total_processed", c.counters.TotalProcessed,
		"success", c.counters.SuccessCount,
		"failed", c.counters.FailedCount,
		"success_rate", stats.SuccessRate,
		"avg_confidence", stats.AvgConfidence,
		"unique_cards", stats.UniqueCards,
		"elapsed_seconds", elapsed,
		"cards_per_second", speed)

	c.bus.Publish(event.Event{Type: event.StatsEmitted, Stats: &stats})
}

// Shutdown 执行关停序列，保证恰好执行一次
// 四个释放步骤相互独立、尽力而为：任何一步失败都不阻止后续步骤
func (c *Controller) Shutdown() {
	c.shutdownOnce.Do(func() {
		c.logger.Info("正在清理资源...")

		// 1. 最终统计
		if c.counters.TotalProcessed > 0 {
			c.emitStatistics()
		}

		// 2. 释放相机
		if err := c.camera.Close(); err != nil {
			c.logger.Error("关闭相机失败", "error", err)
		} else {
			c.logger.Info("相机已关闭")
		}

		// 3. 机械臂回零并断开
		if err := c.executor.MoveToPosition(types.PositionHome, true); err != nil {
			c.logger.Error("机械臂回零失败", "error", err)
		}
		if err := c.transport.Close(); err != nil {
			c.logger.Error("断开机械臂失败", "error", err)
		} else {
			c.logger.Info("机械臂已断开")
		}

		// 4. 关闭存储
		if err := c.journal.Close(); err != nil {
			c.logger.Error("关闭结果日志失败", "error", err)
		}
		if err := c.store.Close(); err != nil {
			c.logger.Error("关闭数据库失败", "error", err)
		} else {
			c.logger.Info("数据库已关闭")
		}

		c.logger.Info("系统已安全关闭")
	})
}
