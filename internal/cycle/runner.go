package cycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/antonmedv/expr"

	"card-sorter/internal/event"
	"card-sorter/internal/imaging"
	"card-sorter/internal/motion"
	"card-sorter/internal/recognition"
	"card-sorter/internal/types"
	"card-sorter/internal/util"
)

// Runner 负责驱动单张卡片的完整分拣循环
// 状态序列: 抓取 -> 呈现 -> 识别 -> 放置 -> 回零
// 物理步骤错误以结果形式返回给运行控制器，不向上抛出
type Runner struct {
	executor    *motion.Executor
	camera      imaging.Camera
	gate        *recognition.Gate
	roi         imaging.ROI
	scanSettle  time.Duration
	routingRule string // 可选的分拣规则表达式，为空则按识别结果分拣
	bus         *event.Bus
	logger      *slog.Logger
}

// NewRunner 创建循环执行器
func NewRunner(
	executor *motion.Executor,
	camera imaging.Camera,
	gate *recognition.Gate,
	roi imaging.ROI,
	scanSettle time.Duration,
	routingRule string,
	bus *event.Bus,
	logger *slog.Logger,
) *Runner {
	return &Runner{
		executor:    executor,
		camera:      camera,
		gate:        gate,
		roi:         roi,
		scanSettle:  scanSettle,
		routingRule: routingRule,
		bus:         bus,
		logger:      logger.With("component", "cycle"),
	}
}

// RunCycle 执行一个完整的分拣循环
// 返回的 CycleOutcome 中 FailureReason 非空表示物理步骤失败；
// 识别被拒绝 (Accepted=false) 是正常结果，卡片会被放入失败区
func (r *Runner) RunCycle(ctx context.Context, index int) types.CycleOutcome {
	logger := r.logger.With("cycle_index", index)
	traceID := ""
	if id, ok := util.TraceIDFromContext(ctx); ok {
		traceID = id
		logger = logger.With("trace_id", id)
	}

	fsm := r.newFSM(index)

	fail := func(reason types.FailureReason, err error) types.CycleOutcome {
		logger.Error("循环物理步骤失败", "reason", string(reason), "error", err)
		_ = fsm.Fire(EventFail)
		return types.CycleOutcome{CycleIndex: index, FailureReason: reason, TraceID: traceID}
	}

	// 1. 抓取：移动到卡堆，张开夹爪，闭合抓取
	logger.Info("开始抓取卡片")
	_ = fsm.Fire(EventPick)
	if err := r.executor.MoveToPosition(types.PositionCardPile, true); err != nil {
		return fail(types.PickFailed, err)
	}
	if err := r.executor.OpenGripper(); err != nil {
		return fail(types.PickFailed, err)
	}
	if err := r.executor.CloseGripper(); err != nil {
		return fail(types.PickFailed, err)
	}

	// 2. 呈现：移动到扫描位置并等待稳定
	logger.Info("移动到扫描位置")
	_ = fsm.Fire(EventPresent)
	if err := r.executor.MoveToPosition(types.PositionScan, true); err != nil {
		return fail(types.PresentFailed, err)
	}
	time.Sleep(r.scanSettle)

	// 3. 识别：采集图像，提取番号区域，交给识别门裁决
	// 这是循环中唯一让出控制权给外部慢 I/O 的状态
	_ = fsm.Fire(EventScan)
	frame, err := r.camera.CaptureBestFrame()
	if err != nil {
		return fail(types.CaptureFailed, err)
	}
	roiFrame := imaging.ExtractROI(frame, r.roi)
	processed := imaging.Preprocess(roiFrame)
	result := r.gate.Recognize(ctx, processed)

	outcome := types.CycleOutcome{
		CycleIndex: index,
		CardNumber: result.Text,
		Confidence: result.Confidence,
		Accepted:   result.Accepted,
		TraceID:    traceID,
	}

	// 4. 放置：按裁决结果 (或分拣规则) 选择目标区，释放卡片
	target := r.routeBin(outcome, logger)
	logger.Info("放置卡片", "target", string(target),
		"card_number", outcome.CardNumber, "confidence", outcome.Confidence)
	_ = fsm.Fire(EventPlace)
	if err := r.executor.MoveToPosition(target, true); err != nil {
		return fail(types.PlaceFailed, err)
	}
	if err := r.executor.OpenGripper(); err != nil {
		return fail(types.PlaceFailed, err)
	}

	// 5. 回零
	_ = fsm.Fire(EventReturn)
	if err := r.executor.MoveToPosition(types.PositionHome, true); err != nil {
		return fail(types.ReturnFailed, err)
	}

	// 识别结果只是数据，不影响循环成败：五个物理步骤全部完成即为成功
	_ = fsm.Fire(EventFinish)
	return outcome
}

func (r *Runner) newFSM(index int) *FSM {
	fsm := NewFSM(index)
	publish := func(state State) func(int) {
		return func(cycleIndex int) {
			r.bus.Publish(event.Event{Type: event.PhaseChanged, CycleIndex: cycleIndex, Phase: string(state)})
		}
	}
	for _, s := range []State{StatePicking, StatePresenting, StateAwaitingRecognition, StatePlacing, StateReturning, StateCompleted, StateFailed} {
		fsm.RegisterCallback(s, publish(s))
	}
	return fsm
}

// routeBin 决定卡片的目标区
// 配置了分拣规则表达式时按规则结果路由，规则评估失败则回退到默认路由
func (r *Runner) routeBin(outcome types.CycleOutcome, logger *slog.Logger) types.PositionID {
	accepted := outcome.Accepted

	if r.routingRule != "" {
		env := map[string]interface{}{
			"card_number": outcome.CardNumber,
			"confidence":  outcome.Confidence,
			"accepted":    outcome.Accepted,
		}
		program, err := expr.Compile(r.routingRule, expr.Env(env))
		if err != nil {
			logger.Error("分拣规则编译失败，使用默认路由", "error", err, "rule", r.routingRule)
		} else if result, err := expr.Run(program, env); err != nil {
			logger.Error("分拣规则执行失败，使用默认路由", "error", err, "rule", r.routingRule)
		} else if b, ok := result.(bool); !ok {
			logger.Error("分拣规则结果不是布尔值，使用默认路由", "rule", r.routingRule)
		} else {
			accepted = b
		}
	}

	if accepted {
		return types.PositionAccept
	}
	return types.PositionReject
}
