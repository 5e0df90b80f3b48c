package handlers

import (
	"log/slog"

	"card-sorter/internal/event"
	"card-sorter/internal/metrics"
	"card-sorter/internal/web"
)

// RegisterEventHandlers 将所有事件处理器注册到事件总线
// 这是事件驱动架构的核心，将不同的业务关注点（监控、UI、日志）解耦
func RegisterEventHandlers(bus *event.Bus, st *web.StateTracker, logger *slog.Logger) {
	// --- 指标处理器 (Metrics Handler) ---
	// 订阅循环完成事件，按识别结果计数并记录耗时和置信度
	bus.Subscribe(event.CycleCompleted, func(e event.Event) {
		result := "rejected"
		if e.Outcome != nil && e.Outcome.Accepted {
			result = "accepted"
		}
		metrics.CardsProcessedTotal.WithLabelValues(result).Inc()
		metrics.CycleDuration.Observe(e.Duration)
		if e.Outcome != nil {
			metrics.RecognitionConfidence.Observe(e.Outcome.Confidence)
		}
	})
	// 订阅循环失败事件，按失败阶段计数
	bus.Subscribe(event.CycleFailed, func(e event.Event) {
		reason := "UNKNOWN"
		if e.Outcome != nil {
			reason = string(e.Outcome.FailureReason)
		}
		metrics.CyclesFailedTotal.WithLabelValues(reason).Inc()
		metrics.CycleDuration.Observe(e.Duration)
	})

	// --- Web UI 处理器 (Web UI Handler) ---
	// 订阅阶段变更事件，更新 UI 中的状态机阶段
	bus.Subscribe(event.PhaseChanged, func(e event.Event) {
		st.SetPhase(e.CycleIndex, e.Phase)
	})

	// --- 日志处理器 (Logging Handler) ---
	// 订阅关键业务事件，记录审计日志
	bus.Subscribe(event.CycleFailed, func(e event.Event) {
		logger.Error("分拣循环失败", "cycle_index", e.CycleIndex, "error", e.Error)
	})
	bus.Subscribe(event.CardAccepted, func(e event.Event) {
		logger.Info("卡片识别通过", "cycle_index", e.CycleIndex,
			"card_number", e.Outcome.CardNumber, "confidence", e.Outcome.Confidence)
	})
	bus.Subscribe(event.CardRejected, func(e event.Event) {
		logger.Warn("卡片识别被拒绝", "cycle_index", e.CycleIndex,
			"card_number", e.Outcome.CardNumber, "confidence", e.Outcome.Confidence)
	})
	bus.Subscribe(event.StatsEmitted, func(e event.Event) {
		if e.Stats != nil {
			logger.Info("统计快照", "total", e.Stats.Total, "success", e.Stats.Success,
				"failed", e.Stats.Failed, "success_rate", e.Stats.SuccessRate,
				"avg_confidence", e.Stats.AvgConfidence, "unique_cards", e.Stats.UniqueCards)
		}
	})
}
