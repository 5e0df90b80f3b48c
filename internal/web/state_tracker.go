package web

import (
	"sync"

	"card-sorter/internal/types"
)

// RunState 代表分拣系统的实时状态快照
// 这是一个简化的视图，只包含前端需要的数据
type RunState struct {
	Phase          string  `json:"phase"`           // 当前循环状态机阶段
	CycleIndex     int     `json:"cycle_index"`     // 当前循环序号
	TotalProcessed int     `json:"total_processed"` // 物理完成总数
	SuccessCount   int     `json:"success_count"`   // 识别通过数
	FailedCount    int     `json:"failed_count"`    // 识别失败数
	LastCardNumber string  `json:"last_card_number"` // 最近识别出的番号
	LastConfidence float64 `json:"last_confidence"`  // 最近一次的置信度
	LastFailure    string  `json:"last_failure,omitempty"` // 最近的物理失败原因
}

// StateTracker 负责追踪分拣运行的实时状态，并通知前端更新
type StateTracker struct {
	mu    sync.RWMutex
	state RunState
	hub   *Hub
}

// NewStateTracker 创建一个新的 StateTracker 实例
func NewStateTracker(hub *Hub) *StateTracker {
	return &StateTracker{
		state: RunState{Phase: "IDLE"},
		hub:   hub,
	}
}

// SetPhase 更新状态机阶段并广播
func (st *StateTracker) SetPhase(cycleIndex int, phase string) {
	st.mu.Lock()
	st.state.CycleIndex = cycleIndex
	st.state.Phase = phase
	st.mu.Unlock()
	st.hub.BroadcastState(st.snapshot())
}

// RecordOutcome 记录一次循环结果并广播
func (st *StateTracker) RecordOutcome(o types.CycleOutcome, counters types.RunCounters) {
	st.mu.Lock()
	st.state.TotalProcessed = counters.TotalProcessed
	st.state.SuccessCount = counters.SuccessCount
	st.state.FailedCount = counters.FailedCount
	if o.Failed() {
		st.state.LastFailure = string(o.FailureReason)
	} else {
		st.state.LastCardNumber = o.CardNumber
		st.state.LastConfidence = o.Confidence
		st.state.LastFailure = ""
	}
	st.mu.Unlock()
	st.hub.BroadcastState(st.snapshot())
}

// GetStateSnapshot 返回当前状态的副本
// 用于新客户端连接时获取一次全量数据
func (st *StateTracker) GetStateSnapshot() RunState {
	return st.snapshot()
}

func (st *StateTracker) snapshot() RunState {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.state
}
