package cycle

import (
	"fmt"
	"sync"
)

// State 定义状态类型
type State string

// Event 定义事件类型
type Event string

const (
	StateIdle                 State = "IDLE"
	StatePicking              State = "PICKING"
	StatePresenting           State = "PRESENTING"
	StateAwaitingRecognition  State = "AWAITING_RECOGNITION"
	StatePlacing              State = "PLACING"
	StateReturning            State = "RETURNING"
	StateCompleted            State = "COMPLETED"
	StateFailed               State = "FAILED"
)

const (
	EventPick    Event = "PICK"
	EventPresent Event = "PRESENT"
	EventScan    Event = "SCAN"
	EventPlace   Event = "PLACE"
	EventReturn  Event = "RETURN"
	EventFinish  Event = "FINISH"
	EventFail    Event = "FAIL"
)

// FSM 有限状态机，驱动单张卡片的分拣旅程
type FSM struct {
	Current State
	mu      sync.Mutex
	// transitions 定义状态转移表: CurrentState -> Event -> NextState
	transitions map[State]map[Event]State
	// callbacks 定义状态变更后的回调: State -> func()
	callbacks  map[State]func(cycleIndex int)
	CycleIndex int // 关联的循环序号
}

// NewFSM 创建一个初始处于 IDLE 状态的循环状态机
func NewFSM(cycleIndex int) *FSM {
	fsm := &FSM{
		Current:     StateIdle,
		CycleIndex:  cycleIndex,
		transitions: make(map[State]map[Event]State),
		callbacks:   make(map[State]func(int)),
	}
	fsm.initTransitions()
	return fsm
}

func (f *FSM) initTransitions() {
	f.addTransition(StateIdle, EventPick, StatePicking)
	f.addTransition(StatePicking, EventPresent, StatePresenting)
	f.addTransition(StatePresenting, EventScan, StateAwaitingRecognition)
	f.addTransition(StateAwaitingRecognition, EventPlace, StatePlacing)
	f.addTransition(StatePlacing, EventReturn, StateReturning)
	f.addTransition(StateReturning, EventFinish, StateCompleted)

	// 任何活动状态都可以因物理步骤失败而终止
	f.addTransition(StatePicking, EventFail, StateFailed)
	f.addTransition(StatePresenting, EventFail, StateFailed)
	f.addTransition(StateAwaitingRecognition, EventFail, StateFailed)
	f.addTransition(StatePlacing, EventFail, StateFailed)
	f.addTransition(StateReturning, EventFail, StateFailed)
}

func (f *FSM) addTransition(from State, event Event, to State) {
	if _, ok := f.transitions[from]; !ok {
		f.transitions[from] = make(map[Event]State)
	}
	f.transitions[from][event] = to
}

// RegisterCallback 注册状态进入时的回调
func (f *FSM) RegisterCallback(state State, callback func(cycleIndex int)) {
	f.callbacks[state] = callback
}

// Fire 触发事件
func (f *FSM) Fire(event Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	// 查找合法的转移
	nextState, ok := f.transitions[f.Current][event]
	if !ok {
		return fmt.Errorf("invalid transition: cannot fire event %s from state %s", event, f.Current)
	}

	f.Current = nextState

	// 触发回调
	// 注意死锁风险，回调中不要再调用 Fire
	if cb, exists := f.callbacks[nextState]; exists {
		cb(f.CycleIndex)
	}

	return nil
}
