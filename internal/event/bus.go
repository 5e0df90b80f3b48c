package event

import (
	"sync"

	"card-sorter/internal/types"
)

// EventType 定义事件的类型
type EventType string

// 定义所有业务事件类型
const (
	CycleStarted   EventType = "CycleStarted"   // 一个分拣循环开始
	CycleCompleted EventType = "CycleCompleted" // 循环物理完成 (不论识别结果)
	CycleFailed    EventType = "CycleFailed"    // 循环发生物理步骤失败
	CardAccepted   EventType = "CardAccepted"   // 卡片识别通过，放入成功区
	CardRejected   EventType = "CardRejected"   // 卡片识别被拒绝，放入失败区
	StatsEmitted   EventType = "StatsEmitted"   // 周期性统计快照产生
	PhaseChanged   EventType = "PhaseChanged"   // 循环状态机进入新阶段
)

// Event 结构体定义了事件的数据负载
type Event struct {
	Type       EventType            // 事件类型
	CycleIndex int                  // 关联的循环序号
	Outcome    *types.CycleOutcome  // 循环结果 (仅完成/失败事件)
	Phase      string               // 状态机阶段 (仅 PhaseChanged)
	Stats      *types.StatsSnapshot // 统计快照 (仅 StatsEmitted)
	Duration   float64              // 循环耗时，秒 (仅完成/失败事件)
	Error      error                // 错误信息 (仅失败事件)
}

// Handler 是事件处理函数的签名
type Handler func(e Event)

// Bus 是一个简单的内存事件总线
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler // 存储事件类型到多个处理函数的映射
}

// NewBus 创建一个新的事件总线实例
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe 订阅一个特定类型的事件
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish 发布一个事件，所有订阅了该事件类型的处理器都将被调用
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if handlers, ok := b.handlers[e.Type]; ok {
		// 遍历所有处理器并异步执行
		// 使用 goroutine 避免单个处理器的阻塞影响控制循环
		for _, handler := range handlers {
			go handler(e)
		}
	}
}
