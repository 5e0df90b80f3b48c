package types

import "time"

// PositionID 定义命名位置 ID
// 使用字符串类型，方便在日志和配置中直接使用
type PositionID string

const (
	// 分拣流程中机械臂的五个预设位置
	PositionHome     PositionID = "home"          // 初始位置 (待机点)
	PositionCardPile PositionID = "card_pile"     // 卡堆位置 (抓取点)
	PositionScan     PositionID = "scan_position" // 扫描位置 (相机正下方)
	PositionAccept   PositionID = "accept_pile"   // 识别成功区
	PositionReject   PositionID = "reject_pile"   // 识别失败区
)

// RequiredPositions 列出循环状态机引用的全部命名位置
// 配置校验时逐一检查，缺失任何一个都视为致命配置错误
var RequiredPositions = []PositionID{
	PositionHome,
	PositionCardPile,
	PositionScan,
	PositionAccept,
	PositionReject,
}

// Pose 表示机械臂末端的一个空间位姿
// 加载后不可变，由运动执行器消费
type Pose struct {
	X  float64 `mapstructure:"x"`
	Y  float64 `mapstructure:"y"`
	Z  float64 `mapstructure:"z"`
	RX float64 `mapstructure:"rx"`
	RY float64 `mapstructure:"ry"`
	RZ float64 `mapstructure:"rz"`
}

// WorkspaceLimits 定义机械臂平移轴的安全工作范围
// 旋转轴在本设计中不做约束
type WorkspaceLimits struct {
	XMin float64 `mapstructure:"x_min"`
	XMax float64 `mapstructure:"x_max"`
	YMin float64 `mapstructure:"y_min"`
	YMax float64 `mapstructure:"y_max"`
	ZMin float64 `mapstructure:"z_min"`
	ZMax float64 `mapstructure:"z_max"`
}

// FailureReason 定义循环失败的阶段原因
type FailureReason string

const (
	PickFailed    FailureReason = "PICK_FAILED"    // 抓取阶段失败
	PresentFailed FailureReason = "PRESENT_FAILED" // 移动到扫描位置失败
	CaptureFailed FailureReason = "CAPTURE_FAILED" // 图像采集失败
	PlaceFailed   FailureReason = "PLACE_FAILED"   // 放置阶段失败
	ReturnFailed  FailureReason = "RETURN_FAILED"  // 回零阶段失败
)

// CycleOutcome 表示一次完整分拣循环的结果
// 每个循环创建一次，创建后不可变
type CycleOutcome struct {
	CycleIndex    int           `json:"cycle_index"`              // 循环序号 (从 1 开始)
	CardNumber    string        `json:"card_number"`              // 识别出的卡片番号，失败时可能为空
	Confidence    float64       `json:"confidence"`               // 识别置信度 [0,1]
	Accepted      bool          `json:"accepted"`                 // 识别是否通过 (决定放入哪个区)
	FailureReason FailureReason `json:"failure_reason,omitempty"` // 物理步骤失败原因，成功时为空
	TraceID       string        `json:"trace_id,omitempty"`       // 关联的链路追踪 ID
}

// Failed 返回该循环是否发生了物理步骤失败
// 识别被拒绝是正常结果，不算循环失败
func (o CycleOutcome) Failed() bool {
	return o.FailureReason != ""
}

// RunCounters 记录运行期统计，由运行控制器独占持有
type RunCounters struct {
	TotalProcessed int       // 物理完成的循环总数
	SuccessCount   int       // 识别通过的卡片数
	FailedCount    int       // 识别被拒绝的卡片数
	StartTime      time.Time // 主循环启动时间
}

// StatsSnapshot 表示一次统计快照，供日志和 API 层使用
type StatsSnapshot struct {
	Total          int     `json:"total"`           // 数据库记录总数
	Success        int     `json:"success"`         // 识别成功数
	Failed         int     `json:"failed"`          // 识别失败数
	SuccessRate    float64 `json:"success_rate"`    // 成功率 (百分比)
	AvgConfidence  float64 `json:"avg_confidence"`  // 成功记录的平均置信度
	UniqueCards    int     `json:"unique_cards"`    // 不重复的卡片番号数
	ElapsedSeconds float64 `json:"elapsed_seconds"` // 运行时长 (秒)
}
