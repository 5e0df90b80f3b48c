package motion

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"card-sorter/internal/config"
	"card-sorter/internal/transport"
	"card-sorter/internal/types"
	"card-sorter/internal/workspace"
)

// 运动层错误分类
var (
	// ErrOutOfBounds 目标位姿超出工作空间限位，命令不会下发
	ErrOutOfBounds = errors.New("超出工作空间限制")
	// ErrCommandFailed 传输层发送失败或超时
	ErrCommandFailed = errors.New("命令发送失败")
	// ErrPositionNotConfigured 命名位置缺少配置，属于配置错误，不重试
	ErrPositionNotConfigured = errors.New("位置配置不存在")
)

// Executor 负责把逻辑运动请求翻译成硬件命令并下发
// 每次移动前都先经过工作空间守卫校验；运动完成没有硬件反馈，
// 按配置的固定时长等待来近似 (已知的设计取舍，见 config 注释)
type Executor struct {
	transport transport.Transport
	guard     *workspace.Guard
	positions map[string]types.Pose
	motion    config.MotionConfig
	logger    *slog.Logger
}

// NewExecutor 创建运动执行器
func NewExecutor(t transport.Transport, guard *workspace.Guard, positions map[string]types.Pose, mc config.MotionConfig, logger *slog.Logger) *Executor {
	return &Executor{
		transport: t,
		guard:     guard,
		positions: positions,
		motion:    mc,
		logger:    logger.With("component", "motion"),
	}
}

// MoveTo 移动到指定位姿
// wait 为 true 时，发送成功后等待配置的 settle 时长再返回
func (e *Executor) MoveTo(p types.Pose, wait bool) error {
	if !e.guard.Validate(p) {
		e.logger.Error("目标位姿越界，拒绝下发", "x", p.X, "y", p.Y, "z", p.Z)
		return fmt.Errorf("%w: (%v, %v, %v)", ErrOutOfBounds, p.X, p.Y, p.Z)
	}

	// G 代码运动命令，F 为速度参数
	command := fmt.Sprintf("G0 X%v Y%v Z%v A%v B%v C%v F%v",
		p.X, p.Y, p.Z, p.RX, p.RY, p.RZ, e.motion.Speed)

	if err := e.transport.Send(command); err != nil {
		return fmt.Errorf("%w: %v", ErrCommandFailed, err)
	}

	if wait {
		// 等待运动完成 (协议没有完成信号，按时长近似)
		time.Sleep(time.Duration(e.motion.SettleDelayMs) * time.Millisecond)
	}
	return nil
}

// MoveToPosition 移动到命名位置
func (e *Executor) MoveToPosition(id types.PositionID, wait bool) error {
	pose, ok := e.positions[string(id)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPositionNotConfigured, id)
	}
	e.logger.Debug("移动到命名位置", "position", string(id))
	return e.MoveTo(pose, wait)
}

// OpenGripper 打开夹爪并等待释放稳定
func (e *Executor) OpenGripper() error {
	command := fmt.Sprintf("M3 S%d", e.motion.GripperOpenValue)
	if err := e.transport.Send(command); err != nil {
		return fmt.Errorf("%w: %v", ErrCommandFailed, err)
	}
	time.Sleep(time.Duration(e.motion.ReleaseDelayMs) * time.Millisecond)
	return nil
}

// CloseGripper 闭合夹爪抓取并等待夹持稳定
func (e *Executor) CloseGripper() error {
	command := fmt.Sprintf("M3 S%d", e.motion.GripperCloseValue)
	if err := e.transport.Send(command); err != nil {
		return fmt.Errorf("%w: %v", ErrCommandFailed, err)
	}
	time.Sleep(time.Duration(e.motion.GripDelayMs) * time.Millisecond)
	return nil
}

// EmergencyStop 紧急停止
// 随时可用：即使传输层已经故障也会尝试下发，永不返回错误
func (e *Executor) EmergencyStop() {
	e.logger.Warn("紧急停止！")
	if err := e.transport.Send("M112"); err != nil {
		e.logger.Error("紧急停止命令下发失败", "error", err)
	}
}
