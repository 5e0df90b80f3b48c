package motion

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"card-sorter/internal/config"
	"card-sorter/internal/transport"
	"card-sorter/internal/types"
	"card-sorter/internal/workspace"
)

func testExecutor(t *testing.T) (*Executor, *transport.SimTransport) {
	t.Helper()
	trans := transport.NewSimTransport()
	if err := trans.Connect(); err != nil {
		t.Fatalf("仿真传输连接失败: %v", err)
	}
	guard := workspace.NewGuard(types.WorkspaceLimits{
		XMin: -300, XMax: 300, YMin: -200, YMax: 200, ZMin: 0, ZMax: 300,
	})
	positions := map[string]types.Pose{
		"home":          {X: 0, Y: 150, Z: 200},
		"card_pile":     {X: 200, Y: 0, Z: 50},
		"scan_position": {X: 0, Y: -150, Z: 80},
	}
	mc := config.MotionConfig{
		Speed: 50, GripperOpenValue: 100, GripperCloseValue: 0,
		SettleDelayMs: 0, GripDelayMs: 0, ReleaseDelayMs: 0,
	}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return NewExecutor(trans, guard, positions, mc, logger), trans
}

func TestMoveTo_OutOfBoundsNeverSends(t *testing.T) {
	executor, trans := testExecutor(t)

	err := executor.MoveTo(types.Pose{X: 301, Y: 0, Z: 50}, true)
	if !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("预期 ErrOutOfBounds, 得到 %v", err)
	}
	if len(trans.Commands()) != 0 {
		t.Errorf("越界位姿不应下发任何命令, 实际下发 %v", trans.Commands())
	}
}

func TestMoveTo_BoundaryAccepted(t *testing.T) {
	executor, trans := testExecutor(t)

	// 恰好在边界上的位姿应该被接受
	if err := executor.MoveTo(types.Pose{X: 300, Y: 0, Z: 50}, true); err != nil {
		t.Fatalf("边界位姿应通过: %v", err)
	}
	cmds := trans.Commands()
	if len(cmds) != 1 || !strings.HasPrefix(cmds[0], "G0 X300 Y0 Z50") {
		t.Errorf("预期一条 G0 命令, 实际 %v", cmds)
	}
}

func TestMoveTo_CommandFraming(t *testing.T) {
	executor, trans := testExecutor(t)

	if err := executor.MoveTo(types.Pose{X: 10, Y: -20, Z: 30, RX: 1, RY: 2, RZ: 3}, false); err != nil {
		t.Fatalf("移动失败: %v", err)
	}
	want := "G0 X10 Y-20 Z30 A1 B2 C3 F50"
	if cmds := trans.Commands(); len(cmds) != 1 || cmds[0] != want {
		t.Errorf("预期命令 %q, 实际 %v", want, cmds)
	}
}

func TestMoveToPosition_Unconfigured(t *testing.T) {
	executor, trans := testExecutor(t)

	err := executor.MoveToPosition(types.PositionAccept, true)
	if !errors.Is(err, ErrPositionNotConfigured) {
		t.Fatalf("预期 ErrPositionNotConfigured, 得到 %v", err)
	}
	if len(trans.Commands()) != 0 {
		t.Errorf("缺少配置的位置不应下发命令")
	}
}

func TestMoveTo_TransportFailure(t *testing.T) {
	executor, trans := testExecutor(t)
	trans.FailSend = func(string) error { return errors.New("串口写入超时") }

	err := executor.MoveTo(types.Pose{X: 0, Y: 0, Z: 100}, true)
	if !errors.Is(err, ErrCommandFailed) {
		t.Fatalf("预期 ErrCommandFailed, 得到 %v", err)
	}
}

func TestGripperCommands(t *testing.T) {
	executor, trans := testExecutor(t)

	if err := executor.OpenGripper(); err != nil {
		t.Fatalf("打开夹爪失败: %v", err)
	}
	if err := executor.CloseGripper(); err != nil {
		t.Fatalf("闭合夹爪失败: %v", err)
	}

	cmds := trans.Commands()
	if len(cmds) != 2 || cmds[0] != "M3 S100" || cmds[1] != "M3 S0" {
		t.Errorf("预期夹爪命令 [M3 S100, M3 S0], 实际 %v", cmds)
	}
}

func TestEmergencyStop_AlwaysAttempted(t *testing.T) {
	executor, trans := testExecutor(t)

	// 传输层故障时紧急停止也不应 panic 或返回错误
	trans.FailSend = func(string) error { return errors.New("串口已断开") }
	executor.EmergencyStop()

	trans.FailSend = nil
	executor.EmergencyStop()
	cmds := trans.Commands()
	if len(cmds) != 1 || cmds[0] != "M112" {
		t.Errorf("预期一条 M112 命令, 实际 %v", cmds)
	}
}
