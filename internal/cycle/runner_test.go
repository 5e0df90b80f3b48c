package cycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"card-sorter/internal/config"
	"card-sorter/internal/event"
	"card-sorter/internal/imaging"
	"card-sorter/internal/motion"
	"card-sorter/internal/recognition"
	"card-sorter/internal/transport"
	"card-sorter/internal/types"
	"card-sorter/internal/workspace"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type fixture struct {
	runner *Runner
	trans  *transport.SimTransport
	camera *imaging.SimCamera
}

func newFixture(t *testing.T, rec recognition.Recognizer, routingRule string) *fixture {
	t.Helper()
	logger := testLogger()

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
		"accept_pile":   {X: -200, Y: 0, Z: 50},
		"reject_pile":   {X: -200, Y: 100, Z: 50},
	}
	mc := config.MotionConfig{Speed: 50, GripperOpenValue: 100, GripperCloseValue: 0}
	executor := motion.NewExecutor(trans, guard, positions, mc, logger)

	camera := imaging.NewSimCamera(32, 32, 1, logger)
	if err := camera.Open(); err != nil {
		t.Fatalf("打开仿真相机失败: %v", err)
	}

	gate := recognition.NewGate(rec, 0.6, "^[A-Z0-9-]{5,15}$", 3, logger)

	runner := NewRunner(executor, camera, gate,
		imaging.ROI{X: 0, Y: 0, Width: 1, Height: 1}, 0, routingRule, event.NewBus(), logger)
	return &fixture{runner: runner, trans: trans, camera: camera}
}

func hasCommandPrefix(cmds []string, prefix string) bool {
	for _, c := range cmds {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

func TestRunCycle_AcceptedCardGoesToAcceptPile(t *testing.T) {
	f := newFixture(t, recognition.NewSimRecognizer(
		recognition.SimResult{Text: "LOB-001", Confidence: 0.95}), "")

	outcome := f.runner.RunCycle(context.Background(), 1)
	if outcome.Failed() {
		t.Fatalf("循环不应失败: %+v", outcome)
	}
	if !outcome.Accepted || outcome.CardNumber != "LOB-001" {
		t.Fatalf("识别结果错误: %+v", outcome)
	}

	cmds := f.trans.Commands()
	if !hasCommandPrefix(cmds, "G0 X-200 Y0 ") {
		t.Errorf("接受的卡片应移动到成功区, 命令: %v", cmds)
	}
	if hasCommandPrefix(cmds, "G0 X-200 Y100 ") {
		t.Errorf("接受的卡片不应移动到失败区, 命令: %v", cmds)
	}
	// 最后一条命令应是回零移动
	if last := cmds[len(cmds)-1]; !strings.HasPrefix(last, "G0 X0 Y150 ") {
		t.Errorf("循环应以回零结束, 最后命令: %s", last)
	}
}

func TestRunCycle_RejectedCardIsNotACycleFailure(t *testing.T) {
	// 识别被拒绝是正常结果：卡片进失败区，循环本身成功
	f := newFixture(t, recognition.NewSimRecognizer(
		recognition.SimResult{Text: "LOB-001", Confidence: 0.2}), "")

	outcome := f.runner.RunCycle(context.Background(), 1)
	if outcome.Failed() {
		t.Fatalf("识别被拒绝不应导致循环失败: %+v", outcome)
	}
	if outcome.Accepted {
		t.Fatalf("低置信度应被拒绝: %+v", outcome)
	}
	if !hasCommandPrefix(f.trans.Commands(), "G0 X-200 Y100 ") {
		t.Errorf("被拒绝的卡片应移动到失败区, 命令: %v", f.trans.Commands())
	}
}

func TestRunCycle_PickFailure(t *testing.T) {
	f := newFixture(t, recognition.NewSimRecognizer(
		recognition.SimResult{Text: "LOB-001", Confidence: 0.95}), "")
	f.trans.FailSend = func(cmd string) error {
		if strings.HasPrefix(cmd, "G0 X200 ") {
			return errors.New("串口写入超时")
		}
		return nil
	}

	outcome := f.runner.RunCycle(context.Background(), 1)
	if outcome.FailureReason != types.PickFailed {
		t.Fatalf("预期 PICK_FAILED, 得到 %+v", outcome)
	}
}

func TestRunCycle_CaptureFailure(t *testing.T) {
	f := newFixture(t, recognition.NewSimRecognizer(
		recognition.SimResult{Text: "LOB-001", Confidence: 0.95}), "")
	f.camera.Fail = true

	outcome := f.runner.RunCycle(context.Background(), 1)
	if outcome.FailureReason != types.CaptureFailed {
		t.Fatalf("预期 CAPTURE_FAILED, 得到 %+v", outcome)
	}
}

func TestRunCycle_PlaceFailure(t *testing.T) {
	f := newFixture(t, recognition.NewSimRecognizer(
		recognition.SimResult{Text: "LOB-001", Confidence: 0.95}), "")
	f.trans.FailSend = func(cmd string) error {
		if strings.HasPrefix(cmd, "G0 X-200 ") {
			return errors.New("串口写入超时")
		}
		return nil
	}

	outcome := f.runner.RunCycle(context.Background(), 1)
	if outcome.FailureReason != types.PlaceFailed {
		t.Fatalf("预期 PLACE_FAILED, 得到 %+v", outcome)
	}
}

func TestRunCycle_ReturnFailure(t *testing.T) {
	f := newFixture(t, recognition.NewSimRecognizer(
		recognition.SimResult{Text: "LOB-001", Confidence: 0.95}), "")
	f.trans.FailSend = func(cmd string) error {
		if strings.HasPrefix(cmd, "G0 X0 Y150 ") {
			return errors.New("串口写入超时")
		}
		return nil
	}

	outcome := f.runner.RunCycle(context.Background(), 1)
	if outcome.FailureReason != types.ReturnFailed {
		t.Fatalf("预期 RETURN_FAILED, 得到 %+v", outcome)
	}
}

func TestRunCycle_RoutingRuleOverride(t *testing.T) {
	// 规则要求置信度不低于 0.97，识别虽通过门槛但被规则改判到失败区
	f := newFixture(t, recognition.NewSimRecognizer(
		recognition.SimResult{Text: "LOB-001", Confidence: 0.8}),
		"accepted && confidence >= 0.97")

	outcome := f.runner.RunCycle(context.Background(), 1)
	if outcome.Failed() {
		t.Fatalf("循环不应失败: %+v", outcome)
	}
	if !outcome.Accepted {
		t.Fatalf("识别门应接受该结果: %+v", outcome)
	}
	if !hasCommandPrefix(f.trans.Commands(), "G0 X-200 Y100 ") {
		t.Errorf("规则改判后卡片应进失败区, 命令: %v", f.trans.Commands())
	}
}

func TestRunCycle_BrokenRuleFallsBackToDefault(t *testing.T) {
	f := newFixture(t, recognition.NewSimRecognizer(
		recognition.SimResult{Text: "LOB-001", Confidence: 0.95}),
		"this is not a valid expression ((")

	outcome := f.runner.RunCycle(context.Background(), 1)
	if outcome.Failed() {
		t.Fatalf("规则评估失败不应导致循环失败: %+v", outcome)
	}
	if !hasCommandPrefix(f.trans.Commands(), "G0 X-200 Y0 ") {
		t.Errorf("规则失败应回退到默认路由 (成功区), 命令: %v", f.trans.Commands())
	}
}
