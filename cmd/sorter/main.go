package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"card-sorter/internal/config"
	"card-sorter/internal/cycle"
	"card-sorter/internal/event"
	"card-sorter/internal/handlers"
	"card-sorter/internal/imaging"
	"card-sorter/internal/motion"
	"card-sorter/internal/persistence"
	"card-sorter/internal/recognition"
	"card-sorter/internal/runner"
	"card-sorter/internal/store"
	"card-sorter/internal/transport"
	"card-sorter/internal/types"
	"card-sorter/internal/web"
	"card-sorter/internal/workspace"
)

// main 是卡片分拣控制系统的主入口
func main() {
	simulation := flag.Bool("simulation", false, "仿真模式（不连接实际硬件）")
	numCards := flag.Int("n", -1, "要处理的卡片数量（0表示无限制，-1表示使用配置值）")
	flag.Parse()

	// 1. 初始化核心组件
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	logger.Info("=== 卡片分拣机器人系统启动 ===")

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("加载配置失败", "error", err)
		os.Exit(1)
	}
	if *numCards >= 0 {
		cfg.Process.MaxCards = *numCards
	}
	if *simulation {
		logger.Info("仿真模式已启用")
	}

	hub := web.NewHub()
	go hub.Run()
	stateTracker := web.NewStateTracker(hub)

	eventBus := event.NewBus()
	handlers.RegisterEventHandlers(eventBus, stateTracker, logger)

	// 2. 初始化协作者，任何一个失败都视为不可恢复的启动错误
	journal, err := persistence.NewJournal(cfg.Storage.JournalPath)
	if err != nil {
		logger.Error("无法初始化结果日志", "error", err)
		os.Exit(1)
	}

	cardStore, err := store.Open(cfg.Storage.DBPath, logger)
	if err != nil {
		logger.Error("无法初始化数据库", "error", err)
		os.Exit(1)
	}
	logger.Info("数据库初始化成功", "path", cfg.Storage.DBPath)

	var trans transport.Transport
	var camera imaging.Camera
	var recognizer recognition.Recognizer
	if *simulation {
		trans = transport.NewSimTransport()
		camera = imaging.NewSimCamera(cfg.Camera.FrameWidth, cfg.Camera.FrameHeight, cfg.Camera.NumFrames, logger)
		recognizer = recognition.NewSimRecognizer(recognition.SimResult{Text: "LOB-001", Confidence: 0.95})
	} else {
		trans = transport.NewSerialTransport(cfg.Robot.Port, cfg.Robot.Baudrate,
			time.Duration(cfg.Robot.TimeoutMs)*time.Millisecond, logger)
		camera = imaging.NewSimCamera(cfg.Camera.FrameWidth, cfg.Camera.FrameHeight, cfg.Camera.NumFrames, logger)
		recognizer = recognition.NewRemoteRecognizer(cfg.OCR.Endpoint, logger)
	}

	guard := workspace.NewGuard(cfg.Robot.Safety.WorkspaceLimits)
	executor := motion.NewExecutor(trans, guard, cfg.Robot.Positions, cfg.Robot.Motion, logger)

	gate := recognition.NewGate(recognizer, cfg.OCR.ConfidenceThreshold,
		cfg.OCR.CardNumberPattern, cfg.OCR.MaxRetry, logger)

	roi := imaging.ROI{X: cfg.OCR.ROI.X, Y: cfg.OCR.ROI.Y, Width: cfg.OCR.ROI.Width, Height: cfg.OCR.ROI.Height}
	cycles := cycle.NewRunner(executor, camera, gate, roi,
		time.Duration(cfg.Process.ScanSettleDelayMs)*time.Millisecond,
		cfg.Process.RoutingRule, eventBus, logger)

	controller := runner.NewController(cycles, cfg.Process, cardStore, journal,
		camera, executor, trans, stateTracker, eventBus, logger)

	// 3. 初始化硬件：连接、打开相机、回零
	if err := initializeHardware(trans, camera, executor, logger); err != nil {
		logger.Error("硬件初始化失败，系统退出", "error", err)
		os.Exit(1)
	}

	// 4. 恢复历史计数
	if counters, err := journal.Replay(); err != nil {
		logger.Warn("重放结果日志失败", "error", err)
	} else if counters.TotalProcessed > 0 {
		logger.Info("从结果日志恢复计数", "total_processed", counters.TotalProcessed)
		controller.RestoreCounters(counters)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go startAPIServer(cfg.APIPort, controller, executor, cardStore, hub, stateTracker, logger)
	go waitForShutdown(logger, cancel)

	// 5. 主循环在当前 goroutine 运行：机械臂是唯一物理资源，控制流单线程
	controller.Run(ctx)

	logger.Info("分拣结束，系统已安全退出")
}

// initializeHardware 依次连接机械臂、打开相机并回零
func initializeHardware(t transport.Transport, camera imaging.Camera, executor *motion.Executor, logger *slog.Logger) error {
	logger.Info("正在初始化硬件设备...")

	if err := camera.Open(); err != nil {
		return fmt.Errorf("无法打开摄像头: %w", err)
	}
	logger.Info("摄像头已连接")

	if err := t.Connect(); err != nil {
		return fmt.Errorf("无法连接机械臂: %w", err)
	}
	logger.Info("机械臂已连接")

	if err := executor.MoveToPosition(types.PositionHome, true); err != nil {
		return fmt.Errorf("机械臂回零失败: %w", err)
	}
	logger.Info("机械臂已回到初始位置")

	return nil
}

// startAPIServer 启动 API 和监控服务器
func startAPIServer(port int, controller *runner.Controller, executor *motion.Executor, cardStore *store.Store, hub *web.Hub, st *web.StateTracker, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", hub.ServeWs)
	mux.HandleFunc("/api/state", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(st.GetStateSnapshot())
	})
	mux.HandleFunc("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		stats, err := cardStore.Statistics()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats)
	})
	mux.HandleFunc("/api/cards/recent", func(w http.ResponseWriter, r *http.Request) {
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		records, err := cardStore.RecentCards(limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(records)
	})
	mux.HandleFunc("/api/resume", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		controller.Resume()
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"status": "resumed"})
	})
	mux.HandleFunc("/api/estop", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		// 紧急停止随时可用，不经过正常控制流
		executor.EmergencyStop()
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"status": "stopped"})
	})

	addr := ":" + strconv.Itoa(port)
	logger.Info("API 和监控服务器启动", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("API 服务器启动失败", "error", err)
	}
}

// waitForShutdown 等待系统信号并取消主循环上下文
func waitForShutdown(logger *slog.Logger, cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("接收到停机信号，正在优雅关闭...")
	cancel()
}
