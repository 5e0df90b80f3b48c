package main

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"time"
)

// Request 定义了识别服务接收的请求体
type Request struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Pixels string `json:"pixels"` // base64 编码的灰度像素
}

// Response 定义了识别服务返回的响应体
type Response struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error,omitempty"`
}

// sampleCards 是模拟引擎的番号池
var sampleCards = []string{
	"LOB-001", "SDK-041", "MRD-060", "PSV-104", "LON-000",
	"SRL-001", "MRL-103", "TP1-030", "DL09-EN012",
}

// main 是模拟 OCR 识别服务的入口
// 真实部署中由 EasyOCR/Tesseract 等引擎替换，接口契约保持不变
func main() {
	port := ":9090"
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "ocr-server")
	slog.SetDefault(logger)

	logger.Info("=== OCR 识别服务启动 ===", "port", port)

	http.HandleFunc("/recognize", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Warn("解析请求失败", "error", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		// 从 HTTP Header 中提取 Trace ID，用于链路追踪
		traceID := r.Header.Get("X-Trace-ID")
		taskLogger := logger.With("frame_size", req.Width*req.Height)
		if traceID != "" {
			taskLogger = taskLogger.With("trace_id", traceID)
		}

		taskLogger.Info("接收到识别任务")

		// 模拟 OCR 推理耗时
		processTime := time.Duration(rand.Intn(300)+200) * time.Millisecond
		time.Sleep(processTime)

		// 模拟识别结果：大部分高置信度，少量低置信度或引擎故障
		resp := Response{}
		switch roll := rand.Float32(); {
		case roll < 0.05: // 5% 概率引擎故障
			resp.Error = "OCR 引擎推理失败"
			taskLogger.Warn("识别任务失败", "error", resp.Error)
		case roll < 0.20: // 15% 概率低置信度
			resp.Text = sampleCards[rand.Intn(len(sampleCards))]
			resp.Confidence = rand.Float64() * 0.5
			taskLogger.Info("识别完成 (低置信度)", "text", resp.Text, "confidence", resp.Confidence)
		default:
			resp.Text = sampleCards[rand.Intn(len(sampleCards))]
			resp.Confidence = 0.6 + rand.Float64()*0.4
			taskLogger.Info("识别完成", "text", resp.Text, "confidence", resp.Confidence, "duration", processTime.Seconds())
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})

	if err := http.ListenAndServe(port, nil); err != nil {
		logger.Error("服务启动失败", "error", err)
	}
}
