package recognition

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"card-sorter/internal/imaging"
	"card-sorter/internal/util"
)

// RemoteRecognizer 是通过 HTTP 调用的远程 OCR 服务客户端
// 它实现了 Recognizer 接口，使识别门可以像对待本地引擎一样对待它
type RemoteRecognizer struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewRemoteRecognizer 创建远程 OCR 客户端
func NewRemoteRecognizer(endpoint string, logger *slog.Logger) *RemoteRecognizer {
	return &RemoteRecognizer{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second}, // OCR 耗时较长，给足超时
		logger:   logger.With("component", "recognition", "remote", true),
	}
}

// remoteRequest 定义发送到 OCR 服务的请求体
type remoteRequest struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Pixels string `json:"pixels"` // base64 编码的灰度像素
}

// remoteResponse 定义从 OCR 服务接收的响应体
type remoteResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error,omitempty"`
}

// Recognize 通过 HTTP POST 调用远程服务的 /recognize 端点
func (r *RemoteRecognizer) Recognize(ctx context.Context, frame imaging.Frame) (string, float64, error) {
	logger := r.logger
	if traceID, ok := util.TraceIDFromContext(ctx); ok {
		logger = logger.With("trace_id", traceID)
	}

	reqBody, _ := json.Marshal(remoteRequest{
		Width:  frame.Width,
		Height: frame.Height,
		Pixels: base64.StdEncoding.EncodeToString(frame.Pixels),
	})
	httpReq, err := http.NewRequestWithContext(ctx, "POST", r.endpoint+"/recognize", bytes.NewBuffer(reqBody))
	if err != nil {
		logger.Error("创建识别请求失败", "error", err)
		return "", 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	// 将 Trace ID 放入 HTTP Header 中，实现跨服务追踪
	if traceID, ok := util.TraceIDFromContext(ctx); ok {
		httpReq.Header.Set("X-Trace-ID", traceID)
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		logger.Error("远程识别调用失败", "error", err)
		return "", 0, fmt.Errorf("远程识别调用失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Error("远程识别服务返回错误状态", "status", resp.Status)
		return "", 0, fmt.Errorf("远程识别服务错误: %s", resp.Status)
	}

	var rResp remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&rResp); err != nil {
		logger.Error("解析识别响应失败", "error", err)
		return "", 0, fmt.Errorf("解析识别响应失败: %w", err)
	}

	if rResp.Error != "" {
		return "", 0, fmt.Errorf("远程识别失败: %s", rResp.Error)
	}
	return rResp.Text, rResp.Confidence, nil
}
