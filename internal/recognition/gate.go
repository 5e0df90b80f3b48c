package recognition

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"card-sorter/internal/imaging"
)

// Result 表示识别门的最终裁决
type Result struct {
	Text       string  // 清理后的识别文本
	Confidence float64 // 该次尝试的置信度
	Accepted   bool    // 是否同时通过置信度和格式校验
}

// Gate 是识别结果的准入策略层
// 对单帧最多重试 maxRetry 次；全部失败时保留最后一次尝试的证据
// (文本和置信度原样返回)，便于事后审计，而不是丢弃
type Gate struct {
	recognizer Recognizer
	threshold  float64
	pattern    *regexp.Regexp
	maxRetry   int
	logger     *slog.Logger
}

// NewGate 创建识别门
// pattern 必须是合法正则 (配置层已校验过)，maxRetry 小于 1 时按 1 处理
func NewGate(r Recognizer, threshold float64, pattern string, maxRetry int, logger *slog.Logger) *Gate {
	if maxRetry < 1 {
		maxRetry = 1
	}
	return &Gate{
		recognizer: r,
		threshold:  threshold,
		pattern:    regexp.MustCompile(pattern),
		maxRetry:   maxRetry,
		logger:     logger.With("component", "recognition"),
	}
}

// Recognize 对预处理后的帧做识别并裁决
// 第一次同时通过置信度和格式校验即接受并停止重试
func (g *Gate) Recognize(ctx context.Context, frame imaging.Frame) Result {
	var last Result

	for attempt := 1; attempt <= g.maxRetry; attempt++ {
		text, confidence, err := g.recognizer.Recognize(ctx, frame)
		if err != nil {
			// 引擎调用失败按零置信度处理，继续重试
			g.logger.Warn("识别引擎调用失败", "attempt", attempt, "error", err)
			last = Result{Text: "", Confidence: 0, Accepted: false}
			continue
		}

		cleaned := CleanText(text)
		last = Result{Text: cleaned, Confidence: confidence, Accepted: false}

		if confidence < g.threshold {
			g.logger.Debug("置信度不足", "attempt", attempt, "text", cleaned, "confidence", confidence)
			continue
		}
		if !g.pattern.MatchString(cleaned) {
			g.logger.Debug("番号格式校验失败", "attempt", attempt, "text", cleaned)
			continue
		}

		last.Accepted = true
		return last
	}

	// 所有尝试都未通过，返回最后一次观测到的证据
	return last
}

// CleanText 清理识别文本：去除所有空白字符并转为大写
func CleanText(text string) string {
	return strings.ToUpper(strings.Join(strings.Fields(text), ""))
}
