package recognition

import (
	"context"
	"sync"

	"card-sorter/internal/imaging"
)

// Recognizer 抽象外部识别引擎
// 必须可重复调用，且调用之间不共享可变状态
type Recognizer interface {
	Recognize(ctx context.Context, frame imaging.Frame) (text string, confidence float64, err error)
}

// SimResult 是仿真识别器单次调用的返回值
type SimResult struct {
	Text       string
	Confidence float64
	Err        error
}

// SimRecognizer 按预设脚本依次返回结果，供测试和仿真模式使用
// 脚本耗尽后重复返回最后一条
type SimRecognizer struct {
	mu      sync.Mutex
	results []SimResult
	calls   int
}

// NewSimRecognizer 创建仿真识别器
func NewSimRecognizer(results ...SimResult) *SimRecognizer {
	return &SimRecognizer{results: results}
}

func (r *SimRecognizer) Recognize(ctx context.Context, frame imaging.Frame) (string, float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.results) == 0 {
		return "", 0, nil
	}
	idx := r.calls
	if idx >= len(r.results) {
		idx = len(r.results) - 1
	}
	r.calls++
	res := r.results[idx]
	return res.Text, res.Confidence, res.Err
}

// Calls 返回已被调用的次数，供测试断言重试行为
func (r *SimRecognizer) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}
