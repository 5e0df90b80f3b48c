package persistence

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"card-sorter/internal/types"
)

// LogEntry 代表日志文件中的一条记录
type LogEntry struct {
	Type    string              `json:"type"`              // 记录类型: "OUTCOME"
	Outcome *types.CycleOutcome `json:"outcome,omitempty"` // 循环结果数据
}

// Journal 以追加写的 JSON 行格式记录每个循环的结果
// 进程重启后通过 Replay 恢复运行计数，保证统计不因崩溃归零
// (循环本身不可恢复：中断时卡片的物理位置不确定，需人工处理)
type Journal struct {
	file *os.File   // 日志文件句柄
	mu   sync.Mutex // 互斥锁，保证文件写入的原子性
}

// NewJournal 创建或打开结果日志文件
func NewJournal(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("创建日志目录失败: %w", err)
		}
	}

	// O_APPEND: 追加写入, O_CREATE: 文件不存在则创建, O_RDWR: 读写模式
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	return &Journal{file: file}, nil
}

// Append 将一条循环结果写入日志
func (j *Journal) Append(outcome types.CycleOutcome) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	entry := LogEntry{Type: "OUTCOME", Outcome: &outcome}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	// 写入数据并在末尾添加换行符
	_, err = j.file.Write(append(data, '\n'))
	if err != nil {
		return err
	}
	// 确保数据被刷新到磁盘，防止数据丢失
	return j.file.Sync()
}

// Replay 从日志中重放全部历史结果并汇总成计数
// 在系统启动时调用
func (j *Journal) Replay() (types.RunCounters, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var counters types.RunCounters

	// 将文件指针移动到开头以进行读取
	if _, err := j.file.Seek(0, 0); err != nil {
		return counters, err
	}

	scanner := bufio.NewScanner(j.file)
	for scanner.Scan() {
		var entry LogEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			// 忽略损坏的行
			continue
		}
		if entry.Type != "OUTCOME" || entry.Outcome == nil {
			continue
		}
		// 只有物理完成的循环才计入 (与运行控制器的口径一致)
		if entry.Outcome.Failed() {
			continue
		}
		counters.TotalProcessed++
		if entry.Outcome.Accepted {
			counters.SuccessCount++
		} else {
			counters.FailedCount++
		}
	}

	if err := scanner.Err(); err != nil {
		return counters, err
	}

	// 恢复文件指针到末尾，以便后续追加写入
	if _, err := j.file.Seek(0, os.SEEK_END); err != nil {
		return counters, err
	}

	return counters, nil
}

// Close 关闭日志文件
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}
