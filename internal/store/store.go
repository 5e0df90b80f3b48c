package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"card-sorter/internal/types"

	_ "modernc.org/sqlite"
)

// CardRecord 表示数据库中的一条卡片记录
type CardRecord struct {
	ID         int64     `json:"id"`
	CardNumber string    `json:"card_number"`
	Confidence float64   `json:"confidence"`
	Status     string    `json:"status"` // "success" 或 "failed"
	ScanTime   time.Time `json:"scan_time"`
	Notes      string    `json:"notes,omitempty"`
}

// Store 管理卡片识别结果的持久化和查询
// 底层使用 SQLite，核心层对 Append 的失败只记日志、不中断循环
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *slog.Logger
}

// Open 打开 (必要时创建) 卡片数据库并建表
func Open(path string, logger *slog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("创建数据目录失败: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	s := &Store{db: db, logger: logger.With("component", "store")}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) createTables() error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS cards (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			card_number TEXT NOT NULL,
			confidence REAL NOT NULL,
			status TEXT DEFAULT 'success',
			scan_time TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			notes TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_card_number ON cards(card_number)`,
		`CREATE INDEX IF NOT EXISTS idx_scan_time ON cards(scan_time)`,
		`CREATE INDEX IF NOT EXISTS idx_status ON cards(status)`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("建表失败: %w", err)
		}
	}
	return nil
}

// Append 插入一条循环结果并返回记录 ID
func (s *Store) Append(outcome types.CycleOutcome) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := "failed"
	if outcome.Accepted {
		status = "success"
	}

	notes := ""
	if outcome.FailureReason != "" {
		notes = string(outcome.FailureReason)
	}

	res, err := s.db.Exec(
		`INSERT INTO cards (card_number, confidence, status, scan_time, notes) VALUES (?, ?, ?, ?, ?)`,
		outcome.CardNumber, outcome.Confidence, status, time.Now().UTC().Format(time.RFC3339Nano), notes,
	)
	if err != nil {
		return 0, fmt.Errorf("插入卡片记录失败: %w", err)
	}
	return res.LastInsertId()
}

// Statistics 返回数据库层面的统计快照
// 聚合口径：成功率按全部记录计算，平均置信度只统计成功记录
func (s *Store) Statistics() (types.StatsSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats types.StatsSnapshot

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM cards`).Scan(&stats.Total); err != nil {
		return stats, fmt.Errorf("查询总数失败: %w", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM cards WHERE status = 'success'`).Scan(&stats.Success); err != nil {
		return stats, fmt.Errorf("查询成功数失败: %w", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM cards WHERE status = 'failed'`).Scan(&stats.Failed); err != nil {
		return stats, fmt.Errorf("查询失败数失败: %w", err)
	}

	var avg sql.NullFloat64
	if err := s.db.QueryRow(`SELECT AVG(confidence) FROM cards WHERE status = 'success'`).Scan(&avg); err != nil {
		return stats, fmt.Errorf("查询平均置信度失败: %w", err)
	}
	if avg.Valid {
		stats.AvgConfidence = avg.Float64
	}

	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Success) / float64(stats.Total) * 100
	}

	if err := s.db.QueryRow(`SELECT COUNT(DISTINCT card_number) FROM cards WHERE status = 'success'`).Scan(&stats.UniqueCards); err != nil {
		return stats, fmt.Errorf("查询去重番号数失败: %w", err)
	}

	return stats, nil
}

// RecentCards 按扫描时间倒序返回最近的记录
func (s *Store) RecentCards(limit int) ([]CardRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT id, card_number, confidence, status, scan_time, COALESCE(notes, '')
		 FROM cards ORDER BY scan_time DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询最近记录失败: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// CardsByNumber 按番号查询全部记录
func (s *Store) CardsByNumber(cardNumber string) ([]CardRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT id, card_number, confidence, status, scan_time, COALESCE(notes, '')
		 FROM cards WHERE card_number = ? ORDER BY scan_time DESC`, cardNumber)
	if err != nil {
		return nil, fmt.Errorf("按番号查询失败: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]CardRecord, error) {
	var records []CardRecord
	for rows.Next() {
		var r CardRecord
		var scanTime string
		if err := rows.Scan(&r.ID, &r.CardNumber, &r.Confidence, &r.Status, &scanTime, &r.Notes); err != nil {
			return nil, fmt.Errorf("解析卡片记录失败: %w", err)
		}
		// scan_time 以 RFC3339 文本存储，解析失败时保留零值
		if t, err := time.Parse(time.RFC3339Nano, scanTime); err == nil {
			r.ScanTime = t
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
