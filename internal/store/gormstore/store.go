// Package gormstore 用 Gorm + SQLite 保存托管交易快照与日志索引。
package gormstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"perpagent/internal/execution"
	"perpagent/internal/journal"
)

type Store struct {
	db *gorm.DB
}

var (
	_ execution.Snapshotter = (*Store)(nil)
	_ journal.Indexer       = (*Store)(nil)
)

// Open 初始化数据库并迁移表结构。
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: 数据库路径不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&managedTradeModel{}, &journalEntryModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL：HTTP 读与执行引擎写并存，保持少量连接降低锁竞争。
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SQLDB 暴露底层连接，供健康检查使用。
func (s *Store) SQLDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	return s.db.DB()
}

// SaveManaged 用 trades 整体替换快照。
func (s *Store) SaveManaged(ctx context.Context, trades []execution.ManagedTrade) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	now := time.Now().UTC()
	models := make([]managedTradeModel, 0, len(trades))
	for _, t := range trades {
		models = append(models, managedTradeModel{
			Asset:      t.Asset,
			IsLong:     t.IsLong,
			Amount:     t.Amount,
			EntryPrice: t.EntryPrice,
			TPOrderID:  t.TPOrderID,
			SLOrderID:  t.SLOrderID,
			ExitPlan:   t.ExitPlan,
			OpenedAt:   t.OpenedAt,
			UpdatedAt:  now,
		})
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&managedTradeModel{}).Error; err != nil {
			return err
		}
		if len(models) == 0 {
			return nil
		}
		return tx.Create(&models).Error
	})
}

func (s *Store) LoadManaged(ctx context.Context) ([]execution.ManagedTrade, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	var models []managedTradeModel
	if err := s.db.WithContext(ctx).Order("asset ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]execution.ManagedTrade, 0, len(models))
	for _, m := range models {
		out = append(out, execution.ManagedTrade{
			Asset:      m.Asset,
			IsLong:     m.IsLong,
			Amount:     m.Amount,
			EntryPrice: m.EntryPrice,
			TPOrderID:  m.TPOrderID,
			SLOrderID:  m.SLOrderID,
			ExitPlan:   m.ExitPlan,
			OpenedAt:   m.OpenedAt,
		})
	}
	return out, nil
}

func (s *Store) IndexEntry(ctx context.Context, e journal.Entry) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return s.db.WithContext(ctx).Create(&journalEntryModel{
		TS:        ts.UnixMilli(),
		CycleID:   e.CycleID,
		Asset:     e.Asset,
		Action:    e.Action,
		Payload:   datatypes.JSON(payload),
		CreatedAt: time.Now().UnixMilli(),
	}).Error
}

// JournalQuery 过滤日志索引；空字段表示不过滤。
type JournalQuery struct {
	Asset   string
	Action  string
	CycleID string
	Limit   int
}

// QueryJournal 返回匹配的最近条目，旧的在前。
func (s *Store) QueryJournal(ctx context.Context, q JournalQuery) ([]journal.Entry, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	tx := s.db.WithContext(ctx).Model(&journalEntryModel{})
	if a := strings.ToUpper(strings.TrimSpace(q.Asset)); a != "" {
		tx = tx.Where("asset = ?", a)
	}
	if a := strings.TrimSpace(q.Action); a != "" {
		tx = tx.Where("action = ?", a)
	}
	if c := strings.TrimSpace(q.CycleID); c != "" {
		tx = tx.Where("cycle_id = ?", c)
	}
	var models []journalEntryModel
	if err := tx.Order("ts DESC, id DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]journal.Entry, 0, len(models))
	for i := len(models) - 1; i >= 0; i-- {
		var e journal.Entry
		if err := json.Unmarshal(models[i].Payload, &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
