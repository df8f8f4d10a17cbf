package gormstore

import (
	"time"

	"gorm.io/datatypes"
)

type managedTradeModel struct {
	Asset      string    `gorm:"column:asset;primaryKey"`
	IsLong     bool      `gorm:"column:is_long"`
	Amount     float64   `gorm:"column:amount"`
	EntryPrice float64   `gorm:"column:entry_price"`
	TPOrderID  string    `gorm:"column:tp_oid"`
	SLOrderID  string    `gorm:"column:sl_oid"`
	ExitPlan   string    `gorm:"column:exit_plan"`
	OpenedAt   time.Time `gorm:"column:opened_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (managedTradeModel) TableName() string { return "managed_trades" }

// journalEntryModel 是 JSONL 日志的可查询副本，payload 保存完整条目。
type journalEntryModel struct {
	ID        int64          `gorm:"column:id;primaryKey"`
	TS        int64          `gorm:"column:ts;index:idx_journal_asset_ts,priority:2"`
	CycleID   string         `gorm:"column:cycle_id;index"`
	Asset     string         `gorm:"column:asset;index:idx_journal_asset_ts,priority:1"`
	Action    string         `gorm:"column:action;index"`
	Payload   datatypes.JSON `gorm:"column:payload;type:TEXT"`
	CreatedAt int64          `gorm:"column:created_at"`
}

func (journalEntryModel) TableName() string { return "journal_entries" }
