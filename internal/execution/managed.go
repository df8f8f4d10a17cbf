package execution

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// ManagedTrade 是本地缓存的"由我们开/加的仓位"，最多一条每资产。
type ManagedTrade struct {
	Asset      string    `json:"asset"`
	IsLong     bool      `json:"is_long"`
	Amount     float64   `json:"amount"`
	EntryPrice float64   `json:"entry_price"`
	TPOrderID  string    `json:"tp_oid,omitempty"`
	SLOrderID  string    `json:"sl_oid,omitempty"`
	ExitPlan   string    `json:"exit_plan"`
	OpenedAt   time.Time `json:"opened_at"`
}

// Snapshotter 持久化托管交易集合，用于重启后恢复。
type Snapshotter interface {
	SaveManaged(ctx context.Context, trades []ManagedTrade) error
	LoadManaged(ctx context.Context) ([]ManagedTrade, error)
}

// Book 保存托管交易。写操作只由执行引擎发起，读操作可并发（HTTP 与上下文构建）。
type Book struct {
	mu     sync.RWMutex
	trades map[string]ManagedTrade
}

func NewBook() *Book {
	return &Book{trades: make(map[string]ManagedTrade)}
}

func (b *Book) Get(asset string) (ManagedTrade, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.trades[normAsset(asset)]
	return t, ok
}

func (b *Book) put(t ManagedTrade) {
	t.Asset = normAsset(t.Asset)
	b.mu.Lock()
	b.trades[t.Asset] = t
	b.mu.Unlock()
}

func (b *Book) remove(asset string) (ManagedTrade, bool) {
	asset = normAsset(asset)
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.trades[asset]
	if ok {
		delete(b.trades, asset)
	}
	return t, ok
}

func (b *Book) replace(trades []ManagedTrade) {
	next := make(map[string]ManagedTrade, len(trades))
	for _, t := range trades {
		a := normAsset(t.Asset)
		if a == "" {
			continue
		}
		t.Asset = a
		next[a] = t
	}
	b.mu.Lock()
	b.trades = next
	b.mu.Unlock()
}

// List 按资产名排序返回副本。
func (b *Book) List() []ManagedTrade {
	b.mu.RLock()
	out := make([]ManagedTrade, 0, len(b.trades))
	for _, t := range b.trades {
		out = append(out, t)
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.trades)
}

func normAsset(a string) string {
	return strings.ToUpper(strings.TrimSpace(a))
}
