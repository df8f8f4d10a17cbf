package livehttp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"perpagent/internal/execution"
	"perpagent/internal/journal"
	"perpagent/internal/store/decisionlog"
	"perpagent/internal/store/gormstore"
)

const (
	defaultDiaryLimit    = 200
	defaultLogCharLimit  = 2000
	defaultDecisionLimit = 50
	maxDecisionLimit     = 500
)

type DiarySource interface {
	Tail(n int) ([]journal.Entry, error)
	Path() string
}

// JournalQuerier 按资产或动作检索日志索引。
type JournalQuerier interface {
	QueryJournal(ctx context.Context, q gormstore.JournalQuery) ([]journal.Entry, error)
}

type DecisionLister interface {
	List(ctx context.Context, q decisionlog.Query) ([]decisionlog.Record, error)
}

type ManagedLister interface {
	List() []execution.ManagedTrade
}

type PositionCloser interface {
	CloseAll(ctx context.Context) ([]execution.CloseResult, error)
	ClosePosition(ctx context.Context, asset, side string, size float64) (execution.CloseResult, error)
}

type Router struct {
	cfg      ServerConfig
	logNames []string
}

func NewRouter(cfg ServerConfig) *Router {
	names := make([]string, 0, len(cfg.LogPaths))
	for name, path := range cfg.LogPaths {
		if strings.TrimSpace(path) == "" || strings.TrimSpace(name) == "" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return &Router{cfg: cfg, logNames: names}
}

func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/diary", r.handleDiary)
	group.GET("/logs", r.handleLogs)
	group.GET("/decisions", r.handleDecisions)
	group.GET("/managed", r.handleManaged)
	group.POST("/close-all", r.handleCloseAll)
	group.POST("/close-position", r.handleClosePosition)
}

// handleDiary 默认返回最近 limit 条 JSON；raw/download 返回整个 JSONL 文件。
func (r *Router) handleDiary(c *gin.Context) {
	download := c.Query("download") != ""
	if download || c.Query("raw") != "" {
		data, err := os.ReadFile(r.cfg.Diary.Path())
		if err != nil && !os.IsNotExist(err) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if download {
			c.Header("Content-Disposition", "attachment; filename="+filepath.Base(r.cfg.Diary.Path()))
		}
		c.Data(http.StatusOK, "text/plain; charset=utf-8", data)
		return
	}
	limit := queryInt(c, "limit", defaultDiaryLimit)
	asset := strings.ToUpper(strings.TrimSpace(c.Query("asset")))
	action := strings.TrimSpace(c.Query("action"))
	if (asset != "" || action != "") && r.cfg.Index != nil {
		entries, err := r.cfg.Index.QueryJournal(c.Request.Context(), gormstore.JournalQuery{Asset: asset, Action: action, Limit: limit})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": nonNil(entries)})
		return
	}
	entries, err := r.cfg.Diary.Tail(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": nonNil(entries)})
}

// handleLogs 读取白名单内的日志文件末尾 limit 个字符；limit=all 或 -1 返回全文。
func (r *Router) handleLogs(c *gin.Context) {
	if len(r.logNames) == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no log files configured"})
		return
	}
	path, ok := r.resolveLog(c.Query("path"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown log", "available": r.logNames})
		return
	}
	download := c.Query("download") != ""
	limitParam := strings.ToLower(strings.TrimSpace(c.Query("limit")))
	limit := int64(defaultLogCharLimit)
	if download || limitParam == "all" || limitParam == "-1" {
		limit = 0
	} else if limitParam != "" {
		n, err := strconv.ParseInt(limitParam, 10, 64)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	data, err := readTail(path, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if download {
		c.Header("Content-Disposition", "attachment; filename="+filepath.Base(path))
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", data)
}

// resolveLog 接受日志名或其配置路径，其他路径一律拒绝。
func (r *Router) resolveLog(requested string) (string, bool) {
	requested = strings.TrimSpace(requested)
	if requested == "" {
		requested = r.cfg.DefaultLog
		if requested == "" {
			requested = r.logNames[0]
		}
	}
	if p, ok := r.cfg.LogPaths[requested]; ok && strings.TrimSpace(p) != "" {
		return p, true
	}
	clean := filepath.Clean(requested)
	for _, name := range r.logNames {
		p := r.cfg.LogPaths[name]
		if filepath.Clean(p) == clean || filepath.Base(p) == requested {
			return p, true
		}
	}
	return "", false
}

func (r *Router) handleDecisions(c *gin.Context) {
	if r.cfg.Decisions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "decision log disabled"})
		return
	}
	limit := queryInt(c, "limit", defaultDecisionLimit)
	if limit > maxDecisionLimit {
		limit = maxDecisionLimit
	}
	q := decisionlog.Query{
		Asset:    strings.ToUpper(strings.TrimSpace(c.Query("asset"))),
		CycleID:  strings.TrimSpace(c.Query("cycle_id")),
		Failsafe: parseBool(c.Query("failsafe")),
		Limit:    limit,
		Offset:   queryInt(c, "offset", 0),
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	records, err := r.cfg.Decisions.List(ctx, q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if records == nil {
		records = []decisionlog.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"decisions": records, "limit": q.Limit, "offset": q.Offset})
}

func (r *Router) handleManaged(c *gin.Context) {
	if r.cfg.Managed == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "execution engine unavailable"})
		return
	}
	trades := r.cfg.Managed.List()
	if trades == nil {
		trades = []execution.ManagedTrade{}
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (r *Router) handleCloseAll(c *gin.Context) {
	if r.cfg.Closer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "execution engine unavailable"})
		return
	}
	results, err := r.cfg.Closer.CloseAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(results) == 0 {
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "No positions to close", "closed": 0})
		return
	}
	closed := make([]execution.CloseResult, 0, len(results))
	failed := make([]execution.CloseResult, 0)
	for _, res := range results {
		if res.Success {
			closed = append(closed, res)
		} else {
			failed = append(failed, res)
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"success":          len(failed) == 0,
		"closed":           len(closed),
		"positions_closed": closed,
		"errors":           failed,
	})
}

type closePositionRequest struct {
	Asset string  `json:"asset"`
	Side  string  `json:"side"`
	Size  float64 `json:"size"`
}

func (r *Router) handleClosePosition(c *gin.Context) {
	if r.cfg.Closer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "execution engine unavailable"})
		return
	}
	var req closePositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request: %v", err)})
		return
	}
	if strings.TrimSpace(req.Asset) == "" || req.Size == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing asset or size"})
		return
	}
	res, err := r.cfg.Closer.ClosePosition(c.Request.Context(), req.Asset, req.Side, req.Size)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"coin":     res.Asset,
		"size":     res.Size,
		"side":     res.Side,
		"order_id": res.OrderID,
	})
}

// readTail 返回文件最后 limit 个字节，limit<=0 返回全文；文件不存在视为空。
func readTail(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []byte{}, nil
		}
		return nil, err
	}
	defer f.Close()
	if limit > 0 {
		info, err := f.Stat()
		if err != nil {
			return nil, err
		}
		if info.Size() > limit {
			if _, err := f.Seek(info.Size()-limit, io.SeekStart); err != nil {
				return nil, err
			}
		}
	}
	return io.ReadAll(f)
}

func queryInt(c *gin.Context, key string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(c.Query(key)))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func parseBool(val string) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

func nonNil(entries []journal.Entry) []journal.Entry {
	if entries == nil {
		return []journal.Entry{}
	}
	return entries
}
