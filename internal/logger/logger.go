package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"log/slog"

	"github.com/lmittmann/tint"
)

// 输出格式：text 为 slog 默认文本格式，tint 为带颜色的终端格式。
const (
	FormatText = "text"
	FormatTint = "tint"
)

var (
	levelVar   slog.LevelVar
	loggerMu   sync.RWMutex
	baseLogger *slog.Logger
	format     = FormatText
)

func init() {
	levelVar.Set(slog.LevelInfo)
	baseLogger = newLogger(os.Stdout, FormatText)
}

func newLogger(w io.Writer, f string) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	if f == FormatTint {
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      &levelVar,
			TimeFormat: "2006-01-02 15:04:05.000",
			NoColor:    w != os.Stdout && w != os.Stderr,
		}))
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: &levelVar})
	return slog.New(handler)
}

// SetOutput 替换日志输出目标，保持当前格式。
func SetOutput(w io.Writer) {
	loggerMu.Lock()
	baseLogger = newLogger(w, format)
	loggerMu.Unlock()
}

// SetFormat 切换输出格式并重建 handler；未知格式回退到 text。
func SetFormat(w io.Writer, f string) {
	f = strings.ToLower(strings.TrimSpace(f))
	if f != FormatTint {
		f = FormatText
	}
	loggerMu.Lock()
	format = f
	baseLogger = newLogger(w, f)
	loggerMu.Unlock()
}

func SetLevel(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "info":
		levelVar.Set(slog.LevelInfo)
	case "warn", "warning":
		levelVar.Set(slog.LevelWarn)
	case "error":
		levelVar.Set(slog.LevelError)
	default:
		levelVar.Set(slog.LevelInfo)
	}
}

func activeLogger() *slog.Logger {
	loggerMu.RLock()
	l := baseLogger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if baseLogger == nil {
		baseLogger = newLogger(os.Stdout, format)
	}
	return baseLogger
}

// L 返回底层 slog.Logger，供需要结构化字段的调用方使用。
func L() *slog.Logger {
	return activeLogger()
}

func Debugf(format string, v ...any) {
	activeLogger().Debug(fmt.Sprintf(format, v...))
}

func Infof(format string, v ...any) {
	activeLogger().Info(fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...any) {
	activeLogger().Warn(fmt.Sprintf(format, v...))
}

func Errorf(format string, v ...any) {
	activeLogger().Error(fmt.Sprintf(format, v...))
}

func InfoBlock(block string) {
	block = strings.TrimSpace(block)
	if block == "" {
		return
	}
	for _, line := range strings.Split(block, "\n") {
		Infof("%s", line)
	}
}
