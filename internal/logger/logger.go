// 包 logger：统一初始化与获取日志器，避免各模块重复配置；级别与输出格式来自启动配置
package logger

import (
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"pogomap/internal/config"
)

// 默认日志器：在进程级复用，避免多处初始化导致输出不一致
var defaultLogger atomic.Pointer[slog.Logger]

// Setup：按配置初始化默认日志器
// 约束：输出目标固定为标准错误；不在此处管理文件句柄或外部聚合通道
func Setup(cfg config.Log) *slog.Logger {
	l := New(cfg)
	defaultLogger.Store(l)
	return l
}

// New：构造独立日志器，不影响默认日志器
func New(cfg config.Log) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	var h slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		h = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	} else {
		h = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	}
	return slog.New(h)
}

// L：获取默认日志器；未初始化时回退到 info/text
func L() *slog.Logger {
	if l := defaultLogger.Load(); l != nil {
		return l
	}
	return Setup(config.Log{Level: "info", Format: "text"})
}
