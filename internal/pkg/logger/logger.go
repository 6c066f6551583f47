// internal/pkg/logger/logger.go
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// base 是进程级别的根 logger，由 Init 设置
var base = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Init 根据配置初始化根 logger。
// format 为 "console" 时输出人类可读格式，其余情况输出 JSON。
func Init(serviceName, level, format string) {
	var out io.Writer = os.Stdout
	if strings.EqualFold(format, "console") {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.DateTime}
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	base = zerolog.New(out).With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}

// L 返回根 logger
func L() *zerolog.Logger {
	return &base
}

// Ctx 返回一个带有当前 span 的 trace_id / span_id 的 logger。
// 没有活动 span 时返回根 logger。
func Ctx(ctx context.Context) *zerolog.Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return &base
	}
	l := base.With().
		Str("trace_id", spanCtx.TraceID().String()).
		Str("span_id", spanCtx.SpanID().String()).
		Logger()
	return &l
}
