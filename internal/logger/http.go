// 包 logger：出站 HTTP 日志，记录通知投递的方法、地址、状态与耗时
package logger

import (
	"log/slog"
	"net/http"
	"time"
)

type loggingTransport struct {
	l    *slog.Logger
	base http.RoundTripper
}

// Transport：包装 RoundTripper，逐次记录出站请求
// 约束：不读取请求体与响应体；base 为空时使用 http.DefaultTransport
func Transport(l *slog.Logger, base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &loggingTransport{l: l, base: base}
}

func (t *loggingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.base.RoundTrip(r)
	dur := time.Since(start)
	if err != nil {
		t.l.Debug("http_out_error",
			"method", r.Method,
			"url", r.URL.String(),
			"duration_ms", dur.Milliseconds(),
			"err", err,
		)
		return nil, err
	}
	t.l.Debug("http_out",
		"method", r.Method,
		"url", r.URL.String(),
		"status", resp.StatusCode,
		"duration_ms", dur.Milliseconds(),
	)
	return resp, nil
}
