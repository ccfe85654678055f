package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"pogomap/internal/config"
	"pogomap/internal/logger"
)

// StatusError：回调返回非 2xx
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook %s: http status %d", e.URL, e.StatusCode)
}

// Dispatcher：向每个配置的 URL POST 事件信封
type Dispatcher struct {
	*pump
	urls   []string
	client *http.Client
}

// NewDispatcher：client 为空时使用带超时、记录出站请求日志的默认客户端
func NewDispatcher(cfg config.Webhook, client *http.Client) *Dispatcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: timeout, Transport: logger.Transport(logger.L(), nil)}
	}
	d := &Dispatcher{urls: append([]string(nil), cfg.URLs...), client: client}
	d.pump = newPump("http", cfg.QueueSize, cfg.Workers, timeout, d.post)
	return d
}

// post：逐个 URL 投递，单个失败不影响其余 URL
func (d *Dispatcher) post(ctx context.Context, e Envelope) error {
	b, err := e.encode()
	if err != nil {
		return err
	}
	var errs []error
	for _, url := range d.urls {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := d.client.Do(req)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		_ = resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			errs = append(errs, &StatusError{URL: url, StatusCode: resp.StatusCode})
		}
	}
	return errors.Join(errs...)
}
