// 程序入口：采集 worker。从标准输入逐行读取扫描快照并入库，同时暴露 /metrics
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/paulmach/orb"

	"pogomap/internal/app"
	"pogomap/internal/config"
	"pogomap/internal/ingest"
	"pogomap/internal/logger"
	"pogomap/internal/metrics"
	"pogomap/internal/migrate"
)

// envelope：一行一个扫描结果，lat/lng 为扫描原点
type envelope struct {
	Lat      float64          `json:"lat"`
	Lng      float64          `json:"lng"`
	Snapshot *ingest.Snapshot `json:"snapshot"`
}

func main() {
	cfg, err := config.Load()
	l := logger.Setup(cfg.Log)
	if err != nil {
		l.Error("config_error", "err", err)
		os.Exit(1)
	}
	l.Debug("log_init_ok")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		var inc *migrate.IncompatibleError
		if errors.As(err, &inc) {
			l.Error("schema_incompatible", "stored", inc.Stored, "supported", inc.Supported)
		} else {
			l.Error("startup_error", "err", err)
		}
		os.Exit(1)
	}
	defer a.Close()
	if a.Scheduler != nil {
		a.Scheduler.Start()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: cfg.Metrics, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		l.Info("metrics_listen", "addr", cfg.Metrics)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("metrics_listen_error", "err", err)
		}
	}()

	lines := make(chan []byte)
	go readLines(os.Stdin, lines)
	for {
		select {
		case <-ctx.Done():
			shutdown(srv)
			return
		case line, ok := <-lines:
			if !ok {
				l.Info("input_closed")
				shutdown(srv)
				return
			}
			handle(ctx, a, line)
		}
	}
}

func readLines(f *os.File, out chan<- []byte) {
	defer close(out)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		b := sc.Bytes()
		if len(b) == 0 {
			continue
		}
		out <- append([]byte(nil), b...)
	}
	if err := sc.Err(); err != nil {
		logger.L().Error("input_read_error", "err", err)
	}
}

// handle：畸形快照跳过；存储错误记录后继续，由上游扫描循环重试
func handle(ctx context.Context, a *app.App, line []byte) {
	l := logger.L()
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		metrics.ParseErrorsTotal.Inc()
		l.Warn("envelope_decode_error", "err", err)
		return
	}
	c, err := a.Ingester.Ingest(ctx, env.Snapshot, orb.Point{env.Lng, env.Lat})
	switch {
	case err == nil:
	case ingest.IsMalformed(err):
		l.Warn("snapshot_skipped", "err", err)
	default:
		l.Error("ingest_error", "err", err, "pokemon", c.Pokemon, "pokestops", c.Pokestops, "gyms", c.Gyms)
	}
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
