package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pogom_ingest_cycles_total",
		Help: "Ingestion cycles by outcome",
	}, []string{"status"})
	CycleDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pogom_ingest_cycle_duration_ms",
		Help:    "Ingestion cycle duration in milliseconds",
		Buckets: []float64{5, 10, 20, 50, 100, 200, 500, 1000, 5000},
	})
	ParseErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pogom_parse_errors_total",
		Help: "Snapshots rejected as malformed",
	})
	UpsertedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pogom_upserted_rows_total",
		Help: "Rows written by bulk upsert",
	}, []string{"table"})
	UpsertRetriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pogom_upsert_retries_total",
		Help: "Batch retries after transient storage errors",
	}, []string{"table"})
	CleanupDeletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pogom_cleanup_deleted_rows_total",
		Help: "Rows removed by retention cleanup",
	}, []string{"table"})
	NotifySentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pogom_notify_sent_total",
		Help: "Notification events delivered",
	}, []string{"sink", "kind"})
	NotifyFailTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pogom_notify_fail_total",
		Help: "Notification deliveries that failed",
	}, []string{"sink", "kind"})
	NotifyDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pogom_notify_dropped_total",
		Help: "Notification events dropped because the queue was full",
	}, []string{"sink", "kind"})
)

func init() {
	prometheus.MustRegister(CyclesTotal)
	prometheus.MustRegister(CycleDurationMs)
	prometheus.MustRegister(ParseErrorsTotal)
	prometheus.MustRegister(UpsertedTotal)
	prometheus.MustRegister(UpsertRetriesTotal)
	prometheus.MustRegister(CleanupDeletedTotal)
	prometheus.MustRegister(NotifySentTotal)
	prometheus.MustRegister(NotifyFailTotal)
	prometheus.MustRegister(NotifyDroppedTotal)
}

// 文档注释：返回 Prometheus 指标监听器
// 背景：统一暴露注册指标到 /metrics 路径，供 Prometheus 抓取；在主入口挂载。
func Handler() http.Handler { return promhttp.Handler() }
