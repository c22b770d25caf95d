package audit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus 指标，经 /metrics 暴露
var (
	auditJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "forumaudit",
		Name:      "jobs_total",
		Help:      "审核任务执行次数，按内容类型和结果状态分",
	}, []string{"content_type", "status"})

	llmRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "forumaudit",
		Name:      "llm_request_duration_seconds",
		Help:      "模型请求耗时",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"model", "status"})

	actionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "forumaudit",
		Name:      "actions_total",
		Help:      "处置动作执行次数，按动作和结果分",
	}, []string{"action", "status"})

	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "forumaudit",
		Name:      "notifications_total",
		Help:      "违规通知发送次数",
	}, []string{"result"})
)

func observeJob(contentType string, status Status) {
	auditJobsTotal.WithLabelValues(contentType, string(status)).Inc()
}

func observeLLMRequest(model string, elapsed time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	llmRequestDuration.WithLabelValues(model, status).Observe(elapsed.Seconds())
}

func observeAction(action Action, status string) {
	actionsTotal.WithLabelValues(string(action), status).Inc()
}

func observeNotification(sent bool, err error) {
	switch {
	case err != nil:
		notificationsTotal.WithLabelValues("error").Inc()
	case sent:
		notificationsTotal.WithLabelValues("sent").Inc()
	default:
		notificationsTotal.WithLabelValues("skipped").Inc()
	}
}
