package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "price_watcher"

// Metrics agrupa as métricas Prometheus do agendador
type Metrics struct {
	JobsTotal            *prometheus.CounterVec
	AttemptsTotal        *prometheus.CounterVec
	ExtractionSeconds    *prometheus.HistogramVec
	AlertsTriggeredTotal *prometheus.CounterVec
	NotificationFailures *prometheus.CounterVec
	JobsRunning          prometheus.Gauge
	QueueDepth           prometheus.Gauge
}

// NewMetrics cria e registra as métricas em reg. reg nil usa o registro
// padrão do Prometheus.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		JobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "scheduler",
			Name:      "jobs_total",
			Help:      "Jobs de coleta finalizados por resultado",
		}, []string{"outcome"}),
		AttemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "scheduler",
			Name:      "attempts_total",
			Help:      "Tentativas de coleta por resultado",
		}, []string{"result"}),
		ExtractionSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "scraper",
			Name:      "extraction_duration_seconds",
			Help:      "Duração da extração de uma página",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"store"}),
		AlertsTriggeredTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "alerts",
			Name:      "triggered_total",
			Help:      "Alertas disparados por tipo",
		}, []string{"alert_type"}),
		NotificationFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "notify",
			Name:      "failures_total",
			Help:      "Falhas de entrega por canal",
		}, []string{"channel"}),
		JobsRunning: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "scheduler",
			Name:      "jobs_running",
			Help:      "Jobs em execução",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "scheduler",
			Name:      "queue_depth",
			Help:      "Jobs aguardando um worker",
		}),
	}
}
