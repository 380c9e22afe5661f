package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "agentstudio"

// Upload 汇总附件上传流水线的指标。nil 接收者上的方法均为空操作。
type Upload struct {
	tasks    *prometheus.CounterVec
	rejected *prometheus.CounterVec
	phases   *prometheus.HistogramVec
	inFlight prometheus.Gauge
	bytes    prometheus.Counter
}

// NewUpload 创建上传指标并注册到 reg。reg 为空时使用默认注册表。
func NewUpload(reg prometheus.Registerer) *Upload {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Upload{
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "tasks_total",
			Help:      "Upload tasks that reached a terminal status.",
		}, []string{"status", "code"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "rejected_files_total",
			Help:      "Files dropped from a batch because their extension is not accepted.",
		}, []string{"extension"}),
		phases: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "phase_duration_seconds",
			Help:      "Duration of each upload phase.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"phase", "outcome"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "in_flight",
			Help:      "Upload pipelines currently running.",
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "transferred_bytes_total",
			Help:      "Bytes successfully transferred to storage.",
		}),
	}
	reg.MustRegister(m.tasks, m.rejected, m.phases, m.inFlight, m.bytes)
	return m
}

// FileRejected 记录一次被扩展名过滤掉的文件。
func (m *Upload) FileRejected(extension string) {
	if m == nil {
		return
	}
	if extension == "" {
		extension = "none"
	}
	m.rejected.WithLabelValues(extension).Inc()
}

// ObservePhase 记录单个阶段的耗时。
func (m *Upload) ObservePhase(phase string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.phases.WithLabelValues(phase, outcome).Observe(duration.Seconds())
}

// TaskFinished 记录任务进入终态。
func (m *Upload) TaskFinished(status, code string) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(status, code).Inc()
}

// Transferred 累加成功传输的字节数。
func (m *Upload) Transferred(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.bytes.Add(float64(n))
}

// PipelineStarted 与 PipelineFinished 成对调用。
func (m *Upload) PipelineStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

// PipelineFinished 见 PipelineStarted。
func (m *Upload) PipelineFinished() {
	if m == nil {
		return
	}
	m.inFlight.Dec()
}
