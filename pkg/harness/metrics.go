package harness

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arzzra/streamprobe/pkg/stream"
)

// Metrics экспортирует показатели обеих сессий в Prometheus.
// Накопительные счётчики сессий публикуются гейджами: сессия отдаёт
// кумулятивные значения с момента запуска, и они обнуляются при перезапуске.
type Metrics struct {
	bytesReceived *prometheus.GaugeVec
	framesDecoded *prometheus.GaugeVec
	droppedFrames *prometheus.GaugeVec
	packetsLost   *prometheus.GaugeVec
	jitterMs      *prometheus.GaugeVec
	latency       *prometheus.GaugeVec
	throughput    *prometheus.GaugeVec

	connects    *prometheus.CounterVec
	disconnects *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
}

// NewMetrics регистрирует метрики. reg == nil — регистратор по умолчанию.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	labels := []string{"variant"}

	return &Metrics{
		bytesReceived: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "streamprobe", Name: "bytes_received",
			Help: "Байт принято текущей сессией",
		}, labels),
		framesDecoded: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "streamprobe", Name: "frames_decoded",
			Help: "Кадров декодировано текущей сессией",
		}, labels),
		droppedFrames: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "streamprobe", Name: "dropped_frames",
			Help: "Кадров сброшено текущей сессией",
		}, labels),
		packetsLost: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "streamprobe", Name: "packets_lost",
			Help: "RTP-пакетов потеряно (realtime)",
		}, labels),
		jitterMs: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "streamprobe", Name: "jitter_ms",
			Help: "Межпакетный джиттер, мс (realtime)",
		}, labels),
		latency: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "streamprobe", Name: "estimated_latency_seconds",
			Help: "Эвристическая оценка сквозной задержки (приближённая)",
		}, labels),
		throughput: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "streamprobe", Name: "throughput_bits_per_second",
			Help: "Мгновенная скорость приёма",
		}, labels),
		connects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamprobe", Name: "connects_total",
			Help: "Переходов в connected/playing",
		}, labels),
		disconnects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamprobe", Name: "disconnects_total",
			Help: "Разрывов соединения",
		}, labels),
		errorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamprobe", Name: "errors_total",
			Help: "Ошибок сессий",
		}, labels),
	}
}

// ObserveSample публикует очередной снимок статистики.
func (m *Metrics) ObserveSample(variant string, s stream.StatsSample) {
	m.bytesReceived.WithLabelValues(variant).Set(float64(s.BytesReceived))
	m.framesDecoded.WithLabelValues(variant).Set(float64(s.FramesDecoded))
	m.droppedFrames.WithLabelValues(variant).Set(float64(s.DroppedFrames))
	m.packetsLost.WithLabelValues(variant).Set(float64(s.PacketsLost))
	m.jitterMs.WithLabelValues(variant).Set(s.JitterMs)
	m.latency.WithLabelValues(variant).Set(s.EstimatedLatencySeconds)
	m.throughput.WithLabelValues(variant).Set(s.ThroughputBitsPerSecond)
}

// Connected учитывает установление соединения.
func (m *Metrics) Connected(variant string) {
	m.connects.WithLabelValues(variant).Inc()
}

// Disconnected учитывает разрыв.
func (m *Metrics) Disconnected(variant string) {
	m.disconnects.WithLabelValues(variant).Inc()
}

// Failed учитывает ошибку сессии.
func (m *Metrics) Failed(variant string) {
	m.errorsTotal.WithLabelValues(variant).Inc()
}
