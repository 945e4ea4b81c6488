// Package harness сводит обе сессии доставки в одно сравнение: один поток,
// два URL, ступенчатый старт и зеркалирование колбэков в журнал, метрики и
// websocket-ленту. Тонкий презентационный слой — вся логика жизненного цикла
// живёт в сессиях.
package harness

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/arzzra/streamprobe/pkg/progressive"
	"github.com/arzzra/streamprobe/pkg/rtc"
	"github.com/arzzra/streamprobe/pkg/stream"
	"github.com/arzzra/streamprobe/pkg/wsfeed"
)

// Имена вариантов доставки.
const (
	VariantRealtime    = "realtime"
	VariantProgressive = "progressive"
)

// Update сообщение наблюдения, уходящее в websocket-ленту.
type Update struct {
	Type    string              `json:"type"`
	Variant string              `json:"variant"`
	State   string              `json:"state,omitempty"`
	Message string              `json:"message,omitempty"`
	Sample  *stream.StatsSample `json:"sample,omitempty"`
	Time    time.Time           `json:"time"`
}

// Harness харнесс сравнения двух механизмов доставки.
type Harness struct {
	cfg     *Config
	log     *slog.Logger
	metrics *Metrics
	feed    *wsfeed.Broadcaster

	realtime *rtc.Session
	prog     *progressive.Session

	mu   sync.Mutex
	last map[string]stream.StatsSample
}

// Option настройка харнесса.
type Option func(*Harness)

// WithLogger задаёт журнал.
func WithLogger(log *slog.Logger) Option {
	return func(h *Harness) { h.log = log }
}

// WithMetrics подключает экспорт метрик.
func WithMetrics(m *Metrics) Option {
	return func(h *Harness) { h.metrics = m }
}

// WithFeed подключает websocket-ленту.
func WithFeed(b *wsfeed.Broadcaster) Option {
	return func(h *Harness) { h.feed = b }
}

// New собирает харнесс: по сессии на каждый сконфигурированный вариант.
// Сессии независимы и общего состояния не имеют.
func New(cfg *Config, opts ...Option) (*Harness, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h := &Harness{
		cfg:  cfg,
		log:  slog.Default(),
		last: make(map[string]stream.StatsSample),
	}
	for _, opt := range opts {
		opt(h)
	}

	if cfg.Realtime.URLTemplate != "" {
		s, err := rtc.NewSession(rtc.Config{
			SessionID:  VariantRealtime + "-" + cfg.Stream,
			Surface:    stream.NewMemorySurface(),
			ICEServers: cfg.Realtime.ICEServers,
			Logger:     h.log,
			Callbacks:  h.mirror(VariantRealtime),
		})
		if err != nil {
			return nil, fmt.Errorf("realtime-сессия: %w", err)
		}
		h.realtime = s
	}

	if cfg.Progressive.URLTemplate != "" {
		pc := progressive.DefaultConfig()
		pc.SessionID = VariantProgressive + "-" + cfg.Stream
		pc.Surface = stream.NewMemorySurface()
		pc.Type = progressive.StreamType(cfg.Progressive.Type)
		pc.Logger = h.log
		pc.Callbacks = h.mirror(VariantProgressive)
		s, err := progressive.NewSession(pc)
		if err != nil {
			return nil, fmt.Errorf("прогрессивная сессия: %w", err)
		}
		h.prog = s
	}

	return h, nil
}

// Run запускает сравнение: сначала realtime, через StartStagger —
// прогрессивный вариант. Блокируется до отмены контекста, затем
// останавливает обе сессии.
func (h *Harness) Run(ctx context.Context) error {
	if h.realtime == nil && h.prog == nil {
		return fmt.Errorf("не сконфигурирован ни один вариант доставки")
	}

	if h.realtime != nil {
		if err := h.realtime.Play(ctx, h.cfg.RealtimeURL()); err != nil {
			// Ошибка уже зеркалирована через OnError; сравнение продолжается
			// одним вариантом.
			h.log.Error("realtime-вариант не запустился", "error", err)
		}
	}

	if h.prog != nil {
		stagger := h.cfg.StartStagger
		if h.realtime == nil {
			stagger = 0
		}
		select {
		case <-time.After(stagger):
			if err := h.prog.PlayType(ctx, h.cfg.ProgressiveURL(),
				progressive.StreamType(h.cfg.Progressive.Type)); err != nil {
				h.log.Error("прогрессивный вариант не запустился", "error", err)
			}
		case <-ctx.Done():
		}
	}

	<-ctx.Done()
	h.Stop()
	return nil
}

// Stop останавливает обе сессии.
func (h *Harness) Stop() {
	if h.realtime != nil {
		h.realtime.Stop()
	}
	if h.prog != nil {
		h.prog.Stop()
	}
}

// LastSample возвращает последний снимок статистики варианта.
func (h *Harness) LastSample(variant string) (stream.StatsSample, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.last[variant]
	return s, ok
}

// variantState текущее состояние машины состояний варианта.
func (h *Harness) variantState(variant string) string {
	switch variant {
	case VariantRealtime:
		if h.realtime != nil {
			return h.realtime.State()
		}
	case VariantProgressive:
		if h.prog != nil {
			return h.prog.State()
		}
	}
	return ""
}

// mirror зеркалирует колбэки сессии в журнал, метрики и ленту.
func (h *Harness) mirror(variant string) stream.Callbacks {
	return stream.Callbacks{
		OnConnected: func() {
			h.log.Info("соединение установлено", "variant", variant)
			if h.metrics != nil {
				h.metrics.Connected(variant)
			}
			h.publish(Update{Type: "connected", Variant: variant,
				State: h.variantState(variant), Time: time.Now()})
		},
		OnDisconnected: func() {
			h.log.Info("соединение завершено", "variant", variant)
			if h.metrics != nil {
				h.metrics.Disconnected(variant)
			}
			h.mu.Lock()
			delete(h.last, variant)
			h.mu.Unlock()
			h.publish(Update{Type: "disconnected", Variant: variant,
				State: h.variantState(variant), Time: time.Now()})
		},
		OnError: func(err error) {
			h.log.Error("ошибка сессии", "variant", variant, "error", err)
			if h.metrics != nil {
				h.metrics.Failed(variant)
			}
			h.publish(Update{Type: "error", Variant: variant,
				Message: err.Error(), State: h.variantState(variant), Time: time.Now()})
		},
		OnStats: func(sample stream.StatsSample) {
			h.mu.Lock()
			h.last[variant] = sample
			h.mu.Unlock()
			h.log.Debug("статистика",
				"variant", variant,
				"bytes", sample.BytesReceived,
				"frames", sample.FramesDecoded,
				"latency_s", sample.EstimatedLatencySeconds,
				"throughput_bps", sample.ThroughputBitsPerSecond)
			if h.metrics != nil {
				h.metrics.ObserveSample(variant, sample)
			}
			h.publish(Update{Type: "stats", Variant: variant, Sample: &sample,
				State: h.variantState(variant), Time: sample.Timestamp})
		},
	}
}

func (h *Harness) publish(u Update) {
	if h.feed != nil {
		h.feed.Broadcast(u)
	}
}
