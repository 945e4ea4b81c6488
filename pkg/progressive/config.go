package progressive

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/arzzra/streamprobe/pkg/stream"
)

// Параметры сессии по умолчанию.
const (
	// DefaultMaxReconnects предел автоматических переподключений подряд.
	DefaultMaxReconnects = 3

	// DefaultReconnectBackoff пауза перед переподключением.
	DefaultReconnectBackoff = 2 * time.Second

	// DefaultWatchdogTimeout срок, за который поверхность должна сдвинуться
	// с "нет данных"; иначе выполняется диагностический HEAD.
	DefaultWatchdogTimeout = 5 * time.Second

	// DefaultStatsInterval шаг публикации статистики.
	DefaultStatsInterval = time.Second

	// Настройки живого воспроизведения: компромисс стартовой задержки и
	// устойчивости к ребуферизации.
	DefaultTargetLatency = 2 * time.Second
	DefaultMinBuffer     = 100 * time.Millisecond
	DefaultRateSmoothing = 0.8
)

// Config конфигурация прогрессивной сессии.
type Config struct {
	// SessionID идентификатор сессии для логов и ошибок.
	SessionID string

	// Surface поверхность отображения. Обязательна.
	Surface stream.Surface

	// Provider способность окружения создавать плееры.
	// nil — встроенный HTTPProvider.
	Provider PlayerProvider

	// Type селектор контейнера по умолчанию; Play можно вызывать с
	// переопределением через PlayType.
	Type StreamType

	// Настройки плеера, передаются в PlayerProvider.Create.
	TargetLatency time.Duration
	MinBuffer     time.Duration
	RateSmoothing float64

	MaxReconnects    int
	ReconnectBackoff time.Duration
	WatchdogTimeout  time.Duration
	StatsInterval    time.Duration

	// HTTPClient клиент диагностических HEAD-запросов вотчдога.
	HTTPClient *http.Client

	// Logger журнал сессии. nil — slog.Default().
	Logger *slog.Logger

	// Callbacks колбэки жизненного цикла.
	Callbacks stream.Callbacks
}

// DefaultConfig возвращает конфигурацию по умолчанию (без Surface).
func DefaultConfig() Config {
	return Config{
		Type:             StreamTypeFLV,
		TargetLatency:    DefaultTargetLatency,
		MinBuffer:        DefaultMinBuffer,
		RateSmoothing:    DefaultRateSmoothing,
		MaxReconnects:    DefaultMaxReconnects,
		ReconnectBackoff: DefaultReconnectBackoff,
		WatchdogTimeout:  DefaultWatchdogTimeout,
		StatsInterval:    DefaultStatsInterval,
	}
}

func (c *Config) withDefaults() {
	if c.Provider == nil {
		c.Provider = NewHTTPProvider(nil)
	}
	if c.Type == "" {
		c.Type = StreamTypeFLV
	}
	if c.TargetLatency <= 0 {
		c.TargetLatency = DefaultTargetLatency
	}
	if c.MinBuffer <= 0 {
		c.MinBuffer = DefaultMinBuffer
	}
	if c.RateSmoothing <= 0 || c.RateSmoothing >= 1 {
		c.RateSmoothing = DefaultRateSmoothing
	}
	if c.MaxReconnects <= 0 {
		c.MaxReconnects = DefaultMaxReconnects
	}
	if c.ReconnectBackoff <= 0 {
		c.ReconnectBackoff = DefaultReconnectBackoff
	}
	if c.WatchdogTimeout <= 0 {
		c.WatchdogTimeout = DefaultWatchdogTimeout
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = DefaultStatsInterval
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 5 * time.Second}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.SessionID == "" {
		c.SessionID = "progressive"
	}
}
