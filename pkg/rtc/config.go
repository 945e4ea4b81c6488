package rtc

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/arzzra/streamprobe/pkg/stream"
)

// Параметры рукопожатия по умолчанию.
const (
	// DefaultGatherTimeout ограничивает ожидание полного сбора ICE-кандидатов.
	// Компромисс задержки и полноты: на сетях с жёсткими NAT сбор может не
	// завершиться вовсе, поэтому по таймауту рукопожатие продолжается с тем,
	// что успело собраться.
	DefaultGatherTimeout = 5 * time.Second

	// DefaultSignalTimeout ограничивает HTTP-обмен сигналинга.
	DefaultSignalTimeout = 10 * time.Second

	// DefaultStatsInterval шаг публикации статистики.
	DefaultStatsInterval = time.Second
)

// DefaultICEServers серверы отражения по умолчанию.
var DefaultICEServers = []string{"stun:stun.l.google.com:19302"}

// Config конфигурация realtime-сессии.
type Config struct {
	// SessionID идентификатор сессии для логов и ошибок.
	SessionID string

	// Surface поверхность отображения. Обязательна.
	Surface stream.Surface

	// ICEServers список STUN/TURN серверов. Пустой — DefaultICEServers.
	ICEServers []string

	// HTTPClient клиент для сигналинга. nil — клиент с DefaultSignalTimeout.
	HTTPClient *http.Client

	// Origin значение заголовка Origin сигналинг-запроса.
	// Пустое — выводится из URL сигналинга.
	Origin string

	GatherTimeout time.Duration
	StatsInterval time.Duration

	// Logger журнал сессии. nil — slog.Default().
	Logger *slog.Logger

	// Callbacks колбэки жизненного цикла.
	Callbacks stream.Callbacks
}

// DefaultConfig возвращает конфигурацию по умолчанию (без Surface).
func DefaultConfig() Config {
	return Config{
		GatherTimeout: DefaultGatherTimeout,
		StatsInterval: DefaultStatsInterval,
	}
}

func (c *Config) withDefaults() {
	if len(c.ICEServers) == 0 {
		c.ICEServers = DefaultICEServers
	}
	if c.GatherTimeout <= 0 {
		c.GatherTimeout = DefaultGatherTimeout
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = DefaultStatsInterval
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: DefaultSignalTimeout}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.SessionID == "" {
		c.SessionID = "rtc"
	}
}
