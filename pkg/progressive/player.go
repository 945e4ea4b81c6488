package progressive

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/arzzra/streamprobe/pkg/stream"
)

// StreamType селектор контейнера прогрессивного потока.
type StreamType string

const (
	StreamTypeFLV    StreamType = "flv"
	StreamTypeMSE    StreamType = "mse"
	StreamTypeMPEGTS StreamType = "mpegts"
	StreamTypeM2TS   StreamType = "m2ts"
)

// containerOf сводит селектор к формату контейнера. mse исторически
// обозначает FLV-поток, отдаваемый через MSE-плеер хоста.
func containerOf(t StreamType) StreamType {
	switch t {
	case StreamTypeMPEGTS, StreamTypeM2TS:
		return StreamTypeMPEGTS
	default:
		return StreamTypeFLV
	}
}

// EventKind вид события плеера. Явное перечисление вместо рефлексивного
// перебора таблицы событий сторонней библиотеки.
type EventKind int

const (
	EventPlaying EventKind = iota
	EventWaiting
	EventStalled
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventPlaying:
		return "playing"
	case EventWaiting:
		return "waiting"
	case EventStalled:
		return "stalled"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// ErrorClass класс ошибки плеера. Автоматическое переподключение положено
// только сетевому классу.
type ErrorClass int

const (
	ErrorClassNone ErrorClass = iota
	ErrorClassNetwork
	ErrorClassMedia
	ErrorClassOther
)

func (c ErrorClass) String() string {
	switch c {
	case ErrorClassNetwork:
		return "network"
	case ErrorClassMedia:
		return "media"
	case ErrorClassOther:
		return "other"
	default:
		return "none"
	}
}

// Event событие плеера. Для EventError заполнены Class и Err.
type Event struct {
	Kind  EventKind
	Class ErrorClass
	Err   error
}

// PlayerCounters накопительные счётчики плеера с момента Load.
type PlayerCounters struct {
	BytesReceived uint64
	FramesDecoded uint64
	DroppedFrames uint64
}

// PlayerConfig параметры создания плеера. Настройки догона прямого эфира —
// компромисс стартовой задержки и устойчивости к ребуферизации.
type PlayerConfig struct {
	Type StreamType

	// TargetLatency целевая сквозная задержка догона (~2s).
	TargetLatency time.Duration

	// MinBuffer минимальный стартовый буфер (~0.1s).
	MinBuffer time.Duration

	// RateSmoothing коэффициент сглаживания оценки отставания (0.8).
	RateSmoothing float64

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Player абстракция прогрессивного плеера хоста.
// Методы жизненного цикла зеркалируют типичный демуксер-плеер:
// Attach → Load → Play → Pause → Unload → Destroy.
type Player interface {
	Attach(surface stream.Surface) error
	Load(ctx context.Context, url string) error
	Play() error
	Pause() error
	Unload() error
	Destroy() error

	Counters() PlayerCounters

	// SetEventHandler регистрирует получателя событий. Вызывается до Load.
	SetEventHandler(handler func(Event))
}

// PlayerProvider способность окружения создавать плееры.
type PlayerProvider interface {
	// Supported сообщает, доступна ли способность и пригодна ли она для
	// живой буферизации. false — сессия отказывает быстро, ещё при создании.
	Supported() bool

	Create(cfg PlayerConfig) (Player, error)
}
