package stream

import (
	"context"
	"time"
)

// MediaKind вид медиа-дорожки.
type MediaKind string

const (
	MediaKindAudio MediaKind = "audio"
	MediaKindVideo MediaKind = "video"
)

// MediaSample одна медиа-единица, переданная на поверхность отображения.
// Payload не декодируется — это полезная нагрузка контейнера/RTP как есть.
type MediaSample struct {
	Kind      MediaKind
	Payload   []byte
	Timestamp time.Duration // медиа-время единицы от начала потока
	Keyframe  bool
}

// Surface поверхность отображения — аналог video-элемента хоста.
// Реализации обязаны быть потокобезопасными: сессия пишет из своих горутин.
type Surface interface {
	// WriteSample принимает очередную медиа-единицу.
	WriteSample(sample MediaSample) error

	// Position возвращает медиа-время последней принятой единицы.
	// 0 означает, что данные ещё не поступали.
	Position() time.Duration

	// Reset сбрасывает поверхность при остановке или замене сессии.
	Reset()
}

// StatsSample неизменяемый снимок статистики сессии.
// Производится с фиксированным шагом 1 секунда, пока соединение активно.
// Сессия не хранит историю — наружу отдаётся только последний снимок.
type StatsSample struct {
	Timestamp time.Time

	BytesReceived uint64
	FramesDecoded uint64
	DroppedFrames uint64

	// Только для realtime-варианта; для прогрессивного всегда 0.
	PacketsLost uint32
	JitterMs    float64

	// EstimatedLatencySeconds — эвристическая оценка сквозной задержки
	// (разница стенного времени и медиа-времени поверхности). Это
	// приближение, а не измеренный round-trip: предполагается, что
	// медиа-время напрямую отражает момент захвата. См. EstimateLatency.
	EstimatedLatencySeconds float64

	ThroughputBitsPerSecond float64
}

// Callbacks колбэки жизненного цикла сессии. Назначаются встраивающим
// приложением до Play. Вызываются синхронно из обработчиков событий сессии,
// поэтому не должны блокировать.
type Callbacks struct {
	OnConnected    func()
	OnDisconnected func()
	OnError        func(err error)
	OnStats        func(sample StatsSample)
}

// Connected безопасно вызывает OnConnected.
func (c Callbacks) Connected() {
	if c.OnConnected != nil {
		c.OnConnected()
	}
}

// Disconnected безопасно вызывает OnDisconnected.
func (c Callbacks) Disconnected() {
	if c.OnDisconnected != nil {
		c.OnDisconnected()
	}
}

// Error безопасно вызывает OnError.
func (c Callbacks) Error(err error) {
	if c.OnError != nil {
		c.OnError(err)
	}
}

// Stats безопасно вызывает OnStats.
func (c Callbacks) Stats(sample StatsSample) {
	if c.OnStats != nil {
		c.OnStats(sample)
	}
}

// Session общий интерфейс сессии воспроизведения живого потока.
type Session interface {
	// Play запускает воспроизведение по URL. Активное соединение, если
	// есть, предварительно останавливается. Возвращает ошибку установки;
	// дальнейшие события доставляются через Callbacks.
	Play(ctx context.Context, url string) error

	// Stop останавливает сессию. Идемпотентен.
	Stop()

	// State текущее состояние машины состояний сессии.
	State() string
}
