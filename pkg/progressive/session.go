package progressive

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/arzzra/streamprobe/pkg/stream"
)

// Проверка на соответствие интерфейсу во время компиляции
var _ stream.Session = (*Session)(nil)

// Session прогрессивная сессия воспроизведения живого потока.
//
// У сессии не более одного активного плеера. Повторный Play сначала
// останавливает предыдущий. Счётчик переподключений живёт на уровне сессии:
// он переживает stop+replay переподключения и обнуляется первым переходом
// в "playing" либо новым внешним Play.
type Session struct {
	cfg Config
	log *slog.Logger

	mu       sync.Mutex
	epoch    uint64
	handle   *progHandle
	attempts int
	playCtx  context.Context
}

// progHandle один запуск плеера. Уничтожается синхронно при Stop или
// замещении; отложенные таймеры и события проверяют актуальность handle.
type progHandle struct {
	epoch uint64
	sm    *fsm.FSM

	player Player
	url    string
	typ    StreamType
	stop   chan struct{}

	watchdog       *time.Timer
	reconnectTimer *time.Timer

	// Флаг первого "playing" после запуска; трогается под mu сессии.
	everPlaying bool

	// Точка отсчёта эвристики задержки; трогает только тикер статистики.
	firstAt  time.Time
	firstPos time.Duration
}

// NewSession создает прогрессивную сессию. Surface обязательна; окружение
// без способности прогрессивного плеера отвергается сразу.
func NewSession(cfg Config) (*Session, error) {
	if cfg.Surface == nil {
		return nil, stream.NewError(stream.ErrorCodeSurfaceMissing, cfg.SessionID,
			"не задана поверхность отображения")
	}
	cfg.withDefaults()
	if !cfg.Provider.Supported() {
		return nil, stream.NewError(stream.ErrorCodeEnvironmentUnsupported, cfg.SessionID,
			"окружение не предоставляет прогрессивный плеер с живой буферизацией")
	}
	return &Session{
		cfg: cfg,
		log: cfg.Logger.With("component", "progressive", "session", cfg.SessionID),
	}, nil
}

// Play запускает воспроизведение с контейнером из конфигурации.
func (s *Session) Play(ctx context.Context, url string) error {
	return s.play(ctx, url, s.cfg.Type, true)
}

// PlayType запускает воспроизведение с переопределённым селектором контейнера.
func (s *Session) PlayType(ctx context.Context, url string, typ StreamType) error {
	if typ == "" {
		typ = s.cfg.Type
	}
	return s.play(ctx, url, typ, true)
}

// play общий путь запуска. fresh=false — внутренний replay переподключения,
// счётчик попыток не сбрасывается.
func (s *Session) play(ctx context.Context, url string, typ StreamType, fresh bool) error {
	if url == "" {
		return stream.NewError(stream.ErrorCodeURLMissing, s.cfg.SessionID, "пустой URL потока")
	}
	s.Stop()

	s.mu.Lock()
	s.epoch++
	if fresh {
		s.attempts = 0
	}
	s.playCtx = ctx
	h := &progHandle{
		epoch: s.epoch,
		sm:    newSessionFSM(),
		url:   url,
		typ:   typ,
		stop:  make(chan struct{}),
	}
	s.handle = h
	s.mu.Unlock()

	player, err := s.cfg.Provider.Create(PlayerConfig{
		Type:          typ,
		TargetLatency: s.cfg.TargetLatency,
		MinBuffer:     s.cfg.MinBuffer,
		RateSmoothing: s.cfg.RateSmoothing,
		Logger:        s.cfg.Logger,
	})
	if err != nil {
		werr := stream.WrapError(stream.ErrorCodeEnvironmentUnsupported, s.cfg.SessionID,
			"сбой создания плеера", err)
		return s.failPlay(h, werr)
	}

	s.mu.Lock()
	if !s.isCurrent(h) {
		s.mu.Unlock()
		_ = player.Destroy()
		return stream.NewError(stream.ErrorCodePlaybackOther, s.cfg.SessionID,
			"сессия замещена во время запуска")
	}
	h.player = player
	s.mu.Unlock()

	player.SetEventHandler(func(ev Event) { s.handleEvent(h, ev) })
	if err := player.Attach(s.cfg.Surface); err != nil {
		return s.failPlay(h, stream.WrapError(stream.ErrorCodePlaybackOther,
			s.cfg.SessionID, "сбой привязки плеера к поверхности", err))
	}

	_ = h.sm.Event(ctx, "load")
	if err := player.Load(ctx, url); err != nil {
		return s.failPlay(h, stream.WrapError(stream.ErrorCodePlaybackOther,
			s.cfg.SessionID, "сбой загрузки потока", err))
	}
	if err := player.Play(); err != nil {
		return s.failPlay(h, stream.WrapError(stream.ErrorCodePlaybackOther,
			s.cfg.SessionID, "сбой старта воспроизведения", err))
	}

	// Таймер взводится под mu с повторной проверкой актуальности handle,
	// иначе Stop из другой горутины может не увидеть только что взведённый
	// таймер и не погасить его.
	s.mu.Lock()
	if !s.isCurrent(h) {
		s.mu.Unlock()
		return stream.NewError(stream.ErrorCodePlaybackOther, s.cfg.SessionID,
			"сессия замещена во время запуска")
	}
	h.watchdog = time.AfterFunc(s.cfg.WatchdogTimeout, func() { s.watchdogCheck(h) })
	s.mu.Unlock()

	go s.statsLoop(h)
	s.log.Info("воспроизведение запущено", "url", url, "type", string(typ))
	return nil
}

func (s *Session) failPlay(h *progHandle, err error) error {
	s.cfg.Callbacks.Error(err)
	s.stopHandle(h)
	return err
}

// Stop останавливает сессию: пауза, выгрузка и уничтожение плеера, сброс
// поверхности, вызов OnDisconnected. Идемпотентен: без активного плеера —
// полный no-op, включая колбэк.
func (s *Session) Stop() {
	s.mu.Lock()
	h := s.handle
	s.handle = nil
	s.mu.Unlock()
	s.teardown(h)
}

func (s *Session) stopHandle(h *progHandle) {
	s.mu.Lock()
	if !s.isCurrent(h) {
		s.mu.Unlock()
		return
	}
	s.handle = nil
	s.mu.Unlock()
	s.teardown(h)
}

func (s *Session) teardown(h *progHandle) {
	if h == nil {
		return
	}
	close(h.stop)
	// Таймеры взводятся под mu; читаем под тем же замком, чтобы не
	// разминуться с параллельным взведением.
	s.mu.Lock()
	watchdog, reconnect := h.watchdog, h.reconnectTimer
	s.mu.Unlock()
	if watchdog != nil {
		watchdog.Stop()
	}
	if reconnect != nil {
		reconnect.Stop()
	}
	if h.player != nil {
		_ = h.player.Pause()
		_ = h.player.Unload()
		_ = h.player.Destroy()
	}
	s.cfg.Surface.Reset()
	s.log.Debug("сессия остановлена")
	s.cfg.Callbacks.Disconnected()
}

// State возвращает текущее состояние машины состояний.
func (s *Session) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return StateIdle
	}
	return s.handle.sm.Current()
}

// Attempts возвращает текущий счётчик переподключений.
func (s *Session) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// current сообщает, остаётся ли h актуальным запуском сессии.
func (s *Session) current(h *progHandle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isCurrent(h)
}

// isCurrent сверяет эпоху handle с эпохой активного запуска. Вызывается
// только под s.mu. Поздний колбэк замещённого запуска несёт устаревшую эпоху
// и отсеивается здесь.
func (s *Session) isCurrent(h *progHandle) bool {
	return s.handle != nil && s.handle.epoch == h.epoch
}

// handleEvent обрабатывает события плеера. Поздние события замещённого
// плеера игнорируются.
func (s *Session) handleEvent(h *progHandle, ev Event) {
	if !s.current(h) {
		return
	}
	ctx := context.Background()

	switch ev.Kind {
	case EventPlaying:
		_ = h.sm.Event(ctx, "play")
		s.mu.Lock()
		s.attempts = 0
		first := !h.everPlaying
		h.everPlaying = true
		s.mu.Unlock()
		s.log.Info("воспроизведение идёт")
		if first {
			s.cfg.Callbacks.Connected()
		}

	case EventWaiting:
		_ = h.sm.Event(ctx, "wait")
		s.log.Debug("буферизация")

	case EventStalled:
		_ = h.sm.Event(ctx, "stall")
		s.log.Warn("данные не поступают")

	case EventError:
		s.handlePlaybackError(h, ev)
	}
}

func (s *Session) handlePlaybackError(h *progHandle, ev Event) {
	code := stream.ErrorCodePlaybackOther
	switch ev.Class {
	case ErrorClassNetwork:
		code = stream.ErrorCodePlaybackNetwork
	case ErrorClassMedia:
		code = stream.ErrorCodePlaybackDecode
	}
	err := stream.WrapError(code, s.cfg.SessionID, "ошибка воспроизведения", ev.Err)

	if ev.Class == ErrorClassNetwork {
		s.mu.Lock()
		canRetry := s.attempts < s.cfg.MaxReconnects
		if canRetry {
			s.attempts++
		}
		attempt := s.attempts
		// Взведение под mu с повторной проверкой: параллельный Stop либо
		// уже видит таймер и гасит его, либо handle уже снят и таймер
		// не взводится вовсе.
		if canRetry && s.isCurrent(h) {
			h.reconnectTimer = time.AfterFunc(s.cfg.ReconnectBackoff, func() {
				s.replay(h)
			})
		}
		s.mu.Unlock()

		if canRetry {
			_ = h.sm.Event(context.Background(), "reconnect")
			s.log.Warn("сетевая ошибка, переподключение",
				"error", ev.Err, "attempt", attempt, "max", s.cfg.MaxReconnects,
				"backoff", s.cfg.ReconnectBackoff)
			return
		}
		s.log.Error("попытки переподключения исчерпаны", "error", ev.Err)
	}

	s.cfg.Callbacks.Error(err)
}

// replay полный stop+replay переподключения: счётчик попыток сохраняется.
func (s *Session) replay(h *progHandle) {
	s.mu.Lock()
	if !s.isCurrent(h) {
		s.mu.Unlock()
		return
	}
	url, typ := h.url, h.typ
	ctx := s.playCtx
	s.mu.Unlock()

	if ctx == nil || ctx.Err() != nil {
		return
	}
	// Ошибка установки уже сообщена через OnError внутри play
	_ = s.play(ctx, url, typ, false)
}

// watchdogCheck через WatchdogTimeout после запуска проверяет, сдвинулась ли
// поверхность с "нет данных". Если нет — диагностический HEAD отличает
// "поток отсутствует" от "поток завис". Только журналирование, состояние
// сессии не меняется.
func (s *Session) watchdogCheck(h *progHandle) {
	if !s.current(h) {
		return
	}
	if s.cfg.Surface.Position() > 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, h.url, nil)
	if err != nil {
		return
	}
	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		s.log.Warn("вотчдог: поток недоступен", "error", err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		s.log.Warn("вотчдог: поток отсутствует на сервере", "status", resp.StatusCode)
	} else {
		s.log.Warn("вотчдог: поток отдаётся, но данные не доходят", "status", resp.StatusCode)
	}
}

// statsLoop публикует снимок статистики раз в StatsInterval, пока плеер жив.
// Завершается по h.stop не позже одного интервала после Stop.
func (s *Session) statsLoop(h *progHandle) {
	ticker := time.NewTicker(s.cfg.StatsInterval)
	defer ticker.Stop()

	var prevBytes uint64
	for {
		select {
		case <-h.stop:
			return
		case now := <-ticker.C:
			if !s.current(h) {
				return
			}
			c := h.player.Counters()

			pos := s.cfg.Surface.Position()
			if h.firstPos == 0 && pos > 0 {
				h.firstAt = now
				h.firstPos = pos
			}

			s.cfg.Callbacks.Stats(stream.StatsSample{
				Timestamp:               now,
				BytesReceived:           c.BytesReceived,
				FramesDecoded:           c.FramesDecoded,
				DroppedFrames:           c.DroppedFrames,
				EstimatedLatencySeconds: stream.EstimateLatency(now, h.firstAt, h.firstPos, pos),
				ThroughputBitsPerSecond: stream.Throughput(c.BytesReceived-prevBytes, s.cfg.StatsInterval),
			})
			prevBytes = c.BytesReceived
		}
	}
}
