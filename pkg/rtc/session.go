package rtc

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"

	"github.com/arzzra/streamprobe/pkg/stream"
)

// Проверка на соответствие интерфейсу во время компиляции
var _ stream.Session = (*Session)(nil)

// Session realtime-сессия воспроизведения живого потока по WebRTC.
//
// У сессии не более одного активного соединения. Повторный Play сначала
// останавливает предыдущее. Асинхронные обработчики (события ICE, чтение
// дорожек, тикер статистики) привязаны к конкретному rtcHandle и проверяют
// его актуальность перед изменением состояния — поздний колбэк замещённого
// соединения игнорируется.
type Session struct {
	cfg Config
	log *slog.Logger

	mu     sync.Mutex
	epoch  uint64
	handle *rtcHandle
}

// rtcHandle одно соединение: peer connection, машина состояний и счётчики.
// Уничтожается синхронно при Stop или замещении.
type rtcHandle struct {
	epoch uint64
	pc    *webrtc.PeerConnection
	sm    *fsm.FSM
	acct  *rtpAccounting
	stop  chan struct{}

	// Точка отсчёта эвристики задержки; трогает только тикер статистики.
	firstAt  time.Time
	firstPos time.Duration
}

// NewSession создает realtime-сессию. Surface обязательна.
func NewSession(cfg Config) (*Session, error) {
	if cfg.Surface == nil {
		return nil, stream.NewError(stream.ErrorCodeSurfaceMissing, cfg.SessionID,
			"не задана поверхность отображения")
	}
	cfg.withDefaults()
	return &Session{
		cfg: cfg,
		log: cfg.Logger.With("component", "rtc", "session", cfg.SessionID),
	}, nil
}

// Play выполняет сигналинг-рукопожатие и запускает воспроизведение.
// Успешный возврат означает применённый answer; переход в connected придёт
// асинхронно по событию состояния ICE. При любом сбое вызывается OnError,
// состояние зачищается через Stop и ошибка возвращается вызывающему.
func (s *Session) Play(ctx context.Context, url string) error {
	if url == "" {
		return stream.NewError(stream.ErrorCodeURLMissing, s.cfg.SessionID, "пустой URL сигналинга")
	}
	s.Stop()

	s.mu.Lock()
	s.epoch++
	h := &rtcHandle{
		epoch: s.epoch,
		sm:    newSessionFSM(),
		acct:  &rtpAccounting{},
		stop:  make(chan struct{}),
	}
	s.handle = h
	s.mu.Unlock()

	if err := s.handshake(ctx, h, url); err != nil {
		s.cfg.Callbacks.Error(err)
		s.stopHandle(h)
		return err
	}
	return nil
}

// Stop останавливает сессию: гасит тикер статистики, закрывает соединение,
// сбрасывает поверхность отображения. Идемпотентен.
func (s *Session) Stop() {
	s.mu.Lock()
	h := s.handle
	s.handle = nil
	s.mu.Unlock()
	s.teardown(h)
}

// stopHandle останавливает h, только если он всё ещё текущий.
func (s *Session) stopHandle(h *rtcHandle) {
	s.mu.Lock()
	if !s.isCurrent(h) {
		s.mu.Unlock()
		return
	}
	s.handle = nil
	s.mu.Unlock()
	s.teardown(h)
}

func (s *Session) teardown(h *rtcHandle) {
	if h == nil {
		return
	}
	close(h.stop)
	if h.pc != nil {
		if err := h.pc.Close(); err != nil {
			s.log.Debug("ошибка закрытия peer connection", "error", err)
		}
	}
	_ = h.sm.Event(context.Background(), "close")
	s.cfg.Surface.Reset()
	s.log.Debug("сессия остановлена")
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

// current сообщает, остаётся ли h актуальным соединением сессии.
func (s *Session) current(h *rtcHandle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isCurrent(h)
}

// isCurrent сверяет эпоху handle с эпохой активного соединения. Вызывается
// только под s.mu. Поздний колбэк замещённого соединения несёт устаревшую
// эпоху и отсеивается здесь.
func (s *Session) isCurrent(h *rtcHandle) bool {
	return s.handle != nil && s.handle.epoch == h.epoch
}

func (s *Session) handshake(ctx context.Context, h *rtcHandle, url string) error {
	_ = h.sm.Event(ctx, "offer")

	iceServers := make([]webrtc.ICEServer, 0, len(s.cfg.ICEServers))
	for _, u := range s.cfg.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{u}})
	}
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return stream.WrapError(stream.ErrorCodeNegotiationFailed, s.cfg.SessionID,
			"сбой создания peer connection", err)
	}

	s.mu.Lock()
	if !s.isCurrent(h) {
		s.mu.Unlock()
		_ = pc.Close()
		return stream.NewError(stream.ErrorCodeNegotiationFailed, s.cfg.SessionID,
			"сессия замещена во время рукопожатия")
	}
	h.pc = pc
	s.mu.Unlock()

	// Приём обоих видов медиа, передача не запрашивается
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return stream.WrapError(stream.ErrorCodeNegotiationFailed, s.cfg.SessionID,
				"сбой добавления трансивера", err)
		}
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		go s.consumeTrack(h, track)
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		s.handleICEState(h, state)
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return stream.WrapError(stream.ErrorCodeNegotiationFailed, s.cfg.SessionID,
			"сбой создания оффера", err)
	}
	gatherDone := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return stream.WrapError(stream.ErrorCodeNegotiationFailed, s.cfg.SessionID,
			"сбой фиксации локального описания", err)
	}

	_ = h.sm.Event(ctx, "gather")
	select {
	case <-gatherDone:
	case <-time.After(s.cfg.GatherTimeout):
		// Продолжаем с частичным набором кандидатов: исчерпывающий сбор на
		// сетях с жёсткими NAT может не завершиться вовсе.
		s.log.Warn("сбор ICE-кандидатов не завершился в срок",
			"timeout", s.cfg.GatherTimeout)
	case <-ctx.Done():
		return stream.WrapError(stream.ErrorCodeNegotiationFailed, s.cfg.SessionID,
			"рукопожатие прервано", ctx.Err())
	}

	local := pc.LocalDescription()
	if local == nil {
		return stream.NewError(stream.ErrorCodeNegotiationFailed, s.cfg.SessionID,
			"локальное описание отсутствует после сбора кандидатов")
	}

	_ = h.sm.Event(ctx, "signal")
	sc := &SignalingClient{
		HTTPClient: s.cfg.HTTPClient,
		Origin:     s.cfg.Origin,
		SessionID:  s.cfg.SessionID,
	}
	answer, err := sc.Exchange(ctx, url, local.SDP)
	if err != nil {
		return err
	}
	s.logAnswer(answer)

	_ = h.sm.Event(ctx, "negotiate")
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		return stream.WrapError(stream.ErrorCodeNegotiationFailed, s.cfg.SessionID,
			"сбой применения remote description", err)
	}

	go s.statsLoop(h)
	s.log.Info("рукопожатие завершено, ожидаем установления ICE", "url", url)
	return nil
}

// logAnswer разбирает answer-SDP для диагностики. Ошибки разбора не
// прерывают рукопожатие — окончательную проверку делает SetRemoteDescription.
func (s *Session) logAnswer(answer string) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(answer)); err != nil {
		s.log.Warn("answer-SDP не разбирается", "error", err)
		return
	}
	kinds := make([]string, 0, len(desc.MediaDescriptions))
	for _, md := range desc.MediaDescriptions {
		kinds = append(kinds, md.MediaName.Media)
	}
	s.log.Debug("получен answer-SDP", "media", kinds)
}

// handleICEState транслирует события состояния ICE в переходы машины
// состояний и колбэки. Единственный источник переходов connected/
// disconnected/failed/closed.
func (s *Session) handleICEState(h *rtcHandle, state webrtc.ICEConnectionState) {
	if !s.current(h) {
		return
	}
	s.log.Debug("состояние ICE изменилось", "state", state.String())

	ctx := context.Background()
	switch state {
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		if err := h.sm.Event(ctx, "establish"); err == nil {
			s.cfg.Callbacks.Connected()
		}
	case webrtc.ICEConnectionStateDisconnected:
		if err := h.sm.Event(ctx, "disconnect"); err == nil {
			s.cfg.Callbacks.Disconnected()
		}
	case webrtc.ICEConnectionStateFailed:
		if err := h.sm.Event(ctx, "fail"); err == nil {
			s.cfg.Callbacks.Error(stream.NewError(stream.ErrorCodeICEFailed,
				s.cfg.SessionID, "ICE-соединение перешло в failed"))
			s.cfg.Callbacks.Disconnected()
		}
	case webrtc.ICEConnectionStateClosed:
		_ = h.sm.Event(ctx, "close")
	}
}

// consumeTrack читает RTP-пакеты входящей дорожки, ведёт счётчики и передаёт
// полезную нагрузку на поверхность отображения.
func (s *Session) consumeTrack(h *rtcHandle, track *webrtc.TrackRemote) {
	video := track.Kind() == webrtc.RTPCodecTypeVideo
	kind := stream.MediaKindAudio
	if video {
		kind = stream.MediaKindVideo
	}
	meter := newTrackMeter(h.acct, track.Codec().ClockRate, video)
	s.log.Debug("входящая дорожка",
		"kind", track.Kind().String(), "codec", track.Codec().MimeType)

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			// Дорожка закрывается вместе с соединением
			return
		}
		if !s.current(h) {
			return
		}
		meter.observe(pkt, pkt.MarshalSize(), time.Now())
		_ = s.cfg.Surface.WriteSample(stream.MediaSample{
			Kind:      kind,
			Payload:   pkt.Payload,
			Timestamp: meter.mediaTime(pkt.Timestamp),
		})
	}
}

// statsLoop публикует снимок статистики раз в StatsInterval, пока соединение
// живо. Завершается по h.stop не позже одного интервала после Stop.
func (s *Session) statsLoop(h *rtcHandle) {
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
			bytes, frames, lost, jitterMs := h.acct.snapshot()

			pos := s.cfg.Surface.Position()
			if h.firstPos == 0 && pos > 0 {
				h.firstAt = now
				h.firstPos = pos
			}

			s.cfg.Callbacks.Stats(stream.StatsSample{
				Timestamp:               now,
				BytesReceived:           bytes,
				FramesDecoded:           frames,
				PacketsLost:             lost,
				JitterMs:                jitterMs,
				EstimatedLatencySeconds: stream.EstimateLatency(now, h.firstAt, h.firstPos, pos),
				ThroughputBitsPerSecond: stream.Throughput(bytes-prevBytes, s.cfg.StatsInterval),
			})
			prevBytes = bytes
		}
	}
}
