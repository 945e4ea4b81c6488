package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/streamprobe/pkg/stream"
)

func newTestSession(t *testing.T, mutate func(*Config)) *Session {
	t.Helper()
	cfg := DefaultConfig()
	cfg.SessionID = "test"
	cfg.Surface = stream.NewMemorySurface()
	// Короткий срок сбора кандидатов, чтобы тесты не ждали
	cfg.GatherTimeout = 200 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := NewSession(cfg)
	require.NoError(t, err)
	t.Cleanup(s.Stop)
	return s
}

// newAnswerServer сигналинг-сервер с настоящим pion-ответчиком: принимает
// оффер сырым текстом и отвечает валидным answer-SDP.
func newAnswerServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		t.Cleanup(func() { _ = pc.Close() })

		if err := pc.SetRemoteDescription(webrtc.SessionDescription{
			Type: webrtc.SDPTypeOffer,
			SDP:  string(body),
		}); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		answer, err := pc.CreateAnswer(nil)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		gathered := webrtc.GatheringCompletePromise(pc)
		if err := pc.SetLocalDescription(answer); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		<-gathered

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"code": 0,
			"sdp":  pc.LocalDescription().SDP,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewSessionRequiresSurface(t *testing.T) {
	_, err := NewSession(Config{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, &stream.StreamError{Code: stream.ErrorCodeSurfaceMissing}))
}

func TestPlayRequiresURL(t *testing.T) {
	s := newTestSession(t, nil)
	err := s.Play(context.Background(), "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, &stream.StreamError{Code: stream.ErrorCodeURLMissing}))
	assert.Equal(t, StateIdle, s.State())
}

func TestStopWithoutHandleIsNoop(t *testing.T) {
	var disconnects atomic.Int32
	s := newTestSession(t, func(c *Config) {
		c.Callbacks.OnDisconnected = func() { disconnects.Add(1) }
	})

	require.NotPanics(t, func() {
		s.Stop()
		s.Stop()
	})
	assert.Equal(t, StateIdle, s.State())
	assert.Zero(t, disconnects.Load())
}

func TestPlayHandshakeAppliesAnswer(t *testing.T) {
	srv := newAnswerServer(t)
	s := newTestSession(t, nil)

	err := s.Play(context.Background(), srv.URL)
	require.NoError(t, err)

	// Remote description применён; connected придёт асинхронно от ICE
	state := s.State()
	assert.Contains(t, []string{StateNegotiating, StateConnected}, state)

	s.Stop()
	assert.Equal(t, StateIdle, s.State())
}

// TestPlayProceedsWithPartialCandidates: если сбор кандидатов не завершился
// в срок, рукопожатие продолжается с тем, что собрано, и не зависает.
func TestPlayProceedsWithPartialCandidates(t *testing.T) {
	srv := newAnswerServer(t)
	s := newTestSession(t, func(c *Config) {
		// Чёрная дыра TEST-NET: сбор server-reflexive кандидатов не завершится
		c.ICEServers = []string{"stun:192.0.2.1:3478"}
		c.GatherTimeout = 100 * time.Millisecond
	})

	done := make(chan error, 1)
	go func() { done <- s.Play(context.Background(), srv.URL) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Play завис, ограничение срока сбора кандидатов не сработало")
	}
}

func TestPlayRejectedByServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"code":1,"msg":"stream not found"}`))
	}))
	defer srv.Close()

	var gotErr atomic.Value
	s := newTestSession(t, func(c *Config) {
		c.Callbacks.OnError = func(err error) { gotErr.Store(err) }
	})

	err := s.Play(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stream not found")
	assert.True(t, errors.Is(err, &stream.StreamError{Code: stream.ErrorCodeSignalingRejected}))

	// Ошибка сообщена и соединение за собой не оставлено
	require.NotNil(t, gotErr.Load())
	assert.Equal(t, StateIdle, s.State())
}

func TestPlayMissingAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"code":0}`))
	}))
	defer srv.Close()

	s := newTestSession(t, nil)
	err := s.Play(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, &stream.StreamError{Code: stream.ErrorCodeMissingAnswer}))
	assert.Equal(t, StateIdle, s.State())
}

// TestPlayReplacesActiveHandle: повторный Play сначала останавливает прежнее
// соединение — после любой последовательности вызовов живо не более одного.
func TestPlayReplacesActiveHandle(t *testing.T) {
	srv := newAnswerServer(t)
	s := newTestSession(t, nil)

	require.NoError(t, s.Play(context.Background(), srv.URL))
	firstEpoch := func() uint64 {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.epoch
	}()

	require.NoError(t, s.Play(context.Background(), srv.URL))
	s.mu.Lock()
	require.NotNil(t, s.handle)
	assert.Greater(t, s.handle.epoch, firstEpoch)
	s.mu.Unlock()
}

func TestStatsLoopStopsAfterStop(t *testing.T) {
	srv := newAnswerServer(t)

	var samples atomic.Int32
	s := newTestSession(t, func(c *Config) {
		c.StatsInterval = 20 * time.Millisecond
		c.Callbacks.OnStats = func(stream.StatsSample) { samples.Add(1) }
	})

	require.NoError(t, s.Play(context.Background(), srv.URL))

	require.Eventually(t, func() bool { return samples.Load() >= 2 },
		2*time.Second, 5*time.Millisecond, "статистика не публикуется")

	s.Stop()
	after := samples.Load()
	time.Sleep(100 * time.Millisecond)
	// Тикер гаснет не позже одного интервала после Stop
	assert.LessOrEqual(t, samples.Load(), after+1)
}
