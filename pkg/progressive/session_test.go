package progressive

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/streamprobe/pkg/stream"
)

// mockPlayer управляемый из теста плеер: события вбрасываются напрямую.
type mockPlayer struct {
	mu       sync.Mutex
	handler  func(Event)
	surface  stream.Surface
	counters PlayerCounters

	loadErr  error
	loads    int
	destroys int
}

var _ Player = (*mockPlayer)(nil)

func (m *mockPlayer) Attach(surface stream.Surface) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.surface = surface
	return nil
}

func (m *mockPlayer) SetEventHandler(handler func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
}

func (m *mockPlayer) Load(context.Context, string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	return m.loadErr
}

func (m *mockPlayer) Play() error  { return nil }
func (m *mockPlayer) Pause() error { return nil }
func (m *mockPlayer) Unload() error { return nil }

func (m *mockPlayer) Destroy() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.destroys++
	return nil
}

func (m *mockPlayer) Counters() PlayerCounters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters
}

func (m *mockPlayer) setCounters(c PlayerCounters) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = c
}

func (m *mockPlayer) ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handler != nil && m.loads > 0
}

func (m *mockPlayer) emit(ev Event) {
	m.mu.Lock()
	handler := m.handler
	m.mu.Unlock()
	if handler != nil {
		handler(ev)
	}
}

// mockProvider отдаёт плееры по порядку и помнит их для проверок.
type mockProvider struct {
	mu          sync.Mutex
	unsupported bool
	players     []*mockPlayer
}

var _ PlayerProvider = (*mockProvider)(nil)

func (m *mockProvider) Supported() bool { return !m.unsupported }

func (m *mockProvider) Create(PlayerConfig) (Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &mockPlayer{}
	m.players = append(m.players, p)
	return p, nil
}

func (m *mockProvider) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.players)
}

func (m *mockProvider) player(i int) *mockPlayer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.players[i]
}

// waitPlayer ждёт появления i-го плеера и завершения его запуска.
func (m *mockProvider) waitPlayer(t *testing.T, i int) *mockPlayer {
	t.Helper()
	require.Eventually(t, func() bool {
		return m.count() > i && m.player(i).ready()
	}, 2*time.Second, time.Millisecond, "плеер %d не создан", i)
	return m.player(i)
}

func newMockSession(t *testing.T, mutate func(*Config)) (*Session, *mockProvider) {
	t.Helper()
	provider := &mockProvider{}
	cfg := DefaultConfig()
	cfg.SessionID = "test"
	cfg.Surface = stream.NewMemorySurface()
	cfg.Provider = provider
	cfg.ReconnectBackoff = 5 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := NewSession(cfg)
	require.NoError(t, err)
	t.Cleanup(s.Stop)
	return s, provider
}

func TestProgressiveNewSessionRequiresSurface(t *testing.T) {
	_, err := NewSession(Config{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, &stream.StreamError{Code: stream.ErrorCodeSurfaceMissing}))
}

func TestProgressiveUnsupportedEnvironment(t *testing.T) {
	_, err := NewSession(Config{
		Surface:  stream.NewMemorySurface(),
		Provider: &mockProvider{unsupported: true},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, &stream.StreamError{Code: stream.ErrorCodeEnvironmentUnsupported}))
}

func TestProgressivePlayRequiresURL(t *testing.T) {
	s, _ := newMockSession(t, nil)
	err := s.Play(context.Background(), "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, &stream.StreamError{Code: stream.ErrorCodeURLMissing}))
}

func TestProgressivePlayLifecycle(t *testing.T) {
	var connects atomic.Int32
	s, provider := newMockSession(t, func(c *Config) {
		c.Callbacks.OnConnected = func() { connects.Add(1) }
	})

	require.NoError(t, s.Play(context.Background(), "http://stream/live.flv"))
	assert.Equal(t, StateLoading, s.State())

	p := provider.waitPlayer(t, 0)
	p.emit(Event{Kind: EventPlaying})

	assert.Equal(t, StatePlaying, s.State())
	assert.Equal(t, int32(1), connects.Load())

	// Повторное "playing" (после waiting) не дублирует OnConnected
	p.emit(Event{Kind: EventWaiting})
	p.emit(Event{Kind: EventPlaying})
	assert.Equal(t, int32(1), connects.Load())
}

// TestProgressiveReconnectLimit: ровно MaxReconnects автоматических попыток,
// следующая сетевая ошибка только сообщается наружу.
func TestProgressiveReconnectLimit(t *testing.T) {
	var reported atomic.Value
	var errCount atomic.Int32
	s, provider := newMockSession(t, func(c *Config) {
		c.Callbacks.OnError = func(err error) {
			reported.Store(err)
			errCount.Add(1)
		}
	})

	require.NoError(t, s.Play(context.Background(), "http://stream/live.flv"))

	netErr := Event{Kind: EventError, Class: ErrorClassNetwork, Err: errors.New("connection reset")}
	for i := 0; i < 3; i++ {
		provider.waitPlayer(t, i).emit(netErr)
	}
	// Три переподключения состоялись: живёт четвёртый плеер
	p := provider.waitPlayer(t, 3)
	assert.Equal(t, 3, s.Attempts())
	assert.Zero(t, errCount.Load())

	// Четвёртый сбой подряд — попытки исчерпаны, ошибка уходит наружу
	p.emit(netErr)
	require.Equal(t, int32(1), errCount.Load())
	assert.True(t, errors.Is(reported.Load().(error),
		&stream.StreamError{Code: stream.ErrorCodePlaybackNetwork}))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 4, provider.count(), "после исчерпания попыток плееры не создаются")
}

func TestProgressivePlayingResetsAttempts(t *testing.T) {
	s, provider := newMockSession(t, nil)
	require.NoError(t, s.Play(context.Background(), "http://stream/live.flv"))

	netErr := Event{Kind: EventError, Class: ErrorClassNetwork, Err: errors.New("timeout")}
	provider.waitPlayer(t, 0).emit(netErr)

	p := provider.waitPlayer(t, 1)
	assert.Equal(t, 1, s.Attempts())

	p.emit(Event{Kind: EventPlaying})
	assert.Zero(t, s.Attempts(), "успешный переход в playing обнуляет счётчик")
}

func TestProgressiveFreshPlayResetsAttempts(t *testing.T) {
	s, provider := newMockSession(t, nil)
	require.NoError(t, s.Play(context.Background(), "http://stream/live.flv"))

	netErr := Event{Kind: EventError, Class: ErrorClassNetwork, Err: errors.New("timeout")}
	provider.waitPlayer(t, 0).emit(netErr)
	provider.waitPlayer(t, 1)
	require.Equal(t, 1, s.Attempts())

	require.NoError(t, s.Play(context.Background(), "http://stream/other.flv"))
	assert.Zero(t, s.Attempts())
}

func TestProgressiveNonNetworkErrorNoReconnect(t *testing.T) {
	var reported atomic.Value
	s, provider := newMockSession(t, func(c *Config) {
		c.Callbacks.OnError = func(err error) { reported.Store(err) }
	})
	require.NoError(t, s.Play(context.Background(), "http://stream/live.flv"))

	provider.waitPlayer(t, 0).emit(Event{
		Kind: EventError, Class: ErrorClassMedia, Err: errors.New("bad container"),
	})

	require.NotNil(t, reported.Load())
	assert.True(t, errors.Is(reported.Load().(error),
		&stream.StreamError{Code: stream.ErrorCodePlaybackDecode}))

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, provider.count(), "медиа-ошибка не переподключается")
	assert.Zero(t, s.Attempts())
}

func TestProgressiveStopIdempotent(t *testing.T) {
	var disconnects atomic.Int32
	s, provider := newMockSession(t, func(c *Config) {
		c.Callbacks.OnDisconnected = func() { disconnects.Add(1) }
	})

	// Stop без активного плеера — полный no-op, включая колбэк
	s.Stop()
	assert.Zero(t, disconnects.Load())

	require.NoError(t, s.Play(context.Background(), "http://stream/live.flv"))
	p := provider.waitPlayer(t, 0)

	s.Stop()
	s.Stop()
	assert.Equal(t, int32(1), disconnects.Load())
	assert.Equal(t, StateIdle, s.State())

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Equal(t, 1, p.destroys)
}

// TestProgressiveStopConcurrentWithPlayerError: Stop наперегонки с сетевой
// ошибкой плеера. Таймер переподключения взводится и гасится под одним
// замком, поэтому Stop либо гасит его, либо не даёт взвестись вовсе.
func TestProgressiveStopConcurrentWithPlayerError(t *testing.T) {
	s, provider := newMockSession(t, func(c *Config) {
		// Долгий backoff: состоявшийся replay выдал бы себя лишним плеером
		c.ReconnectBackoff = time.Minute
	})

	netErr := Event{Kind: EventError, Class: ErrorClassNetwork, Err: errors.New("connection reset")}
	const rounds = 25
	for i := 0; i < rounds; i++ {
		require.NoError(t, s.Play(context.Background(), "http://stream/live.flv"))
		p := provider.waitPlayer(t, i)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			p.emit(netErr)
		}()
		go func() {
			defer wg.Done()
			s.Stop()
		}()
		wg.Wait()
		s.Stop()
	}

	assert.Equal(t, rounds, provider.count(), "незагашенный таймер выполнил replay")
	assert.Equal(t, StateIdle, s.State())
}

// TestProgressiveStopConcurrentWithPlay: Stop наперегонки с запуском, пока
// play взводит вотчдог.
func TestProgressiveStopConcurrentWithPlay(t *testing.T) {
	s, _ := newMockSession(t, nil)

	for i := 0; i < 25; i++ {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			// Замещение во время запуска — допустимый исход
			_ = s.Play(context.Background(), "http://stream/live.flv")
		}()
		go func() {
			defer wg.Done()
			s.Stop()
		}()
		wg.Wait()
		s.Stop()
	}
	assert.Equal(t, StateIdle, s.State())
}

func TestProgressiveLateEventsIgnored(t *testing.T) {
	var connects atomic.Int32
	s, provider := newMockSession(t, func(c *Config) {
		c.Callbacks.OnConnected = func() { connects.Add(1) }
	})

	require.NoError(t, s.Play(context.Background(), "http://stream/live.flv"))
	old := provider.waitPlayer(t, 0)

	require.NoError(t, s.Play(context.Background(), "http://stream/live.flv"))
	provider.waitPlayer(t, 1)

	// Событие замещённого плеера не трогает состояние сессии
	old.emit(Event{Kind: EventPlaying})
	assert.Zero(t, connects.Load())
	assert.Equal(t, StateLoading, s.State())
}

func TestProgressiveStatsLoop(t *testing.T) {
	var samples atomic.Int32
	var lastBytes atomic.Uint64
	s, provider := newMockSession(t, func(c *Config) {
		c.StatsInterval = 20 * time.Millisecond
		c.Callbacks.OnStats = func(sample stream.StatsSample) {
			samples.Add(1)
			lastBytes.Store(sample.BytesReceived)
		}
	})

	require.NoError(t, s.Play(context.Background(), "http://stream/live.flv"))
	provider.waitPlayer(t, 0).setCounters(PlayerCounters{BytesReceived: 4096, FramesDecoded: 25})

	require.Eventually(t, func() bool { return samples.Load() >= 2 },
		2*time.Second, 5*time.Millisecond, "статистика не публикуется")
	assert.Equal(t, uint64(4096), lastBytes.Load())

	s.Stop()
	after := samples.Load()
	time.Sleep(100 * time.Millisecond)
	// Тикер гаснет не позже одного интервала после Stop
	assert.LessOrEqual(t, samples.Load(), after+1)
}

// TestProgressiveWatchdogHead: если поверхность не сдвинулась за срок
// вотчдога, уходит диагностический HEAD-запрос к потоку.
func TestProgressiveWatchdogHead(t *testing.T) {
	var heads atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			heads.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, _ := newMockSession(t, func(c *Config) {
		c.WatchdogTimeout = 20 * time.Millisecond
	})

	require.NoError(t, s.Play(context.Background(), srv.URL))
	require.Eventually(t, func() bool { return heads.Load() == 1 },
		2*time.Second, 5*time.Millisecond, "диагностический HEAD не отправлен")
}
