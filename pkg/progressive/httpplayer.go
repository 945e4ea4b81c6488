package progressive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arzzra/streamprobe/pkg/stream"
)

// stallTimeout пауза в данных, после которой плеер объявляет stalled.
const stallTimeout = 2 * time.Second

// containerReader общий вид встроенных ридеров контейнеров.
type containerReader interface {
	Next() (stream.MediaSample, error)
}

// countingReader учитывает байты, прочитанные из HTTP-тела.
type countingReader struct {
	r io.Reader
	n *atomic.Uint64
}

func (c *countingReader) Read(b []byte) (int, error) {
	n, err := c.r.Read(b)
	c.n.Add(uint64(n))
	return n, err
}

// HTTPProvider встроенная реализация PlayerProvider: плеер, читающий живой
// поток по HTTP и разбирающий только заголовки контейнера.
type HTTPProvider struct {
	// Client HTTP-клиент плееров. nil — клиент без общего таймаута:
	// тело живого потока читается неограниченно долго.
	Client *http.Client
}

// NewHTTPProvider создает провайдера встроенных HTTP-плееров.
func NewHTTPProvider(client *http.Client) *HTTPProvider {
	return &HTTPProvider{Client: client}
}

// Supported встроенный плеер доступен всегда.
func (p *HTTPProvider) Supported() bool { return true }

// Create создает плеер с настройками живого воспроизведения.
func (p *HTTPProvider) Create(cfg PlayerConfig) (Player, error) {
	if cfg.TargetLatency <= 0 {
		cfg.TargetLatency = 2 * time.Second
	}
	if cfg.MinBuffer <= 0 {
		cfg.MinBuffer = 100 * time.Millisecond
	}
	if cfg.RateSmoothing <= 0 || cfg.RateSmoothing >= 1 {
		cfg.RateSmoothing = 0.8
	}
	client := cfg.HTTPClient
	if client == nil {
		client = p.Client
	}
	if client == nil {
		client = &http.Client{}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &httpPlayer{cfg: cfg, client: client, log: log.With("component", "httpplayer")}, nil
}

type httpPlayer struct {
	cfg    PlayerConfig
	client *http.Client
	log    *slog.Logger

	mu         sync.Mutex
	surface    stream.Surface
	handler    func(Event)
	cancel     context.CancelFunc
	loaded     bool
	paused     bool
	stalled    bool
	stallTimer *time.Timer

	bytes   atomic.Uint64
	frames  atomic.Uint64
	dropped atomic.Uint64
}

func (p *httpPlayer) Attach(surface stream.Surface) error {
	if surface == nil {
		return errors.New("нет поверхности отображения")
	}
	p.mu.Lock()
	p.surface = surface
	p.mu.Unlock()
	return nil
}

func (p *httpPlayer) SetEventHandler(handler func(Event)) {
	p.mu.Lock()
	p.handler = handler
	p.mu.Unlock()
}

// Load начинает загрузку потока. Неблокирующий: чтение идёт в отдельной
// горутине, ошибки доставляются событиями.
func (p *httpPlayer) Load(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loaded {
		return errors.New("плеер уже загружен")
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.loaded = true
	go p.run(runCtx, url)
	return nil
}

func (p *httpPlayer) Play() error {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
	return nil
}

func (p *httpPlayer) Pause() error {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
	return nil
}

func (p *httpPlayer) Unload() error {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.loaded = false
	if p.stallTimer != nil {
		p.stallTimer.Stop()
		p.stallTimer = nil
	}
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

func (p *httpPlayer) Destroy() error {
	_ = p.Unload()
	p.mu.Lock()
	p.handler = nil
	p.surface = nil
	p.mu.Unlock()
	return nil
}

func (p *httpPlayer) Counters() PlayerCounters {
	return PlayerCounters{
		BytesReceived: p.bytes.Load(),
		FramesDecoded: p.frames.Load(),
		DroppedFrames: p.dropped.Load(),
	}
}

func (p *httpPlayer) emit(ev Event) {
	p.mu.Lock()
	handler := p.handler
	p.mu.Unlock()
	if handler != nil {
		handler(ev)
	}
}

// touchStall перезапускает детектор паузы в данных. Возвращает true, если
// данные возобновились после объявленного stalled.
func (p *httpPlayer) touchStall() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	resumed := p.stalled
	p.stalled = false
	if p.stallTimer == nil {
		p.stallTimer = time.AfterFunc(stallTimeout, func() {
			p.mu.Lock()
			p.stalled = true
			p.mu.Unlock()
			p.emit(Event{Kind: EventStalled})
		})
	} else {
		p.stallTimer.Reset(stallTimeout)
	}
	return resumed
}

func (p *httpPlayer) stopStall() {
	p.mu.Lock()
	if p.stallTimer != nil {
		p.stallTimer.Stop()
		p.stallTimer = nil
	}
	p.mu.Unlock()
}

func (p *httpPlayer) run(ctx context.Context, url string) {
	defer p.stopStall()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		p.emit(Event{Kind: EventError, Class: ErrorClassNetwork, Err: err})
		return
	}
	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.emit(Event{Kind: EventError, Class: ErrorClassNetwork, Err: err})
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.emit(Event{Kind: EventError, Class: ErrorClassNetwork,
			Err: fmt.Errorf("поток вернул HTTP %d", resp.StatusCode)})
		return
	}

	cr := &countingReader{r: resp.Body, n: &p.bytes}
	var reader containerReader
	switch containerOf(p.cfg.Type) {
	case StreamTypeMPEGTS:
		reader = newTSReader(cr)
	default:
		reader = newFLVReader(cr)
	}

	var (
		playing   bool
		haveFirst bool
		firstAt   time.Time
		firstTS   time.Duration
		lagEMA    float64
	)
	p.touchStall()

	for {
		sample, err := reader.Next()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			switch {
			case errors.Is(err, errFLVSignature), errors.Is(err, errTSSync):
				p.emit(Event{Kind: EventError, Class: ErrorClassMedia, Err: err})
			case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
				// Живой поток не должен завершаться
				p.emit(Event{Kind: EventError, Class: ErrorClassNetwork,
					Err: fmt.Errorf("поток оборвался: %w", err)})
			default:
				p.emit(Event{Kind: EventError, Class: ErrorClassNetwork, Err: err})
			}
			return
		}
		if p.touchStall() {
			p.emit(Event{Kind: EventPlaying})
		}

		if !haveFirst {
			haveFirst = true
			firstAt = time.Now()
			firstTS = sample.Timestamp
		}

		// Догон прямого эфира: сглаженное отставание сверх целевого сбрасывает
		// неключевые видеокадры, чтобы воспроизведение не отставало от эфира.
		lag := (time.Since(firstAt) - (sample.Timestamp - firstTS)).Seconds()
		lagEMA = p.cfg.RateSmoothing*lagEMA + (1-p.cfg.RateSmoothing)*lag
		if lagEMA > p.cfg.TargetLatency.Seconds() &&
			sample.Kind == stream.MediaKindVideo && !sample.Keyframe {
			p.dropped.Add(1)
			continue
		}

		if sample.Kind == stream.MediaKindVideo {
			p.frames.Add(1)
		}

		p.mu.Lock()
		surface := p.surface
		paused := p.paused
		p.mu.Unlock()
		if surface != nil && !paused {
			_ = surface.WriteSample(sample)
		}

		if !playing && sample.Timestamp-firstTS >= p.cfg.MinBuffer {
			playing = true
			p.emit(Event{Kind: EventPlaying})
		}
	}
}
