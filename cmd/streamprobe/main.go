// streamprobe сравнивает два механизма доставки живого потока — WebRTC и
// прогрессивный HTTP (FLV/MPEG-TS) — против одного медиасервера и раз в
// секунду публикует статистику обоих: в журнал, в /metrics и в /ws.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arzzra/streamprobe/pkg/harness"
	"github.com/arzzra/streamprobe/pkg/wsfeed"
)

func main() {
	var (
		configPath = flag.String("config", "", "путь к YAML-конфигурации")
		streamName = flag.String("stream", "", "имя потока (переопределяет конфиг)")
		rtcURL     = flag.String("rtc-url", "", "шаблон URL сигналинга, %s — имя потока")
		flvURL     = flag.String("flv-url", "", "шаблон URL прогрессивного потока, %s — имя потока")
		streamType = flag.String("type", "", "контейнер прогрессивного потока: flv|mse|mpegts|m2ts")
		listen     = flag.String("listen", "", "адрес HTTP-наблюдения (/metrics, /ws)")
		verbose    = flag.Bool("v", false, "подробный журнал")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	cfg := harness.DefaultConfig()
	if *configPath != "" {
		loaded, err := harness.Load(*configPath)
		if err != nil {
			log.Error("не удалось прочитать конфигурацию", "path", *configPath, "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *streamName != "" {
		cfg.Stream = *streamName
	}
	if *rtcURL != "" {
		cfg.Realtime.URLTemplate = *rtcURL
	}
	if *flvURL != "" {
		cfg.Progressive.URLTemplate = *flvURL
	}
	if *streamType != "" {
		cfg.Progressive.Type = *streamType
	}
	if *listen != "" {
		cfg.Listen = *listen
	}

	feed := wsfeed.NewBroadcaster(log)
	defer feed.Close()
	metrics := harness.NewMetrics(nil)

	h, err := harness.New(cfg,
		harness.WithLogger(log),
		harness.WithMetrics(metrics),
		harness.WithFeed(feed),
	)
	if err != nil {
		log.Error("не удалось собрать харнесс", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var srv *http.Server
	if cfg.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.Handle("/ws", feed)
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		srv = &http.Server{Addr: cfg.Listen, Handler: mux}
		go func() {
			log.Info("HTTP-наблюдение запущено", "addr", cfg.Listen)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("HTTP-наблюдение остановлено", "error", err)
			}
		}()
	}

	log.Info("сравнение запущено", "stream", cfg.Stream)
	if err := h.Run(ctx); err != nil {
		log.Error("харнесс завершился с ошибкой", "error", err)
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	log.Info("сравнение остановлено")
}
