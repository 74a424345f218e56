package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hlsclient/internal/config"
	"hlsclient/internal/events"
	"hlsclient/internal/frag"
	"hlsclient/internal/keys"
	"hlsclient/internal/level"
	"hlsclient/internal/loader"
	"hlsclient/internal/logger"
	"hlsclient/internal/media"
	"hlsclient/internal/metrics"
	"hlsclient/internal/playlist"
	"hlsclient/internal/sink"
	"hlsclient/internal/stream"
	"hlsclient/internal/tracker"
	"hlsclient/internal/transmux"
)

func main() {
	// 1. Parse command-line arguments
	playlistURL := flag.String("u", "", "Master playlist URL (required)")
	metricsAddr := flag.String("l", ":9100", "Metrics listen address")
	logLevel := flag.String("L", "info", "Log level (error, warn, info, debug)")
	logFormat := flag.String("F", "json", "Log format (json, text)")
	userAgent := flag.String("A", "hlsclient/1.0", "User agent for origin requests")
	envFile := flag.String("c", "", "Optional .env file with HLS_* overrides")
	flag.Parse()

	// 2. Initialize logger
	log := logger.NewLogger(*logLevel, *logFormat)
	log.Infof("Starting HLS client core...")

	if *playlistURL == "" {
		log.Errorf("A playlist URL is required (-u)")
		os.Exit(1)
	}

	// 3. Load configuration
	var cfg *config.Config
	var err error
	if *envFile != "" {
		cfg, err = config.Load(*envFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log.Errorf("Failed to load configuration: %v", err)
		os.Exit(1)
	}

	// 4. Initialize collaborators
	bus := events.NewBus()
	mtr := metrics.New()
	levels := level.NewState(log)
	track := tracker.New(log)

	plClient := playlist.NewClient(log, *userAgent)
	fragLoader := loader.NewHTTPLoader(plClient.HTTPClient(), log, *userAgent, 20*time.Second)
	keySvc, err := keys.NewService(log, fragLoader, nil)
	if err != nil {
		log.Errorf("Failed to initialize key service: %v", err)
		os.Exit(1)
	}

	// The playback element is a deterministic clock: this binary exercises
	// the scheduling core headlessly.
	element := media.NewFake()
	buf := sink.New(bus, log, func(contentType string, ranges media.TimeRanges) {
		if contentType == "video" {
			element.SetBuffered(ranges)
			if len(ranges) > 0 {
				element.SetReadyState(media.HaveEnoughData)
			}
		}
	})

	reloader := playlist.NewReloader(plClient, levels, bus, log, frag.KindMain)

	ctrl := stream.NewController(stream.Deps{
		Config:     cfg,
		Bus:        bus,
		Log:        log,
		Levels:     levels,
		Tracker:    track,
		Keys:       keySvc,
		Metrics:    mtr,
		FragLoader: fragLoader,
		Transmuxer: func(onResult func(transmux.Result)) transmux.Transmuxer {
			return transmux.NewPassthrough(log, onResult)
		},
		Ranges: buf.Ranges,
		AutoLevel: func(lastKbps float64) int {
			// Highest level whose bitrate fits in 80% of the measured rate.
			best := 0
			for i, lvl := range levels.Levels() {
				if float64(lvl.Bitrate)/1000 <= lastKbps*0.8 {
					best = i
				}
			}
			return best
		},
		WatchLevel: reloader.WatchLevel,
	})

	// 5. Fetch the master playlist and announce it on the bus
	bus.Emit(events.Event{Type: events.ManifestLoading})
	lvls, finalURL, err := plClient.FetchMaster(*playlistURL)
	if err != nil {
		log.Errorf("Failed to fetch master playlist: %v", err)
		os.Exit(1)
	}
	log.Infof("Manifest loaded from %s with %d levels", finalURL, len(lvls))

	ctx, cancel := context.WithCancel(context.Background())
	go reloader.Run(ctx)
	go ctrl.Run(ctx)

	bus.Emit(events.Event{Type: events.ManifestParsed, Levels: lvls})
	ctrl.AttachMedia(element)
	ctrl.StartLoad(cfg.StartPosition)
	element.Play()

	// Advance the simulated playback clock.
	go func() {
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				element.Advance(0.25)
			}
		}
	}()

	// 6. Serve metrics and wait for shutdown
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", mtr.Handler())
	server := &http.Server{Addr: *metricsAddr, Handler: mux}

	go func() {
		log.Infof("Metrics listening on %s", *metricsAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("Could not listen on %s: %v", *metricsAddr, err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Infof("Client is shutting down...")

	ctrl.StopLoad()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Metrics server shutdown failed: %v", err)
		os.Exit(1)
	}

	log.Infof("Client exited gracefully")
}
