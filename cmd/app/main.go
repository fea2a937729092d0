package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/liveocr/internal/ai"
	"github.com/local/liveocr/internal/camera"
	"github.com/local/liveocr/internal/capture"
	cfgpkg "github.com/local/liveocr/internal/config"
	"github.com/local/liveocr/internal/emitter"
	"github.com/local/liveocr/internal/limiter"
	logpkg "github.com/local/liveocr/internal/logger"
	"github.com/local/liveocr/internal/metrics"
	"github.com/local/liveocr/internal/statuscheck"
	"github.com/local/liveocr/internal/web"
)

func main() {
	dotenvErr := cfgpkg.LoadDotEnv()
	cfg := cfgpkg.FromEnv()

	// Init logging
	if err := logpkg.Init(logpkg.OptionsFrom(cfg)); err != nil {
		log.Warn().Err(err).Msg("file logging disabled")
	}
	defer logpkg.Close()
	if dotenvErr != nil {
		log.Warn().Err(dotenvErr).Msg("failed to load .env")
	}
	metrics.Init()

	// Capture configuration
	capCfg := cfg.Capture
	if cfg.CaptureProfile != "" {
		p, err := cfgpkg.LoadProfile(cfg.CaptureProfile, capCfg)
		if err != nil {
			log.Fatal().Err(err).Str("profile", cfg.CaptureProfile).Msg("failed to load capture profile")
		}
		capCfg = p
		log.Info().Str("profile", cfg.CaptureProfile).Msg("capture profile loaded")
	}
	store, err := cfgpkg.NewStore(capCfg, cfg.Provider.APIKey)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid capture configuration")
	}
	if cfg.Provider.APIKey == "" {
		log.Warn().Msg("GEMINI_API_KEY is not set, every cycle will report a configuration error")
	}

	// Rate gate, shared through Redis when configured
	var gate limiter.Gate = limiter.NewCooldown()
	var redisGate *limiter.RedisGate
	if cfg.Redis.URL != "" {
		redisGate, err = limiter.NewRedisGate(limiter.RedisOptions{
			RedisURL: cfg.Redis.URL,
			Provider: "gemini",
			Model:    capCfg.ModelID,
		})
		if err != nil {
			log.Error().Err(err).Msg("redis unavailable, using a process-local rate gate")
		} else {
			gate = redisGate
			defer redisGate.Close()
			log.Info().Str("key", redisGate.Key()).Msg("shared rate gate enabled")
		}
	}

	client := ai.NewGeminiClient(store, store, gate,
		ai.WithModelsFactory(ai.GeminiModels(cfg.Provider.BaseURL, nil)),
		ai.WithRequestTimeout(cfg.Provider.RequestTimeout),
	)

	// Camera
	cam := camera.NewDir(cfg.Camera.Dir, camera.DirOptions{
		Loop:      cfg.Camera.Loop,
		Quality:   cfg.Camera.JPEGQuality,
		ColorMode: camera.ParseColorMode(cfg.Camera.ColorMode),
	})
	if err := cam.Start(context.Background()); err != nil {
		log.Error().Err(err).Str("dir", cfg.Camera.Dir).Msg("camera unavailable, cycles will be skipped")
	}
	defer cam.Stop()

	// Reporting
	history := emitter.NewHistory(cfg.Scheduler.HistorySize)
	sinks := []emitter.Sink{history, emitter.LogSink{}}
	var mqttSink *emitter.MQTTSink
	if cfg.MQTT.Broker != "" {
		mqttSink = emitter.NewMQTTSink(cfg.MQTT)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := mqttSink.Connect(ctx); err != nil {
			log.Error().Err(err).Str("broker", cfg.MQTT.Broker).Msg("mqtt connect failed, retrying in background")
		}
		cancel()
		defer mqttSink.Disconnect()
		sinks = append(sinks, mqttSink)
	}
	reporter := emitter.NewFanout(sinks...)

	// Scheduler
	sched, err := capture.New(cam, client, gate, store, reporter, capture.Options{MaxInFlight: cfg.Scheduler.MaxInFlight})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create scheduler")
	}
	mode, err := capture.ParseMode(cfg.Scheduler.Mode)
	if err != nil {
		log.Warn().Err(err).Msg("falling back to interval mode")
		mode = capture.ModeInterval
	}
	_ = sched.SetMode(mode)
	if cfg.Scheduler.AutoStart {
		if err := sched.Start(mode); err != nil {
			log.Error().Err(err).Msg("failed to start capture")
		}
	}

	// Control API
	checkOpts := statuscheck.Options{Camera: cam, Keys: store, ProviderURL: cfg.Provider.BaseURL}
	if redisGate != nil {
		checkOpts.Redis = redisGate
	}
	if mqttSink != nil {
		checkOpts.MQTT = mqttSink
	}
	api := web.New(sched, history, statuscheck.New(checkOpts), cfg.HTTP.CORSOrigins)
	srv := &http.Server{Addr: ":" + cfg.HTTP.Port, Handler: api.Handler(), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		log.Info().Msgf("HTTP server listening on :%s", cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	if err := sched.Close(ctx); err != nil {
		log.Warn().Err(err).Msg("in-flight cycles did not finish before shutdown")
	}
	log.Info().Interface("usage", sched.Snapshot().Usage).Msg("shutdown complete")
}
