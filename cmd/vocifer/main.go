// Command vocifer is the main entry point for the Vocifer voice assistant
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/vocifer/vocifer/internal/app"
	"github.com/vocifer/vocifer/internal/assistant"
	"github.com/vocifer/vocifer/internal/config"
	discordbot "github.com/vocifer/vocifer/internal/discord"
	"github.com/vocifer/vocifer/internal/discord/commands"
	"github.com/vocifer/vocifer/internal/discord/voicecmd"
	"github.com/vocifer/vocifer/internal/engine"
	"github.com/vocifer/vocifer/internal/engine/coqui"
	"github.com/vocifer/vocifer/internal/engine/webspeech"
	"github.com/vocifer/vocifer/internal/health"
	"github.com/vocifer/vocifer/internal/observe"
	"github.com/vocifer/vocifer/internal/pipeline/segment"
	"github.com/vocifer/vocifer/internal/settings"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "vocifer: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "vocifer: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(cfg.Server.LogLevel.Level())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("vocifer starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "vocifer",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metric instruments", "err", err)
		return 1
	}

	var checkers []health.Checker

	// ── Settings store ────────────────────────────────────────────────────────
	var store settings.Store
	if dsn := cfg.Settings.PostgresDSN; dsn != "" {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			slog.Error("failed to connect to settings database", "err", err)
			return 1
		}
		defer pool.Close()

		pg := settings.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("failed to migrate settings schema", "err", err)
			return 1
		}
		store = pg
		checkers = append(checkers, health.DatabaseCheck(pool))
		slog.Info("settings store ready", "backend", "postgres")
	} else {
		store = settings.NewMemStore()
		slog.Info("settings store ready", "backend", "memory")
	}

	// ── Recognition engines ───────────────────────────────────────────────────
	recognizers := engine.NewRegistry[engine.Recognizer]()

	ports := make([]int, len(cfg.Recognition.Instances))
	for i, inst := range cfg.Recognition.Instances {
		ports[i] = inst.Port
	}
	speech := webspeech.New(webspeech.Config{
		Exec:    cfg.Recognition.Exec,
		DataDir: cfg.Recognition.DataDir,
		Ports:   ports,
		OnError: func(err error) {
			slog.Error("recognition worker error", "err", err)
		},
	})
	if len(ports) > 0 {
		if err := speech.Setup(ctx); err != nil {
			// Degraded but not fatal: workers relaunch on their own and the
			// readiness probe reports the shortfall.
			slog.Warn("recognition setup incomplete", "err", err)
		}
	}
	recognizers.Register(speech)
	defer speech.Close()
	checkers = append(checkers, health.RecognitionCheck(speech.Counts))

	// ── Synthesis engines ─────────────────────────────────────────────────────
	synthesizers := engine.NewRegistry[engine.Synthesizer]()
	if cfg.Synthesis.BaseURL != "" {
		tts, err := coqui.New(coqui.Config{
			BaseURL:      cfg.Synthesis.BaseURL,
			DefaultVoice: cfg.Synthesis.DefaultVoice,
		})
		if err != nil {
			slog.Error("failed to create synthesis engine", "err", err)
			return 1
		}
		synthesizers.Register(tts)
		defer tts.Close()
	}

	// ── Discord bot ───────────────────────────────────────────────────────────
	bot, err := discordbot.New(ctx, discordbot.Config{
		Token:          cfg.Discord.Token,
		GuildID:        cfg.Discord.GuildID,
		OperatorRoleID: cfg.Discord.OperatorRoleID,
	})
	if err != nil {
		slog.Error("failed to create Discord bot", "err", err)
		return 1
	}
	defer func() {
		if err := bot.Close(); err != nil {
			slog.Warn("discord bot close error", "err", err)
		}
	}()
	checkers = append(checkers, health.DiscordCheck(bot.Connected))

	// ── Call manager ──────────────────────────────────────────────────────────
	stats := discordbot.NewPipelineStats(0)
	shortcuts := voicecmd.New(cfg.Discord.OperatorUserID)

	var manager *app.Manager
	manager = app.NewManager(app.Deps{
		Transport:    bot.Transport,
		Recognizers:  recognizers,
		Synthesizers: synthesizers,
		Settings:     store,
		Metrics:      metrics,
		Defaults:     assistantDefaults(cfg),
		Segmenter:    segmenterConfig(cfg),
		OnTranscript: func(guildID, speaker, destination, text string) {
			stats.IncrTranscripts()
			if a, ok := manager.Get(guildID); ok {
				matched, err := shortcuts.Check(speaker, text, a)
				if err != nil {
					stats.IncrErrors()
					return
				}
				if matched {
					return
				}
			}
			slog.Info("transcript",
				"guild", guildID,
				"speaker", speaker,
				"destination", destination,
				"text", text,
			)
		},
	})
	defer manager.StopAll()

	// ── Slash commands ────────────────────────────────────────────────────────
	commands.NewCallCommands(bot, manager)
	commands.NewSayCommands(bot, manager)
	commands.NewVoiceCommands(bot, manager, synthesizers)

	// ── Dashboard ─────────────────────────────────────────────────────────────
	if channelID := cfg.Discord.DashboardChannelID; channelID != "" {
		dash := discordbot.NewDashboard(discordbot.DashboardConfig{
			Session:   bot.Session(),
			ChannelID: channelID,
			Stats:     stats,
			GetCalls: func() []discordbot.CallSummary {
				infos := manager.Active()
				calls := make([]discordbot.CallSummary, 0, len(infos))
				for _, info := range infos {
					summary := discordbot.CallSummary{
						GuildID:   info.GuildID,
						ChannelID: info.ChannelID,
						StartedAt: info.StartedAt,
					}
					if a, ok := manager.Get(info.GuildID); ok {
						summary.QueueLen = a.Status().QueueLen
					}
					calls = append(calls, summary)
				}
				return calls
			},
		})
		dash.Start(ctx)
		defer dash.Stop(context.Background())
	}

	// ── Health and metrics server ─────────────────────────────────────────────
	if addr := cfg.Server.ListenAddr; addr != "" {
		mux := http.NewServeMux()
		health.New(checkers...).Register(mux)
		mux.Handle("GET /metrics", promhttp.Handler())

		srv := &http.Server{
			Addr:              addr,
			Handler:           observe.Middleware(metrics)(mux),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http server error", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Warn("http server shutdown error", "err", err)
			}
		}()
		slog.Info("health and metrics server listening", "addr", addr)
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if !d.Any() {
			return
		}
		if d.LogLevelChanged {
			logLevel.Set(d.NewLogLevel.Level())
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.RecognitionChanged || d.SynthesisChanged {
			manager.ApplyDefaults(context.Background(), assistantDefaults(new))
			slog.Info("call defaults reloaded")
		}
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("discord bot error", "err", err)
		return 1
	}

	slog.Info("shutdown signal received, stopping…")
	return 0
}

// assistantDefaults derives the per-call defaults from the loaded config.
func assistantDefaults(cfg *config.Config) assistant.Config {
	return assistant.Config{
		Locale:  cfg.Recognition.DefaultLocale,
		Interim: cfg.Recognition.Interim,
		Voice:   cfg.Synthesis.DefaultVoice,
		Speed:   cfg.Synthesis.Speed,
		Pitch:   cfg.Synthesis.Pitch,
	}
}

// segmenterConfig converts the millisecond config knobs into the segmenter's
// duration form. Zero values fall through to the built-in defaults.
func segmenterConfig(cfg *config.Config) segment.Config {
	return segment.Config{
		MinFrames:    cfg.Segmenter.MinFrames,
		ResetWindow:  time.Duration(cfg.Segmenter.ResetWindowMs) * time.Millisecond,
		FinishAfter:  time.Duration(cfg.Segmenter.FinishAfterMs) * time.Millisecond,
		GapThreshold: time.Duration(cfg.Segmenter.GapThresholdMs) * time.Millisecond,
	}
}
