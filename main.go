// Command camlive keeps a video source broadcasting continuously to YouTube
// Live. It:
//   - Loads configuration and initializes structured logging.
//   - Restores persisted session state and re-adopts a still-live broadcast.
//   - Runs the rotation control loop: relay supervision, deadline-driven
//     session handoffs, durable state persistence.
//   - Exposes a minimal HTTP server with /healthz, /status, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM: the relay is stopped and the live
// broadcast is ended before exit.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/onnwee/camlive/agent"
	"github.com/onnwee/camlive/authstore"
	"github.com/onnwee/camlive/config"
	"github.com/onnwee/camlive/controller"
	"github.com/onnwee/camlive/crypto"
	"github.com/onnwee/camlive/scheduler"
	"github.com/onnwee/camlive/server"
	"github.com/onnwee/camlive/state"
	"github.com/onnwee/camlive/telemetry"
	"github.com/onnwee/camlive/youtubeapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production
	// relies on real env)
	_ = godotenv.Load()

	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("config invalid", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing("camlive", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// OAuth: file-backed token store, refreshed tokens persisted as they
	// rotate.
	tokens := authstore.NewStore(cfg.TokenFile)
	if cfg.TokenEncKey != "" {
		cipher, err := crypto.NewCipher(cfg.TokenEncKey)
		if err != nil {
			slog.Error("bad TOKEN_ENC_KEY", slog.Any("err", err))
			os.Exit(1)
		}
		tokens = tokens.WithCipher(cipher)
	}
	oc := authstore.OAuthConfig(cfg.YTClientID, cfg.YTClientSecret, cfg.YTRedirectURI, cfg.YTScopes)
	ts, err := tokens.TokenSource(ctx, oc, os.Getenv("YT_REFRESH_TOKEN"))
	if err != nil {
		slog.Error("no usable OAuth token; run the authsetup command first", slog.Any("err", err))
		os.Exit(1)
	}

	yt, err := youtubeapi.New(ctx, ts, youtubeapi.DefaultRetryPolicy())
	if err != nil {
		slog.Error("youtube client init failed", slog.Any("err", err))
		os.Exit(1)
	}

	policy, err := scheduler.NewPolicy(cfg.StreamDuration, cfg.HandoffLeadTime, cfg.Timezone)
	if err != nil {
		slog.Error("invalid rotation policy", slog.Any("err", err))
		os.Exit(1)
	}

	sup := agent.NewSupervisor(agent.NewDockerRuntime(cfg.AgentImage), cfg.SourceURL)
	sup.StopGrace = cfg.AgentStopGrace
	sup.MaxRestarts = cfg.MaxRestarts
	sup.RestartWindow = cfg.RestartWindow

	ctrl := controller.New(yt, sup, state.NewStore(cfg.StateFile), policy, controller.Options{
		TitleTemplate: cfg.TitleTemplate,
		Description:   cfg.Description,
		Privacy:       cfg.Privacy,
		TickInterval:  cfg.TickInterval,
	})

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	go func() {
		if err := server.Start(ctx, ctrl, addr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	slog.Info("starting rotation controller",
		slog.String("source", config.MaskURL(cfg.SourceURL)),
		slog.Duration("stream_duration", cfg.StreamDuration),
		slog.Duration("handoff_lead", cfg.HandoffLeadTime),
		slog.String("http_addr", addr))

	if err := ctrl.Run(ctx); err != nil {
		slog.Error("controller exited with error", slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

// setupLogging configures slog from LOG_LEVEL and LOG_FORMAT.
// Defaults: level=info, format=text.
func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	var handler slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
}
