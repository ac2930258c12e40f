// Command opsvox is the voice client for the cloud operations assistant. It
// engages a streaming session against the configured assistant endpoint,
// prints the conversation transcript as it arrives, and serves local ops
// probes and metrics.
package main

import (
	"bufio"
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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/opsvox/opsvox/internal/capture"
	"github.com/opsvox/opsvox/internal/config"
	"github.com/opsvox/opsvox/internal/health"
	"github.com/opsvox/opsvox/internal/observe"
	"github.com/opsvox/opsvox/internal/session"
	"github.com/opsvox/opsvox/internal/transport"
	"github.com/opsvox/opsvox/pkg/device"
	"github.com/opsvox/opsvox/pkg/device/mock"
	"github.com/opsvox/opsvox/pkg/identity"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "opsvox.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Configuration (watched for live log-level changes) ─────────────────────
	levelVar := new(slog.LevelVar)
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		if old.Ops.LogLevel != new.Ops.LogLevel {
			levelVar.Set(slogLevel(new.Ops.LogLevel))
			slog.Info("log level changed", "level", new.Ops.LogLevel)
		}
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "opsvox: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "opsvox: %v\n", err)
		}
		return 1
	}
	defer watcher.Stop()
	cfg := watcher.Current()

	// ── Logger ────────────────────────────────────────────────────────────────
	levelVar.Set(slogLevel(cfg.Ops.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar})))

	slog.Info("opsvox starting",
		"config", *configPath,
		"endpoint", cfg.Assistant.Endpoint,
		"ops_addr", cfg.Ops.ListenAddr,
		"log_level", cfg.Ops.LogLevel,
	)

	// ── Identity ──────────────────────────────────────────────────────────────
	ident, err := identity.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "opsvox: set OPSVOX_CREDENTIAL to authenticate with the assistant")
		return 1
	}
	user, _ := ident.CurrentUser()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "opsvox",
	})
	if err != nil {
		slog.Error("telemetry init failed", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Devices ───────────────────────────────────────────────────────────────
	// Hardware audio backends plug in through device.Platform; the in-memory
	// platform keeps the client runnable on machines without audio devices.
	platform := device.Platform(&mock.Platform{
		OpenInputResult:  &mock.InputDevice{},
		OpenOutputResult: &mock.OutputDevice{},
	})

	// ── Session controller ────────────────────────────────────────────────────
	ctrl := session.New(session.Config{
		Endpoint: cfg.Assistant.Endpoint,
		Capture: capture.Config{
			BlockSize:        cfg.Audio.BlockSize,
			EchoCancellation: cfg.Audio.EchoCancellation,
			NoiseSuppression: cfg.Audio.NoiseSuppression,
			AutoGainControl:  cfg.Audio.AutoGainControl,
		},
		TransportOptions: []transport.Option{
			transport.WithConnectTimeout(cfg.Assistant.ConnectTimeout.Std()),
		},
	}, platform, ident, session.WithTranscriptFunc(printTranscript))
	defer ctrl.Close()

	printStartupSummary(cfg, user)

	// ── Ops HTTP server + interaction loop ────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	opsServer := newOpsServer(cfg.Ops.ListenAddr, ctrl, ident)
	g.Go(func() error {
		slog.Info("ops endpoint listening", "addr", cfg.Ops.ListenAddr)
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return opsServer.Shutdown(shutdownCtx)
	})

	if err := ctrl.SetEngaged(gctx, true); err != nil {
		if hint := engageFailureHint(err); hint != "" {
			fmt.Fprintln(os.Stderr, "opsvox: "+hint)
		}
		slog.Error("engage failed", "err", err)
		stop()
	} else {
		slog.Info("session engaged — press Enter to toggle, Ctrl+C to quit")
		go toggleLoop(gctx, ctrl)
	}

	<-gctx.Done()
	slog.Info("shutdown signal received, disengaging")
	ctrl.Close()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// toggleLoop flips the engagement each time the user presses Enter.
func toggleLoop(ctx context.Context, ctrl *session.Controller) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		engaged := ctrl.State() != session.StateIdle
		if err := ctrl.SetEngaged(ctx, !engaged); err != nil {
			if hint := engageFailureHint(err); hint != "" {
				fmt.Fprintln(os.Stderr, "opsvox: "+hint)
			}
			slog.Error("toggle failed", "err", err)
			continue
		}
		if engaged {
			slog.Info("session disengaged — press Enter to re-engage")
		} else {
			slog.Info("session engaged")
		}
	}
}

// engageFailureHint returns a user-facing message for engage failures that
// need action outside the program, or "" when no hint applies. Denied
// microphone access never resolves on retry; the user has to grant the
// permission themselves.
func engageFailureHint(err error) string {
	switch {
	case errors.Is(err, device.ErrDenied):
		return "microphone access denied: grant the permission in your system settings, then re-engage"
	case errors.Is(err, device.ErrUnavailable):
		return "no usable microphone found: connect an input device, then re-engage"
	default:
		return ""
	}
}

// printTranscript writes one transcript entry to stdout as it arrives.
func printTranscript(e session.TranscriptEntry) {
	speaker := "agent"
	if e.IsLocalSpeaker {
		speaker = "you"
	}
	fmt.Printf("[%s] %s: %s\n", time.Now().Format("15:04:05"), speaker, e.Text)
}

// newOpsServer builds the local HTTP server exposing metrics and probes.
func newOpsServer(addr string, ctrl *session.Controller, ident identity.Provider) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(
		health.Engagement(func() string { return ctrl.State().String() }),
		health.Identity(ident),
	).Register(mux)

	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, user string) {
	fmt.Println("╔═══════════════════════════════════════════╗")
	fmt.Println("║          opsvox — startup summary         ║")
	fmt.Println("╠═══════════════════════════════════════════╣")
	printField("Operator", user)
	printField("Endpoint", cfg.Assistant.Endpoint)
	printField("Ops addr", cfg.Ops.ListenAddr)
	printField("Block size", fmt.Sprintf("%d samples", cfg.Audio.BlockSize))
	printField("Echo cancel", onOff(cfg.Audio.EchoCancellation))
	printField("Noise suppress", onOff(cfg.Audio.NoiseSuppression))
	printField("Auto gain", onOff(cfg.Audio.AutoGainControl))
	fmt.Println("╚═══════════════════════════════════════════╝")
}

func printField(name, value string) {
	if len(value) > 23 {
		value = value[:20] + "…"
	}
	fmt.Printf("║  %-15s : %-23s ║\n", name, value)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
