// Command quill is the entry point for the Quill sentence correction service.
//
// With -text it corrects one sentence and exits; otherwise it serves the HTTP
// API until interrupted.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MrWong99/quill/internal/app"
	"github.com/MrWong99/quill/internal/config"
	"github.com/MrWong99/quill/internal/correction"
	"github.com/MrWong99/quill/internal/diff"
	"github.com/MrWong99/quill/internal/observe"
	"github.com/MrWong99/quill/internal/refine"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "quill.yaml", "path to the YAML configuration file")
	envFile := flag.String("env", "", "optional .env file loaded before the config is parsed")
	text := flag.String("text", "", `correct this text and exit ("-" reads stdin)`)
	format := flag.String("format", "text", "output format for -text: text or json")
	watch := flag.Bool("watch", true, "reload hot-reloadable settings when the config file changes")
	flag.Parse()

	if *format != "text" && *format != "json" {
		fmt.Fprintf(os.Stderr, "quill: -format must be text or json, got %q\n", *format)
		return 2
	}

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			fmt.Fprintf(os.Stderr, "quill: load env file: %v\n", err)
			return 1
		}
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cliMode := *text != ""
	cfg, err := loadConfig(*configPath, cliMode)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "quill: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "quill: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(cfg.Server.LogLevel.SlogLevel())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		Instance:       cfg.Telemetry.Instance,
		SampleRatio:    cfg.Telemetry.Ratio(),
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := tel.Metrics

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	app.RegisterBuiltinProviders(reg)

	refiner, err := app.BuildRefiner(cfg.Refine, reg, metrics)
	if err != nil {
		slog.Error("failed to build refinement providers", "err", err)
		return 1
	}

	if cliMode {
		return correctOnce(ctx, cfg, refiner, metrics, *text, *format)
	}

	recognizer, err := app.BuildRecognizer(cfg.Speech, reg)
	if err != nil {
		slog.Error("failed to build speech provider", "err", err)
		return 1
	}

	opts := []app.Option{app.WithMetrics(metrics), app.WithLevelVar(&level)}
	if *watch {
		opts = append(opts, app.WithConfigWatch(*configPath))
	}
	application, err := app.New(cfg, &app.Providers{Refiner: refiner, Recognizer: recognizer}, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("quill starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"refine_backends", len(cfg.Refine.Providers),
		"speech", recognizer != nil,
	)

	runErr := application.Run(ctx)
	if runErr != nil {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// loadConfig reads the config file. In CLI mode a missing file is not an
// error; the built-in defaults are used instead.
func loadConfig(path string, cliMode bool) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil || !cliMode || !errors.Is(err, os.ErrNotExist) {
		return cfg, err
	}
	return config.LoadFromReader(strings.NewReader(""))
}

// correctOnce corrects input (or stdin when input is "-") and prints the
// result to stdout.
func correctOnce(ctx context.Context, cfg *config.Config, refiner *refine.Adapter, metrics *observe.Metrics, input, format string) int {
	if input == "-" {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "quill: read stdin: %v\n", err)
			return 1
		}
		input = string(b)
	}

	p, err := app.BuildPipeline(cfg, refiner, metrics)
	if err != nil {
		fmt.Fprintf(os.Stderr, "quill: %v\n", err)
		return 1
	}

	res, err := p.Correct(correction.WithSource(ctx, correction.SourceCLI), input)
	if errors.Is(err, correction.ErrEmptyInput) {
		fmt.Fprintln(os.Stderr, correction.EmptyInputMessage)
		return 1
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "quill: %v\n", err)
		return 1
	}

	if format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			fmt.Fprintf(os.Stderr, "quill: encode result: %v\n", err)
			return 1
		}
		return 0
	}

	fmt.Println(res.Corrected)
	if diff.HasChanges(res.Diff) {
		fmt.Fprintln(os.Stderr, diff.RenderText(res.Diff))
	}
	return 0
}
