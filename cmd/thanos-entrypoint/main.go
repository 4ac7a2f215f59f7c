package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/szibis/thanos-entrypoint/internal/config"
	"github.com/szibis/thanos-entrypoint/internal/entrypoint"
	"github.com/szibis/thanos-entrypoint/internal/env"
	"github.com/szibis/thanos-entrypoint/internal/logging"
	"github.com/szibis/thanos-entrypoint/internal/objstore"
	"github.com/szibis/thanos-entrypoint/internal/resolve"
	"github.com/szibis/thanos-entrypoint/internal/synth"
	"github.com/szibis/thanos-entrypoint/internal/telemetry"
)

func main() {
	environment := env.FromOS()

	cfg, err := config.Load(os.Args[1:], environment)
	if err != nil {
		config.PrintUsage(os.Stderr)
		logging.Fatal("invalid command line", logging.F("error", err.Error()))
	}

	if cfg.ShowHelp {
		config.PrintUsage(os.Stdout)
		os.Exit(0)
	}

	if cfg.ShowVersion {
		config.PrintVersion(os.Stdout)
		os.Exit(0)
	}

	logging.SetLevel(logging.ParseLevel(cfg.LogLevel))
	logging.SetFormat(logging.ParseFormat(cfg.LogFormat))

	if err := cfg.Validate(); err != nil {
		logging.Fatal("invalid configuration", logging.F("error", err.Error()))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel := initTelemetry(ctx, cfg)

	runner := entrypoint.New(cfg, os.Stdout)
	runner.BeforeExec = func() {
		shutdownTelemetry(tel)
		stop()
	}

	if err := runner.Run(ctx, environment); err != nil {
		fatal(tel, "startup failed", errorFields(err))
	}
	shutdownTelemetry(tel)
}

// fatal exits after the failure has been flushed to the collector.
func fatal(tel *telemetry.Telemetry, msg string, f map[string]interface{}) {
	if !tel.Enabled() {
		logging.Fatal(msg, f)
	}
	logging.Error(msg, f)
	shutdownTelemetry(tel)
	os.Exit(1)
}

func initTelemetry(ctx context.Context, cfg *config.Config) *telemetry.Telemetry {
	telCfg, err := cfg.TelemetryConfig()
	if err != nil {
		logging.Fatal("invalid telemetry configuration", logging.F("error", err.Error()))
	}
	tel, err := telemetry.Init(ctx, telCfg, "thanos-entrypoint", config.Version())
	if err != nil {
		logging.Warn("telemetry disabled", logging.F("error", err.Error()))
		return nil
	}
	if tel.Enabled() {
		logging.SetResource(map[string]string{
			"service.name":    "thanos-entrypoint",
			"service.version": config.Version(),
		})
		logging.SetHook(tel.NewLogHook())
	}
	return tel
}

func shutdownTelemetry(tel *telemetry.Telemetry) {
	if !tel.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), tel.ShutdownTimeout())
	defer cancel()
	logging.SetHook(nil)
	if err := tel.Shutdown(ctx); err != nil {
		logging.Warn("telemetry flush failed", logging.F("error", err.Error()))
	}
}

// errorFields exposes the failing group, source variable and mode so the
// operator can find the offending setting.
func errorFields(err error) map[string]interface{} {
	f := logging.F("error", err.Error())

	var se *resolve.SourceError
	if errors.As(err, &se) {
		f["group"] = se.Group
		f["key"] = se.Key
		f["mode"] = se.Mode.String()
	}
	var fe *objstore.FetchError
	if errors.As(err, &fe) {
		f["uri"] = fe.URI
		f["not_found"] = fe.NotFound
	}
	var sy *synth.SynthesisError
	if errors.As(err, &sy) {
		f["group"] = sy.Group
		f["flag"] = sy.Flag
	}
	var pe *env.ParseError
	if errors.As(err, &pe) {
		f["line"] = pe.Line
	}
	return f
}
