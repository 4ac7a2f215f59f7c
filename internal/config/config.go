package config

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/szibis/thanos-entrypoint/internal/env"
	"github.com/szibis/thanos-entrypoint/internal/objstore"
	"github.com/szibis/thanos-entrypoint/internal/telemetry"
	tlspkg "github.com/szibis/thanos-entrypoint/internal/tls"
)

// version is set at build time via ldflags
var version = "dev"

// EnvPrefix prefixes the variables that default the entrypoint's own flags.
const EnvPrefix = "THANOS_ENTRYPOINT_"

// Config holds the entrypoint configuration. Service options are not part
// of it; they are resolved from the THANOS_* groups of the chosen profile.
type Config struct {
	// Service
	Binary     string
	ConfDir    string
	Subcommand string
	// Passthrough is appended verbatim after the synthesized flags.
	Passthrough []string

	DryRun           bool
	MetricsTextfile  string
	MemoryLimitRatio float64

	// Logging
	LogLevel  string
	LogFormat string

	// Self telemetry (OTLP)
	OTLPEndpoint        string
	OTLPProtocol        string
	OTLPInsecure        bool
	OTLPCAFile          string
	OTLPCertFile        string
	OTLPKeyFile         string
	OTLPShutdownTimeout time.Duration

	// Remote configuration
	EnvFileObjectPath string
	S3                objstore.S3Config

	ShowVersion bool
	ShowHelp    bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Binary:              "/opt/thanos/bin/thanos",
		ConfDir:             "/opt/thanos/conf",
		LogLevel:            "info",
		LogFormat:           "json",
		OTLPProtocol:        "grpc",
		OTLPShutdownTimeout: 5 * time.Second,
	}
}

// Load builds the configuration from the environment snapshot and the
// command line. Flags override THANOS_ENTRYPOINT_* variables, which
// override the defaults.
//
// Parsing stops at the first positional argument: it names the subcommand
// unless --subcommand or THANOS_SUBCOMMAND already did, and everything
// after it is passed to the service untouched. A literal "--" ends the
// entrypoint's flags as well and is itself dropped.
func Load(args []string, e env.Environment) (*Config, error) {
	cfg := DefaultConfig()
	if err := applyEnv(cfg, e); err != nil {
		return nil, err
	}

	fs := newFlagSet(cfg)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	rest := fs.Args()
	if cfg.Subcommand == "" {
		cfg.Subcommand = e.Get("THANOS_SUBCOMMAND")
	}
	switch {
	case cfg.Subcommand == "" && len(rest) > 0:
		cfg.Subcommand, rest = rest[0], rest[1:]
	case len(rest) > 0 && rest[0] == cfg.Subcommand:
		rest = rest[1:]
	}
	if len(rest) > 0 && rest[0] == "--" {
		rest = rest[1:]
	}
	cfg.Passthrough = rest

	cfg.EnvFileObjectPath = e.Get("AWS_S3_ENV_FILE_OBJECT_PATH")
	cfg.S3 = S3ConfigFromEnv(e)
	return cfg, nil
}

// S3ConfigFromEnv reads the object store client settings.
func S3ConfigFromEnv(e env.Environment) objstore.S3Config {
	return objstore.S3Config{
		EndpointURL:        e.Get("AWS_S3_ENDPOINT_URL"),
		Region:             e.Get("AWS_S3_BUCKET_REGION"),
		AccessKeyID:        e.Get("AWS_ACCESS_KEY_ID"),
		SecretAccessKey:    e.Get("AWS_SECRET_ACCESS_KEY"),
		SessionToken:       e.Get("AWS_SESSION_TOKEN"),
		MetadataServiceURL: e.Get("AWS_METADATA_SERVICE_URL"),
		HTTPProxy:          firstOf(e, "HTTP_PROXY", "http_proxy"),
		HTTPSProxy:         firstOf(e, "HTTPS_PROXY", "https_proxy"),
		NoProxy:            firstOf(e, "NO_PROXY", "no_proxy"),
	}
}

func firstOf(e env.Environment, keys ...string) string {
	for _, k := range keys {
		if v, ok := e.Lookup(k); ok {
			return v
		}
	}
	return ""
}

// applyEnv overlays THANOS_ENTRYPOINT_* variables onto cfg.
func applyEnv(cfg *Config, e env.Environment) error {
	strs := map[string]*string{
		"BINARY":           &cfg.Binary,
		"CONF_DIR":         &cfg.ConfDir,
		"LOG_LEVEL":        &cfg.LogLevel,
		"LOG_FORMAT":       &cfg.LogFormat,
		"METRICS_TEXTFILE": &cfg.MetricsTextfile,
		"OTLP_ENDPOINT":    &cfg.OTLPEndpoint,
		"OTLP_PROTOCOL":    &cfg.OTLPProtocol,
		"OTLP_CA_FILE":     &cfg.OTLPCAFile,
		"OTLP_CERT_FILE":   &cfg.OTLPCertFile,
		"OTLP_KEY_FILE":    &cfg.OTLPKeyFile,
	}
	for name, dst := range strs {
		if v, ok := e.Lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}

	bools := map[string]*bool{
		"DRY_RUN":       &cfg.DryRun,
		"OTLP_INSECURE": &cfg.OTLPInsecure,
	}
	for name, dst := range bools {
		v, ok := e.Lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		b, err := parseBool(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = b
	}

	if v, ok := e.Lookup(EnvPrefix + "MEMORY_LIMIT_RATIO"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%sMEMORY_LIMIT_RATIO: %w", EnvPrefix, err)
		}
		cfg.MemoryLimitRatio = f
	}
	if v, ok := e.Lookup(EnvPrefix + "OTLP_SHUTDOWN_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sOTLP_SHUTDOWN_TIMEOUT: %w", EnvPrefix, err)
		}
		cfg.OTLPShutdownTimeout = d
	}
	return nil
}

// parseBool accepts the yes/no spelling used by the service variables as
// well as the strconv forms.
func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "yes", "y", "on":
		return true, nil
	case "no", "n", "off":
		return false, nil
	}
	return strconv.ParseBool(s)
}

func newFlagSet(cfg *Config) *pflag.FlagSet {
	fs := pflag.NewFlagSet("thanos-entrypoint", pflag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.Binary, "binary", cfg.Binary, "Path of the service binary to exec")
	fs.StringVar(&cfg.ConfDir, "conf-dir", cfg.ConfDir, "Directory for fetched and materialized files")
	fs.StringVar(&cfg.Subcommand, "subcommand", cfg.Subcommand, "Service subcommand (default: THANOS_SUBCOMMAND or first argument)")
	fs.BoolVar(&cfg.DryRun, "dry-run", cfg.DryRun, "Print the launch plan as YAML instead of exec'ing")
	fs.StringVar(&cfg.MetricsTextfile, "metrics-textfile", cfg.MetricsTextfile, "Write entrypoint metrics to this node-exporter textfile")
	fs.Float64Var(&cfg.MemoryLimitRatio, "memory-limit-ratio", cfg.MemoryLimitRatio, "Export GOMEMLIMIT as this fraction of the cgroup limit (0 = off)")

	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Entrypoint log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Entrypoint log format: json, logfmt")

	fs.StringVar(&cfg.OTLPEndpoint, "otlp-endpoint", cfg.OTLPEndpoint, "OTLP endpoint for entrypoint logs and metrics (empty = disabled)")
	fs.StringVar(&cfg.OTLPProtocol, "otlp-protocol", cfg.OTLPProtocol, "OTLP protocol: grpc, http")
	fs.BoolVar(&cfg.OTLPInsecure, "otlp-insecure", cfg.OTLPInsecure, "Use a plaintext OTLP connection")
	fs.StringVar(&cfg.OTLPCAFile, "otlp-ca-file", cfg.OTLPCAFile, "CA bundle for the OTLP endpoint")
	fs.StringVar(&cfg.OTLPCertFile, "otlp-cert-file", cfg.OTLPCertFile, "Client certificate for the OTLP endpoint")
	fs.StringVar(&cfg.OTLPKeyFile, "otlp-key-file", cfg.OTLPKeyFile, "Client key for the OTLP endpoint")
	fs.DurationVar(&cfg.OTLPShutdownTimeout, "otlp-shutdown-timeout", cfg.OTLPShutdownTimeout, "Time allowed to flush telemetry before exec")

	fs.BoolVarP(&cfg.ShowVersion, "version", "v", false, "Show version")
	fs.BoolVarP(&cfg.ShowHelp, "help", "h", false, "Show help")
	return fs
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Binary == "" {
		errs = append(errs, "binary must not be empty")
	}
	if c.ConfDir == "" {
		errs = append(errs, "conf-dir must not be empty")
	}
	if c.Subcommand == "" && !c.ShowVersion && !c.ShowHelp {
		errs = append(errs, "subcommand must be set via --subcommand, THANOS_SUBCOMMAND or the first argument")
	}
	if c.MemoryLimitRatio < 0 || c.MemoryLimitRatio > 1 {
		errs = append(errs, fmt.Sprintf("memory-limit-ratio must be between 0.0 and 1.0, got %g", c.MemoryLimitRatio))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log-level must be one of debug, info, warn, error, got %q", c.LogLevel))
	}
	switch c.LogFormat {
	case "json", "logfmt":
	default:
		errs = append(errs, fmt.Sprintf("log-format must be json or logfmt, got %q", c.LogFormat))
	}
	if c.OTLPEndpoint != "" {
		if c.OTLPProtocol != "grpc" && c.OTLPProtocol != "http" {
			errs = append(errs, fmt.Sprintf("otlp-protocol must be grpc or http, got %q", c.OTLPProtocol))
		}
		if (c.OTLPCertFile == "") != (c.OTLPKeyFile == "") {
			errs = append(errs, "otlp-cert-file and otlp-key-file must be set together")
		}
		if c.OTLPInsecure && c.OTLPCAFile != "" {
			errs = append(errs, "otlp-insecure is mutually exclusive with otlp-ca-file")
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.New("configuration validation failed:\n  - " + strings.Join(errs, "\n  - "))
}

// TelemetryTLSConfig returns the OTLP client TLS settings.
func (c *Config) TelemetryTLSConfig() tlspkg.ClientConfig {
	return tlspkg.ClientConfig{
		CAFile:   c.OTLPCAFile,
		CertFile: c.OTLPCertFile,
		KeyFile:  c.OTLPKeyFile,
	}
}

// TelemetryConfig returns the OTLP exporter configuration.
func (c *Config) TelemetryConfig() (telemetry.Config, error) {
	cfg := telemetry.Config{
		Endpoint:        c.OTLPEndpoint,
		Protocol:        c.OTLPProtocol,
		Insecure:        c.OTLPInsecure,
		ShutdownTimeout: c.OTLPShutdownTimeout,
	}
	if c.OTLPEndpoint == "" || c.OTLPInsecure {
		return cfg, nil
	}
	tlsConfig, err := tlspkg.NewClientTLSConfig(c.TelemetryTLSConfig())
	if err != nil {
		return cfg, fmt.Errorf("otlp tls: %w", err)
	}
	cfg.TLS = tlsConfig
	return cfg, nil
}

// Version returns the build version.
func Version() string {
	return version
}

// PrintVersion prints the version.
func PrintVersion(w io.Writer) {
	fmt.Fprintf(w, "thanos-entrypoint version %s\n", version)
}

// PrintUsage prints the command line help.
func PrintUsage(w io.Writer) {
	fs := newFlagSet(DefaultConfig())
	fmt.Fprintf(w, `thanos-entrypoint - configure and launch a Thanos component

USAGE:
    thanos-entrypoint [OPTIONS] [SUBCOMMAND] [-- SERVICE ARGS...]

DESCRIPTION:
    Resolves THANOS_* option groups from inline values, local files or
    s3:// objects, synthesizes the service command line for SUBCOMMAND
    and replaces itself with the service binary.

    Every option below defaults from %s<NAME>, e.g.
    %sLOG_LEVEL for --log-level.

OPTIONS:
%s`, EnvPrefix, EnvPrefix, fs.FlagUsages())
}
