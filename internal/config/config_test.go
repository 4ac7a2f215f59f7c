package config

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/szibis/thanos-entrypoint/internal/env"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Binary != "/opt/thanos/bin/thanos" {
		t.Errorf("Binary = %q", cfg.Binary)
	}
	if cfg.ConfDir != "/opt/thanos/conf" {
		t.Errorf("ConfDir = %q", cfg.ConfDir)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "json" {
		t.Errorf("log = %q/%q", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.OTLPProtocol != "grpc" || cfg.OTLPShutdownTimeout != 5*time.Second {
		t.Errorf("otlp = %q/%v", cfg.OTLPProtocol, cfg.OTLPShutdownTimeout)
	}
}

func TestLoadSubcommandAndPassthrough(t *testing.T) {
	tests := []struct {
		name            string
		args            []string
		vars            map[string]string
		wantSubcommand  string
		wantPassthrough []string
	}{
		{
			name:           "positional",
			args:           []string{"sidecar"},
			wantSubcommand: "sidecar",
		},
		{
			name:            "positional with service args",
			args:            []string{"--dry-run", "store", "--", "--store.grpc.series-max-concurrency=5"},
			wantSubcommand:  "store",
			wantPassthrough: []string{"--store.grpc.series-max-concurrency=5"},
		},
		{
			name:            "arguments after subcommand are not parsed",
			args:            []string{"query", "--dry-run"},
			wantSubcommand:  "query",
			wantPassthrough: []string{"--dry-run"},
		},
		{
			name:            "double dash before subcommand",
			args:            []string{"--", "compact", "--debug.halt"},
			wantSubcommand:  "compact",
			wantPassthrough: []string{"--debug.halt"},
		},
		{
			name:           "environment",
			vars:           map[string]string{"THANOS_SUBCOMMAND": "receive"},
			wantSubcommand: "receive",
		},
		{
			name:            "environment with repeated positional",
			args:            []string{"receive", "--", "--receive.local-endpoint=x"},
			vars:            map[string]string{"THANOS_SUBCOMMAND": "receive"},
			wantSubcommand:  "receive",
			wantPassthrough: []string{"--receive.local-endpoint=x"},
		},
		{
			name:            "flag wins over environment",
			args:            []string{"--subcommand=store", "--", "--extra"},
			vars:            map[string]string{"THANOS_SUBCOMMAND": "query"},
			wantSubcommand:  "store",
			wantPassthrough: []string{"--extra"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.args, env.New(tt.vars))
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if cfg.Subcommand != tt.wantSubcommand {
				t.Errorf("Subcommand = %q, want %q", cfg.Subcommand, tt.wantSubcommand)
			}
			if len(cfg.Passthrough) != 0 || len(tt.wantPassthrough) != 0 {
				if !reflect.DeepEqual(cfg.Passthrough, tt.wantPassthrough) {
					t.Errorf("Passthrough = %q, want %q", cfg.Passthrough, tt.wantPassthrough)
				}
			}
		})
	}
}

func TestLoadEnvironmentDefaults(t *testing.T) {
	e := env.New(map[string]string{
		"THANOS_ENTRYPOINT_BINARY":                "/usr/bin/thanos",
		"THANOS_ENTRYPOINT_CONF_DIR":              "/tmp/conf",
		"THANOS_ENTRYPOINT_DRY_RUN":               "yes",
		"THANOS_ENTRYPOINT_LOG_LEVEL":             "debug",
		"THANOS_ENTRYPOINT_LOG_FORMAT":            "logfmt",
		"THANOS_ENTRYPOINT_MEMORY_LIMIT_RATIO":    "0.85",
		"THANOS_ENTRYPOINT_OTLP_ENDPOINT":         "otel:4317",
		"THANOS_ENTRYPOINT_OTLP_INSECURE":         "true",
		"THANOS_ENTRYPOINT_OTLP_SHUTDOWN_TIMEOUT": "2s",
		"AWS_S3_ENV_FILE_OBJECT_PATH":             "s3://config/thanos.env",
		"AWS_S3_ENDPOINT_URL":                     "http://minio:9000",
		"AWS_S3_BUCKET_REGION":                    "eu-west-1",
		"AWS_ACCESS_KEY_ID":                       "AKIA",
		"https_proxy":                             "http://proxy:3128",
		"NO_PROXY":                                "minio",
	})

	cfg, err := Load([]string{"sidecar"}, e)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Binary != "/usr/bin/thanos" || cfg.ConfDir != "/tmp/conf" {
		t.Errorf("paths = %q, %q", cfg.Binary, cfg.ConfDir)
	}
	if !cfg.DryRun {
		t.Error("DryRun should follow THANOS_ENTRYPOINT_DRY_RUN=yes")
	}
	if cfg.LogLevel != "debug" || cfg.LogFormat != "logfmt" {
		t.Errorf("log = %q/%q", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.MemoryLimitRatio != 0.85 {
		t.Errorf("MemoryLimitRatio = %v", cfg.MemoryLimitRatio)
	}
	if cfg.OTLPEndpoint != "otel:4317" || !cfg.OTLPInsecure || cfg.OTLPShutdownTimeout != 2*time.Second {
		t.Errorf("otlp = %q insecure=%v timeout=%v", cfg.OTLPEndpoint, cfg.OTLPInsecure, cfg.OTLPShutdownTimeout)
	}
	if cfg.EnvFileObjectPath != "s3://config/thanos.env" {
		t.Errorf("EnvFileObjectPath = %q", cfg.EnvFileObjectPath)
	}
	if cfg.S3.EndpointURL != "http://minio:9000" || cfg.S3.Region != "eu-west-1" || cfg.S3.AccessKeyID != "AKIA" {
		t.Errorf("S3 = %+v", cfg.S3)
	}
	if cfg.S3.HTTPSProxy != "http://proxy:3128" || cfg.S3.NoProxy != "minio" {
		t.Errorf("proxy = %q / %q", cfg.S3.HTTPSProxy, cfg.S3.NoProxy)
	}
}

func TestLoadFlagsOverrideEnvironment(t *testing.T) {
	e := env.New(map[string]string{
		"THANOS_ENTRYPOINT_LOG_LEVEL": "debug",
		"THANOS_ENTRYPOINT_DRY_RUN":   "yes",
	})
	cfg, err := Load([]string{"--log-level=warn", "--dry-run=false", "--conf-dir", "/conf", "store"}, e)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn", cfg.LogLevel)
	}
	if cfg.DryRun {
		t.Error("--dry-run=false should override the environment")
	}
	if cfg.ConfDir != "/conf" {
		t.Errorf("ConfDir = %q", cfg.ConfDir)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		vars map[string]string
	}{
		{"unknown flag", []string{"--nope"}, nil},
		{"bad bool", nil, map[string]string{"THANOS_ENTRYPOINT_DRY_RUN": "maybe"}},
		{"bad ratio", nil, map[string]string{"THANOS_ENTRYPOINT_MEMORY_LIMIT_RATIO": "most"}},
		{"bad duration", nil, map[string]string{"THANOS_ENTRYPOINT_OTLP_SHUTDOWN_TIMEOUT": "soon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(tt.args, env.New(tt.vars)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestLoadVersionAndHelp(t *testing.T) {
	cfg, err := Load([]string{"-v"}, env.New(nil))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.ShowVersion {
		t.Error("-v should set ShowVersion")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("version without a subcommand should validate: %v", err)
	}

	cfg, err = Load([]string{"--help"}, env.New(nil))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.ShowHelp {
		t.Error("--help should set ShowHelp")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"no subcommand", func(c *Config) { c.Subcommand = "" }, "subcommand must be set"},
		{"empty binary", func(c *Config) { c.Binary = "" }, "binary must not be empty"},
		{"ratio too high", func(c *Config) { c.MemoryLimitRatio = 1.5 }, "memory-limit-ratio must be between"},
		{"bad level", func(c *Config) { c.LogLevel = "trace" }, "log-level must be one of"},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }, "log-format must be json or logfmt"},
		{"bad protocol", func(c *Config) {
			c.OTLPEndpoint = "otel:4317"
			c.OTLPProtocol = "udp"
		}, "otlp-protocol must be grpc or http"},
		{"protocol ignored without endpoint", func(c *Config) { c.OTLPProtocol = "udp" }, ""},
		{"cert without key", func(c *Config) {
			c.OTLPEndpoint = "otel:4317"
			c.OTLPCertFile = "/tls/client.crt"
		}, "must be set together"},
		{"insecure with ca", func(c *Config) {
			c.OTLPEndpoint = "otel:4317"
			c.OTLPInsecure = true
			c.OTLPCAFile = "/tls/ca.crt"
		}, "mutually exclusive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Subcommand = "sidecar"
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "loud"
	cfg.LogFormat = "xml"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	if got := strings.Count(err.Error(), "\n  - "); got != 3 {
		t.Errorf("expected 3 issues, got %d in %q", got, err.Error())
	}
}

func TestTelemetryConfig(t *testing.T) {
	cfg := DefaultConfig()
	tc, err := cfg.TelemetryConfig()
	if err != nil {
		t.Fatalf("TelemetryConfig() error = %v", err)
	}
	if tc.Endpoint != "" || tc.TLS != nil {
		t.Errorf("disabled telemetry config = %+v", tc)
	}

	cfg.OTLPEndpoint = "otel:4317"
	cfg.OTLPCAFile = "/nonexistent/ca.pem"
	if _, err := cfg.TelemetryConfig(); err == nil {
		t.Error("expected error for missing CA file")
	}

	cfg.OTLPInsecure = true
	tc, err = cfg.TelemetryConfig()
	if err != nil {
		t.Fatalf("insecure TelemetryConfig() error = %v", err)
	}
	if !tc.Insecure || tc.TLS != nil {
		t.Errorf("insecure telemetry config = %+v", tc)
	}
}

func TestPrintVersionAndUsage(t *testing.T) {
	var buf bytes.Buffer
	PrintVersion(&buf)
	if got := buf.String(); got != "thanos-entrypoint version "+Version()+"\n" {
		t.Errorf("PrintVersion() = %q", got)
	}

	buf.Reset()
	PrintUsage(&buf)
	for _, want := range []string{"--conf-dir", "--dry-run", "--otlp-endpoint", "THANOS_ENTRYPOINT_LOG_LEVEL"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("usage missing %q", want)
		}
	}
}
