// Package entrypoint ties the startup together: it merges the optional env
// file, resolves the subcommand's option groups, synthesizes the service
// command line and hands it to the launcher.
package entrypoint

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/szibis/thanos-entrypoint/internal/config"
	"github.com/szibis/thanos-entrypoint/internal/env"
	"github.com/szibis/thanos-entrypoint/internal/launch"
	"github.com/szibis/thanos-entrypoint/internal/logging"
	"github.com/szibis/thanos-entrypoint/internal/objstore"
	"github.com/szibis/thanos-entrypoint/internal/profiles"
	"github.com/szibis/thanos-entrypoint/internal/resolve"
	"github.com/szibis/thanos-entrypoint/internal/synth"
)

// Plan is what the entrypoint is about to exec. Args has sensitive values
// redacted and is safe to print.
type Plan struct {
	Binary     string          `yaml:"binary"`
	Subcommand string          `yaml:"subcommand"`
	Args       []string        `yaml:"args"`
	Files      []objstore.File `yaml:"files,omitempty"`

	args    []string
	environ []string
}

// WriteYAML writes the plan as a YAML document.
func (p *Plan) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return fmt.Errorf("encoding plan: %w", err)
	}
	return enc.Close()
}

// Runner executes one startup.
type Runner struct {
	Config   *config.Config
	Launcher *launch.Launcher

	// NewBucket creates the object store client. It is called at most
	// once, on the first fetch.
	NewBucket func(objstore.S3Config) (objstore.Bucket, error)

	// Out receives the dry-run plan.
	Out io.Writer

	// BeforeExec runs after the plan is final and the metrics textfile is
	// written, immediately before the process image is replaced.
	BeforeExec func()

	Gatherer prometheus.Gatherer
}

// New creates a Runner with production defaults.
func New(cfg *config.Config, out io.Writer) *Runner {
	return &Runner{
		Config:   cfg,
		Launcher: launch.New(cfg.Binary, cfg.MemoryLimitRatio),
		NewBucket: func(c objstore.S3Config) (objstore.Bucket, error) {
			return objstore.NewS3Bucket(c)
		},
		Out:      out,
		Gatherer: prometheus.DefaultGatherer,
	}
}

// Run prepares the plan and either prints it (dry run) or execs the
// service. On a successful exec it does not return.
func (r *Runner) Run(ctx context.Context, e env.Environment) error {
	plan, err := r.Prepare(ctx, e)
	if err != nil {
		return err
	}

	if err := r.writeTextfile(); err != nil {
		return err
	}
	if r.Config.DryRun {
		return plan.WriteYAML(r.Out)
	}

	if r.BeforeExec != nil {
		done := Track(stageFlush)
		r.BeforeExec()
		done()
	}
	return r.Launcher.Launch(plan.args, plan.environ)
}

// Prepare resolves everything needed to exec the service without side
// effects beyond fetching and materializing files under the conf dir.
func (r *Runner) Prepare(ctx context.Context, e env.Environment) (*Plan, error) {
	cfg := r.Config
	fetcher := &lazyFetcher{newBucket: func() (objstore.Bucket, error) {
		if r.NewBucket == nil {
			return nil, fmt.Errorf("no object store configured")
		}
		return r.NewBucket(cfg.S3)
	}}

	if cfg.EnvFileObjectPath != "" {
		merged, err := mergeEnvFile(ctx, fetcher, cfg.EnvFileObjectPath, e)
		if err != nil {
			return nil, err
		}
		e = merged
	}

	p, ok := profiles.Lookup(cfg.Subcommand)
	if !ok {
		logging.Warn("no profile for subcommand, passing logging and tracing options only", logging.F(
			"subcommand", cfg.Subcommand,
			"known", profiles.Names(),
		))
		p = profiles.Generic(cfg.Subcommand)
	}

	resolver := resolve.New(fetcher, cfg.ConfDir)
	done := Track(stageResolve)
	resolved, err := resolver.All(ctx, p, e)
	done()
	if err != nil {
		return nil, err
	}

	done = Track(stageSynthesize)
	args, err := synth.Synthesize(p, resolved)
	done()
	if err != nil {
		return nil, err
	}
	args = append(args, cfg.Passthrough...)

	plan := &Plan{
		Binary:     cfg.Binary,
		Subcommand: cfg.Subcommand,
		Args:       synth.Redact(p, args),
		Files:      resolver.Files(),
		args:       args,
	}
	if r.Launcher != nil {
		plan.environ = r.Launcher.Environ(e)
	} else {
		plan.environ = e.Environ()
	}

	buildInfo.WithLabelValues(config.Version(), cfg.Subcommand).Set(1)
	logging.Info("launch plan ready", logging.F(
		"binary", plan.Binary,
		"subcommand", plan.Subcommand,
		"groups", len(resolved),
		"files", len(plan.Files),
		"command", synth.Render(plan.Args),
	))
	return plan, nil
}

func mergeEnvFile(ctx context.Context, fetcher *lazyFetcher, ref string, e env.Environment) (env.Environment, error) {
	defer Track(stageEnvFile)()

	uri, err := objstore.ParseURI(ref)
	if err != nil {
		return e, fmt.Errorf("env file: %w", err)
	}
	data, err := fetcher.Read(ctx, uri)
	if err != nil {
		return e, fmt.Errorf("env file: %w", err)
	}
	data, err = env.Decode(uri.Key, data)
	if err != nil {
		return e, fmt.Errorf("env file %s: %w", ref, err)
	}
	vars, err := env.ParseFile(data, e)
	if err != nil {
		return e, fmt.Errorf("env file %s: %w", ref, err)
	}

	logging.Info("merged env file", logging.F("uri", ref, "variables", len(vars)))
	return e.With(vars), nil
}

func (r *Runner) writeTextfile() error {
	if r.Config.MetricsTextfile == "" {
		return nil
	}
	g := r.Gatherer
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	if err := prometheus.WriteToTextfile(r.Config.MetricsTextfile, g); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}

// lazyFetcher defers creating the object store client until a group or
// the env file actually references an object.
type lazyFetcher struct {
	newBucket func() (objstore.Bucket, error)

	once    sync.Once
	fetcher *objstore.Fetcher
	err     error
}

func (l *lazyFetcher) get() (*objstore.Fetcher, error) {
	l.once.Do(func() {
		bucket, err := l.newBucket()
		if err != nil {
			l.err = fmt.Errorf("creating object store client: %w", err)
			return
		}
		l.fetcher = objstore.NewFetcher(bucket)
	})
	return l.fetcher, l.err
}

func (l *lazyFetcher) Fetch(ctx context.Context, uri objstore.URI, destDir, name string) (objstore.File, error) {
	f, err := l.get()
	if err != nil {
		return objstore.File{}, err
	}
	return f.Fetch(ctx, uri, destDir, name)
}

func (l *lazyFetcher) Read(ctx context.Context, uri objstore.URI) ([]byte, error) {
	f, err := l.get()
	if err != nil {
		return nil, err
	}
	return f.Read(ctx, uri)
}
