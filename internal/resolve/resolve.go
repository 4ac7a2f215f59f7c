// Package resolve selects the active source for each option group and
// materializes it into a concrete value or local file.
package resolve

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/szibis/thanos-entrypoint/internal/env"
	"github.com/szibis/thanos-entrypoint/internal/logging"
	"github.com/szibis/thanos-entrypoint/internal/objstore"
	"github.com/szibis/thanos-entrypoint/internal/option"
)

// maxConcurrent bounds the goroutines resolving groups at once.
const maxConcurrent = 8

var resolvedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "thanos_entrypoint_resolved_groups_total",
	Help: "Option groups resolved, by source mode",
}, []string{"mode"})

func init() {
	prometheus.MustRegister(resolvedTotal)
	for _, m := range []option.Mode{option.ModeInline, option.ModeFilePath, option.ModeObjectPath, option.ModeDefault} {
		resolvedTotal.WithLabelValues(m.String()).Add(0)
	}
}

// SourceError reports a group whose selected source could not be resolved.
type SourceError struct {
	Group string
	Key   string
	Mode  option.Mode
	Err   error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("resolving %s from %s (%s): %v", e.Group, e.Key, e.Mode, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Fetcher materializes remote objects.
type Fetcher interface {
	Fetch(ctx context.Context, uri objstore.URI, destDir, name string) (objstore.File, error)
}

// Select returns the group's active source. The inline variable wins over
// the file path, which wins over the object path, which wins over the
// default. Lower-precedence sources are ignored without error.
func Select(g option.Group, e env.Environment) (option.Value, bool) {
	sources := []struct {
		mode option.Mode
		key  string
	}{
		{option.ModeInline, g.Env},
		{option.ModeFilePath, g.FileEnv},
		{option.ModeObjectPath, g.ObjectEnv},
	}
	for _, s := range sources {
		if s.key == "" {
			continue
		}
		if v, ok := e.Lookup(s.key); ok {
			return option.Value{Mode: s.mode, Key: s.key, Raw: v}, true
		}
	}
	if g.Default != "" {
		return option.Value{Mode: option.ModeDefault, Key: g.Env, Raw: g.Default}, true
	}
	return option.Value{}, false
}

// Resolver turns selected sources into resolved values.
type Resolver struct {
	fetcher Fetcher
	confDir string

	mu    sync.Mutex
	files []objstore.File
}

// New creates a Resolver that materializes files under confDir. fetcher
// may be nil when no object paths are expected.
func New(fetcher Fetcher, confDir string) *Resolver {
	return &Resolver{fetcher: fetcher, confDir: confDir}
}

// Files returns the files written during resolution, sorted by path.
func (r *Resolver) Files() []objstore.File {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]objstore.File, len(r.files))
	copy(out, r.files)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (r *Resolver) record(f objstore.File) {
	r.mu.Lock()
	r.files = append(r.files, f)
	r.mu.Unlock()
}

// Resolve resolves a single group. The boolean is false when the group has
// no source and no default.
func (r *Resolver) Resolve(ctx context.Context, g option.Group, e env.Environment) (option.Resolved, bool, error) {
	v, ok := Select(g, e)
	if !ok {
		return option.Resolved{}, false, nil
	}
	res := option.Resolved{Group: g.Name, Mode: v.Mode, Key: v.Key}
	fail := func(err error) (option.Resolved, bool, error) {
		return option.Resolved{}, false, &SourceError{Group: g.Name, Key: v.Key, Mode: v.Mode, Err: err}
	}

	if g.Kind == option.KindBool {
		res.Values = []string{v.Raw}
		res.Enabled = enabled(g, v.Raw)
		resolvedTotal.WithLabelValues(v.Mode.String()).Inc()
		return res, true, nil
	}

	switch v.Mode {
	case option.ModeInline, option.ModeDefault:
		if g.Flag == "" && g.FileFlag != "" {
			file, err := r.materialize(g, v.Raw)
			if err != nil {
				return fail(err)
			}
			res.Values, res.Path = []string{file.Path}, true
			break
		}
		res.Values = split(g, v.Raw)

	case option.ModeFilePath:
		if g.FileFlag != "" {
			paths := split(g, v.Raw)
			for _, p := range paths {
				if _, err := os.Stat(p); err != nil {
					return fail(err)
				}
			}
			res.Values, res.Path = paths, true
			break
		}
		content, err := readContent(v.Raw)
		if err != nil {
			return fail(err)
		}
		res.Values = split(g, content)

	case option.ModeObjectPath:
		refs := []string{v.Raw}
		if g.FileFlag != "" {
			refs = split(g, v.Raw)
		}
		paths, err := r.fetchAll(ctx, g, refs)
		if err != nil {
			return fail(err)
		}
		if g.FileFlag != "" {
			res.Values, res.Path = paths, true
			break
		}
		content, err := readContent(paths[0])
		if err != nil {
			return fail(err)
		}
		res.Values = split(g, content)
	}

	resolvedTotal.WithLabelValues(v.Mode.String()).Inc()
	fields := logging.F("group", g.Name, "key", v.Key, "mode", v.Mode.String(), "values", len(res.Values))
	if !g.Sensitive && res.Path {
		fields["paths"] = strings.Join(res.Values, ",")
	}
	logging.Debug("resolved option group", fields)
	return res, true, nil
}

// All resolves every group of the profile concurrently and returns once all
// of them have finished. The first failure cancels the rest.
func (r *Resolver) All(ctx context.Context, p option.Profile, e env.Environment) (option.ResolvedConfig, error) {
	type slot struct {
		res option.Resolved
		ok  bool
	}
	slots := make([]slot, len(p.Groups))

	if err := r.checkDestinations(p, e); err != nil {
		return nil, err
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(maxConcurrent)
	for i, g := range p.Groups {
		eg.Go(func() error {
			res, ok, err := r.Resolve(ctx, g, e)
			if err != nil {
				return err
			}
			slots[i] = slot{res: res, ok: ok}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	cfg := make(option.ResolvedConfig, len(slots))
	for i, s := range slots {
		if s.ok {
			cfg[p.Groups[i].Name] = s.res
		}
	}
	return cfg, nil
}

// checkDestinations maps every file the profile would write to its source
// and fails when two different sources land on the same local path. Object
// refs that do not parse are left for Resolve to report.
func (r *Resolver) checkDestinations(p option.Profile, e env.Environment) error {
	type claim struct {
		group  string
		source string
	}
	claims := make(map[string]claim)

	for _, g := range p.Groups {
		if g.Kind == option.KindBool {
			continue
		}
		v, ok := Select(g, e)
		if !ok {
			continue
		}

		var dests, sources []string
		switch v.Mode {
		case option.ModeInline, option.ModeDefault:
			if g.Flag == "" && g.FileFlag != "" && g.FileName != "" {
				dests = append(dests, filepath.Join(r.dir(g), g.FileName))
				sources = append(sources, "inline:"+v.Key)
			}
		case option.ModeObjectPath:
			refs := []string{v.Raw}
			if g.FileFlag != "" {
				refs = split(g, v.Raw)
			}
			for _, ref := range refs {
				uri, err := objstore.ParseURI(ref)
				if err != nil {
					continue
				}
				name := g.FileName
				if name == "" {
					name = uri.Basename()
				}
				dests = append(dests, filepath.Join(r.dir(g), name))
				sources = append(sources, uri.String())
			}
		}

		for i, dest := range dests {
			prev, taken := claims[dest]
			if !taken {
				claims[dest] = claim{group: g.Name, source: sources[i]}
				continue
			}
			if prev.source == sources[i] {
				continue
			}
			return &SourceError{Group: g.Name, Key: v.Key, Mode: v.Mode, Err: fmt.Errorf(
				"%s and %s (group %s) both materialize to %s", sources[i], prev.source, prev.group, dest,
			)}
		}
	}
	return nil
}

func (r *Resolver) dir(g option.Group) string {
	return filepath.Join(r.confDir, g.Dir)
}

// materialize writes an inline value to the group's fixed file name.
func (r *Resolver) materialize(g option.Group, content string) (objstore.File, error) {
	if g.FileName == "" {
		return objstore.File{}, fmt.Errorf("group %s has no file name for inline content", g.Name)
	}
	file, err := objstore.WriteFile(filepath.Join(r.dir(g), g.FileName), strings.NewReader(content))
	if err != nil {
		return objstore.File{}, err
	}
	file.Source = "inline:" + g.Env
	r.record(file)
	logging.Info("materialized inline value", logging.F(
		"group", g.Name, "path", file.Path, "bytes", file.Size, "blake3", file.Digest,
	))
	return file, nil
}

// fetchAll fetches each reference into the group's directory, in parallel.
func (r *Resolver) fetchAll(ctx context.Context, g option.Group, refs []string) ([]string, error) {
	if r.fetcher == nil {
		return nil, fmt.Errorf("no object store configured")
	}
	uris := make([]objstore.URI, len(refs))
	for i, ref := range refs {
		uri, err := objstore.ParseURI(ref)
		if err != nil {
			return nil, err
		}
		uris[i] = uri
	}

	paths := make([]string, len(uris))
	eg, ctx := errgroup.WithContext(ctx)
	for i, uri := range uris {
		eg.Go(func() error {
			file, err := r.fetcher.Fetch(ctx, uri, r.dir(g), g.FileName)
			if err != nil {
				return err
			}
			r.record(file)
			paths[i] = file.Path
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

func enabled(g option.Group, raw string) bool {
	if g.Negate {
		return raw == "no"
	}
	return option.ParseBool(raw)
}

// split breaks multi-valued kinds on ','. Elements are neither trimmed nor
// filtered, so "a,,b" yields three values.
func split(g option.Group, raw string) []string {
	if g.Kind.Multi() {
		return strings.Split(raw, ",")
	}
	return []string{raw}
}

func readContent(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}
