// Package synth folds a resolved configuration and a subcommand profile
// into the argument vector passed to the service binary.
package synth

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/szibis/thanos-entrypoint/internal/option"
)

// Redacted replaces sensitive values in Redact output.
const Redacted = "<redacted>"

// SynthesisError reports a resolved value whose shape does not fit its group.
type SynthesisError struct {
	Group  string
	Flag   string
	Reason string
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("cannot render %s for group %s: %s", e.Flag, e.Group, e.Reason)
}

// Synthesize builds the argument vector: the subcommand token followed by
// each group's flags in profile order, list elements in input order.
func Synthesize(p option.Profile, resolved option.ResolvedConfig) ([]string, error) {
	suppressed := make(map[string]bool)
	for _, g := range p.Groups {
		if _, ok := resolved[g.Name]; ok {
			for _, name := range g.Excludes {
				suppressed[name] = true
			}
		}
	}

	args := []string{p.Command}
	for _, g := range p.Groups {
		if suppressed[g.Name] {
			continue
		}
		res, ok := resolved[g.Name]
		if !ok {
			if g.EmitEmpty {
				args = append(args, flagFor(g)+"=")
			}
			continue
		}
		tokens, err := render(g, res)
		if err != nil {
			return nil, err
		}
		args = append(args, tokens...)
	}
	return args, nil
}

func flagFor(g option.Group) string {
	if g.Flag != "" {
		return g.Flag
	}
	return g.FileFlag
}

func render(g option.Group, res option.Resolved) ([]string, error) {
	fail := func(flag, format string, args ...interface{}) ([]string, error) {
		return nil, &SynthesisError{Group: g.Name, Flag: flag, Reason: fmt.Sprintf(format, args...)}
	}

	if g.Kind == option.KindBool {
		if g.Flag == "" {
			return fail(g.FileFlag, "boolean group has no flag")
		}
		for _, v := range res.Values {
			if strings.Contains(v, ",") {
				return fail(g.Flag, "boolean value %q contains ','", v)
			}
		}
		if res.Enabled {
			return []string{g.Flag}, nil
		}
		return nil, nil
	}

	if res.Path {
		if g.FileFlag == "" {
			return fail(g.Flag, "no flag accepts a file path")
		}
		if !g.Kind.Multi() && len(res.Values) != 1 {
			return fail(g.FileFlag, "expected a single path, got %d", len(res.Values))
		}
		tokens := make([]string, 0, len(res.Values))
		for _, p := range res.Values {
			tokens = append(tokens, g.FileFlag+"="+p)
		}
		return tokens, nil
	}

	if g.Flag == "" {
		return fail(g.FileFlag, "no flag accepts an inline value")
	}

	if g.Kind.Multi() {
		tokens := make([]string, 0, len(res.Values)*2)
		for _, v := range res.Values {
			if g.Kind == option.KindLabels {
				key, value, ok := strings.Cut(v, "=")
				if !ok {
					return fail(g.Flag, "label %q is not key=value", v)
				}
				v = key + `="` + value + `"`
			}
			tokens = append(tokens, join(g, v)...)
		}
		return tokens, nil
	}

	if len(res.Values) != 1 {
		return fail(g.Flag, "expected a single %s value, got %d", g.Kind, len(res.Values))
	}
	v := res.Values[0]
	if !g.AllowComma && g.Kind != option.KindPath && strings.Contains(v, ",") {
		return fail(g.Flag, "%s value %q contains ','", g.Kind, v)
	}
	return join(g, v), nil
}

func join(g option.Group, v string) []string {
	if g.Sep() == option.SeparatorSpace {
		return []string{g.Flag, v}
	}
	return []string{g.Flag + "=" + v}
}

// Redact returns a copy of args with the inline values of sensitive groups
// replaced. Paths are left intact.
func Redact(p option.Profile, args []string) []string {
	out := make([]string, len(args))
	copy(out, args)
	for _, g := range p.Groups {
		if !g.Sensitive || g.Flag == "" {
			continue
		}
		for i := 0; i < len(out); i++ {
			switch {
			case out[i] == g.Flag && g.Sep() == option.SeparatorSpace && i+1 < len(out):
				out[i+1] = Redacted
				i++
			case strings.HasPrefix(out[i], g.Flag+"="):
				out[i] = g.Flag + "=" + Redacted
			}
		}
	}
	return out
}

// Render joins args for display, quoting tokens that a shell would split.
func Render(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		if a == "" || strings.ContainsAny(a, " \t\n\"'\\$`") {
			quoted[i] = strconv.Quote(a)
		} else {
			quoted[i] = a
		}
	}
	return strings.Join(quoted, " ")
}
