package env

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/syntax"
)

// ParseError reports a malformed env file line.
type ParseError struct {
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("env file line %d: %s", e.Line, e.Reason)
}

// Decode decompresses env file contents according to the object name:
// ".gz" is gzip, ".zst" is zstd, anything else is returned unchanged.
func Decode(name string, data []byte) ([]byte, error) {
	switch {
	case strings.HasSuffix(name, ".gz"):
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	case strings.HasSuffix(name, ".zst"):
		d, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		defer d.Close()
		return d.DecodeAll(data, nil)
	default:
		return data, nil
	}
}

// ParseFile parses shell-style assignments:
//
//	# comment
//	export KEY=value
//	 KEY="multi
//	line"
//
// The file is parsed as a shell script and every statement must be a plain
// assignment. Values are expanded the way a shell would: quotes are
// removed, and $VAR refers to variables assigned earlier in the file or,
// failing that, to base. Command substitution is rejected.
func ParseFile(data []byte, base Environment) (map[string]string, error) {
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))

	file, err := syntax.NewParser().Parse(bytes.NewReader(data), "")
	if err != nil {
		var se syntax.ParseError
		if errors.As(err, &se) {
			return nil, &ParseError{Line: int(se.Pos.Line()), Reason: se.Text}
		}
		return nil, &ParseError{Reason: err.Error()}
	}

	vars := make(map[string]string)
	cfg := &expand.Config{Env: expand.FuncEnviron(func(name string) string {
		if v, ok := vars[name]; ok {
			return v
		}
		return base.Get(name)
	})}

	for _, stmt := range file.Stmts {
		line := int(stmt.Pos().Line())
		if stmt.Negated || stmt.Background || stmt.Coprocess || len(stmt.Redirs) > 0 {
			return nil, &ParseError{Line: line, Reason: "only variable assignments are allowed"}
		}

		var assigns []*syntax.Assign
		switch cmd := stmt.Cmd.(type) {
		case *syntax.CallExpr:
			if len(cmd.Args) > 0 {
				return nil, &ParseError{Line: line, Reason: fmt.Sprintf("unexpected command %q", wordText(cmd.Args[0]))}
			}
			assigns = cmd.Assigns
		case *syntax.DeclClause:
			if cmd.Variant.Value != "export" {
				return nil, &ParseError{Line: line, Reason: fmt.Sprintf("unexpected %q declaration", cmd.Variant.Value)}
			}
			assigns = cmd.Args
		default:
			return nil, &ParseError{Line: line, Reason: "only variable assignments are allowed"}
		}

		for _, a := range assigns {
			if a.Naked {
				continue
			}
			if a.Name == nil || a.Array != nil || a.Index != nil {
				return nil, &ParseError{Line: int(a.Pos().Line()), Reason: "arrays are not supported"}
			}
			value := ""
			if a.Value != nil {
				value, err = expand.Literal(cfg, a.Value)
				if err != nil {
					return nil, &ParseError{Line: int(a.Pos().Line()), Reason: fmt.Sprintf("expanding %s: %v", a.Name.Value, err)}
				}
			}
			if a.Append {
				value = cfg.Env.Get(a.Name.Value).String() + value
			}
			vars[a.Name.Value] = value
		}
	}
	return vars, nil
}

func wordText(w *syntax.Word) string {
	if lit := w.Lit(); lit != "" {
		return lit
	}
	var b strings.Builder
	if err := syntax.NewPrinter().Print(&b, w); err != nil {
		return "?"
	}
	return b.String()
}
