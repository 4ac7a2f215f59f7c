// Package option defines the declarative data model shared by the resolver,
// the synthesizer and the subcommand profiles.
package option

// Mode identifies where a configuration value came from.
type Mode int

const (
	ModeInline Mode = iota
	ModeFilePath
	ModeObjectPath
	ModeDefault
)

func (m Mode) String() string {
	switch m {
	case ModeInline:
		return "inline"
	case ModeFilePath:
		return "file_path"
	case ModeObjectPath:
		return "object_path"
	case ModeDefault:
		return "default"
	default:
		return "unknown"
	}
}

// Kind describes how a resolved value renders into flags.
type Kind int

const (
	KindScalar Kind = iota
	KindList
	KindBool
	KindDuration
	KindByteSize
	KindPath
	// KindLabels is a list of key=value pairs rendered as key="value".
	KindLabels
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindList:
		return "list"
	case KindBool:
		return "bool"
	case KindDuration:
		return "duration"
	case KindByteSize:
		return "byte-size"
	case KindPath:
		return "path"
	case KindLabels:
		return "labels"
	default:
		return "unknown"
	}
}

// Multi reports whether the kind renders one flag per element.
func (k Kind) Multi() bool {
	return k == KindList || k == KindLabels
}

// Separator joins a flag and its value.
type Separator string

const (
	SeparatorEquals Separator = "="
	// SeparatorSpace renders the flag and value as two argv tokens.
	SeparatorSpace Separator = " "
)

// Value is the single source selected for a group.
type Value struct {
	Mode Mode
	Key  string
	Raw  string
}

// Group is the declarative rule for one logical configuration key.
// Groups are built once in the profile tables and never mutated.
type Group struct {
	Name string

	Env       string
	FileEnv   string
	ObjectEnv string
	Default   string

	Flag      string
	FileFlag  string
	Kind      Kind
	Separator Separator

	// EmitEmpty renders "--flag=" when the group resolves to nothing.
	EmitEmpty bool
	// Negate flips a yes/no value, for *_ENABLED=no => --x.disable.
	Negate bool
	// AllowComma lets a single-valued group carry ','. Without it a comma
	// in a scalar is treated as a list handed to a flag that takes one value.
	AllowComma bool

	FileName string
	Dir      string

	Excludes  []string
	Sensitive bool
}

// Sep returns the group's separator, defaulting to "=".
func (g Group) Sep() Separator {
	if g.Separator == "" {
		return SeparatorEquals
	}
	return g.Separator
}

// Resolved is a group's concrete value after resolution.
type Resolved struct {
	Group   string
	Mode    Mode
	Key     string
	Values  []string
	Path    bool
	Enabled bool
}

// ResolvedConfig maps group names to their resolved values. Absent groups
// were not configured.
type ResolvedConfig map[string]Resolved

// Profile is the ordered set of groups for one subcommand.
type Profile struct {
	Command string
	Groups  []Group
}

// Group returns the named group.
func (p Profile) Group(name string) (Group, bool) {
	for _, g := range p.Groups {
		if g.Name == name {
			return g, true
		}
	}
	return Group{}, false
}

// ParseBool implements the yes/no convention: only "yes" is true.
func ParseBool(s string) bool {
	return s == "yes"
}
