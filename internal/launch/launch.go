// Package launch replaces the entrypoint process with the service binary.
package launch

import (
	"fmt"
	"strconv"
	"syscall"

	"github.com/KimMachineGun/automemlimit/memlimit"

	"github.com/szibis/thanos-entrypoint/internal/env"
	"github.com/szibis/thanos-entrypoint/internal/logging"
)

// ExecFunc has the signature of syscall.Exec.
type ExecFunc func(argv0 string, argv []string, envv []string) error

// Launcher execs the service binary.
type Launcher struct {
	Binary string

	// MemoryLimitRatio, when positive, exports GOMEMLIMIT as this fraction
	// of the cgroup memory limit unless GOMEMLIMIT is already set.
	MemoryLimitRatio float64

	// Exec defaults to syscall.Exec. Tests replace it to capture the call.
	Exec ExecFunc
	// CgroupLimit defaults to memlimit.FromCgroup.
	CgroupLimit func() (uint64, error)
}

// New creates a Launcher with production defaults.
func New(binary string, memoryLimitRatio float64) *Launcher {
	return &Launcher{
		Binary:           binary,
		MemoryLimitRatio: memoryLimitRatio,
		Exec:             syscall.Exec,
		CgroupLimit:      memlimit.FromCgroup,
	}
}

// Environ returns the child environment: the snapshot, plus GOMEMLIMIT
// when a memory limit ratio is configured and a cgroup limit is found.
func (l *Launcher) Environ(e env.Environment) []string {
	if l.MemoryLimitRatio <= 0 {
		return e.Environ()
	}
	if v, ok := e.Lookup("GOMEMLIMIT"); ok {
		logging.Debug("GOMEMLIMIT already set", logging.F("value", v))
		return e.Environ()
	}

	limitFn := l.CgroupLimit
	if limitFn == nil {
		limitFn = memlimit.FromCgroup
	}
	limit, err := limitFn()
	if err != nil {
		logging.Warn("no cgroup memory limit, GOMEMLIMIT not set", logging.F("error", err.Error()))
		return e.Environ()
	}

	goMemLimit := uint64(float64(limit) * l.MemoryLimitRatio)
	logging.Info("setting GOMEMLIMIT for service", logging.F(
		"cgroup_limit_bytes", limit,
		"ratio", l.MemoryLimitRatio,
		"gomemlimit_bytes", goMemLimit,
	))
	return e.With(map[string]string{"GOMEMLIMIT": strconv.FormatUint(goMemLimit, 10)}).Environ()
}

// Launch execs the binary with args. On success it does not return.
func (l *Launcher) Launch(args []string, environ []string) error {
	exec := l.Exec
	if exec == nil {
		exec = syscall.Exec
	}
	argv := append([]string{l.Binary}, args...)

	logging.Info("launching service", logging.F("binary", l.Binary, "subcommand", first(args), "args", len(args)))
	if err := exec(l.Binary, argv, environ); err != nil {
		return fmt.Errorf("exec %s: %w", l.Binary, err)
	}
	return nil
}

func first(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
