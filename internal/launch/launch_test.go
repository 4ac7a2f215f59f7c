package launch

import (
	"errors"
	"reflect"
	"syscall"
	"testing"

	"github.com/szibis/thanos-entrypoint/internal/env"
)

func TestLaunch(t *testing.T) {
	var gotArgv0 string
	var gotArgv, gotEnv []string
	l := &Launcher{
		Binary: "/opt/thanos/bin/thanos",
		Exec: func(argv0 string, argv []string, envv []string) error {
			gotArgv0, gotArgv, gotEnv = argv0, argv, envv
			return nil
		},
	}

	args := []string{"sidecar", "--http-address=0.0.0.0:10902"}
	if err := l.Launch(args, []string{"A=1"}); err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	if gotArgv0 != "/opt/thanos/bin/thanos" {
		t.Errorf("argv0 = %q", gotArgv0)
	}
	wantArgv := []string{"/opt/thanos/bin/thanos", "sidecar", "--http-address=0.0.0.0:10902"}
	if !reflect.DeepEqual(gotArgv, wantArgv) {
		t.Errorf("argv = %q, want %q", gotArgv, wantArgv)
	}
	if !reflect.DeepEqual(gotEnv, []string{"A=1"}) {
		t.Errorf("env = %q", gotEnv)
	}
}

func TestLaunchError(t *testing.T) {
	l := &Launcher{
		Binary: "/missing",
		Exec: func(string, []string, []string) error {
			return syscall.ENOENT
		},
	}
	err := l.Launch([]string{"store"}, nil)
	if !errors.Is(err, syscall.ENOENT) {
		t.Errorf("Launch() error = %v, want wrapped ENOENT", err)
	}
}

func TestEnviron(t *testing.T) {
	const gib = 1 << 30
	limit := func() (uint64, error) { return 2 * gib, nil }
	noLimit := func() (uint64, error) { return 0, errors.New("memory is not limited") }

	tests := []struct {
		name  string
		ratio float64
		vars  map[string]string
		limit func() (uint64, error)
		want  []string
	}{
		{
			name:  "disabled",
			ratio: 0,
			vars:  map[string]string{"A": "1"},
			limit: limit,
			want:  []string{"A=1"},
		},
		{
			name:  "ratio applied",
			ratio: 0.9,
			vars:  map[string]string{"A": "1"},
			limit: limit,
			want:  []string{"A=1", "GOMEMLIMIT=1932735283"},
		},
		{
			name:  "existing GOMEMLIMIT wins",
			ratio: 0.9,
			vars:  map[string]string{"GOMEMLIMIT": "512MiB"},
			limit: limit,
			want:  []string{"GOMEMLIMIT=512MiB"},
		},
		{
			name:  "no cgroup limit",
			ratio: 0.9,
			vars:  map[string]string{"A": "1"},
			limit: noLimit,
			want:  []string{"A=1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &Launcher{MemoryLimitRatio: tt.ratio, CgroupLimit: tt.limit}
			got := l.Environ(env.New(tt.vars))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Environ() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewDefaults(t *testing.T) {
	l := New("/opt/thanos/bin/thanos", 0.8)
	if l.Exec == nil || l.CgroupLimit == nil {
		t.Error("New should install the syscall exec and cgroup reader")
	}
	if l.MemoryLimitRatio != 0.8 {
		t.Errorf("MemoryLimitRatio = %v", l.MemoryLimitRatio)
	}
}
