package profiles

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/szibis/thanos-entrypoint/internal/env"
	"github.com/szibis/thanos-entrypoint/internal/option"
	"github.com/szibis/thanos-entrypoint/internal/resolve"
	"github.com/szibis/thanos-entrypoint/internal/synth"
)

func synthesize(t *testing.T, p option.Profile, vars map[string]string) []string {
	t.Helper()
	r := resolve.New(nil, t.TempDir())
	cfg, err := r.All(context.Background(), p, env.New(vars))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	args, err := synth.Synthesize(p, cfg)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	return args
}

func hasPrefix(args []string, prefix string) bool {
	for _, a := range args {
		if strings.HasPrefix(a, prefix) {
			return true
		}
	}
	return false
}

func indexOf(args []string, token string) int {
	for i, a := range args {
		if a == token {
			return i
		}
	}
	return -1
}

func TestSidecarDefaults(t *testing.T) {
	got := synthesize(t, Sidecar(), nil)
	want := []string{
		"sidecar",
		"--log.level=info",
		"--log.format=json",
		"--http-address=0.0.0.0:10902",
		"--http-grace-period=2m",
		"--grpc-address=0.0.0.0:10901",
		"--grpc-grace-period=2m",
		"--prometheus.url=http://localhost:9090",
		"--prometheus.ready_timeout=10m",
		"--tsdb.path=/var/opt/prometheus",
		"--reloader.config-file=",
		"--reloader.config-envsubst-file=",
		"--reloader.watch-interval=3m",
		"--reloader.retry-interval=5s",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("sidecar defaults =\n  %q\nwant\n  %q", got, want)
	}
	for _, absent := range []string{"--grpc-server-tls", "--objstore.config", "--reloader.rule-dir", "--shipper.upload-compacted", "--min-time", "--tracing.config"} {
		if hasPrefix(got, absent) {
			t.Errorf("unexpected %s in %q", absent, got)
		}
	}
}

func TestSidecarOverrides(t *testing.T) {
	got := synthesize(t, Sidecar(), map[string]string{
		"THANOS_RELOADER_CONFIGURATION_FILE":      "/opt/prometheus/prometheus.yml",
		"THANOS_RELOADER_RULE_DIRECTORIES":        "/opt/prometheus/rules-1,/opt/prometheus/rules-2",
		"THANOS_SHIPPER_UPLOAD_COMPACTED_ENABLED": "yes",
		"THANOS_MINIMUM_TIME":                     "2020-09-22T15:31:29Z",
		"THANOS_PROMETHEUS_READY_TIMEOUT":         "5m",
	})

	for _, want := range []string{
		"--reloader.config-file=/opt/prometheus/prometheus.yml",
		"--reloader.config-envsubst-file=",
		"--shipper.upload-compacted",
		"--min-time=2020-09-22T15:31:29Z",
		"--prometheus.ready_timeout=5m",
	} {
		if indexOf(got, want) < 0 {
			t.Errorf("missing %s in %q", want, got)
		}
	}
	i := indexOf(got, "--reloader.rule-dir")
	if i < 0 || got[i+1] != "/opt/prometheus/rules-1" || got[i+2] != "--reloader.rule-dir" || got[i+3] != "/opt/prometheus/rules-2" {
		t.Errorf("rule dirs not rendered as two-token pairs in order: %q", got)
	}
}

func TestStoreIndexCacheSize(t *testing.T) {
	got := synthesize(t, Store(), map[string]string{"THANOS_INDEX_CACHE_SIZE": "1GB"})

	if indexOf(got, "--index-cache-size=1GB") < 0 {
		t.Errorf("missing --index-cache-size=1GB in %q", got)
	}
	if hasPrefix(got, "--index-cache.config") {
		t.Errorf("unexpected index cache config in %q", got)
	}
	if indexOf(got, "--data-dir=/var/opt/thanos") < 0 {
		t.Errorf("missing default data dir in %q", got)
	}
}

func TestStoreIndexCacheConfigWins(t *testing.T) {
	got := synthesize(t, Store(), map[string]string{
		"THANOS_INDEX_CACHE_SIZE":          "1GB",
		"THANOS_INDEX_CACHE_CONFIGURATION": "type: IN-MEMORY",
	})

	if hasPrefix(got, "--index-cache-size") {
		t.Errorf("index cache size should be suppressed by the full config: %q", got)
	}
	i := indexOf(got, "--index-cache.config")
	if i < 0 || got[i+1] != "type: IN-MEMORY" {
		t.Errorf("missing inline index cache config in %q", got)
	}
}

func TestQuerySelectorLabels(t *testing.T) {
	got := synthesize(t, Query(), map[string]string{
		"THANOS_SELECTOR_LABELS": "thing1=value1,thing2=value2",
	})

	first := indexOf(got, `--selector-label=thing1="value1"`)
	second := indexOf(got, `--selector-label=thing2="value2"`)
	if first < 0 || second < 0 || second != first+1 {
		t.Errorf("selector labels missing or out of order: %q", got)
	}
}

func TestQueryStoresAndReplicaLabels(t *testing.T) {
	got := synthesize(t, Query(), map[string]string{
		"THANOS_STORE_ADDRESSES":                "localhost:1111,localhost:2222",
		"THANOS_STORE_STRICT_ADDRESSES":         "localhost:3333",
		"THANOS_QUERY_REPLICA_LABELS":           "replica,prometheus_replica",
		"THANOS_GRPC_CLIENT_TLS_SECURE_ENABLED": "no",
	})

	var stores, replicas []string
	for _, a := range got {
		switch {
		case strings.HasPrefix(a, "--store="):
			stores = append(stores, a)
		case strings.HasPrefix(a, "--query.replica-label="):
			replicas = append(replicas, a)
		}
	}
	if want := []string{"--store=localhost:1111", "--store=localhost:2222"}; !reflect.DeepEqual(stores, want) {
		t.Errorf("stores = %q, want %q", stores, want)
	}
	if want := []string{"--query.replica-label=replica", "--query.replica-label=prometheus_replica"}; !reflect.DeepEqual(replicas, want) {
		t.Errorf("replica labels = %q, want %q", replicas, want)
	}
	if indexOf(got, "--store-strict=localhost:3333") < 0 {
		t.Errorf("missing strict store in %q", got)
	}
	if hasPrefix(got, "--grpc-client-tls-secure") {
		t.Errorf("client TLS secure set to no should be absent: %q", got)
	}
}

func TestCommaInSingleValuedOption(t *testing.T) {
	rejected := []struct {
		name string
		vars map[string]string
	}{
		{"http address", map[string]string{"THANOS_HTTP_ADDRESS": "0.0.0.0:1,0.0.0.0:2"}},
		{"max concurrent", map[string]string{"THANOS_QUERY_MAX_CONCURRENT": "10,20"}},
	}
	for _, tt := range rejected {
		t.Run(tt.name, func(t *testing.T) {
			p := Query()
			cfg, err := resolve.New(nil, t.TempDir()).All(context.Background(), p, env.New(tt.vars))
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			_, err = synth.Synthesize(p, cfg)
			var se *synth.SynthesisError
			if !errors.As(err, &se) {
				t.Fatalf("Synthesize() error = %v, want SynthesisError", err)
			}
		})
	}

	got := synthesize(t, Sidecar(), map[string]string{
		"THANOS_PROMETHEUS_URL":             "http://prom:9090/?a=1,2",
		"THANOS_OBJECT_STORE_CONFIGURATION": "{type: S3, config: {bucket: thanos}}",
	})
	if indexOf(got, "--prometheus.url=http://prom:9090/?a=1,2") < 0 {
		t.Errorf("prometheus url with ',' rejected or rewritten: %q", got)
	}
	if i := indexOf(got, "--objstore.config"); i < 0 || got[i+1] != "{type: S3, config: {bucket: thanos}}" {
		t.Errorf("inline blob with ',' rejected or rewritten: %q", got)
	}
}

func TestCompactDefaults(t *testing.T) {
	got := synthesize(t, Compact(), nil)

	if len(got) < 4 || got[0] != "compact" || indexOf(got, "--wait") != 3 {
		t.Errorf("compact should run with --wait right after logging flags: %q", got)
	}
	if hasPrefix(got, "--downsampling.disable") {
		t.Errorf("downsampling should stay enabled by default: %q", got)
	}
}

func TestCompactToggles(t *testing.T) {
	got := synthesize(t, Compact(), map[string]string{
		"THANOS_WAIT_ENABLED":         "no",
		"THANOS_DOWNSAMPLING_ENABLED": "no",
		"THANOS_WAIT_INTERVAL":        "1m",
	})
	if indexOf(got, "--wait") >= 0 {
		t.Errorf("--wait present with THANOS_WAIT_ENABLED=no: %q", got)
	}
	if indexOf(got, "--downsampling.disable") < 0 {
		t.Errorf("missing --downsampling.disable: %q", got)
	}
	if indexOf(got, "--wait-interval=1m") < 0 {
		t.Errorf("missing --wait-interval=1m: %q", got)
	}
}

func TestCompactInlineObjectStoreWins(t *testing.T) {
	got := synthesize(t, Compact(), map[string]string{
		"THANOS_OBJECT_STORE_CONFIGURATION":                  "type: FILESYSTEM",
		"THANOS_OBJECT_STORE_CONFIGURATION_FILE_OBJECT_PATH": "s3://bucket/objstore.yml",
	})

	i := indexOf(got, "--objstore.config")
	if i < 0 || got[i+1] != "type: FILESYSTEM" {
		t.Errorf("inline object store config should win: %q", got)
	}
	if hasPrefix(got, "--objstore.config-file") {
		t.Errorf("object path should be ignored: %q", got)
	}
}

func TestReceiveDefaults(t *testing.T) {
	got := synthesize(t, Receive(), map[string]string{
		"THANOS_LABELS":                     "replica=a,region=eu",
		"THANOS_RECEIVE_REPLICATION_FACTOR": "3",
	})
	for _, want := range []string{
		"--remote-write.address=0.0.0.0:19291",
		"--tsdb.path=/var/opt/thanos",
		`--label=replica="a"`,
		`--label=region="eu"`,
		"--receive.replication-factor=3",
	} {
		if indexOf(got, want) < 0 {
			t.Errorf("missing %s in %q", want, got)
		}
	}
}

func TestGeneric(t *testing.T) {
	got := synthesize(t, Generic("tools"), map[string]string{"THANOS_LOG_LEVEL": "debug"})
	want := []string{"tools", "--log.level=debug", "--log.format=json"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("generic = %q, want %q", got, want)
	}
}

func TestLookupAndNames(t *testing.T) {
	if want := []string{"compact", "query", "receive", "sidecar", "store"}; !reflect.DeepEqual(Names(), want) {
		t.Errorf("Names() = %q, want %q", Names(), want)
	}
	for _, name := range Names() {
		p, ok := Lookup(name)
		if !ok || p.Command != name {
			t.Errorf("Lookup(%q) = %q, %v", name, p.Command, ok)
		}
	}
	if _, ok := Lookup("rule"); ok {
		t.Error("rule has no dedicated profile")
	}
}

// TestProfileTablesConsistent guards the tables against typos: unique group
// names, a flag for every reachable source, and excludes that point at
// groups of the same profile.
func TestProfileTablesConsistent(t *testing.T) {
	for _, name := range Names() {
		p, _ := Lookup(name)
		t.Run(name, func(t *testing.T) {
			seen := map[string]bool{}
			for _, g := range p.Groups {
				if seen[g.Name] {
					t.Errorf("duplicate group %q", g.Name)
				}
				seen[g.Name] = true

				if g.Flag == "" && g.FileFlag == "" {
					t.Errorf("group %q has no flag", g.Name)
				}
				if g.Env == "" && g.FileEnv == "" && g.ObjectEnv == "" {
					t.Errorf("group %q has no source", g.Name)
				}
				if g.Env != "" && g.Flag == "" && g.FileName == "" {
					t.Errorf("group %q accepts inline values but can neither render nor materialize them", g.Name)
				}
				if g.AllowComma && (g.Kind.Multi() || g.Kind == option.KindBool) {
					t.Errorf("group %q allows commas but its kind %s splits or rejects them", g.Name, g.Kind)
				}
				if g.Kind == option.KindBool && (g.FileEnv != "" || g.ObjectEnv != "") {
					t.Errorf("bool group %q should only read its inline variable", g.Name)
				}
				for _, v := range []string{g.Env, g.FileEnv, g.ObjectEnv} {
					if v != "" && !strings.HasPrefix(v, "THANOS_") {
						t.Errorf("group %q variable %q lacks the THANOS_ prefix", g.Name, v)
					}
				}
			}
			for _, g := range p.Groups {
				for _, ex := range g.Excludes {
					if !seen[ex] {
						t.Errorf("group %q excludes unknown group %q", g.Name, ex)
					}
				}
			}
		})
	}
}
