package entrypoint

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	stageSeconds = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "thanos_entrypoint_stage_seconds_total",
		Help: "Wall-clock seconds spent in each startup stage",
	}, []string{"stage"})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "thanos_entrypoint_build_info",
		Help: "Entrypoint version and the subcommand it launched",
	}, []string{"version", "subcommand"})

	// Pre-resolved counters, one per known stage.
	stageCounters map[string]prometheus.Counter
)

const (
	stageEnvFile    = "env_file"
	stageResolve    = "resolve"
	stageSynthesize = "synthesize"
	stageFlush      = "flush"
)

var knownStages = []string{stageEnvFile, stageResolve, stageSynthesize, stageFlush}

func init() {
	prometheus.MustRegister(stageSeconds)
	prometheus.MustRegister(buildInfo)

	stageCounters = make(map[string]prometheus.Counter, len(knownStages))
	for _, s := range knownStages {
		c := stageSeconds.WithLabelValues(s)
		c.Add(0)
		stageCounters[s] = c
	}
}

// Record adds elapsed time to the named stage's counter.
func Record(stage string, d time.Duration) {
	if c, ok := stageCounters[stage]; ok {
		c.Add(d.Seconds())
	}
}

// Track starts timing and returns a func that records when called.
//
//	defer entrypoint.Track("resolve")()
func Track(stage string) func() {
	start := time.Now()
	return func() {
		Record(stage, time.Since(start))
	}
}
