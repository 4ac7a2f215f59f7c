// Package profiles holds the static option tables for each supported
// subcommand. Profiles are data only; internal/synth interprets them.
package profiles

import (
	"sort"

	"github.com/szibis/thanos-entrypoint/internal/option"
)

func build(command string, parts ...[]option.Group) option.Profile {
	groups := append(logGroups(), tracingGroups()...)
	for _, p := range parts {
		groups = append(groups, p...)
	}
	return option.Profile{Command: command, Groups: groups}
}

// Sidecar runs next to Prometheus and ships its blocks.
func Sidecar() option.Profile {
	return build("sidecar",
		httpGroups(),
		grpcGroups(),
		grpcServerTLSGroups(),
		prometheusGroups(),
		[]option.Group{tsdbPathGroup("/var/opt/prometheus")},
		reloaderGroups(),
		objstoreGroups(),
		shipperGroups(),
		minTimeGroups(),
	)
}

// Store serves blocks from the object store.
func Store() option.Profile {
	return build("store",
		httpGroups(),
		grpcGroups(),
		grpcServerTLSGroups(),
		dataDirGroups(),
		storeTuningGroups(),
		indexCacheGroups(),
		objstoreGroups(),
		minTimeGroups(),
		maxTimeGroups(),
		selectorRelabelGroups(),
		webExternalGroups(),
	)
}

// Query fans queries out to store APIs.
func Query() option.Profile {
	return build("query",
		httpGroups(),
		grpcGroups(),
		grpcServerTLSGroups(),
		grpcClientTLSGroups(),
		webRouteGroups(),
		webExternalGroups(),
		queryGroups(),
		selectorLabelGroups(),
		storeEndpointGroups(),
	)
}

// Compact compacts, downsamples and applies retention.
func Compact() option.Profile {
	return build("compact",
		[]option.Group{boolean("wait", "WAIT_ENABLED", "--wait", "yes")},
		[]option.Group{scalar("wait-interval", "WAIT_INTERVAL", "--wait-interval", option.KindDuration, "")},
		httpGroups(),
		dataDirGroups(),
		[]option.Group{consistencyDelay()},
		compactGroups(),
		objstoreGroups(),
		retentionGroups(),
		downsamplingGroups(),
		compactTuningGroups(),
		selectorRelabelGroups(),
		webExternalGroups(),
	)
}

// Receive accepts remote write traffic.
func Receive() option.Profile {
	return build("receive",
		httpGroups(),
		grpcGroups(),
		grpcServerTLSGroups(),
		receiveGroups(),
		objstoreGroups(),
		hashringGroups(),
		tenancyGroups(),
		replicationGroups(),
	)
}

// Generic carries only the groups every subcommand accepts. It backs
// subcommands without a dedicated profile.
func Generic(command string) option.Profile {
	return build(command)
}

var registry = map[string]option.Profile{
	"sidecar": Sidecar(),
	"store":   Store(),
	"query":   Query(),
	"compact": Compact(),
	"receive": Receive(),
}

// Lookup returns the profile for a subcommand.
func Lookup(command string) (option.Profile, bool) {
	p, ok := registry[command]
	return p, ok
}

// Names lists the subcommands with a dedicated profile.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
