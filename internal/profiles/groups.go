package profiles

import "github.com/szibis/thanos-entrypoint/internal/option"

const envPrefix = "THANOS_"

func scalar(name, key, flag string, kind option.Kind, def string) option.Group {
	return option.Group{Name: name, Env: envPrefix + key, Flag: flag, Kind: kind, Default: def}
}

func list(name, key, flag string) option.Group {
	return option.Group{Name: name, Env: envPrefix + key, Flag: flag, Kind: option.KindList}
}

func boolean(name, key, flag, def string) option.Group {
	return option.Group{Name: name, Env: envPrefix + key, Flag: flag, Kind: option.KindBool, Default: def}
}

// blob is a YAML document passed inline as "--flag <yaml>" or by path as
// "--flag-file=<path>".
func blob(name, key, flag string) option.Group {
	return option.Group{
		Name:       name,
		Env:        envPrefix + key,
		FileEnv:    envPrefix + key + "_FILE_PATH",
		ObjectEnv:  envPrefix + key + "_FILE_OBJECT_PATH",
		Flag:       flag,
		FileFlag:   flag + "-file",
		Separator:  option.SeparatorSpace,
		AllowComma: true,
	}
}

// tlsFile is certificate material that is always handed over by path.
// Inline PEM is written to fileName in the configuration directory.
func tlsFile(name, key, flag, fileName string) option.Group {
	return option.Group{
		Name:      name,
		Env:       envPrefix + key,
		FileEnv:   envPrefix + key + "_FILE_PATH",
		ObjectEnv: envPrefix + key + "_FILE_OBJECT_PATH",
		FileFlag:  flag,
		Kind:      option.KindPath,
		FileName:  fileName,
	}
}

func sensitive(g option.Group) option.Group {
	g.Sensitive = true
	return g
}

// commas marks a scalar whose value may legitimately contain ','.
func commas(g option.Group) option.Group {
	g.AllowComma = true
	return g
}

func excludes(g option.Group, names ...string) option.Group {
	g.Excludes = names
	return g
}

// Shared group library. Each function returns fresh values so profiles
// never share slices.

func logGroups() []option.Group {
	return []option.Group{
		scalar("log-level", "LOG_LEVEL", "--log.level", option.KindScalar, "info"),
		scalar("log-format", "LOG_FORMAT", "--log.format", option.KindScalar, "json"),
	}
}

func tracingGroups() []option.Group {
	return []option.Group{blob("tracing-config", "TRACING_CONFIGURATION", "--tracing.config")}
}

func httpGroups() []option.Group {
	return []option.Group{
		scalar("http-address", "HTTP_ADDRESS", "--http-address", option.KindScalar, "0.0.0.0:10902"),
		scalar("http-grace-period", "HTTP_GRACE_PERIOD", "--http-grace-period", option.KindDuration, "2m"),
	}
}

func grpcGroups() []option.Group {
	return []option.Group{
		scalar("grpc-address", "GRPC_ADDRESS", "--grpc-address", option.KindScalar, "0.0.0.0:10901"),
		scalar("grpc-grace-period", "GRPC_GRACE_PERIOD", "--grpc-grace-period", option.KindDuration, "2m"),
	}
}

func grpcServerTLSGroups() []option.Group {
	return []option.Group{
		tlsFile("grpc-server-tls-cert", "GRPC_SERVER_TLS_CERTIFICATE", "--grpc-server-tls-cert", "server-cert.pem"),
		sensitive(tlsFile("grpc-server-tls-key", "GRPC_SERVER_TLS_KEY", "--grpc-server-tls-key", "server-key.pem")),
		tlsFile("grpc-server-tls-client-ca", "GRPC_SERVER_TLS_CLIENT_CA", "--grpc-server-tls-client-ca", "server-client-ca.pem"),
	}
}

func grpcClientTLSGroups() []option.Group {
	return []option.Group{
		boolean("grpc-client-tls-secure", "GRPC_CLIENT_TLS_SECURE_ENABLED", "--grpc-client-tls-secure", ""),
		tlsFile("grpc-client-tls-cert", "GRPC_CLIENT_TLS_CERTIFICATE", "--grpc-client-tls-cert", "client-cert.pem"),
		sensitive(tlsFile("grpc-client-tls-key", "GRPC_CLIENT_TLS_KEY", "--grpc-client-tls-key", "client-key.pem")),
		tlsFile("grpc-client-tls-ca", "GRPC_CLIENT_TLS_CA", "--grpc-client-tls-ca", "client-ca.pem"),
		scalar("grpc-client-server-name", "GRPC_CLIENT_SERVER_NAME", "--grpc-client-server-name", option.KindScalar, ""),
	}
}

func objstoreGroups() []option.Group {
	return []option.Group{sensitive(blob("objstore-config", "OBJECT_STORE_CONFIGURATION", "--objstore.config"))}
}

func webRouteGroups() []option.Group {
	return []option.Group{commas(scalar("web-route-prefix", "WEB_ROUTE_PREFIX", "--web.route-prefix", option.KindScalar, ""))}
}

func webExternalGroups() []option.Group {
	return []option.Group{
		commas(scalar("web-external-prefix", "WEB_EXTERNAL_PREFIX", "--web.external-prefix", option.KindScalar, "")),
		commas(scalar("web-prefix-header", "WEB_PREFIX_HEADER", "--web.prefix-header", option.KindScalar, "")),
	}
}

func selectorRelabelGroups() []option.Group {
	return []option.Group{blob("selector-relabel-config", "SELECTOR_RELABEL_CONFIGURATION", "--selector.relabel-config")}
}

func minTimeGroups() []option.Group {
	return []option.Group{scalar("min-time", "MINIMUM_TIME", "--min-time", option.KindScalar, "")}
}

func maxTimeGroups() []option.Group {
	return []option.Group{scalar("max-time", "MAXIMUM_TIME", "--max-time", option.KindScalar, "")}
}

func dataDirGroups() []option.Group {
	return []option.Group{scalar("data-dir", "DATA_DIRECTORY", "--data-dir", option.KindPath, "/var/opt/thanos")}
}

func storeTuningGroups() []option.Group {
	return []option.Group{
		scalar("chunk-pool-size", "CHUNK_POOL_SIZE", "--chunk-pool-size", option.KindByteSize, ""),
		scalar("store-grpc-series-sample-limit", "STORE_GRPC_SERIES_SAMPLE_LIMIT", "--store.grpc.series-sample-limit", option.KindScalar, ""),
		scalar("store-grpc-series-max-concurrency", "STORE_GRPC_SERIES_MAX_CONCURRENCY", "--store.grpc.series-max-concurrency", option.KindScalar, ""),
		scalar("sync-block-duration", "SYNC_BLOCK_DURATION", "--sync-block-duration", option.KindDuration, ""),
		scalar("block-sync-concurrency", "BLOCK_SYNC_CONCURRENCY", "--block-sync-concurrency", option.KindScalar, ""),
		consistencyDelay(),
		scalar("ignore-deletion-marks-delay", "IGNORE_DELETION_MARKS_DELAY", "--ignore-deletion-marks-delay", option.KindDuration, ""),
	}
}

func consistencyDelay() option.Group {
	return scalar("consistency-delay", "CONSISTENCY_DELAY", "--consistency-delay", option.KindDuration, "")
}

// indexCacheGroups lets a full index cache configuration replace the plain
// in-memory size.
func indexCacheGroups() []option.Group {
	return []option.Group{
		scalar("index-cache-size", "INDEX_CACHE_SIZE", "--index-cache-size", option.KindByteSize, ""),
		excludes(sensitive(blob("index-cache-config", "INDEX_CACHE_CONFIGURATION", "--index-cache.config")), "index-cache-size"),
	}
}

func queryGroups() []option.Group {
	return []option.Group{
		scalar("log-request-decision", "LOG_REQUEST_DECISION", "--log.request.decision", option.KindScalar, ""),
		scalar("query-timeout", "QUERY_TIMEOUT", "--query.timeout", option.KindDuration, ""),
		scalar("query-max-concurrent", "QUERY_MAX_CONCURRENT", "--query.max-concurrent", option.KindScalar, ""),
		scalar("query-lookback-delta", "QUERY_LOOKBACK_DELTA", "--query.lookback-delta", option.KindDuration, ""),
		scalar("query-max-concurrent-select", "QUERY_MAX_CONCURRENT_SELECT", "--query.max-concurrent-select", option.KindScalar, ""),
		list("query-replica-labels", "QUERY_REPLICA_LABELS", "--query.replica-label"),
		boolean("query-auto-downsampling", "QUERY_AUTO_DOWNSAMPLING_ENABLED", "--query.auto-downsampling", ""),
		boolean("query-partial-response", "QUERY_PARTIAL_RESPONSE_ENABLED", "--query.partial-response", ""),
		scalar("query-default-evaluation-interval", "QUERY_DEFAULT_EVALUATION_INTERVAL", "--query.default-evaluation-interval", option.KindDuration, ""),
	}
}

func selectorLabelGroups() []option.Group {
	return []option.Group{{
		Name: "selector-labels",
		Env:  envPrefix + "SELECTOR_LABELS",
		Flag: "--selector-label",
		Kind: option.KindLabels,
	}}
}

func storeEndpointGroups() []option.Group {
	return []option.Group{
		list("stores", "STORE_ADDRESSES", "--store"),
		list("stores-strict", "STORE_STRICT_ADDRESSES", "--store-strict"),
		{
			Name:      "store-sd-files",
			FileEnv:   envPrefix + "STORE_SD_FILE_PATHS",
			ObjectEnv: envPrefix + "STORE_SD_FILE_OBJECT_PATHS",
			FileFlag:  "--store.sd-files",
			Kind:      option.KindList,
			Dir:       "sd",
		},
		scalar("store-sd-interval", "STORE_SD_INTERVAL", "--store.sd-interval", option.KindDuration, ""),
		scalar("store-sd-dns-interval", "STORE_SD_DNS_INTERVAL", "--store.sd-dns-interval", option.KindDuration, ""),
		scalar("store-unhealthy-timeout", "STORE_UNHEALTHY_TIMEOUT", "--store.unhealthy-timeout", option.KindDuration, ""),
		scalar("store-response-timeout", "STORE_RESPONSE_TIMEOUT", "--store.response-timeout", option.KindDuration, ""),
	}
}

func prometheusGroups() []option.Group {
	return []option.Group{
		commas(scalar("prometheus-url", "PROMETHEUS_URL", "--prometheus.url", option.KindScalar, "http://localhost:9090")),
		scalar("prometheus-ready-timeout", "PROMETHEUS_READY_TIMEOUT", "--prometheus.ready_timeout", option.KindDuration, "10m"),
	}
}

func tsdbPathGroup(def string) option.Group {
	return scalar("tsdb-path", "TSDB_PATH", "--tsdb.path", option.KindPath, def)
}

func reloaderGroups() []option.Group {
	configFile := scalar("reloader-config-file", "RELOADER_CONFIGURATION_FILE", "--reloader.config-file", option.KindPath, "")
	configFile.EmitEmpty = true
	envsubstFile := scalar("reloader-config-envsubst-file", "RELOADER_CONFIGURATION_ENVSUBST_FILE", "--reloader.config-envsubst-file", option.KindPath, "")
	envsubstFile.EmitEmpty = true
	ruleDirs := list("reloader-rule-dirs", "RELOADER_RULE_DIRECTORIES", "--reloader.rule-dir")
	ruleDirs.Separator = option.SeparatorSpace

	return []option.Group{
		configFile,
		envsubstFile,
		ruleDirs,
		scalar("reloader-watch-interval", "RELOADER_WATCH_INTERVAL", "--reloader.watch-interval", option.KindDuration, "3m"),
		scalar("reloader-retry-interval", "RELOADER_RETRY_INTERVAL", "--reloader.retry-interval", option.KindDuration, "5s"),
	}
}

func shipperGroups() []option.Group {
	return []option.Group{
		boolean("shipper-upload-compacted", "SHIPPER_UPLOAD_COMPACTED_ENABLED", "--shipper.upload-compacted", ""),
	}
}

func compactGroups() []option.Group {
	return []option.Group{
		scalar("delete-delay", "DELETE_DELAY", "--delete-delay", option.KindDuration, ""),
		scalar("bucket-web-label", "BUCKET_WEB_LABEL", "--bucket-web-label", option.KindScalar, ""),
	}
}

func retentionGroups() []option.Group {
	return []option.Group{
		scalar("retention-resolution-raw", "RETENTION_RESOLUTION_RAW", "--retention.resolution-raw", option.KindDuration, ""),
		scalar("retention-resolution-5m", "RETENTION_RESOLUTION_5M", "--retention.resolution-5m", option.KindDuration, ""),
		scalar("retention-resolution-1h", "RETENTION_RESOLUTION_1H", "--retention.resolution-1h", option.KindDuration, ""),
	}
}

func downsamplingGroups() []option.Group {
	g := boolean("downsampling-disable", "DOWNSAMPLING_ENABLED", "--downsampling.disable", "")
	g.Negate = true
	return []option.Group{g}
}

func compactTuningGroups() []option.Group {
	return []option.Group{
		scalar("block-viewer-global-sync-block-interval", "BLOCK_VIEWER_GLOBAL_SYNC_BLOCK_INTERVAL", "--block-viewer.global.sync-block-interval", option.KindDuration, ""),
		scalar("compact-concurrency", "COMPACT_CONCURRENCY", "--compact.concurrency", option.KindScalar, ""),
	}
}

func receiveGroups() []option.Group {
	labels := option.Group{
		Name:      "labels",
		Env:       envPrefix + "LABELS",
		FileEnv:   envPrefix + "LABELS_FILE_PATH",
		ObjectEnv: envPrefix + "LABELS_FILE_OBJECT_PATH",
		Flag:      "--label",
		Kind:      option.KindLabels,
	}
	return []option.Group{
		scalar("remote-write-address", "REMOTE_WRITE_ADDRESS", "--remote-write.address", option.KindScalar, "0.0.0.0:19291"),
		tsdbPathGroup("/var/opt/thanos"),
		scalar("tsdb-retention", "TSDB_RETENTION", "--tsdb.retention", option.KindDuration, ""),
		boolean("tsdb-wal-compression", "TSDB_WAL_COMPRESSION_ENABLED", "--tsdb.wal-compression", ""),
		labels,
	}
}

func hashringGroups() []option.Group {
	return []option.Group{
		blob("receive-hashrings", "RECEIVE_HASHRINGS", "--receive.hashrings"),
		scalar("receive-hashrings-file-refresh-interval", "RECEIVE_HASHRINGS_FILE_REFRESH_INTERVAL", "--receive.hashrings-file-refresh-interval", option.KindDuration, ""),
	}
}

func tenancyGroups() []option.Group {
	return []option.Group{
		scalar("receive-local-endpoint", "RECEIVE_LOCAL_ENDPOINT", "--receive.local-endpoint", option.KindScalar, ""),
		scalar("receive-tenant-header", "RECEIVE_TENANT_HEADER", "--receive.tenant-header", option.KindScalar, ""),
		scalar("receive-default-tenant-id", "RECEIVE_DEFAULT_TENANT_ID", "--receive.default-tenant-id", option.KindScalar, ""),
		scalar("receive-tenant-label-name", "RECEIVE_TENANT_LABEL_NAME", "--receive.tenant-label-name", option.KindScalar, ""),
	}
}

func replicationGroups() []option.Group {
	return []option.Group{
		scalar("receive-replica-header", "RECEIVE_REPLICA_HEADER", "--receive.replica-header", option.KindScalar, ""),
		scalar("receive-replication-factor", "RECEIVE_REPLICATION_FACTOR", "--receive.replication-factor", option.KindScalar, ""),
		scalar("receive-forward-timeout", "RECEIVE_FORWARD_TIMEOUT", "--receive-forward-timeout", option.KindDuration, ""),
	}
}
