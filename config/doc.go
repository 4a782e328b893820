// Package config loads and validates qmiloc configuration.
//
// A configuration is one JSON document with five sections:
//
//	{
//	  "client":    {"request_timeout": "5s", "events": ["position_report"], "queue_size": 256,
//	                "rate_limit": 10, "rate_burst": 2, "ni_timeout": "20s"},
//	  "nats":      {"urls": ["nats://localhost:4222"], "prefix": "qmiloc", "channel": "modem0",
//	                "max_reconnects": -1, "reconnect_wait": "2s", "ping_interval": "30s",
//	                "drain_timeout": "5s"},
//	  "metrics":   {"enabled": true, "port": 9090, "path": "/metrics"},
//	  "log":       {"level": "info", "format": "json"},
//	  "simulator": {"max_geofences": 64, "max_batch_size": 100, "fix_interval": "1s"}
//	}
//
// Durations are Go duration strings. Fields missing from a file keep their
// defaults from Default, and later layers override earlier ones:
//
//	loader := config.NewLoader()
//	loader.AddLayer("base.json")
//	loader.AddLayer("site.json")
//	cfg, err := loader.Load()
//
// QMILOC_NATS_URLS, QMILOC_NATS_CHANNEL, QMILOC_NATS_USERNAME,
// QMILOC_NATS_PASSWORD, QMILOC_NATS_TOKEN, QMILOC_LOG_LEVEL,
// QMILOC_LOG_FORMAT and QMILOC_METRICS_PORT override the merged file values.
//
// SafeConfig holds a configuration for concurrent readers; Get returns a
// deep copy and Update validates before swapping.
package config
