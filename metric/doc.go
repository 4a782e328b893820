// Package metric provides the Prometheus registry, the core qmiloc metrics
// and an HTTP server exposing them.
//
// Core metrics are registered when the registry is created and cover the
// traffic of a Location Service client: frames sent and received, decode
// failures, dropped indications, request latency and protocol failures.
// Components with their own instruments (worker pools, buffers) register
// them through the MetricsRegistrar interface under a service name:
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry)
//	go server.Start()
//	defer server.Stop()
//
// Every Record method is safe on a nil *Metrics so components can take the
// core metrics as an optional dependency.
package metric
