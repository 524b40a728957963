// Package telemetry provides observability for macforge runs.
//
// It combines structured logging (zerolog), tracing (OpenTelemetry) and
// metrics (Prometheus) behind a single Telemetry value built from Config.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	runner := engine.NewRunner(store, engine.WithTelemetry(tel))
//
// # Metrics
//
// A provisioning run is a short-lived process, so metrics are not served
// over HTTP. Instead Telemetry.Shutdown writes the registry to a textfile
// in the Prometheus exposition format, suitable for the node exporter's
// textfile collector:
//
//	cfg.Metrics.Textfile = "/usr/local/var/node_exporter/macforge.prom"
//
// # Tracing
//
// Each pipeline run, module and verification pass gets a span. Spans are
// printed to stderr for debugging or to an OTLP collector over gRPC.
package telemetry
